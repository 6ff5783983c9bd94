// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-pinweaver.
//
// go-pinweaver is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package pinweaver

import (
	"context"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/jeremyhahn/go-pinweaver/pkg/hashtree"
)

// Handler dispatches decoded wire commands onto a Protocol implementation.
// It is the element-side counterpart of Client and exists so the simulator
// (or an element proxy) can be driven through the exact wire encoding.
type Handler struct {
	element Protocol
}

// NewHandler wraps a Protocol implementation for wire dispatch.
func NewHandler(element Protocol) *Handler {
	return &Handler{element: element}
}

// Handle decodes one command frame, runs it against the element, and
// encodes the response frame. Protocol-level failures are reported in-band
// as status codes; only encode/decode and element transport failures are
// returned as errors.
func (h *Handler) Handle(ctx context.Context, cmd byte, payload []byte) ([]byte, error) {
	switch cmd {
	case CmdResetTree:
		var req resetTreeRequest
		if err := cbor.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("pinweaver: malformed reset_tree request: %w", err)
		}
		shape := hashtree.Shape{BitsPerLevel: req.BitsPerLevel, TreeHeight: req.TreeHeight}
		err := h.element.ResetTree(ctx, shape)
		return cbor.Marshal(statusResponse{Status: errToStatus(err)})

	case CmdInsertLeaf:
		var req insertLeafRequest
		if err := cbor.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("pinweaver: malformed insert_leaf request: %w", err)
		}
		label, err := hashtree.LeafLabel(req.Label, req.LabelLength)
		if err != nil {
			return cbor.Marshal(credentialResponse{Status: statusHashMismatch})
		}
		hAux, err := digestsFromWire(req.HAux)
		if err != nil {
			return cbor.Marshal(credentialResponse{Status: statusHashMismatch})
		}
		cred, err := h.element.InsertLeaf(ctx, InsertParams{
			Label:         label,
			HAux:          hAux,
			LESecret:      req.LESecret,
			HESecret:      req.HESecret,
			DelaySchedule: scheduleFromWire(req.DelaySchedule),
		})
		if err != nil {
			return cbor.Marshal(credentialResponse{Status: errToStatus(err)})
		}
		return cbor.Marshal(credentialResponse{
			Status:   statusOK,
			Digest:   cred.Digest[:],
			Metadata: cred.Metadata,
		})

	case CmdTryAuth:
		var req tryAuthRequest
		if err := cbor.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("pinweaver: malformed try_auth request: %w", err)
		}
		hAux, err := digestsFromWire(req.HAux)
		if err != nil {
			return cbor.Marshal(tryAuthResponse{Status: statusHashMismatch})
		}
		result, err := h.element.TryAuth(ctx, req.LESecret, hAux, req.Metadata)
		if err != nil {
			return cbor.Marshal(tryAuthResponse{Status: errToStatus(err)})
		}
		switch result.Outcome {
		case OutcomeSuccess:
			return cbor.Marshal(tryAuthResponse{
				Status:   statusOK,
				HESecret: result.HESecret,
				Digest:   result.Digest[:],
				Metadata: result.Metadata,
			})
		case OutcomeFailed:
			return cbor.Marshal(tryAuthResponse{
				Status:   statusAuthFailed,
				Digest:   result.Digest[:],
				Metadata: result.Metadata,
			})
		case OutcomeRateLimited:
			return cbor.Marshal(tryAuthResponse{
				Status:      statusRateLimited,
				WaitSeconds: waitSeconds(result),
			})
		default:
			return nil, fmt.Errorf("%w: outcome %d", ErrUnexpectedResponse, result.Outcome)
		}

	case CmdRemoveLeaf:
		var req removeLeafRequest
		if err := cbor.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("pinweaver: malformed remove_leaf request: %w", err)
		}
		label, lerr := hashtree.LeafLabel(req.Label, req.LabelLength)
		digest, derr := digestFromWire(req.Digest)
		hAux, herr := digestsFromWire(req.HAux)
		if lerr != nil || derr != nil || herr != nil {
			return cbor.Marshal(statusResponse{Status: statusHashMismatch})
		}
		err := h.element.RemoveLeaf(ctx, label, digest, hAux)
		return cbor.Marshal(statusResponse{Status: errToStatus(err)})

	default:
		return nil, fmt.Errorf("%w: unknown command 0x%02x", ErrUnexpectedResponse, cmd)
	}
}

func waitSeconds(result *AuthResult) uint32 {
	secs := int64(result.WaitHint.Seconds())
	if secs < 0 {
		return 0
	}
	if result.WaitHint%1e9 != 0 {
		secs++ // round partial seconds up so clients do not retry early
	}
	return uint32(secs)
}

func errToStatus(err error) uint8 {
	switch {
	case err == nil:
		return statusOK
	case errors.Is(err, ErrHashMismatch):
		return statusHashMismatch
	case errors.Is(err, ErrInvalidMetadata):
		return statusInvalidMetadata
	case errors.Is(err, ErrNotProvisioned):
		return statusNotProvisioned
	default:
		return statusHashMismatch
	}
}

// Loopback is an in-process Transport that feeds frames straight into a
// Handler. It gives the client code the full wire round trip without a
// physical element, and is what the simulator mode of the CLI uses.
type Loopback struct {
	handler *Handler
}

// NewLoopback creates a loopback transport around the given element.
func NewLoopback(element Protocol) *Loopback {
	return &Loopback{handler: NewHandler(element)}
}

// Send implements Transport.
func (l *Loopback) Send(ctx context.Context, cmd byte, payload []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return l.handler.Handle(ctx, cmd, payload)
}

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
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/jeremyhahn/go-pinweaver/pkg/hashtree"
)

// Command codes on the wire.
const (
	CmdResetTree  byte = 0x01
	CmdInsertLeaf byte = 0x02
	CmdTryAuth    byte = 0x03
	CmdRemoveLeaf byte = 0x04
)

// Status codes returned by the element.
const (
	statusOK              uint8 = 0x00
	statusAuthFailed      uint8 = 0x01
	statusRateLimited     uint8 = 0x02
	statusHashMismatch    uint8 = 0x03
	statusInvalidMetadata uint8 = 0x04
	statusNotProvisioned  uint8 = 0x05
)

// Transport moves one CBOR-encoded command to the secure element and
// returns its CBOR-encoded response. Implementations cover the actual
// channel (vendor command, SPI, loopback to the simulator).
type Transport interface {
	Send(ctx context.Context, cmd byte, payload []byte) ([]byte, error)
}

// Wire request/response shapes. Field numbers are a fixed contract with the
// element firmware; never renumber.

type resetTreeRequest struct {
	BitsPerLevel uint8 `cbor:"1,keyasint"`
	TreeHeight   uint8 `cbor:"2,keyasint"`
}

type insertLeafRequest struct {
	Label         uint64           `cbor:"1,keyasint"`
	LabelLength   uint8            `cbor:"2,keyasint"`
	HAux          [][]byte         `cbor:"3,keyasint"`
	LESecret      []byte           `cbor:"4,keyasint"`
	HESecret      []byte           `cbor:"5,keyasint"`
	DelaySchedule []delayEntryWire `cbor:"6,keyasint"`
}

type delayEntryWire struct {
	AttemptCount uint32 `cbor:"1,keyasint"`
	DelaySeconds uint32 `cbor:"2,keyasint"`
}

type tryAuthRequest struct {
	LESecret []byte   `cbor:"1,keyasint"`
	HAux     [][]byte `cbor:"2,keyasint"`
	Metadata []byte   `cbor:"3,keyasint"`
}

type removeLeafRequest struct {
	Label       uint64   `cbor:"1,keyasint"`
	LabelLength uint8    `cbor:"2,keyasint"`
	Digest      []byte   `cbor:"3,keyasint"`
	HAux        [][]byte `cbor:"4,keyasint"`
}

type statusResponse struct {
	Status uint8 `cbor:"1,keyasint"`
}

type credentialResponse struct {
	Status   uint8  `cbor:"1,keyasint"`
	Digest   []byte `cbor:"2,keyasint"`
	Metadata []byte `cbor:"3,keyasint"`
}

type tryAuthResponse struct {
	Status      uint8  `cbor:"1,keyasint"`
	HESecret    []byte `cbor:"2,keyasint,omitempty"`
	Digest      []byte `cbor:"3,keyasint,omitempty"`
	Metadata    []byte `cbor:"4,keyasint,omitempty"`
	WaitSeconds uint32 `cbor:"5,keyasint,omitempty"`
}

// Client implements Protocol over a Transport.
type Client struct {
	transport Transport
}

// NewClient creates a protocol client bound to the given transport.
func NewClient(transport Transport) *Client {
	return &Client{transport: transport}
}

// ResetTree implements Protocol.
func (c *Client) ResetTree(ctx context.Context, shape hashtree.Shape) error {
	resp, err := c.roundTrip(ctx, CmdResetTree, resetTreeRequest{
		BitsPerLevel: shape.BitsPerLevel,
		TreeHeight:   shape.TreeHeight,
	})
	if err != nil {
		return err
	}
	var status statusResponse
	if err := cbor.Unmarshal(resp, &status); err != nil {
		return fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)
	}
	return statusToError(status.Status)
}

// InsertLeaf implements Protocol.
func (c *Client) InsertLeaf(ctx context.Context, params InsertParams) (*Credential, error) {
	resp, err := c.roundTrip(ctx, CmdInsertLeaf, insertLeafRequest{
		Label:         params.Label.Value(),
		LabelLength:   params.Label.Length(),
		HAux:          digestsToWire(params.HAux),
		LESecret:      params.LESecret,
		HESecret:      params.HESecret,
		DelaySchedule: scheduleToWire(params.DelaySchedule),
	})
	if err != nil {
		return nil, err
	}
	var cr credentialResponse
	if err := cbor.Unmarshal(resp, &cr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)
	}
	if err := statusToError(cr.Status); err != nil {
		return nil, err
	}
	digest, err := digestFromWire(cr.Digest)
	if err != nil {
		return nil, err
	}
	return &Credential{Digest: digest, Metadata: cr.Metadata}, nil
}

// TryAuth implements Protocol.
func (c *Client) TryAuth(ctx context.Context, leSecret []byte, hAux []hashtree.Digest, metadata []byte) (*AuthResult, error) {
	resp, err := c.roundTrip(ctx, CmdTryAuth, tryAuthRequest{
		LESecret: leSecret,
		HAux:     digestsToWire(hAux),
		Metadata: metadata,
	})
	if err != nil {
		return nil, err
	}
	var ar tryAuthResponse
	if err := cbor.Unmarshal(resp, &ar); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)
	}

	switch ar.Status {
	case statusOK, statusAuthFailed:
		digest, err := digestFromWire(ar.Digest)
		if err != nil {
			return nil, err
		}
		result := &AuthResult{
			Outcome:  OutcomeSuccess,
			HESecret: ar.HESecret,
			Digest:   digest,
			Metadata: ar.Metadata,
		}
		if ar.Status == statusAuthFailed {
			result.Outcome = OutcomeFailed
			result.HESecret = nil
		}
		return result, nil
	case statusRateLimited:
		return &AuthResult{
			Outcome:  OutcomeRateLimited,
			WaitHint: time.Duration(ar.WaitSeconds) * time.Second,
		}, nil
	default:
		return nil, statusToError(ar.Status)
	}
}

// RemoveLeaf implements Protocol.
func (c *Client) RemoveLeaf(ctx context.Context, label hashtree.Label, digest hashtree.Digest, hAux []hashtree.Digest) error {
	resp, err := c.roundTrip(ctx, CmdRemoveLeaf, removeLeafRequest{
		Label:       label.Value(),
		LabelLength: label.Length(),
		Digest:      digest[:],
		HAux:        digestsToWire(hAux),
	})
	if err != nil {
		return err
	}
	var status statusResponse
	if err := cbor.Unmarshal(resp, &status); err != nil {
		return fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)
	}
	return statusToError(status.Status)
}

func (c *Client) roundTrip(ctx context.Context, cmd byte, req any) ([]byte, error) {
	payload, err := cbor.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("pinweaver: failed to encode command 0x%02x: %w", cmd, err)
	}
	resp, err := c.transport.Send(ctx, cmd, payload)
	if err != nil {
		return nil, fmt.Errorf("pinweaver: command 0x%02x transport failure: %w", cmd, err)
	}
	return resp, nil
}

func statusToError(status uint8) error {
	switch status {
	case statusOK:
		return nil
	case statusHashMismatch:
		return ErrHashMismatch
	case statusInvalidMetadata:
		return ErrInvalidMetadata
	case statusNotProvisioned:
		return ErrNotProvisioned
	default:
		return fmt.Errorf("%w: status 0x%02x", ErrUnexpectedResponse, status)
	}
}

func digestsToWire(digests []hashtree.Digest) [][]byte {
	out := make([][]byte, len(digests))
	for i := range digests {
		d := digests[i]
		out[i] = d[:]
	}
	return out
}

func digestFromWire(b []byte) (hashtree.Digest, error) {
	var d hashtree.Digest
	if len(b) != hashtree.DigestSize {
		return d, fmt.Errorf("%w: digest is %d bytes", ErrUnexpectedResponse, len(b))
	}
	copy(d[:], b)
	return d, nil
}

func digestsFromWire(in [][]byte) ([]hashtree.Digest, error) {
	out := make([]hashtree.Digest, len(in))
	for i, b := range in {
		d, err := digestFromWire(b)
		if err != nil {
			return nil, err
		}
		out[i] = d
	}
	return out, nil
}

func scheduleToWire(schedule DelaySchedule) []delayEntryWire {
	out := make([]delayEntryWire, len(schedule))
	for i, e := range schedule {
		out[i] = delayEntryWire{
			AttemptCount: e.AttemptCount,
			DelaySeconds: uint32(e.Delay / time.Second),
		}
	}
	return out
}

func scheduleFromWire(in []delayEntryWire) DelaySchedule {
	out := make(DelaySchedule, len(in))
	for i, e := range in {
		out[i] = DelayEntry{
			AttemptCount: e.AttemptCount,
			Delay:        time.Duration(e.DelaySeconds) * time.Second,
		}
	}
	return out
}

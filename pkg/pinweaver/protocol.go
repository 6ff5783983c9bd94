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

// Package pinweaver defines the operation-level contract with the secure
// element that holds the trusted root digest and enforces per-credential
// attempt counters. The host carries only opaque bytes: leaf digests and
// credential metadata are produced and consumed exclusively by the element.
package pinweaver

import (
	"context"
	"time"

	"github.com/jeremyhahn/go-pinweaver/pkg/hashtree"
)

// DelayEntry is one step of a lockout delay schedule: once AttemptCount
// consecutive failures have accumulated, the element enforces Delay between
// further attempts.
type DelayEntry struct {
	AttemptCount uint32
	Delay        time.Duration
}

// DelaySchedule is an ascending list of delay entries. The entry with the
// largest AttemptCount not exceeding the current failure count is in effect.
type DelaySchedule []DelayEntry

// InsertParams carries everything the element needs to create a credential.
type InsertParams struct {
	// Label is the free leaf the credential will occupy.
	Label hashtree.Label

	// HAux is the auxiliary sibling-digest path for Label, computed from
	// the current host mirror.
	HAux []hashtree.Digest

	// LESecret is the low-entropy secret (the PIN) to be checked on auth.
	LESecret []byte

	// HESecret is the high-entropy secret released on successful auth.
	HESecret []byte

	// DelaySchedule is the lockout schedule for this credential.
	DelaySchedule DelaySchedule
}

// Credential is the element's authoritative record of a new or updated
// credential: the leaf digest to mirror and the opaque metadata blob to
// retain for the next operation.
type Credential struct {
	Digest   hashtree.Digest
	Metadata []byte
}

// Outcome classifies a TryAuth response.
type Outcome int

const (
	// OutcomeSuccess: the secret matched. The result carries the
	// high-entropy secret plus a new digest and metadata; the successful
	// attempt still advances element state (counter reset).
	OutcomeSuccess Outcome = iota

	// OutcomeFailed: the secret did not match. The result carries a new
	// digest and metadata reflecting the incremented failure counter.
	OutcomeFailed

	// OutcomeRateLimited: the element refused to process the attempt;
	// a cooldown is in effect and no state changed.
	OutcomeRateLimited
)

// String returns the outcome name for logs.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailed:
		return "failed"
	case OutcomeRateLimited:
		return "rate_limited"
	default:
		return "unknown"
	}
}

// AuthResult is the element's response to a TryAuth call. Digest and
// Metadata are populated for OutcomeSuccess and OutcomeFailed; HESecret only
// for OutcomeSuccess; WaitHint only for OutcomeRateLimited.
type AuthResult struct {
	Outcome  Outcome
	HESecret []byte
	Digest   hashtree.Digest
	Metadata []byte
	WaitHint time.Duration
}

// Protocol is the stateless-per-call client contract to the secure element.
// Callers must serialize operations: the element is a single stateful
// channel with no notion of concurrent sessions.
type Protocol interface {
	// ResetTree discards the element's tree and establishes a fresh
	// trusted root for an all-empty tree of the given shape.
	ResetTree(ctx context.Context, shape hashtree.Shape) error

	// InsertLeaf creates a credential at a free leaf. The element
	// verifies that the leaf is currently empty against its trusted root
	// before committing the new root.
	InsertLeaf(ctx context.Context, params InsertParams) (*Credential, error)

	// TryAuth processes one authentication attempt against the stored
	// credential metadata. See AuthResult for the three outcome classes.
	TryAuth(ctx context.Context, leSecret []byte, hAux []hashtree.Digest, metadata []byte) (*AuthResult, error)

	// RemoveLeaf deletes the credential at label, resetting the leaf to
	// empty in the element's committed root.
	RemoveLeaf(ctx context.Context, label hashtree.Label, digest hashtree.Digest, hAux []hashtree.Digest) error
}

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

// Package sim implements a software secure element for development and
// testing. It maintains its own trusted root digest, verifies Merkle proofs
// against it, MACs credential metadata with a device key, and enforces
// lockout delay schedules, so the host-side engine can be exercised against
// the real protocol semantics without hardware.
package sim

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/jeremyhahn/go-pinweaver/pkg/hashtree"
	"github.com/jeremyhahn/go-pinweaver/pkg/pinweaver"
	"github.com/jeremyhahn/go-pinweaver/pkg/secret"
)

const (
	stateFileVersion = 1
	stateFilePerms   = 0600
)

// Domain separation prefixes for the device-key MACs.
var (
	leafPrefix = []byte("pinweaver-sim/leaf/v1")
	metaPrefix = []byte("pinweaver-sim/meta/v1")
)

// SecureElement is the simulated element. All operations are serialized on
// an internal mutex, matching the single-channel nature of real hardware.
type SecureElement struct {
	mu          sync.Mutex
	key         []byte
	clock       func() time.Time
	statePath   string
	shape       hashtree.Shape
	root        hashtree.Digest
	provisioned bool
}

// Option configures a SecureElement.
type Option func(*SecureElement)

// WithClock substitutes the time source, letting tests advance through
// lockout delays without sleeping.
func WithClock(clock func() time.Time) Option {
	return func(e *SecureElement) { e.clock = clock }
}

// WithStateFile persists the element's root, shape and device key to path
// after every state-changing operation, and restores them at construction.
// This models the non-volatile storage of a real element across restarts.
func WithStateFile(path string) Option {
	return func(e *SecureElement) { e.statePath = path }
}

// WithDeviceKey fixes the device key instead of generating a random one.
func WithDeviceKey(key []byte) Option {
	return func(e *SecureElement) { e.key = key }
}

// New constructs a simulated element. Without options it starts
// unprovisioned with a random device key.
func New(opts ...Option) (*SecureElement, error) {
	e := &SecureElement{clock: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	if e.statePath != "" {
		if err := e.restore(); err != nil {
			return nil, err
		}
	}
	if e.key == nil {
		e.key = make([]byte, 32)
		if _, err := rand.Read(e.key); err != nil {
			return nil, fmt.Errorf("sim: failed to generate device key: %w", err)
		}
	}
	return e, nil
}

// credentialState is the element's per-credential record. It lives only
// inside sealed metadata blobs; the host never sees the fields.
type credentialState struct {
	Label         uint64 `cbor:"1,keyasint"`
	LabelLength   uint8  `cbor:"2,keyasint"`
	LESecret      []byte `cbor:"3,keyasint"`
	HESecret      []byte `cbor:"4,keyasint"`
	AttemptCount  uint32 `cbor:"5,keyasint"`
	LastFailureNS int64  `cbor:"6,keyasint"`
	DelaySchedule []struct {
		AttemptCount uint32 `cbor:"1,keyasint"`
		DelaySeconds uint32 `cbor:"2,keyasint"`
	} `cbor:"7,keyasint"`
}

// sealedMetadata is the opaque blob handed to the host: the serialized
// state plus a device-key MAC that detects any host-side tampering.
type sealedMetadata struct {
	State []byte `cbor:"1,keyasint"`
	MAC   []byte `cbor:"2,keyasint"`
}

// ResetTree implements pinweaver.Protocol.
func (e *SecureElement) ResetTree(ctx context.Context, shape hashtree.Shape) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := shape.Validate(); err != nil {
		return fmt.Errorf("%w: %v", pinweaver.ErrUnexpectedResponse, err)
	}
	e.shape = shape
	e.root = emptyRoot(shape)
	e.provisioned = true
	return e.flush()
}

// InsertLeaf implements pinweaver.Protocol. The element verifies that the
// target leaf is currently empty under its trusted root before committing
// the new root.
func (e *SecureElement) InsertLeaf(ctx context.Context, params pinweaver.InsertParams) (*pinweaver.Credential, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.provisioned {
		return nil, pinweaver.ErrNotProvisioned
	}
	if params.Label.Length() != e.shape.LabelLength() {
		return nil, pinweaver.ErrHashMismatch
	}

	var empty hashtree.Digest
	if err := e.verifyRoot(params.Label.Value(), empty, params.HAux); err != nil {
		return nil, err
	}

	state := credentialState{
		Label:       params.Label.Value(),
		LabelLength: params.Label.Length(),
		LESecret:    append([]byte(nil), params.LESecret...),
		HESecret:    append([]byte(nil), params.HESecret...),
	}
	for _, entry := range params.DelaySchedule {
		state.DelaySchedule = append(state.DelaySchedule, struct {
			AttemptCount uint32 `cbor:"1,keyasint"`
			DelaySeconds uint32 `cbor:"2,keyasint"`
		}{entry.AttemptCount, uint32(entry.Delay / time.Second)})
	}

	digest, blob, err := e.seal(state)
	if err != nil {
		return nil, err
	}
	newRoot, err := computeRoot(e.shape, params.Label.Value(), digest, params.HAux)
	if err != nil {
		return nil, err
	}
	e.root = newRoot
	if err := e.flush(); err != nil {
		return nil, err
	}
	return &pinweaver.Credential{Digest: digest, Metadata: blob}, nil
}

// TryAuth implements pinweaver.Protocol.
func (e *SecureElement) TryAuth(ctx context.Context, leSecret []byte, hAux []hashtree.Digest, metadata []byte) (*pinweaver.AuthResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.provisioned {
		return nil, pinweaver.ErrNotProvisioned
	}

	state, stateBytes, err := e.unseal(metadata)
	if err != nil {
		return nil, err
	}
	digest := e.leafDigest(stateBytes)
	if err := e.verifyRoot(state.Label, digest, hAux); err != nil {
		return nil, err
	}

	// Cooldown check runs before the secret comparison so a locked-out
	// credential leaks nothing about the attempted secret.
	if delay := currentDelay(state); delay > 0 && state.LastFailureNS != 0 {
		elapsed := e.clock().Sub(time.Unix(0, state.LastFailureNS))
		if elapsed < delay {
			return &pinweaver.AuthResult{
				Outcome:  pinweaver.OutcomeRateLimited,
				WaitHint: delay - elapsed,
			}, nil
		}
	}

	result := &pinweaver.AuthResult{}
	if secret.Equal(leSecret, state.LESecret) {
		result.Outcome = pinweaver.OutcomeSuccess
		result.HESecret = append([]byte(nil), state.HESecret...)
		state.AttemptCount = 0
		state.LastFailureNS = 0
	} else {
		result.Outcome = pinweaver.OutcomeFailed
		state.AttemptCount++
		state.LastFailureNS = e.clock().UnixNano()
	}

	newDigest, newBlob, err := e.seal(state)
	if err != nil {
		return nil, err
	}
	newRoot, err := computeRoot(e.shape, state.Label, newDigest, hAux)
	if err != nil {
		return nil, err
	}
	e.root = newRoot
	if err := e.flush(); err != nil {
		return nil, err
	}
	result.Digest = newDigest
	result.Metadata = newBlob
	return result, nil
}

// RemoveLeaf implements pinweaver.Protocol.
func (e *SecureElement) RemoveLeaf(ctx context.Context, label hashtree.Label, digest hashtree.Digest, hAux []hashtree.Digest) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.provisioned {
		return pinweaver.ErrNotProvisioned
	}
	if label.Length() != e.shape.LabelLength() {
		return pinweaver.ErrHashMismatch
	}
	if err := e.verifyRoot(label.Value(), digest, hAux); err != nil {
		return err
	}
	var empty hashtree.Digest
	newRoot, err := computeRoot(e.shape, label.Value(), empty, hAux)
	if err != nil {
		return err
	}
	e.root = newRoot
	return e.flush()
}

// RootHash exposes the element's trusted root for tests that assert
// host/element convergence.
func (e *SecureElement) RootHash() hashtree.Digest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.root
}

// verifyRoot recomputes the root from one leaf digest and its auxiliary
// path and compares it to the trusted root.
func (e *SecureElement) verifyRoot(label uint64, digest hashtree.Digest, hAux []hashtree.Digest) error {
	root, err := computeRoot(e.shape, label, digest, hAux)
	if err != nil {
		return err
	}
	if root != e.root {
		return pinweaver.ErrHashMismatch
	}
	return nil
}

// seal serializes and MACs a credential state, returning the leaf digest
// and the opaque metadata blob.
func (e *SecureElement) seal(state credentialState) (hashtree.Digest, []byte, error) {
	stateBytes, err := cbor.Marshal(state)
	if err != nil {
		return hashtree.Digest{}, nil, fmt.Errorf("sim: failed to encode credential state: %w", err)
	}
	blob, err := cbor.Marshal(sealedMetadata{
		State: stateBytes,
		MAC:   e.mac(metaPrefix, stateBytes),
	})
	if err != nil {
		return hashtree.Digest{}, nil, fmt.Errorf("sim: failed to encode metadata: %w", err)
	}
	return e.leafDigest(stateBytes), blob, nil
}

// unseal verifies and decodes a metadata blob.
func (e *SecureElement) unseal(metadata []byte) (credentialState, []byte, error) {
	var sealed sealedMetadata
	if err := cbor.Unmarshal(metadata, &sealed); err != nil {
		return credentialState{}, nil, pinweaver.ErrInvalidMetadata
	}
	if !hmac.Equal(sealed.MAC, e.mac(metaPrefix, sealed.State)) {
		return credentialState{}, nil, pinweaver.ErrInvalidMetadata
	}
	var state credentialState
	if err := cbor.Unmarshal(sealed.State, &state); err != nil {
		return credentialState{}, nil, pinweaver.ErrInvalidMetadata
	}
	return state, sealed.State, nil
}

func (e *SecureElement) leafDigest(stateBytes []byte) hashtree.Digest {
	var d hashtree.Digest
	copy(d[:], e.mac(leafPrefix, stateBytes))
	return d
}

func (e *SecureElement) mac(prefix, data []byte) []byte {
	m := hmac.New(sha256.New, e.key)
	m.Write(prefix)
	m.Write(data)
	return m.Sum(nil)
}

// currentDelay returns the delay in effect for the credential's failure
// count: the entry with the largest AttemptCount not exceeding it.
func currentDelay(state credentialState) time.Duration {
	var delay time.Duration
	var best uint32
	matched := false
	for _, entry := range state.DelaySchedule {
		if entry.AttemptCount <= state.AttemptCount && (!matched || entry.AttemptCount >= best) {
			delay = time.Duration(entry.DelaySeconds) * time.Second
			best = entry.AttemptCount
			matched = true
		}
	}
	return delay
}

// computeRoot folds a leaf digest and its auxiliary path into a root,
// mirroring the host tree's sibling ordering: fanout-1 digests per level,
// leaf level first.
func computeRoot(shape hashtree.Shape, label uint64, digest hashtree.Digest, hAux []hashtree.Digest) (hashtree.Digest, error) {
	fanout := shape.Fanout()
	want := uint64(shape.TreeHeight) * (fanout - 1)
	if uint64(len(hAux)) != want {
		return hashtree.Digest{}, fmt.Errorf("%w: auxiliary path has %d digests, want %d", pinweaver.ErrHashMismatch, len(hAux), want)
	}
	node := digest
	idx := label
	pos := 0
	for k := uint8(0); k < shape.TreeHeight; k++ {
		h := sha256.New()
		child := idx & (fanout - 1)
		for j := uint64(0); j < fanout; j++ {
			if j == child {
				h.Write(node[:])
			} else {
				h.Write(hAux[pos][:])
				pos++
			}
		}
		h.Sum(node[:0])
		idx >>= shape.BitsPerLevel
	}
	return node, nil
}

// emptyRoot computes the root of an all-empty tree of the given shape.
func emptyRoot(shape hashtree.Shape) hashtree.Digest {
	var node hashtree.Digest
	for k := uint8(0); k < shape.TreeHeight; k++ {
		h := sha256.New()
		for j := uint64(0); j < shape.Fanout(); j++ {
			h.Write(node[:])
		}
		h.Sum(node[:0])
	}
	return node
}

// persistedState is the element's non-volatile storage image.
type persistedState struct {
	Version      int    `cbor:"1,keyasint"`
	BitsPerLevel uint8  `cbor:"2,keyasint"`
	TreeHeight   uint8  `cbor:"3,keyasint"`
	Root         []byte `cbor:"4,keyasint"`
	Key          []byte `cbor:"5,keyasint"`
	Provisioned  bool   `cbor:"6,keyasint"`
}

// flush writes the element state to the configured state file, if any.
func (e *SecureElement) flush() error {
	if e.statePath == "" {
		return nil
	}
	data, err := cbor.Marshal(persistedState{
		Version:      stateFileVersion,
		BitsPerLevel: e.shape.BitsPerLevel,
		TreeHeight:   e.shape.TreeHeight,
		Root:         e.root[:],
		Key:          e.key,
		Provisioned:  e.provisioned,
	})
	if err != nil {
		return fmt.Errorf("sim: failed to encode state: %w", err)
	}
	if err := os.WriteFile(e.statePath, data, stateFilePerms); err != nil {
		return fmt.Errorf("sim: failed to persist state: %w", err)
	}
	return nil
}

// restore loads a previously flushed state file, if present.
func (e *SecureElement) restore() error {
	data, err := os.ReadFile(e.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("sim: failed to read state file: %w", err)
	}
	var ps persistedState
	if err := cbor.Unmarshal(data, &ps); err != nil {
		return fmt.Errorf("sim: state file corrupt: %w", err)
	}
	if ps.Version != stateFileVersion {
		return fmt.Errorf("sim: unsupported state file version %d", ps.Version)
	}
	if len(ps.Root) != hashtree.DigestSize {
		return fmt.Errorf("sim: state file corrupt: root is %d bytes", len(ps.Root))
	}
	e.shape = hashtree.Shape{BitsPerLevel: ps.BitsPerLevel, TreeHeight: ps.TreeHeight}
	copy(e.root[:], ps.Root)
	e.key = ps.Key
	e.provisioned = ps.Provisioned
	return nil
}

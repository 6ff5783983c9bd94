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

package lockout

import "errors"

var (
	// ErrNoFreeLabel indicates the tree is exhausted; the add failed
	// before any secure element call.
	ErrNoFreeLabel = errors.New("lockout: no free label")

	// ErrInvalidLabel indicates the label is out of range or holds no
	// credential; the operation failed before any secure element call.
	ErrInvalidLabel = errors.New("lockout: invalid label")

	// ErrInvalidSecret indicates the secure element reported a failed
	// authentication attempt. Element and host state still advanced:
	// the failure counted against the attempt bound.
	ErrInvalidSecret = errors.New("lockout: invalid secret")

	// ErrTooManyAttempts indicates the secure element rate-limited the
	// request; no state was mutated anywhere.
	ErrTooManyAttempts = errors.New("lockout: too many attempts")

	// ErrCorruptedMetadata indicates a local mirror update failed in a
	// way that suggests internal inconsistency.
	ErrCorruptedMetadata = errors.New("lockout: corrupted metadata")

	// ErrInternal covers collaborator I/O failures, protocol transport
	// failures, and any response shape that matches no expected outcome.
	// When it follows a successful secure element call, the element's
	// committed root may be ahead of the host's durable record.
	ErrInternal = errors.New("lockout: internal error")
)

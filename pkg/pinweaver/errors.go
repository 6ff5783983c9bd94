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

import "errors"

var (
	// ErrHashMismatch is returned when the element's proof verification
	// fails: the supplied leaf digest and auxiliary path do not recompute
	// to its trusted root. This indicates host/element divergence and is
	// never retried.
	ErrHashMismatch = errors.New("pinweaver: root hash mismatch")

	// ErrInvalidMetadata is returned when a metadata blob fails the
	// element's integrity check.
	ErrInvalidMetadata = errors.New("pinweaver: invalid credential metadata")

	// ErrNotProvisioned is returned when an operation arrives before the
	// element's tree has been reset to a known shape.
	ErrNotProvisioned = errors.New("pinweaver: tree not provisioned")

	// ErrUnexpectedResponse is returned when the element's reply does not
	// match any expected outcome for the command.
	ErrUnexpectedResponse = errors.New("pinweaver: unexpected response")
)

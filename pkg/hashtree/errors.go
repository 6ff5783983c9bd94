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

package hashtree

import "errors"

var (
	// ErrInvalidLabel is returned when a label is out of range for the
	// configured tree shape, or is not a leaf label.
	ErrInvalidLabel = errors.New("hashtree: invalid label")

	// ErrInvalidShape is returned when the tree shape constants are
	// unusable (zero height, or a label longer than 32 bits).
	ErrInvalidShape = errors.New("hashtree: invalid tree shape")

	// ErrNoFreeLeaf is returned when every leaf in the tree is occupied.
	ErrNoFreeLeaf = errors.New("hashtree: no free leaf label")

	// ErrNotFound is returned by Load when no tree has ever been
	// persisted at the given path. This is the expected first-boot state
	// and triggers provisioning.
	ErrNotFound = errors.New("hashtree: tree file not found")

	// ErrCorrupt is returned by Load when a tree file exists but cannot
	// be decoded, or decodes to an inconsistent state. Unlike ErrNotFound
	// this is never safe to repair by resetting: the secure element's
	// root may still match the unreadable state.
	ErrCorrupt = errors.New("hashtree: tree file corrupt")
)

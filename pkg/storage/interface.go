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

// Package storage provides the credential metadata lookup table: a
// persistent map from leaf label to the opaque metadata blob the secure
// element produced for that credential. The host never interprets the
// blobs; it only stores and returns them.
package storage

// Store defines the lookup-table contract consumed by the credential
// engine. Implementations must be safe for concurrent use, although the
// engine serializes all writes behind its operation lock.
type Store interface {
	// Get retrieves the metadata blob for the given leaf label.
	// Returns ErrNotFound if no credential is stored under the label.
	Get(label uint64) ([]byte, error)

	// Put stores the metadata blob for the given leaf label, overwriting
	// any previous blob.
	Put(label uint64, metadata []byte) error

	// Delete removes the entry for the given leaf label.
	// Returns ErrNotFound if no entry exists.
	Delete(label uint64) error

	// Reset removes every entry. Used only during provisioning, when the
	// secure element's tree is reset to empty.
	Reset() error

	// Close releases any resources held by the store.
	Close() error
}

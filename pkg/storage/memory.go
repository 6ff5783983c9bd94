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

package storage

import "sync"

// MemoryStore is an in-memory implementation of Store, used in tests and
// for ephemeral simulator runs.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[uint64][]byte
	closed bool
}

// NewMemory creates an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{data: make(map[uint64][]byte)}
}

// Get retrieves the metadata blob for the given leaf label.
func (m *MemoryStore) Get(label uint64) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	blob, ok := m.data[label]
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(blob))
	copy(cp, blob)
	return cp, nil
}

// Put stores the metadata blob for the given leaf label.
func (m *MemoryStore) Put(label uint64, metadata []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	cp := make([]byte, len(metadata))
	copy(cp, metadata)
	m.data[label] = cp
	return nil
}

// Delete removes the entry for the given leaf label.
func (m *MemoryStore) Delete(label uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.data[label]; !ok {
		return ErrNotFound
	}
	delete(m.data, label)
	return nil
}

// Reset removes every entry.
func (m *MemoryStore) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.data = make(map[uint64][]byte)
	return nil
}

// Close releases the store. Further calls return ErrClosed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.data = nil
	return nil
}

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

// Package file provides a file-based implementation of the storage.Store
// lookup table. Each label's metadata blob is stored as one file under a
// root directory, owner read/write only.
package file

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/jeremyhahn/go-pinweaver/pkg/storage"
)

const (
	dirPerms  = 0700
	filePerms = 0600

	blobSuffix = ".cmeta"
)

// FileStore is a file-backed implementation of storage.Store.
type FileStore struct {
	mu      sync.RWMutex
	rootDir string
	closed  bool
}

// New creates a FileStore rooted at rootDir, creating the directory with
// 0700 permissions if it does not exist.
func New(rootDir string) (*FileStore, error) {
	if rootDir == "" {
		return nil, fmt.Errorf("file storage: root directory cannot be empty")
	}
	if err := os.MkdirAll(rootDir, dirPerms); err != nil {
		return nil, fmt.Errorf("file storage: failed to create root directory: %w", err)
	}
	return &FileStore{rootDir: rootDir}, nil
}

// Get retrieves the metadata blob for the given leaf label.
func (f *FileStore) Get(label uint64) ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return nil, storage.ErrClosed
	}
	data, err := os.ReadFile(f.labelPath(label))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("file storage: failed to read label %d: %w", label, err)
	}
	return data, nil
}

// Put stores the metadata blob for the given leaf label.
func (f *FileStore) Put(label uint64, metadata []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return storage.ErrClosed
	}
	if err := os.WriteFile(f.labelPath(label), metadata, filePerms); err != nil {
		return fmt.Errorf("file storage: failed to write label %d: %w", label, err)
	}
	return nil
}

// Delete removes the entry for the given leaf label.
func (f *FileStore) Delete(label uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return storage.ErrClosed
	}
	err := os.Remove(f.labelPath(label))
	if err != nil {
		if os.IsNotExist(err) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("file storage: failed to delete label %d: %w", label, err)
	}
	return nil
}

// Reset removes every stored blob, leaving the root directory in place.
func (f *FileStore) Reset() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return storage.ErrClosed
	}
	entries, err := os.ReadDir(f.rootDir)
	if err != nil {
		return fmt.Errorf("file storage: failed to list root directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), blobSuffix) {
			continue
		}
		if err := os.Remove(filepath.Join(f.rootDir, entry.Name())); err != nil {
			return fmt.Errorf("file storage: failed to remove %q: %w", entry.Name(), err)
		}
	}
	return nil
}

// Close marks the store closed. Further calls return storage.ErrClosed.
func (f *FileStore) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// labelPath maps a label to its blob file, e.g. 0x002a -> "002a.cmeta".
func (f *FileStore) labelPath(label uint64) string {
	name := strconv.FormatUint(label, 16)
	if len(name) < 4 {
		name = strings.Repeat("0", 4-len(name)) + name
	}
	return filepath.Join(f.rootDir, name+blobSuffix)
}

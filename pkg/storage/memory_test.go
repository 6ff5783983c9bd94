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

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_PutAndGet(t *testing.T) {
	store := NewMemory()
	defer func() { _ = store.Close() }()

	blob := []byte{0x01, 0x02, 0x03}
	require.NoError(t, store.Put(42, blob))

	got, err := store.Get(42)
	require.NoError(t, err)
	assert.Equal(t, blob, got)
}

func TestMemoryStore_Get_NotFound(t *testing.T) {
	store := NewMemory()
	defer func() { _ = store.Close() }()

	_, err := store.Get(7)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_Get_ReturnsCopy(t *testing.T) {
	store := NewMemory()
	defer func() { _ = store.Close() }()

	require.NoError(t, store.Put(1, []byte{0xAA}))
	got, err := store.Get(1)
	require.NoError(t, err)
	got[0] = 0xBB

	again, err := store.Get(1)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA}, again)
}

func TestMemoryStore_Overwrite(t *testing.T) {
	store := NewMemory()
	defer func() { _ = store.Close() }()

	require.NoError(t, store.Put(5, []byte("old")))
	require.NoError(t, store.Put(5, []byte("new")))

	got, err := store.Get(5)
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), got)
}

func TestMemoryStore_Delete(t *testing.T) {
	store := NewMemory()
	defer func() { _ = store.Close() }()

	require.NoError(t, store.Put(9, []byte("x")))
	require.NoError(t, store.Delete(9))

	_, err := store.Get(9)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, store.Delete(9), ErrNotFound)
}

func TestMemoryStore_Reset(t *testing.T) {
	store := NewMemory()
	defer func() { _ = store.Close() }()

	require.NoError(t, store.Put(1, []byte("a")))
	require.NoError(t, store.Put(2, []byte("b")))
	require.NoError(t, store.Reset())

	_, err := store.Get(1)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Get(2)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_Closed(t *testing.T) {
	store := NewMemory()
	require.NoError(t, store.Close())

	_, err := store.Get(1)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, store.Put(1, nil), ErrClosed)
	assert.ErrorIs(t, store.Delete(1), ErrClosed)
	assert.ErrorIs(t, store.Reset(), ErrClosed)
}

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

package file

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-pinweaver/pkg/storage"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNew_EmptyRoot(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}

func TestNew_CreatesRootDir(t *testing.T) {
	root := filepath.Join(t.TempDir(), "creds")
	_, err := New(root)
	require.NoError(t, err)

	info, err := os.Stat(root)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, os.FileMode(0700), info.Mode().Perm())
}

func TestFileStore_PutAndGet(t *testing.T) {
	store := newTestStore(t)

	blob := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	require.NoError(t, store.Put(42, blob))

	got, err := store.Get(42)
	require.NoError(t, err)
	assert.Equal(t, blob, got)
}

func TestFileStore_Get_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(12345)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestFileStore_BlobPermissions(t *testing.T) {
	root := t.TempDir()
	store, err := New(root)
	require.NoError(t, err)

	require.NoError(t, store.Put(0x2a, []byte("secret")))

	info, err := os.Stat(filepath.Join(root, "002a.cmeta"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestFileStore_Delete(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Put(7, []byte("x")))
	require.NoError(t, store.Delete(7))

	_, err := store.Get(7)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, store.Delete(7), storage.ErrNotFound)
}

func TestFileStore_Reset(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Put(1, []byte("a")))
	require.NoError(t, store.Put(16383, []byte("b")))
	require.NoError(t, store.Reset())

	_, err := store.Get(1)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = store.Get(16383)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestFileStore_SurvivesReopen(t *testing.T) {
	root := t.TempDir()
	store, err := New(root)
	require.NoError(t, err)
	require.NoError(t, store.Put(99, []byte("persist me")))
	require.NoError(t, store.Close())

	reopened, err := New(root)
	require.NoError(t, err)
	got, err := reopened.Get(99)
	require.NoError(t, err)
	assert.Equal(t, []byte("persist me"), got)
}

func TestFileStore_Closed(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, err = store.Get(1)
	assert.ErrorIs(t, err, storage.ErrClosed)
	assert.ErrorIs(t, store.Put(1, nil), storage.ErrClosed)
	assert.ErrorIs(t, store.Reset(), storage.ErrClosed)
}

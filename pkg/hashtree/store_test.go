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

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tree.cbor")

	tree, err := New(testShape)
	require.NoError(t, err)

	for _, v := range []uint64{0, 7, 33, testShape.NumLeaves() - 1} {
		label, err := LeafLabel(v, testShape.LabelLength())
		require.NoError(t, err)
		require.NoError(t, tree.UpdateLeafHash(label, testDigest(byte(v+1))))
		require.NoError(t, tree.MarkOccupied(label))
	}
	require.NoError(t, tree.Store(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, tree.Shape(), loaded.Shape())
	assert.Equal(t, tree.FreeCount(), loaded.FreeCount())
	assert.Equal(t, tree.RootHash(), loaded.RootHash())

	for _, v := range []uint64{0, 7, 33, testShape.NumLeaves() - 1} {
		label, err := LeafLabel(v, testShape.LabelLength())
		require.NoError(t, err)
		want, err := tree.GetLeafHash(label)
		require.NoError(t, err)
		got, err := loaded.GetLeafHash(label)
		require.NoError(t, err)
		assert.Equal(t, want, got)

		occ, err := loaded.IsOccupied(label)
		require.NoError(t, err)
		assert.True(t, occ)
	}
}

func TestLoad_NotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.cbor"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoad_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tree.cbor")
	require.NoError(t, os.WriteFile(path, []byte("not a tree"), 0600))

	_, err := Load(path)
	assert.ErrorIs(t, err, ErrCorrupt)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestLoad_TruncatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tree.cbor")

	tree, err := New(testShape)
	require.NoError(t, err)
	require.NoError(t, tree.Store(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data[:len(data)/2], 0600))

	_, err = Load(path)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestStore_ReplacesExistingAtomically(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tree.cbor")

	tree, err := New(testShape)
	require.NoError(t, err)
	require.NoError(t, tree.Store(path))

	label, err := LeafLabel(3, testShape.LabelLength())
	require.NoError(t, err)
	require.NoError(t, tree.UpdateLeafHash(label, testDigest(0x55)))
	require.NoError(t, tree.MarkOccupied(label))
	require.NoError(t, tree.Store(path))

	// No temp files left behind
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, tree.RootHash(), loaded.RootHash())
}

func TestStore_DirectoryMissing(t *testing.T) {
	tree, err := New(testShape)
	require.NoError(t, err)
	err = tree.Store(filepath.Join(t.TempDir(), "nope", "tree.cbor"))
	assert.Error(t, err)
}

func TestLoad_EmptyTreeMatchesFresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tree.cbor")

	tree, err := New(testShape)
	require.NoError(t, err)
	require.NoError(t, tree.Store(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	fresh, err := New(testShape)
	require.NoError(t, err)
	assert.Equal(t, fresh.RootHash(), loaded.RootHash())
	assert.Equal(t, fresh.FreeCount(), loaded.FreeCount())
}

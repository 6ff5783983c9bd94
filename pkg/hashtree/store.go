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
	"fmt"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"
)

// treeFileVersion is the persisted format version. Bump on any change to
// treeFile or to the digest/auxiliary-path conventions.
const treeFileVersion = 1

const treeFilePerms = 0600

// treeFile is the CBOR-serialized form of a Tree. Only occupied leaves are
// stored; everything else is reconstructed on load.
type treeFile struct {
	Version      int          `cbor:"1,keyasint"`
	BitsPerLevel uint8        `cbor:"2,keyasint"`
	TreeHeight   uint8        `cbor:"3,keyasint"`
	Leaves       []leafRecord `cbor:"4,keyasint"`
}

type leafRecord struct {
	Label  uint64 `cbor:"1,keyasint"`
	Digest []byte `cbor:"2,keyasint"`
}

// Store serializes the whole tree to path atomically: the encoded bytes are
// written to a temp file in the same directory and renamed over the target,
// so a crash mid-write leaves the previous version intact.
func (t *Tree) Store(path string) error {
	tf := treeFile{
		Version:      treeFileVersion,
		BitsPerLevel: t.shape.BitsPerLevel,
		TreeHeight:   t.shape.TreeHeight,
	}
	leaves := t.levels[t.shape.TreeHeight]
	for idx, occ := range t.occupied {
		if !occ {
			continue
		}
		d := leaves[idx]
		tf.Leaves = append(tf.Leaves, leafRecord{Label: uint64(idx), Digest: d[:]})
	}

	data, err := cbor.Marshal(tf)
	if err != nil {
		return fmt.Errorf("hashtree: failed to encode tree: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("hashtree: failed to create temp file in %q: %w", dir, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("hashtree: failed to write temp file: %w", err)
	}
	if err := tmp.Chmod(treeFilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("hashtree: failed to chmod temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("hashtree: failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("hashtree: failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("hashtree: failed to replace %q: %w", path, err)
	}
	return nil
}

// Load reads a previously persisted tree from path. A missing file returns
// ErrNotFound, the expected first-boot state. A file that exists but fails
// to decode, or decodes to an inconsistent state, returns ErrCorrupt;
// callers must treat that as fatal rather than re-provisioning, since the
// secure element's committed root may still correspond to the unreadable
// mirror.
func Load(path string) (*Tree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %q", ErrNotFound, path)
		}
		return nil, fmt.Errorf("hashtree: failed to read %q: %w", path, err)
	}

	var tf treeFile
	if err := cbor.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if tf.Version != treeFileVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, tf.Version)
	}

	shape := Shape{BitsPerLevel: tf.BitsPerLevel, TreeHeight: tf.TreeHeight}
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	t, err := New(shape)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	for _, leaf := range tf.Leaves {
		if leaf.Label >= shape.NumLeaves() {
			return nil, fmt.Errorf("%w: leaf label %d out of range", ErrCorrupt, leaf.Label)
		}
		if len(leaf.Digest) != DigestSize {
			return nil, fmt.Errorf("%w: leaf %d digest is %d bytes", ErrCorrupt, leaf.Label, len(leaf.Digest))
		}
		if t.occupied[leaf.Label] {
			return nil, fmt.Errorf("%w: duplicate leaf label %d", ErrCorrupt, leaf.Label)
		}
		var d Digest
		copy(d[:], leaf.Digest)
		t.levels[shape.TreeHeight][leaf.Label] = d
		t.occupied[leaf.Label] = true
		t.freeCount--
	}

	// One bottom-up pass restores every inner digest from the leaves.
	for k := int(shape.TreeHeight); k > 0; k-- {
		for parent := range t.levels[k-1] {
			t.levels[k-1][parent] = t.hashChildren(k, uint64(parent))
		}
	}
	return t, nil
}

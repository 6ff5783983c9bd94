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
	"crypto/sha256"
	"fmt"
)

// DigestSize is the size in bytes of every node digest in the tree.
const DigestSize = sha256.Size

// Digest is a single node digest. Leaf digests are produced by the secure
// element and are opaque to the host; inner-node digests are SHA-256 over
// the concatenated child digests and are computed locally so that auxiliary
// proof paths can be extracted.
type Digest [DigestSize]byte

// emptyLeaf is the digest of a leaf with no credential.
var emptyLeaf Digest

// Shape fixes the tree geometry. Both sides of the protocol derive identical
// proofs from it, so it is part of the wire contract and cannot change for
// the lifetime of a provisioned tree.
type Shape struct {
	// BitsPerLevel is the number of label bits consumed per tree level.
	// Every internal node has 2^BitsPerLevel children.
	BitsPerLevel uint8

	// TreeHeight is the number of levels below the root.
	TreeHeight uint8
}

// DefaultShape matches the secure element's default geometry: 4 children
// per node, 7 levels, 16384 leaves, 14-bit leaf labels.
var DefaultShape = Shape{BitsPerLevel: 2, TreeHeight: 7}

// LabelLength returns the bit length of a leaf label.
func (s Shape) LabelLength() uint8 {
	return s.TreeHeight * s.BitsPerLevel
}

// Fanout returns the number of children per internal node.
func (s Shape) Fanout() uint64 {
	return 1 << s.BitsPerLevel
}

// NumLeaves returns the total leaf capacity of the tree.
func (s Shape) NumLeaves() uint64 {
	return 1 << s.LabelLength()
}

// Validate reports whether the shape is usable.
func (s Shape) Validate() error {
	if s.BitsPerLevel == 0 || s.TreeHeight == 0 {
		return fmt.Errorf("%w: bits_per_level=%d tree_height=%d", ErrInvalidShape, s.BitsPerLevel, s.TreeHeight)
	}
	if uint(s.BitsPerLevel)*uint(s.TreeHeight) > 32 {
		// Caps the mirror at 2^32 leaves; the in-memory level arrays are
		// dense, so anything beyond this is not representable anyway.
		return fmt.Errorf("%w: label length %d exceeds 32 bits", ErrInvalidShape, uint(s.BitsPerLevel)*uint(s.TreeHeight))
	}
	return nil
}

// Tree is the in-memory mirror of the credential hash tree. levels[0] holds
// the single root digest and levels[TreeHeight] the leaf digests; level k
// holds Fanout^k nodes. Tree is not safe for concurrent use; the owning
// engine serializes all access.
type Tree struct {
	shape     Shape
	levels    [][]Digest
	occupied  []bool
	freeCount uint64
	nextFree  uint64
}

// New constructs a fresh tree with every leaf free. Inner-node digests are
// initialized to the empty-subtree values so the root immediately matches
// what the secure element computes for an all-empty tree of the same shape.
func New(shape Shape) (*Tree, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	t := &Tree{
		shape:     shape,
		levels:    make([][]Digest, shape.TreeHeight+1),
		occupied:  make([]bool, shape.NumLeaves()),
		freeCount: shape.NumLeaves(),
	}

	// Every node at a given level of an empty tree has the same digest,
	// so one hash per level seeds the whole mirror.
	empty := emptyLeaf
	for k := int(shape.TreeHeight); k >= 0; k-- {
		n := uint64(1) << (uint(k) * uint(shape.BitsPerLevel))
		t.levels[k] = make([]Digest, n)
		for i := uint64(0); i < n; i++ {
			t.levels[k][i] = empty
		}
		if k > 0 {
			empty = hashSiblings(empty, shape.Fanout())
		}
	}
	return t, nil
}

// Shape returns the tree geometry.
func (t *Tree) Shape() Shape {
	return t.shape
}

// RootHash returns the mirror's current root digest. The secure element's
// trusted root should equal this whenever host and element are in sync.
func (t *Tree) RootHash() Digest {
	return t.levels[0][0]
}

// FreeCount returns the number of unoccupied leaves.
func (t *Tree) FreeCount() uint64 {
	return t.freeCount
}

// GetFreeLeafLabel selects an unoccupied leaf label, scanning forward from
// the most recently allocated slot so freed labels are not immediately
// reused. It does not mark the leaf occupied; occupancy is claimed with
// MarkOccupied once the secure element accepts the insert.
func (t *Tree) GetFreeLeafLabel() (Label, error) {
	if t.freeCount == 0 {
		return Label{}, ErrNoFreeLeaf
	}
	n := t.shape.NumLeaves()
	for i := uint64(0); i < n; i++ {
		idx := (t.nextFree + i) % n
		if !t.occupied[idx] {
			t.nextFree = (idx + 1) % n
			return LeafLabel(idx, t.shape.LabelLength())
		}
	}
	return Label{}, ErrNoFreeLeaf
}

// MarkOccupied claims a leaf for a credential.
func (t *Tree) MarkOccupied(label Label) error {
	idx, err := t.leafIndex(label)
	if err != nil {
		return err
	}
	if !t.occupied[idx] {
		t.occupied[idx] = true
		t.freeCount--
	}
	return nil
}

// IsOccupied reports whether the leaf currently holds a credential.
func (t *Tree) IsOccupied(label Label) (bool, error) {
	idx, err := t.leafIndex(label)
	if err != nil {
		return false, err
	}
	return t.occupied[idx], nil
}

// GetLeafHash returns the mirrored digest for the given leaf label.
func (t *Tree) GetLeafHash(label Label) (Digest, error) {
	idx, err := t.leafIndex(label)
	if err != nil {
		return Digest{}, err
	}
	return t.levels[t.shape.TreeHeight][idx], nil
}

// UpdateLeafHash overwrites the mirrored digest for the given leaf label and
// recomputes the ancestor digests up to the root. Occupancy is untouched.
func (t *Tree) UpdateLeafHash(label Label, digest Digest) error {
	idx, err := t.leafIndex(label)
	if err != nil {
		return err
	}
	t.levels[t.shape.TreeHeight][idx] = digest
	t.recomputePath(idx)
	return nil
}

// DeleteLeaf clears the leaf digest and returns the leaf to the free pool.
func (t *Tree) DeleteLeaf(label Label) error {
	idx, err := t.leafIndex(label)
	if err != nil {
		return err
	}
	t.levels[t.shape.TreeHeight][idx] = emptyLeaf
	t.recomputePath(idx)
	if t.occupied[idx] {
		t.occupied[idx] = false
		t.freeCount++
	}
	return nil
}

// GetAuxiliaryHashes returns the flattened Merkle proof path for the given
// leaf label: for each level starting at the leaf and ascending to the root,
// the digests of the node's Fanout-1 siblings in child order. The secure
// element consumes this exact ordering when recomputing the root.
func (t *Tree) GetAuxiliaryHashes(label Label) ([]Digest, error) {
	idx, err := t.leafIndex(label)
	if err != nil {
		return nil, err
	}
	fanout := t.shape.Fanout()
	aux := make([]Digest, 0, uint64(t.shape.TreeHeight)*(fanout-1))
	for k := int(t.shape.TreeHeight); k > 0; k-- {
		base := (idx >> t.shape.BitsPerLevel) << t.shape.BitsPerLevel
		for j := uint64(0); j < fanout; j++ {
			if base|j != idx {
				aux = append(aux, t.levels[k][base|j])
			}
		}
		idx >>= t.shape.BitsPerLevel
	}
	return aux, nil
}

// leafIndex validates that label is a leaf of this tree and returns its
// flat index.
func (t *Tree) leafIndex(label Label) (uint64, error) {
	if label.Length() != t.shape.LabelLength() {
		return 0, fmt.Errorf("%w: length %d, want %d", ErrInvalidLabel, label.Length(), t.shape.LabelLength())
	}
	if label.Value() >= t.shape.NumLeaves() {
		return 0, fmt.Errorf("%w: %s out of range", ErrInvalidLabel, label)
	}
	return label.Value(), nil
}

// recomputePath rehashes the ancestors of the given leaf up to the root.
func (t *Tree) recomputePath(idx uint64) {
	for k := int(t.shape.TreeHeight); k > 0; k-- {
		parent := idx >> t.shape.BitsPerLevel
		t.levels[k-1][parent] = t.hashChildren(k, parent)
		idx = parent
	}
}

// hashChildren computes the digest of the node at level k-1 from its
// children at level k.
func (t *Tree) hashChildren(k int, parent uint64) Digest {
	h := sha256.New()
	base := parent << t.shape.BitsPerLevel
	for j := uint64(0); j < t.shape.Fanout(); j++ {
		child := t.levels[k][base|j]
		h.Write(child[:])
	}
	var d Digest
	h.Sum(d[:0])
	return d
}

// hashSiblings hashes fanout copies of the same digest, which is the parent
// digest at any level of an all-empty subtree.
func hashSiblings(child Digest, fanout uint64) Digest {
	h := sha256.New()
	for j := uint64(0); j < fanout; j++ {
		h.Write(child[:])
	}
	var d Digest
	h.Sum(d[:0])
	return d
}

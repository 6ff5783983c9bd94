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

// Package hashtree maintains the host-side mirror of the secure element's
// credential hash tree: fixed-width path labels, per-leaf digests, Merkle
// auxiliary paths, and atomic persistence of the whole tree.
package hashtree

import "fmt"

// Label is a fixed-width bit string identifying a node in the tree. The bits
// count down from the root: each group of Shape.BitsPerLevel bits selects one
// child at the next level. A label whose length equals Shape.LabelLength()
// identifies a leaf.
//
// Label is immutable and comparable, so it can be used as a map key. The bit
// layout is a wire contract shared with the secure element, which re-derives
// the same paths independently when verifying proofs.
type Label struct {
	value  uint64
	length uint8
}

// LeafLabel constructs a leaf label from a flat leaf index. It returns an
// error if value does not fit in length bits.
func LeafLabel(value uint64, length uint8) (Label, error) {
	if length == 0 || length > 64 {
		return Label{}, fmt.Errorf("%w: label length %d out of range", ErrInvalidLabel, length)
	}
	if length < 64 && value >= 1<<length {
		return Label{}, fmt.Errorf("%w: value %d does not fit in %d bits", ErrInvalidLabel, value, length)
	}
	return Label{value: value, length: length}, nil
}

// Value returns the label bits as a flat integer.
func (l Label) Value() uint64 {
	return l.value
}

// Length returns the label length in bits.
func (l Label) Length() uint8 {
	return l.length
}

// Parent returns the label of the node's parent, dropping the lowest
// bitsPerLevel bits. The parent of the root is the root.
func (l Label) Parent(bitsPerLevel uint8) Label {
	if l.length <= bitsPerLevel {
		return Label{}
	}
	return Label{value: l.value >> bitsPerLevel, length: l.length - bitsPerLevel}
}

// ChildIndex returns the node's position among its parent's children, i.e.
// the lowest bitsPerLevel bits of the label.
func (l Label) ChildIndex(bitsPerLevel uint8) uint64 {
	return l.value & (1<<bitsPerLevel - 1)
}

// Sibling returns the label of the index-th child of the node's parent.
// Passing the node's own ChildIndex returns the node itself.
func (l Label) Sibling(bitsPerLevel uint8, index uint64) Label {
	mask := uint64(1<<bitsPerLevel - 1)
	return Label{value: (l.value &^ mask) | (index & mask), length: l.length}
}

// String renders the label as a binary bit string for logs.
func (l Label) String() string {
	if l.length == 0 {
		return "[]"
	}
	return fmt.Sprintf("[%0*b]", l.length, l.value)
}

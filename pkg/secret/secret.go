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

// Package secret provides in-memory handling for the low- and high-entropy
// secrets flowing through the credential engine: copies on the way in,
// constant-time comparison, and zeroing when a secret is no longer needed.
package secret

import (
	"crypto/subtle"
	"errors"
)

var (
	// ErrEmptySecret is returned when an empty secret is provided.
	ErrEmptySecret = errors.New("secret cannot be empty")

	// ErrSecretZeroed is returned when the secret has been zeroed.
	ErrSecretZeroed = errors.New("secret has been zeroed")
)

// Secret holds sensitive bytes in memory until explicitly cleared.
type Secret struct {
	data []byte
}

// New creates a Secret from a byte slice. The slice is copied to prevent
// external modification. Returns an error if the secret is empty.
func New(data []byte) (*Secret, error) {
	if len(data) == 0 {
		return nil, ErrEmptySecret
	}
	s := make([]byte, len(data))
	copy(s, data)
	return &Secret{data: s}, nil
}

// NewFromString creates a Secret from a string.
func NewFromString(data string) (*Secret, error) {
	if len(data) == 0 {
		return nil, ErrEmptySecret
	}
	return &Secret{data: []byte(data)}, nil
}

// Bytes returns a copy of the secret to prevent external modification of
// the internal data. Returns nil after Clear.
func (s *Secret) Bytes() []byte {
	if s.data == nil {
		return nil
	}
	result := make([]byte, len(s.data))
	copy(result, s.data)
	return result
}

// String returns the secret as a string. Use with caution; the returned
// string cannot be zeroed.
func (s *Secret) String() (string, error) {
	if s.data == nil {
		return "", ErrSecretZeroed
	}
	return string(s.data), nil
}

// Clear zeroes the secret in memory. Irreversible; subsequent Bytes and
// String calls fail.
func (s *Secret) Clear() {
	if s.data != nil {
		for i := range s.data {
			s.data[i] = 0
		}
		subtle.ConstantTimeCopy(1, s.data, make([]byte, len(s.data)))
		s.data = nil
	}
}

// Equal compares two raw secrets in constant time.
func Equal(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

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

package secret

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_CopiesInput(t *testing.T) {
	input := []byte("1234")
	s, err := New(input)
	require.NoError(t, err)

	input[0] = 'X'
	assert.Equal(t, []byte("1234"), s.Bytes())
}

func TestNew_Empty(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrEmptySecret)

	_, err = NewFromString("")
	assert.ErrorIs(t, err, ErrEmptySecret)
}

func TestBytes_ReturnsCopy(t *testing.T) {
	s, err := New([]byte("1234"))
	require.NoError(t, err)

	b := s.Bytes()
	b[0] = 'X'
	assert.Equal(t, []byte("1234"), s.Bytes())
}

func TestClear(t *testing.T) {
	s, err := NewFromString("1234")
	require.NoError(t, err)

	s.Clear()
	assert.Nil(t, s.Bytes())
	_, err = s.String()
	assert.ErrorIs(t, err, ErrSecretZeroed)

	// Clearing twice is harmless
	s.Clear()
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal([]byte("abc"), []byte("abc")))
	assert.False(t, Equal([]byte("abc"), []byte("abd")))
	assert.False(t, Equal([]byte("abc"), []byte("abcd")))
}

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

package cli

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-pinweaver/pkg/hashtree"
	"github.com/jeremyhahn/go-pinweaver/pkg/secret"
)

func TestParseSchedule(t *testing.T) {
	schedule, err := parseSchedule("5:20s,10:5m")
	require.NoError(t, err)
	require.Len(t, schedule, 2)
	assert.Equal(t, uint32(5), schedule[0].AttemptCount)
	assert.Equal(t, 20*time.Second, schedule[0].Delay)
	assert.Equal(t, uint32(10), schedule[1].AttemptCount)
	assert.Equal(t, 5*time.Minute, schedule[1].Delay)
}

func TestParseSchedule_Forever(t *testing.T) {
	schedule, err := parseSchedule("15:forever")
	require.NoError(t, err)
	require.Len(t, schedule, 1)
	assert.Greater(t, schedule[0].Delay, 365*24*time.Hour)
}

func TestParseSchedule_Invalid(t *testing.T) {
	for _, spec := range []string{"", "nocolon", "x:20s", "5:notaduration"} {
		_, err := parseSchedule(spec)
		assert.Error(t, err, "spec %q", spec)
	}
}

func TestParseLabel(t *testing.T) {
	shape := hashtree.Shape{BitsPerLevel: 2, TreeHeight: 3}

	label, err := parseLabel("42", shape)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), label.Value())
	assert.Equal(t, shape.LabelLength(), label.Length())

	// Out of range for a 6-bit label
	_, err = parseLabel("64", shape)
	assert.Error(t, err)

	_, err = parseLabel("banana", shape)
	assert.Error(t, err)
}

func TestStretchPIN(t *testing.T) {
	mustSecret := func(pin string) *secret.Secret {
		s, err := secret.NewFromString(pin)
		require.NoError(t, err)
		return s
	}

	a := stretchPIN(mustSecret("1234"))
	b := stretchPIN(mustSecret("1234"))
	c := stretchPIN(mustSecret("1235"))
	assert.Len(t, a, 32)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	// The PIN is zeroed by stretching
	s := mustSecret("1234")
	stretchPIN(s)
	assert.Nil(t, s.Bytes())
}

func TestPrinter_TextAndJSON(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter("text", &buf)
	require.NoError(t, p.PrintSuccess("done"))
	assert.Contains(t, buf.String(), "done")

	buf.Reset()
	p = NewPrinter("json", &buf)
	require.NoError(t, p.PrintSecret([]byte{1, 2, 3}))
	assert.Contains(t, buf.String(), "he_secret")
}

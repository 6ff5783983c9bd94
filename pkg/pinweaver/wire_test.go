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

package pinweaver_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-pinweaver/pkg/hashtree"
	"github.com/jeremyhahn/go-pinweaver/pkg/pinweaver"
	"github.com/jeremyhahn/go-pinweaver/pkg/pinweaver/sim"
)

var wireShape = hashtree.Shape{BitsPerLevel: 2, TreeHeight: 3}

// newWireClient builds a Client talking to a simulated element through the
// loopback transport, so every call exercises the full CBOR encoding.
func newWireClient(t *testing.T) (*pinweaver.Client, *hashtree.Tree) {
	t.Helper()
	element, err := sim.New()
	require.NoError(t, err)
	client := pinweaver.NewClient(pinweaver.NewLoopback(element))
	require.NoError(t, client.ResetTree(context.Background(), wireShape))

	tree, err := hashtree.New(wireShape)
	require.NoError(t, err)
	return client, tree
}

func TestClient_InsertAndAuth(t *testing.T) {
	client, tree := newWireClient(t)
	ctx := context.Background()

	label, err := tree.GetFreeLeafLabel()
	require.NoError(t, err)
	hAux, err := tree.GetAuxiliaryHashes(label)
	require.NoError(t, err)

	cred, err := client.InsertLeaf(ctx, pinweaver.InsertParams{
		Label:         label,
		HAux:          hAux,
		LESecret:      []byte("1234"),
		HESecret:      []byte("high-entropy"),
		DelaySchedule: pinweaver.DelaySchedule{{AttemptCount: 5, Delay: 64 * time.Second}},
	})
	require.NoError(t, err)
	require.NotNil(t, cred)
	require.NoError(t, tree.UpdateLeafHash(label, cred.Digest))

	hAux, err = tree.GetAuxiliaryHashes(label)
	require.NoError(t, err)
	result, err := client.TryAuth(ctx, []byte("1234"), hAux, cred.Metadata)
	require.NoError(t, err)
	assert.Equal(t, pinweaver.OutcomeSuccess, result.Outcome)
	assert.Equal(t, []byte("high-entropy"), result.HESecret)
}

func TestClient_AuthFailedOutcome(t *testing.T) {
	client, tree := newWireClient(t)
	ctx := context.Background()

	label, err := tree.GetFreeLeafLabel()
	require.NoError(t, err)
	hAux, err := tree.GetAuxiliaryHashes(label)
	require.NoError(t, err)
	cred, err := client.InsertLeaf(ctx, pinweaver.InsertParams{
		Label:    label,
		HAux:     hAux,
		LESecret: []byte("1234"),
		HESecret: []byte("he"),
	})
	require.NoError(t, err)
	require.NoError(t, tree.UpdateLeafHash(label, cred.Digest))

	hAux, err = tree.GetAuxiliaryHashes(label)
	require.NoError(t, err)
	result, err := client.TryAuth(ctx, []byte("9999"), hAux, cred.Metadata)
	require.NoError(t, err)
	assert.Equal(t, pinweaver.OutcomeFailed, result.Outcome)
	assert.Nil(t, result.HESecret)
	assert.NotEmpty(t, result.Metadata)
}

func TestClient_RateLimitedCarriesWaitHint(t *testing.T) {
	client, tree := newWireClient(t)
	ctx := context.Background()

	label, err := tree.GetFreeLeafLabel()
	require.NoError(t, err)
	hAux, err := tree.GetAuxiliaryHashes(label)
	require.NoError(t, err)
	cred, err := client.InsertLeaf(ctx, pinweaver.InsertParams{
		Label:         label,
		HAux:          hAux,
		LESecret:      []byte("1234"),
		HESecret:      []byte("he"),
		DelaySchedule: pinweaver.DelaySchedule{{AttemptCount: 1, Delay: time.Hour}},
	})
	require.NoError(t, err)
	require.NoError(t, tree.UpdateLeafHash(label, cred.Digest))

	hAux, err = tree.GetAuxiliaryHashes(label)
	require.NoError(t, err)
	failed, err := client.TryAuth(ctx, []byte("wrong"), hAux, cred.Metadata)
	require.NoError(t, err)
	require.Equal(t, pinweaver.OutcomeFailed, failed.Outcome)
	require.NoError(t, tree.UpdateLeafHash(label, failed.Digest))

	hAux, err = tree.GetAuxiliaryHashes(label)
	require.NoError(t, err)
	limited, err := client.TryAuth(ctx, []byte("1234"), hAux, failed.Metadata)
	require.NoError(t, err)
	assert.Equal(t, pinweaver.OutcomeRateLimited, limited.Outcome)
	assert.Greater(t, limited.WaitHint, 59*time.Minute)
}

func TestClient_RemoveLeaf(t *testing.T) {
	client, tree := newWireClient(t)
	ctx := context.Background()

	label, err := tree.GetFreeLeafLabel()
	require.NoError(t, err)
	hAux, err := tree.GetAuxiliaryHashes(label)
	require.NoError(t, err)
	cred, err := client.InsertLeaf(ctx, pinweaver.InsertParams{
		Label:    label,
		HAux:     hAux,
		LESecret: []byte("1234"),
		HESecret: []byte("he"),
	})
	require.NoError(t, err)
	require.NoError(t, tree.UpdateLeafHash(label, cred.Digest))

	hAux, err = tree.GetAuxiliaryHashes(label)
	require.NoError(t, err)
	require.NoError(t, client.RemoveLeaf(ctx, label, cred.Digest, hAux))
}

func TestClient_StaleProofIsHashMismatch(t *testing.T) {
	client, tree := newWireClient(t)
	ctx := context.Background()

	label, err := tree.GetFreeLeafLabel()
	require.NoError(t, err)
	hAux, err := tree.GetAuxiliaryHashes(label)
	require.NoError(t, err)
	_, err = client.InsertLeaf(ctx, pinweaver.InsertParams{
		Label:    label,
		HAux:     hAux,
		LESecret: []byte("1234"),
		HESecret: []byte("he"),
	})
	require.NoError(t, err)

	// Inserting again at the same label with the stale empty-leaf proof
	// must be rejected by the element's root check.
	_, err = client.InsertLeaf(ctx, pinweaver.InsertParams{
		Label:    label,
		HAux:     hAux,
		LESecret: []byte("5678"),
		HESecret: []byte("he2"),
	})
	assert.ErrorIs(t, err, pinweaver.ErrHashMismatch)
}

func TestClient_ContextCancelled(t *testing.T) {
	client, _ := newWireClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := client.ResetTree(ctx, wireShape)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

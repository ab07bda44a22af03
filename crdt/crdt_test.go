package crdt_test

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/hypermark/crdt"
	"github.com/teranos/hypermark/crdt/lwwmap"
)

func TestDiffBringsPeerToEqual(t *testing.T) {
	local := lwwmap.New(1)
	remote := lwwmap.New(2)
	local.Set("bm-1", []byte(`{"url":"https://a.com"}`))
	local.Set("bm-2", []byte(`{"url":"https://b.com"}`))

	remoteSV, err := crdt.ParseStateVector(crdt.StateVectorOf(remote))
	require.NoError(t, err)
	localSV, err := crdt.ParseStateVector(crdt.StateVectorOf(local))
	require.NoError(t, err)
	assert.Equal(t, crdt.LocalAhead, crdt.Compare(localSV, remoteSV))
	assert.True(t, crdt.HasRemoteChanges(remoteSV, localSV))

	diff, err := crdt.Diff(local, crdt.StateVectorOf(remote))
	require.NoError(t, err)
	require.NoError(t, crdt.Apply(remote, diff, crdt.OriginRemote))

	rel, err := crdt.CompareEncoded(crdt.StateVectorOf(local), crdt.StateVectorOf(remote))
	require.NoError(t, err)
	assert.Equal(t, crdt.Equal, rel)
	assert.Equal(t, local.Snapshot(), remote.Snapshot())
}

func TestDivergentReplicasConvergeThroughFullState(t *testing.T) {
	a := lwwmap.New(1)
	b := lwwmap.New(2)
	a.Set("x", []byte("a"))
	b.Set("y", []byte("b"))

	rel, err := crdt.CompareEncoded(crdt.StateVectorOf(a), crdt.StateVectorOf(b))
	require.NoError(t, err)
	assert.Equal(t, crdt.Divergent, rel)

	stateA, err := crdt.FullState(a)
	require.NoError(t, err)
	stateB, err := crdt.FullState(b)
	require.NoError(t, err)
	require.NoError(t, crdt.Apply(a, stateB, crdt.OriginRemote))
	require.NoError(t, crdt.Apply(b, stateA, crdt.OriginRemote))

	assert.Equal(t, a.Snapshot(), b.Snapshot())
	assert.Equal(t, []string{"x", "y"}, a.Keys())
}

func TestFullStateBase64(t *testing.T) {
	d := lwwmap.New(1)
	d.Set("k", []byte("v"))

	encoded, err := crdt.FullStateBase64(d)
	require.NoError(t, err)
	raw, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)

	restored := lwwmap.New(2)
	require.NoError(t, crdt.Apply(restored, raw, crdt.OriginRemote))
	v, ok := restored.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", string(v))
}

func TestDiffRejectsMalformedStateVector(t *testing.T) {
	_, err := crdt.Diff(lwwmap.New(1), []byte{0x80})
	assert.ErrorIs(t, err, crdt.ErrMalformedStateVector)
}

func TestApplyWrapsDocumentError(t *testing.T) {
	err := crdt.Apply(lwwmap.New(1), []byte{0xff}, "relay")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "relay")
}

package lwwmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/hypermark/crdt"
)

func fullState(t *testing.T, d *Doc) []byte {
	t.Helper()
	state, err := d.EncodeFullState()
	require.NoError(t, err)
	return state
}

func replicaWith(t *testing.T, id uint64, kv ...string) (*Doc, []byte) {
	t.Helper()
	d := New(id)
	for i := 0; i+1 < len(kv); i += 2 {
		d.Set(kv[i], []byte(kv[i+1]))
	}
	return d, fullState(t, d)
}

func merged(t *testing.T, updates ...[]byte) *Doc {
	t.Helper()
	d := New(999)
	for _, u := range updates {
		require.NoError(t, d.ApplyUpdate(u, "test"))
	}
	return d
}

func TestSetGetDelete(t *testing.T) {
	d := New(1)
	d.Set("bm-1", []byte("a"))
	d.Set("bm-2", []byte("b"))

	v, ok := d.Get("bm-1")
	require.True(t, ok)
	assert.Equal(t, []byte("a"), v)
	assert.Equal(t, []string{"bm-1", "bm-2"}, d.Keys())

	d.Delete("bm-1")
	_, ok = d.Get("bm-1")
	assert.False(t, ok)
	assert.Equal(t, []string{"bm-2"}, d.Keys())
	assert.Equal(t, crdt.StateVector{1: 3}, d.Vector())
}

func TestMergeIsCommutative(t *testing.T) {
	_, a := replicaWith(t, 1, "x", "from-a", "only-a", "1")
	_, b := replicaWith(t, 2, "x", "from-b", "only-b", "2")

	ab := merged(t, a, b)
	ba := merged(t, b, a)

	assert.Equal(t, ab.Snapshot(), ba.Snapshot())
	assert.Equal(t, fullState(t, ab), fullState(t, ba))
	// union for distinct keys
	assert.Len(t, ab.Keys(), 3)
}

func TestMergeIsAssociative(t *testing.T) {
	_, a := replicaWith(t, 1, "k", "a")
	_, b := replicaWith(t, 2, "k", "b", "j", "b")
	_, c := replicaWith(t, 3, "j", "c", "i", "c")

	left := merged(t, fullState(t, merged(t, a, b)), c)
	right := merged(t, a, fullState(t, merged(t, b, c)))

	assert.Equal(t, left.Snapshot(), right.Snapshot())
	assert.Equal(t, fullState(t, left), fullState(t, right))
}

func TestMergeIsIdempotent(t *testing.T) {
	_, a := replicaWith(t, 1, "k", "v", "k2", "v2")

	once := merged(t, a)
	twice := merged(t, a, a)

	assert.Equal(t, once.Snapshot(), twice.Snapshot())
	assert.Equal(t, once.Vector(), twice.Vector())
	assert.Equal(t, fullState(t, once), fullState(t, twice))
}

func TestConcurrentScalarEditIsLastWriterWins(t *testing.T) {
	a := New(1)
	b := New(2)
	a.Set("title", []byte("first"))
	require.NoError(t, b.ApplyUpdate(fullState(t, a), "sync"))

	// b saw a's write, so its edit carries a higher lamport time
	b.Set("title", []byte("second"))
	require.NoError(t, a.ApplyUpdate(fullState(t, b), "sync"))

	v, _ := a.Get("title")
	assert.Equal(t, "second", string(v))
	assert.Equal(t, a.Snapshot(), b.Snapshot())
}

func TestDeleteRecreateRaceConvergesOnTombstone(t *testing.T) {
	base := New(1)
	base.Set("bm", []byte("v0"))
	shared := fullState(t, base)

	a := New(2)
	b := New(3)
	require.NoError(t, a.ApplyUpdate(shared, "sync"))
	require.NoError(t, b.ApplyUpdate(shared, "sync"))

	a.Delete("bm")
	b.Set("bm", []byte("v1"))

	require.NoError(t, a.ApplyUpdate(fullState(t, b), "sync"))
	require.NoError(t, b.ApplyUpdate(fullState(t, a), "sync"))

	_, okA := a.Get("bm")
	_, okB := b.Get("bm")
	assert.False(t, okA)
	assert.False(t, okB)
}

func TestOutOfOrderOpsWaitForGap(t *testing.T) {
	src := New(1)
	src.Set("a", []byte("1"))
	first := fullState(t, src)
	src.Set("b", []byte("2"))
	second, err := src.EncodeUpdate(crdt.StateVector{1: 1}.Encode())
	require.NoError(t, err)

	dst := New(2)
	require.NoError(t, dst.ApplyUpdate(second, "sync"))
	assert.Equal(t, 1, dst.Parked())
	assert.Empty(t, dst.Keys())

	require.NoError(t, dst.ApplyUpdate(first, "sync"))
	assert.Equal(t, 0, dst.Parked())
	assert.Equal(t, []string{"a", "b"}, dst.Keys())
}

func TestEncodeUpdateOnlyCarriesMissingOps(t *testing.T) {
	d, _ := replicaWith(t, 1, "a", "1", "b", "2", "c", "3")

	diff, err := d.EncodeUpdate(crdt.StateVector{1: 2}.Encode())
	require.NoError(t, err)

	peer := New(2)
	require.NoError(t, peer.ApplyUpdate(diff, "sync"))
	// only clock 2 is present; it parks until clocks 0 and 1 arrive
	assert.Equal(t, 1, peer.Parked())

	full := fullState(t, d)
	assert.Less(t, len(diff), len(full))
}

func TestObserverSeesLocalAndRemoteOrigins(t *testing.T) {
	src := New(1)
	dst := New(2)

	var origins []string
	dst.Observe(func(_ []byte, origin string) { origins = append(origins, origin) })

	dst.Set("local", []byte("x"))
	src.Set("remote", []byte("y"))
	update := fullState(t, src)
	require.NoError(t, dst.ApplyUpdate(update, crdt.OriginRemote))
	// duplicate delivery changes nothing and stays silent
	require.NoError(t, dst.ApplyUpdate(update, crdt.OriginRemote))

	assert.Equal(t, []string{OriginLocal, crdt.OriginRemote}, origins)
}

func TestApplyUpdateRejectsGarbage(t *testing.T) {
	assert.Error(t, New(1).ApplyUpdate([]byte{0xff, 0x00}, "sync"))
}

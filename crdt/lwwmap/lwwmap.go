// Package lwwmap is a last-writer-wins map CRDT implementing crdt.Document.
//
// Every Set or Delete is an operation stamped with (replica, clock, lamport).
// Operations from one replica are integrated in clock order; a gap parks
// later operations until the missing ones arrive. Per key the operation with
// the highest (lamport, tombstone, replica) wins, so concurrent scalar edits
// resolve last-writer-wins, additions to different keys union, and a delete
// racing a recreate at the same lamport time resolves to the tombstone.
package lwwmap

import (
	"sort"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/teranos/hypermark/crdt"
	"github.com/teranos/hypermark/errors"
)

// OriginLocal tags operations produced by this replica.
const OriginLocal = "local"

// Op is one map mutation.
type Op struct {
	Replica uint64 `cbor:"1,keyasint"`
	Clock   uint64 `cbor:"2,keyasint"`
	Lamport uint64 `cbor:"3,keyasint"`
	Key     string `cbor:"4,keyasint"`
	Value   []byte `cbor:"5,keyasint,omitempty"`
	Deleted bool   `cbor:"6,keyasint,omitempty"`
}

type update struct {
	Ops []Op `cbor:"1,keyasint"`
}

// Observer is called after a local or applied change with the update that
// produced it.
type Observer func(update []byte, origin string)

var encMode cbor.EncMode

func init() {
	mode, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	encMode = mode
}

// Doc is a replicated map from string keys to opaque values.
type Doc struct {
	mu        sync.Mutex
	replica   uint64
	lamport   uint64
	log       map[uint64][]Op          // integrated ops per replica, index == clock
	parked    map[uint64]map[uint64]Op // out-of-order ops waiting for a gap to fill
	winners   map[string]Op
	observers []Observer
}

// New creates an empty document owned by replica.
func New(replica uint64) *Doc {
	return &Doc{
		replica: replica,
		log:     make(map[uint64][]Op),
		parked:  make(map[uint64]map[uint64]Op),
		winners: make(map[string]Op),
	}
}

// Replica returns the id stamped on local operations.
func (d *Doc) Replica() uint64 { return d.replica }

// Observe registers fn for every subsequent change.
func (d *Doc) Observe(fn Observer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers = append(d.observers, fn)
}

// Set writes value under key.
func (d *Doc) Set(key string, value []byte) {
	d.local(key, append([]byte(nil), value...), false)
}

// Delete tombstones key.
func (d *Doc) Delete(key string) {
	d.local(key, nil, true)
}

func (d *Doc) local(key string, value []byte, deleted bool) {
	d.mu.Lock()
	d.lamport++
	op := Op{
		Replica: d.replica,
		Clock:   uint64(len(d.log[d.replica])),
		Lamport: d.lamport,
		Key:     key,
		Value:   value,
		Deleted: deleted,
	}
	d.integrate(op)
	observers := append([]Observer(nil), d.observers...)
	d.mu.Unlock()

	if len(observers) == 0 {
		return
	}
	data, err := encMode.Marshal(update{Ops: []Op{op}})
	if err != nil {
		return
	}
	for _, fn := range observers {
		fn(data, OriginLocal)
	}
}

// Get returns the live value under key.
func (d *Doc) Get(key string) ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	op, ok := d.winners[key]
	if !ok || op.Deleted {
		return nil, false
	}
	return append([]byte(nil), op.Value...), true
}

// Keys returns the live keys in sorted order.
func (d *Doc) Keys() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	keys := make([]string, 0, len(d.winners))
	for k, op := range d.winners {
		if !op.Deleted {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Snapshot copies the live entries.
func (d *Doc) Snapshot() map[string][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string][]byte, len(d.winners))
	for k, op := range d.winners {
		if !op.Deleted {
			out[k] = append([]byte(nil), op.Value...)
		}
	}
	return out
}

// Vector returns the decoded state vector.
func (d *Doc) Vector() crdt.StateVector {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.vector()
}

func (d *Doc) vector() crdt.StateVector {
	sv := make(crdt.StateVector, len(d.log))
	for id, ops := range d.log {
		sv[id] = uint64(len(ops))
	}
	return sv
}

// StateVector implements crdt.Document.
func (d *Doc) StateVector() []byte {
	return d.Vector().Encode()
}

// EncodeUpdate implements crdt.Document.
func (d *Doc) EncodeUpdate(since []byte) ([]byte, error) {
	sv, err := crdt.ParseStateVector(since)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	ids := make([]uint64, 0, len(d.log))
	for id := range d.log {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var ops []Op
	for _, id := range ids {
		log := d.log[id]
		if from := sv[id]; from < uint64(len(log)) {
			ops = append(ops, log[from:]...)
		}
	}
	d.mu.Unlock()

	if ops == nil {
		ops = []Op{}
	}
	data, err := encMode.Marshal(update{Ops: ops})
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode update")
	}
	return data, nil
}

// EncodeFullState implements crdt.Document.
func (d *Doc) EncodeFullState() ([]byte, error) {
	return d.EncodeUpdate(nil)
}

// ApplyUpdate implements crdt.Document. Operations already integrated are
// ignored, so applying an update twice is a no-op.
func (d *Doc) ApplyUpdate(data []byte, origin string) error {
	var u update
	if err := cbor.Unmarshal(data, &u); err != nil {
		return errors.Wrap(err, "failed to decode update")
	}

	d.mu.Lock()
	changed := false
	for _, op := range u.Ops {
		have := uint64(len(d.log[op.Replica]))
		switch {
		case op.Clock < have:
			continue
		case op.Clock == have:
			d.integrate(op)
			d.drain(op.Replica)
			changed = true
		default:
			if d.parked[op.Replica] == nil {
				d.parked[op.Replica] = make(map[uint64]Op)
			}
			d.parked[op.Replica][op.Clock] = op
		}
	}
	observers := append([]Observer(nil), d.observers...)
	d.mu.Unlock()

	if changed {
		for _, fn := range observers {
			fn(data, origin)
		}
	}
	return nil
}

// Parked returns the number of operations waiting on a missing predecessor.
func (d *Doc) Parked() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, ops := range d.parked {
		n += len(ops)
	}
	return n
}

// integrate appends op to its replica log and updates the key winner.
// Caller holds mu and guarantees op.Clock is the next clock for its replica.
func (d *Doc) integrate(op Op) {
	d.log[op.Replica] = append(d.log[op.Replica], op)
	if op.Lamport > d.lamport {
		d.lamport = op.Lamport
	}
	if cur, ok := d.winners[op.Key]; !ok || wins(op, cur) {
		d.winners[op.Key] = op
	}
}

// drain integrates parked ops of replica that have become contiguous.
func (d *Doc) drain(replica uint64) {
	waiting := d.parked[replica]
	for {
		next := uint64(len(d.log[replica]))
		op, ok := waiting[next]
		if !ok {
			break
		}
		delete(waiting, next)
		d.integrate(op)
	}
	if len(waiting) == 0 {
		delete(d.parked, replica)
	}
}

func wins(a, b Op) bool {
	if a.Lamport != b.Lamport {
		return a.Lamport > b.Lamport
	}
	if a.Deleted != b.Deleted {
		return a.Deleted
	}
	return a.Replica > b.Replica
}

var _ crdt.Document = (*Doc)(nil)

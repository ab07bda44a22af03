package crdt

import (
	"encoding/binary"
	"sort"

	"github.com/teranos/hypermark/errors"
)

// ErrMalformedStateVector is returned when state vector bytes cannot be decoded.
var ErrMalformedStateVector = errors.New("malformed state vector")

// StateVector maps a replica id to the number of its operations observed.
type StateVector map[uint64]uint64

// Relation is the outcome of comparing two state vectors.
type Relation int

const (
	Equal Relation = iota
	// LocalAhead means local holds operations remote lacks, and not vice versa.
	LocalAhead
	// RemoteAhead means remote holds operations local lacks, and not vice versa.
	RemoteAhead
	// Divergent means both sides hold operations the other lacks.
	Divergent
)

func (r Relation) String() string {
	switch r {
	case Equal:
		return "equal"
	case LocalAhead:
		return "local-ahead"
	case RemoteAhead:
		return "remote-ahead"
	case Divergent:
		return "divergent"
	default:
		return "unknown"
	}
}

// Encode writes the vector as varuint entry count followed by
// (replica, clock) varuint pairs in ascending replica order. Zero clocks are
// omitted.
func (sv StateVector) Encode() []byte {
	ids := make([]uint64, 0, len(sv))
	for id, clock := range sv {
		if clock > 0 {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	buf := make([]byte, 0, binary.MaxVarintLen64*(1+2*len(ids)))
	buf = binary.AppendUvarint(buf, uint64(len(ids)))
	for _, id := range ids {
		buf = binary.AppendUvarint(buf, id)
		buf = binary.AppendUvarint(buf, sv[id])
	}
	return buf
}

// ParseStateVector decodes bytes produced by Encode. Empty input is the
// empty vector.
func ParseStateVector(data []byte) (StateVector, error) {
	sv := StateVector{}
	if len(data) == 0 {
		return sv, nil
	}

	count, n := binary.Uvarint(data)
	if n <= 0 {
		return nil, ErrMalformedStateVector
	}
	data = data[n:]

	for i := uint64(0); i < count; i++ {
		id, n := binary.Uvarint(data)
		if n <= 0 {
			return nil, errors.Wrapf(ErrMalformedStateVector, "entry %d replica", i)
		}
		data = data[n:]
		clock, n := binary.Uvarint(data)
		if n <= 0 {
			return nil, errors.Wrapf(ErrMalformedStateVector, "entry %d clock", i)
		}
		data = data[n:]
		sv[id] = clock
	}
	if len(data) != 0 {
		return nil, errors.Wrapf(ErrMalformedStateVector, "%d trailing bytes", len(data))
	}
	return sv, nil
}

// Compare classifies how local relates to remote.
func Compare(local, remote StateVector) Relation {
	localAhead := exceeds(local, remote)
	remoteAhead := exceeds(remote, local)
	switch {
	case localAhead && remoteAhead:
		return Divergent
	case localAhead:
		return LocalAhead
	case remoteAhead:
		return RemoteAhead
	default:
		return Equal
	}
}

// HasRemoteChanges reports whether remote has at least one operation not
// reflected in local.
func HasRemoteChanges(local, remote StateVector) bool {
	return exceeds(remote, local)
}

// CompareEncoded parses both vectors and compares them.
func CompareEncoded(local, remote []byte) (Relation, error) {
	l, err := ParseStateVector(local)
	if err != nil {
		return Equal, err
	}
	r, err := ParseStateVector(remote)
	if err != nil {
		return Equal, err
	}
	return Compare(l, r), nil
}

// exceeds reports whether a has some operation b lacks.
func exceeds(a, b StateVector) bool {
	for id, clock := range a {
		if clock > b[id] {
			return true
		}
	}
	return false
}

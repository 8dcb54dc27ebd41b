package commitpos

import (
	"encoding/binary"
	"strconv"

	"clusterpos/pkg/counters"
)

const (
	// TypeID identifies commit-position counters among the other kinds of
	// counters sharing a registry.
	TypeID int32 = 203

	// Label prefixes the human readable name of the counter.
	Label = "cluster-commit-pos: clusterId="

	keyLength = 4
)

// Allocator reserves a counter in the registry.
type Allocator interface {
	AddCounter(typeID int32, key, label []byte) (*counters.Counter, error)
}

// MetaDataView is the read side of a registry the locator scans.
type MetaDataView interface {
	MaxCounterID() int32
	CounterState(id int32) int32
	CounterTypeID(id int32) int32
	CounterKey(id int32) []byte
}

// Encode returns the key and label of the commit-position counter for
// clusterID.
func Encode(clusterID int32) (key, label []byte) {
	key = make([]byte, keyLength)
	binary.LittleEndian.PutUint32(key, uint32(clusterID))

	label = make([]byte, 0, len(Label)+11)
	label = append(label, Label...)
	label = strconv.AppendInt(label, int64(clusterID), 10)

	return key, label
}

// DecodeKey reads a cluster id back from a key region. ok is false when the
// region is shorter than a key.
func DecodeKey(key []byte) (clusterID int32, ok bool) {
	if len(key) < keyLength {
		return 0, false
	}
	return int32(binary.LittleEndian.Uint32(key)), true
}

// Allocate reserves the commit-position counter for clusterID. Errors from
// the allocator, counters.ErrAllocationFailed included, are returned as is.
func Allocate(a Allocator, clusterID int32) (*counters.Counter, error) {
	key, label := Encode(clusterID)
	return a.AddCounter(TypeID, key, label)
}

// FindCounterID scans the registry in ascending id order and returns the id
// of the first allocated commit-position counter for clusterID, or
// counters.NullCounterID when there is none.
func FindCounterID(v MetaDataView, clusterID int32) int32 {
	for id, n := int32(0), v.MaxCounterID(); id < n; id++ {
		if IsCommitPosition(v, id, clusterID) {
			return id
		}
	}
	return counters.NullCounterID
}

// IsCommitPosition reports whether id is currently an allocated
// commit-position counter for clusterID. Callers that remember an id between
// scans use it to check that the slot was not freed or reused meanwhile.
func IsCommitPosition(v MetaDataView, id, clusterID int32) bool {
	if id < 0 || id >= v.MaxCounterID() {
		return false
	}
	if v.CounterState(id) != counters.RecordAllocated {
		return false
	}
	if v.CounterTypeID(id) != TypeID {
		return false
	}
	got, ok := DecodeKey(v.CounterKey(id))
	return ok && got == clusterID
}

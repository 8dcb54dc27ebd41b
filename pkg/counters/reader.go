package counters

// Reader is a read-only view over the metadata and values regions of a
// counters registry. It may be shared by any number of goroutines and by
// processes mapping the same file; it holds no state of its own beyond the
// two regions.
type Reader struct {
	meta   []byte
	values []byte
	max    int32
}

// NewReader wraps the metadata and values regions. The number of counters is
// bounded by whichever region is smaller.
func NewReader(meta, values []byte) *Reader {
	n := len(meta) / MetaDataLength
	if v := len(values) / ValueLength; v < n {
		n = v
	}
	return &Reader{meta: meta, values: values, max: int32(n)}
}

// MaxCounterID returns the number of slots in the registry.
func (r *Reader) MaxCounterID() int32 {
	return r.max
}

func (r *Reader) inRange(id int32) bool {
	return id >= 0 && id < r.max
}

// CounterState returns the record state of id. Out of range ids are unused.
func (r *Reader) CounterState(id int32) int32 {
	if !r.inRange(id) {
		return RecordUnused
	}
	return loadInt32(r.meta, MetaDataOffset(id)+StateOffset)
}

// CounterTypeID returns the type tag written when id was allocated.
func (r *Reader) CounterTypeID(id int32) int32 {
	if !r.inRange(id) {
		return 0
	}
	return getInt32(r.meta, MetaDataOffset(id)+TypeIDOffset)
}

// CounterKey returns a copy of the key region of id.
func (r *Reader) CounterKey(id int32) []byte {
	if !r.inRange(id) {
		return nil
	}
	off := MetaDataOffset(id) + KeyOffset
	key := make([]byte, MaxKeyLength)
	copy(key, r.meta[off:off+MaxKeyLength])
	return key
}

// CounterLabel returns the label of id.
func (r *Reader) CounterLabel(id int32) string {
	if !r.inRange(id) {
		return ""
	}
	off := MetaDataOffset(id)
	n := int(getInt32(r.meta, off+LabelLengthOffset))
	if n < 0 || n > MaxLabelLength {
		n = MaxLabelLength
	}
	return string(r.meta[off+LabelOffset : off+LabelOffset+n])
}

// FreeToReuseDeadline returns the epoch millis after which a reclaimed id may
// be allocated again.
func (r *Reader) FreeToReuseDeadline(id int32) int64 {
	if !r.inRange(id) {
		return NotFreeToReuse
	}
	return getInt64(r.meta, MetaDataOffset(id)+FreeToReuseDeadlineOffset)
}

// CounterValue returns the current value of id.
func (r *Reader) CounterValue(id int32) int64 {
	if !r.inRange(id) {
		return 0
	}
	return loadInt64(r.values, ValueOffsetOf(id)+ValueOffset)
}

// ForEach calls fn for every allocated counter in ascending id order until fn
// returns false.
func (r *Reader) ForEach(fn func(id, typeID int32, key []byte, label string) bool) {
	for id := int32(0); id < r.max; id++ {
		if r.CounterState(id) != RecordAllocated {
			continue
		}
		if !fn(id, r.CounterTypeID(id), r.CounterKey(id), r.CounterLabel(id)) {
			return
		}
	}
}

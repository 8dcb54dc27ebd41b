package counters

// Metadata record layout. All integers are little-endian, the byte order of
// every platform the mapped file is shared on.
//
//	0       4       8              16                       128     132                    512
//	+-------+-------+--------------+------------------------+-------+----------------------+
//	| state |typeId | reuse dline  | key (112 bytes)        | lblLen| label (380 bytes)    |
//	+-------+-------+--------------+------------------------+-------+----------------------+
const (
	MetaDataLength = 512
	ValueLength    = 128

	StateOffset               = 0
	TypeIDOffset              = 4
	FreeToReuseDeadlineOffset = 8
	KeyOffset                 = 16
	LabelLengthOffset         = 128
	LabelOffset               = LabelLengthOffset + 4
	MaxKeyLength              = LabelLengthOffset - KeyOffset
	MaxLabelLength            = MetaDataLength - LabelOffset
	ValueOffset               = 0
)

// NotFreeToReuse is the reuse deadline of an allocated record.
const NotFreeToReuse int64 = 1<<63 - 1

// Record states.
const (
	RecordUnused    int32 = 0
	RecordAllocated int32 = 1
	RecordReclaimed int32 = -1
)

// NullCounterID is returned by lookups that found nothing.
const NullCounterID int32 = -1

// MetaDataOffset returns the offset of the metadata record for id.
func MetaDataOffset(id int32) int {
	return int(id) * MetaDataLength
}

// ValueOffsetOf returns the offset of the value record for id.
func ValueOffsetOf(id int32) int {
	return int(id) * ValueLength
}

// NewBuffers allocates process-local metadata and values regions able to hold
// maxCounters counters.
func NewBuffers(maxCounters int) (meta, values []byte) {
	if maxCounters < 0 {
		maxCounters = 0
	}
	return make([]byte, maxCounters*MetaDataLength), make([]byte, maxCounters*ValueLength)
}

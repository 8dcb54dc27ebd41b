package counters

import "errors"

var (
	ErrAllocationFailed    = errors.New("counters: allocation failed")
	ErrCounterNotAllocated = errors.New("counters: counter not allocated")
	ErrInvalidFile         = errors.New("counters: invalid counters file")
	ErrReadOnly            = errors.New("counters: read-only mapping")
	ErrFileInUse           = errors.New("counters: file in use by another writer")
)

package counters

import (
	"sync/atomic"
)

// Counter is the owning handle of an allocated counter. The value is written
// through the shared values region, so readers mapping the same registry see
// updates without any further coordination.
type Counter struct {
	id      int32
	manager *Manager
	closed  atomic.Bool
}

func (c *Counter) ID() int32 {
	return c.id
}

func (c *Counter) offset() int {
	return ValueOffsetOf(c.id) + ValueOffset
}

// Get returns the current value.
func (c *Counter) Get() int64 {
	return loadInt64(c.manager.values, c.offset())
}

// Set stores v with release semantics.
func (c *Counter) Set(v int64) {
	storeInt64(c.manager.values, c.offset(), v)
}

// ProposeMax sets the value to v if v is greater than the current value and
// reports whether it did.
func (c *Counter) ProposeMax(v int64) bool {
	p := int64Ptr(c.manager.values, c.offset())
	for {
		cur := atomic.LoadInt64(p)
		if v <= cur {
			return false
		}
		if atomic.CompareAndSwapInt64(p, cur, v) {
			return true
		}
	}
}

// Label returns the label the counter was allocated with.
func (c *Counter) Label() string {
	return c.manager.CounterLabel(c.id)
}

// Close frees the counter. Only the first call has an effect.
func (c *Counter) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.manager.Free(c.id)
}

func (c *Counter) IsClosed() bool {
	return c.closed.Load()
}

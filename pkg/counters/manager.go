package counters

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zhangyunhao116/skipmap"
)

type freeSet = skipmap.FuncMap[int32, struct{}]

// DefaultFreeToReuseTimeout is how long a freed id stays out of circulation
// unless WithFreeToReuseTimeout says otherwise.
const DefaultFreeToReuseTimeout = time.Second

// Manager allocates and frees counters in a registry. Only one Manager may
// write to a given pair of regions; readers in other processes use Reader.
type Manager struct {
	*Reader

	mu   sync.Mutex
	free *freeSet
	// first id never handed out
	highWaterMark int32

	freeToReuseTimeout time.Duration
	now                func() time.Time
	log                *slog.Logger
}

type ManagerOption func(*Manager)

// WithFreeToReuseTimeout keeps a freed id out of circulation for d so that
// readers still holding it notice the change before it is reused. Zero makes
// an id reusable at once and is only safe without concurrent readers.
func WithFreeToReuseTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) { m.freeToReuseTimeout = d }
}

func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.log = l }
}

// NewManager builds a Manager over the given regions. Records left in the
// allocated or reclaimed state by a previous owner are picked up: reclaimed
// ids go back to the free set and the high water mark skips past both.
func NewManager(meta, values []byte, opts ...ManagerOption) *Manager {
	m := &Manager{
		Reader: NewReader(meta, values),
		free: skipmap.NewFunc[int32, struct{}](func(a, b int32) bool {
			return a < b
		}),
		freeToReuseTimeout: DefaultFreeToReuseTimeout,
		now:                time.Now,
		log:                slog.Default(),
	}
	for _, o := range opts {
		if o != nil {
			o(m)
		}
	}
	if m.freeToReuseTimeout < 0 {
		m.freeToReuseTimeout = 0
	}

	for id := int32(0); id < m.max; id++ {
		switch m.CounterState(id) {
		case RecordAllocated:
			m.highWaterMark = id + 1
		case RecordReclaimed:
			m.highWaterMark = id + 1
			m.free.Store(id, struct{}{})
		}
	}

	return m
}

// AddCounter allocates a counter with the given type tag, key and label and
// returns a handle to it. Keys longer than MaxKeyLength and labels longer
// than MaxLabelLength are truncated. ErrAllocationFailed is returned when no
// id is available.
func (m *Manager) AddCounter(typeID int32, key, label []byte) (*Counter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.nextCounterID()
	if !ok {
		return nil, fmt.Errorf("%w: type_id=%d max_counters=%d", ErrAllocationFailed, typeID, m.max)
	}

	off := MetaDataOffset(id)
	putInt32(m.meta, off+TypeIDOffset, typeID)
	putInt64(m.meta, off+FreeToReuseDeadlineOffset, NotFreeToReuse)

	keyRegion := m.meta[off+KeyOffset : off+KeyOffset+MaxKeyLength]
	clear(keyRegion)
	copy(keyRegion, key)

	n := copy(m.meta[off+LabelOffset:off+LabelOffset+MaxLabelLength], label)
	putInt32(m.meta, off+LabelLengthOffset, int32(n))

	storeInt64(m.values, ValueOffsetOf(id)+ValueOffset, 0)

	// публикуем запись последней: читатель видит state=allocated только после полей
	storeInt32(m.meta, off+StateOffset, RecordAllocated)

	m.log.Debug("counter allocated", "id", id, "type_id", typeID, "label", string(label[:n]))

	return &Counter{id: id, manager: m}, nil
}

// nextCounterID prefers the lowest reclaimed id whose reuse deadline passed.
func (m *Manager) nextCounterID() (int32, bool) {
	nowMs := m.now().UnixMilli()

	var (
		found int32
		ok    bool
	)
	m.free.Range(func(id int32, _ struct{}) bool {
		if m.FreeToReuseDeadline(id) <= nowMs {
			found, ok = id, true
			return false
		}
		return true
	})
	if ok {
		m.free.Delete(found)
		return found, true
	}

	if m.highWaterMark < m.max {
		id := m.highWaterMark
		m.highWaterMark++
		return id, true
	}

	return 0, false
}

// Free reclaims id. It fails with ErrCounterNotAllocated when id is not
// currently allocated.
func (m *Manager) Free(id int32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.CounterState(id) != RecordAllocated {
		return fmt.Errorf("%w: id=%d", ErrCounterNotAllocated, id)
	}

	off := MetaDataOffset(id)
	deadline := m.now().Add(m.freeToReuseTimeout).UnixMilli()
	putInt64(m.meta, off+FreeToReuseDeadlineOffset, deadline)
	storeInt32(m.meta, off+StateOffset, RecordReclaimed)
	m.free.Store(id, struct{}{})

	m.log.Debug("counter freed", "id", id, "reuse_deadline_ms", deadline)
	return nil
}

// Allocated returns the number of allocated counters.
func (m *Manager) Allocated() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int(m.highWaterMark) - m.free.Len()
}

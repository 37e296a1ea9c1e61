package viewers

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type streamCounter struct {
	mu       sync.Mutex
	live     int
	peak     int
	closedAt time.Time
}

func (sc *streamCounter) closed() bool { return !sc.closedAt.IsZero() }

// Counter caches the last observed live and peak viewer counts of each
// stream and remembers which streams have closed. The session store holds
// the authoritative count; the cache only gates joins and tracks the peak
// seen by this instance. Each entry has its own lock.
type Counter struct {
	mu      sync.RWMutex
	streams map[uuid.UUID]*streamCounter
}

// NewCounter creates an empty counter.
func NewCounter() *Counter {
	return &Counter{streams: make(map[uuid.UUID]*streamCounter)}
}

func (c *Counter) lookup(id uuid.UUID) *streamCounter {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.streams[id]
}

func (c *Counter) entry(id uuid.UUID) *streamCounter {
	if sc := c.lookup(id); sc != nil {
		return sc
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	sc, ok := c.streams[id]
	if !ok {
		sc = &streamCounter{}
		c.streams[id] = sc
	}
	return sc
}

// Open reports whether the stream still accepts joins.
func (c *Counter) Open(id uuid.UUID) bool {
	sc := c.lookup(id)
	if sc == nil {
		return true
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return !sc.closed()
}

// Observe stores a live count read from the session store and returns the
// resulting peak. ok is false once the stream is closed; the count is then
// left at zero. A zero count for an unknown stream creates no entry.
func (c *Counter) Observe(id uuid.UUID, live int) (peak int, ok bool) {
	if live <= 0 && c.lookup(id) == nil {
		return 0, true
	}
	sc := c.entry(id)
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.closed() {
		return sc.peak, false
	}
	if live < 0 {
		live = 0
	}
	sc.live = live
	if live > sc.peak {
		sc.peak = live
	}
	return sc.peak, true
}

// Snapshot returns the cached counts.
func (c *Counter) Snapshot(id uuid.UUID) (live, peak int) {
	sc := c.lookup(id)
	if sc == nil {
		return 0, 0
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.live, sc.peak
}

// Close zeroes the live count and rejects later joins. The peak is kept
// until the entry is evicted.
func (c *Counter) Close(id uuid.UUID, at time.Time) {
	sc := c.entry(id)
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.live = 0
	if !sc.closed() {
		sc.closedAt = at
	}
}

// Evict drops entries of streams closed before the cutoff and returns how
// many were removed. A stream never reopens once closed, so the join gate
// falls back to the stream status after eviction.
func (c *Counter) Evict(before time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for id, sc := range c.streams {
		sc.mu.Lock()
		stale := sc.closed() && sc.closedAt.Before(before)
		sc.mu.Unlock()
		if stale {
			delete(c.streams, id)
			n++
		}
	}
	return n
}

// Len returns the number of tracked streams.
func (c *Counter) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.streams)
}

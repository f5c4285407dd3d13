// ABOUTME: Thread-safe TTL set for request IDs, OAuth states and Matrix event IDs
// ABOUTME: Size-bounded with oldest-first eviction and background expiry

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// Bounds of the background sweep interval.
const (
	minSweepInterval = time.Second
	maxSweepInterval = time.Minute
)

type item struct {
	key    string
	marked time.Time
}

// Cache remembers keys for a fixed TTL. When full, the least recently marked
// key is dropped. The zero value is not usable; call New.
type Cache struct {
	mu      sync.Mutex
	items   map[string]*list.Element // element values are *item
	order   *list.List               // oldest mark at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	done   chan struct{}
	closed bool
}

// New creates a cache that remembers keys for ttl and holds at most maxSize
// keys. A background goroutine sweeps expired keys until Close is called.
func New(ttl time.Duration, maxSize int) *Cache {
	if maxSize < 1 {
		maxSize = 1
	}
	c := &Cache{
		items:   make(map[string]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go c.sweepLoop(sweepInterval(ttl))
	return c
}

func sweepInterval(ttl time.Duration) time.Duration {
	interval := ttl / 2
	if interval < minSweepInterval {
		return minSweepInterval
	}
	if interval > maxSweepInterval {
		return maxSweepInterval
	}
	return interval
}

// Check reports whether key was marked within the TTL.
func (c *Cache) Check(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.liveLocked(key)
	return ok
}

// CheckAndMark reports whether key is a duplicate. A key that is not live is
// marked in the same critical section, so exactly one concurrent caller sees false.
func (c *Cache) CheckAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.liveLocked(key); ok {
		return true
	}
	c.markLocked(key)
	return false
}

// Mark records key, refreshing its TTL if it is already present.
func (c *Cache) Mark(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markLocked(key)
}

// Take removes key and reports whether it was live. Used for one-shot
// tokens such as OAuth state values.
func (c *Cache) Take(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.liveLocked(key)
	if !ok {
		return false
	}
	c.removeLocked(elem)
	return true
}

// Len returns the number of stored keys, including expired ones not yet swept.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// liveLocked returns the element for key if it has not expired. Must be called with mu held.
func (c *Cache) liveLocked(key string) (*list.Element, bool) {
	elem, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(elem.Value.(*item).marked) >= c.ttl {
		return nil, false
	}
	return elem, true
}

// markLocked must be called with mu held.
func (c *Cache) markLocked(key string) {
	now := c.now()

	if elem, ok := c.items[key]; ok {
		elem.Value.(*item).marked = now
		c.order.MoveToBack(elem)
		return
	}

	for len(c.items) >= c.maxSize {
		c.removeLocked(c.order.Front())
	}
	c.items[key] = c.order.PushBack(&item{key: key, marked: now})
}

// removeLocked must be called with mu held.
func (c *Cache) removeLocked(elem *list.Element) {
	if elem == nil {
		return
	}
	c.order.Remove(elem)
	delete(c.items, elem.Value.(*item).key)
}

func (c *Cache) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

// sweep drops expired keys. The order list is sorted by mark time, so it
// stops at the first live key.
func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for elem := c.order.Front(); elem != nil; elem = c.order.Front() {
		if now.Sub(elem.Value.(*item).marked) < c.ttl {
			return
		}
		c.removeLocked(elem)
	}
}

// Close stops the background sweep. It is safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}

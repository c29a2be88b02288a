package loaders

import "sync"

// yearCache is a bounded FIFO cache of parsed year payloads for a single
// region. Query locality is by region: switching to a different region
// discards everything. When the cap is exceeded the oldest year is evicted
// first, so the eviction order follows insertion, not access.
type yearCache[T any] struct {
	mu     sync.Mutex
	region string
	max    int
	order  []int
	data   map[int]T
}

func newYearCache[T any](max int) *yearCache[T] {
	if max <= 0 {
		max = 6
	}
	return &yearCache[T]{
		max:  max,
		data: make(map[int]T),
	}
}

// get returns the cached payload for (regionID, year). A region change
// resets the cache and always misses.
func (c *yearCache[T]) get(regionID string, year int) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.region != regionID {
		c.resetLocked(regionID)
		var zero T
		return zero, false
	}
	v, ok := c.data[year]
	return v, ok
}

// put stores the payload for (regionID, year), evicting the oldest insertion
// when the cap is exceeded.
func (c *yearCache[T]) put(regionID string, year int, v T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.region != regionID {
		c.resetLocked(regionID)
	}
	if _, exists := c.data[year]; !exists {
		c.order = append(c.order, year)
	}
	c.data[year] = v
	for len(c.order) > c.max {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.data, oldest)
	}
}

func (c *yearCache[T]) resetLocked(regionID string) {
	c.region = regionID
	c.order = c.order[:0]
	c.data = make(map[int]T)
}

// len reports the number of cached years (for tests).
func (c *yearCache[T]) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

package cache

import (
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

type entry[C any] struct {
	value C
	epoch uint64
}

// ContextCache holds one context per key, tagged with its build epoch.
type ContextCache[C any] struct {
	epoch func() uint64

	mu      sync.Mutex
	entries map[Key]entry[C]
	group   singleflight.Group
}

// New creates a cache reading the current generation from epoch.
func New[C any](epoch func() uint64) *ContextCache[C] {
	return &ContextCache[C]{
		epoch:   epoch,
		entries: make(map[Key]entry[C]),
	}
}

// GetOrCreate returns the context cached for key if it was built under the
// current epoch. Otherwise factory builds a fresh one, which replaces the
// stale entry. Factory errors are returned and not cached.
func (c *ContextCache[C]) GetOrCreate(key Key, factory func() (C, error)) (C, error) {
	epoch := c.epoch()

	c.mu.Lock()
	if e, ok := c.entries[key]; ok && e.epoch == epoch {
		c.mu.Unlock()
		return e.value, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do(flightKey(key, epoch), func() (any, error) {
		// Another flight may have filled the entry while we waited.
		c.mu.Lock()
		if e, ok := c.entries[key]; ok && e.epoch == epoch {
			c.mu.Unlock()
			return e.value, nil
		}
		c.mu.Unlock()

		value, err := factory()
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		if cur, ok := c.entries[key]; !ok || cur.epoch <= epoch {
			c.entries[key] = entry[C]{value: value, epoch: epoch}
		}
		c.mu.Unlock()
		return value, nil
	})
	if err != nil {
		var zero C
		return zero, err
	}
	return v.(C), nil
}

// Invalidate drops every entry.
func (c *ContextCache[C]) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[Key]entry[C])
}

// Len returns the number of cached entries, stale ones included.
func (c *ContextCache[C]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func flightKey(key Key, epoch uint64) string {
	return fmt.Sprintf("%s\x00%x\x00%d", key.AuthContextID, key.Identity, epoch)
}

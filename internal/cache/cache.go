// Package cache memoizes resolved playback payloads for frequently repeated
// notification texts. It only affects latency: a cold cache is always
// correct, just slower.
package cache

import (
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"
)

const DefaultCapacity = 5000

// Stats is a point-in-time counter snapshot.
type Stats struct {
	Size      int    `json:"size"`
	Capacity  int    `json:"capacity"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
}

type entry struct {
	payload    string
	hits       uint64
	lastAccess time.Time
}

// Cache is a bounded least-frequently-used memoization store.
// Mutation happens on the consumer loop; the mutex covers Resize (config
// reload) and Stats (ping) racing with it.
type Cache struct {
	mu       sync.Mutex
	capacity int
	entries  map[uint64]*entry

	hits      uint64
	misses    uint64
	evictions uint64
}

func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{capacity: capacity, entries: map[uint64]*entry{}}
}

// Key hashes (normalized text, context hint). The same sentence with
// different whitespace or casing resolves to the same payload.
func Key(text, hint string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(normalize(text)))
	_, _ = h.Write([]byte("|"))
	_, _ = h.Write([]byte(hint))
	return h.Sum64()
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// GetOrCompute returns the cached payload for (text, hint), computing and
// inserting it on miss. On hit the compute function is not invoked. When
// inserting over capacity, the least-frequently-used entry (ties broken by
// oldest access) is evicted first.
func (c *Cache) GetOrCompute(text, hint string, now time.Time, compute func() (string, error)) (string, error) {
	k := Key(text, hint)

	c.mu.Lock()
	if e, ok := c.entries[k]; ok {
		e.hits++
		e.lastAccess = now
		c.hits++
		p := e.payload
		c.mu.Unlock()
		return p, nil
	}
	c.misses++
	c.mu.Unlock()

	// Compute outside the lock; playback resolution may do real work.
	payload, err := compute()
	if err != nil {
		return "", fmt.Errorf("cache: compute payload: %w", err)
	}

	c.mu.Lock()
	if _, ok := c.entries[k]; !ok {
		for len(c.entries) >= c.capacity {
			c.evictLocked()
		}
		c.entries[k] = &entry{payload: payload, hits: 1, lastAccess: now}
	}
	c.mu.Unlock()
	return payload, nil
}

// HitCount returns the hit counter for (text, hint); 0 when absent.
func (c *Cache) HitCount(text, hint string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[Key(text, hint)]; ok {
		return e.hits
	}
	return 0
}

// Resize adjusts capacity, evicting immediately if shrinking below the
// current size.
func (c *Cache) Resize(capacity int) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c.mu.Lock()
	c.capacity = capacity
	for len(c.entries) > c.capacity {
		c.evictLocked()
	}
	c.mu.Unlock()
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Size:      len(c.entries),
		Capacity:  c.capacity,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

// evictLocked removes the least-frequently-used entry, ties broken by the
// oldest last access. Linear scan, same shape as the original dedup prune.
func (c *Cache) evictLocked() {
	var (
		victimKey uint64
		victim    *entry
	)
	for k, e := range c.entries {
		if victim == nil || e.hits < victim.hits ||
			(e.hits == victim.hits && e.lastAccess.Before(victim.lastAccess)) {
			victimKey, victim = k, e
		}
	}
	if victim == nil {
		return
	}
	delete(c.entries, victimKey)
	c.evictions++
}

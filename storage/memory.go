package storage

import (
	"context"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// MemoryCache is an embedded Cache implementation backed by maps. Expiry is
// enforced lazily at read time and additionally by a periodic sweep. Values
// go through the same msgpack codec as the Redis backend so both behave
// identically for callers.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	sets    map[string]map[string]struct{}
	done    chan struct{}
	once    sync.Once
}

type memoryEntry struct {
	data       []byte
	expiration time.Time // zero means no expiry
}

const sweepInterval = time.Minute

// NewMemoryCache creates an in-memory cache and starts its sweep goroutine.
func NewMemoryCache() *MemoryCache {
	c := &MemoryCache{
		entries: make(map[string]memoryEntry),
		sets:    make(map[string]map[string]struct{}),
		done:    make(chan struct{}),
	}
	go c.sweep()
	return c
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiration.IsZero() && now.After(e.expiration)
}

// Set stores a value with a TTL. A zero TTL means no expiry.
func (c *MemoryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := msgpack.Marshal(value)
	if err != nil {
		return err
	}

	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}

	c.mu.Lock()
	c.entries[key] = memoryEntry{data: data, expiration: exp}
	c.mu.Unlock()
	return nil
}

// Get loads a value. Expired or missing keys return (false, nil).
func (c *MemoryCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	c.mu.RLock()
	entry, found := c.entries[key]
	c.mu.RUnlock()

	if !found || entry.expired(time.Now()) {
		return false, nil
	}

	if err := msgpack.Unmarshal(entry.data, dest); err != nil {
		return false, err
	}
	return true, nil
}

// SAdd adds members to a set. Sets do not expire.
func (c *MemoryCache) SAdd(ctx context.Context, set string, members ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sets[set]
	if !ok {
		s = make(map[string]struct{})
		c.sets[set] = s
	}
	for _, m := range members {
		s[m] = struct{}{}
	}
	return nil
}

// SMembers enumerates a set.
func (c *MemoryCache) SMembers(ctx context.Context, set string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	members := make([]string, 0, len(c.sets[set]))
	for m := range c.sets[set] {
		members = append(members, m)
	}
	return members, nil
}

// SCard returns the cardinality of a set.
func (c *MemoryCache) SCard(ctx context.Context, set string) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return int64(len(c.sets[set])), nil
}

// Ping always succeeds for the in-memory backend.
func (c *MemoryCache) Ping(ctx context.Context) error {
	return nil
}

// sweep removes expired entries periodically.
func (c *MemoryCache) sweep() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for key, entry := range c.entries {
				if entry.expired(now) {
					delete(c.entries, key)
				}
			}
			c.mu.Unlock()
		case <-c.done:
			return
		}
	}
}

// Close stops the sweep goroutine. Safe to call more than once.
func (c *MemoryCache) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

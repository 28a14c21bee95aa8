// Package cache stores synthesized audio keyed by request so duplicate jobs skip the provider.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// DefaultTTL is the entry lifetime when none is configured.
const DefaultTTL = 30 * time.Minute

// Config holds cache settings.
type Config struct {
	Capacity int           // total entries across all shards
	TTL      time.Duration // entry lifetime, independent of capacity pressure
	Shards   int
}

// Entry is a cached payload and its bookkeeping.
type Entry struct {
	Key        string
	Payload    []byte
	CreatedAt  time.Time
	LastAccess time.Time
	TTL        time.Duration
}

func (e *Entry) expired(now time.Time) bool {
	return e.TTL > 0 && now.Sub(e.CreatedAt) >= e.TTL
}

// Stats is a point-in-time view of cache counters.
type Stats struct {
	Len       int     `json:"len"`
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	Expired   int64   `json:"expired"`
	HitRate   float64 `json:"hit_rate"`
}

// Backing is an optional shared second tier, e.g. Redis.
type Backing interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now, used by tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithBacking adds a second tier consulted on L1 misses by Fetch and written by Store.
func WithBacking(b Backing) Option {
	return func(c *Cache) { c.backing = b }
}

type shard struct {
	mu  sync.Mutex
	lru *simplelru.LRU[string, *Entry]
}

// Cache is a sharded LRU with per-entry TTL. Each shard has its own lock,
// so operations on keys in different shards never contend.
type Cache struct {
	shards  []*shard
	ttl     time.Duration
	now     func() time.Time
	backing Backing
	logger  *slog.Logger

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
	expired   atomic.Int64
}

// New creates a cache. Capacity is split evenly across shards.
func New(cfg Config, opts ...Option) (*Cache, error) {
	if cfg.Capacity <= 0 {
		return nil, fmt.Errorf("cache capacity must be positive, got %d", cfg.Capacity)
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Shards <= 0 {
		cfg.Shards = 16
	}
	cfg.Shards = min(cfg.Shards, cfg.Capacity)

	c := &Cache{
		shards: make([]*shard, cfg.Shards),
		ttl:    cfg.TTL,
		now:    time.Now,
		logger: slog.Default().With("component", "cache"),
	}
	for _, opt := range opts {
		opt(c)
	}

	per := cfg.Capacity / cfg.Shards
	extra := cfg.Capacity % cfg.Shards
	for i := range c.shards {
		size := per
		if i < extra {
			size++
		}
		l, err := simplelru.NewLRU[string, *Entry](size, nil)
		if err != nil {
			return nil, fmt.Errorf("create shard %d: %w", i, err)
		}
		c.shards[i] = &shard{lru: l}
	}
	return c, nil
}

func (c *Cache) shardFor(key string) *shard {
	return c.shards[xxhash.Sum64String(key)%uint64(len(c.shards))]
}

// Get returns the payload for key. Expired entries are removed and reported as misses.
func (c *Cache) Get(key string) ([]byte, bool) {
	s := c.shardFor(key)
	now := c.now()

	s.mu.Lock()
	e, ok := s.lru.Get(key)
	if ok && e.expired(now) {
		s.lru.Remove(key)
		c.expired.Add(1)
		ok = false
	}
	if ok {
		e.LastAccess = now
	}
	s.mu.Unlock()

	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return e.Payload, true
}

// Put stores payload under key. Storing an existing key refreshes its payload and age.
func (c *Cache) Put(key string, payload []byte) {
	now := c.now()
	e := &Entry{
		Key:        key,
		Payload:    payload,
		CreatedAt:  now,
		LastAccess: now,
		TTL:        c.ttl,
	}

	s := c.shardFor(key)
	s.mu.Lock()
	evicted := s.lru.Add(key, e)
	s.mu.Unlock()

	if evicted {
		c.evictions.Add(1)
	}
}

// Fetch looks up L1, then the backing tier. Backing hits are promoted into L1.
// Backing errors are logged and treated as misses.
func (c *Cache) Fetch(ctx context.Context, key string) ([]byte, bool) {
	if payload, ok := c.Get(key); ok {
		return payload, true
	}
	if c.backing == nil {
		return nil, false
	}

	payload, ok, err := c.backing.Get(ctx, key)
	if err != nil {
		c.logger.Warn("backing cache lookup failed", "key", key, "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}

	c.Put(key, payload)
	// The L1 miss above was answered by the backing tier.
	c.misses.Add(-1)
	c.hits.Add(1)
	return payload, true
}

// Store writes to L1 and through to the backing tier.
func (c *Cache) Store(ctx context.Context, key string, payload []byte) {
	c.Put(key, payload)
	if c.backing == nil {
		return
	}
	if err := c.backing.Set(ctx, key, payload, c.ttl); err != nil {
		c.logger.Warn("backing cache write failed", "key", key, "error", err)
	}
}

// EvictExpired removes every expired entry and returns how many were removed.
func (c *Cache) EvictExpired() int {
	now := c.now()
	removed := 0

	for _, s := range c.shards {
		s.mu.Lock()
		for _, key := range s.lru.Keys() {
			// Peek keeps recency untouched.
			if e, ok := s.lru.Peek(key); ok && e.expired(now) {
				s.lru.Remove(key)
				removed++
			}
		}
		s.mu.Unlock()
	}

	c.expired.Add(int64(removed))
	return removed
}

// Len returns the number of physically present entries, expired ones included.
func (c *Cache) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.Lock()
		n += s.lru.Len()
		s.mu.Unlock()
	}
	return n
}

// Stats returns the current counters.
func (c *Cache) Stats() Stats {
	st := Stats{
		Len:       c.Len(),
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Expired:   c.expired.Load(),
	}
	if total := st.Hits + st.Misses; total > 0 {
		st.HitRate = float64(st.Hits) / float64(total)
	}
	return st
}

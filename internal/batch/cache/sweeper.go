package cache

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper purges expired cache entries on a fixed interval.
type Sweeper struct {
	cache    *Cache
	interval time.Duration
	logger   *slog.Logger
}

// NewSweeper creates a sweeper. A zero interval derives one from the cache TTL.
func NewSweeper(c *Cache, interval time.Duration) *Sweeper {
	if interval <= 0 {
		// 10% of the TTL, clamped to [1s, 5m]
		interval = min(c.ttl/10, 5*time.Minute)
		interval = max(interval, time.Second)
	}
	return &Sweeper{
		cache:    c,
		interval: interval,
		logger:   slog.Default().With("component", "cache-sweeper"),
	}
}

// Start runs the sweep loop until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep runs one pass and returns the number of purged entries.
func (s *Sweeper) Sweep() int {
	n := s.cache.EvictExpired()
	if n > 0 {
		s.logger.Debug("purged expired entries", "count", n, "remaining", s.cache.Len())
	}
	return n
}

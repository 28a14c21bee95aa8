package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned when another process owns the batch lock.
var ErrLockHeld = errors.New("batch lock held by another run")

// Client wraps Redis operations shared between batch runs.
type Client struct {
	rdb    *redis.Client
	prefix string
}

// Config holds Redis connection configuration.
type Config struct {
	URL      string `yaml:"url"      toml:"url"`
	Password string `yaml:"password" toml:"password"`
	Prefix   string `yaml:"prefix"   toml:"prefix"`
}

// NewClient creates a new Redis client.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewFromRedis(rdb, cfg.Prefix), nil
}

// NewFromRedis wraps an existing go-redis client.
func NewFromRedis(rdb *redis.Client, prefix string) *Client {
	if prefix == "" {
		prefix = "voicebatch"
	}
	return &Client{rdb: rdb, prefix: prefix}
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks the connection.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Key helpers
func (c *Client) audioKey(cacheKey string) string {
	return fmt.Sprintf("%s:audio:%s", c.prefix, cacheKey)
}

func (c *Client) lockKey(batch string) string {
	return fmt.Sprintf("%s:lock:%s", c.prefix, batch)
}

func (c *Client) failedKey(runID string) string {
	return fmt.Sprintf("%s:failed:%s", c.prefix, runID)
}

// AcquireLock takes the batch lock so two processes never run the same input at once.
// The lock expires after ttl unless refreshed.
func (c *Client) AcquireLock(ctx context.Context, batch, owner string, ttl time.Duration) error {
	ok, err := c.rdb.SetNX(ctx, c.lockKey(batch), owner, ttl).Result()
	if err != nil {
		return fmt.Errorf("setnx failed: %w", err)
	}
	if !ok {
		holder, _ := c.rdb.Get(ctx, c.lockKey(batch)).Result()
		return fmt.Errorf("%w: %s (owner %s)", ErrLockHeld, batch, holder)
	}
	return nil
}

// RefreshLock extends the TTL of a lock.
func (c *Client) RefreshLock(ctx context.Context, batch string, ttl time.Duration) error {
	return c.rdb.Expire(ctx, c.lockKey(batch), ttl).Err()
}

// ReleaseLock releases the lock if owner still holds it.
func (c *Client) ReleaseLock(ctx context.Context, batch, owner string) error {
	holder, err := c.rdb.Get(ctx, c.lockKey(batch)).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("get failed: %w", err)
	}
	if holder != owner {
		return nil
	}
	return c.rdb.Del(ctx, c.lockKey(batch)).Err()
}

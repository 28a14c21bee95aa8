package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// AudioCache is the shared second cache tier. It satisfies cache.Backing.
type AudioCache struct {
	client *Client
}

// NewAudioCache creates a Redis-backed audio cache.
func NewAudioCache(client *Client) *AudioCache {
	return &AudioCache{client: client}
}

// Get returns the payload stored under key.
func (a *AudioCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := a.client.rdb.Get(ctx, a.client.audioKey(key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get failed: %w", err)
	}
	return data, true, nil
}

// Set stores payload under key for ttl.
func (a *AudioCache) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	if err := a.client.rdb.Set(ctx, a.client.audioKey(key), payload, ttl).Err(); err != nil {
		return fmt.Errorf("set failed: %w", err)
	}
	return nil
}

// Clear deletes every cached payload under the client prefix and returns how many were removed.
func (a *AudioCache) Clear(ctx context.Context) (int64, error) {
	var (
		cursor  uint64
		removed int64
	)
	pattern := a.client.audioKey("*")
	for {
		keys, next, err := a.client.rdb.Scan(ctx, cursor, pattern, 500).Result()
		if err != nil {
			return removed, fmt.Errorf("scan failed: %w", err)
		}
		if len(keys) > 0 {
			n, err := a.client.rdb.Del(ctx, keys...).Result()
			if err != nil {
				return removed, fmt.Errorf("del failed: %w", err)
			}
			removed += n
		}
		if next == 0 {
			return removed, nil
		}
		cursor = next
	}
}

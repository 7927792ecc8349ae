package cost

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"eino_counsel/internal/storage"
)

// DefaultUsageKey is the Redis key holding the daily token total
const DefaultUsageKey = "usage:tokens:daily"

// RedisCounter shares the usage total across processes through the KV backend
type RedisCounter struct {
	kv  storage.KV
	key string
}

// NewRedisCounter creates a counter stored under key
func NewRedisCounter(kv storage.KV, key string) *RedisCounter {
	if key == "" {
		key = DefaultUsageKey
	}
	return &RedisCounter{kv: kv, key: key}
}

func (c *RedisCounter) Add(ctx context.Context, tokens int64) (int64, error) {
	n, err := c.kv.IncrBy(ctx, c.key, tokens)
	if err != nil {
		return 0, fmt.Errorf("failed to increment usage: %w", err)
	}
	return n, nil
}

func (c *RedisCounter) Load(ctx context.Context) (int64, error) {
	raw, err := c.kv.Get(ctx, c.key)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read usage: %w", err)
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid usage value %q: %w", raw, err)
	}
	return n, nil
}

func (c *RedisCounter) Reset(ctx context.Context) error {
	if err := c.kv.Del(ctx, c.key); err != nil {
		return fmt.Errorf("failed to reset usage: %w", err)
	}
	return nil
}

package statechannel

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisChannel implements Channel on Redis. The latest value of a key is a
// plain string; every write is also PUBLISHed on a pub/sub channel of the
// same name so gate controllers can react without polling. The audit key is
// a list.
type RedisChannel struct {
	rdb *redis.Client
}

// NewRedisChannel wraps an already connected client.
func NewRedisChannel(rdb *redis.Client) *RedisChannel {
	return &RedisChannel{rdb: rdb}
}

func (c *RedisChannel) Read(ctx context.Context, key string) (string, error) {
	v, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNoValue
	}
	if err != nil {
		return "", fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, nil
}

func (c *RedisChannel) Write(ctx context.Context, key, value string) error {
	_, err := c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, key, value, 0)
		p.Publish(ctx, key, value)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis write %s: %w", key, err)
	}
	return nil
}

func (c *RedisChannel) Append(ctx context.Context, key, value string) error {
	_, err := c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.RPush(ctx, key, value)
		p.Publish(ctx, key, value)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis append %s: %w", key, err)
	}
	return nil
}

func (c *RedisChannel) Close() error { return c.rdb.Close() }

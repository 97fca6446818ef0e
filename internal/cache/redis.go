package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	maxUpdateAttempts = 32
	scanBatch         = 200
)

// RedisBackend is the L2 tier on a shared Redis instance.
type RedisBackend struct {
	Client *redis.Client
}

func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{Client: client}
}

func (r *RedisBackend) Name() string { return "redis" }

// Setup bounds memory use with LRU eviction. Managed Redis often refuses
// CONFIG SET, so callers treat an error here as a warning.
func (r *RedisBackend) Setup(ctx context.Context, maxMemory string) error {
	if maxMemory != "" {
		if err := r.Client.ConfigSet(ctx, "maxmemory", maxMemory).Err(); err != nil {
			return fmt.Errorf("set maxmemory: %w", err)
		}
	}
	if err := r.Client.ConfigSet(ctx, "maxmemory-policy", "allkeys-lru").Err(); err != nil {
		return fmt.Errorf("set maxmemory-policy: %w", err)
	}
	return nil
}

func (r *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.Client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, nil
}

func (r *RedisBackend) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	if err := r.Client.Set(ctx, key, val, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (r *RedisBackend) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.Client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (r *RedisBackend) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	var cursor uint64
	deleted := 0
	match := escapeGlob(prefix) + "*"
	for {
		keys, next, err := r.Client.Scan(ctx, cursor, match, scanBatch).Result()
		if err != nil {
			return deleted, fmt.Errorf("redis scan %s: %w", match, err)
		}
		if len(keys) > 0 {
			n, err := r.Client.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, fmt.Errorf("redis del: %w", err)
			}
			deleted += int(n)
		}
		cursor = next
		if cursor == 0 {
			return deleted, nil
		}
	}
}

// Update runs an optimistic WATCH/MULTI transaction, retrying when another
// client modified the key between the read and the write.
func (r *RedisBackend) Update(ctx context.Context, key string, ttl time.Duration, fn func(old []byte, found bool) ([]byte, error)) ([]byte, error) {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		var out []byte
		err := r.Client.Watch(ctx, func(tx *redis.Tx) error {
			old, err := tx.Get(ctx, key).Bytes()
			found := true
			if errors.Is(err, redis.Nil) {
				found = false
			} else if err != nil {
				return err
			}

			next, err := fn(old, found)
			if err != nil {
				return computeError{err: err}
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, next, ttl)
				return nil
			})
			out = next
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			var ce computeError
			if errors.As(err, &ce) {
				return nil, err
			}
			return nil, fmt.Errorf("redis update %s: %w", key, err)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrContention, key)
}

func (r *RedisBackend) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := r.Client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", channel, err)
	}
	return nil
}

func (r *RedisBackend) Subscribe(ctx context.Context, channel string, handler func(payload []byte)) error {
	pubsub := r.Client.Subscribe(ctx, channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe %s: %w", channel, err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			handler([]byte(msg.Payload))
		}
	}
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteRune('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

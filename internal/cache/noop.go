package cache

import (
	"context"
	"time"
)

// NoopBackend always misses. It stands in for Redis when Redis is unreachable
// at startup so the service keeps working straight from the database.
type NoopBackend struct{}

func (NoopBackend) Name() string { return "noop" }

func (NoopBackend) Get(ctx context.Context, key string) ([]byte, error) {
	return nil, ErrMiss
}

func (NoopBackend) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	return nil
}

func (NoopBackend) Delete(ctx context.Context, keys ...string) error {
	return nil
}

func (NoopBackend) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	return 0, nil
}

func (NoopBackend) Update(ctx context.Context, key string, ttl time.Duration, fn func(old []byte, found bool) ([]byte, error)) ([]byte, error) {
	return fn(nil, false)
}

func (NoopBackend) Publish(ctx context.Context, channel string, payload []byte) error {
	return nil
}

func (NoopBackend) Subscribe(ctx context.Context, channel string, handler func(payload []byte)) error {
	<-ctx.Done()
	return nil
}

package cache

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrMiss is returned by Backend.Get when the key is absent or expired.
	ErrMiss = errors.New("cache miss")
	// ErrContention is returned when an optimistic Update keeps losing races.
	ErrContention = errors.New("cache update contention")
)

// Backend is the shared L2 tier. Implementations must be safe for concurrent use.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores val. A zero ttl means no expiry.
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	DeleteByPrefix(ctx context.Context, prefix string) (int, error)
	// Update atomically replaces the value at key with fn(old). fn may run
	// more than once when a concurrent writer wins the race.
	Update(ctx context.Context, key string, ttl time.Duration, fn func(old []byte, found bool) ([]byte, error)) ([]byte, error)
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe delivers messages to handler until ctx is cancelled.
	Subscribe(ctx context.Context, channel string, handler func(payload []byte)) error
	Name() string
}

// computeError carries an error raised by an Update callback through the
// backend so the coordinator can tell it apart from backend failures.
type computeError struct {
	err error
}

func (e computeError) Error() string { return e.err.Error() }
func (e computeError) Unwrap() error { return e.err }

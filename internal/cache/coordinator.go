package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"ms-checkin/internal/logger"
	"ms-checkin/internal/metrics"
)

// InvalidationChannel carries invalidation notices between service nodes.
const InvalidationChannel = "cache:invalidate"

// Coordinator fronts the L2 backend with the in-process L1 map. Backend
// failures are logged and treated as misses; they never fail the caller.
type Coordinator struct {
	l1     *Local
	l2     Backend
	sfg    singleflight.Group
	logger *logger.Logger
	nodeID string
}

func NewCoordinator(l2 Backend, log *logger.Logger) *Coordinator {
	if l2 == nil {
		l2 = NoopBackend{}
	}
	return &Coordinator{
		l1:     NewLocal(),
		l2:     l2,
		logger: log,
		nodeID: uuid.NewString(),
	}
}

func (c *Coordinator) NodeID() string { return c.nodeID }

func (c *Coordinator) Backend() Backend { return c.l2 }

func (c *Coordinator) Local() *Local { return c.l1 }

// Get returns the entry at key if it holds a payload of the requested kind.
func (c *Coordinator) Get(ctx context.Context, key string, kind Kind) (Entry, bool) {
	useL1 := l1Eligible(key)
	if useL1 {
		if e, ok := c.l1.Get(key); ok {
			if e.Kind == kind {
				metrics.CacheLookups.WithLabelValues("l1", "hit").Inc()
				return e, true
			}
			c.l1.Delete(key)
			c.shapeMismatch("l1", key, kind, e.Kind)
		} else {
			metrics.CacheLookups.WithLabelValues("l1", "miss").Inc()
		}
	}

	raw, err := c.l2.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			c.backendError("get", key, err)
		}
		metrics.CacheLookups.WithLabelValues("l2", "miss").Inc()
		return Entry{}, false
	}

	e, err := decode(raw)
	if err != nil {
		c.logger.Warn("CACHE", fmt.Sprintf("discarding undecodable entry %s: %v", key, err))
		metrics.CacheLookups.WithLabelValues("l2", "shape_mismatch").Inc()
		return Entry{}, false
	}
	if e.Kind != kind {
		c.shapeMismatch("l2", key, kind, e.Kind)
		return Entry{}, false
	}

	metrics.CacheLookups.WithLabelValues("l2", "hit").Inc()
	if useL1 {
		c.l1.Put(key, e)
	}
	return e, true
}

// Put writes through both tiers. ttl of DefaultTTL infers it from the key.
func (c *Coordinator) Put(ctx context.Context, key string, e Entry, ttl time.Duration) error {
	raw, err := encode(e)
	if err != nil {
		return err
	}
	if l1Eligible(key) {
		c.l1.Put(key, e)
	}
	if err := c.l2.Set(ctx, key, raw, resolveTTL(key, ttl)); err != nil {
		c.backendError("set", key, err)
		return err
	}
	return nil
}

// GetOrCompute returns the cached entry or runs compute once for all
// concurrent callers missing the same key, storing the result before return.
func (c *Coordinator) GetOrCompute(ctx context.Context, key string, kind Kind, ttl time.Duration, compute func(ctx context.Context) (Entry, error)) (Entry, error) {
	if e, ok := c.Get(ctx, key, kind); ok {
		return e, nil
	}

	v, err, _ := c.sfg.Do(key, func() (interface{}, error) {
		// Double-check after the singleflight barrier.
		if e, ok := c.Get(ctx, key, kind); ok {
			return e, nil
		}
		e, err := compute(ctx)
		if err != nil {
			return Entry{}, err
		}
		if e.Kind != kind {
			return Entry{}, fmt.Errorf("%w: computed %s for %s, want %s", ErrShapeMismatch, e.Kind, key, kind)
		}
		_ = c.Put(ctx, key, e, ttl)
		return e, nil
	})
	if err != nil {
		return Entry{}, err
	}
	return v.(Entry), nil
}

// Update atomically transforms the L2 entry at key. A missing entry, or one
// of another kind, reaches fn with found=false. When the backend fails, fn
// runs once against an empty entry and the result is returned unstored.
func (c *Coordinator) Update(ctx context.Context, key string, kind Kind, ttl time.Duration, fn func(cur Entry, found bool) (Entry, error)) (Entry, error) {
	var out Entry
	_, err := c.l2.Update(ctx, key, resolveTTL(key, ttl), func(old []byte, found bool) ([]byte, error) {
		cur, ok := Entry{}, false
		if found {
			if e, err := decode(old); err == nil && e.Kind == kind {
				cur, ok = e, true
			} else {
				metrics.CacheLookups.WithLabelValues("l2", "shape_mismatch").Inc()
			}
		}
		next, err := fn(cur, ok)
		if err != nil {
			return nil, err
		}
		if next.Kind != kind {
			return nil, fmt.Errorf("%w: update produced %s for %s", ErrShapeMismatch, next.Kind, key)
		}
		out = next
		return encode(next)
	})
	if err == nil {
		if l1Eligible(key) {
			c.l1.Put(key, out)
		}
		return out, nil
	}

	var ce computeError
	if errors.As(err, &ce) {
		return Entry{}, ce.err
	}
	if _, isNoop := c.l2.(NoopBackend); isNoop {
		return Entry{}, err
	}

	c.backendError("update", key, err)
	next, ferr := fn(Entry{}, false)
	if ferr != nil {
		return Entry{}, ferr
	}
	return next, nil
}

// Delete removes keys from both tiers on this node only.
func (c *Coordinator) Delete(ctx context.Context, keys ...string) {
	c.l1.Delete(keys...)
	if err := c.l2.Delete(ctx, keys...); err != nil {
		c.backendError("delete", strings.Join(keys, ","), err)
	}
}

// InvalidateByPrefix removes every entry under prefix from both tiers and
// returns how many entries were dropped across the two.
func (c *Coordinator) InvalidateByPrefix(ctx context.Context, prefix string) int {
	n := c.l1.DeleteByPrefix(prefix)
	removed, err := c.l2.DeleteByPrefix(ctx, prefix)
	if err != nil {
		c.backendError("delete_prefix", prefix, err)
	}
	c.publish(ctx, invalidation{Prefixes: []string{prefix}})
	return n + removed
}

func (c *Coordinator) shapeMismatch(tier, key string, want, got Kind) {
	metrics.CacheLookups.WithLabelValues(tier, "shape_mismatch").Inc()
	c.logger.Warn("CACHE", fmt.Sprintf("%s entry %s holds %s, expected %s; treating as miss", tier, key, got, want))
}

func (c *Coordinator) backendError(op, key string, err error) {
	metrics.CacheBackendErrors.WithLabelValues(op).Inc()
	c.logger.Warn("CACHE", fmt.Sprintf("%s backend %s %s failed: %v", c.l2.Name(), op, key, err))
}

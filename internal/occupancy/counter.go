// Package occupancy keeps the live "people inside" count per event.
//
// Each event gets its own actor goroutine that serializes deltas for that
// event. The count itself lives in the shared cache and is updated with an
// optimistic read-modify-write, so several service nodes can apply deltas
// to the same event without losing updates. When the cached snapshot is
// missing or has expired it is rebuilt from the attendee table.
package occupancy

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"ms-checkin/internal/broadcast"
	"ms-checkin/internal/cache"
	"ms-checkin/internal/clock"
	"ms-checkin/internal/logger"
	"ms-checkin/internal/metrics"
	"ms-checkin/internal/models"
)

type Direction int

const (
	Entry Direction = 1
	Exit  Direction = -1
)

func (d Direction) String() string {
	if d == Exit {
		return "exit"
	}
	return "entry"
}

const (
	DefaultIdleTimeout = 5 * time.Minute
	inboxSize          = 64
)

var ErrClosed = errors.New("occupancy counter closed")

// Store is the slice of the durable store the counter recounts from.
type Store interface {
	GetEvent(ctx context.Context, id int64) (*models.Event, error)
	CountInside(ctx context.Context, eventID int64) (int, error)
	CountEntriesExits(ctx context.Context, eventID int64) (int, int, error)
	CountInsideByEntrance(ctx context.Context, eventID int64) (map[string]int, error)
}

type op int

const (
	opDelta op = iota
	opSnapshot
	opReconcile
)

type request struct {
	ctx   context.Context
	op    op
	delta int
	reply chan result
}

type result struct {
	snap models.OccupancySnapshot
	err  error
}

type actor struct {
	eventID int64
	inbox   chan request
	pending int
}

type Counter struct {
	store       Store
	cache       *cache.Coordinator
	broadcaster broadcast.Broadcaster
	logger      *logger.Logger
	clock       clock.Clock
	idle        time.Duration

	mu     sync.Mutex
	actors map[int64]*actor
	done   chan struct{}
	closed bool
	wg     sync.WaitGroup
}

type Option func(*Counter)

func WithIdleTimeout(d time.Duration) Option {
	return func(c *Counter) { c.idle = d }
}

func WithClock(cl clock.Clock) Option {
	return func(c *Counter) { c.clock = cl }
}

func NewCounter(store Store, cc *cache.Coordinator, b broadcast.Broadcaster, log *logger.Logger, opts ...Option) *Counter {
	if b == nil {
		b = broadcast.Nop{}
	}
	c := &Counter{
		store:       store,
		cache:       cc,
		broadcaster: b,
		logger:      log,
		clock:       clock.Real(),
		idle:        DefaultIdleTimeout,
		actors:      make(map[int64]*actor),
		done:        make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Increment applies one entry or exit and returns the new inside count.
func (c *Counter) Increment(ctx context.Context, eventID int64, dir Direction) (int, error) {
	snap, err := c.submit(ctx, eventID, request{op: opDelta, delta: int(dir)})
	if err != nil {
		return 0, err
	}
	return snap.Inside, nil
}

// Snapshot returns the cached snapshot, rebuilding it from the store on a miss.
func (c *Counter) Snapshot(ctx context.Context, eventID int64) (models.OccupancySnapshot, error) {
	return c.submit(ctx, eventID, request{op: opSnapshot})
}

// Reconcile discards the cached snapshot and recounts from the store.
func (c *Counter) Reconcile(ctx context.Context, eventID int64) (models.OccupancySnapshot, error) {
	return c.submit(ctx, eventID, request{op: opReconcile})
}

// Breakdown adds per-entrance inside counts to the snapshot.
func (c *Counter) Breakdown(ctx context.Context, eventID int64) (models.OccupancyBreakdown, error) {
	e, err := c.cache.GetOrCompute(ctx, cache.BreakdownKey(eventID), cache.KindBreakdown, cache.DefaultTTL,
		func(ctx context.Context) (cache.Entry, error) {
			snap, err := c.Snapshot(ctx, eventID)
			if err != nil {
				return cache.Entry{}, err
			}
			byEntrance, err := c.store.CountInsideByEntrance(ctx, eventID)
			if err != nil {
				return cache.Entry{}, fmt.Errorf("count by entrance: %w", err)
			}
			return cache.BreakdownEntry(models.OccupancyBreakdown{OccupancySnapshot: snap, ByEntrance: byEntrance}), nil
		})
	if err != nil {
		return models.OccupancyBreakdown{}, err
	}
	return *e.Breakdown, nil
}

// Close stops every actor and waits for them to exit.
func (c *Counter) Close() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
	c.mu.Unlock()
	c.wg.Wait()
}

// ActiveActors reports how many event actors are running.
func (c *Counter) ActiveActors() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.actors)
}

func (c *Counter) submit(ctx context.Context, eventID int64, req request) (models.OccupancySnapshot, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return models.OccupancySnapshot{}, ErrClosed
	}
	a, ok := c.actors[eventID]
	if !ok {
		a = &actor{eventID: eventID, inbox: make(chan request, inboxSize)}
		c.actors[eventID] = a
		c.wg.Add(1)
		go c.run(a)
	}
	// An actor only retires while nobody is about to send to it.
	a.pending++
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		a.pending--
		c.mu.Unlock()
	}()

	req.ctx = ctx
	req.reply = make(chan result, 1)

	select {
	case a.inbox <- req:
	case <-ctx.Done():
		return models.OccupancySnapshot{}, ctx.Err()
	case <-c.done:
		return models.OccupancySnapshot{}, ErrClosed
	}

	select {
	case res := <-req.reply:
		return res.snap, res.err
	case <-ctx.Done():
		return models.OccupancySnapshot{}, ctx.Err()
	}
}

func (c *Counter) run(a *actor) {
	defer c.wg.Done()
	idle := time.NewTimer(c.idle)
	defer idle.Stop()

	for {
		select {
		case req := <-a.inbox:
			snap, err := c.handle(req.ctx, a.eventID, req)
			req.reply <- result{snap: snap, err: err}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(c.idle)

		case <-idle.C:
			c.mu.Lock()
			if a.pending == 0 && len(a.inbox) == 0 {
				delete(c.actors, a.eventID)
				c.mu.Unlock()
				return
			}
			c.mu.Unlock()
			idle.Reset(c.idle)

		case <-c.done:
			for {
				select {
				case req := <-a.inbox:
					req.reply <- result{err: ErrClosed}
				default:
					return
				}
			}
		}
	}
}

func (c *Counter) handle(ctx context.Context, eventID int64, req request) (models.OccupancySnapshot, error) {
	if err := ctx.Err(); err != nil {
		return models.OccupancySnapshot{}, err
	}

	key := cache.OccupancyKey(eventID)
	e, err := c.cache.Update(ctx, key, cache.KindOccupancy, cache.TTLOccupancy, func(cur cache.Entry, found bool) (cache.Entry, error) {
		if !found || req.op == opReconcile {
			// The store already reflects every committed change, this one included.
			snap, err := c.recount(ctx, eventID)
			if err != nil {
				return cache.Entry{}, err
			}
			return cache.OccupancyEntry(snap), nil
		}
		snap := *cur.Occupancy
		if req.op == opDelta {
			snap.Apply(req.delta, c.clock.Now())
		}
		return cache.OccupancyEntry(snap), nil
	})
	if err != nil {
		c.logger.Error("OCCUPANCY", fmt.Sprintf("event %d: %v", eventID, err))
		return models.OccupancySnapshot{}, err
	}

	snap := *e.Occupancy
	metrics.OccupancyInside.WithLabelValues(strconv.FormatInt(eventID, 10)).Set(float64(snap.Inside))

	if req.op != opSnapshot {
		c.cache.Delete(ctx, cache.BreakdownKey(eventID))
		msg := broadcast.Message{
			Channel: broadcast.OccupancyChannel(eventID),
			EventID: eventID,
			Kind:    broadcast.KindOccupancy,
			Payload: snap,
			SentAt:  c.clock.Now(),
		}
		if err := c.broadcaster.Broadcast(ctx, msg); err != nil {
			c.logger.Warn("OCCUPANCY", fmt.Sprintf("broadcast for event %d failed: %v", eventID, err))
		}
	}
	return snap, nil
}

func (c *Counter) recount(ctx context.Context, eventID int64) (models.OccupancySnapshot, error) {
	inside, err := c.store.CountInside(ctx, eventID)
	if err != nil {
		return models.OccupancySnapshot{}, fmt.Errorf("count inside: %w", err)
	}
	entries, exits, err := c.store.CountEntriesExits(ctx, eventID)
	if err != nil {
		return models.OccupancySnapshot{}, fmt.Errorf("count entries: %w", err)
	}
	capacity := 0
	if ev, err := c.store.GetEvent(ctx, eventID); err == nil {
		capacity = ev.Capacity
	}

	snap := models.OccupancySnapshot{
		EventID:      eventID,
		Inside:       inside,
		TotalEntries: entries,
		TotalExits:   exits,
		Capacity:     capacity,
	}
	snap.Recompute(c.clock.Now())
	c.logger.Debug("OCCUPANCY", fmt.Sprintf("event %d recounted: %d inside", eventID, inside))
	return snap, nil
}

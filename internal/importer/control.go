package importer

import (
	"context"
	"errors"
	"sync"
)

var ErrCancelled = errors.New("sync cancelled")

const (
	StateRunning   = "running"
	StatePaused    = "paused"
	StateCancelled = "cancelled"
)

// Control lets an operator pause, resume or cancel a running sync. The
// syncer only observes it between pages, so a page in flight always
// finishes or fails as a whole.
type Control struct {
	mu      sync.Mutex
	paused  bool
	resumed chan struct{}
	cancel  chan struct{}
	once    sync.Once
}

func NewControl() *Control {
	return &Control{cancel: make(chan struct{})}
}

func (c *Control) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.paused {
		c.paused = true
		c.resumed = make(chan struct{})
	}
}

func (c *Control) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused {
		c.paused = false
		close(c.resumed)
	}
}

func (c *Control) Cancel() {
	c.once.Do(func() { close(c.cancel) })
}

func (c *Control) State() string {
	select {
	case <-c.cancel:
		return StateCancelled
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused {
		return StatePaused
	}
	return StateRunning
}

// Wait blocks while the sync is paused. It returns ErrCancelled once Cancel
// has been called, or the context error if ctx ends first.
func (c *Control) Wait(ctx context.Context) error {
	for {
		select {
		case <-c.cancel:
			return ErrCancelled
		default:
		}

		c.mu.Lock()
		paused, resumed := c.paused, c.resumed
		c.mu.Unlock()
		if !paused {
			return nil
		}

		select {
		case <-resumed:
		case <-c.cancel:
			return ErrCancelled
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Package breaker implements the circuit breaker guarding calls to the
// upstream ticketing API.
//
// A single mutex gates admission and records outcomes. The guarded function
// itself always runs outside the gate, so a slow upstream never blocks other
// callers from being admitted or failed fast.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ms-checkin/internal/clock"
	"ms-checkin/internal/metrics"
)

type State int

const (
	Closed State = iota
	HalfOpen
	Open
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case HalfOpen:
		return "half_open"
	case Open:
		return "open"
	default:
		return "unknown"
	}
}

const (
	DefaultFailureThreshold = 3
	DefaultOpenTimeout      = 10 * time.Second
)

// ErrCircuitOpen is returned without invoking the guarded function.
var ErrCircuitOpen = errors.New("circuit_open")

type Settings struct {
	FailureThreshold int
	OpenTimeout      time.Duration
	Clock            clock.Clock
	// OnStateChange runs after the transition, outside the gate.
	OnStateChange func(name string, from, to State)
}

type Breaker struct {
	name      string
	threshold int
	timeout   time.Duration
	clock     clock.Clock
	onChange  func(name string, from, to State)

	mu         sync.Mutex
	state      State
	failures   int
	generation uint64
	openedAt   time.Time
	timer      clock.Timer
}

type transition struct {
	from, to State
}

func New(name string, s Settings) *Breaker {
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = DefaultFailureThreshold
	}
	if s.OpenTimeout <= 0 {
		s.OpenTimeout = DefaultOpenTimeout
	}
	if s.Clock == nil {
		s.Clock = clock.Real()
	}
	return &Breaker{
		name:      name,
		threshold: s.FailureThreshold,
		timeout:   s.OpenTimeout,
		clock:     s.Clock,
		onChange:  s.OnStateChange,
	}
}

func (b *Breaker) Name() string { return b.name }

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures is the consecutive failure count while closed.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Execute runs fn if the breaker admits the call. Any non-nil error other
// than one wrapped with Ignore counts as a failure, as does a panic in fn.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	gen, err := b.admit()
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("breaker %s: recovered panic: %v", b.name, r)
		}
		b.record(gen, err)
	}()

	return fn(ctx)
}

func (b *Breaker) admit() (uint64, error) {
	b.mu.Lock()
	var changes []transition
	if b.state == Open && !b.clock.Now().Before(b.openedAt.Add(b.timeout)) {
		// The scheduled transition has not run yet but the window is over.
		changes = append(changes, b.setState(HalfOpen))
	}
	state, gen := b.state, b.generation
	b.mu.Unlock()
	b.notify(changes)

	if state == Open {
		metrics.BreakerRejections.WithLabelValues(b.name).Inc()
		return 0, ErrCircuitOpen
	}
	return gen, nil
}

func (b *Breaker) record(gen uint64, err error) {
	b.mu.Lock()
	if gen != b.generation {
		// Admitted under a previous state; its outcome no longer applies.
		b.mu.Unlock()
		return
	}

	var changes []transition
	if !IsFailure(err) {
		switch b.state {
		case Closed:
			b.failures = 0
		case HalfOpen:
			changes = append(changes, b.setState(Closed))
		}
	} else {
		switch b.state {
		case Closed:
			b.failures++
			if b.failures >= b.threshold {
				changes = append(changes, b.trip())
			}
		case HalfOpen:
			changes = append(changes, b.trip())
		}
	}
	b.mu.Unlock()
	b.notify(changes)
}

// trip opens the breaker and schedules the move to half-open. Caller holds mu.
func (b *Breaker) trip() transition {
	t := b.setState(Open)
	b.openedAt = b.clock.Now()
	gen := b.generation
	b.timer = b.clock.AfterFunc(b.timeout, func() {
		b.mu.Lock()
		var changes []transition
		if b.state == Open && b.generation == gen {
			changes = append(changes, b.setState(HalfOpen))
		}
		b.mu.Unlock()
		b.notify(changes)
	})
	return t
}

// setState moves to a new state and starts a new generation. Caller holds mu.
func (b *Breaker) setState(to State) transition {
	from := b.state
	b.state = to
	b.failures = 0
	b.generation++
	if b.timer != nil && to != Open {
		b.timer.Stop()
		b.timer = nil
	}
	return transition{from: from, to: to}
}

func (b *Breaker) notify(changes []transition) {
	for _, c := range changes {
		metrics.BreakerState.WithLabelValues(b.name).Set(float64(c.to))
		if b.onChange != nil {
			b.onChange(b.name, c.from, c.to)
		}
	}
}

type ignoredError struct {
	err error
}

func (e ignoredError) Error() string { return e.err.Error() }
func (e ignoredError) Unwrap() error { return e.err }

// Ignore marks err as not counting against the breaker. Use it for responses
// that arrived intact but carried an unexpected payload.
func Ignore(err error) error {
	if err == nil {
		return nil
	}
	return ignoredError{err: err}
}

func IsFailure(err error) bool {
	if err == nil {
		return false
	}
	var ig ignoredError
	return !errors.As(err, &ig)
}

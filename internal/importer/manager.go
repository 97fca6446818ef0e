package importer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"ms-checkin/internal/logger"
)

var (
	ErrSyncRunning    = errors.New("a sync is already running for this event")
	ErrSyncNotRunning = errors.New("no sync is running for this event")
)

// Status is what the API reports about an event's current or last sync.
type Status struct {
	EventID int64   `json:"event_id"`
	State   string  `json:"state"`
	Report  *Report `json:"report,omitempty"`
	Error   string  `json:"error,omitempty"`
}

type job struct {
	ctl    *Control
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager runs at most one sync per event in the background.
type Manager struct {
	syncer *Syncer
	logger *logger.Logger

	mu   sync.Mutex
	jobs map[int64]*job
	last map[int64]Status
	wg   sync.WaitGroup
}

func NewManager(s *Syncer, log *logger.Logger) *Manager {
	return &Manager{
		syncer: s,
		logger: log,
		jobs:   make(map[int64]*job),
		last:   make(map[int64]Status),
	}
}

func (m *Manager) Start(eventID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[eventID]; ok {
		return ErrSyncRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	j := &job{ctl: NewControl(), cancel: cancel, done: make(chan struct{})}
	m.jobs[eventID] = j
	delete(m.last, eventID)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer close(j.done)
		defer cancel()

		report, err := m.syncer.Run(ctx, eventID, j.ctl)
		st := Status{EventID: eventID, State: "finished", Report: &report}
		switch {
		case err != nil:
			st.State = "failed"
			st.Error = err.Error()
			m.logger.Error("SYNC", fmt.Sprintf("event %d: %v", eventID, err))
		case report.Cancelled:
			st.State = StateCancelled
		}

		m.mu.Lock()
		delete(m.jobs, eventID)
		m.last[eventID] = st
		m.mu.Unlock()
	}()
	return nil
}

func (m *Manager) Pause(eventID int64) error {
	return m.with(eventID, func(j *job) { j.ctl.Pause() })
}

func (m *Manager) Resume(eventID int64) error {
	return m.with(eventID, func(j *job) { j.ctl.Resume() })
}

func (m *Manager) Cancel(eventID int64) error {
	return m.with(eventID, func(j *job) { j.ctl.Cancel() })
}

func (m *Manager) Status(eventID int64) (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[eventID]; ok {
		return Status{EventID: eventID, State: j.ctl.State()}, true
	}
	st, ok := m.last[eventID]
	return st, ok
}

// Wait blocks until the running sync for eventID, if any, has finished.
func (m *Manager) Wait(eventID int64) {
	m.mu.Lock()
	j, ok := m.jobs[eventID]
	m.mu.Unlock()
	if ok {
		<-j.done
	}
}

// Shutdown cancels every running sync and waits for them to unwind.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	for _, j := range m.jobs {
		j.ctl.Cancel()
		j.cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Manager) with(eventID int64, fn func(j *job)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[eventID]
	if !ok {
		return ErrSyncNotRunning
	}
	fn(j)
	return nil
}

package checkin

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/uptrace/bun"

	"ms-checkin/internal/broadcast"
	"ms-checkin/internal/cache"
	"ms-checkin/internal/checkin/db"
	"ms-checkin/internal/clock"
	"ms-checkin/internal/logger"
	"ms-checkin/internal/metrics"
	"ms-checkin/internal/models"
	"ms-checkin/internal/occupancy"
)

const (
	CodeSuccess         = "SUCCESS"
	CodeCheckedOut      = "CHECKED_OUT"
	CodeManualEntry     = "MANUAL_ENTRY"
	CodeCountersReset   = "COUNTERS_RESET"
	CodeInvalid         = "INVALID"
	CodeDuplicate       = "DUPLICATE"
	CodeAlreadyInside   = "ALREADY_INSIDE"
	CodeLimitExceeded   = "LIMIT_EXCEEDED"
	CodeReentryDenied   = "REENTRY_NOT_ALLOWED"
	CodeNotCheckedIn    = "NOT_CHECKED_IN"
	CodeSessionNotFound = "SESSION_NOT_FOUND"
	CodeInUseElsewhere  = "TICKET_IN_USE_ELSEWHERE"
	CodeValidation      = "VALIDATION_ERROR"
	CodeEventArchived   = "EVENT_ARCHIVED"
	CodeOutsideWindow   = "OUTSIDE_WINDOW"
	CodeEntranceLimit   = "ENTRANCE_LIMIT"
	CodeError           = "ERROR"
)

const (
	asyncTimeout         = 10 * time.Second
	systemOperator       = "system"
	inUseElsewhereNotice = "Ticket is being scanned at another entrance, please retry"
)

// Result is what every engine operation returns to the scanner. Rejections
// are results, not errors.
type Result struct {
	OK          bool             `json:"ok"`
	Code        string           `json:"code"`
	Message     string           `json:"message"`
	Attendee    *models.Attendee `json:"attendee,omitempty"`
	CheckedInAt *time.Time       `json:"checked_in_at,omitempty"`
}

// Store is the durable store as seen by the engine. Lock* and the bun.IDB
// variants run inside the transaction handed out by RunInTx.
type Store interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx bun.Tx) error) error
	LockAttendee(ctx context.Context, tx bun.Tx, eventID int64, ticketCode string) (*models.Attendee, error)
	GetAttendee(ctx context.Context, eventID int64, ticketCode string) (*models.Attendee, error)
	UpdateAttendee(ctx context.Context, idb bun.IDB, a *models.Attendee, columns ...string) error
	CountInsideAtEntrance(ctx context.Context, idb bun.IDB, eventID int64, entrance string) (int, error)
	LockOpenSession(ctx context.Context, tx bun.Tx, attendeeID int64) (*models.CheckInSession, error)
	InsertSession(ctx context.Context, tx bun.Tx, s *models.CheckInSession) error
	RefreshSession(ctx context.Context, tx bun.Tx, s *models.CheckInSession) error
	CloseSession(ctx context.Context, tx bun.Tx, s *models.CheckInSession) error
	InsertAudit(ctx context.Context, a *models.CheckInAudit) error
	GetEvent(ctx context.Context, id int64) (*models.Event, error)
	ListCheckInConfigs(ctx context.Context, eventID int64) ([]models.CheckInConfig, error)
	EventStats(ctx context.Context, eventID int64) (*models.EventStats, error)
	ListEvents(ctx context.Context) ([]models.Event, error)
	ListAttendees(ctx context.Context, eventID int64) ([]models.Attendee, error)
	ListAudits(ctx context.Context, eventID int64, ticketCode string) ([]models.CheckInAudit, error)
}

type Occupancy interface {
	Increment(ctx context.Context, eventID int64, dir occupancy.Direction) (int, error)
	Breakdown(ctx context.Context, eventID int64) (models.OccupancyBreakdown, error)
}

type Service struct {
	Store     Store
	Cache     *cache.Coordinator
	Occupancy Occupancy
	Broadcast broadcast.Broadcaster
	Logger    *logger.Logger
	Clock     clock.Clock
	// Location renders HH:MM in scanner messages and bounds daily/weekly/monthly counters.
	Location *time.Location

	wg sync.WaitGroup
}

func NewService(store Store, cc *cache.Coordinator, occ Occupancy, b broadcast.Broadcaster, log *logger.Logger) *Service {
	if b == nil {
		b = broadcast.Nop{}
	}
	return &Service{
		Store:     store,
		Cache:     cc,
		Occupancy: occ,
		Broadcast: b,
		Logger:    log,
		Clock:     clock.Real(),
		Location:  time.UTC,
	}
}

// Wait blocks until background occupancy and stats work has drained.
func (s *Service) Wait() {
	s.wg.Wait()
}

// scan identifies one engine call for auditing, logging and metrics.
type scan struct {
	op       string
	eventID  int64
	code     string
	entrance string
	operator string
}

// rejection is a business outcome raised from inside a transaction so the
// transaction rolls back. An empty audit status skips the audit row.
type rejection struct {
	code     string
	audit    string
	message  string
	attendee *models.Attendee
	at       *time.Time
}

func (r *rejection) Error() string { return r.code + ": " + r.message }

func reject(code, audit, message string, a *models.Attendee) *rejection {
	return &rejection{code: code, audit: audit, message: message, attendee: a}
}

func (s *Service) now() time.Time {
	return s.Clock.Now().UTC()
}

func (s *Service) hhmm(t *time.Time) string {
	if t == nil {
		return "--:--"
	}
	loc := s.Location
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("15:04")
}

// observe records the outcome of one operation and turns a panic into ERROR.
// It must be deferred directly so recover sees the panic.
func (s *Service) observe(sc scan, res *Result) {
	if r := recover(); r != nil {
		s.Logger.Error("CHECKIN", fmt.Sprintf("%s %d/%s panicked: %v", sc.op, sc.eventID, sc.code, r))
		*res = Result{Code: CodeError, Message: "Check-in failed, please retry"}
		s.audit(context.Background(), sc, nil, models.AuditError, fmt.Sprintf("internal error: %v", r))
	}
	metrics.CheckinOutcomes.WithLabelValues(sc.op, res.Code).Inc()
	s.Logger.LogCheckin(sc.op, sc.eventID, sc.code, res.Code+" "+res.Message)
}

// fail converts an error from validation, lookup or the transaction into a
// Result and audits it.
func (s *Service) fail(ctx context.Context, sc scan, err error) Result {
	var rej *rejection
	switch {
	case errors.As(err, &rej):
		s.audit(ctx, sc, rej.attendee, rej.audit, rej.message)
		return Result{Code: rej.code, Message: rej.message, Attendee: rej.attendee, CheckedInAt: rej.at}
	case errors.Is(err, db.ErrLockTimeout):
		s.audit(ctx, sc, nil, models.AuditError, "lock timeout")
		return Result{Code: CodeInUseElsewhere, Message: inUseElsewhereNotice}
	default:
		s.Logger.Error("CHECKIN", fmt.Sprintf("%s %d/%s: %v", sc.op, sc.eventID, sc.code, err))
		s.audit(ctx, sc, nil, models.AuditError, err.Error())
		return Result{Code: CodeError, Message: "Check-in failed, please retry"}
	}
}

// audit appends an audit row after the transaction has finished. Failures
// are logged and never change the scan result.
func (s *Service) audit(ctx context.Context, sc scan, a *models.Attendee, status, message string) {
	if status == "" {
		return
	}
	row := &models.CheckInAudit{
		EventID:    sc.eventID,
		TicketCode: sc.code,
		Entrance:   sc.entrance,
		Operator:   sc.operator,
		Status:     status,
		Message:    message,
		CreatedAt:  s.now(),
	}
	if a != nil {
		id := a.ID
		row.AttendeeID = &id
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), asyncTimeout)
	defer cancel()
	if err := s.Store.InsertAudit(ctx, row); err != nil {
		s.Logger.Error("AUDIT", fmt.Sprintf("%s %d/%s: %v", status, sc.eventID, sc.code, err))
	}
}

// async runs fn in the background, detached from the caller's cancellation.
func (s *Service) async(ctx context.Context, name string, fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.Logger.Error("CHECKIN", fmt.Sprintf("%s panicked: %v", name, r))
			}
		}()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), asyncTimeout)
		defer cancel()
		fn(ctx)
	}()
}

// committed runs the post-commit steps shared by every state change: cache
// invalidation first, then occupancy and stats in the background, then the
// audit row, then a notification for live dashboards.
func (s *Service) committed(ctx context.Context, sc scan, a *models.Attendee, dir *occupancy.Direction, status, message string) {
	s.Cache.InvalidateAttendee(ctx, sc.eventID, sc.code)

	if dir != nil && s.Occupancy != nil {
		d := *dir
		s.async(ctx, "occupancy", func(ctx context.Context) {
			if _, err := s.Occupancy.Increment(ctx, sc.eventID, d); err != nil {
				s.Logger.Warn("OCCUPANCY", fmt.Sprintf("event %d %s: %v", sc.eventID, d, err))
			}
		})
	}

	s.audit(ctx, sc, a, status, message)
	s.refreshStats(ctx, sc.eventID)

	msg := broadcast.Message{
		Channel: broadcast.CheckinChannel(sc.eventID),
		EventID: sc.eventID,
		Kind:    broadcast.KindCheckin,
		Payload: map[string]string{
			"operation":   sc.op,
			"ticket_code": sc.code,
			"entrance":    sc.entrance,
			"status":      status,
		},
		SentAt: s.now(),
	}
	s.async(ctx, "notify", func(ctx context.Context) {
		if err := s.Broadcast.Broadcast(ctx, msg); err != nil {
			s.Logger.Warn("BROADCAST", fmt.Sprintf("%s: %v", msg.Channel, err))
		}
	})
}

// refreshStats recomputes the event's stats in the background, stores them
// in the cache and pushes them to dashboards.
func (s *Service) refreshStats(ctx context.Context, eventID int64) {
	s.async(ctx, "stats", func(ctx context.Context) {
		stats, err := s.Store.EventStats(ctx, eventID)
		if err != nil {
			s.Logger.Warn("STATS", fmt.Sprintf("event %d: %v", eventID, err))
			return
		}
		_ = s.Cache.Put(ctx, cache.StatsKey(eventID), cache.StatsEntry(*stats), cache.DefaultTTL)
		err = s.Broadcast.Broadcast(ctx, broadcast.Message{
			Channel: broadcast.StatsChannel(eventID),
			EventID: eventID,
			Kind:    broadcast.KindStats,
			Payload: stats,
			SentAt:  s.now(),
		})
		if err != nil {
			s.Logger.Warn("BROADCAST", fmt.Sprintf("stats %d: %v", eventID, err))
		}
	})
}

// event returns the cached event record.
func (s *Service) event(ctx context.Context, eventID int64) (*models.Event, error) {
	e, err := s.Cache.GetOrCompute(ctx, cache.EventKey(eventID), cache.KindEvent, cache.DefaultTTL, func(ctx context.Context) (cache.Entry, error) {
		ev, err := s.Store.GetEvent(ctx, eventID)
		if err != nil {
			return cache.Entry{}, err
		}
		return cache.EventEntry(ev), nil
	})
	if err != nil {
		return nil, err
	}
	return e.Event, nil
}

// attendee returns the cached attendee record. The result is shared with
// the cache and must not be modified.
func (s *Service) attendee(ctx context.Context, eventID int64, code string) (*models.Attendee, error) {
	e, err := s.Cache.GetOrCompute(ctx, cache.AttendeeKey(eventID, code), cache.KindAttendee, cache.DefaultTTL, func(ctx context.Context) (cache.Entry, error) {
		a, err := s.Store.GetAttendee(ctx, eventID, code)
		if err != nil {
			return cache.Entry{}, err
		}
		return cache.AttendeeEntry(a), nil
	})
	if err != nil {
		return nil, err
	}
	return e.Attendee, nil
}

// admit rejects scans for unknown or archived events before any lock is taken.
func (s *Service) admit(ctx context.Context, eventID int64) error {
	ev, err := s.event(ctx, eventID)
	if errors.Is(err, db.ErrNotFound) {
		return reject(CodeInvalid, models.AuditInvalid, "Event not found", nil)
	}
	if err != nil {
		return fmt.Errorf("load event: %w", err)
	}
	if ev.IsArchived(s.Clock.Now()) {
		return reject(CodeEventArchived, models.AuditInvalid, "Event is archived", nil)
	}
	return nil
}

// known rejects ticket codes that do not exist, using the cached record.
func (s *Service) known(ctx context.Context, eventID int64, code string) (*models.Attendee, error) {
	a, err := s.attendee(ctx, eventID, code)
	if errors.Is(err, db.ErrNotFound) {
		return nil, reject(CodeInvalid, models.AuditInvalid, "Ticket not found", nil)
	}
	if err != nil {
		return nil, fmt.Errorf("load attendee: %w", err)
	}
	return a, nil
}

func lockAttendee(ctx context.Context, store Store, tx bun.Tx, eventID int64, code string) (*models.Attendee, error) {
	a, err := store.LockAttendee(ctx, tx, eventID, code)
	if errors.Is(err, db.ErrNotFound) {
		return nil, reject(CodeInvalid, models.AuditInvalid, "Ticket not found", nil)
	}
	return a, err
}

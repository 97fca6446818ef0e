// Package importer pulls events and tickets from the upstream ticketing
// platform into the local store.
package importer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"ms-checkin/internal/cache"
	"ms-checkin/internal/checkin/db"
	"ms-checkin/internal/clock"
	"ms-checkin/internal/logger"
	"ms-checkin/internal/metrics"
	"ms-checkin/internal/models"
	"ms-checkin/internal/upstream"
)

const DefaultPerPage = 100

var (
	ErrEventArchived = errors.New("event is archived")
	ErrNoCredentials = errors.New("event has no upstream credentials")
)

type Store interface {
	GetEvent(ctx context.Context, id int64) (*models.Event, error)
	UpsertEvent(ctx context.Context, e *models.Event) error
	UpdateEventStatus(ctx context.Context, id int64, status string, from ...string) error
	ListCheckInConfigs(ctx context.Context, eventID int64) ([]models.CheckInConfig, error)
	UpsertCheckInConfigs(ctx context.Context, batch []models.CheckInConfig) error
	UpsertAttendees(ctx context.Context, batch []models.Attendee) (int, error)
}

// Report summarizes one sync run. Pages and Tickets count only what was
// committed, so a cancelled run reports exactly what it left behind.
type Report struct {
	EventID     int64     `json:"event_id"`
	Pages       int       `json:"pages"`
	Tickets     int       `json:"tickets"`
	TicketTypes int       `json:"ticket_types"`
	Cancelled   bool      `json:"cancelled"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	// UpstreamInside is the platform's own inside count after the run, nil
	// when it could not be read.
	UpstreamInside *int `json:"upstream_inside,omitempty"`
}

type Syncer struct {
	Store    Store
	Upstream upstream.Client
	Cache    *cache.Coordinator
	Logger   *logger.Logger
	Clock    clock.Clock
	PerPage  int
}

func NewSyncer(store Store, up upstream.Client, cc *cache.Coordinator, log *logger.Logger) *Syncer {
	return &Syncer{
		Store:    store,
		Upstream: up,
		Cache:    cc,
		Logger:   log,
		Clock:    clock.Real(),
		PerPage:  DefaultPerPage,
	}
}

// Run synchronizes one event. The event is marked syncing for the duration
// and returned to active on every exit path, unless it was archived in the
// meantime. Archival is terminal: the run stops before the next page is
// stored and the event stays archived.
func (s *Syncer) Run(ctx context.Context, eventID int64, ctl *Control) (Report, error) {
	if ctl == nil {
		ctl = NewControl()
	}
	report := Report{EventID: eventID, StartedAt: s.Clock.Now().UTC()}

	ev, err := s.Store.GetEvent(ctx, eventID)
	if err != nil {
		return report, fmt.Errorf("load event %d: %w", eventID, err)
	}
	if ev.IsArchived(s.Clock.Now()) {
		return report, ErrEventArchived
	}
	if ev.SiteURL == "" || ev.APIKey == "" {
		return report, ErrNoCredentials
	}

	cred := upstream.Credentials{SiteURL: ev.SiteURL, APIKey: ev.APIKey}
	if err := s.Upstream.CheckCredentials(ctx, cred); err != nil {
		return s.finish(report), fmt.Errorf("check credentials: %w", err)
	}

	err = s.Store.UpdateEventStatus(ctx, eventID, models.EventStatusSyncing,
		models.EventStatusActive, models.EventStatusSyncing)
	if errors.Is(err, db.ErrStatusConflict) {
		return report, ErrEventArchived
	}
	if err != nil {
		return report, fmt.Errorf("mark event %d syncing: %w", eventID, err)
	}
	s.Cache.InvalidateEventConfig(ctx, eventID)
	defer s.restore(eventID)

	s.Logger.LogSync(eventID, "sync started")

	ess, err := s.Upstream.GetEventEssentials(ctx, cred)
	if err != nil {
		return s.finish(report), fmt.Errorf("fetch event essentials: %w", err)
	}
	if err := s.applyEssentials(ctx, ev, ess); err != nil {
		return s.finish(report), err
	}
	report.TicketTypes = len(ess.TicketTypes)

	allowedByType := make(map[int64]int, len(ess.TicketTypes))
	for _, tt := range ess.TicketTypes {
		allowedByType[tt.ID] = allowance(tt.AllowedCheckins, nil)
	}

	perPage := s.PerPage
	if perPage <= 0 {
		perPage = DefaultPerPage
	}
	for page := 1; ; page++ {
		if err := ctl.Wait(ctx); err != nil {
			if errors.Is(err, ErrCancelled) {
				report.Cancelled = true
				s.Logger.LogSync(eventID, fmt.Sprintf("sync cancelled after %d pages", report.Pages))
				return s.finish(report), nil
			}
			return s.finish(report), err
		}

		tp, err := s.Upstream.GetTicketsInfo(ctx, cred, perPage, page)
		if err != nil {
			return s.finish(report), fmt.Errorf("fetch tickets page %d: %w", page, err)
		}
		if len(tp.Tickets) == 0 {
			break
		}
		if err := s.stillOpen(ctx, eventID); err != nil {
			s.Logger.LogSync(eventID, fmt.Sprintf("sync stopped after %d pages: %v", report.Pages, err))
			return s.finish(report), err
		}

		batch := make([]models.Attendee, 0, len(tp.Tickets))
		for _, t := range tp.Tickets {
			batch = append(batch, toAttendee(eventID, t, allowedByType))
		}
		if _, err := s.Store.UpsertAttendees(ctx, batch); err != nil {
			return s.finish(report), fmt.Errorf("store tickets page %d: %w", page, err)
		}
		report.Pages++
		report.Tickets += len(batch)
		metrics.SyncedTickets.WithLabelValues(strconv.FormatInt(eventID, 10)).Add(float64(len(batch)))
		s.Cache.InvalidateEventAttendees(ctx, eventID)

		if tp.TotalPages > 0 && page >= tp.TotalPages {
			break
		}
	}

	if occ, err := s.Upstream.GetEventOccupancy(ctx, cred); err != nil {
		s.Logger.Warn("SYNC", fmt.Sprintf("event %d upstream occupancy: %v", eventID, err))
	} else {
		report.UpstreamInside = &occ.Inside
		if ev.Capacity <= 0 && occ.Capacity > 0 {
			ev.Capacity = occ.Capacity
		}
	}

	now := s.Clock.Now().UTC()
	ev.LastSyncedAt = &now
	if err := s.Store.UpsertEvent(ctx, ev); err != nil {
		return s.finish(report), fmt.Errorf("record sync time: %w", err)
	}
	s.Logger.LogSync(eventID, fmt.Sprintf("sync finished: %d tickets in %d pages", report.Tickets, report.Pages))
	return s.finish(report), nil
}

func (s *Syncer) applyEssentials(ctx context.Context, ev *models.Event, ess *upstream.EventEssentials) error {
	if ess.Name != "" {
		ev.Name = ess.Name
	}
	if !ess.StartDate.IsZero() {
		ev.StartDate = ess.StartDate
	}
	if !ess.EndDate.IsZero() {
		ev.EndDate = ess.EndDate
	}
	ev.TotalTickets = ess.TotalTickets
	ev.Capacity = ess.Capacity
	if err := s.Store.UpsertEvent(ctx, ev); err != nil {
		return fmt.Errorf("store event essentials: %w", err)
	}

	existing, err := s.Store.ListCheckInConfigs(ctx, ev.ID)
	if err != nil {
		return fmt.Errorf("load check-in configs: %w", err)
	}
	limits := make(map[int64]map[string]int, len(existing))
	for _, c := range existing {
		limits[c.TicketTypeID] = c.EntranceLimits
	}

	configs := make([]models.CheckInConfig, 0, len(ess.TicketTypes))
	for _, tt := range ess.TicketTypes {
		allowed := allowance(tt.AllowedCheckins, nil)
		configs = append(configs, models.CheckInConfig{
			EventID:         ev.ID,
			TicketTypeID:    tt.ID,
			TicketType:      tt.Label,
			AllowedCheckins: allowed,
			AllowReentry:    tt.AllowReentry,
			ValidFrom:       tt.ValidFrom,
			ValidUntil:      tt.ValidUntil,
			// Entrance limits are set locally and survive a resync.
			EntranceLimits: limits[tt.ID],
		})
	}
	if err := s.Store.UpsertCheckInConfigs(ctx, configs); err != nil {
		return err
	}
	s.Cache.InvalidateEventConfig(ctx, ev.ID)
	return nil
}

// restore puts a syncing event back to active even when the run's context
// is gone. An event archived during the run is left archived.
func (s *Syncer) restore(eventID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.Store.UpdateEventStatus(ctx, eventID, models.EventStatusActive, models.EventStatusSyncing)
	switch {
	case errors.Is(err, db.ErrStatusConflict):
		s.Logger.LogSync(eventID, "event archived during sync, status left as is")
	case err != nil:
		s.Logger.Error("SYNC", fmt.Sprintf("restore event %d to active: %v", eventID, err))
	}
	s.Cache.InvalidateEventConfig(ctx, eventID)
}

// stillOpen re-reads the event so an archival during the run stops it.
func (s *Syncer) stillOpen(ctx context.Context, eventID int64) error {
	ev, err := s.Store.GetEvent(ctx, eventID)
	if err != nil {
		return fmt.Errorf("reload event %d: %w", eventID, err)
	}
	if ev.IsArchived(s.Clock.Now()) {
		return ErrEventArchived
	}
	return nil
}

// TicketStatus asks the platform for one ticket's detailed status, for
// operators comparing a disputed scan against the source of truth.
func (s *Syncer) TicketStatus(ctx context.Context, eventID int64, checksum string) (*upstream.TicketStatus, error) {
	ev, err := s.Store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("load event %d: %w", eventID, err)
	}
	if ev.SiteURL == "" || ev.APIKey == "" {
		return nil, ErrNoCredentials
	}
	return s.Upstream.GetTicketDetailedStatus(ctx, upstream.Credentials{SiteURL: ev.SiteURL, APIKey: ev.APIKey}, checksum)
}

func (s *Syncer) finish(r Report) Report {
	r.FinishedAt = s.Clock.Now().UTC()
	return r
}

// allowance resolves an upstream allowance. A missing or negative value
// falls back to the ticket type's, then to a single entry. Zero is kept.
func allowance(v *int, fallback *int) int {
	switch {
	case v != nil && *v >= 0:
		return *v
	case fallback != nil:
		return *fallback
	default:
		return 1
	}
}

func toAttendee(eventID int64, t upstream.TicketInfo, allowedByType map[int64]int) models.Attendee {
	var typeAllowed *int
	if n, ok := allowedByType[t.TicketTypeID]; ok {
		typeAllowed = &n
	}
	allowed := allowance(t.AllowedCheckins, typeAllowed)
	return models.Attendee{
		EventID:           eventID,
		TicketCode:        t.Code,
		HolderName:        t.HolderName,
		Email:             t.Email,
		TicketType:        t.TicketType,
		TicketTypeID:      t.TicketTypeID,
		AllowedCheckins:   allowed,
		CheckinsRemaining: allowed,
	}
}

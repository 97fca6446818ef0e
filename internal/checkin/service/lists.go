package checkin

import (
	"context"

	"ms-checkin/internal/cache"
	"ms-checkin/internal/models"
)

// ListEvents returns every event, newest first. The list is shared by all
// dashboards and dropped whenever an event's config is invalidated.
func (s *Service) ListEvents(ctx context.Context) ([]models.Event, error) {
	e, err := s.Cache.GetOrCompute(ctx, cache.KeyEventsAll, cache.KindEventList, cache.DefaultTTL, func(ctx context.Context) (cache.Entry, error) {
		events, err := s.Store.ListEvents(ctx)
		if err != nil {
			return cache.Entry{}, err
		}
		return cache.EventListEntry(events), nil
	})
	if err != nil {
		return nil, err
	}
	return e.Events, nil
}

// ListAttendees returns the event's attendee roster. Every committed scan
// drops the cached copy, so the roster lags a scan by at most one request.
func (s *Service) ListAttendees(ctx context.Context, eventID int64) ([]models.Attendee, error) {
	e, err := s.Cache.GetOrCompute(ctx, cache.AttendeesKey(eventID), cache.KindAttendeeList, cache.DefaultTTL, func(ctx context.Context) (cache.Entry, error) {
		list, err := s.Store.ListAttendees(ctx, eventID)
		if err != nil {
			return cache.Entry{}, err
		}
		return cache.AttendeeListEntry(list), nil
	})
	if err != nil {
		return nil, err
	}
	return e.Attendees, nil
}

// AuditTrail reads straight from the append-only audit table.
func (s *Service) AuditTrail(ctx context.Context, eventID int64, code string) ([]models.CheckInAudit, error) {
	return s.Store.ListAudits(ctx, eventID, code)
}

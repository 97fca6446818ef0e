// Package checkin is the check-in transaction engine. Every scan that
// changes an attendee runs in one short transaction holding the attendee's
// row lock; cache invalidation, auditing, occupancy and dashboards follow
// after commit.
package checkin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"ms-checkin/internal/checkin/db"
	"ms-checkin/internal/models"
	"ms-checkin/internal/occupancy"
)

// attendeeState lists every column a scan may change.
var attendeeState = []string{
	"checkins_remaining",
	"allowed_checkins",
	"checked_in_at",
	"last_checked_in_at",
	"checked_out_at",
	"is_currently_inside",
	"daily_scan_count",
	"weekly_scan_count",
	"monthly_scan_count",
	"last_checked_in_date",
	"last_entrance",
	"manual_entry",
	"notes",
}

// CheckIn is the basic scan: a ticket with check-ins left is admitted and
// one is consumed, otherwise it is a duplicate.
func (s *Service) CheckIn(ctx context.Context, eventID int64, code, entrance, operator string) (res Result) {
	sc := scan{op: "checkin", eventID: eventID, code: code, entrance: entrance, operator: operator}
	defer s.observe(sc, &res)

	if err := validateScan(code, entrance); err != nil {
		return s.fail(ctx, sc, err)
	}
	if err := s.admit(ctx, eventID); err != nil {
		return s.fail(ctx, sc, err)
	}
	if _, err := s.known(ctx, eventID, code); err != nil {
		return s.fail(ctx, sc, err)
	}

	var (
		updated   *models.Attendee
		wasInside bool
	)
	err := s.Store.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		a, err := lockAttendee(ctx, s.Store, tx, eventID, code)
		if err != nil {
			return err
		}
		if a.CheckedInAt != nil && a.CheckinsRemaining <= 0 {
			rej := reject(CodeDuplicate, models.AuditDuplicate,
				fmt.Sprintf("Already checked in at %s", s.hhmm(a.CheckedInAt)), a)
			rej.at = a.CheckedInAt
			return rej
		}

		wasInside = a.IsCurrentlyInside
		now := s.now()
		s.enter(a, now, entrance)
		if err := s.Store.UpdateAttendee(ctx, tx, a, attendeeState...); err != nil {
			return err
		}
		if err := s.openSession(ctx, tx, a, wasInside, entrance, now); err != nil {
			return err
		}
		updated = a
		return nil
	})
	if err != nil {
		return s.fail(ctx, sc, err)
	}

	s.committed(ctx, sc, updated, entryUnless(wasInside), models.AuditSuccess,
		fmt.Sprintf("Checked in at %s", s.hhmm(updated.LastCheckedInAt)))
	return Result{
		OK:          true,
		Code:        CodeSuccess,
		Message:     fmt.Sprintf("Welcome, %s", displayName(updated)),
		Attendee:    updated,
		CheckedInAt: updated.CheckedInAt,
	}
}

// CheckInAdvanced applies the ticket type's config: validity window,
// re-entry policy, remaining allowance and per-entrance capacity.
func (s *Service) CheckInAdvanced(ctx context.Context, eventID int64, code, checkInType, entrance, operator string) (res Result) {
	sc := scan{op: "checkin_advanced", eventID: eventID, code: code, entrance: entrance, operator: operator}
	defer s.observe(sc, &res)

	if err := validateScan(code, entrance); err != nil {
		return s.fail(ctx, sc, err)
	}
	if err := s.admit(ctx, eventID); err != nil {
		return s.fail(ctx, sc, err)
	}
	known, err := s.known(ctx, eventID, code)
	if err != nil {
		return s.fail(ctx, sc, err)
	}

	label := checkInType
	if label == "" {
		label = known.TicketType
	}
	cfg, err := s.Cache.ConfigFor(ctx, eventID, known.TicketTypeID, label, s.Store.ListCheckInConfigs)
	if err != nil {
		return s.fail(ctx, sc, fmt.Errorf("load check-in config: %w", err))
	}

	var updated *models.Attendee
	err = s.Store.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		a, err := lockAttendee(ctx, s.Store, tx, eventID, code)
		if err != nil {
			return err
		}
		now := s.now()

		if cfg != nil {
			a.AllowedCheckins = cfg.AllowedCheckins
			if a.CheckinsRemaining > cfg.AllowedCheckins {
				a.CheckinsRemaining = cfg.AllowedCheckins
			}
			if cfg.ValidFrom != nil && now.Before(*cfg.ValidFrom) {
				return reject(CodeOutsideWindow, models.AuditInvalid,
					fmt.Sprintf("Check-in opens at %s", s.hhmm(cfg.ValidFrom)), a)
			}
			if cfg.ValidUntil != nil && now.After(*cfg.ValidUntil) {
				return reject(CodeOutsideWindow, models.AuditInvalid,
					fmt.Sprintf("Check-in closed at %s", s.hhmm(cfg.ValidUntil)), a)
			}
		}

		if a.IsCurrentlyInside {
			rej := reject(CodeAlreadyInside, models.AuditDuplicate,
				fmt.Sprintf("Already inside since %s", s.hhmm(a.LastCheckedInAt)), a)
			rej.at = a.CheckedInAt
			return rej
		}
		if a.CheckedInAt != nil && cfg != nil && !cfg.AllowReentry {
			rej := reject(CodeReentryDenied, models.AuditDuplicate,
				fmt.Sprintf("Re-entry not allowed, first checked in at %s", s.hhmm(a.CheckedInAt)), a)
			rej.at = a.CheckedInAt
			return rej
		}
		if a.CheckinsRemaining <= 0 {
			used := a.AllowedCheckins - a.CheckinsRemaining
			return reject(CodeLimitExceeded, models.AuditDuplicate,
				fmt.Sprintf("No check-ins remaining (%d of %d used)", used, a.AllowedCheckins), a)
		}

		if cfg != nil && entrance != "" {
			if limit := cfg.EntranceLimits[entrance]; limit > 0 {
				n, err := s.Store.CountInsideAtEntrance(ctx, tx, eventID, entrance)
				if err != nil {
					return err
				}
				if n >= limit {
					return reject(CodeEntranceLimit, models.AuditInvalid,
						fmt.Sprintf("Entrance %s is at capacity (%d/%d)", entrance, n, limit), a)
				}
			}
		}

		s.enter(a, now, entrance)
		if err := s.Store.UpdateAttendee(ctx, tx, a, attendeeState...); err != nil {
			return err
		}
		if err := s.openSession(ctx, tx, a, false, entrance, now); err != nil {
			return err
		}
		updated = a
		return nil
	})
	if err != nil {
		return s.fail(ctx, sc, err)
	}

	entry := occupancy.Entry
	s.committed(ctx, sc, updated, &entry, models.AuditSuccess, remainingNote(updated))
	return Result{
		OK:          true,
		Code:        CodeSuccess,
		Message:     fmt.Sprintf("Welcome, %s. %s", displayName(updated), remainingNote(updated)),
		Attendee:    updated,
		CheckedInAt: updated.CheckedInAt,
	}
}

// enter applies an admitted scan to the locked row.
func (s *Service) enter(a *models.Attendee, now time.Time, entrance string) {
	if a.CheckinsRemaining > 0 && !a.Unlimited() {
		a.CheckinsRemaining--
	}
	if a.CheckedInAt == nil {
		a.CheckedInAt = &now
	}
	a.LastCheckedInAt = &now
	a.CheckedOutAt = nil
	a.IsCurrentlyInside = true
	if entrance != "" {
		a.LastEntrance = entrance
	}
	s.countScan(a, now)
}

// countScan bumps the daily, weekly and monthly scan counters, starting each
// over when its period has rolled since the previous scan.
func (s *Service) countScan(a *models.Attendee, now time.Time) {
	loc := s.Location
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	today := local.Format(time.DateOnly)

	last, err := time.ParseInLocation(time.DateOnly, a.LastCheckedInDate, loc)
	if err != nil {
		a.DailyScanCount, a.WeeklyScanCount, a.MonthlyScanCount = 0, 0, 0
	} else {
		if a.LastCheckedInDate != today {
			a.DailyScanCount = 0
		}
		ly, lw := last.ISOWeek()
		ny, nw := local.ISOWeek()
		if ly != ny || lw != nw {
			a.WeeklyScanCount = 0
		}
		if last.Year() != local.Year() || last.Month() != local.Month() {
			a.MonthlyScanCount = 0
		}
	}
	a.DailyScanCount++
	a.WeeklyScanCount++
	a.MonthlyScanCount++
	a.LastCheckedInDate = today
}

// openSession keeps exactly one open session per attendee. A new stay opens
// one; a stale open session left by a missed exit scan is moved to this
// entry; a scan while already inside keeps the current session.
func (s *Service) openSession(ctx context.Context, tx bun.Tx, a *models.Attendee, wasInside bool, entrance string, now time.Time) error {
	open, err := s.Store.LockOpenSession(ctx, tx, a.ID)
	switch {
	case err == nil:
		if wasInside {
			return nil
		}
		open.EntranceIn = entrance
		open.EnteredAt = now
		return s.Store.RefreshSession(ctx, tx, open)
	case errors.Is(err, db.ErrNotFound):
		return s.Store.InsertSession(ctx, tx, &models.CheckInSession{
			EventID:    a.EventID,
			AttendeeID: a.ID,
			EntranceIn: entrance,
			EnteredAt:  now,
		})
	default:
		return err
	}
}

func entryUnless(inside bool) *occupancy.Direction {
	if inside {
		return nil
	}
	d := occupancy.Entry
	return &d
}

func displayName(a *models.Attendee) string {
	if a.HolderName != "" {
		return a.HolderName
	}
	return a.TicketCode
}

func remainingNote(a *models.Attendee) string {
	if a.Unlimited() {
		return "Unlimited check-ins"
	}
	return fmt.Sprintf("%d of %d check-ins remaining", a.CheckinsRemaining, a.AllowedCheckins)
}

package checkin

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"ms-checkin/internal/models"
	"ms-checkin/internal/occupancy"
)

// MarkManualEntry admits an attendee on an operator's say-so, for example
// when the ticket will not scan. It ignores the remaining allowance but not
// the one-open-session rule.
func (s *Service) MarkManualEntry(ctx context.Context, eventID int64, code, entrance, operator, notes string) (res Result) {
	sc := scan{op: "manual_entry", eventID: eventID, code: code, entrance: entrance, operator: operator}
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

	var updated *models.Attendee
	err := s.Store.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		a, err := lockAttendee(ctx, s.Store, tx, eventID, code)
		if err != nil {
			return err
		}
		if a.IsCurrentlyInside {
			rej := reject(CodeAlreadyInside, models.AuditDuplicate,
				fmt.Sprintf("Already inside since %s", s.hhmm(a.LastCheckedInAt)), a)
			rej.at = a.CheckedInAt
			return rej
		}

		now := s.now()
		s.enter(a, now, entrance)
		a.ManualEntry = true
		if notes != "" {
			a.Notes = notes
		}
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

	msg := "Manual entry recorded"
	if notes != "" {
		msg = fmt.Sprintf("Manual entry: %s", notes)
	}
	entry := occupancy.Entry
	s.committed(ctx, sc, updated, &entry, models.AuditManual, msg)
	return Result{
		OK:          true,
		Code:        CodeManualEntry,
		Message:     msg,
		Attendee:    updated,
		CheckedInAt: updated.CheckedInAt,
	}
}

// ResetScanCounters restores the full allowance and clears the periodic
// scan counters. Presence is left alone.
func (s *Service) ResetScanCounters(ctx context.Context, eventID int64, code string) (res Result) {
	sc := scan{op: "reset_counters", eventID: eventID, code: code, operator: systemOperator}
	defer s.observe(sc, &res)

	if err := validateScan(code, ""); err != nil {
		return s.fail(ctx, sc, err)
	}
	if err := s.admit(ctx, eventID); err != nil {
		return s.fail(ctx, sc, err)
	}
	if _, err := s.known(ctx, eventID, code); err != nil {
		return s.fail(ctx, sc, err)
	}

	var updated *models.Attendee
	err := s.Store.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		a, err := lockAttendee(ctx, s.Store, tx, eventID, code)
		if err != nil {
			return err
		}
		a.CheckinsRemaining = a.AllowedCheckins
		a.DailyScanCount, a.WeeklyScanCount, a.MonthlyScanCount = 0, 0, 0
		a.LastCheckedInDate = ""
		if err := s.Store.UpdateAttendee(ctx, tx, a, attendeeState...); err != nil {
			return err
		}
		updated = a
		return nil
	})
	if err != nil {
		return s.fail(ctx, sc, err)
	}

	msg := fmt.Sprintf("Scan counters reset, %d check-ins available", updated.CheckinsRemaining)
	s.committed(ctx, sc, updated, nil, models.AuditCountersReset, msg)
	return Result{
		OK:       true,
		Code:     CodeCountersReset,
		Message:  msg,
		Attendee: updated,
	}
}

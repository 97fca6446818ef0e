package checkin

import (
	"context"
	"errors"
	"fmt"

	"github.com/uptrace/bun"

	"ms-checkin/internal/checkin/db"
	"ms-checkin/internal/models"
	"ms-checkin/internal/occupancy"
)

// CheckOut closes the attendee's open session and marks them outside.
func (s *Service) CheckOut(ctx context.Context, eventID int64, code, entrance, operator string) (res Result) {
	sc := scan{op: "checkout", eventID: eventID, code: code, entrance: entrance, operator: operator}
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
		if !a.IsCurrentlyInside && a.CheckedInAt == nil {
			return reject(CodeNotCheckedIn, models.AuditInvalid, "Attendee has not checked in", a)
		}

		open, err := s.Store.LockOpenSession(ctx, tx, a.ID)
		if errors.Is(err, db.ErrNotFound) {
			return reject(CodeSessionNotFound, models.AuditInvalid, "No open session to close", a)
		}
		if err != nil {
			return err
		}

		now := s.now()
		open.ExitedAt = &now
		open.EntranceOut = entrance
		if err := s.Store.CloseSession(ctx, tx, open); err != nil {
			return err
		}

		wasInside = a.IsCurrentlyInside
		a.CheckedOutAt = &now
		a.IsCurrentlyInside = false
		if err := s.Store.UpdateAttendee(ctx, tx, a, "checked_out_at", "is_currently_inside"); err != nil {
			return err
		}
		updated = a
		return nil
	})
	if err != nil {
		return s.fail(ctx, sc, err)
	}

	var dir *occupancy.Direction
	if wasInside {
		exit := occupancy.Exit
		dir = &exit
	}
	msg := fmt.Sprintf("Checked out at %s", s.hhmm(updated.CheckedOutAt))
	s.committed(ctx, sc, updated, dir, models.AuditCheckedOut, msg)
	return Result{
		OK:          true,
		Code:        CodeCheckedOut,
		Message:     msg,
		Attendee:    updated,
		CheckedInAt: updated.CheckedInAt,
	}
}

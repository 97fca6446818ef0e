package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"ms-checkin/internal/models"
)

// LockOpenSession returns the attendee's open session, locked for the rest
// of tx, or ErrNotFound.
func (d *DB) LockOpenSession(ctx context.Context, tx bun.Tx, attendeeID int64) (*models.CheckInSession, error) {
	var s models.CheckInSession
	q := tx.NewSelect().
		Model(&s).
		Where("attendee_id = ?", attendeeID).
		Where("exited_at IS NULL").
		Order("entered_at DESC").
		Limit(1)

	q, err := d.lockRows(ctx, tx, q)
	if err != nil {
		return nil, err
	}
	if err := q.Scan(ctx); err != nil {
		return nil, classify(err)
	}
	return &s, nil
}

func (d *DB) InsertSession(ctx context.Context, tx bun.Tx, s *models.CheckInSession) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if _, err := tx.NewInsert().Model(s).Exec(ctx); err != nil {
		return fmt.Errorf("insert session for attendee %d: %w", s.AttendeeID, err)
	}
	return nil
}

// RefreshSession moves an open session's entry point to a new scan.
func (d *DB) RefreshSession(ctx context.Context, tx bun.Tx, s *models.CheckInSession) error {
	_, err := tx.NewUpdate().
		Model(s).
		Column("entrance_in", "entered_at").
		WherePK().
		Exec(ctx)
	return err
}

func (d *DB) CloseSession(ctx context.Context, tx bun.Tx, s *models.CheckInSession) error {
	_, err := tx.NewUpdate().
		Model(s).
		Column("exited_at", "entrance_out").
		WherePK().
		Exec(ctx)
	return err
}

func (d *DB) ListSessions(ctx context.Context, attendeeID int64) ([]models.CheckInSession, error) {
	var sessions []models.CheckInSession
	err := d.Bun.NewSelect().
		Model(&sessions).
		Where("attendee_id = ?", attendeeID).
		Order("entered_at ASC").
		Scan(ctx)
	return sessions, err
}

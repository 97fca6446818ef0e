package db

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"ms-checkin/internal/models"
)

// LockAttendee loads the attendee row inside tx and holds its lock until
// the transaction ends.
func (d *DB) LockAttendee(ctx context.Context, tx bun.Tx, eventID int64, ticketCode string) (*models.Attendee, error) {
	var a models.Attendee
	q := tx.NewSelect().
		Model(&a).
		Where("event_id = ?", eventID).
		Where("ticket_code = ?", ticketCode).
		Limit(1)

	q, err := d.lockRows(ctx, tx, q)
	if err != nil {
		return nil, err
	}
	if err := q.Scan(ctx); err != nil {
		return nil, classify(err)
	}
	return &a, nil
}

func (d *DB) GetAttendee(ctx context.Context, eventID int64, ticketCode string) (*models.Attendee, error) {
	var a models.Attendee
	err := d.Bun.NewSelect().
		Model(&a).
		Where("event_id = ?", eventID).
		Where("ticket_code = ?", ticketCode).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, classify(err)
	}
	return &a, nil
}

func (d *DB) ListAttendees(ctx context.Context, eventID int64) ([]models.Attendee, error) {
	var attendees []models.Attendee
	err := d.Bun.NewSelect().
		Model(&attendees).
		Where("event_id = ?", eventID).
		Order("ticket_code ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return attendees, nil
}

// UpdateAttendee writes the named columns of a, plus updated_at.
func (d *DB) UpdateAttendee(ctx context.Context, idb bun.IDB, a *models.Attendee, columns ...string) error {
	a.UpdatedAt = time.Now().UTC()
	columns = append(columns, "updated_at")
	res, err := idb.NewUpdate().
		Model(a).
		Column(columns...).
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update attendee %d: %w", a.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (d *DB) InsertAttendee(ctx context.Context, a *models.Attendee) error {
	_, err := d.Bun.NewInsert().Model(a).Exec(ctx)
	return err
}

// UpsertAttendees inserts new attendees and refreshes descriptive fields of
// existing ones. Check-in state is never touched here.
func (d *DB) UpsertAttendees(ctx context.Context, batch []models.Attendee) (int, error) {
	if len(batch) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	for i := range batch {
		batch[i].UpdatedAt = now
		if batch[i].AllowedCheckins < 0 {
			batch[i].AllowedCheckins = 1
		}
		if batch[i].CheckinsRemaining <= 0 && batch[i].CheckedInAt == nil {
			batch[i].CheckinsRemaining = batch[i].AllowedCheckins
		}
	}
	res, err := d.Bun.NewInsert().
		Model(&batch).
		On("CONFLICT (event_id, ticket_code) DO UPDATE").
		Set("holder_name = EXCLUDED.holder_name").
		Set("email = EXCLUDED.email").
		Set("ticket_type = EXCLUDED.ticket_type").
		Set("ticket_type_id = EXCLUDED.ticket_type_id").
		Set("allowed_checkins = EXCLUDED.allowed_checkins").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("upsert attendees: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return len(batch), nil
	}
	return int(n), nil
}

func (d *DB) CountInside(ctx context.Context, eventID int64) (int, error) {
	return d.Bun.NewSelect().
		Model((*models.Attendee)(nil)).
		Where("event_id = ?", eventID).
		Where("is_currently_inside = ?", true).
		Count(ctx)
}

// CountInsideAtEntrance counts attendees inside who entered through entrance.
// It reads through idb so the engine can call it inside its transaction.
func (d *DB) CountInsideAtEntrance(ctx context.Context, idb bun.IDB, eventID int64, entrance string) (int, error) {
	return idb.NewSelect().
		Model((*models.Attendee)(nil)).
		Where("event_id = ?", eventID).
		Where("is_currently_inside = ?", true).
		Where("last_entrance = ?", entrance).
		Count(ctx)
}

type entranceCount struct {
	Entrance string `bun:"entrance"`
	Count    int    `bun:"count"`
}

func (d *DB) CountInsideByEntrance(ctx context.Context, eventID int64) (map[string]int, error) {
	var rows []entranceCount
	err := d.Bun.NewSelect().
		Model((*models.Attendee)(nil)).
		ColumnExpr("COALESCE(last_entrance, '') AS entrance").
		ColumnExpr("COUNT(*) AS count").
		Where("event_id = ?", eventID).
		Where("is_currently_inside = ?", true).
		GroupExpr("COALESCE(last_entrance, '')").
		Scan(ctx, &rows)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(rows))
	for _, r := range rows {
		out[r.Entrance] = r.Count
	}
	return out, nil
}

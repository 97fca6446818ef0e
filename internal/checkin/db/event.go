package db

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"ms-checkin/internal/models"
)

func (d *DB) GetEvent(ctx context.Context, id int64) (*models.Event, error) {
	var e models.Event
	err := d.Bun.NewSelect().
		Model(&e).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, classify(err)
	}
	return &e, nil
}

func (d *DB) ListEvents(ctx context.Context) ([]models.Event, error) {
	var events []models.Event
	err := d.Bun.NewSelect().
		Model(&events).
		Order("start_date DESC").
		Scan(ctx)
	return events, err
}

// UpsertEvent inserts e, or updates it in place when it already has an id.
// Updates never touch status; lifecycle moves go through UpdateEventStatus.
func (d *DB) UpsertEvent(ctx context.Context, e *models.Event) error {
	e.UpdatedAt = time.Now().UTC()
	if e.ID == 0 {
		if e.Status == "" {
			e.Status = models.EventStatusActive
		}
		_, err := d.Bun.NewInsert().Model(e).Exec(ctx)
		return err
	}
	_, err := d.Bun.NewUpdate().
		Model(e).
		Column("name", "site_url", "api_key", "start_date", "end_date",
			"total_tickets", "capacity", "last_synced_at", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update event %d: %w", e.ID, err)
	}
	return nil
}

// UpdateEventStatus sets the event's status. With from given, the change
// only applies while the current status is one of them, and
// ErrStatusConflict reports that no row matched.
func (d *DB) UpdateEventStatus(ctx context.Context, id int64, status string, from ...string) error {
	q := d.Bun.NewUpdate().
		Model((*models.Event)(nil)).
		Set("status = ?", status).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id)
	if len(from) > 0 {
		q = q.Where("status IN (?)", bun.In(from))
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		if len(from) > 0 {
			return ErrStatusConflict
		}
		return ErrNotFound
	}
	return nil
}

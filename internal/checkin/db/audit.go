package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ms-checkin/internal/models"
)

// InsertAudit appends one audit row. It runs outside any check-in
// transaction so a rejected scan still leaves a trace.
func (d *DB) InsertAudit(ctx context.Context, a *models.CheckInAudit) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if _, err := d.Bun.NewInsert().Model(a).Exec(ctx); err != nil {
		return fmt.Errorf("insert audit for %s: %w", a.TicketCode, err)
	}
	return nil
}

// ListAudits returns the audit trail for one ticket, oldest first. An empty
// ticketCode lists the whole event.
func (d *DB) ListAudits(ctx context.Context, eventID int64, ticketCode string) ([]models.CheckInAudit, error) {
	var audits []models.CheckInAudit
	q := d.Bun.NewSelect().
		Model(&audits).
		Where("event_id = ?", eventID).
		Order("created_at ASC")
	if ticketCode != "" {
		q = q.Where("ticket_code = ?", ticketCode)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return audits, nil
}

type entryExitCount struct {
	Entries int `bun:"entries"`
	Exits   int `bun:"exits"`
}

// CountEntriesExits derives lifetime entry and exit totals from the audit
// trail. Only admissions count as entries; resets and rejections do not.
func (d *DB) CountEntriesExits(ctx context.Context, eventID int64) (int, int, error) {
	var row entryExitCount
	err := d.Bun.NewSelect().
		Model((*models.CheckInAudit)(nil)).
		ColumnExpr("COALESCE(SUM(CASE WHEN status IN (?, ?) THEN 1 ELSE 0 END), 0) AS entries",
			models.AuditSuccess, models.AuditManual).
		ColumnExpr("COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS exits",
			models.AuditCheckedOut).
		Where("event_id = ?", eventID).
		Scan(ctx, &row)
	if err != nil {
		return 0, 0, err
	}
	return row.Entries, row.Exits, nil
}

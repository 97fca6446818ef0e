package db

import (
	"context"
	"time"

	"ms-checkin/internal/models"
)

type statsRow struct {
	Total      int `bun:"total"`
	CheckedIn  int `bun:"checked_in"`
	Inside     int `bun:"inside"`
	CheckedOut int `bun:"checked_out"`
}

// EventStats aggregates attendee state for one event in a single pass.
func (d *DB) EventStats(ctx context.Context, eventID int64) (*models.EventStats, error) {
	var row statsRow
	err := d.Bun.NewSelect().
		Model((*models.Attendee)(nil)).
		ColumnExpr("COUNT(*) AS total").
		ColumnExpr("COALESCE(SUM(CASE WHEN checked_in_at IS NOT NULL THEN 1 ELSE 0 END), 0) AS checked_in").
		ColumnExpr("COALESCE(SUM(CASE WHEN is_currently_inside THEN 1 ELSE 0 END), 0) AS inside").
		ColumnExpr("COALESCE(SUM(CASE WHEN checked_out_at IS NOT NULL AND NOT is_currently_inside THEN 1 ELSE 0 END), 0) AS checked_out").
		Where("event_id = ?", eventID).
		Scan(ctx, &row)
	if err != nil {
		return nil, err
	}
	return &models.EventStats{
		EventID:    eventID,
		Total:      row.Total,
		CheckedIn:  row.CheckedIn,
		Remaining:  row.Total - row.CheckedIn,
		Inside:     row.Inside,
		CheckedOut: row.CheckedOut,
		Percentage: models.Percent(row.CheckedIn, row.Total),
		UpdatedAt:  time.Now().UTC(),
	}, nil
}

package db

import (
	"context"
	"fmt"

	"ms-checkin/internal/models"
)

func (d *DB) ListCheckInConfigs(ctx context.Context, eventID int64) ([]models.CheckInConfig, error) {
	var configs []models.CheckInConfig
	err := d.Bun.NewSelect().
		Model(&configs).
		Where("event_id = ?", eventID).
		Order("ticket_type_id ASC").
		Scan(ctx)
	return configs, err
}

func (d *DB) UpsertCheckInConfigs(ctx context.Context, batch []models.CheckInConfig) error {
	if len(batch) == 0 {
		return nil
	}
	_, err := d.Bun.NewInsert().
		Model(&batch).
		On("CONFLICT (event_id, ticket_type_id) DO UPDATE").
		Set("ticket_type = EXCLUDED.ticket_type").
		Set("allowed_checkins = EXCLUDED.allowed_checkins").
		Set("allow_reentry = EXCLUDED.allow_reentry").
		Set("valid_from = EXCLUDED.valid_from").
		Set("valid_until = EXCLUDED.valid_until").
		Set("entrance_limits = EXCLUDED.entrance_limits").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert check-in configs: %w", err)
	}
	return nil
}

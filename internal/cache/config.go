package cache

import (
	"context"

	"ms-checkin/internal/models"
)

// ConfigLoader reads an event's check-in configs from the durable store.
type ConfigLoader func(ctx context.Context, eventID int64) ([]models.CheckInConfig, error)

// ConfigIndexFor returns the event's config index, building it at most once per miss.
func (c *Coordinator) ConfigIndexFor(ctx context.Context, eventID int64, load ConfigLoader) (models.ConfigIndex, error) {
	e, err := c.GetOrCompute(ctx, EventConfigKey(eventID), KindConfigIndex, DefaultTTL, func(ctx context.Context) (Entry, error) {
		records, err := load(ctx, eventID)
		if err != nil {
			return Entry{}, err
		}
		return ConfigEntry(models.NewConfigIndex(records)), nil
	})
	if err != nil {
		return models.ConfigIndex{}, err
	}
	return *e.Config, nil
}

// ConfigFor resolves the config for a ticket type by numeric id first, then
// by normalized label. A nil result with no error means no config applies.
func (c *Coordinator) ConfigFor(ctx context.Context, eventID, typeID int64, label string, load ConfigLoader) (*models.CheckInConfig, error) {
	ix, err := c.ConfigIndexFor(ctx, eventID, load)
	if err != nil {
		return nil, err
	}
	cfg, ok := ix.Lookup(typeID, label)
	if !ok {
		return nil, nil
	}
	out := *cfg
	return &out, nil
}

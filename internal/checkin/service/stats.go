package checkin

import (
	"context"

	"ms-checkin/internal/cache"
	"ms-checkin/internal/models"
)

func (s *Service) GetOccupancyBreakdown(ctx context.Context, eventID int64) (models.OccupancyBreakdown, error) {
	return s.Occupancy.Breakdown(ctx, eventID)
}

// GetEventStats serves the cached aggregate, recomputing it on a miss.
func (s *Service) GetEventStats(ctx context.Context, eventID int64) (models.EventStats, error) {
	e, err := s.Cache.GetOrCompute(ctx, cache.StatsKey(eventID), cache.KindStats, cache.DefaultTTL, func(ctx context.Context) (cache.Entry, error) {
		stats, err := s.Store.EventStats(ctx, eventID)
		if err != nil {
			return cache.Entry{}, err
		}
		return cache.StatsEntry(*stats), nil
	})
	if err != nil {
		return models.EventStats{}, err
	}
	return *e.Stats, nil
}

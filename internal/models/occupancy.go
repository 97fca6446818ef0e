package models

import "time"

type OccupancySnapshot struct {
	EventID      int64     `json:"event_id"`
	Inside       int       `json:"inside"`
	TotalEntries int       `json:"total_entries"`
	TotalExits   int       `json:"total_exits"`
	Capacity     int       `json:"capacity"`
	Percentage   float64   `json:"percentage"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Apply adds a signed delta, clamping the inside count at zero.
func (s *OccupancySnapshot) Apply(delta int, now time.Time) {
	s.Inside += delta
	if s.Inside < 0 {
		s.Inside = 0
	}
	if delta > 0 {
		s.TotalEntries += delta
	} else if delta < 0 {
		s.TotalExits -= delta
	}
	s.Recompute(now)
}

func (s *OccupancySnapshot) Recompute(now time.Time) {
	s.Percentage = Percent(s.Inside, s.Capacity)
	s.UpdatedAt = now
}

type OccupancyBreakdown struct {
	OccupancySnapshot
	ByEntrance map[string]int `json:"by_entrance"`
}

type EventStats struct {
	EventID    int64     `json:"event_id"`
	Total      int       `json:"total"`
	CheckedIn  int       `json:"checked_in"`
	Remaining  int       `json:"remaining"`
	Inside     int       `json:"inside"`
	CheckedOut int       `json:"checked_out"`
	Percentage float64   `json:"percentage"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Percent returns part/whole as a percentage rounded to two decimals.
func Percent(part, whole int) float64 {
	if whole <= 0 {
		return 0
	}
	return float64(int(float64(part)*10000/float64(whole)+0.5)) / 100
}

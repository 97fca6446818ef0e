package models

import (
	"strings"
	"time"

	"github.com/uptrace/bun"
)

// CheckInConfig holds per-ticket-type check-in rules for an event.
type CheckInConfig struct {
	bun.BaseModel `bun:"table:checkin_configs"`

	ID              int64          `bun:"id,pk,autoincrement" json:"id"`
	EventID         int64          `bun:"event_id,notnull,unique:checkin_configs_event_type" json:"event_id"`
	TicketTypeID    int64          `bun:"ticket_type_id,notnull,unique:checkin_configs_event_type" json:"ticket_type_id"`
	TicketType      string         `bun:"ticket_type" json:"ticket_type"`
	AllowedCheckins int            `bun:"allowed_checkins,notnull,default:1" json:"allowed_checkins"`
	AllowReentry    bool           `bun:"allow_reentry,notnull,default:false" json:"allow_reentry"`
	ValidFrom       *time.Time     `bun:"valid_from" json:"valid_from,omitempty"`
	ValidUntil      *time.Time     `bun:"valid_until" json:"valid_until,omitempty"`
	EntranceLimits  map[string]int `bun:"entrance_limits,type:jsonb" json:"entrance_limits,omitempty"`
}

// ConfigIndex is the cached lookup structure for an event's check-in configs.
type ConfigIndex struct {
	Records []CheckInConfig `json:"records"`
	ByID    map[int64]int   `json:"by_id"`
	ByLabel map[string]int  `json:"by_label"`
}

func NewConfigIndex(records []CheckInConfig) ConfigIndex {
	ix := ConfigIndex{
		Records: records,
		ByID:    make(map[int64]int, len(records)),
		ByLabel: make(map[string]int, len(records)),
	}
	for i, r := range records {
		if r.TicketTypeID != 0 {
			ix.ByID[r.TicketTypeID] = i
		}
		if label := NormalizeLabel(r.TicketType); label != "" {
			ix.ByLabel[label] = i
		}
	}
	return ix
}

// Lookup resolves a config by numeric ticket type id first, then by label.
func (ix ConfigIndex) Lookup(typeID int64, label string) (*CheckInConfig, bool) {
	if typeID != 0 {
		if i, ok := ix.ByID[typeID]; ok && i < len(ix.Records) {
			return &ix.Records[i], true
		}
	}
	if n := NormalizeLabel(label); n != "" {
		if i, ok := ix.ByLabel[n]; ok && i < len(ix.Records) {
			return &ix.Records[i], true
		}
	}
	return nil, false
}

// NormalizeLabel lowercases, trims and collapses inner whitespace.
func NormalizeLabel(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

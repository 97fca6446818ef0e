package models

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	EventStatusActive   = "active"
	EventStatusSyncing  = "syncing"
	EventStatusArchived = "archived"
)

// ArchiveGrace is how long after its end date an event still accepts scans.
const ArchiveGrace = 24 * time.Hour

type Event struct {
	bun.BaseModel `bun:"table:events"`

	ID           int64      `bun:"id,pk,autoincrement" json:"id"`
	Name         string     `bun:"name,notnull" json:"name"`
	SiteURL      string     `bun:"site_url" json:"site_url"`
	APIKey       string     `bun:"api_key" json:"-"`
	StartDate    time.Time  `bun:"start_date,nullzero" json:"start_date"`
	EndDate      time.Time  `bun:"end_date,nullzero" json:"end_date"`
	Status       string     `bun:"status,notnull,default:'active'" json:"status"`
	TotalTickets int        `bun:"total_tickets,notnull,default:0" json:"total_tickets"`
	Capacity     int        `bun:"capacity,notnull,default:0" json:"capacity"`
	LastSyncedAt *time.Time `bun:"last_synced_at" json:"last_synced_at,omitempty"`
	CreatedAt    time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt    time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updated_at"`
}

// IsArchived reports whether the event no longer accepts check-ins or syncs.
func (e *Event) IsArchived(now time.Time) bool {
	if e.Status == EventStatusArchived {
		return true
	}
	return !e.EndDate.IsZero() && now.After(e.EndDate.Add(ArchiveGrace))
}

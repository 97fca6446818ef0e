package models

import (
	"time"

	"github.com/uptrace/bun"
)

// UnlimitedCheckins is the allowed_checkins value treated as "no practical limit".
const UnlimitedCheckins = 9999

type Attendee struct {
	bun.BaseModel `bun:"table:attendees"`

	ID                int64      `bun:"id,pk,autoincrement" json:"id"`
	EventID           int64      `bun:"event_id,notnull,unique:attendees_event_ticket" json:"event_id"`
	TicketCode        string     `bun:"ticket_code,notnull,unique:attendees_event_ticket" json:"ticket_code"`
	HolderName        string     `bun:"holder_name" json:"holder_name"`
	Email             string     `bun:"email" json:"email"`
	TicketType        string     `bun:"ticket_type" json:"ticket_type"`
	TicketTypeID      int64      `bun:"ticket_type_id" json:"ticket_type_id"`
	AllowedCheckins   int        `bun:"allowed_checkins,notnull,default:1" json:"allowed_checkins"`
	CheckinsRemaining int        `bun:"checkins_remaining,notnull,default:1" json:"checkins_remaining"`
	CheckedInAt       *time.Time `bun:"checked_in_at" json:"checked_in_at,omitempty"`
	LastCheckedInAt   *time.Time `bun:"last_checked_in_at" json:"last_checked_in_at,omitempty"`
	CheckedOutAt      *time.Time `bun:"checked_out_at" json:"checked_out_at,omitempty"`
	IsCurrentlyInside bool       `bun:"is_currently_inside,notnull,default:false" json:"is_currently_inside"`
	DailyScanCount    int        `bun:"daily_scan_count,notnull,default:0" json:"daily_scan_count"`
	WeeklyScanCount   int        `bun:"weekly_scan_count,notnull,default:0" json:"weekly_scan_count"`
	MonthlyScanCount  int        `bun:"monthly_scan_count,notnull,default:0" json:"monthly_scan_count"`
	LastCheckedInDate string     `bun:"last_checked_in_date" json:"last_checked_in_date,omitempty"`
	LastEntrance      string     `bun:"last_entrance" json:"last_entrance,omitempty"`
	ManualEntry       bool       `bun:"manual_entry,notnull,default:false" json:"manual_entry"`
	Notes             string     `bun:"notes" json:"notes,omitempty"`
	UpdatedAt         time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updated_at"`
}

// Unlimited reports whether the attendee's ticket carries no practical scan limit.
func (a *Attendee) Unlimited() bool {
	return a.AllowedCheckins >= UnlimitedCheckins
}

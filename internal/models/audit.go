package models

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	AuditSuccess       = "success"
	AuditDuplicate     = "duplicate"
	AuditInvalid       = "invalid"
	AuditManual        = "manual"
	AuditCheckedOut    = "checked_out"
	AuditCountersReset = "counters_reset"
	AuditError         = "error"
)

// CheckInAudit is an append-only record of every scan attempt.
type CheckInAudit struct {
	bun.BaseModel `bun:"table:checkin_audits"`

	ID         string    `bun:"id,pk" json:"id"`
	EventID    int64     `bun:"event_id,notnull" json:"event_id"`
	AttendeeID *int64    `bun:"attendee_id" json:"attendee_id,omitempty"`
	TicketCode string    `bun:"ticket_code" json:"ticket_code"`
	Entrance   string    `bun:"entrance" json:"entrance"`
	Operator   string    `bun:"operator" json:"operator,omitempty"`
	Status     string    `bun:"status,notnull" json:"status"`
	Message    string    `bun:"message" json:"message"`
	CreatedAt  time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
}

// CheckInSession tracks one stay inside the venue. Open while ExitedAt is nil.
type CheckInSession struct {
	bun.BaseModel `bun:"table:checkin_sessions"`

	ID          string     `bun:"id,pk" json:"id"`
	EventID     int64      `bun:"event_id,notnull" json:"event_id"`
	AttendeeID  int64      `bun:"attendee_id,notnull" json:"attendee_id"`
	EntranceIn  string     `bun:"entrance_in" json:"entrance_in"`
	EnteredAt   time.Time  `bun:"entered_at,notnull" json:"entered_at"`
	EntranceOut string     `bun:"entrance_out" json:"entrance_out,omitempty"`
	ExitedAt    *time.Time `bun:"exited_at" json:"exited_at,omitempty"`
}

// Package upstream talks to the external ticketing platform that owns the
// source of truth for events and tickets.
package upstream

import (
	"context"
	"errors"
	"time"

	"ms-checkin/internal/breaker"
)

var (
	ErrAuth        = errors.New("upstream rejected credentials")
	ErrNotFound    = errors.New("upstream resource not found")
	ErrRateLimited = errors.New("upstream rate limited")
	ErrServer      = errors.New("upstream server error")
	ErrNetwork     = errors.New("upstream unreachable")
	ErrPayload     = errors.New("unexpected upstream payload")
)

// IsUnreachable reports whether err means the upstream could not serve the
// request at all, as opposed to answering with a definite refusal.
func IsUnreachable(err error) bool {
	return errors.Is(err, ErrServer) ||
		errors.Is(err, ErrNetwork) ||
		errors.Is(err, breaker.ErrCircuitOpen)
}

type Credentials struct {
	SiteURL string
	APIKey  string
}

// AllowedCheckins is nil when the platform leaves it out. Zero is a valid
// allowance and is kept as is.
type TicketType struct {
	ID              int64      `json:"id"`
	Label           string     `json:"label"`
	AllowedCheckins *int       `json:"allowed_checkins"`
	AllowReentry    bool       `json:"allow_reentry"`
	ValidFrom       *time.Time `json:"valid_from,omitempty"`
	ValidUntil      *time.Time `json:"valid_until,omitempty"`
}

type EventEssentials struct {
	Name         string       `json:"name"`
	StartDate    time.Time    `json:"start_date"`
	EndDate      time.Time    `json:"end_date"`
	TotalTickets int          `json:"total_tickets"`
	Capacity     int          `json:"capacity"`
	TicketTypes  []TicketType `json:"ticket_types"`
}

type TicketInfo struct {
	Code            string `json:"ticket_code"`
	Checksum        string `json:"checksum"`
	HolderName      string `json:"holder_name"`
	Email           string `json:"email"`
	TicketType      string `json:"ticket_type"`
	TicketTypeID    int64  `json:"ticket_type_id"`
	AllowedCheckins *int   `json:"allowed_checkins"`
}

type TicketPage struct {
	Tickets    []TicketInfo `json:"tickets"`
	Page       int          `json:"page"`
	TotalPages int          `json:"total_pages"`
	Total      int          `json:"total"`
}

type TicketStatus struct {
	Checksum  string     `json:"checksum"`
	Status    string     `json:"status"`
	CheckedIn bool       `json:"checked_in"`
	CheckedAt *time.Time `json:"checked_at,omitempty"`
}

type Occupancy struct {
	Inside   int `json:"inside"`
	Capacity int `json:"capacity"`
}

type Client interface {
	CheckCredentials(ctx context.Context, cred Credentials) error
	GetEventEssentials(ctx context.Context, cred Credentials) (*EventEssentials, error)
	GetTicketsInfo(ctx context.Context, cred Credentials, perPage, page int) (*TicketPage, error)
	GetTicketDetailedStatus(ctx context.Context, cred Credentials, checksum string) (*TicketStatus, error)
	GetEventOccupancy(ctx context.Context, cred Credentials) (*Occupancy, error)
}

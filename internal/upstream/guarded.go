package upstream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-checkin/internal/breaker"
)

const (
	DefaultBulkTimeout = 30 * time.Second
	DefaultCallTimeout = 10 * time.Second
)

// Guarded routes every call through the breaker of the credential's site
// and bounds it with an explicit timeout.
type Guarded struct {
	Client      Client
	Breakers    *breaker.Registry
	BulkTimeout time.Duration
	CallTimeout time.Duration
}

func NewGuarded(c Client, breakers *breaker.Registry) *Guarded {
	return &Guarded{
		Client:      c,
		Breakers:    breakers,
		BulkTimeout: DefaultBulkTimeout,
		CallTimeout: DefaultCallTimeout,
	}
}

func (g *Guarded) CheckCredentials(ctx context.Context, cred Credentials) error {
	return g.call(ctx, cred, g.CallTimeout, func(ctx context.Context) error {
		return g.Client.CheckCredentials(ctx, cred)
	})
}

func (g *Guarded) GetEventEssentials(ctx context.Context, cred Credentials) (*EventEssentials, error) {
	var out *EventEssentials
	err := g.call(ctx, cred, g.CallTimeout, func(ctx context.Context) error {
		var err error
		out, err = g.Client.GetEventEssentials(ctx, cred)
		return err
	})
	return out, err
}

func (g *Guarded) GetTicketsInfo(ctx context.Context, cred Credentials, perPage, page int) (*TicketPage, error) {
	var out *TicketPage
	err := g.call(ctx, cred, g.BulkTimeout, func(ctx context.Context) error {
		var err error
		out, err = g.Client.GetTicketsInfo(ctx, cred, perPage, page)
		return err
	})
	return out, err
}

func (g *Guarded) GetTicketDetailedStatus(ctx context.Context, cred Credentials, checksum string) (*TicketStatus, error) {
	var out *TicketStatus
	err := g.call(ctx, cred, g.CallTimeout, func(ctx context.Context) error {
		var err error
		out, err = g.Client.GetTicketDetailedStatus(ctx, cred, checksum)
		return err
	})
	return out, err
}

func (g *Guarded) GetEventOccupancy(ctx context.Context, cred Credentials) (*Occupancy, error) {
	var out *Occupancy
	err := g.call(ctx, cred, g.CallTimeout, func(ctx context.Context) error {
		var err error
		out, err = g.Client.GetEventOccupancy(ctx, cred)
		return err
	})
	return out, err
}

func (g *Guarded) call(ctx context.Context, cred Credentials, timeout time.Duration, fn func(ctx context.Context) error) error {
	b := g.Breakers.Get(cred.SiteURL)
	return b.Execute(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		err := fn(ctx)
		if err != nil && errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrNetwork) {
			return fmt.Errorf("%w: timed out after %s: %w", ErrNetwork, timeout, err)
		}
		return err
	})
}

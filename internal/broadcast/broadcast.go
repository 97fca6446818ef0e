// Package broadcast defines the live-update messages pushed to dashboards
// and downstream consumers after check-in activity.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	KindOccupancy = "occupancy"
	KindStats     = "stats"
	KindCheckin   = "checkin"
)

type Message struct {
	Channel string      `json:"channel"`
	EventID int64       `json:"event_id"`
	Kind    string      `json:"kind"`
	Payload interface{} `json:"payload"`
	SentAt  time.Time   `json:"sent_at"`
}

type Broadcaster interface {
	Broadcast(ctx context.Context, msg Message) error
}

func OccupancyChannel(eventID int64) string { return fmt.Sprintf("event:%d:occupancy", eventID) }

func StatsChannel(eventID int64) string { return fmt.Sprintf("event:%d:stats", eventID) }

func CheckinChannel(eventID int64) string { return fmt.Sprintf("event:%d:checkins", eventID) }

// Multi fans a message out to every broadcaster and joins their errors.
type Multi []Broadcaster

func (m Multi) Broadcast(ctx context.Context, msg Message) error {
	var errs []error
	for _, b := range m {
		if b == nil {
			continue
		}
		if err := b.Broadcast(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards messages.
type Nop struct{}

func (Nop) Broadcast(context.Context, Message) error { return nil }

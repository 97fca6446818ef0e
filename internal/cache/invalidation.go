package cache

import (
	"context"
	"fmt"
)

// invalidation is the message published on InvalidationChannel.
type invalidation struct {
	Origin   string   `cbor:"1,keyasint"`
	Keys     []string `cbor:"2,keyasint,omitempty"`
	Prefixes []string `cbor:"3,keyasint,omitempty"`
}

// InvalidateAttendee drops everything derived from one attendee row: the
// attendee entry itself plus the event's stats, attendee list and
// occupancy breakdown. Other nodes drop their L1 copies on notice.
func (c *Coordinator) InvalidateAttendee(ctx context.Context, eventID int64, ticketCode string) {
	keys := []string{
		AttendeeKey(eventID, ticketCode),
		StatsKey(eventID),
		AttendeesKey(eventID),
		BreakdownKey(eventID),
	}
	c.Delete(ctx, keys...)
	c.publish(ctx, invalidation{Keys: keys})
}

// InvalidateEventConfig drops the config index and event record caches.
func (c *Coordinator) InvalidateEventConfig(ctx context.Context, eventID int64) {
	keys := []string{
		EventConfigKey(eventID),
		EventKey(eventID),
		KeyEventsAll,
	}
	c.Delete(ctx, keys...)
	c.publish(ctx, invalidation{Keys: keys})
}

// InvalidateEventAttendees drops every attendee entry of an event, used
// after a bulk import rewrote many rows at once.
func (c *Coordinator) InvalidateEventAttendees(ctx context.Context, eventID int64) int {
	n := c.InvalidateByPrefix(ctx, AttendeePrefix(eventID))
	keys := []string{StatsKey(eventID), AttendeesKey(eventID), BreakdownKey(eventID)}
	c.Delete(ctx, keys...)
	c.publish(ctx, invalidation{Keys: keys})
	return n
}

func (c *Coordinator) publish(ctx context.Context, msg invalidation) {
	msg.Origin = c.nodeID
	raw, err := encMode.Marshal(msg)
	if err != nil {
		c.logger.Error("CACHE", fmt.Sprintf("encode invalidation: %v", err))
		return
	}
	if err := c.l2.Publish(ctx, InvalidationChannel, raw); err != nil {
		c.backendError("publish", InvalidationChannel, err)
	}
}

// Listen applies invalidation notices from other nodes to the local L1 map
// until ctx is cancelled.
func (c *Coordinator) Listen(ctx context.Context) error {
	c.logger.Info("CACHE", fmt.Sprintf("node %s listening on %s", c.nodeID, InvalidationChannel))
	return c.l2.Subscribe(ctx, InvalidationChannel, c.applyRemote)
}

func (c *Coordinator) applyRemote(payload []byte) {
	var msg invalidation
	if err := decMode.Unmarshal(payload, &msg); err != nil {
		c.logger.Warn("CACHE", fmt.Sprintf("dropping malformed invalidation: %v", err))
		return
	}
	if msg.Origin == c.nodeID {
		return
	}
	n := c.l1.Delete(msg.Keys...)
	for _, p := range msg.Prefixes {
		n += c.l1.DeleteByPrefix(p)
	}
	c.logger.LogCache("REMOTE_INVALIDATE", msg.Origin, fmt.Sprintf("%d local entries dropped", n))
}

package cache

import (
	"fmt"
	"strings"
	"time"
)

const (
	PrefixEventConfig = "event_config:"
	PrefixEvent       = "event:"
	PrefixEvents      = "events:"
	PrefixAttendee    = "attendee:"
	PrefixAttendees   = "attendees:"
	PrefixOccupancy   = "occupancy:"
	PrefixBreakdown   = "occupancy_breakdown:"
	PrefixStats       = "stats:"

	KeyEventsAll = "events:all"
)

const (
	// DefaultTTL asks Put to infer the TTL from the key prefix.
	DefaultTTL time.Duration = -1
	// NoExpiry keeps the entry until it is explicitly invalidated.
	NoExpiry time.Duration = 0

	TTLEventConfig = time.Hour
	TTLEvent       = time.Hour
	TTLOccupancy   = 10 * time.Second
	TTLStats       = time.Minute
	TTLAttendees   = time.Minute
	TTLFallback    = 5 * time.Minute
)

func EventConfigKey(eventID int64) string {
	return fmt.Sprintf("%s%d", PrefixEventConfig, eventID)
}
func EventKey(eventID int64) string {
	return fmt.Sprintf("%s%d", PrefixEvent, eventID)
}
func AttendeesKey(eventID int64) string {
	return fmt.Sprintf("%s%d", PrefixAttendees, eventID)
}
func OccupancyKey(eventID int64) string {
	return fmt.Sprintf("%s%d", PrefixOccupancy, eventID)
}
func BreakdownKey(eventID int64) string {
	return fmt.Sprintf("%s%d", PrefixBreakdown, eventID)
}
func StatsKey(eventID int64) string {
	return fmt.Sprintf("%s%d", PrefixStats, eventID)
}

func AttendeeKey(eventID int64, ticketCode string) string {
	return fmt.Sprintf("%s%d:%s", PrefixAttendee, eventID, ticketCode)
}

// AttendeePrefix matches every attendee entry of one event.
func AttendeePrefix(eventID int64) string {
	return fmt.Sprintf("%s%d:", PrefixAttendee, eventID)
}

// TTLFor infers a TTL from the key namespace.
func TTLFor(key string) time.Duration {
	switch {
	case strings.HasPrefix(key, PrefixEventConfig):
		return TTLEventConfig
	case strings.HasPrefix(key, PrefixBreakdown), strings.HasPrefix(key, PrefixOccupancy):
		return TTLOccupancy
	case strings.HasPrefix(key, PrefixStats):
		return TTLStats
	case strings.HasPrefix(key, PrefixAttendees):
		return TTLAttendees
	case strings.HasPrefix(key, PrefixAttendee):
		return NoExpiry
	case strings.HasPrefix(key, PrefixEvent), strings.HasPrefix(key, PrefixEvents):
		return TTLEvent
	default:
		return TTLFallback
	}
}

func resolveTTL(key string, ttl time.Duration) time.Duration {
	if ttl < 0 {
		return TTLFor(key)
	}
	return ttl
}

// l1Eligible lists the namespaces that are read often and change rarely.
func l1Eligible(key string) bool {
	return strings.HasPrefix(key, PrefixEventConfig) ||
		strings.HasPrefix(key, PrefixEvent) ||
		(strings.HasPrefix(key, PrefixAttendee) && !strings.HasPrefix(key, PrefixAttendees))
}

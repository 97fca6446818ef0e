package cache

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"ms-checkin/internal/models"
)

// Kind tags the payload carried by an Entry.
type Kind uint8

const (
	KindEvent Kind = iota + 1
	KindConfigIndex
	KindAttendee
	KindAttendeeList
	KindOccupancy
	KindBreakdown
	KindStats
	KindEventList
)

func (k Kind) String() string {
	switch k {
	case KindEvent:
		return "event"
	case KindConfigIndex:
		return "config_index"
	case KindAttendee:
		return "attendee"
	case KindAttendeeList:
		return "attendee_list"
	case KindOccupancy:
		return "occupancy"
	case KindBreakdown:
		return "breakdown"
	case KindStats:
		return "stats"
	case KindEventList:
		return "event_list"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ErrShapeMismatch marks a cached value whose kind differs from the one asked for.
var ErrShapeMismatch = errors.New("cache entry shape mismatch")

// Entry is the tagged envelope stored in both cache tiers. Exactly one
// payload field is set, matching Kind.
type Entry struct {
	Kind      Kind                       `cbor:"1,keyasint"`
	Event     *models.Event              `cbor:"2,keyasint,omitempty"`
	Config    *models.ConfigIndex        `cbor:"3,keyasint,omitempty"`
	Attendee  *models.Attendee           `cbor:"4,keyasint,omitempty"`
	Attendees []models.Attendee          `cbor:"5,keyasint,omitempty"`
	Occupancy *models.OccupancySnapshot  `cbor:"6,keyasint,omitempty"`
	Breakdown *models.OccupancyBreakdown `cbor:"7,keyasint,omitempty"`
	Stats     *models.EventStats         `cbor:"8,keyasint,omitempty"`
	Events    []models.Event             `cbor:"9,keyasint,omitempty"`
}

func EventEntry(e *models.Event) Entry {
	return Entry{Kind: KindEvent, Event: e}
}
func ConfigEntry(ix models.ConfigIndex) Entry {
	return Entry{Kind: KindConfigIndex, Config: &ix}
}
func AttendeeEntry(a *models.Attendee) Entry {
	return Entry{Kind: KindAttendee, Attendee: a}
}
func AttendeeListEntry(a []models.Attendee) Entry {
	return Entry{Kind: KindAttendeeList, Attendees: a}
}
func OccupancyEntry(s models.OccupancySnapshot) Entry {
	return Entry{Kind: KindOccupancy, Occupancy: &s}
}
func BreakdownEntry(b models.OccupancyBreakdown) Entry {
	return Entry{Kind: KindBreakdown, Breakdown: &b}
}
func StatsEntry(s models.EventStats) Entry {
	return Entry{Kind: KindStats, Stats: &s}
}
func EventListEntry(e []models.Event) Entry {
	return Entry{Kind: KindEventList, Events: e}
}

// valid reports whether the payload matching Kind is present.
func (e Entry) valid() bool {
	switch e.Kind {
	case KindEvent:
		return e.Event != nil
	case KindConfigIndex:
		return e.Config != nil
	case KindAttendee:
		return e.Attendee != nil
	case KindAttendeeList:
		return true
	case KindOccupancy:
		return e.Occupancy != nil
	case KindBreakdown:
		return e.Breakdown != nil
	case KindStats:
		return e.Stats != nil
	case KindEventList:
		return true
	default:
		return false
	}
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	var err error
	if encMode, err = opts.EncMode(); err != nil {
		panic(err)
	}
	if decMode, err = (cbor.DecOptions{}).DecMode(); err != nil {
		panic(err)
	}
}

func encode(e Entry) ([]byte, error) {
	if !e.valid() {
		return nil, fmt.Errorf("%w: %s entry has no payload", ErrShapeMismatch, e.Kind)
	}
	return encMode.Marshal(e)
}

func decode(raw []byte) (Entry, error) {
	var e Entry
	if err := decMode.Unmarshal(raw, &e); err != nil {
		return Entry{}, fmt.Errorf("decode cache entry: %w", err)
	}
	if !e.valid() {
		return Entry{}, fmt.Errorf("%w: %s entry has no payload", ErrShapeMismatch, e.Kind)
	}
	return e, nil
}

package counter

import (
	"fmt"
	"time"
)

// EventKind identifies what produced an Event.
type EventKind int

const (
	EventIn EventKind = iota + 1
	EventOut
	EventReset
)

func (k EventKind) String() string {
	switch k {
	case EventIn:
		return "in"
	case EventOut:
		return "out"
	case EventReset:
		return "reset"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// MarshalText encodes the kind as its lower-case name.
func (k EventKind) MarshalText() ([]byte, error) {
	switch k {
	case EventIn, EventOut, EventReset:
		return []byte(k.String()), nil
	default:
		return nil, fmt.Errorf("unknown event kind %d", int(k))
	}
}

// UnmarshalText decodes a kind written by MarshalText.
func (k *EventKind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "in":
		*k = EventIn
	case "out":
		*k = EventOut
	case "reset":
		*k = EventReset
	default:
		return fmt.Errorf("unknown event kind %q", b)
	}
	return nil
}

// Event is emitted by State for every crossing and every reset. The totals
// are the counter values immediately after the change.
type Event struct {
	ID      string    `json:"id"`
	Kind    EventKind `json:"kind"`
	At      time.Time `json:"at"`
	X       float64   `json:"x"`
	In      uint64    `json:"in"`
	Out     uint64    `json:"out"`
	Present uint64    `json:"present"`
}

func eventKindFor(d Direction) (EventKind, bool) {
	switch d {
	case In:
		return EventIn, true
	case Out:
		return EventOut, true
	default:
		return 0, false
	}
}

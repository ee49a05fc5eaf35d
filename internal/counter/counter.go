// Package counter turns per-frame zone observations of a single tracked point
// into IN/OUT crossing counts.
package counter

import (
	"fmt"

	"github.com/banshee-data/footfall.report/internal/zone"
)

// Direction is the result of feeding one observation to a Counter.
type Direction int

const (
	// None means the observation did not complete a crossing.
	None Direction = iota
	// In is counted when the point moves from Inside to Outside.
	//
	// The name is inverted relative to the zones on purpose: the deployed
	// camera counts an exit from the corridor as someone entering the room.
	// Do not swap In and Out without a decision from whoever owns the
	// reported numbers.
	In
	// Out is counted when the point moves from Outside to Inside.
	Out
)

func (d Direction) String() string {
	switch d {
	case None:
		return "none"
	case In:
		return "in"
	case Out:
		return "out"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// Counter is the two-zone transition machine. It starts uninitialized; the
// first observation only seeds the previous zone so that a person already
// standing in the corridor when tracking starts is not counted.
//
// Counter is not safe for concurrent use; State wraps it with a lock.
type Counter struct {
	previous    zone.Zone
	initialized bool
	in          uint64
	out         uint64
	inside      bool
}

// Step consumes the zone of one detected frame.
func (c *Counter) Step(region zone.Zone) Direction {
	dir := None
	if !c.initialized {
		c.initialized = true
	} else {
		switch {
		case c.previous == zone.Inside && region == zone.Outside:
			c.in++
			dir = In
		case c.previous == zone.Outside && region == zone.Inside:
			c.out++
			dir = Out
		}
	}
	c.previous = region
	c.inside = region == zone.Inside
	return dir
}

// Reset returns the counter to its uninitialized state with zero counts.
func (c *Counter) Reset() {
	*c = Counter{}
}

// Snapshot copies the counter fields.
func (c *Counter) Snapshot() Snapshot {
	return Snapshot{
		In:          c.in,
		Out:         c.out,
		Inside:      c.inside,
		Initialized: c.initialized,
		Previous:    c.previous,
	}
}

// Snapshot is a copy of the counter at one point in time.
type Snapshot struct {
	In          uint64 `json:"in"`
	Out         uint64 `json:"out"`
	Inside      bool   `json:"inside"`
	Initialized bool   `json:"initialized"`
	// Previous is only meaningful when Initialized is true.
	Previous zone.Zone `json:"-"`
}

// Present is In minus Out, floored at zero.
func (s Snapshot) Present() uint64 {
	if s.In > s.Out {
		return s.In - s.Out
	}
	return 0
}

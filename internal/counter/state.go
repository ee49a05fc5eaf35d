package counter

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/banshee-data/footfall.report/internal/monitoring"
	"github.com/banshee-data/footfall.report/internal/timeutil"
	"github.com/banshee-data/footfall.report/internal/zone"
)

// Consistency selects how Snapshot behaves while a writer holds the lock.
type Consistency int

const (
	// BestEffort never waits. If the lock is free the snapshot is consistent;
	// otherwise the snapshot published by the previous mutation is returned,
	// which may be one update behind.
	BestEffort Consistency = iota
	// Strict waits for the lock and always reflects every completed update.
	Strict
)

func (c Consistency) String() string {
	switch c {
	case BestEffort:
		return "best-effort"
	case Strict:
		return "strict"
	default:
		return fmt.Sprintf("Consistency(%d)", int(c))
	}
}

// ParseConsistency accepts "strict", "best-effort" or the empty string
// (best-effort).
func ParseConsistency(s string) (Consistency, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "best-effort", "besteffort", "eventual":
		return BestEffort, nil
	case "strict":
		return Strict, nil
	default:
		return BestEffort, fmt.Errorf("unknown consistency %q: use strict or best-effort", s)
	}
}

// Listener receives crossing and reset events. Listeners run on the goroutine
// that caused the change, after the state lock has been released, and must
// not call RecordDetection or Reset.
type Listener func(Event)

// Option configures a State.
type Option func(*State)

// WithListener registers l for every crossing and reset.
func WithListener(l Listener) Option {
	return func(s *State) {
		if l != nil {
			s.listeners = append(s.listeners, l)
		}
	}
}

// WithClock sets the clock used to timestamp events.
func WithClock(c timeutil.Clock) Option {
	return func(s *State) {
		if c != nil {
			s.clock = c
		}
	}
}

// State is the counter shared between the frame pump (the only writer of
// detections) and the reporting surface (readers and resets). One mutex
// covers the whole read-modify-write of a frame.
type State struct {
	corridor zone.Corridor
	clock    timeutil.Clock

	mu      sync.Mutex
	counter Counter

	// published holds the snapshot taken at the end of the last mutation
	// and serves BestEffort reads under contention.
	published atomic.Pointer[Snapshot]

	// notifyMu is taken before mu is released so listeners observe events
	// in mutation order.
	notifyMu  sync.Mutex
	listeners []Listener
}

// NewState creates a State for the given corridor.
func NewState(corridor zone.Corridor, opts ...Option) *State {
	s := &State{
		corridor: corridor,
		clock:    timeutil.RealClock{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.publishLocked()
	return s
}

// Corridor returns the configured corridor.
func (s *State) Corridor() zone.Corridor {
	return s.corridor
}

// RecordDetection classifies the pixel x coordinate of a detected point and
// advances the counter. It returns the resulting event and true when the
// detection completed a crossing.
func (s *State) RecordDetection(x float64) (Event, bool) {
	region := s.corridor.Classify(x)

	s.mu.Lock()
	wasInitialized := s.counter.initialized
	dir := s.counter.Step(region)
	s.publishLocked()
	snap := s.counter.Snapshot()

	kind, crossed := eventKindFor(dir)
	if !crossed {
		s.mu.Unlock()
		if !wasInitialized {
			monitoring.Logf("[INIT] First detection - Region: %s", region)
		}
		return Event{}, false
	}

	ev := s.newEvent(kind, x, snap)
	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()

	monitoring.Logf("[%s DETECTED] Total IN: %d, OUT: %d, PRESENT: %d",
		strings.ToUpper(kind.String()), snap.In, snap.Out, snap.Present())
	s.notify(ev)
	return ev, true
}

// Snapshot reads the counter at the requested consistency level.
func (s *State) Snapshot(c Consistency) Snapshot {
	if c == Strict {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.counter.Snapshot()
	}

	if s.mu.TryLock() {
		defer s.mu.Unlock()
		return s.counter.Snapshot()
	}
	return *s.published.Load()
}

// Reset zeroes both counts and returns the counter to its uninitialized
// state. The next detection seeds the previous zone again.
func (s *State) Reset() Snapshot {
	s.mu.Lock()
	s.counter.Reset()
	s.publishLocked()
	snap := s.counter.Snapshot()
	ev := s.newEvent(EventReset, 0, snap)

	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()

	monitoring.Logf("[RESET] counters cleared")
	s.notify(ev)
	return snap
}

func (s *State) publishLocked() {
	snap := s.counter.Snapshot()
	s.published.Store(&snap)
}

func (s *State) newEvent(kind EventKind, x float64, snap Snapshot) Event {
	return Event{
		ID:      uuid.NewString(),
		Kind:    kind,
		At:      s.clock.Now().UTC(),
		X:       x,
		In:      snap.In,
		Out:     snap.Out,
		Present: snap.Present(),
	}
}

func (s *State) notify(ev Event) {
	for _, l := range s.listeners {
		l(ev)
	}
}

// Package trace keeps a bounded history of nose positions for debugging the
// corridor placement.
package trace

import (
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/footfall.report/internal/pump"
	"github.com/banshee-data/footfall.report/internal/zone"
)

// DefaultCapacity is about twenty seconds of detections at 30 fps.
const DefaultCapacity = 600

// Recorder is a fixed size ring of detections. Observe matches
// pump.Config.Observer.
type Recorder struct {
	mu    sync.Mutex
	buf   []pump.Detection
	next  int
	full  bool
	total uint64
}

// New returns a Recorder holding at most capacity detections.
func New(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Recorder{buf: make([]pump.Detection, capacity)}
}

// Observe appends d, overwriting the oldest detection when full.
func (r *Recorder) Observe(d pump.Detection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = d
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
	r.total++
}

// Capacity returns the ring size.
func (r *Recorder) Capacity() int { return len(r.buf) }

// Len returns the number of detections held.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lenLocked()
}

func (r *Recorder) lenLocked() int {
	if r.full {
		return len(r.buf)
	}
	return r.next
}

// Detections returns the held detections, oldest first.
func (r *Recorder) Detections() []pump.Detection {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]pump.Detection, 0, r.lenLocked())
	if r.full {
		out = append(out, r.buf[r.next:]...)
	}
	return append(out, r.buf[:r.next]...)
}

// Clear drops the held detections. Total is unaffected.
func (r *Recorder) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next = 0
	r.full = false
}

// Summary describes the held detections.
type Summary struct {
	Count          int       `json:"count"`
	Total          uint64    `json:"total"`
	Capacity       int       `json:"capacity"`
	MeanX          float64   `json:"mean_x"`
	StdDevX        float64   `json:"stddev_x"`
	MedianX        float64   `json:"median_x"`
	MinX           float64   `json:"min_x"`
	MaxX           float64   `json:"max_x"`
	InsideFraction float64   `json:"inside_fraction"`
	First          time.Time `json:"first,omitempty"`
	Last           time.Time `json:"last,omitempty"`
}

// Summary computes statistics of x against corridor. Statistics are zero
// when nothing has been observed.
func (r *Recorder) Summary(corridor zone.Corridor) Summary {
	r.mu.Lock()
	total := r.total
	r.mu.Unlock()
	ds := r.Detections()

	s := Summary{Count: len(ds), Total: total, Capacity: r.Capacity()}
	if len(ds) == 0 {
		return s
	}

	xs := make([]float64, len(ds))
	inside := 0
	for i, d := range ds {
		xs[i] = float64(d.X)
		if corridor.Classify(xs[i]) == zone.Inside {
			inside++
		}
	}
	s.MeanX, s.StdDevX = stat.MeanStdDev(xs, nil)
	if len(xs) == 1 {
		s.StdDevX = 0
	}
	s.MinX = floats.Min(xs)
	s.MaxX = floats.Max(xs)
	s.InsideFraction = float64(inside) / float64(len(xs))

	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	s.MedianX = stat.Quantile(0.5, stat.Empirical, sorted, nil)

	s.First = ds[0].At
	s.Last = ds[len(ds)-1].At
	return s
}

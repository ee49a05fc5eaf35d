package video

import (
	"time"

	"github.com/banshee-data/footfall.report/internal/timeutil"
)

// Synthetic produces a fixed number of blank frames and then reports
// ErrEndOfStream. It stands in for a real clip in development mode and tests.
type Synthetic struct {
	info   Info
	frames int
	pos    int
	seq    uint64
	clock  timeutil.Clock
	closed bool
}

// NewSynthetic returns a source of n blank width x height frames.
func NewSynthetic(n, width, height int, clock timeutil.Clock) *Synthetic {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Synthetic{
		info: Info{
			Name:   "synthetic",
			Width:  width,
			Height: height,
			FPS:    float64(time.Second / (33 * time.Millisecond)),
		},
		frames: n,
		clock:  clock,
	}
}

func (s *Synthetic) Read() (Frame, error) {
	if s.closed || s.pos >= s.frames {
		return Frame{}, ErrEndOfStream
	}
	s.pos++
	s.seq++
	return Frame{
		Seq:       s.seq,
		Timestamp: s.clock.Now(),
		Width:     s.info.Width,
		Height:    s.info.Height,
	}, nil
}

func (s *Synthetic) Rewind() error {
	s.pos = 0
	return nil
}

func (s *Synthetic) Info() Info { return s.info }

func (s *Synthetic) Close() error {
	s.closed = true
	return nil
}

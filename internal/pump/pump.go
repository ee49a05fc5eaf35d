// Package pump drives frames from a video source through the pose extractor
// into the shared counter.
package pump

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/footfall.report/internal/counter"
	"github.com/banshee-data/footfall.report/internal/monitoring"
	"github.com/banshee-data/footfall.report/internal/pose"
	"github.com/banshee-data/footfall.report/internal/timeutil"
	"github.com/banshee-data/footfall.report/internal/video"
)

// DefaultInterval is the nominal pause after every frame, about 30 fps.
const DefaultInterval = 33 * time.Millisecond

// Opener opens the video source. It is called once per Run.
type Opener func(ctx context.Context) (video.Source, error)

// Recorder receives pixel x coordinates of detections. *counter.State
// implements it.
type Recorder interface {
	RecordDetection(x float64) (counter.Event, bool)
}

// Detection is passed to the observer for every frame with a nose.
type Detection struct {
	Seq uint64
	At  time.Time
	X   int
	Y   int
}

// Config wires the pump's collaborators.
type Config struct {
	Open      Opener
	Extractor pose.Extractor
	Counter   Recorder
	// Interval defaults to DefaultInterval.
	Interval time.Duration
	// Clock defaults to the real clock.
	Clock timeutil.Clock
	// Observer, if set, sees every detection after it has been counted.
	Observer func(Detection)
}

// Stats are cumulative pump counters.
type Stats struct {
	Frames      uint64 `json:"frames"`
	Detections  uint64 `json:"detections"`
	Crossings   uint64 `json:"crossings"`
	FrameErrors uint64 `json:"frame_errors"`
	Rewinds     uint64 `json:"rewinds"`
}

// Pump is the single producer feeding the counter.
type Pump struct {
	cfg Config

	active atomic.Bool
	info   atomic.Pointer[video.Info]

	frames      atomic.Uint64
	detections  atomic.Uint64
	crossings   atomic.Uint64
	frameErrors atomic.Uint64
	rewinds     atomic.Uint64

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped bool
}

// New validates cfg and returns an idle pump.
func New(cfg Config) (*Pump, error) {
	if cfg.Open == nil {
		return nil, errors.New("pump: video opener is required")
	}
	if cfg.Extractor == nil {
		return nil, errors.New("pump: pose extractor is required")
	}
	if cfg.Counter == nil {
		return nil, errors.New("pump: counter is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &Pump{cfg: cfg}, nil
}

// Run opens the source and processes frames until ctx is cancelled or Stop
// is called. It returns an error only when the source cannot be opened; the
// pump is never active in that case and does not retry.
func (p *Pump) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.cancel = cancel
	p.mu.Unlock()

	src, err := p.cfg.Open(ctx)
	if err != nil {
		monitoring.Logf("[ERROR] Could not open video source: %v", err)
		return fmt.Errorf("open video source: %w", err)
	}
	defer func() {
		if err := src.Close(); err != nil {
			monitoring.Logf("close video source: %v", err)
		}
	}()

	info := src.Info()
	p.info.Store(&info)
	monitoring.Logf("video source opened: %s", info)

	p.active.Store(true)
	defer p.active.Store(false)

	rewindFailing := false
	for ctx.Err() == nil {
		if err := p.step(ctx, src); err != nil {
			if !rewindFailing {
				monitoring.Logf("rewind video source: %v", err)
			}
			rewindFailing = true
		} else {
			rewindFailing = false
		}

		if err := p.cfg.Clock.Sleep(ctx, p.cfg.Interval); err != nil {
			break
		}
	}
	monitoring.Logf("frame pump stopped after %d frames", p.frames.Load())
	return nil
}

// step handles one iteration. The returned error is a failed rewind.
func (p *Pump) step(ctx context.Context, src video.Source) error {
	frame, err := src.Read()
	if err != nil {
		if !errors.Is(err, video.ErrEndOfStream) {
			p.frameErrors.Add(1)
			monitoring.Logf("read frame: %v", err)
		}
		p.rewinds.Add(1)
		return src.Rewind()
	}

	p.frames.Add(1)
	p.process(ctx, frame)
	return nil
}

func (p *Pump) process(ctx context.Context, frame video.Frame) {
	defer func() {
		if r := recover(); r != nil {
			p.frameErrors.Add(1)
			monitoring.Logf("[ERROR] frame %d: recovered panic: %v", frame.Seq, r)
		}
	}()

	lm, ok, err := p.cfg.Extractor.Extract(ctx, frame)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.frameErrors.Add(1)
		monitoring.Logf("frame %d: pose extraction failed: %v", frame.Seq, err)
		return
	}
	if !ok {
		return
	}
	if frame.Width <= 0 || frame.Height <= 0 || !lm.Valid() {
		p.frameErrors.Add(1)
		monitoring.Logf("frame %d: malformed detection %+v in %dx%d frame", frame.Seq, lm, frame.Width, frame.Height)
		return
	}

	p.detections.Add(1)
	x, y := lm.Pixel(frame.Width, frame.Height)
	if _, crossed := p.cfg.Counter.RecordDetection(float64(x)); crossed {
		p.crossings.Add(1)
	}

	if p.cfg.Observer != nil {
		at := frame.Timestamp
		if at.IsZero() {
			at = p.cfg.Clock.Now()
		}
		p.cfg.Observer(Detection{Seq: frame.Seq, At: at, X: x, Y: y})
	}
}

// Stop ends a running Run, or prevents a later Run from starting.
func (p *Pump) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	if p.cancel != nil {
		p.cancel()
	}
}

// Active reports whether the source is open and frames are being processed.
func (p *Pump) Active() bool { return p.active.Load() }

// PoseActive reports whether the pose extractor can serve frames. Extractors
// without their own liveness are always active.
func (p *Pump) PoseActive() bool {
	if l, ok := p.cfg.Extractor.(interface{ Active() bool }); ok {
		return l.Active()
	}
	return true
}

// Info returns the opened source's description, if any.
func (p *Pump) Info() (video.Info, bool) {
	info := p.info.Load()
	if info == nil {
		return video.Info{}, false
	}
	return *info, true
}

// Stats returns the cumulative counters.
func (p *Pump) Stats() Stats {
	return Stats{
		Frames:      p.frames.Load(),
		Detections:  p.detections.Load(),
		Crossings:   p.crossings.Load(),
		FrameErrors: p.frameErrors.Load(),
		Rewinds:     p.rewinds.Load(),
	}
}

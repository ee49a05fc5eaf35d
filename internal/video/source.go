// Package video reads decoded frames from a file or capture device.
package video

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

var (
	// ErrEndOfStream is returned by Read when the source has no more frames.
	// Callers rewind and keep reading.
	ErrEndOfStream = errors.New("video: end of stream")

	// ErrCaptureUnavailable is returned by OpenCapture in builds without
	// OpenCV support.
	ErrCaptureUnavailable = errors.New("video: capture support not built in (rebuild with -tags opencv)")
)

// Frame is one decoded image. Data holds packed RGB pixels, row-major, and
// may be empty for synthetic sources.
type Frame struct {
	Seq       uint64
	Timestamp time.Time
	Width     int
	Height    int
	Data      []byte
}

// Info describes an opened source.
type Info struct {
	Name   string  `json:"name"`
	Device bool    `json:"device"`
	Width  int     `json:"width"`
	Height int     `json:"height"`
	FPS    float64 `json:"fps"`
}

func (i Info) String() string {
	return fmt.Sprintf("%s %dx%d @ %.1f fps", i.Name, i.Width, i.Height, i.FPS)
}

// Source yields frames in order. A Source is used from a single goroutine.
type Source interface {
	// Read returns the next frame, or ErrEndOfStream once the source is
	// exhausted. Other errors describe a failed read.
	Read() (Frame, error)
	// Rewind positions the source at its first frame.
	Rewind() error
	Info() Info
	Close() error
}

// ParseDevice reports whether name selects a capture device index rather
// than a file path.
func ParseDevice(name string) (int, bool) {
	id, err := strconv.Atoi(name)
	if err != nil || id < 0 {
		return 0, false
	}
	return id, true
}

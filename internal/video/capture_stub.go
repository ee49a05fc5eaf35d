//go:build !opencv

package video

import "fmt"

// CaptureAvailable reports whether OpenCapture can open files and devices.
const CaptureAvailable = false

// Capture is unavailable without the opencv build tag.
type Capture struct{}

// OpenCapture always fails in builds without OpenCV.
func OpenCapture(name string) (*Capture, error) {
	return nil, fmt.Errorf("open video %q: %w", name, ErrCaptureUnavailable)
}

func (c *Capture) Read() (Frame, error) { return Frame{}, ErrCaptureUnavailable }
func (c *Capture) Rewind() error        { return ErrCaptureUnavailable }
func (c *Capture) Info() Info           { return Info{} }
func (c *Capture) Close() error         { return nil }

//go:build opencv

package video

import (
	"fmt"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"
)

// CaptureAvailable reports whether OpenCapture can open files and devices.
const CaptureAvailable = true

// Capture reads frames through OpenCV.
type Capture struct {
	cap  *gocv.VideoCapture
	info Info
	bgr  gocv.Mat
	rgb  gocv.Mat
	seq  atomic.Uint64
}

// OpenCapture opens a video file, or a capture device when name is a
// non-negative integer.
func OpenCapture(name string) (*Capture, error) {
	var (
		vc  *gocv.VideoCapture
		err error
	)
	id, device := ParseDevice(name)
	if device {
		vc, err = gocv.VideoCaptureDevice(id)
	} else {
		vc, err = gocv.VideoCaptureFile(name)
	}
	if err != nil {
		return nil, fmt.Errorf("open video %q: %w", name, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("open video %q: capture did not open", name)
	}

	return &Capture{
		cap: vc,
		info: Info{
			Name:   name,
			Device: device,
			Width:  int(vc.Get(gocv.VideoCaptureFrameWidth)),
			Height: int(vc.Get(gocv.VideoCaptureFrameHeight)),
			FPS:    vc.Get(gocv.VideoCaptureFPS),
		},
		bgr: gocv.NewMat(),
		rgb: gocv.NewMat(),
	}, nil
}

// Read decodes the next frame and converts it to RGB.
func (c *Capture) Read() (Frame, error) {
	if ok := c.cap.Read(&c.bgr); !ok || c.bgr.Empty() {
		return Frame{}, ErrEndOfStream
	}
	gocv.CvtColor(c.bgr, &c.rgb, gocv.ColorBGRToRGB)

	// ToBytes copies out of the Mat, which is reused on the next Read.
	data := c.rgb.ToBytes()
	return Frame{
		Seq:       c.seq.Add(1),
		Timestamp: time.Now(),
		Width:     c.rgb.Cols(),
		Height:    c.rgb.Rows(),
		Data:      data,
	}, nil
}

// Rewind seeks back to frame zero. Devices ignore the seek.
func (c *Capture) Rewind() error {
	if c.info.Device {
		return nil
	}
	c.cap.Set(gocv.VideoCapturePosFrames, 0)
	return nil
}

func (c *Capture) Info() Info { return c.info }

func (c *Capture) Close() error {
	c.bgr.Close()
	c.rgb.Close()
	return c.cap.Close()
}

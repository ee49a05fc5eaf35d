// Package pose locates the nose landmark of the single person in a frame.
package pose

import (
	"context"
	"errors"
	"math"

	"github.com/banshee-data/footfall.report/internal/video"
)

// Pose landmark indices following the MediaPipe convention.
// See: https://developers.google.com/mediapipe/solutions/vision/pose_landmarker
const (
	Nose          = 0
	LeftEyeInner  = 1
	LeftEye       = 2
	LeftEyeOuter  = 3
	RightEyeInner = 4
	RightEye      = 5
	RightEyeOuter = 6
	LeftEar       = 7
	RightEar      = 8
	LeftShoulder  = 11
	RightShoulder = 12
	LeftHip       = 23
	RightHip      = 24
	NumLandmarks  = 33
)

// ErrWorkerNotRunning is returned by a WorkerExtractor with no live
// subprocess: it has exited and is backing off, hit its restart limit, or
// been closed.
var ErrWorkerNotRunning = errors.New("pose: worker not running")

// Landmark is a normalized image coordinate: X and Y are fractions of the
// frame width and height.
type Landmark struct {
	X          float64 `msgpack:"x" json:"x"`
	Y          float64 `msgpack:"y" json:"y"`
	Z          float64 `msgpack:"z" json:"z"`
	Visibility float64 `msgpack:"visibility" json:"visibility"`
}

// Pixel converts the landmark to integer pixel coordinates by truncation.
func (l Landmark) Pixel(width, height int) (x, y int) {
	return int(l.X * float64(width)), int(l.Y * float64(height))
}

// Valid reports whether the coordinates are finite.
func (l Landmark) Valid() bool {
	return !math.IsNaN(l.X) && !math.IsInf(l.X, 0) && !math.IsNaN(l.Y) && !math.IsInf(l.Y, 0)
}

// Extractor finds zero or one nose landmark per frame.
type Extractor interface {
	// Extract returns the nose landmark and true, or false when no person
	// was found. An error means the frame could not be processed.
	Extract(ctx context.Context, frame video.Frame) (Landmark, bool, error)

	// Close releases any resources held by the extractor.
	Close() error
}

// Package zone classifies a horizontal pixel coordinate against the doorway
// corridor drawn across the camera view.
package zone

import (
	"fmt"
	"math"
)

// Zone is the side of the corridor a tracked point is on.
type Zone int

const (
	Outside Zone = iota
	Inside
)

func (z Zone) String() string {
	switch z {
	case Outside:
		return "OUTSIDE"
	case Inside:
		return "INSIDE"
	default:
		return fmt.Sprintf("Zone(%d)", int(z))
	}
}

// Default boundaries, in pixels, for the reference 640px wide walkway clip.
const (
	DefaultLeftLineX  = 200
	DefaultRightLineX = 380
)

// Classify returns Inside when left <= x <= right. Both boundaries belong to
// the corridor.
func Classify(x, left, right float64) Zone {
	if left <= x && x <= right {
		return Inside
	}
	return Outside
}

// Corridor holds the two vertical boundary lines.
type Corridor struct {
	Left  float64 `json:"left_line_x"`
	Right float64 `json:"right_line_x"`
}

// DefaultCorridor returns the corridor used when nothing is configured.
func DefaultCorridor() Corridor {
	return Corridor{Left: DefaultLeftLineX, Right: DefaultRightLineX}
}

// Classify applies Classify with the corridor boundaries.
func (c Corridor) Classify(x float64) Zone {
	return Classify(x, c.Left, c.Right)
}

// Validate rejects boundaries that cannot describe a corridor.
func (c Corridor) Validate() error {
	if math.IsNaN(c.Left) || math.IsInf(c.Left, 0) {
		return fmt.Errorf("left line must be finite, got %v", c.Left)
	}
	if math.IsNaN(c.Right) || math.IsInf(c.Right, 0) {
		return fmt.Errorf("right line must be finite, got %v", c.Right)
	}
	if c.Left > c.Right {
		return fmt.Errorf("left line %v must not be greater than right line %v", c.Left, c.Right)
	}
	return nil
}

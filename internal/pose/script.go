package pose

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/banshee-data/footfall.report/internal/video"
)

// Script replays a fixed list of detections, one per frame, looping when
// exhausted. It backs development mode and tests where no pose model runs.
type Script struct {
	mu    sync.Mutex
	steps []scriptStep
	pos   int
}

type scriptStep struct {
	lm       Landmark
	detected bool
}

// NewScript builds a Script from normalized x positions. NaN entries are
// frames without a detection.
func NewScript(xs ...float64) *Script {
	s := &Script{}
	for _, x := range xs {
		if math.IsNaN(x) {
			s.steps = append(s.steps, scriptStep{})
			continue
		}
		s.steps = append(s.steps, scriptStep{
			lm:       Landmark{X: x, Y: 0.5, Visibility: 1},
			detected: true,
		})
	}
	return s
}

// LoadScript reads a fixture with one frame per line. A line holds "x y" or
// "x,y" as normalized coordinates, or "-" for no detection. Blank lines and
// lines starting with # are skipped.
func LoadScript(path string) (*Script, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pose script: %w", err)
	}
	defer f.Close()
	return ParseScript(f)
}

// ParseScript parses the LoadScript format.
func ParseScript(r io.Reader) (*Script, error) {
	s := &Script{}
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		if text == "-" {
			s.steps = append(s.steps, scriptStep{})
			continue
		}

		fields := strings.FieldsFunc(text, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' })
		if len(fields) == 0 || len(fields) > 2 {
			return nil, fmt.Errorf("pose script line %d: expected \"x y\" or \"-\", got %q", line, text)
		}
		x, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, fmt.Errorf("pose script line %d: %w", line, err)
		}
		y := 0.5
		if len(fields) == 2 {
			if y, err = strconv.ParseFloat(fields[1], 64); err != nil {
				return nil, fmt.Errorf("pose script line %d: %w", line, err)
			}
		}
		s.steps = append(s.steps, scriptStep{
			lm:       Landmark{X: x, Y: y, Visibility: 1},
			detected: true,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read pose script: %w", err)
	}
	if len(s.steps) == 0 {
		return nil, fmt.Errorf("pose script is empty")
	}
	return s, nil
}

// Len returns the number of scripted frames.
func (s *Script) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.steps)
}

func (s *Script) Extract(ctx context.Context, _ video.Frame) (Landmark, bool, error) {
	if err := ctx.Err(); err != nil {
		return Landmark{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.steps) == 0 {
		return Landmark{}, false, nil
	}
	step := s.steps[s.pos]
	s.pos = (s.pos + 1) % len(s.steps)
	return step.lm, step.detected, nil
}

func (s *Script) Close() error { return nil }

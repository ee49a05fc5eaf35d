package pose

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/footfall.report/internal/monitoring"
	"github.com/banshee-data/footfall.report/internal/video"
)

// TestHelperProcess is not a real test. It is re-executed by the worker
// tests as a stand-in pose worker.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("FOOTFALL_POSE_HELPER") != "1" {
		return
	}
	mode := os.Getenv("FOOTFALL_POSE_MODE")
	in := bufio.NewReader(os.Stdin)
	for {
		var req request
		if err := readMessage(in, &req); err != nil {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "frame %d %dx%d\n", req.Seq, req.Width, req.Height)

		resp := response{Seq: req.Seq}
		switch mode {
		case "hang":
			time.Sleep(time.Hour)
		case "error":
			resp.Error = "model not loaded"
		case "exit":
			os.Exit(3)
		case "slowfirst":
			if req.Seq == 1 {
				time.Sleep(2 * time.Second)
			}
			resp.Detected = true
			resp.Nose = Landmark{X: 0.25, Y: 0.5, Visibility: 0.95}
		case "lowvis":
			resp.Detected = true
			resp.Nose = Landmark{X: 0.5, Y: 0.5, Visibility: 0.1}
		default:
			// Odd frames carry a nose, even frames are empty.
			if req.Seq%2 == 1 {
				resp.Detected = true
				resp.Nose = Landmark{X: 0.25, Y: 0.5, Visibility: 0.95}
			}
		}
		if err := writeMessage(os.Stdout, resp); err != nil {
			os.Exit(1)
		}
	}
}

func startHelper(t *testing.T, mode string, timeout time.Duration) *WorkerExtractor {
	t.Helper()
	return startHelperWith(t, mode, WorkerConfig{Timeout: timeout})
}

func startHelperWith(t *testing.T, mode string, cfg WorkerConfig) *WorkerExtractor {
	t.Helper()
	t.Cleanup(monitoring.Mute())

	cfg.Command = os.Args[0]
	cfg.Args = []string{"-test.run=^TestHelperProcess$"}
	cfg.Env = []string{"FOOTFALL_POSE_HELPER=1", "FOOTFALL_POSE_MODE=" + mode}
	w, err := StartWorker(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func TestWorkerExtractor_Detections(t *testing.T) {
	w := startHelper(t, "", time.Second)
	ctx := context.Background()
	frame := video.Frame{Width: 640, Height: 360, Data: make([]byte, 640*360*3)}

	lm, ok, err := w.Extract(ctx, frame)
	require.NoError(t, err)
	require.True(t, ok)
	x, _ := lm.Pixel(frame.Width, frame.Height)
	assert.Equal(t, 160, x)

	_, ok, err = w.Extract(ctx, frame)
	require.NoError(t, err)
	assert.False(t, ok, "even frames carry no detection")
	assert.True(t, w.Active())
}

func TestWorkerExtractor_Visibility(t *testing.T) {
	tests := []struct {
		name          string
		minVisibility float64
		wantDetected  bool
	}{
		{"zero accepts any nose", 0, true},
		{"threshold above nose", 0.5, false},
		{"threshold below nose", 0.05, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := startHelperWith(t, "lowvis", WorkerConfig{Timeout: time.Second, MinVisibility: tt.minVisibility})
			lm, ok, err := w.Extract(context.Background(), video.Frame{Width: 4, Height: 4})
			require.NoError(t, err)
			assert.Equal(t, tt.wantDetected, ok)
			if ok {
				assert.Equal(t, 0.1, lm.Visibility)
			}
		})
	}
}

func TestWorkerExtractor_WorkerError(t *testing.T) {
	w := startHelper(t, "error", time.Second)
	_, _, err := w.Extract(context.Background(), video.Frame{Width: 4, Height: 4})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model not loaded")
	assert.Equal(t, uint64(1), w.Failures())
	assert.True(t, w.Active(), "a reported error does not stop the worker")
}

func TestWorkerExtractor_TimeoutRespawns(t *testing.T) {
	w := startHelper(t, "slowfirst", 500*time.Millisecond)
	ctx := context.Background()
	frame := video.Frame{Seq: 1, Width: 640, Height: 360}

	_, _, err := w.Extract(ctx, frame)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
	assert.False(t, w.Active())

	for seq := uint64(2); seq <= 4; seq++ {
		frame.Seq = seq
		lm, ok, err := w.Extract(ctx, frame)
		require.NoError(t, err, "frame %d", seq)
		require.True(t, ok, "frame %d", seq)
		x, _ := lm.Pixel(frame.Width, frame.Height)
		assert.Equal(t, 160, x)
	}
	assert.True(t, w.Active())
	assert.Equal(t, uint64(1), w.Restarts())
	assert.Equal(t, uint64(1), w.Failures())
}

func TestWorkerExtractor_HangNeverBlocksPastTimeout(t *testing.T) {
	w := startHelper(t, "hang", 100*time.Millisecond)
	for i := 0; i < 2; i++ {
		start := time.Now()
		_, _, err := w.Extract(context.Background(), video.Frame{Width: 4, Height: 4})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "timed out")
		assert.Less(t, time.Since(start), 2*time.Second)
	}
	assert.Equal(t, uint64(1), w.Restarts())
}

func TestWorkerExtractor_ExitBacksOff(t *testing.T) {
	w := startHelperWith(t, "exit", WorkerConfig{Timeout: time.Second, RestartBackoff: time.Hour})
	_, _, err := w.Extract(context.Background(), video.Frame{Width: 4, Height: 4})
	require.Error(t, err)

	require.Eventually(t, func() bool { return !w.Active() }, 2*time.Second, 10*time.Millisecond)
	_, _, err = w.Extract(context.Background(), video.Frame{Width: 4, Height: 4})
	assert.ErrorIs(t, err, ErrWorkerNotRunning)
	assert.Contains(t, err.Error(), "restarting in")
	assert.Zero(t, w.Restarts())
}

func TestWorkerExtractor_RestartLimit(t *testing.T) {
	w := startHelperWith(t, "exit", WorkerConfig{Timeout: time.Second, MaxRestarts: 1})
	frame := video.Frame{Width: 4, Height: 4}

	_, _, err := w.Extract(context.Background(), frame)
	require.Error(t, err)
	require.Eventually(t, func() bool { return !w.Active() }, 2*time.Second, 10*time.Millisecond)

	// The one allowed respawn exits again.
	_, _, err = w.Extract(context.Background(), frame)
	require.Error(t, err)
	assert.Equal(t, uint64(1), w.Restarts())
	require.Eventually(t, func() bool { return !w.Active() }, 2*time.Second, 10*time.Millisecond)

	_, _, err = w.Extract(context.Background(), frame)
	assert.ErrorIs(t, err, ErrWorkerNotRunning)
	assert.Contains(t, err.Error(), "restart limit")
}

func TestWorkerExtractor_NoRespawnAfterClose(t *testing.T) {
	w := startHelper(t, "", time.Second)
	require.NoError(t, w.Close())
	require.Eventually(t, func() bool { return !w.Active() }, 2*time.Second, 10*time.Millisecond)

	_, _, err := w.Extract(context.Background(), video.Frame{Width: 4, Height: 4})
	assert.True(t, errors.Is(err, ErrWorkerNotRunning), "got %v", err)
	assert.Zero(t, w.Restarts())
}

func TestStartWorker_Errors(t *testing.T) {
	_, err := StartWorker(context.Background(), WorkerConfig{})
	assert.Error(t, err)

	_, err = StartWorker(context.Background(), WorkerConfig{Command: "/nonexistent/pose-worker"})
	assert.Error(t, err)
}

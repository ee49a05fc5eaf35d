package pose

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/footfall.report/internal/monitoring"
	"github.com/banshee-data/footfall.report/internal/video"
)

// DefaultWorkerTimeout bounds one frame round trip to the worker.
const DefaultWorkerTimeout = 2 * time.Second

// WorkerConfig describes the pose worker subprocess.
type WorkerConfig struct {
	// Command and Args start the worker, e.g. python3 scripts/pose_worker.py.
	Command string
	Args    []string
	// Env is appended to the current environment.
	Env []string
	// Timeout bounds each Extract call. Defaults to DefaultWorkerTimeout.
	Timeout time.Duration
	// MinVisibility filters low-confidence noses. Zero accepts every nose
	// the worker reports.
	MinVisibility float64
	// RestartBackoff is the minimum time between two spawns. Frames that
	// arrive while a dead worker is backing off fail with
	// ErrWorkerNotRunning.
	RestartBackoff time.Duration
	// MaxRestarts caps how often a dead worker is respawned. Zero means no
	// limit.
	MaxRestarts int
}

// workerProcess is one running instance of the worker command.
type workerProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	exited chan struct{}
	killed atomic.Bool
	once   sync.Once
}

// done reports whether the process has exited or been killed.
func (p *workerProcess) done() bool {
	if p.killed.Load() {
		return true
	}
	select {
	case <-p.exited:
		return true
	default:
		return false
	}
}

func (p *workerProcess) kill() {
	p.killed.Store(true)
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
}

func (p *workerProcess) closeStdin() {
	p.once.Do(func() { _ = p.stdin.Close() })
}

// WorkerExtractor runs pose estimation in a subprocess that speaks
// length-prefixed msgpack over stdin and stdout. Requests are synchronous:
// one frame in flight at a time. A worker that exits, hangs or answers out
// of order is killed and respawned on a later frame.
type WorkerExtractor struct {
	cfg WorkerConfig
	ctx context.Context

	mu        sync.Mutex
	lastStart time.Time
	closed    bool

	current  atomic.Pointer[workerProcess]
	requests atomic.Uint64
	failures atomic.Uint64
	restarts atomic.Uint64
}

// StartWorker spawns the worker process. Workers are killed when ctx is
// cancelled and are not respawned after that.
func StartWorker(ctx context.Context, cfg WorkerConfig) (*WorkerExtractor, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("pose worker command is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultWorkerTimeout
	}

	w := &WorkerExtractor{cfg: cfg, ctx: ctx}
	if _, err := w.spawn(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *WorkerExtractor) spawn() (*workerProcess, error) {
	w.lastStart = time.Now()

	cmd := exec.CommandContext(w.ctx, w.cfg.Command, w.cfg.Args...)
	cmd.Env = append(os.Environ(), w.cfg.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start pose worker: %w", err)
	}

	p := &workerProcess{
		cmd:    cmd,
		stdin:  stdin,
		stdout: bufio.NewReader(stdout),
		exited: make(chan struct{}),
	}
	w.current.Store(p)

	go logStderr(stderr)
	go waitProcess(p)

	monitoring.Logf("pose worker started: pid=%d cmd=%s", cmd.Process.Pid, w.cfg.Command)
	return p, nil
}

// ensureRunning returns the live worker, respawning a dead one when the
// restart policy allows. Callers hold w.mu.
func (w *WorkerExtractor) ensureRunning() (*workerProcess, error) {
	if p := w.current.Load(); p != nil && !p.done() {
		return p, nil
	}
	if w.closed || w.ctx.Err() != nil {
		return nil, ErrWorkerNotRunning
	}
	if limit := w.cfg.MaxRestarts; limit > 0 && w.restarts.Load() >= uint64(limit) {
		return nil, fmt.Errorf("%w: restart limit %d reached", ErrWorkerNotRunning, limit)
	}
	if remaining := w.cfg.RestartBackoff - time.Since(w.lastStart); remaining > 0 {
		return nil, fmt.Errorf("%w: restarting in %v", ErrWorkerNotRunning, remaining.Round(time.Millisecond))
	}

	n := w.restarts.Add(1)
	p, err := w.spawn()
	if err != nil {
		return nil, fmt.Errorf("%w: restart %d failed: %v", ErrWorkerNotRunning, n, err)
	}
	monitoring.Logf("pose worker restarted (%d so far)", n)
	return p, nil
}

// Extract sends the frame to the worker and waits for its answer.
func (w *WorkerExtractor) Extract(ctx context.Context, frame video.Frame) (Landmark, bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	p, err := w.ensureRunning()
	if err != nil {
		return Landmark{}, false, err
	}

	seq := w.requests.Add(1)
	req := request{
		Seq:       seq,
		Width:     frame.Width,
		Height:    frame.Height,
		FrameData: frame.Data,
	}

	type result struct {
		resp response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		if err := writeMessage(p.stdin, req); err != nil {
			done <- result{err: err}
			return
		}
		var resp response
		err := readMessage(p.stdout, &resp)
		done <- result{resp: resp, err: err}
	}()

	timer := time.NewTimer(w.cfg.Timeout)
	defer timer.Stop()

	var r result
	select {
	case r = <-done:
	case <-timer.C:
		w.failures.Add(1)
		// A late answer would desynchronise the stream, so this process is
		// replaced on the next frame.
		p.kill()
		return Landmark{}, false, fmt.Errorf("pose worker timed out after %v on frame %d", w.cfg.Timeout, frame.Seq)
	case <-ctx.Done():
		p.kill()
		return Landmark{}, false, ctx.Err()
	case <-p.exited:
		w.failures.Add(1)
		return Landmark{}, false, fmt.Errorf("%w: exited during frame %d", ErrWorkerNotRunning, frame.Seq)
	}

	if r.err != nil {
		w.failures.Add(1)
		if p.done() {
			return Landmark{}, false, fmt.Errorf("%w: %v", ErrWorkerNotRunning, r.err)
		}
		p.kill()
		return Landmark{}, false, fmt.Errorf("pose worker exchange: %w", r.err)
	}
	if r.resp.Seq != seq {
		w.failures.Add(1)
		p.kill()
		return Landmark{}, false, fmt.Errorf("pose worker answered seq %d, want %d", r.resp.Seq, seq)
	}
	if r.resp.Error != "" {
		w.failures.Add(1)
		return Landmark{}, false, fmt.Errorf("pose worker: %s", r.resp.Error)
	}

	nose := r.resp.Nose
	if !r.resp.Detected || !nose.Valid() || nose.Visibility < w.cfg.MinVisibility {
		return Landmark{}, false, nil
	}
	return nose, true, nil
}

// Active reports whether a worker process is running.
func (w *WorkerExtractor) Active() bool {
	p := w.current.Load()
	return p != nil && !p.done()
}

// Failures returns the number of failed exchanges.
func (w *WorkerExtractor) Failures() uint64 { return w.failures.Load() }

// Restarts returns how many times a dead worker has been respawned.
func (w *WorkerExtractor) Restarts() uint64 { return w.restarts.Load() }

// Close closes the worker's stdin and waits up to two seconds for it to exit
// before killing it. No worker is spawned after Close.
func (w *WorkerExtractor) Close() error {
	w.mu.Lock()
	w.closed = true
	p := w.current.Load()
	w.mu.Unlock()

	if p == nil {
		return nil
	}
	p.closeStdin()
	select {
	case <-p.exited:
	case <-time.After(2 * time.Second):
		monitoring.Logf("pose worker did not exit, killing pid=%d", p.cmd.Process.Pid)
		p.kill()
		<-p.exited
	}
	return nil
}

func waitProcess(p *workerProcess) {
	err := p.cmd.Wait()
	close(p.exited)

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		monitoring.Logf("pose worker exited: pid=%d", p.cmd.Process.Pid)
	case errors.As(err, &exitErr):
		monitoring.Logf("pose worker exited: pid=%d: %v", p.cmd.Process.Pid, exitErr)
	default:
		monitoring.Logf("pose worker wait failed: %v", err)
	}
}

func logStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		monitoring.Logf("[pose-worker] %s", line)
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		monitoring.Logf("pose worker stderr: %v", err)
	}
}

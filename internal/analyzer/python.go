package analyzer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ErrWorkerStopped is returned by Analyze after Close.
var ErrWorkerStopped = errors.New("analyzer: worker stopped")

// PythonConfig configures the detector subprocess
type PythonConfig struct {
	// Command is the worker entrypoint (default models/run_worker.sh)
	Command string `yaml:"command"`
	// Args are appended after --model and --confidence
	Args []string `yaml:"args"`
	// Model is the model path passed to the worker
	Model string `yaml:"model"`
	// Confidence is the worker's default threshold; requests carry their own
	Confidence float64 `yaml:"confidence"`
	// JPEGQuality is used to encode frames sent to the worker
	JPEGQuality int `yaml:"jpeg_quality"`
	// WriteTimeout bounds a request write (default 2s)
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// CallTimeout bounds the wait for a response (default 10s)
	CallTimeout time.Duration `yaml:"call_timeout"`
}

// PythonDetector runs person detection in a long-lived worker process.
//
// Requests are JPEG frames framed as 4-byte big-endian length + msgpack body
// on the worker's stdin; responses come back the same way on stdout. Calls
// are serialized: the pipe carries one request at a time. A worker that hangs
// or crashes is killed and restarted on the next call.
type PythonDetector struct {
	cfg PythonConfig

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex // serializes calls, guards proc
	proc   *workerProcess
	seq    uint64
	closed bool

	calls          uint64
	failures       uint64
	restarts       uint64
	totalLatencyMS uint64
	lastSeenAt     atomic.Value // time.Time
}

type workerProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	done   chan struct{}
}

// NewPythonDetector creates a detector; the process is spawned by Start or on first use.
func NewPythonDetector(cfg PythonConfig) (*PythonDetector, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("analyzer: model path is required")
	}
	if cfg.Command == "" {
		cfg.Command = "models/run_worker.sh"
	}
	if cfg.Confidence <= 0 {
		cfg.Confidence = 0.25
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = 85
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 2 * time.Second
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &PythonDetector{cfg: cfg, ctx: ctx, cancel: cancel}
	d.lastSeenAt.Store(time.Time{})

	slog.Info("analyzer: python detector created",
		"command", cfg.Command,
		"model", cfg.Model,
		"confidence", cfg.Confidence,
	)
	return d, nil
}

// Start spawns the worker process eagerly so the first job does not pay the model load.
func (d *PythonDetector) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrWorkerStopped
	}
	if d.proc != nil {
		return nil
	}
	return d.spawn()
}

// spawn must be called with d.mu held.
func (d *PythonDetector) spawn() error {
	args := append([]string{
		"--model", d.cfg.Model,
		"--confidence", fmt.Sprintf("%.2f", d.cfg.Confidence),
	}, d.cfg.Args...)

	cmd := exec.CommandContext(d.ctx, d.cfg.Command, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start worker process: %w", err)
	}

	p := &workerProcess{
		cmd:    cmd,
		stdin:  stdin,
		stdout: bufio.NewReader(stdout),
		done:   make(chan struct{}),
	}
	d.proc = p

	go logStderr(stderr, cmd.Process.Pid)
	go d.waitProcess(p)

	slog.Info("analyzer: worker process spawned", "pid", cmd.Process.Pid)
	return nil
}

// Analyze sends one frame to the worker and waits for its detections.
func (d *PythonDetector) Analyze(ctx context.Context, img image.Image, confidence float64) (Result, error) {
	jpegData, err := EncodeJPEG(img, d.cfg.JPEGQuality)
	if err != nil {
		return Result{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return Result{}, ErrWorkerStopped
	}
	if d.proc == nil {
		atomic.AddUint64(&d.restarts, 1)
		if err := d.spawn(); err != nil {
			atomic.AddUint64(&d.failures, 1)
			return Result{}, fmt.Errorf("analyzer: %w", err)
		}
	}

	atomic.AddUint64(&d.calls, 1)
	d.seq++
	bounds := img.Bounds()
	req := request{
		FrameData:  jpegData,
		Width:      bounds.Dx(),
		Height:     bounds.Dy(),
		Confidence: confidence,
		Meta:       requestMeta{Seq: d.seq},
	}

	resp, err := d.roundTrip(ctx, req)
	if err != nil {
		atomic.AddUint64(&d.failures, 1)
		// The pipe may hold a partial message: drop the process so the next
		// call starts from a clean stream.
		d.killLocked("round trip failed")
		return Result{}, fmt.Errorf("analyzer: %w", err)
	}
	if resp.Error != "" {
		atomic.AddUint64(&d.failures, 1)
		return Result{}, fmt.Errorf("analyzer: worker error: %s", resp.Error)
	}

	atomic.AddUint64(&d.totalLatencyMS, uint64(resp.Timing.TotalMS))
	d.lastSeenAt.Store(time.Now())

	return Result{Count: resp.Data.PersonCount, Boxes: resp.Data.Detections}, nil
}

func (d *PythonDetector) roundTrip(ctx context.Context, req request) (response, error) {
	p := d.proc

	writeErr := make(chan error, 1)
	go func() { writeErr <- writeMessage(p.stdin, req) }()

	select {
	case err := <-writeErr:
		if err != nil {
			return response{}, err
		}
	case <-time.After(d.cfg.WriteTimeout):
		return response{}, fmt.Errorf("stdin write timeout (worker may be hung)")
	case <-p.done:
		return response{}, fmt.Errorf("worker process exited")
	case <-ctx.Done():
		return response{}, ctx.Err()
	}

	type readResult struct {
		resp response
		err  error
	}
	readDone := make(chan readResult, 1)
	go func() {
		var resp response
		err := readMessage(p.stdout, &resp)
		readDone <- readResult{resp, err}
	}()

	select {
	case r := <-readDone:
		return r.resp, r.err
	case <-time.After(d.cfg.CallTimeout):
		return response{}, fmt.Errorf("no response within %s", d.cfg.CallTimeout)
	case <-ctx.Done():
		return response{}, ctx.Err()
	}
}

// killLocked must be called with d.mu held.
func (d *PythonDetector) killLocked(reason string) {
	p := d.proc
	if p == nil {
		return
	}
	d.proc = nil

	p.stdin.Close()
	select {
	case <-p.done:
	default:
		slog.Warn("analyzer: killing worker process", "pid", p.cmd.Process.Pid, "reason", reason)
		p.cmd.Process.Kill()
		<-p.done
	}
}

// waitProcess waits for the worker process to exit and prevents zombie processes
func (d *PythonDetector) waitProcess(p *workerProcess) {
	err := p.cmd.Wait()
	close(p.done)

	pid := p.cmd.Process.Pid
	switch {
	case d.ctx.Err() != nil:
		slog.Debug("analyzer: worker process exited (shutdown)", "pid", pid)
	case err != nil:
		slog.Error("analyzer: worker process exited unexpectedly", "pid", pid, "error", err)
	default:
		slog.Info("analyzer: worker process exited cleanly", "pid", pid)
	}

	// An unexpected exit leaves d.proc pointing at a dead process; clear it so
	// the next call respawns.
	d.mu.Lock()
	if d.proc == p {
		d.proc = nil
	}
	d.mu.Unlock()
}

// logStderr maps the worker's log levels to slog levels
func logStderr(stderr io.Reader, pid int) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.Contains(line, "[ERROR]"), strings.Contains(line, "[CRITICAL]"):
			slog.Error("analyzer: worker error", "pid", pid, "log", line)
		case strings.Contains(line, "[WARNING]"), strings.Contains(line, "[WARN]"):
			slog.Warn("analyzer: worker warning", "pid", pid, "log", line)
		default:
			slog.Debug("analyzer: worker log", "pid", pid, "log", line)
		}
	}
}

// Metrics returns current worker health metrics
func (d *PythonDetector) Metrics() Metrics {
	calls := atomic.LoadUint64(&d.calls)
	failures := atomic.LoadUint64(&d.failures)
	totalLatencyMS := atomic.LoadUint64(&d.totalLatencyMS)

	var avg float64
	if ok := calls - failures; ok > 0 {
		avg = float64(totalLatencyMS) / float64(ok)
	}

	return Metrics{
		Calls:        calls,
		Failures:     failures,
		Restarts:     atomic.LoadUint64(&d.restarts),
		AvgLatencyMS: avg,
		LastSeenAt:   d.lastSeenAt.Load().(time.Time),
	}
}

// Close stops the worker: stdin is closed so it can exit on its own, and it
// is killed if it is still running after a 2s grace period.
func (d *PythonDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true

	p := d.proc
	d.proc = nil
	if p != nil {
		p.stdin.Close()
		select {
		case <-p.done:
		case <-time.After(2 * time.Second):
			slog.Warn("analyzer: worker did not exit, forcing kill", "pid", p.cmd.Process.Pid)
			p.cmd.Process.Kill()
			<-p.done
		}
	}
	d.cancel()
	return nil
}

// Package engine runs one job: acquire the source, sample and analyze frames,
// annotate, write the output artifact and fan events out.
//
// Each job runs on its own goroutine and owns its capture, writer and frame
// buffers. The only state shared with the rest of the process is the job
// itself (counters, status, event bus and latest-frame snapshot).
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/e7canasta/orion-people-counter/internal/analyzer"
	"github.com/e7canasta/orion-people-counter/internal/history"
	"github.com/e7canasta/orion-people-counter/internal/job"
	"github.com/e7canasta/orion-people-counter/internal/observability"
	"github.com/e7canasta/orion-people-counter/internal/writer"
	"github.com/e7canasta/orion-people-counter/modules/framebus"
	streamcapture "github.com/e7canasta/orion-people-counter/modules/stream-capture"
)

// Defaults applied by New.
const (
	DefaultConfidence  = 0.25
	DefaultJPEGQuality = 80
	uploadTimeout      = 2 * time.Minute
	recordTimeout      = 10 * time.Second
)

// CancelledMessage is the terminal message of jobs stopped by shutdown.
const CancelledMessage = "job cancelled: service shutting down"

// Config holds engine settings
type Config struct {
	// Capture timeouts passed to acquisition
	Capture streamcapture.Options
	// OutputDir receives annotated video artifacts
	OutputDir string
	// JPEGQuality of latest-frame snapshots
	JPEGQuality int
}

// Uploader copies a finished artifact to object storage.
type Uploader interface {
	Upload(ctx context.Context, jobID, path, contentType string) (string, error)
}

// Deps are the collaborators of the engine. Opener and Analyzer are required.
type Deps struct {
	Opener   streamcapture.Opener
	Analyzer analyzer.Analyzer
	// Writers opens output encoders; nil disables artifacts
	Writers writer.Opener
	// History records completed file-backed jobs; optional
	History history.Recorder
	// StreamLog records finished stream jobs; optional
	StreamLog history.StreamLog
	// Uploader copies artifacts to object storage; optional
	Uploader Uploader
	// Metrics may be nil
	Metrics *observability.Registry
}

// Request is one job submission
type Request struct {
	Job    *job.Job
	Source streamcapture.Source
	// TempInput is deleted when the worker exits (uploaded files)
	TempInput string
	// OriginalURL is the submitted URL when Source.URI was resolved from it
	OriginalURL string
	// SampleFPS is the requested analysis rate (0: every frame)
	SampleFPS float64
	// MaxDuration stops the job normally once exceeded (0: unlimited)
	MaxDuration time.Duration
	// Confidence is the detection threshold (0: DefaultConfidence)
	Confidence float64
}

// Engine runs job workers
type Engine struct {
	cfg  Config
	deps Deps
	wg   sync.WaitGroup
}

// New creates an engine with fail-fast validation.
func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Opener == nil {
		return nil, fmt.Errorf("engine: capture opener is required")
	}
	if deps.Analyzer == nil {
		return nil, fmt.Errorf("engine: analyzer is required")
	}
	if deps.Writers != nil && cfg.OutputDir == "" {
		return nil, fmt.Errorf("engine: output dir is required when writers are enabled")
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = DefaultJPEGQuality
	}
	return &Engine{cfg: cfg, deps: deps}, nil
}

// Submit starts the job's worker goroutine. ctx is the process-wide root
// context: cancelling it cancels every running job.
func (e *Engine) Submit(ctx context.Context, req Request) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.Run(ctx, req)
	}()
}

// Wait blocks until every submitted worker has exited.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Run processes one job to a terminal status. It always releases the
// capture and writer, deletes the temp input and emits exactly one terminal
// event, whatever the exit path.
func (e *Engine) Run(ctx context.Context, req Request) {
	j := req.Job
	kind := string(j.Source.Kind)
	labels := map[string]string{"kind": kind}

	ctx, span := observability.StartSpan(ctx, "engine.job",
		attribute.String("job.id", j.ID),
		attribute.String("job.kind", kind),
		attribute.Bool("source.live", req.Source.Live),
	)
	defer span.End()

	e.deps.Metrics.IncCounter(observability.JobsStarted, labels, 1)
	e.deps.Metrics.AddGauge(observability.JobsActive, nil, 1)
	defer e.deps.Metrics.AddGauge(observability.JobsActive, nil, -1)

	w := &worker{engine: e, req: req, job: j}

	var err error
	func() {
		defer w.release()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("engine: worker panic", "job_id", j.ID, "panic", r)
				err = fmt.Errorf("internal error: %v", r)
			}
		}()
		err = w.loop(ctx)
	}()

	switch {
	case err == nil:
		j.Finish()
	case ctx.Err() != nil:
		j.Cancel(CancelledMessage)
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		j.Fail(err.Error())
	}

	status := j.Status()
	current, maxCount, frames := j.Counts()
	span.SetAttributes(
		attribute.String("job.status", string(status)),
		attribute.Int("job.frames", frames),
		attribute.Int("job.max_count", maxCount),
	)
	e.deps.Metrics.IncCounter(observability.JobsFinished, map[string]string{"kind": kind, "status": string(status)}, 1)
	e.deps.Metrics.SetGauge(observability.JobLastMaxCount, labels, float64(maxCount))
	e.publishBusStats(j)

	slog.Info("engine: job finished",
		"job_id", j.ID,
		"kind", kind,
		"status", status,
		"frames", frames,
		"current_count", current,
		"max_count", maxCount,
		"elapsed", j.Elapsed(),
		"error", err,
	)

	e.afterRun(context.WithoutCancel(ctx), req, w.duration())
}

// afterRun records the job in history and the stream log and uploads its artifact.
func (e *Engine) afterRun(ctx context.Context, req Request, duration *float64) {
	j := req.Job
	snap := j.Snapshot()

	if j.Source.Kind == job.KindStream {
		if e.deps.StreamLog != nil {
			entry := history.StreamEntry{
				JobID:    j.ID,
				URL:      req.Source.URI,
				Status:   string(snap.Status),
				MaxCount: snap.MaxCount,
				Frames:   snap.Frames,
			}
			if req.OriginalURL != "" && req.OriginalURL != req.Source.URI {
				entry.URL, entry.ResolvedURL = req.OriginalURL, req.Source.URI
			}
			if snap.Error != nil {
				entry.Error = *snap.Error
			}
			rctx, cancel := context.WithTimeout(ctx, recordTimeout)
			if err := e.deps.StreamLog.Append(rctx, entry); err != nil {
				slog.Warn("engine: stream log append failed", "job_id", j.ID, "error", err)
			}
			cancel()
		}
		return
	}

	if snap.Status != job.StatusDone {
		return
	}

	if e.deps.History != nil {
		rctx, cancel := context.WithTimeout(ctx, recordTimeout)
		err := e.deps.History.Record(rctx, history.Entry{
			Type:        string(j.Source.Kind),
			Filename:    j.Source.Name,
			DurationSec: duration,
			PeopleCount: snap.MaxCount,
		})
		cancel()
		if err != nil {
			slog.Warn("engine: history record failed", "job_id", j.ID, "error", err)
		}
	}

	if out, ok := j.Output(); ok && e.deps.Uploader != nil {
		uctx, cancel := context.WithTimeout(ctx, uploadTimeout)
		object, err := e.deps.Uploader.Upload(uctx, j.ID, out.Path, out.MediaType)
		cancel()
		if err != nil {
			slog.Warn("engine: artifact upload failed", "job_id", j.ID, "path", out.Path, "error", err)
			return
		}
		slog.Info("engine: artifact uploaded", "job_id", j.ID, "object", object)
	}
}

func (e *Engine) publishBusStats(j *job.Job) {
	stats := j.Bus().Stats()
	if stats.TotalDropped == 0 {
		return
	}
	e.deps.Metrics.IncCounter(observability.EventsDropped, nil, float64(stats.TotalDropped))
	slog.Warn("engine: push subscribers dropped events",
		"job_id", j.ID,
		"dropped", stats.TotalDropped,
		"drop_rate", framebus.CalculateDropRate(stats),
		"saturated", framebus.SaturatedSubscribers(stats, 0.5),
	)
}

// worker is the per-job state of one Run
type worker struct {
	engine *Engine
	req    Request
	job    *job.Job

	capture streamcapture.Capture
	info    streamcapture.Info
	out     writer.Writer
}

// duration is the submitted source duration, else the decoded length at the
// native rate. Nil when neither is known.
func (w *worker) duration() *float64 {
	if d := w.job.Source.DurationSec; d != nil {
		return d
	}
	_, _, frames := w.job.Counts()
	if w.info.FPS <= 0 || frames == 0 {
		return nil
	}
	d := math.Round(float64(frames)/w.info.FPS*100) / 100
	return &d
}

// loop runs the frame state machine until the source ends (nil), the time
// budget expires (nil), ctx is cancelled (ctx error) or a step fails.
func (w *worker) loop(ctx context.Context) error {
	e := w.engine
	j := w.job
	src := w.req.Source

	confidence := w.req.Confidence
	if confidence <= 0 {
		confidence = DefaultConfidence
	}

	actx, span := observability.StartSpan(ctx, "engine.acquire", attribute.String("source.uri", src.URI))
	capture, err := streamcapture.Acquire(actx, e.deps.Opener, src, e.cfg.Capture)
	e.deps.Metrics.IncCounter(observability.CaptureAttempts, map[string]string{"ok": fmt.Sprint(err == nil)}, 1)
	span.End()
	if err != nil {
		return err
	}
	w.capture = capture

	info := capture.Info()
	w.info = info
	sampler := NewSampler(src.Live, info.FPS, w.req.SampleFPS)

	// Live sources are never paced beyond their own delivery rate
	var frameDur time.Duration
	if !src.Live {
		frameDur = info.FrameDuration()
		w.negotiateOutput(ctx, info)
	}

	slog.Info("engine: job started",
		"job_id", j.ID,
		"backend", info.Backend,
		"width", info.Width,
		"height", info.Height,
		"native_fps", info.FPS,
		"sample_fps", w.req.SampleFPS,
		"stride", Stride(info.FPS, w.req.SampleFPS),
		"max_duration", w.req.MaxDuration,
	)

	labels := map[string]string{"kind": string(j.Source.Kind)}
	start := time.Now()
	var boxes []analyzer.Box

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if w.req.MaxDuration > 0 && time.Since(start) >= w.req.MaxDuration {
			slog.Debug("engine: time budget reached", "job_id", j.ID)
			return nil
		}

		iterStart := time.Now()
		frame, err := capture.Read(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read frame: %w", err)
		}

		index := j.AddFrame()
		e.deps.Metrics.IncCounter(observability.FramesRead, labels, 1)
		img := frame.Image()

		analyzed := sampler.Sample(index, time.Now())
		var current, maxCount int
		if analyzed {
			res, err := e.deps.Analyzer.Analyze(ctx, img, confidence)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				e.deps.Metrics.IncCounter(observability.AnalysisFailures, labels, 1)
				return fmt.Errorf("analyze frame %d: %w", index, err)
			}
			e.deps.Metrics.IncCounter(observability.FramesAnalyzed, labels, 1)
			current, maxCount = j.Observe(res.Count)
			boxes = res.Boxes
		}

		// Boxes persist between analysis passes
		analyzer.Annotate(img, boxes)

		if w.out != nil {
			if err := w.out.Write(img); err != nil {
				return fmt.Errorf("write frame %d: %w", index, err)
			}
		}

		data, err := analyzer.EncodeJPEG(img, e.cfg.JPEGQuality)
		if err != nil {
			return fmt.Errorf("encode frame %d: %w", index, err)
		}
		j.LatestFrame().Publish(data)

		if analyzed {
			j.Bus().Publish(framebus.Event{
				Type:        framebus.EventFrame,
				FrameIndex:  index,
				Count:       current,
				MaxCount:    maxCount,
				TimestampMS: time.Now().UnixMilli(),
			})
		}

		if frameDur > 0 {
			if err := pace(ctx, frameDur-time.Since(iterStart)); err != nil {
				return err
			}
		}
	}
}

// negotiateOutput opens the artifact writer of a file-backed job. Failure is
// not a job error: the job just has no downloadable video.
func (w *worker) negotiateOutput(ctx context.Context, info streamcapture.Info) {
	e := w.engine
	if e.deps.Writers == nil || info.Width <= 0 || info.Height <= 0 {
		return
	}

	ctx, span := observability.StartSpan(ctx, "engine.negotiate_output")
	defer span.End()

	out, art, err := writer.Negotiate(ctx, e.deps.Writers, writer.Request{
		Dir:    e.cfg.OutputDir,
		JobID:  w.job.ID,
		Width:  info.Width,
		Height: info.Height,
		FPS:    writer.OutputFPS(info.FPS, w.req.SampleFPS),
	})
	if err != nil {
		slog.Warn("engine: no output writer, continuing without artifact", "job_id", w.job.ID, "error", err)
		return
	}
	span.SetAttributes(attribute.String("writer.codec", art.Codec))

	w.out = out
	w.job.SetOutput(job.Output{Path: art.Path, MediaType: art.MediaType, Filename: art.Filename})
}

// release closes the writer and capture and deletes the temp input.
// Safe to call more than once.
func (w *worker) release() {
	if w.out != nil {
		if err := w.out.Close(); err != nil {
			slog.Warn("engine: output writer close failed", "job_id", w.job.ID, "error", err)
		}
		w.out = nil
	}
	if w.capture != nil {
		if err := w.capture.Close(); err != nil {
			slog.Warn("engine: capture close failed", "job_id", w.job.ID, "error", err)
		}
		w.capture = nil
	}
	if w.req.TempInput != "" {
		if err := os.Remove(w.req.TempInput); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("engine: temp input not removed", "job_id", w.job.ID, "path", w.req.TempInput, "error", err)
		}
	}
}

// pace sleeps d (if positive) or until ctx is done.
func pace(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

package streamcapture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/e7canasta/orion-people-counter/modules/stream-capture/internal/gstpipe"
)

var (
	// ErrReadTimeout is returned by Read when no frame arrives within the read timeout.
	ErrReadTimeout = errors.New("stream-capture: no frame within read timeout")

	// ErrClosed is returned by Read after Close.
	ErrClosed = errors.New("stream-capture: capture closed")
)

// PipelineError is a classified failure reported by a GStreamer pipeline.
type PipelineError = gstpipe.BusError

// Attempt records one failed backend candidate.
type Attempt struct {
	Backend  string
	Err      error
	Duration time.Duration
}

// AcquireError is returned when no backend could open a source.
type AcquireError struct {
	URI      string
	Scheme   string
	Live     bool
	Attempts []Attempt
}

func (e *AcquireError) Error() string {
	var b strings.Builder
	b.WriteString("stream-capture: failed to open video source")
	if e.Live {
		fmt.Fprintf(&b, " (scheme=%s)", e.Scheme)
	}
	if len(e.Attempts) > 0 {
		b.WriteString(": ")
		for i, a := range e.Attempts {
			if i > 0 {
				b.WriteString("; ")
			}
			fmt.Fprintf(&b, "%s: %v", a.Backend, a.Err)
		}
	}
	return b.String()
}

// Unwrap exposes the last attempt's error.
func (e *AcquireError) Unwrap() error {
	if len(e.Attempts) == 0 {
		return nil
	}
	return e.Attempts[len(e.Attempts)-1].Err
}

// Acquire opens src by trying every candidate backend in order, then one final
// generic attempt.
//
// The first candidate the opener reports as opened is returned; failed
// candidates are released by the opener before the next one is tried. There
// are no retries beyond the candidate table.
func Acquire(ctx context.Context, opener Opener, src Source, opts Options) (Capture, error) {
	if src.URI == "" {
		return nil, fmt.Errorf("stream-capture: source URI is required")
	}
	if opener == nil {
		return nil, fmt.Errorf("stream-capture: opener is required")
	}

	opts = opts.withDefaults()
	scheme := SchemeOf(src.URI)
	candidates := Candidates(src)
	acqErr := &AcquireError{URI: src.URI, Scheme: scheme, Live: src.Live}

	slog.Info("stream-capture: acquiring source",
		"uri", src.URI,
		"live", src.Live,
		"scheme", scheme,
		"candidates", len(candidates),
		"open_timeout", opts.OpenTimeout,
		"read_timeout", opts.ReadTimeout,
	)

	for _, backend := range candidates {
		if err := ctx.Err(); err != nil {
			acqErr.Attempts = append(acqErr.Attempts, Attempt{Backend: backend.Name, Err: err})
			return nil, acqErr
		}

		started := time.Now()
		capture, err := opener.Open(ctx, backend, src, opts)
		if err == nil {
			slog.Info("stream-capture: source opened",
				"uri", src.URI,
				"backend", backend.Name,
				"elapsed", time.Since(started),
				"failed_attempts", len(acqErr.Attempts),
			)
			return capture, nil
		}

		acqErr.Attempts = append(acqErr.Attempts, Attempt{
			Backend:  backend.Name,
			Err:      err,
			Duration: time.Since(started),
		})
		slog.Warn("stream-capture: backend failed, trying next candidate",
			"uri", src.URI,
			"backend", backend.Name,
			"error", err,
			"elapsed", time.Since(started),
		)
	}

	return nil, acqErr
}

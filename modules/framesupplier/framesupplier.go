// Package framesupplier holds the latest annotated frame of a job for pull
// consumers.
//
// Philosophy: "Latest frame only. Latency > Completeness."
//
// The job worker publishes every processed frame; pull clients (MJPEG
// streams, long-poll requests) only ever see the newest one. A slow client
// never slows the worker: frames it did not fetch are simply overwritten.
//
// Design:
//   - Non-blocking Publish (lock + assign + broadcast)
//   - Blocking Wait with mailbox semantics (sync.Cond, no busy-wait)
//   - Zero-copy frame sharing (immutability contract)
//   - Poll loop for fixed-cadence readers that ends shortly after the job does
//
// # Basic Usage
//
// Publisher side (job worker):
//
//	snap := framesupplier.New()
//	defer snap.Close() // job reached a terminal status
//
//	for frame := range frames {
//	    snap.Publish(encodeJPEG(frame))
//	}
//
// Reader side (MJPEG handler):
//
//	err := framesupplier.Poll(ctx, snap, 100*time.Millisecond, func(f framesupplier.Frame) error {
//	    return writePart(w, f.Data)
//	})
//
// # Sequence Numbers
//
// Every Publish increments the sequence number by one, starting at 1. A
// sequence number of 0 means no frame was published yet; readers emit
// nothing for it.
//
// # Termination
//
// Close marks the job terminal. Wait returns ErrClosed once nothing newer is
// available; Poll returns after one extra interval without a new frame, so
// the very last frame is still delivered.
package framesupplier

import (
	"context"
	"time"

	"github.com/e7canasta/orion-people-counter/modules/framesupplier/internal"
)

// Frame is re-exported from internal package.
// See internal/frame.go for full documentation.
type Frame = internal.Frame

// Stats is re-exported from internal package.
// See internal/types.go for full documentation.
type Stats = internal.Stats

// Snapshot is the single-slot latest-frame holder of one job.
type Snapshot = internal.Snapshot

// ErrClosed is returned by Wait once the job is terminal and no newer frame exists.
var ErrClosed = internal.ErrClosed

// DefaultPollInterval is the cadence used by MJPEG readers.
const DefaultPollInterval = 100 * time.Millisecond

// New creates an empty Snapshot.
func New() *Snapshot {
	return internal.NewSnapshot()
}

// Poll emits every new frame of s at the given cadence until the job ends,
// ctx is done, or emit fails.
//
// See internal/poll.go for the termination algorithm.
func Poll(ctx context.Context, s *Snapshot, interval time.Duration, emit func(Frame) error) error {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return internal.Poll(ctx, s, interval, emit)
}

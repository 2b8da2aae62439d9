package internal

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned by Wait when the snapshot is closed and holds nothing newer.
var ErrClosed = errors.New("framesupplier: snapshot closed")

// Snapshot is a single-slot mailbox holding the latest frame of one job.
//
// Architecture:
//   - Single-slot buffer (frame)
//   - Overwrite policy (new frame replaces old)
//   - Blocking consume (sync.Cond.Wait) for long-poll readers
//   - Non-blocking Latest for polling readers
//
// Thread-safety:
//   - All fields protected by mu
//   - Publish: called by the job worker (single publisher)
//   - Latest/Wait: called by any number of HTTP handlers
type Snapshot struct {
	mu    sync.Mutex
	cond  *sync.Cond
	frame Frame

	// fetched is true once a reader has returned the current frame
	fetched     bool
	overwritten uint64
	readers     int
	closed      bool
}

// NewSnapshot creates an empty snapshot.
func NewSnapshot() *Snapshot {
	s := &Snapshot{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Publish replaces the current frame and returns its sequence number.
//
// Semantics:
//   - Non-blocking: Lock + assign + broadcast
//   - Overwrite policy: the previous frame is gone even if nobody read it
//   - After Close: no-op, returns the last sequence number
//
// Contract: data MUST NOT be modified after Publish.
func (s *Snapshot) Publish(data []byte) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return s.frame.Seq
	}

	if s.frame.Seq > 0 && !s.fetched {
		s.overwritten++
	}

	s.frame = Frame{
		Data:      data,
		Seq:       s.frame.Seq + 1,
		Timestamp: time.Now(),
	}
	s.fetched = false

	// Wake every blocked reader
	s.cond.Broadcast()
	return s.frame.Seq
}

// Latest returns the current frame without blocking (Seq 0 when none yet).
func (s *Snapshot) Latest() Frame {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.frame.Seq > 0 {
		s.fetched = true
	}
	return s.frame
}

// Wait blocks until a frame newer than after is available.
//
// Returns:
//   - the newer frame as soon as it is published
//   - ErrClosed when the snapshot is closed and nothing newer exists
//   - ctx.Err() when ctx is done first
func (s *Snapshot) Wait(ctx context.Context, after uint64) (Frame, error) {
	// Wake the cond when ctx is cancelled so Wait never outlives it
	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.readers++
	defer func() { s.readers-- }()

	for s.frame.Seq <= after && !s.closed && ctx.Err() == nil {
		s.cond.Wait()
	}

	if s.frame.Seq > after {
		s.fetched = true
		return s.frame, nil
	}
	if s.closed {
		return Frame{}, ErrClosed
	}
	return Frame{}, ctx.Err()
}

// Close marks the snapshot terminal and wakes every blocked reader.
//
// The last frame stays readable through Latest.
// Idempotent: safe to call multiple times.
func (s *Snapshot) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.cond.Broadcast()
}

// Closed reports whether Close has been called.
func (s *Snapshot) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Stats returns an operational snapshot.
func (s *Snapshot) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		Seq:             s.frame.Seq,
		Overwritten:     s.overwritten,
		Readers:         s.readers,
		LastPublishedAt: s.frame.Timestamp,
		Closed:          s.closed,
	}
}

func (s *Snapshot) addReader(delta int) {
	s.mu.Lock()
	s.readers += delta
	s.mu.Unlock()
}

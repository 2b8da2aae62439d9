package internal

import (
	"context"
	"time"
)

// Poll reads s every interval and calls emit with each frame it has not seen yet.
//
// Algorithm:
//  1. Read Latest; if Seq > 0 and differs from the last emitted one, emit it
//  2. If the snapshot is closed: stop when it was already closed on the
//     previous tick and no new frame showed up (one grace interval)
//  3. Sleep interval (or return on ctx.Done)
//
// Returns nil when the stream ended, ctx.Err() when cancelled, or the first
// emit error (client went away).
func Poll(ctx context.Context, s *Snapshot, interval time.Duration, emit func(Frame) error) error {
	s.addReader(1)
	defer s.addReader(-1)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last uint64
	terminalSeen := false

	for {
		frame := s.Latest()
		progressed := false
		if frame.Seq > 0 && frame.Seq != last {
			if err := emit(frame); err != nil {
				return err
			}
			last = frame.Seq
			progressed = true
		}

		if s.Closed() {
			if terminalSeen && !progressed {
				return nil
			}
			terminalSeen = true
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

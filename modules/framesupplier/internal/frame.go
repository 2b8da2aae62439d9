package internal

import "time"

// Frame is the latest encoded picture of a job.
//
// IMMUTABILITY CONTRACT:
//   - Publisher: MUST NOT modify frame.Data after calling Publish
//   - Readers: MUST NOT modify frame.Data (shared by reference)
//
// Zero-copy chain:
//
//	engine JPEG encode (1 alloc) → Snapshot slot → N MJPEG/long-poll readers (0 copies)
type Frame struct {
	// Data contains the JPEG-encoded annotated frame
	Data []byte

	// Seq is assigned by the Snapshot on Publish.
	// Strictly increasing, starts at 1. Seq 0 means "no frame yet".
	Seq uint64

	// Timestamp is when the frame was published
	Timestamp time.Time
}

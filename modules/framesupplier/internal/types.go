package internal

import "time"

// Stats is a snapshot of a Snapshot's operational state.
type Stats struct {
	// Seq is the sequence number of the current frame (0 = none yet)
	Seq uint64

	// Overwritten counts frames replaced before any reader fetched them.
	// Expected to be high: the processing loop publishes every frame while
	// pull clients poll at ~10Hz.
	Overwritten uint64

	// Readers is the number of Wait/Poll calls currently in progress
	Readers int

	// LastPublishedAt is the time of the last Publish (zero if none)
	LastPublishedAt time.Time

	// Closed is true once the job reached a terminal status
	Closed bool
}

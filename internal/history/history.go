// Package history keeps the audit log of finished jobs and the stream log.
//
// Two backends exist: a JSON file per log (the default, no dependencies) and
// PostgreSQL. Both keep entries oldest first and return them in that order.
package history

import (
	"context"
	"time"
)

// TimeFormat is the layout of entry timestamps
const TimeFormat = "2006-01-02 15:04:05"

// Default retention of the file backend.
const (
	DefaultHistoryLimit   = 500
	DefaultStreamLogLimit = 1000
)

// Entry is one completed image or video job
type Entry struct {
	Type        string   `json:"type"`
	Filename    string   `json:"filename"`
	DurationSec *float64 `json:"duration_seconds"`
	PeopleCount int      `json:"count"`
	Timestamp   string   `json:"timestamp"`
}

// StreamEntry is one finished live stream job
type StreamEntry struct {
	JobID       string `json:"job_id"`
	URL         string `json:"url"`
	ResolvedURL string `json:"resolved_url,omitempty"`
	Status      string `json:"status"`
	MaxCount    int    `json:"max_count"`
	Frames      int    `json:"frames"`
	Error       string `json:"error,omitempty"`
	Timestamp   string `json:"timestamp"`
}

// Recorder records completed jobs.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

// Store is a Recorder that can also list what it recorded.
type Store interface {
	Recorder
	// List returns up to limit most recent entries, oldest first (limit <= 0: all)
	List(ctx context.Context, limit int) ([]Entry, error)
}

// StreamLog records finished stream jobs.
type StreamLog interface {
	Append(ctx context.Context, e StreamEntry) error
	List(ctx context.Context, limit int) ([]StreamEntry, error)
}

func now() string { return time.Now().Format(TimeFormat) }

func parseTimestamp(ts string) time.Time {
	t, err := time.ParseInLocation(TimeFormat, ts, time.Local)
	if err != nil {
		return time.Now()
	}
	return t
}

func tail[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[len(items)-limit:]
	}
	return items
}

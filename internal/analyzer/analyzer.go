// Package analyzer defines the frame-analysis collaborator and its implementations.
package analyzer

import (
	"context"
	"image"
	"time"
)

// Box is one detection in pixel coordinates of the analyzed frame
type Box struct {
	X1         float64 `json:"x1" msgpack:"x1"`
	Y1         float64 `json:"y1" msgpack:"y1"`
	X2         float64 `json:"x2" msgpack:"x2"`
	Y2         float64 `json:"y2" msgpack:"y2"`
	Confidence float64 `json:"conf" msgpack:"confidence"`
}

// Result is the outcome of one analysis pass
type Result struct {
	Count int
	Boxes []Box
}

// Analyzer counts people in a frame.
//
// Implementations are shared by every job worker and must be safe for
// concurrent use.
type Analyzer interface {
	Analyze(ctx context.Context, img image.Image, confidence float64) (Result, error)
}

// Func adapts a function to the Analyzer interface.
type Func func(ctx context.Context, img image.Image, confidence float64) (Result, error)

// Analyze calls f.
func (f Func) Analyze(ctx context.Context, img image.Image, confidence float64) (Result, error) {
	return f(ctx, img, confidence)
}

// Metrics contains health metrics of an analyzer backend
type Metrics struct {
	Calls        uint64    `json:"calls"`
	Failures     uint64    `json:"failures"`
	Restarts     uint64    `json:"restarts"`
	AvgLatencyMS float64   `json:"avg_latency_ms"`
	LastSeenAt   time.Time `json:"last_seen_at"`
}

// Package emitter forwards job events to external brokers (MQTT, AMQP, Redis).
package emitter

import (
	"context"
	"encoding/json"

	"github.com/e7canasta/orion-people-counter/modules/framebus"
)

// Sink publishes job events to one external system.
//
// Publish is called from a single forwarding goroutine per job, but several
// jobs may publish concurrently, so implementations must be thread-safe.
type Sink interface {
	Name() string
	Publish(ctx context.Context, jobID string, ev framebus.Event) error
	Close() error
}

// Message is the broker payload of one event
type Message struct {
	JobID string         `json:"job_id"`
	Event framebus.Event `json:"event"`
}

// Encode returns the JSON payload of ev for jobID.
func Encode(jobID string, ev framebus.Event) ([]byte, error) {
	return json.Marshal(Message{JobID: jobID, Event: ev})
}

// Stats contains sink statistics
type Stats struct {
	Connected bool              `json:"connected"`
	Published map[string]uint64 `json:"published"`
	Errors    uint64            `json:"errors"`
}

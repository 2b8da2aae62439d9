// Package framebus provides non-blocking distribution of job events to multiple subscribers.
//
// Core Philosophy: "Drop events, never block the worker."
//
// Every job owns one Bus. The job's worker publishes frame events while it
// processes and closes the bus with exactly one terminal event (done, error or
// cancelled). Subscribers are websocket connections, broker sinks and WebRTC
// data channels; each one gets its own buffered channel:
//   - Publish: buffer full → the event is dropped for that subscriber and counted
//   - Close: buffer full → the oldest queued event is evicted so the terminal event always arrives
//
// Usage:
//
//	bus := framebus.New()
//
//	ch := make(chan framebus.Event, 16)
//	bus.Subscribe("ws-1", ch)
//
//	bus.Publish(framebus.Event{Type: framebus.EventFrame, FrameIndex: 6, Count: 2})
//	bus.Close(framebus.Event{Type: framebus.EventDone, Frames: 90})
//
//	for ev := range ch { // closed by the bus after the terminal event
//	    send(ev)
//	}
//
// Public API Stability:
//
// The public API (types, interfaces, errors) is re-exported from the internal
// implementation so the implementation can evolve freely.
package framebus

import "github.com/e7canasta/orion-people-counter/modules/framebus/internal/bus"

// New creates a new Bus instance
// This is the only public constructor and part of the stable API
func New() Bus {
	return bus.New()
}

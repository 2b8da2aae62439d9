package framebus

import "github.com/e7canasta/orion-people-counter/modules/framebus/internal/bus"

// Public API - Re-export internal types as stable contract

// Event is one job notification; it marshals to the wire JSON for its type
type Event = bus.Event

// EventType names the kind of an Event
type EventType = bus.EventType

const (
	EventFrame     = bus.EventFrame
	EventDone      = bus.EventDone
	EventError     = bus.EventError
	EventCancelled = bus.EventCancelled
	EventStatus    = bus.EventStatus
)

// SubscriberStats tracks event distribution metrics
type SubscriberStats = bus.SubscriberStats

// BusStats is a snapshot of bus-wide and per-subscriber counters
type BusStats = bus.BusStats

// Bus distributes events to multiple subscribers
type Bus = bus.Bus

// Public API errors - Re-export internal errors as stable contract
var (
	ErrBusClosed          = bus.ErrBusClosed
	ErrSubscriberExists   = bus.ErrSubscriberExists
	ErrSubscriberNotFound = bus.ErrSubscriberNotFound
	ErrNilChannel         = bus.ErrNilChannel
)

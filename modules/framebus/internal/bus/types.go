package bus

import "errors"

// Internal errors - mapped to public errors in framebus package
var (
	ErrBusClosed          = errors.New("framebus: bus is closed")
	ErrSubscriberExists   = errors.New("framebus: subscriber already exists")
	ErrSubscriberNotFound = errors.New("framebus: subscriber not found")
	ErrNilChannel         = errors.New("framebus: nil channel provided")
)

// SubscriberStats tracks event distribution metrics for one subscriber
type SubscriberStats struct {
	Sent    uint64
	Dropped uint64
	// Evicted counts queued events discarded to make room for the terminal event
	Evicted uint64
}

// BusStats is a snapshot of bus-wide and per-subscriber counters
type BusStats struct {
	TotalPublished uint64
	TotalSent      uint64
	TotalDropped   uint64
	Subscribers    map[string]SubscriberStats
}

// Bus distributes job events to multiple subscribers
type Bus interface {
	Subscribe(id string, ch chan Event) error
	Unsubscribe(id string) error
	Publish(ev Event)
	Close(final Event) error
	Final() (Event, bool)
	Closed() bool
	Stats() BusStats
}

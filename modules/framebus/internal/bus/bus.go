package bus

import (
	"sync"
	"sync/atomic"
)

type subscriberHolder struct {
	id    string
	stats *SubscriberStats
	ch    chan Event
}

type bus struct {
	mu             sync.RWMutex
	subscribers    map[string]*subscriberHolder
	totalPublished uint64
	closed         bool
	final          *Event
}

// New creates a new event bus
func New() Bus {
	return &bus{
		subscribers: make(map[string]*subscriberHolder),
	}
}

// Subscribe registers a channel with DropNew policy.
//
// The bus owns the channel from here on: it is closed by Unsubscribe or Close.
func (b *bus) Subscribe(id string, ch chan Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}

	if _, exists := b.subscribers[id]; exists {
		return ErrSubscriberExists
	}

	if ch == nil {
		return ErrNilChannel
	}

	b.subscribers[id] = &subscriberHolder{
		id:    id,
		stats: &SubscriberStats{},
		ch:    ch,
	}

	return nil
}

// Publish distributes an event to all subscribers without blocking
func (b *bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	atomic.AddUint64(&b.totalPublished, 1)

	for _, holder := range b.subscribers {
		select {
		case holder.ch <- ev:
			atomic.AddUint64(&holder.stats.Sent, 1)
		default:
			atomic.AddUint64(&holder.stats.Dropped, 1)
		}
	}
}

// Unsubscribe removes a subscriber and closes its channel
func (b *bus) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}

	holder, exists := b.subscribers[id]
	if !exists {
		return ErrSubscriberNotFound
	}

	delete(b.subscribers, id)
	close(holder.ch)
	return nil
}

// Stats returns a snapshot of distribution counters
func (b *bus) Stats() BusStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	stats := BusStats{
		TotalPublished: atomic.LoadUint64(&b.totalPublished),
		Subscribers:    make(map[string]SubscriberStats, len(b.subscribers)),
	}
	for id, holder := range b.subscribers {
		s := SubscriberStats{
			Sent:    atomic.LoadUint64(&holder.stats.Sent),
			Dropped: atomic.LoadUint64(&holder.stats.Dropped),
			Evicted: atomic.LoadUint64(&holder.stats.Evicted),
		}
		stats.TotalSent += s.Sent
		stats.TotalDropped += s.Dropped
		stats.Subscribers[id] = s
	}
	return stats
}

// Close delivers the terminal event to every subscriber, closes their channels
// and rejects further subscriptions.
//
// The terminal event is never dropped: when a subscriber's buffer is full the
// oldest queued event is evicted to make room for it.
func (b *bus) Close(final Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}

	b.closed = true
	b.final = &final
	atomic.AddUint64(&b.totalPublished, 1)

	// Holders are kept so Stats still reports the final counters.
	for _, holder := range b.subscribers {
		deliverFinal(holder, final)
		close(holder.ch)
	}

	return nil
}

// deliverFinal must be called with the bus write lock held, so the bus is the
// only sender and one eviction always frees a slot.
func deliverFinal(holder *subscriberHolder, final Event) {
	for {
		select {
		case holder.ch <- final:
			atomic.AddUint64(&holder.stats.Sent, 1)
			return
		default:
		}

		select {
		case <-holder.ch:
			atomic.AddUint64(&holder.stats.Evicted, 1)
		default:
			// Unbuffered channel with no reader waiting
			if cap(holder.ch) == 0 {
				atomic.AddUint64(&holder.stats.Dropped, 1)
				return
			}
		}
	}
}

// Final returns the terminal event once the bus is closed.
func (b *bus) Final() (Event, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.final == nil {
		return Event{}, false
	}
	return *b.final, true
}

// Closed reports whether Close has been called.
func (b *bus) Closed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

// Package engine drives generation calls: it owns the lifecycle states, the
// streaming diff loop, cancellation, and the lifecycle event bus.
package engine

import (
	"sync"
)

// EventType names a lifecycle event.
type EventType string

const (
	EventGenerationStarted EventType = "generation_started"
	EventStreamFull        EventType = "stream_full"
	EventStreamDelta       EventType = "stream_delta"
	EventGenerationEnded   EventType = "generation_ended"
)

// Event is one lifecycle notification, observable independently of the
// generation call's own return value.
type Event struct {
	Type    EventType `json:"type"`
	RunID   string    `json:"run_id"`
	Text    string    `json:"text,omitempty"`
	Final   bool      `json:"final,omitempty"`
	Aborted bool      `json:"aborted,omitempty"`
}

// Bus fans lifecycle events out to subscribers. Publishing never blocks; a
// subscriber that falls behind loses events rather than stalling the
// generation loop.
type Bus struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a listener. The returned func cancels the
// subscription and closes the channel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan Event, 64)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers an event to every subscriber with room in its buffer.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Package eventbus fans canonical trace events out to live subscribers.
// Topics are spawn ids. Delivery never blocks the publisher: each
// subscription owns a bounded buffer and overflow drops the oldest event.
package eventbus

import (
	"sync"

	"github.com/untoldecay/space/internal/trace"
)

// DefaultCapacity is the per-subscription buffer size.
const DefaultCapacity = 1000

// Bus is a topic registry. The zero value is not usable; construct with New.
type Bus struct {
	mu       sync.Mutex
	topics   map[string][]*Subscription
	capacity int
}

// Subscription is one subscriber's queue on a topic.
type Subscription struct {
	bus    *Bus
	topic  string
	ch     chan trace.Event
	closed bool
}

// New builds a Bus with the default per-subscription capacity.
func New() *Bus {
	return NewWithCapacity(DefaultCapacity)
}

// NewWithCapacity builds a Bus whose subscriptions buffer up to capacity
// events.
func NewWithCapacity(capacity int) *Bus {
	if capacity < 1 {
		capacity = 1
	}
	return &Bus{
		topics:   map[string][]*Subscription{},
		capacity: capacity,
	}
}

// Subscribe registers a new subscriber on topic.
func (b *Bus) Subscribe(topic string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{
		bus:   b,
		topic: topic,
		ch:    make(chan trace.Event, b.capacity),
	}
	b.topics[topic] = append(b.topics[topic], sub)
	return sub
}

// Publish delivers ev to every subscriber on topic. A full subscriber loses
// its oldest buffered event rather than stalling the publisher.
func (b *Bus) Publish(topic string, ev trace.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.topics[topic] {
		select {
		case sub.ch <- ev:
			continue
		default:
		}
		select {
		case <-sub.ch:
		default:
		}
		select {
		case sub.ch <- ev:
		default:
		}
	}
}

// Clear detaches and closes every subscriber on topic. Used when a spawn
// finishes and its stream ends.
func (b *Bus) Clear(topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.topics[topic] {
		if !sub.closed {
			sub.closed = true
			close(sub.ch)
		}
	}
	delete(b.topics, topic)
}

// Subscribers reports how many subscriptions topic currently has.
func (b *Bus) Subscribers(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics[topic])
}

// Events is the receive side of the subscription. The channel closes when
// the subscription is closed or its topic is cleared.
func (s *Subscription) Events() <-chan trace.Event {
	return s.ch
}

// Close detaches the subscription. Safe to call more than once and
// concurrently with Publish.
func (s *Subscription) Close() {
	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)

	subs := b.topics[s.topic]
	kept := subs[:0]
	for _, sub := range subs {
		if sub != s {
			kept = append(kept, sub)
		}
	}
	if len(kept) == 0 {
		delete(b.topics, s.topic)
	} else {
		b.topics[s.topic] = kept
	}
}

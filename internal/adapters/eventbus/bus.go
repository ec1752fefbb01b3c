// Package eventbus implements the typed, non-blocking-publish event bus
// (spec.md §4.H, §5).
package eventbus

import (
	"sync"

	"github.com/homer-dev/homer/internal/models"
	"github.com/homer-dev/homer/internal/ports/secondary"
)

// bufferSize is the bound on a subscriber's queue. Publish never blocks on
// a slow subscriber; once its queue is full it is disconnected rather than
// silently dropping events off the canonical stream (spec.md §5).
const bufferSize = 256

// subscription is a live subscriber's channel and bookkeeping.
type subscription struct {
	id     int
	bus    *Bus
	ch     chan models.Event
	mu     sync.Mutex
	closed bool
}

func (s *subscription) Ch() <-chan models.Event { return s.ch }

// Close unsubscribes and closes the channel. Idempotent.
func (s *subscription) Close() {
	s.bus.unsubscribe(s.id)
}

func (s *subscription) closeChan() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// Bus is an in-process pub/sub dispatcher for models.Event.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*subscription
	nextID int
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[int]*subscription)}
}

// Subscribe registers a new subscriber and returns its handle.
func (b *Bus) Subscribe() secondary.Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &subscription{
		id:  b.nextID,
		bus: b,
		ch:  make(chan models.Event, bufferSize),
	}
	b.subs[sub.id] = sub
	return sub
}

func (b *Bus) unsubscribe(id int) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()

	if ok {
		sub.closeChan()
	}
}

// Publish fans evt out to every live subscriber. Delivery never blocks: a
// subscriber whose queue is already full is disconnected on the spot so
// that no event is ever silently dropped from the canonical stream.
func (b *Bus) Publish(evt models.Event) {
	b.mu.RLock()
	targets := make([]*subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		targets = append(targets, sub)
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		select {
		case sub.ch <- evt:
		default:
			b.unsubscribe(sub.id)
		}
	}
}

// SubscriberCount reports the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

var _ secondary.EventBus = (*Bus)(nil)

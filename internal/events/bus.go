// Package events implements a small synchronous event bus (spec §4
// "Event bus"): it fans out DomainEvents to subscribers, keyed by event
// type, consumed by the external Reporter collaborator.
package events

import (
	"sync"

	"github.com/stackctl/stackctl/internal/ports"
)

type subscription struct {
	id      int
	handler func(ports.DomainEvent)
}

// Bus is an in-process, synchronous EventPublisher.
type Bus struct {
	mu          sync.RWMutex
	nextID      int
	subscribers map[string][]subscription
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{subscribers: make(map[string][]subscription)}
}

// Publish delivers event synchronously to every subscriber registered for
// its EventType, in subscription order. Publishing never blocks on I/O
// beyond what a subscriber itself does.
func (b *Bus) Publish(event ports.DomainEvent) {
	b.mu.RLock()
	subs := append([]subscription{}, b.subscribers[event.EventType()]...)
	b.mu.RUnlock()
	for _, s := range subs {
		s.handler(event)
	}
}

// Subscribe registers handler for eventType and returns an unsubscribe
// function.
func (b *Bus) Subscribe(eventType string, handler func(ports.DomainEvent)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subscribers[eventType] = append(b.subscribers[eventType], subscription{id: id, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subscribers[eventType]
		for i, s := range subs {
			if s.id == id {
				b.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
}

var _ ports.EventPublisher = (*Bus)(nil)

// Package events provides a simple publish-subscribe bus for engine status
// snapshots.
package events

import (
	"sync"

	"github.com/micro-nova/pulsemix/internal/models"
)

const subBufferSize = 8

// Bus is a non-blocking publish-subscribe event bus.
// Subscribers that are slow to consume events will have events dropped rather
// than blocking publishers.
type Bus struct {
	mu     sync.Mutex
	subs   map[string]chan models.Status
	latest *models.Status
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[string]chan models.Status),
	}
}

// Subscribe creates a new subscription with the given ID. The most recent
// status, if any, is queued on the channel straight away.
// Call Unsubscribe when done to clean up.
func (b *Bus) Subscribe(id string) <-chan models.Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan models.Status, subBufferSize)
	if b.latest != nil {
		ch <- *b.latest
	}
	b.subs[id] = ch
	return ch
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Publish sends a status to all subscribers.
// If a subscriber's channel is full, the event is dropped (non-blocking).
func (b *Bus) Publish(st models.Status) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.latest = &st
	for _, ch := range b.subs {
		select {
		case ch <- st:
		default:
			// Drop if subscriber is slow
		}
	}
}

// Latest returns the most recently published status.
func (b *Bus) Latest() (models.Status, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.latest == nil {
		return models.Status{}, false
	}
	return *b.latest, true
}

// SubscriberCount returns the current number of subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Package events carries evaluation progress from the driver to whoever
// listens: metrics, progress displays, tests.
package events

import (
	"errors"
	"fmt"
	"sync"
)

// Broker broadcasts every event to all subscribers
// subscribers is a map where keys are subscriber IDs and values are channels for receiving events
type Broker struct {
	subscribers map[string]chan<- Event
	mu          sync.RWMutex
}

func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[string]chan<- Event),
	}
}

// Publish never blocks. Subscribers whose channel is full miss the event and
// are reported in the returned error.
func (b *Broker) Publish(ev Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var errs []error
	for id, ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
			errs = append(errs, fmt.Errorf("subscriber %s's channel is full", id))
		}
	}
	return errors.Join(errs...)
}

func (b *Broker) Subscribe(id string, ch chan<- Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscribers[id]; exists {
		return fmt.Errorf("%s is already subscribed", id)
	}
	b.subscribers[id] = ch
	return nil
}

func (b *Broker) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscribers[id]; !exists {
		return fmt.Errorf("%s is not subscribed", id)
	}
	delete(b.subscribers, id)
	return nil
}

func (b *Broker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = make(map[string]chan<- Event)
}

// Package events provides a typed publish-subscribe bus. Subscribers register for an event type
// and receive every value of that type emitted on the same Bus.
package events

import (
	"sync"
	"sync/atomic"
)

type Event comparable

// Bus routes events to subscribers. The zero value is not usable; create one with NewBus. Each
// component that publishes state owns its Bus, so there is no process-wide registry.
type Bus struct {
	mu     sync.RWMutex
	subs   map[any]map[uint64]func(any)
	nextID atomic.Uint64
}

func NewBus() *Bus {
	return &Bus{subs: make(map[any]map[uint64]func(any))}
}

// Subscription allows unsubscribing from an event.
type Subscription[T Event] struct {
	bus *Bus
	id  uint64
}

// Unsubscribe removes the subscription. It is safe to call more than once.
func (s *Subscription[T]) Unsubscribe() {
	if s == nil || s.bus == nil {
		return
	}
	Unsubscribe(s.bus, s)
}

func Subscribe[T Event](b *Bus, callback func(evt T)) *Subscription[T] {
	b.mu.Lock()
	defer b.mu.Unlock()
	var key T
	if b.subs[key] == nil {
		b.subs[key] = make(map[uint64]func(any))
	}
	sub := &Subscription[T]{bus: b, id: b.nextID.Add(1)}
	b.subs[key][sub.id] = func(e any) { callback(e.(T)) }
	return sub
}

// Unsubscribe removes the given subscription.
func Unsubscribe[T Event](b *Bus, sub *Subscription[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var key T
	if subs, ok := b.subs[key]; ok {
		delete(subs, sub.id)
		if len(subs) == 0 {
			delete(b.subs, key)
		}
	}
}

// Emit notifies all subscribers of the event in the calling goroutine, in no particular order.
// Callbacks run without the bus lock held, so they may subscribe or unsubscribe.
func Emit[T Event](b *Bus, evt T) {
	for _, cb := range callbacks[T](b) {
		cb(evt)
	}
}

func callbacks[T Event](b *Bus) []func(any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var key T
	subs := b.subs[key]
	out := make([]func(any), 0, len(subs))
	for _, cb := range subs {
		out = append(out, cb)
	}
	return out
}

// Package events provides the typed publish/subscribe bus used on both
// sides of the process boundary: the host session publishes adapter and
// device changes into it, and the mirror re-publishes the replicated
// stream to presentation subscribers.
package events

import (
	"sync"

	"github.com/srg/hearlink/internal/device"
)

// Kind identifies an event class. Subscriptions are keyed by Kind.
type Kind string

const (
	// KindAdapterState fires on every adapter state transition.
	KindAdapterState Kind = "stateChange"
	// KindDeviceDiscovered fires when a device is seen for the first time
	// in the current scan.
	KindDeviceDiscovered Kind = "deviceDiscovered"
	// KindDeviceUpdated fires when an existing device record changes
	// (state or attributes).
	KindDeviceUpdated Kind = "deviceUpdated"
)

// Event carries one payload; which field is set depends on Kind.
type Event struct {
	Kind         Kind
	AdapterState device.AdapterState
	Device       device.Device
}

// Handler receives published events. Handlers run synchronously on the
// publisher's goroutine and must not block.
type Handler func(Event)

// Subscription is the unsubscribe token returned by Bus.Subscribe.
type Subscription struct {
	bus  *Bus
	kind Kind
	id   uint64
}

// Unsubscribe removes the handler. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.bus == nil {
		return
	}
	s.bus.unsubscribe(s.kind, s.id)
	s.bus = nil
}

// Bus is a typed pub/sub fanout keyed by event kind.
//
// Publish is fire-and-forget: there is no delivery guarantee to a
// subscriber that unsubscribes concurrently, and no ordering across
// kinds. Within one kind, handlers observe events in publish order.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[Kind]map[uint64]Handler
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Kind]map[uint64]Handler)}
}

// Subscribe registers fn for events of the given kind and returns the
// token that removes it again.
func (b *Bus) Subscribe(kind Kind, fn Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	if b.subs[kind] == nil {
		b.subs[kind] = make(map[uint64]Handler)
	}
	b.subs[kind][id] = fn

	return &Subscription{bus: b, kind: kind, id: id}
}

// SubscribeAll registers fn for every event kind. The returned tokens
// share the handler; unsubscribe each to detach fully.
func (b *Bus) SubscribeAll(fn Handler) []*Subscription {
	kinds := []Kind{KindAdapterState, KindDeviceDiscovered, KindDeviceUpdated}
	subs := make([]*Subscription, 0, len(kinds))
	for _, k := range kinds {
		subs = append(subs, b.Subscribe(k, fn))
	}
	return subs
}

// Publish delivers ev to all subscribers of ev.Kind.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[ev.Kind]))
	for _, fn := range b.subs[ev.Kind] {
		handlers = append(handlers, fn)
	}
	b.mu.RUnlock()

	for _, fn := range handlers {
		fn(ev)
	}
}

func (b *Bus) unsubscribe(kind Kind, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs[kind], id)
}

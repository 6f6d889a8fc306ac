package event

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Handler receives a published event. A returned error is treated as a
// non-fatal delivery failure.
type Handler func(Event) error

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	ID   uint64
	Name Name
}

// Bus is an in-process publish/subscribe mechanism.
type Bus interface {
	Publish(evt Event)
	Subscribe(name Name, handler Handler) Subscription
	Unsubscribe(sub Subscription)
	Scope() *Scope
}

type entry struct {
	id      uint64
	name    Name
	handler Handler
}

// SyncBus delivers events synchronously in registration order.
type SyncBus struct {
	mu      sync.RWMutex
	entries []entry
	scopes  [][]entry
	nextID  atomic.Uint64
	closed  atomic.Bool
	logger  *zap.Logger
}

// NewBus creates a synchronous event bus.
func NewBus(logger *zap.Logger) *SyncBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncBus{
		logger: logger.With(zap.String("component", "event_bus")),
	}
}

// Subscribe registers handler for events named name (or every event for Wildcard).
func (b *SyncBus) Subscribe(name Name, handler Handler) Subscription {
	sub := Subscription{ID: b.nextID.Add(1), Name: name}

	b.mu.Lock()
	b.entries = append(b.entries, entry{id: sub.ID, name: name, handler: handler})
	b.mu.Unlock()

	return sub
}

// SubscribeFunc registers a handler that cannot fail.
func (b *SyncBus) SubscribeFunc(name Name, fn func(Event)) Subscription {
	return b.Subscribe(name, func(evt Event) error {
		fn(evt)
		return nil
	})
}

// Unsubscribe removes the subscription. Removing twice is a no-op.
func (b *SyncBus) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, e := range b.entries {
		if e.id == sub.ID {
			next := make([]entry, 0, len(b.entries)-1)
			next = append(next, b.entries[:i]...)
			next = append(next, b.entries[i+1:]...)
			b.entries = next
			return
		}
	}
}

// Publish delivers evt to every matching handler in registration order.
// Handlers run in the caller's goroutine.
func (b *SyncBus) Publish(evt Event) {
	if b.closed.Load() {
		b.logger.Debug("publish on closed bus dropped", zap.String("event", string(evt.Name)))
		return
	}

	for _, e := range b.matching(evt.Name) {
		if err := b.deliver(e, evt); err != nil {
			b.logger.Warn("event delivery failed",
				zap.String("event", string(evt.Name)),
				zap.Uint64("subscription", e.id),
				zap.Error(err))

			if evt.Name == DeliveryFailed {
				continue
			}
			b.Publish(New(DeliveryFailed, string(evt.Name), DeliveryFailure{
				Event:          evt.Name,
				SubscriptionID: e.id,
				Error:          err.Error(),
			}))
		}
	}
}

// matching snapshots the handlers for name so handlers may subscribe or
// unsubscribe during delivery.
func (b *SyncBus) matching(name Name) []entry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]entry, 0, len(b.entries))
	for _, e := range b.entries {
		if e.name == name || e.name == Wildcard {
			out = append(out, e)
		}
	}
	return out
}

func (b *SyncBus) deliver(e entry, evt Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return e.handler(evt)
}

// Len returns the number of active subscriptions.
func (b *SyncBus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// Close drops every subscription; later publishes are discarded.
func (b *SyncBus) Close() {
	if !b.closed.CompareAndSwap(false, true) {
		return
	}
	b.mu.Lock()
	b.entries = nil
	b.scopes = nil
	b.mu.Unlock()
}

// Scope snapshots the current handler set. Closing the scope restores it,
// dropping every subscription made inside.
func (b *SyncBus) Scope() *Scope {
	b.mu.Lock()
	defer b.mu.Unlock()

	snapshot := make([]entry, len(b.entries))
	copy(snapshot, b.entries)
	b.scopes = append(b.scopes, snapshot)

	return &Scope{bus: b, depth: len(b.scopes) - 1}
}

// Scope is a nested subscription scope.
type Scope struct {
	bus   *SyncBus
	depth int
	once  sync.Once
}

// Close restores the handler set captured when the scope was opened.
// Closing an outer scope also closes every scope nested inside it.
func (s *Scope) Close() {
	s.once.Do(func() {
		b := s.bus
		b.mu.Lock()
		defer b.mu.Unlock()

		if s.depth >= len(b.scopes) {
			return
		}
		b.entries = b.scopes[s.depth]
		b.scopes = b.scopes[:s.depth]
	})
}

// WithScope runs fn inside a fresh scope and closes it afterwards.
func WithScope(b Bus, fn func()) {
	scope := b.Scope()
	defer scope.Close()
	fn()
}

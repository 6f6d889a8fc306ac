package event

import "sync"

// Recorder captures every event published on a bus.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	sub    Subscription
	bus    Bus
}

// NewRecorder subscribes a recorder to every event on bus.
func NewRecorder(bus Bus) *Recorder {
	r := &Recorder{bus: bus}
	r.sub = bus.Subscribe(Wildcard, func(evt Event) error {
		r.mu.Lock()
		r.events = append(r.events, evt)
		r.mu.Unlock()
		return nil
	})
	return r
}

// Events returns a copy of the captured events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Named returns the captured events with the given name.
func (r *Recorder) Named(name Name) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, evt := range r.events {
		if evt.Name == name {
			out = append(out, evt)
		}
	}
	return out
}

// Count returns how many events with the given name were captured.
func (r *Recorder) Count(name Name) int {
	return len(r.Named(name))
}

// Stop unsubscribes the recorder.
func (r *Recorder) Stop() {
	r.bus.Unsubscribe(r.sub)
}

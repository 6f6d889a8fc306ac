package flow

import (
	"encoding/json"
	"fmt"
	"sort"
)

// State is the keyed bag shared by the steps of one flow instance. Steps
// receive it while holding the instance lock, so they may mutate it freely
// but must not retain it after returning.
type State struct {
	id   string
	data map[string]any
}

func newState(id string, initial map[string]any) *State {
	s := &State{id: id, data: make(map[string]any, len(initial))}
	for k, v := range initial {
		s.data[k] = v
	}
	return s
}

// ID returns the flow instance id. It never changes.
func (s *State) ID() string { return s.id }

// Get returns the value stored under key.
func (s *State) Get(key string) (any, bool) {
	v, ok := s.data[key]
	return v, ok
}

// Set stores value under key.
func (s *State) Set(key string, value any) {
	s.data[key] = value
}

// Delete removes key.
func (s *State) Delete(key string) {
	delete(s.data, key)
}

// Keys returns the keys in sorted order.
func (s *State) Keys() []string {
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// GetString returns the string under key, or "".
func (s *State) GetString(key string) string {
	v, _ := s.data[key].(string)
	return v
}

// GetInt returns the integer under key. Numbers restored from a persisted
// snapshot come back as float64 or json.Number and are converted.
func (s *State) GetInt(key string) int {
	switch v := s.data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	default:
		return 0
	}
}

// Snapshot returns a shallow copy of the data.
func (s *State) Snapshot() map[string]any {
	out := make(map[string]any, len(s.data))
	for k, v := range s.data {
		out[k] = v
	}
	return out
}

type persisted struct {
	InstanceID string         `json:"instance_id"`
	Data       map[string]any `json:"data"`
}

func (s *State) marshal() ([]byte, error) {
	return json.Marshal(persisted{InstanceID: s.id, Data: s.data})
}

// DecodeState decodes a snapshot written by a flow instance, as returned by
// state.Store.Load.
func DecodeState(blob []byte) (string, map[string]any, error) {
	var p persisted
	if err := json.Unmarshal(blob, &p); err != nil {
		return "", nil, fmt.Errorf("decode flow state: %w", err)
	}
	if p.Data == nil {
		p.Data = make(map[string]any)
	}
	return p.InstanceID, p.Data, nil
}

func (s *State) restore(blob []byte) error {
	_, data, err := DecodeState(blob)
	if err != nil {
		return err
	}
	s.data = data
	return nil
}

// Typed is a schema-bound view of State. T must be JSON-serialisable; its
// fields are stored as top-level state keys.
type Typed[T any] struct {
	state *State
}

// As returns a typed view over s.
func As[T any](s *State) Typed[T] {
	return Typed[T]{state: s}
}

// Get decodes the state into a T.
func (t Typed[T]) Get() (T, error) {
	var v T
	raw, err := json.Marshal(t.state.data)
	if err != nil {
		return v, fmt.Errorf("encode flow state: %w", err)
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("decode flow state into %T: %w", v, err)
	}
	return v, nil
}

// Set replaces the state with the fields of v.
func (t Typed[T]) Set(v T) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %T: %w", v, err)
	}
	data := make(map[string]any)
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("%T is not an object: %w", v, err)
	}
	t.state.data = data
	return nil
}

// Update decodes, applies fn and stores the result.
func (t Typed[T]) Update(fn func(*T) error) error {
	v, err := t.Get()
	if err != nil {
		return err
	}
	if err := fn(&v); err != nil {
		return err
	}
	return t.Set(v)
}

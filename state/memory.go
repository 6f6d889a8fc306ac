package state

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[Key]Record
	closed  bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[Key]Record)}
}

// Save implements Store.
func (s *MemoryStore) Save(ctx context.Context, key Key, expected Version, blob []byte) (Version, error) {
	if err := key.Validate(); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	current := s.records[key].Version
	if current != expected {
		return 0, conflict(key, expected, current)
	}

	next := expected + 1
	s.records[key] = Record{
		Key:       key,
		Version:   next,
		Blob:      cloneBlob(blob),
		UpdatedAt: time.Now(),
	}
	return next, nil
}

// Load implements Store.
func (s *MemoryStore) Load(ctx context.Context, key Key) ([]byte, Version, error) {
	if err := key.Validate(); err != nil {
		return nil, 0, err
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, 0, ErrStoreClosed
	}
	rec, ok := s.records[key]
	if !ok {
		return nil, 0, ErrNotFound
	}
	return cloneBlob(rec.Blob), rec.Version, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, key Key) error {
	if err := key.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	delete(s.records, key)
	return nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

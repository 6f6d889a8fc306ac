package state

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Version is the optimistic concurrency tag of a record. Zero means the
// record does not exist.
type Version uint64

// Key addresses one flow instance's state.
type Key struct {
	FlowType   string `json:"flow_type"`
	InstanceID string `json:"instance_id"`
}

// String returns "flowType/instanceID".
func (k Key) String() string {
	return k.FlowType + "/" + k.InstanceID
}

// Validate reports whether both key parts are set.
func (k Key) Validate() error {
	if k.FlowType == "" || k.InstanceID == "" {
		return fmt.Errorf("%w: flow type and instance id are required", ErrInvalidKey)
	}
	return nil
}

var (
	// ErrNotFound is returned by Load when no record exists for the key.
	ErrNotFound = errors.New("state not found")
	// ErrConflict is matched by every *ConflictError.
	ErrConflict = errors.New("state version conflict")
	// ErrInvalidKey is returned for keys with empty parts.
	ErrInvalidKey = errors.New("invalid state key")
	// ErrStoreClosed is returned after Close.
	ErrStoreClosed = errors.New("state store closed")
)

// ConflictError reports an optimistic version mismatch.
type ConflictError struct {
	Key      Key
	Expected Version
	Actual   Version
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("state %s: version conflict (expected %d, actual %d)", e.Key, e.Expected, e.Actual)
}

// Is makes errors.Is(err, ErrConflict) hold for every ConflictError.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// Store is the storage-agnostic capability set {Save, Load, Delete}.
type Store interface {
	// Save writes blob if the stored version equals expected and returns the
	// new version. Passing 0 requires that no record exists yet.
	Save(ctx context.Context, key Key, expected Version, blob []byte) (Version, error)
	// Load returns the stored blob and its version, or ErrNotFound.
	Load(ctx context.Context, key Key) ([]byte, Version, error)
	// Delete removes the record. Deleting a missing key is not an error.
	Delete(ctx context.Context, key Key) error
	// Close releases backend resources.
	Close() error
}

// Record is a stored state entry.
type Record struct {
	Key       Key
	Version   Version
	Blob      []byte
	UpdatedAt time.Time
}

func conflict(key Key, expected, actual Version) error {
	return &ConflictError{Key: key, Expected: expected, Actual: actual}
}

func cloneBlob(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

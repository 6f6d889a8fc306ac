package types

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewID returns a lexicographically sortable ULID, used for work items.
func NewID() string {
	return ulid.Make().String()
}

// NewInstanceID returns a random UUID, used for flow and crew instances.
func NewInstanceID() string {
	return uuid.New().String()
}

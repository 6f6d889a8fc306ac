package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrUpstreamError, "upstream failed").
		WithCause(root).
		WithRetryable(true).
		WithSource("task-1").
		WithPartial("half")

	assert.Equal(t, ErrUpstreamError, GetErrorCode(err))
	assert.True(t, IsRetryable(err))
	assert.ErrorIs(t, err, root)
	assert.Contains(t, err.Error(), "source=task-1")
	assert.Equal(t, "half", err.Partial)
}

func TestError_WrappedLookup(t *testing.T) {
	t.Parallel()

	inner := NewError(ErrCyclicGraph, "cycle")
	wrapped := fmt.Errorf("build crew: %w", inner)

	assert.Equal(t, ErrCyclicGraph, GetErrorCode(wrapped))
	assert.True(t, IsConstructionError(wrapped))
	assert.False(t, IsRetryable(wrapped))
	assert.False(t, IsConstructionError(NewError(ErrConflict, "stale")))
	assert.Equal(t, ErrorCode(""), GetErrorCode(errors.New("plain")))
}

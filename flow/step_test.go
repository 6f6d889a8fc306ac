package flow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/crewflow/types"
)

func noop(context.Context, *State, any) (any, error) { return nil, nil }

func route(label string) StepFunc {
	return func(context.Context, *State, any) (any, error) { return label, nil }
}

func TestBuilder_Validation(t *testing.T) {
	tests := []struct {
		name  string
		build func() *Builder
		code  types.ErrorCode
	}{
		{
			name:  "empty flow type",
			build: func() *Builder { return NewBuilder("").Step("a", OnStart(), noop) },
			code:  types.ErrConstruction,
		},
		{
			name:  "no steps",
			build: func() *Builder { return NewBuilder("f") },
			code:  types.ErrConstruction,
		},
		{
			name: "duplicate step",
			build: func() *Builder {
				return NewBuilder("f").Step("a", OnStart(), noop).Step("a", On("a"), noop)
			},
			code: types.ErrConstruction,
		},
		{
			name:  "nil function",
			build: func() *Builder { return NewBuilder("f").Step("a", OnStart(), nil) },
			code:  types.ErrConstruction,
		},
		{
			name:  "no start step",
			build: func() *Builder { return NewBuilder("f").Step("a", On("b"), noop).Step("b", On("a"), noop) },
			code:  types.ErrConstruction,
		},
		{
			name: "unknown upstream",
			build: func() *Builder {
				return NewBuilder("f").Step("a", OnStart(), noop).Step("b", On("ghost"), noop)
			},
			code: types.ErrUnknownLabel,
		},
		{
			name: "listen on router name",
			build: func() *Builder {
				return NewBuilder("f").
					Router("r", OnStart(), []string{"yes", "no"}, route("yes")).
					Step("b", On("r"), noop)
			},
			code: types.ErrUnknownLabel,
		},
		{
			name: "label collides with step",
			build: func() *Builder {
				return NewBuilder("f").
					Router("r", OnStart(), []string{"b"}, route("b")).
					Step("b", On("r"), noop)
			},
			code: types.ErrConstruction,
		},
		{
			name: "duplicate label",
			build: func() *Builder {
				return NewBuilder("f").Router("r", OnStart(), []string{"x", "x"}, route("x"))
			},
			code: types.ErrConstruction,
		},
		{
			name: "unreachable cycle",
			build: func() *Builder {
				return NewBuilder("f").
					Step("a", OnStart(), noop).
					Step("b", On("c"), noop).
					Step("c", On("b"), noop)
			},
			code: types.ErrUnreachable,
		},
		{
			name: "join on unreachable input",
			build: func() *Builder {
				return NewBuilder("f").
					Step("a", OnStart(), noop).
					Step("b", On("c"), noop).
					Step("c", On("b"), noop).
					Step("z", AllOf("a", "b"), noop)
			},
			code: types.ErrUnreachable,
		},
		{
			name:  "empty listen",
			build: func() *Builder { return NewBuilder("f").Step("a", OnStart(), noop).Step("b", AnyOf(), noop) },
			code:  types.ErrConstruction,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.build().Build()
			require.Error(t, err)
			assert.Equal(t, tt.code, types.GetErrorCode(err))
			assert.True(t, types.IsConstructionError(err))
		})
	}
}

func TestBuilder_AllowsReachableCycles(t *testing.T) {
	f, err := NewBuilder("loop").
		Step("a", OnStart(), noop).
		Router("check", AnyOf("a", "retry"), []string{"again", "done"}, route("done")).
		Step("retry", On("again"), noop).
		Step("end", On("done"), noop).
		Build()
	require.NoError(t, err)
	assert.Len(t, f.Steps(), 4)

	s, ok := f.Step("check")
	require.True(t, ok)
	assert.True(t, s.IsRouter())
}

func TestFlow_Describe(t *testing.T) {
	f, err := NewBuilder("review").
		Step("x", OnStart(), noop).
		Step("y", OnStart(), noop, Persist()).
		Step("z", AllOf("x", "y"), noop).
		Router("gate", On("z"), []string{"rejected", "approved"}, route("approved")).
		Step("ship", On("approved"), noop).
		Step("fix", AnyOf("rejected", "x"), noop).
		Build()
	require.NoError(t, err)

	want := "flow review\n" +
		"  start  x\n" +
		"  start  y (persist)\n" +
		"  and    z <- x & y\n" +
		"  router gate <- z => [approved rejected]\n" +
		"  listen ship <- approved\n" +
		"  or     fix <- rejected | x\n"
	assert.Equal(t, want, f.Describe())
	assert.Equal(t, f.Describe(), f.Describe())
}

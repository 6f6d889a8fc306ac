package agent

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/crewflow/config"
	"github.com/BaSui01/crewflow/types"
)

func echoTool(name string) Tool {
	return NewFuncTool(types.ToolSchema{Name: name}, func(_ context.Context, args json.RawMessage) (json.RawMessage, error) {
		return args, nil
	})
}

func TestToolRegistry_RegisterAndList(t *testing.T) {
	reg := NewToolRegistry(zap.NewNop())

	require.NoError(t, reg.Register(echoTool("b")))
	require.NoError(t, reg.Register(echoTool("a")))
	assert.Error(t, reg.Register(echoTool("a")), "duplicate")
	assert.Error(t, reg.Register(echoTool("")), "unnamed")
	assert.Error(t, reg.Register(echoTool(ToolDelegateWork)), "reserved")

	schemas := reg.List()
	require.Len(t, schemas, 2)
	assert.Equal(t, "b", schemas[0].Name)
	assert.Equal(t, []string{"a", "b"}, reg.Names())
	assert.True(t, reg.Has("a"))

	require.NoError(t, reg.Unregister("a"))
	assert.ErrorIs(t, reg.Unregister("a"), ErrToolNotFound)
	assert.Equal(t, 1, reg.Len())
}

func TestToolRegistry_Execute(t *testing.T) {
	reg := NewToolRegistry(nil)
	require.NoError(t, reg.Register(echoTool("echo")))
	require.NoError(t, reg.Register(NewFuncTool(types.ToolSchema{Name: "fail"}, func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return nil, errors.New("boom")
	})))
	require.NoError(t, reg.Register(NewFuncTool(types.ToolSchema{Name: "panic"}, func(context.Context, json.RawMessage) (json.RawMessage, error) {
		panic("bad tool")
	})))

	results := reg.Execute(context.Background(), []types.ToolCall{
		{ID: "1", Name: "echo", Arguments: json.RawMessage(`{"x":1}`)},
		{ID: "2", Name: "fail"},
		{ID: "3", Name: "missing"},
		{ID: "4", Name: "panic"},
	})

	require.Len(t, results, 4)
	assert.Equal(t, `{"x":1}`, string(results[0].Result))
	assert.False(t, results[0].IsError())
	assert.Equal(t, "boom", results[1].Error)
	assert.Contains(t, results[2].Error, "tool not found")
	assert.Contains(t, results[3].Error, "panicked")
}

func TestToolRegistry_Timeout(t *testing.T) {
	reg := NewToolRegistry(nil)
	reg.SetTimeout(20 * time.Millisecond)
	require.NoError(t, reg.Register(NewFuncTool(types.ToolSchema{Name: "slow"}, func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})))

	res := reg.ExecuteOne(context.Background(), types.ToolCall{ID: "1", Name: "slow"})
	assert.Contains(t, res.Error, "deadline exceeded")
}

func TestConfig_WithDefaults(t *testing.T) {
	cfg := Config{Role: "Writer", MaxIterations: 4}.WithDefaults(config.CrewConfig{
		MaxIterations:    20,
		MaxExecutionTime: time.Minute,
		MaxRetryLimit:    2,
	})
	assert.Equal(t, "Writer", cfg.ID)
	assert.Equal(t, 4, cfg.MaxIterations)
	assert.Equal(t, 1, cfg.MaxInFlight)
	assert.Equal(t, 2, cfg.MaxRetryLimit)
	assert.Equal(t, time.Minute, cfg.MaxExecutionTime)
}

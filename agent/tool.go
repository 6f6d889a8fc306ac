package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/crewflow/types"
)

// DefaultToolTimeout bounds a single tool invocation.
const DefaultToolTimeout = 30 * time.Second

// Tool is an external capability a worker may call during its refinement loop.
type Tool interface {
	Schema() types.ToolSchema
	Invoke(ctx context.Context, args json.RawMessage) (json.RawMessage, error)
}

// ToolFunc defines the tool function signature.
type ToolFunc func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)

type funcTool struct {
	schema types.ToolSchema
	fn     ToolFunc
}

// NewFuncTool adapts a function into a Tool.
func NewFuncTool(schema types.ToolSchema, fn ToolFunc) Tool {
	return &funcTool{schema: schema, fn: fn}
}

func (t *funcTool) Schema() types.ToolSchema { return t.schema }

func (t *funcTool) Invoke(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	return t.fn(ctx, args)
}

// ToolRegistry holds the tools one worker is allowed to call.
type ToolRegistry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	order   []string
	timeout time.Duration
	logger  *zap.Logger
}

// NewToolRegistry 创建工具注册中心。
func NewToolRegistry(logger *zap.Logger) *ToolRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ToolRegistry{
		tools:   make(map[string]Tool),
		timeout: DefaultToolTimeout,
		logger:  logger.With(zap.String("component", "tool_registry")),
	}
}

// SetTimeout overrides the per-call timeout. Zero restores the default.
func (r *ToolRegistry) SetTimeout(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d <= 0 {
		d = DefaultToolTimeout
	}
	r.timeout = d
}

func (r *ToolRegistry) Register(tool Tool) error {
	name := tool.Schema().Name
	if name == "" {
		return fmt.Errorf("tool schema has no name")
	}
	if isReservedTool(name) {
		return fmt.Errorf("tool name %s is reserved", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}
	r.tools[name] = tool
	r.order = append(r.order, name)

	r.logger.Debug("tool registered", zap.String("name", name))
	return nil
}

func (r *ToolRegistry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; !exists {
		return fmt.Errorf("tool %s: %w", name, ErrToolNotFound)
	}
	delete(r.tools, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

func (r *ToolRegistry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("tool %s: %w", name, ErrToolNotFound)
	}
	return tool, nil
}

func (r *ToolRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// List returns schemas in registration order.
func (r *ToolRegistry) List() []types.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	schemas := make([]types.ToolSchema, 0, len(r.order))
	for _, name := range r.order {
		schemas = append(schemas, r.tools[name].Schema())
	}
	return schemas
}

// Names returns the registered tool names sorted alphabetically.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := append([]string(nil), r.order...)
	sort.Strings(names)
	return names
}

func (r *ToolRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Execute runs calls sequentially. Tool errors are reported in the result
// rather than returned so the model can react to them.
func (r *ToolRegistry) Execute(ctx context.Context, calls []types.ToolCall) []types.ToolResult {
	results := make([]types.ToolResult, len(calls))
	for i, call := range calls {
		results[i] = r.ExecuteOne(ctx, call)
	}
	return results
}

func (r *ToolRegistry) ExecuteOne(ctx context.Context, call types.ToolCall) types.ToolResult {
	start := time.Now()
	result := types.ToolResult{ToolCallID: call.ID, Name: call.Name}

	tool, err := r.Get(call.Name)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	r.mu.RLock()
	timeout := r.timeout
	r.mu.RUnlock()

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := invokeTool(callCtx, tool, call.Arguments)
	result.Duration = time.Since(start)
	if err != nil {
		result.Error = err.Error()
		r.logger.Warn("tool execution failed",
			zap.String("tool", call.Name),
			zap.Duration("duration", result.Duration),
			zap.Error(err),
		)
		return result
	}
	result.Result = out
	return result
}

type toolReply struct {
	out json.RawMessage
	err error
}

// invokeTool 在独立 goroutine 中执行工具，ctx 结束即返回，迟到的结果被丢弃
func invokeTool(ctx context.Context, tool Tool, args json.RawMessage) (json.RawMessage, error) {
	ch := make(chan toolReply, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				ch <- toolReply{err: fmt.Errorf("tool panicked: %v", rec)}
			}
		}()
		out, err := tool.Invoke(ctx, args)
		ch <- toolReply{out: out, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("tool %s: %w", tool.Schema().Name, ctx.Err())
	case r := <-ch:
		return r.out, r.err
	}
}

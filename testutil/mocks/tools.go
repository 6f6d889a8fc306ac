// MockTool 的工具测试模拟实现。
//
// 满足 agent.Tool 接口，支持固定结果、自定义函数与错误场景测试。
package mocks

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/BaSui01/crewflow/types"
)

// --- MockTool 结构 ---

// ToolFunc 工具执行函数类型
type ToolFunc func(ctx context.Context, args map[string]any) (any, error)

// MockTool 是单个工具的模拟实现
type MockTool struct {
	mu sync.RWMutex

	schema types.ToolSchema
	fn     ToolFunc
	result any
	err    error

	// 调用记录
	calls []ToolCall
}

// ToolCall 记录单次工具调用
type ToolCall struct {
	Args   map[string]any
	Result any
	Error  error
}

// --- 构造函数和 Builder 方法 ---

// NewMockTool 创建新的 MockTool
func NewMockTool(name string) *MockTool {
	params, _ := json.Marshal(map[string]any{"type": "object"})
	return &MockTool{
		schema: types.ToolSchema{
			Name:        name,
			Description: "Mock tool: " + name,
			Parameters:  params,
		},
	}
}

// WithFunc 设置执行函数
func (m *MockTool) WithFunc(fn ToolFunc) *MockTool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fn = fn
	return m
}

// WithResult 设置固定返回结果
func (m *MockTool) WithResult(result any) *MockTool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.result = result
	return m
}

// WithError 设置固定返回错误
func (m *MockTool) WithError(err error) *MockTool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// --- Tool 接口实现 ---

// Schema 返回工具定义
func (m *MockTool) Schema() types.ToolSchema {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.schema
}

// Invoke 执行工具
func (m *MockTool) Invoke(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	var parsed map[string]any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &parsed); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	fn, result, presetErr := m.fn, m.result, m.err
	m.mu.Unlock()

	call := ToolCall{Args: parsed}
	defer func() {
		m.mu.Lock()
		m.calls = append(m.calls, call)
		m.mu.Unlock()
	}()

	if presetErr != nil {
		call.Error = presetErr
		return nil, presetErr
	}
	if fn != nil {
		out, err := fn(ctx, parsed)
		call.Result, call.Error = out, err
		if err != nil {
			return nil, err
		}
		result = out
	} else {
		call.Result = result
	}
	return json.Marshal(result)
}

// --- 查询方法 ---

// GetCalls 获取所有调用记录
func (m *MockTool) GetCalls() []ToolCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]ToolCall{}, m.calls...)
}

// GetCallCount 获取调用次数
func (m *MockTool) GetCallCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.calls)
}

// --- 预设工具工厂 ---

// NewCalculatorTool 创建计算器工具
func NewCalculatorTool() *MockTool {
	return NewMockTool("calculator").
		WithFunc(func(ctx context.Context, args map[string]any) (any, error) {
			a, _ := args["a"].(float64)
			b, _ := args["b"].(float64)
			op, _ := args["op"].(string)

			switch op {
			case "sub", "-":
				return a - b, nil
			case "mul", "*":
				return a * b, nil
			case "div", "/":
				if b == 0 {
					return nil, errors.New("division by zero")
				}
				return a / b, nil
			default:
				return a + b, nil
			}
		})
}

// NewSearchTool 创建返回固定结果的搜索工具
func NewSearchTool(results []string) *MockTool {
	return NewMockTool("search").WithResult(results)
}

// NewErrorTool 创建总是返回错误的工具
func NewErrorTool(name string, err error) *MockTool {
	return NewMockTool(name).WithError(err)
}

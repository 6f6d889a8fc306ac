// MockProvider 的 LLM Provider 测试模拟实现。
//
// 支持脚本化响应、按请求路由、延迟与错误注入场景。
package mocks

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/crewflow/llm"
	"github.com/BaSui01/crewflow/types"
)

// --- MockProvider 结构 ---

// Responder 根据请求决定响应
type Responder func(ctx context.Context, req llm.Request) (*llm.Response, error)

// MockProvider 是 llm.Provider 的模拟实现
type MockProvider struct {
	mu sync.RWMutex

	// 响应配置
	response  string
	script    []*llm.Response
	toolCalls []types.ToolCall
	err       error
	responder Responder

	// Token 使用统计
	promptTokens     int
	completionTokens int

	// 调用记录
	calls     []MockProviderCall
	callCount int

	// 行为控制
	delay       time.Duration
	ignoreCtx   bool
	failAfter   int
	scriptIndex int
}

// MockProviderCall 记录单次调用
type MockProviderCall struct {
	Request  llm.Request
	Response *llm.Response
	Error    error
}

// ErrScriptExhausted 脚本响应耗尽
var ErrScriptExhausted = errors.New("mock provider: script exhausted")

// --- 构造函数和 Builder 方法 ---

// NewMockProvider 创建新的 MockProvider
func NewMockProvider() *MockProvider {
	return &MockProvider{
		response:         "Mock response",
		promptTokens:     10,
		completionTokens: 20,
	}
}

// WithResponse 设置固定响应内容
func (m *MockProvider) WithResponse(response string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.response = response
	return m
}

// WithScript 按顺序返回给定文本；耗尽后返回 ErrScriptExhausted
func (m *MockProvider) WithScript(texts ...string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, text := range texts {
		m.script = append(m.script, &llm.Response{Text: text})
	}
	return m
}

// WithScriptedResponses 按顺序返回完整响应
func (m *MockProvider) WithScriptedResponses(responses ...*llm.Response) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, responses...)
	return m
}

// WithError 设置返回错误
func (m *MockProvider) WithError(err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithToolCalls 设置工具调用响应
func (m *MockProvider) WithToolCalls(toolCalls []types.ToolCall) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.toolCalls = toolCalls
	return m
}

// WithTokenUsage 设置 Token 使用量
func (m *MockProvider) WithTokenUsage(prompt, completion int) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.promptTokens = prompt
	m.completionTokens = completion
	return m
}

// WithDelay 设置响应延迟；延迟期间尊重 ctx 取消
func (m *MockProvider) WithDelay(d time.Duration) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// WithIgnoreContext 延迟期间忽略 ctx，模拟不响应取消的上游
func (m *MockProvider) WithIgnoreContext() *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ignoreCtx = true
	return m
}

// WithFailAfter 设置在第 N 次调用后失败
func (m *MockProvider) WithFailAfter(n int) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAfter = n
	return m
}

// WithResponder 设置自定义响应函数，优先于脚本
func (m *MockProvider) WithResponder(fn Responder) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responder = fn
	return m
}

// --- Provider 接口实现 ---

// Name 返回 Provider 名称
func (m *MockProvider) Name() string {
	return "mock"
}

// Invoke 生成响应
func (m *MockProvider) Invoke(ctx context.Context, req llm.Request) (*llm.Response, error) {
	m.mu.Lock()
	m.callCount++
	delay, ignoreCtx := m.delay, m.ignoreCtx
	m.mu.Unlock()

	if delay > 0 {
		if ignoreCtx {
			time.Sleep(delay)
		} else {
			select {
			case <-ctx.Done():
				m.record(req, nil, ctx.Err())
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	resp, err := m.respond(ctx, req)
	m.record(req, resp, err)
	return resp, err
}

func (m *MockProvider) respond(ctx context.Context, req llm.Request) (*llm.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// 检查是否应该失败
	if m.failAfter > 0 && m.callCount > m.failAfter {
		return nil, errors.New("mock provider: configured to fail after N calls")
	}

	// 检查是否有预设错误
	if m.err != nil {
		return nil, m.err
	}

	// 使用自定义函数
	if m.responder != nil {
		fn := m.responder
		m.mu.Unlock()
		resp, err := fn(ctx, req)
		m.mu.Lock()
		return resp, err
	}

	if len(m.script) > 0 {
		if m.scriptIndex >= len(m.script) {
			return nil, ErrScriptExhausted
		}
		resp := *m.script[m.scriptIndex]
		m.scriptIndex++
		return &resp, nil
	}

	return &llm.Response{
		Text:      m.response,
		ToolCalls: m.toolCalls,
		Usage: types.TokenUsage{
			PromptTokens:     m.promptTokens,
			CompletionTokens: m.completionTokens,
			TotalTokens:      m.promptTokens + m.completionTokens,
		},
	}, nil
}

func (m *MockProvider) record(req llm.Request, resp *llm.Response, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockProviderCall{Request: req, Response: resp, Error: err})
}

// --- 查询方法 ---

// GetCalls 获取所有调用记录
func (m *MockProvider) GetCalls() []MockProviderCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]MockProviderCall{}, m.calls...)
}

// GetCallCount 获取调用次数
func (m *MockProvider) GetCallCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.callCount
}

// GetLastCall 获取最后一次调用
func (m *MockProvider) GetLastCall() *MockProviderCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.calls) == 0 {
		return nil
	}
	call := m.calls[len(m.calls)-1]
	return &call
}

// Reset 重置所有状态
func (m *MockProvider) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.callCount = 0
	m.scriptIndex = 0
	m.err = nil
}

// --- 按提示词路由 ---

// RouteByPrompt 返回一个 Responder：用户提示词包含某个 key 时返回对应文本。
// 未命中时返回 fallback。
func RouteByPrompt(routes map[string]string, fallback string) Responder {
	return func(_ context.Context, req llm.Request) (*llm.Response, error) {
		for key, text := range routes {
			if strings.Contains(req.User, key) {
				return &llm.Response{Text: text}, nil
			}
		}
		return &llm.Response{Text: fallback}, nil
	}
}

// --- 预设 Provider 工厂 ---

// NewSuccessProvider 创建总是成功的 Provider
func NewSuccessProvider(response string) *MockProvider {
	return NewMockProvider().WithResponse(response)
}

// NewErrorProvider 创建总是失败的 Provider
func NewErrorProvider(err error) *MockProvider {
	return NewMockProvider().WithError(err)
}

// NewScriptedProvider 创建按顺序返回文本的 Provider
func NewScriptedProvider(texts ...string) *MockProvider {
	return NewMockProvider().WithScript(texts...)
}

// NewToolCallProvider 创建返回工具调用的 Provider
func NewToolCallProvider(toolCalls []types.ToolCall) *MockProvider {
	return NewMockProvider().WithToolCalls(toolCalls)
}

// NewFlakeyProvider 创建不稳定的 Provider（间歇性失败）
func NewFlakeyProvider(failAfter int, response string) *MockProvider {
	return NewMockProvider().
		WithResponse(response).
		WithFailAfter(failAfter)
}

package llm

import (
	"context"

	"github.com/BaSui01/crewflow/types"
)

// Role 消息角色
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message 是细化循环中的一轮对话
type Message struct {
	Role       Role             `json:"role"`
	Content    string           `json:"content,omitempty"`
	ToolCalls  []types.ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

// Request 一次模型调用
type Request struct {
	System string `json:"system"`
	User   string `json:"user"`
	// Messages 为 User 之后的追加轮次（助手回复、工具结果）
	Messages []Message           `json:"messages,omitempty"`
	Tools    []types.ToolSchema `json:"tools,omitempty"`
}

// Response 模型回复
type Response struct {
	Text      string           `json:"text"`
	ToolCalls []types.ToolCall `json:"tool_calls,omitempty"`
	Usage     types.TokenUsage `json:"usage"`
}

// HasToolCalls 是否请求了工具调用
func (r *Response) HasToolCalls() bool {
	return r != nil && len(r.ToolCalls) > 0
}

// Provider 模型调用边界
type Provider interface {
	Invoke(ctx context.Context, req Request) (*Response, error)
	Name() string
}

// ProviderFunc 将函数适配为 Provider
type ProviderFunc func(ctx context.Context, req Request) (*Response, error)

// Invoke 实现 Provider
func (f ProviderFunc) Invoke(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

// Name 实现 Provider
func (f ProviderFunc) Name() string { return "func" }

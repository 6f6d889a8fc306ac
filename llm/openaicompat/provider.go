// =============================================================================
// CrewFlow OpenAI-Compatible Provider
// =============================================================================
// Invokes any chat-completions endpoint that speaks the OpenAI wire format
// (OpenAI, DeepSeek, Qwen, GLM, vLLM, Ollama ...). Only the orchestration
// boundary is implemented: one non-streaming completion per Invoke.
// =============================================================================

package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/crewflow/internal/tlsutil"
	"github.com/BaSui01/crewflow/llm"
	"github.com/BaSui01/crewflow/types"
)

// Config holds the configuration for an OpenAI-compatible provider.
type Config struct {
	// ProviderName is reported by Name; defaults to "openai-compat".
	ProviderName string
	APIKey       string
	// BaseURL is the API root, e.g. "https://api.deepseek.com".
	BaseURL string
	Model   string
	// Timeout is the HTTP client timeout. Defaults to 60s if zero.
	Timeout time.Duration
	// EndpointPath defaults to "/v1/chat/completions".
	EndpointPath string
}

// Provider implements llm.Provider over HTTP.
type Provider struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// Option configures a Provider.
type Option func(*Provider)

// WithHTTPClient replaces the hardened default client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// New creates a new OpenAI-compatible provider.
func New(cfg Config, logger *zap.Logger, opts ...Option) (*Provider, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, types.NewError(types.ErrConstruction, "openai-compatible provider requires a base URL")
	}
	if cfg.Model == "" {
		return nil, types.NewError(types.ErrConstruction, "openai-compatible provider requires a model")
	}
	if cfg.ProviderName == "" {
		cfg.ProviderName = "openai-compat"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/v1/chat/completions"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Provider{
		cfg:    cfg,
		client: tlsutil.SecureHTTPClient(cfg.Timeout),
		logger: logger.With(zap.String("component", "llm_provider"), zap.String("provider", cfg.ProviderName)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Name returns the provider name.
func (p *Provider) Name() string { return p.cfg.ProviderName }

// =============================================================================
// Wire types
// =============================================================================

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireTool struct {
	Type     string          `json:"type"`
	Function wireToolPayload `json:"function"`
}

type wireToolPayload struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type wireRequest struct {
	Model    string        `json:"model"`
	Messages []wireMessage `json:"messages"`
	Tools    []wireTool    `json:"tools,omitempty"`
}

type wireResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Index        int         `json:"index"`
		FinishReason string      `json:"finish_reason"`
		Message      wireMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// =============================================================================
// Invoke
// =============================================================================

// Invoke performs one non-streaming chat completion.
func (p *Provider) Invoke(ctx context.Context, req llm.Request) (*llm.Response, error) {
	payload, err := json.Marshal(p.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, types.NewError(types.ErrUpstreamError, err.Error()).WithCause(err).WithRetryable(true)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, mapHTTPError(resp.StatusCode, readErrorMessage(resp.Body))
	}

	var wire wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, types.NewError(types.ErrUpstreamError, "decode completion: "+err.Error()).WithRetryable(true)
	}
	if len(wire.Choices) == 0 {
		return nil, types.NewError(types.ErrUpstreamError, "completion has no choices").WithRetryable(true)
	}

	out := toResponse(wire)
	p.logger.Debug("completion finished",
		zap.Duration("latency", time.Since(start)),
		zap.Int("total_tokens", out.Usage.TotalTokens),
		zap.Int("tool_calls", len(out.ToolCalls)),
	)
	return out, nil
}

func (p *Provider) endpoint() string {
	return strings.TrimRight(p.cfg.BaseURL, "/") + p.cfg.EndpointPath
}

func (p *Provider) buildRequest(req llm.Request) wireRequest {
	msgs := make([]wireMessage, 0, len(req.Messages)+2)
	if req.System != "" {
		msgs = append(msgs, wireMessage{Role: string(llm.RoleSystem), Content: req.System})
	}
	msgs = append(msgs, wireMessage{Role: string(llm.RoleUser), Content: req.User})
	for _, m := range req.Messages {
		wm := wireMessage{Role: string(m.Role), Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
				ID:       tc.ID,
				Type:     "function",
				Function: wireFunction{Name: tc.Name, Arguments: string(tc.Arguments)},
			})
		}
		msgs = append(msgs, wm)
	}

	var tools []wireTool
	for _, t := range req.Tools {
		tools = append(tools, wireTool{
			Type:     "function",
			Function: wireToolPayload{Name: t.Name, Description: t.Description, Parameters: t.Parameters},
		})
	}
	return wireRequest{Model: p.cfg.Model, Messages: msgs, Tools: tools}
}

func toResponse(wire wireResponse) *llm.Response {
	msg := wire.Choices[0].Message
	out := &llm.Response{
		Text: msg.Content,
		Usage: types.TokenUsage{
			PromptTokens:     wire.Usage.PromptTokens,
			CompletionTokens: wire.Usage.CompletionTokens,
			TotalTokens:      wire.Usage.TotalTokens,
		},
	}
	for _, tc := range msg.ToolCalls {
		args := json.RawMessage(tc.Function.Arguments)
		if !json.Valid(args) {
			args = json.RawMessage("{}")
		}
		out.ToolCalls = append(out.ToolCalls, types.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args})
	}
	return out
}

// mapHTTPError 将 HTTP 状态码映射为带重试标记的 types.Error
func mapHTTPError(status int, msg string) *types.Error {
	switch {
	case status == http.StatusTooManyRequests:
		return types.NewError(types.ErrRateLimit, msg).WithRetryable(true)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return types.NewError(types.ErrTimeout, msg).WithRetryable(true)
	case status >= 500 || status == 529:
		return types.NewError(types.ErrUpstreamError, msg).WithRetryable(true)
	default:
		return types.NewError(types.ErrInvalidRequest, fmt.Sprintf("status %d: %s", status, msg))
	}
}

// readErrorMessage 尝试解析 JSON 错误体，失败则回退到原始文本
func readErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 64<<10))
	if err != nil {
		return "failed to read error response"
	}
	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		if errResp.Error.Type != "" {
			return fmt.Sprintf("%s (type: %s)", errResp.Error.Message, errResp.Error.Type)
		}
		return errResp.Error.Message
	}
	return strings.TrimSpace(string(data))
}

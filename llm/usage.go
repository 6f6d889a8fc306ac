package llm

import (
	"context"

	"github.com/BaSui01/crewflow/llm/tokenizer"
)

// UsageProvider 在底层 Provider 未上报用量时用分词器估算
type UsageProvider struct {
	inner   Provider
	counter tokenizer.Counter
}

// NewUsageProvider 包装 Provider
func NewUsageProvider(inner Provider, counter tokenizer.Counter) *UsageProvider {
	return &UsageProvider{inner: inner, counter: counter}
}

// Invoke 实现 Provider
func (p *UsageProvider) Invoke(ctx context.Context, req Request) (*Response, error) {
	resp, err := p.inner.Invoke(ctx, req)
	if err != nil || resp == nil || !resp.Usage.IsZero() {
		return resp, err
	}

	prompt := p.count(req.System) + p.count(req.User)
	for _, m := range req.Messages {
		prompt += p.count(m.Content)
	}
	completion := p.count(resp.Text)

	resp.Usage.PromptTokens = prompt
	resp.Usage.CompletionTokens = completion
	resp.Usage.TotalTokens = prompt + completion
	return resp, nil
}

func (p *UsageProvider) count(text string) int {
	n, err := p.counter.CountTokens(text)
	if err != nil {
		return 0
	}
	return n
}

// Name 实现 Provider
func (p *UsageProvider) Name() string { return p.inner.Name() }

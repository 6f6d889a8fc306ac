package llm

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/BaSui01/crewflow/llm/retry"
	"github.com/BaSui01/crewflow/types"
)

// RetryProvider 在可重试错误上按退避策略重试底层 Provider
type RetryProvider struct {
	inner   Provider
	retryer retry.Retryer
}

// NewRetryProvider 包装 Provider。只有 types.IsRetryable 为 true 的错误会被重试。
func NewRetryProvider(inner Provider, policy *retry.RetryPolicy, logger *zap.Logger) *RetryProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy == nil {
		policy = retry.DefaultRetryPolicy()
	}
	policy.ShouldRetry = func(err error) bool {
		return types.IsRetryable(err) && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	return &RetryProvider{
		inner:   inner,
		retryer: retry.NewBackoffRetryer(policy, logger.With(zap.String("provider", inner.Name()))),
	}
}

// Invoke 实现 Provider
func (p *RetryProvider) Invoke(ctx context.Context, req Request) (*Response, error) {
	return retry.DoWithResultTyped(p.retryer, ctx, func() (*Response, error) {
		return p.inner.Invoke(ctx, req)
	})
}

// Name 实现 Provider
func (p *RetryProvider) Name() string { return p.inner.Name() }

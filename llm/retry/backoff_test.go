package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/crewflow/config"
)

func fastPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:   3,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     20 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestBackoffRetryer_Success(t *testing.T) {
	r := NewBackoffRetryer(fastPolicy(), zap.NewNop())

	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestBackoffRetryer_RetryThenSuccess(t *testing.T) {
	r := NewBackoffRetryer(fastPolicy(), zap.NewNop())

	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("temporary")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestBackoffRetryer_Exhausted(t *testing.T) {
	r := NewBackoffRetryer(fastPolicy(), zap.NewNop())
	cause := errors.New("always")

	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		return cause
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 4, calls)
}

func TestBackoffRetryer_ShouldRetry(t *testing.T) {
	fatal := errors.New("fatal")
	policy := fastPolicy()
	policy.ShouldRetry = func(err error) bool { return !errors.Is(err, fatal) }
	r := NewBackoffRetryer(policy, nil)

	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		return fatal
	})
	assert.ErrorIs(t, err, fatal)
	assert.NotErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 1, calls)
}

func TestBackoffRetryer_ContextCanceled(t *testing.T) {
	policy := fastPolicy()
	policy.InitialDelay = time.Second
	policy.MaxDelay = time.Second
	r := NewBackoffRetryer(policy, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := r.Do(ctx, func() error { return errors.New("temporary") })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestBackoffRetryer_DelayCalculation(t *testing.T) {
	r := NewBackoffRetryer(&RetryPolicy{
		MaxRetries:   5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
	}, nil).(*backoffRetryer)

	assert.Equal(t, 100*time.Millisecond, r.calculateDelay(1))
	assert.Equal(t, 200*time.Millisecond, r.calculateDelay(2))
	assert.Equal(t, 400*time.Millisecond, r.calculateDelay(3))
	assert.Equal(t, time.Second, r.calculateDelay(10))
}

func TestBackoffRetryer_OnRetry(t *testing.T) {
	policy := fastPolicy()
	var attempts []int
	policy.OnRetry = func(attempt int, _ error, _ time.Duration) { attempts = append(attempts, attempt) }
	r := NewBackoffRetryer(policy, nil)

	_ = r.Do(context.Background(), func() error { return errors.New("x") })
	assert.Equal(t, []int{1, 2, 3}, attempts)
}

func TestDoWithResultTyped(t *testing.T) {
	r := NewBackoffRetryer(fastPolicy(), nil)

	calls := 0
	val, err := DoWithResultTyped(r, context.Background(), func() (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("once")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", val)

	_, err = DoWithResultTyped(NewBackoffRetryer(&RetryPolicy{MaxRetries: 0}, nil), context.Background(), func() (int, error) {
		return 0, errors.New("fail")
	})
	assert.Error(t, err)
}

func TestPolicyFromConfig(t *testing.T) {
	p := PolicyFromConfig(config.DefaultLLMConfig())
	assert.Equal(t, 3, p.MaxRetries)
	assert.Equal(t, time.Second, p.InitialDelay)
	assert.True(t, p.Jitter)
}

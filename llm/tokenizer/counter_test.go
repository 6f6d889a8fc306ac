package tokenizer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimator(t *testing.T) {
	e := NewEstimator()

	n, err := e.CountTokens("")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, _ = e.CountTokens("abcdefgh")
	assert.Equal(t, 2, n)

	n, _ = e.CountTokens("a")
	assert.Equal(t, 1, n)

	n, _ = e.CountTokens("你好世界")
	assert.Equal(t, 2, n)
}

type failingCounter struct{}

func (failingCounter) CountTokens(string) (int, error) { return 0, errors.New("offline") }
func (failingCounter) Name() string                    { return "failing" }

func TestFallbackCounter(t *testing.T) {
	c := &fallbackCounter{primary: failingCounter{}, fallback: NewEstimator()}

	n, err := c.CountTokens("abcdefgh")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "failing|estimator", c.Name())
}

func TestTiktokenCounter_Empty(t *testing.T) {
	// 空文本不触发词表加载
	n, err := NewTiktokenCounter("cl100k_base").CountTokens("")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestNewCounter_DefaultEncoding(t *testing.T) {
	c := NewCounter("")
	assert.Equal(t, "tiktoken[cl100k_base]|estimator", c.Name())
}

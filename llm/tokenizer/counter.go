package tokenizer

// Counter 是统一的 Token 计数接口
type Counter interface {
	// CountTokens 返回文本的 token 数
	CountTokens(text string) (int, error)
	// Name 返回计数器名称
	Name() string
}

// NewCounter 返回基于 tiktoken 的计数器，编码数据不可用时回退到估算器
func NewCounter(encoding string) Counter {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	return &fallbackCounter{
		primary:  NewTiktokenCounter(encoding),
		fallback: NewEstimator(),
	}
}

type fallbackCounter struct {
	primary  Counter
	fallback Counter
}

func (c *fallbackCounter) CountTokens(text string) (int, error) {
	n, err := c.primary.CountTokens(text)
	if err != nil {
		return c.fallback.CountTokens(text)
	}
	return n, nil
}

func (c *fallbackCounter) Name() string {
	return c.primary.Name() + "|" + c.fallback.Name()
}

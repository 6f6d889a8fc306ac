package hitl

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// InterruptKind 中断类型
type InterruptKind string

const (
	// KindClarification 工作者提出的澄清问题
	KindClarification InterruptKind = "clarification"
	// KindReview 任务输出等待人工审阅
	KindReview InterruptKind = "review"
	// KindFlow flow 步骤挂起
	KindFlow InterruptKind = "flow"
)

// InterruptStatus 中断状态
type InterruptStatus string

const (
	InterruptStatusPending  InterruptStatus = "pending"
	InterruptStatusResolved InterruptStatus = "resolved"
	InterruptStatusCanceled InterruptStatus = "canceled"
)

// Interrupt 是一次人工输入请求
type Interrupt struct {
	ID         string          `json:"id"`
	InstanceID string          `json:"instance_id"`
	Source     string          `json:"source,omitempty"`
	Kind       InterruptKind   `json:"kind"`
	Status     InterruptStatus `json:"status"`
	Question   string          `json:"question"`
	Data       any             `json:"data,omitempty"`
	Response   string          `json:"response,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	ResolvedAt *time.Time      `json:"resolved_at,omitempty"`
}

func (i *Interrupt) clone() *Interrupt {
	c := *i
	if i.ResolvedAt != nil {
		t := *i.ResolvedAt
		c.ResolvedAt = &t
	}
	return &c
}

// InterruptStore 中断存储接口
type InterruptStore interface {
	Save(ctx context.Context, interrupt *Interrupt) error
	Load(ctx context.Context, interruptID string) (*Interrupt, error)
	List(ctx context.Context, instanceID string, status InterruptStatus) ([]*Interrupt, error)
	Update(ctx context.Context, interrupt *Interrupt) error
}

// InMemoryInterruptStore 内存中断存储
type InMemoryInterruptStore struct {
	interrupts map[string]*Interrupt
	mu         sync.RWMutex
}

// NewInMemoryInterruptStore 创建内存中断存储
func NewInMemoryInterruptStore() *InMemoryInterruptStore {
	return &InMemoryInterruptStore{
		interrupts: make(map[string]*Interrupt),
	}
}

func (s *InMemoryInterruptStore) Save(ctx context.Context, interrupt *Interrupt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interrupts[interrupt.ID] = interrupt.clone()
	return nil
}

func (s *InMemoryInterruptStore) Load(ctx context.Context, interruptID string) (*Interrupt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	interrupt, ok := s.interrupts[interruptID]
	if !ok {
		return nil, fmt.Errorf("interrupt %s: %w", interruptID, ErrInterruptNotFound)
	}
	return interrupt.clone(), nil
}

// List 按创建时间排序返回匹配的中断；空参数表示不过滤
func (s *InMemoryInterruptStore) List(ctx context.Context, instanceID string, status InterruptStatus) ([]*Interrupt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []*Interrupt
	for _, interrupt := range s.interrupts {
		if (instanceID == "" || interrupt.InstanceID == instanceID) &&
			(status == "" || interrupt.Status == status) {
			results = append(results, interrupt.clone())
		}
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].CreatedAt.Before(results[j].CreatedAt)
	})
	return results, nil
}

func (s *InMemoryInterruptStore) Update(ctx context.Context, interrupt *Interrupt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.interrupts[interrupt.ID]; !ok {
		return fmt.Errorf("interrupt %s: %w", interrupt.ID, ErrInterruptNotFound)
	}
	s.interrupts[interrupt.ID] = interrupt.clone()
	return nil
}

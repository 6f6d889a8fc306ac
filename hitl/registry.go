package hitl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrNotSuspended 实例没有待处理的中断
	ErrNotSuspended = errors.New("instance is not suspended")
	// ErrAlreadySuspended 实例已有待处理的中断
	ErrAlreadySuspended = errors.New("instance already suspended")
	// ErrInterruptNotFound 中断记录不存在
	ErrInterruptNotFound = errors.New("interrupt not found")
)

// ResumeFunc continues a suspended instance with the human input.
type ResumeFunc func(ctx context.Context, input string) error

// InterruptHandler 在中断创建后被异步通知
type InterruptHandler func(ctx context.Context, interrupt *Interrupt) error

// SuspendOptions 描述一次挂起
type SuspendOptions struct {
	InstanceID string
	Source     string
	Kind       InterruptKind
	Question   string
	Data       any
}

type pendingInterrupt struct {
	interrupt *Interrupt
	resume    ResumeFunc
}

// Registry tracks suspended instances by instance id. At most one interrupt
// is pending per instance.
type Registry struct {
	store    InterruptStore
	logger   *zap.Logger
	handlers map[InterruptKind][]InterruptHandler
	pending  map[string]*pendingInterrupt
	mu       sync.RWMutex
}

// NewRegistry 创建中断注册表。store 为 nil 时使用内存存储。
func NewRegistry(store InterruptStore, logger *zap.Logger) *Registry {
	if store == nil {
		store = NewInMemoryInterruptStore()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		store:    store,
		logger:   logger.With(zap.String("component", "hitl_registry")),
		handlers: make(map[InterruptKind][]InterruptHandler),
		pending:  make(map[string]*pendingInterrupt),
	}
}

// RegisterHandler 为中断类型登记处理器
func (r *Registry) RegisterHandler(kind InterruptKind, handler InterruptHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = append(r.handlers[kind], handler)
}

// Suspend records a pending interrupt for opts.InstanceID. It does not block.
func (r *Registry) Suspend(ctx context.Context, opts SuspendOptions, resume ResumeFunc) (*Interrupt, error) {
	if opts.InstanceID == "" {
		return nil, errors.New("instance id is required")
	}
	if resume == nil {
		return nil, errors.New("resume func is required")
	}

	interrupt := &Interrupt{
		ID:         uuid.New().String(),
		InstanceID: opts.InstanceID,
		Source:     opts.Source,
		Kind:       opts.Kind,
		Status:     InterruptStatusPending,
		Question:   opts.Question,
		Data:       opts.Data,
		CreatedAt:  time.Now(),
	}

	r.mu.Lock()
	if _, exists := r.pending[opts.InstanceID]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", opts.InstanceID, ErrAlreadySuspended)
	}
	r.pending[opts.InstanceID] = &pendingInterrupt{interrupt: interrupt, resume: resume}
	r.mu.Unlock()

	if err := r.store.Save(ctx, interrupt); err != nil {
		r.mu.Lock()
		delete(r.pending, opts.InstanceID)
		r.mu.Unlock()
		return nil, fmt.Errorf("failed to save interrupt: %w", err)
	}

	r.logger.Info("instance suspended",
		zap.String("interrupt_id", interrupt.ID),
		zap.String("instance_id", interrupt.InstanceID),
		zap.String("kind", string(interrupt.Kind)),
	)
	r.notifyHandlers(ctx, interrupt)
	return interrupt.clone(), nil
}

// Resume resolves the pending interrupt of instanceID and invokes its
// ResumeFunc synchronously. The interrupt is resolved before the function
// runs, so the resumed instance may suspend again.
func (r *Registry) Resume(ctx context.Context, instanceID, input string) error {
	r.mu.Lock()
	p, ok := r.pending[instanceID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%s: %w", instanceID, ErrNotSuspended)
	}
	delete(r.pending, instanceID)
	r.mu.Unlock()

	now := time.Now()
	p.interrupt.Status = InterruptStatusResolved
	p.interrupt.Response = input
	p.interrupt.ResolvedAt = &now
	if err := r.store.Update(ctx, p.interrupt); err != nil {
		r.logger.Warn("failed to update interrupt", zap.String("interrupt_id", p.interrupt.ID), zap.Error(err))
	}

	r.logger.Info("resuming instance",
		zap.String("interrupt_id", p.interrupt.ID),
		zap.String("instance_id", instanceID),
	)
	return p.resume(ctx, input)
}

// Cancel drops the pending interrupt without resuming.
func (r *Registry) Cancel(ctx context.Context, instanceID string) error {
	r.mu.Lock()
	p, ok := r.pending[instanceID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%s: %w", instanceID, ErrNotSuspended)
	}
	delete(r.pending, instanceID)
	r.mu.Unlock()

	now := time.Now()
	p.interrupt.Status = InterruptStatusCanceled
	p.interrupt.ResolvedAt = &now
	if err := r.store.Update(ctx, p.interrupt); err != nil {
		return err
	}
	r.logger.Info("interrupt canceled", zap.String("instance_id", instanceID))
	return nil
}

// Pending returns the pending interrupt of one instance.
func (r *Registry) Pending(instanceID string) (*Interrupt, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pending[instanceID]
	if !ok {
		return nil, false
	}
	return p.interrupt.clone(), true
}

// List returns interrupts from the store filtered by status; "" lists all.
func (r *Registry) List(ctx context.Context, status InterruptStatus) ([]*Interrupt, error) {
	return r.store.List(ctx, "", status)
}

// IsSuspended reports whether instanceID has a pending interrupt.
func (r *Registry) IsSuspended(instanceID string) bool {
	_, ok := r.Pending(instanceID)
	return ok
}

func (r *Registry) notifyHandlers(ctx context.Context, interrupt *Interrupt) {
	r.mu.RLock()
	handlers := r.handlers[interrupt.Kind]
	r.mu.RUnlock()

	for _, handler := range handlers {
		go func(h InterruptHandler, in *Interrupt) {
			if err := h(context.WithoutCancel(ctx), in); err != nil {
				r.logger.Error("handler error", zap.Error(err))
			}
		}(handler, interrupt.clone())
	}
}

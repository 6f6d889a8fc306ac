package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/BaSui01/crewflow/event"
	"github.com/BaSui01/crewflow/llm"
	"github.com/BaSui01/crewflow/types"
)

const (
	instrumentationName = "github.com/BaSui01/crewflow/agent"

	memoryEntries  = 5
	memoryEntryLen = 500
)

// Option configures a Worker.
type Option func(*Worker)

// WithBus sets the event bus lifecycle events are published on.
func WithBus(bus event.Bus) Option {
	return func(w *Worker) { w.bus = bus }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithTools registers tools on the worker's registry.
func WithTools(tools ...Tool) Option {
	return func(w *Worker) { w.pendingTools = append(w.pendingTools, tools...) }
}

// WithToolRegistry replaces the worker's registry.
func WithToolRegistry(reg *ToolRegistry) Option {
	return func(w *Worker) { w.tools = reg }
}

// Worker is an LLM-backed agent executing one task at a time per in-flight
// slot. A Worker is shared by reference across the tasks of a crew.
type Worker struct {
	cfg      Config
	provider llm.Provider
	tools    *ToolRegistry
	bus      event.Bus
	logger   *zap.Logger
	tracer   trace.Tracer

	sem     *semaphore.Weighted
	limiter *rate.Limiter

	memMu  sync.Mutex
	memory []string

	pendingTools []Tool
}

// NewWorker 创建 Worker。cfg 中未设置的限制应由调用方先通过 WithDefaults 补齐。
func NewWorker(cfg Config, provider llm.Provider, opts ...Option) (*Worker, error) {
	if provider == nil {
		return nil, ErrProviderNotSet
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.ID == "" {
		cfg.ID = cfg.Role
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 1
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 1
	}

	w := &Worker{
		cfg:      cfg,
		provider: provider,
		logger:   zap.NewNop(),
		tracer:   otel.Tracer(instrumentationName),
		sem:      semaphore.NewWeighted(int64(cfg.MaxInFlight)),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(
		zap.String("component", "worker"),
		zap.String("worker_id", cfg.ID),
	)
	if w.tools == nil {
		w.tools = NewToolRegistry(w.logger)
	}
	for _, tool := range w.pendingTools {
		if err := w.tools.Register(tool); err != nil {
			return nil, fmt.Errorf("worker %s: %w", cfg.ID, err)
		}
	}
	w.pendingTools = nil

	if cfg.MaxRPM > 0 {
		w.limiter = rate.NewLimiter(rate.Limit(float64(cfg.MaxRPM)/60.0), 1)
	}
	return w, nil
}

func (w *Worker) ID() string             { return w.cfg.ID }
func (w *Worker) Role() string           { return w.cfg.Role }
func (w *Worker) Config() Config         { return w.cfg }
func (w *Worker) MaxRetryLimit() int     { return w.cfg.MaxRetryLimit }
func (w *Worker) AllowsDelegation() bool { return w.cfg.AllowDelegation }
func (w *Worker) Tools() *ToolRegistry   { return w.tools }

// Execute runs the refinement loop for one task. It never returns nil and
// never blocks past MaxExecutionTime or the caller's deadline.
func (w *Worker) Execute(ctx context.Context, task Task, taskContext string) Outcome {
	start := time.Now()
	ctx = types.WithTaskID(ctx, task.ID)

	ctx, span := w.tracer.Start(ctx, "worker.execute",
		trace.WithAttributes(
			attribute.String("worker.id", w.cfg.ID),
			attribute.String("worker.role", w.cfg.Role),
			attribute.String("task.id", task.ID),
		))
	defer span.End()

	traceID, _ := types.TraceID(ctx)
	w.logger.Info("executing task",
		zap.String("trace_id", traceID),
		zap.String("task_id", task.ID),
	)
	w.publish(event.WorkerExecutionStarted, event.WorkerPayload{
		WorkerID: w.cfg.ID,
		Role:     w.cfg.Role,
		TaskID:   task.ID,
	})

	if w.cfg.MaxExecutionTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.cfg.MaxExecutionTime)
		defer cancel()
	}

	outcome := w.run(ctx, task, taskContext)

	if d, ok := outcome.(*DelegationRequest); ok && !w.cfg.AllowDelegation {
		msg := fmt.Sprintf("worker %s may not delegate to %q", w.cfg.ID, d.TargetHint)
		outcome = &Failure{
			Reason: ReasonDelegationDisabled,
			Err:    types.NewError(types.ErrDelegationDenied, msg),
			Usage:  d.Usage,
		}
	}

	duration := time.Since(start)
	payload := event.WorkerPayload{
		WorkerID: w.cfg.ID,
		Role:     w.cfg.Role,
		TaskID:   task.ID,
		Outcome:  string(outcome.Kind()),
		Duration: duration,
	}
	span.SetAttributes(attribute.String("worker.outcome", string(outcome.Kind())))

	if f, ok := outcome.(*Failure); ok {
		payload.Error = f.Error()
		span.SetStatus(codes.Error, f.Reason)
		if f.Err != nil {
			span.RecordError(f.Err)
		}
		w.logger.Warn("task execution failed",
			zap.String("task_id", task.ID),
			zap.String("reason", f.Reason),
			zap.Duration("duration", duration),
			zap.Error(f.Err),
		)
		w.publish(event.WorkerExecutionFailed, payload)
		return outcome
	}

	if r, ok := outcome.(*Result); ok {
		w.remember(r.Text)
	}
	w.logger.Info("task execution completed",
		zap.String("task_id", task.ID),
		zap.String("outcome", string(outcome.Kind())),
		zap.Duration("duration", duration),
		zap.Int("total_tokens", outcome.TokenUsage().TotalTokens),
	)
	w.publish(event.WorkerExecutionCompleted, payload)
	return outcome
}

func (w *Worker) run(ctx context.Context, task Task, taskContext string) Outcome {
	if err := w.sem.Acquire(ctx, 1); err != nil {
		return w.failure(ctx, err)
	}
	defer w.sem.Release(1)

	req := llm.Request{
		System: systemPrompt(w.cfg, w.recall()),
		User:   userPrompt(task, taskContext),
		Tools:  w.toolSchemas(),
	}

	var usage types.TokenUsage
	for iter := 0; iter < w.cfg.MaxIterations; iter++ {
		if iter > 0 && iter == w.cfg.MaxIterations-1 && len(req.Tools) > 0 {
			req.Tools = nil
			req.Messages = append(req.Messages, llm.Message{Role: llm.RoleUser, Content: maxIterationsNotice})
		}

		resp, err := w.invoke(ctx, req)
		if err != nil {
			return withUsage(w.failure(ctx, err), usage)
		}
		usage.Add(resp.Usage)

		if !resp.HasToolCalls() {
			if strings.TrimSpace(resp.Text) == "" {
				return &Failure{
					Reason: ReasonEmptyResponse,
					Err:    types.NewError(types.ErrExecutionFailure, "model returned an empty answer"),
					Usage:  usage,
				}
			}
			return withUsage(parseAnswer(resp.Text), usage)
		}

		for _, call := range resp.ToolCalls {
			if !isReservedTool(call.Name) {
				continue
			}
			outcome, err := parseBuiltinCall(call)
			if err != nil {
				return &Failure{
					Reason: ReasonProviderError,
					Err:    types.NewError(types.ErrExecutionFailure, "malformed built-in tool call").WithCause(err),
					Usage:  usage,
				}
			}
			return withUsage(outcome, usage)
		}

		req.Messages = append(req.Messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		})
		for _, result := range w.tools.Execute(ctx, resp.ToolCalls) {
			req.Messages = append(req.Messages, llm.Message{
				Role:       llm.RoleTool,
				Content:    result.String(),
				ToolCallID: result.ToolCallID,
			})
		}
		if ctx.Err() != nil {
			return withUsage(w.failure(ctx, ctx.Err()), usage)
		}
	}

	msg := fmt.Sprintf("no final answer after %d iterations", w.cfg.MaxIterations)
	return &Failure{
		Reason: ReasonMaxIterations,
		Err:    types.NewError(types.ErrExecutionFailure, msg),
		Usage:  usage,
	}
}

type reply struct {
	resp *llm.Response
	err  error
}

// invoke calls the provider in its own goroutine so a provider ignoring ctx
// cannot hold the worker past its deadline. A late reply is dropped.
func (w *Worker) invoke(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if w.limiter != nil {
		if err := w.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("rate limit wait: %w", context.DeadlineExceeded)
		}
	}

	ch := make(chan reply, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				ch <- reply{err: fmt.Errorf("provider panicked: %v", rec)}
			}
		}()
		resp, err := w.provider.Invoke(ctx, req)
		ch <- reply{resp: resp, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if r.err == nil && r.resp == nil {
			return nil, errors.New("provider returned no response")
		}
		return r.resp, r.err
	}
}

func (w *Worker) failure(ctx context.Context, err error) *Failure {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &Failure{
			Reason: ReasonTimeout,
			Err:    types.NewError(types.ErrTimeout, "worker execution timed out").WithCause(err),
		}
	case errors.Is(err, context.Canceled) || ctx.Err() != nil:
		return &Failure{
			Reason: ReasonCancelled,
			Err:    types.NewError(types.ErrCancelled, "worker execution cancelled").WithCause(err),
		}
	default:
		cause := types.NewError(types.ErrExecutionFailure, "llm invocation failed").
			WithCause(err).
			WithRetryable(types.IsRetryable(err))
		return &Failure{Reason: ReasonProviderError, Err: cause}
	}
}

func (w *Worker) toolSchemas() []types.ToolSchema {
	schemas := w.tools.List()
	if w.cfg.AllowDelegation {
		schemas = append(schemas, delegateSchema)
	}
	if len(schemas) == 0 {
		return nil
	}
	return append(schemas, askHumanSchema)
}

func (w *Worker) publish(name event.Name, payload event.WorkerPayload) {
	if w.bus == nil {
		return
	}
	w.bus.Publish(event.New(name, w.cfg.ID, payload))
}

func (w *Worker) remember(text string) {
	if !w.cfg.Memory || text == "" {
		return
	}
	if len(text) > memoryEntryLen {
		text = text[:memoryEntryLen]
	}
	w.memMu.Lock()
	defer w.memMu.Unlock()
	w.memory = append(w.memory, text)
	if len(w.memory) > memoryEntries {
		w.memory = w.memory[len(w.memory)-memoryEntries:]
	}
}

func (w *Worker) recall() []string {
	if !w.cfg.Memory {
		return nil
	}
	w.memMu.Lock()
	defer w.memMu.Unlock()
	return append([]string(nil), w.memory...)
}

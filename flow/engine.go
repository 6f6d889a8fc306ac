package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/BaSui01/crewflow/config"
	"github.com/BaSui01/crewflow/event"
	"github.com/BaSui01/crewflow/hitl"
	"github.com/BaSui01/crewflow/state"
	"github.com/BaSui01/crewflow/types"
)

const instrumentationName = "github.com/BaSui01/crewflow/flow"

// Status 流程实例状态
type Status string

const (
	StatusCreated   Status = "created"
	StatusRunning   Status = "running"
	StatusSuspended Status = "suspended"
	StatusFinished  Status = "finished"
	StatusFailed    Status = "failed"
	StatusStopped   Status = "stopped"
)

// Result is the outcome of one Kickoff or Resume.
type Result struct {
	FlowType   string         `json:"flow_type"`
	InstanceID string         `json:"instance_id"`
	Status     Status         `json:"status"`
	State      map[string]any `json:"state"`
	// Output is the return value of the last step that completed.
	Output any `json:"output,omitempty"`
	// Outputs holds the latest return value of every completed step.
	Outputs       map[string]any `json:"outputs,omitempty"`
	FailedStep    string         `json:"failed_step,omitempty"`
	SuspendedStep string         `json:"suspended_step,omitempty"`
	Question      string         `json:"question,omitempty"`
	Version       state.Version  `json:"version"`
	Duration      time.Duration  `json:"duration"`
}

// Option configures an Engine.
type Option func(*Engine)

// WithStore sets the state store used for persistence and restore.
func WithStore(store state.Store) Option {
	return func(e *Engine) { e.store = store }
}

// WithInstanceID resumes or names an instance. A UUID is generated otherwise.
func WithInstanceID(id string) Option {
	return func(e *Engine) { e.id = id }
}

// WithBus sets the event bus.
func WithBus(bus event.Bus) Option {
	return func(e *Engine) { e.bus = bus }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithFlowConfig sets persistence and concurrency limits.
func WithFlowConfig(cfg config.FlowConfig) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithInterrupts registers suspended steps on a hitl registry.
func WithInterrupts(reg *hitl.Registry) Option {
	return func(e *Engine) { e.interrupts = reg }
}

// firing is one scheduled step execution.
type firing struct {
	step  *Step
	input any

	// set when completing a suspended step
	suspension *Suspension
	human      string
}

type completion struct {
	step     *Step
	output   any
	label    string
	err      error
	duration time.Duration
}

type parked struct {
	step       *Step
	suspension *Suspension
}

// Engine runs one instance of a Flow. Steps execute concurrently, but each
// holds the instance lock while it runs and while its state is persisted.
type Engine struct {
	flow       *Flow
	id         string
	store      state.Store
	bus        event.Bus
	logger     *zap.Logger
	tracer     trace.Tracer
	cfg        config.FlowConfig
	interrupts *hitl.Registry

	runMu sync.Mutex

	// stepMu is the instance lock. It guards state and version.
	stepMu   sync.Mutex
	state    *State
	version  state.Version
	restored bool

	mu       sync.Mutex
	status   Status
	outputs  map[string]any
	last     any
	failure  *types.Error
	parked   []parked
	deferred []firing
	// join step -> upstream name -> latest output since the last firing
	joins   map[string]map[string]any
	started time.Time

	stopped atomic.Bool
}

// New creates an engine for f. When the store holds state for the instance
// id, that state replaces the kickoff inputs.
func New(ctx context.Context, f *Flow, opts ...Option) (*Engine, error) {
	if f == nil {
		return nil, types.NewError(types.ErrConstruction, "flow is required")
	}
	e := &Engine{
		flow:    f,
		logger:  zap.NewNop(),
		tracer:  otel.Tracer(instrumentationName),
		cfg:     config.DefaultFlowConfig(),
		status:  StatusCreated,
		outputs: make(map[string]any),
		joins:   make(map[string]map[string]any),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.id == "" {
		e.id = types.NewInstanceID()
	}
	if e.cfg.ConflictRetries < 0 {
		e.cfg.ConflictRetries = 0
	}
	e.logger = e.logger.With(
		zap.String("component", "flow_engine"),
		zap.String("flow_type", f.flowType),
		zap.String("instance_id", e.id),
	)
	e.state = newState(e.id, nil)

	if e.store == nil && e.persists() {
		return nil, types.NewError(types.ErrConstruction,
			fmt.Sprintf("flow %s persists state but no store is configured", f.flowType))
	}
	if e.store != nil {
		blob, version, err := e.store.Load(ctx, e.key())
		switch {
		case err == nil:
			if err := e.state.restore(blob); err != nil {
				return nil, types.NewError(types.ErrConstruction, "persisted state is unreadable").WithCause(err)
			}
			e.version = version
			e.restored = true
			e.logger.Info("flow state restored", zap.Uint64("version", uint64(version)))
		case errors.Is(err, state.ErrNotFound):
		default:
			return nil, fmt.Errorf("load flow state: %w", err)
		}
	}

	e.logger.Debug("flow constructed", zap.String("graph", f.Describe()))
	return e, nil
}

func (e *Engine) persists() bool {
	if e.cfg.Persist {
		return true
	}
	for _, s := range e.flow.steps {
		if s.Persist {
			return true
		}
	}
	return false
}

func (e *Engine) key() state.Key {
	return state.Key{FlowType: e.flow.flowType, InstanceID: e.id}
}

// InstanceID returns the instance id.
func (e *Engine) InstanceID() string { return e.id }

// Flow returns the step graph.
func (e *Engine) Flow() *Flow { return e.flow }

// Describe renders the step graph.
func (e *Engine) Describe() string { return e.flow.Describe() }

// Restored reports whether the state was loaded from the store.
func (e *Engine) Restored() bool { return e.restored }

// Status returns the current status.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// State returns a copy of the current state.
func (e *Engine) State() map[string]any {
	e.stepMu.Lock()
	defer e.stepMu.Unlock()
	return e.state.Snapshot()
}

// Version returns the last persisted version, or 0.
func (e *Engine) Version() state.Version {
	e.stepMu.Lock()
	defer e.stepMu.Unlock()
	return e.version
}

// Kickoff seeds the state with inputs and fires every start step. Inputs
// are ignored when the state was restored.
func (e *Engine) Kickoff(ctx context.Context, inputs map[string]any) (*Result, error) {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	e.mu.Lock()
	if e.status != StatusCreated {
		status := e.status
		e.mu.Unlock()
		return nil, types.NewError(types.ErrInvalidTransition,
			fmt.Sprintf("flow %s cannot kick off from status %s", e.id, status))
	}
	e.status = StatusRunning
	e.started = time.Now()
	e.mu.Unlock()

	if !e.restored {
		e.stepMu.Lock()
		for k, v := range inputs {
			e.state.Set(k, v)
		}
		e.stepMu.Unlock()
	}

	e.logger.Info("flow started", zap.Bool("restored", e.restored))
	e.publish(event.FlowStarted, event.FlowPayload{FlowType: e.flow.flowType, InstanceID: e.id})

	var initial []firing
	for _, s := range e.flow.steps {
		if s.Trigger.Kind == TriggerStart {
			initial = append(initial, firing{step: s})
		}
	}
	return e.run(ctx, initial)
}

// Resume completes the oldest suspended step with input and continues the
// flow from there.
func (e *Engine) Resume(ctx context.Context, input string) (*Result, error) {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	e.mu.Lock()
	if e.status != StatusSuspended || len(e.parked) == 0 {
		status := e.status
		e.mu.Unlock()
		return nil, types.NewError(types.ErrInvalidTransition,
			fmt.Sprintf("flow %s is %s, not suspended", e.id, status))
	}
	p := e.parked[0]
	e.parked = e.parked[1:]
	firings := []firing{{step: p.step, suspension: p.suspension, human: input}}
	if len(e.parked) == 0 {
		firings = append(firings, e.deferred...)
		e.deferred = nil
	}
	e.status = StatusRunning
	e.mu.Unlock()

	if e.interrupts != nil && e.interrupts.IsSuspended(e.id) {
		if err := e.interrupts.Cancel(ctx, e.id); err != nil {
			e.logger.Warn("failed to cancel interrupt", zap.Error(err))
		}
	}
	e.logger.Info("flow resumed", zap.String("step", p.step.Name))
	return e.run(ctx, firings)
}

// Stop asks the engine to schedule nothing further. Running steps finish.
// A suspended flow stops immediately.
func (e *Engine) Stop() {
	e.stopped.Store(true)

	e.mu.Lock()
	if e.status != StatusSuspended {
		e.mu.Unlock()
		return
	}
	e.status = StatusStopped
	e.parked = nil
	e.deferred = nil
	e.mu.Unlock()

	if e.interrupts != nil && e.interrupts.IsSuspended(e.id) {
		if err := e.interrupts.Cancel(context.Background(), e.id); err != nil {
			e.logger.Warn("failed to cancel interrupt", zap.Error(err))
		}
	}
	e.logger.Info("flow stopped while suspended")
	e.publish(event.FlowStopped, event.FlowPayload{FlowType: e.flow.flowType, InstanceID: e.id})
}

// run schedules firings until nothing is in flight. Completions are
// handled on this goroutine only, so trigger bookkeeping needs no lock.
func (e *Engine) run(ctx context.Context, queue []firing) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "flow.run",
		trace.WithAttributes(
			attribute.String("flow.type", e.flow.flowType),
			attribute.String("flow.instance_id", e.id),
		))
	defer span.End()

	var sem *semaphore.Weighted
	if e.cfg.MaxConcurrentSteps > 0 {
		sem = semaphore.NewWeighted(int64(e.cfg.MaxConcurrentSteps))
	}

	var g errgroup.Group
	done := make(chan completion)
	inFlight := 0
	halted := false

	for {
		for len(queue) > 0 && !halted {
			if e.stopped.Load() {
				halted = true
				break
			}
			if err := ctx.Err(); err != nil {
				e.setFailure("", err)
				halted = true
				break
			}
			f := queue[0]
			queue = queue[1:]
			inFlight++
			g.Go(func() error {
				done <- e.execute(ctx, sem, f)
				return nil
			})
		}
		if inFlight == 0 {
			break
		}

		c := <-done
		inFlight--
		if next, ok := e.complete(c); ok {
			queue = append(queue, next...)
		} else {
			halted = true
		}
	}
	_ = g.Wait()

	return e.finish(ctx, span)
}

// complete records a completion and returns the firings it triggers. It
// returns false when scheduling must halt.
func (e *Engine) complete(c completion) ([]firing, bool) {
	if c.err != nil {
		var sus *Suspension
		if errors.As(c.err, &sus) {
			e.mu.Lock()
			e.parked = append(e.parked, parked{step: c.step, suspension: sus})
			e.mu.Unlock()
			e.logger.Info("step suspended", zap.String("step", c.step.Name), zap.String("question", sus.Question))
			return nil, true
		}

		e.logger.Error("step failed", zap.String("step", c.step.Name), zap.Error(c.err))
		e.publish(event.StepFailed, event.StepPayload{
			FlowType: e.flow.flowType, InstanceID: e.id, Step: c.step.Name,
			Error: c.err.Error(), Duration: c.duration,
		})
		e.setFailure(c.step.Name, c.err)
		return nil, false
	}

	e.mu.Lock()
	e.outputs[c.step.Name] = c.output
	e.last = c.output
	halted := e.failure != nil
	e.mu.Unlock()

	e.publish(event.StepCompleted, event.StepPayload{
		FlowType: e.flow.flowType, InstanceID: e.id, Step: c.step.Name,
		Label: c.label, Duration: c.duration,
	})
	if halted {
		return nil, false
	}

	name := c.step.Name
	if c.step.IsRouter() {
		name = c.label
	}
	next := e.trigger(name, c.output)

	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.parked) > 0 {
		e.deferred = append(e.deferred, next...)
		return nil, true
	}
	return next, true
}

// trigger returns the listeners of name that fire now. AND joins fire once
// every upstream has been seen since their last firing and receive a map of
// upstream outputs.
func (e *Engine) trigger(name string, output any) []firing {
	var out []firing
	for _, s := range e.flow.listeners[name] {
		if s.Trigger.Kind != TriggerAll {
			out = append(out, firing{step: s, input: output})
			continue
		}
		seen := e.joins[s.Name]
		if seen == nil {
			seen = make(map[string]any, len(s.Trigger.On))
			e.joins[s.Name] = seen
		}
		seen[name] = output
		if len(seen) < len(s.Trigger.On) {
			continue
		}
		delete(e.joins, s.Name)
		out = append(out, firing{step: s, input: seen})
	}
	return out
}

func (e *Engine) execute(ctx context.Context, sem *semaphore.Weighted, f firing) completion {
	c := completion{step: f.step}
	if sem != nil {
		if err := sem.Acquire(ctx, 1); err != nil {
			c.err = err
			return c
		}
		defer sem.Release(1)
	}

	ctx, span := e.tracer.Start(ctx, "flow.step",
		trace.WithAttributes(
			attribute.String("flow.type", e.flow.flowType),
			attribute.String("flow.instance_id", e.id),
			attribute.String("flow.step", f.step.Name),
		))
	defer span.End()

	e.publish(event.StepStarted, event.StepPayload{FlowType: e.flow.flowType, InstanceID: e.id, Step: f.step.Name})
	start := time.Now()

	e.stepMu.Lock()
	c.output, c.label, c.err = e.runStepLocked(ctx, f)
	e.stepMu.Unlock()

	c.duration = time.Since(start)
	if c.err != nil {
		var sus *Suspension
		if !errors.As(c.err, &sus) {
			span.RecordError(c.err)
			span.SetStatus(codes.Error, c.err.Error())
		}
	}
	return c
}

// invoke runs the step body with the instance lock held.
func (e *Engine) invoke(ctx context.Context, f firing) (out any, label string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("step %s panicked: %v", f.step.Name, r)
		}
	}()

	if f.suspension != nil {
		out, err = f.suspension.complete(ctx, e.state, f.human)
	} else {
		out, err = f.step.Fn(ctx, e.state, f.input)
	}
	if err != nil || !f.step.IsRouter() {
		return out, "", err
	}

	label, ok := out.(string)
	if !ok || !f.step.hasLabel(label) {
		return nil, "", types.NewError(types.ErrUnknownLabel,
			fmt.Sprintf("router %s returned %v, want one of %v", f.step.Name, out, f.step.Labels))
	}
	return label, label, nil
}

// runStepLocked invokes the step and saves the state when the step
// persists. On a version conflict the stored state replaces the in-memory
// state and the step runs again on it, at most ConflictRetries times; the
// other writer's update is never overwritten.
func (e *Engine) runStepLocked(ctx context.Context, f firing) (any, string, error) {
	for attempt := 0; ; attempt++ {
		out, label, err := e.invoke(ctx, f)
		if err != nil || !(e.cfg.Persist || f.step.Persist) {
			return out, label, err
		}

		err = e.persistLocked(ctx)
		var conflict *state.ConflictError
		if !errors.As(err, &conflict) {
			return out, label, err
		}
		e.logger.Warn("flow state conflict",
			zap.String("step", f.step.Name),
			zap.Uint64("expected", uint64(conflict.Expected)),
			zap.Uint64("actual", uint64(conflict.Actual)),
			zap.Int("attempt", attempt+1),
		)
		e.publish(event.StateConflict, event.ConflictPayload{
			FlowType: e.flow.flowType, InstanceID: e.id,
			Expected: uint64(conflict.Expected), Actual: uint64(conflict.Actual),
		})
		if attempt >= e.cfg.ConflictRetries {
			return nil, "", err
		}
		if err := e.reloadLocked(ctx); err != nil {
			return nil, "", err
		}
	}
}

func (e *Engine) persistLocked(ctx context.Context) error {
	blob, err := e.state.marshal()
	if err != nil {
		return fmt.Errorf("encode flow state: %w", err)
	}
	version, err := e.store.Save(ctx, e.key(), e.version, blob)
	if err != nil {
		return err
	}
	e.version = version
	return nil
}

// reloadLocked replaces the in-memory state with the stored one.
func (e *Engine) reloadLocked(ctx context.Context) error {
	blob, version, err := e.store.Load(ctx, e.key())
	if err != nil {
		return fmt.Errorf("reload flow state: %w", err)
	}
	if err := e.state.restore(blob); err != nil {
		return fmt.Errorf("reload flow state: %w", err)
	}
	e.version = version
	return nil
}

// setFailure records the first failure only.
func (e *Engine) setFailure(step string, cause error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failure != nil {
		return
	}
	var ferr *types.Error
	switch {
	case errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded):
		ferr = types.NewError(types.ErrCancelled, fmt.Sprintf("flow %s cancelled", e.id))
	case errors.Is(cause, state.ErrConflict):
		ferr = types.NewError(types.ErrConflict, fmt.Sprintf("step %s could not persist state", step))
	default:
		ferr = types.NewError(types.ErrTerminalFailure, fmt.Sprintf("step %s failed: %v", step, cause))
	}
	e.failure = ferr.WithSource(step).WithCause(cause)
}

func (e *Engine) finish(ctx context.Context, span trace.Span) (*Result, error) {
	res := e.snapshot()

	e.mu.Lock()
	failure := e.failure
	switch {
	case failure != nil:
		e.status = StatusFailed
	case e.stopped.Load():
		e.status = StatusStopped
		e.parked = nil
		e.deferred = nil
	case len(e.parked) > 0:
		e.status = StatusSuspended
		res.SuspendedStep = e.parked[0].step.Name
		res.Question = e.parked[0].suspension.Question
	default:
		e.status = StatusFinished
	}
	res.Status = e.status
	e.mu.Unlock()

	span.SetAttributes(attribute.String("flow.status", string(res.Status)))
	payload := event.FlowPayload{FlowType: e.flow.flowType, InstanceID: e.id}

	switch res.Status {
	case StatusFailed:
		res.FailedStep = failure.Source
		failure.Partial = res.Outputs
		payload.Error = failure.Error()
		span.SetStatus(codes.Error, failure.Message)
		e.logger.Error("flow failed", zap.String("step", res.FailedStep), zap.Error(failure))
		e.publish(event.FlowFailed, payload)
		return res, failure
	case StatusStopped:
		e.logger.Info("flow stopped")
		e.publish(event.FlowStopped, payload)
	case StatusSuspended:
		e.logger.Info("flow suspended", zap.String("step", res.SuspendedStep))
		e.publish(event.FlowSuspended, payload)
		e.registerInterrupt(ctx, res)
	default:
		e.logger.Info("flow finished", zap.Duration("duration", res.Duration))
		e.publish(event.FlowFinished, payload)
	}
	return res, nil
}

func (e *Engine) registerInterrupt(ctx context.Context, res *Result) {
	if e.interrupts == nil {
		return
	}
	_, err := e.interrupts.Suspend(ctx, hitl.SuspendOptions{
		InstanceID: e.id,
		Source:     res.SuspendedStep,
		Kind:       hitl.KindFlow,
		Question:   res.Question,
	}, func(ctx context.Context, input string) error {
		_, err := e.Resume(ctx, input)
		return err
	})
	if err != nil {
		e.logger.Warn("failed to register interrupt", zap.Error(err))
	}
}

func (e *Engine) snapshot() *Result {
	e.stepMu.Lock()
	data := e.state.Snapshot()
	version := e.version
	e.stepMu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	outputs := make(map[string]any, len(e.outputs))
	for k, v := range e.outputs {
		outputs[k] = v
	}
	return &Result{
		FlowType:   e.flow.flowType,
		InstanceID: e.id,
		State:      data,
		Output:     e.last,
		Outputs:    outputs,
		Version:    version,
		Duration:   time.Since(e.started),
	}
}

func (e *Engine) publish(name event.Name, payload any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(event.New(name, e.id, payload))
}

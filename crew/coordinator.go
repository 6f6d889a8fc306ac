package crew

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

	"github.com/BaSui01/crewflow/agent"
	"github.com/BaSui01/crewflow/config"
	"github.com/BaSui01/crewflow/event"
	"github.com/BaSui01/crewflow/hitl"
	"github.com/BaSui01/crewflow/types"
)

const (
	instrumentationName = "github.com/BaSui01/crewflow/crew"

	// maxDelegationDepth bounds chains of delegated sub-tasks.
	maxDelegationDepth = 5
)

// Process 任务编排方式
type Process string

const (
	ProcessSequential   Process = "sequential"
	ProcessHierarchical Process = "hierarchical"
)

// Status 运行状态
type Status string

const (
	StatusIdle          Status = "idle"
	StatusRunning       Status = "running"
	StatusAwaitingHuman Status = "awaiting_human"
	StatusCompleted     Status = "completed"
	StatusFailed        Status = "failed"
)

// Worker is what the coordinator needs from an agent. *agent.Worker
// satisfies it.
type Worker interface {
	ID() string
	Role() string
	AllowsDelegation() bool
	Execute(ctx context.Context, task agent.Task, taskContext string) agent.Outcome
}

// RetryLimiter is implemented by workers carrying their own rejection
// retry limit. *agent.Worker implements it.
type RetryLimiter interface {
	MaxRetryLimit() int
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithProcess selects the process. Sequential is the default.
func WithProcess(p Process) Option {
	return func(c *Coordinator) { c.process = p }
}

// WithManager sets the manager worker of a hierarchical crew.
func WithManager(w Worker) Option {
	return func(c *Coordinator) { c.manager = w }
}

// WithBus sets the event bus.
func WithBus(bus event.Bus) Option {
	return func(c *Coordinator) { c.bus = bus }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithCrewConfig sets retry and failure policies.
func WithCrewConfig(cfg config.CrewConfig) Option {
	return func(c *Coordinator) { c.cfg = cfg }
}

// WithID sets the crew instance id. A UUID is generated otherwise.
func WithID(id string) Option {
	return func(c *Coordinator) { c.id = id }
}

// WithInterrupts registers suspensions on a hitl registry so they can be
// resumed from outside, e.g. through the HTTP API.
func WithInterrupts(reg *hitl.Registry) Option {
	return func(c *Coordinator) { c.interrupts = reg }
}

// checkpoint is a pending request for human input.
type checkpoint struct {
	taskID   string
	kind     hitl.InterruptKind
	question string
	// output awaiting review, for KindReview
	output *TaskOutput
}

type asyncResult struct {
	taskID  string
	worker  Worker
	outcome agent.Outcome
}

// control tells the run loop what to do after handling an outcome.
type control int

const (
	proceed control = iota
	suspend
	halt
)

// Coordinator drives a task graph to completion with a set of workers.
// Kickoff and Resume are serialized; a coordinator runs one kickoff.
type Coordinator struct {
	id         string
	process    Process
	graph      *Graph
	workers    map[string]Worker
	order      []Worker
	manager    Worker
	bus        event.Bus
	logger     *zap.Logger
	tracer     trace.Tracer
	cfg        config.CrewConfig
	interrupts *hitl.Registry

	runMu sync.Mutex

	mu          sync.Mutex
	status      Status
	usage       types.TokenUsage
	checkpoints []checkpoint
	failure     *types.Error
	notes       []string
	assigned    map[string]string
	started     time.Time
	last        *Result

	asyncCh  chan asyncResult
	inFlight int
}

// NewCoordinator validates workers against the graph. Unknown assigned
// workers fail with UNKNOWN_WORKER; a hierarchical crew without a
// delegating manager fails with MISSING_MANAGER or CONSTRUCTION_ERROR.
func NewCoordinator(graph *Graph, workers []Worker, opts ...Option) (*Coordinator, error) {
	if graph == nil {
		return nil, types.NewError(types.ErrConstruction, "task graph is required")
	}
	c := &Coordinator{
		process:  ProcessSequential,
		graph:    graph,
		workers:  make(map[string]Worker, len(workers)),
		logger:   zap.NewNop(),
		tracer:   otel.Tracer(instrumentationName),
		cfg:      config.DefaultCrewConfig(),
		status:   StatusIdle,
		assigned: make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.id == "" {
		c.id = types.NewInstanceID()
	}
	c.logger = c.logger.With(
		zap.String("component", "crew"),
		zap.String("crew_id", c.id),
	)

	for i, w := range workers {
		if w == nil {
			return nil, types.NewError(types.ErrConstruction, fmt.Sprintf("worker #%d is nil", i))
		}
		if _, dup := c.workers[w.ID()]; dup {
			return nil, types.NewError(types.ErrConstruction, fmt.Sprintf("duplicate worker id %q", w.ID()))
		}
		c.workers[w.ID()] = w
		c.order = append(c.order, w)
	}

	switch c.process {
	case ProcessSequential:
	case ProcessHierarchical:
		if c.manager == nil {
			return nil, types.NewError(types.ErrMissingManager, "hierarchical process requires a manager worker")
		}
		if !c.manager.AllowsDelegation() {
			return nil, types.NewError(types.ErrConstruction,
				fmt.Sprintf("manager %q must allow delegation", c.manager.ID()))
		}
	default:
		return nil, types.NewError(types.ErrConstruction, fmt.Sprintf("unknown process %q", c.process))
	}

	for _, t := range graph.Tasks() {
		if t.AssignedWorker == "" {
			if c.process == ProcessSequential {
				return nil, types.NewError(types.ErrConstruction,
					fmt.Sprintf("task %q has no assigned worker", t.label())).WithSource(t.ID)
			}
			continue
		}
		w := c.resolveWorker(t.AssignedWorker)
		if w == nil {
			return nil, types.NewError(types.ErrUnknownWorker,
				fmt.Sprintf("task %q is assigned to unknown worker %q", t.label(), t.AssignedWorker)).WithSource(t.ID)
		}
		graph.assign(t.ID, w.ID())
	}

	c.asyncCh = make(chan asyncResult, graph.Len())
	return c, nil
}

// ID returns the crew instance id.
func (c *Coordinator) ID() string { return c.id }

// Process returns the configured process.
func (c *Coordinator) Process() Process { return c.process }

// Graph returns the task graph.
func (c *Coordinator) Graph() *Graph { return c.graph }

// Status returns the current run status.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Result returns the result of the last Kickoff or Resume, or nil.
func (c *Coordinator) Result() *Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Kickoff interpolates inputs into the tasks and runs the crew until it
// completes, fails or needs human input. On terminal failure the returned
// error is a TERMINAL_FAILURE carrying the failing task and partial outputs.
func (c *Coordinator) Kickoff(ctx context.Context, inputs map[string]string) (*Result, error) {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	if st := c.Status(); st != StatusIdle {
		return nil, types.NewError(types.ErrInvalidTransition,
			fmt.Sprintf("crew %s cannot kick off from %s", c.id, st))
	}
	if err := c.graph.Interpolate(inputs); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.status = StatusRunning
	c.started = time.Now()
	c.mu.Unlock()

	c.logger.Info("crew kickoff",
		zap.String("process", string(c.process)),
		zap.Int("tasks", c.graph.Len()),
		zap.Int("workers", len(c.order)),
	)
	c.publish(event.CrewKickoffStarted, event.CrewPayload{CrewID: c.id, Process: string(c.process)})
	return c.run(ctx)
}

// Resume answers the oldest pending checkpoint. An empty answer approves a
// task awaiting review; anything else re-runs the task with the answer as
// feedback.
func (c *Coordinator) Resume(ctx context.Context, input string) (*Result, error) {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	c.mu.Lock()
	if c.status != StatusAwaitingHuman || len(c.checkpoints) == 0 {
		st := c.status
		c.mu.Unlock()
		return nil, types.NewError(types.ErrInvalidTransition,
			fmt.Sprintf("crew %s cannot resume from %s", c.id, st))
	}
	cp := c.checkpoints[0]
	c.checkpoints = c.checkpoints[1:]
	c.mu.Unlock()

	if c.interrupts != nil && c.interrupts.IsSuspended(c.id) {
		if err := c.interrupts.Cancel(ctx, c.id); err != nil {
			c.logger.Warn("failed to cancel interrupt", zap.Error(err))
		}
	}

	if err := c.answer(cp, input); err != nil {
		return nil, err
	}
	c.publish(event.CrewResumed, event.CrewPayload{CrewID: c.id, Process: string(c.process)})

	c.mu.Lock()
	remaining := len(c.checkpoints)
	if remaining == 0 {
		c.status = StatusRunning
	}
	c.mu.Unlock()
	if remaining > 0 {
		return c.suspend(ctx), nil
	}
	return c.run(ctx)
}

func (c *Coordinator) answer(cp checkpoint, input string) error {
	if cp.taskID == "" {
		// manager-level clarification
		c.mu.Lock()
		c.notes = append(c.notes, fmt.Sprintf("Question: %s\nHuman answer: %s", cp.question, input))
		c.mu.Unlock()
		return nil
	}
	switch cp.kind {
	case hitl.KindReview:
		if strings.TrimSpace(input) == "" {
			if err := c.graph.MarkCompleted(cp.taskID, *cp.output); err != nil {
				return err
			}
			c.publish(event.TaskCompleted, event.TaskPayload{
				CrewID:   c.id,
				TaskID:   cp.taskID,
				WorkerID: cp.output.WorkerID,
				Output:   cp.output.Raw,
			})
			return nil
		}
		feedback := fmt.Sprintf("Your previous answer:\n%s\n\nHuman feedback: %s", cp.output.Raw, input)
		return c.graph.MarkPending(cp.taskID, feedback)
	default:
		return c.graph.MarkPending(cp.taskID, fmt.Sprintf("Question: %s\nHuman answer: %s", cp.question, input))
	}
}

func (c *Coordinator) run(ctx context.Context) (*Result, error) {
	ctx, span := c.tracer.Start(ctx, "crew.run",
		trace.WithAttributes(
			attribute.String("crew.id", c.id),
			attribute.String("crew.process", string(c.process)),
		))
	defer span.End()

	var ctl control
	if c.process == ProcessHierarchical {
		ctl = c.runHierarchical(ctx)
	} else {
		ctl = c.runSequential(ctx)
	}

	switch ctl {
	case suspend:
		span.SetAttributes(attribute.String("crew.status", string(StatusAwaitingHuman)))
		return c.suspend(ctx), nil
	case halt:
		res, err := c.finishFailed()
		span.SetStatus(codes.Error, res.FailureReason)
		span.RecordError(err)
		return res, err
	default:
		res, err := c.finish()
		if err != nil {
			span.SetStatus(codes.Error, res.FailureReason)
		}
		return res, err
	}
}

func (c *Coordinator) runSequential(ctx context.Context) control {
	for {
		if err := ctx.Err(); err != nil {
			c.drain()
			c.setFailure("", "cancelled", err)
			return halt
		}

		id, waitOn, ok := c.graph.Next()
		if !ok {
			if c.inFlight > 0 {
				if ctl := c.collect(); ctl != proceed {
					return c.settle(ctx, ctl)
				}
				continue
			}
			return proceed
		}
		if len(waitOn) > 0 {
			if ctl := c.collect(); ctl != proceed {
				return c.settle(ctx, ctl)
			}
			continue
		}

		task, _ := c.graph.Task(id)
		worker := c.workers[task.AssignedWorker]
		if worker == nil {
			if ctl := c.fail(id, fmt.Sprintf("no worker %q for task", task.AssignedWorker), nil); ctl != proceed {
				return c.settle(ctx, ctl)
			}
			continue
		}
		if err := c.graph.MarkRunning(id); err != nil {
			c.setFailure(id, err.Error(), err)
			return c.settle(ctx, halt)
		}

		if task.Async {
			c.launch(ctx, task, worker)
			continue
		}
		outcome := worker.Execute(ctx, task.agentTask(), c.graph.Context(id))
		if ctl := c.handle(id, worker, outcome); ctl != proceed {
			return c.settle(ctx, ctl)
		}
	}
}

// settle waits for async tasks before the run stops. A failure among them
// takes precedence over a suspension.
func (c *Coordinator) settle(ctx context.Context, ctl control) control {
	for c.inFlight > 0 {
		if next := c.collect(); next == halt {
			ctl = halt
		} else if next == suspend && ctl == proceed {
			ctl = suspend
		}
	}
	return ctl
}

func (c *Coordinator) drain() {
	for c.inFlight > 0 {
		c.collect()
	}
}

func (c *Coordinator) launch(ctx context.Context, task Task, worker Worker) {
	c.inFlight++
	taskContext := c.graph.Context(task.ID)
	c.logger.Debug("launching async task", zap.String("task_id", task.ID), zap.String("worker_id", worker.ID()))
	go func() {
		outcome := worker.Execute(ctx, task.agentTask(), taskContext)
		c.asyncCh <- asyncResult{taskID: task.ID, worker: worker, outcome: outcome}
	}()
}

// collect handles one finished async task. Workers bound their own run time,
// so this never waits past MaxExecutionTime.
func (c *Coordinator) collect() control {
	r := <-c.asyncCh
	c.inFlight--
	return c.handle(r.taskID, r.worker, r.outcome)
}

// handle applies one worker outcome to the graph.
func (c *Coordinator) handle(taskID string, worker Worker, outcome agent.Outcome) control {
	c.addUsage(outcome.TokenUsage())
	task, _ := c.graph.Task(taskID)

	switch o := outcome.(type) {
	case *agent.Result:
		out := TaskOutput{Raw: o.Text, Structured: o.Structured, WorkerID: worker.ID(), Usage: o.Usage}
		if task.HumanInput {
			if err := c.graph.MarkAwaitingHuman(taskID); err != nil {
				c.setFailure(taskID, err.Error(), err)
				return halt
			}
			c.addCheckpoint(checkpoint{
				taskID:   taskID,
				kind:     hitl.KindReview,
				question: fmt.Sprintf("Review the output of task %q. Reply with an empty answer to approve or give feedback to redo it.", task.label()),
				output:   &out,
			})
			return suspend
		}
		if err := c.graph.MarkCompleted(taskID, out); err != nil {
			c.setFailure(taskID, err.Error(), err)
			return halt
		}
		c.logger.Info("task completed", zap.String("task_id", taskID), zap.String("worker_id", worker.ID()))
		c.publish(event.TaskCompleted, event.TaskPayload{
			CrewID:   c.id,
			TaskID:   taskID,
			WorkerID: worker.ID(),
			Output:   o.Text,
		})
		return proceed

	case *agent.ClarificationRequest:
		if err := c.graph.MarkAwaitingHuman(taskID); err != nil {
			c.setFailure(taskID, err.Error(), err)
			return halt
		}
		c.addCheckpoint(checkpoint{taskID: taskID, kind: hitl.KindClarification, question: o.Question})
		return suspend

	case *agent.DelegationRequest:
		return c.delegate(task, worker, o)

	case *agent.Failure:
		return c.fail(taskID, o.Reason, o)

	default:
		return c.fail(taskID, fmt.Sprintf("unexpected outcome %T", outcome), nil)
	}
}

func (c *Coordinator) delegate(task Task, worker Worker, req *agent.DelegationRequest) control {
	if !worker.AllowsDelegation() {
		return c.fail(task.ID, agent.ReasonDelegationDisabled,
			types.NewError(types.ErrDelegationDenied, fmt.Sprintf("worker %s may not delegate", worker.ID())))
	}
	target := c.resolveWorker(req.TargetHint)
	if target == nil {
		return c.fail(task.ID, fmt.Sprintf("unknown delegation target %q", req.TargetHint),
			types.NewError(types.ErrUnknownWorker, req.TargetHint))
	}
	if c.delegationDepth(task) >= maxDelegationDepth {
		return c.fail(task.ID, "delegation depth exceeded", nil)
	}

	desc := strings.TrimSpace(req.SubDescription)
	if desc == "" {
		desc = task.Description
	}
	sub := &Task{
		Name:           task.label() + "/" + target.ID(),
		Description:    desc,
		ExpectedOutput: task.ExpectedOutput,
		AssignedWorker: target.ID(),
	}
	subID, err := c.graph.MarkDelegated(task.ID, sub)
	if err != nil {
		c.setFailure(task.ID, err.Error(), err)
		return halt
	}
	c.logger.Info("task delegated",
		zap.String("task_id", task.ID),
		zap.String("from", worker.ID()),
		zap.String("to", target.ID()),
		zap.String("sub_task_id", subID),
	)
	c.publish(event.TaskDelegated, event.TaskPayload{
		CrewID:   c.id,
		TaskID:   task.ID,
		WorkerID: target.ID(),
		Output:   subID,
	})
	return proceed
}

func (c *Coordinator) delegationDepth(task Task) int {
	depth := 0
	for cur, ok := task, true; ok && cur.DelegatedFrom != ""; cur, ok = c.graph.Task(cur.DelegatedFrom) {
		depth++
	}
	return depth
}

// fail marks the task failed. Without ContinueOnTaskFailure the run halts;
// otherwise dependents fail by propagation and the run goes on.
func (c *Coordinator) fail(taskID, reason string, cause error) control {
	if err := c.graph.MarkFailed(taskID, reason); err != nil {
		c.logger.Warn("mark failed", zap.String("task_id", taskID), zap.Error(err))
	}
	c.logger.Warn("task failed", zap.String("task_id", taskID), zap.String("reason", reason))
	c.publish(event.TaskFailed, event.TaskPayload{CrewID: c.id, TaskID: taskID, Reason: reason})
	c.setFailure(taskID, reason, cause)

	if !c.cfg.ContinueOnTaskFailure {
		return halt
	}
	// the delegating chain failed with the task
	for cur, ok := c.graph.Task(taskID); ok; cur, ok = c.graph.Task(cur.DelegatedFrom) {
		for _, dep := range c.graph.FailDependents(cur.ID) {
			c.publish(event.TaskFailed, event.TaskPayload{
				CrewID: c.id,
				TaskID: dep,
				Reason: fmt.Sprintf("dependency %s failed", cur.ID),
			})
		}
	}
	return proceed
}

// setFailure records the first failure of the run.
func (c *Coordinator) setFailure(taskID, reason string, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failure != nil {
		return
	}
	label := taskID
	if t, ok := c.graph.Task(taskID); ok {
		label = t.label()
	}
	msg := fmt.Sprintf("task %s failed: %s", label, reason)
	code := types.ErrTerminalFailure
	if taskID == "" {
		msg = fmt.Sprintf("crew %s failed: %s", c.id, reason)
		if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
			code = types.ErrCancelled
		}
	}
	e := types.NewError(code, msg).WithSource(taskID)
	if cause != nil {
		e = e.WithCause(cause)
	}
	c.failure = e
}

func (c *Coordinator) addCheckpoint(cp checkpoint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checkpoints = append(c.checkpoints, cp)
}

func (c *Coordinator) addUsage(u types.TokenUsage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.usage.Add(u)
}

// suspend parks the run on the oldest checkpoint.
func (c *Coordinator) suspend(ctx context.Context) *Result {
	c.mu.Lock()
	c.status = StatusAwaitingHuman
	cp := c.checkpoints[0]
	c.mu.Unlock()

	c.logger.Info("crew awaiting human input",
		zap.String("task_id", cp.taskID),
		zap.String("kind", string(cp.kind)),
	)
	c.publish(event.CrewAwaitingHuman, event.TaskPayload{CrewID: c.id, TaskID: cp.taskID, Reason: cp.question})

	if c.interrupts != nil {
		opts := hitl.SuspendOptions{
			InstanceID: c.id,
			Source:     cp.taskID,
			Kind:       cp.kind,
			Question:   cp.question,
		}
		if cp.output != nil {
			opts.Data = cp.output
		}
		_, err := c.interrupts.Suspend(ctx, opts, func(ctx context.Context, input string) error {
			_, err := c.Resume(ctx, input)
			return err
		})
		if err != nil {
			c.logger.Warn("failed to register interrupt", zap.Error(err))
		}
	}

	res := c.snapshot(StatusAwaitingHuman)
	res.AwaitingTask = cp.taskID
	res.Question = cp.question
	c.store(res)
	return res
}

func (c *Coordinator) finish() (*Result, error) {
	c.mu.Lock()
	failure := c.failure
	c.mu.Unlock()
	if failure != nil {
		return c.finishFailed()
	}
	if !c.graph.Done() {
		c.setFailure("", "no runnable task left", nil)
		return c.finishFailed()
	}

	res := c.snapshot(StatusCompleted)
	c.mu.Lock()
	c.status = StatusCompleted
	c.mu.Unlock()
	c.store(res)

	c.logger.Info("crew completed",
		zap.Duration("duration", res.Duration),
		zap.Int("total_tokens", res.Usage.TotalTokens),
	)
	c.publish(event.CrewKickoffCompleted, event.CrewPayload{
		CrewID:  c.id,
		Process: string(c.process),
		Output:  res.FinalOutput,
	})
	return res, nil
}

func (c *Coordinator) finishFailed() (*Result, error) {
	res := c.snapshot(StatusFailed)
	c.mu.Lock()
	c.status = StatusFailed
	failure := c.failure
	c.mu.Unlock()

	res.FailedTask = failure.Source
	res.FailureReason = failure.Message
	if t, ok := c.graph.Task(failure.Source); ok && t.FailureReason != "" {
		res.FailureReason = t.FailureReason
	}
	failure.WithPartial(res.Outputs)
	c.store(res)

	c.logger.Error("crew failed",
		zap.String("failed_task", res.FailedTask),
		zap.String("reason", res.FailureReason),
	)
	c.publish(event.CrewKickoffFailed, event.CrewPayload{
		CrewID:  c.id,
		Process: string(c.process),
		Error:   failure.Error(),
	})
	return res, failure
}

func (c *Coordinator) store(res *Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = res
}

// resolveWorker finds a worker by id, then by role, case-insensitively.
func (c *Coordinator) resolveWorker(hint string) Worker {
	hint = strings.TrimSpace(hint)
	if w, ok := c.workers[hint]; ok {
		return w
	}
	for _, w := range c.order {
		if strings.EqualFold(w.ID(), hint) {
			return w
		}
	}
	for _, w := range c.order {
		if strings.EqualFold(w.Role(), hint) {
			return w
		}
	}
	return nil
}

func (c *Coordinator) publish(name event.Name, payload any) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(event.New(name, c.id, payload))
}

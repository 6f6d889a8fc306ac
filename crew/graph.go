package crew

import (
	"fmt"
	"strings"
	"sync"

	"github.com/BaSui01/crewflow/types"
)

// GraphOption configures graph validation.
type GraphOption func(*graphOptions)

type graphOptions struct {
	requireAssigned bool
	manager         string
}

// RequireAssignedWorkers rejects tasks without an assigned worker.
// Sequential crews need it.
func RequireAssignedWorkers() GraphOption {
	return func(o *graphOptions) { o.requireAssigned = true }
}

// WithManagerWorker records the manager worker id for hierarchical crews.
func WithManagerWorker(id string) GraphOption {
	return func(o *graphOptions) { o.manager = id }
}

// Graph is a DAG of tasks kept in declaration order. Safe for concurrent use.
type Graph struct {
	mu      sync.RWMutex
	tasks   []*Task
	index   map[string]*Task
	manager string
}

// NewGraph validates tasks and builds the graph. Tasks are copied; ids are
// generated for tasks that have none. A cycle or an unknown dependency fails
// with a CYCLIC_GRAPH construction error.
func NewGraph(tasks []*Task, opts ...GraphOption) (*Graph, error) {
	var o graphOptions
	for _, opt := range opts {
		opt(&o)
	}

	g := &Graph{
		tasks:   make([]*Task, 0, len(tasks)),
		index:   make(map[string]*Task, len(tasks)),
		manager: o.manager,
	}
	for i, t := range tasks {
		if t == nil {
			return nil, types.NewError(types.ErrConstruction, fmt.Sprintf("task #%d is nil", i))
		}
		c := t.clone()
		if c.ID == "" {
			c.ID = types.NewID()
		}
		if _, dup := g.index[c.ID]; dup {
			return nil, types.NewError(types.ErrConstruction, fmt.Sprintf("duplicate task id %q", c.ID))
		}
		if o.requireAssigned && c.AssignedWorker == "" {
			return nil, types.NewError(types.ErrConstruction,
				fmt.Sprintf("task %q has no assigned worker", c.label())).WithSource(c.ID)
		}
		if c.Status == "" {
			c.Status = TaskPending
		}
		g.tasks = append(g.tasks, c)
		g.index[c.ID] = c
	}

	for _, t := range g.tasks {
		for _, dep := range t.Context {
			if _, ok := g.index[dep]; !ok {
				return nil, types.NewError(types.ErrCyclicGraph,
					fmt.Sprintf("task %q depends on unknown task %q", t.label(), dep)).WithSource(t.ID)
			}
			if dep == t.ID {
				return nil, types.NewError(types.ErrCyclicGraph,
					fmt.Sprintf("task %q depends on itself", t.label())).WithSource(t.ID)
			}
		}
	}
	if cycle := g.findCycle(); len(cycle) > 0 {
		return nil, types.NewError(types.ErrCyclicGraph,
			fmt.Sprintf("dependency cycle: %s", strings.Join(cycle, " -> ")))
	}
	return g, nil
}

// findCycle runs Kahn's algorithm and returns the tasks left over, or nil.
func (g *Graph) findCycle() []string {
	indegree := make(map[string]int, len(g.tasks))
	dependents := make(map[string][]string, len(g.tasks))
	for _, t := range g.tasks {
		for _, dep := range t.Context {
			indegree[t.ID]++
			dependents[dep] = append(dependents[dep], t.ID)
		}
	}

	queue := make([]string, 0, len(g.tasks))
	for _, t := range g.tasks {
		if indegree[t.ID] == 0 {
			queue = append(queue, t.ID)
		}
	}
	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, d := range dependents[id] {
			indegree[d]--
			if indegree[d] == 0 {
				queue = append(queue, d)
			}
		}
	}
	if visited == len(g.tasks) {
		return nil
	}

	var left []string
	for _, t := range g.tasks {
		if indegree[t.ID] > 0 {
			left = append(left, t.label())
		}
	}
	return left
}

// Manager returns the manager worker id, if any.
func (g *Graph) Manager() string { return g.manager }

// Len returns the number of tasks including delegated sub-tasks.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.tasks)
}

// Tasks returns copies of all tasks in declaration order.
func (g *Graph) Tasks() []Task {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Task, len(g.tasks))
	for i, t := range g.tasks {
		out[i] = *t.clone()
	}
	return out
}

// Task returns a copy of one task.
func (g *Graph) Task(id string) (Task, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	t, ok := g.index[id]
	if !ok {
		return Task{}, false
	}
	return *t.clone(), true
}

// Ready returns pending tasks whose dependencies are all completed, in
// declaration order.
func (g *Graph) Ready() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var ready []string
	for _, t := range g.tasks {
		if t.Status == TaskPending && g.depsDone(t) {
			ready = append(ready, t.ID)
		}
	}
	return ready
}

// Next returns the first pending task in declaration order whose
// dependencies are each completed or running, together with the running ones.
func (g *Graph) Next() (id string, waitOn []string, ok bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, t := range g.tasks {
		if t.Status != TaskPending {
			continue
		}
		runnable := true
		var running []string
		for _, dep := range t.Context {
			switch g.index[dep].Status {
			case TaskCompleted:
			case TaskRunning:
				running = append(running, dep)
			default:
				runnable = false
			}
		}
		if runnable {
			return t.ID, running, true
		}
	}
	return "", nil, false
}

func (g *Graph) depsDone(t *Task) bool {
	for _, dep := range t.Context {
		if g.index[dep].Status != TaskCompleted {
			return false
		}
	}
	return true
}

// Done reports whether every task is terminal.
func (g *Graph) Done() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, t := range g.tasks {
		if !t.Status.Terminal() {
			return false
		}
	}
	return true
}

// Context concatenates the outputs of the task's dependencies in dependency
// declaration order, followed by any feedback recorded on the task.
func (g *Graph) Context(id string) string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	t, ok := g.index[id]
	if !ok {
		return ""
	}
	parts := make([]string, 0, len(t.Context)+len(t.Feedback))
	for _, dep := range t.Context {
		if out := g.index[dep].Output; out != nil && out.Raw != "" {
			parts = append(parts, out.Raw)
		}
	}
	parts = append(parts, t.Feedback...)
	return strings.Join(parts, "\n\n")
}

// MarkRunning moves a pending task to running.
func (g *Graph) MarkRunning(id string) error {
	return g.transition(id, TaskRunning, func(*Task) {})
}

// MarkAwaitingHuman moves a running task to awaiting_human.
func (g *Graph) MarkAwaitingHuman(id string) error {
	return g.transition(id, TaskAwaitingHuman, func(*Task) {})
}

// MarkPending sends a task back for re-execution with feedback appended.
func (g *Graph) MarkPending(id string, feedback string) error {
	return g.transition(id, TaskPending, func(t *Task) {
		if feedback != "" {
			t.Feedback = append(t.Feedback, feedback)
		}
	})
}

// MarkCompleted stores the output. Completing a delegated sub-task also
// completes the chain of tasks that delegated to it.
func (g *Graph) MarkCompleted(id string, out TaskOutput) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, err := g.lookup(id)
	if err != nil {
		return err
	}
	if err := checkTransition(t, TaskCompleted); err != nil {
		return err
	}
	for cur := t; cur != nil; cur = g.index[cur.DelegatedFrom] {
		o := out
		cur.Output = &o
		cur.Status = TaskCompleted
		cur.FailureReason = ""
	}
	return nil
}

// MarkFailed records the reason. A failed sub-task fails its delegating
// chain as well.
func (g *Graph) MarkFailed(id, reason string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, err := g.lookup(id)
	if err != nil {
		return err
	}
	if err := checkTransition(t, TaskFailed); err != nil {
		return err
	}
	for cur := t; cur != nil; cur = g.index[cur.DelegatedFrom] {
		cur.Status = TaskFailed
		cur.FailureReason = reason
	}
	return nil
}

// MarkDelegated hands the work of task id to sub. The sub-task is inserted
// right after the delegating task, has no dependencies and runs next.
// It returns the sub-task id.
func (g *Graph) MarkDelegated(id string, sub *Task) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, err := g.lookup(id)
	if err != nil {
		return "", err
	}
	if err := checkTransition(t, TaskDelegated); err != nil {
		return "", err
	}

	s := sub.clone()
	if s.ID == "" {
		s.ID = types.NewID()
	}
	if _, dup := g.index[s.ID]; dup {
		return "", types.NewError(types.ErrConstruction, fmt.Sprintf("duplicate task id %q", s.ID))
	}
	s.Context = nil
	s.Status = TaskPending
	s.DelegatedFrom = t.ID
	t.DelegatedTo = s.ID
	t.Status = TaskDelegated

	pos := len(g.tasks)
	for i, cur := range g.tasks {
		if cur.ID == t.ID {
			pos = i + 1
			break
		}
	}
	g.tasks = append(g.tasks, nil)
	copy(g.tasks[pos+1:], g.tasks[pos:])
	g.tasks[pos] = s
	g.index[s.ID] = s
	return s.ID, nil
}

// FailDependents marks every pending transitive dependent of id as failed by
// propagation and returns their ids in declaration order.
func (g *Graph) FailDependents(id string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	failed := map[string]bool{id: true}
	var out []string
	// dependencies may be declared after their dependents
	for changed := true; changed; {
		changed = false
		for _, t := range g.tasks {
			if failed[t.ID] || t.Status.Terminal() || t.Status == TaskRunning {
				continue
			}
			for _, dep := range t.Context {
				if failed[dep] {
					failed[t.ID] = true
					t.Status = TaskFailed
					t.FailureReason = fmt.Sprintf("dependency %s failed", dep)
					out = append(out, t.ID)
					changed = true
					break
				}
			}
		}
	}
	return out
}

// Interpolate applies kickoff inputs to every description and expected output.
func (g *Graph) Interpolate(inputs map[string]string) error {
	if len(inputs) == 0 {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, t := range g.tasks {
		desc, err := interpolate(t.Description, inputs)
		if err != nil {
			return types.NewError(types.ErrInvalidRequest, err.Error()).WithSource(t.ID)
		}
		expected, err := interpolate(t.ExpectedOutput, inputs)
		if err != nil {
			return types.NewError(types.ErrInvalidRequest, err.Error()).WithSource(t.ID)
		}
		t.Description, t.ExpectedOutput = desc, expected
	}
	return nil
}

// assign sets the canonical worker id of a task.
func (g *Graph) assign(id, workerID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if t, ok := g.index[id]; ok {
		t.AssignedWorker = workerID
	}
}

func (g *Graph) incrementAttempts(id string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.index[id]
	if !ok {
		return 0
	}
	t.Attempts++
	return t.Attempts
}

func (g *Graph) lookup(id string) (*Task, error) {
	t, ok := g.index[id]
	if !ok {
		return nil, types.NewError(types.ErrNotFound, fmt.Sprintf("task %q not found", id))
	}
	return t, nil
}

func (g *Graph) transition(id string, to TaskStatus, mutate func(*Task)) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, err := g.lookup(id)
	if err != nil {
		return err
	}
	if err := checkTransition(t, to); err != nil {
		return err
	}
	mutate(t)
	t.Status = to
	return nil
}

var allowedTransitions = map[TaskStatus][]TaskStatus{
	TaskPending:       {TaskRunning, TaskFailed},
	TaskRunning:       {TaskCompleted, TaskFailed, TaskAwaitingHuman, TaskDelegated, TaskPending},
	TaskAwaitingHuman: {TaskPending, TaskCompleted, TaskFailed},
	TaskDelegated:     {TaskCompleted, TaskFailed},
}

func checkTransition(t *Task, to TaskStatus) error {
	for _, s := range allowedTransitions[t.Status] {
		if s == to {
			return nil
		}
	}
	return types.NewError(types.ErrInvalidTransition,
		fmt.Sprintf("task %q cannot move from %s to %s", t.label(), t.Status, to)).WithSource(t.ID)
}

package crew

import (
	"context"
	"strings"
	"sync"

	"github.com/BaSui01/crewflow/agent"
	"github.com/BaSui01/crewflow/types"
)

type workerCall struct {
	task    agent.Task
	context string
}

// testWorker implements Worker for testing
type testWorker struct {
	id         string
	role       string
	delegation bool
	retryLimit int
	executeFn  func(ctx context.Context, task agent.Task, taskContext string) agent.Outcome

	mu    sync.Mutex
	calls []workerCall
}

func newTestWorker(id string, fn func(ctx context.Context, task agent.Task, taskContext string) agent.Outcome) *testWorker {
	return &testWorker{id: id, role: strings.ToUpper(id[:1]) + id[1:], executeFn: fn}
}

func (w *testWorker) ID() string             { return w.id }
func (w *testWorker) Role() string           { return w.role }
func (w *testWorker) AllowsDelegation() bool { return w.delegation }
func (w *testWorker) MaxRetryLimit() int     { return w.retryLimit }

func (w *testWorker) Execute(ctx context.Context, task agent.Task, taskContext string) agent.Outcome {
	w.mu.Lock()
	w.calls = append(w.calls, workerCall{task: task, context: taskContext})
	w.mu.Unlock()
	if w.executeFn != nil {
		return w.executeFn(ctx, task, taskContext)
	}
	return &agent.Result{Text: w.id + " done"}
}

func (w *testWorker) Calls() []workerCall {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]workerCall(nil), w.calls...)
}

func (w *testWorker) CallCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.calls)
}

func answer(text string) func(context.Context, agent.Task, string) agent.Outcome {
	return func(context.Context, agent.Task, string) agent.Outcome {
		return &agent.Result{Text: text, Usage: types.TokenUsage{PromptTokens: 1, CompletionTokens: 2, TotalTokens: 3}}
	}
}

func workers(ws ...*testWorker) []Worker {
	out := make([]Worker, len(ws))
	for i, w := range ws {
		out[i] = w
	}
	return out
}

func usage(total int) types.TokenUsage {
	return types.TokenUsage{TotalTokens: total}
}

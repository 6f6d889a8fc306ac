package crew

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/crewflow/agent"
	"github.com/BaSui01/crewflow/config"
	"github.com/BaSui01/crewflow/event"
)

// testManager answers planning calls with plan and review calls with review.
func testManager(plan func() agent.Outcome, review func(n int32) string) *testWorker {
	var reviews atomic.Int32
	m := newTestWorker("manager", func(_ context.Context, task agent.Task, _ string) agent.Outcome {
		switch {
		case strings.HasSuffix(task.ID, planTaskSuffix):
			return plan()
		case strings.HasSuffix(task.ID, reviewTaskSuffix):
			return &agent.Result{Text: review(reviews.Add(1))}
		}
		return &agent.Failure{Reason: "unexpected manager task"}
	})
	m.delegation = true
	return m
}

func newHierarchical(t *testing.T, tasks []*Task, manager Worker, ws []Worker, opts ...Option) (*Coordinator, *event.Recorder) {
	t.Helper()
	bus := event.NewBus(zaptest.NewLogger(t))
	rec := event.NewRecorder(bus)
	graph, err := NewGraph(tasks, WithManagerWorker(manager.ID()))
	require.NoError(t, err)
	all := append([]Option{
		WithProcess(ProcessHierarchical),
		WithManager(manager),
		WithBus(bus),
		WithLogger(zaptest.NewLogger(t)),
		WithID("crew-h"),
	}, opts...)
	c, err := NewCoordinator(graph, ws, all...)
	require.NoError(t, err)
	return c, rec
}

func TestHierarchical_RejectThenApprove(t *testing.T) {
	manager := testManager(
		func() agent.Outcome {
			return &agent.Result{Text: "plan", Structured: json.RawMessage(`{"article":"writer"}`)}
		},
		func(n int32) string {
			if n == 1 {
				return "REJECT: too short"
			}
			return "APPROVE"
		},
	)
	var attempts atomic.Int32
	writer := newTestWorker("writer", func(context.Context, agent.Task, string) agent.Outcome {
		if attempts.Add(1) == 1 {
			return &agent.Result{Text: "short"}
		}
		return &agent.Result{Text: "a much longer article"}
	})
	other := newTestWorker("other", nil)

	c, rec := newHierarchical(t, []*Task{{ID: "article", Description: "Write"}}, manager, workers(writer, other))

	res, err := c.Kickoff(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, "a much longer article", res.FinalOutput)

	calls := writer.Calls()
	require.Len(t, calls, 2)
	assert.Contains(t, calls[1].context, "too short")
	assert.Contains(t, calls[1].context, "short")
	assert.Zero(t, other.CallCount())
	assert.Equal(t, 1, rec.Count(event.TaskRejected))

	article, _ := c.Graph().Task("article")
	assert.Equal(t, 1, article.Attempts)
}

func TestHierarchical_RejectionLimit(t *testing.T) {
	manager := testManager(
		func() agent.Outcome { return &agent.Result{Text: "article: writer"} },
		func(int32) string { return "REJECTED - still wrong" },
	)
	writer := newTestWorker("writer", answer("draft"))

	cfg := config.DefaultCrewConfig()
	cfg.MaxRetryLimit = 1
	c, rec := newHierarchical(t, []*Task{{ID: "article"}}, manager, workers(writer), WithCrewConfig(cfg))

	res, err := c.Kickoff(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, "rejected by manager: still wrong", res.FailureReason)
	assert.Equal(t, 2, writer.CallCount())
	assert.Equal(t, 2, rec.Count(event.TaskRejected))
}

func TestHierarchical_RejectionLimitPerWorker(t *testing.T) {
	manager := testManager(
		func() agent.Outcome { return &agent.Result{Text: "article: writer\nsummary: editor"} },
		func(int32) string { return "REJECTED - still wrong" },
	)
	writer := newTestWorker("writer", answer("draft"))
	writer.retryLimit = 3
	editor := newTestWorker("editor", answer("summary draft"))

	cfg := config.DefaultCrewConfig()
	cfg.MaxRetryLimit = 1
	cfg.ContinueOnTaskFailure = true
	c, rec := newHierarchical(t, []*Task{{ID: "article"}, {ID: "summary"}}, manager, workers(writer, editor), WithCrewConfig(cfg))

	res, _ := c.Kickoff(context.Background(), nil)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, 4, writer.CallCount(), "writer limit 3 overrides the crew limit")
	assert.Equal(t, 2, editor.CallCount(), "editor falls back to the crew limit")
	assert.Equal(t, 6, rec.Count(event.TaskRejected))
}

func TestHierarchical_FallsBackToAssignedWorker(t *testing.T) {
	manager := testManager(
		func() agent.Outcome { return &agent.Result{Text: "no idea"} },
		func(int32) string { return "looks good" },
	)
	w := newTestWorker("analyst", answer("analysis"))

	c, _ := newHierarchical(t, []*Task{
		{ID: "a", AssignedWorker: "analyst"},
		{ID: "b", AssignedWorker: "analyst", Context: []string{"a"}},
	}, manager, workers(w))

	res, err := c.Kickoff(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, 2, w.CallCount())
	assert.Equal(t, "analysis", w.Calls()[1].context)
}

func TestHierarchical_UnassignedTaskFails(t *testing.T) {
	manager := testManager(
		func() agent.Outcome { return &agent.Result{Text: "a: ghost"} },
		func(int32) string { return "APPROVE" },
	)
	c, _ := newHierarchical(t, []*Task{{ID: "a"}}, manager, workers(newTestWorker("w", nil)))

	res, err := c.Kickoff(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, "manager assigned no worker", res.FailureReason)
}

func TestHierarchical_ManagerDelegationAssigns(t *testing.T) {
	manager := testManager(
		func() agent.Outcome { return &agent.DelegationRequest{TargetHint: "Researcher"} },
		func(int32) string { return "APPROVE" },
	)
	r := newTestWorker("researcher", answer("facts"))

	c, _ := newHierarchical(t, []*Task{{ID: "a"}}, manager, workers(r))
	res, err := c.Kickoff(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "facts", res.FinalOutput)
}

func TestHierarchical_ManagerClarification(t *testing.T) {
	var plans atomic.Int32
	var planContext atomic.Value
	manager := newTestWorker("manager", func(_ context.Context, task agent.Task, taskContext string) agent.Outcome {
		if strings.HasSuffix(task.ID, planTaskSuffix) {
			if plans.Add(1) == 1 {
				return &agent.ClarificationRequest{Question: "who should write?"}
			}
			planContext.Store(taskContext)
			return &agent.Result{Text: "a: w"}
		}
		return &agent.Result{Text: "APPROVE"}
	})
	manager.delegation = true
	w := newTestWorker("w", answer("done"))

	c, _ := newHierarchical(t, []*Task{{ID: "a"}}, manager, workers(w))

	res, err := c.Kickoff(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, StatusAwaitingHuman, res.Status)
	assert.Empty(t, res.AwaitingTask)

	res, err = c.Resume(context.Background(), "use w")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Contains(t, planContext.Load(), "use w")
}

func TestHierarchical_ManagerUsageCounted(t *testing.T) {
	manager := testManager(
		func() agent.Outcome { return &agent.Result{Text: "a: w", Usage: usage(5)} },
		func(int32) string { return "APPROVE" },
	)
	w := newTestWorker("w", answer("x"))
	c, _ := newHierarchical(t, []*Task{{ID: "a"}}, manager, workers(w))

	res, err := c.Kickoff(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 8, res.Usage.TotalTokens)
}

func TestParseAssignments(t *testing.T) {
	tests := []struct {
		name string
		in   agent.Result
		want map[string]string
	}{
		{"structured", agent.Result{Structured: json.RawMessage(`{"a":"w1"}`)}, map[string]string{"a": "w1"}},
		{"colon lines", agent.Result{Text: "- a: w1\n- b: w2"}, map[string]string{"a": "w1", "b": "w2"}},
		{"arrows", agent.Result{Text: `"a" -> "w1"`}, map[string]string{"a": "w1"}},
		{"noise", agent.Result{Text: "nothing here"}, map[string]string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseAssignments(&tt.in))
		})
	}
}

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		in       string
		approved bool
		feedback string
	}{
		{"APPROVE", true, ""},
		{"Looks fine to me", true, ""},
		{"REJECT: add sources", false, "add sources"},
		{"rejected - wrong year", false, "wrong year"},
		{"REJECT", false, "output does not meet the expected criteria"},
	}
	for _, tt := range tests {
		approved, feedback := parseVerdict(tt.in)
		assert.Equal(t, tt.approved, approved, tt.in)
		assert.Equal(t, tt.feedback, feedback, tt.in)
	}
}

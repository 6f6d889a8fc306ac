package crew

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/crewflow/types"
)

func TestNewGraph_Cycle(t *testing.T) {
	_, err := NewGraph([]*Task{
		{ID: "a", Context: []string{"b"}},
		{ID: "b", Context: []string{"c"}},
		{ID: "c", Context: []string{"a"}},
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrCyclicGraph, types.GetErrorCode(err))
	assert.True(t, types.IsConstructionError(err))
}

func TestNewGraph_Validation(t *testing.T) {
	tests := []struct {
		name  string
		tasks []*Task
		opts  []GraphOption
		code  types.ErrorCode
	}{
		{"unknown dependency", []*Task{{ID: "a", Context: []string{"x"}}}, nil, types.ErrCyclicGraph},
		{"self dependency", []*Task{{ID: "a", Context: []string{"a"}}}, nil, types.ErrCyclicGraph},
		{"duplicate id", []*Task{{ID: "a"}, {ID: "a"}}, nil, types.ErrConstruction},
		{"nil task", []*Task{nil}, nil, types.ErrConstruction},
		{"unassigned", []*Task{{ID: "a"}}, []GraphOption{RequireAssignedWorkers()}, types.ErrConstruction},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGraph(tt.tasks, tt.opts...)
			require.Error(t, err)
			assert.Equal(t, tt.code, types.GetErrorCode(err))
		})
	}
}

func TestNewGraph_CopiesTasksAndAssignsIDs(t *testing.T) {
	in := []*Task{{Description: "first"}, {ID: "b", Description: "second"}}
	g, err := NewGraph(in)
	require.NoError(t, err)

	tasks := g.Tasks()
	require.Len(t, tasks, 2)
	assert.NotEmpty(t, tasks[0].ID)
	assert.Equal(t, TaskPending, tasks[0].Status)
	assert.Empty(t, in[0].ID, "input must not be mutated")

	require.NoError(t, g.MarkRunning("b"))
	assert.Equal(t, TaskStatus(""), in[1].Status)
}

func TestGraph_ReadyAndNext(t *testing.T) {
	g, err := NewGraph([]*Task{
		{ID: "c", Context: []string{"a", "b"}},
		{ID: "a"},
		{ID: "b"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, g.Ready())

	require.NoError(t, g.MarkRunning("a"))
	require.NoError(t, g.MarkRunning("b"))
	id, waitOn, ok := g.Next()
	require.True(t, ok)
	assert.Equal(t, "c", id)
	assert.Equal(t, []string{"a", "b"}, waitOn)

	require.NoError(t, g.MarkCompleted("a", TaskOutput{Raw: "A"}))
	require.NoError(t, g.MarkCompleted("b", TaskOutput{Raw: "B"}))
	assert.Equal(t, []string{"c"}, g.Ready())
	assert.Equal(t, "A\n\nB", g.Context("c"))

	_, waitOn, _ = g.Next()
	assert.Empty(t, waitOn)
	assert.False(t, g.Done())
}

func TestGraph_InvalidTransition(t *testing.T) {
	g, err := NewGraph([]*Task{{ID: "a"}})
	require.NoError(t, err)

	err = g.MarkCompleted("a", TaskOutput{})
	assert.Equal(t, types.ErrInvalidTransition, types.GetErrorCode(err))

	require.NoError(t, g.MarkRunning("a"))
	require.NoError(t, g.MarkCompleted("a", TaskOutput{Raw: "x"}))
	assert.Error(t, g.MarkRunning("a"))
	assert.True(t, g.Done())

	assert.Equal(t, types.ErrNotFound, types.GetErrorCode(g.MarkRunning("missing")))
}

func TestGraph_Delegation(t *testing.T) {
	g, err := NewGraph([]*Task{
		{ID: "a", AssignedWorker: "w1"},
		{ID: "b", Context: []string{"a"}},
	})
	require.NoError(t, err)
	require.NoError(t, g.MarkRunning("a"))

	subID, err := g.MarkDelegated("a", &Task{Description: "sub", AssignedWorker: "w2", Context: []string{"b"}})
	require.NoError(t, err)

	tasks := g.Tasks()
	require.Len(t, tasks, 3)
	assert.Equal(t, subID, tasks[1].ID, "sub-task is inserted after the delegating task")
	assert.Empty(t, tasks[1].Context)
	assert.Equal(t, "a", tasks[1].DelegatedFrom)
	assert.Equal(t, TaskDelegated, tasks[0].Status)
	assert.Equal(t, subID, tasks[0].DelegatedTo)

	id, _, ok := g.Next()
	require.True(t, ok)
	assert.Equal(t, subID, id)

	require.NoError(t, g.MarkRunning(subID))
	require.NoError(t, g.MarkCompleted(subID, TaskOutput{Raw: "from w2", WorkerID: "w2"}))

	a, _ := g.Task("a")
	assert.Equal(t, TaskCompleted, a.Status)
	assert.Equal(t, "from w2", a.Output.Raw)
	assert.Equal(t, []string{"b"}, g.Ready())
}

func TestGraph_DelegatedFailureFailsChain(t *testing.T) {
	g, err := NewGraph([]*Task{{ID: "a"}})
	require.NoError(t, err)
	require.NoError(t, g.MarkRunning("a"))
	subID, err := g.MarkDelegated("a", &Task{})
	require.NoError(t, err)
	require.NoError(t, g.MarkRunning(subID))
	require.NoError(t, g.MarkFailed(subID, "boom"))

	a, _ := g.Task("a")
	assert.Equal(t, TaskFailed, a.Status)
	assert.Equal(t, "boom", a.FailureReason)
}

func TestGraph_FailDependents(t *testing.T) {
	g, err := NewGraph([]*Task{
		{ID: "d", Context: []string{"c"}},
		{ID: "a"},
		{ID: "b"},
		{ID: "c", Context: []string{"a"}},
	})
	require.NoError(t, err)
	require.NoError(t, g.MarkRunning("a"))
	require.NoError(t, g.MarkFailed("a", "boom"))

	failed := g.FailDependents("a")
	assert.ElementsMatch(t, []string{"c", "d"}, failed)

	d, _ := g.Task("d")
	assert.Equal(t, TaskFailed, d.Status)
	assert.Equal(t, "dependency c failed", d.FailureReason)

	b, _ := g.Task("b")
	assert.Equal(t, TaskPending, b.Status)
}

func TestGraph_FeedbackInContext(t *testing.T) {
	g, err := NewGraph([]*Task{{ID: "a"}})
	require.NoError(t, err)
	require.NoError(t, g.MarkRunning("a"))
	require.NoError(t, g.MarkAwaitingHuman("a"))
	require.NoError(t, g.MarkPending("a", "Human answer: 2024"))
	assert.Equal(t, "Human answer: 2024", g.Context("a"))
}

func TestGraph_Interpolate(t *testing.T) {
	g, err := NewGraph([]*Task{{ID: "a", Description: "Research {topic}", ExpectedOutput: "{count} bullets"}})
	require.NoError(t, err)

	err = g.Interpolate(map[string]string{"topic": "AI"})
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))

	require.NoError(t, g.Interpolate(map[string]string{"topic": "AI", "count": "5"}))
	a, _ := g.Task("a")
	assert.Equal(t, "Research AI", a.Description)
	assert.Equal(t, "5 bullets", a.ExpectedOutput)
}

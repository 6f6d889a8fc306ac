package crew

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/BaSui01/crewflow/agent"
	"github.com/BaSui01/crewflow/types"
)

// TaskStatus 任务状态
type TaskStatus string

const (
	TaskPending       TaskStatus = "pending"
	TaskRunning       TaskStatus = "running"
	TaskAwaitingHuman TaskStatus = "awaiting_human"
	TaskDelegated     TaskStatus = "delegated"
	TaskCompleted     TaskStatus = "completed"
	TaskFailed        TaskStatus = "failed"
)

// Terminal reports whether no further transition is possible.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// Task is one unit of work in a crew.
type Task struct {
	ID             string   `json:"id" yaml:"id"`
	Name           string   `json:"name,omitempty" yaml:"name"`
	Description    string   `json:"description" yaml:"description"`
	ExpectedOutput string   `json:"expected_output" yaml:"expected_output"`
	AssignedWorker string   `json:"assigned_worker,omitempty" yaml:"agent"`
	Context        []string `json:"context,omitempty" yaml:"context"`
	// Async tasks are launched without blocking the sequential run.
	Async bool `json:"async,omitempty" yaml:"async_execution"`
	// HumanInput asks a human to review the output before completion.
	HumanInput bool `json:"human_input,omitempty" yaml:"human_input"`

	Status        TaskStatus  `json:"status" yaml:"-"`
	Output        *TaskOutput `json:"output,omitempty" yaml:"-"`
	FailureReason string      `json:"failure_reason,omitempty" yaml:"-"`
	// DelegatedTo points from a delegating task to the sub-task doing its work.
	DelegatedTo string `json:"delegated_to,omitempty" yaml:"-"`
	// DelegatedFrom points from a sub-task back to the delegating task.
	DelegatedFrom string `json:"delegated_from,omitempty" yaml:"-"`
	// Feedback holds human answers and manager rejections fed into re-execution.
	Feedback []string `json:"feedback,omitempty" yaml:"-"`
	Attempts int      `json:"attempts,omitempty" yaml:"-"`
}

// TaskOutput is what a completed task produced.
type TaskOutput struct {
	Raw        string           `json:"raw"`
	Structured json.RawMessage  `json:"structured,omitempty"`
	WorkerID   string           `json:"worker_id"`
	Usage      types.TokenUsage `json:"usage"`
}

func (t *Task) clone() *Task {
	c := *t
	c.Context = append([]string(nil), t.Context...)
	c.Feedback = append([]string(nil), t.Feedback...)
	if t.Output != nil {
		out := *t.Output
		c.Output = &out
	}
	return &c
}

// label is the task name when set, otherwise its id.
func (t *Task) label() string {
	if t.Name != "" {
		return t.Name
	}
	return t.ID
}

func (t *Task) agentTask() agent.Task {
	return agent.Task{ID: t.ID, Description: t.Description, ExpectedOutput: t.ExpectedOutput}
}

var placeholderRe = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_\-]*)\}`)

// interpolate replaces {name} placeholders with kickoff inputs.
func interpolate(text string, inputs map[string]string) (string, error) {
	var missing []string
	out := placeholderRe.ReplaceAllStringFunc(text, func(m string) string {
		key := m[1 : len(m)-1]
		v, ok := inputs[key]
		if !ok {
			missing = append(missing, key)
			return m
		}
		return v
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("missing kickoff input(s): %s", strings.Join(missing, ", "))
	}
	return out, nil
}

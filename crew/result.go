package crew

import (
	"encoding/json"
	"time"

	"github.com/BaSui01/crewflow/types"
)

// TaskResult is the per-task view of a run.
type TaskResult struct {
	ID            string          `json:"id"`
	Name          string          `json:"name,omitempty"`
	WorkerID      string          `json:"worker_id,omitempty"`
	Status        TaskStatus      `json:"status"`
	Output        string          `json:"output,omitempty"`
	Structured    json.RawMessage `json:"structured,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
	DelegatedTo   string          `json:"delegated_to,omitempty"`
	DelegatedFrom string          `json:"delegated_from,omitempty"`
	Attempts      int             `json:"attempts,omitempty"`
}

// Result 是一次 Kickoff 或 Resume 的结果
type Result struct {
	CrewID  string       `json:"crew_id"`
	Process Process      `json:"process"`
	Status  Status       `json:"status"`
	Tasks   []TaskResult `json:"tasks"`

	// FinalOutput is the output of the last top-level task when it completed.
	FinalOutput string          `json:"final_output,omitempty"`
	Structured  json.RawMessage `json:"structured,omitempty"`
	// Outputs holds completed task outputs keyed by task id.
	Outputs map[string]string `json:"outputs,omitempty"`

	FailedTask    string `json:"failed_task,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`

	AwaitingTask string `json:"awaiting_task,omitempty"`
	Question     string `json:"question,omitempty"`

	Usage    types.TokenUsage `json:"usage"`
	Duration time.Duration    `json:"duration"`
}

// Output returns the output of one task.
func (r *Result) Output(taskID string) (string, bool) {
	out, ok := r.Outputs[taskID]
	return out, ok
}

func (c *Coordinator) snapshot(status Status) *Result {
	c.mu.Lock()
	usage := c.usage
	started := c.started
	c.mu.Unlock()

	tasks := c.graph.Tasks()
	res := &Result{
		CrewID:   c.id,
		Process:  c.process,
		Status:   status,
		Tasks:    make([]TaskResult, 0, len(tasks)),
		Outputs:  make(map[string]string),
		Usage:    usage,
		Duration: time.Since(started),
	}

	var last *Task
	for i := range tasks {
		t := &tasks[i]
		tr := TaskResult{
			ID:            t.ID,
			Name:          t.Name,
			WorkerID:      t.AssignedWorker,
			Status:        t.Status,
			FailureReason: t.FailureReason,
			DelegatedTo:   t.DelegatedTo,
			DelegatedFrom: t.DelegatedFrom,
			Attempts:      t.Attempts,
		}
		if t.Output != nil {
			tr.Output = t.Output.Raw
			tr.Structured = t.Output.Structured
			tr.WorkerID = t.Output.WorkerID
			if t.Status == TaskCompleted {
				res.Outputs[t.ID] = t.Output.Raw
			}
		}
		res.Tasks = append(res.Tasks, tr)
		if t.DelegatedFrom == "" {
			last = t
		}
	}

	if last != nil && last.Status == TaskCompleted && last.Output != nil {
		res.FinalOutput = last.Output.Raw
		res.Structured = last.Output.Structured
	}
	return res
}

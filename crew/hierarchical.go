package crew

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/crewflow/agent"
	"github.com/BaSui01/crewflow/event"
	"github.com/BaSui01/crewflow/hitl"
	"github.com/BaSui01/crewflow/types"
)

const (
	planTaskSuffix   = "-plan"
	reviewTaskSuffix = "-review"

	planExpectedOutput   = `A JSON object mapping every task id to one coworker id, e.g. {"<task id>": "<coworker id>"}.`
	reviewExpectedOutput = "APPROVE, or REJECT: <what must change>"
)

// runHierarchical lets the manager assign ready tasks and validate every
// result. One worker runs at a time.
func (c *Coordinator) runHierarchical(ctx context.Context) control {
	for {
		if err := ctx.Err(); err != nil {
			c.setFailure("", "cancelled", err)
			return halt
		}
		ready := c.graph.Ready()
		if len(ready) == 0 {
			return proceed
		}
		if ctl := c.plan(ctx, ready); ctl != proceed {
			return ctl
		}

		for _, id := range ready {
			task, ok := c.graph.Task(id)
			if !ok || task.Status != TaskPending {
				continue
			}
			worker := c.assignedWorker(task)
			if worker == nil {
				err := types.NewError(types.ErrUnknownWorker, fmt.Sprintf("no worker assigned to task %q", task.label()))
				if ctl := c.fail(id, "manager assigned no worker", err); ctl != proceed {
					return ctl
				}
				continue
			}
			if err := c.graph.MarkRunning(id); err != nil {
				c.setFailure(id, err.Error(), err)
				return halt
			}
			outcome := c.executeReviewed(ctx, task, worker)
			if ctl := c.handle(id, worker, outcome); ctl != proceed {
				return ctl
			}
		}
	}
}

func (c *Coordinator) assignedWorker(task Task) Worker {
	c.mu.Lock()
	id, ok := c.assigned[task.ID]
	c.mu.Unlock()
	if ok {
		return c.workers[id]
	}
	if task.AssignedWorker != "" {
		return c.workers[task.AssignedWorker]
	}
	return nil
}

// plan asks the manager for workers of the ready tasks not yet assigned.
// Delegated sub-tasks already carry their worker.
func (c *Coordinator) plan(ctx context.Context, ready []string) control {
	var open []Task
	c.mu.Lock()
	for _, id := range ready {
		if _, done := c.assigned[id]; done {
			continue
		}
		if t, ok := c.graph.Task(id); ok && t.DelegatedFrom == "" {
			open = append(open, t)
		}
	}
	notes := strings.Join(c.notes, "\n\n")
	c.mu.Unlock()
	if len(open) == 0 {
		return proceed
	}

	outcome := c.manager.Execute(ctx, agent.Task{
		ID:             c.id + planTaskSuffix,
		Description:    c.planPrompt(open),
		ExpectedOutput: planExpectedOutput,
	}, notes)
	c.addUsage(outcome.TokenUsage())

	var table map[string]string
	switch o := outcome.(type) {
	case *agent.Result:
		table = parseAssignments(o)
	case *agent.DelegationRequest:
		table = map[string]string{open[0].ID: o.TargetHint}
	case *agent.ClarificationRequest:
		c.addCheckpoint(checkpoint{kind: hitl.KindClarification, question: o.Question})
		return suspend
	case *agent.Failure:
		c.setFailure("", "manager failed: "+o.Reason, o)
		return halt
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range open {
		hint, ok := table[t.ID]
		if !ok && t.Name != "" {
			hint, ok = table[t.Name]
		}
		if ok {
			if w := c.resolveWorker(hint); w != nil {
				c.assigned[t.ID] = w.ID()
				continue
			}
			c.logger.Warn("manager assigned unknown worker",
				zap.String("task_id", t.ID),
				zap.String("worker", hint),
			)
		}
		if t.AssignedWorker != "" {
			c.assigned[t.ID] = t.AssignedWorker
		}
	}
	return proceed
}

func (c *Coordinator) planPrompt(open []Task) string {
	var b strings.Builder
	b.WriteString("You manage a crew. Assign each task below to exactly one coworker.\n\nCoworkers:\n")
	for _, w := range c.order {
		fmt.Fprintf(&b, "- %s: %s\n", w.ID(), w.Role())
	}
	b.WriteString("\nTasks:\n")
	for _, t := range open {
		fmt.Fprintf(&b, "- %s", t.ID)
		if t.Name != "" {
			fmt.Fprintf(&b, " (%s)", t.Name)
		}
		fmt.Fprintf(&b, ": %s\n  Expected output: %s\n", t.Description, t.ExpectedOutput)
	}
	return b.String()
}

// parseAssignments reads a task-to-worker table from structured output or
// from "task: worker" lines.
func parseAssignments(r *agent.Result) map[string]string {
	if len(r.Structured) > 0 {
		var table map[string]string
		if err := json.Unmarshal(r.Structured, &table); err == nil {
			return table
		}
	}
	table := make(map[string]string)
	for _, line := range strings.Split(r.Text, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-*"))
		var key, value string
		for _, sep := range []string{"->", ":", "="} {
			if k, v, ok := strings.Cut(line, sep); ok {
				key, value = k, v
				break
			}
		}
		key = strings.Trim(strings.TrimSpace(key), `"'`)
		value = strings.Trim(strings.TrimSpace(value), `"',`)
		if key != "" && value != "" {
			table[key] = value
		}
	}
	return table
}

// executeReviewed runs the task and lets the manager validate the result.
// Rejected results are retried with the feedback up to the worker's
// MaxRetryLimit, or the crew limit when the worker sets none.
func (c *Coordinator) executeReviewed(ctx context.Context, task Task, worker Worker) agent.Outcome {
	taskContext := c.graph.Context(task.ID)
	limit := c.retryLimit(worker)
	for attempt := 0; ; attempt++ {
		outcome := worker.Execute(ctx, task.agentTask(), taskContext)
		r, ok := outcome.(*agent.Result)
		if !ok {
			return outcome
		}
		approved, feedback := c.review(ctx, task, r)
		if approved {
			return outcome
		}

		c.graph.incrementAttempts(task.ID)
		c.logger.Info("task rejected by manager",
			zap.String("task_id", task.ID),
			zap.String("worker_id", worker.ID()),
			zap.Int("attempt", attempt+1),
		)
		c.publish(event.TaskRejected, event.TaskPayload{
			CrewID:   c.id,
			TaskID:   task.ID,
			WorkerID: worker.ID(),
			Output:   r.Text,
			Reason:   feedback,
		})
		if attempt >= limit {
			return &agent.Failure{
				Reason: "rejected by manager: " + feedback,
				Err:    types.NewError(types.ErrExecutionFailure, feedback).WithSource(task.ID),
				Usage:  r.Usage,
			}
		}
		c.addUsage(r.Usage)
		rejection := fmt.Sprintf("Your previous answer was rejected by the manager.\nPrevious answer:\n%s\n\nFeedback: %s", r.Text, feedback)
		taskContext = strings.TrimSpace(c.graph.Context(task.ID) + "\n\n" + rejection)
	}
}

// retryLimit 优先取 Worker 自身的限制，为 0 时回退到 Crew 配置
func (c *Coordinator) retryLimit(worker Worker) int {
	if rl, ok := worker.(RetryLimiter); ok {
		if n := rl.MaxRetryLimit(); n > 0 {
			return n
		}
	}
	return c.cfg.MaxRetryLimit
}

func (c *Coordinator) review(ctx context.Context, task Task, r *agent.Result) (bool, string) {
	desc := fmt.Sprintf("Review the work of a coworker.\n\nTask: %s\nExpected output: %s\n\nOutput:\n%s\n\n"+
		"Reply APPROVE if the output meets the expected output, otherwise REJECT: followed by what must change.",
		task.Description, task.ExpectedOutput, r.Text)
	outcome := c.manager.Execute(ctx, agent.Task{
		ID:             task.ID + reviewTaskSuffix,
		Description:    desc,
		ExpectedOutput: reviewExpectedOutput,
	}, "")
	c.addUsage(outcome.TokenUsage())

	verdict, ok := outcome.(*agent.Result)
	if !ok {
		c.logger.Warn("manager review inconclusive, accepting output",
			zap.String("task_id", task.ID),
			zap.String("outcome", string(outcome.Kind())),
		)
		return true, ""
	}
	return parseVerdict(verdict.Text)
}

// parseVerdict treats anything but an explicit REJECT as approval.
func parseVerdict(text string) (bool, string) {
	t := strings.TrimSpace(text)
	if len(t) < 6 || !strings.EqualFold(t[:6], "REJECT") {
		return true, ""
	}
	rest := t[6:]
	if len(rest) >= 2 && strings.EqualFold(rest[:2], "ED") {
		rest = rest[2:]
	}
	feedback := strings.TrimSpace(strings.TrimLeft(rest, ":- \t"))
	if feedback == "" {
		feedback = "output does not meet the expected criteria"
	}
	return false, feedback
}

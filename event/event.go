package event

import "time"

// Name identifies an event. Subscribers match on the exact name or on Wildcard.
type Name string

// Wildcard subscribes a handler to every event name.
const Wildcard Name = "*"

// Reserved lifecycle event names.
const (
	WorkerExecutionStarted   Name = "WorkerExecutionStarted"
	WorkerExecutionCompleted Name = "WorkerExecutionCompleted"
	WorkerExecutionFailed    Name = "WorkerExecutionFailed"

	CrewKickoffStarted   Name = "CrewKickoffStarted"
	CrewKickoffCompleted Name = "CrewKickoffCompleted"
	CrewKickoffFailed    Name = "CrewKickoffFailed"
	CrewAwaitingHuman    Name = "CrewAwaitingHuman"
	CrewResumed          Name = "CrewResumed"

	TaskCompleted Name = "TaskCompleted"
	TaskFailed    Name = "TaskFailed"
	TaskDelegated Name = "TaskDelegated"
	TaskRejected  Name = "TaskRejected"

	FlowStarted   Name = "FlowStarted"
	FlowFinished  Name = "FlowFinished"
	FlowFailed    Name = "FlowFailed"
	FlowSuspended Name = "FlowSuspended"
	FlowStopped   Name = "FlowStopped"

	StepStarted   Name = "StepStarted"
	StepCompleted Name = "StepCompleted"
	StepFailed    Name = "StepFailed"

	StateConflict Name = "StateConflict"

	// DeliveryFailed reports a handler that panicked or returned an error.
	DeliveryFailed Name = "DeliveryFailed"
)

// Event is an immutable record of something that happened.
type Event struct {
	Name      Name      `json:"name"`
	Payload   any       `json:"payload,omitempty"`
	EmittedAt time.Time `json:"emitted_at"`
	Source    string    `json:"source,omitempty"`
}

// New creates an event stamped with the current time.
func New(name Name, source string, payload any) Event {
	return Event{
		Name:      name,
		Payload:   payload,
		EmittedAt: time.Now(),
		Source:    source,
	}
}

// WorkerPayload accompanies WorkerExecution* events.
type WorkerPayload struct {
	WorkerID string        `json:"worker_id"`
	Role     string        `json:"role,omitempty"`
	TaskID   string        `json:"task_id"`
	Outcome  string        `json:"outcome,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
}

// CrewPayload accompanies Crew* events.
type CrewPayload struct {
	CrewID  string `json:"crew_id"`
	Process string `json:"process"`
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

// TaskPayload accompanies Task* events.
type TaskPayload struct {
	CrewID   string `json:"crew_id"`
	TaskID   string `json:"task_id"`
	WorkerID string `json:"worker_id,omitempty"`
	Output   string `json:"output,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// FlowPayload accompanies Flow* events.
type FlowPayload struct {
	FlowType   string `json:"flow_type"`
	InstanceID string `json:"instance_id"`
	Error      string `json:"error,omitempty"`
}

// StepPayload accompanies Step* events.
type StepPayload struct {
	FlowType   string        `json:"flow_type"`
	InstanceID string        `json:"instance_id"`
	Step       string        `json:"step"`
	Label      string        `json:"label,omitempty"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
}

// ConflictPayload accompanies StateConflict events.
type ConflictPayload struct {
	FlowType   string `json:"flow_type"`
	InstanceID string `json:"instance_id"`
	Expected   uint64 `json:"expected"`
	Actual     uint64 `json:"actual"`
}

// DeliveryFailure is the payload of a DeliveryFailed event.
type DeliveryFailure struct {
	Event          Name   `json:"event"`
	SubscriptionID uint64 `json:"subscription_id"`
	Error          string `json:"error"`
}

package types

import "context"

// contextKey is used for storing values in context.Context.
type contextKey string

const (
	keyTraceID    contextKey = "trace_id"
	keyRunID      contextKey = "run_id"
	keyInstanceID contextKey = "instance_id"
	keyTaskID     contextKey = "task_id"
	keyStepName   contextKey = "step_name"
)

// WithTraceID adds trace ID to context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, keyTraceID, traceID)
}

// TraceID extracts trace ID from context.
func TraceID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyTraceID).(string)
	return v, ok && v != ""
}

// WithRunID adds the crew run ID to context.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, keyRunID, runID)
}

// RunID extracts the crew run ID from context.
func RunID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyRunID).(string)
	return v, ok && v != ""
}

// WithInstanceID adds the flow instance ID to context.
func WithInstanceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyInstanceID, id)
}

// InstanceID extracts the flow instance ID from context.
func InstanceID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyInstanceID).(string)
	return v, ok && v != ""
}

// WithTaskID adds the work item ID to context.
func WithTaskID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyTaskID, id)
}

// TaskID extracts the work item ID from context.
func TaskID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyTaskID).(string)
	return v, ok && v != ""
}

// WithStepName adds the flow step name to context.
func WithStepName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, keyStepName, name)
}

// StepName extracts the flow step name from context.
func StepName(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyStepName).(string)
	return v, ok && v != ""
}

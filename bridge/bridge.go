package bridge

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/crewflow/crew"
	"github.com/BaSui01/crewflow/flow"
	"github.com/BaSui01/crewflow/types"
)

// InputKey is the crew input that carries a string step input.
const InputKey = "input"

// CrewFactory builds the coordinator for one step execution and the inputs
// to kick it off with. It runs under the flow instance lock.
type CrewFactory func(ctx context.Context, state *flow.State, input any) (*crew.Coordinator, map[string]string, error)

type options struct {
	outputKey string
	usageKey  string
	logger    *zap.Logger
}

// Option configures CrewStep.
type Option func(*options)

// WithOutputKey stores the crew's final output in the flow state under key.
func WithOutputKey(key string) Option {
	return func(o *options) { o.outputKey = key }
}

// WithUsageKey adds the crew's total token usage to the integer under key.
func WithUsageKey(key string) Option {
	return func(o *options) { o.usageKey = key }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// CrewStep returns a step that runs a crew to completion and returns its
// final output. A crew awaiting human input suspends the flow; resuming the
// flow resumes the crew.
func CrewStep(factory CrewFactory, opts ...Option) flow.StepFunc {
	o := &options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(o)
	}
	logger := o.logger.With(zap.String("component", "crew_bridge"))

	return func(ctx context.Context, state *flow.State, input any) (any, error) {
		if factory == nil {
			return nil, types.NewError(types.ErrConstruction, "crew factory is required")
		}
		coord, inputs, err := factory(ctx, state, input)
		if err != nil {
			return nil, fmt.Errorf("build crew: %w", err)
		}
		logger.Debug("running crew", zap.String("crew_id", coord.ID()), zap.String("instance_id", state.ID()))

		res, err := coord.Kickoff(ctx, inputs)
		return o.settle(logger, coord, state, res, err)
	}
}

func (o *options) settle(logger *zap.Logger, coord *crew.Coordinator, state *flow.State, res *crew.Result, err error) (any, error) {
	if res != nil && o.usageKey != "" {
		state.Set(o.usageKey, state.GetInt(o.usageKey)+res.Usage.TotalTokens)
	}
	if err != nil {
		return nil, err
	}

	switch res.Status {
	case crew.StatusAwaitingHuman:
		logger.Info("crew awaiting human input, suspending flow",
			zap.String("crew_id", coord.ID()),
			zap.String("task_id", res.AwaitingTask),
		)
		return nil, flow.Suspend(res.Question, func(ctx context.Context, state *flow.State, input string) (any, error) {
			res, err := coord.Resume(ctx, input)
			return o.settle(logger, coord, state, res, err)
		})
	case crew.StatusCompleted:
		if o.outputKey != "" {
			state.Set(o.outputKey, res.FinalOutput)
		}
		return res.FinalOutput, nil
	default:
		return nil, types.NewError(types.ErrTerminalFailure,
			fmt.Sprintf("crew %s ended with status %s", coord.ID(), res.Status)).WithSource(coord.ID())
	}
}

// FromCrew builds a fresh coordinator of c per execution. Crew inputs are
// the string-valued state entries, plus InputKey when the step input is a
// string.
func FromCrew(c *crew.Crew, opts ...crew.Option) CrewFactory {
	return func(_ context.Context, state *flow.State, input any) (*crew.Coordinator, map[string]string, error) {
		coord, err := c.Coordinator(opts...)
		if err != nil {
			return nil, nil, err
		}
		return coord, Inputs(state, input), nil
	}
}

// Inputs converts the flow state into crew inputs.
func Inputs(state *flow.State, input any) map[string]string {
	out := make(map[string]string)
	for _, k := range state.Keys() {
		v, _ := state.Get(k)
		switch v := v.(type) {
		case string:
			out[k] = v
		case fmt.Stringer:
			out[k] = v.String()
		case int, int64, float64, bool:
			out[k] = fmt.Sprint(v)
		}
	}
	if s, ok := input.(string); ok {
		out[InputKey] = s
	}
	return out
}

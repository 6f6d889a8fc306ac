package flow

import (
	"context"
	"fmt"
)

// ResumeFunc completes a suspended step with the human input. Its return
// value becomes the step output, exactly as if the step had returned it.
type ResumeFunc func(ctx context.Context, state *State, input string) (any, error)

// Suspension is returned by a step that needs human input. The engine parks
// the step, finishes in-flight siblings and reports StatusSuspended.
type Suspension struct {
	Question string
	resume   ResumeFunc
}

// Suspend parks the calling step until Engine.Resume. A nil resume makes
// the human input the step output.
func Suspend(question string, resume ResumeFunc) error {
	return &Suspension{Question: question, resume: resume}
}

func (s *Suspension) Error() string {
	return fmt.Sprintf("step suspended: %s", s.Question)
}

func (s *Suspension) complete(ctx context.Context, state *State, input string) (any, error) {
	if s.resume == nil {
		return input, nil
	}
	return s.resume(ctx, state, input)
}

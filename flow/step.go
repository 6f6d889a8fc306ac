package flow

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/BaSui01/crewflow/types"
)

// StepFunc is the body of a step. input is the upstream output: nil for
// start steps, the router label for label listeners, and a map from
// upstream name to output for AND joins.
type StepFunc func(ctx context.Context, state *State, input any) (any, error)

// TriggerKind 触发方式
type TriggerKind string

const (
	TriggerStart TriggerKind = "start"
	TriggerAny   TriggerKind = "or"
	TriggerAll   TriggerKind = "and"
)

// Trigger decides when a step fires. Names refer to non-router steps or to
// router labels.
type Trigger struct {
	Kind TriggerKind
	On   []string
}

// OnStart fires the step once at kickoff.
func OnStart() Trigger { return Trigger{Kind: TriggerStart} }

// On fires the step each time the named step completes or the label is
// emitted.
func On(name string) Trigger { return Trigger{Kind: TriggerAny, On: []string{name}} }

// AnyOf fires the step on every completion of any of names.
func AnyOf(names ...string) Trigger { return Trigger{Kind: TriggerAny, On: names} }

// AllOf fires the step once every name has completed since its last firing.
func AllOf(names ...string) Trigger { return Trigger{Kind: TriggerAll, On: names} }

// Step is one node of a flow.
type Step struct {
	Name    string
	Fn      StepFunc
	Trigger Trigger
	// Labels is the outcome set of a router step.
	Labels []string
	// Persist saves the state after this step even when the engine does not
	// persist every step.
	Persist bool
}

// IsRouter reports whether the step emits labels.
func (s *Step) IsRouter() bool { return len(s.Labels) > 0 }

func (s *Step) hasLabel(label string) bool {
	for _, l := range s.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// StepOption configures a step.
type StepOption func(*Step)

// Persist saves the state after the step completes.
func Persist() StepOption {
	return func(s *Step) { s.Persist = true }
}

// Builder assembles and validates a Flow.
type Builder struct {
	flowType string
	steps    []*Step
}

// NewBuilder starts a flow of the given type. The type is part of the
// persistence key.
func NewBuilder(flowType string) *Builder {
	return &Builder{flowType: flowType}
}

// Step adds a step.
func (b *Builder) Step(name string, trigger Trigger, fn StepFunc, opts ...StepOption) *Builder {
	s := &Step{Name: name, Fn: fn, Trigger: trigger}
	for _, opt := range opts {
		opt(s)
	}
	b.steps = append(b.steps, s)
	return b
}

// Router adds a step that must return one of labels.
func (b *Builder) Router(name string, trigger Trigger, labels []string, fn StepFunc, opts ...StepOption) *Builder {
	s := &Step{Name: name, Fn: fn, Trigger: trigger, Labels: append([]string(nil), labels...)}
	for _, opt := range opts {
		opt(s)
	}
	b.steps = append(b.steps, s)
	return b
}

// Build validates the graph.
func (b *Builder) Build() (*Flow, error) {
	f := &Flow{
		flowType:  b.flowType,
		steps:     b.steps,
		index:     make(map[string]*Step, len(b.steps)),
		labels:    make(map[string][]*Step),
		listeners: make(map[string][]*Step),
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// Flow is a validated, immutable step graph. One Flow backs any number of
// engine instances.
type Flow struct {
	flowType string
	steps    []*Step
	index    map[string]*Step
	// label -> routers declaring it
	labels map[string][]*Step
	// emitted name -> steps triggered by it, in declaration order
	listeners map[string][]*Step
}

// Type returns the flow type.
func (f *Flow) Type() string { return f.flowType }

// Steps returns the steps in declaration order.
func (f *Flow) Steps() []*Step { return append([]*Step(nil), f.steps...) }

// Step returns a step by name.
func (f *Flow) Step(name string) (*Step, bool) {
	s, ok := f.index[name]
	return s, ok
}

func (f *Flow) validate() error {
	if f.flowType == "" {
		return types.NewError(types.ErrConstruction, "flow type is required")
	}
	if len(f.steps) == 0 {
		return types.NewError(types.ErrConstruction, fmt.Sprintf("flow %s has no steps", f.flowType))
	}

	for _, s := range f.steps {
		if s.Name == "" {
			return types.NewError(types.ErrConstruction, "step name is required")
		}
		if s.Fn == nil {
			return types.NewError(types.ErrConstruction, fmt.Sprintf("step %s has no function", s.Name))
		}
		if _, dup := f.index[s.Name]; dup {
			return types.NewError(types.ErrConstruction, fmt.Sprintf("duplicate step %s", s.Name))
		}
		f.index[s.Name] = s

		seen := make(map[string]bool, len(s.Labels))
		for _, l := range s.Labels {
			if l == "" || seen[l] {
				return types.NewError(types.ErrConstruction,
					fmt.Sprintf("router %s has an empty or duplicate label %q", s.Name, l))
			}
			seen[l] = true
			f.labels[l] = append(f.labels[l], s)
		}
	}

	for label, routers := range f.labels {
		if _, clash := f.index[label]; clash {
			return types.NewError(types.ErrConstruction,
				fmt.Sprintf("label %q of %s collides with a step name", label, routers[0].Name))
		}
	}

	var starts int
	for _, s := range f.steps {
		switch s.Trigger.Kind {
		case TriggerStart:
			starts++
			continue
		case TriggerAny, TriggerAll:
		default:
			return types.NewError(types.ErrConstruction, fmt.Sprintf("step %s has unknown trigger %q", s.Name, s.Trigger.Kind))
		}
		if len(s.Trigger.On) == 0 {
			return types.NewError(types.ErrConstruction, fmt.Sprintf("step %s listens on nothing", s.Name))
		}
		for _, name := range s.Trigger.On {
			if up, ok := f.index[name]; ok {
				if up.IsRouter() {
					return types.NewError(types.ErrUnknownLabel,
						fmt.Sprintf("step %s listens on router %s; listen on one of its labels %v", s.Name, name, up.Labels))
				}
			} else if _, ok := f.labels[name]; !ok {
				return types.NewError(types.ErrUnknownLabel,
					fmt.Sprintf("step %s listens on unknown step or label %q", s.Name, name))
			}
			f.listeners[name] = append(f.listeners[name], s)
		}
	}
	if starts == 0 {
		return types.NewError(types.ErrConstruction, fmt.Sprintf("flow %s has no start step", f.flowType))
	}
	return f.checkReachable()
}

// checkReachable walks emissions from the start steps. An AND join is
// reachable only when all of its inputs are.
func (f *Flow) checkReachable() error {
	emitted := make(map[string]bool)
	reached := make(map[string]bool)
	for changed := true; changed; {
		changed = false
		for _, s := range f.steps {
			if reached[s.Name] || !f.fires(s, emitted) {
				continue
			}
			reached[s.Name] = true
			changed = true
			for _, name := range emissions(s) {
				emitted[name] = true
			}
		}
	}

	var missing []string
	for _, s := range f.steps {
		if !reached[s.Name] {
			missing = append(missing, s.Name)
		}
	}
	if len(missing) > 0 {
		return types.NewError(types.ErrUnreachable,
			fmt.Sprintf("steps not reachable from any start step: %s", strings.Join(missing, ", ")))
	}
	return nil
}

func (f *Flow) fires(s *Step, emitted map[string]bool) bool {
	switch s.Trigger.Kind {
	case TriggerStart:
		return true
	case TriggerAll:
		for _, name := range s.Trigger.On {
			if !emitted[name] {
				return false
			}
		}
		return true
	default:
		for _, name := range s.Trigger.On {
			if emitted[name] {
				return true
			}
		}
		return false
	}
}

// emissions is what completing s can emit: its labels for routers, its name
// otherwise.
func emissions(s *Step) []string {
	if s.IsRouter() {
		return s.Labels
	}
	return []string{s.Name}
}

// Describe renders the step graph, one step per line in declaration order.
func (f *Flow) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "flow %s\n", f.flowType)
	for _, s := range f.steps {
		kind := "listen"
		switch {
		case s.IsRouter():
			kind = "router"
		case s.Trigger.Kind == TriggerStart:
			kind = "start"
		case s.Trigger.Kind == TriggerAll:
			kind = "and"
		case len(s.Trigger.On) > 1:
			kind = "or"
		}
		fmt.Fprintf(&b, "  %-6s %s", kind, s.Name)
		switch s.Trigger.Kind {
		case TriggerAll:
			fmt.Fprintf(&b, " <- %s", strings.Join(s.Trigger.On, " & "))
		case TriggerAny:
			fmt.Fprintf(&b, " <- %s", strings.Join(s.Trigger.On, " | "))
		case TriggerStart:
			if s.IsRouter() {
				b.WriteString(" <- start")
			}
		}
		if s.IsRouter() {
			labels := append([]string(nil), s.Labels...)
			sort.Strings(labels)
			fmt.Fprintf(&b, " => [%s]", strings.Join(labels, " "))
		}
		if s.Persist {
			b.WriteString(" (persist)")
		}
		b.WriteByte('\n')
	}
	return b.String()
}

package crew

import (
	"context"
	"fmt"

	"github.com/BaSui01/crewflow/types"
)

// Crew bundles workers and tasks. Every Coordinator built from a Crew runs
// on its own copy of the tasks, so a Crew can be kicked off repeatedly.
type Crew struct {
	Name    string
	Process Process
	Workers []Worker
	// Manager is required for ProcessHierarchical.
	Manager Worker
	Tasks   []*Task

	options []Option
}

// New 创建 Crew。opts 会应用到每个由它构建的 Coordinator。
func New(name string, process Process, workers []Worker, tasks []*Task, opts ...Option) *Crew {
	if process == "" {
		process = ProcessSequential
	}
	return &Crew{
		Name:    name,
		Process: process,
		Workers: workers,
		Tasks:   tasks,
		options: opts,
	}
}

// Coordinator validates the crew and returns a fresh coordinator.
func (c *Crew) Coordinator(opts ...Option) (*Coordinator, error) {
	var graphOpts []GraphOption
	switch c.Process {
	case ProcessHierarchical:
		if c.Manager == nil {
			return nil, types.NewError(types.ErrMissingManager,
				fmt.Sprintf("crew %q: hierarchical process requires a manager worker", c.Name))
		}
		graphOpts = append(graphOpts, WithManagerWorker(c.Manager.ID()))
	default:
		graphOpts = append(graphOpts, RequireAssignedWorkers())
	}

	graph, err := NewGraph(c.Tasks, graphOpts...)
	if err != nil {
		return nil, err
	}

	all := make([]Option, 0, len(c.options)+len(opts)+2)
	all = append(all, WithProcess(c.Process))
	if c.Manager != nil {
		all = append(all, WithManager(c.Manager))
	}
	all = append(all, c.options...)
	all = append(all, opts...)
	return NewCoordinator(graph, c.Workers, all...)
}

// Kickoff builds a coordinator and runs it.
func (c *Crew) Kickoff(ctx context.Context, inputs map[string]string, opts ...Option) (*Result, error) {
	coord, err := c.Coordinator(opts...)
	if err != nil {
		return nil, err
	}
	return coord.Kickoff(ctx, inputs)
}

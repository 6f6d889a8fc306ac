package crew

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/BaSui01/crewflow/agent"
	"github.com/BaSui01/crewflow/config"
	"github.com/BaSui01/crewflow/event"
	"github.com/BaSui01/crewflow/llm"
	"github.com/BaSui01/crewflow/types"
)

// Definition is the declarative form of a crew.
//
//	name: research
//	process: sequential
//	agents:
//	  - id: researcher
//	    role: Senior Researcher
//	    goal: Find facts about {topic}
//	tasks:
//	  - name: research
//	    description: Research {topic}
//	    expected_output: Five bullet points
//	    agent: researcher
type Definition struct {
	Name    string           `yaml:"name" json:"name"`
	Process Process          `yaml:"process" json:"process"`
	Manager *agent.Config    `yaml:"manager" json:"manager,omitempty"`
	Agents  []agent.Config   `yaml:"agents" json:"agents"`
	Tasks   []TaskDefinition `yaml:"tasks" json:"tasks"`
}

// TaskDefinition refers to agents and other tasks by name.
type TaskDefinition struct {
	Name           string   `yaml:"name" json:"name"`
	Description    string   `yaml:"description" json:"description"`
	ExpectedOutput string   `yaml:"expected_output" json:"expected_output"`
	Agent          string   `yaml:"agent" json:"agent,omitempty"`
	Context        []string `yaml:"context" json:"context,omitempty"`
	AsyncExecution bool     `yaml:"async_execution" json:"async_execution,omitempty"`
	HumanInput     bool     `yaml:"human_input" json:"human_input,omitempty"`
}

// LoadDefinition reads a crew definition. The format follows the file
// extension (.yaml, .yml or .json).
func LoadDefinition(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read crew definition file: %w", err)
	}
	format := detectFormat(path)
	if format == "" {
		return nil, fmt.Errorf("unsupported file extension: %s", filepath.Ext(path))
	}
	return ParseDefinition(data, format)
}

// LoadDefinitions reads every .yaml, .yml and .json file in dir and keys the
// definitions by crew name. A file without a name is keyed by its base name.
func LoadDefinitions(dir string) (map[string]*Definition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read crew definition dir: %w", err)
	}
	defs := make(map[string]*Definition)
	for _, e := range entries {
		if e.IsDir() || detectFormat(e.Name()) == "" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		def, err := LoadDefinition(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if def.Name == "" {
			def.Name = strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		}
		if _, dup := defs[def.Name]; dup {
			return nil, types.NewError(types.ErrConstruction, fmt.Sprintf("duplicate crew name %q in %s", def.Name, path))
		}
		defs[def.Name] = def
	}
	return defs, nil
}

// ParseDefinition parses and validates raw bytes in "yaml" or "json".
func ParseDefinition(data []byte, format string) (*Definition, error) {
	var def Definition
	switch strings.ToLower(format) {
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &def); err != nil {
			return nil, fmt.Errorf("parse YAML: %w", err)
		}
	case "json":
		if err := json.Unmarshal(data, &def); err != nil {
			return nil, fmt.Errorf("parse JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported format %q, use \"yaml\" or \"json\"", format)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

func detectFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	case ".json":
		return "json"
	default:
		return ""
	}
}

// Validate checks names and references without building anything.
func (d *Definition) Validate() error {
	if d.Process == "" {
		d.Process = ProcessSequential
	}
	if d.Process != ProcessSequential && d.Process != ProcessHierarchical {
		return types.NewError(types.ErrConstruction, fmt.Sprintf("unknown process %q", d.Process))
	}
	if d.Process == ProcessHierarchical && d.Manager == nil {
		return types.NewError(types.ErrMissingManager, "hierarchical process requires a manager")
	}
	if len(d.Tasks) == 0 {
		return types.NewError(types.ErrConstruction, "crew has no tasks")
	}

	agents := make(map[string]bool, len(d.Agents))
	for i, a := range d.Agents {
		if err := a.Validate(); err != nil {
			return types.NewError(types.ErrConstruction, fmt.Sprintf("agent #%d: %v", i, err)).WithCause(err)
		}
		id := a.ID
		if id == "" {
			id = a.Role
		}
		if agents[id] {
			return types.NewError(types.ErrConstruction, fmt.Sprintf("duplicate agent %q", id))
		}
		agents[id] = true
		agents[a.Role] = true
	}

	tasks := make(map[string]bool, len(d.Tasks))
	for i, t := range d.Tasks {
		if t.Name == "" {
			return types.NewError(types.ErrConstruction, fmt.Sprintf("task #%d has no name", i))
		}
		if tasks[t.Name] {
			return types.NewError(types.ErrConstruction, fmt.Sprintf("duplicate task %q", t.Name))
		}
		tasks[t.Name] = true
		if t.Agent != "" && !agents[t.Agent] {
			return types.NewError(types.ErrUnknownWorker,
				fmt.Sprintf("task %q is assigned to unknown agent %q", t.Name, t.Agent))
		}
	}
	for _, t := range d.Tasks {
		for _, dep := range t.Context {
			if !tasks[dep] {
				return types.NewError(types.ErrCyclicGraph,
					fmt.Sprintf("task %q depends on unknown task %q", t.Name, dep))
			}
		}
	}
	return nil
}

// BuildOptions supplies runtime dependencies to Definition.Build.
type BuildOptions struct {
	Defaults config.CrewConfig
	Bus      event.Bus
	Logger   *zap.Logger
	// Tools resolves the tool names listed on agents.
	Tools map[string]agent.Tool
}

// Build creates workers backed by provider and returns the crew.
func (d *Definition) Build(provider llm.Provider, opts BuildOptions) (*Crew, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Defaults == (config.CrewConfig{}) {
		opts.Defaults = config.DefaultCrewConfig()
	}

	workers := make([]Worker, 0, len(d.Agents))
	for _, cfg := range d.Agents {
		w, err := d.newWorker(cfg, provider, opts)
		if err != nil {
			return nil, err
		}
		workers = append(workers, w)
	}

	ids := make(map[string]string, len(d.Tasks))
	for _, t := range d.Tasks {
		ids[t.Name] = types.NewID()
	}
	tasks := make([]*Task, 0, len(d.Tasks))
	for _, t := range d.Tasks {
		deps := make([]string, 0, len(t.Context))
		for _, dep := range t.Context {
			deps = append(deps, ids[dep])
		}
		tasks = append(tasks, &Task{
			ID:             ids[t.Name],
			Name:           t.Name,
			Description:    t.Description,
			ExpectedOutput: t.ExpectedOutput,
			AssignedWorker: t.Agent,
			Context:        deps,
			Async:          t.AsyncExecution,
			HumanInput:     t.HumanInput,
		})
	}

	crewOpts := []Option{WithLogger(opts.Logger), WithCrewConfig(opts.Defaults)}
	if opts.Bus != nil {
		crewOpts = append(crewOpts, WithBus(opts.Bus))
	}
	c := New(d.Name, d.Process, workers, tasks, crewOpts...)
	if d.Manager != nil {
		mcfg := *d.Manager
		mcfg.AllowDelegation = true
		m, err := d.newWorker(mcfg, provider, opts)
		if err != nil {
			return nil, err
		}
		c.Manager = m
	}
	return c, nil
}

func (d *Definition) newWorker(cfg agent.Config, provider llm.Provider, opts BuildOptions) (*agent.Worker, error) {
	cfg = cfg.WithDefaults(opts.Defaults)
	workerOpts := []agent.Option{agent.WithLogger(opts.Logger)}
	if opts.Bus != nil {
		workerOpts = append(workerOpts, agent.WithBus(opts.Bus))
	}
	for _, name := range cfg.Tools {
		tool, ok := opts.Tools[name]
		if !ok {
			return nil, types.NewError(types.ErrConstruction,
				fmt.Sprintf("agent %q uses unknown tool %q", cfg.ID, name))
		}
		workerOpts = append(workerOpts, agent.WithTools(tool))
	}
	w, err := agent.NewWorker(cfg, provider, workerOpts...)
	if err != nil {
		return nil, types.NewError(types.ErrConstruction, err.Error()).WithCause(err)
	}
	return w, nil
}

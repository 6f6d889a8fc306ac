package handlers

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/crewflow/api"
	"github.com/BaSui01/crewflow/config"
	"github.com/BaSui01/crewflow/crew"
	"github.com/BaSui01/crewflow/event"
	"github.com/BaSui01/crewflow/hitl"
	"github.com/BaSui01/crewflow/llm"
	"github.com/BaSui01/crewflow/types"
)

type crewRun struct {
	name    string
	coord   *crew.Coordinator
	started time.Time

	mu     sync.Mutex
	err    error
	doneAt time.Time
}

// doneSince 返回首次观察到终态的时间；未结束时返回 false
func (r *crewRun) doneSince(now time.Time) (time.Time, bool) {
	switch r.coord.Status() {
	case crew.StatusCompleted, crew.StatusFailed:
	default:
		return time.Time{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.doneAt.IsZero() {
		r.doneAt = now
	}
	return r.doneAt, true
}

// defaultRunRetention 终态运行记录的默认保留时长
const defaultRunRetention = time.Hour

// CrewHandler 按名称启动声明式 Crew，并查询运行状态
type CrewHandler struct {
	defs     map[string]*crew.Definition
	provider llm.Provider
	registry *hitl.Registry
	bus      event.Bus
	defaults config.CrewConfig
	baseCtx  context.Context
	logger   *zap.Logger

	retention time.Duration
	now       func() time.Time

	mu   sync.Mutex
	runs map[string]*crewRun
}

// CrewHandlerConfig 汇总 CrewHandler 的依赖
type CrewHandlerConfig struct {
	Definitions map[string]*crew.Definition
	Provider    llm.Provider
	Registry    *hitl.Registry
	Bus         event.Bus
	Defaults    config.CrewConfig
	// BaseCtx 为后台运行提供上下文，通常与服务器同寿命
	BaseCtx context.Context
	// RunRetention 终态运行在内存中的保留时长，0 使用默认值 1h
	RunRetention time.Duration
}

// NewCrewHandler 创建 Crew 处理器
func NewCrewHandler(cfg CrewHandlerConfig, logger *zap.Logger) *CrewHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseCtx == nil {
		cfg.BaseCtx = context.Background()
	}
	if cfg.RunRetention <= 0 {
		cfg.RunRetention = defaultRunRetention
	}
	return &CrewHandler{
		defs:     cfg.Definitions,
		provider: cfg.Provider,
		registry: cfg.Registry,
		bus:      cfg.Bus,
		defaults: cfg.Defaults,
		baseCtx:  cfg.BaseCtx,
		logger:   logger.With(zap.String("handler", "crews")),

		retention: cfg.RunRetention,
		now:       time.Now,
		runs:      make(map[string]*crewRun),
	}
}

// HandleList 处理 GET /v1/crews
func (h *CrewHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(h.defs))
	for name := range h.defs {
		names = append(names, name)
	}
	sort.Strings(names)

	out := api.CrewListResponse{Crews: make([]api.CrewSummary, 0, len(names))}
	for _, name := range names {
		def := h.defs[name]
		s := api.CrewSummary{Name: name, Process: string(def.Process)}
		for _, a := range def.Agents {
			id := a.ID
			if id == "" {
				id = a.Role
			}
			s.Agents = append(s.Agents, id)
		}
		for _, t := range def.Tasks {
			s.Tasks = append(s.Tasks, t.Name)
		}
		out.Crews = append(out.Crews, s)
	}
	WriteSuccess(w, out)
}

// HandleKickoff 处理 POST /v1/crews/{name}/kickoff，在后台运行并返回 202
func (h *CrewHandler) HandleKickoff(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	name := r.PathValue("name")
	def, ok := h.defs[name]
	if !ok {
		WriteErrorMessage(w, types.ErrNotFound, "unknown crew "+name, h.logger)
		return
	}
	if h.provider == nil {
		WriteErrorMessage(w, types.ErrConstruction, "no LLM provider configured", h.logger)
		return
	}

	var req api.KickoffRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	c, err := def.Build(h.provider, crew.BuildOptions{Defaults: h.defaults, Bus: h.bus, Logger: h.logger})
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	var opts []crew.Option
	if h.registry != nil {
		opts = append(opts, crew.WithInterrupts(h.registry))
	}
	coord, err := c.Coordinator(opts...)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	run := &crewRun{name: name, coord: coord, started: time.Now()}
	h.mu.Lock()
	h.pruneLocked()
	h.runs[coord.ID()] = run
	h.mu.Unlock()

	go func() {
		_, err := coord.Kickoff(h.baseCtx, req.Inputs)
		if err != nil {
			h.logger.Warn("crew run failed", zap.String("crew", name), zap.String("crew_id", coord.ID()), zap.Error(err))
		}
		run.mu.Lock()
		run.err = err
		run.mu.Unlock()
		run.doneSince(h.now())
	}()

	h.logger.Info("crew kicked off", zap.String("crew", name), zap.String("crew_id", coord.ID()))
	WriteStatus(w, http.StatusAccepted, api.CrewRunResponse{
		CrewID:    coord.ID(),
		Crew:      name,
		Status:    string(crew.StatusRunning),
		StartedAt: run.started,
	})
}

// HandleGetRun 处理 GET /v1/runs/{id}
func (h *CrewHandler) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	h.mu.Lock()
	h.pruneLocked()
	run, ok := h.runs[id]
	h.mu.Unlock()
	if !ok {
		WriteErrorMessage(w, types.ErrNotFound, "unknown crew run "+id, h.logger)
		return
	}
	WriteSuccess(w, run.view())
}

// pruneLocked 删除进入终态超过保留时长的运行记录，调用方持有 h.mu
func (h *CrewHandler) pruneLocked() {
	now := h.now()
	for id, run := range h.runs {
		if done, ok := run.doneSince(now); ok && now.Sub(done) >= h.retention {
			delete(h.runs, id)
			h.logger.Debug("crew run evicted", zap.String("crew_id", id))
		}
	}
}

func (r *crewRun) view() api.CrewRunResponse {
	out := api.CrewRunResponse{
		CrewID:    r.coord.ID(),
		Crew:      r.name,
		Status:    string(r.coord.Status()),
		StartedAt: r.started,
	}
	if res := r.coord.Result(); res != nil {
		out.Status = string(res.Status)
		out.FinalOutput = res.FinalOutput
		out.FailedTask = res.FailedTask
		out.Failure = res.FailureReason
		out.AwaitingTask = res.AwaitingTask
		out.Question = res.Question
		out.Usage = res.Usage
	}
	r.mu.Lock()
	if r.err != nil && out.Failure == "" {
		out.Failure = r.err.Error()
	}
	r.mu.Unlock()
	return out
}

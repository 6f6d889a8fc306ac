package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/crewflow/api/handlers"
	"github.com/BaSui01/crewflow/config"
	"github.com/BaSui01/crewflow/crew"
	"github.com/BaSui01/crewflow/event"
	"github.com/BaSui01/crewflow/hitl"
	"github.com/BaSui01/crewflow/internal/metrics"
	"github.com/BaSui01/crewflow/internal/server"
	"github.com/BaSui01/crewflow/internal/telemetry"
	"github.com/BaSui01/crewflow/llm"
	"github.com/BaSui01/crewflow/llm/openaicompat"
	"github.com/BaSui01/crewflow/llm/retry"
	"github.com/BaSui01/crewflow/llm/tokenizer"
	"github.com/BaSui01/crewflow/state"
)

const dbStatsInterval = 15 * time.Second

// Server 是 CrewFlow 的主服务器
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	httpManager *server.Manager
	providers   *telemetry.Providers
	store       state.Store
	bus         *event.SyncBus
	registry    *hitl.Registry

	collector *metrics.Collector
	promReg   *prometheus.Registry

	// 后台协程（限流清理、DB 统计、配置监听）的生命周期
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{cfg: cfg, logger: logger}
}

// Start 初始化依赖并启动 HTTP 服务
func (s *Server) Start(ctx context.Context) error {
	bgCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel

	providers, err := telemetry.Init(ctx, s.cfg.Telemetry, s.logger)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	s.providers = providers

	s.bus = event.NewBus(s.logger)

	s.promReg = prometheus.NewRegistry()
	s.promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	s.collector = metrics.NewCollector(s.cfg.Metrics.Namespace, s.promReg, s.logger)
	s.collector.Attach(s.bus)

	store, err := state.NewStore(ctx, s.cfg.State, s.logger)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	s.store = store
	s.startDBStats(bgCtx)

	s.registry = hitl.NewRegistry(hitl.NewInMemoryInterruptStore(), s.logger)

	provider, err := s.buildProvider()
	if err != nil {
		return err
	}

	var defs map[string]*crew.Definition
	if dir := s.cfg.Crew.DefinitionsDir; dir != "" {
		defs, err = crew.LoadDefinitions(dir)
		if err != nil {
			return fmt.Errorf("load crew definitions: %w", err)
		}
		s.logger.Info("crew definitions loaded", zap.Int("count", len(defs)), zap.String("dir", dir))
	}

	mux := s.routes(bgCtx, provider, defs)
	handler := Chain(mux, s.middlewares(bgCtx)...)

	s.httpManager = server.NewManager(handler, server.ConfigFrom(s.cfg.Server), s.logger)
	if err := s.httpManager.Start(); err != nil {
		return err
	}
	s.logger.Info("HTTP server started", zap.String("addr", s.httpManager.ListenAddr()))
	return nil
}

func (s *Server) buildProvider() (llm.Provider, error) {
	if s.cfg.LLM.BaseURL == "" {
		s.logger.Info("no LLM base URL configured, crew kickoff disabled")
		return nil, nil
	}
	base, err := openaicompat.New(openaicompat.Config{
		BaseURL: s.cfg.LLM.BaseURL,
		APIKey:  s.cfg.LLM.APIKey,
		Model:   s.cfg.LLM.Model,
		Timeout: s.cfg.LLM.Timeout,
	}, s.logger)
	if err != nil {
		return nil, fmt.Errorf("create LLM provider: %w", err)
	}
	retrying := llm.NewRetryProvider(base, retry.PolicyFromConfig(s.cfg.LLM), s.logger)
	return llm.NewUsageProvider(retrying, tokenizer.NewCounter(s.cfg.LLM.Encoding)), nil
}

func (s *Server) routes(bgCtx context.Context, provider llm.Provider, defs map[string]*crew.Definition) *http.ServeMux {
	health := handlers.NewHealthHandler(s.logger)
	if check := handlers.StoreCheck("state", s.store); check != nil {
		health.RegisterCheck(check)
	}
	interrupts := handlers.NewInterruptHandler(bgCtx, s.registry, s.logger)
	states := handlers.NewStateHandler(s.store, s.logger)
	events := handlers.NewEventsHandler(s.bus, s.logger)
	events.OriginPatterns = s.cfg.Server.CORSAllowedOrigins
	crews := handlers.NewCrewHandler(handlers.CrewHandlerConfig{
		Definitions: defs,
		Provider:    provider,
		Registry:    s.registry,
		Bus:         s.bus,
		Defaults:    s.cfg.Crew,
		BaseCtx:     bgCtx,

		RunRetention: s.cfg.Crew.RunRetention,
	}, s.logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", health.HandleHealth)
	mux.HandleFunc("GET /healthz", health.HandleHealth)
	mux.HandleFunc("GET /ready", health.HandleReady)
	mux.HandleFunc("GET /version", health.HandleVersion(Version, BuildTime, GitCommit))
	if s.cfg.Metrics.Enabled {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.promReg, promhttp.HandlerOpts{Registry: s.promReg}))
	}

	mux.HandleFunc("GET /v1/interrupts", interrupts.HandleList)
	mux.HandleFunc("GET /v1/instances/{id}/interrupt", interrupts.HandleGet)
	mux.HandleFunc("POST /v1/instances/{id}/resume", interrupts.HandleResume)
	mux.HandleFunc("POST /v1/instances/{id}/cancel", interrupts.HandleCancel)

	mux.HandleFunc("GET /v1/flows/{type}/{id}/state", states.HandleGet)
	mux.HandleFunc("DELETE /v1/flows/{type}/{id}/state", states.HandleDelete)

	mux.HandleFunc("GET /v1/events", events.HandleStream)

	mux.HandleFunc("GET /v1/crews", crews.HandleList)
	mux.HandleFunc("POST /v1/crews/{name}/kickoff", crews.HandleKickoff)
	mux.HandleFunc("GET /v1/runs/{id}", crews.HandleGetRun)
	return mux
}

func (s *Server) middlewares(bgCtx context.Context) []Middleware {
	mws := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		CORS(s.cfg.Server.CORSAllowedOrigins),
	}
	if s.cfg.Telemetry.Enabled {
		mws = append(mws, OTelTracing())
	}
	if rps := s.cfg.Server.RateLimitRPS; rps > 0 {
		mws = append(mws, RateLimiter(bgCtx, rps, s.cfg.Server.RateLimitBurst))
	}
	if s.cfg.Auth.Enabled {
		mws = append(mws, JWTAuth(s.cfg.Auth, []string{"/health", "/healthz", "/ready", "/version", "/metrics"}, s.logger))
	}
	// 必须紧贴 mux，才能读到匹配后的路由模式
	mws = append(mws, MetricsMiddleware(s.collector))
	return mws
}

func (s *Server) startDBStats(ctx context.Context) {
	sqlStore, ok := s.store.(*state.SQLStore)
	if !ok {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(dbStatsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := sqlStore.Stats()
				s.collector.RecordDBConnections(s.cfg.State.Driver, stats.OpenConnections, stats.Idle)
			}
		}
	}()
}

// WatchConfig 监听配置文件，变更时热更新日志级别
func (s *Server) WatchConfig(ctx context.Context, loader *config.Loader, level zap.AtomicLevel) {
	watcher, err := config.NewWatcher(loader, config.WithWatcherLogger(s.logger))
	if err != nil {
		s.logger.Warn("config watcher disabled", zap.Error(err))
		return
	}
	watcher.OnReload(func(cfg *config.Config) {
		lvl := parseLevel(cfg.Log.Level)
		if lvl != level.Level() {
			level.SetLevel(lvl)
			s.logger.Info("log level updated", zap.String("level", lvl.String()))
		}
	})
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("config watcher stopped", zap.Error(err))
		}
	}()
}

// Wait 阻塞直到 ctx 结束或 HTTP 服务异常退出
func (s *Server) Wait(ctx context.Context) error {
	if s.httpManager == nil {
		return nil
	}
	return s.httpManager.Wait(ctx)
}

// Shutdown 依次关闭 HTTP 服务、后台协程、状态存储与遥测
func (s *Server) Shutdown(ctx context.Context) {
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error("state store close error", zap.Error(err))
		}
	}
	if s.providers != nil {
		if err := s.providers.Shutdown(ctx); err != nil {
			s.logger.Error("telemetry shutdown error", zap.Error(err))
		}
	}
}

// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/BaSui01/crewflow/event"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Worker 指标
	workerExecutionsTotal   *prometheus.CounterVec
	workerExecutionDuration *prometheus.HistogramVec

	// Crew 指标
	crewKickoffsTotal *prometheus.CounterVec
	taskEventsTotal   *prometheus.CounterVec
	awaitingHuman     prometheus.Gauge

	// Flow 指标
	flowRunsTotal    *prometheus.CounterVec
	flowStepsTotal   *prometheus.CounterVec
	flowStepDuration *prometheus.HistogramVec
	stateConflicts   *prometheus.CounterVec

	// 事件总线指标
	deliveryFailures *prometheus.CounterVec

	// 数据库指标
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器。reg 为 nil 时注册到默认 Registry。
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Worker 指标
	c.workerExecutionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_executions_total",
			Help:      "Total number of worker executions by outcome",
		},
		[]string{"worker_id", "outcome"},
	)

	c.workerExecutionDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "worker_execution_duration_seconds",
			Help:      "Worker execution duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"worker_id"},
	)

	// Crew 指标
	c.crewKickoffsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "crew_kickoffs_total",
			Help:      "Total number of finished crew kickoffs",
		},
		[]string{"process", "status"},
	)

	c.taskEventsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_events_total",
			Help:      "Total number of task lifecycle events",
		},
		[]string{"event"},
	)

	c.awaitingHuman = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "instances_awaiting_human",
			Help:      "Number of crews waiting for human input",
		},
	)

	// Flow 指标
	c.flowRunsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flow_runs_total",
			Help:      "Total number of flow runs by terminal status",
		},
		[]string{"flow_type", "status"},
	)

	c.flowStepsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flow_steps_total",
			Help:      "Total number of flow step executions",
		},
		[]string{"flow_type", "step", "status"},
	)

	c.flowStepDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flow_step_duration_seconds",
			Help:      "Flow step duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"flow_type", "step"},
	)

	c.stateConflicts = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_conflicts_total",
			Help:      "Total number of optimistic version conflicts on flow state",
		},
		[]string{"flow_type"},
	)

	c.deliveryFailures = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_delivery_failures_total",
			Help:      "Total number of event handlers that failed or panicked",
		},
		[]string{"event"},
	)

	// 数据库指标
	c.dbConnectionsOpen = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🔌 事件总线订阅
// =============================================================================

// Attach subscribes the collector to every event on bus.
func (c *Collector) Attach(bus event.Bus) event.Subscription {
	return bus.Subscribe(event.Wildcard, func(evt event.Event) error {
		c.Observe(evt)
		return nil
	})
}

// Observe records one event. Unknown events are ignored.
func (c *Collector) Observe(evt event.Event) {
	switch p := evt.Payload.(type) {
	case event.WorkerPayload:
		switch evt.Name {
		case event.WorkerExecutionCompleted, event.WorkerExecutionFailed:
			outcome := p.Outcome
			if outcome == "" {
				outcome = "failure"
			}
			c.workerExecutionsTotal.WithLabelValues(p.WorkerID, outcome).Inc()
			c.workerExecutionDuration.WithLabelValues(p.WorkerID).Observe(p.Duration.Seconds())
		}

	case event.CrewPayload:
		switch evt.Name {
		case event.CrewKickoffCompleted:
			c.crewKickoffsTotal.WithLabelValues(p.Process, "completed").Inc()
		case event.CrewKickoffFailed:
			c.crewKickoffsTotal.WithLabelValues(p.Process, "failed").Inc()
		case event.CrewResumed:
			c.awaitingHuman.Dec()
		}

	case event.TaskPayload:
		c.taskEventsTotal.WithLabelValues(string(evt.Name)).Inc()
		if evt.Name == event.CrewAwaitingHuman {
			c.awaitingHuman.Inc()
		}

	case event.FlowPayload:
		switch evt.Name {
		case event.FlowFinished:
			c.flowRunsTotal.WithLabelValues(p.FlowType, "finished").Inc()
		case event.FlowFailed:
			c.flowRunsTotal.WithLabelValues(p.FlowType, "failed").Inc()
		case event.FlowStopped:
			c.flowRunsTotal.WithLabelValues(p.FlowType, "stopped").Inc()
		case event.FlowSuspended:
			c.flowRunsTotal.WithLabelValues(p.FlowType, "suspended").Inc()
		}

	case event.StepPayload:
		switch evt.Name {
		case event.StepCompleted:
			c.flowStepsTotal.WithLabelValues(p.FlowType, p.Step, "completed").Inc()
			c.flowStepDuration.WithLabelValues(p.FlowType, p.Step).Observe(p.Duration.Seconds())
		case event.StepFailed:
			c.flowStepsTotal.WithLabelValues(p.FlowType, p.Step, "failed").Inc()
			c.flowStepDuration.WithLabelValues(p.FlowType, p.Step).Observe(p.Duration.Seconds())
		}

	case event.ConflictPayload:
		c.stateConflicts.WithLabelValues(p.FlowType).Inc()

	case event.DeliveryFailure:
		c.deliveryFailures.WithLabelValues(string(p.Event)).Inc()
	}
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// =============================================================================
// 🗄️ 数据库指标记录
// =============================================================================

// RecordDBConnections 记录数据库连接数
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

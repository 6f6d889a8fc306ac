package config

import (
	"fmt"
	"strings"
	"time"
)

// Config 是 CrewFlow 的完整配置结构
type Config struct {
	// Server HTTP 服务配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// State 状态存储配置
	State StateConfig `yaml:"state" env:"STATE"`

	// Crew Worker 默认限制与协调策略
	Crew CrewConfig `yaml:"crew" env:"CREW"`

	// Flow 引擎配置
	Flow FlowConfig `yaml:"flow" env:"FLOW"`

	// LLM 调用重试策略
	LLM LLMConfig `yaml:"llm" env:"LLM"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`

	// Metrics Prometheus 指标配置
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`

	// Auth API 鉴权配置
	Auth AuthConfig `yaml:"auth" env:"AUTH"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	HTTPPort        int           `yaml:"http_port" env:"HTTP_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 每秒请求数限制，0 表示不限制
	RateLimitRPS   float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// 同时设置证书与私钥时启用 HTTPS
	TLSCertFile string `yaml:"tls_cert_file" env:"TLS_CERT_FILE"`
	TLSKeyFile  string `yaml:"tls_key_file" env:"TLS_KEY_FILE"`
	// 允许跨域访问的来源，为空时拒绝跨域请求
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format           string   `yaml:"format" env:"FORMAT"`
	OutputPaths      []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller     bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// State store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverRedis    = "redis"
	DriverMongo    = "mongo"
)

// StateConfig 状态存储配置
type StateConfig struct {
	// 驱动: memory, sqlite, postgres, mysql, redis, mongo
	Driver string `yaml:"driver" env:"DRIVER"`
	// SQLite 数据库文件路径
	Path string `yaml:"path" env:"PATH"`
	// 启动时自动建表
	AutoMigrate bool           `yaml:"auto_migrate" env:"AUTO_MIGRATE"`
	Database    DatabaseConfig `yaml:"database" env:"DATABASE"`
	Redis       RedisConfig    `yaml:"redis" env:"REDIS"`
	Mongo       MongoConfig    `yaml:"mongo" env:"MONGO"`
}

// DatabaseConfig 共享 SQL 数据库配置
type DatabaseConfig struct {
	Host            string        `yaml:"host" env:"HOST"`
	Port            int           `yaml:"port" env:"PORT"`
	User            string        `yaml:"user" env:"USER"`
	Password        string        `yaml:"password" env:"PASSWORD"`
	Name            string        `yaml:"name" env:"NAME"`
	SSLMode         string        `yaml:"ssl_mode" env:"SSL_MODE"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr         string `yaml:"addr" env:"ADDR"`
	Password     string `yaml:"password" env:"PASSWORD"`
	DB           int    `yaml:"db" env:"DB"`
	PoolSize     int    `yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int    `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	TLS          bool   `yaml:"tls" env:"TLS"`
	KeyPrefix    string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// MongoConfig MongoDB 配置
type MongoConfig struct {
	URI        string        `yaml:"uri" env:"URI"`
	Database   string        `yaml:"database" env:"DATABASE"`
	Collection string        `yaml:"collection" env:"COLLECTION"`
	Timeout    time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// CrewConfig Worker 默认限制
type CrewConfig struct {
	MaxIterations    int           `yaml:"max_iterations" env:"MAX_ITERATIONS"`
	MaxExecutionTime time.Duration `yaml:"max_execution_time" env:"MAX_EXECUTION_TIME"`
	MaxRetryLimit    int           `yaml:"max_retry_limit" env:"MAX_RETRY_LIMIT"`
	MaxInFlight      int           `yaml:"max_in_flight" env:"MAX_IN_FLIGHT"`
	// 每分钟最大请求数，0 表示不限制
	MaxRPM                int  `yaml:"max_rpm" env:"MAX_RPM"`
	ContinueOnTaskFailure bool `yaml:"continue_on_task_failure" env:"CONTINUE_ON_TASK_FAILURE"`
	// HTTP 启动的 Crew 运行进入终态后在内存中保留的时长
	RunRetention time.Duration `yaml:"run_retention" env:"RUN_RETENTION"`
	// serve 启动时从该目录加载 Crew 定义（*.yaml, *.yml, *.json）
	DefinitionsDir string `yaml:"definitions_dir" env:"DEFINITIONS_DIR"`
}

// FlowConfig Flow 引擎配置
type FlowConfig struct {
	// 每个 Step 完成后持久化状态
	Persist bool `yaml:"persist" env:"PERSIST"`
	// 同时执行的 Step 上限，0 表示不限制
	MaxConcurrentSteps int `yaml:"max_concurrent_steps" env:"MAX_CONCURRENT_STEPS"`
	// Save 冲突时重新加载已存状态并重跑 Step 的最大次数
	ConflictRetries int `yaml:"conflict_retries" env:"CONFLICT_RETRIES"`
}

// LLMConfig LLM 调用配置
type LLMConfig struct {
	// OpenAI 兼容接口地址，为空时 serve 不提供 kickoff 接口
	BaseURL      string        `yaml:"base_url" env:"BASE_URL"`
	APIKey       string        `yaml:"api_key" env:"API_KEY"`
	Model        string        `yaml:"model" env:"MODEL"`
	Timeout      time.Duration `yaml:"timeout" env:"TIMEOUT"`
	MaxRetries   int           `yaml:"max_retries" env:"MAX_RETRIES"`
	InitialDelay time.Duration `yaml:"initial_delay" env:"INITIAL_DELAY"`
	MaxDelay     time.Duration `yaml:"max_delay" env:"MAX_DELAY"`
	Multiplier   float64       `yaml:"multiplier" env:"MULTIPLIER"`
	Jitter       bool          `yaml:"jitter" env:"JITTER"`
	// tiktoken 编码名，用于 Provider 未上报用量时估算
	Encoding string `yaml:"encoding" env:"ENCODING"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" env:"ENABLED"`
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
}

// AuthConfig JWT 鉴权配置
type AuthConfig struct {
	Enabled   bool   `yaml:"enabled" env:"ENABLED"`
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
	Issuer    string `yaml:"issuer" env:"ISSUER"`
	Audience  string `yaml:"audience" env:"AUDIENCE"`
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}

	switch c.State.Driver {
	case DriverMemory, DriverSQLite, DriverPostgres, DriverMySQL, DriverRedis, DriverMongo:
	default:
		errs = append(errs, fmt.Sprintf("unsupported state driver %q", c.State.Driver))
	}
	if c.State.Driver == DriverSQLite && c.State.Path == "" {
		errs = append(errs, "state.path is required for sqlite")
	}

	if c.Crew.MaxIterations <= 0 {
		errs = append(errs, "crew.max_iterations must be positive")
	}
	if c.Crew.MaxRetryLimit < 0 {
		errs = append(errs, "crew.max_retry_limit must not be negative")
	}
	if c.Crew.MaxInFlight <= 0 {
		errs = append(errs, "crew.max_in_flight must be positive")
	}

	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		errs = append(errs, "auth.jwt_secret is required when auth is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// DSN 返回 SQL 数据库连接字符串
func (s *StateConfig) DSN() string {
	d := s.Database
	switch s.Driver {
	case DriverPostgres:
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case DriverMySQL:
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case DriverSQLite:
		return s.Path
	default:
		return ""
	}
}

package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Log:       DefaultLogConfig(),
		State:     DefaultStateConfig(),
		Crew:      DefaultCrewConfig(),
		Flow:      DefaultFlowConfig(),
		LLM:       DefaultLLMConfig(),
		Telemetry: DefaultTelemetryConfig(),
		Metrics:   DefaultMetricsConfig(),
		Auth:      AuthConfig{},
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		ReadTimeout:     30 * time.Second,
		// 0 表示不限制，/v1/events 是长连接
		WriteTimeout:    0,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultStateConfig 返回默认状态存储配置（单文件 SQLite）
func DefaultStateConfig() StateConfig {
	return StateConfig{
		Driver:      DriverSQLite,
		Path:        "crewflow.db",
		AutoMigrate: true,
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "crewflow",
			Name:            "crewflow",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     10,
			MinIdleConns: 2,
			KeyPrefix:    "crewflow:state:",
		},
		Mongo: MongoConfig{
			URI:        "mongodb://localhost:27017",
			Database:   "crewflow",
			Collection: "flow_states",
			Timeout:    10 * time.Second,
		},
	}
}

// DefaultCrewConfig 返回默认 Worker 限制
func DefaultCrewConfig() CrewConfig {
	return CrewConfig{
		MaxIterations:    20,
		MaxExecutionTime: 5 * time.Minute,
		MaxRetryLimit:    2,
		MaxInFlight:      1,
		RunRetention:     time.Hour,
	}
}

// DefaultFlowConfig 返回默认 Flow 配置
func DefaultFlowConfig() FlowConfig {
	return FlowConfig{
		Persist:         false,
		ConflictRetries: 3,
	}
}

// DefaultLLMConfig 返回默认 LLM 重试策略
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Timeout:      2 * time.Minute,
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
		Encoding:     "cl100k_base",
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "crewflow",
		SampleRate:   0.1,
	}
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   true,
		Namespace: "crewflow",
	}
}

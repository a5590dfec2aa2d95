package config

import "time"

// DefaultConfig returns the configuration used when nothing overrides it.
// Every section has working defaults: the engine runs out of the box with
// the memory store and no external services.
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Manager:   DefaultManagerConfig(),
		Executor:  DefaultExecutorConfig(),
		Planner:   DefaultPlannerConfig(),
		Oracle:    DefaultOracleConfig(),
		Store:     DefaultStoreConfig(),
		Redis:     DefaultRedisConfig(),
		Database:  DefaultDatabaseConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig returns default HTTP listener settings.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
	}
}

// DefaultManagerConfig returns default workflow manager settings.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		MaxConcurrent:   10,
		DefaultTimeout:  5 * time.Minute,
		CleanupAge:      time.Hour,
		CleanupInterval: 10 * time.Minute,
	}
}

// DefaultExecutorConfig returns default executor settings.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		Mode:        "parallel",
		MaxParallel: 3,
	}
}

// DefaultPlannerConfig returns default planner settings.
func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		Kind:           "llm",
		MaxDepth:       3,
		MaxRefinements: 3,
	}
}

// DefaultOracleConfig returns default completion-call settings.
func DefaultOracleConfig() OracleConfig {
	return OracleConfig{
		RateLimitRPS:   0,
		RateLimitBurst: 1,
		TokenEncoding:  "cl100k_base",
		TokenBudget:    0,
		CacheEnabled:   false,
		CacheTTL:       5 * time.Minute,
		Timeout:        2 * time.Minute,
	}
}

// DefaultStoreConfig returns the memory store backend.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Backend:   "memory",
		KeyPrefix: "taskflow",
	}
}

// DefaultRedisConfig returns default Redis settings.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultDatabaseConfig returns default SQL database settings.
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "postgres",
		Host:            "localhost",
		Port:            5432,
		User:            "taskflow",
		Password:        "",
		Name:            "taskflow",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultLogConfig returns default logger settings.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig returns telemetry disabled.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "taskflow",
		SampleRate:   1.0,
	}
}

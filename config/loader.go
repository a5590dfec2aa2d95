package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete engine configuration. Values load in three layers:
// defaults, then an optional YAML file, then TASKFLOW_* environment
// variables. Later layers override earlier ones field by field.
type Config struct {
	// Server configures the HTTP API and metrics listeners.
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Manager configures workflow lifecycle handling.
	Manager ManagerConfig `yaml:"manager" env:"MANAGER"`

	// Executor configures how task graphs run.
	Executor ExecutorConfig `yaml:"executor" env:"EXECUTOR"`

	// Planner selects and tunes the task planner.
	Planner PlannerConfig `yaml:"planner" env:"PLANNER"`

	// Oracle configures completion calls: rate limits, token budget, cache.
	Oracle OracleConfig `yaml:"oracle" env:"ORACLE"`

	// Store selects the run archive backend.
	Store StoreConfig `yaml:"store" env:"STORE"`

	// Redis is shared by the redis store backend and the oracle cache.
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Database backs the database store backend and migrations.
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Log configures the zap logger.
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry configures OpenTelemetry export.
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	// HTTPPort is the API listener port.
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// MetricsPort is the Prometheus listener port.
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// ReadTimeout bounds request reads.
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// WriteTimeout bounds response writes.
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// CORSAllowedOrigins lists origins allowed to call the API.
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
	// RateLimitRPS caps requests per second per client.
	RateLimitRPS int `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// RateLimitBurst is the rate limiter burst size.
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// APIKeys lists accepted API keys. Empty disables key auth.
	APIKeys []string `yaml:"api_keys" env:"API_KEYS"`
	// AllowQueryAPIKey also accepts the key via ?api_key= (for websockets).
	AllowQueryAPIKey bool `yaml:"allow_query_api_key" env:"ALLOW_QUERY_API_KEY"`
	// JWTSecret enables bearer-token auth when set.
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
	// TLSCertFile and TLSKeyFile enable TLS when both are set.
	TLSCertFile string `yaml:"tls_cert_file" env:"TLS_CERT_FILE"`
	TLSKeyFile  string `yaml:"tls_key_file" env:"TLS_KEY_FILE"`
}

// ManagerConfig holds workflow manager settings.
type ManagerConfig struct {
	// MaxConcurrent is the advisory ceiling on active workflows.
	MaxConcurrent int `yaml:"max_concurrent" env:"MAX_CONCURRENT"`
	// DefaultTimeout applies to workflows that do not set their own.
	DefaultTimeout time.Duration `yaml:"default_timeout" env:"DEFAULT_TIMEOUT"`
	// CleanupAge is how long finished workflows linger before cleanup.
	CleanupAge time.Duration `yaml:"cleanup_age" env:"CLEANUP_AGE"`
	// CleanupInterval is how often background cleanup runs. Zero disables it.
	CleanupInterval time.Duration `yaml:"cleanup_interval" env:"CLEANUP_INTERVAL"`
}

// ExecutorConfig holds task executor settings.
type ExecutorConfig struct {
	// Mode is one of: sequential, parallel, adaptive.
	Mode string `yaml:"mode" env:"MODE"`
	// MaxParallel caps concurrent tasks in parallel and adaptive modes.
	MaxParallel int `yaml:"max_parallel" env:"MAX_PARALLEL"`
}

// PlannerConfig holds planner settings.
type PlannerConfig struct {
	// Kind is one of: simple, llm, hierarchical.
	Kind string `yaml:"kind" env:"KIND"`
	// MaxDepth bounds hierarchical decomposition.
	MaxDepth int `yaml:"max_depth" env:"MAX_DEPTH"`
	// MaxRefinements bounds plan refinement rounds.
	MaxRefinements int `yaml:"max_refinements" env:"MAX_REFINEMENTS"`
}

// OracleConfig holds completion-call settings.
type OracleConfig struct {
	// RateLimitRPS caps oracle calls per second. Zero disables limiting.
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// RateLimitBurst is the limiter burst size.
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// TokenEncoding names the tiktoken encoding used for budgeting.
	TokenEncoding string `yaml:"token_encoding" env:"TOKEN_ENCODING"`
	// TokenBudget rejects prompts above this token count. Zero disables.
	TokenBudget int `yaml:"token_budget" env:"TOKEN_BUDGET"`
	// CacheEnabled turns on the Redis response cache.
	CacheEnabled bool `yaml:"cache_enabled" env:"CACHE_ENABLED"`
	// CacheTTL is how long cached responses live.
	CacheTTL time.Duration `yaml:"cache_ttl" env:"CACHE_TTL"`
	// Timeout bounds a single completion call.
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// StoreConfig selects the run archive backend.
type StoreConfig struct {
	// Backend is one of: memory, redis, database.
	Backend string `yaml:"backend" env:"BACKEND"`
	// KeyPrefix namespaces redis keys.
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	// Addr is host:port.
	Addr string `yaml:"addr" env:"ADDR"`
	// Password, empty for none.
	Password string `yaml:"password" env:"PASSWORD"`
	// DB is the logical database number.
	DB int `yaml:"db" env:"DB"`
	// PoolSize is the connection pool size.
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// MinIdleConns keeps this many idle connections warm.
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
}

// DatabaseConfig holds SQL database settings.
type DatabaseConfig struct {
	// Driver is one of: postgres, mysql, sqlite.
	Driver string `yaml:"driver" env:"DRIVER"`
	// Host of the database server.
	Host string `yaml:"host" env:"HOST"`
	// Port of the database server.
	Port int `yaml:"port" env:"PORT"`
	// User name.
	User string `yaml:"user" env:"USER"`
	// Password.
	Password string `yaml:"password" env:"PASSWORD"`
	// Name is the database name, or the file path for sqlite.
	Name string `yaml:"name" env:"NAME"`
	// SSLMode for postgres.
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// MaxOpenConns caps open connections.
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// MaxIdleConns caps idle connections.
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// ConnMaxLifetime recycles connections after this long.
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// LogConfig holds zap logger settings.
type LogConfig struct {
	// Level is one of: debug, info, warn, error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format is json or console.
	Format string `yaml:"format" env:"FORMAT"`
	// OutputPaths, e.g. stdout or file paths.
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// EnableCaller adds caller info to entries.
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// EnableStacktrace adds stacktraces on errors.
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	// Enabled turns tracing and metric export on.
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLPEndpoint is the collector address, host:port.
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// ServiceName tags exported data.
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// SampleRate is the trace sampling ratio in [0,1].
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// Loader builds a Config from defaults, an optional YAML file and
// environment variables.
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader returns a Loader with the TASKFLOW env prefix.
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "TASKFLOW",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath sets the YAML file to load. A missing file is not an error.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix overrides the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator adds a validator run after loading.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load resolves the configuration: defaults, then file, then environment,
// then validators.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv walks the struct recursively, joining env tags with "_"
// to form variable names like TASKFLOW_SERVER_HTTP_PORT.
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// time.Duration parses as a duration string, not an integer.
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// Comma-separated string slices only.
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// MustLoad loads configuration from the given path and panics on failure.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv loads configuration from defaults and environment only.
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate checks the configuration for values that cannot work. All
// problems are reported together.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, "invalid metrics port")
	}

	if c.Manager.MaxConcurrent <= 0 {
		errs = append(errs, "manager max_concurrent must be positive")
	}
	if c.Manager.DefaultTimeout <= 0 {
		errs = append(errs, "manager default_timeout must be positive")
	}

	switch c.Executor.Mode {
	case "sequential", "parallel", "adaptive":
	default:
		errs = append(errs, fmt.Sprintf("unknown executor mode: %s", c.Executor.Mode))
	}
	if c.Executor.MaxParallel <= 0 {
		errs = append(errs, "executor max_parallel must be positive")
	}

	switch c.Planner.Kind {
	case "simple", "llm", "hierarchical":
	default:
		errs = append(errs, fmt.Sprintf("unknown planner kind: %s", c.Planner.Kind))
	}

	if c.Oracle.RateLimitRPS < 0 {
		errs = append(errs, "oracle rate_limit_rps must not be negative")
	}
	if c.Oracle.TokenBudget < 0 {
		errs = append(errs, "oracle token_budget must not be negative")
	}

	switch c.Store.Backend {
	case "memory", "redis", "database":
	default:
		errs = append(errs, fmt.Sprintf("unknown store backend: %s", c.Store.Backend))
	}

	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, "telemetry sample_rate must be between 0 and 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN returns the connection string for the configured database driver.
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}

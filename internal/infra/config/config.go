package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "SESSIONGATE"

// Store drivers.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Admission lock backends.
const (
	LockBackendLocal = "local"
	LockBackendRedis = "redis"
)

type AppConfig struct {
	App       AppSettings       `mapstructure:"app"`
	Postgres  PostgresSettings  `mapstructure:"postgres"`
	Redis     RedisSettings     `mapstructure:"redis"`
	Kafka     KafkaSettings     `mapstructure:"kafka"`
	Auth      AuthSettings      `mapstructure:"auth"`
	Telemetry TelemetrySettings `mapstructure:"telemetry"`
	Session   SessionSettings   `mapstructure:"session"`
	Admission AdmissionSettings `mapstructure:"admission"`
	RateLimit RateLimitSettings `mapstructure:"rate_limit"`
	Store     StoreSettings     `mapstructure:"store"`
	CORS      CORSSettings      `mapstructure:"cors"`
}

type AppSettings struct {
	Name           string        `mapstructure:"name"`
	Env            string        `mapstructure:"env"`
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type PostgresSettings struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Database          string        `mapstructure:"database"`
	SSLMode           string        `mapstructure:"ssl_mode"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	AutoMigrate       bool          `mapstructure:"auto_migrate"`
}

// DSN renders the connection string understood by pgx.
func (p PostgresSettings) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User,
		p.Password,
		p.Host,
		p.Port,
		p.Database,
		p.SSLMode,
	)
}

// RedisSettings configures Redis connection and TLS. Redis is optional unless a feature requires it.
type RedisSettings struct {
	Enabled    bool   `mapstructure:"enabled"`
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	DB         int    `mapstructure:"db"`
	Password   string `mapstructure:"password"`
	TLSEnabled bool   `mapstructure:"tls_enabled"`
	KeyPrefix  string `mapstructure:"key_prefix"`
}

// KafkaSettings configures the lifecycle event producer.
type KafkaSettings struct {
	Enabled     bool     `mapstructure:"enabled"`
	Brokers     []string `mapstructure:"brokers"`
	TopicPrefix string   `mapstructure:"topic_prefix"`
}

// AuthSettings configures bearer token verification.
type AuthSettings struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
	Audience  string `mapstructure:"audience"`
}

type TelemetrySettings struct {
	TracingEnabled bool    `mapstructure:"tracing_enabled"`
	OTLPEndpoint   string  `mapstructure:"otlp_endpoint"`
	ServiceName    string  `mapstructure:"service_name"`
	SamplingRate   float64 `mapstructure:"sampling_rate"`
}

// SessionSettings configures session liveness.
type SessionSettings struct {
	InactivityTimeout time.Duration `mapstructure:"inactivity_timeout"`
}

// AdmissionSettings selects and tunes the per-account admission lock.
type AdmissionSettings struct {
	LockBackend string        `mapstructure:"lock_backend"`
	LockTTL     time.Duration `mapstructure:"lock_ttl"`
	LockWait    time.Duration `mapstructure:"lock_wait"`
}

// RateLimitSettings configures the session start rate limit.
type RateLimitSettings struct {
	Enabled                 bool          `mapstructure:"enabled"`
	WindowDuration          time.Duration `mapstructure:"window_duration"`
	StartSessionMaxAttempts int           `mapstructure:"start_session_max_attempts"`
}

// StoreSettings selects the session store driver. Accounts seed the memory driver,
// which has no other way to learn about tenants.
type StoreSettings struct {
	Driver   string        `mapstructure:"driver"`
	Accounts []AccountSeed `mapstructure:"accounts"`
}

// AccountSeed describes an account preloaded into the memory store.
type AccountSeed struct {
	ID                 string `mapstructure:"id"`
	Name               string `mapstructure:"name"`
	MaxConcurrentUsers *int   `mapstructure:"max_concurrent_users"`
}

// CORSSettings lists origins allowed to call the API from a browser.
type CORSSettings struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Load reads configuration from defaults, the optional config file and SESSIONGATE_* environment variables.
func Load(configFile string) (*AppConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix(envPrefix)

	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	if err := bindEnvs(v, []string{
		"app.name",
		"app.env",
		"app.host",
		"app.port",
		"app.request_timeout",
		"postgres.host",
		"postgres.port",
		"postgres.user",
		"postgres.password",
		"postgres.database",
		"postgres.ssl_mode",
		"postgres.max_conns",
		"postgres.min_conns",
		"postgres.max_conn_lifetime",
		"postgres.max_conn_idle_time",
		"postgres.health_check_period",
		"postgres.auto_migrate",
		"redis.enabled",
		"redis.host",
		"redis.port",
		"redis.db",
		"redis.password",
		"redis.tls_enabled",
		"redis.key_prefix",
		"kafka.enabled",
		"kafka.brokers",
		"kafka.topic_prefix",
		"auth.jwt_secret",
		"auth.issuer",
		"auth.audience",
		"telemetry.tracing_enabled",
		"telemetry.otlp_endpoint",
		"telemetry.service_name",
		"telemetry.sampling_rate",
		"session.inactivity_timeout",
		"admission.lock_backend",
		"admission.lock_ttl",
		"admission.lock_wait",
		"rate_limit.enabled",
		"rate_limit.window_duration",
		"rate_limit.start_session_max_attempts",
		"store.driver",
		"cors.allowed_origins",
	}); err != nil {
		return nil, err
	}

	v.AutomaticEnv()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks cross-field constraints that defaults cannot express.
func (c *AppConfig) Validate() error {
	switch c.Store.Driver {
	case StoreDriverPostgres, StoreDriverMemory:
	default:
		return fmt.Errorf("unsupported store driver %q", c.Store.Driver)
	}

	switch c.Admission.LockBackend {
	case LockBackendLocal:
	case LockBackendRedis:
		if !c.Redis.Enabled {
			return fmt.Errorf("admission lock backend %q requires redis.enabled", LockBackendRedis)
		}
		// the lock expires on its own, so an admission must be cut off by the request deadline first
		if c.App.RequestTimeout <= 0 || c.Admission.LockTTL <= c.App.RequestTimeout {
			return fmt.Errorf("admission.lock_ttl (%s) must exceed a positive app.request_timeout (%s)",
				c.Admission.LockTTL, c.App.RequestTimeout)
		}
	default:
		return fmt.Errorf("unsupported admission lock backend %q", c.Admission.LockBackend)
	}

	if c.RateLimit.Enabled && !c.Redis.Enabled {
		return fmt.Errorf("rate limiting requires redis.enabled")
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "session-gate")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.request_timeout", "10s")

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "sessiongate")
	v.SetDefault("postgres.password", "sessiongate_password")
	v.SetDefault("postgres.database", "sessiongate")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.max_conn_lifetime", "60m")
	v.SetDefault("postgres.max_conn_idle_time", "15m")
	v.SetDefault("postgres.health_check_period", "30s")
	v.SetDefault("postgres.auto_migrate", false)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.tls_enabled", false)
	v.SetDefault("redis.key_prefix", "sessiongate")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic_prefix", "sessiongate")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.audience", "")

	v.SetDefault("telemetry.tracing_enabled", false)
	v.SetDefault("telemetry.otlp_endpoint", "http://localhost:4318")
	v.SetDefault("telemetry.service_name", "session-gate")
	v.SetDefault("telemetry.sampling_rate", 1.0)

	v.SetDefault("session.inactivity_timeout", "30m")

	v.SetDefault("admission.lock_backend", LockBackendLocal)
	v.SetDefault("admission.lock_ttl", "15s")
	v.SetDefault("admission.lock_wait", "2s")

	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.window_duration", "1m")
	v.SetDefault("rate_limit.start_session_max_attempts", 10)

	v.SetDefault("store.driver", StoreDriverPostgres)

	v.SetDefault("cors.allowed_origins", []string{"*"})
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envPrefix+"_"+envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}

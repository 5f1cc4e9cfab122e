// Package config loads and validates allotment checker configuration via Viper.
package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/JakeFAU/ipo-allotment-checker/internal/allotment"
)

// Rate governor backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server      ServerConfig                 `mapstructure:"server"`
	Auth        AuthConfig                   `mapstructure:"auth"`
	Fetch       FetchConfig                  `mapstructure:"fetch"`
	Upstream    UpstreamConfig               `mapstructure:"upstream"`
	RateLimit   RateLimitConfig              `mapstructure:"ratelimit"`
	Redis       RedisConfig                  `mapstructure:"redis"`
	Headless    HeadlessConfig               `mapstructure:"headless"`
	Database    DatabaseConfig               `mapstructure:"database"`
	PubSub      PubSubConfig                 `mapstructure:"pubsub"`
	Kafka       KafkaConfig                  `mapstructure:"kafka"`
	Logging     LoggingConfig                `mapstructure:"logging"`
	Tracing     TracingConfig                `mapstructure:"tracing"`
	Application ApplicationConfig            `mapstructure:"application"`
	Registrars  []allotment.RegistrarProfile `mapstructure:"registrars"`
	IPOs        []allotment.IPO              `mapstructure:"ipos"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// AuthConfig guards the admin endpoints.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// FetchConfig controls the single outbound registrar request.
type FetchConfig struct {
	TimeoutSeconds int      `mapstructure:"timeout_seconds"`
	UserAgents     []string `mapstructure:"user_agents"`
	MaxBodyBytes   int      `mapstructure:"max_body_bytes"`
}

// UpstreamConfig paces requests per registrar host. RPS <= 0 disables pacing.
type UpstreamConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// RateLimitConfig configures the per-client rate governor.
type RateLimitConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Backend       string `mapstructure:"backend"`
	WindowSeconds int    `mapstructure:"window_seconds"`
	MaxRequests   int    `mapstructure:"max_requests"`
	SweepSeconds  int    `mapstructure:"sweep_seconds"`
	KeyPrefix     string `mapstructure:"key_prefix"`
}

// RedisConfig locates the shared rate governor store.
type RedisConfig struct {
	URL         string        `mapstructure:"url"`
	PoolSize    int           `mapstructure:"pool_size"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// HeadlessConfig configures the headless fetcher used by render: true registrars.
type HeadlessConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	MaxParallel    int  `mapstructure:"max_parallel"`
	NavTimeoutSec  int  `mapstructure:"nav_timeout_seconds"`
	SettleDelayMs  int  `mapstructure:"settle_delay_ms"`
	ReadyTimeoutMs int  `mapstructure:"ready_timeout_ms"`
}

// DatabaseConfig controls the Postgres record store. An empty DSN selects the memory store.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	ChecksTable     string        `mapstructure:"checks_table"`
	// EnsureSchema creates missing tables at startup.
	EnsureSchema bool `mapstructure:"ensure_schema"`
}

// PubSubConfig holds metadata for check event notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// KafkaConfig selects the Kafka publisher when brokers are listed and Pub/Sub is not configured.
type KafkaConfig struct {
	Brokers  []string `mapstructure:"brokers"`
	Topic    string   `mapstructure:"topic"`
	ClientID string   `mapstructure:"client_id"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
	// ClientHashSalt is mixed into hashed client addresses before they are logged.
	ClientHashSalt string `mapstructure:"client_hash_salt"`
}

// TracingConfig controls OpenTelemetry sampling.
type TracingConfig struct {
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// ApplicationConfig names the running service.
type ApplicationConfig struct {
	ServiceName string `mapstructure:"service_name"`
	Version     string `mapstructure:"version"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ALLOTMENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Cloud Run injects PORT.
	if err := v.BindEnv("server.port", "ALLOTMENT_SERVER_PORT", "PORT"); err != nil {
		return Config{}, fmt.Errorf("bind port env: %w", err)
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		stringToDateHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 30)
	v.SetDefault("fetch.timeout_seconds", 10)
	v.SetDefault("fetch.max_body_bytes", 2<<20)
	v.SetDefault("upstream.rps", 0)
	v.SetDefault("upstream.burst", 1)
	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.backend", BackendMemory)
	v.SetDefault("ratelimit.window_seconds", 60)
	v.SetDefault("ratelimit.max_requests", 10)
	v.SetDefault("ratelimit.sweep_seconds", 300)
	v.SetDefault("ratelimit.key_prefix", "allotment:ratelimit:")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.settle_delay_ms", 500)
	v.SetDefault("headless.ready_timeout_ms", 5000)
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("database.max_conn_lifetime", "30m")
	v.SetDefault("database.checks_table", "allotment_checks")
	v.SetDefault("database.ensure_schema", false)
	v.SetDefault("kafka.topic", "allotment-checks")
	v.SetDefault("kafka.client_id", "ipo-allotment-checker")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("tracing.sample_ratio", 1.0)
	v.SetDefault("application.service_name", "ipo-allotment-checker")
	v.SetDefault("application.version", "dev")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.WindowSeconds <= 0 {
			return fmt.Errorf("ratelimit.window_seconds must be > 0")
		}
		if c.RateLimit.MaxRequests <= 0 {
			return fmt.Errorf("ratelimit.max_requests must be > 0")
		}
		switch c.RateLimit.Backend {
		case BackendMemory:
		case BackendRedis:
			if c.Redis.URL == "" {
				return fmt.Errorf("redis.url must be set when ratelimit.backend is redis")
			}
		default:
			return fmt.Errorf("ratelimit.backend must be %q or %q, got %q", BackendMemory, BackendRedis, c.RateLimit.Backend)
		}
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return fmt.Errorf("kafka.topic must be set when kafka.brokers is set")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0, 1]")
	}
	if err := validateRegistrars(c.Registrars); err != nil {
		return err
	}
	return validateIPOs(c.IPOs)
}

func validateRegistrars(registrars []allotment.RegistrarProfile) error {
	seen := make(map[string]struct{}, len(registrars))
	for i, r := range registrars {
		if r.Slug == "" {
			return fmt.Errorf("registrars[%d].slug must be set", i)
		}
		if _, dup := seen[r.Slug]; dup {
			return fmt.Errorf("registrars[%d].slug %q is duplicated", i, r.Slug)
		}
		seen[r.Slug] = struct{}{}
		if !r.ResponseFormat.Valid() {
			return fmt.Errorf("registrars[%d].response_format must be html or json, got %q", i, r.ResponseFormat)
		}
		if r.EndpointPattern == "" {
			return fmt.Errorf("registrars[%d].endpoint_pattern must be set", i)
		}
		for _, p := range r.RequiredParams {
			switch p {
			case allotment.ParamPAN, allotment.ParamAppNo, allotment.ParamDPID, allotment.ParamClientID:
			default:
				return fmt.Errorf("registrars[%d].required_params: unknown param %q", i, p)
			}
		}
	}
	return nil
}

func validateIPOs(ipos []allotment.IPO) error {
	seen := make(map[string]struct{}, len(ipos))
	for i, ipo := range ipos {
		if ipo.Slug == "" {
			return fmt.Errorf("ipos[%d].slug must be set", i)
		}
		if _, dup := seen[ipo.Slug]; dup {
			return fmt.Errorf("ipos[%d].slug %q is duplicated", i, ipo.Slug)
		}
		seen[ipo.Slug] = struct{}{}
	}
	return nil
}

// FetchTimeout is the hard bound on one registrar request.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// RateWindow is the sliding window length of the rate governor.
func (c Config) RateWindow() time.Duration {
	return time.Duration(c.RateLimit.WindowSeconds) * time.Second
}

// SweepInterval is how often idle rate windows are dropped.
func (c Config) SweepInterval() time.Duration {
	return time.Duration(c.RateLimit.SweepSeconds) * time.Second
}

// RequestTimeout bounds one inbound HTTP request.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// stringToDateHook decodes YYYY-MM-DD or RFC 3339 strings into time.Time.
func stringToDateHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to != reflect.TypeOf(time.Time{}) {
			return data, nil
		}
		raw := strings.TrimSpace(data.(string))
		if raw == "" {
			return time.Time{}, nil
		}
		for _, layout := range []string{time.DateOnly, time.RFC3339} {
			if t, err := time.Parse(layout, raw); err == nil {
				return t, nil
			}
		}
		return nil, fmt.Errorf("parse date %q: expected YYYY-MM-DD or RFC 3339", raw)
	}
}

package config

import (
	"time"

	"github.com/vietddude/voicebatch/internal/batch/dispatch"
	"github.com/vietddude/voicebatch/internal/core/domain"
	"github.com/vietddude/voicebatch/internal/infra/natsbus"
	redisclient "github.com/vietddude/voicebatch/internal/infra/redis"
	"github.com/vietddude/voicebatch/internal/infra/sink"
	"github.com/vietddude/voicebatch/internal/infra/storage/postgres"
)

// Provider kinds.
const (
	KindHTTP   = "http"
	KindOpenAI = "openai"
	KindGRPC   = "grpc"
)

// Output kinds.
const (
	OutputFile  = "file"
	OutputNATS  = "nats"
	OutputDrive = "drive"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server    ServerConfig       `yaml:"server"    toml:"server"`
	Logging   LoggingConfig      `yaml:"logging"   toml:"logging"`
	Engine    EngineSettings     `yaml:"engine"    toml:"engine"`
	Breaker   BreakerSettings    `yaml:"breaker"   toml:"breaker"`
	Cache     CacheSettings      `yaml:"cache"     toml:"cache"`
	Metrics   MetricsSettings    `yaml:"metrics"   toml:"metrics"`
	Input     InputConfig        `yaml:"input"     toml:"input"`
	Providers []ProviderConfig   `yaml:"providers" toml:"providers"`
	Output    OutputConfig       `yaml:"output"    toml:"output"`
	Redis     redisclient.Config `yaml:"redis"     toml:"redis"`
	Database  postgres.Config    `yaml:"database"  toml:"database"`
	NATS      natsbus.Config     `yaml:"nats"      toml:"nats"`
}

// ServerConfig holds the status and API server settings. A zero port disables a listener.
type ServerConfig struct {
	Port     int `yaml:"port"      toml:"port"`      // /health, /metrics
	GRPCPort int `yaml:"grpc_port" toml:"grpc_port"` // grpc.health.v1
	APIPort  int `yaml:"api_port"  toml:"api_port"`  // batch submission API (serve)
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"  toml:"level"`  // debug, info, warn, error
	Format string `yaml:"format" toml:"format"` // json, text
}

// EngineSettings holds dispatcher settings. Durations use time.ParseDuration syntax.
type EngineSettings struct {
	MaxConcurrency    int     `yaml:"max_concurrency"     toml:"max_concurrency"`
	CPUMultiplier     int     `yaml:"cpu_multiplier"      toml:"cpu_multiplier"`
	MaxAttempts       int     `yaml:"max_attempts"        toml:"max_attempts"`
	BaseDelay         string  `yaml:"base_delay"          toml:"base_delay"`
	MaxDelay          string  `yaml:"max_delay"           toml:"max_delay"`
	JitterFraction    float64 `yaml:"jitter_fraction"     toml:"jitter_fraction"`
	BreakerOpenPolicy string  `yaml:"breaker_open_policy" toml:"breaker_open_policy"` // skip, fail

	baseDelay time.Duration
	maxDelay  time.Duration
}

// BreakerSettings holds circuit breaker settings.
type BreakerSettings struct {
	FailureThreshold int    `yaml:"failure_threshold" toml:"failure_threshold"`
	Cooldown         string `yaml:"cooldown"          toml:"cooldown"`
	MaxCooldown      string `yaml:"max_cooldown"      toml:"max_cooldown"`

	cooldown    time.Duration
	maxCooldown time.Duration
}

// CacheSettings holds response cache settings. Capacity 0 disables the cache.
type CacheSettings struct {
	Capacity      int    `yaml:"capacity"       toml:"capacity"`
	TTL           string `yaml:"ttl"            toml:"ttl"`
	SweepInterval string `yaml:"sweep_interval" toml:"sweep_interval"`
	Shards        int    `yaml:"shards"         toml:"shards"`
	Redis         bool   `yaml:"redis"          toml:"redis"` // share entries through redis

	ttl           time.Duration
	sweepInterval time.Duration
}

// MetricsSettings holds recommendation thresholds.
type MetricsSettings struct {
	SlowThreshold        string  `yaml:"slow_threshold"         toml:"slow_threshold"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" toml:"failure_rate_threshold"`
	MinCacheHitRate      float64 `yaml:"min_cache_hit_rate"     toml:"min_cache_hit_rate"`

	slowThreshold time.Duration
}

// InputConfig holds the values applied to rows that leave them empty.
type InputConfig struct {
	DefaultProvider string              `yaml:"default_provider" toml:"default_provider"`
	Voice           domain.VoiceOptions `yaml:"voice"            toml:"voice"`
}

// ProviderConfig holds settings for a synthesis provider.
type ProviderConfig struct {
	Name              string  `yaml:"name"                toml:"name"`
	Kind              string  `yaml:"kind"                toml:"kind"` // http, openai, grpc
	URL               string  `yaml:"url"                 toml:"url"`
	APIKey            string  `yaml:"api_key"             toml:"api_key"`
	Model             string  `yaml:"model"               toml:"model"`
	Timeout           string  `yaml:"timeout"             toml:"timeout"`
	RequestsPerSecond float64 `yaml:"requests_per_second" toml:"requests_per_second"` // 0 = unlimited
	Burst             int     `yaml:"burst"               toml:"burst"`

	timeout time.Duration
}

// TimeoutDuration returns the parsed call timeout.
func (p ProviderConfig) TimeoutDuration() time.Duration {
	return p.timeout
}

// OutputConfig selects where audio and reports go.
type OutputConfig struct {
	Kind       string           `yaml:"kind"        toml:"kind"` // file, nats, drive
	Dir        string           `yaml:"dir"         toml:"dir"`
	ReportPath string           `yaml:"report_path" toml:"report_path"`
	Drive      sink.DriveConfig `yaml:"drive"       toml:"drive"`
}

// UsesRedis reports whether any component needs the redis client.
func (c *AppConfig) UsesRedis() bool {
	return c.Redis.URL != ""
}

// EngineConfig resolves the engine section into dispatcher settings.
func (c *AppConfig) EngineConfig() dispatch.Config {
	cfg := dispatch.DefaultConfig
	cfg.MaxConcurrency = c.Engine.MaxConcurrency
	cfg.CPUMultiplier = c.Engine.CPUMultiplier
	cfg.MaxAttempts = c.Engine.MaxAttempts
	cfg.Retry.BaseDelay = c.Engine.baseDelay
	cfg.Retry.MaxDelay = c.Engine.maxDelay
	cfg.Retry.JitterFraction = c.Engine.JitterFraction
	cfg.BreakerOpenPolicy = dispatch.BreakerOpenPolicy(c.Engine.BreakerOpenPolicy)
	return cfg
}

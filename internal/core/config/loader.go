package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v2"

	"github.com/vietddude/voicebatch/internal/batch/cache"
	"github.com/vietddude/voicebatch/internal/batch/dispatch"
	"github.com/vietddude/voicebatch/internal/batch/metrics"
	"github.com/vietddude/voicebatch/internal/infra/synth/routing"
)

// Load reads configuration from a YAML or TOML file, chosen by extension.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data, filepath.Ext(path))
}

// Parse decodes configuration content. ext selects the format (".toml" or YAML otherwise).
func Parse(data []byte, ext string) (*AppConfig, error) {
	var cfg AppConfig

	// Expand environment variables in the content
	expanded := []byte(os.ExpandEnv(string(data)))

	switch strings.ToLower(ext) {
	case ".toml":
		if err := toml.Unmarshal(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	default:
		if err := yaml.Unmarshal(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyDefaults()
	if err := cfg.resolve(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *AppConfig) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	d := dispatch.DefaultConfig
	if c.Engine.MaxConcurrency == 0 {
		c.Engine.MaxConcurrency = d.MaxConcurrency
	}
	if c.Engine.CPUMultiplier == 0 {
		c.Engine.CPUMultiplier = d.CPUMultiplier
	}
	if c.Engine.MaxAttempts == 0 {
		c.Engine.MaxAttempts = d.MaxAttempts
	}
	if c.Engine.BaseDelay == "" {
		c.Engine.BaseDelay = d.Retry.BaseDelay.String()
	}
	if c.Engine.MaxDelay == "" {
		c.Engine.MaxDelay = d.Retry.MaxDelay.String()
	}
	if c.Engine.JitterFraction == 0 {
		c.Engine.JitterFraction = d.Retry.JitterFraction
	}
	if c.Engine.BreakerOpenPolicy == "" {
		c.Engine.BreakerOpenPolicy = string(d.BreakerOpenPolicy)
	}

	b := routing.DefaultBreakerConfig
	if c.Breaker.FailureThreshold == 0 {
		c.Breaker.FailureThreshold = b.FailureThreshold
	}
	if c.Breaker.Cooldown == "" {
		c.Breaker.Cooldown = b.Cooldown.String()
	}
	if c.Breaker.MaxCooldown == "" {
		c.Breaker.MaxCooldown = b.MaxCooldown.String()
	}

	if c.Cache.TTL == "" {
		c.Cache.TTL = cache.DefaultTTL.String()
	}
	if c.Cache.SweepInterval == "" {
		c.Cache.SweepInterval = "1m"
	}

	m := metrics.DefaultThresholds
	if c.Metrics.SlowThreshold == "" {
		c.Metrics.SlowThreshold = m.SlowThreshold.String()
	}
	if c.Metrics.FailureRateThreshold == 0 {
		c.Metrics.FailureRateThreshold = m.FailureRateThreshold
	}

	for i := range c.Providers {
		if c.Providers[i].Kind == "" {
			c.Providers[i].Kind = KindHTTP
		}
		if c.Providers[i].Timeout == "" {
			c.Providers[i].Timeout = "60s"
		}
	}
	if c.Input.DefaultProvider == "" && len(c.Providers) > 0 {
		c.Input.DefaultProvider = c.Providers[0].Name
	}

	if c.Output.Kind == "" {
		c.Output.Kind = OutputFile
	}
	if c.Output.Dir == "" {
		c.Output.Dir = "output"
	}
	if c.NATS.Bucket == "" {
		c.NATS.Bucket = "voicebatch-audio"
	}
	if c.NATS.ProgressSubject == "" {
		c.NATS.ProgressSubject = "voicebatch.progress"
	}
}

func (c *AppConfig) resolve() error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"engine.base_delay", c.Engine.BaseDelay, &c.Engine.baseDelay},
		{"engine.max_delay", c.Engine.MaxDelay, &c.Engine.maxDelay},
		{"breaker.cooldown", c.Breaker.Cooldown, &c.Breaker.cooldown},
		{"breaker.max_cooldown", c.Breaker.MaxCooldown, &c.Breaker.maxCooldown},
		{"cache.ttl", c.Cache.TTL, &c.Cache.ttl},
		{"cache.sweep_interval", c.Cache.SweepInterval, &c.Cache.sweepInterval},
		{"metrics.slow_threshold", c.Metrics.SlowThreshold, &c.Metrics.slowThreshold},
	}
	for _, f := range fields {
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	for i := range c.Providers {
		p := &c.Providers[i]
		d, err := time.ParseDuration(p.Timeout)
		if err != nil {
			return fmt.Errorf("invalid timeout for provider %s: %w", p.Name, err)
		}
		p.timeout = d
	}
	return nil
}

func (c *AppConfig) validate() error {
	if err := c.EngineConfig().Validate(); err != nil {
		return err
	}

	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("provider name is required")
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate provider %q", p.Name)
		}
		seen[p.Name] = true

		switch p.Kind {
		case KindHTTP, KindOpenAI, KindGRPC:
		default:
			return fmt.Errorf("provider %s: unknown kind %q", p.Name, p.Kind)
		}
		if p.URL == "" {
			return fmt.Errorf("provider %s: url is required", p.Name)
		}
	}
	if c.Input.DefaultProvider != "" && len(c.Providers) > 0 && !seen[c.Input.DefaultProvider] {
		return fmt.Errorf("default provider %q is not configured", c.Input.DefaultProvider)
	}

	switch c.Output.Kind {
	case OutputFile:
	case OutputNATS:
		if c.NATS.URL == "" {
			return fmt.Errorf("output kind nats requires nats.url")
		}
	case OutputDrive:
		if c.Output.Drive.FolderID == "" {
			return fmt.Errorf("output kind drive requires output.drive.folder_id")
		}
	default:
		return fmt.Errorf("unknown output kind %q", c.Output.Kind)
	}

	if c.Cache.Redis && c.Redis.URL == "" {
		return fmt.Errorf("cache.redis requires redis.url")
	}
	return nil
}

// BreakerConfig returns the circuit breaker settings.
func (c *AppConfig) BreakerConfig() routing.BreakerConfig {
	return routing.BreakerConfig{
		FailureThreshold: c.Breaker.FailureThreshold,
		Cooldown:         c.Breaker.cooldown,
		MaxCooldown:      c.Breaker.maxCooldown,
	}
}

// CacheConfig returns the response cache settings.
func (c *AppConfig) CacheConfig() cache.Config {
	return cache.Config{
		Capacity: c.Cache.Capacity,
		TTL:      c.Cache.ttl,
		Shards:   c.Cache.Shards,
	}
}

// SweepInterval returns how often expired cache entries are purged.
func (c *AppConfig) SweepInterval() time.Duration {
	return c.Cache.sweepInterval
}

// Thresholds returns the recommendation thresholds.
func (c *AppConfig) Thresholds() metrics.Thresholds {
	return metrics.Thresholds{
		SlowThreshold:        c.Metrics.slowThreshold,
		FailureRateThreshold: c.Metrics.FailureRateThreshold,
		MinCacheHitRate:      c.Metrics.MinCacheHitRate,
	}
}

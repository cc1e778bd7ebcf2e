// Package config provides configuration loading and management for the application.
//
// Values are layered: built-in defaults, then an optional YAML file, then
// environment variables prefixed with MDH_. The result is validated before use.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/yourorg/marketdata-hub/internal/fetch"
	"github.com/yourorg/marketdata-hub/internal/model"
	"github.com/yourorg/marketdata-hub/internal/reliability"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "MDH"

// Provider kinds
const (
	KindTushare = "tushare"
	KindAKTools = "aktools"
	KindGeneric = "generic"
	KindStatic  = "static"
)

// Config holds all application configuration
type Config struct {
	// Enabled=false serves from cache only
	Enabled bool `yaml:"enabled" envconfig:"ENABLED"`

	FetchTimeout   time.Duration `yaml:"fetch_timeout" envconfig:"FETCH_TIMEOUT" validate:"gt=0"`
	WorkerPoolSize int           `yaml:"worker_pool_size" envconfig:"WORKER_POOL_SIZE" validate:"min=1,max=64"`

	Retry       RetryConfig       `yaml:"retry" envconfig:"RETRY"`
	Cache       CacheConfig       `yaml:"cache" envconfig:"CACHE"`
	Calendar    CalendarConfig    `yaml:"calendar" envconfig:"CALENDAR"`
	Reliability ReliabilityConfig `yaml:"reliability" envconfig:"RELIABILITY"`
	Scheduler   SchedulerConfig   `yaml:"scheduler" envconfig:"SCHEDULER"`

	// ProviderPriority breaks ties between equally scored providers. Lower first.
	ProviderPriority map[string]int   `yaml:"provider_priority" envconfig:"PROVIDER_PRIORITY"`
	Providers        []ProviderConfig `yaml:"providers" ignored:"true" validate:"dive"`

	LogLevel     string `yaml:"log_level" envconfig:"LOG_LEVEL" validate:"oneof=trace debug info warn warning error"`
	LogFormat    string `yaml:"log_format" envconfig:"LOG_FORMAT" validate:"oneof=text json"`
	Port         int    `yaml:"port" envconfig:"PORT" validate:"min=1,max=65535"`
	OtelEndpoint string `yaml:"otel_endpoint" envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// RetryConfig bounds attempts against one provider.
type RetryConfig struct {
	MaxRetries        int           `yaml:"max_retries" envconfig:"MAX_RETRIES" validate:"min=0,max=10"`
	Delay             time.Duration `yaml:"delay" envconfig:"DELAY" validate:"gte=0"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier" envconfig:"BACKOFF_MULTIPLIER" validate:"gte=1"`
	MaxDelay          time.Duration `yaml:"max_delay" envconfig:"MAX_DELAY" validate:"gte=0"`
}

// CacheConfig holds per-category TTLs, keyed by category name.
type CacheConfig struct {
	BaseTTL      map[string]time.Duration `yaml:"base_ttl" envconfig:"BASE_TTL"`
	SensitiveTTL map[string]time.Duration `yaml:"sensitive_ttl" envconfig:"SENSITIVE_TTL"`
	MaxEntries   int                      `yaml:"max_entries" envconfig:"MAX_ENTRIES" validate:"gte=0"`
	HitWindow    int                      `yaml:"hit_window" envconfig:"HIT_WINDOW" validate:"gte=1"`
}

// CalendarConfig configures report deadlines.
type CalendarConfig struct {
	Timezone            string `yaml:"timezone" envconfig:"TIMEZONE" validate:"required"`
	ReleaseHour         int    `yaml:"release_hour" envconfig:"RELEASE_HOUR" validate:"min=0,max=23"`
	SensitiveWindowDays int    `yaml:"sensitive_window_days" envconfig:"SENSITIVE_WINDOW_DAYS" validate:"min=0,max=31"`
}

// ReliabilityConfig mirrors reliability.Options.
type ReliabilityConfig struct {
	FailureThreshold int           `yaml:"failure_threshold" envconfig:"FAILURE_THRESHOLD" validate:"min=1"`
	ScoreFloor       float64       `yaml:"score_floor" envconfig:"SCORE_FLOOR" validate:"min=0,max=100"`
	FailurePenalty   float64       `yaml:"failure_penalty" envconfig:"FAILURE_PENALTY" validate:"gte=0"`
	SuccessReward    float64       `yaml:"success_reward" envconfig:"SUCCESS_REWARD" validate:"gte=0"`
	RecoveryQuiet    time.Duration `yaml:"recovery_quiet" envconfig:"RECOVERY_QUIET" validate:"gte=0"`
	ProbeInterval    time.Duration `yaml:"probe_interval" envconfig:"PROBE_INTERVAL" validate:"gte=0"`
	TrustedScore     float64       `yaml:"trusted_score" envconfig:"TRUSTED_SCORE" validate:"min=0,max=100"`
	StandardScore    float64       `yaml:"standard_score" envconfig:"STANDARD_SCORE" validate:"min=0,max=100"`
	FallbackScore    float64       `yaml:"fallback_score" envconfig:"FALLBACK_SCORE" validate:"min=0,max=100"`
}

// SchedulerConfig configures background jobs. Cron specs include seconds.
type SchedulerConfig struct {
	Enabled          bool     `yaml:"enabled" envconfig:"ENABLED"`
	WarmupCron       string   `yaml:"warmup_cron" envconfig:"WARMUP_CRON"`
	ReleaseCron      string   `yaml:"release_cron" envconfig:"RELEASE_CRON"`
	Watchlist        []string `yaml:"watchlist" envconfig:"WATCHLIST"`
	WarmupCategories []string `yaml:"warmup_categories" envconfig:"WARMUP_CATEGORIES"`
}

// ProviderConfig describes one upstream.
type ProviderConfig struct {
	ID   string `yaml:"id" validate:"required"`
	Kind string `yaml:"kind" validate:"required,oneof=tushare aktools generic static"`
	Tier string `yaml:"tier"`

	BaseURL string `yaml:"base_url" validate:"omitempty,url"`
	Token   string `yaml:"token"`
	// TokenEnv names an environment variable holding the token
	TokenEnv string `yaml:"token_env"`

	// Fixtures is a YAML file of canned payloads for the static kind
	Fixtures string `yaml:"fixtures"`

	RateLimit float64       `yaml:"rate_limit" validate:"gte=0"`
	Burst     int           `yaml:"burst" validate:"gte=0"`
	Timeout   time.Duration `yaml:"timeout" validate:"gte=0"`
}

// Default returns the built-in configuration.
func Default() *Config {
	rel := reliability.DefaultOptions()
	retry := fetch.DefaultRetryPolicy()
	return &Config{
		Enabled:        true,
		FetchTimeout:   10 * time.Second,
		WorkerPoolSize: 4,
		Retry: RetryConfig{
			MaxRetries:        retry.MaxRetries,
			Delay:             retry.InitialDelay,
			BackoffMultiplier: retry.Multiplier,
			MaxDelay:          retry.MaxDelay,
		},
		Cache: CacheConfig{
			BaseTTL: map[string]time.Duration{
				"quote":     time.Minute,
				"technical": 5 * time.Minute,
				"volume":    time.Minute,
				"financial": 7 * 24 * time.Hour,
				"valuation": 24 * time.Hour,
			},
			SensitiveTTL: map[string]time.Duration{
				"financial": time.Hour,
				"valuation": time.Hour,
			},
			MaxEntries: 10000,
			HitWindow:  1000,
		},
		Calendar: CalendarConfig{
			Timezone:            "Asia/Shanghai",
			ReleaseHour:         17,
			SensitiveWindowDays: 3,
		},
		Reliability: ReliabilityConfig{
			FailureThreshold: rel.FailureThreshold,
			ScoreFloor:       rel.ScoreFloor,
			FailurePenalty:   rel.FailurePenalty,
			SuccessReward:    rel.SuccessReward,
			RecoveryQuiet:    rel.RecoveryQuiet,
			ProbeInterval:    rel.ProbeInterval,
			TrustedScore:     rel.DefaultScores[reliability.TierTrusted],
			StandardScore:    rel.DefaultScores[reliability.TierStandard],
			FallbackScore:    rel.DefaultScores[reliability.TierFallback],
		},
		Scheduler: SchedulerConfig{
			Enabled:          false,
			WarmupCron:       "0 */5 9-15 * * MON-FRI",
			ReleaseCron:      "0 0 17 * * *",
			WarmupCategories: []string{"quote"},
		},
		ProviderPriority: map[string]int{},
		LogLevel:         "info",
		LogFormat:        "text",
		Port:             8080,
	}
}

// Load builds the configuration from defaults, the YAML file at path (skipped
// when empty) and the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("processing environment: %w", err)
	}

	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		if p.Token == "" && p.TokenEnv != "" {
			p.Token = os.Getenv(p.TokenEnv)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks field constraints and every name that must parse into a
// closed set: categories, tiers, the timezone and cron specs.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	for _, m := range []map[string]time.Duration{c.Cache.BaseTTL, c.Cache.SensitiveTTL} {
		for name, ttl := range m {
			if _, err := model.ParseCategory(name); err != nil {
				return fmt.Errorf("invalid cache TTL: %w", err)
			}
			if ttl <= 0 {
				return fmt.Errorf("invalid cache TTL for %s: must be positive", name)
			}
		}
	}
	for _, name := range c.Scheduler.WarmupCategories {
		if _, err := model.ParseCategory(name); err != nil {
			return fmt.Errorf("invalid warmup category: %w", err)
		}
	}

	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if seen[p.ID] {
			return fmt.Errorf("duplicate provider id %q", p.ID)
		}
		seen[p.ID] = true
		if _, err := reliability.ParseTier(p.Tier); err != nil {
			return fmt.Errorf("provider %s: %w", p.ID, err)
		}
	}
	for id := range c.ProviderPriority {
		if !seen[id] {
			return fmt.Errorf("provider_priority names unknown provider %q", id)
		}
	}

	if _, err := time.LoadLocation(c.Calendar.Timezone); err != nil {
		return fmt.Errorf("invalid calendar timezone: %w", err)
	}

	if c.Scheduler.Enabled {
		parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
		for _, spec := range []string{c.Scheduler.WarmupCron, c.Scheduler.ReleaseCron} {
			if strings.TrimSpace(spec) == "" {
				continue
			}
			if _, err := parser.Parse(spec); err != nil {
				return fmt.Errorf("invalid cron spec %q: %w", spec, err)
			}
		}
	}
	return nil
}

// RetryPolicy converts the retry settings.
func (c *Config) RetryPolicy() fetch.RetryPolicy {
	return fetch.RetryPolicy{
		MaxRetries:   c.Retry.MaxRetries,
		InitialDelay: c.Retry.Delay,
		Multiplier:   c.Retry.BackoffMultiplier,
		MaxDelay:     c.Retry.MaxDelay,
	}
}

// ReliabilityOptions converts the reliability settings.
func (c *Config) ReliabilityOptions() reliability.Options {
	r := c.Reliability
	return reliability.Options{
		FailureThreshold: r.FailureThreshold,
		ScoreFloor:       r.ScoreFloor,
		FailurePenalty:   r.FailurePenalty,
		SuccessReward:    r.SuccessReward,
		RecoveryQuiet:    r.RecoveryQuiet,
		ProbeInterval:    r.ProbeInterval,
		DefaultScores: map[reliability.Tier]float64{
			reliability.TierTrusted:  r.TrustedScore,
			reliability.TierStandard: r.StandardScore,
			reliability.TierFallback: r.FallbackScore,
		},
	}
}

// TTLs returns the base and sensitive TTL tables keyed by category. Validate
// must have succeeded.
func (c *Config) TTLs() (base, sensitive map[model.Category]time.Duration) {
	convert := func(in map[string]time.Duration) map[model.Category]time.Duration {
		out := make(map[model.Category]time.Duration, len(in))
		for name, ttl := range in {
			cat, err := model.ParseCategory(name)
			if err != nil {
				continue
			}
			out[cat] = ttl
		}
		return out
	}
	return convert(c.Cache.BaseTTL), convert(c.Cache.SensitiveTTL)
}

// Location loads the calendar timezone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Calendar.Timezone)
}

// WarmupCategories parses the scheduler's category list.
func (c *Config) WarmupCategories() ([]model.Category, error) {
	out := make([]model.Category, 0, len(c.Scheduler.WarmupCategories))
	for _, name := range c.Scheduler.WarmupCategories {
		cat, err := model.ParseCategory(name)
		if err != nil {
			return nil, err
		}
		out = append(out, cat)
	}
	return out, nil
}

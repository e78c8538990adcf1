// Package config provides configuration for agentrank.
// Configuration is loaded from (highest to lowest priority):
// 1. Command-line flags
// 2. Environment variables (AGENTRANK_*)
// 3. Project config (.agentrank/config.yaml in cwd, or $AGENTRANK_CONFIG)
// 4. Home config (~/.agentrank/config.yaml)
// 5. Defaults
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all agentrank configuration.
type Config struct {
	// DBPath is the SQLite database file.
	DBPath string `yaml:"db_path" json:"db_path"`

	Log         LogConfig         `yaml:"log" json:"log"`
	Providers   ProvidersConfig   `yaml:"providers" json:"providers"`
	Relay       RelayConfig       `yaml:"relay" json:"relay"`
	Reflection  ReflectionConfig  `yaml:"reflection" json:"reflection"`
	Metrics     MetricsConfig     `yaml:"metrics" json:"metrics"`
	Leaderboard LeaderboardConfig `yaml:"leaderboard" json:"leaderboard"`
	Optimizer   OptimizerConfig   `yaml:"optimizer" json:"optimizer"`
	Cache       CacheConfig       `yaml:"cache" json:"cache"`
	Events      EventsConfig      `yaml:"events" json:"events"`
	Schedule    ScheduleConfig    `yaml:"schedule" json:"schedule"`
	Telemetry   TelemetryConfig   `yaml:"telemetry" json:"telemetry"`
}

// LogConfig controls slog output.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" json:"level"`
	// Format is "text" or "json".
	Format string `yaml:"format" json:"format"`
}

// ProvidersConfig holds credentials for the HTTP text-generation providers.
// The offline "echo" provider needs no configuration.
type ProvidersConfig struct {
	OpenAI    ProviderConfig `yaml:"openai" json:"openai"`
	Anthropic ProviderConfig `yaml:"anthropic" json:"anthropic"`
}

// ProviderConfig configures one HTTP provider. A provider without an API key
// is not registered.
type ProviderConfig struct {
	BaseURL string        `yaml:"base_url" json:"base_url"`
	APIKey  string        `yaml:"api_key" json:"api_key"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// RelayConfig controls behavior execution fan-out.
type RelayConfig struct {
	// Parallel bounds concurrent link executions during collaborate (1 = sequential).
	Parallel int `yaml:"parallel" json:"parallel"`
}

// ReflectionConfig controls the reflection engine.
type ReflectionConfig struct {
	// MemoryLimit is how many recent memory entries feed one reflection.
	MemoryLimit int `yaml:"memory_limit" json:"memory_limit"`
	// Parallel bounds concurrent agents during a batch reflection.
	Parallel int `yaml:"parallel" json:"parallel"`
	// DefaultConfidence is used when the provider response has no confidence.
	DefaultConfidence float64 `yaml:"default_confidence" json:"default_confidence"`
	// DefaultImpact is used when the provider response has no impact.
	DefaultImpact float64 `yaml:"default_impact" json:"default_impact"`
}

// MetricsConfig controls the metrics aggregator.
type MetricsConfig struct {
	// Window is how many of the most recent reflections are aggregated.
	Window int `yaml:"window" json:"window"`
}

// LeaderboardConfig holds the composite rank weights.
type LeaderboardConfig struct {
	ImpactWeight        float64 `yaml:"impact_weight" json:"impact_weight"`
	ConsistencyWeight   float64 `yaml:"consistency_weight" json:"consistency_weight"`
	CollaborationWeight float64 `yaml:"collaboration_weight" json:"collaboration_weight"`
}

// OptimizerConfig holds the enable/disable thresholds.
type OptimizerConfig struct {
	// LowThreshold: mean impact below this disables an enabled behavior.
	LowThreshold float64 `yaml:"low_threshold" json:"low_threshold"`
	// HighThreshold: mean impact at or above this re-enables a disabled behavior.
	HighThreshold float64 `yaml:"high_threshold" json:"high_threshold"`
	// MinSamples is the minimum number of impact samples before a behavior is judged.
	MinSamples int `yaml:"min_samples" json:"min_samples"`
	// Window is how many recent reflections per behavior are averaged.
	Window int `yaml:"window" json:"window"`
}

// CacheConfig controls the behavior lookup cache.
type CacheConfig struct {
	BehaviorTTL time.Duration `yaml:"behavior_ttl" json:"behavior_ttl"`
}

// EventsConfig controls control-loop event publishing. Empty NATSURL disables it.
type EventsConfig struct {
	NATSURL       string `yaml:"nats_url" json:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix" json:"subject_prefix"`
}

// ScheduleConfig controls the recurring cycle run by "agentrank loop".
type ScheduleConfig struct {
	Interval time.Duration `yaml:"interval" json:"interval"`
}

// TelemetryConfig controls the Prometheus listener. Empty ListenAddr disables it.
type TelemetryConfig struct {
	ListenAddr string `yaml:"listen_addr" json:"listen_addr"`
}

// Default config values.
const (
	DefaultDBPath          = ".agentrank/agentrank.db"
	defaultOpenAIBaseURL   = "https://api.openai.com/v1"
	defaultAnthropicURL    = "https://api.anthropic.com"
	defaultProviderTimeout = 60 * time.Second
)

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		DBPath: DefaultDBPath,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Providers: ProvidersConfig{
			OpenAI:    ProviderConfig{BaseURL: defaultOpenAIBaseURL, Timeout: defaultProviderTimeout},
			Anthropic: ProviderConfig{BaseURL: defaultAnthropicURL, Timeout: defaultProviderTimeout},
		},
		Relay: RelayConfig{Parallel: 1},
		Reflection: ReflectionConfig{
			MemoryLimit:       20,
			Parallel:          1,
			DefaultConfidence: 0.5,
			DefaultImpact:     0.1,
		},
		Metrics: MetricsConfig{Window: 500},
		Leaderboard: LeaderboardConfig{
			ImpactWeight:        0.5,
			ConsistencyWeight:   0.3,
			CollaborationWeight: 0.2,
		},
		Optimizer: OptimizerConfig{
			LowThreshold:  0.3,
			HighThreshold: 0.7,
			MinSamples:    2,
			Window:        20,
		},
		Cache:    CacheConfig{BehaviorTTL: 5 * time.Minute},
		Events:   EventsConfig{SubjectPrefix: "agentrank"},
		Schedule: ScheduleConfig{Interval: time.Hour},
	}
}

// Load loads configuration with proper precedence.
// Priority: flags > env > project > home > defaults
func Load(flagOverrides *Config) (*Config, error) {
	cfg := Default()

	homeConfig, err := loadFromPath(homeConfigPath())
	if err != nil {
		return nil, err
	}
	if homeConfig != nil {
		cfg = merge(cfg, homeConfig)
	}

	projectConfig, err := loadFromPath(projectConfigPath())
	if err != nil {
		return nil, err
	}
	if projectConfig != nil {
		cfg = merge(cfg, projectConfig)
	}

	cfg, err = applyEnv(cfg)
	if err != nil {
		return nil, err
	}

	if flagOverrides != nil {
		cfg = merge(cfg, flagOverrides)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the control loop cannot run with.
func (c *Config) Validate() error {
	var errs []error
	o := c.Optimizer
	if o.LowThreshold > o.HighThreshold {
		errs = append(errs, fmt.Errorf("optimizer.low_threshold (%.2f) exceeds high_threshold (%.2f)", o.LowThreshold, o.HighThreshold))
	}
	if o.MinSamples < 1 {
		errs = append(errs, errors.New("optimizer.min_samples must be at least 1"))
	}
	if o.Window < o.MinSamples {
		errs = append(errs, fmt.Errorf("optimizer.window (%d) is smaller than min_samples (%d)", o.Window, o.MinSamples))
	}
	l := c.Leaderboard
	if l.ImpactWeight < 0 || l.ConsistencyWeight < 0 || l.CollaborationWeight < 0 {
		errs = append(errs, errors.New("leaderboard weights must be non-negative"))
	}
	r := c.Reflection
	if r.DefaultConfidence < 0 || r.DefaultConfidence > 1 {
		errs = append(errs, fmt.Errorf("reflection.default_confidence %.2f outside [0,1]", r.DefaultConfidence))
	}
	if c.Metrics.Window < 1 {
		errs = append(errs, errors.New("metrics.window must be positive"))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be text or json", c.Log.Format))
	}
	return errors.Join(errs...)
}

func homeConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".agentrank", "config.yaml")
}

func projectConfigPath() string {
	if override := strings.TrimSpace(os.Getenv("AGENTRANK_CONFIG")); override != "" {
		return override
	}
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return filepath.Join(cwd, ".agentrank", "config.yaml")
}

// loadFromPath loads config from a YAML file. A missing file is not an error.
func loadFromPath(path string) (*Config, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// applyEnv applies environment variable overrides.
func applyEnv(cfg *Config) (*Config, error) {
	var errs []error
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	integer := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("AGENTRANK_DB_PATH", &cfg.DBPath)
	str("AGENTRANK_LOG_LEVEL", &cfg.Log.Level)
	str("AGENTRANK_LOG_FORMAT", &cfg.Log.Format)
	str("AGENTRANK_OPENAI_BASE_URL", &cfg.Providers.OpenAI.BaseURL)
	str("AGENTRANK_OPENAI_API_KEY", &cfg.Providers.OpenAI.APIKey)
	str("AGENTRANK_ANTHROPIC_BASE_URL", &cfg.Providers.Anthropic.BaseURL)
	str("AGENTRANK_ANTHROPIC_API_KEY", &cfg.Providers.Anthropic.APIKey)
	integer("AGENTRANK_RELAY_PARALLEL", &cfg.Relay.Parallel)
	integer("AGENTRANK_REFLECTION_MEMORY_LIMIT", &cfg.Reflection.MemoryLimit)
	integer("AGENTRANK_METRICS_WINDOW", &cfg.Metrics.Window)
	num("AGENTRANK_OPTIMIZER_LOW_THRESHOLD", &cfg.Optimizer.LowThreshold)
	num("AGENTRANK_OPTIMIZER_HIGH_THRESHOLD", &cfg.Optimizer.HighThreshold)
	integer("AGENTRANK_OPTIMIZER_MIN_SAMPLES", &cfg.Optimizer.MinSamples)
	integer("AGENTRANK_OPTIMIZER_WINDOW", &cfg.Optimizer.Window)
	dur("AGENTRANK_CACHE_BEHAVIOR_TTL", &cfg.Cache.BehaviorTTL)
	str("AGENTRANK_NATS_URL", &cfg.Events.NATSURL)
	dur("AGENTRANK_SCHEDULE_INTERVAL", &cfg.Schedule.Interval)
	str("AGENTRANK_TELEMETRY_LISTEN", &cfg.Telemetry.ListenAddr)

	return cfg, errors.Join(errs...)
}

func mergeStr(dst *string, src string) {
	if src != "" {
		*dst = src
	}
}

func mergeInt(dst *int, src int) {
	if src != 0 {
		*dst = src
	}
}

func mergeFloat(dst *float64, src float64) {
	if src != 0 {
		*dst = src
	}
}

func mergeDur(dst *time.Duration, src time.Duration) {
	if src != 0 {
		*dst = src
	}
}

// merge merges src into dst, with non-zero src values taking precedence.
// A zero threshold therefore cannot be set from a file; use a small epsilon.
func merge(dst, src *Config) *Config {
	mergeStr(&dst.DBPath, src.DBPath)
	mergeStr(&dst.Log.Level, src.Log.Level)
	mergeStr(&dst.Log.Format, src.Log.Format)

	mergeProvider(&dst.Providers.OpenAI, &src.Providers.OpenAI)
	mergeProvider(&dst.Providers.Anthropic, &src.Providers.Anthropic)

	mergeInt(&dst.Relay.Parallel, src.Relay.Parallel)

	mergeInt(&dst.Reflection.MemoryLimit, src.Reflection.MemoryLimit)
	mergeInt(&dst.Reflection.Parallel, src.Reflection.Parallel)
	mergeFloat(&dst.Reflection.DefaultConfidence, src.Reflection.DefaultConfidence)
	mergeFloat(&dst.Reflection.DefaultImpact, src.Reflection.DefaultImpact)

	mergeInt(&dst.Metrics.Window, src.Metrics.Window)

	mergeFloat(&dst.Leaderboard.ImpactWeight, src.Leaderboard.ImpactWeight)
	mergeFloat(&dst.Leaderboard.ConsistencyWeight, src.Leaderboard.ConsistencyWeight)
	mergeFloat(&dst.Leaderboard.CollaborationWeight, src.Leaderboard.CollaborationWeight)

	mergeFloat(&dst.Optimizer.LowThreshold, src.Optimizer.LowThreshold)
	mergeFloat(&dst.Optimizer.HighThreshold, src.Optimizer.HighThreshold)
	mergeInt(&dst.Optimizer.MinSamples, src.Optimizer.MinSamples)
	mergeInt(&dst.Optimizer.Window, src.Optimizer.Window)

	mergeDur(&dst.Cache.BehaviorTTL, src.Cache.BehaviorTTL)
	mergeStr(&dst.Events.NATSURL, src.Events.NATSURL)
	mergeStr(&dst.Events.SubjectPrefix, src.Events.SubjectPrefix)
	mergeDur(&dst.Schedule.Interval, src.Schedule.Interval)
	mergeStr(&dst.Telemetry.ListenAddr, src.Telemetry.ListenAddr)

	return dst
}

func mergeProvider(dst, src *ProviderConfig) {
	mergeStr(&dst.BaseURL, src.BaseURL)
	mergeStr(&dst.APIKey, src.APIKey)
	mergeDur(&dst.Timeout, src.Timeout)
}

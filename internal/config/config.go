// Package config provides configuration management.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"bundle-pricing/core/batching"
	"bundle-pricing/core/engine"
	"bundle-pricing/core/monitor"
	"bundle-pricing/core/types"
	"bundle-pricing/internal/errors"
	"bundle-pricing/internal/logging"
)

// Environment variables that override the file for deployment secrets
const (
	EnvRedisURL      = "PRICING_REDIS_URL"
	EnvRedisDB       = "PRICING_REDIS_DB"
	EnvDatabaseDSN   = "PRICING_DATABASE_DSN"
	EnvServerAddr    = "PRICING_ADDR"
	EnvLogLevel      = "PRICING_LOG_LEVEL"
	EnvWebhookSecret = "PRICING_WEBHOOK_SECRET"
)

// Source kinds for strategies and the catalog
const (
	SourceFile     = "file"
	SourcePostgres = "postgres"
)

// Cache backends
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config is the main application configuration
type Config struct {
	// Version is the configuration version
	Version string `json:"version"`

	// Engine contains pricing pipeline settings
	Engine EngineConfig `json:"engine"`

	// Batching contains request batching settings
	Batching BatchingConfig `json:"batching"`

	// Cache contains result cache settings
	Cache CacheConfig `json:"cache"`

	// Monitor contains performance monitor settings
	Monitor MonitorConfig `json:"monitor"`

	// Strategy selects where pricing strategies come from
	Strategy SourceConfig `json:"strategy"`

	// Catalog selects where bundle costs come from
	Catalog SourceConfig `json:"catalog"`

	// Server contains HTTP server settings
	Server ServerConfig `json:"server"`

	// Logging contains logging configuration
	Logging logging.Config `json:"logging"`
}

// EngineConfig contains pricing pipeline settings
type EngineConfig struct {
	// Strict turns unknown action types into rule errors
	Strict bool `json:"strict"`

	// Rounding is the final rounding stage (none, nearest_99)
	Rounding string `json:"rounding" validate:"omitempty,oneof=none nearest_99"`

	// Currency labels every breakdown
	Currency string `json:"currency" validate:"required,len=3"`

	// DefaultStrategyID is used when a request names no strategy.
	// Empty means the strategy marked default.
	DefaultStrategyID string `json:"default_strategy_id,omitempty"`
}

// BatchingConfig contains request batching settings
type BatchingConfig struct {
	// WindowMs is how long calls are collected before dispatch
	WindowMs int `json:"window_ms" validate:"gte=0"`

	// MaxBatch dispatches early once this many keys are pending
	MaxBatch int `json:"max_batch" validate:"gte=0"`

	// MaxConcurrency bounds parallel calculations per batch
	MaxConcurrency int `json:"max_concurrency" validate:"gte=0"`
}

// CacheConfig contains result cache settings
type CacheConfig struct {
	// Enabled enables caching
	Enabled bool `json:"enabled"`

	// Backend is memory or redis
	Backend string `json:"backend" validate:"oneof=memory redis"`

	// RedisURL is required for the redis backend
	RedisURL string `json:"redis_url,omitempty" validate:"required_if=Backend redis"`

	// RedisDB overrides the database in RedisURL when non-zero
	RedisDB int `json:"redis_db,omitempty" validate:"gte=0"`

	// KeyPrefix namespaces redis keys
	KeyPrefix string `json:"key_prefix,omitempty"`

	// TTLSeconds is how long a result is served
	TTLSeconds int `json:"ttl_seconds" validate:"gt=0"`

	// SweepIntervalSeconds schedules the stale entry sweep; 0 disables it
	SweepIntervalSeconds int `json:"sweep_interval_seconds" validate:"gte=0"`

	// StaleAfterSeconds bounds entry age regardless of TTL
	StaleAfterSeconds int `json:"stale_after_seconds" validate:"gte=0"`
}

// MonitorConfig contains performance monitor settings
type MonitorConfig struct {
	// Window is the number of recent batches summarized
	Window int `json:"window" validate:"gte=0"`

	// SlowCalculationMs warns when mean item latency exceeds it
	SlowCalculationMs int `json:"slow_calculation_ms" validate:"gte=0"`

	// MinHitRate warns when the window hit rate drops below it
	MinHitRate float64 `json:"min_hit_rate" validate:"gte=0,lte=1"`

	// MinBatchesForWarning suppresses early warnings
	MinBatchesForWarning int `json:"min_batches_for_warning" validate:"gte=0"`
}

// SourceConfig selects a strategy or catalog backend
type SourceConfig struct {
	// Source is file or postgres
	Source string `json:"source" validate:"oneof=file postgres"`

	// Path is an HCL file or directory for the file source
	Path string `json:"path,omitempty" validate:"required_if=Source file"`

	// DSN is the Postgres connection string for the postgres source
	DSN string `json:"dsn,omitempty" validate:"required_if=Source postgres"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	// Addr is the listen address
	Addr string `json:"addr" validate:"required"`

	// ShutdownTimeoutSeconds bounds graceful shutdown
	ShutdownTimeoutSeconds int `json:"shutdown_timeout_seconds" validate:"gte=0"`

	// WebhookSecret enables POST /webhooks/rule-change when set
	WebhookSecret string `json:"webhook_secret,omitempty"`
}

// Default returns a default configuration
func Default() *Config {
	return &Config{
		Version: "1.0",
		Engine: EngineConfig{
			Rounding: string(engine.RoundingNone),
			Currency: string(types.CurrencyUSD),
		},
		Batching: BatchingConfig{
			WindowMs:       2,
			MaxBatch:       100,
			MaxConcurrency: 8,
		},
		Cache: CacheConfig{
			Enabled:              true,
			Backend:              BackendMemory,
			TTLSeconds:           900, // 15 minutes
			SweepIntervalSeconds: 300,
			StaleAfterSeconds:    7200,
		},
		Monitor: MonitorConfig{
			Window:               100,
			SlowCalculationMs:    250,
			MinHitRate:           0.2,
			MinBatchesForWarning: 10,
		},
		Strategy: SourceConfig{
			Source: SourceFile,
			Path:   filepath.Join("config", "strategies"),
		},
		Catalog: SourceConfig{
			Source: SourceFile,
			Path:   filepath.Join("config", "catalog.hcl"),
		},
		Server: ServerConfig{
			Addr:                   ":8080",
			ShutdownTimeoutSeconds: 15,
		},
		Logging: logging.DefaultConfig(),
	}
}

// Load loads configuration from a file, applies environment overrides and
// validates the result. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, errors.Wrap(errors.TypeConfig, "failed to read config", err).WithContext("path", path)
		default:
			if err := json.Unmarshal(data, config); err != nil {
				return nil, errors.Wrap(errors.TypeConfig, "failed to parse config", err).WithContext("path", path)
			}
		}
	}

	config.ApplyEnv()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// ApplyEnv overrides secrets and deployment settings from the environment
func (c *Config) ApplyEnv() {
	c.Cache.RedisURL = getEnv(EnvRedisURL, c.Cache.RedisURL)
	c.Cache.RedisDB = getEnvInt(EnvRedisDB, c.Cache.RedisDB)
	if dsn := getEnv(EnvDatabaseDSN, ""); dsn != "" {
		c.Strategy.DSN = dsn
		c.Catalog.DSN = dsn
	}
	c.Server.Addr = getEnv(EnvServerAddr, c.Server.Addr)
	c.Server.WebhookSecret = getEnv(EnvWebhookSecret, c.Server.WebhookSecret)
	c.Logging.Level = getEnv(EnvLogLevel, c.Logging.Level)
}

var validate = validator.New()

// Validate checks every section
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.TypeConfig, "invalid configuration", err)
	}
	return nil
}

// Save saves configuration to a file
func (c *Config) Save(path string) error {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// ToEngine converts to the engine's settings. The logger and clock are
// left for the caller.
func (c EngineConfig) ToEngine() engine.Config {
	return engine.Config{
		Strict:            c.Strict,
		Rounding:          engine.RoundingMode(c.Rounding),
		Currency:          types.Currency(c.Currency),
		DefaultStrategyID: c.DefaultStrategyID,
	}
}

// ToLoader converts to batching loader settings
func (c BatchingConfig) ToLoader() batching.Config {
	return batching.Config{
		Window:         time.Duration(c.WindowMs) * time.Millisecond,
		MaxBatch:       c.MaxBatch,
		MaxConcurrency: c.MaxConcurrency,
	}
}

// ToMonitor converts to monitor settings
func (c MonitorConfig) ToMonitor() monitor.Config {
	def := monitor.DefaultConfig()
	return monitor.Config{
		Window:               c.Window,
		SlowCalculation:      time.Duration(c.SlowCalculationMs) * time.Millisecond,
		MinHitRate:           c.MinHitRate,
		HitLatency:           def.HitLatency,
		MinBatchesForWarning: c.MinBatchesForWarning,
	}
}

// TTL returns the entry lifetime
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// SweepInterval returns the sweep period, zero when disabled
func (c CacheConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// StaleAfter returns the maximum entry age
func (c CacheConfig) StaleAfter() time.Duration {
	return time.Duration(c.StaleAfterSeconds) * time.Second
}

// ShutdownTimeout returns the graceful shutdown bound
func (c ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

// Lookup returns the value at a dotted path such as "cache.ttl_seconds"
func (c *Config) Lookup(key string) (interface{}, error) {
	var tree map[string]interface{}
	data, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, err
	}

	var node interface{} = tree
	for _, part := range strings.Split(key, ".") {
		m, ok := node.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("unknown config key %q", key)
		}
		if node, ok = m[part]; !ok {
			return nil, fmt.Errorf("unknown config key %q", key)
		}
	}
	return node, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

// getEnvInt is getEnv for integers; malformed values keep the fallback
func getEnvInt(key string, fallback int) int {
	v, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

// Global configuration instance
var globalConfig = Default()

// Get returns the global configuration
func Get() *Config {
	return globalConfig
}

// Set sets the global configuration
func Set(config *Config) {
	globalConfig = config
}

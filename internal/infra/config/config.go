// Package config loads the agentmesh configuration: defaults, YAML
// file, then AGENTMESH_* environment overrides, validated last.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Gateway   GatewayConfig   `yaml:"gateway"`
	Storage   StorageConfig   `yaml:"storage"`
	Redis     RedisConfig     `yaml:"redis"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Recorder  RecorderConfig  `yaml:"recorder"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	Knowledge KnowledgeConfig `yaml:"knowledge"`
	LLM       LLMConfig       `yaml:"llm"`
	Logger    LoggerConfig    `yaml:"logger"`
	Tracer    TracerConfig    `yaml:"tracer"`
}

// GatewayConfig holds the protocol gateway's listener settings.
type GatewayConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// RequestsPerSecond and Burst bound each remote client's HTTP
	// request rate, independent of the tiered admission limits.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// StorageConfig holds the SQLite database location.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// RedisConfig holds the shared counter store settings. When Enabled is
// false the limiter runs entirely on its process-local counter.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// TierLimitConfig is one admission tier's count-per-window pair.
// Count <= 0 disables the tier.
type TierLimitConfig struct {
	Minute int64 `yaml:"minute"`
	Hour   int64 `yaml:"hour"`
}

// RateLimitConfig holds the per-tier admission limits.
type RateLimitConfig struct {
	Agent  TierLimitConfig `yaml:"agent"`
	Tenant TierLimitConfig `yaml:"tenant"`
	User   TierLimitConfig `yaml:"user"`
}

// RecorderConfig holds the async interaction recorder settings.
type RecorderConfig struct {
	BufferSize   int           `yaml:"buffer_size"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// SessionsConfig holds session lifetime and expiry sweep settings.
type SessionsConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	SweepSchedule string        `yaml:"sweep_schedule"` // cron expression
}

// KnowledgeConfig holds the knowledge base service client settings.
type KnowledgeConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// LLMConfig holds the language model provider client settings.
type LLMConfig struct {
	BaseURL string        `yaml:"base_url"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Addr:              ":8080",
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			ShutdownTimeout:   10 * time.Second,
			RequestsPerSecond: 50,
			Burst:             100,
		},
		Storage: StorageConfig{
			Path: "./data/agentmesh.db",
		},
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
		},
		RateLimit: RateLimitConfig{
			Agent:  TierLimitConfig{Minute: 10, Hour: 100},
			Tenant: TierLimitConfig{Minute: 50, Hour: 500},
			User:   TierLimitConfig{Minute: 20, Hour: 200},
		},
		Recorder: RecorderConfig{
			BufferSize:   256,
			WriteTimeout: 5 * time.Second,
		},
		Sessions: SessionsConfig{
			TTL:           30 * time.Minute,
			SweepSchedule: "*/5 * * * *",
		},
		Knowledge: KnowledgeConfig{
			Timeout: 10 * time.Second,
		},
		LLM: LLMConfig{
			Model:   "gpt-4o-mini",
			Timeout: 60 * time.Second,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
	}
}

// Load reads the config file at path, applies environment overrides,
// and validates the result. A missing file is not an error: defaults
// plus environment overrides are used.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps AGENTMESH_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AGENTMESH_GATEWAY_ADDR"); v != "" {
		cfg.Gateway.Addr = v
	}
	if v := os.Getenv("AGENTMESH_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("AGENTMESH_REDIS_ENABLED"); v == "true" {
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("AGENTMESH_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("AGENTMESH_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("AGENTMESH_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = n
		}
	}
	if v := os.Getenv("AGENTMESH_SESSIONS_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Sessions.TTL = d
		}
	}
	if v := os.Getenv("AGENTMESH_SESSIONS_SWEEP_SCHEDULE"); v != "" {
		cfg.Sessions.SweepSchedule = v
	}
	if v := os.Getenv("AGENTMESH_KNOWLEDGE_BASE_URL"); v != "" {
		cfg.Knowledge.BaseURL = v
	}
	if v := os.Getenv("AGENTMESH_LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("AGENTMESH_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("AGENTMESH_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("AGENTMESH_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("AGENTMESH_LOGGER_OUTPUT"); v != "" {
		cfg.Logger.Output = v
	}
	if v := os.Getenv("AGENTMESH_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("AGENTMESH_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
}

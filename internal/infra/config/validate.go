package config

import (
	"fmt"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a
// *ValidationError when one or more problems are found, allowing
// callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateGateway(cfg, ve)
	validateStorage(cfg, ve)
	validateRedis(cfg, ve)
	validateRecorder(cfg, ve)
	validateSessions(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateGateway(cfg *Config, ve *ValidationError) {
	if cfg.Gateway.Addr == "" {
		ve.Add("gateway.addr must not be empty")
	}
	if cfg.Gateway.RequestsPerSecond <= 0 {
		ve.Add("gateway.requests_per_second must be > 0")
	}
	if cfg.Gateway.Burst <= 0 {
		ve.Add("gateway.burst must be > 0")
	}
	if cfg.Gateway.ShutdownTimeout <= 0 {
		ve.Add("gateway.shutdown_timeout must be > 0")
	}
}

func validateStorage(cfg *Config, ve *ValidationError) {
	if cfg.Storage.Path == "" {
		ve.Add("storage.path must not be empty")
	}
}

func validateRedis(cfg *Config, ve *ValidationError) {
	if cfg.Redis.Enabled && cfg.Redis.Addr == "" {
		ve.Add("redis.addr must not be empty when redis is enabled")
	}
}

func validateRecorder(cfg *Config, ve *ValidationError) {
	if cfg.Recorder.BufferSize <= 0 {
		ve.Add("recorder.buffer_size must be > 0")
	}
	if cfg.Recorder.WriteTimeout <= 0 {
		ve.Add("recorder.write_timeout must be > 0")
	}
}

func validateSessions(cfg *Config, ve *ValidationError) {
	if cfg.Sessions.TTL <= 0 {
		ve.Add("sessions.ttl must be > 0")
	}
	if cfg.Sessions.SweepSchedule == "" {
		ve.Add("sessions.sweep_schedule must not be empty")
	}
}

var validLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "warning": true, "error": true,
}

func validateLogger(cfg *Config, ve *ValidationError) {
	if !validLogLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level %q is not one of debug, info, warn, error", cfg.Logger.Level)
	}
	switch strings.ToLower(cfg.Logger.Format) {
	case "text", "json", "":
	default:
		ve.Add("logger.format %q is not one of text, json", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !cfg.Tracer.Enabled {
		return
	}
	switch cfg.Tracer.Exporter {
	case "stdout", "noop", "":
	default:
		ve.Add("tracer.exporter %q is not one of stdout, noop", cfg.Tracer.Exporter)
	}
}

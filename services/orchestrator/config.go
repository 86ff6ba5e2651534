// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	datafetcher "github.com/AleutianAI/zynk/services/data_fetcher"
	"github.com/AleutianAI/zynk/services/orchestrator/cache"
	"github.com/AleutianAI/zynk/services/orchestrator/handlers"
	"github.com/AleutianAI/zynk/services/orchestrator/sequencer"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Defaults
// =============================================================================

const (
	DefaultPort            = 12210
	DefaultModelBackend    = "echo"
	DefaultStoreBackend    = "badger"
	DefaultCacheBackend    = "ristretto"
	DefaultTracingExporter = "none"
	DefaultStorePath       = "~/.zynk/data"
	DefaultShutdownTimeout = 10 * time.Second

	serviceName = "zynk-orchestrator"
)

// DefaultSystemPrompt is the assistant persona sent ahead of every turn.
const DefaultSystemPrompt = `You are Zynk, a confident, witty and genuinely helpful assistant.
Keep an upbeat, friendly tone and ask a follow-up question when it helps the user.
Do not use asterisks for emphasis; use quotation marks or plain wording instead.
You can talk about anything, with particular depth on business topics and vehicles.
When vehicle search results are provided, answer from them and mention that the user
can ask for a "pdf" report.`

// =============================================================================
// Configuration
// =============================================================================

// Config holds configuration for the orchestrator service.
//
// # Description
//
// Config is read from YAML by LoadConfig. Zero values are replaced by
// applyConfigDefaults, so an empty file yields a working development server
// backed by the echo model, an on-disk badger store and a ristretto cache.
//
// # Fields
//
//   - Port: HTTP server port
//   - Model: model backend selection and generation settings
//   - Collaborators: vehicle search and PDF report endpoints
//   - Cache: search result cache backend
//   - Store: chat persistence backend
//   - Stream: SSE stream behavior
//   - Tracing: OpenTelemetry exporter
//   - Log: process logger settings, consumed by cmd/orchestrator
type Config struct {
	Port          int                `yaml:"port"`
	Model         ModelConfig        `yaml:"model"`
	Collaborators datafetcher.Config `yaml:"collaborators"`
	Cache         CacheConfig        `yaml:"cache"`
	Store         StoreConfig        `yaml:"store"`
	Stream        StreamConfig       `yaml:"stream"`
	Tracing       TracingConfig      `yaml:"tracing"`
	Log           LogConfig          `yaml:"log"`

	// ShutdownTimeout bounds graceful HTTP shutdown before open streams are
	// closed forcibly.
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// ModelConfig selects and configures the model backend.
type ModelConfig struct {
	// Backend is one of openai, anthropic, ollama or echo.
	Backend string `yaml:"backend"`
	Name    string `yaml:"name"`

	// APIKey is usually supplied through the environment.
	APIKey string `yaml:"apiKey"`

	// BaseURL is the Ollama server, or an API root override for the hosted
	// backends.
	BaseURL string `yaml:"baseURL"`

	MaxTokens          int      `yaml:"maxTokens"`
	Temperature        *float32 `yaml:"temperature"`
	SystemPrompt       string   `yaml:"systemPrompt"`
	HistoryTokenBudget int      `yaml:"historyTokenBudget"`
}

// CacheConfig selects the search result cache.
type CacheConfig struct {
	// Backend is ristretto or redis.
	Backend    string        `yaml:"backend"`
	MaxEntries int64         `yaml:"maxEntries"`
	TTL        time.Duration `yaml:"ttl"`
	RedisURL   string        `yaml:"redisURL"`
}

// StoreConfig selects chat persistence.
type StoreConfig struct {
	// Backend is badger or memory.
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// StreamConfig controls the SSE stream.
type StreamConfig struct {
	HeartbeatInterval  time.Duration `yaml:"heartbeatInterval"`
	EmitDoneAfterError bool          `yaml:"emitDoneAfterError"`
}

// TracingConfig selects the span exporter.
type TracingConfig struct {
	// Exporter is otlp, stdout or none.
	Exporter string `yaml:"exporter"`

	// Endpoint is the OTLP gRPC collector address.
	Endpoint string `yaml:"endpoint"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Dir    string `yaml:"dir"`
}

// LoadConfig reads a YAML config file and applies defaults.
//
// # Description
//
// A missing file is not an error: the defaults are returned so the server
// can start without any configuration. Unknown keys are rejected to catch
// typos early.
//
// # Inputs
//
//   - path: Config file path. Empty means defaults only.
//
// # Outputs
//
//   - Config: Parsed configuration with defaults applied.
//   - error: Non-nil if the file cannot be read or parsed, or a value is invalid.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		default:
			dec := yaml.NewDecoder(bytes.NewReader(data))
			dec.KnownFields(true)
			if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
				return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
			}
		}
	}
	cfg = applyConfigDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks enumerated values. It expects defaults to be applied.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	switch c.Model.Backend {
	case "openai", "anthropic", "claude", "ollama", "echo":
	default:
		return fmt.Errorf("unknown model backend %q", c.Model.Backend)
	}
	switch c.Cache.Backend {
	case "ristretto":
	case "redis":
		if c.Cache.RedisURL == "" {
			return errors.New("cache.redisURL is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}
	switch c.Store.Backend {
	case "badger", "memory":
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	switch c.Tracing.Exporter {
	case "none", "stdout":
	case "otlp":
		if c.Tracing.Endpoint == "" {
			return errors.New("tracing.endpoint is required for the otlp exporter")
		}
	default:
		return fmt.Errorf("unknown tracing exporter %q", c.Tracing.Exporter)
	}
	return nil
}

// applyConfigDefaults fills in zero values.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Model.Backend == "" {
		cfg.Model.Backend = DefaultModelBackend
	}
	cfg.Model.Backend = strings.ToLower(cfg.Model.Backend)
	if cfg.Model.SystemPrompt == "" {
		cfg.Model.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.Model.HistoryTokenBudget <= 0 {
		cfg.Model.HistoryTokenBudget = sequencer.DefaultHistoryTokenBudget
	}
	if cfg.Collaborators.Timeout <= 0 {
		cfg.Collaborators.Timeout = datafetcher.DefaultTimeout
	}
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = DefaultCacheBackend
	}
	if cfg.Cache.MaxEntries <= 0 {
		cfg.Cache.MaxEntries = cache.DefaultMaxEntries
	}
	if cfg.Cache.TTL <= 0 {
		cfg.Cache.TTL = cache.DefaultTTL
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = DefaultStoreBackend
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = DefaultStorePath
	}
	if cfg.Stream.HeartbeatInterval <= 0 {
		cfg.Stream.HeartbeatInterval = handlers.DefaultHeartbeatInterval
	}
	if cfg.Tracing.Exporter == "" {
		cfg.Tracing.Exporter = DefaultTracingExporter
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	return cfg
}

// expandHome resolves a leading "~" against the user's home directory.
func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return home + strings.TrimPrefix(path, "~"), nil
}

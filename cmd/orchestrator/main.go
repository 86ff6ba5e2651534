// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command orchestrator starts the zynk chat server.
//
// Configuration is read from a YAML file (see orchestrator.Config) and then
// overlaid with environment variables, which take precedence.
//
// # Environment Variables
//
//   - ZYNK_CONFIG: config file path (default: zynk.yaml)
//   - ZYNK_PORT: HTTP server port (default: 12210)
//   - ZYNK_MODEL_BACKEND: openai, anthropic, ollama or echo (default: echo)
//   - ZYNK_MODEL_NAME: model name for the selected backend
//   - OPENAI_API_KEY / ANTHROPIC_API_KEY: credentials for the hosted backends
//   - OLLAMA_BASE_URL: Ollama server URL
//   - ZYNK_VEHICLE_SEARCH_URL / ZYNK_REPORT_URL: collaborator endpoints
//   - ZYNK_REDIS_URL: switches the search cache to redis when set
//   - ZYNK_DATA_DIR: badger data directory (default: ~/.zynk/data)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: switches tracing to OTLP when set
//   - ZYNK_LOG_LEVEL / ZYNK_LOG_FORMAT / ZYNK_LOG_DIR: logging
//
// # Usage
//
//	go build -o zynk-orchestrator ./cmd/orchestrator
//	OPENAI_API_KEY=sk-... ZYNK_MODEL_BACKEND=openai ./zynk-orchestrator
package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/zynk/pkg/logging"
	"github.com/AleutianAI/zynk/services/orchestrator"
)

var (
	configPath string
	portFlag   int

	rootCmd = &cobra.Command{
		Use:          "orchestrator",
		Short:        "Run the zynk streaming chat server",
		SilenceUsage: true,
		RunE:         runServer,
	}
)

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", getEnvString("ZYNK_CONFIG", "zynk.yaml"),
		"path to the YAML config file")
	rootCmd.Flags().IntVarP(&portFlag, "port", "p", 0, "HTTP port, overrides config and ZYNK_PORT")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, _ []string) error {
	cfg, err := orchestrator.LoadConfig(configPath)
	if err != nil {
		return err
	}
	cfg = applyEnvOverrides(cfg)
	if portFlag > 0 {
		cfg.Port = portFlag
	}

	format := logging.Format(cfg.Log.Format)
	if format == "" {
		format = logging.FormatJSON
	}
	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.Log.Level),
		Format:  format,
		LogDir:  cfg.Log.Dir,
		Service: "orchestrator",
	})
	defer logger.Close()
	slog := logger.Slog()

	slog.Info("Starting orchestrator",
		"config", configPath,
		"port", cfg.Port,
		"model_backend", cfg.Model.Backend,
		"store", cfg.Store.Backend,
		"cache", cfg.Cache.Backend)

	svc, err := orchestrator.New(cfg, &orchestrator.Options{Logger: slog})
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := svc.Run(ctx); err != nil {
		slog.Error("Orchestrator error", "error", err)
		return err
	}
	slog.Info("Orchestrator stopped")
	return nil
}

// applyEnvOverrides overlays environment variables on the file config.
func applyEnvOverrides(cfg orchestrator.Config) orchestrator.Config {
	cfg.Port = getEnvInt("ZYNK_PORT", cfg.Port)
	cfg.Model.Backend = getEnvString("ZYNK_MODEL_BACKEND", cfg.Model.Backend)
	cfg.Model.Name = getEnvString("ZYNK_MODEL_NAME", cfg.Model.Name)

	switch cfg.Model.Backend {
	case "openai":
		cfg.Model.APIKey = getEnvString("OPENAI_API_KEY", cfg.Model.APIKey)
	case "anthropic", "claude":
		cfg.Model.APIKey = getEnvString("ANTHROPIC_API_KEY", cfg.Model.APIKey)
	case "ollama":
		cfg.Model.BaseURL = getEnvString("OLLAMA_BASE_URL", cfg.Model.BaseURL)
	}

	cfg.Collaborators.VehicleSearchURL = getEnvString("ZYNK_VEHICLE_SEARCH_URL", cfg.Collaborators.VehicleSearchURL)
	cfg.Collaborators.ReportURL = getEnvString("ZYNK_REPORT_URL", cfg.Collaborators.ReportURL)

	if redisURL := os.Getenv("ZYNK_REDIS_URL"); redisURL != "" {
		cfg.Cache.Backend = "redis"
		cfg.Cache.RedisURL = redisURL
	}
	cfg.Store.Path = getEnvString("ZYNK_DATA_DIR", cfg.Store.Path)

	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		cfg.Tracing.Exporter = "otlp"
		cfg.Tracing.Endpoint = endpoint
	}

	cfg.Log.Level = getEnvString("ZYNK_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnvString("ZYNK_LOG_FORMAT", cfg.Log.Format)
	cfg.Log.Dir = getEnvString("ZYNK_LOG_DIR", cfg.Log.Dir)
	return cfg
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}


// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the zynk CLI configuration from ~/.zynk/zynk.yaml.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the CLI configuration file.
type Config struct {
	// ServerURL is the orchestrator root.
	ServerURL string `yaml:"serverURL"`

	// RequestTimeout bounds non-streaming calls. Streaming turns are bounded
	// only by the user cancelling them.
	RequestTimeout time.Duration `yaml:"requestTimeout"`

	LogLevel string `yaml:"logLevel"`
	LogDir   string `yaml:"logDir"`
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() Config {
	return Config{
		ServerURL:      "http://localhost:12210",
		RequestTimeout: 30 * time.Second,
		LogLevel:       "warn",
	}
}

// DefaultPath returns ~/.zynk/zynk.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".zynk", "zynk.yaml"), nil
}

// Load reads the config at path, creating it with defaults if it does not
// exist. Missing keys keep their default values.
func Load(path string) (Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := createDefault(path); err != nil {
			return Config{}, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read the config file: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse the config file %s: %w", path, err)
	}
	if cfg.ServerURL == "" {
		return Config{}, errors.New("serverURL must not be empty")
	}
	return cfg, nil
}

func createDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AleutianAI/zynk/services/orchestrator"
)

func TestApplyEnvOverrides_BackendKeys(t *testing.T) {
	t.Setenv("ZYNK_MODEL_BACKEND", "anthropic")
	t.Setenv("ANTHROPIC_API_KEY", "ak-test")
	t.Setenv("OPENAI_API_KEY", "sk-ignored")

	cfg := applyEnvOverrides(orchestrator.Config{})

	assert.Equal(t, "anthropic", cfg.Model.Backend)
	assert.Equal(t, "ak-test", cfg.Model.APIKey)
}

func TestApplyEnvOverrides_RedisAndTracing(t *testing.T) {
	t.Setenv("ZYNK_REDIS_URL", "redis://cache:6379/0")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("ZYNK_PORT", "9000")

	cfg := applyEnvOverrides(orchestrator.Config{Port: 8000})

	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "redis", cfg.Cache.Backend)
	assert.Equal(t, "redis://cache:6379/0", cfg.Cache.RedisURL)
	assert.Equal(t, "otlp", cfg.Tracing.Exporter)
	assert.Equal(t, "collector:4317", cfg.Tracing.Endpoint)
}

func TestApplyEnvOverrides_KeepsFileValues(t *testing.T) {
	cfg := orchestrator.Config{Port: 8000}
	cfg.Model.Backend = "ollama"
	cfg.Model.BaseURL = "http://gpu:11434"

	got := applyEnvOverrides(cfg)

	assert.Equal(t, 8000, got.Port)
	assert.Equal(t, "http://gpu:11434", got.Model.BaseURL)
}

func TestGetEnvInt_InvalidFallsBack(t *testing.T) {
	t.Setenv("ZYNK_TEST_INT", "abc")

	assert.Equal(t, 7, getEnvInt("ZYNK_TEST_INT", 7))
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const defaultOllamaModel = "gpt-oss"

// contentGenerator is the subset of llms.Model used here.
type contentGenerator interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
}

// OllamaConfig configures OllamaSource.
type OllamaConfig struct {
	BaseURL string
	Model   string
	Params  GenerationParams
}

// OllamaSource streams replies from a local Ollama server through
// langchaingo. Local models are not offered tools, so it only emits token
// events.
type OllamaSource struct {
	model  contentGenerator
	name   string
	params GenerationParams
}

// NewOllamaSource connects to an Ollama server.
func NewOllamaSource(cfg OllamaConfig) (*OllamaSource, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("ollama base url is required")
	}
	if cfg.Model == "" {
		slog.Warn("Ollama model not set, using default", "model", defaultOllamaModel)
		cfg.Model = defaultOllamaModel
	}
	client, err := ollama.New(
		ollama.WithServerURL(strings.TrimSuffix(cfg.BaseURL, "/")),
		ollama.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("create ollama client: %w", err)
	}
	slog.Info("Initializing Ollama source", "base_url", cfg.BaseURL, "model", cfg.Model)
	return newOllamaSource(client, cfg.Model, cfg.Params), nil
}

func newOllamaSource(model contentGenerator, name string, params GenerationParams) *OllamaSource {
	return &OllamaSource{model: model, name: name, params: params}
}

// Name implements ModelSource.
func (o *OllamaSource) Name() string { return "ollama" }

// Stream implements ModelSource.
func (o *OllamaSource) Stream(ctx context.Context, messages []Message) (EventStream, error) {
	content := toLangChainMessages(messages)
	return startStream(ctx, func(ctx context.Context, emit emitFunc) error {
		ctx, span := tracer.Start(ctx, "OllamaSource.Stream")
		defer span.End()
		span.SetAttributes(attribute.String("llm.model", o.name), attribute.Int("llm.num_messages", len(content)))

		opts := []llms.CallOption{
			llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
				if len(chunk) == 0 {
					return nil
				}
				return emit(TokenEvent{Text: string(chunk)})
			}),
		}
		if o.params.Temperature != nil {
			opts = append(opts, llms.WithTemperature(float64(*o.params.Temperature)))
		}
		if o.params.MaxTokens != nil {
			opts = append(opts, llms.WithMaxTokens(*o.params.MaxTokens))
		}

		if _, err := o.model.GenerateContent(ctx, content, opts...); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("ollama generate failed: %w", err)
		}
		return nil
	}), nil
}

func toLangChainMessages(msgs []Message) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(msgs))
	for _, m := range msgs {
		role := llms.ChatMessageTypeHuman
		switch m.Role {
		case "assistant":
			role = llms.ChatMessageTypeAI
		case "system":
			role = llms.ChatMessageTypeSystem
		}
		out = append(out, llms.TextParts(role, m.Content))
	}
	return out
}

var _ ModelSource = (*OllamaSource)(nil)

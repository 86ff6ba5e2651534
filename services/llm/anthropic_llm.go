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
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	defaultAnthropicModel     = "claude-3-5-sonnet-latest"
	defaultAnthropicMaxTokens = 4096
)

// AnthropicConfig configures AnthropicSource.
type AnthropicConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Params  GenerationParams

	// HTTPClient overrides the SDK transport, mainly for tests.
	HTTPClient *http.Client
}

// AnthropicSource runs turns against the Anthropic Messages API.
//
// Each round is one Messages call. Text blocks become token events and
// tool_use blocks are executed in order, after which the results are sent
// back and the next round starts.
type AnthropicSource struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	params    GenerationParams
	tools     *ToolRegistry
}

// NewAnthropicSource creates an Anthropic backend.
func NewAnthropicSource(cfg AnthropicConfig, tools *ToolRegistry) (*AnthropicSource, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("anthropic api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultAnthropicModel
	}

	opts := []anthropicoption.RequestOption{anthropicoption.WithAPIKey(apiKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, anthropicoption.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")+"/"))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, anthropicoption.WithHTTPClient(cfg.HTTPClient))
	}

	maxTokens := int64(defaultAnthropicMaxTokens)
	if cfg.Params.MaxTokens != nil && *cfg.Params.MaxTokens > 0 {
		maxTokens = int64(*cfg.Params.MaxTokens)
	}

	slog.Info("Initializing Anthropic source", "model", cfg.Model)
	return &AnthropicSource{
		client:    anthropic.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: maxTokens,
		params:    cfg.Params,
		tools:     tools,
	}, nil
}

// Name implements ModelSource.
func (a *AnthropicSource) Name() string { return "anthropic" }

// Stream implements ModelSource.
func (a *AnthropicSource) Stream(ctx context.Context, messages []Message) (EventStream, error) {
	system, history := toAnthropicMessages(messages)
	return startStream(ctx, func(ctx context.Context, emit emitFunc) error {
		return a.run(ctx, system, history, emit)
	}), nil
}

func (a *AnthropicSource) run(ctx context.Context, system []anthropic.TextBlockParam, history []anthropic.MessageParam, emit emitFunc) error {
	ctx, span := tracer.Start(ctx, "AnthropicSource.Stream")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", a.model), attribute.Int("llm.num_messages", len(history)))

	for round := 0; round < maxToolRounds; round++ {
		params := anthropic.MessageNewParams{
			MaxTokens: a.maxTokens,
			Model:     anthropic.Model(a.model),
			Messages:  history,
			Tools:     toAnthropicTools(a.tools.List()),
		}
		if len(system) > 0 {
			params.System = system
		}
		if a.params.Temperature != nil {
			params.Temperature = anthropic.Float(float64(*a.params.Temperature))
		}

		resp, err := a.client.Messages.New(ctx, params)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("Anthropic API call failed: %w", err)
		}

		var (
			assistant []anthropic.ContentBlockParamUnion
			results   []anthropic.ContentBlockParamUnion
		)
		for _, block := range resp.Content {
			switch variant := block.AsAny().(type) {
			case anthropic.TextBlock:
				if variant.Text == "" {
					continue
				}
				assistant = append(assistant, anthropic.NewTextBlock(variant.Text))
				if err := emit(TokenEvent{Text: variant.Text}); err != nil {
					return err
				}
			case anthropic.ToolUseBlock:
				assistant = append(assistant, anthropic.NewToolUseBlock(variant.ID, variant.Input, variant.Name))
				output, isError, err := runTool(ctx, a.tools, emit, variant.Name, variant.Input)
				if err != nil {
					return err
				}
				results = append(results, anthropic.NewToolResultBlock(variant.ID, output, isError))
			}
		}

		if resp.StopReason != anthropic.StopReasonToolUse || len(results) == 0 {
			return nil
		}
		history = append(history,
			anthropic.NewAssistantMessage(assistant...),
			anthropic.NewUserMessage(results...),
		)
	}
	slog.Warn("Anthropic tool round limit reached", "rounds", maxToolRounds)
	return nil
}

// toAnthropicMessages lifts system messages into the system prompt.
// Anthropic requires the conversation to start with a user turn, so any
// leading assistant messages are dropped.
func toAnthropicMessages(msgs []Message) ([]anthropic.TextBlockParam, []anthropic.MessageParam) {
	var (
		systemTexts []string
		out         []anthropic.MessageParam
	)
	for _, m := range msgs {
		switch m.Role {
		case "system":
			if strings.TrimSpace(m.Content) != "" {
				systemTexts = append(systemTexts, m.Content)
			}
		case "assistant":
			if len(out) == 0 {
				continue
			}
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	var system []anthropic.TextBlockParam
	if len(systemTexts) > 0 {
		system = []anthropic.TextBlockParam{{Text: strings.Join(systemTexts, "\n\n")}}
	}
	return system, out
}

func toAnthropicTools(tools []Tool) []anthropic.ToolUnionParam {
	if len(tools) == 0 {
		return nil
	}
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		schema := anthropic.ToolInputSchemaParam{}
		params := t.Parameters()
		if props, ok := params["properties"]; ok {
			schema.Properties = props
		}
		if req, ok := params["required"].([]string); ok {
			schema.Required = req
		}
		tool := anthropic.ToolParam{
			Name:        t.Name(),
			InputSchema: schema,
		}
		if desc := strings.TrimSpace(t.Description()); desc != "" {
			tool.Description = anthropic.String(desc)
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &tool})
	}
	return out
}

var _ ModelSource = (*AnthropicSource)(nil)

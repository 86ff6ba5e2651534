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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const defaultOpenAIModel = "gpt-4o-mini"

// maxToolRounds bounds model -> tool -> model iterations in one turn.
const maxToolRounds = 5

// OpenAIConfig configures OpenAISource.
type OpenAIConfig struct {
	APIKey string
	Model  string

	// BaseURL overrides the API root, e.g. for a compatible gateway.
	BaseURL string
	Params  GenerationParams
}

// OpenAISource streams chat completions from the OpenAI API.
type OpenAISource struct {
	client *openai.Client
	model  string
	params GenerationParams
	tools  *ToolRegistry
}

// NewOpenAISource creates an OpenAI backend.
func NewOpenAISource(cfg OpenAIConfig, tools *ToolRegistry) (*OpenAISource, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultOpenAIModel
		slog.Warn("OpenAI model not set, using default", "model", cfg.Model)
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	slog.Info("Initializing OpenAI source", "model", cfg.Model)
	return &OpenAISource{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
		params: cfg.Params,
		tools:  tools,
	}, nil
}

// Name implements ModelSource.
func (o *OpenAISource) Name() string { return "openai" }

// Stream implements ModelSource.
func (o *OpenAISource) Stream(ctx context.Context, messages []Message) (EventStream, error) {
	history := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		history = append(history, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return startStream(ctx, func(ctx context.Context, emit emitFunc) error {
		return o.run(ctx, history, emit)
	}), nil
}

func (o *OpenAISource) run(ctx context.Context, history []openai.ChatCompletionMessage, emit emitFunc) error {
	ctx, span := tracer.Start(ctx, "OpenAISource.Stream")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", o.model), attribute.Int("llm.num_messages", len(history)))

	for round := 0; round < maxToolRounds; round++ {
		calls, err := o.streamRound(ctx, history, emit)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		if len(calls) == 0 {
			return nil
		}

		history = append(history, openai.ChatCompletionMessage{
			Role:      openai.ChatMessageRoleAssistant,
			ToolCalls: calls,
		})
		for _, call := range calls {
			output, _, err := runTool(ctx, o.tools, emit, call.Function.Name, json.RawMessage(call.Function.Arguments))
			if err != nil {
				return err
			}
			history = append(history, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    output,
				ToolCallID: call.ID,
			})
		}
	}
	slog.Warn("OpenAI tool round limit reached", "rounds", maxToolRounds)
	return nil
}

// streamRound runs one completion, emitting text deltas, and returns the
// tool calls the model asked for.
func (o *OpenAISource) streamRound(ctx context.Context, history []openai.ChatCompletionMessage, emit emitFunc) ([]openai.ToolCall, error) {
	req := openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: history,
		Stream:   true,
		Tools:    o.openAITools(),
	}
	if o.params.Temperature != nil {
		req.Temperature = *o.params.Temperature
	}
	if o.params.MaxTokens != nil {
		req.MaxCompletionTokens = *o.params.MaxTokens
	}

	stream, err := o.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("OpenAI stream failed: %w", err)
	}
	defer stream.Close()

	calls := make(map[int]*openai.ToolCall)
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("OpenAI stream recv: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}

		delta := resp.Choices[0].Delta
		if delta.Content != "" {
			if err := emit(TokenEvent{Text: delta.Content}); err != nil {
				return nil, err
			}
		}
		for _, tc := range delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			acc, ok := calls[idx]
			if !ok {
				acc = &openai.ToolCall{Type: openai.ToolTypeFunction}
				calls[idx] = acc
			}
			if tc.ID != "" {
				acc.ID = tc.ID
			}
			if tc.Function.Name != "" {
				acc.Function.Name = tc.Function.Name
			}
			acc.Function.Arguments += tc.Function.Arguments
		}
	}

	indexes := make([]int, 0, len(calls))
	for idx := range calls {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	out := make([]openai.ToolCall, 0, len(indexes))
	for _, idx := range indexes {
		out = append(out, *calls[idx])
	}
	return out, nil
}

func (o *OpenAISource) openAITools() []openai.Tool {
	list := o.tools.List()
	if len(list) == 0 {
		return nil
	}
	out := make([]openai.Tool, 0, len(list))
	for _, t := range list {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return out
}

var _ ModelSource = (*OpenAISource)(nil)

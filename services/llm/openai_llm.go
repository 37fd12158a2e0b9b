// Copyright (C) 2026 Cobalt Labs (eng@cobaltlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// Compile-time check that OpenAIClient satisfies LLMClient.
var _ LLMClient = (*OpenAIClient)(nil)

// OpenAIClient streams chat completions from any OpenAI-compatible server.
type OpenAIClient struct {
	client       *openai.Client
	defaultModel string
}

// NewOpenAIClient builds a client from environment configuration.
//
// LLM_BASE_URL points at the completion server (e.g. http://llamacpp:8080/v1);
// when unset the client talks to api.openai.com. The API key comes from
// OPENAI_API_KEY, falling back to the Podman secret at
// /run/secrets/openai_api_key. Local servers usually ignore the key, so a
// missing key with a custom base URL is allowed.
func NewOpenAIClient() (*OpenAIClient, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	baseURL := os.Getenv("LLM_BASE_URL")
	model := os.Getenv("LLM_MODEL")
	if apiKey == "" {
		secretPath := "/run/secrets/openai_api_key"
		apiKeyBytes, err := os.ReadFile(secretPath)
		if err == nil {
			apiKey = strings.TrimSpace(string(apiKeyBytes))
			slog.Info("Read the OpenAI API Key from Podman Secrets")
		} else if baseURL == "" {
			slog.Error("OPENAI_API_KEY environment variable not set and secret not found", "path", secretPath)
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
		} else {
			// Local OpenAI-compatible servers accept any key.
			apiKey = "unused"
		}
	}
	if model == "" {
		model = "gpt-4o-mini"
		slog.Warn("LLM_MODEL not set, defaulting to gpt-4o-mini")
	}
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	slog.Info("Initializing OpenAI-compatible LLM client", "model", model, "base_url", baseURL)
	return &OpenAIClient{
		client:       openai.NewClientWithConfig(config),
		defaultModel: model,
	}, nil
}

// ChatStream implements the LLMClient interface.
func (o *OpenAIClient) ChatStream(ctx context.Context, messages []Message, model string, params GenerationParams, callback StreamCallback) error {
	if len(messages) == 0 {
		return fmt.Errorf("ChatStream called with no messages")
	}
	if model == "" {
		model = o.defaultModel
	}
	slog.Debug("Streaming chat completion", "model", model, "messages", len(messages))

	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: make([]openai.ChatCompletionMessage, 0, len(messages)),
		Stream:   true,
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.MaxTokens != nil {
		req.MaxCompletionTokens = *params.MaxTokens
	}
	if params.TopP != nil {
		req.TopP = *params.TopP
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}

	stream, err := o.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		slog.Error("OpenAI stream creation failed", "error", err)
		return fmt.Errorf("OpenAI stream creation failed: %w", err)
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return callback(StreamEvent{Type: StreamEventDone})
		}
		if err != nil {
			slog.Error("OpenAI stream receive failed", "error", err)
			return fmt.Errorf("OpenAI stream receive failed: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		if err := callback(StreamEvent{Type: StreamEventToken, Content: delta}); err != nil {
			return err
		}
	}
}

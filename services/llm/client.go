// Copyright (C) 2026 Cobalt Labs (eng@cobaltlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package llm provides language model clients for the answer service.
//
// The package exposes a single streaming interface, LLMClient, backed by any
// OpenAI-compatible chat completion server (OpenAI itself, llama.cpp server,
// Ollama's /v1 endpoint, vLLM). The answer pipeline consumes tokens through
// a StreamCallback; backends never buffer whole responses.
package llm

import "context"

// Message is a single chat message in a completion request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationParams holds optional sampling parameters for a completion call.
// Nil pointer fields mean "use the backend default".
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// LLMClient defines the contract for streaming chat completion backends.
//
// # Description
//
// ChatStream submits the messages to the model and forwards each generated
// token to the callback as it arrives. The call returns nil after the model
// finishes naturally, or the first non-nil error from either the backend or
// the callback. Callers own all error-downgrade policy; backends report
// failures honestly.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use; one request may run the
// answer and related-question generations against the same client.
type LLMClient interface {
	// ChatStream streams a chat completion for the given messages and model.
	//
	// # Inputs
	//
	//   - ctx: Context for cancellation and timeout. Cancelling aborts the
	//     underlying stream.
	//   - messages: Conversation to complete. Must be non-empty.
	//   - model: Target model identifier. Empty string uses the backend default.
	//   - params: Sampling parameters. Zero value uses backend defaults.
	//   - callback: Invoked once per token event, in order, from the calling
	//     goroutine. A non-nil return aborts the stream.
	//
	// # Outputs
	//
	//   - error: Non-nil if the stream failed or the callback aborted it.
	//     A completed stream always ends with a StreamEventDone callback
	//     before ChatStream returns nil.
	ChatStream(ctx context.Context, messages []Message, model string, params GenerationParams, callback StreamCallback) error
}

// Copyright (C) 2026 Cobalt Labs (eng@cobaltlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/cobaltlabs/searchlight/services/answer/datatypes"
	"github.com/cobaltlabs/searchlight/services/llm"
)

// ErrAnswerDegraded reports that answer generation failed and the synthetic
// failure message was streamed in its place. The pipeline completes but the
// result must not be cached.
var ErrAnswerDegraded = errors.New("answer generation degraded")

// answerFailureMessage is streamed as a normal answer token when the model
// call fails mid-request. The client renders it like any other answer text.
const answerFailureMessage = "I ran into a problem while generating this answer. Please try again in a moment."

// maxAnswerTokens bounds a single answer generation.
const maxAnswerTokens = 2048

// maxDeepAnswerTokens bounds a deep-mode answer generation.
const maxDeepAnswerTokens = 8192

// maxRelatedTokens bounds related-question generation; three short
// questions never need more.
const maxRelatedTokens = 256

// Generator runs the two LLM passes of the ask pipeline and streams their
// tokens outward while accumulating the full text for caching.
//
// # Thread Safety
//
// Generator is safe for concurrent use; it holds no per-call state.
type Generator struct {
	client llm.LLMClient
}

// NewGenerator creates a Generator.
//
// Panics if client is nil since that is a wiring error.
func NewGenerator(client llm.LLMClient) *Generator {
	if client == nil {
		panic("NewGenerator: client is required")
	}
	return &Generator{client: client}
}

// StreamAnswer generates the answer for a query over the gathered evidence.
//
// # Description
//
// Tokens are forwarded to emit in generation order; the complete answer is
// returned for caching once the stream finishes. A non-nil error from emit
// aborts generation and propagates.
//
// # Inputs
//
//   - ctx: Context for cancellation and timeout.
//   - query: The normalized question.
//   - sources: Citation-ordered evidence; may be empty.
//   - mode: Answering strategy.
//   - model: Model override; empty uses the backend default.
//   - emit: Receives each answer token.
//
// # Outputs
//
//   - string: The complete answer text, or the synthetic failure message.
//   - error: ErrAnswerDegraded after a degraded run, a context error on
//     cancellation, nil otherwise. Backend failures never propagate raw.
func (g *Generator) StreamAnswer(ctx context.Context, query string, sources []datatypes.TextSource, mode datatypes.AskMode, model string, emit func(token string) error) (string, error) {
	messages := BuildAnswerMessages(query, sources, mode)

	maxTokens := maxAnswerTokens
	if mode == datatypes.ModeDeep {
		maxTokens = maxDeepAnswerTokens
	}
	params := llm.GenerationParams{MaxTokens: &maxTokens}

	answer, emitFailed, err := g.stream(ctx, messages, model, params, emit)
	if err != nil {
		if emitFailed || ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return "", err
		}
		// The stream is already live, so the failure becomes answer text
		// rather than an error the client would see as a broken stream.
		slog.Error("Answer generation failed, degrading to synthetic message", "error", err)
		if emitErr := emit(answerFailureMessage); emitErr != nil {
			return "", emitErr
		}
		return answerFailureMessage, ErrAnswerDegraded
	}
	slog.Debug("Answer generation complete", "answer_len", len(answer))
	return answer, nil
}

// StreamRelated generates follow-up questions from a finished answer.
//
// Runs after the answer pass, never concurrently with it, so the answer
// text is complete when this starts. It receives the same evidence list
// the answer pass cited from. Generation failures are swallowed and the
// stream simply carries no further related tokens.
func (g *Generator) StreamRelated(ctx context.Context, query string, sources []datatypes.TextSource, answer string, model string, emit func(token string) error) (string, error) {
	messages := BuildRelatedMessages(query, sources, answer)

	maxTokens := maxRelatedTokens
	params := llm.GenerationParams{MaxTokens: &maxTokens}

	related, emitFailed, err := g.stream(ctx, messages, model, params, emit)
	if err != nil {
		if emitFailed || ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return "", err
		}
		// Related questions are a nicety. A failure here ends the stream
		// cleanly with whatever already went out.
		slog.Warn("Related question generation failed, finishing without", "error", err)
		return "", nil
	}
	slog.Debug("Related question generation complete", "related_len", len(related))
	return related, nil
}

// stream runs one ChatStream call, forwarding tokens and accumulating the
// full text. emitFailed distinguishes a failing emit callback (the consumer
// went away) from a failing backend, since only the latter may degrade.
func (g *Generator) stream(ctx context.Context, messages []llm.Message, model string, params llm.GenerationParams, emit func(token string) error) (text string, emitFailed bool, err error) {
	var full strings.Builder
	err = g.client.ChatStream(ctx, messages, model, params, func(event llm.StreamEvent) error {
		if event.Type != llm.StreamEventToken {
			return nil
		}
		full.WriteString(event.Content)
		if emitErr := emit(event.Content); emitErr != nil {
			emitFailed = true
			return emitErr
		}
		return nil
	})
	if err != nil {
		return "", emitFailed, err
	}
	return full.String(), false, nil
}

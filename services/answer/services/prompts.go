// Copyright (C) 2026 Cobalt Labs (eng@cobaltlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package services implements the ask pipeline: evidence gathering,
// streamed answer and related-question generation, cache replay, and the
// fire-and-forget bookkeeping that follows a completed stream.
package services

import (
	"fmt"
	"strings"

	"github.com/cobaltlabs/searchlight/services/answer/datatypes"
	"github.com/cobaltlabs/searchlight/services/llm"
)

// =============================================================================
// System Prompts
// =============================================================================

// answerSystemPrompt drives simple-mode answer generation. Citation markers
// must be 1-based positions into the evidence block, which is also the
// order the sources event presented them to the client.
const answerSystemPrompt = `You are a search answer engine. Answer the user's question using ONLY the numbered sources provided.

Rules:
- Cite sources inline with citation markers, e.g. [citation:1] or [citation:2][citation:3].
- Citation numbers refer to the numbered sources below. Never invent numbers.
- If the sources do not contain the answer, say so briefly.
- Be concise: a few sentences for simple questions, short paragraphs otherwise.
- Answer in the language of the question.`

// deepAnswerSystemPrompt drives deep-mode generation: same citation
// contract, longer treatment.
const deepAnswerSystemPrompt = `You are a search answer engine. Write a thorough, structured answer to the user's question using ONLY the numbered sources provided.

Rules:
- Cite sources inline with citation markers, e.g. [citation:1] or [citation:2][citation:3].
- Citation numbers refer to the numbered sources below. Never invent numbers.
- Cover the question from multiple angles where the sources support it.
- Use short sections or paragraphs; no preamble.
- If the sources do not contain the answer, say so briefly.
- Answer in the language of the question.`

// relatedSystemPrompt drives related-question generation after the answer.
// It sees the same numbered evidence block as answer generation so the
// follow-ups stay grounded in what the sources can actually support.
const relatedSystemPrompt = `You suggest follow-up questions. Given a question, its numbered sources, and its answer, produce exactly three short follow-up questions the user is likely to ask next.

Rules:
- One question per line, no numbering, no bullets, no commentary.
- Prefer follow-ups the provided sources could answer.
- Each question must stand alone without the original context.
- Stay in the language of the original question.`

// =============================================================================
// Message Builders
// =============================================================================

// BuildAnswerMessages assembles the chat messages for answer generation.
//
// The evidence block numbers sources from 1 in slice order; the client
// resolves the answer's [citation:n] markers against the same order it
// received in the sources event.
func BuildAnswerMessages(query string, sources []datatypes.TextSource, mode datatypes.AskMode) []llm.Message {
	system := answerSystemPrompt
	if mode == datatypes.ModeDeep {
		system = deepAnswerSystemPrompt
	}

	var user strings.Builder
	if len(sources) == 0 {
		user.WriteString("No sources were found for this question. Say that you could not find supporting sources, then answer from general knowledge if you can, without citations.\n\n")
	} else {
		user.WriteString("Sources:\n\n")
		user.WriteString(evidenceBlock(sources))
		user.WriteString("\n")
	}
	user.WriteString("Question: ")
	user.WriteString(query)

	return []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user.String()},
	}
}

// BuildRelatedMessages assembles the chat messages for related-question
// generation from a finished answer. The evidence block is the same one
// answer generation saw, numbered in the same order.
func BuildRelatedMessages(query string, sources []datatypes.TextSource, answer string) []llm.Message {
	var user strings.Builder
	if len(sources) > 0 {
		user.WriteString("Sources:\n\n")
		user.WriteString(evidenceBlock(sources))
		user.WriteString("\n")
	}
	fmt.Fprintf(&user, "Question: %s\n\nAnswer:\n%s", query, answer)
	return []llm.Message{
		{Role: "system", Content: relatedSystemPrompt},
		{Role: "user", Content: user.String()},
	}
}

// evidenceBlock renders sources as a numbered list for the model. Full
// document content is preferred over the snippet when present (vector hits
// carry content, web hits usually only a snippet).
func evidenceBlock(sources []datatypes.TextSource) string {
	var b strings.Builder
	for i, src := range sources {
		body := src.Snippet
		if src.Content != "" {
			body = src.Content
		}
		fmt.Fprintf(&b, "[citation:%d] %s (%s)\n%s\n\n", i+1, src.Name, src.URL, body)
	}
	return b.String()
}

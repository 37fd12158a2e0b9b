// Copyright (C) 2026 Cobalt Labs (eng@cobaltlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes provides data structures for the answer service.
//
// This file contains the request, evidence, and stream event types for the
// ask pipeline (POST /v1/ask and its SSE response stream).
package datatypes

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// MaxQueryBytes is the maximum size of an ask query. Byte length, not
	// rune count, to bound memory on hostile payloads.
	MaxQueryBytes = 8 * 1024 // 8KB
)

// AskMode selects the answering strategy.
type AskMode string

const (
	// ModeSimple is a single-pass answer over the gathered evidence.
	ModeSimple AskMode = "simple"
	// ModeDeep requests a longer, more thorough answer.
	ModeDeep AskMode = "deep"
)

// SearchCategory narrows web search to one content category.
type SearchCategory string

const (
	CategoryAll    SearchCategory = "all"
	CategoryImages SearchCategory = "images"
	CategoryNews   SearchCategory = "news"
	CategoryVideos SearchCategory = "videos"
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// askValidate is the validator instance for ask datatypes.
// Initialized in init() with custom validators.
var askValidate *validator.Validate

func init() {
	askValidate = validator.New()
	_ = askValidate.RegisterValidation("maxbytes", validateMaxQueryBytes)
}

// validateMaxQueryBytes checks that a string field does not exceed MaxQueryBytes.
func validateMaxQueryBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxQueryBytes
}

// =============================================================================
// Ask Request
// =============================================================================

// AskRequest represents an ask request body.
//
// # Description
//
// AskRequest carries the user's question plus the optional knobs that shape
// evidence gathering and generation. This is the body of POST /v1/ask.
//
// # Fields
//
//   - Query: Required. The question to answer. Limited to 8KB.
//   - UseCache: When true, a previously cached result for the same trimmed
//     query is replayed instead of running the pipeline.
//   - Mode: Optional answering strategy ("simple" or "deep"). Empty means
//     simple.
//   - Model: Optional model identifier forwarded to the LLM backend. Empty
//     means the backend default.
//   - Source: Optional web search category ("all", "images", "news",
//     "videos"). Empty means all.
//
// # Validation
//
// Uses go-playground/validator:
//   - Query: required, max 8192 bytes
//   - Mode: empty or one of simple|deep
//   - Source: empty or one of all|images|news|videos
//
// # Examples
//
//	req := AskRequest{
//	    Query:    "What is the tallest mountain in the Alps?",
//	    UseCache: true,
//	}
//
// # Assumptions
//
//   - Query is UTF-8 text; leading and trailing whitespace is not
//     significant (see Normalize)
type AskRequest struct {
	Query    string         `json:"query" validate:"required,maxbytes"`
	UseCache bool           `json:"useCache"`
	Mode     AskMode        `json:"mode" validate:"omitempty,oneof=simple deep"`
	Model    string         `json:"model" validate:"omitempty,max=128"`
	Source   SearchCategory `json:"source" validate:"omitempty,oneof=all images news videos"`
}

// Validate validates the AskRequest fields after JSON binding.
func (r *AskRequest) Validate() error {
	return askValidate.Struct(r)
}

// Normalize trims the query and fills optional fields with their defaults.
// The trimmed query is also the cache key, so normalization must happen
// before any cache lookup.
func (r *AskRequest) Normalize() {
	r.Query = strings.TrimSpace(r.Query)
	if r.Mode == "" {
		r.Mode = ModeSimple
	}
	if r.Source == "" {
		r.Source = CategoryAll
	}
}

// =============================================================================
// Evidence Types
// =============================================================================

// TextSource is one text evidence item shown to the user and fed to the
// model. Citation numbers in the answer are 1-based positions into the
// sources list, so the order of a sources slice is part of the contract.
type TextSource struct {
	Name    string `json:"name"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
	Content string `json:"content,omitempty"`
	Engine  string `json:"engine,omitempty"`
}

// ImageSource is one image evidence item.
type ImageSource struct {
	URL       string `json:"url"`
	Thumbnail string `json:"thumbnail,omitempty"`
	Title     string `json:"title,omitempty"`
	SourceURL string `json:"source_url,omitempty"`
}

// CachedResult is the complete outcome of one ask pipeline run, stored so a
// later identical query can be replayed without re-running the pipeline.
type CachedResult struct {
	Sources   []TextSource  `json:"webs"`
	Images    []ImageSource `json:"images"`
	Answer    string        `json:"answer"`
	Related   string        `json:"related"`
	Timestamp int64         `json:"timestamp"`
}

// =============================================================================
// Stream Events
// =============================================================================

// StreamEventType discriminates SSE frames on the ask stream.
type StreamEventType string

const (
	// EventSources carries the ordered text evidence list. Always the first
	// frame on the stream.
	EventSources StreamEventType = "sources"
	// EventAnswer carries one chunk of answer text.
	EventAnswer StreamEventType = "answer"
	// EventImages carries the image evidence list. Emitted at most once.
	EventImages StreamEventType = "images"
	// EventRelated carries one chunk of related question text.
	EventRelated StreamEventType = "related"
)

// StreamEvent is one frame on the ask SSE stream. Exactly one payload field
// is populated, selected by Type; the wire form is a single-key JSON object.
type StreamEvent struct {
	Type    StreamEventType
	Sources []TextSource
	Images  []ImageSource
	Text    string
}

// MarshalJSON renders the event as a single-key object keyed by Type.
//
// Empty slices marshal as [] rather than being dropped: a sources frame with
// no evidence is still a frame the client must see.
func (e StreamEvent) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventSources:
		sources := e.Sources
		if sources == nil {
			sources = []TextSource{}
		}
		return json.Marshal(map[string][]TextSource{"sources": sources})
	case EventImages:
		images := e.Images
		if images == nil {
			images = []ImageSource{}
		}
		return json.Marshal(map[string][]ImageSource{"images": images})
	case EventAnswer:
		return json.Marshal(map[string]string{"answer": e.Text})
	case EventRelated:
		return json.Marshal(map[string]string{"related": e.Text})
	}
	return nil, fmt.Errorf("unknown stream event type %q", e.Type)
}

// NewSourcesEvent builds a sources frame.
func NewSourcesEvent(sources []TextSource) StreamEvent {
	return StreamEvent{Type: EventSources, Sources: sources}
}

// NewImagesEvent builds an images frame.
func NewImagesEvent(images []ImageSource) StreamEvent {
	return StreamEvent{Type: EventImages, Images: images}
}

// NewAnswerEvent builds an answer token frame.
func NewAnswerEvent(text string) StreamEvent {
	return StreamEvent{Type: EventAnswer, Text: text}
}

// NewRelatedEvent builds a related question token frame.
func NewRelatedEvent(text string) StreamEvent {
	return StreamEvent{Type: EventRelated, Text: text}
}

// =============================================================================
// Identity
// =============================================================================

// Identity describes the caller of one request.
//
// Anonymous callers are identified by client IP for rate limiting; signed-in
// callers carry a stable UserID used for usage accounting and per-user
// vector search.
type Identity struct {
	UserID    string
	ClientIP  string
	Anonymous bool
}

// AccountingID returns the key usage counters are tracked under.
func (i Identity) AccountingID() string {
	if i.Anonymous {
		return "anon:" + i.ClientIP
	}
	return i.UserID
}

// UsageResponse is the body of GET /v1/usage.
type UsageResponse struct {
	UserID   string `json:"user_id"`
	Searches uint64 `json:"searches"`
}

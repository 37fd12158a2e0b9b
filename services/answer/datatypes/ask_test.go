// Copyright (C) 2026 Cobalt Labs (eng@cobaltlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"encoding/json"
	"strings"
	"testing"
)

// =============================================================================
// AskRequest Validation Tests
// =============================================================================

func TestAskRequest_Validate_Success(t *testing.T) {
	req := &AskRequest{
		Query:    "What is the tallest mountain in the Alps?",
		UseCache: true,
	}

	if err := req.Validate(); err != nil {
		t.Errorf("expected valid request, got error: %v", err)
	}
}

func TestAskRequest_Validate_MissingQuery(t *testing.T) {
	req := &AskRequest{}

	if err := req.Validate(); err == nil {
		t.Error("expected error for missing query, got nil")
	}
}

func TestAskRequest_Validate_QueryTooLarge(t *testing.T) {
	req := &AskRequest{
		Query: strings.Repeat("x", MaxQueryBytes+1),
	}

	if err := req.Validate(); err == nil {
		t.Errorf("expected error for query over %d bytes, got nil", MaxQueryBytes)
	}
}

func TestAskRequest_Validate_ExactlyMaxQuery(t *testing.T) {
	req := &AskRequest{
		Query: strings.Repeat("x", MaxQueryBytes),
	}

	if err := req.Validate(); err != nil {
		t.Errorf("expected valid request at exactly %d bytes, got error: %v",
			MaxQueryBytes, err)
	}
}

func TestAskRequest_Validate_InvalidMode(t *testing.T) {
	req := &AskRequest{
		Query: "hello",
		Mode:  "extreme",
	}

	if err := req.Validate(); err == nil {
		t.Error("expected error for invalid mode, got nil")
	}
}

func TestAskRequest_Validate_InvalidSource(t *testing.T) {
	req := &AskRequest{
		Query:  "hello",
		Source: "podcasts",
	}

	if err := req.Validate(); err == nil {
		t.Error("expected error for invalid source, got nil")
	}
}

func TestAskRequest_Validate_ValidModeAndSource(t *testing.T) {
	req := &AskRequest{
		Query:  "hello",
		Mode:   ModeDeep,
		Source: CategoryNews,
	}

	if err := req.Validate(); err != nil {
		t.Errorf("expected valid request, got error: %v", err)
	}
}

// =============================================================================
// AskRequest Normalize Tests
// =============================================================================

func TestAskRequest_Normalize_TrimsQuery(t *testing.T) {
	req := &AskRequest{Query: "  spaced out \n"}
	req.Normalize()

	if req.Query != "spaced out" {
		t.Errorf("expected trimmed query, got %q", req.Query)
	}
}

func TestAskRequest_Normalize_Defaults(t *testing.T) {
	req := &AskRequest{Query: "hello"}
	req.Normalize()

	if req.Mode != ModeSimple {
		t.Errorf("expected default mode %q, got %q", ModeSimple, req.Mode)
	}
	if req.Source != CategoryAll {
		t.Errorf("expected default source %q, got %q", CategoryAll, req.Source)
	}
}

func TestAskRequest_Normalize_PreservesExplicitValues(t *testing.T) {
	req := &AskRequest{Query: "hello", Mode: ModeDeep, Source: CategoryImages}
	req.Normalize()

	if req.Mode != ModeDeep || req.Source != CategoryImages {
		t.Errorf("normalize should not override explicit values, got mode=%q source=%q",
			req.Mode, req.Source)
	}
}

// =============================================================================
// StreamEvent Marshal Tests
// =============================================================================

func TestStreamEvent_Marshal_Sources(t *testing.T) {
	event := NewSourcesEvent([]TextSource{
		{Name: "Example", URL: "https://example.com", Snippet: "snippet"},
	})

	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if !strings.HasPrefix(string(data), `{"sources":[`) {
		t.Errorf("expected single-key sources object, got %s", data)
	}
	if strings.Contains(string(data), "answer") {
		t.Errorf("sources event should not carry other keys, got %s", data)
	}
}

func TestStreamEvent_Marshal_EmptySources(t *testing.T) {
	event := NewSourcesEvent(nil)

	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(data) != `{"sources":[]}` {
		t.Errorf("nil sources should marshal as empty array, got %s", data)
	}
}

func TestStreamEvent_Marshal_EmptyImages(t *testing.T) {
	event := NewImagesEvent(nil)

	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(data) != `{"images":[]}` {
		t.Errorf("nil images should marshal as empty array, got %s", data)
	}
}

func TestStreamEvent_Marshal_Answer(t *testing.T) {
	data, err := json.Marshal(NewAnswerEvent("Mont Blanc"))
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(data) != `{"answer":"Mont Blanc"}` {
		t.Errorf("unexpected answer frame: %s", data)
	}
}

func TestStreamEvent_Marshal_Related(t *testing.T) {
	data, err := json.Marshal(NewRelatedEvent("How tall"))
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(data) != `{"related":"How tall"}` {
		t.Errorf("unexpected related frame: %s", data)
	}
}

func TestStreamEvent_Marshal_UnknownType(t *testing.T) {
	if _, err := json.Marshal(StreamEvent{Type: "bogus"}); err == nil {
		t.Error("marshal of an unknown event type should fail")
	}
}

// =============================================================================
// Identity Tests
// =============================================================================

func TestIdentity_AccountingID_Anonymous(t *testing.T) {
	id := Identity{ClientIP: "203.0.113.9", Anonymous: true}

	if got := id.AccountingID(); got != "anon:203.0.113.9" {
		t.Errorf("expected anon accounting id, got %q", got)
	}
}

func TestIdentity_AccountingID_SignedIn(t *testing.T) {
	id := Identity{UserID: "user-42", Anonymous: false}

	if got := id.AccountingID(); got != "user-42" {
		t.Errorf("expected user id, got %q", got)
	}
}

// Copyright (C) 2026 Cobalt Labs (eng@cobaltlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package search

import (
	"context"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"go.opentelemetry.io/otel/codes"

	"github.com/cobaltlabs/searchlight/services/answer/datatypes"
)

// documentClass is the Weaviate class holding user-uploaded documents.
const documentClass = "Document"

// WeaviateEngine implements VectorEngine using Weaviate hybrid search.
//
// # Description
//
// WeaviateEngine retrieves a user's private documents through a hybrid
// (BM25 + vector) query against the Document class, filtered by user_id so
// one user can never see another's documents.
//
// # Thread Safety
//
// WeaviateEngine is safe for concurrent use. The underlying Weaviate client
// handles connection pooling.
type WeaviateEngine struct {
	client *weaviate.Client
	alpha  float32
}

// Compile-time check that WeaviateEngine satisfies VectorEngine.
var _ VectorEngine = (*WeaviateEngine)(nil)

// NewWeaviateEngine creates a vector engine over the given client.
//
// # Inputs
//
//   - client: Connected Weaviate client. Panics if nil since this is a
//     wiring error.
//   - alpha: Hybrid search weighting in [0, 1]; 0 is pure keyword, 1 is
//     pure vector. Out-of-range values fall back to 0.5.
func NewWeaviateEngine(client *weaviate.Client, alpha float32) *WeaviateEngine {
	if client == nil {
		panic("NewWeaviateEngine: client is required")
	}
	if alpha < 0 || alpha > 1 {
		slog.Warn("Invalid hybrid alpha, using default", "provided", alpha, "default", 0.5)
		alpha = 0.5
	}
	return &WeaviateEngine{client: client, alpha: alpha}
}

// Search implements the VectorEngine interface.
//
// # Description
//
// Runs a hybrid query over the Document class scoped to userID and maps the
// hits to text sources, best match first. A user with no documents gets an
// empty slice, not an error.
//
// # Inputs
//
//   - ctx: Context for cancellation and timeout.
//   - userID: Owner whose documents to search. Must be non-empty.
//   - query: The question to match against.
//   - limit: Maximum documents to return. Values < 1 fall back to 5.
func (w *WeaviateEngine) Search(ctx context.Context, userID string, query string, limit int) ([]datatypes.TextSource, error) {
	ctx, span := tracer.Start(ctx, "WeaviateSearch")
	defer span.End()

	if userID == "" {
		return nil, fmt.Errorf("vector search requires a user id")
	}
	if limit < 1 {
		limit = 5
	}

	userFilter := filters.Where().
		WithPath([]string{"user_id"}).
		WithOperator(filters.Equal).
		WithValueString(userID)

	hybrid := w.client.GraphQL().HybridArgumentBuilder().
		WithQuery(query).
		WithAlpha(w.alpha)

	fields := []graphql.Field{
		{Name: "title"},
		{Name: "url"},
		{Name: "content"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "score"},
		}},
	}

	result, err := w.client.GraphQL().Get().
		WithClassName(documentClass).
		WithFields(fields...).
		WithWhere(userFilter).
		WithHybrid(hybrid).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "weaviate hybrid search failed")
		slog.Error("Weaviate hybrid search failed", "error", err)
		return nil, fmt.Errorf("weaviate search failed: %w", err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.DocumentQueryResponse](result)
	if err != nil {
		slog.Error("Failed to parse Weaviate search results", "error", err)
		return nil, fmt.Errorf("failed to parse results: %w", err)
	}

	sources := make([]datatypes.TextSource, 0, len(parsed.Get.Document))
	for _, doc := range parsed.Get.Document {
		name := doc.Title
		if name == "" {
			name = doc.URL
		}
		sources = append(sources, datatypes.TextSource{
			Name:    name,
			URL:     doc.URL,
			Snippet: snippetOf(doc.Content),
			Content: doc.Content,
			Engine:  "documents",
		})
	}

	slog.Debug("Weaviate search complete", "user_id", userID, "hits", len(sources))
	return sources, nil
}

// snippetOf truncates document content to a display snippet. The cut backs
// off to a rune boundary so multi-byte characters are never split.
func snippetOf(content string) string {
	const maxSnippet = 300
	if len(content) <= maxSnippet {
		return content
	}
	cut := maxSnippet
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return content[:cut]
}

// Copyright (C) 2026 Cobalt Labs (eng@cobaltlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/cobaltlabs/searchlight/services/answer/datatypes"
)

var tracer = otel.Tracer("searchlight.answer.search")

// searxResult is one result object in a SearxNG JSON response.
type searxResult struct {
	Title        string `json:"title"`
	URL          string `json:"url"`
	Content      string `json:"content"`
	ImgSrc       string `json:"img_src"`
	ThumbnailSrc string `json:"thumbnail_src"`
	Engine       string `json:"engine"`
}

// searxResponse is the body of a SearxNG /search?format=json response.
type searxResponse struct {
	Results []searxResult `json:"results"`
}

// SearxNGEngine implements WebEngine against a SearxNG instance.
//
// # Description
//
// SearxNGEngine queries the JSON API of a self-hosted SearxNG metasearch
// instance. One Search call maps to one GET /search request; the category
// selects SearxNG's general, images, news, or videos category.
//
// # Thread Safety
//
// SearxNGEngine is safe for concurrent use. The underlying http.Client
// handles connection pooling.
type SearxNGEngine struct {
	httpClient *http.Client
	baseURL    string
	maxResults int
}

// Compile-time check that SearxNGEngine satisfies WebEngine.
var _ WebEngine = (*SearxNGEngine)(nil)

// NewSearxNGEngine creates a web engine for the given SearxNG base URL.
//
// # Inputs
//
//   - baseURL: SearxNG instance root, e.g. "http://searxng:8080". Must be
//     non-empty; panics otherwise since this is a wiring error.
//   - maxResults: Cap on results per search. Values < 1 fall back to 10.
func NewSearxNGEngine(baseURL string, maxResults int) *SearxNGEngine {
	if baseURL == "" {
		panic("NewSearxNGEngine: baseURL is required")
	}
	if maxResults < 1 {
		slog.Warn("Invalid maxResults for SearxNG engine, using default",
			"provided", maxResults, "default", 10)
		maxResults = 10
	}
	return &SearxNGEngine{
		httpClient: &http.Client{Timeout: 20 * time.Second},
		baseURL:    baseURL,
		maxResults: maxResults,
	}
}

// Search implements the WebEngine interface.
//
// # Description
//
// Runs one metasearch query and splits the results into text and image
// evidence. Results carrying an img_src populate the image list; everything
// else becomes a text source in SearxNG's rank order.
//
// # Outputs
//
//   - Bundle: Text and image evidence. Empty on zero hits.
//   - error: Non-nil for transport failures, non-200 responses, and
//     malformed bodies.
func (s *SearxNGEngine) Search(ctx context.Context, query string, category datatypes.SearchCategory) (Bundle, error) {
	ctx, span := tracer.Start(ctx, "SearxNGSearch")
	defer span.End()

	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	if cat := searxCategory(category); cat != "" {
		params.Set("categories", cat)
	}

	reqURL := fmt.Sprintf("%s/search?%s", s.baseURL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return Bundle{}, fmt.Errorf("failed to build SearxNG request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "searxng request failed")
		slog.Error("SearxNG request failed", "error", err)
		return Bundle{}, fmt.Errorf("SearxNG request failed: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("Failed to close SearxNG response body", "error", err)
		}
	}()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return Bundle{}, fmt.Errorf("failed to read SearxNG response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		slog.Error("SearxNG returned non-200", "status", resp.StatusCode)
		return Bundle{}, fmt.Errorf("SearxNG returned status %d", resp.StatusCode)
	}

	var parsed searxResponse
	if err := json.Unmarshal(bodyBytes, &parsed); err != nil {
		return Bundle{}, fmt.Errorf("failed to parse SearxNG response: %w", err)
	}

	bundle := s.splitResults(parsed.Results)
	slog.Debug("SearxNG search complete",
		"query_len", len(query),
		"category", string(category),
		"texts", len(bundle.Texts),
		"images", len(bundle.Images))
	return bundle, nil
}

// splitResults partitions raw results into text and image evidence, each
// capped at maxResults.
func (s *SearxNGEngine) splitResults(results []searxResult) Bundle {
	var bundle Bundle
	for _, r := range results {
		if r.ImgSrc != "" {
			if len(bundle.Images) >= s.maxResults {
				continue
			}
			bundle.Images = append(bundle.Images, datatypes.ImageSource{
				URL:       r.ImgSrc,
				Thumbnail: r.ThumbnailSrc,
				Title:     r.Title,
				SourceURL: r.URL,
			})
			continue
		}
		if len(bundle.Texts) >= s.maxResults {
			continue
		}
		bundle.Texts = append(bundle.Texts, datatypes.TextSource{
			Name:    r.Title,
			URL:     r.URL,
			Snippet: r.Content,
			Engine:  r.Engine,
		})
	}
	return bundle
}

// searxCategory maps a request category to SearxNG's category parameter.
// CategoryAll maps to empty, letting the instance defaults apply.
func searxCategory(category datatypes.SearchCategory) string {
	switch category {
	case datatypes.CategoryImages:
		return "images"
	case datatypes.CategoryNews:
		return "news"
	case datatypes.CategoryVideos:
		return "videos"
	}
	return ""
}

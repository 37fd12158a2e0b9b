// Copyright (C) 2026 Cobalt Labs (eng@cobaltlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cobaltlabs/searchlight/services/answer/cache"
	"github.com/cobaltlabs/searchlight/services/answer/datatypes"
	"github.com/cobaltlabs/searchlight/services/answer/handlers"
	"github.com/cobaltlabs/searchlight/services/answer/middleware"
	"github.com/cobaltlabs/searchlight/services/answer/search"
	"github.com/cobaltlabs/searchlight/services/answer/services"
	"github.com/cobaltlabs/searchlight/services/llm"
)

type nullCache struct{}

func (nullCache) GetResult(ctx context.Context, query string) (*datatypes.CachedResult, error) {
	return nil, cache.ErrCacheMiss
}
func (nullCache) SetResult(ctx context.Context, query string, result *datatypes.CachedResult) error {
	return nil
}
func (nullCache) IncSearchCount(ctx context.Context, accountingID string) (uint64, error) {
	return 1, nil
}
func (nullCache) SearchCount(ctx context.Context, accountingID string) (uint64, error) {
	return 0, nil
}

type nullWeb struct{}

func (nullWeb) Search(ctx context.Context, query string, category datatypes.SearchCategory) (search.Bundle, error) {
	return search.Bundle{}, nil
}

type nullVector struct{}

func (nullVector) Search(ctx context.Context, userID string, query string, limit int) ([]datatypes.TextSource, error) {
	return nil, nil
}

type nullLLM struct{}

func (nullLLM) ChatStream(ctx context.Context, messages []llm.Message, model string, params llm.GenerationParams, callback llm.StreamCallback) error {
	if err := callback(llm.StreamEvent{Type: llm.StreamEventToken, Content: "ok"}); err != nil {
		return err
	}
	return callback(llm.StreamEvent{Type: llm.StreamEventDone})
}

type nullRunner struct{}

func (nullRunner) Go(name string, fn func(ctx context.Context) error) error {
	return fn(context.Background())
}

func newTestEngine(t *testing.T, allowed int) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	svc := services.NewAskService(nullCache{}, nullWeb{}, nullVector{}, services.NewGenerator(nullLLM{}), nullRunner{}, nil)
	router := gin.New()
	SetupRoutes(router, Deps{
		Ask:       handlers.NewAskHandler(svc, nil, 0),
		Validator: middleware.StaticValidator{"token-1": "user-1"},
		RateGate:  middleware.NewRateGate(allowed, time.Hour),
	})
	return router
}

func TestHealthz(t *testing.T) {
	router := newTestEngine(t, 10)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("healthz status = %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	router := newTestEngine(t, 10)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("metrics status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Error("metrics output missing default collectors")
	}
}

func TestAskRouteStreams(t *testing.T) {
	router := newTestEngine(t, 10)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/ask", strings.NewReader(`{"query":"q"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("ask status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("Content-Type = %q", got)
	}
}

func TestAskRouteRateLimitsAnonymous(t *testing.T) {
	router := newTestEngine(t, 2)

	status := func() int {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/ask", strings.NewReader(`{"query":"q"}`))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "198.51.100.7:40000"
		router.ServeHTTP(rec, req)
		return rec.Code
	}

	if status() != http.StatusOK || status() != http.StatusOK {
		t.Fatal("first two anonymous requests should pass")
	}
	if got := status(); got != http.StatusTooManyRequests {
		t.Errorf("third anonymous request status = %d, want 429", got)
	}
}

func TestAskRouteSignedInBypassesLimit(t *testing.T) {
	router := newTestEngine(t, 1)

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/ask", strings.NewReader(`{"query":"q"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer token-1")
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("signed-in request %d status = %d", i, rec.Code)
		}
	}
}

func TestUsageRoute(t *testing.T) {
	router := newTestEngine(t, 10)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/usage", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("usage status = %d", rec.Code)
	}
}

// Copyright (C) 2026 Cobalt Labs (eng@cobaltlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func newRateLimitedRouter(gate *RateGate, validator TokenValidator) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(IdentityMiddleware(validator, false))
	router.Use(AnonymousRateLimit(gate, nil))
	router.GET("/probe", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return router
}

func probeFrom(router *gin.Engine, remoteAddr, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.RemoteAddr = remoteAddr
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRateGate_AllowsBurstThenRejects(t *testing.T) {
	t.Parallel()

	gate := NewRateGate(3, 24*time.Hour)

	for i := 0; i < 3; i++ {
		if !gate.Allow("203.0.113.9") {
			t.Fatalf("request %d should be within the allowance", i+1)
		}
	}
	if gate.Allow("203.0.113.9") {
		t.Error("request beyond the allowance should be rejected")
	}
}

func TestRateGate_SeparateIPsIndependent(t *testing.T) {
	t.Parallel()

	gate := NewRateGate(1, 24*time.Hour)

	if !gate.Allow("203.0.113.9") {
		t.Fatal("first IP should be allowed")
	}
	if !gate.Allow("198.51.100.7") {
		t.Error("second IP should have its own allowance")
	}
	if gate.Allow("203.0.113.9") {
		t.Error("first IP should be out of tokens")
	}
}

func TestRateGate_Refills(t *testing.T) {
	t.Parallel()

	// 10 tokens per second: spent tokens return quickly.
	gate := NewRateGate(1, 100*time.Millisecond)

	if !gate.Allow("203.0.113.9") {
		t.Fatal("first request should pass")
	}
	if gate.Allow("203.0.113.9") {
		t.Fatal("second immediate request should be rejected")
	}
	time.Sleep(150 * time.Millisecond)
	if !gate.Allow("203.0.113.9") {
		t.Error("request after refill window should pass")
	}
}

func TestAnonymousRateLimit_RejectsWith429(t *testing.T) {
	router := newRateLimitedRouter(NewRateGate(1, 24*time.Hour), StaticValidator{})

	if w := probeFrom(router, "203.0.113.9:1000", ""); w.Code != http.StatusOK {
		t.Fatalf("first anonymous request should pass, got %d", w.Code)
	}
	w := probeFrom(router, "203.0.113.9:1001", "")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("exhausted anonymous caller should get 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("429 response should carry a Retry-After hint")
	}
}

func TestAnonymousRateLimit_SignedInBypasses(t *testing.T) {
	router := newRateLimitedRouter(NewRateGate(1, 24*time.Hour), StaticValidator{"tok": "user-42"})

	for i := 0; i < 5; i++ {
		if w := probeFrom(router, "203.0.113.9:1000", "tok"); w.Code != http.StatusOK {
			t.Fatalf("signed-in request %d should bypass the gate, got %d", i+1, w.Code)
		}
	}
}

func TestAnonymousRateLimit_SignedInDoesNotSpendAnonymousTokens(t *testing.T) {
	router := newRateLimitedRouter(NewRateGate(1, 24*time.Hour), StaticValidator{"tok": "user-42"})

	// Signed-in traffic from the same IP must not consume the anonymous
	// allowance.
	if w := probeFrom(router, "203.0.113.9:1000", "tok"); w.Code != http.StatusOK {
		t.Fatalf("signed-in request should pass, got %d", w.Code)
	}
	if w := probeFrom(router, "203.0.113.9:1001", ""); w.Code != http.StatusOK {
		t.Errorf("anonymous allowance should be untouched, got %d", w.Code)
	}
}

// Copyright (C) 2026 Cobalt Labs (eng@cobaltlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package middleware

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/cobaltlabs/searchlight/services/answer/observability"
)

const (
	rateGateCleanupInterval = 5 * time.Minute
	rateGateStaleThreshold  = 30 * time.Minute
)

// RateGate implements per-IP rate limiting for anonymous callers using a
// token bucket per IP. Cleanup of stale entries happens inline during
// Allow() calls.
//
// Thread Safety: RateGate is safe for concurrent use.
type RateGate struct {
	mu          sync.Mutex
	visitors    map[string]*visitor
	limit       rate.Limit
	burst       int
	lastCleanup time.Time
}

// visitor holds a token bucket and last-seen time for a single IP.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateGate creates a rate gate allowing `allowed` requests per `window`
// for each IP, with an initial allowance of `allowed` tokens.
//
// # Description
//
// The bucket refills continuously at allowed/window, which approximates a
// sliding window: an anonymous caller who spends the whole allowance must
// wait window/allowed between further requests.
//
// # Inputs
//
//   - allowed: Request allowance per window. Values < 1 fall back to 3.
//   - window: Refill window. Values <= 0 fall back to 24h.
func NewRateGate(allowed int, window time.Duration) *RateGate {
	if allowed < 1 {
		slog.Warn("Invalid rate gate allowance, using default", "provided", allowed, "default", 3)
		allowed = 3
	}
	if window <= 0 {
		slog.Warn("Invalid rate gate window, using default", "provided", window, "default", "24h")
		window = 24 * time.Hour
	}
	return &RateGate{
		visitors:    make(map[string]*visitor),
		limit:       rate.Limit(float64(allowed) / window.Seconds()),
		burst:       allowed,
		lastCleanup: time.Now(),
	}
}

// Allow reports whether a request from the given IP may proceed, consuming
// one token if so.
func (g *RateGate) Allow(ip string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()

	if now.Sub(g.lastCleanup) > rateGateCleanupInterval {
		for k, v := range g.visitors {
			if now.Sub(v.lastSeen) > rateGateStaleThreshold {
				delete(g.visitors, k)
			}
		}
		g.lastCleanup = now
	}

	v, exists := g.visitors[ip]
	if !exists {
		limiter := rate.NewLimiter(g.limit, g.burst)
		g.visitors[ip] = &visitor{
			limiter:  limiter,
			lastSeen: now,
		}
		limiter.Allow()
		return true
	}

	v.lastSeen = now
	return v.limiter.Allow()
}

// AnonymousRateLimit creates a Gin middleware that gates anonymous callers.
//
// # Description
//
// Signed-in callers pass through untouched; only anonymous identities spend
// tokens. Rejected requests get 429 with a Retry-After hint. Must run after
// IdentityMiddleware; requests without an identity are treated as anonymous
// by RemoteAddr, which fails closed rather than open.
//
// # Inputs
//
//   - gate: The shared RateGate. Must not be nil; panics otherwise since
//     this is a wiring error.
//   - metrics: Optional metrics sink for rejection counts. May be nil.
func AnonymousRateLimit(gate *RateGate, metrics *observability.AskMetrics) gin.HandlerFunc {
	if gate == nil {
		panic("AnonymousRateLimit: gate is required")
	}
	return func(c *gin.Context) {
		identity, ok := GetIdentity(c)
		if ok && !identity.Anonymous {
			c.Next()
			return
		}

		ip := identity.ClientIP
		if !ok || ip == "" {
			ip = clientIP(c.Request, false)
		}

		if !gate.Allow(ip) {
			slog.Warn("Anonymous rate limit exceeded",
				"ip", ip,
				"path", c.Request.URL.Path)
			if metrics != nil {
				metrics.RecordRateLimited()
			}
			c.Header("Retry-After", "3600")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "Rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

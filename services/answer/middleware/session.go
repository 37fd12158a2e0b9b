// Copyright (C) 2026 Cobalt Labs (eng@cobaltlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package middleware provides HTTP middleware for the answer service.
//
// # Identity Flow
//
// The identity middleware extracts a bearer token from the Authorization
// header. A valid token yields a signed-in Identity with a stable user id;
// a missing token yields an anonymous Identity keyed by client IP. Either
// way the Identity lands in the Gin context for downstream handlers, so
// every request has exactly one caller identity.
//
//	Request
//	   │
//	   ▼
//	IdentityMiddleware
//	   │
//	   ├─► Extract token from "Authorization: Bearer <token>"
//	   │
//	   ├─► token == ""  → anonymous Identity (client IP)
//	   ├─► token != ""  → validator.Validate(ctx, token) → signed-in Identity
//	   │
//	   └─► Store Identity in context
//	           │
//	           ▼
//	       Handler (retrieves via GetIdentity)
package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cobaltlabs/searchlight/services/answer/datatypes"
)

// identityKey is the context key for storing the caller Identity.
// Using a namespaced key prevents collisions with other context values.
const identityKey = "searchlight_identity"

// ErrUnauthorized is returned by validators for tokens that fail validation.
var ErrUnauthorized = errors.New("unauthorized")

// TokenValidator validates bearer tokens and resolves them to user ids.
type TokenValidator interface {
	// Validate returns the stable user id for a token, or ErrUnauthorized
	// (possibly wrapped) when the token is invalid.
	Validate(ctx context.Context, token string) (string, error)
}

// StaticValidator is a TokenValidator backed by a fixed token-to-user map.
// Suitable for single-tenant local deployments and tests.
type StaticValidator map[string]string

// Validate implements the TokenValidator interface.
func (v StaticValidator) Validate(_ context.Context, token string) (string, error) {
	userID, ok := v[token]
	if !ok {
		return "", ErrUnauthorized
	}
	return userID, nil
}

// SetIdentity stores the caller identity in the Gin context.
func SetIdentity(c *gin.Context, identity datatypes.Identity) {
	c.Set(identityKey, identity)
}

// GetIdentity retrieves the caller identity from the Gin context.
//
// The second return is false when IdentityMiddleware did not run for this
// request.
func GetIdentity(c *gin.Context) (datatypes.Identity, bool) {
	if v, exists := c.Get(identityKey); exists {
		if identity, ok := v.(datatypes.Identity); ok {
			return identity, true
		}
	}
	return datatypes.Identity{}, false
}

// IdentityMiddleware creates a Gin middleware that resolves caller identity.
//
// # Description
//
// Requests without an Authorization header pass through as anonymous,
// identified by client IP. Requests with a bearer token are validated;
// invalid tokens are rejected with 401 rather than downgraded to anonymous,
// so a leaked-but-revoked token cannot be used to dodge per-user accounting.
//
// # Inputs
//
//   - validator: TokenValidator for bearer tokens. Must not be nil; panics
//     otherwise since this is a wiring error.
//   - trustProxy: When true, client IP may come from X-Real-IP or
//     X-Forwarded-For. Enable only behind a reverse proxy that sets them.
func IdentityMiddleware(validator TokenValidator, trustProxy bool) gin.HandlerFunc {
	if validator == nil {
		panic("IdentityMiddleware: validator is required")
	}
	return func(c *gin.Context) {
		token := extractBearerToken(c)
		if token == "" {
			SetIdentity(c, datatypes.Identity{
				ClientIP:  clientIP(c.Request, trustProxy),
				Anonymous: true,
			})
			c.Next()
			return
		}

		userID, err := validator.Validate(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, ErrUnauthorized) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": "unauthorized",
				})
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "authentication failed",
			})
			return
		}

		SetIdentity(c, datatypes.Identity{
			UserID:   userID,
			ClientIP: clientIP(c.Request, trustProxy),
		})
		c.Next()
	}
}

// extractBearerToken extracts the token from the Authorization header.
// Returns empty string if the header is missing or malformed. The "Bearer"
// prefix is case-insensitive per RFC 7235.
func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// clientIP extracts the client IP from the request.
//
// When trustProxy is true, checks X-Real-IP first, then X-Forwarded-For
// (first IP). Header values are validated with net.ParseIP to prevent
// injection of non-IP strings into rate limiter keys. When trustProxy is
// false, only RemoteAddr is used.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			if ip := net.ParseIP(strings.TrimSpace(xri)); ip != nil {
				return ip.String()
			}
		}
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			raw := xff
			if first, _, ok := strings.Cut(xff, ","); ok {
				raw = first
			}
			if ip := net.ParseIP(strings.TrimSpace(raw)); ip != nil {
				return ip.String()
			}
		}
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		if parsed := net.ParseIP(strings.TrimSpace(r.RemoteAddr)); parsed != nil {
			return parsed.String()
		}
		// No derivable address; all such callers share one loopback bucket.
		return "127.0.0.1"
	}
	return ip
}

// Copyright (C) 2026 Cobalt Labs (eng@cobaltlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/cobaltlabs/searchlight/services/answer/datatypes"
	"github.com/cobaltlabs/searchlight/services/answer/middleware"
	"github.com/cobaltlabs/searchlight/services/answer/observability"
	"github.com/cobaltlabs/searchlight/services/answer/services"
)

var tracer = otel.Tracer("searchlight.answer.handlers")

const (
	// defaultAskTimeout bounds a whole ask request when no budget is
	// configured. Slightly under the typical 300s proxy idle limit so the
	// server closes the stream cleanly before an intermediary does.
	defaultAskTimeout = 295 * time.Second

	// heartbeatInterval keeps the connection alive through proxies while
	// evidence gathering or generation is slow to produce the next frame.
	heartbeatInterval = 15 * time.Second
)

// AskHandler serves the streaming ask endpoint and its usage companion.
type AskHandler struct {
	svc     *services.AskService
	metrics *observability.AskMetrics
	timeout time.Duration
}

// NewAskHandler creates the handler. svc is required; metrics may be nil.
// timeout bounds a whole ask request; zero or negative selects the default.
func NewAskHandler(svc *services.AskService, metrics *observability.AskMetrics, timeout time.Duration) *AskHandler {
	if svc == nil {
		panic("NewAskHandler: ask service is required")
	}
	if timeout <= 0 {
		timeout = defaultAskTimeout
	}
	return &AskHandler{svc: svc, metrics: metrics, timeout: timeout}
}

// HandleAsk streams an answer for POST /v1/ask.
//
// # Description
//
// Validates and normalizes the request, resolves the caller identity set by
// the identity middleware, then drains the pipeline's event channel into
// SSE frames. The stream ends when the channel closes; there is no done
// frame. Binding and validation failures return 400 before any SSE bytes
// are written; failures after streaming starts never change the HTTP
// status, the pipeline degrades and the stream ends normally.
func (h *AskHandler) HandleAsk(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "HandleAsk")
	defer span.End()

	var req datatypes.AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.Normalize()

	identity, ok := middleware.GetIdentity(c)
	if !ok {
		// Route misconfiguration; the identity middleware must run first.
		slog.Error("Ask request reached handler without identity")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	requestID := getOrCreateRequestID(c)
	span.SetAttributes(
		attribute.String("request.id", requestID),
		attribute.Bool("ask.anonymous", identity.Anonymous),
		attribute.String("ask.mode", string(req.Mode)),
		attribute.Bool("ask.use_cache", req.UseCache),
	)

	SetSSEHeaders(c.Writer)
	writer, err := NewSSEWriter(c.Writer)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}

	if h.metrics != nil {
		h.metrics.StreamStarted()
		defer h.metrics.StreamEnded()
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	events := h.svc.Ask(ctx, req, identity)

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case event, open := <-events:
			if !open {
				return
			}
			if err := writer.WriteEvent(event); err != nil {
				// Client went away. Cancel the pipeline and drain so the
				// goroutine is not stuck on a send.
				slog.Debug("SSE write failed, cancelling stream", "error", err)
				cancel()
				for range events {
				}
				return
			}
			heartbeat.Reset(heartbeatInterval)
		case <-heartbeat.C:
			if err := writer.WriteKeepAlive(); err != nil {
				cancel()
				for range events {
				}
				return
			}
		case <-ctx.Done():
			for range events {
			}
			return
		}
	}
}

// getOrCreateRequestID gets or creates a request ID.
//
// The ID must be assigned before SSE headers are written; gin silently
// drops response headers set after the first body flush.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}

// HandleUsage reports the accumulated search count for GET /v1/usage.
//
// Anonymous callers get the count keyed to their client IP, signed-in
// callers the count keyed to their user ID.
func (h *AskHandler) HandleUsage(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "HandleUsage")
	defer span.End()

	identity, ok := middleware.GetIdentity(c)
	if !ok {
		slog.Error("Usage request reached handler without identity")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	count, err := h.svc.Usage(ctx, identity)
	if err != nil {
		slog.Error("Usage lookup failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not read usage"})
		return
	}

	c.JSON(http.StatusOK, datatypes.UsageResponse{
		UserID:   identity.AccountingID(),
		Searches: count,
	})
}

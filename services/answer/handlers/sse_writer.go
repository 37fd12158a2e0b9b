// Copyright (C) 2026 Cobalt Labs (eng@cobaltlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/cobaltlabs/searchlight/services/answer/datatypes"
)

// SSEWriter writes ask stream frames to an HTTP response.
//
// # Description
//
// The wire format is data-only SSE: each frame is one line
//
//	data: {json}
//
// followed by a blank line. There is no event: field; clients discriminate
// frames by the single key of the JSON object. The stream carries no done
// frame, the server closing the response body is the terminal signal.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. The answer stream and
// the keepalive ticker write from different goroutines.
type SSEWriter interface {
	// WriteEvent serializes one frame and flushes it immediately.
	WriteEvent(event datatypes.StreamEvent) error

	// WriteKeepAlive sends an SSE comment (": ping") to hold the
	// connection open through proxies during slow generation. Comments
	// are invisible to SSE clients.
	WriteKeepAlive() error
}

// sseWriter implements SSEWriter over an http.ResponseWriter.
type sseWriter struct {
	writer  http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
}

// NewSSEWriter wraps a ResponseWriter for SSE frame output.
//
// The caller must set SSE headers first via SetSSEHeaders. Returns an error
// when the ResponseWriter cannot flush, since unflushed tokens would sit in
// a buffer until the stream ends.
func NewSSEWriter(w http.ResponseWriter) (SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	return &sseWriter{writer: w, flusher: flusher}, nil
}

func (w *sseWriter) WriteEvent(event datatypes.StreamEvent) error {
	data, err := event.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := fmt.Fprintf(w.writer, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	w.flusher.Flush()
	return nil
}

func (w *sseWriter) WriteKeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := fmt.Fprintf(w.writer, ": ping\n\n"); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// SetSSEHeaders configures the response headers for SSE streaming. Must run
// before the first body write.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

var _ SSEWriter = (*sseWriter)(nil)

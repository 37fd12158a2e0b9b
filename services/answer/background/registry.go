// Copyright (C) 2026 Cobalt Labs (eng@cobaltlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package background runs fire-and-forget work that must outlive the request
// that spawned it, such as cache writes and usage accounting after the SSE
// stream has closed.
package background

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrShuttingDown is returned by Go once Shutdown has started.
var ErrShuttingDown = errors.New("registry shutting down")

// Registry tracks detached background tasks so the process can drain them
// on shutdown instead of killing them mid-write.
//
// Thread Safety: Registry is safe for concurrent use.
type Registry struct {
	taskTimeout time.Duration

	mu       sync.Mutex
	wg       sync.WaitGroup
	draining bool
}

// NewRegistry creates a task registry.
//
// # Inputs
//
//   - taskTimeout: Per-task deadline. Values <= 0 fall back to 30s.
func NewRegistry(taskTimeout time.Duration) *Registry {
	if taskTimeout <= 0 {
		taskTimeout = 30 * time.Second
	}
	return &Registry{taskTimeout: taskTimeout}
}

// Go runs fn on its own goroutine with a fresh deadline-bound context.
//
// # Description
//
// The task context is deliberately detached from any request context: the
// caller's request may already be finished by the time the task runs. Task
// errors are logged, never propagated; panics are recovered so one bad task
// cannot take down the process.
//
// # Outputs
//
//   - error: ErrShuttingDown if the registry is draining, nil otherwise.
func (r *Registry) Go(name string, fn func(ctx context.Context) error) error {
	r.mu.Lock()
	if r.draining {
		r.mu.Unlock()
		return ErrShuttingDown
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("Background task panicked", "task", name, "panic", rec)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), r.taskTimeout)
		defer cancel()

		start := time.Now()
		if err := fn(ctx); err != nil {
			slog.Error("Background task failed", "task", name, "error", err,
				"duration", time.Since(start))
			return
		}
		slog.Debug("Background task finished", "task", name, "duration", time.Since(start))
	}()
	return nil
}

// Shutdown stops accepting new tasks and waits for in-flight tasks to
// finish, bounded by ctx.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.draining = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("background tasks did not drain: %w", ctx.Err())
	}
}

// Copyright (C) 2026 Cobalt Labs (eng@cobaltlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package background

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestRegistry_Go_RunsTask(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(time.Second)

	var ran atomic.Bool
	if err := reg.Go("test", func(ctx context.Context) error {
		ran.Store(true)
		return nil
	}); err != nil {
		t.Fatalf("Go returned error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := reg.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if !ran.Load() {
		t.Error("task should have run before shutdown returned")
	}
}

func TestRegistry_Go_TaskErrorDoesNotPropagate(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(time.Second)

	if err := reg.Go("failing", func(ctx context.Context) error {
		return errors.New("boom")
	}); err != nil {
		t.Fatalf("Go should accept a task regardless of its outcome: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := reg.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
}

func TestRegistry_Go_RecoversPanic(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(time.Second)

	if err := reg.Go("panicking", func(ctx context.Context) error {
		panic("boom")
	}); err != nil {
		t.Fatalf("Go returned error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := reg.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown should still drain after a panic: %v", err)
	}
}

func TestRegistry_Go_AfterShutdown(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := reg.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	err := reg.Go("late", func(ctx context.Context) error { return nil })
	if !errors.Is(err, ErrShuttingDown) {
		t.Fatalf("expected ErrShuttingDown, got %v", err)
	}
}

func TestRegistry_Shutdown_TimesOutOnStuckTask(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(5 * time.Second)

	release := make(chan struct{})
	if err := reg.Go("stuck", func(ctx context.Context) error {
		<-release
		return nil
	}); err != nil {
		t.Fatalf("Go returned error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := reg.Shutdown(ctx); err == nil {
		t.Error("Shutdown should fail when a task does not drain in time")
	}
	close(release)
}

func TestRegistry_TaskContextHasDeadline(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(time.Second)

	deadlineSet := make(chan bool, 1)
	if err := reg.Go("deadline", func(ctx context.Context) error {
		_, ok := ctx.Deadline()
		deadlineSet <- ok
		return nil
	}); err != nil {
		t.Fatalf("Go returned error: %v", err)
	}

	select {
	case ok := <-deadlineSet:
		if !ok {
			t.Error("task context should carry a deadline")
		}
	case <-time.After(time.Second):
		t.Fatal("task did not run")
	}
}

// Copyright (C) 2026 Cobalt Labs (eng@cobaltlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cache

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cobaltlabs/searchlight/services/answer/datatypes"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(InMemoryConfig())
	require.NoError(t, err, "failed to open in-memory store")
	t.Cleanup(func() {
		assert.NoError(t, store.Close(), "failed to close store")
	})
	return store
}

func TestStore_GetResult_Miss(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetResult(context.Background(), "never asked")
	require.ErrorIs(t, err, ErrCacheMiss)
}

func TestStore_SetAndGetResult(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	want := &datatypes.CachedResult{
		Sources: []datatypes.TextSource{
			{Name: "Mont Blanc", URL: "https://en.example/mont-blanc", Snippet: "Highest"},
		},
		Images: []datatypes.ImageSource{
			{URL: "https://img.example/mb.jpg"},
		},
		Answer:    "Mont Blanc is the tallest mountain in the Alps [citation:1].",
		Related:   "How tall is Mont Blanc?",
		Timestamp: 1756400000,
	}

	require.NoError(t, store.SetResult(ctx, "tallest mountain alps", want))

	got, err := store.GetResult(ctx, "tallest mountain alps")
	require.NoError(t, err)
	assert.Equal(t, want.Answer, got.Answer)
	require.Len(t, got.Sources, 1)
	assert.Equal(t, want.Sources[0].URL, got.Sources[0].URL)
	require.Len(t, got.Images, 1)
	assert.Equal(t, want.Images[0].URL, got.Images[0].URL)
	assert.Equal(t, want.Related, got.Related)
}

func TestStore_SetResult_Overwrite(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetResult(ctx, "q", &datatypes.CachedResult{Answer: "first"}))
	require.NoError(t, store.SetResult(ctx, "q", &datatypes.CachedResult{Answer: "second"}))

	got, err := store.GetResult(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, "second", got.Answer, "second write should win")
}

func TestStore_SetResult_NilResult(t *testing.T) {
	store := newTestStore(t)

	err := store.SetResult(context.Background(), "q", nil)
	assert.Error(t, err, "nil result must be rejected")
}

func TestStore_SearchCount_MissingReadsZero(t *testing.T) {
	store := newTestStore(t)

	count, err := store.SearchCount(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), count, "missing counter should read as zero")
}

func TestStore_IncSearchCount(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := uint64(1); i <= 3; i++ {
		got, err := store.IncSearchCount(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, i, got)
	}

	count, err := store.SearchCount(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), count)
}

func TestStore_IncSearchCount_SeparateIdentities(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.IncSearchCount(ctx, "user-1")
	require.NoError(t, err)
	_, err = store.IncSearchCount(ctx, "anon:203.0.113.9")
	require.NoError(t, err)

	count, err := store.SearchCount(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count, "counters should be independent per identity")
}

func TestStore_IncSearchCount_Concurrent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	const workers = 8
	const perWorker = 10

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				// Badger aborts conflicting transactions; retry until applied.
				for {
					if _, err := store.IncSearchCount(ctx, "user-1"); err == nil {
						break
					}
				}
			}
		}()
	}
	wg.Wait()

	count, err := store.SearchCount(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(workers*perWorker), count)
}

func TestStore_ContextCancelled(t *testing.T) {
	store := newTestStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.GetResult(ctx, "q")
	assert.Error(t, err, "GetResult should fail with cancelled context")
	assert.Error(t, store.SetResult(ctx, "q", &datatypes.CachedResult{}),
		"SetResult should fail with cancelled context")
	_, err = store.IncSearchCount(ctx, "u")
	assert.Error(t, err, "IncSearchCount should fail with cancelled context")
}

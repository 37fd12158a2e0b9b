// Copyright (C) 2026 Cobalt Labs (eng@cobaltlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/cobaltlabs/searchlight/services/answer/background"
	"github.com/cobaltlabs/searchlight/services/answer/cache"
	"github.com/cobaltlabs/searchlight/services/answer/datatypes"
	"github.com/cobaltlabs/searchlight/services/answer/observability"
	"github.com/cobaltlabs/searchlight/services/answer/search"
)

var tracer = otel.Tracer("searchlight.answer.services")

// vectorSearchLimit caps per-user document hits merged into the evidence.
const vectorSearchLimit = 5

// maxEvidenceTexts caps the combined citation list.
const maxEvidenceTexts = 12

// maxBackfillImages caps the backfilled images frame.
const maxBackfillImages = 8

// ResultCache is the cache surface the pipeline needs. *cache.Store
// satisfies it.
type ResultCache interface {
	GetResult(ctx context.Context, query string) (*datatypes.CachedResult, error)
	SetResult(ctx context.Context, query string, result *datatypes.CachedResult) error
	IncSearchCount(ctx context.Context, accountingID string) (uint64, error)
	SearchCount(ctx context.Context, accountingID string) (uint64, error)
}

// TaskRunner is the fire-and-forget surface the pipeline needs.
// *background.Registry satisfies it.
type TaskRunner interface {
	Go(name string, fn func(ctx context.Context) error) error
}

// Compile-time checks for the concrete implementations.
var (
	_ ResultCache = (*cache.Store)(nil)
	_ TaskRunner  = (*background.Registry)(nil)
)

// AskService orchestrates one ask request end to end.
//
// # Description
//
// The pipeline per request:
//
//	cache check (opt-in)
//	  → evidence gathering (vector ∥ web, merged vector-first)
//	  → sources event
//	  → answer tokens ∥ image backfill
//	  → images event
//	  → related question tokens
//	  → cache write + usage increment (fire-and-forget)
//	  → channel close (terminal signal)
//
// All collaborators are injected; AskService holds no global state.
//
// # Thread Safety
//
// AskService is safe for concurrent use; every Ask call gets its own event
// channel and goroutine.
type AskService struct {
	cache   ResultCache
	web     search.WebEngine
	vector  search.VectorEngine
	gen     *Generator
	tasks   TaskRunner
	metrics *observability.AskMetrics
}

// NewAskService creates the pipeline orchestrator.
//
// All dependencies except metrics are required; nil panics since that is a
// wiring error. metrics may be nil in tests.
func NewAskService(resultCache ResultCache, web search.WebEngine, vector search.VectorEngine, gen *Generator, tasks TaskRunner, metrics *observability.AskMetrics) *AskService {
	if resultCache == nil {
		panic("NewAskService: cache is required")
	}
	if web == nil {
		panic("NewAskService: web engine is required")
	}
	if vector == nil {
		panic("NewAskService: vector engine is required")
	}
	if gen == nil {
		panic("NewAskService: generator is required")
	}
	if tasks == nil {
		panic("NewAskService: task runner is required")
	}
	return &AskService{
		cache:   resultCache,
		web:     web,
		vector:  vector,
		gen:     gen,
		tasks:   tasks,
		metrics: metrics,
	}
}

// Ask runs the pipeline for one normalized request.
//
// # Description
//
// Returns immediately with a channel of stream events. The channel closes
// when the pipeline finishes or ctx is cancelled; closure is the terminal
// signal, there is no explicit done event. Once streaming has begun no
// failure surfaces as anything but stream content: a dead model call turns
// into a synthetic answer token, a dead search into empty evidence. The
// caller must drain the channel.
//
// # Inputs
//
//   - ctx: Bounds the whole pipeline. Cancellation stops generation and
//     closes the channel without further events.
//   - req: The validated, normalized request.
//   - identity: The resolved caller identity.
func (s *AskService) Ask(ctx context.Context, req datatypes.AskRequest, identity datatypes.Identity) <-chan datatypes.StreamEvent {
	events := make(chan datatypes.StreamEvent, 16)
	go func() {
		defer close(events)
		s.run(ctx, req, identity, events)
	}()
	return events
}

// Usage returns the accumulated search count for an identity.
func (s *AskService) Usage(ctx context.Context, identity datatypes.Identity) (uint64, error) {
	return s.cache.SearchCount(ctx, identity.AccountingID())
}

// run executes the pipeline, sending events until done or cancelled.
func (s *AskService) run(ctx context.Context, req datatypes.AskRequest, identity datatypes.Identity, events chan<- datatypes.StreamEvent) {
	ctx, span := tracer.Start(ctx, "Ask")
	defer span.End()

	start := time.Now()
	success := false
	defer func() {
		if s.metrics != nil {
			s.metrics.RecordAskDuration(time.Since(start).Seconds(), success)
			if success {
				s.metrics.RecordRequest(observability.StatusSuccess)
			} else {
				s.metrics.RecordRequest(observability.StatusError)
			}
		}
	}()

	// 1. Cache replay
	if req.UseCache {
		if cached := s.lookupCache(ctx, req.Query); cached != nil {
			s.replay(ctx, cached, events)
			s.countUsage(identity)
			success = true
			return
		}
	} else if s.metrics != nil {
		s.metrics.RecordCache(observability.CacheBypass)
	}

	// 2. Evidence gathering
	evidence := s.gatherEvidence(ctx, req, identity)
	if ctx.Err() != nil {
		return
	}

	// 3. Sources, always the first frame
	if !send(ctx, events, datatypes.NewSourcesEvent(evidence.Texts)) {
		return
	}

	imagesPending := len(evidence.Images) == 0
	if !imagesPending {
		// Evidence already carries images; surface them right away.
		if !send(ctx, events, datatypes.NewImagesEvent(evidence.Images)) {
			return
		}
	}

	// 4. Answer generation, with image backfill riding alongside
	firstToken := true
	answer, images, degraded, err := s.generateAnswer(ctx, req, evidence, imagesPending, func(token string) error {
		if firstToken {
			firstToken = false
			if s.metrics != nil {
				s.metrics.RecordTimeToFirstToken(time.Since(start).Seconds())
			}
		}
		if !send(ctx, events, datatypes.NewAnswerEvent(token)) {
			return context.Canceled
		}
		return nil
	})
	if err != nil {
		// Only cancellation reaches here; generation failures were already
		// folded into the stream as answer text.
		slog.Debug("Pipeline cancelled during answer generation")
		return
	}
	if degraded {
		span.SetStatus(codes.Error, "answer generation degraded")
	}

	if imagesPending {
		evidence.Images = images
		if !send(ctx, events, datatypes.NewImagesEvent(images)) {
			return
		}
	}

	// 5. Related questions, strictly after the answer
	related, err := s.gen.StreamRelated(ctx, req.Query, evidence.Texts, answer, req.Model, func(token string) error {
		if !send(ctx, events, datatypes.NewRelatedEvent(token)) {
			return context.Canceled
		}
		return nil
	})
	if err != nil {
		slog.Debug("Pipeline cancelled during related generation")
		return
	}

	// 6. Bookkeeping outlives the stream. A degraded answer is never
	// cached; the next request should retry generation.
	if !degraded {
		s.scheduleCacheWrite(req.Query, &datatypes.CachedResult{
			Sources:   evidence.Texts,
			Images:    evidence.Images,
			Answer:    answer,
			Related:   related,
			Timestamp: time.Now().Unix(),
		})
	}
	s.countUsage(identity)
	success = !degraded
}

// lookupCache returns the cached result for the query, or nil on miss or
// error. Cache errors degrade to a miss; the pipeline must not die because
// the cache did.
func (s *AskService) lookupCache(ctx context.Context, query string) *datatypes.CachedResult {
	cached, err := s.cache.GetResult(ctx, query)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			slog.Warn("Cache lookup failed, running full pipeline", "error", err)
		}
		if s.metrics != nil {
			s.metrics.RecordCache(observability.CacheMiss)
		}
		return nil
	}
	if s.metrics != nil {
		s.metrics.RecordCache(observability.CacheHit)
	}
	return cached
}

// replay emits a cached result as the same event sequence a full run
// produces, with the whole answer and related text as single frames.
func (s *AskService) replay(ctx context.Context, cached *datatypes.CachedResult, events chan<- datatypes.StreamEvent) {
	slog.Debug("Replaying cached result")
	if !send(ctx, events, datatypes.NewSourcesEvent(cached.Sources)) {
		return
	}
	if !send(ctx, events, datatypes.NewImagesEvent(cached.Images)) {
		return
	}
	if !send(ctx, events, datatypes.NewAnswerEvent(cached.Answer)) {
		return
	}
	send(ctx, events, datatypes.NewRelatedEvent(cached.Related))
}

// gatherEvidence collects and merges evidence for the request.
//
// Signed-in callers asking over the full category set get vector and web
// search concurrently, merged vector-first. Everyone else, including
// signed-in callers with a narrowed category, gets exactly one web search.
// Engine failures degrade to empty results; the pipeline answers from
// whatever evidence survived. When the merge of both engines yields no
// texts at all, one plain web search (category all) runs as a fallback
// before giving up on evidence.
func (s *AskService) gatherEvidence(ctx context.Context, req datatypes.AskRequest, identity datatypes.Identity) search.Bundle {
	ctx, span := tracer.Start(ctx, "GatherEvidence")
	defer span.End()

	if identity.Anonymous || identity.UserID == "" || req.Source != datatypes.CategoryAll {
		return s.webSearch(ctx, req.Query, req.Source)
	}

	var vectorHits []datatypes.TextSource
	var webBundle search.Bundle

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vectorStart := time.Now()
		hits, err := s.vector.Search(gctx, identity.UserID, req.Query, vectorSearchLimit)
		if err != nil {
			slog.Warn("Vector search failed, continuing without documents", "error", err)
			return nil
		}
		if s.metrics != nil {
			s.metrics.RecordSearch(observability.EngineVector, time.Since(vectorStart).Seconds(), len(hits), 0)
		}
		vectorHits = hits
		return nil
	})
	g.Go(func() error {
		webBundle = s.webSearch(gctx, req.Query, req.Source)
		return nil
	})
	_ = g.Wait()

	merged := search.Merge(vectorHits, webBundle, maxEvidenceTexts)
	if len(merged.Texts) == 0 {
		slog.Debug("Merged evidence empty, retrying with a plain web search")
		fallback := s.webSearch(ctx, req.Query, datatypes.CategoryAll)
		merged = search.Merge(nil, fallback, maxEvidenceTexts)
	}
	return merged
}

// webSearch runs one web search, degrading failures to an empty bundle.
func (s *AskService) webSearch(ctx context.Context, query string, category datatypes.SearchCategory) search.Bundle {
	webStart := time.Now()
	bundle, err := s.web.Search(ctx, query, category)
	if err != nil {
		slog.Warn("Web search failed, continuing without web evidence", "error", err)
		return search.Bundle{}
	}
	if s.metrics != nil {
		s.metrics.RecordSearch(observability.EngineWeb, time.Since(webStart).Seconds(), len(bundle.Texts), len(bundle.Images))
	}
	return bundle
}

// generateAnswer streams the answer while, if needed, backfilling images
// with a dedicated image search. Both run concurrently; the images event is
// only emitted after the answer finishes, so a slow image search never
// stalls answer tokens.
//
// A dead image search costs an empty images frame; a dead model call is
// downgraded inside the generator to a synthetic answer token, reported
// here by the degraded flag. Only cancellation yields a non-nil error.
func (s *AskService) generateAnswer(ctx context.Context, req datatypes.AskRequest, evidence search.Bundle, backfill bool, emit func(token string) error) (answer string, images []datatypes.ImageSource, degraded bool, err error) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var genErr error
		answer, genErr = s.gen.StreamAnswer(gctx, req.Query, evidence.Texts, req.Mode, req.Model, emit)
		if errors.Is(genErr, ErrAnswerDegraded) {
			// The backfill keeps running; the degraded run still emits its
			// images frame.
			degraded = true
			return nil
		}
		return genErr
	})
	if backfill {
		g.Go(func() error {
			bundle, searchErr := s.web.Search(gctx, req.Query, datatypes.CategoryImages)
			if searchErr != nil {
				slog.Warn("Image backfill failed, images frame will be empty", "error", searchErr)
				return nil
			}
			images = secureImages(bundle.Images, maxBackfillImages)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", nil, false, err
	}
	return answer, images, degraded, nil
}

// secureImages keeps at most limit images with https URLs. Applied only to
// backfilled results; evidence images pass through as gathered.
func secureImages(images []datatypes.ImageSource, limit int) []datatypes.ImageSource {
	kept := make([]datatypes.ImageSource, 0, limit)
	for _, img := range images {
		if !strings.HasPrefix(img.URL, "https://") {
			continue
		}
		kept = append(kept, img)
		if len(kept) == limit {
			break
		}
	}
	return kept
}

// scheduleCacheWrite hands the cache write to the task runner. Failures are
// logged by the runner, never surfaced to the caller, whose stream is
// already complete.
func (s *AskService) scheduleCacheWrite(query string, result *datatypes.CachedResult) {
	if err := s.tasks.Go("cache-write", func(ctx context.Context) error {
		return s.cache.SetResult(ctx, query, result)
	}); err != nil {
		slog.Warn("Could not schedule cache write", "error", err)
	}
}

// countUsage schedules the fire-and-forget usage increment.
func (s *AskService) countUsage(identity datatypes.Identity) {
	if err := s.tasks.Go("usage-increment", func(ctx context.Context) error {
		_, err := s.cache.IncSearchCount(ctx, identity.AccountingID())
		return err
	}); err != nil {
		slog.Warn("Could not schedule usage increment", "error", err)
	}
}

// send delivers one event unless ctx is done. Returns false when the
// pipeline should stop emitting.
func send(ctx context.Context, events chan<- datatypes.StreamEvent, event datatypes.StreamEvent) bool {
	select {
	case events <- event:
		return true
	case <-ctx.Done():
		return false
	}
}

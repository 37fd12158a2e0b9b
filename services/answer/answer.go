// Copyright (C) 2026 Cobalt Labs (eng@cobaltlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package answer assembles the streaming answer service: evidence search,
// generation, caching, rate limiting, and the HTTP surface.
package answer

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/cobaltlabs/searchlight/services/answer/background"
	"github.com/cobaltlabs/searchlight/services/answer/cache"
	"github.com/cobaltlabs/searchlight/services/answer/datatypes"
	"github.com/cobaltlabs/searchlight/services/answer/handlers"
	"github.com/cobaltlabs/searchlight/services/answer/middleware"
	"github.com/cobaltlabs/searchlight/services/answer/observability"
	"github.com/cobaltlabs/searchlight/services/answer/routes"
	"github.com/cobaltlabs/searchlight/services/answer/search"
	"github.com/cobaltlabs/searchlight/services/answer/services"
	"github.com/cobaltlabs/searchlight/services/llm"
)

const serviceName = "answer-service"

// Config holds service configuration. Zero values use defaults.
type Config struct {
	// Port is the HTTP server port. Default: 12310
	Port int

	// SearxNGURL is the SearxNG instance base URL. Required.
	// Example: "http://searchlight-searxng:8080"
	SearxNGURL string

	// WeaviateURL is the Weaviate vector database URL. If empty,
	// per-user document search is disabled and signed-in callers get
	// web evidence only.
	WeaviateURL string

	// CachePath is the BadgerDB directory for cached results and usage
	// counters. Default: "./data/askcache"
	CachePath string

	// CacheTTL is how long cached results live. Default: 24h
	CacheTTL time.Duration

	// HybridAlpha balances vector and keyword scoring for document
	// search, 0 is pure keyword, 1 pure vector. Default: 0.5
	HybridAlpha float32

	// AnonymousSearches is the anonymous per-IP allowance per window.
	// Default: 3
	AnonymousSearches int

	// AnonymousWindow is the rate limit window. Default: 24h
	AnonymousWindow time.Duration

	// MaxWebResults caps results taken from one web search. Default: 10
	MaxWebResults int

	// AskTimeout bounds a whole ask request, stream included. Default:
	// 295s, just under the common 300s proxy idle limit.
	AskTimeout time.Duration

	// TrustProxy enables client IP resolution from X-Real-IP and
	// X-Forwarded-For. Enable only behind a trusted reverse proxy.
	TrustProxy bool

	// OTelEndpoint is the OpenTelemetry collector endpoint.
	// Default: "searchlight-otel-collector:4317"
	OTelEndpoint string

	// GinMode sets the Gin framework mode. Default: GIN_MODE env or debug.
	GinMode string

	// APITokens maps bearer tokens to user IDs. Optional; without
	// tokens every caller is anonymous.
	APITokens map[string]string
}

// ConfigFromEnv builds a Config from the environment.
func ConfigFromEnv() Config {
	cfg := Config{
		SearxNGURL:   os.Getenv("SEARXNG_SERVICE_URL"),
		WeaviateURL:  os.Getenv("WEAVIATE_SERVICE_URL"),
		CachePath:    os.Getenv("ASK_CACHE_PATH"),
		OTelEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}
	if port := os.Getenv("ANSWER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Port = p
		} else {
			slog.Warn("Invalid ANSWER_PORT, using default", "value", port)
		}
	}
	if n := os.Getenv("ANON_SEARCHES_PER_DAY"); n != "" {
		if v, err := strconv.Atoi(n); err == nil {
			cfg.AnonymousSearches = v
		} else {
			slog.Warn("Invalid ANON_SEARCHES_PER_DAY, using default", "value", n)
		}
	}
	if alpha := os.Getenv("HYBRID_ALPHA"); alpha != "" {
		if v, err := strconv.ParseFloat(alpha, 32); err == nil {
			cfg.HybridAlpha = float32(v)
		} else {
			slog.Warn("Invalid HYBRID_ALPHA, using default", "value", alpha)
		}
	}
	if timeout := os.Getenv("ASK_TIMEOUT"); timeout != "" {
		if v, err := time.ParseDuration(timeout); err == nil {
			cfg.AskTimeout = v
		} else {
			slog.Warn("Invalid ASK_TIMEOUT, using default", "value", timeout)
		}
	}
	cfg.TrustProxy = os.Getenv("TRUST_PROXY_HEADERS") == "true"
	return cfg
}

// applyConfigDefaults fills in missing configuration values.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12310
	}
	if cfg.CachePath == "" {
		cfg.CachePath = "./data/askcache"
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 24 * time.Hour
	}
	if cfg.HybridAlpha == 0 {
		cfg.HybridAlpha = 0.5
	}
	if cfg.AnonymousSearches == 0 {
		cfg.AnonymousSearches = 3
	}
	if cfg.AnonymousWindow == 0 {
		cfg.AnonymousWindow = 24 * time.Hour
	}
	if cfg.MaxWebResults == 0 {
		cfg.MaxWebResults = 10
	}
	if cfg.AskTimeout == 0 {
		cfg.AskTimeout = 295 * time.Second
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "searchlight-otel-collector:4317"
	}
	return cfg
}

// Service is the assembled answer service.
type Service struct {
	config        Config
	router        *gin.Engine
	store         *cache.Store
	registry      *background.Registry
	tracerCleanup func(context.Context)
	httpServer    *http.Server
}

// New assembles the service from configuration.
//
// # Description
//
// Initialization order follows the dependency chain: tracer and metrics
// first, then storage and clients, then the pipeline, then routes. SearxNG
// is the only hard requirement; Weaviate is optional and its absence just
// disables per-user document search.
func New(cfg Config) (*Service, error) {
	s := &Service{config: applyConfigDefaults(cfg)}

	if s.config.SearxNGURL == "" {
		return nil, fmt.Errorf("SearxNG URL is required")
	}

	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	metrics := observability.InitMetrics()

	storeCfg := cache.DefaultConfig()
	storeCfg.Path = s.config.CachePath
	storeCfg.ResultTTL = s.config.CacheTTL
	s.store, err = cache.Open(storeCfg)
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to open result cache: %w", err)
	}

	llmClient, err := llm.NewOpenAIClient()
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}

	web := search.NewSearxNGEngine(s.config.SearxNGURL, s.config.MaxWebResults)

	vector, err := s.initVectorEngine()
	if err != nil {
		slog.Warn("Weaviate initialization failed, document search disabled", "error", err)
		vector = nil
	}
	if vector == nil {
		vector = noopVectorEngine{}
	}

	s.registry = background.NewRegistry(30 * time.Second)

	askService := services.NewAskService(s.store, web, vector, services.NewGenerator(llmClient), s.registry, metrics)

	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}
	s.router = gin.New()
	s.router.Use(gin.Logger(), gin.Recovery())
	s.router.Use(otelgin.Middleware(serviceName))

	routes.SetupRoutes(s.router, routes.Deps{
		Ask:        handlers.NewAskHandler(askService, metrics, cfg.AskTimeout),
		Validator:  middleware.StaticValidator(s.config.APITokens),
		RateGate:   middleware.NewRateGate(s.config.AnonymousSearches, s.config.AnonymousWindow),
		Metrics:    metrics,
		TrustProxy: s.config.TrustProxy,
	})

	return s, nil
}

// Run starts the HTTP server and blocks until ctx is cancelled or the
// server fails.
//
// On cancellation the server stops accepting requests, in-flight streams
// get a grace period to finish, and the background registry drains before
// resources close.
func (s *Service) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.config.Port),
		Handler: s.router,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting answer server", "port", s.config.Port)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.cleanup()
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down answer server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP server shutdown error", "error", err)
	}
	if err := s.registry.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Background task drain error", "error", err)
	}
	s.cleanup()
	return nil
}

// Router returns the underlying Gin engine for testing.
func (s *Service) Router() *gin.Engine {
	return s.router
}

// initTracer sets up the OTLP trace exporter.
func (s *Service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(s.config.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

// initVectorEngine creates the Weaviate-backed document engine, or nil
// when no Weaviate URL is configured.
func (s *Service) initVectorEngine() (search.VectorEngine, error) {
	weaviateURL := strings.Trim(s.config.WeaviateURL, "\"' ")
	if weaviateURL == "" {
		slog.Info("Weaviate URL not configured, document search disabled")
		return nil, nil
	}

	parsedURL, err := url.Parse(weaviateURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid Weaviate URL: %s", weaviateURL)
	}

	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Weaviate client: %w", err)
	}

	slog.Info("Weaviate client initialized", "url", weaviateURL)
	return search.NewWeaviateEngine(client, s.config.HybridAlpha), nil
}

// cleanup releases resources on shutdown or failed initialization.
func (s *Service) cleanup() {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			slog.Warn("Cache close error", "error", err)
		}
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}

// noopVectorEngine stands in when Weaviate is unavailable. Signed-in
// callers fall back to web-only evidence.
type noopVectorEngine struct{}

func (noopVectorEngine) Search(ctx context.Context, userID string, query string, limit int) ([]datatypes.TextSource, error) {
	return nil, nil
}

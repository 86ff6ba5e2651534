// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator wires the zynk chat server together.
//
// It builds every component from a Config: the model backend, the chat
// store, the search cache, the collaborator clients, the intent chain, the
// event sequencer and the HTTP routes. Run serves until its context is
// canceled and then shuts down gracefully.
//
// # Usage
//
//	cfg, err := orchestrator.LoadConfig("zynk.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	svc, err := orchestrator.New(cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer stop()
//	err = svc.Run(ctx)
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	datafetcher "github.com/AleutianAI/zynk/services/data_fetcher"
	"github.com/AleutianAI/zynk/services/llm"
	"github.com/AleutianAI/zynk/services/orchestrator/cache"
	"github.com/AleutianAI/zynk/services/orchestrator/handlers"
	"github.com/AleutianAI/zynk/services/orchestrator/intent"
	"github.com/AleutianAI/zynk/services/orchestrator/observability"
	"github.com/AleutianAI/zynk/services/orchestrator/routes"
	"github.com/AleutianAI/zynk/services/orchestrator/sequencer"
	"github.com/AleutianAI/zynk/services/orchestrator/store"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the orchestrator service.
//
// # Description
//
// Service abstracts the server lifecycle so cmd/orchestrator and tests can
// drive it the same way.
//
// # Thread Safety
//
// Run blocks and must be called at most once. Router is safe to call at
// any time.
type Service interface {
	// Run serves HTTP until ctx is canceled or the listener fails.
	//
	// # Description
	//
	// Starts the HTTP server on the configured port. When ctx is canceled
	// the server stops accepting connections and waits up to
	// Config.ShutdownTimeout for in-flight requests. Streams still open after
	// that are closed forcibly. The store, cache and tracer are released
	// before Run returns.
	//
	// # Outputs
	//
	//   - error: Non-nil if the server fails to start or a shutdown step fails.
	Run(ctx context.Context) error

	// Router returns the underlying Gin engine for testing.
	Router() *gin.Engine
}

// =============================================================================
// Options
// =============================================================================

// Options overrides components New would otherwise build from Config.
//
// # Description
//
// Nil fields are built from Config. Tests use this to inject a scripted
// model, an in-memory store and a private metrics registry.
type Options struct {
	Model    llm.ModelSource
	Store    store.Store
	Cache    cache.SearchCache
	Searcher datafetcher.VehicleSearcher
	Reports  datafetcher.ReportGenerator
	Logger   *slog.Logger

	// Registry receives the service metrics and backs /metrics. Nil uses a
	// fresh registry with the Go and process collectors.
	Registry *prometheus.Registry
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service.
type service struct {
	cfg      Config
	logger   *slog.Logger
	router   *gin.Engine
	store    store.Store
	cache    cache.SearchCache
	registry *prometheus.Registry

	tracerCleanup func(context.Context)
}

// New creates a fully wired orchestrator service.
//
// # Description
//
// Initialization order:
//  1. Apply config defaults
//  2. Initialize the tracer provider
//  3. Open the store and the cache
//  4. Build collaborator clients, the model backend and the intent chain
//  5. Build the sequencer, handlers and routes
//
// On failure every component opened so far is released.
//
// # Inputs
//
//   - cfg: Service configuration. LoadConfig output or a literal.
//   - opts: Component overrides. May be nil.
//
// # Outputs
//
//   - Service: Ready to Run.
//   - error: Non-nil if any component fails to initialize.
func New(cfg Config, opts *Options) (Service, error) {
	if opts == nil {
		opts = &Options{}
	}
	cfg = applyConfigDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	svc := &service{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			svc.cleanup(context.Background())
		}
	}()

	cleanup, err := initTracer(context.Background(), cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	svc.tracerCleanup = cleanup

	svc.store = opts.Store
	if svc.store == nil {
		if svc.store, err = openStore(cfg.Store, logger); err != nil {
			return nil, err
		}
	}

	svc.cache = opts.Cache
	if svc.cache == nil {
		if svc.cache, err = openCache(cfg.Cache); err != nil {
			return nil, err
		}
	}

	svc.registry = opts.Registry
	if svc.registry == nil {
		svc.registry = prometheus.NewRegistry()
		svc.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	metrics := observability.NewStreamingMetrics(svc.registry)

	searcher, reports := opts.Searcher, opts.Reports
	if searcher == nil || reports == nil {
		client := datafetcher.NewClient(cfg.Collaborators, nil, logger)
		if searcher == nil && cfg.Collaborators.VehicleSearchURL != "" {
			searcher = client
		}
		if reports == nil && cfg.Collaborators.ReportURL != "" {
			reports = client
		}
	}

	model := opts.Model
	if model == nil {
		if model, err = newModelSource(cfg.Model, searcher); err != nil {
			return nil, fmt.Errorf("failed to initialize model backend: %w", err)
		}
	}

	var middleware []intent.Middleware
	if searcher != nil {
		middleware = append(middleware, intent.NewVehicleSearch(searcher, svc.cache, cfg.Collaborators.Timeout))
	}
	if reports != nil {
		middleware = append(middleware, intent.NewPDFReport(reports, svc.cache, cfg.Collaborators.Timeout))
	}
	chain := intent.NewChain(metrics, logger, middleware...)

	seq := sequencer.New(model, svc.store, chain, metrics, logger, sequencer.Config{
		SystemPrompt:       cfg.Model.SystemPrompt,
		HistoryTokenBudget: cfg.Model.HistoryTokenBudget,
		EmitDoneAfterError: cfg.Stream.EmitDoneAfterError,
	})

	svc.router = initRouter()
	routes.SetupRoutes(svc.router, routes.Dependencies{
		Stream:   handlers.NewStreamingChatHandler(seq, metrics, cfg.Stream.HeartbeatInterval, logger),
		Chats:    handlers.NewChatHandler(svc.store, logger),
		Gatherer: svc.registry,
	})

	logger.Info("Orchestrator initialized",
		"port", cfg.Port,
		"model", model.Name(),
		"store", cfg.Store.Backend,
		"cache", cfg.Cache.Backend,
		"middleware", chain.Len(),
		"tracing", cfg.Tracing.Exporter)
	ok = true
	return svc, nil
}

// Run implements Service.
func (s *service) Run(ctx context.Context) error {
	defer s.cleanup(context.Background())

	server := &http.Server{
		Addr:              ":" + strconv.Itoa(s.cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("Starting orchestrator server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()

		s.logger.Info("Shutting down orchestrator server")
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("Graceful shutdown timed out, closing open streams", "error", err)
			return server.Close()
		}
		return nil
	})
	return g.Wait()
}

// Router implements Service.
func (s *service) Router() *gin.Engine {
	return s.router
}

// cleanup releases the store, the cache and the tracer.
func (s *service) cleanup(ctx context.Context) {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error("Failed to close store", "error", err)
		}
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.logger.Error("Failed to close cache", "error", err)
		}
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(ctx)
	}
}

// =============================================================================
// Component construction
// =============================================================================

func openStore(cfg StoreConfig, logger *slog.Logger) (store.Store, error) {
	if cfg.Backend == "memory" {
		return store.NewMemoryStore(), nil
	}
	path, err := expandHome(cfg.Path)
	if err != nil {
		return nil, err
	}
	bcfg := store.DefaultBadgerConfig(path)
	bcfg.Logger = logger
	s, err := store.OpenBadgerStore(bcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open chat store: %w", err)
	}
	return s, nil
}

func openCache(cfg CacheConfig) (cache.SearchCache, error) {
	var (
		c   cache.SearchCache
		err error
	)
	if cfg.Backend == "redis" {
		c, err = cache.NewRedisCache(cfg.RedisURL, cfg.TTL)
	} else {
		c, err = cache.NewRistrettoCache(cfg.MaxEntries, cfg.TTL)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open search cache: %w", err)
	}
	return c, nil
}

// newModelSource builds the configured backend. Hosted backends are offered
// the search_vehicles tool when a searcher is available.
func newModelSource(cfg ModelConfig, searcher datafetcher.VehicleSearcher) (llm.ModelSource, error) {
	tools := llm.NewToolRegistry()
	if searcher != nil {
		tools = llm.NewToolRegistry(datafetcher.NewSearchVehiclesTool(searcher))
	}
	params := llm.GenerationParams{Temperature: cfg.Temperature}
	if cfg.MaxTokens > 0 {
		maxTokens := cfg.MaxTokens
		params.MaxTokens = &maxTokens
	}

	switch cfg.Backend {
	case "openai":
		return llm.NewOpenAISource(llm.OpenAIConfig{
			APIKey: cfg.APIKey, Model: cfg.Name, BaseURL: cfg.BaseURL, Params: params,
		}, tools)
	case "anthropic", "claude":
		return llm.NewAnthropicSource(llm.AnthropicConfig{
			APIKey: cfg.APIKey, Model: cfg.Name, BaseURL: cfg.BaseURL, Params: params,
		}, tools)
	case "ollama":
		return llm.NewOllamaSource(llm.OllamaConfig{
			BaseURL: cfg.BaseURL, Model: cfg.Name, Params: params,
		})
	case "echo":
		return llm.EchoSource{}, nil
	default:
		return nil, fmt.Errorf("unknown model backend %q", cfg.Backend)
	}
}

// initTracer installs the global tracer provider for the configured exporter.
//
// # Description
//
// "none" leaves the no-op provider in place. "stdout" pretty-prints spans
// to stderr. "otlp" exports over an insecure gRPC connection, which matches
// a collector running next to the service.
//
// # Outputs
//
//   - func(context.Context): Flushes and shuts down the exporter. Never nil.
//   - error: Non-nil if the exporter cannot be created.
func initTracer(ctx context.Context, cfg TracingConfig) (func(context.Context), error) {
	var exporter sdktrace.SpanExporter
	switch cfg.Exporter {
	case "none":
		return func(context.Context) {}, nil
	case "stdout":
		exp, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, err
		}
		exporter = exp
	case "otlp":
		conn, err := grpc.NewClient(cfg.Endpoint,
			grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, err
		}
		exp, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
		if err != nil {
			return nil, err
		}
		exporter = exp
	default:
		return nil, fmt.Errorf("unknown tracing exporter %q", cfg.Exporter)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
	if err != nil {
		return nil, err
	}
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown tracer provider", "error", err)
		}
	}, nil
}

// initRouter creates the gin engine with tracing middleware.
func initRouter() *gin.Engine {
	router := gin.Default()
	router.Use(otelgin.Middleware(serviceName))
	return router
}

// Compile-time interface check
var _ Service = (*service)(nil)

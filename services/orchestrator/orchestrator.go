// Copyright (C) 2025 Halcyon Works (oss@halcyonworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package orchestrator provides the core chat backend service.
//
// This package contains the Service type that coordinates all components:
// HTTP routing, the LLM backend, the web context pipeline, document
// retrieval, conversation persistence, and observability infrastructure.
//
// # Usage
//
//	cfg := orchestrator.Config{Port: 12210, LLMBackend: "ollama"}
//	svc, err := orchestrator.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
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

	"github.com/halcyonworks/harborchat/services/llm"
	"github.com/halcyonworks/harborchat/services/orchestrator/datatypes"
	"github.com/halcyonworks/harborchat/services/orchestrator/handlers"
	"github.com/halcyonworks/harborchat/services/orchestrator/observability"
	"github.com/halcyonworks/harborchat/services/orchestrator/routes"
	"github.com/halcyonworks/harborchat/services/orchestrator/services"
	"github.com/halcyonworks/harborchat/services/websearch"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the orchestrator lifecycle.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Run() blocks and
// should only be called once per instance.
type Service interface {
	// Run starts the HTTP server and blocks until shutdown or error.
	Run() error

	// Router returns the underlying Gin engine for testing. Callers must
	// not modify routes after construction.
	Router() *gin.Engine
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds orchestrator configuration.
//
// All fields are optional; New applies defaults for zero values. Weaviate,
// web search, and the embedding service are each optional: the service
// degrades to in-memory-less chat without persistence, without web
// context, or without document retrieval respectively.
type Config struct {
	// Port is the HTTP server port. Default: 12210.
	Port int

	// LLMBackend selects the model provider: "ollama" or "openai".
	// Default: "ollama".
	LLMBackend string

	// WeaviateURL is the vector database URL. Empty disables persistence
	// and retrieval. Example: "http://weaviate:8080".
	WeaviateURL string

	// OTelEndpoint is the OpenTelemetry collector endpoint.
	// Default: "harborchat-otel-collector:4317".
	OTelEndpoint string

	// GoogleAPIKey and GoogleCSEID configure web search. Either empty
	// disables web context assembly.
	GoogleAPIKey string
	GoogleCSEID  string

	// EmbeddingServiceURL is the embedding service root. Empty disables
	// document ingestion and retrieval.
	EmbeddingServiceURL string

	// UploadDir is the root for per-conversation PDF uploads.
	// Default: "./uploads".
	UploadDir string
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service for production use.
//
// Thread-safe after construction; all fields are read-only once New
// returns.
type service struct {
	config         Config
	router         *gin.Engine
	llmClient      llm.LLMClient
	weaviateClient *weaviate.Client
	embedder       *services.EmbeddingClient
	retrieval      services.Retriever
	webContext     websearch.ContextBuilder
	tracerCleanup  func(context.Context)
}

// =============================================================================
// Constructor
// =============================================================================

// New creates an orchestrator Service.
//
// # Description
//
// Initialization order:
//  1. Apply config defaults
//  2. OpenTelemetry tracing
//  3. Prometheus metrics
//  4. Weaviate client and schema (optional)
//  5. LLM client for the configured backend
//  6. Web context pipeline (crafter, search, fetcher, assembler)
//  7. Retrieval service (requires Weaviate and the embedding service)
//  8. HTTP router
//
// # Outputs
//
//   - Service: Ready-to-run service.
//   - error: Non-nil when a required component failed to initialize.
func New(cfg Config) (Service, error) {
	s := &service{
		config: applyConfigDefaults(cfg),
	}

	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	observability.InitMetrics()

	if err := s.initWeaviate(); err != nil {
		slog.Warn("Weaviate initialization failed, running without persistence",
			"error", err)
	}

	if err := s.initLLMClient(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}

	s.initWebContext()
	s.initRetrieval()
	s.initRouter()

	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run starts the HTTP server and blocks until shutdown or error.
func (s *service) Run() error {
	defer s.cleanup()

	addr := fmt.Sprintf(":%d", s.config.Port)
	slog.Info("Starting orchestrator server", "port", s.config.Port)

	return s.router.Run(addr)
}

// Router returns the underlying Gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// applyConfigDefaults fills in missing configuration values.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12210
	}
	if cfg.LLMBackend == "" {
		cfg.LLMBackend = "ollama"
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "harborchat-otel-collector:4317"
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = "./uploads"
	}
	return cfg
}

// initTracer sets up the OTLP trace exporter.
//
// Uses an insecure gRPC connection, appropriate for internal networks.
func (s *service) initTracer() (func(context.Context), error) {
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
		resource.WithAttributes(semconv.ServiceNameKey.String("harborchat-orchestrator")))
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

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}

	return cleanup, nil
}

// initWeaviate creates the Weaviate client when a URL is configured and
// ensures the schema exists. Empty URL is not an error.
func (s *service) initWeaviate() error {
	weaviateURL := strings.Trim(s.config.WeaviateURL, "\"' ")

	if weaviateURL == "" || !strings.Contains(weaviateURL, "http") {
		slog.Info("Weaviate URL not configured, conversations will not persist")
		return nil
	}

	parsedURL, err := url.Parse(weaviateURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return fmt.Errorf("invalid Weaviate URL: %s", weaviateURL)
	}

	s.weaviateClient, err = weaviate.NewClient(weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	})
	if err != nil {
		return fmt.Errorf("failed to create Weaviate client: %w", err)
	}

	datatypes.EnsureWeaviateSchema(s.weaviateClient)
	slog.Info("Weaviate client initialized", "url", weaviateURL)
	return nil
}

// initLLMClient creates the model client for the configured backend.
func (s *service) initLLMClient() error {
	var err error

	switch s.config.LLMBackend {
	case "openai":
		s.llmClient, err = llm.NewOpenAIClient()
		slog.Info("Using OpenAI-compatible LLM backend")
	case "ollama":
		s.llmClient, err = llm.NewOllamaClient()
		slog.Info("Using Ollama LLM backend")
	default:
		slog.Warn("Unknown LLM backend, defaulting to ollama", "backend", s.config.LLMBackend)
		s.llmClient, err = llm.NewOllamaClient()
	}

	return err
}

// initWebContext wires the web context pipeline. An unconfigured search
// provider yields an assembler that always reports an absent context.
func (s *service) initWebContext() {
	crafter := websearch.NewLLMQueryCrafter(s.llmClient)
	search := websearch.NewGoogleSearchClient(context.Background(),
		s.config.GoogleAPIKey, s.config.GoogleCSEID)
	fetcher := websearch.NewPageFetcher()
	s.webContext = websearch.NewAssembler(crafter, search, fetcher)
}

// initRetrieval wires document retrieval when both Weaviate and the
// embedding service are configured.
func (s *service) initRetrieval() {
	if s.weaviateClient == nil || s.config.EmbeddingServiceURL == "" {
		slog.Info("Document retrieval disabled",
			"weaviate", s.weaviateClient != nil,
			"embedding_service", s.config.EmbeddingServiceURL != "")
		return
	}
	s.embedder = services.NewEmbeddingClient(s.config.EmbeddingServiceURL)
	s.retrieval = services.NewRetrievalService(s.weaviateClient, s.embedder, s.config.UploadDir)
}

// initRouter sets up the Gin router with middleware and all routes.
func (s *service) initRouter() {
	s.router = gin.Default()
	s.router.Use(otelgin.Middleware("harborchat-orchestrator"))

	chatHandler := handlers.NewChatHandler(
		s.weaviateClient,
		s.llmClient,
		s.webContext,
		s.retrieval,
		s.config.LLMBackend,
	)

	routes.SetupRoutes(s.router, s.weaviateClient, chatHandler, s.embedder, s.config.UploadDir)
}

// cleanup releases resources held by the service.
func (s *service) cleanup() {
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}

// Copyright (C) 2025 Osori AI (dev@osori.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package orchestrator wires the copilot service: the answering pipeline
// with its stores and model clients, the HTTP surface, tracing, and
// metrics.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/osoriai/pms-copilot/services/llm"
	"github.com/osoriai/pms-copilot/services/orchestrator/graph"
	"github.com/osoriai/pms-copilot/services/orchestrator/handlers"
	"github.com/osoriai/pms-copilot/services/orchestrator/intent"
	"github.com/osoriai/pms-copilot/services/orchestrator/normalizer"
	"github.com/osoriai/pms-copilot/services/orchestrator/observability"
	"github.com/osoriai/pms-copilot/services/orchestrator/retrieval"
	"github.com/osoriai/pms-copilot/services/orchestrator/routes"
	"github.com/osoriai/pms-copilot/services/orchestrator/schema"
	"github.com/osoriai/pms-copilot/services/orchestrator/statusquery"
	"github.com/osoriai/pms-copilot/services/orchestrator/storage"
	"github.com/osoriai/pms-copilot/services/orchestrator/text2query"
	"github.com/osoriai/pms-copilot/services/orchestrator/trust"
	"github.com/osoriai/pms-copilot/services/policy_engine"
)

// Config is the service configuration, populated from environment
// variables by cmd/orchestrator.
type Config struct {
	// Port is the HTTP server port. Default: 12210
	Port int

	// LLMBackend selects the composing model provider.
	// Valid values: "ollama", "openai", "local". Default: "ollama"
	LLMBackend string

	// OTelEndpoint is the OpenTelemetry collector endpoint.
	OTelEndpoint string

	// GinMode sets the Gin framework mode ("debug", "release", "test").
	GinMode string

	// PostgresURL is the PMS operational database. Required: the status
	// engine and the NL-to-query executor run on it.
	PostgresURL string

	// Neo4j document graph connection. Required: hybrid retrieval and
	// evidence persistence run on it.
	Neo4jURI      string
	Neo4jUser     string
	Neo4jPassword string
	Neo4jDatabase string

	// OllamaURL and EmbeddingModel configure the embedding client.
	OllamaURL      string
	EmbeddingModel string

	// MDLPath is the semantic model file the schema graph loads.
	MDLPath string

	// BadgerPath is the local store for the shadow dictionary and the
	// few-shot examples. Empty means in-memory.
	BadgerPath string

	// MergeMethod picks the hybrid fusion strategy:
	// "weighted", "rrf", or "rrf_rerank". Default: "weighted"
	MergeMethod string

	// MinRelevance overrides the retrieval fallback score floor.
	MinRelevance float64

	// ConfidenceThreshold overrides the authority confidence floor.
	ConfidenceThreshold float64

	// AuthorityConfigPath points to an optional YAML role-override file.
	AuthorityConfigPath string

	// MinSampleCount gates typo tuner recommendations.
	MinSampleCount int

	// SamplingRate drives the light guardian and latency histograms.
	SamplingRate float64

	// RatePerMinute is the per-user, per-intent-family request budget.
	RatePerMinute int

	// EnableMetrics registers the Prometheus metric set. Disable in tests
	// to avoid duplicate registration.
	EnableMetrics bool
}

// Service is the runnable orchestrator.
type Service interface {
	// Run starts the HTTP server and blocks until it exits.
	Run() error

	// Router exposes the Gin engine for integration tests.
	Router() *gin.Engine

	// Shutdown releases stores, drivers, and the tracer.
	Shutdown(ctx context.Context)
}

type service struct {
	config Config
	router *gin.Engine
	logger *slog.Logger

	db        *badger.DB
	pool      *pgxpool.Pool
	searcher  *retrieval.Neo4jSearcher
	schemaSvc *schema.Service
	shadow    *normalizer.ShadowDict
	tuner     *normalizer.TypoTuner
	querySvc  *text2query.Service
	pipeline  *graph.Pipeline
	health    *observability.HealthEvaluator
	recorder  *observability.Recorder

	tracerCleanup func(context.Context)
}

// New wires the full service. Construction fails fast: a missing database,
// an unloadable metric catalog, or a broken MDL file is a deployment
// fault, not something to limp through.
func New(cfg Config) (Service, error) {
	cfg = applyConfigDefaults(cfg)
	s := &service{config: cfg, logger: slog.Default()}

	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("initializing tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	deps, err := s.initPipeline()
	if err != nil {
		s.Shutdown(context.Background())
		return nil, err
	}

	pipeline, err := graph.NewPipeline(deps)
	if err != nil {
		s.Shutdown(context.Background())
		return nil, fmt.Errorf("wiring pipeline: %w", err)
	}
	s.pipeline = pipeline

	s.health = observability.NewHealthEvaluator()
	if cfg.EnableMetrics {
		metrics := observability.NewPipelineMetrics()
		s.recorder = observability.NewRecorder(metrics, cfg.SamplingRate, time.Now().UnixNano())
	}

	s.initRouter(deps)
	return s, nil
}

func (s *service) Run() error {
	defer s.Shutdown(context.Background())
	addr := fmt.Sprintf(":%d", s.config.Port)
	s.logger.Info("starting copilot server", "port", s.config.Port)
	return s.router.Run(addr)
}

func (s *service) Router() *gin.Engine {
	return s.router
}

// Shutdown releases everything New opened. Safe to call on a partially
// constructed service and safe to call twice.
func (s *service) Shutdown(ctx context.Context) {
	if s.schemaSvc != nil {
		_ = s.schemaSvc.Close()
		s.schemaSvc = nil
	}
	if s.searcher != nil {
		if err := s.searcher.Close(ctx); err != nil {
			s.logger.Error("closing neo4j driver", "error", err)
		}
		s.searcher = nil
	}
	if s.pool != nil {
		s.pool.Close()
		s.pool = nil
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("closing badger", "error", err)
		}
		s.db = nil
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(ctx)
		s.tracerCleanup = nil
	}
}

func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12210
	}
	if cfg.LLMBackend == "" {
		cfg.LLMBackend = "ollama"
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "pms-otel-collector:4317"
	}
	if cfg.Neo4jDatabase == "" {
		cfg.Neo4jDatabase = "neo4j"
	}
	if cfg.OllamaURL == "" {
		cfg.OllamaURL = "http://localhost:11434"
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = "bge-m3"
	}
	if cfg.MDLPath == "" {
		cfg.MDLPath = "./config/pms_mdl.json"
	}
	if cfg.MergeMethod == "" {
		cfg.MergeMethod = string(retrieval.MergeWeighted)
	}
	if cfg.SamplingRate <= 0 || cfg.SamplingRate > 1 {
		cfg.SamplingRate = observability.DefaultSamplingRate
	}
	if cfg.RatePerMinute <= 0 {
		cfg.RatePerMinute = 30
	}
	return cfg
}

// initPipeline builds every pipeline dependency in wiring order: stores
// first, then the model clients, then the services over them.
func (s *service) initPipeline() (graph.Deps, error) {
	ctx := context.Background()

	storeCfg := storage.InMemoryConfig()
	if s.config.BadgerPath != "" {
		storeCfg = storage.DefaultConfig(s.config.BadgerPath)
	}
	db, err := storage.Open(storeCfg)
	if err != nil {
		return graph.Deps{}, fmt.Errorf("opening badger at %q: %w", s.config.BadgerPath, err)
	}
	s.db = db

	pool, err := pgxpool.New(ctx, s.config.PostgresURL)
	if err != nil {
		return graph.Deps{}, fmt.Errorf("connecting to postgres: %w", err)
	}
	s.pool = pool

	searcher, err := retrieval.NewNeo4jSearcher(ctx,
		s.config.Neo4jURI, s.config.Neo4jUser, s.config.Neo4jPassword, s.config.Neo4jDatabase)
	if err != nil {
		return graph.Deps{}, fmt.Errorf("connecting to neo4j: %w", err)
	}
	s.searcher = searcher

	policy, err := policy_engine.NewPolicyEngine()
	if err != nil {
		return graph.Deps{}, fmt.Errorf("initializing policy engine: %w", err)
	}

	composer, err := s.initLLMClient()
	if err != nil {
		return graph.Deps{}, fmt.Errorf("initializing llm client: %w", err)
	}

	// Normalization stack.
	catalog := normalizer.DefaultKeywordCatalog()
	tuner := normalizer.NewTypoTuner(catalog, s.config.MinSampleCount)
	shadow, err := normalizer.NewShadowDict(db, normalizer.DefaultShadowConfig())
	if err != nil {
		return graph.Deps{}, fmt.Errorf("loading shadow dictionary: %w", err)
	}
	s.shadow = shadow
	s.tuner = tuner

	// Schema graph with hot reload.
	schemaSvc, err := schema.NewService(s.config.MDLPath)
	if err != nil {
		return graph.Deps{}, fmt.Errorf("loading MDL from %q: %w", s.config.MDLPath, err)
	}
	if err := schemaSvc.Watch(); err != nil {
		s.logger.Warn("schema hot reload unavailable", "error", err)
	}
	s.schemaSvc = schemaSvc

	// Deterministic status metrics.
	metricCatalog, err := statusquery.LoadCatalog()
	if err != nil {
		return graph.Deps{}, fmt.Errorf("loading metric catalog: %w", err)
	}
	statusEngine := statusquery.NewEngine(metricCatalog, &statusquery.PgxMetricRunner{Pool: pool})

	// NL-to-query.
	fewshot, err := text2query.NewFewShotStore(db, 0)
	if err != nil {
		return graph.Deps{}, fmt.Errorf("loading few-shot store: %w", err)
	}
	// Each generation stage gets its own adaptive timeout so a slow model
	// grows one stage's budget without inflating the others.
	genPolicy := llm.DefaultCallPolicy()
	genPolicy = genPolicy.WithAdaptiveTimeout(llm.NewAdaptiveTimeout(genPolicy.StageTimeout))
	corrPolicy := llm.DefaultCallPolicy()
	corrPolicy = corrPolicy.WithAdaptiveTimeout(llm.NewAdaptiveTimeout(corrPolicy.StageTimeout))
	querySvc := text2query.NewService(
		schemaSvc,
		text2query.NewGenerator(composer, genPolicy, fewshot),
		text2query.NewCorrector(composer, corrPolicy),
		text2query.NewExecutor(pool, text2query.DefaultSafeExecutionConfig()),
		fewshot,
	)
	s.querySvc = querySvc

	// Hybrid retrieval.
	embedder, err := retrieval.NewOllamaEmbedder(s.config.OllamaURL, s.config.EmbeddingModel)
	if err != nil {
		return graph.Deps{}, fmt.Errorf("initializing embedder: %w", err)
	}
	retrCfg := retrieval.DefaultConfig()
	retrCfg.Strategy = retrieval.MergeStrategy(s.config.MergeMethod)
	if s.config.MinRelevance > 0 {
		retrCfg.MinMaxScore = s.config.MinRelevance
	}
	retriever := retrieval.NewRetriever(embedder, searcher, nil, retrCfg, s.logger)

	// Trust layer.
	authCfg, err := s.loadAuthorityConfig()
	if err != nil {
		return graph.Deps{}, err
	}
	seed := time.Now().UnixNano()
	deps := graph.Deps{
		Normalizer: normalizer.New(catalog, shadow, tuner),
		Classifier: intent.NewClassifier(),
		Policy:     policy,
		Limiter:    policy_engine.NewRateLimiter(s.config.RatePerMinute, time.Minute),
		Status:     statusEngine,
		Query:      querySvc,
		Retriever:  retriever,
		Evidence: trust.NewEvidenceService(0, 0, 0, &trust.Neo4jEvidencePersister{
			Driver:   searcher.Driver(),
			Database: s.config.Neo4jDatabase,
		}),
		Authority: trust.NewAuthorityClassifier(authCfg),
		Guardian:  trust.NewGuardian(policy),
		Light:     trust.NewLightGuardian(policy, s.config.SamplingRate, seed),
		Failures:  trust.NewFailureHandler(),
		Composer:  composer,
		Logger:    s.logger,
	}
	return deps, nil
}

func (s *service) loadAuthorityConfig() (trust.AuthorityConfig, error) {
	cfg := trust.DefaultAuthorityConfig()
	if s.config.AuthorityConfigPath != "" {
		raw, err := os.ReadFile(s.config.AuthorityConfigPath)
		if err != nil {
			return cfg, fmt.Errorf("reading authority config: %w", err)
		}
		cfg, err = trust.ParseAuthorityConfig(raw)
		if err != nil {
			return cfg, err
		}
	}
	if s.config.ConfidenceThreshold > 0 {
		cfg.ConfidenceThreshold = s.config.ConfidenceThreshold
	}
	return cfg, nil
}

func (s *service) initLLMClient() (llm.LLMClient, error) {
	switch s.config.LLMBackend {
	case "openai":
		return llm.NewOpenAIClient()
	case "local":
		return llm.NewLocalLlamaCppClient()
	default:
		return llm.NewOllamaClient()
	}
}

func (s *service) initRouter(deps graph.Deps) {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}
	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(otelgin.Middleware("pms-copilot"))

	routes.SetupRoutes(s.router, routes.Deps{
		Chat: handlers.ChatDeps{
			Pipeline:   s.pipeline,
			Recorder:   s.recorder,
			Health:     s.health,
			Normalizer: deps.Normalizer,
			ModelName:  s.modelName(deps),
		},
		Admin: handlers.AdminDeps{
			Tuner:  s.tuner,
			Shadow: s.shadow,
			Schema: s.schemaSvc,
			Health: s.health,
		},
		Query:      s.querySvc,
		Classifier: deps.Classifier,
		Readiness: handlers.Readiness{
			ModelName:     s.modelName(deps),
			RAGReady:      s.searcher != nil,
			WorkflowReady: s.pipeline != nil,
		},
	})
}

func (s *service) modelName(deps graph.Deps) string {
	if deps.Composer == nil {
		return ""
	}
	return deps.Composer.ModelName()
}

func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(s.config.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("pms-copilot")))
	if err != nil {
		return nil, err
	}
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(exporter)))
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := exporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shut down OTLP exporter", "error", err)
		}
	}, nil
}

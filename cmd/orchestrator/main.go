// Copyright (C) 2025 Osori AI (dev@osori.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command orchestrator starts the PMS copilot HTTP server.
//
// This is the main entry point for the containerized copilot service.
// It reads configuration from environment variables and starts the server.
//
// # Environment Variables
//
//   - ORCHESTRATOR_PORT: HTTP server port (default: 12210)
//   - LLM_BACKEND_TYPE: LLM provider - ollama, openai, local (default: ollama)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (default: pms-otel-collector:4317)
//   - POSTGRES_URL: PMS operational database (required)
//   - NEO4J_URI, NEO4J_USER, NEO4J_PASSWORD, NEO4J_DATABASE: document graph (required)
//   - OLLAMA_SERVICE_URL: embedding server (default: http://localhost:11434)
//   - EMBEDDING_MODEL_NAME: embedding model (default: bge-m3)
//   - MDL_PATH: semantic model file (default: ./config/pms_mdl.json)
//   - BADGER_PATH: local store directory; empty runs in-memory
//   - HYBRID_MERGE_METHOD: weighted, rrf, rrf_rerank (default: weighted)
//   - MIN_RELEVANCE: retrieval fallback score floor
//   - CONFIDENCE_THRESHOLD: authority confidence floor
//   - AUTHORITY_CONFIG_PATH: YAML role-override file (optional)
//   - MIN_SAMPLE_COUNT: typo tuner recommendation gate
//   - SAMPLING_RATE: guardian and latency sampling rate
//   - RATE_PER_MINUTE: per-user request budget (default: 30)
//
// # Usage
//
//	# Build
//	go build -o copilot ./cmd/orchestrator
//
//	# Run
//	./copilot
//
//	# Or via container
//	podman-compose up copilot
package main

import (
	"log"
	"log/slog"
	"os"
	"strconv"

	"github.com/osoriai/pms-copilot/services/orchestrator"
)

func main() {
	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Build configuration from environment variables
	cfg := orchestrator.Config{
		Port:                getEnvInt("ORCHESTRATOR_PORT", 12210),
		LLMBackend:          getEnvString("LLM_BACKEND_TYPE", "ollama"),
		OTelEndpoint:        getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", "pms-otel-collector:4317"),
		GinMode:             os.Getenv("GIN_MODE"),
		PostgresURL:         os.Getenv("POSTGRES_URL"),
		Neo4jURI:            os.Getenv("NEO4J_URI"),
		Neo4jUser:           os.Getenv("NEO4J_USER"),
		Neo4jPassword:       os.Getenv("NEO4J_PASSWORD"),
		Neo4jDatabase:       getEnvString("NEO4J_DATABASE", "neo4j"),
		OllamaURL:           getEnvString("OLLAMA_SERVICE_URL", "http://localhost:11434"),
		EmbeddingModel:      getEnvString("EMBEDDING_MODEL_NAME", "bge-m3"),
		MDLPath:             getEnvString("MDL_PATH", "./config/pms_mdl.json"),
		BadgerPath:          os.Getenv("BADGER_PATH"),
		MergeMethod:         getEnvString("HYBRID_MERGE_METHOD", "weighted"),
		MinRelevance:        getEnvFloat("MIN_RELEVANCE", 0),
		ConfidenceThreshold: getEnvFloat("CONFIDENCE_THRESHOLD", 0),
		AuthorityConfigPath: os.Getenv("AUTHORITY_CONFIG_PATH"),
		MinSampleCount:      getEnvInt("MIN_SAMPLE_COUNT", 0),
		SamplingRate:        getEnvFloat("SAMPLING_RATE", 0),
		RatePerMinute:       getEnvInt("RATE_PER_MINUTE", 30),
		EnableMetrics:       true,
	}

	slog.Info("Starting copilot",
		"port", cfg.Port,
		"llm_backend", cfg.LLMBackend,
		"merge_method", cfg.MergeMethod,
		"mdl_path", cfg.MDLPath,
	)

	svc, err := orchestrator.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create copilot service: %v", err)
	}

	// Run the server (blocks until shutdown)
	if err := svc.Run(); err != nil {
		log.Fatalf("Copilot error: %v", err)
	}
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns the environment variable as float64 or a default.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

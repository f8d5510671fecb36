// Copyright (C) 2025 Halcyon Works (oss@halcyonworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command orchestrator starts the harborchat orchestrator HTTP server.
//
// This is the main entry point for the containerized service. It reads
// configuration from environment variables and starts the server.
//
// # Environment Variables
//
//   - ORCHESTRATOR_PORT: HTTP server port (default: 12210)
//   - LLM_BACKEND_TYPE: LLM provider - ollama, openai (default: ollama)
//   - WEAVIATE_SERVICE_URL: Weaviate vector DB URL (optional)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (default: harborchat-otel-collector:4317)
//   - GOOGLE_API_KEY, GOOGLE_CSE_ID: Web search credentials (optional)
//   - EMBEDDING_SERVICE_URL: Embedding service for document retrieval (optional)
//   - UPLOAD_DIR: PDF upload root (default: ./uploads)
//   - LOG_DIR: Enables JSON file logging (optional)
//
// # Usage
//
//	go build -o orchestrator ./cmd/orchestrator
//	./orchestrator
package main

import (
	"log"
	"log/slog"
	"os"
	"strconv"

	"github.com/halcyonworks/harborchat/pkg/logging"
	"github.com/halcyonworks/harborchat/services/orchestrator"
)

func main() {
	logger, err := logging.Setup(logging.Config{
		Service: "orchestrator",
		LogDir:  os.Getenv("LOG_DIR"),
		Level:   os.Getenv("LOG_LEVEL"),
	})
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer logger.Close()

	cfg := orchestrator.Config{
		Port:                getEnvInt("ORCHESTRATOR_PORT", 12210),
		LLMBackend:          getEnvString("LLM_BACKEND_TYPE", "ollama"),
		WeaviateURL:         os.Getenv("WEAVIATE_SERVICE_URL"),
		OTelEndpoint:        getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", "harborchat-otel-collector:4317"),
		GoogleAPIKey:        os.Getenv("GOOGLE_API_KEY"),
		GoogleCSEID:         os.Getenv("GOOGLE_CSE_ID"),
		EmbeddingServiceURL: os.Getenv("EMBEDDING_SERVICE_URL"),
		UploadDir:           getEnvString("UPLOAD_DIR", "./uploads"),
	}

	slog.Info("Starting orchestrator",
		"port", cfg.Port,
		"llm_backend", cfg.LLMBackend,
		"weaviate_url", cfg.WeaviateURL,
	)

	svc, err := orchestrator.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create orchestrator: %v", err)
	}

	if err := svc.Run(); err != nil {
		log.Fatalf("Orchestrator error: %v", err)
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

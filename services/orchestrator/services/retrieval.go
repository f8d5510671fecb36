// Copyright (C) 2025 Halcyon Works (oss@halcyonworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package services provides business logic services for the orchestrator.
//
// Services encapsulate the logic between HTTP handlers and external
// systems (Weaviate, the embedding service, the LLM). They are injected
// with their dependencies, traceable via context, and safe for concurrent
// use.
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/halcyonworks/harborchat/services/orchestrator/datatypes"
)

var retrievalTracer = otel.Tracer("harborchat.orchestrator.services.retrieval")

// Compile-time interface implementation check.
var _ Retriever = (*RetrievalService)(nil)

// =============================================================================
// Interfaces
// =============================================================================

// Retriever decides whether retrieval augmentation applies to a request
// and performs the conversation-scoped similarity search.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Retriever interface {
	// ShouldAttach reports whether retrieval context should be attached:
	// true when the conversation opted in via settings, or when at least
	// one ingested source exists for it.
	ShouldAttach(ctx context.Context, conversationID string, settings datatypes.ConversationSettings) bool

	// Retrieve runs a vector similarity search filtered strictly to the
	// conversation's ingested material. topK bounds the chunk count.
	Retrieve(ctx context.Context, conversationID, query string, topK int) ([]RetrievedChunk, error)
}

// Embedder produces a vector for a single query text.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// =============================================================================
// Types
// =============================================================================

// RetrievedChunk is one similarity hit with its provenance.
type RetrievedChunk struct {
	Content string
	Source  string
	Score   float64
}

// =============================================================================
// Embedding Client
// =============================================================================

// BatchEmbeddingRequest is the embedding service request payload.
type BatchEmbeddingRequest struct {
	Texts []string `json:"texts"`
}

// BatchEmbeddingResponse is the embedding service response payload.
type BatchEmbeddingResponse struct {
	Id        string      `json:"id"`
	Timestamp int64       `json:"timestamp"`
	Vectors   [][]float32 `json:"vectors"`
	Model     string      `json:"model"`
	Dim       int         `json:"dim"`
}

// EmbeddingClient calls the external embedding service over HTTP.
type EmbeddingClient struct {
	httpClient *http.Client
	batchURL   string
}

var _ Embedder = (*EmbeddingClient)(nil)

// NewEmbeddingClient builds a client for the embedding service.
// baseURL is the service root, e.g. "http://embedding:8000".
func NewEmbeddingClient(baseURL string) *EmbeddingClient {
	return &EmbeddingClient{
		// Batch embedding of large uploads can take a while.
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		batchURL:   strings.TrimSuffix(baseURL, "/") + "/batch_embed",
	}
}

// EmbedTexts embeds a batch of texts, preserving order.
func (e *EmbeddingClient) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody, err := json.Marshal(BatchEmbeddingRequest{Texts: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal batch embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", e.batchURL, bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create batch embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call batch embed endpoint: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read batch embed response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("batch embed returned status %d: %s", resp.StatusCode, string(body))
	}

	var batchResp BatchEmbeddingResponse
	if err := json.Unmarshal(body, &batchResp); err != nil {
		return nil, fmt.Errorf("failed to decode batch embed response: %w", err)
	}
	if len(batchResp.Vectors) != len(texts) {
		return nil, fmt.Errorf("embedding service returned %d vectors for %d texts",
			len(batchResp.Vectors), len(texts))
	}
	return batchResp.Vectors, nil
}

// EmbedQuery embeds a single query text.
func (e *EmbeddingClient) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// =============================================================================
// RetrievalService
// =============================================================================

// RetrievalService implements Retriever on Weaviate.
//
// # Description
//
// Retrieval is scoped with a conversation_id filter on every query;
// chunks ingested for one conversation are never visible to another.
// The auto-detect path checks two signals: stored PDFs under the upload
// directory, and ingested DocumentChunk objects (covers uploads made on
// another replica that shares only the vector store).
type RetrievalService struct {
	weaviateClient *weaviate.Client
	embedder       Embedder
	uploadDir      string
}

// NewRetrievalService builds the service.
//
// # Inputs
//
//   - weaviateClient: Vector store client. Must not be nil.
//   - embedder: Query embedder. Must not be nil.
//   - uploadDir: Root directory of per-conversation uploads.
func NewRetrievalService(weaviateClient *weaviate.Client, embedder Embedder, uploadDir string) *RetrievalService {
	return &RetrievalService{
		weaviateClient: weaviateClient,
		embedder:       embedder,
		uploadDir:      uploadDir,
	}
}

// ShouldAttach reports whether retrieval context applies to this request.
func (s *RetrievalService) ShouldAttach(ctx context.Context, conversationID string, settings datatypes.ConversationSettings) bool {
	if settings.RagEnabled {
		return true
	}
	return s.HasIngestedSources(ctx, conversationID)
}

// HasIngestedSources reports whether at least one ingested source exists
// for the conversation. Existence only — content is never inspected here.
func (s *RetrievalService) HasIngestedSources(ctx context.Context, conversationID string) bool {
	if HasUploadedPDF(s.uploadDir, conversationID) {
		return true
	}

	count, err := s.countChunks(ctx, conversationID)
	if err != nil {
		slog.Debug("Chunk existence check failed, assuming no sources",
			"conversation_id", conversationID, "error", err)
		return false
	}
	return count > 0
}

// HasUploadedPDF reports whether the conversation's upload directory
// contains at least one PDF.
func HasUploadedPDF(uploadDir, conversationID string) bool {
	if uploadDir == "" {
		return false
	}
	entries, err := os.ReadDir(filepath.Join(uploadDir, conversationID))
	if err != nil {
		return false
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(entry.Name()), ".pdf") {
			return true
		}
	}
	return false
}

// countChunks counts ingested DocumentChunk objects for a conversation.
func (s *RetrievalService) countChunks(ctx context.Context, conversationID string) (int, error) {
	result, err := s.weaviateClient.GraphQL().Aggregate().
		WithClassName("DocumentChunk").
		WithWhere(chunkFilter(conversationID)).
		WithFields(graphql.Field{
			Name:   "meta",
			Fields: []graphql.Field{{Name: "count"}},
		}).
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("chunk count aggregate failed: %w", err)
	}
	if len(result.Errors) > 0 {
		return 0, fmt.Errorf("chunk count aggregate returned errors: %v", result.Errors[0].Message)
	}

	aggregate, ok := result.Data["Aggregate"].(map[string]interface{})
	if !ok {
		return 0, fmt.Errorf("unexpected aggregate response shape")
	}
	rows, ok := aggregate["DocumentChunk"].([]interface{})
	if !ok || len(rows) == 0 {
		return 0, nil
	}
	row, ok := rows[0].(map[string]interface{})
	if !ok {
		return 0, nil
	}
	meta, ok := row["meta"].(map[string]interface{})
	if !ok {
		return 0, nil
	}
	count, _ := meta["count"].(float64)
	return int(count), nil
}

// Retrieve runs the conversation-scoped similarity search.
//
// # Description
//
// Embeds the query, then runs a nearVector search on DocumentChunk with
// the conversation filter applied. Scores are derived from vector
// distance (score = 1 - distance) and returned in relevance order.
func (s *RetrievalService) Retrieve(ctx context.Context, conversationID, query string, topK int) ([]RetrievedChunk, error) {
	ctx, span := retrievalTracer.Start(ctx, "RetrievalService.Retrieve")
	defer span.End()
	span.SetAttributes(
		attribute.String("retrieval.conversation_id", conversationID),
		attribute.Int("retrieval.top_k", topK),
	)

	if topK <= 0 {
		topK = datatypes.DefaultRagTopK
	}

	vector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query embedding failed")
		return nil, fmt.Errorf("query embedding failed: %w", err)
	}

	nearVector := s.weaviateClient.GraphQL().NearVectorArgBuilder().
		WithVector(vector)

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "source"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}},
	}

	result, err := s.weaviateClient.GraphQL().Get().
		WithClassName("DocumentChunk").
		WithFields(fields...).
		WithNearVector(nearVector).
		WithWhere(chunkFilter(conversationID)).
		WithLimit(topK).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "similarity search failed")
		return nil, fmt.Errorf("similarity search failed: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("similarity search returned errors: %v", result.Errors[0].Message)
	}

	get, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected similarity response shape")
	}
	rows, _ := get["DocumentChunk"].([]interface{})

	chunks := make([]RetrievedChunk, 0, len(rows))
	for _, row := range rows {
		props, ok := row.(map[string]interface{})
		if !ok {
			continue
		}
		chunk := RetrievedChunk{}
		chunk.Content, _ = props["content"].(string)
		chunk.Source, _ = props["source"].(string)
		if additional, ok := props["_additional"].(map[string]interface{}); ok {
			if distance, ok := additional["distance"].(float64); ok {
				chunk.Score = 1 - distance
			}
		}
		chunks = append(chunks, chunk)
	}

	span.SetAttributes(attribute.Int("retrieval.chunks", len(chunks)))
	slog.Debug("Retrieved chunks", "conversation_id", conversationID, "count", len(chunks))
	return chunks, nil
}

// chunkFilter builds the conversation_id equality filter for chunks.
func chunkFilter(conversationID string) *filters.WhereBuilder {
	return filters.Where().
		WithPath([]string{"conversation_id"}).
		WithOperator(filters.Equal).
		WithValueText(conversationID)
}

// =============================================================================
// Grounding Context
// =============================================================================

// BuildGroundingContext formats retrieved chunks as a grounding block for
// the system instruction.
//
// Returns "" for zero chunks.
func BuildGroundingContext(chunks []RetrievedChunk) string {
	if len(chunks) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Use the following document excerpts from this conversation's uploads to answer.\n")
	for i, chunk := range chunks {
		fmt.Fprintf(&b, "[Document %d: %s]\n%s\n", i+1, chunk.Source, chunk.Content)
	}
	return b.String()
}

// Copyright (C) 2025 Halcyon Works (oss@halcyonworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Upload Detection
// =============================================================================

func TestHasUploadedPDF(t *testing.T) {
	uploadDir := t.TempDir()
	convWithPDF := "conv-with-pdf"
	convWithUpper := "conv-with-upper"
	convWithOther := "conv-with-other"
	convEmpty := "conv-empty"

	require.NoError(t, os.MkdirAll(filepath.Join(uploadDir, convWithPDF), 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(uploadDir, convWithPDF, "report.pdf"), []byte("%PDF-"), 0o644))

	require.NoError(t, os.MkdirAll(filepath.Join(uploadDir, convWithUpper), 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(uploadDir, convWithUpper, "REPORT.PDF"), []byte("%PDF-"), 0o644))

	require.NoError(t, os.MkdirAll(filepath.Join(uploadDir, convWithOther), 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(uploadDir, convWithOther, "notes.txt"), []byte("text"), 0o644))

	require.NoError(t, os.MkdirAll(filepath.Join(uploadDir, convEmpty), 0o755))

	tests := []struct {
		name           string
		conversationID string
		want           bool
	}{
		{"pdf present", convWithPDF, true},
		{"extension is case-insensitive", convWithUpper, true},
		{"only non-pdf files", convWithOther, false},
		{"empty directory", convEmpty, false},
		{"directory missing", "never-uploaded", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HasUploadedPDF(uploadDir, tt.conversationID))
		})
	}
}

func TestHasUploadedPDF_EmptyUploadDir(t *testing.T) {
	assert.False(t, HasUploadedPDF("", "conv-1"))
}

// =============================================================================
// Grounding Context
// =============================================================================

func TestBuildGroundingContext_Empty(t *testing.T) {
	assert.Empty(t, BuildGroundingContext(nil))
	assert.Empty(t, BuildGroundingContext([]RetrievedChunk{}))
}

func TestBuildGroundingContext_NumbersAndAttributes(t *testing.T) {
	chunks := []RetrievedChunk{
		{Content: "First excerpt.", Source: "report.pdf", Score: 0.91},
		{Content: "Second excerpt.", Source: "appendix.pdf", Score: 0.77},
	}

	block := BuildGroundingContext(chunks)

	assert.Contains(t, block, "Use the following document excerpts")
	assert.Contains(t, block, "[Document 1: report.pdf]\nFirst excerpt.\n")
	assert.Contains(t, block, "[Document 2: appendix.pdf]\nSecond excerpt.\n")
}

// =============================================================================
// Embedding Client
// =============================================================================

func TestEmbeddingClient_BatchURL(t *testing.T) {
	tests := []struct {
		baseURL string
		want    string
	}{
		{"http://embedding:8000", "http://embedding:8000/batch_embed"},
		{"http://embedding:8000/", "http://embedding:8000/batch_embed"},
	}

	for _, tt := range tests {
		client := NewEmbeddingClient(tt.baseURL)
		assert.Equal(t, tt.want, client.batchURL)
	}
}

func TestEmbeddingClient_EmbedTexts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/batch_embed", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req BatchEmbeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"alpha", "beta"}, req.Texts)

		resp := BatchEmbeddingResponse{
			Vectors: [][]float32{{0.1, 0.2}, {0.3, 0.4}},
			Model:   "test-embedder",
			Dim:     2,
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewEmbeddingClient(server.URL)
	vectors, err := client.EmbedTexts(context.Background(), []string{"alpha", "beta"})

	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, []float32{0.1, 0.2}, vectors[0])
	assert.Equal(t, []float32{0.3, 0.4}, vectors[1])
}

func TestEmbeddingClient_VectorCountMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(BatchEmbeddingResponse{
			Vectors: [][]float32{{0.1}},
		})
	}))
	defer server.Close()

	client := NewEmbeddingClient(server.URL)
	_, err := client.EmbedTexts(context.Background(), []string{"a", "b", "c"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 vectors for 3 texts")
}

func TestEmbeddingClient_ServiceError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewEmbeddingClient(server.URL)
	_, err := client.EmbedTexts(context.Background(), []string{"a"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
}

func TestEmbeddingClient_EmbedQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req BatchEmbeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Texts, 1)
		_ = json.NewEncoder(w).Encode(BatchEmbeddingResponse{
			Vectors: [][]float32{{0.5, 0.6, 0.7}},
		})
	}))
	defer server.Close()

	client := NewEmbeddingClient(server.URL)
	vector, err := client.EmbedQuery(context.Background(), "what is in the report?")

	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.6, 0.7}, vector)
}

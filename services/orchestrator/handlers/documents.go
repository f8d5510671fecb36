// Copyright (C) 2025 Halcyon Works (oss@halcyonworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/tmc/langchaingo/documentloaders"
	"github.com/tmc/langchaingo/textsplitter"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/halcyonworks/harborchat/services/orchestrator/services"
)

// Chunking parameters for ingested PDFs.
var (
	chunkSize    = 1000
	chunkOverlap = 100
)

// UploadDocumentHandler ingests a PDF into a conversation's document space.
//
// # Description
//
// POST /v1/conversations/:conversationId/documents with a multipart "file"
// field. Only PDFs are accepted; anything else gets 415. The file is saved
// under the upload directory keyed by conversation, its text extracted and
// split into overlapping chunks, embedded in one batch, and written to the
// vector store scoped to the conversation. Chunk object IDs derive from a
// content hash, so re-uploading the same file overwrites rather than
// duplicates.
func UploadDocumentHandler(client *weaviate.Client, embedder *services.EmbeddingClient, uploadDir string) gin.HandlerFunc {
	return func(c *gin.Context) {
		conversationID := c.Param("conversationId")
		if !isValidConversationID(conversationID) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
			return
		}

		fileHeader, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file field is required"})
			return
		}

		filename := filepath.Base(fileHeader.Filename)
		if !strings.EqualFold(filepath.Ext(filename), ".pdf") {
			c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "only PDF uploads are supported"})
			return
		}

		convDir := filepath.Join(uploadDir, conversationID)
		if err := os.MkdirAll(convDir, 0o755); err != nil {
			slog.Error("Failed to create upload directory", "dir", convDir, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store upload"})
			return
		}

		savedPath := filepath.Join(convDir, filename)
		if err := c.SaveUploadedFile(fileHeader, savedPath); err != nil {
			slog.Error("Failed to save upload", "path", savedPath, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store upload"})
			return
		}

		chunksCreated, err := ingestPDF(c.Request.Context(), client, embedder, conversationID, savedPath)
		if err != nil {
			slog.Error("PDF ingestion failed",
				"conversation_id", conversationID, "file", filename, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to ingest document"})
			return
		}

		slog.Info("Ingested document",
			"conversation_id", conversationID, "file", filename, "chunks", chunksCreated)
		c.JSON(http.StatusCreated, gin.H{
			"status":           "success",
			"conversation_id":  conversationID,
			"source":           filename,
			"chunks_processed": chunksCreated,
		})
	}
}

// ListDocumentsHandler lists the distinct sources ingested for a
// conversation.
//
// GET /v1/conversations/:conversationId/documents.
func ListDocumentsHandler(client *weaviate.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		conversationID := c.Param("conversationId")
		if !isValidConversationID(conversationID) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
			return
		}

		agg, err := client.GraphQL().Aggregate().
			WithClassName("DocumentChunk").
			WithGroupBy("source").
			WithWhere(conversationScopedFilter(conversationID)).
			Do(c.Request.Context())
		if err != nil {
			slog.Error("Failed to aggregate document chunks",
				"conversation_id", conversationID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list documents"})
			return
		}

		docList := []string{}
		if aggMap, ok := agg.Data["Aggregate"].(map[string]interface{}); ok {
			if groups, ok := aggMap["DocumentChunk"].([]interface{}); ok {
				for _, groupItem := range groups {
					groupMap, ok := groupItem.(map[string]interface{})
					if !ok {
						continue
					}
					groupedBy, ok := groupMap["groupedBy"].(map[string]interface{})
					if !ok {
						continue
					}
					if source, ok := groupedBy["value"].(string); ok {
						docList = append(docList, source)
					}
				}
			}
		}

		c.JSON(http.StatusOK, gin.H{"conversation_id": conversationID, "documents": docList})
	}
}

// conversationScopedFilter builds the conversation_id equality filter.
func conversationScopedFilter(conversationID string) *filters.WhereBuilder {
	return filters.Where().
		WithPath([]string{"conversation_id"}).
		WithOperator(filters.Equal).
		WithValueText(conversationID)
}

// ingestPDF extracts, chunks, embeds, and stores one saved PDF.
func ingestPDF(ctx context.Context, client *weaviate.Client, embedder *services.EmbeddingClient, conversationID, pdfPath string) (int, error) {
	f, err := os.Open(pdfPath)
	if err != nil {
		return 0, fmt.Errorf("failed to open saved pdf: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat saved pdf: %w", err)
	}

	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(chunkSize),
		textsplitter.WithChunkOverlap(chunkOverlap),
	)

	docs, err := documentloaders.NewPDF(f, info.Size()).LoadAndSplit(ctx, splitter)
	if err != nil {
		return 0, fmt.Errorf("failed to extract pdf text: %w", err)
	}

	chunks := make([]string, 0, len(docs))
	for _, doc := range docs {
		if strings.TrimSpace(doc.PageContent) == "" {
			continue
		}
		chunks = append(chunks, doc.PageContent)
	}
	if len(chunks) == 0 {
		slog.Warn("PDF produced no text chunks", "path", pdfPath)
		return 0, nil
	}

	vectors, err := embedder.EmbedTexts(ctx, chunks)
	if err != nil {
		return 0, fmt.Errorf("failed to embed chunks: %w", err)
	}

	source := filepath.Base(pdfPath)
	now := time.Now().UnixMilli()
	objects := make([]*models.Object, len(chunks))
	for i, chunk := range chunks {
		// Deterministic ID from content + scope: re-ingesting the same
		// file updates chunks in place instead of duplicating them.
		hash := sha256.Sum256([]byte(conversationID + "|" + chunk))
		chunkUUID, _ := uuid.FromBytes(hash[:16])

		objects[i] = &models.Object{
			Class:  "DocumentChunk",
			ID:     strfmt.UUID(chunkUUID.String()),
			Vector: vectors[i],
			Properties: map[string]interface{}{
				"conversation_id": conversationID,
				"content":         chunk,
				"source":          source,
				"chunk_index":     i,
				"ingested_at":     now,
			},
		}
	}

	resp, err := client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to batch import chunks: %w", err)
	}

	chunksCreated := 0
	for _, item := range resp {
		if item.Result != nil && item.Result.Status != nil && *item.Result.Status == "SUCCESS" {
			chunksCreated++
			continue
		}
		if item.Result != nil && item.Result.Errors != nil {
			for _, errItem := range item.Result.Errors.Error {
				slog.Warn("Chunk import failed", "source", source, "error", errItem.Message)
			}
		}
	}
	return chunksCreated, nil
}

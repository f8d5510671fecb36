// Copyright (C) 2025 Halcyon Works (oss@halcyonworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"github.com/halcyonworks/harborchat/services/orchestrator/datatypes"
)

// CreateConversationRequest is the optional create payload.
type CreateConversationRequest struct {
	Title string `json:"title"`
}

// UpdateSettingsRequest carries a raw settings blob.
//
// The blob is stored verbatim. Unknown keys and out-of-range values are
// tolerated here and normalized at resolve time, so a client can never
// wedge a conversation with a bad settings write.
type UpdateSettingsRequest struct {
	Settings string `json:"settings" binding:"required"`
}

// CreateConversationHandler creates a new conversation.
//
// POST /v1/conversations. The body is optional; an absent or empty title
// falls back to the default.
func CreateConversationHandler(client *weaviate.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateConversationRequest
		// Body is optional, ignore bind errors for an empty body.
		_ = c.ShouldBindJSON(&req)

		conv, err := datatypes.CreateConversation(c.Request.Context(), client, req.Title)
		if err != nil {
			slog.Error("Failed to create conversation", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create conversation"})
			return
		}
		c.JSON(http.StatusCreated, conv)
	}
}

// ListConversationsHandler lists conversation headers, newest first.
//
// GET /v1/conversations.
func ListConversationsHandler(client *weaviate.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		conversations, err := datatypes.ListConversations(c.Request.Context(), client, 0)
		if err != nil {
			slog.Error("Failed to list conversations", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list conversations"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"conversations": conversations})
	}
}

// GetConversationHandler loads one conversation header.
//
// GET /v1/conversations/:conversationId. 404 when absent.
func GetConversationHandler(client *weaviate.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		conversationID := c.Param("conversationId")
		if !isValidConversationID(conversationID) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
			return
		}

		conv, err := datatypes.GetConversation(c.Request.Context(), client, conversationID)
		if err != nil {
			slog.Error("Failed to get conversation", "conversation_id", conversationID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get conversation"})
			return
		}
		if conv == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		c.JSON(http.StatusOK, conv)
	}
}

// DeleteConversationHandler deletes a conversation with its turns and
// ingested chunks.
//
// DELETE /v1/conversations/:conversationId.
func DeleteConversationHandler(client *weaviate.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		conversationID := c.Param("conversationId")
		if !isValidConversationID(conversationID) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
			return
		}

		if err := datatypes.DeleteConversation(c.Request.Context(), client, conversationID); err != nil {
			slog.Error("Failed to delete conversation", "conversation_id", conversationID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete conversation"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "success", "deleted_conversation_id": conversationID})
	}
}

// UpdateSettingsHandler replaces a conversation's settings blob.
//
// PUT /v1/conversations/:conversationId/settings.
func UpdateSettingsHandler(client *weaviate.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		conversationID := c.Param("conversationId")
		if !isValidConversationID(conversationID) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
			return
		}

		var req UpdateSettingsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "settings field is required"})
			return
		}

		conv, err := datatypes.GetConversation(c.Request.Context(), client, conversationID)
		if err != nil {
			slog.Error("Failed to load conversation for settings update",
				"conversation_id", conversationID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update settings"})
			return
		}
		if conv == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}

		err = datatypes.UpdateConversationSettings(c.Request.Context(), client, conversationID, req.Settings)
		if err != nil {
			slog.Error("Failed to update settings", "conversation_id", conversationID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update settings"})
			return
		}

		slog.Info("Updated conversation settings", "conversation_id", conversationID)
		c.JSON(http.StatusOK, gin.H{"status": "success", "conversation_id": conversationID})
	}
}

// ListMessagesHandler lists a conversation's turns in order.
//
// GET /v1/conversations/:conversationId/messages.
func ListMessagesHandler(client *weaviate.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		conversationID := c.Param("conversationId")
		if !isValidConversationID(conversationID) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
			return
		}

		turns, err := datatypes.ListTurns(c.Request.Context(), client, conversationID, 0)
		if err != nil {
			slog.Error("Failed to list messages", "conversation_id", conversationID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list messages"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"conversation_id": conversationID, "messages": turns})
	}
}

// isValidConversationID reports whether the path parameter is a UUID.
// Conversation IDs are UUIDs and also name upload directories, so this
// doubles as path-traversal protection for the document endpoints.
func isValidConversationID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

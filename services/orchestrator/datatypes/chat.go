// Copyright (C) 2025 Halcyon Works (oss@halcyonworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes provides data structures for the orchestrator service.
//
// This file contains request and response types for the chat endpoints
// (streaming and one-shot). Conversation persistence types live in
// conversation.go, per-conversation settings in settings.go.
package datatypes

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// =============================================================================
// Limits
// =============================================================================

const (
	// MaxMessageContentBytes is the maximum size of a single message content.
	// Byte length, not rune count, to bound memory for large payloads.
	MaxMessageContentBytes = 32 * 1024 // 32KB
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// chatValidate is the validator instance for chat datatypes.
// Initialized in init() with custom validators.
var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()
	_ = chatValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes validates that a string field does not exceed
// MaxMessageContentBytes. Checks byte length (not rune count).
func validateMaxBytes(fl validator.FieldLevel) bool {
	content := fl.Field().String()
	return len(content) <= MaxMessageContentBytes
}

// =============================================================================
// Message
// =============================================================================

// Message is a single chat message with its role.
//
// # Fields
//
//   - Role: One of "system", "user", "assistant".
//   - Content: Message text, at most 32KB.
type Message struct {
	Role    string `json:"role" validate:"required,oneof=system user assistant"`
	Content string `json:"content" validate:"required,maxbytes"`
}

// =============================================================================
// Chat Request Types
// =============================================================================

// ChatRequest is the request body for both chat endpoints.
//
// # Description
//
// A chat request addresses one conversation and carries one user message.
// Web access, RAG, temperature and the system prompt are not request
// parameters: they come from the conversation's stored settings, resolved
// per request.
//
// # Validation
//
//   - ConversationID: required, UUID v4.
//   - Message: required, at most 32KB.
type ChatRequest struct {
	ConversationID string `json:"conversation_id" validate:"required,uuid4"`
	Message        string `json:"message" validate:"required,maxbytes"`
}

// Validate validates the ChatRequest fields after JSON binding.
func (r *ChatRequest) Validate() error {
	return chatValidate.Struct(r)
}

// =============================================================================
// Chat Response Types
// =============================================================================

// ChatResponse is the response body for the one-shot chat endpoint.
//
// # Fields
//
//   - ResponseID: Server-generated UUID v4 for audit correlation.
//   - ConversationID: Echo of the request's conversation.
//   - Answer: Full generated response text.
//   - CreatedAt: Unix timestamp in milliseconds (UTC).
//   - ProcessingTimeMs: Server-side processing time.
type ChatResponse struct {
	ResponseID       string `json:"response_id"`
	ConversationID   string `json:"conversation_id"`
	Answer           string `json:"answer"`
	CreatedAt        int64  `json:"created_at"`
	ProcessingTimeMs int64  `json:"processing_time_ms,omitempty"`
}

// NewChatResponse creates a ChatResponse with a generated ID and timestamp.
func NewChatResponse(conversationID, answer string) *ChatResponse {
	return &ChatResponse{
		ResponseID:     uuid.New().String(),
		ConversationID: conversationID,
		Answer:         answer,
		CreatedAt:      time.Now().UnixMilli(),
	}
}

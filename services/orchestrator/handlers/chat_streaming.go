// Copyright (C) 2025 Halcyon Works (oss@halcyonworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers implements the HTTP handlers for the orchestrator:
// conversation CRUD, document ingestion, the chat endpoints, and the SSE
// writer they stream through.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/halcyonworks/harborchat/services/llm"
	"github.com/halcyonworks/harborchat/services/orchestrator/datatypes"
	"github.com/halcyonworks/harborchat/services/orchestrator/observability"
	"github.com/halcyonworks/harborchat/services/orchestrator/services"
	"github.com/halcyonworks/harborchat/services/websearch"
)

const (
	// heartbeatInterval is the interval for sending keepalive pings.
	// Below common load balancer idle timeouts (Nginx default 60s).
	heartbeatInterval = 15 * time.Second

	// errorTurnPrefix marks persisted assistant turns that carry a
	// failure instead of a response.
	errorTurnPrefix = "[ERROR] "

	// historyLimit bounds how many prior turns are replayed to the model.
	historyLimit = 40
)

// =============================================================================
// Interface Definition
// =============================================================================

// ChatHandler handles the chat endpoints.
//
// # Description
//
// Both endpoints run the same per-request pipeline: resolve the
// conversation's settings, optionally assemble web context, optionally
// attach retrieval context, compose the system instruction, call the
// model, and persist the turns. HandleChatStream delivers the response
// over SSE; HandleChat returns it as one JSON body.
type ChatHandler interface {
	// HandleChat processes POST /v1/chat (one-shot).
	HandleChat(c *gin.Context)

	// HandleChatStream processes POST /v1/chat/stream (SSE).
	HandleChatStream(c *gin.Context)
}

// =============================================================================
// Struct Definition
// =============================================================================

// streamingChatHandler implements ChatHandler.
//
// # Fields
//
//   - store: Turn persistence and settings lookup. May be nil in tests;
//     persistence and settings lookups are then skipped.
//   - llmClient: Model backend.
//   - webContext: Web context assembler.
//   - retrieval: Document retrieval. May be nil when no embedding service
//     is configured.
//   - modelName: Metrics label for token counts.
type streamingChatHandler struct {
	store      TurnStore
	llmClient  llm.LLMClient
	webContext websearch.ContextBuilder
	retrieval  services.Retriever
	modelName  string
	tracer     trace.Tracer
}

var _ ChatHandler = (*streamingChatHandler)(nil)

// NewChatHandler creates the handler for both chat endpoints.
func NewChatHandler(
	weaviateClient *weaviate.Client,
	llmClient llm.LLMClient,
	webContext websearch.ContextBuilder,
	retrieval services.Retriever,
	modelName string,
) ChatHandler {
	var store TurnStore
	if weaviateClient != nil {
		store = NewWeaviateTurnStore(weaviateClient)
	}
	return &streamingChatHandler{
		store:      store,
		llmClient:  llmClient,
		webContext: webContext,
		retrieval:  retrieval,
		modelName:  modelName,
		tracer:     otel.Tracer("harborchat.orchestrator.handlers.chat"),
	}
}

// =============================================================================
// Streaming Endpoint
// =============================================================================

// HandleChatStream processes a chat request with SSE streaming.
//
// # Description
//
// Handles POST /v1/chat/stream. The flow is:
//  1. Parse and validate the request body
//  2. Resolve the conversation's stored settings
//  3. Persist the user turn (fails the request with 500 before any SSE
//     output — a turn that cannot be recorded must not be answered)
//  4. Set SSE headers, create the writer, emit a status event
//  5. Start the heartbeat goroutine
//  6. Assemble web context and retrieval context per settings
//  7. Stream tokens from the LLM
//  8. Persist the assistant turn and emit done — or, on failure, emit an
//     error event, persist an error turn, and emit no done
//
// # Outputs
//
// SSE events:
//   - event: status, data: {"type":"status","message":"..."}
//   - event: sources, data: {"type":"sources","sources":[...]}
//   - event: token, data: {"type":"token","content":"..."}
//   - event: done, data: {"type":"done","session_id":"<conversation_id>"}
//   - event: error, data: {"type":"error","error":"..."}
//
// HTTP status (before streaming starts):
//   - 400 Bad Request: Invalid request body
//   - 500 Internal Server Error: User turn persistence or SSE setup failed
//
// # Limitations
//
//   - Errors during streaming are sent as events, not HTTP errors.
func (h *streamingChatHandler) HandleChatStream(c *gin.Context) {
	startTime := time.Now()
	endpoint := observability.EndpointChatStream

	ctx, span := h.tracer.Start(c.Request.Context(), "HandleChatStream")
	defer span.End()

	if m := observability.DefaultMetrics; m != nil {
		m.StreamStarted(endpoint)
		defer m.StreamEnded(endpoint)
	}

	success := false
	defer func() {
		if m := observability.DefaultMetrics; m != nil {
			duration := time.Since(startTime).Seconds()
			m.RecordRequest(endpoint, success)
			m.RecordStreamDuration(endpoint, duration, success)
		}
	}()

	// Step 1: Parse and validate
	var req datatypes.ChatRequest
	if err := c.BindJSON(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request body")
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeValidation)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := req.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		slog.Error("Chat stream request validation failed",
			"error", err, "conversation_id", req.ConversationID)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeValidation)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: validation failed"})
		return
	}
	span.SetAttributes(attribute.String("chat.conversation_id", req.ConversationID))

	// Step 2: Resolve settings
	settings := h.resolveRequestSettings(ctx, req.ConversationID)
	span.SetAttributes(
		attribute.Bool("chat.web_access_enabled", settings.WebAccessEnabled),
		attribute.Bool("chat.rag_enabled", settings.RagEnabled),
	)

	// Step 3: Load history and persist the user turn, both before any SSE
	// output so persistence failures can still surface as HTTP errors.
	history := h.loadHistory(ctx, req.ConversationID)
	if h.store != nil {
		if _, err := h.store.AppendTurn(ctx, req.ConversationID,
			datatypes.RoleUser, req.Message); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "user turn persistence failed")
			slog.Error("Failed to persist user turn",
				"conversation_id", req.ConversationID, "error", err)
			if m := observability.DefaultMetrics; m != nil {
				m.RecordError(endpoint, observability.ErrorCodePersistence)
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record message"})
			return
		}
	}

	// Step 4: SSE setup
	SetSSEHeaders(c.Writer)
	sseWriter, err := NewSSEWriter(c.Writer)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "SSE setup failed")
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeInternal)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}

	if err := sseWriter.WriteStatus("Processing request..."); err != nil {
		span.RecordError(err)
		return
	}

	// Step 5: Heartbeat
	heartbeatDone := make(chan struct{})
	go h.runHeartbeat(ctx, sseWriter, endpoint, heartbeatDone)

	// Step 6: Augmentation
	if settings.WebAccessEnabled {
		_ = sseWriter.WriteStatus("Searching the web...")
	}
	webContext, webAttached := h.webContext.Build(ctx, req.Message, settings.SearchTopK, settings.WebAccessEnabled)
	if m := observability.DefaultMetrics; m != nil && settings.WebAccessEnabled {
		m.RecordWebContext(webAttached)
	}

	grounding := h.attachRetrieval(ctx, req, settings, sseWriter, endpoint)

	// Step 7: Stream from the LLM
	messages := h.buildMessages(settings, webContext, grounding, history, req.Message)
	params := llm.GenerationParams{Temperature: settings.Temperature}

	_ = sseWriter.WriteStatus("Generating response...")

	var answer strings.Builder
	var tokenCount int32
	firstTokenTime := time.Time{}
	streamErr := h.streamFromLLM(ctx, req.ConversationID, messages, params,
		sseWriter, &answer, &tokenCount, &firstTokenTime)

	close(heartbeatDone)

	if streamErr != nil {
		span.RecordError(streamErr)
		span.SetStatus(codes.Error, "LLM streaming failed")
		span.SetAttributes(attribute.Int("stream.token_count", int(tokenCount)))
		slog.Error("LLM streaming failed",
			"conversation_id", req.ConversationID,
			"error", streamErr,
			"token_count", tokenCount,
		)

		if m := observability.DefaultMetrics; m != nil {
			if errors.Is(streamErr, context.Canceled) {
				m.RecordError(endpoint, observability.ErrorCodeClientDisconnect)
				m.RecordClientDisconnect(endpoint)
			} else {
				m.RecordError(endpoint, observability.ErrorCodeLLMError)
			}
		}

		// The failure is part of the conversation record, with the full
		// error message (the client-facing event stays sanitized). No done
		// event: the stream did not complete.
		h.persistAssistantTurn(ctx, req.ConversationID,
			errorTurnPrefix+streamErr.Error())
		return
	}

	if !firstTokenTime.IsZero() {
		ttft := firstTokenTime.Sub(startTime).Seconds()
		span.SetAttributes(attribute.Float64("stream.time_to_first_token_seconds", ttft))
		if m := observability.DefaultMetrics; m != nil {
			m.RecordTimeToFirstToken(endpoint, ttft)
		}
	}
	span.SetAttributes(attribute.Int("stream.token_count", int(tokenCount)))
	if m := observability.DefaultMetrics; m != nil {
		m.RecordTokens(int(tokenCount), h.modelName)
	}

	// Step 8: Persist and close
	h.persistAssistantTurn(ctx, req.ConversationID, answer.String())

	if err := sseWriter.WriteDone(req.ConversationID); err != nil {
		span.RecordError(err)
		slog.Error("Failed to write done event",
			"conversation_id", req.ConversationID, "error", err)
		return
	}

	success = true
	span.SetStatus(codes.Ok, "stream completed")
}

// =============================================================================
// One-shot Endpoint
// =============================================================================

// HandleChat processes a chat request and returns the full response.
//
// # Description
//
// Handles POST /v1/chat. Runs the same pipeline as the streaming endpoint
// but collects the whole response before replying.
//
// HTTP status:
//   - 200 OK: ChatResponse body
//   - 400 Bad Request: Invalid request body
//   - 500 Internal Server Error: User turn persistence failed
//   - 502 Bad Gateway: LLM backend failed
func (h *streamingChatHandler) HandleChat(c *gin.Context) {
	startTime := time.Now()
	endpoint := observability.EndpointChat

	ctx, span := h.tracer.Start(c.Request.Context(), "HandleChat")
	defer span.End()

	success := false
	defer func() {
		if m := observability.DefaultMetrics; m != nil {
			m.RecordRequest(endpoint, success)
		}
	}()

	var req datatypes.ChatRequest
	if err := c.BindJSON(&req); err != nil {
		span.RecordError(err)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeValidation)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := req.Validate(); err != nil {
		span.RecordError(err)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeValidation)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: validation failed"})
		return
	}
	span.SetAttributes(attribute.String("chat.conversation_id", req.ConversationID))

	settings := h.resolveRequestSettings(ctx, req.ConversationID)

	history := h.loadHistory(ctx, req.ConversationID)
	if h.store != nil {
		if _, err := h.store.AppendTurn(ctx, req.ConversationID,
			datatypes.RoleUser, req.Message); err != nil {
			span.RecordError(err)
			slog.Error("Failed to persist user turn",
				"conversation_id", req.ConversationID, "error", err)
			if m := observability.DefaultMetrics; m != nil {
				m.RecordError(endpoint, observability.ErrorCodePersistence)
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record message"})
			return
		}
	}

	webContext, webAttached := h.webContext.Build(ctx, req.Message, settings.SearchTopK, settings.WebAccessEnabled)
	if m := observability.DefaultMetrics; m != nil && settings.WebAccessEnabled {
		m.RecordWebContext(webAttached)
	}
	grounding := h.attachRetrieval(ctx, req, settings, nil, endpoint)

	messages := h.buildMessages(settings, webContext, grounding, history, req.Message)
	params := llm.GenerationParams{Temperature: settings.Temperature}

	answer, err := h.llmClient.Chat(ctx, messages, params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "LLM chat failed")
		slog.Error("LLM chat failed", "conversation_id", req.ConversationID, "error", err)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeLLMError)
		}
		h.persistAssistantTurn(ctx, req.ConversationID,
			errorTurnPrefix+err.Error())
		c.JSON(http.StatusBadGateway, gin.H{"error": "model backend unavailable"})
		return
	}

	h.persistAssistantTurn(ctx, req.ConversationID, answer)

	resp := datatypes.NewChatResponse(req.ConversationID, answer)
	resp.ProcessingTimeMs = time.Since(startTime).Milliseconds()

	success = true
	span.SetStatus(codes.Ok, "chat completed")
	c.JSON(http.StatusOK, resp)
}

// =============================================================================
// Pipeline Steps
// =============================================================================

// resolveRequestSettings loads and resolves the conversation's settings.
// Unknown conversations and lookup failures resolve to the defaults.
func (h *streamingChatHandler) resolveRequestSettings(ctx context.Context, conversationID string) datatypes.ConversationSettings {
	if h.store == nil {
		return datatypes.DefaultSettings()
	}
	raw, ok := h.store.FindSettings(ctx, conversationID)
	if !ok {
		return datatypes.DefaultSettings()
	}
	return datatypes.ResolveSettings(raw)
}

// loadHistory returns the conversation's prior turns as model messages.
// Best-effort: a failed lookup yields an empty history, not an error.
func (h *streamingChatHandler) loadHistory(ctx context.Context, conversationID string) []datatypes.Message {
	if h.store == nil {
		return nil
	}
	turns, err := h.store.ListTurns(ctx, conversationID, historyLimit)
	if err != nil {
		slog.Warn("Failed to load conversation history, continuing without",
			"conversation_id", conversationID, "error", err)
		return nil
	}

	messages := make([]datatypes.Message, 0, len(turns))
	for _, turn := range turns {
		if turn.Content == "" {
			continue
		}
		// Error turns are part of the record but not useful model input.
		if strings.HasPrefix(turn.Content, errorTurnPrefix) {
			continue
		}
		messages = append(messages, datatypes.Message{Role: turn.Role, Content: turn.Content})
	}
	return messages
}

// attachRetrieval runs the retrieval step when it applies.
//
// Emits the sources event when writer is non-nil (streaming endpoint).
// Retrieval failures degrade to an absent grounding block.
func (h *streamingChatHandler) attachRetrieval(
	ctx context.Context,
	req datatypes.ChatRequest,
	settings datatypes.ConversationSettings,
	writer SSEWriter,
	endpoint observability.Endpoint,
) string {
	if h.retrieval == nil || !h.retrieval.ShouldAttach(ctx, req.ConversationID, settings) {
		return ""
	}

	if writer != nil {
		_ = writer.WriteStatus("Searching documents...")
	}

	chunks, err := h.retrieval.Retrieve(ctx, req.ConversationID, req.Message, settings.RagTopK)
	if err != nil {
		slog.Warn("Document retrieval failed, continuing without grounding",
			"conversation_id", req.ConversationID, "error", err)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeRetrievalError)
		}
		return ""
	}
	if len(chunks) == 0 {
		return ""
	}

	if m := observability.DefaultMetrics; m != nil {
		m.RecordRetrievalChunks(len(chunks))
	}

	if writer != nil {
		sources := make([]datatypes.SourceInfo, 0, len(chunks))
		for _, chunk := range chunks {
			sources = append(sources, datatypes.SourceInfo{
				Source: chunk.Source,
				Score:  chunk.Score,
			})
		}
		_ = writer.WriteSources(sources)
	}

	return services.BuildGroundingContext(chunks)
}

// buildMessages assembles the model input: one composed system message
// (when any instruction part exists), the prior turns, then the current
// user message.
func (h *streamingChatHandler) buildMessages(
	settings datatypes.ConversationSettings,
	webContext, grounding string,
	history []datatypes.Message,
	userMessage string,
) []datatypes.Message {
	parts := make([]string, 0, 4)
	if settings.SystemPrompt != nil {
		parts = append(parts, *settings.SystemPrompt)
	}
	if webContext != "" {
		parts = append(parts, webContext)
	}
	if grounding != "" {
		parts = append(parts, grounding)
	}
	if wantsCurrentDateTime(userMessage) {
		parts = append(parts, currentDateTimeLine(time.Now()))
	}

	messages := make([]datatypes.Message, 0, len(history)+2)
	if len(parts) > 0 {
		messages = append(messages, datatypes.Message{
			Role:    "system",
			Content: strings.Join(parts, "\n\n"),
		})
	}
	messages = append(messages, history...)
	messages = append(messages, datatypes.Message{Role: datatypes.RoleUser, Content: userMessage})
	return messages
}

// runHeartbeat sends keepalive pings until done closes or ctx cancels.
func (h *streamingChatHandler) runHeartbeat(
	ctx context.Context,
	writer SSEWriter,
	endpoint observability.Endpoint,
	done <-chan struct{},
) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writer.WriteKeepAlive(); err != nil {
				slog.Debug("Failed to write keepalive", "error", err)
				return
			}
			if m := observability.DefaultMetrics; m != nil {
				m.RecordKeepAlive(endpoint)
			}
		}
	}
}

// streamFromLLM streams tokens to the SSE writer while accumulating the
// full answer for persistence.
//
// # Description
//
// Each token is checked against context cancellation first, so a client
// disconnect stops the backend call promptly. The accumulated answer only
// contains tokens that were also delivered to the client, keeping the
// persisted turn consistent with what the user saw.
func (h *streamingChatHandler) streamFromLLM(
	ctx context.Context,
	conversationID string,
	messages []datatypes.Message,
	params llm.GenerationParams,
	writer SSEWriter,
	answer *strings.Builder,
	tokenCount *int32,
	firstTokenTime *time.Time,
) error {
	callback := func(event llm.StreamEvent) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		switch event.Type {
		case llm.StreamEventToken:
			if firstTokenTime.IsZero() {
				*firstTokenTime = time.Now()
			}
			atomic.AddInt32(tokenCount, 1)
			if err := writer.WriteToken(event.Content); err != nil {
				return err
			}
			answer.WriteString(event.Content)
			return nil

		case llm.StreamEventError:
			return writer.WriteError(sanitizeErrorForClient(event.Error))
		}
		return nil
	}

	err := h.llmClient.ChatStream(ctx, messages, params, callback)
	if err != nil {
		slog.Error("LLM ChatStream failed",
			"conversation_id", conversationID,
			"error", err,
			"token_count", atomic.LoadInt32(tokenCount),
		)
		_ = writer.WriteError(sanitizeErrorForClient(err.Error()))
		return err
	}
	return nil
}

// persistAssistantTurn records the assistant's turn, best-effort. The
// response already reached the client; a persistence failure here is
// logged, never surfaced. Every completed request produces exactly one
// assistant turn, even when the model emitted no text.
func (h *streamingChatHandler) persistAssistantTurn(ctx context.Context, conversationID, content string) {
	if h.store == nil {
		return
	}
	if _, err := h.store.AppendTurn(ctx, conversationID,
		datatypes.RoleAssistant, content); err != nil {
		slog.Error("Failed to persist assistant turn",
			"conversation_id", conversationID, "error", err)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(observability.EndpointChatStream, observability.ErrorCodePersistence)
		}
	}
}

// =============================================================================
// Helpers
// =============================================================================

// sanitizeErrorForClient maps internal errors to client-safe messages.
// Full details stay in the server logs.
func sanitizeErrorForClient(errMsg string) string {
	lowered := strings.ToLower(errMsg)
	switch {
	case strings.Contains(lowered, "context canceled"):
		return "request canceled"
	case strings.Contains(lowered, "deadline exceeded"), strings.Contains(lowered, "timeout"):
		return "the model took too long to respond"
	case strings.Contains(lowered, "connection refused"), strings.Contains(lowered, "no such host"):
		return "model backend unavailable"
	default:
		return "generation failed"
	}
}

// Copyright (C) 2025 Halcyon Works (oss@halcyonworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

// Turn roles. Turns are append-only: created once, never mutated.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Defaults applied when creating a conversation.
const (
	DefaultConversationTitle = "New chat"
	DefaultSettingsJSON      = "{}"
)

// =============================================================================
// Types
// =============================================================================

// Conversation is the persisted conversation header.
//
// # Fields
//
//   - ConversationID: UUID v4, also used as the Weaviate object ID.
//   - Title: Display title, defaults to "New chat".
//   - Settings: Raw settings JSON blob, stored verbatim and resolved per
//     request by ResolveSettings. Defaults to "{}".
//   - CreatedAt: Unix timestamp in milliseconds.
type Conversation struct {
	ConversationID string `json:"conversation_id"`
	Title          string `json:"title"`
	Settings       string `json:"settings"`
	CreatedAt      int64  `json:"created_at"`
}

// Turn is one persisted message in a conversation's history.
type Turn struct {
	ConversationID string `json:"conversation_id"`
	Role           string `json:"role"`
	Content        string `json:"content"`
	TurnNumber     int    `json:"turn_number"`
	CreatedAt      int64  `json:"created_at"`
}

// toMap converts a Conversation to Weaviate properties.
func (c *Conversation) toMap() map[string]interface{} {
	return map[string]interface{}{
		"conversation_id": c.ConversationID,
		"title":           c.Title,
		"settings":        c.Settings,
		"created_at":      c.CreatedAt,
	}
}

// toMap converts a Turn to Weaviate properties.
func (t *Turn) toMap() map[string]interface{} {
	return map[string]interface{}{
		"conversation_id": t.ConversationID,
		"role":            t.Role,
		"content":         t.Content,
		"turn_number":     t.TurnNumber,
		"created_at":      t.CreatedAt,
	}
}

// =============================================================================
// Filters
// =============================================================================

// conversationFilter builds the standard conversation_id equality filter.
func conversationFilter(conversationID string) *filters.WhereBuilder {
	return filters.Where().
		WithPath([]string{"conversation_id"}).
		WithOperator(filters.Equal).
		WithValueText(conversationID)
}

// =============================================================================
// Conversation Operations
// =============================================================================

// CreateConversation persists a new conversation header.
//
// # Description
//
// Generates a fresh UUID v4 which doubles as the Weaviate object ID, so a
// repeated create can never collide with an existing conversation. Title
// and settings fall back to their defaults when empty.
func CreateConversation(ctx context.Context, client *weaviate.Client, title string) (*Conversation, error) {
	if title == "" {
		title = DefaultConversationTitle
	}
	conv := &Conversation{
		ConversationID: uuid.New().String(),
		Title:          title,
		Settings:       DefaultSettingsJSON,
		CreatedAt:      time.Now().UnixMilli(),
	}

	_, err := client.Data().Creator().
		WithClassName("Conversation").
		WithID(conv.ConversationID).
		WithProperties(conv.toMap()).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	slog.Info("Created conversation", "conversation_id", conv.ConversationID)
	return conv, nil
}

// GetConversation loads one conversation header by ID.
// Returns (nil, nil) when the conversation does not exist.
func GetConversation(ctx context.Context, client *weaviate.Client, conversationID string) (*Conversation, error) {
	fields := []graphql.Field{
		{Name: "conversation_id"},
		{Name: "title"},
		{Name: "settings"},
		{Name: "created_at"},
	}

	result, err := client.GraphQL().Get().
		WithClassName("Conversation").
		WithFields(fields...).
		WithWhere(conversationFilter(conversationID)).
		WithLimit(1).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversation: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("conversation query returned errors: %v", result.Errors[0].Message)
	}

	objects := extractObjects(result.Data, "Conversation")
	if len(objects) == 0 {
		return nil, nil
	}
	conv := conversationFromProps(objects[0])
	return &conv, nil
}

// ListConversations returns conversation headers, newest first.
func ListConversations(ctx context.Context, client *weaviate.Client, limit int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 100
	}
	fields := []graphql.Field{
		{Name: "conversation_id"},
		{Name: "title"},
		{Name: "settings"},
		{Name: "created_at"},
	}

	result, err := client.GraphQL().Get().
		WithClassName("Conversation").
		WithFields(fields...).
		WithSort(graphql.Sort{Path: []string{"created_at"}, Order: graphql.Desc}).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("conversation list returned errors: %v", result.Errors[0].Message)
	}

	objects := extractObjects(result.Data, "Conversation")
	conversations := make([]Conversation, 0, len(objects))
	for _, props := range objects {
		conversations = append(conversations, conversationFromProps(props))
	}
	return conversations, nil
}

// UpdateConversationSettings stores a new raw settings blob.
//
// The blob is stored verbatim; validation and clamping happen at resolve
// time so a malformed blob degrades to defaults instead of blocking writes.
func UpdateConversationSettings(ctx context.Context, client *weaviate.Client, conversationID, rawSettings string) error {
	if rawSettings == "" {
		rawSettings = DefaultSettingsJSON
	}
	err := client.Data().Updater().
		WithClassName("Conversation").
		WithID(conversationID).
		WithProperties(map[string]interface{}{"settings": rawSettings}).
		WithMerge().
		Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to update conversation settings: %w", err)
	}
	return nil
}

// FindConversationSettings returns the stored settings blob for a
// conversation. Returns ("", false) when the conversation does not exist
// or the lookup fails; the caller resolves that to default settings.
func FindConversationSettings(ctx context.Context, client *weaviate.Client, conversationID string) (string, bool) {
	conv, err := GetConversation(ctx, client, conversationID)
	if err != nil {
		slog.Warn("Settings lookup failed, using defaults",
			"conversation_id", conversationID, "error", err)
		return "", false
	}
	if conv == nil {
		return "", false
	}
	return conv.Settings, true
}

// DeleteConversation removes the conversation header, its turns, and its
// ingested document chunks.
func DeleteConversation(ctx context.Context, client *weaviate.Client, conversationID string) error {
	where := conversationFilter(conversationID)

	for _, class := range []string{"ConversationTurn", "DocumentChunk", "Conversation"} {
		_, err := client.Batch().ObjectsBatchDeleter().
			WithClassName(class).
			WithWhere(where).
			Do(ctx)
		if err != nil {
			return fmt.Errorf("failed to delete %s objects: %w", class, err)
		}
	}
	slog.Info("Deleted conversation", "conversation_id", conversationID)
	return nil
}

// =============================================================================
// Turn Operations
// =============================================================================

// AppendTurn persists one turn at the end of the conversation's history.
//
// # Description
//
// Turn numbers are 1-indexed and derived from the current turn count.
// Turns are never mutated after creation; concurrent appenders to the same
// conversation may interleave but never overwrite each other (every turn
// gets a fresh object ID). Interleaved appenders can observe the same
// count and assign the same number; ListTurns disambiguates those ties by
// creation time.
//
// # Outputs
//
//   - *Turn: The persisted turn including its assigned number.
//   - error: Non-nil when the count query or the write failed.
func AppendTurn(ctx context.Context, client *weaviate.Client, conversationID, role, content string) (*Turn, error) {
	count, err := GetTurnCount(ctx, client, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to count turns: %w", err)
	}

	turn := &Turn{
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		TurnNumber:     count + 1,
		CreatedAt:      time.Now().UnixMilli(),
	}

	_, err = client.Data().Creator().
		WithClassName("ConversationTurn").
		WithProperties(turn.toMap()).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to append turn: %w", err)
	}

	slog.Debug("Appended turn",
		"conversation_id", conversationID,
		"role", role,
		"turn_number", turn.TurnNumber,
	)
	return turn, nil
}

// GetTurnCount returns the number of persisted turns for a conversation.
func GetTurnCount(ctx context.Context, client *weaviate.Client, conversationID string) (int, error) {
	result, err := client.GraphQL().Aggregate().
		WithClassName("ConversationTurn").
		WithWhere(conversationFilter(conversationID)).
		WithFields(graphql.Field{
			Name:   "meta",
			Fields: []graphql.Field{{Name: "count"}},
		}).
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("turn count aggregate failed: %w", err)
	}
	if len(result.Errors) > 0 {
		return 0, fmt.Errorf("turn count aggregate returned errors: %v", result.Errors[0].Message)
	}

	aggregate, ok := result.Data["Aggregate"].(map[string]interface{})
	if !ok {
		return 0, fmt.Errorf("unexpected aggregate response shape")
	}
	rows, ok := aggregate["ConversationTurn"].([]interface{})
	if !ok || len(rows) == 0 {
		return 0, nil
	}
	row, ok := rows[0].(map[string]interface{})
	if !ok {
		return 0, fmt.Errorf("unexpected aggregate row shape")
	}
	meta, ok := row["meta"].(map[string]interface{})
	if !ok {
		return 0, nil
	}
	count, _ := meta["count"].(float64)
	return int(count), nil
}

// ListTurns returns a conversation's turns in chronological order.
func ListTurns(ctx context.Context, client *weaviate.Client, conversationID string, limit int) ([]Turn, error) {
	if limit <= 0 {
		limit = 200
	}
	fields := []graphql.Field{
		{Name: "conversation_id"},
		{Name: "role"},
		{Name: "content"},
		{Name: "turn_number"},
		{Name: "created_at"},
	}

	result, err := client.GraphQL().Get().
		WithClassName("ConversationTurn").
		WithFields(fields...).
		WithWhere(conversationFilter(conversationID)).
		WithSort(
			graphql.Sort{Path: []string{"turn_number"}, Order: graphql.Asc},
			graphql.Sort{Path: []string{"created_at"}, Order: graphql.Asc},
		).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list turns: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("turn list returned errors: %v", result.Errors[0].Message)
	}

	objects := extractObjects(result.Data, "ConversationTurn")
	turns := make([]Turn, 0, len(objects))
	for _, props := range objects {
		turn := Turn{}
		turn.ConversationID, _ = props["conversation_id"].(string)
		turn.Role, _ = props["role"].(string)
		turn.Content, _ = props["content"].(string)
		if n, ok := props["turn_number"].(float64); ok {
			turn.TurnNumber = int(n)
		}
		if ts, ok := props["created_at"].(float64); ok {
			turn.CreatedAt = int64(ts)
		}
		turns = append(turns, turn)
	}
	orderTurns(turns)
	return turns, nil
}

// orderTurns sorts turns chronologically: by turn number, ties broken by
// creation time. Ties happen when concurrent appenders observed the same
// turn count.
func orderTurns(turns []Turn) {
	sort.SliceStable(turns, func(i, j int) bool {
		if turns[i].TurnNumber != turns[j].TurnNumber {
			return turns[i].TurnNumber < turns[j].TurnNumber
		}
		return turns[i].CreatedAt < turns[j].CreatedAt
	})
}

// =============================================================================
// Response Parsing Helpers
// =============================================================================

// extractObjects pulls the property maps for one class out of a GraphQL
// Get response.
func extractObjects(data map[string]models.JSONObject, className string) []map[string]interface{} {
	get, ok := data["Get"].(map[string]interface{})
	if !ok {
		return nil
	}
	rows, ok := get[className].([]interface{})
	if !ok {
		return nil
	}
	objects := make([]map[string]interface{}, 0, len(rows))
	for _, row := range rows {
		if props, ok := row.(map[string]interface{}); ok {
			objects = append(objects, props)
		}
	}
	return objects
}

// conversationFromProps maps Weaviate properties onto a Conversation.
func conversationFromProps(props map[string]interface{}) Conversation {
	conv := Conversation{}
	conv.ConversationID, _ = props["conversation_id"].(string)
	conv.Title, _ = props["title"].(string)
	conv.Settings, _ = props["settings"].(string)
	if ts, ok := props["created_at"].(float64); ok {
		conv.CreatedAt = int64(ts)
	}
	return conv
}

// Copyright (C) 2025 Halcyon Works (oss@halcyonworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"github.com/halcyonworks/harborchat/services/orchestrator/datatypes"
)

// TurnStore is the persistence surface the chat endpoints depend on:
// settings lookup, history reads, and append-only turn writes. The
// production implementation delegates to the Weaviate persistence
// functions in datatypes.
type TurnStore interface {
	// FindSettings returns the conversation's stored settings blob, or
	// ("", false) when the conversation is unknown or the lookup failed.
	FindSettings(ctx context.Context, conversationID string) (string, bool)

	// ListTurns returns the conversation's turns in chronological order.
	ListTurns(ctx context.Context, conversationID string, limit int) ([]datatypes.Turn, error)

	// AppendTurn persists one turn at the end of the history.
	AppendTurn(ctx context.Context, conversationID, role, content string) (*datatypes.Turn, error)
}

// weaviateTurnStore implements TurnStore on the Weaviate client.
type weaviateTurnStore struct {
	client *weaviate.Client
}

var _ TurnStore = (*weaviateTurnStore)(nil)

// NewWeaviateTurnStore wraps a Weaviate client as a TurnStore.
func NewWeaviateTurnStore(client *weaviate.Client) TurnStore {
	return &weaviateTurnStore{client: client}
}

func (s *weaviateTurnStore) FindSettings(ctx context.Context, conversationID string) (string, bool) {
	return datatypes.FindConversationSettings(ctx, s.client, conversationID)
}

func (s *weaviateTurnStore) ListTurns(ctx context.Context, conversationID string, limit int) ([]datatypes.Turn, error) {
	return datatypes.ListTurns(ctx, s.client, conversationID, limit)
}

func (s *weaviateTurnStore) AppendTurn(ctx context.Context, conversationID, role, content string) (*datatypes.Turn, error) {
	return datatypes.AppendTurn(ctx, s.client, conversationID, role, content)
}

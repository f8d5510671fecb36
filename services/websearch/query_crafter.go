// Copyright (C) 2025 Halcyon Works (oss@halcyonworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package websearch implements the web context pipeline: crafting a search
// query from a chat message, querying the search provider, fetching page
// text, and assembling a budgeted citation-annotated context block.
//
// Every step degrades instead of failing: a crafting failure, an empty
// search result, or a fetch error yields an absent context, never an error
// the chat request has to handle.
package websearch

import (
	"context"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/halcyonworks/harborchat/services/llm"
)

var tracer = otel.Tracer("harborchat.websearch")

const (
	// maxQueryChars caps the crafted query length.
	maxQueryChars = 160

	// minQueryChars is the threshold below which a crafted query is noise.
	minQueryChars = 3

	craftInstruction = "Rewrite the user's message as a concise web search query. " +
		"Respond with only the query: 3 to 10 words, no quotes, no punctuation " +
		"at the edges, no explanation.\n\nUser message: "
)

// QueryCrafter rewrites a raw chat message into a short web search query.
type QueryCrafter interface {
	// Craft returns the query and true, or ("", false) when crafting
	// failed or produced noise. Best-effort: never returns an error.
	Craft(ctx context.Context, rawMessage string) (string, bool)
}

// LLMQueryCrafter crafts queries with a single non-streaming model call.
type LLMQueryCrafter struct {
	llmClient llm.LLMClient
}

var _ QueryCrafter = (*LLMQueryCrafter)(nil)

func NewLLMQueryCrafter(llmClient llm.LLMClient) *LLMQueryCrafter {
	return &LLMQueryCrafter{llmClient: llmClient}
}

// Craft invokes the model once and cleans the result.
//
// # Description
//
// The model is asked for a bare 3-10 word query. The raw output is then
// normalized: CR/LF collapsed to spaces, straight and smart quotes
// stripped, whitespace runs collapsed, trimmed, and capped at 160 chars.
// Results shorter than 3 characters are treated as noise.
//
// # Outputs
//
//   - string: The cleaned query.
//   - bool: False when the model call failed or the result is noise.
func (c *LLMQueryCrafter) Craft(ctx context.Context, rawMessage string) (string, bool) {
	ctx, span := tracer.Start(ctx, "LLMQueryCrafter.Craft")
	defer span.End()

	maxTokens := 64
	raw, err := c.llmClient.Generate(ctx, craftInstruction+rawMessage, llm.GenerationParams{
		MaxTokens: &maxTokens,
	})
	if err != nil {
		// Best-effort step: a failed crafting call disables web context
		// for this turn, it never fails the request.
		slog.Warn("Search query crafting failed", "error", err)
		return "", false
	}

	query := CleanQuery(raw)
	if len(query) < minQueryChars {
		slog.Debug("Crafted query too short, treating as noise", "raw", raw)
		return "", false
	}
	span.SetAttributes(attribute.String("websearch.query", query))
	return query, true
}

// CleanQuery normalizes raw model output into a usable search query.
func CleanQuery(raw string) string {
	cleaned := strings.NewReplacer(
		"\r", " ",
		"\n", " ",
		`"`, "",
		"'", "",
		"“", "", // left double quote
		"”", "", // right double quote
		"‘", "", // left single quote
		"’", "", // right single quote
	).Replace(raw)

	cleaned = strings.Join(strings.Fields(cleaned), " ")
	return strings.TrimSpace(TruncateChars(cleaned, maxQueryChars))
}

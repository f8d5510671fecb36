// Copyright (C) 2025 Halcyon Works (oss@halcyonworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package websearch

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

const (
	// TotalContextBudget caps the assembled block: headers plus bodies.
	TotalContextBudget = 8000

	// PerDocumentBudget caps each source's fetched text.
	PerDocumentBudget = 3000

	// contextInstruction prefixes every assembled block. Not counted
	// against the budget.
	contextInstruction = "You can use the following web context. Cite sources inline " +
		"as [n] and end with a 'Sources' section listing the referenced URLs.\n"
)

// ContextBuilder assembles the web context block for a chat turn.
type ContextBuilder interface {
	// Build returns the assembled context and true, or ("", false) when
	// web access is disabled or no source could be included.
	Build(ctx context.Context, userMessage string, topK int, enabled bool) (string, bool)
}

// Assembler composes the crafter, search provider, and fetcher into the
// budgeted context block.
//
// # Description
//
// Sources are processed strictly in provider ranking order. A source is
// skipped on a malformed or non-HTTP(S) URL, a fetch failure, or blank
// text. Once appending a source would push the running total (headers
// included) past TotalContextBudget, assembly stops — later, smaller
// sources are not considered, so the block always reflects an unbroken
// ranking prefix.
type Assembler struct {
	crafter QueryCrafter
	search  SearchProvider
	fetcher TextFetcher
}

var _ ContextBuilder = (*Assembler)(nil)

func NewAssembler(crafter QueryCrafter, search SearchProvider, fetcher TextFetcher) *Assembler {
	return &Assembler{
		crafter: crafter,
		search:  search,
		fetcher: fetcher,
	}
}

// Build assembles the web context for one request.
//
// # Description
//
// Disabled requests return immediately without any network call — the
// enabled flag is the cost-control gate. Otherwise: craft a query (absent
// query means absent context), search (empty results mean absent context),
// then fetch and append sources in order under the budgets. The result is
// prefixed with the citation instruction.
//
// # Outputs
//
//   - string: The assembled block.
//   - bool: False when absent (disabled, no query, no results, or zero
//     appended sources).
func (a *Assembler) Build(ctx context.Context, userMessage string, topK int, enabled bool) (string, bool) {
	if !enabled {
		return "", false
	}

	ctx, span := tracer.Start(ctx, "Assembler.Build")
	defer span.End()

	query, ok := a.crafter.Craft(ctx, userMessage)
	if !ok {
		return "", false
	}

	snippets := a.search.Search(ctx, query, topK)
	if len(snippets) == 0 {
		return "", false
	}

	var block strings.Builder
	block.WriteString(contextInstruction)

	appended := 0
	total := 0
	for _, snippet := range snippets {
		if !isFetchableURL(snippet.URL) {
			continue
		}

		text, err := a.fetcher.FetchText(ctx, snippet.URL, PerDocumentBudget)
		if err != nil {
			slog.Debug("Skipping source after fetch failure",
				"url", snippet.URL, "error", err)
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}

		header := fmt.Sprintf("[%d] %s: ", appended+1, snippet.URL)
		entry := len(header) + len(text) + 1 // trailing newline
		if total+entry > TotalContextBudget {
			// Stop, don't skip: keeping the ranking prefix intact
			// matters more than squeezing in a smaller later source.
			break
		}

		block.WriteString(header)
		block.WriteString(text)
		block.WriteString("\n")
		total += entry
		appended++
	}

	span.SetAttributes(
		attribute.Int("webcontext.sources", appended),
		attribute.Int("webcontext.chars", total),
	)
	if appended == 0 {
		return "", false
	}
	slog.Info("Assembled web context", "sources", appended, "chars", total)
	return block.String(), true
}

// isFetchableURL reports whether the URL is well-formed HTTP(S).
func isFetchableURL(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Host != ""
}

// Copyright (C) 2025 Halcyon Works (oss@halcyonworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package websearch

import (
	"context"
	"log/slog"

	customsearch "google.golang.org/api/customsearch/v1"
	"google.golang.org/api/option"

	"golang.org/x/time/rate"

	"github.com/halcyonworks/harborchat/services/orchestrator/datatypes"
)

// Result-count bounds accepted by the Custom Search API.
const (
	minSearchResults = 1
	maxSearchResults = 10
)

// SearchProvider returns ranked web results for a query.
type SearchProvider interface {
	// Search returns up to topK snippets in provider ranking order.
	// Always returns an empty slice — never an error — when the provider
	// is unconfigured or the call fails.
	Search(ctx context.Context, query string, topK int) []datatypes.WebSnippet
}

// GoogleSearchClient queries the Google Custom Search JSON API.
//
// # Description
//
// Requires an API key and a custom search engine ID. When either is
// missing the client is "unconfigured" and every search returns empty
// results, so the chat pipeline proceeds without web context. Outbound
// calls pass a client-side rate limiter to stay inside the API quota.
//
// # Thread Safety
//
// Safe for concurrent use; the limiter and the underlying service are
// both concurrency-safe.
type GoogleSearchClient struct {
	service  *customsearch.Service
	engineID string
	limiter  *rate.Limiter
}

var _ SearchProvider = (*GoogleSearchClient)(nil)

// NewGoogleSearchClient builds a search client.
//
// # Inputs
//
//   - ctx: Context for service construction.
//   - apiKey: Google API key. Empty means unconfigured.
//   - engineID: Custom search engine ID (cx). Empty means unconfigured.
//   - opts: Extra client options (endpoint overrides in tests).
//
// # Outputs
//
//   - *GoogleSearchClient: Never nil. Unconfigured clients return empty
//     results from Search.
func NewGoogleSearchClient(ctx context.Context, apiKey, engineID string, opts ...option.ClientOption) *GoogleSearchClient {
	client := &GoogleSearchClient{
		engineID: engineID,
		// Default CSE quota is 100 queries/day; 1 req/s with small bursts
		// keeps a busy instance from burning the quota in spikes.
		limiter: rate.NewLimiter(rate.Limit(1), 3),
	}

	if apiKey == "" || engineID == "" {
		slog.Warn("Google search not configured, web context will be unavailable")
		return client
	}

	allOpts := append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	service, err := customsearch.NewService(ctx, allOpts...)
	if err != nil {
		slog.Error("Failed to create custom search service", "error", err)
		return client
	}
	client.service = service
	return client
}

// Search queries the Custom Search API for topK results.
//
// # Description
//
// topK is clamped into [1,10] before sending. Results keep the provider's
// ranking; entries without a destination link are dropped. Any failure —
// unconfigured client, rate-limiter context cancellation, HTTP or API
// error — yields an empty slice.
func (g *GoogleSearchClient) Search(ctx context.Context, query string, topK int) []datatypes.WebSnippet {
	ctx, span := tracer.Start(ctx, "GoogleSearchClient.Search")
	defer span.End()

	if g.service == nil || query == "" {
		return nil
	}

	if topK < minSearchResults {
		topK = minSearchResults
	}
	if topK > maxSearchResults {
		topK = maxSearchResults
	}

	if err := g.limiter.Wait(ctx); err != nil {
		slog.Debug("Search rate limiter aborted", "error", err)
		return nil
	}

	resp, err := g.service.Cse.List().
		Q(query).
		Cx(g.engineID).
		Num(int64(topK)).
		Context(ctx).
		Do()
	if err != nil {
		slog.Warn("Web search failed", "error", err)
		return nil
	}

	snippets := make([]datatypes.WebSnippet, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item.Link == "" {
			continue
		}
		snippets = append(snippets, datatypes.WebSnippet{
			Title:   item.Title,
			URL:     item.Link,
			Snippet: item.Snippet,
		})
	}
	slog.Debug("Web search completed", "query", query, "results", len(snippets))
	return snippets
}

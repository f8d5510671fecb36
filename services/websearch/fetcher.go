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
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"

	"github.com/halcyonworks/harborchat/services/orchestrator/datatypes"
)

const (
	// fetchTimeout bounds one page fetch including redirects.
	fetchTimeout = 8 * time.Second

	// fetchUserAgent identifies the service to origin servers.
	fetchUserAgent = "Mozilla/5.0 (harborchat)"

	// maxFetchBodyBytes caps how much of a page body is read before
	// parsing. Pages larger than this are truncated, not rejected.
	maxFetchBodyBytes = 2 * 1024 * 1024

	// fetchAllConcurrency bounds parallel fetches in FetchAll.
	fetchAllConcurrency = 4
)

// FetchError wraps a page fetch failure with its URL.
// The context assembler treats it as skip-this-source.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// TextFetcher retrieves the visible text of a web page.
type TextFetcher interface {
	// FetchText returns whitespace-normalized visible text truncated to
	// maxChars. Errors are *FetchError values.
	FetchText(ctx context.Context, rawURL string, maxChars int) (string, error)
}

// PageFetcher fetches pages over HTTP(S) and strips markup.
type PageFetcher struct {
	httpClient *http.Client
}

var _ TextFetcher = (*PageFetcher)(nil)

// NewPageFetcher builds a fetcher with the fixed timeout.
// Redirects are followed (the default client policy).
func NewPageFetcher() *PageFetcher {
	return &PageFetcher{
		httpClient: &http.Client{Timeout: fetchTimeout},
	}
}

// FetchText retrieves a page and extracts its visible text.
//
// # Description
//
// Performs a GET with the fixed User-Agent, follows redirects, parses the
// HTML, and collects text nodes while skipping script, style, and other
// non-visible subtrees. The result is whitespace-collapsed and truncated
// to maxChars runes.
//
// # Outputs
//
//   - string: The extracted text. May be empty for pages without visible
//     text.
//   - error: A *FetchError on network, status, or parse failure.
func (f *PageFetcher) FetchText(ctx context.Context, rawURL string, maxChars int) (string, error) {
	ctx, span := tracer.Start(ctx, "PageFetcher.FetchText")
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", &FetchError{URL: rawURL, Err: err}
	}
	req.Header.Set("User-Agent", fetchUserAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", &FetchError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &FetchError{URL: rawURL, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	text, err := ExtractVisibleText(io.LimitReader(resp.Body, maxFetchBodyBytes))
	if err != nil {
		return "", &FetchError{URL: rawURL, Err: err}
	}
	return TruncateChars(text, maxChars), nil
}

// FetchResult is one outcome from FetchAll, in input order.
type FetchResult struct {
	Document datatypes.WebDocument
	Err      error
}

// FetchAll fetches several pages concurrently with bounded parallelism.
//
// # Description
//
// Each URL is fetched independently; failures are recorded per-result and
// never abort the group. Results are returned in input order.
func (f *PageFetcher) FetchAll(ctx context.Context, urls []string, maxChars int) []FetchResult {
	results := make([]FetchResult, len(urls))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchAllConcurrency)
	for i, rawURL := range urls {
		g.Go(func() error {
			text, err := f.FetchText(ctx, rawURL, maxChars)
			results[i] = FetchResult{
				Document: datatypes.WebDocument{URL: rawURL, Text: text},
				Err:      err,
			}
			return nil
		})
	}
	// Goroutines never return errors; Wait only synchronizes.
	_ = g.Wait()

	return results
}

// ExtractVisibleText parses HTML and returns its visible text content.
//
// Script, style, head, noscript, template, iframe and comment subtrees are
// skipped. Text nodes are joined with single spaces and whitespace runs
// collapsed.
func ExtractVisibleText(r io.Reader) (string, error) {
	root, err := html.Parse(r)
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	var parts []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.CommentNode:
			return
		case html.ElementNode:
			switch n.Data {
			case "script", "style", "head", "noscript", "template", "iframe":
				return
			}
		case html.TextNode:
			if trimmed := strings.TrimSpace(n.Data); trimmed != "" {
				parts = append(parts, trimmed)
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(root)

	return strings.Join(strings.Fields(strings.Join(parts, " ")), " "), nil
}

// TruncateChars cuts s to at most maxChars runes.
func TruncateChars(s string, maxChars int) string {
	if maxChars <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	slog.Debug("Truncating fetched text", "chars", len(runes), "max", maxChars)
	return string(runes[:maxChars])
}

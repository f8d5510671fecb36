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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyonworks/harborchat/services/orchestrator/datatypes"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeCrafter struct {
	query     string
	ok        bool
	callCount int
}

func (f *fakeCrafter) Craft(ctx context.Context, rawMessage string) (string, bool) {
	f.callCount++
	return f.query, f.ok
}

type fakeSearch struct {
	snippets  []datatypes.WebSnippet
	callCount int
	lastTopK  int
}

func (f *fakeSearch) Search(ctx context.Context, query string, topK int) []datatypes.WebSnippet {
	f.callCount++
	f.lastTopK = topK
	return f.snippets
}

type fakeFetcher struct {
	// texts maps URL to page text; missing URLs fail.
	texts     map[string]string
	callCount int
}

func (f *fakeFetcher) FetchText(ctx context.Context, rawURL string, maxChars int) (string, error) {
	f.callCount++
	text, ok := f.texts[rawURL]
	if !ok {
		return "", &FetchError{URL: rawURL, Err: fmt.Errorf("status 503")}
	}
	return TruncateChars(text, maxChars), nil
}

func snippetsFor(urls ...string) []datatypes.WebSnippet {
	out := make([]datatypes.WebSnippet, 0, len(urls))
	for i, u := range urls {
		out = append(out, datatypes.WebSnippet{Title: fmt.Sprintf("result %d", i+1), URL: u})
	}
	return out
}

// =============================================================================
// Tests
// =============================================================================

func TestAssembler_DisabledMakesNoCalls(t *testing.T) {
	crafter := &fakeCrafter{query: "go generics", ok: true}
	search := &fakeSearch{snippets: snippetsFor("https://a.example/")}
	fetcher := &fakeFetcher{texts: map[string]string{"https://a.example/": "text"}}
	assembler := NewAssembler(crafter, search, fetcher)

	block, ok := assembler.Build(context.Background(), "tell me about generics", 3, false)

	assert.False(t, ok)
	assert.Empty(t, block)
	assert.Zero(t, crafter.callCount, "disabled requests must not craft")
	assert.Zero(t, search.callCount, "disabled requests must not search")
	assert.Zero(t, fetcher.callCount, "disabled requests must not fetch")
}

func TestAssembler_CraftFailureMeansAbsent(t *testing.T) {
	crafter := &fakeCrafter{ok: false}
	search := &fakeSearch{snippets: snippetsFor("https://a.example/")}
	assembler := NewAssembler(crafter, search, &fakeFetcher{})

	_, ok := assembler.Build(context.Background(), "hi", 3, true)

	assert.False(t, ok)
	assert.Zero(t, search.callCount, "no query means no search")
}

func TestAssembler_NoResultsMeansAbsent(t *testing.T) {
	crafter := &fakeCrafter{query: "rust ownership", ok: true}
	search := &fakeSearch{snippets: nil}
	assembler := NewAssembler(crafter, search, &fakeFetcher{})

	_, ok := assembler.Build(context.Background(), "explain ownership", 3, true)

	assert.False(t, ok)
}

func TestAssembler_AssemblesInRankingOrder(t *testing.T) {
	crafter := &fakeCrafter{query: "go channels", ok: true}
	search := &fakeSearch{snippets: snippetsFor("https://a.example/", "https://b.example/")}
	fetcher := &fakeFetcher{texts: map[string]string{
		"https://a.example/": "first page",
		"https://b.example/": "second page",
	}}
	assembler := NewAssembler(crafter, search, fetcher)

	block, ok := assembler.Build(context.Background(), "how do channels work", 3, true)

	require.True(t, ok)
	assert.True(t, strings.HasPrefix(block, "You can use the following web context."),
		"block must start with the citation instruction")
	assert.Contains(t, block, "[1] https://a.example/: first page")
	assert.Contains(t, block, "[2] https://b.example/: second page")
	assert.Less(t, strings.Index(block, "[1]"), strings.Index(block, "[2]"))
}

func TestAssembler_SkipsFailedFetchAndRenumbers(t *testing.T) {
	crafter := &fakeCrafter{query: "q", ok: true}
	search := &fakeSearch{snippets: snippetsFor("https://dead.example/", "https://live.example/")}
	fetcher := &fakeFetcher{texts: map[string]string{
		"https://live.example/": "alive",
	}}
	assembler := NewAssembler(crafter, search, fetcher)

	block, ok := assembler.Build(context.Background(), "msg", 3, true)

	require.True(t, ok)
	assert.NotContains(t, block, "dead.example")
	assert.Contains(t, block, "[1] https://live.example/: alive",
		"surviving source takes the next citation number")
}

func TestAssembler_SkipsNonHTTPURLs(t *testing.T) {
	crafter := &fakeCrafter{query: "q", ok: true}
	search := &fakeSearch{snippets: snippetsFor("ftp://files.example/", "https://ok.example/")}
	fetcher := &fakeFetcher{texts: map[string]string{"https://ok.example/": "fine"}}
	assembler := NewAssembler(crafter, search, fetcher)

	block, ok := assembler.Build(context.Background(), "msg", 3, true)

	require.True(t, ok)
	assert.NotContains(t, block, "ftp://")
	assert.Equal(t, 1, fetcher.callCount, "non-HTTP URLs are never fetched")
	assert.Contains(t, block, "[1] https://ok.example/")
}

func TestAssembler_BudgetStopsNotSkips(t *testing.T) {
	// Three sources near the per-document cap: the first two fit the
	// 8000-char total, the third would overflow. Assembly must stop at
	// two, even though a later smaller source might have fit.
	big := strings.Repeat("x", 2999)
	small := "tiny"
	crafter := &fakeCrafter{query: "q", ok: true}
	search := &fakeSearch{snippets: snippetsFor(
		"https://one.example/", "https://two.example/", "https://three.example/", "https://four.example/")}
	fetcher := &fakeFetcher{texts: map[string]string{
		"https://one.example/":   big,
		"https://two.example/":   big,
		"https://three.example/": big,
		"https://four.example/":  small,
	}}
	assembler := NewAssembler(crafter, search, fetcher)

	block, ok := assembler.Build(context.Background(), "msg", 5, true)

	require.True(t, ok)
	assert.Contains(t, block, "[1] https://one.example/")
	assert.Contains(t, block, "[2] https://two.example/")
	assert.NotContains(t, block, "three.example", "overflowing source must be cut")
	assert.NotContains(t, block, "four.example",
		"assembly stops at the first overflow, later sources are not considered")
}

func TestAssembler_PerDocumentTruncation(t *testing.T) {
	long := strings.Repeat("y", PerDocumentBudget+500)
	crafter := &fakeCrafter{query: "q", ok: true}
	search := &fakeSearch{snippets: snippetsFor("https://long.example/")}
	fetcher := &fakeFetcher{texts: map[string]string{"https://long.example/": long}}
	assembler := NewAssembler(crafter, search, fetcher)

	block, ok := assembler.Build(context.Background(), "msg", 3, true)

	require.True(t, ok)
	assert.Contains(t, block, strings.Repeat("y", PerDocumentBudget))
	assert.NotContains(t, block, strings.Repeat("y", PerDocumentBudget+1))
}

func TestAssembler_AllFetchesFailMeansAbsent(t *testing.T) {
	crafter := &fakeCrafter{query: "q", ok: true}
	search := &fakeSearch{snippets: snippetsFor("https://a.example/", "https://b.example/")}
	fetcher := &fakeFetcher{texts: map[string]string{}}
	assembler := NewAssembler(crafter, search, fetcher)

	_, ok := assembler.Build(context.Background(), "msg", 3, true)

	assert.False(t, ok, "zero appended sources means absent context")
}

func TestIsFetchableURL(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://example.com/page", true},
		{"http://example.com", true},
		{"ftp://example.com", false},
		{"javascript:alert(1)", false},
		{"https://", false},
		{"not a url at all", false},
		{"", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, isFetchableURL(tt.url), "url=%q", tt.url)
	}
}

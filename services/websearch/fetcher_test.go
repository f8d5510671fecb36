// Copyright (C) 2025 Halcyon Works (oss@halcyonworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package websearch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageFetcher_StripsMarkup(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, fetchUserAgent, r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head><title>ignored</title>
			<script>var hidden = 1;</script>
			<style>.x { color: red }</style></head>
			<body><h1>Heading</h1><p>Body   text
			here.</p><noscript>also hidden</noscript></body></html>`))
	}))
	defer server.Close()

	fetcher := NewPageFetcher()
	text, err := fetcher.FetchText(context.Background(), server.URL, 1000)

	require.NoError(t, err)
	assert.Equal(t, "Heading Body text here.", text)
	assert.NotContains(t, text, "hidden")
	assert.NotContains(t, text, "ignored")
}

func TestPageFetcher_NonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	fetcher := NewPageFetcher()
	_, err := fetcher.FetchText(context.Background(), server.URL, 1000)

	require.Error(t, err)
	var fetchErr *FetchError
	require.True(t, errors.As(err, &fetchErr), "errors should be *FetchError")
	assert.Equal(t, server.URL, fetchErr.URL)
	assert.Contains(t, fetchErr.Error(), "status 503")
}

func TestPageFetcher_FollowsRedirects(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html><body>final page</body></html>"))
	}))
	defer target.Close()

	redirector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target.URL, http.StatusFound)
	}))
	defer redirector.Close()

	fetcher := NewPageFetcher()
	text, err := fetcher.FetchText(context.Background(), redirector.URL, 1000)

	require.NoError(t, err)
	assert.Equal(t, "final page", text)
}

func TestPageFetcher_TruncatesToMaxChars(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html><body>" + strings.Repeat("a", 500) + "</body></html>"))
	}))
	defer server.Close()

	fetcher := NewPageFetcher()
	text, err := fetcher.FetchText(context.Background(), server.URL, 100)

	require.NoError(t, err)
	assert.Len(t, text, 100)
}

func TestPageFetcher_ConnectionFailure(t *testing.T) {
	fetcher := NewPageFetcher()

	// Closed port.
	_, err := fetcher.FetchText(context.Background(), "http://127.0.0.1:1/", 100)

	var fetchErr *FetchError
	require.True(t, errors.As(err, &fetchErr))
}

func TestFetchAll_PreservesOrderAndIsolatesFailures(t *testing.T) {
	okServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html><body>ok</body></html>"))
	}))
	defer okServer.Close()

	badServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer badServer.Close()

	fetcher := NewPageFetcher()
	results := fetcher.FetchAll(context.Background(),
		[]string{okServer.URL, badServer.URL, okServer.URL}, 100)

	require.Len(t, results, 3)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, "ok", results[0].Document.Text)
	assert.Error(t, results[1].Err, "one failure must not affect the others")
	assert.NoError(t, results[2].Err)
	assert.Equal(t, okServer.URL, results[2].Document.URL)
}

func TestExtractVisibleText_Whitespace(t *testing.T) {
	text, err := ExtractVisibleText(strings.NewReader(
		"<p>one</p>\n\n<p>two\t three</p>"))

	require.NoError(t, err)
	assert.Equal(t, "one two three", text)
}

func TestTruncateChars(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		maxChars int
		want     string
	}{
		{"under limit", "short", 10, "short"},
		{"at limit", "12345", 5, "12345"},
		{"over limit", "1234567890", 5, "12345"},
		{"zero means unlimited", "anything", 0, "anything"},
		{"multibyte runes", "héllo wörld", 5, "héllo"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TruncateChars(tt.in, tt.maxChars))
		})
	}
}

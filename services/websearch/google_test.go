// Copyright (C) 2025 Halcyon Works (oss@halcyonworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package websearch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"google.golang.org/api/option"
)

func TestGoogleSearchClient_UnconfiguredReturnsEmpty(t *testing.T) {
	tests := []struct {
		name     string
		apiKey   string
		engineID string
	}{
		{"no api key", "", "cx-123"},
		{"no engine id", "key-123", ""},
		{"neither", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewGoogleSearchClient(context.Background(), tt.apiKey, tt.engineID)
			require.NotNil(t, client)

			results := client.Search(context.Background(), "anything", 3)

			assert.Empty(t, results)
		})
	}
}

func TestGoogleSearchClient_ParsesResults(t *testing.T) {
	var gotCx, gotQ, gotNum string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCx = r.URL.Query().Get("cx")
		gotQ = r.URL.Query().Get("q")
		gotNum = r.URL.Query().Get("num")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"items": [
				{"title": "First", "link": "https://one.example/", "snippet": "about one"},
				{"title": "No destination", "link": "", "snippet": "dropped"},
				{"title": "Second", "link": "https://two.example/", "snippet": "about two"}
			]
		}`))
	}))
	defer server.Close()

	client := NewGoogleSearchClient(context.Background(), "test-key", "test-cx",
		option.WithEndpoint(server.URL))

	results := client.Search(context.Background(), "go concurrency", 3)

	require.Len(t, results, 2, "items without a link are dropped")
	assert.Equal(t, "First", results[0].Title)
	assert.Equal(t, "https://one.example/", results[0].URL)
	assert.Equal(t, "about one", results[0].Snippet)
	assert.Equal(t, "Second", results[1].Title)

	assert.Equal(t, "test-cx", gotCx)
	assert.Equal(t, "go concurrency", gotQ)
	assert.Equal(t, "3", gotNum)
}

func TestGoogleSearchClient_ClampsResultCount(t *testing.T) {
	var gotNum string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotNum = r.URL.Query().Get("num")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items": []}`))
	}))
	defer server.Close()

	client := NewGoogleSearchClient(context.Background(), "test-key", "test-cx",
		option.WithEndpoint(server.URL))

	client.Search(context.Background(), "q", 100)
	assert.Equal(t, "10", gotNum, "above-range counts clamp to the API maximum")

	client.Search(context.Background(), "q", 0)
	assert.Equal(t, "1", gotNum, "non-positive counts clamp to the minimum")
}

func TestGoogleSearchClient_APIFailureReturnsEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewGoogleSearchClient(context.Background(), "test-key", "test-cx",
		option.WithEndpoint(server.URL))

	results := client.Search(context.Background(), "q", 3)

	assert.Empty(t, results, "provider errors degrade to no results")
}

func TestGoogleSearchClient_EmptyQueryMakesNoCall(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	client := NewGoogleSearchClient(context.Background(), "test-key", "test-cx",
		option.WithEndpoint(server.URL))

	results := client.Search(context.Background(), "", 3)

	assert.Empty(t, results)
	assert.False(t, called)
}

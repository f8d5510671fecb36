// Copyright (C) 2025 Halcyon Works (oss@halcyonworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveSettings_EmptyAndInvalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty string", ""},
		{"empty object", "{}"},
		{"not json", "not json at all"},
		{"json array", `[1,2,3]`},
		{"null", "null"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveSettings(tt.raw)
			assert.Equal(t, DefaultSettings(), got)
		})
	}
}

func TestResolveSettings_Defaults(t *testing.T) {
	s := DefaultSettings()

	assert.Nil(t, s.Temperature)
	assert.Nil(t, s.SystemPrompt)
	assert.False(t, s.WebAccessEnabled)
	assert.Equal(t, 3, s.SearchTopK)
	assert.False(t, s.RagEnabled)
	assert.Equal(t, 5, s.RagTopK)
}

func TestResolveSettings_FullBlob(t *testing.T) {
	raw := `{
		"temperature": 0.4,
		"systemPrompt": "You are terse.",
		"webAccessEnabled": true,
		"searchTopK": 4,
		"ragEnabled": true,
		"ragTopK": 7
	}`

	s := ResolveSettings(raw)

	require.NotNil(t, s.Temperature)
	assert.InDelta(t, 0.4, float64(*s.Temperature), 1e-6)
	require.NotNil(t, s.SystemPrompt)
	assert.Equal(t, "You are terse.", *s.SystemPrompt)
	assert.True(t, s.WebAccessEnabled)
	assert.Equal(t, 4, s.SearchTopK)
	assert.True(t, s.RagEnabled)
	assert.Equal(t, 7, s.RagTopK)
}

func TestResolveSettings_SearchTopKClamping(t *testing.T) {
	tests := []struct {
		value int
		want  int
	}{
		{-5, 3}, // non-positive falls back to default
		{0, 3},
		{1, 1},
		{3, 3},
		{5, 5},
		{7, 5}, // above range clamps to max
		{100, 5},
	}

	for _, tt := range tests {
		raw := `{"searchTopK": ` + strconv.Itoa(tt.value) + `}`
		s := ResolveSettings(raw)
		assert.Equal(t, tt.want, s.SearchTopK, "searchTopK=%d", tt.value)
	}
}

func TestResolveSettings_RagTopKClamping(t *testing.T) {
	tests := []struct {
		value int
		want  int
	}{
		{-1, 5},
		{0, 5},
		{1, 1},
		{10, 10},
		{11, 10},
		{500, 10},
	}

	for _, tt := range tests {
		raw := `{"ragTopK": ` + strconv.Itoa(tt.value) + `}`
		s := ResolveSettings(raw)
		assert.Equal(t, tt.want, s.RagTopK, "ragTopK=%d", tt.value)
	}
}

func TestResolveSettings_MalformedFieldsDegradeIndependently(t *testing.T) {
	// temperature is a string, webAccessEnabled is valid: the bad field
	// must not poison the good one.
	raw := `{"temperature": "hot", "webAccessEnabled": true, "systemPrompt": 42}`

	s := ResolveSettings(raw)

	assert.Nil(t, s.Temperature, "malformed temperature degrades to absent")
	assert.Nil(t, s.SystemPrompt, "non-string systemPrompt degrades to absent")
	assert.True(t, s.WebAccessEnabled, "valid field survives")
}

func TestResolveSettings_BlankSystemPromptIsAbsent(t *testing.T) {
	s := ResolveSettings(`{"systemPrompt": ""}`)
	assert.Nil(t, s.SystemPrompt)
}

func TestResolveSettings_TemperatureNotClamped(t *testing.T) {
	s := ResolveSettings(`{"temperature": 9.5}`)
	require.NotNil(t, s.Temperature)
	assert.InDelta(t, 9.5, float64(*s.Temperature), 1e-6)
}

func TestResolveSettings_Deterministic(t *testing.T) {
	raw := `{"webAccessEnabled": true, "searchTopK": 100, "temperature": 0.2}`

	first := ResolveSettings(raw)
	second := ResolveSettings(raw)

	assert.Equal(t, first, second, "same blob must always resolve identically")
}

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
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyonworks/harborchat/services/llm"
	"github.com/halcyonworks/harborchat/services/orchestrator/datatypes"
)

// fakeLLM implements llm.LLMClient with canned Generate output.
type fakeLLM struct {
	generateOutput string
	generateErr    error
	lastPrompt     string
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string, params llm.GenerationParams) (string, error) {
	f.lastPrompt = prompt
	return f.generateOutput, f.generateErr
}

func (f *fakeLLM) Chat(ctx context.Context, messages []datatypes.Message, params llm.GenerationParams) (string, error) {
	return "", nil
}

func (f *fakeLLM) ChatStream(ctx context.Context, messages []datatypes.Message, params llm.GenerationParams, callback llm.StreamCallback) error {
	return llm.ErrStreamingNotSupported
}

func TestLLMQueryCrafter_Success(t *testing.T) {
	backend := &fakeLLM{generateOutput: "go 1.25 release notes"}
	crafter := NewLLMQueryCrafter(backend)

	query, ok := crafter.Craft(context.Background(), "what changed in the new go release?")

	require.True(t, ok)
	assert.Equal(t, "go 1.25 release notes", query)
	assert.Contains(t, backend.lastPrompt, "what changed in the new go release?",
		"user message must reach the model")
}

func TestLLMQueryCrafter_ModelFailureIsBestEffort(t *testing.T) {
	backend := &fakeLLM{generateErr: errors.New("backend down")}
	crafter := NewLLMQueryCrafter(backend)

	query, ok := crafter.Craft(context.Background(), "anything")

	assert.False(t, ok)
	assert.Empty(t, query)
}

func TestLLMQueryCrafter_NoiseOutput(t *testing.T) {
	tests := []string{"", " ", "a", `""`, "\n\n"}

	for _, output := range tests {
		backend := &fakeLLM{generateOutput: output}
		crafter := NewLLMQueryCrafter(backend)

		_, ok := crafter.Craft(context.Background(), "message")

		assert.False(t, ok, "output %q should be treated as noise", output)
	}
}

func TestCleanQuery(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"plain", "go channels tutorial", "go channels tutorial"},
		{"newlines collapsed", "go\nchannels\r\ntutorial", "go channels tutorial"},
		{"straight quotes stripped", `"go channels" tutorial`, "go channels tutorial"},
		{"smart quotes stripped", "“go channels” ‘tutorial’", "go channels tutorial"},
		{"whitespace collapsed", "  go    channels \t tutorial  ", "go channels tutorial"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanQuery(tt.raw))
		})
	}
}

func TestCleanQuery_CapsLength(t *testing.T) {
	long := strings.Repeat("word ", 100)

	cleaned := CleanQuery(long)

	assert.LessOrEqual(t, utf8.RuneCountInString(cleaned), 160)
	assert.False(t, strings.HasSuffix(cleaned, " "), "cap must not leave trailing space")
}

func TestCleanQuery_CapIsRuneSafe(t *testing.T) {
	// Multibyte input longer than the cap must not be cut mid-rune.
	long := strings.Repeat("é", 300)

	cleaned := CleanQuery(long)

	assert.True(t, utf8.ValidString(cleaned), "truncation must not split a rune")
	assert.Equal(t, 160, utf8.RuneCountInString(cleaned))
}

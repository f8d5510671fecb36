// Copyright (C) 2025 Halcyon Works (oss@halcyonworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"encoding/json"
)

// =============================================================================
// Settings Bounds
// =============================================================================

const (
	// DefaultSearchTopK is used when searchTopK is absent, zero or negative.
	DefaultSearchTopK = 3

	// MinSearchTopK and MaxSearchTopK bound the web search fan-out.
	MinSearchTopK = 1
	MaxSearchTopK = 5

	// DefaultRagTopK is used when ragTopK is absent, zero or negative.
	DefaultRagTopK = 5

	// MinRagTopK and MaxRagTopK bound the retrieval fan-out.
	MinRagTopK = 1
	MaxRagTopK = 10
)

// =============================================================================
// ConversationSettings
// =============================================================================

// ConversationSettings is the per-conversation configuration, recomputed
// per request from the conversation's stored JSON blob.
//
// # Description
//
// The stored blob is loosely typed: fields may be absent, of the wrong
// JSON type, or out of range. ResolveSettings never fails; every field
// degrades independently to its default. The value is immutable once
// resolved and scoped to a single request.
//
// # Fields
//
//   - Temperature: Sampling temperature. Nil when absent or malformed;
//     the model backend applies its own default.
//   - SystemPrompt: Optional system instruction. Nil when absent or blank.
//   - WebAccessEnabled: Gate for the web context pipeline. Default false.
//   - SearchTopK: Web search fan-out, always within [1,5]. Default 3.
//   - RagEnabled: Explicit opt-in for retrieval augmentation. Default false.
//   - RagTopK: Retrieval fan-out, always within [1,10]. Default 5.
type ConversationSettings struct {
	Temperature      *float32
	SystemPrompt     *string
	WebAccessEnabled bool
	SearchTopK       int
	RagEnabled       bool
	RagTopK          int
}

// DefaultSettings returns the settings used when no configuration is stored.
func DefaultSettings() ConversationSettings {
	return ConversationSettings{
		WebAccessEnabled: false,
		SearchTopK:       DefaultSearchTopK,
		RagEnabled:       false,
		RagTopK:          DefaultRagTopK,
	}
}

// ResolveSettings parses a stored settings blob into ConversationSettings.
//
// # Description
//
// Pure function of the stored JSON: identical input always yields identical
// output. Unparsable JSON yields the defaults. Each field is read
// independently, so one malformed field never poisons the others:
//
//   - temperature: JSON number, kept as-is; anything else is absent.
//   - systemPrompt: non-empty JSON string; anything else is absent.
//   - webAccessEnabled, ragEnabled: JSON bool; anything else is false.
//   - searchTopK, ragTopK: JSON number; absent/zero/negative falls back to
//     the default, out-of-range values are clamped into the valid range.
//
// # Examples
//
//	s := ResolveSettings(`{"webAccessEnabled":true,"searchTopK":100}`)
//	// s.WebAccessEnabled == true, s.SearchTopK == 5
//
//	s = ResolveSettings("not json")
//	// s == DefaultSettings()
func ResolveSettings(raw string) ConversationSettings {
	settings := DefaultSettings()
	if raw == "" {
		return settings
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return settings
	}

	if v, ok := fields["temperature"]; ok {
		var t float32
		if err := json.Unmarshal(v, &t); err == nil {
			settings.Temperature = &t
		}
	}
	if v, ok := fields["systemPrompt"]; ok {
		var p string
		if err := json.Unmarshal(v, &p); err == nil && p != "" {
			settings.SystemPrompt = &p
		}
	}
	if v, ok := fields["webAccessEnabled"]; ok {
		var b bool
		if err := json.Unmarshal(v, &b); err == nil {
			settings.WebAccessEnabled = b
		}
	}
	if v, ok := fields["ragEnabled"]; ok {
		var b bool
		if err := json.Unmarshal(v, &b); err == nil {
			settings.RagEnabled = b
		}
	}
	if v, ok := fields["searchTopK"]; ok {
		var k int
		if err := json.Unmarshal(v, &k); err == nil {
			settings.SearchTopK = clampTopK(k, DefaultSearchTopK, MinSearchTopK, MaxSearchTopK)
		}
	}
	if v, ok := fields["ragTopK"]; ok {
		var k int
		if err := json.Unmarshal(v, &k); err == nil {
			settings.RagTopK = clampTopK(k, DefaultRagTopK, MinRagTopK, MaxRagTopK)
		}
	}

	return settings
}

// clampTopK maps non-positive values to the default and clamps the rest
// into [min, max].
func clampTopK(v, def, min, max int) int {
	if v <= 0 {
		return def
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

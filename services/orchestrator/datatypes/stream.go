// Copyright (C) 2025 Halcyon Works (oss@halcyonworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// StreamEvent is the wire format for one Server-Sent Event.
//
// # Description
//
// Every event carries integrity metadata maintained by the SSE writer:
// Id (UUID v4), CreatedAt (Unix ms), Hash (SHA-256 of the event content)
// and PrevHash (hash of the previous event, forming a chain). Exactly one
// of the content fields is populated depending on Type:
//
//   - "status": Message
//   - "token": Content
//   - "sources": Sources
//   - "error": Error
//   - "done": SessionId
//
// # Thread Safety
//
// Events are value types; the writer populates metadata under its own lock.
type StreamEvent struct {
	Type      string       `json:"type"`
	Content   string       `json:"content,omitempty"`
	Message   string       `json:"message,omitempty"`
	Error     string       `json:"error,omitempty"`
	SessionId string       `json:"session_id,omitempty"`
	Sources   []SourceInfo `json:"sources,omitempty"`
	Id        string       `json:"id"`
	CreatedAt int64        `json:"created_at"`
	Hash      string       `json:"hash"`
	PrevHash  string       `json:"prev_hash"`
}

// SourceInfo identifies one retrieved grounding source with its relevance.
type SourceInfo struct {
	Source string  `json:"source"`
	Score  float64 `json:"score"`
}

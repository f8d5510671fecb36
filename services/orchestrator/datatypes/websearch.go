// Copyright (C) 2025 Halcyon Works (oss@halcyonworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// WebSnippet is one web search result in provider ranking order.
// Produced by the search client, consumed by the web context assembler,
// never persisted.
type WebSnippet struct {
	Title   string
	URL     string
	Snippet string
}

// WebDocument is the fetched visible text of one page, already truncated
// to the per-document budget.
type WebDocument struct {
	URL  string
	Text string
}

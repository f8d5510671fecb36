package llm

import (
	"context"
	"errors"

	"github.com/halcyonworks/harborchat/services/orchestrator/datatypes"
)

// ErrStreamingNotSupported is returned by backends that cannot stream.
var ErrStreamingNotSupported = errors.New("streaming not supported by this backend")

// GenerationParams holds optional generation parameters for LLM calls.
//
// # Description
//
// All fields are pointers (or nil-able slices) so that "not set" is
// distinguishable from an explicit zero. Backends apply their own defaults
// for absent fields.
//
// # Fields
//
//   - Temperature: Sampling temperature. Nil means backend default.
//   - TopK: Top-K sampling cutoff. Nil means backend default.
//   - TopP: Nucleus sampling probability. Nil means backend default.
//   - MaxTokens: Maximum tokens to generate. Nil means backend default.
//   - Stop: Stop sequences. Empty means none.
type GenerationParams struct {
	Temperature *float32
	TopK        *int
	TopP        *float32
	MaxTokens   *int
	Stop        []string
}

// Stream event types emitted by ChatStream implementations.
const (
	// StreamEventToken carries a text delta in Content.
	StreamEventToken = "token"

	// StreamEventError carries a failure description in Error.
	StreamEventError = "error"
)

// StreamEvent is a single event produced during a streaming chat call.
type StreamEvent struct {
	Type    string
	Content string
	Error   string
}

// StreamCallback is called for each event during streaming.
//
// # Description
//
// StreamCallback receives tokens in generation order. Returning a non-nil
// error aborts the stream (used for client disconnects and context
// cancellation).
//
// # Assumptions
//
//   - Called sequentially, never concurrently, by a single backend goroutine.
type StreamCallback func(event StreamEvent) error

// LLMClient is the contract implemented by every language-model backend.
//
// # Description
//
// LLMClient abstracts the model provider (Ollama, OpenAI-compatible) behind
// three operations: one-shot prompt completion, one-shot chat, and streamed
// chat. The orchestration layer depends only on this interface, which keeps
// the streaming state machine testable against a fake backend.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type LLMClient interface {
	// Generate produces text from a single prompt (non-streaming).
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)

	// Chat produces a full response for a message history (non-streaming).
	Chat(ctx context.Context, messages []datatypes.Message, params GenerationParams) (string, error)

	// ChatStream streams a response token-by-token through callback.
	// Returns after the stream completes or fails; a callback error
	// aborts the stream and is returned.
	ChatStream(ctx context.Context, messages []datatypes.Message, params GenerationParams,
		callback StreamCallback) error
}

// Package llm defines the provider-agnostic model client contract the
// kernel's agents call through. Concrete adapters (anthropic, openai,
// bedrock) translate Request/Response to and from a specific provider SDK;
// the kernel itself never imports a provider SDK directly.
package llm

import (
	"context"

	"github.com/seedrun/seed/conversation"
)

// StopReason is why the model stopped generating.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
	StopError     StopReason = "error"
)

// Request is one completion call: the full message history plus the tool
// schemas the model may choose to invoke.
type Request struct {
	System   string
	Messages []conversation.Message
	Tools    []ToolSpec
}

// ToolSpec is the subset of toolkit.Tool a model client needs to offer the
// model a tool it can call: name, description, and JSON-schema parameters.
// Kept separate from toolkit.Tool so this package doesn't depend on
// toolkit's execution machinery.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Response is one completion result.
type Response struct {
	Content    string
	Reasoning  string
	ToolCalls  []conversation.ToolUsePart
	StopReason StopReason
	Usage      Usage
}

// Usage reports token accounting for a single completion, for cost/limit
// tracking at the embedder's discretion; the kernel itself doesn't enforce
// budgets on it.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// StreamChunk is one piece of a streaming completion; see Client.Stream.
type StreamChunk struct {
	// Kind is one of "text", "reasoning", "tool_call_delta", "done".
	Kind string
	// Text carries the incremental content for "text"/"reasoning" chunks.
	Text string
	// ToolCall can carry a fully accumulated tool call. The adapters in this
	// module leave it nil on every chunk; requested tool calls are returned
	// only in the final Response.ToolCalls.
	ToolCall *conversation.ToolUsePart
}

// Client is the provider-agnostic model client contract every adapter
// implements.
type Client interface {
	// Complete runs a single non-streaming completion.
	Complete(ctx context.Context, req Request) (Response, error)
	// Stream runs a completion, invoking onChunk for each incremental piece.
	// The final StreamChunk carries Kind "done"; callers should not assume
	// Stream returns before onChunk has been called with a "done" chunk.
	Stream(ctx context.Context, req Request, onChunk func(StreamChunk)) (Response, error)
}

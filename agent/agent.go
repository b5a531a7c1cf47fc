// Package agent defines the Agent strategy contract, spec.md §4.11: a
// registered strategy that, given a task and a run context, yields a lazy
// sequence of AgentOutput. Agents are risk-unaware — they yield tool_call
// uniformly and never see UIP state; outputhandler enforces risk policy.
package agent

import (
	"context"

	"github.com/seedrun/seed/conversation"
	"github.com/seedrun/seed/ident"
	"github.com/seedrun/seed/llm"
	"github.com/seedrun/seed/toolkit"
)

// Output is the tagged variant an Agent yields: exactly one of the Kind*
// constants, with the fields relevant to that kind populated.
type Output struct {
	Kind Kind

	// Text / reasoning / verbose / error content.
	Text string

	// ToolCall is set when Kind == KindToolCall.
	ToolCall *toolkit.Call

	// Interaction is set when Kind == KindInteraction.
	Interaction *InteractionRequest

	// Summary is set when Kind == KindDone.
	Summary string

	// FailureReason is set when Kind == KindFailed.
	FailureReason string
}

// Kind is the closed set of AgentOutput variants.
type Kind string

const (
	KindText        Kind = "text"
	KindReasoning   Kind = "reasoning"
	KindVerbose     Kind = "verbose"
	KindError       Kind = "error"
	KindToolCall    Kind = "tool_call"
	KindInteraction Kind = "interaction"
	KindDone        Kind = "done"
	KindFailed      Kind = "failed"
)

// InteractionRequest is the payload behind a KindInteraction output, mirrors
// eventlog's UserInteractionRequested fields minus the ids the runtime
// assigns.
type InteractionRequest struct {
	Kind       string
	Purpose    string
	Title      string
	Body       string
	Options    []Option
	Validation map[string]any
}

// Option is one selectable choice in a Select/Confirm interaction.
type Option struct {
	ID    string
	Label string
}

// RunContext carries everything an Agent needs to do its work for one
// execute() pass: its conversation history so far, the tools it may call,
// and hooks back into the runtime for streaming and cooperative
// cancellation.
type RunContext struct {
	Context context.Context

	TaskID  ident.TaskID
	ActorID ident.ActorID

	History []conversation.Message
	Tools   []llm.ToolSpec
	LLM     llm.Client

	// PendingInteractionResponse can carry the user's answer to the
	// interaction this agent most recently yielded. agentruntime does not
	// fill it in: every RunContext it builds leaves it nil, and an answer
	// reaches the runtime only through Runtime.Resume's tool-call binding.
	PendingInteractionResponse *InteractionResponse

	// OnStreamChunk, if non-nil, is invoked with streaming deltas; the
	// agent should call llm.Client.Stream instead of Complete when set.
	OnStreamChunk func(llm.StreamChunk)

	// Canceled reports whether the runtime has requested cancellation;
	// agents should check it between yields and stop promptly.
	Canceled func() bool
}

// InteractionResponse mirrors eventlog.UserInteractionRespondedPayload's
// fields, handed to the agent via RunContext so it can resume reasoning
// from the user's answer.
type InteractionResponse struct {
	InteractionID    ident.InteractionID
	SelectedOptionID string
	FreeformValue    string
	Rejected         bool

	// BoundToolCallID is set by the runtime manager, not the agent: when
	// the interaction this responds to was a risky-tool Confirm, this
	// carries the toolCallId bound into that request's display.metadata
	// (spec.md §6, SA-001), so agentruntime.Resume can bind approval/
	// rejection to that exact call and nothing else.
	BoundToolCallID ident.ToolCallID
}

// Sequence is a lazy output sequence: each call to Next blocks until the
// next Output is ready, or returns ok=false once the agent is done. A
// KindDone/KindFailed output, when one is produced, is the last one
// delivered; a pass can also end without one (toolloop ends after yielding
// tool calls, or on cancel).
type Sequence interface {
	Next() (Output, bool)
}

// Agent is a registered strategy.
type Agent interface {
	ID() ident.AgentID
	DisplayName() string
	Description() string
	ToolGroups() []string
	DefaultProfile() string

	// Run starts one pass of reasoning over rc.History and returns a lazy
	// Sequence of outputs.
	Run(rc RunContext) Sequence
}

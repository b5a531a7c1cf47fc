// Package conversation holds the per-task LLM message history: the
// provider-agnostic transcript the agent loop reads before each model call
// and appends to after every assistant/tool turn, per spec.md §4.2.
package conversation

import (
	"github.com/seedrun/seed/ident"
)

// Role is the speaker of a message in a conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Part is a marker interface implemented by every message content block.
// Modeling content as typed parts (rather than a single string) lets a
// message carry plain text, tool-use declarations, and tool results side by
// side, the way a real multi-turn tool-use exchange does.
type Part interface {
	isPart()
}

type (
	// TextPart is plain, human-visible text content.
	TextPart struct {
		Text string
	}

	// ToolUsePart records the assistant's request to invoke a tool.
	ToolUsePart struct {
		ToolCallID ident.ToolCallID
		ToolName   string
		Input      map[string]any
	}

	// ToolResultPart carries a tool's outcome back to the model. IsError
	// distinguishes a tool that ran and failed from one that succeeded; both
	// are delivered to the model so it can adapt its next step.
	ToolResultPart struct {
		ToolCallID ident.ToolCallID
		Content    string
		IsError    bool
	}
)

func (TextPart) isPart()      {}
func (ToolUsePart) isPart()   {}
func (ToolResultPart) isPart() {}

// Message is one turn in the conversation.
type Message struct {
	Role  Role
	Parts []Part
}

// NewTextMessage builds a single-part plain text message.
func NewTextMessage(role Role, text string) Message {
	return Message{Role: role, Parts: []Part{TextPart{Text: text}}}
}

// PendingToolCall reports a ToolUsePart from the latest assistant message
// that has no matching ToolResultPart in any later message. Used by convmgr
// to detect and repair tool calls interrupted by a crash.
type PendingToolCall struct {
	ToolCallID ident.ToolCallID
	ToolName   string
	Input      map[string]any
}

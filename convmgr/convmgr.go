// Package convmgr implements the Conversation Manager, spec.md §4.6: the
// only component allowed to mutate the Conversation Store, and the home of
// the crash-recovery repair logic that reconciles an assistant's requested
// tool calls against the tool results actually persisted for them.
package convmgr

import (
	"context"

	"github.com/seedrun/seed/conversation"
	"github.com/seedrun/seed/ident"
)

// Manager owns all writes to a conversation.Store.
type Manager struct {
	store conversation.Store
}

// New constructs a Manager over store.
func New(store conversation.Store) *Manager {
	return &Manager{store: store}
}

// AppendUser appends a plain user-role message, e.g. for an instruction or
// a subtask's injected context.
func (m *Manager) AppendUser(ctx context.Context, task ident.TaskID, text string) error {
	return m.store.Append(ctx, task, conversation.NewTextMessage(conversation.RoleUser, text))
}

// AppendAssistant appends an assistant-role message with arbitrary parts
// (text, reasoning-as-text, tool_use declarations).
func (m *Manager) AppendAssistant(ctx context.Context, task ident.TaskID, parts ...conversation.Part) error {
	return m.store.Append(ctx, task, conversation.Message{Role: conversation.RoleAssistant, Parts: parts})
}

// History returns task's full message history.
func (m *Manager) History(ctx context.Context, task ident.TaskID) ([]conversation.Message, error) {
	return m.store.Messages(ctx, task)
}

// PersistToolResultIfMissing scans history from the end for a tool message
// matching toolCallID; if one already exists, this is a no-op (idempotent
// repair, spec.md §4.6). Otherwise it appends a new tool-role message
// carrying the result.
func (m *Manager) PersistToolResultIfMissing(ctx context.Context, task ident.TaskID, toolCallID ident.ToolCallID, toolName, output string, isError bool, history []conversation.Message) error {
	for i := len(history) - 1; i >= 0; i-- {
		msg := history[i]
		if msg.Role != conversation.RoleTool {
			continue
		}
		for _, part := range msg.Parts {
			if tr, ok := part.(conversation.ToolResultPart); ok && tr.ToolCallID == toolCallID {
				return nil
			}
		}
	}
	return m.store.Append(ctx, task, conversation.Message{
		Role:  conversation.RoleTool,
		Parts: []conversation.Part{conversation.ToolResultPart{ToolCallID: toolCallID, Content: output, IsError: isError}},
	})
}

// GetPendingToolCalls locates the last assistant message carrying
// ToolUsePart declarations and returns those whose toolCallId has no later
// matching tool-role ToolResultPart. An empty result means either there
// were no tool calls in the last assistant turn, or all of them already
// have results (nothing to repair).
func GetPendingToolCalls(history []conversation.Message) []conversation.PendingToolCall {
	lastAssistant := -1
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == conversation.RoleAssistant {
			lastAssistant = i
			break
		}
	}
	if lastAssistant == -1 {
		return nil
	}

	var requested []conversation.PendingToolCall
	for _, part := range history[lastAssistant].Parts {
		if tu, ok := part.(conversation.ToolUsePart); ok {
			requested = append(requested, conversation.PendingToolCall{ToolCallID: tu.ToolCallID, ToolName: tu.ToolName, Input: tu.Input})
		}
	}
	if len(requested) == 0 {
		return nil
	}

	answered := make(map[ident.ToolCallID]bool)
	for _, msg := range history[lastAssistant+1:] {
		if msg.Role != conversation.RoleTool {
			continue
		}
		for _, part := range msg.Parts {
			if tr, ok := part.(conversation.ToolResultPart); ok {
				answered[tr.ToolCallID] = true
			}
		}
	}

	var pending []conversation.PendingToolCall
	for _, r := range requested {
		if !answered[r.ToolCallID] {
			pending = append(pending, r)
		}
	}
	return pending
}

// RepairRejected synthesizes a rejected tool-result for a pending call the
// user explicitly denied via a risky-tool confirm interaction, instead of
// leaving it for re-execution. Matches spec.md §4.6's repair semantics:
// "{error: 'User rejected the request'}".
func (m *Manager) RepairRejected(ctx context.Context, task ident.TaskID, toolCallID ident.ToolCallID) error {
	return m.store.Append(ctx, task, conversation.Message{
		Role: conversation.RoleTool,
		Parts: []conversation.Part{conversation.ToolResultPart{
			ToolCallID: toolCallID,
			Content:    "User rejected the request",
			IsError:    true,
		}},
	})
}

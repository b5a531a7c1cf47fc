package api

import (
	"time"

	"github.com/seedrun/seed/conversation"
	"github.com/seedrun/seed/eventlog"
	"github.com/seedrun/seed/ident"
	"github.com/seedrun/seed/taskproj"
)

// taskDTO is the wire shape of a taskproj.Task (spec.md §6's query surface).
type taskDTO struct {
	ID                   ident.TaskID        `json:"id"`
	Title                string              `json:"title"`
	Intent               string              `json:"intent"`
	Priority             eventlog.Priority   `json:"priority"`
	AgentID              ident.AgentID       `json:"agentId"`
	ParentTaskID         ident.TaskID        `json:"parentTaskId,omitempty"`
	ChildTaskIDs         []ident.TaskID      `json:"childTaskIds,omitempty"`
	Status               taskproj.Status     `json:"status"`
	PendingInteractionID ident.InteractionID `json:"pendingInteractionId,omitempty"`
	Summary              string              `json:"summary,omitempty"`
	FailureReason        string              `json:"failureReason,omitempty"`
	CreatedAt            time.Time           `json:"createdAt"`
	UpdatedAt            time.Time           `json:"updatedAt"`
}

func newTaskDTO(t taskproj.Task) taskDTO {
	return taskDTO{
		ID: t.ID, Title: t.Title, Intent: t.Intent, Priority: t.Priority, AgentID: t.AgentID,
		ParentTaskID: t.ParentTaskID, ChildTaskIDs: t.ChildTaskIDs, Status: t.Status,
		PendingInteractionID: t.PendingInteractionID, Summary: t.Summary, FailureReason: t.FailureReason,
		CreatedAt: t.CreatedAt, UpdatedAt: t.UpdatedAt,
	}
}

// eventDTO is the wire shape of an eventlog.StoredEvent; Payload is the
// event's own payload struct, encoded as a JSON object.
type eventDTO struct {
	ID        ident.EventID      `json:"id"`
	StreamID  ident.TaskID       `json:"streamId"`
	Seq       uint64             `json:"seq"`
	Type      eventlog.EventType `json:"type"`
	Payload   eventlog.DomainEvent `json:"payload"`
	CreatedAt time.Time          `json:"createdAt"`
}

func newEventDTO(se eventlog.StoredEvent) eventDTO {
	return eventDTO{ID: se.ID, StreamID: se.StreamID, Seq: se.Seq, Type: se.Type, Payload: se.Payload, CreatedAt: se.CreatedAt}
}

func newEventDTOs(events []eventlog.StoredEvent) []eventDTO {
	out := make([]eventDTO, len(events))
	for i, se := range events {
		out[i] = newEventDTO(se)
	}
	return out
}

// partDTO tags a conversation.Part with its kind so JSON round-trips
// without reflecting on the interface value.
type partDTO struct {
	Kind       string             `json:"kind"`
	Text       string             `json:"text,omitempty"`
	ToolCallID ident.ToolCallID   `json:"toolCallId,omitempty"`
	ToolName   string             `json:"toolName,omitempty"`
	Input      map[string]any     `json:"input,omitempty"`
	Content    string             `json:"content,omitempty"`
	IsError    bool               `json:"isError,omitempty"`
}

func newPartDTO(p conversation.Part) partDTO {
	switch v := p.(type) {
	case conversation.TextPart:
		return partDTO{Kind: "text", Text: v.Text}
	case conversation.ToolUsePart:
		return partDTO{Kind: "toolUse", ToolCallID: v.ToolCallID, ToolName: v.ToolName, Input: v.Input}
	case conversation.ToolResultPart:
		return partDTO{Kind: "toolResult", ToolCallID: v.ToolCallID, Content: v.Content, IsError: v.IsError}
	default:
		return partDTO{Kind: "unknown"}
	}
}

type messageDTO struct {
	Role  conversation.Role `json:"role"`
	Parts []partDTO         `json:"parts"`
}

func newMessageDTO(m conversation.Message) messageDTO {
	parts := make([]partDTO, len(m.Parts))
	for i, p := range m.Parts {
		parts[i] = newPartDTO(p)
	}
	return messageDTO{Role: m.Role, Parts: parts}
}

func newMessageDTOs(msgs []conversation.Message) []messageDTO {
	out := make([]messageDTO, len(msgs))
	for i, m := range msgs {
		out[i] = newMessageDTO(m)
	}
	return out
}

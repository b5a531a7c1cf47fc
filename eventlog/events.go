// Package eventlog implements the append-only per-stream event log described
// in spec.md §4.1: a totally ordered, gap-free sequence of DomainEvents per
// taskId, with global ordering across streams and a live publish stream.
//
// The event log is the canonical source of truth. Every other component
// (task projection, conversation manager, runtime manager) derives its state
// by folding this log, never by storing its own copy of "the truth".
package eventlog

import (
	"time"

	"github.com/seedrun/seed/ident"
)

// EventType names one of the closed set of domain event variants.
type EventType string

const (
	TaskCreated              EventType = "TaskCreated"
	TaskStarted              EventType = "TaskStarted"
	TaskCompleted            EventType = "TaskCompleted"
	TaskFailed               EventType = "TaskFailed"
	TaskCanceled             EventType = "TaskCanceled"
	TaskPaused               EventType = "TaskPaused"
	TaskResumed              EventType = "TaskResumed"
	TaskInstructionAdded     EventType = "TaskInstructionAdded"
	UserInteractionRequested EventType = "UserInteractionRequested"
	UserInteractionResponded EventType = "UserInteractionResponded"
)

// Priority is the scheduling priority assigned to a task at creation.
type Priority string

const (
	PriorityForeground Priority = "foreground"
	PriorityNormal     Priority = "normal"
	PriorityBackground Priority = "background"
)

// DomainEvent is the interface every event payload implements. Payloads are
// immutable once stored; every payload carries the task it belongs to and
// the actor that authored it.
type DomainEvent interface {
	// EventType returns the closed-set variant tag for this payload.
	EventType() EventType
	// Task returns the stream (task) this event belongs to.
	Task() ident.TaskID
	// Author returns the actor that produced this event.
	Author() ident.ActorID
}

type base struct {
	TaskID ident.TaskID
	Actor  ident.ActorID
}

func (b base) Task() ident.TaskID    { return b.TaskID }
func (b base) Author() ident.ActorID { return b.Actor }

type (
	// TaskCreatedPayload records the creation of a new task.
	TaskCreatedPayload struct {
		base
		Title          string
		Intent         string
		Priority       Priority
		AgentID        ident.AgentID
		ParentTaskID   ident.TaskID
	}

	// TaskStartedPayload marks the beginning (or idempotent restart) of
	// execution for a task.
	TaskStartedPayload struct {
		base
	}

	// TaskCompletedPayload marks successful, terminal completion.
	TaskCompletedPayload struct {
		base
		Summary string
	}

	// TaskFailedPayload marks terminal failure.
	TaskFailedPayload struct {
		base
		FailureReason string
	}

	// TaskCanceledPayload marks a user- or cascade-initiated cancellation.
	TaskCanceledPayload struct {
		base
		Reason string
	}

	// TaskPausedPayload marks a cooperative pause request.
	TaskPausedPayload struct {
		base
	}

	// TaskResumedPayload marks a resume request for a paused task.
	TaskResumedPayload struct {
		base
	}

	// TaskInstructionAddedPayload carries a fresh instruction injected by the
	// user mid-run.
	TaskInstructionAddedPayload struct {
		base
		Instruction string
	}

	// UserInteractionRequestedPayload carries a structured UIP request.
	UserInteractionRequestedPayload struct {
		base
		InteractionID ident.InteractionID
		Kind          InteractionKind
		Purpose       string
		Display       InteractionDisplay
		Options       []InteractionOption
		Validation    map[string]any
	}

	// UserInteractionRespondedPayload carries the user's answer to a pending
	// UIP request.
	UserInteractionRespondedPayload struct {
		base
		InteractionID    ident.InteractionID
		SelectedOptionID string
		FreeformValue    string
		Rejected         bool
	}

	// InteractionKind is the closed set of UIP request shapes.
	InteractionKind string

	// InteractionOption is one selectable choice in a Select/Confirm
	// interaction.
	InteractionOption struct {
		ID    string
		Label string
	}

	// ContentKind is the closed set of display content renderings.
	ContentKind string

	// InteractionDisplay carries the human-facing presentation of an
	// interaction request, including the metadata binding used to prevent
	// confused-deputy approval (spec.md §6, SA-001).
	InteractionDisplay struct {
		Title       string
		Body        string
		ContentKind ContentKind
		Metadata    map[string]any
	}
)

const (
	InteractionSelect    InteractionKind = "Select"
	InteractionConfirm   InteractionKind = "Confirm"
	InteractionInput     InteractionKind = "Input"
	InteractionComposite InteractionKind = "Composite"
)

const (
	ContentPlainText ContentKind = "PlainText"
	ContentJSON      ContentKind = "Json"
	ContentDiff      ContentKind = "Diff"
	ContentTable     ContentKind = "Table"
)

func (TaskCreatedPayload) EventType() EventType              { return TaskCreated }
func (TaskStartedPayload) EventType() EventType               { return TaskStarted }
func (TaskCompletedPayload) EventType() EventType             { return TaskCompleted }
func (TaskFailedPayload) EventType() EventType                { return TaskFailed }
func (TaskCanceledPayload) EventType() EventType              { return TaskCanceled }
func (TaskPausedPayload) EventType() EventType                { return TaskPaused }
func (TaskResumedPayload) EventType() EventType               { return TaskResumed }
func (TaskInstructionAddedPayload) EventType() EventType      { return TaskInstructionAdded }
func (UserInteractionRequestedPayload) EventType() EventType  { return UserInteractionRequested }
func (UserInteractionRespondedPayload) EventType() EventType  { return UserInteractionResponded }

// StoredEvent is the durable, on-the-wire representation of an appended
// event: {id, streamId, seq, type, payload, createdAt} per spec.md §6.
type StoredEvent struct {
	// ID is the global, monotonically increasing identifier assigned at
	// append time. Ordering across streams follows ID.
	ID ident.EventID
	// StreamID is the task this event belongs to.
	StreamID ident.TaskID
	// Seq is the per-stream, monotonically increasing, gap-free sequence
	// number, starting at 1.
	Seq uint64
	// Type mirrors Payload.EventType() for storage/filtering convenience.
	Type EventType
	// Payload is the immutable event payload.
	Payload DomainEvent
	// CreatedAt is advisory; ordering is defined by ID, not by this field.
	CreatedAt time.Time
}

// NewTaskCreated constructs a TaskCreated payload.
func NewTaskCreated(task ident.TaskID, actor ident.ActorID, title, intent string, priority Priority, agentID ident.AgentID, parent ident.TaskID) TaskCreatedPayload {
	return TaskCreatedPayload{base: base{TaskID: task, Actor: actor}, Title: title, Intent: intent, Priority: priority, AgentID: agentID, ParentTaskID: parent}
}

// NewTaskStarted constructs a TaskStarted payload.
func NewTaskStarted(task ident.TaskID, actor ident.ActorID) TaskStartedPayload {
	return TaskStartedPayload{base{TaskID: task, Actor: actor}}
}

// NewTaskCompleted constructs a TaskCompleted payload.
func NewTaskCompleted(task ident.TaskID, actor ident.ActorID, summary string) TaskCompletedPayload {
	return TaskCompletedPayload{base: base{TaskID: task, Actor: actor}, Summary: summary}
}

// NewTaskFailed constructs a TaskFailed payload.
func NewTaskFailed(task ident.TaskID, actor ident.ActorID, reason string) TaskFailedPayload {
	return TaskFailedPayload{base: base{TaskID: task, Actor: actor}, FailureReason: reason}
}

// NewTaskCanceled constructs a TaskCanceled payload.
func NewTaskCanceled(task ident.TaskID, actor ident.ActorID, reason string) TaskCanceledPayload {
	return TaskCanceledPayload{base: base{TaskID: task, Actor: actor}, Reason: reason}
}

// NewTaskPaused constructs a TaskPaused payload.
func NewTaskPaused(task ident.TaskID, actor ident.ActorID) TaskPausedPayload {
	return TaskPausedPayload{base{TaskID: task, Actor: actor}}
}

// NewTaskResumed constructs a TaskResumed payload.
func NewTaskResumed(task ident.TaskID, actor ident.ActorID) TaskResumedPayload {
	return TaskResumedPayload{base{TaskID: task, Actor: actor}}
}

// NewTaskInstructionAdded constructs a TaskInstructionAdded payload.
func NewTaskInstructionAdded(task ident.TaskID, actor ident.ActorID, instruction string) TaskInstructionAddedPayload {
	return TaskInstructionAddedPayload{base: base{TaskID: task, Actor: actor}, Instruction: instruction}
}

// NewUserInteractionRequested constructs a UserInteractionRequested payload.
func NewUserInteractionRequested(task ident.TaskID, actor ident.ActorID, id ident.InteractionID, kind InteractionKind, purpose string, display InteractionDisplay, opts []InteractionOption, validation map[string]any) UserInteractionRequestedPayload {
	return UserInteractionRequestedPayload{
		base:          base{TaskID: task, Actor: actor},
		InteractionID: id,
		Kind:          kind,
		Purpose:       purpose,
		Display:       display,
		Options:       opts,
		Validation:    validation,
	}
}

// NewUserInteractionResponded constructs a UserInteractionResponded payload.
func NewUserInteractionResponded(task ident.TaskID, actor ident.ActorID, id ident.InteractionID, selectedOptionID, freeform string, rejected bool) UserInteractionRespondedPayload {
	return UserInteractionRespondedPayload{
		base:             base{TaskID: task, Actor: actor},
		InteractionID:    id,
		SelectedOptionID: selectedOptionID,
		FreeformValue:    freeform,
		Rejected:         rejected,
	}
}

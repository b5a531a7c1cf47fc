// Package taskproj implements the task state machine and the read-model
// projection folded from the event log, per spec.md §3-4.4. canTransition is
// the single source of truth for which events can mutate a task's status;
// both the projection reducer and every pre-append validation call it, so
// the rules in the state table below are encoded exactly once.
package taskproj

import "github.com/seedrun/seed/eventlog"

// Status is a task's derived lifecycle state.
type Status string

const (
	StatusOpen         Status = "open"
	StatusInProgress   Status = "in_progress"
	StatusAwaitingUser Status = "awaiting_user"
	StatusPaused       Status = "paused"
	StatusDone         Status = "done"
	StatusFailed       Status = "failed"
	StatusCanceled     Status = "canceled"
)

// nextStatus is the literal encoding of spec.md §3's state machine table:
// given the current status and an incoming event type, it returns the
// resulting status and whether the transition is allowed at all. A false ok
// means the event must be rejected before append; it never becomes part of
// the log.
//
// UserInteractionResponded additionally requires the event's interactionId
// to match the task's pendingInteractionId; that check happens in the
// reducer below, since it needs the responded event's payload, not just its
// type.
func nextStatus(status Status, eventType eventlog.EventType) (Status, bool) {
	switch status {
	case StatusOpen:
		switch eventType {
		case eventlog.TaskStarted:
			return StatusInProgress, true
		case eventlog.TaskCanceled:
			return StatusCanceled, true
		case eventlog.TaskInstructionAdded:
			return StatusInProgress, true
		}
	case StatusInProgress:
		switch eventType {
		case eventlog.TaskStarted: // idempotent restart
			return StatusInProgress, true
		case eventlog.UserInteractionRequested:
			return StatusAwaitingUser, true
		case eventlog.TaskCompleted:
			return StatusDone, true
		case eventlog.TaskFailed:
			return StatusFailed, true
		case eventlog.TaskCanceled:
			return StatusCanceled, true
		case eventlog.TaskPaused:
			return StatusPaused, true
		case eventlog.TaskInstructionAdded:
			return StatusInProgress, true
		}
	case StatusAwaitingUser:
		switch eventType {
		case eventlog.UserInteractionResponded:
			return StatusInProgress, true
		case eventlog.TaskCanceled:
			return StatusCanceled, true
		case eventlog.TaskInstructionAdded: // queued; does not change status itself
			return StatusAwaitingUser, true
		}
	case StatusPaused:
		switch eventType {
		case eventlog.TaskFailed:
			return StatusFailed, true
		case eventlog.TaskCanceled:
			return StatusCanceled, true
		case eventlog.TaskResumed:
			return StatusInProgress, true
		}
	case StatusDone:
		switch eventType {
		case eventlog.TaskStarted:
			return StatusInProgress, true
		case eventlog.TaskInstructionAdded:
			return StatusInProgress, true
		}
	case StatusFailed, StatusCanceled:
		// Terminal error states reject every transition, including restart
		// and instructions; create a new task to re-run.
		return status, false
	}
	return status, false
}

// canTransition reports whether eventType may mutate a task currently in
// status, without computing the resulting status. Validation call sites
// that only need a yes/no (e.g. the pre-append check in agentruntime) use
// this; the reducer uses nextStatus directly.
func canTransition(status Status, eventType eventlog.EventType) bool {
	_, ok := nextStatus(status, eventType)
	return ok
}

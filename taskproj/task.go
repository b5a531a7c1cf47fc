package taskproj

import (
	"time"

	"github.com/seedrun/seed/eventlog"
	"github.com/seedrun/seed/ident"
)

// Task is the read-model view of a task, derived entirely by folding its
// event stream through the reducer. It is never mutated directly; the only
// way to change a Task is to append a new event and re-fold.
type Task struct {
	ID       ident.TaskID
	Title    string
	Intent   string
	Priority eventlog.Priority
	AgentID  ident.AgentID

	ParentTaskID ident.TaskID
	ChildTaskIDs []ident.TaskID

	Status               Status
	PendingInteractionID ident.InteractionID
	Summary              string
	FailureReason        string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// State is the full projection: every task keyed by ID, plus the set of
// children each parent has accumulated (I2/ownership bookkeeping).
type State struct {
	Tasks map[ident.TaskID]*Task
}

// NewState returns an empty projection.
func NewState() State {
	return State{Tasks: make(map[ident.TaskID]*Task)}
}

// Clone returns a deep-enough copy of s for safe concurrent snapshot reads;
// Task pointers are replaced, not shared, so callers can't mutate a
// snapshot's view of the live projection.
func (s State) Clone() State {
	out := NewState()
	for id, t := range s.Tasks {
		cp := *t
		cp.ChildTaskIDs = append([]ident.TaskID(nil), t.ChildTaskIDs...)
		out.Tasks[id] = &cp
	}
	return out
}

// Reduce folds a single stored event into state, following nextStatus.
// Events that fail the transition check (including a TaskCreated for an
// already-known task, or a stale UserInteractionResponded) leave state
// unchanged; Reduce never panics or errors on a rejected transition, per
// spec.md §4.4.
func Reduce(state State, se eventlog.StoredEvent) State {
	switch p := se.Payload.(type) {
	case eventlog.TaskCreatedPayload:
		if _, exists := state.Tasks[se.StreamID]; exists {
			return state
		}
		t := &Task{
			ID:           se.StreamID,
			Title:        p.Title,
			Intent:       p.Intent,
			Priority:     p.Priority,
			AgentID:      p.AgentID,
			ParentTaskID: p.ParentTaskID,
			Status:       StatusOpen,
			CreatedAt:    se.CreatedAt,
			UpdatedAt:    se.CreatedAt,
		}
		state.Tasks[se.StreamID] = t
		if p.ParentTaskID != "" {
			if parent, ok := state.Tasks[p.ParentTaskID]; ok {
				parent.ChildTaskIDs = append(parent.ChildTaskIDs, se.StreamID)
			}
		}
		return state

	case eventlog.UserInteractionRespondedPayload:
		t, ok := state.Tasks[se.StreamID]
		if !ok {
			return state
		}
		// ‡ only when response's interactionId matches the pending one;
		// otherwise the response is ignored (stale interaction, §3).
		if t.PendingInteractionID != p.InteractionID {
			return state
		}
		next, ok := nextStatus(t.Status, se.Type)
		if !ok {
			return state
		}
		t.Status = next
		t.PendingInteractionID = ""
		t.UpdatedAt = se.CreatedAt
		return state

	default:
		t, ok := state.Tasks[se.StreamID]
		if !ok {
			return state
		}
		next, ok := nextStatus(t.Status, se.Type)
		if !ok {
			return state
		}
		t.Status = next
		t.UpdatedAt = se.CreatedAt
		applyPayload(t, se)
		return state
	}
}

// applyPayload sets the fields a given event carries beyond the status
// transition itself. Called only after nextStatus has already approved the
// transition.
func applyPayload(t *Task, se eventlog.StoredEvent) {
	switch p := se.Payload.(type) {
	case eventlog.TaskCompletedPayload:
		t.Summary = p.Summary
	case eventlog.TaskFailedPayload:
		t.FailureReason = p.FailureReason
	case eventlog.UserInteractionRequestedPayload:
		t.PendingInteractionID = p.InteractionID
	}
}

// Fold replays a sequence of stored events in order, starting from state.
func Fold(state State, events []eventlog.StoredEvent) State {
	for _, se := range events {
		state = Reduce(state, se)
	}
	return state
}

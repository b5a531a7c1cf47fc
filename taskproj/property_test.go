package taskproj_test

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"github.com/seedrun/seed/eventlog"
	"github.com/seedrun/seed/eventlog/memstore"
	"github.com/seedrun/seed/ident"
	"github.com/seedrun/seed/taskproj"
)

var validStatuses = map[taskproj.Status]bool{
	taskproj.StatusOpen:         true,
	taskproj.StatusInProgress:   true,
	taskproj.StatusAwaitingUser: true,
	taskproj.StatusPaused:       true,
	taskproj.StatusDone:         true,
	taskproj.StatusFailed:       true,
	taskproj.StatusCanceled:     true,
}

// mutatingEvent builds one of the nine non-TaskCreated event constructors
// against task, picked by n, so the property test can drive an arbitrary
// sequence of transitions without special-casing task creation.
func mutatingEvent(n int, task ident.TaskID) eventlog.DomainEvent {
	switch n % 9 {
	case 0:
		return eventlog.NewTaskStarted(task, "user")
	case 1:
		return eventlog.NewTaskCompleted(task, "agent", "done")
	case 2:
		return eventlog.NewTaskFailed(task, "agent", "boom")
	case 3:
		return eventlog.NewTaskCanceled(task, "user", "nvm")
	case 4:
		return eventlog.NewTaskPaused(task, "agent")
	case 5:
		return eventlog.NewTaskResumed(task, "user")
	case 6:
		return eventlog.NewTaskInstructionAdded(task, "user", "more")
	case 7:
		return eventlog.NewUserInteractionRequested(task, "agent", "ui_1", eventlog.InteractionConfirm, "confirm it", eventlog.InteractionDisplay{Title: "Confirm"}, nil, nil)
	default:
		return eventlog.NewUserInteractionResponded(task, "user", "ui_1", "approve", "", false)
	}
}

func toStored(seq uint64, ev eventlog.DomainEvent) eventlog.StoredEvent {
	return eventlog.StoredEvent{StreamID: ev.Task(), Seq: seq, Type: ev.EventType(), Payload: ev}
}

// TestStateMachineProperty verifies spec.md §8's P4: folding any sequence of
// events never drives a task's status outside the defined set, and any
// event canTransition rejects leaves status unchanged.
func TestStateMachineProperty(t *testing.T) {
	ctx := context.Background()
	// A Projector over an empty store exists only to reach CanTransition,
	// the exported wrapper around the same predicate the reducer itself
	// uses, so this property checks the real decision function rather than
	// a reimplementation of it.
	proj, err := taskproj.NewProjector(ctx, memstore.New())
	require.NoError(t, err)
	defer proj.Close()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("status stays in the defined set and only moves on an allowed transition", prop.ForAll(
		func(picks []int) bool {
			task := ident.TaskID("prop-task")
			state := taskproj.NewState()
			state = taskproj.Reduce(state, toStored(1, eventlog.NewTaskCreated(task, "user", "T", "x", eventlog.PriorityNormal, "agent_seed_chat", "")))

			seq := uint64(2)
			for _, n := range picks {
				ev := mutatingEvent(n, task)
				before := state.Tasks[task].Status
				allowed := proj.CanTransition(before, ev.EventType())

				state = taskproj.Reduce(state, toStored(seq, ev))
				seq++

				after := state.Tasks[task].Status
				if !validStatuses[after] {
					return false
				}
				if !allowed && after != before {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(20, gen.IntRange(0, 8)),
	))

	properties.TestingRun(t)
}

package subtask_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/seedrun/seed/conversation"
	"github.com/seedrun/seed/convmgr"
	"github.com/seedrun/seed/eventlog"
	"github.com/seedrun/seed/eventlog/memstore"
	"github.com/seedrun/seed/ident"
	"github.com/seedrun/seed/subtask"
	"github.com/seedrun/seed/taskproj"
	"github.com/seedrun/seed/toolkit"
)

const actorID ident.ActorID = "user_1"
const childAgentID ident.AgentID = "agent_child"

func newFixture(t *testing.T) (*memstore.Store, *taskproj.Projector, *convmgr.Manager) {
	t.Helper()
	store := memstore.New()
	proj, err := taskproj.NewProjector(context.Background(), store)
	require.NoError(t, err)
	conv := convmgr.New(conversation.NewMemStore())
	return store, proj, conv
}

func TestSubtaskResolvesOnChildCompletion(t *testing.T) {
	store, proj, conv := newFixture(t)

	_, err := store.Append(context.Background(), "parent", []eventlog.DomainEvent{
		eventlog.NewTaskCreated("parent", actorID, "p", "p", eventlog.PriorityNormal, "agent_parent", ""),
	})
	require.NoError(t, err)

	tool := subtask.New(childAgentID, store, proj, conv, 5)

	childIDCh := make(chan ident.TaskID, 1)
	unsub := store.Subscribe(func(se eventlog.StoredEvent) {
		if p, ok := se.Payload.(eventlog.TaskCreatedPayload); ok && p.ParentTaskID == "parent" {
			select {
			case childIDCh <- se.StreamID:
			default:
			}
		}
	})
	defer unsub()

	resultCh := make(chan toolkit.Result, 1)
	go func() {
		tc := toolkit.Context{Context: context.Background(), TaskID: "parent", ActorID: actorID}
		res, err := tool.Execute(map[string]any{"title": "t", "intent": "i"}, tc)
		require.NoError(t, err)
		resultCh <- res
	}()

	var childID ident.TaskID
	select {
	case childID = <-childIDCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for child task creation")
	}

	_, err = store.Append(context.Background(), childID, []eventlog.DomainEvent{
		eventlog.NewTaskStarted(childID, childAgentID),
		eventlog.NewTaskCompleted(childID, childAgentID, "did it"),
	})
	require.NoError(t, err)

	select {
	case res := <-resultCh:
		var parsed subtask.Result
		require.NoError(t, json.Unmarshal([]byte(res.Output), &parsed))
		require.Equal(t, subtask.Success, parsed.SubTaskStatus)
		require.Equal(t, "did it", parsed.Summary)
		require.False(t, res.IsError)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for subtask result")
	}
}

func TestSubtaskReportsChildFailure(t *testing.T) {
	store, proj, conv := newFixture(t)

	_, err := store.Append(context.Background(), "parent", []eventlog.DomainEvent{
		eventlog.NewTaskCreated("parent", actorID, "p", "p", eventlog.PriorityNormal, "agent_parent", ""),
	})
	require.NoError(t, err)

	tool := subtask.New(childAgentID, store, proj, conv, 5)

	childIDCh := make(chan ident.TaskID, 1)
	unsub := store.Subscribe(func(se eventlog.StoredEvent) {
		if p, ok := se.Payload.(eventlog.TaskCreatedPayload); ok && p.ParentTaskID == "parent" {
			select {
			case childIDCh <- se.StreamID:
			default:
			}
		}
	})
	defer unsub()

	resultCh := make(chan toolkit.Result, 1)
	go func() {
		tc := toolkit.Context{Context: context.Background(), TaskID: "parent", ActorID: actorID}
		res, err := tool.Execute(map[string]any{"title": "t", "intent": "i"}, tc)
		require.NoError(t, err)
		resultCh <- res
	}()

	childID := <-childIDCh
	_, err = store.Append(context.Background(), childID, []eventlog.DomainEvent{
		eventlog.NewTaskStarted(childID, childAgentID),
		eventlog.NewTaskFailed(childID, childAgentID, "boom"),
	})
	require.NoError(t, err)

	res := <-resultCh
	var parsed subtask.Result
	require.NoError(t, json.Unmarshal([]byte(res.Output), &parsed))
	require.Equal(t, subtask.Error, parsed.SubTaskStatus)
	require.Equal(t, "boom", parsed.FailureReason)
	require.True(t, res.IsError)
}

func TestSubtaskCascadeCancelsChildOnParentCancel(t *testing.T) {
	store, proj, conv := newFixture(t)

	_, err := store.Append(context.Background(), "parent", []eventlog.DomainEvent{
		eventlog.NewTaskCreated("parent", actorID, "p", "p", eventlog.PriorityNormal, "agent_parent", ""),
	})
	require.NoError(t, err)

	tool := subtask.New(childAgentID, store, proj, conv, 5)

	childIDCh := make(chan ident.TaskID, 1)
	unsub := store.Subscribe(func(se eventlog.StoredEvent) {
		if p, ok := se.Payload.(eventlog.TaskCreatedPayload); ok && p.ParentTaskID == "parent" {
			select {
			case childIDCh <- se.StreamID:
			default:
			}
		}
	})
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	resultCh := make(chan toolkit.Result, 1)
	go func() {
		tc := toolkit.Context{Context: ctx, TaskID: "parent", ActorID: actorID}
		res, err := tool.Execute(map[string]any{"title": "t", "intent": "i"}, tc)
		require.NoError(t, err)
		resultCh <- res
	}()

	childID := <-childIDCh
	cancel()

	select {
	case res := <-resultCh:
		var parsed subtask.Result
		require.NoError(t, json.Unmarshal([]byte(res.Output), &parsed))
		require.Equal(t, subtask.Cancel, parsed.SubTaskStatus)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for cascade cancel result")
	}

	task, ok := proj.Task(childID)
	require.True(t, ok)
	require.Equal(t, taskproj.StatusCanceled, task.Status)
}

func TestCanExecuteRejectsPastMaxDepth(t *testing.T) {
	store, proj, conv := newFixture(t)

	_, err := store.Append(context.Background(), "root", []eventlog.DomainEvent{
		eventlog.NewTaskCreated("root", actorID, "r", "r", eventlog.PriorityNormal, "agent_x", ""),
	})
	require.NoError(t, err)
	_, err = store.Append(context.Background(), "mid", []eventlog.DomainEvent{
		eventlog.NewTaskCreated("mid", actorID, "m", "m", eventlog.PriorityNormal, "agent_x", "root"),
	})
	require.NoError(t, err)

	tool := subtask.New(childAgentID, store, proj, conv, 1)

	tc := toolkit.Context{Context: context.Background(), TaskID: "mid", ActorID: actorID}
	err = tool.CanExecute(map[string]any{"title": "t", "intent": "i"}, tc)
	require.Error(t, err)
}

func TestCanExecuteAllowsWithinMaxDepth(t *testing.T) {
	store, proj, conv := newFixture(t)

	_, err := store.Append(context.Background(), "root", []eventlog.DomainEvent{
		eventlog.NewTaskCreated("root", actorID, "r", "r", eventlog.PriorityNormal, "agent_x", ""),
	})
	require.NoError(t, err)

	tool := subtask.New(childAgentID, store, proj, conv, 3)

	tc := toolkit.Context{Context: context.Background(), TaskID: "root", ActorID: actorID}
	require.NoError(t, tool.CanExecute(map[string]any{"title": "t", "intent": "i"}, tc))
}

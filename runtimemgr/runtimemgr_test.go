package runtimemgr_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/seedrun/seed/agent"
	"github.com/seedrun/seed/agent/chat"
	"github.com/seedrun/seed/agent/toolloop"
	"github.com/seedrun/seed/audit"
	"github.com/seedrun/seed/conversation"
	"github.com/seedrun/seed/convmgr"
	"github.com/seedrun/seed/eventlog"
	"github.com/seedrun/seed/eventlog/memstore"
	"github.com/seedrun/seed/ident"
	"github.com/seedrun/seed/llm"
	"github.com/seedrun/seed/llm/fake"
	"github.com/seedrun/seed/outputhandler"
	"github.com/seedrun/seed/runtimemgr"
	"github.com/seedrun/seed/taskproj"
	"github.com/seedrun/seed/telemetry"
	"github.com/seedrun/seed/toolkit"
	"github.com/seedrun/seed/uip"
)

const actorID ident.ActorID = "user_1"

type harness struct {
	store *memstore.Store
	proj  *taskproj.Projector
	conv  *convmgr.Manager
	mgr   *runtimemgr.Manager
	uip   *uip.Service
}

// newHarness wires a Manager against a scripted llm.Client that returns
// resp for every task it drives (the factory hands out a fresh chat.Agent
// per call, so tasks never share one agent's internal state).
func newHarness(t *testing.T, client llm.Client) *harness {
	t.Helper()
	store := memstore.New()
	proj, err := taskproj.NewProjector(context.Background(), store)
	require.NoError(t, err)

	conv := convmgr.New(conversation.NewMemStore())
	reg := toolkit.NewRegistry()
	exec := toolkit.NewExecutor(reg, audit.NewMemLog())
	out := outputhandler.New(reg, exec, conv)

	factory := func(id ident.AgentID) (agent.Agent, bool) {
		if id != chat.ID {
			return nil, false
		}
		return chat.New("be nice"), true
	}

	mgr := runtimemgr.New(store, proj, conv, out, reg, client, factory, telemetry.Noop())
	return &harness{store: store, proj: proj, conv: conv, mgr: mgr, uip: uip.New(store, proj)}
}

func TestTaskCreatedDrivesToCompletion(t *testing.T) {
	h := newHarness(t, fake.New(llm.Response{Content: "hi", StopReason: llm.StopEndTurn}))
	defer h.mgr.Close()

	_, err := h.store.Append(context.Background(), "t1", []eventlog.DomainEvent{
		eventlog.NewTaskCreated("t1", actorID, "greet", "say hi", eventlog.PriorityNormal, chat.ID, ""),
	})
	require.NoError(t, err)
	h.mgr.WaitForIdle()

	task, ok := h.proj.Task("t1")
	require.True(t, ok)
	require.Equal(t, taskproj.StatusDone, task.Status)
}

func TestTaskCreatedForUnknownAgentIsIgnored(t *testing.T) {
	h := newHarness(t, fake.New(llm.Response{Content: "hi", StopReason: llm.StopEndTurn}))
	defer h.mgr.Close()

	_, err := h.store.Append(context.Background(), "t1", []eventlog.DomainEvent{
		eventlog.NewTaskCreated("t1", actorID, "greet", "say hi", eventlog.PriorityNormal, "agent_unknown", ""),
	})
	require.NoError(t, err)
	h.mgr.WaitForIdle()

	task, ok := h.proj.Task("t1")
	require.True(t, ok)
	require.Equal(t, taskproj.StatusOpen, task.Status)
}

func TestTaskPausedStopsBeforeCompletionAndResumeFinishes(t *testing.T) {
	client := fake.New(llm.Response{Content: "hi", StopReason: llm.StopEndTurn})
	gate := make(chan struct{})
	client.BlockOnCall(1, gate)

	h := newHarness(t, client)
	defer h.mgr.Close()

	_, err := h.store.Append(context.Background(), "t1", []eventlog.DomainEvent{
		eventlog.NewTaskCreated("t1", actorID, "greet", "say hi", eventlog.PriorityNormal, chat.ID, ""),
	})
	require.NoError(t, err)

	_, err = h.store.Append(context.Background(), "t1", []eventlog.DomainEvent{
		eventlog.NewTaskPaused("t1", actorID),
	})
	require.NoError(t, err)
	close(gate)
	h.mgr.WaitForIdle()

	task, ok := h.proj.Task("t1")
	require.True(t, ok)
	require.Equal(t, taskproj.StatusPaused, task.Status)

	_, err = h.store.Append(context.Background(), "t1", []eventlog.DomainEvent{
		eventlog.NewTaskResumed("t1", actorID),
	})
	require.NoError(t, err)
	h.mgr.WaitForIdle()

	task, ok = h.proj.Task("t1")
	require.True(t, ok)
	require.Equal(t, taskproj.StatusDone, task.Status)
}

func TestTaskCanceledCleansUpRuntime(t *testing.T) {
	client := fake.New(llm.Response{Content: "hi", StopReason: llm.StopEndTurn})
	gate := make(chan struct{})
	client.BlockOnCall(1, gate)

	h := newHarness(t, client)
	defer h.mgr.Close()

	_, err := h.store.Append(context.Background(), "t1", []eventlog.DomainEvent{
		eventlog.NewTaskCreated("t1", actorID, "greet", "say hi", eventlog.PriorityNormal, chat.ID, ""),
	})
	require.NoError(t, err)

	_, err = h.store.Append(context.Background(), "t1", []eventlog.DomainEvent{
		eventlog.NewTaskCanceled("t1", actorID, "no longer needed"),
	})
	require.NoError(t, err)
	close(gate)
	h.mgr.WaitForIdle()

	task, ok := h.proj.Task("t1")
	require.True(t, ok)
	require.Equal(t, taskproj.StatusCanceled, task.Status)

	// A TaskInstructionAdded arriving after cancellation finds no runtime
	// registered and must not panic or hang.
	_, err = h.store.Append(context.Background(), "t1", []eventlog.DomainEvent{
		eventlog.NewTaskInstructionAdded("t1", actorID, "too late"),
	})
	require.NoError(t, err)
	h.mgr.WaitForIdle()
}

func TestInstructionAddedAfterCompletionResumesAndDrains(t *testing.T) {
	h := newHarness(t, fake.New(
		llm.Response{Content: "first", StopReason: llm.StopEndTurn},
		llm.Response{Content: "second", StopReason: llm.StopEndTurn},
	))
	defer h.mgr.Close()

	_, err := h.store.Append(context.Background(), "t1", []eventlog.DomainEvent{
		eventlog.NewTaskCreated("t1", actorID, "greet", "say hi", eventlog.PriorityNormal, chat.ID, ""),
	})
	require.NoError(t, err)
	h.mgr.WaitForIdle()

	task, ok := h.proj.Task("t1")
	require.True(t, ok)
	require.Equal(t, taskproj.StatusDone, task.Status)

	_, err = h.store.Append(context.Background(), "t1", []eventlog.DomainEvent{
		eventlog.NewTaskInstructionAdded("t1", actorID, "one more thing"),
	})
	require.NoError(t, err)
	h.mgr.WaitForIdle()

	task, ok = h.proj.Task("t1")
	require.True(t, ok)
	require.Equal(t, taskproj.StatusDone, task.Status)

	history, err := h.conv.History(context.Background(), "t1")
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(history), 2)
}

type riskyTool struct{}

func (riskyTool) Name() string        { return "delete_everything" }
func (riskyTool) Description() string { return "a risky tool requiring confirmation" }
func (riskyTool) Parameters() map[string]any {
	return map[string]any{"type": "object"}
}
func (riskyTool) RiskLevel() toolkit.RiskLevel { return toolkit.RiskRisky }
func (riskyTool) Group() string                { return "test" }
func (riskyTool) CanExecute(map[string]any, toolkit.Context) error { return nil }
func (riskyTool) Execute(args map[string]any, tc toolkit.Context) (toolkit.Result, error) {
	return toolkit.Result{Output: "deleted"}, nil
}

const riskyAgentID ident.AgentID = "agent_risky"

func newRiskyHarness(t *testing.T, client llm.Client) (*harness, *toolkit.Registry) {
	t.Helper()
	store := memstore.New()
	proj, err := taskproj.NewProjector(context.Background(), store)
	require.NoError(t, err)

	conv := convmgr.New(conversation.NewMemStore())
	reg := toolkit.NewRegistry()
	require.NoError(t, reg.Register(riskyTool{}))
	exec := toolkit.NewExecutor(reg, audit.NewMemLog())
	out := outputhandler.New(reg, exec, conv)

	ag := toolloop.New(riskyAgentID, "Risky", "uses a risky tool", "sys", nil)
	factory := func(id ident.AgentID) (agent.Agent, bool) {
		if id != riskyAgentID {
			return nil, false
		}
		return ag, true
	}

	mgr := runtimemgr.New(store, proj, conv, out, reg, client, factory, telemetry.Noop())
	return &harness{store: store, proj: proj, conv: conv, mgr: mgr, uip: uip.New(store, proj)}, reg
}

func TestInteractionRespondedApprovesAndResumesToolCall(t *testing.T) {
	client := fake.New(
		llm.Response{
			ToolCalls:  []conversation.ToolUsePart{{ToolCallID: "c1", ToolName: "delete_everything", Input: map[string]any{}}},
			StopReason: llm.StopToolUse,
		},
		llm.Response{Content: "done", StopReason: llm.StopEndTurn},
	)
	h, _ := newRiskyHarness(t, client)
	defer h.mgr.Close()

	_, err := h.store.Append(context.Background(), "t1", []eventlog.DomainEvent{
		eventlog.NewTaskCreated("t1", actorID, "cleanup", "delete it", eventlog.PriorityNormal, riskyAgentID, ""),
	})
	require.NoError(t, err)
	h.mgr.WaitForIdle()

	task, ok := h.proj.Task("t1")
	require.True(t, ok)
	require.Equal(t, taskproj.StatusAwaitingUser, task.Status)

	pending, ok, err := h.uip.GetPendingInteraction(context.Background(), "t1")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, h.uip.RespondToInteraction(context.Background(), "t1", actorID, pending.InteractionID, "approve", "", false))
	h.mgr.WaitForIdle()

	task, ok = h.proj.Task("t1")
	require.True(t, ok)
	require.Equal(t, taskproj.StatusDone, task.Status)
}

func TestInteractionRespondedIgnoresStaleResponse(t *testing.T) {
	client := fake.New(
		llm.Response{
			ToolCalls:  []conversation.ToolUsePart{{ToolCallID: "c1", ToolName: "delete_everything", Input: map[string]any{}}},
			StopReason: llm.StopToolUse,
		},
		llm.Response{Content: "done", StopReason: llm.StopEndTurn},
	)
	h, _ := newRiskyHarness(t, client)
	defer h.mgr.Close()

	_, err := h.store.Append(context.Background(), "t1", []eventlog.DomainEvent{
		eventlog.NewTaskCreated("t1", actorID, "cleanup", "delete it", eventlog.PriorityNormal, riskyAgentID, ""),
	})
	require.NoError(t, err)
	h.mgr.WaitForIdle()

	task, ok := h.proj.Task("t1")
	require.True(t, ok)
	require.Equal(t, taskproj.StatusAwaitingUser, task.Status)

	// A response whose interactionId never matched the pending one is
	// rejected by uip.Service itself before it can reach the Manager;
	// appending it directly to the log (bypassing the service) exercises
	// the Manager's own defense-in-depth re-check.
	_, err = h.store.Append(context.Background(), "t1", []eventlog.DomainEvent{
		eventlog.NewUserInteractionResponded("t1", actorID, "bogus-id", "approve", "", false),
	})
	require.NoError(t, err)
	h.mgr.WaitForIdle()

	task, ok = h.proj.Task("t1")
	require.True(t, ok)
	require.Equal(t, taskproj.StatusAwaitingUser, task.Status)
}

// TestRejectOneOfABatchStillConfirmsTheOther exercises spec.md §8 Scenario
// 4: one model turn requests two risky tool calls, call_1 and call_2.
// Rejecting call_1 must not silently drop call_2 — the next pass has to
// raise a fresh Confirm bound to call_2, and approving that one must let
// the task actually finish.
func TestRejectOneOfABatchStillConfirmsTheOther(t *testing.T) {
	client := fake.New(
		llm.Response{
			ToolCalls: []conversation.ToolUsePart{
				{ToolCallID: "c1", ToolName: "delete_everything", Input: map[string]any{}},
				{ToolCallID: "c2", ToolName: "delete_everything", Input: map[string]any{}},
			},
			StopReason: llm.StopToolUse,
		},
		llm.Response{Content: "done", StopReason: llm.StopEndTurn},
	)
	h, _ := newRiskyHarness(t, client)
	defer h.mgr.Close()

	_, err := h.store.Append(context.Background(), "t1", []eventlog.DomainEvent{
		eventlog.NewTaskCreated("t1", actorID, "cleanup", "delete it twice", eventlog.PriorityNormal, riskyAgentID, ""),
	})
	require.NoError(t, err)
	h.mgr.WaitForIdle()

	task, ok := h.proj.Task("t1")
	require.True(t, ok)
	require.Equal(t, taskproj.StatusAwaitingUser, task.Status)

	firstPending, ok, err := h.uip.GetPendingInteraction(context.Background(), "t1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "c1", firstPending.Display.Metadata["toolCallId"])

	require.NoError(t, h.uip.RespondToInteraction(context.Background(), "t1", actorID, firstPending.InteractionID, "reject", "", true))
	h.mgr.WaitForIdle()

	// call_2 must not have been lost: the task is awaiting_user again with
	// a fresh interaction bound to call_2, distinct from the one that just
	// resolved call_1.
	task, ok = h.proj.Task("t1")
	require.True(t, ok)
	require.Equal(t, taskproj.StatusAwaitingUser, task.Status)

	secondPending, ok, err := h.uip.GetPendingInteraction(context.Background(), "t1")
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEqual(t, firstPending.InteractionID, secondPending.InteractionID)
	require.Equal(t, "c2", secondPending.Display.Metadata["toolCallId"])

	require.NoError(t, h.uip.RespondToInteraction(context.Background(), "t1", actorID, secondPending.InteractionID, "approve", "", false))
	h.mgr.WaitForIdle()

	task, ok = h.proj.Task("t1")
	require.True(t, ok)
	require.Equal(t, taskproj.StatusDone, task.Status)

	history, err := h.conv.History(context.Background(), "t1")
	require.NoError(t, err)
	var rejected, approved bool
	for _, msg := range history {
		if msg.Role != conversation.RoleTool {
			continue
		}
		for _, part := range msg.Parts {
			tr, ok := part.(conversation.ToolResultPart)
			if !ok {
				continue
			}
			switch tr.ToolCallID {
			case "c1":
				require.True(t, tr.IsError)
				rejected = true
			case "c2":
				require.False(t, tr.IsError)
				approved = true
			}
		}
	}
	require.True(t, rejected, "call_1's rejected result must be persisted")
	require.True(t, approved, "call_2 must have actually executed, not been discarded")
}

func TestSetProfileAndStreamingDoNotPanic(t *testing.T) {
	h := newHarness(t, fake.New(llm.Response{Content: "hi", StopReason: llm.StopEndTurn}))
	defer h.mgr.Close()

	h.mgr.SetStreaming(true)
	h.mgr.SetProfile("*", "fast")
	h.mgr.SetProfile("t1", "careful")

	_, err := h.store.Append(context.Background(), "t1", []eventlog.DomainEvent{
		eventlog.NewTaskCreated("t1", actorID, "greet", "say hi", eventlog.PriorityNormal, chat.ID, ""),
	})
	require.NoError(t, err)
	h.mgr.WaitForIdle()

	task, ok := h.proj.Task("t1")
	require.True(t, ok)
	require.Equal(t, taskproj.StatusDone, task.Status)
}

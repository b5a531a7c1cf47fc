package agentruntime_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/seedrun/seed/agent/chat"
	"github.com/seedrun/seed/agent/toolloop"
	"github.com/seedrun/seed/agentruntime"
	"github.com/seedrun/seed/audit"
	"github.com/seedrun/seed/conversation"
	"github.com/seedrun/seed/convmgr"
	"github.com/seedrun/seed/eventlog"
	"github.com/seedrun/seed/eventlog/memstore"
	"github.com/seedrun/seed/ident"
	"github.com/seedrun/seed/llm"
	"github.com/seedrun/seed/llm/fake"
	"github.com/seedrun/seed/outputhandler"
	"github.com/seedrun/seed/taskproj"
	"github.com/seedrun/seed/toolkit"
)

const (
	taskID  ident.TaskID  = "t1"
	actorID ident.ActorID = "user_1"
)

type fixture struct {
	store *memstore.Store
	proj  *taskproj.Projector
	conv  *convmgr.Manager
	out   *outputhandler.Handler
	reg   *toolkit.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memstore.New()
	proj, err := taskproj.NewProjector(context.Background(), store)
	require.NoError(t, err)

	_, err = store.Append(context.Background(), taskID, []eventlog.DomainEvent{
		eventlog.NewTaskCreated(taskID, actorID, "greet", "say hello", eventlog.PriorityNormal, chat.ID, ""),
	})
	require.NoError(t, err)

	conv := convmgr.New(conversation.NewMemStore())
	reg := toolkit.NewRegistry()
	exec := toolkit.NewExecutor(reg, audit.NewMemLog())
	out := outputhandler.New(reg, exec, conv)

	return &fixture{store: store, proj: proj, conv: conv, out: out, reg: reg}
}

func noTools() []llm.ToolSpec { return nil }
func noStream() bool          { return false }

func TestHappyPathReachesDoneAndPersistsAssistantMessage(t *testing.T) {
	f := newFixture(t)
	client := fake.New(llm.Response{Content: "Hello there", StopReason: llm.StopEndTurn})
	rt := agentruntime.New(taskID, actorID, chat.New("be nice"), client, f.store, f.proj, f.conv, f.out, noTools, noStream)

	events, err := rt.Execute(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, eventlog.TaskStarted, events[0].EventType())
	require.Equal(t, eventlog.TaskCompleted, events[1].EventType())
	require.Equal(t, "Hello there", events[1].(eventlog.TaskCompletedPayload).Summary)

	task, ok := f.proj.Task(taskID)
	require.True(t, ok)
	require.Equal(t, taskproj.StatusDone, task.Status)

	history, err := f.conv.History(context.Background(), taskID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, conversation.RoleAssistant, history[0].Role)
	part := history[0].Parts[0].(conversation.TextPart)
	require.Equal(t, "Hello there", part.Text)
}

func TestExecuteDoesNotReappendTaskStartedWhileInProgress(t *testing.T) {
	f := newFixture(t)
	client := fake.New(llm.Response{Content: "hi", StopReason: llm.StopEndTurn})
	rt := agentruntime.New(taskID, actorID, chat.New("sys"), client, f.store, f.proj, f.conv, f.out, noTools, noStream)

	_, err := rt.Execute(context.Background())
	require.NoError(t, err)

	// Manually push the task back to in_progress to simulate a second
	// execute pass on an already-running task (e.g. an instruction
	// arriving right after completion re-opens it).
	_, err = f.store.Append(context.Background(), taskID, []eventlog.DomainEvent{
		eventlog.NewTaskInstructionAdded(taskID, actorID, "keep going"),
	})
	require.NoError(t, err)

	client2 := fake.New(llm.Response{Content: "more", StopReason: llm.StopEndTurn})
	rt2 := agentruntime.New(taskID, actorID, chat.New("sys"), client2, f.store, f.proj, f.conv, f.out, noTools, noStream)
	events, err := rt2.Execute(context.Background())
	require.NoError(t, err)
	for _, e := range events {
		require.NotEqual(t, eventlog.TaskStarted, e.EventType())
	}
}

func TestPauseMidExecutionStopsBeforeCompletion(t *testing.T) {
	f := newFixture(t)
	client := fake.New(llm.Response{Content: "hi", StopReason: llm.StopEndTurn})
	gate := make(chan struct{})
	client.BlockOnCall(1, gate)

	rt := agentruntime.New(taskID, actorID, chat.New("sys"), client, f.store, f.proj, f.conv, f.out, noTools, noStream)

	done := make(chan struct{})
	var events []eventlog.DomainEvent
	var execErr error
	go func() {
		events, execErr = rt.Execute(context.Background())
		close(done)
	}()

	rt.OnPause()
	close(gate)
	<-done

	require.NoError(t, execErr)
	require.Len(t, events, 1)
	require.Equal(t, eventlog.TaskStarted, events[0].EventType())
}

func TestInstructionResumesDoneTask(t *testing.T) {
	f := newFixture(t)
	client := fake.New(llm.Response{Content: "done once", StopReason: llm.StopEndTurn})
	rt := agentruntime.New(taskID, actorID, chat.New("sys"), client, f.store, f.proj, f.conv, f.out, noTools, noStream)
	_, err := rt.Execute(context.Background())
	require.NoError(t, err)

	task, ok := f.proj.Task(taskID)
	require.True(t, ok)
	require.Equal(t, taskproj.StatusDone, task.Status)

	require.NoError(t, rt.OnInstruction(context.Background(), "one more thing"))
	_, err = f.store.Append(context.Background(), taskID, []eventlog.DomainEvent{
		eventlog.NewTaskInstructionAdded(taskID, actorID, "one more thing"),
	})
	require.NoError(t, err)

	task, ok = f.proj.Task(taskID)
	require.True(t, ok)
	require.Equal(t, taskproj.StatusInProgress, task.Status)

	client2 := fake.New(llm.Response{Content: "done again", StopReason: llm.StopEndTurn})
	rt2 := agentruntime.New(taskID, actorID, chat.New("sys"), client2, f.store, f.proj, f.conv, f.out, noTools, noStream)
	events, err := rt2.Execute(context.Background())
	require.NoError(t, err)
	for _, e := range events {
		require.NotEqual(t, eventlog.TaskStarted, e.EventType())
	}
	require.Equal(t, eventlog.TaskCompleted, events[len(events)-1].EventType())
}

type echoTool struct{}

func (echoTool) Name() string        { return "echo" }
func (echoTool) Description() string { return "echoes input" }
func (echoTool) Parameters() map[string]any {
	return map[string]any{"type": "object"}
}
func (echoTool) RiskLevel() toolkit.RiskLevel { return toolkit.RiskSafe }
func (echoTool) Group() string                { return "test" }
func (echoTool) CanExecute(map[string]any, toolkit.Context) error { return nil }
func (echoTool) Execute(args map[string]any, tc toolkit.Context) (toolkit.Result, error) {
	return toolkit.Result{Output: "echoed"}, nil
}

func TestToolLoopPersistsAssistantToolUseBeforeResult(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.reg.Register(echoTool{}))

	firstTurn := llm.Response{
		ToolCalls:  []conversation.ToolUsePart{{ToolCallID: "c1", ToolName: "echo", Input: map[string]any{}}},
		StopReason: llm.StopToolUse,
	}
	secondTurn := llm.Response{Content: "all done", StopReason: llm.StopEndTurn}
	client := fake.New(firstTurn, secondTurn)

	ag := toolloop.New("agent_tool", "Tool", "desc", "sys", nil)
	rt := agentruntime.New(taskID, actorID, ag, client, f.store, f.proj, f.conv, f.out, noTools, noStream)

	_, err := rt.Execute(context.Background())
	require.NoError(t, err)

	history, err := f.conv.History(context.Background(), taskID)
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(history), 2)
	require.Equal(t, conversation.RoleAssistant, history[0].Role)
	tu := history[0].Parts[0].(conversation.ToolUsePart)
	require.Equal(t, ident.ToolCallID("c1"), tu.ToolCallID)

	require.Equal(t, conversation.RoleTool, history[1].Role)
	tr := history[1].Parts[0].(conversation.ToolResultPart)
	require.Equal(t, ident.ToolCallID("c1"), tr.ToolCallID)
	require.Equal(t, "echoed", tr.Content)
}

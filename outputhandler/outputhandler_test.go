package outputhandler_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/seedrun/seed/agent"
	"github.com/seedrun/seed/audit"
	"github.com/seedrun/seed/conversation"
	"github.com/seedrun/seed/convmgr"
	"github.com/seedrun/seed/eventlog"
	"github.com/seedrun/seed/outputhandler"
	"github.com/seedrun/seed/toolkit"
)

type fixedRisk struct{ level toolkit.RiskLevel }

func (r fixedRisk) RiskLevel(string) toolkit.RiskLevel { return r.level }

type echoTool struct{}

func (echoTool) Name() string        { return "echo" }
func (echoTool) Description() string { return "echoes input" }
func (echoTool) Parameters() map[string]any {
	return map[string]any{"type": "object"}
}
func (echoTool) RiskLevel() toolkit.RiskLevel { return toolkit.RiskRisky }
func (echoTool) Group() string                { return "test" }
func (echoTool) CanExecute(map[string]any, toolkit.Context) error { return nil }
func (echoTool) Execute(args map[string]any, tc toolkit.Context) (toolkit.Result, error) {
	return toolkit.Result{Output: "echoed"}, nil
}

func newHandler(t *testing.T, risk toolkit.RiskLevel) (*outputhandler.Handler, *convmgr.Manager) {
	reg := toolkit.NewRegistry()
	require.NoError(t, reg.Register(echoTool{}))
	exec := toolkit.NewExecutor(reg, audit.NewMemLog())
	conv := convmgr.New(conversation.NewMemStore())
	h := outputhandler.New(fixedRisk{level: risk}, exec, conv)
	return h, conv
}

func TestHandleTextEmitsUIEventOnly(t *testing.T) {
	h, _ := newHandler(t, toolkit.RiskSafe)
	res := h.Handle(context.Background(), "t1", "agent", agent.Output{Kind: agent.KindText, Text: "hi"}, toolkit.Context{}, "")
	require.Empty(t, res.Events)
	require.False(t, res.Pause)
	require.False(t, res.Terminal)
	require.Equal(t, "hi", res.UIEmit.Text)
}

func TestHandleDoneEmitsTaskCompleted(t *testing.T) {
	h, _ := newHandler(t, toolkit.RiskSafe)
	res := h.Handle(context.Background(), "t1", "agent", agent.Output{Kind: agent.KindDone, Summary: "done!"}, toolkit.Context{}, "")
	require.True(t, res.Terminal)
	require.Len(t, res.Events, 1)
	require.Equal(t, eventlog.TaskCompleted, res.Events[0].EventType())
}

func TestHandleRiskyToolUnboundRequestsConfirmation(t *testing.T) {
	h, _ := newHandler(t, toolkit.RiskRisky)
	call := &toolkit.Call{ToolCallID: "c1", ToolName: "echo", Arguments: map[string]any{}}
	res := h.Handle(context.Background(), "t1", "agent", agent.Output{Kind: agent.KindToolCall, ToolCall: call}, toolkit.Context{}, "")
	require.True(t, res.Pause)
	require.Len(t, res.Events, 1)
	require.Equal(t, eventlog.UserInteractionRequested, res.Events[0].EventType())
	payload := res.Events[0].(eventlog.UserInteractionRequestedPayload)
	require.Equal(t, "c1", payload.Display.Metadata["toolCallId"])
}

func TestHandleRiskyToolBoundAndApprovedExecutes(t *testing.T) {
	h, conv := newHandler(t, toolkit.RiskRisky)
	call := &toolkit.Call{ToolCallID: "c1", ToolName: "echo", Arguments: map[string]any{}}
	res := h.Handle(context.Background(), "t1", "agent", agent.Output{Kind: agent.KindToolCall, ToolCall: call}, toolkit.Context{}, "c1")
	require.False(t, res.Pause)
	require.Empty(t, res.Events)

	history, err := conv.History(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	part := history[0].Parts[0].(conversation.ToolResultPart)
	require.Equal(t, "echoed", part.Content)
}

func TestHandleSafeToolExecutesWithoutConfirmation(t *testing.T) {
	h, conv := newHandler(t, toolkit.RiskSafe)
	call := &toolkit.Call{ToolCallID: "c1", ToolName: "echo", Arguments: map[string]any{}}
	res := h.Handle(context.Background(), "t1", "agent", agent.Output{Kind: agent.KindToolCall, ToolCall: call}, toolkit.Context{}, "")
	require.False(t, res.Pause)

	history, err := conv.History(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, history, 1)
}

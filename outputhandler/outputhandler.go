// Package outputhandler implements the Output Handler, spec.md §4.7: it
// translates one agent.Output into {event?, pause?, terminal?}, and for a
// tool call that may run it also executes the tool and persists the tool
// result to the conversation. It never reads projection state; every
// decision it makes is a function of the output itself plus the small bit
// of per-pass state (which risky call is already bound/approved) the Agent
// Runtime hands it.
package outputhandler

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/seedrun/seed/agent"
	"github.com/seedrun/seed/convmgr"
	"github.com/seedrun/seed/eventlog"
	"github.com/seedrun/seed/ident"
	"github.com/seedrun/seed/toolkit"
)

// Result is what handling one Output produces.
type Result struct {
	// Events are appended to the event log by the caller (agentruntime),
	// which owns the actual Store.Append call so every append happens
	// under the per-task write path.
	Events []eventlog.DomainEvent
	// Pause is true when the runtime should stop iterating the agent's
	// output sequence and return (status becomes awaiting_user).
	Pause bool
	// Terminal is true when the task has reached done/failed.
	Terminal bool
	// UIEmit, when non-empty, is forwarded to the UI boundary (text,
	// reasoning, verbose, error outputs have no event but still need to
	// reach a live viewer).
	UIEmit *UIEvent
}

// UIEvent is a non-durable, ephemeral notification for the `ui` WebSocket
// channel (spec.md §6); it is never appended to the event log.
type UIEvent struct {
	Kind string
	Text string
}

// RiskPolicy decides whether a requested tool call is risky. Whether a
// prior UIP response has already bound-and-approved this exact toolCallId
// (I4) is checked by Handle itself. Implemented by toolkit.Registry in
// production; kept as an interface here so outputhandler doesn't need the
// full registry type for tests.
type RiskPolicy interface {
	RiskLevel(toolName string) toolkit.RiskLevel
}

// Handler implements the Output Handler.
type Handler struct {
	risk     RiskPolicy
	executor *toolkit.Executor
	conv     *convmgr.Manager
}

// New constructs a Handler.
func New(risk RiskPolicy, executor *toolkit.Executor, conv *convmgr.Manager) *Handler {
	return &Handler{risk: risk, executor: executor, conv: conv}
}

// Handle processes one agent output for task under actor.
// boundApprovedToolCallID, if non-empty, is the toolCallId of the one risky
// tool call the user approved (agentruntime.Resume records it); the
// runtime clears it as soon as it has been handed to one pass.
func (h *Handler) Handle(ctx context.Context, task ident.TaskID, actor ident.ActorID, out agent.Output, tc toolkit.Context, boundApprovedToolCallID ident.ToolCallID) Result {
	switch out.Kind {
	case agent.KindText:
		return Result{UIEmit: &UIEvent{Kind: "text", Text: out.Text}}
	case agent.KindReasoning:
		return Result{UIEmit: &UIEvent{Kind: "reasoning", Text: out.Text}}
	case agent.KindVerbose:
		return Result{UIEmit: &UIEvent{Kind: "verbose", Text: out.Text}}
	case agent.KindError:
		return Result{UIEmit: &UIEvent{Kind: "error", Text: out.Text}}

	case agent.KindDone:
		return Result{Events: []eventlog.DomainEvent{eventlog.NewTaskCompleted(task, actor, out.Summary)}, Terminal: true}

	case agent.KindFailed:
		return Result{Events: []eventlog.DomainEvent{eventlog.NewTaskFailed(task, actor, out.FailureReason)}, Terminal: true}

	case agent.KindInteraction:
		return h.handleInteraction(task, actor, out)

	case agent.KindToolCall:
		return h.handleToolCall(ctx, task, actor, out, tc, boundApprovedToolCallID)
	}

	return Result{}
}

func (h *Handler) handleInteraction(task ident.TaskID, actor ident.ActorID, out agent.Output) Result {
	req := out.Interaction
	opts := make([]eventlog.InteractionOption, 0, len(req.Options))
	for _, o := range req.Options {
		opts = append(opts, eventlog.InteractionOption{ID: o.ID, Label: o.Label})
	}
	display := eventlog.InteractionDisplay{Title: req.Title, Body: req.Body, ContentKind: eventlog.ContentPlainText}
	ev := eventlog.NewUserInteractionRequested(task, actor, ident.InteractionID(newID()), eventlog.InteractionKind(req.Kind), req.Purpose, display, opts, req.Validation)
	return Result{Events: []eventlog.DomainEvent{ev}, Pause: true}
}

func (h *Handler) handleToolCall(ctx context.Context, task ident.TaskID, actor ident.ActorID, out agent.Output, tc toolkit.Context, boundApprovedToolCallID ident.ToolCallID) Result {
	call := out.ToolCall
	risk := h.risk.RiskLevel(call.ToolName)

	if risk == toolkit.RiskRisky && boundApprovedToolCallID != call.ToolCallID {
		// canExecute runs before the risk gate, so a call that cannot run
		// gets its error result without a confirmation request.
		if reg, ok := h.risk.(interface {
			Lookup(string) (toolkit.Tool, bool)
		}); ok {
			if tool, found := reg.Lookup(call.ToolName); found {
				tc.ToolCallID = call.ToolCallID
				if err := tool.CanExecute(call.Arguments, tc); err != nil {
					_ = h.conv.PersistToolResultIfMissing(ctx, task, call.ToolCallID, call.ToolName, toolkit.FromError(err).Error(), true, nil)
					return Result{}
				}
			}
		}
		// Unbound (or bound-to-a-different-call) risky tool: request
		// confirmation, binding toolCallId into display.metadata so the
		// runtime can match the eventual response back to this exact call
		// (spec.md §6, SA-001: prevents a confused-deputy approval).
		display := eventlog.InteractionDisplay{
			Title:       fmt.Sprintf("Confirm: %s", call.ToolName),
			Body:        fmt.Sprintf("Allow %s to run with the given arguments?", call.ToolName),
			ContentKind: eventlog.ContentJSON,
			Metadata:    map[string]any{"toolCallId": string(call.ToolCallID)},
		}
		opts := []eventlog.InteractionOption{{ID: "approve", Label: "Approve"}, {ID: "reject", Label: "Reject"}}
		ev := eventlog.NewUserInteractionRequested(task, actor, ident.InteractionID(newID()), eventlog.InteractionConfirm, "confirm risky tool call", display, opts, nil)
		return Result{Events: []eventlog.DomainEvent{ev}, Pause: true}
	}

	tc.ToolCallID = call.ToolCallID
	if risk == toolkit.RiskRisky {
		tc.ConfirmedInteractionID = "" // consumed by the runtime before calling Handle again
	}

	result, err := h.executor.Execute(ctx, toolkit.Call{ToolCallID: call.ToolCallID, ToolName: call.ToolName, Arguments: call.Arguments}, tc)
	if err != nil {
		// Validation-class failure (unknown tool, bad args, rate limit):
		// synthesize an error tool result rather than failing the task,
		// matching spec.md §7's tool-failure taxonomy.
		result = toolkit.Result{IsError: true, Output: err.Error()}
	}

	_ = h.conv.PersistToolResultIfMissing(ctx, task, call.ToolCallID, call.ToolName, result.Output, result.IsError, nil)
	return Result{}
}

func newID() string {
	return uuid.NewString()
}

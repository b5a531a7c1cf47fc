// Package agentruntime implements the per-task Agent Runtime, spec.md §4.8:
// given a taskId and an Agent, drives one pass of the agent's lazy output
// sequence, delegates each output to the Output Handler, and manages
// cooperative pause/cancel. The Runtime Manager calls Execute, Resume and
// OnInstruction under the per-task lock it holds (spec.md I5); OnPause and
// OnCancel only set flags and are called without that lock.
package agentruntime

import (
	"context"
	"sync/atomic"

	"github.com/seedrun/seed/agent"
	"github.com/seedrun/seed/conversation"
	"github.com/seedrun/seed/convmgr"
	"github.com/seedrun/seed/eventlog"
	"github.com/seedrun/seed/ident"
	"github.com/seedrun/seed/llm"
	"github.com/seedrun/seed/outputhandler"
	"github.com/seedrun/seed/taskproj"
	"github.com/seedrun/seed/toolkit"
)

// Runtime drives one Agent for one task.
type Runtime struct {
	taskID  ident.TaskID
	actorID ident.ActorID
	ag      agent.Agent
	llm     llm.Client

	store eventlog.Store
	proj  *taskproj.Projector
	conv  *convmgr.Manager
	out   *outputhandler.Handler

	streamingEnabled func() bool
	toolsFor         func() []llm.ToolSpec

	paused    atomic.Bool
	canceled  atomic.Bool
	cancel    context.CancelFunc

	pendingWork atomic.Bool

	// rejectedToolCallID holds a toolCallId the user explicitly rejected
	// via a risky-tool Confirm interaction, consumed by the next execute()
	// to synthesize its rejected result instead of re-running it.
	rejectedToolCallID ident.ToolCallID
	// approvedToolCallID mirrors the same binding for an approved call.
	approvedToolCallID ident.ToolCallID

	hub UIHub
}

// UIHub receives live progress events as a Runtime executes: agent text as
// it's produced, tool-call start/end, streamed token deltas, and a
// turn-boundary marker. The event log has no dedicated tool-call event
// type (those live in the conversation store), so the api package's "ui"
// WebSocket channel is fed through this hook instead of by replaying
// stored events. Nil-safe: a Runtime with no hub attached just skips these.
type UIHub interface {
	Publish(taskID ident.TaskID, kind string, payload map[string]any)
}

// SetUIHub attaches a UIHub. Must be called before Execute; runtimemgr
// calls it once, right after New, when an api server is wired in.
func (r *Runtime) SetUIHub(hub UIHub) {
	r.hub = hub
}

func (r *Runtime) publishUI(kind string, payload map[string]any) {
	if r.hub == nil {
		return
	}
	r.hub.Publish(r.taskID, kind, payload)
}

// New constructs a Runtime for taskID driven by ag.
func New(taskID ident.TaskID, actorID ident.ActorID, ag agent.Agent, llmClient llm.Client, store eventlog.Store, proj *taskproj.Projector, conv *convmgr.Manager, out *outputhandler.Handler, toolsFor func() []llm.ToolSpec, streamingEnabled func() bool) *Runtime {
	return &Runtime{
		taskID: taskID, actorID: actorID, ag: ag, llm: llmClient,
		store: store, proj: proj, conv: conv, out: out,
		toolsFor: toolsFor, streamingEnabled: streamingEnabled,
	}
}

// HasPendingWork reports whether instructions arrived during the previous
// execute() that still need draining.
func (r *Runtime) HasPendingWork() bool {
	return r.pendingWork.Load()
}

// OnPause sets the cooperative pause flag. Lightweight — no lock required
// by the Runtime Manager's routing rules.
func (r *Runtime) OnPause() {
	r.paused.Store(true)
}

// OnCancel sets the cooperative cancel flag and signals any in-flight
// context, aborting tool calls that honor cancellation.
func (r *Runtime) OnCancel() {
	r.canceled.Store(true)
	if r.cancel != nil {
		r.cancel()
	}
}

// OnInstruction appends a user message to conversation history. If called
// while Execute is already running for this task, the caller (Runtime
// Manager) must still be holding the per-task lock per I5, so this never
// races with an in-progress execute; pendingWork only matters across
// separate lock acquisitions (e.g. instruction arriving mid-await on the
// LLM from inside the same execute, which is reported via MarkPendingWork
// by the driver itself).
func (r *Runtime) OnInstruction(ctx context.Context, text string) error {
	r.pendingWork.Store(false)
	return r.conv.AppendUser(ctx, r.taskID, text)
}

// MarkPendingWork flags that more instructions arrived mid-execute and the
// Runtime Manager should drain again after this pass completes.
func (r *Runtime) MarkPendingWork() {
	r.pendingWork.Store(true)
}

// Resume attaches a UIP response to the next execute() pass: if it
// approves a risky tool call, the bound toolCallId is allowed to execute
// without re-prompting; if it rejects one, repair synthesizes a rejected
// result for that exact call instead of re-running it.
func (r *Runtime) Resume(resp agent.InteractionResponse) {
	r.paused.Store(false)
	if resp.BoundToolCallID == "" {
		return // a plain (non-tool-confirm) interaction; nothing to bind
	}
	if resp.Rejected {
		r.rejectedToolCallID = resp.BoundToolCallID
	} else {
		r.approvedToolCallID = resp.BoundToolCallID
	}
}

// Execute appends TaskStarted if appropriate, reloads history, runs repair,
// drives the agent's output sequence, and returns the events it appended
// to the log (outputhandler never appends directly; Execute makes the
// single Append call per output itself, so ordering matches emission order
// exactly). When a pass ends on tool calls whose results are now in
// history, Execute runs the agent again until it stops on something else.
func (r *Runtime) Execute(ctx context.Context) ([]eventlog.DomainEvent, error) {
	task, ok := r.proj.Task(r.taskID)
	if !ok {
		return nil, nil
	}

	var preEvents []eventlog.DomainEvent
	if task.Status == taskproj.StatusOpen || task.Status == taskproj.StatusDone {
		preEvents = append(preEvents, eventlog.NewTaskStarted(r.taskID, r.actorID))
		if _, err := r.store.Append(ctx, r.taskID, []eventlog.DomainEvent{preEvents[0]}); err != nil {
			return nil, err
		}
	}

	history, err := r.conv.History(ctx, r.taskID)
	if err != nil {
		return preEvents, err
	}

	repairEvents, repairPaused, err := r.repairPendingToolCalls(ctx, history)
	preEvents = append(preEvents, repairEvents...)
	if err != nil {
		return preEvents, err
	}
	if repairPaused {
		// A sibling call from the same batch as one just resolved above
		// turned out to still need its own confirmation (spec.md §8
		// Scenario 4); the task is awaiting_user again, so this pass stops
		// here rather than invoking the agent with a history it hasn't
		// finished repairing.
		return preEvents, nil
	}
	history, err = r.conv.History(ctx, r.taskID)
	if err != nil {
		return preEvents, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	defer cancel()

	rc := agent.RunContext{
		Context: runCtx,
		TaskID:  r.taskID,
		ActorID: r.actorID,
		History: history,
		Tools:   r.toolsFor(),
		LLM:     r.llm,
		Canceled: r.canceled.Load,
	}
	if r.streamingEnabled() {
		rc.OnStreamChunk = func(chunk llm.StreamChunk) {
			r.publishUI("stream_delta", map[string]any{"kind": chunk.Kind, "text": chunk.Text})
		}
	}

	seq := r.ag.Run(rc)

	tc := toolkit.Context{Context: ctx, TaskID: r.taskID, ActorID: r.actorID}
	approved := r.approvedToolCallID
	r.approvedToolCallID = ""

	var turnParts []conversation.Part
	flushTurn := func() error {
		if len(turnParts) == 0 {
			return nil
		}
		parts := turnParts
		turnParts = nil
		return r.conv.AppendAssistant(ctx, r.taskID, parts...)
	}

	var events []eventlog.DomainEvent
	// pendingCalls buffers every KindToolCall output the agent yields back
	// to back within one turn: a single model response can request several
	// tool calls at once, and all of their ToolUseParts must land in the
	// same assistant message before any one of them is dispatched. Flushing
	// per-call instead (as if each were its own turn) would split a
	// multi-call batch across several assistant messages; GetPendingToolCalls
	// only looks at the last one, so a sibling call that paused behind an
	// earlier risky call would fall out of view the moment the next
	// message landed, and its own rejection/approval would have nothing
	// left to repair (spec.md §8 Scenario 4).
	var pendingCalls []agent.Output

	// dispatchPendingCalls flushes the buffered ToolUseParts as one
	// assistant message, then runs each buffered call through the Output
	// Handler in order, stopping at the first one that pauses or
	// terminates the task. Returns true if the outer loop should stop.
	dispatchPendingCalls := func() (bool, error) {
		calls := pendingCalls
		pendingCalls = nil
		if len(calls) == 0 {
			return false, nil
		}
		if err := flushTurn(); err != nil {
			return false, err
		}
		for _, out := range calls {
			r.publishUI("tool_call_start", map[string]any{
				"toolCallId": string(out.ToolCall.ToolCallID),
				"toolName":   out.ToolCall.ToolName,
			})
			res := r.out.Handle(ctx, r.taskID, r.actorID, out, tc, approved)
			events = append(events, res.Events...)
			if len(res.Events) > 0 {
				if _, err := r.store.Append(ctx, r.taskID, res.Events); err != nil {
					return false, err
				}
			}
			r.publishUI("tool_call_end", map[string]any{"toolCallId": string(out.ToolCall.ToolCallID)})
			if res.Pause || res.Terminal {
				return true, nil
			}
		}
		return false, nil
	}

	for {
		if r.canceled.Load() {
			// TaskCanceled is already durable by the time onCancel sets this
			// flag (a cancelTask command appends it before routing here); the
			// runtime only needs to stop driving the agent and let its
			// in-flight tool calls observe ctx's cancellation.
			break
		}
		if r.paused.Load() {
			break
		}

		out, ok := seq.Next()
		if !ok {
			break
		}

		if out.Kind == agent.KindToolCall {
			turnParts = append(turnParts, conversation.ToolUsePart{
				ToolCallID: out.ToolCall.ToolCallID,
				ToolName:   out.ToolCall.ToolName,
				Input:      out.ToolCall.Arguments,
			})
			pendingCalls = append(pendingCalls, out)
			continue
		}

		// Any non-tool-call output ends whatever tool-call batch preceded
		// it (there shouldn't normally be one for toolloop, but this keeps
		// the loop correct for an agent that interleaves text and calls).
		if stop, err := dispatchPendingCalls(); err != nil {
			return append(preEvents, events...), err
		} else if stop {
			break
		}

		if out.Kind == agent.KindText || out.Kind == agent.KindReasoning {
			turnParts = append(turnParts, conversation.TextPart{Text: out.Text})
			r.publishUI("agent_output", map[string]any{"kind": string(out.Kind), "text": out.Text})
		}

		res := r.out.Handle(ctx, r.taskID, r.actorID, out, tc, approved)
		events = append(events, res.Events...)
		if len(res.Events) > 0 {
			if _, err := r.store.Append(ctx, r.taskID, res.Events); err != nil {
				return append(preEvents, events...), err
			}
		}
		if res.Pause || res.Terminal {
			break
		}
	}

	dispatched := len(pendingCalls) > 0
	stop, err := dispatchPendingCalls()
	if err != nil {
		return append(preEvents, events...), err
	}

	if err := flushTurn(); err != nil {
		return append(preEvents, events...), err
	}
	r.publishUI("stream_end", nil)

	if dispatched && !stop && !r.canceled.Load() && !r.paused.Load() {
		// The pass ended on tool calls whose results are now in history;
		// run the agent again so it sees them.
		more, err := r.Execute(ctx)
		return append(append(preEvents, events...), more...), err
	}
	return append(preEvents, events...), nil
}

// repairPendingToolCalls resolves every tool call left pending in the last
// assistant message. The first two cases are a direct decision bound by
// Resume (reject/approve). Anything left over is a sibling call from the
// same batch that hasn't been decided yet — e.g. call_2 sitting alongside a
// call_1 that just got rejected above (spec.md §8 Scenario 4) — and is
// routed back through the Output Handler so a still-risky sibling gets its
// own fresh Confirm interaction instead of being silently dropped. Only one
// new interaction can be open at a time (P5), so repair stops as soon as
// one is raised; paused reports that to the caller.
func (r *Runtime) repairPendingToolCalls(ctx context.Context, history []conversation.Message) (events []eventlog.DomainEvent, paused bool, err error) {
	pending := convmgr.GetPendingToolCalls(history)
	tc := toolkit.Context{Context: ctx, TaskID: r.taskID, ActorID: r.actorID}
	for _, p := range pending {
		switch {
		case p.ToolCallID == r.rejectedToolCallID && r.rejectedToolCallID != "":
			if err := r.conv.RepairRejected(ctx, r.taskID, p.ToolCallID); err != nil {
				return events, false, err
			}
			r.rejectedToolCallID = ""

		case p.ToolCallID == r.approvedToolCallID && r.approvedToolCallID != "":
			// A risky call the previous pass paused on has just been
			// approved via UIP; dispatch it now instead of waiting for the
			// agent to re-request it, since the agent already decided to
			// make this exact call and won't see it again in its history.
			out := agent.Output{Kind: agent.KindToolCall, ToolCall: &toolkit.Call{
				ToolCallID: p.ToolCallID, ToolName: p.ToolName, Arguments: p.Input,
			}}
			res := r.out.Handle(ctx, r.taskID, r.actorID, out, tc, r.approvedToolCallID)
			r.approvedToolCallID = ""
			events = append(events, res.Events...)
			if len(res.Events) > 0 {
				if _, err := r.store.Append(ctx, r.taskID, res.Events); err != nil {
					return events, false, err
				}
			}

		default:
			out := agent.Output{Kind: agent.KindToolCall, ToolCall: &toolkit.Call{
				ToolCallID: p.ToolCallID, ToolName: p.ToolName, Arguments: p.Input,
			}}
			res := r.out.Handle(ctx, r.taskID, r.actorID, out, tc, "")
			events = append(events, res.Events...)
			if len(res.Events) > 0 {
				if _, err := r.store.Append(ctx, r.taskID, res.Events); err != nil {
					return events, false, err
				}
			}
			if res.Pause {
				return events, true, nil
			}
		}
	}
	return events, false, nil
}

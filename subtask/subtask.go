// Package subtask implements the Subtask Tool, spec.md §4.12: a pseudo-tool
// that spawns a child task for a given agent, blocks until that child
// reaches a terminal state, and cascades cancel onto it if the parent's
// tool call is itself canceled.
package subtask

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/seedrun/seed/conversation"
	"github.com/seedrun/seed/convmgr"
	"github.com/seedrun/seed/eventlog"
	"github.com/seedrun/seed/ident"
	"github.com/seedrun/seed/taskproj"
	"github.com/seedrun/seed/toolkit"
)

// Status is the closed set of subtask outcomes reported back to the parent
// agent.
type Status string

const (
	Success Status = "Success"
	Error   Status = "Error"
	Cancel  Status = "Cancel"
)

// Result is the JSON shape marshaled into toolkit.Result.Output: the only
// way a structured outcome travels back through a tool result, which is
// plain text by contract.
type Result struct {
	SubTaskStatus         Status `json:"subTaskStatus"`
	Summary               string `json:"summary,omitempty"`
	FailureReason         string `json:"failureReason,omitempty"`
	FinalAssistantMessage string `json:"finalAssistantMessage,omitempty"`
}

// Tool is a create_subtask_<agentId> pseudo-tool bound to one target agent.
// One Tool instance is registered per agent the embedder allows tasks to
// spawn as subtasks.
type Tool struct {
	targetAgentID ident.AgentID
	store         eventlog.Store
	proj          *taskproj.Projector
	conv          *convmgr.Manager
	maxDepth      int
}

// New constructs the subtask tool that spawns children running targetAgentID,
// rejecting creation past maxDepth levels of nesting.
func New(targetAgentID ident.AgentID, store eventlog.Store, proj *taskproj.Projector, conv *convmgr.Manager, maxDepth int) *Tool {
	return &Tool{targetAgentID: targetAgentID, store: store, proj: proj, conv: conv, maxDepth: maxDepth}
}

func (t *Tool) Name() string { return "create_subtask_" + string(t.targetAgentID) }

func (t *Tool) Description() string {
	return fmt.Sprintf("Spawns a child task run by agent %q and waits for it to finish, returning its outcome.", t.targetAgentID)
}

func (t *Tool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title":  map[string]any{"type": "string"},
			"intent": map[string]any{"type": "string"},
		},
		"required": []string{"title", "intent"},
	}
}

func (t *Tool) RiskLevel() toolkit.RiskLevel { return toolkit.RiskSafe }
func (t *Tool) Group() string                { return "subtask" }

// CanExecute rejects creation that would exceed maxDepth before any event
// is appended, so a doomed call never spawns a child it would immediately
// have to tear down.
func (t *Tool) CanExecute(args map[string]any, tc toolkit.Context) error {
	depth := t.depthOf(tc.TaskID)
	if depth+1 > t.maxDepth {
		return toolkit.NewToolError(fmt.Sprintf("subtask nesting depth %d exceeds maxSubtaskDepth %d", depth+1, t.maxDepth))
	}
	return nil
}

// depthOf counts parentTaskId hops from task up to its root.
func (t *Tool) depthOf(task ident.TaskID) int {
	depth := 0
	seen := make(map[ident.TaskID]bool)
	for {
		cur, ok := t.proj.Task(task)
		if !ok || cur.ParentTaskID == "" || seen[task] {
			return depth
		}
		seen[task] = true
		depth++
		task = cur.ParentTaskID
	}
}

// Execute spawns the child task, subscribing to the event log before the
// child exists so the terminal event can never be published and missed
// between creation and subscription (spec.md §4.12's "subscribe before
// create" race elimination).
func (t *Tool) Execute(args map[string]any, tc toolkit.Context) (toolkit.Result, error) {
	if err := t.CanExecute(args, tc); err != nil {
		return toolkit.Result{}, err
	}

	title, _ := args["title"].(string)
	intent, _ := args["intent"].(string)

	childID := ident.TaskID(uuid.NewString())

	terminal := make(chan eventlog.StoredEvent, 1)
	unsub := t.store.Subscribe(func(se eventlog.StoredEvent) {
		if se.StreamID != childID {
			return
		}
		switch se.Payload.(type) {
		case eventlog.TaskCompletedPayload, eventlog.TaskFailedPayload, eventlog.TaskCanceledPayload:
			select {
			case terminal <- se:
			default:
			}
		}
	})
	defer unsub()

	ev := eventlog.NewTaskCreated(childID, tc.ActorID, title, intent, eventlog.PriorityNormal, t.targetAgentID, tc.TaskID)
	if _, err := t.store.Append(tc.Context, childID, []eventlog.DomainEvent{ev}); err != nil {
		return toolkit.Result{}, err
	}

	select {
	case se := <-terminal:
		return t.resultFor(childID, se), nil

	case <-tc.Context.Done():
		// Best-effort cascade cancel: append TaskCanceled for the child and
		// return a Cancel result without waiting further, since the parent
		// call itself is being torn down.
		_, _ = t.store.Append(context.Background(), childID, []eventlog.DomainEvent{
			eventlog.NewTaskCanceled(childID, tc.ActorID, "parent task canceled"),
		})
		out, _ := json.Marshal(Result{SubTaskStatus: Cancel})
		return toolkit.Result{Output: string(out)}, nil
	}
}

func (t *Tool) resultFor(childID ident.TaskID, se eventlog.StoredEvent) toolkit.Result {
	res := Result{}
	switch p := se.Payload.(type) {
	case eventlog.TaskCompletedPayload:
		res.SubTaskStatus = Success
		res.Summary = p.Summary
	case eventlog.TaskFailedPayload:
		res.SubTaskStatus = Error
		res.FailureReason = p.FailureReason
	case eventlog.TaskCanceledPayload:
		res.SubTaskStatus = Cancel
	}

	if history, err := t.conv.History(context.Background(), childID); err == nil {
		res.FinalAssistantMessage = lastAssistantText(history)
	}

	out, err := json.Marshal(res)
	if err != nil {
		return toolkit.Result{IsError: true, Output: err.Error()}
	}
	return toolkit.Result{Output: string(out), IsError: res.SubTaskStatus != Success}
}

// lastAssistantText concatenates the text parts of the last assistant
// message in history, or "" if there is none.
func lastAssistantText(history []conversation.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		msg := history[i]
		if msg.Role != conversation.RoleAssistant {
			continue
		}
		text := ""
		for _, part := range msg.Parts {
			if tp, ok := part.(conversation.TextPart); ok {
				text += tp.Text
			}
		}
		return text
	}
	return ""
}

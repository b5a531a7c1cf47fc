// Package toolloop implements a generic ReAct-style Agent strategy: call the
// model, yield any tool calls it requests, wait (via the runtime) for their
// results to land in history, and call the model again — until it produces
// a final answer with no further tool calls, or a turn cap is hit.
package toolloop

import (
	"context"
	"fmt"

	"github.com/seedrun/seed/agent"
	"github.com/seedrun/seed/conversation"
	"github.com/seedrun/seed/ident"
	"github.com/seedrun/seed/llm"
	"github.com/seedrun/seed/toolkit"
)

const defaultMaxTurns = 25

// Agent is a tool-using ReAct loop over an arbitrary tool set; the caller
// wires the actual tool list in via RunContext.Tools, the way every agent
// receives its allowed tools.
type Agent struct {
	AgentID     ident.AgentID
	Name        string
	Desc        string
	System      string
	Groups      []string
	Profile     string
	MaxTurns    int
}

// New constructs a toolloop Agent identified by id, exposing the named tool
// groups, with system as its system prompt.
func New(id ident.AgentID, name, desc, system string, groups []string) *Agent {
	return &Agent{AgentID: id, Name: name, Desc: desc, System: system, Groups: groups, Profile: "default", MaxTurns: defaultMaxTurns}
}

func (a *Agent) ID() ident.AgentID      { return a.AgentID }
func (a *Agent) DisplayName() string    { return a.Name }
func (a *Agent) Description() string    { return a.Desc }
func (a *Agent) ToolGroups() []string   { return a.Groups }
func (a *Agent) DefaultProfile() string { return a.Profile }

// Run implements agent.Agent. Each pass through the loop makes exactly one
// model call; if that call requests tool calls, Run yields them all and
// returns without a done/failed output — the Agent Runtime executes them,
// persists results, and calls Run again with the updated history (a fresh
// RunContext, not a resumed generator state; toolloop is stateless across
// calls by design, matching spec.md §4.11's "agent is risk-unaware, yields
// uniformly" model).
func (a *Agent) Run(rc agent.RunContext) agent.Sequence {
	maxTurns := a.MaxTurns
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}

	return agent.RunDriver(rc.Context, func(ctx context.Context, emit func(agent.Output)) {
		if rc.Canceled != nil && rc.Canceled() {
			return
		}

		turn := countAssistantTurns(rc.History)
		if turn >= maxTurns {
			emit(agent.Output{Kind: agent.KindFailed, FailureReason: fmt.Sprintf("exceeded max turns (%d)", maxTurns)})
			return
		}

		req := llm.Request{System: a.System, Messages: rc.History, Tools: rc.Tools}

		var resp llm.Response
		var err error
		if rc.OnStreamChunk != nil {
			resp, err = rc.LLM.Stream(ctx, req, rc.OnStreamChunk)
		} else {
			resp, err = rc.LLM.Complete(ctx, req)
		}
		if err != nil {
			emit(agent.Output{Kind: agent.KindFailed, FailureReason: err.Error()})
			return
		}

		if resp.Reasoning != "" {
			emit(agent.Output{Kind: agent.KindReasoning, Text: resp.Reasoning})
		}
		if resp.Content != "" {
			emit(agent.Output{Kind: agent.KindText, Text: resp.Content})
		}

		if len(resp.ToolCalls) == 0 || resp.StopReason != llm.StopToolUse {
			emit(agent.Output{Kind: agent.KindDone, Summary: resp.Content})
			return
		}

		for _, tc := range resp.ToolCalls {
			if rc.Canceled != nil && rc.Canceled() {
				return
			}
			call := toolkit.Call{ToolCallID: tc.ToolCallID, ToolName: tc.ToolName, Arguments: tc.Input}
			emit(agent.Output{Kind: agent.KindToolCall, ToolCall: &call})
		}
	})
}

func countAssistantTurns(history []conversation.Message) int {
	n := 0
	for _, m := range history {
		if m.Role == conversation.RoleAssistant {
			n++
		}
	}
	return n
}

// Package chat implements the simplest Agent strategy: one completion call,
// no tool use, yielding the model's text and then done. It is the agent
// used by the happy-path and pause-mid-execution scenarios.
package chat

import (
	"context"

	"github.com/seedrun/seed/agent"
	"github.com/seedrun/seed/ident"
	"github.com/seedrun/seed/llm"
)

const ID ident.AgentID = "agent_seed_chat"

// Agent is a single-turn, tool-free chat strategy.
type Agent struct {
	System string
}

// New constructs a chat Agent with the given system prompt.
func New(system string) *Agent {
	return &Agent{System: system}
}

func (a *Agent) ID() ident.AgentID        { return ID }
func (a *Agent) DisplayName() string      { return "Chat" }
func (a *Agent) Description() string      { return "Single-turn conversational agent with no tool access." }
func (a *Agent) ToolGroups() []string     { return nil }
func (a *Agent) DefaultProfile() string   { return "default" }

// Run implements agent.Agent.
func (a *Agent) Run(rc agent.RunContext) agent.Sequence {
	return agent.RunDriver(rc.Context, func(ctx context.Context, emit func(agent.Output)) {
		req := llm.Request{System: a.System, Messages: rc.History}

		var resp llm.Response
		var err error
		if rc.OnStreamChunk != nil {
			resp, err = rc.LLM.Stream(ctx, req, func(chunk llm.StreamChunk) {
				switch chunk.Kind {
				case "text":
					rc.OnStreamChunk(chunk)
				case "reasoning":
					rc.OnStreamChunk(chunk)
				}
			})
		} else {
			resp, err = rc.LLM.Complete(ctx, req)
		}
		if err != nil {
			emit(agent.Output{Kind: agent.KindFailed, FailureReason: err.Error()})
			return
		}

		if resp.Content != "" {
			emit(agent.Output{Kind: agent.KindText, Text: resp.Content})
		}
		if resp.Reasoning != "" {
			emit(agent.Output{Kind: agent.KindReasoning, Text: resp.Reasoning})
		}

		switch resp.StopReason {
		case llm.StopError:
			emit(agent.Output{Kind: agent.KindFailed, FailureReason: "model returned an error stop reason"})
		default:
			emit(agent.Output{Kind: agent.KindDone, Summary: resp.Content})
		}
	})
}

package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/redis/go-redis/v9"

	"github.com/seedrun/seed/agent"
	"github.com/seedrun/seed/agent/chat"
	"github.com/seedrun/seed/agent/toolloop"
	"github.com/seedrun/seed/audit"
	"github.com/seedrun/seed/config"
	"github.com/seedrun/seed/conversation"
	"github.com/seedrun/seed/convmgr"
	"github.com/seedrun/seed/eventlog"
	"github.com/seedrun/seed/eventlog/jsonl"
	"github.com/seedrun/seed/eventlog/memstore"
	"github.com/seedrun/seed/eventlog/redisfanout"
	"github.com/seedrun/seed/eventlog/sqlitestore"
	"github.com/seedrun/seed/ident"
	"github.com/seedrun/seed/llm"
	"github.com/seedrun/seed/llm/anthropic"
	"github.com/seedrun/seed/llm/bedrock"
	"github.com/seedrun/seed/llm/fake"
	"github.com/seedrun/seed/llm/openai"
	"github.com/seedrun/seed/outputhandler"
	"github.com/seedrun/seed/runtimemgr"
	"github.com/seedrun/seed/subtask"
	"github.com/seedrun/seed/taskproj"
	"github.com/seedrun/seed/telemetry"
	"github.com/seedrun/seed/toolkit"
	"github.com/seedrun/seed/uip"
)

// components is everything buildComponents wires together on top of the
// store from buildStore, so serveCmd can use the pieces it needs without
// repeating the construction sequence (replayCmd uses only buildStore) —
// mirrors goa-ai's cmd/demo "wire everything, pass pieces to the thing that
// runs" main() shape.
type components struct {
	store     eventlog.Store
	proj      *taskproj.Projector
	conv      *convmgr.Manager
	auditLog  audit.Log
	registry  *toolkit.Registry
	exec      *toolkit.Executor
	out       *outputhandler.Handler
	runtime   *runtimemgr.Manager
	knownFunc func(agentID string) bool
}

// buildStore selects the eventlog.Store backend named by cfg.Storage.Driver
// and, if cfg.Storage.FanoutRedisAddr is set, wraps it for cross-process
// fan-out via redisfanout.
func buildStore(cfg *config.Config) (eventlog.Store, error) {
	var store eventlog.Store
	switch cfg.Storage.Driver {
	case "memory":
		store = memstore.New()
	case "jsonl":
		s, err := jsonl.Open(cfg.Storage.Path)
		if err != nil {
			return nil, fmt.Errorf("open jsonl store: %w", err)
		}
		store = s
	case "sqlite":
		s, err := sqlitestore.Open(cfg.Storage.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		store = s
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}

	if cfg.Storage.FanoutRedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Storage.FanoutRedisAddr})
		channel := cfg.Storage.FanoutRedisChannel
		if channel == "" {
			channel = "seed-events"
		}
		store = redisfanout.Wrap(store, rdb, channel, slog.Default())
	}
	return store, nil
}

// buildLLMClient selects the llm.Client adapter named by cfg.LLM.Provider.
func buildLLMClient(cfg *config.Config) (llm.Client, error) {
	switch cfg.LLM.Provider {
	case "fake":
		return fake.New(llm.Response{Content: "seedd is running without a configured model provider.", StopReason: llm.StopEndTurn}), nil
	case "anthropic":
		return anthropic.NewFromAPIKey(cfg.LLM.APIKey, anthropic.Options{Model: cfg.LLM.Model, MaxTokens: 4096})
	case "openai":
		return openai.NewFromAPIKey(cfg.LLM.APIKey, openai.Options{Model: cfg.LLM.Model, MaxTokens: 4096})
	case "bedrock":
		awsCfg, err := loadBedrockConfig(cfg.LLM.Region)
		if err != nil {
			return nil, fmt.Errorf("load bedrock aws config: %w", err)
		}
		return bedrock.NewFromConfig(awsCfg, bedrock.Options{Model: cfg.LLM.Model})
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}
}

func loadBedrockConfig(region string) (aws.Config, error) {
	return awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(region))
}

func uipService(store eventlog.Store, proj *taskproj.Projector) *uip.Service {
	return uip.New(store, proj)
}

// agentCatalog is the fixed set of agents seedd registers. The kernel's
// Non-goals leave agent authoring out of scope, so seedd ships the built-in
// chat agent plus a general-purpose toolloop agent with every registered
// tool group, rather than a pluggable agent-loading mechanism.
func agentCatalog(groups []string) map[ident.AgentID]agent.Agent {
	return map[ident.AgentID]agent.Agent{
		chat.ID: chat.New("You are Seed, a helpful orchestration assistant."),
		"agent_seed_toolloop": toolloop.New(
			"agent_seed_toolloop",
			"Seed Tool Agent",
			"General-purpose agent with access to every registered tool group.",
			"You are Seed, a careful agent that uses tools to accomplish tasks.",
			groups,
		),
	}
}

// buildComponents wires every kernel package together, following the same
// construction order runtimemgr_test.go and api_test.go already use:
// store → projector → conversation manager → tool registry/executor/output
// handler → runtime manager. The UIP service is built separately by
// serveCmd via uipService.
func buildComponents(cfg *config.Config, store eventlog.Store, proj *taskproj.Projector, tel telemetry.Bundle) (*components, error) {
	conv := convmgr.New(conversation.NewMemStore())
	reg := toolkit.NewRegistry()
	auditLog := audit.NewMemLog()

	for _, target := range []ident.AgentID{chat.ID, "agent_seed_toolloop"} {
		if err := reg.Register(subtask.New(target, store, proj, conv, cfg.Runtime.MaxSubtaskDepth)); err != nil {
			return nil, fmt.Errorf("register subtask tool for %s: %w", target, err)
		}
	}

	exec := toolkit.NewExecutor(reg, auditLog)
	out := outputhandler.New(reg, exec, conv)

	llmClient, err := buildLLMClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("build llm client: %w", err)
	}

	groups := make([]string, 0, len(reg.All()))
	for _, t := range reg.All() {
		groups = append(groups, t.Group())
	}
	catalog := agentCatalog(groups)
	factory := func(id ident.AgentID) (agent.Agent, bool) {
		a, ok := catalog[id]
		return a, ok
	}

	mgr := runtimemgr.New(store, proj, conv, out, reg, llmClient, factory, tel)
	mgr.SetStreaming(cfg.Runtime.StreamingDefault)

	known := func(id string) bool {
		_, ok := catalog[ident.AgentID(id)]
		return ok
	}

	return &components{
		store:     store,
		proj:      proj,
		conv:      conv,
		auditLog:  auditLog,
		registry:  reg,
		exec:      exec,
		out:       out,
		runtime:   mgr,
		knownFunc: known,
	}, nil
}

// Package runtimemgr implements the Runtime Manager, spec.md §4.9: the
// single subscriber to the event log's publish stream, demultiplexing
// every stored event to the per-task Agent Runtime it belongs to under a
// per-task mutex, and owning each runtime's lifecycle from TaskCreated to
// its terminal event.
package runtimemgr

import (
	"context"
	"sync"

	"github.com/seedrun/seed/agent"
	"github.com/seedrun/seed/agentruntime"
	"github.com/seedrun/seed/convmgr"
	"github.com/seedrun/seed/eventlog"
	"github.com/seedrun/seed/ident"
	"github.com/seedrun/seed/llm"
	"github.com/seedrun/seed/outputhandler"
	"github.com/seedrun/seed/taskproj"
	"github.com/seedrun/seed/telemetry"
	"github.com/seedrun/seed/toolkit"
)

// AgentFactory constructs a fresh agent.Agent for one task, given the
// agentId bound at task creation. Implementations typically look up a
// registered prototype and return it directly (agents are stateless across
// Run calls by design); the factory indirection exists so unknown agentIds
// can be rejected without the Manager knowing about a concrete registry.
type AgentFactory func(id ident.AgentID) (agent.Agent, bool)

// Manager is the Runtime Manager.
type Manager struct {
	store    eventlog.Store
	proj     *taskproj.Projector
	conv     *convmgr.Manager
	out      *outputhandler.Handler
	registry *toolkit.Registry
	llm      llm.Client
	agents   AgentFactory
	tel      telemetry.Bundle

	mapMu    sync.Mutex
	runtimes map[ident.TaskID]*agentruntime.Runtime
	locks    map[ident.TaskID]*sync.Mutex

	// interactionToolCallIDs remembers, for every UserInteractionRequested
	// this manager has observed, the toolCallId bound into its
	// display.metadata (if any), keyed by interactionId. Consulted when a
	// matching UserInteractionResponded arrives so the runtime can bind
	// approval/rejection to that exact call (SA-001).
	bindMu               sync.Mutex
	interactionToolCallIDs map[ident.InteractionID]ident.ToolCallID

	profileMu   sync.Mutex
	profiles    map[ident.TaskID]string
	wildcard    string
	streamingMu sync.Mutex
	streaming   bool

	wg sync.WaitGroup

	unsub func()

	hubMu sync.Mutex
	hub   agentruntime.UIHub
}

// New constructs a Manager and subscribes it to store. Callers should call
// Close to unsubscribe.
func New(store eventlog.Store, proj *taskproj.Projector, conv *convmgr.Manager, out *outputhandler.Handler, registry *toolkit.Registry, llmClient llm.Client, agents AgentFactory, tel telemetry.Bundle) *Manager {
	m := &Manager{
		store: store, proj: proj, conv: conv, out: out, registry: registry,
		llm: llmClient, agents: agents, tel: tel,
		runtimes:               make(map[ident.TaskID]*agentruntime.Runtime),
		locks:                  make(map[ident.TaskID]*sync.Mutex),
		interactionToolCallIDs: make(map[ident.InteractionID]ident.ToolCallID),
		profiles:               make(map[ident.TaskID]string),
	}
	m.unsub = store.Subscribe(m.handle)
	return m
}

// Close unsubscribes from the store. In-flight handlers are allowed to
// finish; call WaitForIdle first if a clean stop is required.
func (m *Manager) Close() {
	m.unsub()
}

// SetStreaming toggles the global streaming flag, applied to runtimes at
// their next execute() (spec.md §4.9's "applied at lookup time").
func (m *Manager) SetStreaming(on bool) {
	m.streamingMu.Lock()
	m.streaming = on
	m.streamingMu.Unlock()
}

// SetProfile overrides the profile for taskID, or every task if taskID is
// the wildcard "*".
func (m *Manager) SetProfile(taskID ident.TaskID, profile string) {
	m.profileMu.Lock()
	defer m.profileMu.Unlock()
	if taskID == "*" {
		m.wildcard = profile
		return
	}
	m.profiles[taskID] = profile
}

func (m *Manager) profileFor(taskID ident.TaskID) string {
	m.profileMu.Lock()
	defer m.profileMu.Unlock()
	if p, ok := m.profiles[taskID]; ok {
		return p
	}
	return m.wildcard
}

func (m *Manager) streamingEnabled() bool {
	m.streamingMu.Lock()
	defer m.streamingMu.Unlock()
	return m.streaming
}

// Streaming reports the current global streaming flag, for the api
// package's runtime-info query endpoint.
func (m *Manager) Streaming() bool {
	return m.streamingEnabled()
}

// SetUIHub attaches the api package's live-progress hub so every Runtime
// this Manager creates from now on forwards agent_output/tool_call/stream
// events to it. Runtimes already created before this call are not
// retrofitted; callers wire the hub before the server starts accepting
// command requests.
func (m *Manager) SetUIHub(hub agentruntime.UIHub) {
	m.hubMu.Lock()
	m.hub = hub
	m.hubMu.Unlock()
}

func (m *Manager) uiHub() agentruntime.UIHub {
	m.hubMu.Lock()
	defer m.hubMu.Unlock()
	return m.hub
}

// WaitForIdle blocks until every in-flight handler this Manager dispatched
// has returned. Testability hook per spec.md §4.9.
func (m *Manager) WaitForIdle() {
	m.wg.Wait()
}

// handle is the single store.Subscribe callback. It runs synchronously on
// the appending goroutine's call stack (the event log's publish fires
// in-process, after durability); routes that themselves append further
// events therefore recurse into this same function before the original
// Append call returns. Every route below is written to tolerate that: the
// lightweight routes (pause/cancel/terminal) only ever touch mapMu, never
// a per-task lock, so they can never deadlock against an outer
// executeAndDrain that already holds one.
func (m *Manager) handle(se eventlog.StoredEvent) {
	taskID := se.StreamID

	if p, ok := se.Payload.(eventlog.UserInteractionRequestedPayload); ok {
		if raw, has := p.Display.Metadata["toolCallId"]; has {
			if s, ok := raw.(string); ok {
				m.bindMu.Lock()
				m.interactionToolCallIDs[p.InteractionID] = ident.ToolCallID(s)
				m.bindMu.Unlock()
			}
		}
	}

	switch p := se.Payload.(type) {
	case eventlog.TaskCreatedPayload:
		m.onTaskCreated(taskID, p)

	case eventlog.UserInteractionRespondedPayload:
		m.onInteractionResponded(taskID, p)

	case eventlog.TaskResumedPayload:
		m.withRuntime(taskID, func(rt *agentruntime.Runtime) {
			m.executeAndDrainLocked(taskID, rt)
		})

	case eventlog.TaskInstructionAddedPayload:
		m.withRuntime(taskID, func(rt *agentruntime.Runtime) {
			if err := rt.OnInstruction(context.Background(), p.Instruction); err != nil {
				m.tel.Log.Error(context.Background(), "runtimemgr: onInstruction failed", "task", taskID, "err", err)
				return
			}
			m.executeAndDrainLocked(taskID, rt)
		})

	case eventlog.TaskPausedPayload:
		m.lookupRuntime(taskID, func(rt *agentruntime.Runtime) { rt.OnPause() })

	case eventlog.TaskCanceledPayload:
		m.lookupRuntime(taskID, func(rt *agentruntime.Runtime) { rt.OnCancel() })
		m.deleteRuntime(taskID)

	case eventlog.TaskCompletedPayload, eventlog.TaskFailedPayload:
		m.deleteRuntime(taskID)

	default:
		_ = p
	}
}

func (m *Manager) onTaskCreated(taskID ident.TaskID, p eventlog.TaskCreatedPayload) {
	ag, ok := m.agents(p.AgentID)
	if !ok {
		m.tel.Log.Warn(context.Background(), "runtimemgr: ignoring TaskCreated for unregistered agent", "task", taskID, "agent", p.AgentID)
		return
	}

	toolsFor := func() []llm.ToolSpec { return m.toolSpecsFor(ag.ToolGroups()) }
	rt := agentruntime.New(taskID, p.Author(), ag, m.llm, m.store, m.proj, m.conv, m.out, toolsFor, m.streamingEnabled)
	if hub := m.uiHub(); hub != nil {
		rt.SetUIHub(hub)
	}

	m.mapMu.Lock()
	m.runtimes[taskID] = rt
	lock, ok := m.locks[taskID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[taskID] = lock
	}
	m.mapMu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		lock.Lock()
		defer lock.Unlock()
		m.executeAndDrainLocked(taskID, rt)
	}()
}

func (m *Manager) onInteractionResponded(taskID ident.TaskID, p eventlog.UserInteractionRespondedPayload) {
	task, ok := m.proj.Task(taskID)
	if !ok || task.PendingInteractionID == "" || task.PendingInteractionID != p.InteractionID {
		// Stale: the response's interactionId no longer matches the
		// task's pending one (uip.RespondToInteraction already rejects
		// this before append; this is the defense-in-depth re-check
		// spec.md §4.9 calls for against a race between concurrent
		// responses).
		m.tel.Log.Warn(context.Background(), "runtimemgr: dropping stale interaction response", "task", taskID, "interaction", p.InteractionID)
		return
	}

	m.bindMu.Lock()
	bound := m.interactionToolCallIDs[p.InteractionID]
	delete(m.interactionToolCallIDs, p.InteractionID)
	m.bindMu.Unlock()

	resp := agent.InteractionResponse{
		InteractionID:    p.InteractionID,
		SelectedOptionID: p.SelectedOptionID,
		FreeformValue:    p.FreeformValue,
		Rejected:         p.Rejected,
		BoundToolCallID:  bound,
	}

	m.withRuntime(taskID, func(rt *agentruntime.Runtime) {
		rt.Resume(resp)
		m.executeAndDrainLocked(taskID, rt)
	})
}

// withRuntime acquires taskID's per-task lock on a fresh goroutine (the
// caller may already be holding a different task's lock, or may itself be
// running synchronously inside a Store.Append call, so dispatching avoids
// blocking the publish fan-out), then runs fn with the runtime if one is
// registered. wg is held for the goroutine's full lifetime so WaitForIdle
// reflects it from the moment this function returns.
func (m *Manager) withRuntime(taskID ident.TaskID, fn func(*agentruntime.Runtime)) {
	m.mapMu.Lock()
	rt, ok := m.runtimes[taskID]
	lock := m.locks[taskID]
	m.mapMu.Unlock()
	if !ok || lock == nil {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		lock.Lock()
		defer lock.Unlock()
		fn(rt)
	}()
}

// lookupRuntime runs fn with the runtime without acquiring the per-task
// lock, for the lightweight cooperative-signal routes spec.md §4.9 calls
// out explicitly ("no lock").
func (m *Manager) lookupRuntime(taskID ident.TaskID, fn func(*agentruntime.Runtime)) {
	m.mapMu.Lock()
	rt, ok := m.runtimes[taskID]
	m.mapMu.Unlock()
	if ok {
		fn(rt)
	}
}

func (m *Manager) deleteRuntime(taskID ident.TaskID) {
	m.mapMu.Lock()
	delete(m.runtimes, taskID)
	delete(m.locks, taskID)
	m.mapMu.Unlock()
}

// executeAndDrainLocked runs one execute() pass and keeps re-executing
// while the runtime reports pending work and the task hasn't reached a
// status where further draining would be wrong (spec.md §4.9's draining
// rule). Callers must already hold taskID's per-task lock.
func (m *Manager) executeAndDrainLocked(taskID ident.TaskID, rt *agentruntime.Runtime) {
	for {
		events, err := rt.Execute(context.Background())
		if err != nil {
			m.tel.Log.Error(context.Background(), "runtimemgr: execute failed", "task", taskID, "err", err)
			return
		}
		_ = events

		if !rt.HasPendingWork() {
			return
		}
		task, ok := m.proj.Task(taskID)
		if !ok {
			return
		}
		switch task.Status {
		case taskproj.StatusAwaitingUser, taskproj.StatusPaused, taskproj.StatusCanceled:
			return
		}
	}
}

func (m *Manager) toolSpecsFor(groups []string) []llm.ToolSpec {
	allowed := make(map[string]bool, len(groups))
	for _, g := range groups {
		allowed[g] = true
	}
	var specs []llm.ToolSpec
	for _, t := range m.registry.All() {
		if len(groups) > 0 && !allowed[t.Group()] {
			continue
		}
		specs = append(specs, llm.ToolSpec{Name: t.Name(), Description: t.Description(), Parameters: t.Parameters()})
	}
	return specs
}

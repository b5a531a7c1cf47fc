// Package ident provides strong type identifiers shared across the kernel.
// Using distinct string types instead of bare strings keeps task, tool-call,
// and interaction identifiers from being accidentally mixed in maps or APIs.
package ident

// TaskID identifies a task and its event stream.
type TaskID string

// ActorID identifies the author of a domain event: a user, an agent, or a
// system process.
type ActorID string

// AgentID identifies a registered agent strategy (e.g. "agent_seed_chat").
type AgentID string

// ToolCallID is the join key between an assistant's tool-use request and the
// later tool message carrying its result.
type ToolCallID string

// InteractionID identifies a single UIP request/response round trip.
type InteractionID string

// EventID is the store-assigned, globally monotonic identifier of an
// appended event.
type EventID string

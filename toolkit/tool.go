// Package toolkit implements the Tool Registry and Executor, spec.md §4.5:
// a name-keyed registry of Tool implementations and an executor that wraps
// every invocation in the audit trail, a JSON-schema parameter check, and
// per-tool rate limiting. The risk gate itself is applied by outputhandler.
package toolkit

import (
	"context"

	"github.com/google/uuid"

	"github.com/seedrun/seed/ident"
)

// RiskLevel marks whether a tool may run without explicit user confirmation.
type RiskLevel string

const (
	RiskSafe  RiskLevel = "safe"
	RiskRisky RiskLevel = "risky"
)

// Context carries everything a Tool's execute/canExecute needs beyond its
// arguments: task identity, an optional artifact store, cancellation, and
// (for risky tools) the interaction that authorized this specific call.
type Context struct {
	Context     context.Context
	TaskID      ident.TaskID
	ActorID     ident.ActorID
	BaseDir     string
	Artifacts   ArtifactStore
	ToolCallID  ident.ToolCallID
	// ConfirmedInteractionID is set only when a risky tool call has been
	// bound to and approved by a UIP Confirm interaction (spec.md §3, I4).
	ConfirmedInteractionID ident.InteractionID
}

// ArtifactStore is a minimal content-addressed blob store tools may use for
// large outputs that don't belong in the conversation transcript directly.
// Concrete storage is left to the embedder; the kernel only needs the
// interface to pass through ToolContext.
type ArtifactStore interface {
	Put(ctx context.Context, taskID ident.TaskID, name string, content []byte) (uri string, err error)
	Get(ctx context.Context, uri string) ([]byte, error)
}

// Result is what a tool invocation produces.
type Result struct {
	Output  string
	IsError bool
}

// Tool is one invocable capability. Parameters is a JSON Schema object
// (draft 2020-12, validated via santhosh-tekuri/jsonschema) describing the
// shape `execute` expects in args.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	RiskLevel() RiskLevel
	Group() string

	// CanExecute runs before the risk gate so a doomed risky call never
	// bothers the user with a confirmation it can't satisfy anyway. A nil
	// Tool may skip this by always returning nil.
	CanExecute(args map[string]any, tc Context) error

	Execute(args map[string]any, tc Context) (Result, error)
}

// NewToolCallID returns a fresh, collision-resistant tool call identifier.
func NewToolCallID() ident.ToolCallID {
	return ident.ToolCallID(uuid.NewString())
}

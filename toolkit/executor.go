package toolkit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/seedrun/seed/audit"
	"github.com/seedrun/seed/ident"
)

// Call is a single tool invocation request, as yielded by an Agent and
// carried on a ToolUsePart.
type Call struct {
	ToolCallID ident.ToolCallID
	ToolName   string
	Arguments  map[string]any
}

// Executor runs the invariant sequence spec.md §4.5 requires: look up the
// tool, append a requested audit entry, run canExecute before the risk
// gate, execute, append the completed audit entry.
//
// The risk gate itself (binding a confirmation to a toolCallId) lives in
// outputhandler, which calls Execute only once a risky call has cleared
// it; Executor enforces everything that doesn't depend on UIP state.
type Executor struct {
	registry *Registry
	audit    audit.Log

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	// perToolRate configures, per tool name, the steady-state rate and
	// burst applied to that tool's calls. Tools absent from this map are
	// unlimited.
	perToolRate map[string]rate.Limit
	perToolBurst map[string]int
}

// NewExecutor constructs an Executor over registry, recording audit entries
// in log.
func NewExecutor(registry *Registry, log audit.Log) *Executor {
	return &Executor{
		registry:     registry,
		audit:        log,
		limiters:     make(map[string]*rate.Limiter),
		perToolRate:  make(map[string]rate.Limit),
		perToolBurst: make(map[string]int),
	}
}

// SetRateLimit configures a per-tool token-bucket limit: perSecond steady
// rate, burst peak capacity. Tools with no configured limit run unthrottled.
func (e *Executor) SetRateLimit(toolName string, perSecond float64, burst int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.perToolRate[toolName] = rate.Limit(perSecond)
	e.perToolBurst[toolName] = burst
	delete(e.limiters, toolName) // recreated lazily with the new config
}

func (e *Executor) limiterFor(toolName string) *rate.Limiter {
	e.mu.Lock()
	defer e.mu.Unlock()
	if l, ok := e.limiters[toolName]; ok {
		return l
	}
	limit, ok := e.perToolRate[toolName]
	if !ok {
		return nil
	}
	l := rate.NewLimiter(limit, e.perToolBurst[toolName])
	e.limiters[toolName] = l
	return l
}

// Execute runs call.ToolName with call.Arguments under tc. Returns
// ErrUnknownTool / ErrInvalidArguments / ErrRateLimited synchronously
// without touching the audit log or the event log (spec.md §7's Validation
// taxonomy); a tool returning isError=true is NOT an error return here —
// it is a successful Execute whose Result.IsError is true, since the
// conversation continues with that result as a `tool` message.
func (e *Executor) Execute(ctx context.Context, call Call, tc Context) (Result, error) {
	tool, ok := e.registry.Lookup(call.ToolName)
	if !ok {
		return Result{}, ErrUnknownTool
	}
	if err := e.registry.Validate(call.ToolName, call.Arguments); err != nil {
		return Result{}, err
	}
	if limiter := e.limiterFor(call.ToolName); limiter != nil {
		if !limiter.Allow() {
			return Result{}, ErrRateLimited
		}
	}

	if err := e.audit.Requested(ctx, tc.TaskID, call.ToolCallID, call.ToolName, call.Arguments); err != nil {
		return Result{}, err
	}

	if err := tool.CanExecute(call.Arguments, tc); err != nil {
		toolErr := FromError(err)
		_ = e.audit.Completed(ctx, call.ToolCallID, audit.StatusDenied, "", toolErr.Error())
		return Result{IsError: true, Output: toolErr.Error()}, nil
	}

	result, err := tool.Execute(call.Arguments, tc)
	if err != nil {
		toolErr := FromError(err)
		_ = e.audit.Completed(ctx, call.ToolCallID, audit.StatusFailed, "", toolErr.Error())
		return Result{IsError: true, Output: toolErr.Error()}, nil
	}

	status := audit.StatusSucceeded
	if result.IsError {
		status = audit.StatusFailed
	}
	_ = e.audit.Completed(ctx, call.ToolCallID, status, result.Output, "")
	return result, nil
}

// defaultToolTimeout is a fallback per-tool timeout. Nothing in this
// module applies it; tools run under the caller's context only.
const defaultToolTimeout = 30 * time.Second

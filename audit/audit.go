// Package audit records the tool execution trace for each task: one entry
// per tool call request and its eventual completion, per spec.md §4.3. The
// audit log is separate from the conversation (which only the model reads)
// and from the event log (which only carries task-lifecycle and
// interaction events) — it exists so a human or debugger can see exactly
// which tools ran, with what arguments, and what they returned, without
// reconstructing that from the raw conversation.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/seedrun/seed/ident"
)

// Status is the lifecycle of a single tool call in the audit trail.
type Status string

const (
	StatusRequested Status = "requested"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusDenied    Status = "denied"
)

// Entry is one tool call's audit record. A call starts as StatusRequested
// and is later updated in place to a terminal status.
type Entry struct {
	ToolCallID ident.ToolCallID
	Task       ident.TaskID
	ToolName   string
	Input      map[string]any
	Status     Status
	Output     string
	Error      string
	RequestedAt time.Time
	CompletedAt time.Time
}

// Log is the audit trail contract: append a request, update it on
// completion, and read back a task's trail. Implementations fan out live
// updates to subscribers the way the event log does, so a UI can show tool
// activity as it happens.
type Log interface {
	Requested(ctx context.Context, task ident.TaskID, toolCallID ident.ToolCallID, toolName string, input map[string]any) error
	Completed(ctx context.Context, toolCallID ident.ToolCallID, status Status, output, errMsg string) error
	Trail(ctx context.Context, task ident.TaskID) ([]Entry, error)
	Subscribe(handler func(Entry)) (unsubscribe func())
}

// MemLog is an in-process Log.
type MemLog struct {
	mu      sync.Mutex
	byCall  map[ident.ToolCallID]*Entry
	byTask  map[ident.TaskID][]ident.ToolCallID

	subMu  sync.Mutex
	subs   map[int]func(Entry)
	subSeq int
}

// NewMemLog constructs an empty in-memory audit log.
func NewMemLog() *MemLog {
	return &MemLog{
		byCall: make(map[ident.ToolCallID]*Entry),
		byTask: make(map[ident.TaskID][]ident.ToolCallID),
		subs:   make(map[int]func(Entry)),
	}
}

// Requested implements Log.
func (l *MemLog) Requested(_ context.Context, task ident.TaskID, toolCallID ident.ToolCallID, toolName string, input map[string]any) error {
	l.mu.Lock()
	e := &Entry{ToolCallID: toolCallID, Task: task, ToolName: toolName, Input: input, Status: StatusRequested, RequestedAt: time.Now()}
	l.byCall[toolCallID] = e
	l.byTask[task] = append(l.byTask[task], toolCallID)
	snapshot := *e
	l.mu.Unlock()

	l.publish(snapshot)
	return nil
}

// Completed implements Log.
func (l *MemLog) Completed(_ context.Context, toolCallID ident.ToolCallID, status Status, output, errMsg string) error {
	l.mu.Lock()
	e, ok := l.byCall[toolCallID]
	if !ok {
		l.mu.Unlock()
		return nil
	}
	e.Status = status
	e.Output = output
	e.Error = errMsg
	e.CompletedAt = time.Now()
	snapshot := *e
	l.mu.Unlock()

	l.publish(snapshot)
	return nil
}

// Trail implements Log.
func (l *MemLog) Trail(_ context.Context, task ident.TaskID) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := l.byTask[task]
	out := make([]Entry, 0, len(ids))
	for _, id := range ids {
		out = append(out, *l.byCall[id])
	}
	return out, nil
}

// Subscribe implements Log.
func (l *MemLog) Subscribe(handler func(Entry)) func() {
	l.subMu.Lock()
	id := l.subSeq
	l.subSeq++
	l.subs[id] = handler
	l.subMu.Unlock()
	return func() {
		l.subMu.Lock()
		delete(l.subs, id)
		l.subMu.Unlock()
	}
}

func (l *MemLog) publish(e Entry) {
	l.subMu.Lock()
	handlers := make([]func(Entry), 0, len(l.subs))
	for _, h := range l.subs {
		handlers = append(handlers, h)
	}
	l.subMu.Unlock()
	for _, h := range handlers {
		h(e)
	}
}

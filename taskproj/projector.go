package taskproj

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/seedrun/seed/eventlog"
	"github.com/seedrun/seed/ident"
)

const checkpointName = "tasks"

// checkpointState is the JSON-serializable snapshot saved via
// eventlog.Store.SaveProjection. Correctness never depends on this being
// present or fresh; it only shortens replay on startup.
type checkpointState struct {
	Tasks map[ident.TaskID]*Task `json:"tasks"`
}

// Projector maintains a live taskproj.State by folding every event the
// store has ever stored, then staying subscribed for new ones. Checkpoint
// saves a snapshot on demand so a restart doesn't replay the entire log;
// the Projector does not schedule checkpoints itself.
type Projector struct {
	store eventlog.Store

	mu    sync.RWMutex
	state State
	cursor ident.EventID

	unsub func()
}

// NewProjector loads the last checkpoint (if any), replays the tail, and
// subscribes for live updates. Callers should call Close when done.
func NewProjector(ctx context.Context, store eventlog.Store) (*Projector, error) {
	p := &Projector{store: store, state: NewState()}

	cursor, raw, err := store.GetProjection(ctx, checkpointName, nil)
	if err != nil {
		return nil, fmt.Errorf("taskproj: load checkpoint: %w", err)
	}
	if raw != nil {
		var cp checkpointState
		if err := json.Unmarshal(raw, &cp); err != nil {
			return nil, fmt.Errorf("taskproj: decode checkpoint: %w", err)
		}
		if cp.Tasks != nil {
			p.state.Tasks = cp.Tasks
		}
		p.cursor = cursor
	}

	tail, err := store.ReadAll(ctx, p.cursor)
	if err != nil {
		return nil, fmt.Errorf("taskproj: replay tail: %w", err)
	}
	p.applyLocked(tail)

	p.unsub = store.Subscribe(func(se eventlog.StoredEvent) {
		p.mu.Lock()
		p.applyOneLocked(se)
		p.mu.Unlock()
	})

	return p, nil
}

func (p *Projector) applyLocked(events []eventlog.StoredEvent) {
	for _, se := range events {
		p.applyOneLocked(se)
	}
}

func (p *Projector) applyOneLocked(se eventlog.StoredEvent) {
	p.state = Reduce(p.state, se)
	p.cursor = se.ID
}

// View returns a snapshot of the current projection state, safe to read
// without holding any lock afterward.
func (p *Projector) View() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state.Clone()
}

// Task returns a single task's current view, or false if unknown.
func (p *Projector) Task(id ident.TaskID) (Task, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	t, ok := p.state.Tasks[id]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// CanTransition exposes the shared transition predicate so pre-append
// validation (the api command handlers) and the reducer stay in lockstep.
func (p *Projector) CanTransition(status Status, eventType eventlog.EventType) bool {
	return canTransition(status, eventType)
}

// Checkpoint saves the current state as a projection checkpoint. It is a
// latency optimization only; correctness never depends on it running.
func (p *Projector) Checkpoint(ctx context.Context) error {
	p.mu.RLock()
	snapshot := checkpointState{Tasks: p.state.Clone().Tasks}
	cursor := p.cursor
	p.mu.RUnlock()

	raw, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("taskproj: encode checkpoint: %w", err)
	}
	return p.store.SaveProjection(ctx, checkpointName, cursor, raw)
}

// Close stops the live subscription.
func (p *Projector) Close() {
	if p.unsub != nil {
		p.unsub()
	}
}

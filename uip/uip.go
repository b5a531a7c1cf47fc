// Package uip implements the Interaction Service, spec.md §4.10: the
// request/respond lifecycle for structured user interactions, with
// pending-interaction matching so a response can only ever be bound to
// the exact request it answers.
package uip

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/seedrun/seed/eventlog"
	"github.com/seedrun/seed/ident"
	"github.com/seedrun/seed/taskproj"
)

// Sentinel errors surfaced synchronously, per spec.md §7's validation
// taxonomy — never appended as events.
var (
	ErrNoPendingInteraction = errors.New("uip: no pending interaction for task")
	ErrStaleInteraction     = errors.New("uip: interaction id does not match the pending one")
)

// Service implements requestInteraction/respondToInteraction/
// getPendingInteraction/waitForResponse over an eventlog.Store and the
// task projection it feeds.
type Service struct {
	store eventlog.Store
	proj  *taskproj.Projector
}

// New constructs a Service.
func New(store eventlog.Store, proj *taskproj.Projector) *Service {
	return &Service{store: store, proj: proj}
}

// RequestInteraction assigns a unique interactionId and appends
// UserInteractionRequested.
func (s *Service) RequestInteraction(ctx context.Context, task ident.TaskID, actor ident.ActorID, kind eventlog.InteractionKind, purpose string, display eventlog.InteractionDisplay, opts []eventlog.InteractionOption, validation map[string]any) (ident.InteractionID, error) {
	id := ident.InteractionID(uuid.NewString())
	ev := eventlog.NewUserInteractionRequested(task, actor, id, kind, purpose, display, opts, validation)
	if _, err := s.store.Append(ctx, task, []eventlog.DomainEvent{ev}); err != nil {
		return "", err
	}
	return id, nil
}

// RespondToInteraction validates the response against the task's current
// pending interaction and, if valid, appends UserInteractionResponded.
func (s *Service) RespondToInteraction(ctx context.Context, task ident.TaskID, actor ident.ActorID, interactionID ident.InteractionID, selectedOptionID, freeform string, rejected bool) error {
	t, ok := s.proj.Task(task)
	if !ok || t.PendingInteractionID == "" {
		return ErrNoPendingInteraction
	}
	if t.PendingInteractionID != interactionID {
		return ErrStaleInteraction
	}
	ev := eventlog.NewUserInteractionResponded(task, actor, interactionID, selectedOptionID, freeform, rejected)
	_, err := s.store.Append(ctx, task, []eventlog.DomainEvent{ev})
	return err
}

// GetPendingInteraction replays task's stream, tracking responded ids, and
// returns the last UserInteractionRequested not yet in that set.
func (s *Service) GetPendingInteraction(ctx context.Context, task ident.TaskID) (*eventlog.UserInteractionRequestedPayload, bool, error) {
	events, err := s.store.ReadStream(ctx, task, 0)
	if err != nil {
		return nil, false, err
	}

	responded := make(map[ident.InteractionID]bool)
	var lastPending *eventlog.UserInteractionRequestedPayload
	for _, se := range events {
		switch p := se.Payload.(type) {
		case eventlog.UserInteractionRespondedPayload:
			responded[p.InteractionID] = true
		case eventlog.UserInteractionRequestedPayload:
			if !responded[p.InteractionID] {
				cp := p
				lastPending = &cp
			}
		}
	}
	if lastPending == nil || responded[lastPending.InteractionID] {
		return nil, false, nil
	}
	return lastPending, true, nil
}

// WaitForResponse blocks until a UserInteractionResponded for
// interactionID appears or timeout elapses, returning nil (not an error)
// on expiry per spec.md §5: "the runtime remains in awaiting_user until
// the user acts or the task is canceled."
func (s *Service) WaitForResponse(ctx context.Context, task ident.TaskID, interactionID ident.InteractionID, timeout time.Duration) (*eventlog.UserInteractionRespondedPayload, error) {
	result := make(chan eventlog.UserInteractionRespondedPayload, 1)
	unsub := s.store.Subscribe(func(se eventlog.StoredEvent) {
		if se.StreamID != task {
			return
		}
		if p, ok := se.Payload.(eventlog.UserInteractionRespondedPayload); ok && p.InteractionID == interactionID {
			select {
			case result <- p:
			default:
			}
		}
	})
	defer unsub()

	// A response may already have landed between RequestInteraction and
	// this call; check once before waiting on the subscription.
	events, err := s.store.ReadStream(ctx, task, 0)
	if err != nil {
		return nil, err
	}
	for _, se := range events {
		if p, ok := se.Payload.(eventlog.UserInteractionRespondedPayload); ok && p.InteractionID == interactionID {
			return &p, nil
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case p := <-result:
		return &p, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

package uip_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/seedrun/seed/eventlog"
	"github.com/seedrun/seed/eventlog/memstore"
	"github.com/seedrun/seed/taskproj"
	"github.com/seedrun/seed/uip"
)

const taskID = "t1"

func newService(t *testing.T) (*uip.Service, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	proj, err := taskproj.NewProjector(context.Background(), store)
	require.NoError(t, err)
	_, err = store.Append(context.Background(), taskID, []eventlog.DomainEvent{
		eventlog.NewTaskCreated(taskID, "user", "t", "i", eventlog.PriorityNormal, "agent_x", ""),
		eventlog.NewTaskStarted(taskID, "user"),
	})
	require.NoError(t, err)
	return uip.New(store, proj), store
}

func TestRequestThenRespondHappyPath(t *testing.T) {
	svc, _ := newService(t)
	display := eventlog.InteractionDisplay{Title: "Confirm", ContentKind: eventlog.ContentPlainText}
	id, err := svc.RequestInteraction(context.Background(), taskID, "agent_x", eventlog.InteractionConfirm, "confirm", display, nil, nil)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	pending, ok, err := svc.GetPendingInteraction(context.Background(), taskID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, id, pending.InteractionID)

	require.NoError(t, svc.RespondToInteraction(context.Background(), taskID, "user", id, "approve", "", false))

	_, ok, err = svc.GetPendingInteraction(context.Background(), taskID)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRespondWithNoPendingInteractionFails(t *testing.T) {
	svc, _ := newService(t)
	err := svc.RespondToInteraction(context.Background(), taskID, "user", "bogus", "approve", "", false)
	require.ErrorIs(t, err, uip.ErrNoPendingInteraction)
}

func TestRespondWithStaleIDFails(t *testing.T) {
	svc, _ := newService(t)
	display := eventlog.InteractionDisplay{Title: "Confirm"}
	id, err := svc.RequestInteraction(context.Background(), taskID, "agent_x", eventlog.InteractionConfirm, "confirm", display, nil, nil)
	require.NoError(t, err)
	_ = id

	err = svc.RespondToInteraction(context.Background(), taskID, "user", "not-the-right-id", "approve", "", false)
	require.ErrorIs(t, err, uip.ErrStaleInteraction)
}

func TestWaitForResponseReturnsOnMatchingEvent(t *testing.T) {
	svc, _ := newService(t)
	display := eventlog.InteractionDisplay{Title: "Confirm"}
	id, err := svc.RequestInteraction(context.Background(), taskID, "agent_x", eventlog.InteractionConfirm, "confirm", display, nil, nil)
	require.NoError(t, err)

	done := make(chan *eventlog.UserInteractionRespondedPayload, 1)
	go func() {
		p, err := svc.WaitForResponse(context.Background(), taskID, id, 2*time.Second)
		require.NoError(t, err)
		done <- p
	}()

	require.NoError(t, svc.RespondToInteraction(context.Background(), taskID, "user", id, "approve", "", false))

	select {
	case p := <-done:
		require.NotNil(t, p)
		require.Equal(t, id, p.InteractionID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for WaitForResponse")
	}
}

func TestWaitForResponseExpiresWithoutError(t *testing.T) {
	svc, _ := newService(t)
	display := eventlog.InteractionDisplay{Title: "Confirm"}
	id, err := svc.RequestInteraction(context.Background(), taskID, "agent_x", eventlog.InteractionConfirm, "confirm", display, nil, nil)
	require.NoError(t, err)

	p, err := svc.WaitForResponse(context.Background(), taskID, id, 30*time.Millisecond)
	require.NoError(t, err)
	require.Nil(t, p)
}

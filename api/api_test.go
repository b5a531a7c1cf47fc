package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/seedrun/seed/agent"
	"github.com/seedrun/seed/agent/chat"
	"github.com/seedrun/seed/api"
	"github.com/seedrun/seed/audit"
	"github.com/seedrun/seed/config"
	"github.com/seedrun/seed/conversation"
	"github.com/seedrun/seed/convmgr"
	"github.com/seedrun/seed/eventlog/memstore"
	"github.com/seedrun/seed/ident"
	"github.com/seedrun/seed/llm"
	"github.com/seedrun/seed/llm/fake"
	"github.com/seedrun/seed/outputhandler"
	"github.com/seedrun/seed/runtimemgr"
	"github.com/seedrun/seed/taskproj"
	"github.com/seedrun/seed/telemetry"
	"github.com/seedrun/seed/toolkit"
	"github.com/seedrun/seed/uip"
)

func newTestServer(t *testing.T) (*httptest.Server, *runtimemgr.Manager) {
	t.Helper()
	store := memstore.New()
	proj, err := taskproj.NewProjector(context.Background(), store)
	require.NoError(t, err)

	conv := convmgr.New(conversation.NewMemStore())
	reg := toolkit.NewRegistry()
	auditLog := audit.NewMemLog()
	exec := toolkit.NewExecutor(reg, auditLog)
	out := outputhandler.New(reg, exec, conv)
	uipSvc := uip.New(store, proj)

	factory := func(id ident.AgentID) (agent.Agent, bool) {
		if id != chat.ID {
			return nil, false
		}
		return chat.New("be nice"), true
	}
	mgr := runtimemgr.New(store, proj, conv, out, reg, fake.New(llm.Response{Content: "hi", StopReason: llm.StopEndTurn}), factory, telemetry.Noop())

	known := func(id string) bool { return ident.AgentID(id) == chat.ID }
	cfg := &config.Server{Host: "127.0.0.1", Port: 0, LocalhostBypass: true}
	srv := api.New(cfg, store, proj, conv, uipSvc, auditLog, mgr, known, telemetry.Noop())

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, mgr
}

func TestCreateTaskThenGet(t *testing.T) {
	ts, mgr := newTestServer(t)
	defer mgr.Close()

	body, _ := json.Marshal(map[string]string{"title": "T1", "intent": "say hi", "agentId": "agent_seed_chat"})
	resp, err := http.Post(ts.URL+"/tasks/", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var events []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&events))
	require.Len(t, events, 1)
	taskID := events[0]["streamId"].(string)

	mgr.WaitForIdle()

	getResp, err := http.Get(ts.URL + "/tasks/" + taskID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, getResp.StatusCode)

	var task map[string]any
	require.NoError(t, json.NewDecoder(getResp.Body).Decode(&task))
	require.Equal(t, "done", task["status"])
}

func TestCreateTaskRejectsUnknownAgent(t *testing.T) {
	ts, mgr := newTestServer(t)
	defer mgr.Close()

	body, _ := json.Marshal(map[string]string{"title": "T1", "agentId": "nope"})
	resp, err := http.Post(ts.URL+"/tasks/", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUnauthorizedWithoutToken(t *testing.T) {
	store := memstore.New()
	proj, err := taskproj.NewProjector(context.Background(), store)
	require.NoError(t, err)
	conv := convmgr.New(conversation.NewMemStore())
	reg := toolkit.NewRegistry()
	auditLog := audit.NewMemLog()
	exec := toolkit.NewExecutor(reg, auditLog)
	out := outputhandler.New(reg, exec, conv)
	uipSvc := uip.New(store, proj)
	mgr := runtimemgr.New(store, proj, conv, out, reg, fake.New(llm.Response{}), func(ident.AgentID) (agent.Agent, bool) { return nil, false }, telemetry.Noop())
	defer mgr.Close()

	cfg := &config.Server{Host: "127.0.0.1", Port: 0, Token: "secret", LocalhostBypass: false}
	srv := api.New(cfg, store, proj, conv, uipSvc, auditLog, mgr, nil, telemetry.Noop())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/tasks/")
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	authed, err := http.Get(ts.URL + "/tasks/?token=secret")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, authed.StatusCode)
}

func TestRespondInteractionForUnknownTaskReturnsNotFound(t *testing.T) {
	ts, mgr := newTestServer(t)
	defer mgr.Close()

	body, _ := json.Marshal(map[string]string{
		"interactionId":    "ui_bogus",
		"selectedOptionId": "approve",
	})
	resp, err := http.Post(ts.URL+"/tasks/does-not-exist/interaction", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// Package api implements the kernel's network surface, spec.md §6: a thin
// HTTP/WebSocket wrapper around the Event Store, Task Projection, UIP
// Service, Audit Log, Conversation Manager, and Runtime Manager. Command
// endpoints validate and append domain events directly — the Runtime
// Manager has no command methods of its own; it reacts to what lands in
// the log via its own subscription (runtimemgr.Manager.handle).
//
// The teacher's own demo server (example/cmd/assistant/http.go) is
// generated by goa's own codegen transport layer and isn't a fit for a
// hand-wired server, so the router and WebSocket plumbing instead follow
// haasonsaas-nexus's internal/gateway/ws_control_plane.go: a go-chi
// router, a gorilla/websocket upgrader, and fixed ping/pong tick
// constants.
package api

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/seedrun/seed/audit"
	"github.com/seedrun/seed/config"
	"github.com/seedrun/seed/convmgr"
	"github.com/seedrun/seed/eventlog"
	"github.com/seedrun/seed/runtimemgr"
	"github.com/seedrun/seed/taskproj"
	"github.com/seedrun/seed/telemetry"
	"github.com/seedrun/seed/uip"
)

const (
	wsProtocolVersion  = 1
	wsMaxPayloadBytes  = 1 << 20
	wsTickInterval     = 15 * time.Second
	wsPongWait         = 45 * time.Second
	wsWriteWait        = 10 * time.Second
)

// AgentKnown reports whether agentID names a registered agent strategy,
// so create-task can reject an unknown one synchronously (spec.md §7's
// validation taxonomy) instead of appending a TaskCreated the Runtime
// Manager will silently ignore.
type AgentKnown func(agentID string) bool

// Server wires the kernel's components to an HTTP handler.
type Server struct {
	cfg     *config.Server
	store   eventlog.Store
	proj    *taskproj.Projector
	conv    *convmgr.Manager
	uipSvc  *uip.Service
	auditLog audit.Log
	runtime *runtimemgr.Manager
	known   AgentKnown
	tel     telemetry.Bundle

	hub *uiHub
}

// New constructs a Server with its own UI hub. rt may be nil; when present
// the hub is attached to it via SetUIHub so the "ui" WebSocket channel
// receives live progress events.
func New(cfg *config.Server, store eventlog.Store, proj *taskproj.Projector, conv *convmgr.Manager, uipSvc *uip.Service, auditLog audit.Log, rt *runtimemgr.Manager, known AgentKnown, tel telemetry.Bundle) *Server {
	s := &Server{
		cfg: cfg, store: store, proj: proj, conv: conv, uipSvc: uipSvc,
		auditLog: auditLog, runtime: rt, known: known, tel: tel,
		hub: newUIHub(),
	}
	if rt != nil {
		rt.SetUIHub(s.hub)
	}
	return s
}

// Handler builds the routed http.Handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.authMiddleware)

	r.Route("/tasks", func(r chi.Router) {
		r.Get("/", s.handleListTasks)
		r.Post("/", s.handleCreateTask)
		r.Post("/group", s.handleGroupCreate)
		r.Get("/{taskId}", s.handleGetTask)
		r.Post("/{taskId}/cancel", s.handleCancelTask)
		r.Post("/{taskId}/pause", s.handlePauseTask)
		r.Post("/{taskId}/resume", s.handleResumeTask)
		r.Post("/{taskId}/instructions", s.handleAddInstruction)
		r.Post("/{taskId}/interaction", s.handleRespondInteraction)
		r.Get("/{taskId}/interaction", s.handleGetPendingInteraction)
		r.Get("/{taskId}/events", s.handleTaskEvents)
		r.Get("/{taskId}/audit", s.handleAuditTrail)
		r.Get("/{taskId}/conversation", s.handleConversation)
	})

	r.Get("/events", s.handleEventsByIDOrCursor)
	r.Get("/events/{eventId}", s.handleEventByID)

	r.Post("/runtime/profile", s.handleSetProfile)
	r.Post("/runtime/streaming", s.handleSetStreaming)
	r.Get("/runtime/info", s.handleRuntimeInfo)

	r.Get("/ws/events", s.handleWSEvents)
	r.Get("/ws/ui", s.handleWSUI)

	return r
}

// authMiddleware enforces the shared bearer token, accepted from either
// the Authorization header or a "token" query parameter, with a localhost
// bypass for local UI development (spec.md §6).
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.LocalhostBypass && isLocalhost(r) {
			next.ServeHTTP(w, r)
			return
		}
		if s.cfg.Token == "" {
			next.ServeHTTP(w, r)
			return
		}
		token := r.URL.Query().Get("token")
		if token == "" {
			if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				token = strings.TrimPrefix(auth, "Bearer ")
			}
		}
		if token != s.cfg.Token {
			unauthorized(w, "missing or invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isLocalhost(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

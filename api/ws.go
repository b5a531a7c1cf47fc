package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/seedrun/seed/eventlog"
	"github.com/seedrun/seed/ident"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// wsFrame is the single envelope shape for both the "events" and "ui"
// WebSocket channels, following haasonsaas-nexus's wsFrame convention.
type wsFrame struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// writeLoop pumps frames from out to conn with a ping/pong heartbeat until
// out closes or the connection errors; conn.Close() is always called
// before returning.
func writeLoop(conn *websocket.Conn, out <-chan wsFrame) {
	ticker := time.NewTicker(wsTickInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		select {
		case frame, ok := <-out:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// drainReads discards inbound client frames (this kernel's WebSocket
// channels are server-push only) until the connection closes, which is
// required so pong control frames are ever processed by gorilla/websocket.
func drainReads(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// handleWSEvents serves the "events" channel: broadcasts every stored
// event, with optional ?lastEventId= gap-fill and ?streamId= filtering
// (spec.md §6).
func (s *Server) handleWSEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	streamFilter := ident.TaskID(r.URL.Query().Get("streamId"))
	afterID := ident.EventID(r.URL.Query().Get("lastEventId"))

	out := make(chan wsFrame, 64)
	matches := func(se eventlog.StoredEvent) bool {
		return streamFilter == "" || se.StreamID == streamFilter
	}

	// Subscribe before reading the backlog so no event appended between
	// the backlog read and the subscription call is lost.
	unsub := s.store.Subscribe(func(se eventlog.StoredEvent) {
		if !matches(se) {
			return
		}
		select {
		case out <- wsFrame{Type: "event", Payload: newEventDTO(se)}:
		default:
		}
	})
	defer unsub()

	backlog, err := s.store.ReadAll(r.Context(), afterID)
	if err == nil {
		for _, se := range backlog {
			if matches(se) {
				out <- wsFrame{Type: "event", Payload: newEventDTO(se)}
			}
		}
	}

	done := make(chan struct{})
	go drainReads(conn, done)
	go func() {
		<-done
		close(out)
	}()
	writeLoop(conn, out)
}

// handleWSUI serves the "ui" channel: live agent_output/stream_delta/
// tool_call_start/tool_call_end/stream_end events, sourced from the
// uiHub rather than the event log (the log has no per-chunk or per-tool-
// call event type).
func (s *Server) handleWSUI(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	taskFilter := ident.TaskID(r.URL.Query().Get("taskId"))
	out := make(chan wsFrame, 64)
	unsub := s.hub.subscribe(func(ev uiEvent) {
		if taskFilter != "" && ev.TaskID != taskFilter {
			return
		}
		select {
		case out <- wsFrame{Type: ev.Kind, Payload: ev}:
		default:
		}
	})
	defer unsub()

	done := make(chan struct{})
	go drainReads(conn, done)
	go func() {
		<-done
		close(out)
	}()
	writeLoop(conn, out)
}

// uiEvent is one "ui" channel message: a task-scoped progress event
// published live by a Runtime via UIHub.Publish.
type uiEvent struct {
	TaskID  ident.TaskID   `json:"taskId"`
	Kind    string         `json:"kind"`
	Payload map[string]any `json:"payload,omitempty"`
}

// uiHub implements agentruntime.UIHub, fanning out published events to
// every active "ui" WebSocket subscriber. Modeled on the event log's own
// Subscribe/publish shape, scaled down to an in-process, non-durable
// broadcast since UI progress events are ephemeral by design.
type uiHub struct {
	mu   sync.Mutex
	subs map[int]func(uiEvent)
	next int
}

func newUIHub() *uiHub {
	return &uiHub{subs: make(map[int]func(uiEvent))}
}

func (h *uiHub) subscribe(fn func(uiEvent)) func() {
	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = fn
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}
}

// Publish implements agentruntime.UIHub.
func (h *uiHub) Publish(taskID ident.TaskID, kind string, payload map[string]any) {
	ev := uiEvent{TaskID: taskID, Kind: kind, Payload: payload}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, fn := range h.subs {
		fn(ev)
	}
}

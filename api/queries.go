package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/seedrun/seed/eventlog"
	"github.com/seedrun/seed/ident"
)

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	view := s.proj.View()
	out := make([]taskDTO, 0, len(view.Tasks))
	for _, t := range view.Tasks {
		out = append(out, newTaskDTO(*t))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	taskID := ident.TaskID(chi.URLParam(r, "taskId"))
	task, ok := s.proj.Task(taskID)
	if !ok {
		notFound(w, fmt.Errorf("unknown task %q", taskID))
		return
	}
	writeJSON(w, http.StatusOK, newTaskDTO(task))
}

// handleTaskEvents returns a task's own stream, honoring an optional
// ?fromSeq= query param (spec.md §6's "events by ... stream").
func (s *Server) handleTaskEvents(w http.ResponseWriter, r *http.Request) {
	taskID := ident.TaskID(chi.URLParam(r, "taskId"))
	fromSeq, err := parseUintParam(r, "fromSeq", 0)
	if err != nil {
		badRequest(w, err)
		return
	}
	events, err := s.store.ReadStream(r.Context(), taskID, fromSeq)
	if err != nil {
		notFound(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newEventDTOs(events))
}

// handleEventsByIDOrCursor serves the global event feed after an optional
// ?afterId= cursor (spec.md §6's "events by ... after-cursor").
func (s *Server) handleEventsByIDOrCursor(w http.ResponseWriter, r *http.Request) {
	afterID := ident.EventID(r.URL.Query().Get("afterId"))
	events, err := s.store.ReadAll(r.Context(), afterID)
	if err != nil {
		internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newEventDTOs(events))
}

func (s *Server) handleEventByID(w http.ResponseWriter, r *http.Request) {
	id := ident.EventID(chi.URLParam(r, "eventId"))
	se, err := s.store.ReadByID(r.Context(), id)
	if err != nil {
		if err == eventlog.ErrEventNotFound {
			notFound(w, err)
			return
		}
		internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newEventDTO(se))
}

func (s *Server) handleGetPendingInteraction(w http.ResponseWriter, r *http.Request) {
	taskID := ident.TaskID(chi.URLParam(r, "taskId"))
	pending, ok, err := s.uipSvc.GetPendingInteraction(r.Context(), taskID)
	if err != nil {
		internalError(w, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, pending)
}

func (s *Server) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	taskID := ident.TaskID(chi.URLParam(r, "taskId"))
	entries, err := s.auditLog.Trail(r.Context(), taskID)
	if err != nil {
		internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	taskID := ident.TaskID(chi.URLParam(r, "taskId"))
	history, err := s.conv.History(r.Context(), taskID)
	if err != nil {
		internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newMessageDTOs(history))
}

type runtimeInfoResponse struct {
	StreamingDefault bool `json:"streamingDefault"`
}

func (s *Server) handleRuntimeInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, runtimeInfoResponse{StreamingDefault: s.runtime.Streaming()})
}

func parseUintParam(r *http.Request, name string, def uint64) (uint64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	return strconv.ParseUint(raw, 10, 64)
}

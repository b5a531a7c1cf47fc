package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/seedrun/seed/eventlog"
	"github.com/seedrun/seed/ident"
	"github.com/seedrun/seed/taskproj"
	"github.com/seedrun/seed/uip"
)

const actorUser ident.ActorID = "user"

type createTaskRequest struct {
	Title        string           `json:"title"`
	Intent       string           `json:"intent"`
	Priority     string           `json:"priority"`
	AgentID      string           `json:"agentId"`
	ParentTaskID string           `json:"parentTaskId,omitempty"`
}

func (req createTaskRequest) validate(known AgentKnown) (eventlog.Priority, error) {
	if req.Title == "" {
		return "", errors.New("title is required")
	}
	if req.AgentID == "" {
		return "", errors.New("agentId is required")
	}
	if known != nil && !known(req.AgentID) {
		return "", fmt.Errorf("unknown agentId %q", req.AgentID)
	}
	priority := eventlog.Priority(req.Priority)
	switch priority {
	case "":
		priority = eventlog.PriorityNormal
	case eventlog.PriorityForeground, eventlog.PriorityNormal, eventlog.PriorityBackground:
	default:
		return "", fmt.Errorf("unknown priority %q", req.Priority)
	}
	return priority, nil
}

// handleCreateTask appends TaskCreated directly to the log; the Runtime
// Manager picks it up via its store subscription and spawns the runtime
// asynchronously (runtimemgr.Manager.onTaskCreated).
func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, err)
		return
	}
	priority, err := req.validate(s.known)
	if err != nil {
		badRequest(w, err)
		return
	}
	taskID := ident.TaskID(uuid.NewString())
	ev := eventlog.NewTaskCreated(taskID, actorUser, req.Title, req.Intent, priority, ident.AgentID(req.AgentID), ident.TaskID(req.ParentTaskID))
	stored, err := s.store.Append(r.Context(), taskID, []eventlog.DomainEvent{ev})
	if err != nil {
		internalError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newEventDTOs(stored))
}

type groupCreateRequest struct {
	Tasks []createTaskRequest `json:"tasks"`
}

// handleGroupCreate creates several sibling tasks in one request, each as
// its own independent TaskCreated append (spec.md §6's "group-create").
func (s *Server) handleGroupCreate(w http.ResponseWriter, r *http.Request) {
	var req groupCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, err)
		return
	}
	if len(req.Tasks) == 0 {
		badRequest(w, errors.New("tasks must not be empty"))
		return
	}
	for _, t := range req.Tasks {
		if _, err := t.validate(s.known); err != nil {
			badRequest(w, err)
			return
		}
	}

	var out []eventDTO
	for _, t := range req.Tasks {
		priority, _ := t.validate(s.known)
		taskID := ident.TaskID(uuid.NewString())
		ev := eventlog.NewTaskCreated(taskID, actorUser, t.Title, t.Intent, priority, ident.AgentID(t.AgentID), ident.TaskID(t.ParentTaskID))
		stored, err := s.store.Append(r.Context(), taskID, []eventlog.DomainEvent{ev})
		if err != nil {
			internalError(w, err)
			return
		}
		out = append(out, newEventDTOs(stored)...)
	}
	writeJSON(w, http.StatusCreated, out)
}

// taskCommand appends a single lifecycle event for the task named by the
// {taskId} URL param, after checking the transition is currently legal —
// spec.md §7 requires invalid transitions be rejected synchronously rather
// than appended and then ignored by the reducer.
func (s *Server) taskCommand(w http.ResponseWriter, r *http.Request, build func(task taskproj.Task) (eventlog.DomainEvent, error)) {
	taskID := ident.TaskID(chi.URLParam(r, "taskId"))
	task, ok := s.proj.Task(taskID)
	if !ok {
		notFound(w, fmt.Errorf("unknown task %q", taskID))
		return
	}
	ev, err := build(task)
	if err != nil {
		badRequest(w, err)
		return
	}
	if !s.proj.CanTransition(task.Status, ev.EventType()) {
		badRequest(w, fmt.Errorf("event %q not valid from status %q", ev.EventType(), task.Status))
		return
	}
	stored, err := s.store.Append(r.Context(), taskID, []eventlog.DomainEvent{ev})
	if err != nil {
		internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newEventDTOs(stored))
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	s.taskCommand(w, r, func(task taskproj.Task) (eventlog.DomainEvent, error) {
		return eventlog.NewTaskCanceled(task.ID, actorUser, body.Reason), nil
	})
}

func (s *Server) handlePauseTask(w http.ResponseWriter, r *http.Request) {
	s.taskCommand(w, r, func(task taskproj.Task) (eventlog.DomainEvent, error) {
		return eventlog.NewTaskPaused(task.ID, actorUser), nil
	})
}

func (s *Server) handleResumeTask(w http.ResponseWriter, r *http.Request) {
	s.taskCommand(w, r, func(task taskproj.Task) (eventlog.DomainEvent, error) {
		return eventlog.NewTaskResumed(task.ID, actorUser), nil
	})
}

func (s *Server) handleAddInstruction(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Instruction string `json:"instruction"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		badRequest(w, err)
		return
	}
	if body.Instruction == "" {
		badRequest(w, errors.New("instruction is required"))
		return
	}
	s.taskCommand(w, r, func(task taskproj.Task) (eventlog.DomainEvent, error) {
		return eventlog.NewTaskInstructionAdded(task.ID, actorUser, body.Instruction), nil
	})
}

type respondInteractionRequest struct {
	InteractionID    string `json:"interactionId"`
	SelectedOptionID string `json:"selectedOptionId"`
	FreeformValue    string `json:"freeformValue"`
	Rejected         bool   `json:"rejected"`
}

// handleRespondInteraction validates the response against the task's
// currently pending interaction via uip.Service, which returns
// ErrStaleInteraction (mapped to 409) for a mismatched id.
func (s *Server) handleRespondInteraction(w http.ResponseWriter, r *http.Request) {
	taskID := ident.TaskID(chi.URLParam(r, "taskId"))
	var req respondInteractionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, err)
		return
	}
	if req.InteractionID == "" {
		badRequest(w, errors.New("interactionId is required"))
		return
	}
	err := s.uipSvc.RespondToInteraction(r.Context(), taskID, actorUser, ident.InteractionID(req.InteractionID), req.SelectedOptionID, req.FreeformValue, req.Rejected)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	case errors.Is(err, uip.ErrNoPendingInteraction):
		notFound(w, err)
	case errors.Is(err, uip.ErrStaleInteraction):
		conflict(w, err)
	default:
		internalError(w, err)
	}
}

type setProfileRequest struct {
	TaskID  string `json:"taskId"`
	Profile string `json:"profile"`
}

// handleSetProfile overrides the model/profile selection for one task, or
// every task via taskId "*" (spec.md §4.9's wildcard override).
func (s *Server) handleSetProfile(w http.ResponseWriter, r *http.Request) {
	var req setProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, err)
		return
	}
	if req.TaskID == "" {
		badRequest(w, errors.New("taskId is required"))
		return
	}
	s.runtime.SetProfile(ident.TaskID(req.TaskID), req.Profile)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type setStreamingRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handleSetStreaming(w http.ResponseWriter, r *http.Request) {
	var req setStreamingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, err)
		return
	}
	s.runtime.SetStreaming(req.Enabled)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

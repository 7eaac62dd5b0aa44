package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/maumercado/task-orchestrator/internal/events"
	"github.com/maumercado/task-orchestrator/internal/logger"
	"github.com/maumercado/task-orchestrator/internal/metrics"
	"github.com/maumercado/task-orchestrator/internal/store"
	"github.com/maumercado/task-orchestrator/internal/submission"
	"github.com/maumercado/task-orchestrator/internal/task"
)

const defaultListLimit = 20
const maxListLimit = 100

// TaskHandler serves the client-facing task lifecycle endpoints: create,
// get, list, cancel.
type TaskHandler struct {
	store      *store.Store
	submission *submission.Service
	publisher  events.Publisher
}

// NewTaskHandler creates a new task handler.
func NewTaskHandler(s *store.Store, sub *submission.Service) *TaskHandler {
	return &TaskHandler{store: s, submission: sub}
}

// WithPublisher attaches the best-effort event stream and returns h.
func (h *TaskHandler) WithPublisher(p events.Publisher) *TaskHandler {
	h.publisher = p
	return h
}

// Create handles POST /v1/tasks
func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req task.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "request body exceeds limit")
			return
		}
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.TaskType == "" {
		respondError(w, http.StatusBadRequest, "task_type is required")
		return
	}

	priority := 0
	if req.Priority != nil {
		if *req.Priority < task.MinPriority || *req.Priority > task.MaxPriority {
			respondError(w, http.StatusBadRequest, "priority out of range")
			return
		}
		priority = *req.Priority
	}

	t, err := h.submission.Create(r.Context(), req.TaskType, req.Payload, req.IdempotencyKey, priority)
	if err != nil {
		logger.Error().Err(err).Str("type", req.TaskType).Msg("failed to create task")
		respondError(w, http.StatusInternalServerError, "failed to create task")
		return
	}

	respondJSON(w, http.StatusOK, t.ToResponse())
}

// Get handles GET /v1/tasks/{taskID}
func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	t, err := h.store.GetByID(r.Context(), taskID)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		logger.Error().Err(err).Str("task_id", taskID).Msg("failed to get task")
		respondError(w, http.StatusInternalServerError, "failed to get task")
		return
	}

	respondJSON(w, http.StatusOK, t.ToResponse())
}

// CancelResponse is the wire shape returned by a successful cancel.
type CancelResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Cancel handles POST /v1/tasks/{taskID}/cancel
func (h *TaskHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	t, err := h.store.GetByID(r.Context(), taskID)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		logger.Error().Err(err).Str("task_id", taskID).Msg("failed to get task")
		respondError(w, http.StatusInternalServerError, "failed to cancel task")
		return
	}

	if t.Status.IsTerminal() {
		respondError(w, http.StatusConflict, "task is already in a terminal state")
		return
	}

	updated, err := h.store.Transition(r.Context(), t.ID, task.StatusCanceled, "canceled via API", nil)
	if errors.Is(err, store.ErrConflict) {
		respondError(w, http.StatusConflict, "task cannot be canceled in its current state")
		return
	}
	if err != nil {
		logger.Error().Err(err).Str("task_id", taskID).Msg("failed to cancel task")
		respondError(w, http.StatusInternalServerError, "failed to cancel task")
		return
	}

	metrics.RecordTaskCancellation(updated.Type)

	if h.publisher != nil {
		evt := events.NewEvent(events.EventTaskCanceled, events.TaskEventData(updated.ID, updated.Type, updated.Priority, nil))
		if err := h.publisher.Publish(r.Context(), evt); err != nil {
			logger.Warn().Err(err).Str("task_id", taskID).Msg("failed to publish canceled event")
		}
	}

	logger.Info().Str("task_id", taskID).Msg("task canceled")
	respondJSON(w, http.StatusOK, CancelResponse{ID: updated.ID, Status: updated.Status.String()})
}

// ListResponse is the cursor-paginated wire shape for GET /v1/tasks.
// NextCursor is a pointer so the last page serializes an explicit
// "next_cursor": null rather than omitting the key.
type ListResponse struct {
	Items      []*task.Response `json:"items"`
	NextCursor *string          `json:"next_cursor"`
}

// List handles GET /v1/tasks?status=&limit=&cursor=
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		// Clamp rather than reject out-of-range values.
		if n < 1 {
			n = 1
		}
		if n > maxListLimit {
			n = maxListLimit
		}
		limit = n
	}

	var statusFilter *task.Status
	if v := r.URL.Query().Get("status"); v != "" {
		s, ok := task.ParseStatus(v)
		if !ok {
			respondError(w, http.StatusBadRequest, "unrecognized status filter")
			return
		}
		statusFilter = &s
	}

	var cursor *store.Cursor
	if v := r.URL.Query().Get("cursor"); v != "" {
		c, err := store.DecodeCursor(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid cursor")
			return
		}
		cursor = &c
	}

	items, next, err := h.store.List(r.Context(), statusFilter, limit, cursor)
	if err != nil {
		logger.Error().Err(err).Msg("failed to list tasks")
		respondError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}

	resp := ListResponse{Items: make([]*task.Response, 0, len(items))}
	for _, t := range items {
		resp.Items = append(resp.Items, t.ToResponse())
	}
	if next != nil {
		encoded := store.EncodeCursor(*next)
		resp.NextCursor = &encoded
	}

	respondJSON(w, http.StatusOK, resp)
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error().Err(err).Msg("failed to encode JSON response")
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
	})
}

package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/maumercado/task-orchestrator/internal/logger"
	"github.com/maumercado/task-orchestrator/internal/queue"
	"github.com/maumercado/task-orchestrator/internal/store"
	"github.com/maumercado/task-orchestrator/internal/worker"
)

// AdminHandler serves the operational console: worker liveness, pause and
// resume flags, and queue depth. It deliberately has no way to replay a
// FAILED or CANCELED task; terminal states have no outgoing transitions.
type AdminHandler struct {
	store *store.Store
	queue *queue.RedisQueue
}

// NewAdminHandler creates an admin handler over the store and queue.
func NewAdminHandler(s *store.Store, q *queue.RedisQueue) *AdminHandler {
	return &AdminHandler{store: s, queue: q}
}

// ListWorkers handles GET /admin/workers.
func (h *AdminHandler) ListWorkers(w http.ResponseWriter, r *http.Request) {
	workers, err := worker.GetActiveWorkers(r.Context(), h.queue.Client())
	if err != nil {
		logger.Error().Err(err).Msg("failed to list workers")
		respondError(w, http.StatusInternalServerError, "failed to list workers")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"workers": workers,
		"count":   len(workers),
	})
}

// GetWorker handles GET /admin/workers/{workerID}.
func (h *AdminHandler) GetWorker(w http.ResponseWriter, r *http.Request) {
	workerID := chi.URLParam(r, "workerID")

	alive, err := worker.IsWorkerAlive(r.Context(), h.queue.Client(), workerID)
	if err != nil {
		logger.Error().Err(err).Str("worker_id", workerID).Msg("failed to check worker liveness")
		respondError(w, http.StatusInternalServerError, "failed to get worker")
		return
	}
	if !alive {
		respondError(w, http.StatusNotFound, "worker not found or not active")
		return
	}

	workers, err := worker.GetActiveWorkers(r.Context(), h.queue.Client())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get worker")
		return
	}
	for _, info := range workers {
		if info.ID == workerID {
			respondJSON(w, http.StatusOK, info)
			return
		}
	}

	respondError(w, http.StatusNotFound, "worker not found")
}

// PauseWorker handles POST /admin/workers/{workerID}/pause. The worker
// polls its pause flag before fetching new work; in-flight tasks finish.
func (h *AdminHandler) PauseWorker(w http.ResponseWriter, r *http.Request) {
	workerID := chi.URLParam(r, "workerID")

	alive, err := worker.IsWorkerAlive(r.Context(), h.queue.Client(), workerID)
	if err != nil || !alive {
		respondError(w, http.StatusNotFound, "worker not found or not active")
		return
	}

	if err := h.queue.Client().Set(r.Context(), worker.PauseKey(workerID), "1", 0).Err(); err != nil {
		logger.Error().Err(err).Str("worker_id", workerID).Msg("failed to pause worker")
		respondError(w, http.StatusInternalServerError, "failed to pause worker")
		return
	}

	logger.Info().Str("worker_id", workerID).Msg("worker paused")
	respondJSON(w, http.StatusOK, map[string]string{"worker_id": workerID, "state": "paused"})
}

// ResumeWorker handles POST /admin/workers/{workerID}/resume.
func (h *AdminHandler) ResumeWorker(w http.ResponseWriter, r *http.Request) {
	workerID := chi.URLParam(r, "workerID")

	alive, err := worker.IsWorkerAlive(r.Context(), h.queue.Client(), workerID)
	if err != nil || !alive {
		respondError(w, http.StatusNotFound, "worker not found or not active")
		return
	}

	if err := h.queue.Client().Del(r.Context(), worker.PauseKey(workerID)).Err(); err != nil {
		logger.Error().Err(err).Str("worker_id", workerID).Msg("failed to resume worker")
		respondError(w, http.StatusInternalServerError, "failed to resume worker")
		return
	}

	logger.Info().Str("worker_id", workerID).Msg("worker resumed")
	respondJSON(w, http.StatusOK, map[string]string{"worker_id": workerID, "state": "running"})
}

// GetQueue handles GET /admin/queue.
func (h *AdminHandler) GetQueue(w http.ResponseWriter, r *http.Request) {
	depth, err := h.queue.Depth(r.Context())
	if err != nil {
		logger.Error().Err(err).Msg("failed to read queue depth")
		respondError(w, http.StatusInternalServerError, "failed to read queue depth")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"depth": depth})
}

// PurgeQueue handles DELETE /admin/queue. Pending queue entries are
// dropped; the task records stay QUEUED and the scheduler republishes
// them on its next pass, so this only flushes transient backlog.
func (h *AdminHandler) PurgeQueue(w http.ResponseWriter, r *http.Request) {
	if err := h.queue.Purge(r.Context()); err != nil {
		logger.Error().Err(err).Msg("failed to purge queue")
		respondError(w, http.StatusInternalServerError, "failed to purge queue")
		return
	}

	logger.Info().Msg("queue purged")
	respondJSON(w, http.StatusOK, map[string]string{"message": "queue purged"})
}

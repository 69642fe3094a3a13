package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fibercore/internal/queue"
	"github.com/ternarybob/fibercore/internal/transport"
)

// QueueHandler exposes queue counts, the dead-letter view and retries
type QueueHandler struct {
	queues   *queue.Manager
	sessions *transport.Registry
	logger   arbor.ILogger
}

// NewQueueHandler creates a handler over the queue manager and session registry
func NewQueueHandler(queues *queue.Manager, sessions *transport.Registry, logger arbor.ILogger) *QueueHandler {
	return &QueueHandler{
		queues:   queues,
		sessions: sessions,
		logger:   logger,
	}
}

// StatsHandler handles GET /api/queues/stats
func (h *QueueHandler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	stats, err := h.queues.Stats(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to read queue stats")
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, stats)
}

// QueueRoutesHandler handles GET /api/queues/{name}/failed
func (h *QueueHandler) QueueRoutesHandler(w http.ResponseWriter, r *http.Request) {
	segments := PathSegments(r.URL.Path, "/api/queues")
	if len(segments) == 1 && segments[0] == "stats" {
		h.StatsHandler(w, r)
		return
	}
	if len(segments) != 2 || segments[1] != "failed" {
		WriteError(w, http.StatusNotFound, "unknown queue route")
		return
	}
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	jobs, err := h.queues.Failed(r.Context(), segments[0], QueryInt(r, "limit", 100))
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, jobs)
}

// RetryHandler handles POST /api/jobs/{id}/retry
func (h *QueueHandler) RetryHandler(w http.ResponseWriter, r *http.Request) {
	segments := PathSegments(r.URL.Path, "/api/jobs")
	if len(segments) != 2 || segments[1] != "retry" {
		WriteError(w, http.StatusNotFound, "unknown job route")
		return
	}
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	job, err := h.queues.Retry(r.Context(), segments[0])
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// SessionsHandler handles GET /api/sessions
func (h *QueueHandler) SessionsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteJSON(w, http.StatusOK, h.sessions.Active())
}

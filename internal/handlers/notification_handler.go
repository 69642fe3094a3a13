package handlers

import (
	"context"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fibercore/internal/models"
	"github.com/ternarybob/fibercore/internal/services/notifications"
)

// NotificationHandler serves notification reads and accepts events from out-of-process workers
type NotificationHandler struct {
	service  *notifications.Service
	emitter  notifications.Emitter
	validate *validator.Validate
	logger   arbor.ILogger
}

// NewNotificationHandler creates a handler. emitter is the in-process emitter that
// events posted to /internal/emit are relayed through.
func NewNotificationHandler(service *notifications.Service, emitter notifications.Emitter, logger arbor.ILogger) *NotificationHandler {
	return &NotificationHandler{
		service:  service,
		emitter:  emitter,
		validate: validator.New(),
		logger:   logger,
	}
}

// ListHandler handles GET /api/notifications?limit=N and ?status=running
func (h *NotificationHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	var (
		list []*models.Notification
		err  error
	)
	switch r.URL.Query().Get("status") {
	case "":
		list, err = h.service.List(r.Context(), QueryInt(r, "limit", 50))
	case string(models.NotificationRunning):
		list, err = h.service.ListRunning(r.Context())
	default:
		WriteError(w, http.StatusBadRequest, "status filter supports only running")
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list notifications")
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, list)
}

// GetHandler handles GET /api/notifications/{id}
func (h *NotificationHandler) GetHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	segments := PathSegments(r.URL.Path, "/api/notifications")
	if len(segments) != 1 {
		WriteError(w, http.StatusNotFound, "notification id required")
		return
	}

	notification, err := h.service.Get(r.Context(), segments[0])
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, notification)
}

// EmitHandler handles POST /internal/emit: a worker process reporting a notification event.
// update-notification is applied to the local record, which broadcasts it; other events
// are broadcast as received.
func (h *NotificationHandler) EmitHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req notifications.EmitRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Data.Notification == nil {
		WriteError(w, http.StatusBadRequest, "data.notification is required")
		return
	}

	ctx := context.WithoutCancel(r.Context())
	if req.Event == models.EventUpdateNotification {
		// A worker process finished the operation; the record lives here
		n := req.Data.Notification
		if _, err := h.service.Finish(ctx, n.ID, notifications.Outcome{
			Title:   n.Title,
			Message: n.Message,
			Status:  n.Status,
		}); err != nil {
			h.logger.Warn().Err(err).Str("notification_id", n.ID).Msg("Failed to apply relayed outcome")
			WriteServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
		return
	}

	if err := h.emitter.Emit(ctx, req.Event, req.Data.Notification); err != nil {
		h.logger.Warn().Err(err).Str("event", req.Event).Msg("Failed to relay notification event")
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

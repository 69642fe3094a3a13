package handlers

import (
	"net/http"
	"strconv"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fibercore/internal/models"
	oltsvc "github.com/ternarybob/fibercore/internal/services/olt"
)

// OltHandler accepts device operations and serves inventory reads
type OltHandler struct {
	service *oltsvc.Service
	logger  arbor.ILogger
}

// NewOltHandler creates a handler over the OLT service
func NewOltHandler(service *oltsvc.Service, logger arbor.ILogger) *OltHandler {
	return &OltHandler{
		service: service,
		logger:  logger,
	}
}

// ListOltsHandler handles GET /api/olts
func (h *OltHandler) ListOltsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	olts, err := h.service.Inventory().ListOlts(r.Context())
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, olts)
}

// OltRoutesHandler dispatches everything under /api/olts/{slug}
func (h *OltHandler) OltRoutesHandler(w http.ResponseWriter, r *http.Request) {
	segments := PathSegments(r.URL.Path, "/api/olts")
	if len(segments) == 0 {
		h.ListOltsHandler(w, r)
		return
	}
	slug := segments[0]

	switch {
	case len(segments) == 1 && r.Method == http.MethodGet:
		h.getOlt(w, r, slug)
	case len(segments) == 2 && segments[1] == "snapshot" && r.Method == http.MethodGet:
		h.getSnapshot(w, r, slug)
	case len(segments) == 2 && segments[1] == "onus" && r.Method == http.MethodGet:
		h.listOnus(w, r, slug)
	case len(segments) == 2 && segments[1] == "onus" && r.Method == http.MethodPost:
		h.createOnu(w, r, slug)
	case len(segments) == 3 && segments[1] == "onus" && r.Method == http.MethodDelete:
		h.deleteOnu(w, r, slug, segments[2])
	case len(segments) == 4 && segments[1] == "onus" && segments[3] == "reinstall" && r.Method == http.MethodPost:
		h.reinstallOnu(w, r, slug, segments[2])
	case len(segments) == 4 && segments[1] == "onus" && segments[3] == "reboot" && r.Method == http.MethodPost:
		h.rebootOnu(w, r, slug, segments[2])
	case len(segments) == 3 && segments[1] == "sync" && r.Method == http.MethodPost:
		h.sync(w, r, slug, models.SyncKind(segments[2]))
	case len(segments) == 2 && segments[1] == "commands" && r.Method == http.MethodPost:
		h.runCommands(w, r, slug)
	default:
		WriteError(w, http.StatusNotFound, "unknown olt route")
	}
}

func (h *OltHandler) getOlt(w http.ResponseWriter, r *http.Request, slug string) {
	olt, err := h.service.Inventory().GetOlt(r.Context(), slug)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, olt)
}

func (h *OltHandler) getSnapshot(w http.ResponseWriter, r *http.Request, slug string) {
	snapshot, err := h.service.Inventory().Snapshot(r.Context(), slug)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, snapshot)
}

func (h *OltHandler) listOnus(w http.ResponseWriter, r *http.Request, slug string) {
	onus, err := h.service.ListOnus(r.Context(), slug)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, onus)
}

func (h *OltHandler) createOnu(w http.ResponseWriter, r *http.Request, slug string) {
	var req oltsvc.CreateOnuRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.accepted(w, "create onu", slug)(h.service.CreateOnu(r.Context(), slug, req))
}

func (h *OltHandler) deleteOnu(w http.ResponseWriter, r *http.Request, slug, rawNumber string) {
	number, err := strconv.Atoi(rawNumber)
	if err != nil || number < 1 {
		WriteError(w, http.StatusBadRequest, "onu number must be a positive integer")
		return
	}

	var req oltsvc.DeleteOnuRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.accepted(w, "delete onu", slug)(h.service.DeleteOnu(r.Context(), slug, number, req))
}

func (h *OltHandler) reinstallOnu(w http.ResponseWriter, r *http.Request, slug, onuID string) {
	var req oltsvc.ReinstallRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.accepted(w, "reinstall onu", slug)(h.service.ReinstallOnu(r.Context(), slug, onuID, req))
}

func (h *OltHandler) rebootOnu(w http.ResponseWriter, r *http.Request, slug, onuID string) {
	h.accepted(w, "reboot onu", slug)(h.service.RebootOnu(r.Context(), slug, onuID))
}

func (h *OltHandler) sync(w http.ResponseWriter, r *http.Request, slug string, kind models.SyncKind) {
	h.accepted(w, "sync "+string(kind), slug)(h.service.Sync(r.Context(), slug, kind))
}

func (h *OltHandler) runCommands(w http.ResponseWriter, r *http.Request, slug string) {
	var req oltsvc.RunCommandsRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.accepted(w, "run commands", slug)(h.service.RunCommands(r.Context(), slug, req))
}

// accepted writes 202 with the submission, or the mapped error status
func (h *OltHandler) accepted(w http.ResponseWriter, operation, slug string) func(*oltsvc.Submission, error) {
	return func(submission *oltsvc.Submission, err error) {
		if err != nil {
			status := StatusFor(err)
			if status >= http.StatusInternalServerError {
				h.logger.Error().Err(err).Str("operation", operation).Str("olt", slug).Msg("Device operation not accepted")
			}
			WriteError(w, status, err.Error())
			return
		}

		h.logger.Info().
			Str("operation", operation).
			Str("olt", slug).
			Str("job_id", submission.Job.ID).
			Msg("Device operation queued")
		WriteJSON(w, http.StatusAccepted, submission)
	}
}

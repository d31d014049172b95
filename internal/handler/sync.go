package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/medisync/medisync-go/internal/middleware"
	"github.com/medisync/medisync-go/internal/model"
	"github.com/medisync/medisync-go/internal/registry"
	"github.com/medisync/medisync-go/internal/service"
)

// SyncHandler handles HTTP requests for the sync engine.
type SyncHandler struct {
	service *service.SyncService
}

// NewSyncHandler creates a new SyncHandler.
func NewSyncHandler(svc *service.SyncService) *SyncHandler {
	return &SyncHandler{service: svc}
}

// HandleSync handles POST /api/v1/sync requests: the batch upload plus
// handshake of a device sync call.
func (h *SyncHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse("unauthorized"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 10<<20) // 10MB

	var req model.SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err.Error() == "http: request body too large" {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse("request body too large"))
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body"))
		return
	}

	resp, err := h.service.Sync(r.Context(), userID, req)
	if err != nil {
		writeDeviceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// HandleQueue handles GET /api/v1/sync/queue requests.
func (h *SyncHandler) HandleQueue(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse("unauthorized"))
		return
	}

	status := model.SyncStatus(r.URL.Query().Get("status"))
	entries, err := h.service.QueueEntries(r.Context(), userID, r.URL.Query().Get("device_id"), status)
	if err != nil {
		writeDeviceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, entries)
}

// HandleOfflineData handles GET /api/v1/sync/offline-data requests:
// the device's cached snapshots within the retention window.
func (h *SyncHandler) HandleOfflineData(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse("unauthorized"))
		return
	}

	entityType := model.EntityType(r.URL.Query().Get("entity_type"))
	data, err := h.service.OfflineData(r.Context(), userID, r.URL.Query().Get("device_id"), entityType)
	if err != nil {
		if errors.Is(err, registry.ErrUnknownEntityType) {
			writeJSON(w, http.StatusBadRequest, errorResponse(err.Error()))
			return
		}
		writeDeviceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, data)
}

// HandleHistory handles GET /api/v1/sync/logs requests: the device's
// recent processing attempts, newest first.
func (h *SyncHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse("unauthorized"))
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse("invalid limit"))
			return
		}
		limit = n
	}

	logs, err := h.service.History(r.Context(), userID, r.URL.Query().Get("device_id"), limit)
	if err != nil {
		writeDeviceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, logs)
}

// writeDeviceError maps the shared device-authorization errors; any
// unrecognized error is a 500.
func writeDeviceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrUnknownDevice):
		writeJSON(w, http.StatusNotFound, errorResponse(err.Error()))
	case errors.Is(err, service.ErrDeviceNotOwned), errors.Is(err, service.ErrDeviceInactive):
		writeJSON(w, http.StatusForbidden, errorResponse(err.Error()))
	case errors.Is(err, service.ErrBatchTooLarge):
		writeJSON(w, http.StatusBadRequest, errorResponse(err.Error()))
	default:
		writeJSON(w, http.StatusInternalServerError, errorResponse("internal server error"))
	}
}

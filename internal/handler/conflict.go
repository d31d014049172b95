package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/medisync/medisync-go/internal/middleware"
	"github.com/medisync/medisync-go/internal/model"
	"github.com/medisync/medisync-go/internal/service"
)

// ConflictHandler handles HTTP requests for sync conflicts.
type ConflictHandler struct {
	service *service.SyncService
}

// NewConflictHandler creates a new ConflictHandler.
func NewConflictHandler(svc *service.SyncService) *ConflictHandler {
	return &ConflictHandler{service: svc}
}

// HandleList handles GET /api/v1/sync/conflicts requests. The optional
// resolved query parameter filters by resolution state.
func (h *ConflictHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse("unauthorized"))
		return
	}

	var resolved *bool
	if raw := r.URL.Query().Get("resolved"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse("invalid resolved filter"))
			return
		}
		resolved = &v
	}

	conflicts, err := h.service.Conflicts(r.Context(), userID, r.URL.Query().Get("device_id"), resolved)
	if err != nil {
		writeDeviceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, conflicts)
}

// HandleResolve handles POST /api/v1/sync/conflicts/{conflict_id}/resolve
// requests: an operator closes an open conflict with an approved payload.
func (h *ConflictHandler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse("unauthorized"))
		return
	}

	conflictID, err := strconv.ParseInt(chi.URLParam(r, "conflict_id"), 10, 64)
	if err != nil || conflictID <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid conflict id"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 10<<20) // 10MB

	var req model.ResolveConflictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err.Error() == "http: request body too large" {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse("request body too large"))
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body"))
		return
	}

	resp, err := h.service.ResolveConflict(r.Context(), userID, conflictID, req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrConflictNotFound):
			writeJSON(w, http.StatusNotFound, errorResponse(err.Error()))
		case errors.Is(err, service.ErrConflictResolved):
			writeJSON(w, http.StatusConflict, errorResponse(err.Error()))
		case errors.Is(err, service.ErrResolutionRequired):
			writeJSON(w, http.StatusBadRequest, errorResponse(err.Error()))
		default:
			writeDeviceError(w, err)
		}
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

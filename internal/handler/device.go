package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/medisync/medisync-go/internal/middleware"
	"github.com/medisync/medisync-go/internal/model"
	"github.com/medisync/medisync-go/internal/service"
)

// DeviceHandler handles HTTP requests for device registration and sync
// status.
type DeviceHandler struct {
	service *service.DeviceService
}

// NewDeviceHandler creates a new DeviceHandler.
func NewDeviceHandler(svc *service.DeviceService) *DeviceHandler {
	return &DeviceHandler{service: svc}
}

// HandleRegister handles POST /api/v1/sync/devices requests.
func (h *DeviceHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse("unauthorized"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB

	var req model.RegisterDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err.Error() == "http: request body too large" {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse("request body too large"))
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body"))
		return
	}

	resp, err := h.service.Register(r.Context(), userID, req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUnknownDevice):
			writeJSON(w, http.StatusBadRequest, errorResponse("invalid device id"))
		case errors.Is(err, service.ErrDeviceNotOwned):
			writeJSON(w, http.StatusForbidden, errorResponse(err.Error()))
		default:
			writeJSON(w, http.StatusInternalServerError, errorResponse("internal server error"))
		}
		return
	}

	writeJSON(w, http.StatusCreated, resp)
}

// HandleUpdate handles PUT /api/v1/sync/devices/{device_id} requests.
func (h *DeviceHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse("unauthorized"))
		return
	}

	deviceID := chi.URLParam(r, "device_id")
	if deviceID == "" || len(deviceID) > 64 {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid device id"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB

	var req model.RegisterDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err.Error() == "http: request body too large" {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse("request body too large"))
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body"))
		return
	}

	resp, err := h.service.Update(r.Context(), userID, deviceID, req)
	if err != nil {
		writeDeviceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// HandleDeactivate handles DELETE /api/v1/sync/devices/{device_id}
// requests.
func (h *DeviceHandler) HandleDeactivate(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse("unauthorized"))
		return
	}

	deviceID := chi.URLParam(r, "device_id")
	if deviceID == "" || len(deviceID) > 64 {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid device id"))
		return
	}

	if err := h.service.Deactivate(r.Context(), userID, deviceID); err != nil {
		writeDeviceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleStats handles GET /api/v1/sync/stats requests. With a
// device_id query parameter the counts cover that device, otherwise
// they span all of the user's devices.
func (h *DeviceHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse("unauthorized"))
		return
	}

	var (
		stats model.SyncStats
		err   error
	)
	if deviceID := r.URL.Query().Get("device_id"); deviceID != "" {
		stats, err = h.service.StatusByDevice(r.Context(), userID, deviceID)
	} else {
		stats, err = h.service.StatusByUser(r.Context(), userID)
	}
	if err != nil {
		writeDeviceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

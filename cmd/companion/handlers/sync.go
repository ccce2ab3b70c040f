// Package handlers provides the localhost REST API for the companion UI.
package handlers

import (
	"net/http"

	syncpkg "github.com/tradeline-app/tradeline/backend/internal/sync"
)

// SyncHandler exposes connectivity reporting and sync control.
type SyncHandler struct {
	engine  *syncpkg.Engine
	monitor *syncpkg.Monitor
}

// NewSyncHandler creates a SyncHandler.
func NewSyncHandler(engine *syncpkg.Engine, monitor *syncpkg.Monitor) *SyncHandler {
	return &SyncHandler{engine: engine, monitor: monitor}
}

type networkRequest struct {
	Status string `json:"status" validate:"required,oneof=online offline"`
}

// PostNetwork handles POST /api/network. The UI reports connectivity
// transitions here; the offline-to-online transition triggers a sync via
// the monitor listener wired in main.
func (h *SyncHandler) PostNetwork(w http.ResponseWriter, r *http.Request) {
	var req networkRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, statusForError(err), err)
		return
	}

	h.monitor.SetOnline(req.Status == "online")
	writeJSON(w, http.StatusOK, map[string]string{
		"status": string(h.monitor.Status()),
	})
}

// GetNetwork handles GET /api/network.
func (h *SyncHandler) GetNetwork(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": string(h.monitor.Status()),
	})
}

// TriggerSync handles POST /api/sync/trigger. Safe to call repeatedly:
// an in-flight pass absorbs the trigger and reruns once.
func (h *SyncHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	started := h.engine.TriggerSync(r.Context())
	writeJSON(w, http.StatusAccepted, map[string]bool{"started": started})
}

// GetStatus handles GET /api/sync/status.
func (h *SyncHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Status())
}

// RetryFailed handles POST /api/sync/retry-failed.
func (h *SyncHandler) RetryFailed(w http.ResponseWriter, r *http.Request) {
	count, err := h.engine.RetryFailed(r.Context())
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"requeued": count})
}

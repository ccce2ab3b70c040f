// Package handlers provides the localhost REST API for the companion UI.
package handlers

import (
	"net/http"

	"github.com/tradeline-app/tradeline/backend/internal/drivemode"
	"github.com/tradeline-app/tradeline/backend/internal/telemetry"
)

// DriveModeHandler exposes the drive-mode prompt decision and mode toggle.
type DriveModeHandler struct {
	ctrl *drivemode.Controller
}

// NewDriveModeHandler creates a DriveModeHandler.
func NewDriveModeHandler(ctrl *drivemode.Controller) *DriveModeHandler {
	return &DriveModeHandler{ctrl: ctrl}
}

// Get handles GET /api/drive-mode.
func (h *DriveModeHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.Current())
}

// Accept handles POST /api/drive-mode/accept.
func (h *DriveModeHandler) Accept(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.ctrl.Accept()
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	telemetry.TrackEvent("drive_mode_accepted", nil)
	writeJSON(w, http.StatusOK, snapshot)
}

// Decline handles POST /api/drive-mode/decline.
func (h *DriveModeHandler) Decline(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.ctrl.Decline()
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	telemetry.TrackEvent("drive_mode_declined", map[string]interface{}{
		"count": snapshot.DeclineCount,
	})
	writeJSON(w, http.StatusOK, snapshot)
}

// Enter handles POST /api/drive-mode/enter. Manual entry does not change
// the stored preference.
func (h *DriveModeHandler) Enter(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.Enter())
}

// Exit handles POST /api/drive-mode/exit. Exit is always manual.
func (h *DriveModeHandler) Exit(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.Exit())
}

// Reset handles POST /api/drive-mode/reset. Support escape hatch; not
// reachable from the prompt flow.
func (h *DriveModeHandler) Reset(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.ctrl.Reset()
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

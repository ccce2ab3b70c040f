// Package handlers provides the localhost REST API for the companion UI.
package handlers

import (
	"net/http"
	"time"

	apperrors "github.com/tradeline-app/tradeline/backend/internal/errors"
	"github.com/tradeline-app/tradeline/backend/internal/motion"
)

// MotionHandler exposes the geolocation watch lifecycle and sample feed.
// The browser owns the actual Geolocation API; it forwards lifecycle
// events and position samples here.
type MotionHandler struct {
	detector *motion.Detector
}

// NewMotionHandler creates a MotionHandler.
func NewMotionHandler(detector *motion.Detector) *MotionHandler {
	return &MotionHandler{detector: detector}
}

// watchRequest reports a watch lifecycle event from the UI.
type watchRequest struct {
	Event string `json:"event" validate:"required,oneof=start stop denied error reset"`
	Cause string `json:"cause"`
}

// PostWatch handles POST /api/location/watch.
// The UI calls start when the page becomes visible, stop when hidden,
// denied/error when the platform watch fails, and reset after the user
// re-grants permission.
func (h *MotionHandler) PostWatch(w http.ResponseWriter, r *http.Request) {
	var req watchRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, statusForError(err), err)
		return
	}

	switch req.Event {
	case "start":
		h.detector.Start()
	case "stop":
		h.detector.Stop()
	case "denied":
		h.detector.ReportDenied()
	case "error":
		h.detector.ReportError(req.Cause)
	case "reset":
		h.detector.ResetStatus()
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": string(h.detector.Status()),
	})
}

// sampleRequest is one geolocation reading from the UI. SpeedMPS is a
// pointer because platforms report null speed on fixes without velocity.
type sampleRequest struct {
	SpeedMPS   *float64 `json:"speed_mps"`
	Accuracy   float64  `json:"accuracy" validate:"gte=0"`
	RecordedAt string   `json:"recorded_at"`
}

// PostSample handles POST /api/location/samples.
func (h *MotionHandler) PostSample(w http.ResponseWriter, r *http.Request) {
	var req sampleRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, statusForError(err), err)
		return
	}

	sample := motion.Sample{
		SpeedMPS: req.SpeedMPS,
		Accuracy: req.Accuracy,
	}
	if req.RecordedAt != "" {
		at, err := time.Parse(time.RFC3339, req.RecordedAt)
		if err != nil {
			err = apperrors.Wrap(apperrors.ErrInvalid, "invalid recorded_at", err)
			writeError(w, statusForError(err), err)
			return
		}
		sample.RecordedAt = at
	}

	if err := h.detector.Process(sample); err != nil {
		writeError(w, statusForError(err), err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "ok"})
}

// GetState handles GET /api/motion/state.
func (h *MotionHandler) GetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"state":        h.detector.State(),
		"watch_status": string(h.detector.Status()),
	})
}

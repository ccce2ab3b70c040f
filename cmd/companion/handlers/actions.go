// Package handlers provides the localhost REST API for the companion UI.
package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/tradeline-app/tradeline/backend/internal/actions"
	apperrors "github.com/tradeline-app/tradeline/backend/internal/errors"
)

// ActionsHandler exposes the offline action queue.
type ActionsHandler struct {
	recorder      *actions.Recorder
	maxAssetBytes int64
}

// NewActionsHandler creates an ActionsHandler.
func NewActionsHandler(recorder *actions.Recorder, maxAssetBytes int64) *ActionsHandler {
	if maxAssetBytes <= 0 {
		maxAssetBytes = 25 * 1024 * 1024
	}
	return &ActionsHandler{recorder: recorder, maxAssetBytes: maxAssetBytes}
}

type noteRequest struct {
	EntityType string `json:"entity_type" validate:"required"`
	EntityID   string `json:"entity_id" validate:"required"`
	Note       string `json:"note" validate:"required"`
}

// PostNote handles POST /api/actions/notes.
func (h *ActionsHandler) PostNote(w http.ResponseWriter, r *http.Request) {
	var req noteRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, statusForError(err), err)
		return
	}

	receipt, err := h.recorder.SaveNote(r.Context(), req.EntityType, req.EntityID, req.Note)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, receipt)
}

type statusRequest struct {
	EntityType string `json:"entity_type" validate:"required"`
	EntityID   string `json:"entity_id" validate:"required"`
	Status     string `json:"status" validate:"required"`
}

// PostStatus handles POST /api/actions/status.
func (h *ActionsHandler) PostStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, statusForError(err), err)
		return
	}

	receipt, err := h.recorder.UpdateStatus(r.Context(), req.EntityType, req.EntityID, req.Status)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, receipt)
}

type draftRequest struct {
	EntityType string          `json:"entity_type" validate:"required"`
	EntityID   string          `json:"entity_id" validate:"required"`
	Draft      json.RawMessage `json:"draft" validate:"required"`
}

// PostDraft handles POST /api/actions/drafts.
func (h *ActionsHandler) PostDraft(w http.ResponseWriter, r *http.Request) {
	var req draftRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, statusForError(err), err)
		return
	}

	receipt, err := h.recorder.SaveDraft(r.Context(), req.EntityType, req.EntityID, req.Draft)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, receipt)
}

// PostPhoto handles POST /api/actions/photos (multipart).
func (h *ActionsHandler) PostPhoto(w http.ResponseWriter, r *http.Request) {
	h.postCapture(w, r, "photo", func(entityType, entityID, mimeType string, data []byte) (*actions.Receipt, error) {
		return h.recorder.CapturePhoto(r.Context(), entityType, entityID, mimeType, data)
	})
}

// PostVoiceNote handles POST /api/actions/voice-notes (multipart).
func (h *ActionsHandler) PostVoiceNote(w http.ResponseWriter, r *http.Request) {
	h.postCapture(w, r, "audio", func(entityType, entityID, mimeType string, data []byte) (*actions.Receipt, error) {
		return h.recorder.SaveVoiceNote(r.Context(), entityType, entityID, mimeType, data)
	})
}

type captureFn func(entityType, entityID, mimeType string, data []byte) (*actions.Receipt, error)

func (h *ActionsHandler) postCapture(w http.ResponseWriter, r *http.Request, field string, save captureFn) {
	if err := r.ParseMultipartForm(h.maxAssetBytes); err != nil {
		err = apperrors.Wrap(apperrors.ErrInvalid, "invalid multipart body", err)
		writeError(w, statusForError(err), err)
		return
	}

	entityType := r.FormValue("entity_type")
	entityID := r.FormValue("entity_id")
	if entityType == "" || entityID == "" {
		err := apperrors.New(apperrors.ErrValidation, "entity_type and entity_id are required")
		writeError(w, statusForError(err), err)
		return
	}

	file, header, err := r.FormFile(field)
	if err != nil {
		err = apperrors.Wrap(apperrors.ErrInvalid, "missing "+field+" file", err)
		writeError(w, statusForError(err), err)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.maxAssetBytes+1))
	if err != nil {
		err = apperrors.Wrap(apperrors.ErrInternal, "failed to read upload", err)
		writeError(w, statusForError(err), err)
		return
	}
	if int64(len(data)) > h.maxAssetBytes {
		err := apperrors.New(apperrors.ErrAssetTooLarge, "capture exceeds the asset size limit")
		writeError(w, statusForError(err), err)
		return
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	receipt, err := save(entityType, entityID, mimeType, data)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, receipt)
}

// GetPending handles GET /api/actions/pending.
func (h *ActionsHandler) GetPending(w http.ResponseWriter, r *http.Request) {
	counts, err := h.recorder.PendingCounts()
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

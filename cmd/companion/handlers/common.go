// Package handlers provides the localhost REST API for the companion UI.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/tradeline-app/tradeline/backend/internal/errors"
)

var validate = validator.New()

// errorBody is the envelope every failed request returns.
type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// writeJSON writes v as a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps an error to the JSON error envelope. AppError codes
// pass through so the UI can switch on them.
func writeError(w http.ResponseWriter, status int, err error) {
	var body errorBody
	body.Error.Code = string(apperrors.CodeOf(err))
	body.Error.Message = err.Error()
	writeJSON(w, status, body)
}

// decodeAndValidate parses the JSON body into dst and runs validation tags.
func decodeAndValidate(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperrors.Wrap(apperrors.ErrInvalid, "invalid JSON body", err)
	}
	if err := validate.Struct(dst); err != nil {
		return apperrors.Wrap(apperrors.ErrValidation, "request failed validation", err)
	}
	return nil
}

// statusForError picks the HTTP status for a domain error.
func statusForError(err error) int {
	switch apperrors.CodeOf(err) {
	case apperrors.ErrInvalid, apperrors.ErrValidation, apperrors.ErrAssetTooLarge:
		return http.StatusBadRequest
	case apperrors.ErrNotFound:
		return http.StatusNotFound
	case apperrors.ErrGeoNotWatching, apperrors.ErrSyncOffline:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/tradeline-app/tradeline/backend/internal/errors"
	"github.com/tradeline-app/tradeline/backend/internal/models"
)

func testAction() *models.OfflineAction {
	return &models.OfflineAction{
		ID:         "6ba7b811-9dad-41d1-8b4d-00c04fd430c8",
		Type:       models.ActionAddNote,
		EntityType: "job",
		EntityID:   "job-9",
		Payload:    json.RawMessage(`{"note":"hello"}`),
	}
}

func TestSubmitActionJSON(t *testing.T) {
	var got struct {
		method      string
		path        string
		contentType string
		auth        string
		idempotency string
		body        []byte
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.method = r.Method
		got.path = r.URL.Path
		got.contentType = r.Header.Get("Content-Type")
		got.auth = r.Header.Get("Authorization")
		got.idempotency = r.Header.Get("Idempotency-Key")
		got.body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	remote := NewHTTPRemote(server.URL, "device-token", time.Second)
	action := testAction()

	err := remote.SubmitAction(context.Background(), action, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "/v1/device/actions", got.path)
	assert.Equal(t, "application/json", got.contentType)
	assert.Equal(t, "Bearer device-token", got.auth)
	assert.Equal(t, string(action.ID), got.idempotency,
		"idempotency key is the action ID so server-side dedupe works")

	var decoded models.OfflineAction
	require.NoError(t, json.Unmarshal(got.body, &decoded))
	assert.Equal(t, action.ID, decoded.ID)
	assert.JSONEq(t, string(action.Payload), string(decoded.Payload))
}

func TestSubmitActionMultipart(t *testing.T) {
	blobContent := []byte("jpeg bytes")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))

		var action models.OfflineAction
		require.NoError(t, json.Unmarshal([]byte(r.FormValue("action")), &action))
		assert.Equal(t, models.ActionCapturePhoto, action.Type)

		var asset models.OfflineAsset
		require.NoError(t, json.Unmarshal([]byte(r.FormValue("asset")), &asset))
		assert.Equal(t, models.AssetKindPhoto, asset.Kind)
		assert.Equal(t, "image/jpeg", asset.MimeType)

		file, header, err := r.FormFile("blob")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, asset.ContentHash, header.Filename)

		uploaded, err := io.ReadAll(file)
		require.NoError(t, err)
		assert.Equal(t, blobContent, uploaded)

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	remote := NewHTTPRemote(server.URL, "device-token", time.Second)

	action := testAction()
	action.Type = models.ActionCapturePhoto
	asset := &models.OfflineAsset{
		ID:          "asset-1",
		ActionID:    action.ID,
		Kind:        models.AssetKindPhoto,
		ContentHash: strings.Repeat("ab", 32),
		MimeType:    "image/jpeg",
		SizeBytes:   int64(len(blobContent)),
	}

	err := remote.SubmitAction(context.Background(), action, asset, bytes.NewReader(blobContent))
	require.NoError(t, err)
}

func TestSubmitActionStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		code   apperrors.ErrorCode
	}{
		{"unauthorized", http.StatusUnauthorized, apperrors.ErrSyncUnauthorized},
		{"forbidden", http.StatusForbidden, apperrors.ErrSyncUnauthorized},
		{"unprocessable", http.StatusUnprocessableEntity, apperrors.ErrSyncRejected},
		{"conflict", http.StatusConflict, apperrors.ErrSyncRejected},
		{"server error", http.StatusInternalServerError, apperrors.ErrSyncFailed},
		{"bad gateway", http.StatusBadGateway, apperrors.ErrSyncFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			remote := NewHTTPRemote(server.URL, "device-token", time.Second)
			err := remote.SubmitAction(context.Background(), testAction(), nil, nil)
			require.Error(t, err)
			assert.True(t, apperrors.Is(err, tt.code),
				"status %d should map to %s, got %v", tt.status, tt.code, err)
		})
	}
}

func TestSubmitActionTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server can detect the client disconnect
		// and cancel the request context; otherwise server.Close hangs.
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer server.Close()

	remote := NewHTTPRemote(server.URL, "device-token", time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := remote.SubmitAction(ctx, testAction(), nil, nil)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrSyncTimeout))
}

func TestSubmitActionConnectionRefused(t *testing.T) {
	// Point at a server that is already closed.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	remote := NewHTTPRemote(url, "device-token", time.Second)
	err := remote.SubmitAction(context.Background(), testAction(), nil, nil)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrSyncFailed))
}

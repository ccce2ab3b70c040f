// Package sync replays the durable offline queue to the cloud API.
package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	apperrors "github.com/tradeline-app/tradeline/backend/internal/errors"
	"github.com/tradeline-app/tradeline/backend/internal/models"
)

// RemoteAPI is the cloud endpoint queued actions are replayed to. An
// action and its linked asset are always submitted in a single call; the
// asset is never sent on its own.
type RemoteAPI interface {
	SubmitAction(ctx context.Context, action *models.OfflineAction, asset *models.OfflineAsset, blob io.Reader) error
}

// HTTPRemote submits actions to the Tradeline cloud API over HTTPS with a
// device bearer token.
type HTTPRemote struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPRemote creates an HTTPRemote.
func NewHTTPRemote(baseURL, token string, timeout time.Duration) *HTTPRemote {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPRemote{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

// SubmitAction posts one action. Plain actions go as JSON; actions with a
// media asset go as multipart with the blob attached.
func (r *HTTPRemote) SubmitAction(ctx context.Context, action *models.OfflineAction, asset *models.OfflineAsset, blob io.Reader) error {
	var req *http.Request
	var err error

	url := r.baseURL + "/v1/device/actions"

	if asset == nil {
		body, marshalErr := json.Marshal(action)
		if marshalErr != nil {
			return apperrors.Wrap(apperrors.ErrInternal, "failed to encode action", marshalErr)
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return apperrors.Wrap(apperrors.ErrInternal, "failed to build request", err)
		}
		req.Header.Set("Content-Type", "application/json")
	} else {
		req, err = r.multipartRequest(ctx, url, action, asset, blob)
		if err != nil {
			return err
		}
	}

	req.Header.Set("Authorization", "Bearer "+r.token)
	req.Header.Set("Idempotency-Key", string(action.ID))

	resp, err := r.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return apperrors.Wrap(apperrors.ErrSyncTimeout, "submission timed out", err)
		}
		return apperrors.Wrap(apperrors.ErrSyncFailed, "submission failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return apperrors.New(apperrors.ErrSyncUnauthorized,
			fmt.Sprintf("server returned %d", resp.StatusCode))
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		// The server understood and refused; retrying the same bytes
		// will not help.
		return apperrors.New(apperrors.ErrSyncRejected,
			fmt.Sprintf("server rejected action with %d", resp.StatusCode))
	default:
		return apperrors.New(apperrors.ErrSyncFailed,
			fmt.Sprintf("server returned %d", resp.StatusCode))
	}
}

func (r *HTTPRemote) multipartRequest(ctx context.Context, url string, action *models.OfflineAction, asset *models.OfflineAsset, blob io.Reader) (*http.Request, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	actionJSON, err := json.Marshal(action)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "failed to encode action", err)
	}
	if err := writer.WriteField("action", string(actionJSON)); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "failed to write action field", err)
	}

	assetJSON, err := json.Marshal(asset)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "failed to encode asset", err)
	}
	if err := writer.WriteField("asset", string(assetJSON)); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "failed to write asset field", err)
	}

	part, err := writer.CreateFormFile("blob", asset.ContentHash)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "failed to create blob part", err)
	}
	if _, err := io.Copy(part, blob); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to read blob", err)
	}

	if err := writer.Close(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "failed to finalize multipart body", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "failed to build request", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req, nil
}

// Package actions is the durable offline queue for user intents.
//
// Every user action (note, status change, draft, photo, voice note) is
// persisted locally before the call returns, whether or not the device is
// online. When online, a sync trigger fires after persist; when offline,
// the action waits for the next connectivity transition.
package actions

import (
	"context"
	"encoding/json"
	gosync "sync"

	"github.com/tradeline-app/tradeline/backend/internal/db"
	apperrors "github.com/tradeline-app/tradeline/backend/internal/errors"
	"github.com/tradeline-app/tradeline/backend/internal/logging"
	"github.com/tradeline-app/tradeline/backend/internal/models"
)

// Queue is the persistence surface the recorder needs. Implemented by
// db.Repository.
type Queue interface {
	CreateOfflineAction(action *models.OfflineAction) error
	CreateActionWithAsset(action *models.OfflineAction, asset *models.OfflineAsset) error
	CountPending() (*db.PendingCounts, error)
}

// Blobs stores captured media content.
type Blobs interface {
	Store(data []byte) (string, error)
}

// Network reports current connectivity.
type Network interface {
	IsOnline() bool
}

// Trigger requests a sync pass; must be safe to call repeatedly.
type Trigger func(ctx context.Context)

// CountsListener receives pending counts after every mutation.
type CountsListener func(counts db.PendingCounts)

// Receipt tells the caller what happened to their action.
type Receipt struct {
	Action *models.OfflineAction `json:"action"`
	// WillSyncLater is true when the device was offline at call time and
	// the action is parked until connectivity returns.
	WillSyncLater bool `json:"will_sync_later"`
}

// Recorder builds and persists offline actions.
type Recorder struct {
	queue         Queue
	blobs         Blobs
	network       Network
	trigger       Trigger
	maxRetries    int
	maxAssetBytes int64

	mu        gosync.Mutex
	listeners []CountsListener
}

// Config holds recorder tuning.
type Config struct {
	MaxRetries    int
	MaxAssetBytes int64
}

// NewRecorder creates a Recorder.
func NewRecorder(queue Queue, blobs Blobs, network Network, trigger Trigger, cfg Config) *Recorder {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.MaxAssetBytes <= 0 {
		cfg.MaxAssetBytes = 25 * 1024 * 1024
	}
	return &Recorder{
		queue:         queue,
		blobs:         blobs,
		network:       network,
		trigger:       trigger,
		maxRetries:    cfg.MaxRetries,
		maxAssetBytes: cfg.MaxAssetBytes,
	}
}

// Subscribe registers a pending-counts listener.
func (r *Recorder) Subscribe(l CountsListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

// SaveNote queues an ADD_NOTE action.
func (r *Recorder) SaveNote(ctx context.Context, entityType, entityID, note string) (*Receipt, error) {
	payload, _ := json.Marshal(map[string]string{"note": note})
	return r.enqueue(ctx, models.ActionAddNote, entityType, entityID, payload)
}

// UpdateStatus queues an UPDATE_STATUS action.
func (r *Recorder) UpdateStatus(ctx context.Context, entityType, entityID, status string) (*Receipt, error) {
	payload, _ := json.Marshal(map[string]string{"status": status})
	return r.enqueue(ctx, models.ActionUpdateStatus, entityType, entityID, payload)
}

// SaveDraft queues a CREATE_DRAFT action with an opaque draft body.
func (r *Recorder) SaveDraft(ctx context.Context, entityType, entityID string, draft json.RawMessage) (*Receipt, error) {
	if len(draft) == 0 {
		draft = json.RawMessage("{}")
	}
	return r.enqueue(ctx, models.ActionCreateDraft, entityType, entityID, draft)
}

// CapturePhoto stores the photo blob and queues a CAPTURE_PHOTO action
// linked to it.
func (r *Recorder) CapturePhoto(ctx context.Context, entityType, entityID, mimeType string, data []byte) (*Receipt, error) {
	return r.enqueueMedia(ctx, models.ActionCapturePhoto, models.AssetKindPhoto, entityType, entityID, mimeType, data)
}

// SaveVoiceNote stores the audio blob and queues a VOICE_NOTE action
// linked to it.
func (r *Recorder) SaveVoiceNote(ctx context.Context, entityType, entityID, mimeType string, data []byte) (*Receipt, error) {
	return r.enqueueMedia(ctx, models.ActionVoiceNote, models.AssetKindAudio, entityType, entityID, mimeType, data)
}

// PendingCounts returns current queue counts for UI badges.
func (r *Recorder) PendingCounts() (*db.PendingCounts, error) {
	counts, err := r.queue.CountPending()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to count pending", err)
	}
	return counts, nil
}

func (r *Recorder) enqueue(ctx context.Context, actionType models.ActionType, entityType, entityID string, payload json.RawMessage) (*Receipt, error) {
	action := &models.OfflineAction{
		Type:       actionType,
		EntityType: entityType,
		EntityID:   entityID,
		Payload:    payload,
		MaxRetries: r.maxRetries,
	}

	if err := r.queue.CreateOfflineAction(action); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrQueuePersist, "failed to persist action", err)
	}

	return r.settle(ctx, action), nil
}

func (r *Recorder) enqueueMedia(ctx context.Context, actionType models.ActionType, kind models.AssetKind, entityType, entityID, mimeType string, data []byte) (*Receipt, error) {
	if int64(len(data)) > r.maxAssetBytes {
		return nil, apperrors.New(apperrors.ErrAssetTooLarge, "capture exceeds the asset size limit")
	}
	if len(data) == 0 {
		return nil, apperrors.New(apperrors.ErrInvalid, "capture is empty")
	}

	// Blob first: a stray blob is harmless, an asset row without its
	// blob is not.
	hash, err := r.blobs.Store(data)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to store capture", err)
	}

	action := &models.OfflineAction{
		Type:       actionType,
		EntityType: entityType,
		EntityID:   entityID,
		Payload:    json.RawMessage("{}"),
		MaxRetries: r.maxRetries,
	}
	asset := &models.OfflineAsset{
		Kind:        kind,
		ContentHash: hash,
		MimeType:    mimeType,
		SizeBytes:   int64(len(data)),
	}

	if err := r.queue.CreateActionWithAsset(action, asset); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrQueuePersist, "failed to persist capture", err)
	}

	return r.settle(ctx, action), nil
}

// settle publishes counts and decides whether to kick a sync.
func (r *Recorder) settle(ctx context.Context, action *models.OfflineAction) *Receipt {
	r.publishCounts()

	online := r.network.IsOnline()
	if online && r.trigger != nil {
		// Fire and forget; the engine coalesces concurrent triggers.
		r.trigger(ctx)
	}

	logging.Debug("action queued", logging.Fields{
		"action_id": string(action.ID),
		"type":      string(action.Type),
		"online":    online,
	})

	return &Receipt{Action: action, WillSyncLater: !online}
}

func (r *Recorder) publishCounts() {
	counts, err := r.queue.CountPending()
	if err != nil {
		logging.Error("failed to count pending", err)
		return
	}

	r.mu.Lock()
	listeners := make([]CountsListener, len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.Unlock()

	for _, l := range listeners {
		l(*counts)
	}
}

// Package sync replays the durable offline queue to the cloud API.
package sync

import (
	"context"
	"fmt"
	"io"
	gosync "sync"
	"time"

	"github.com/tradeline-app/tradeline/backend/internal/db"
	apperrors "github.com/tradeline-app/tradeline/backend/internal/errors"
	"github.com/tradeline-app/tradeline/backend/internal/logging"
	"github.com/tradeline-app/tradeline/backend/internal/models"
)

// SyncStatus represents the current engine status.
type SyncStatus string

const (
	SyncStatusIdle    SyncStatus = "idle"
	SyncStatusSyncing SyncStatus = "syncing"
	SyncStatusFailed  SyncStatus = "failed"
)

// Queue is the durable action store the engine drains. Implemented by
// db.Repository.
type Queue interface {
	DuePendingActions(now int64, limit int) ([]*models.OfflineAction, error)
	MarkActionInProgress(id string) error
	ParkActionForRetry(id string, retryCount int, nextRetryAt int64, lastError string) error
	MarkActionFailed(id string, lastError string) error
	DeleteActionWithAsset(actionID string) (string, error)
	GetAssetByAction(actionID string) (*models.OfflineAsset, error)
	CountAssetsByHash(contentHash string) (int, error)
	CountPending() (*db.PendingCounts, error)
	RequeueFailedActions() (int, error)
}

// Blobs is the media blob store the engine reads uploads from.
type Blobs interface {
	Open(hash string) (io.ReadCloser, error)
	Delete(hash string) error
}

// Result summarizes one sync pass.
type Result struct {
	Submitted int           `json:"submitted"`
	Parked    int           `json:"parked"`
	Failed    int           `json:"failed"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}

// Event is pushed to the UI around sync passes and queue mutations.
type Event struct {
	Type   string            `json:"type"` // sync.started, sync.completed, sync.failed, queue.pending
	Result *Result           `json:"result,omitempty"`
	Counts *db.PendingCounts `json:"counts,omitempty"`
}

// EventHandler receives engine events.
type EventHandler func(event Event)

// EngineConfig holds engine tuning.
type EngineConfig struct {
	// MaxRetries per action before it is parked as failed.
	MaxRetries int
	// BatchSize bounds how many actions one pass loads at a time.
	BatchSize int
}

// DefaultEngineConfig returns the default engine tuning.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaxRetries: 3,
		BatchSize:  25,
	}
}

// Engine drains due pending actions to the remote API. At most one pass
// is in flight at a time; TriggerSync calls during a pass coalesce into a
// rerun once the pass finishes, so repeated triggers never duplicate a
// submission and never get lost.
type Engine struct {
	queue   Queue
	blobs   Blobs
	remote  RemoteAPI
	monitor *Monitor
	cfg     EngineConfig

	mu             gosync.Mutex
	syncInProgress bool
	rerun          bool
	status         SyncStatus
	lastSync       *time.Time
	lastErr        error
	onEvent        EventHandler
}

// NewEngine creates an Engine.
func NewEngine(queue Queue, blobs Blobs, remote RemoteAPI, monitor *Monitor, cfg EngineConfig) *Engine {
	if cfg.MaxRetries <= 0 {
		cfg = DefaultEngineConfig()
	}
	return &Engine{
		queue:   queue,
		blobs:   blobs,
		remote:  remote,
		monitor: monitor,
		cfg:     cfg,
		status:  SyncStatusIdle,
	}
}

// SetEventHandler registers the callback for sync events.
func (e *Engine) SetEventHandler(handler EventHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onEvent = handler
}

// TriggerSync requests a sync pass. Safe to call repeatedly and from any
// goroutine. Returns true when a new pass was started, false when an
// in-flight pass absorbed the trigger.
func (e *Engine) TriggerSync(ctx context.Context) bool {
	e.mu.Lock()
	if e.syncInProgress {
		e.rerun = true
		e.mu.Unlock()
		return false
	}
	e.mu.Unlock()

	// The pass must outlive the trigger's caller: handlers pass their
	// request context, which dies as soon as the 202 goes out.
	go e.runUntilSettled(context.WithoutCancel(ctx))
	return true
}

// runUntilSettled runs passes until no rerun request is pending.
func (e *Engine) runUntilSettled(ctx context.Context) {
	for {
		if _, err := e.Sync(ctx); err != nil {
			logging.Error("sync pass failed", err)
		}

		e.mu.Lock()
		if !e.rerun {
			e.mu.Unlock()
			return
		}
		e.rerun = false
		e.mu.Unlock()
	}
}

// Sync runs one pass synchronously. It refuses to overlap itself and
// aborts early when connectivity drops mid-pass.
func (e *Engine) Sync(ctx context.Context) (*Result, error) {
	e.mu.Lock()
	if e.syncInProgress {
		e.mu.Unlock()
		return nil, fmt.Errorf("sync already in progress")
	}
	if !e.monitor.IsOnline() {
		e.mu.Unlock()
		return nil, apperrors.New(apperrors.ErrSyncOffline, "device is offline")
	}
	e.syncInProgress = true
	e.status = SyncStatusSyncing
	e.lastErr = nil
	e.mu.Unlock()

	result := &Result{StartTime: time.Now()}
	e.emit(Event{Type: "sync.started"})

	err := e.drain(ctx, result)

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	e.mu.Lock()
	e.syncInProgress = false
	if err != nil {
		e.status = SyncStatusFailed
		e.lastErr = err
		result.Error = err.Error()
	} else {
		e.status = SyncStatusIdle
		now := result.EndTime
		e.lastSync = &now
	}
	e.mu.Unlock()

	counts, countErr := e.queue.CountPending()
	if countErr != nil {
		logging.Error("failed to count pending after sync", countErr)
	}

	if err != nil {
		e.emit(Event{Type: "sync.failed", Result: result, Counts: counts})
		return result, err
	}

	logging.Info("sync pass completed", logging.Fields{
		"submitted": result.Submitted,
		"parked":    result.Parked,
		"failed":    result.Failed,
	})
	e.emit(Event{Type: "sync.completed", Result: result, Counts: counts})
	return result, nil
}

// drain submits due actions in creation order until the queue is empty,
// the context ends, or connectivity drops.
func (e *Engine) drain(ctx context.Context, result *Result) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if !e.monitor.IsOnline() {
			return apperrors.New(apperrors.ErrSyncOffline, "connectivity lost mid-pass")
		}

		batch, err := e.queue.DuePendingActions(time.Now().Unix(), e.cfg.BatchSize)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrDatabase, "failed to load due actions", err)
		}
		if len(batch) == 0 {
			return nil
		}

		for _, action := range batch {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			if err := e.submitOne(ctx, action, result); err != nil {
				// Auth failures poison every remaining submission.
				if apperrors.Is(err, apperrors.ErrSyncUnauthorized) {
					return err
				}
			}
		}
	}
}

// submitOne pushes a single action (plus linked asset) and settles its
// queue row according to the outcome.
func (e *Engine) submitOne(ctx context.Context, action *models.OfflineAction, result *Result) error {
	if err := e.queue.MarkActionInProgress(string(action.ID)); err != nil {
		// Another pass (or a requeue) touched it; skip.
		return nil
	}

	var asset *models.OfflineAsset
	var blob io.ReadCloser

	if action.HasAsset() {
		var err error
		asset, err = e.queue.GetAssetByAction(string(action.ID))
		if err != nil {
			return e.settleFailure(action, result,
				apperrors.Wrap(apperrors.ErrDatabase, "failed to load asset", err))
		}
		if asset == nil {
			return e.settleFailure(action, result,
				apperrors.New(apperrors.ErrAssetMissing, "asset row missing for action"))
		}
		blob, err = e.blobs.Open(asset.ContentHash)
		if err != nil {
			return e.settleFailure(action, result,
				apperrors.Wrap(apperrors.ErrAssetMissing, "asset blob missing", err))
		}
		defer blob.Close()
	}

	if err := e.remote.SubmitAction(ctx, action, asset, blob); err != nil {
		return e.settleFailure(action, result, err)
	}

	hash, err := e.queue.DeleteActionWithAsset(string(action.ID))
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to remove acknowledged action", err)
	}
	if hash != "" {
		// Content addressed: only drop the blob when nothing else
		// references it.
		refs, err := e.queue.CountAssetsByHash(hash)
		if err == nil && refs == 0 {
			if err := e.blobs.Delete(hash); err != nil {
				logging.Error("failed to delete synced blob", err, logging.Fields{"hash": hash})
			}
		}
	}

	result.Submitted++
	return nil
}

// settleFailure decides between retry-with-backoff and parking as failed.
func (e *Engine) settleFailure(action *models.OfflineAction, result *Result, cause error) error {
	id := string(action.ID)

	switch apperrors.CodeOf(cause) {
	case apperrors.ErrSyncRejected, apperrors.ErrAssetMissing:
		// Permanent: resubmitting the same bytes cannot succeed.
		if err := e.queue.MarkActionFailed(id, cause.Error()); err != nil {
			logging.Error("failed to park rejected action", err)
		}
		result.Failed++
		return cause
	case apperrors.ErrSyncUnauthorized:
		// Leave it pending; the pass aborts and a later pass retries
		// once the token is fixed.
		if err := e.queue.ParkActionForRetry(id, action.RetryCount,
			time.Now().Unix()+calculateBackoff(action.RetryCount+1), cause.Error()); err != nil {
			logging.Error("failed to park action", err)
		}
		result.Parked++
		return cause
	}

	retryCount := action.RetryCount + 1
	maxRetries := action.MaxRetries
	if maxRetries <= 0 {
		maxRetries = e.cfg.MaxRetries
	}

	if retryCount >= maxRetries {
		wrapped := apperrors.Wrap(apperrors.ErrRetriesExhausted,
			fmt.Sprintf("max retries (%d) reached", maxRetries), cause)
		if err := e.queue.MarkActionFailed(id, wrapped.Error()); err != nil {
			logging.Error("failed to park exhausted action", err)
		}
		result.Failed++
		return wrapped
	}

	nextRetryAt := time.Now().Unix() + calculateBackoff(retryCount)
	if err := e.queue.ParkActionForRetry(id, retryCount, nextRetryAt, cause.Error()); err != nil {
		logging.Error("failed to schedule retry", err)
	}
	result.Parked++

	logging.Warn("action submission failed, will retry", logging.Fields{
		"action_id": id,
		"retry":     retryCount,
		"max":       maxRetries,
	})
	return cause
}

// calculateBackoff calculates exponential backoff delay in seconds.
// Formula: 2^retry_count * 60, capped at 3600 seconds (1 hour).
func calculateBackoff(retryCount int) int64 {
	backoff := int64(1) << uint(retryCount) // 2^retry_count
	backoff = backoff * 60                  // Convert to seconds

	maxBackoff := int64(3600)
	if backoff > maxBackoff {
		backoff = maxBackoff
	}

	return backoff
}

// RetryFailed requeues actions that exhausted their retries.
func (e *Engine) RetryFailed(ctx context.Context) (int, error) {
	count, err := e.queue.RequeueFailedActions()
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "failed to requeue actions", err)
	}
	if count > 0 && e.monitor.IsOnline() {
		e.TriggerSync(ctx)
	}
	return count, nil
}

// EngineStatus is a snapshot of the engine for the status endpoint.
type EngineStatus struct {
	Status    SyncStatus        `json:"status"`
	LastSync  *time.Time        `json:"last_sync,omitempty"`
	LastError string            `json:"last_error,omitempty"`
	Pending   *db.PendingCounts `json:"pending,omitempty"`
}

// Status returns a snapshot of the engine.
func (e *Engine) Status() EngineStatus {
	e.mu.Lock()
	status := EngineStatus{
		Status:   e.status,
		LastSync: e.lastSync,
	}
	if e.lastErr != nil {
		status.LastError = e.lastErr.Error()
	}
	e.mu.Unlock()

	if counts, err := e.queue.CountPending(); err == nil {
		status.Pending = counts
	}
	return status
}

// emit delivers an event without holding the engine lock.
func (e *Engine) emit(event Event) {
	e.mu.Lock()
	handler := e.onEvent
	e.mu.Unlock()
	if handler != nil {
		handler(event)
	}
}

// Package db provides CRUD repository operations for the companion data models.
package db

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/tradeline-app/tradeline/backend/internal/models"
	"github.com/tradeline-app/tradeline/backend/internal/uuid"
)

// Repository provides persistence for movement state, the drive-mode
// preference, and the offline action/asset queue. Queries that run on
// every sample or sync pass go through a prepared-statement cache.
type Repository struct {
	db *sql.DB

	// Statements are prepared on first use and cached for reuse
	stmtCache sync.Map // map[string]*sql.Stmt
}

// NewRepository creates a new Repository instance.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// PrepareStmt gets or creates a prepared statement from cache.
// Key is the query string, value is the prepared statement.
func (r *Repository) PrepareStmt(query string) (*sql.Stmt, error) {
	if stmt, ok := r.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := r.db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	// Store in cache (if already stored by another goroutine, use existing)
	actual, loaded := r.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}

	return stmt, nil
}

// Close closes all cached prepared statements.
func (r *Repository) Close() error {
	var firstErr error
	r.stmtCache.Range(func(key, value interface{}) bool {
		stmt := value.(*sql.Stmt)
		if err := stmt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

// =====================================================
// MovementState Operations
// =====================================================

// GetMovementState returns the persisted movement state, or the default
// stationary state when none has been written yet.
func (r *Repository) GetMovementState() (*models.MovementState, error) {
	query := `
	SELECT is_moving, confidence, movement_started_at, updated_at
	FROM movement_state WHERE id = 1
	`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}

	var state models.MovementState
	var startedAt sql.NullInt64
	err = stmt.QueryRow().Scan(&state.IsMoving, &state.Confidence, &startedAt, &state.UpdatedAt)
	if err == sql.ErrNoRows {
		return &models.MovementState{Confidence: models.ConfidenceLow}, nil
	}
	if err != nil {
		return nil, err
	}
	if startedAt.Valid {
		state.MovementStartedAt = &startedAt.Int64
	}
	return &state, nil
}

// SaveMovementState overwrites the single movement state row.
func (r *Repository) SaveMovementState(state *models.MovementState) error {
	state.UpdatedAt = time.Now().Unix()

	query := `
	INSERT INTO movement_state (id, is_moving, confidence, movement_started_at, updated_at)
	VALUES (1, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		is_moving = excluded.is_moving,
		confidence = excluded.confidence,
		movement_started_at = excluded.movement_started_at,
		updated_at = excluded.updated_at
	`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return err
	}

	var startedAt interface{}
	if state.MovementStartedAt != nil {
		startedAt = *state.MovementStartedAt
	}
	_, err = stmt.Exec(state.IsMoving, state.Confidence, startedAt, state.UpdatedAt)
	return err
}

// =====================================================
// DrivePreference Operations
// =====================================================

// GetDrivePreference returns the stored preference, defaulting to unknown.
func (r *Repository) GetDrivePreference() (*models.DrivePreference, error) {
	query := `
	SELECT choice, decline_count, last_prompted_at, updated_at
	FROM drive_preference WHERE id = 1
	`
	var pref models.DrivePreference
	var promptedAt sql.NullInt64
	err := r.db.QueryRow(query).Scan(&pref.Choice, &pref.DeclineCount, &promptedAt, &pref.UpdatedAt)
	if err == sql.ErrNoRows {
		return &models.DrivePreference{Choice: models.PreferenceUnknown}, nil
	}
	if err != nil {
		return nil, err
	}
	if promptedAt.Valid {
		pref.LastPromptedAt = &promptedAt.Int64
	}
	return &pref, nil
}

// SaveDrivePreference overwrites the single preference row.
func (r *Repository) SaveDrivePreference(pref *models.DrivePreference) error {
	pref.UpdatedAt = time.Now().Unix()

	query := `
	INSERT INTO drive_preference (id, choice, decline_count, last_prompted_at, updated_at)
	VALUES (1, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		choice = excluded.choice,
		decline_count = excluded.decline_count,
		last_prompted_at = excluded.last_prompted_at,
		updated_at = excluded.updated_at
	`
	var promptedAt interface{}
	if pref.LastPromptedAt != nil {
		promptedAt = *pref.LastPromptedAt
	}
	_, err := r.db.Exec(query, pref.Choice, pref.DeclineCount, promptedAt, pref.UpdatedAt)
	return err
}

// =====================================================
// OfflineAction Operations
// =====================================================

// CreateOfflineAction persists a new queued action. ID and timestamps are
// assigned here; the caller sets type, entity, payload and asset link.
func (r *Repository) CreateOfflineAction(action *models.OfflineAction) error {
	now := time.Now().Unix()
	if action.ID == "" {
		action.ID = models.UUID(uuid.New())
	}
	action.Status = models.ActionStatusPending
	action.CreatedAt = now
	action.UpdatedAt = now
	action.NextRetryAt = now

	query := `
	INSERT INTO offline_actions (id, type, entity_type, entity_id, payload, asset_id,
		status, retry_count, max_retries, next_retry_at, last_error, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return err
	}

	var assetID interface{}
	if action.AssetID != nil {
		assetID = string(*action.AssetID)
	}
	_, err = stmt.Exec(action.ID, action.Type, action.EntityType, action.EntityID,
		string(action.Payload), assetID, action.Status, action.RetryCount,
		action.MaxRetries, action.NextRetryAt, action.LastError,
		action.CreatedAt, action.UpdatedAt)
	return err
}

const actionColumns = `id, type, entity_type, entity_id, payload, asset_id,
	status, retry_count, max_retries, next_retry_at, last_error, created_at, updated_at`

func scanAction(row interface{ Scan(...interface{}) error }) (*models.OfflineAction, error) {
	var action models.OfflineAction
	var payload string
	var assetID sql.NullString
	err := row.Scan(&action.ID, &action.Type, &action.EntityType, &action.EntityID,
		&payload, &assetID, &action.Status, &action.RetryCount, &action.MaxRetries,
		&action.NextRetryAt, &action.LastError, &action.CreatedAt, &action.UpdatedAt)
	if err != nil {
		return nil, err
	}
	action.Payload = []byte(payload)
	if assetID.Valid {
		id := models.UUID(assetID.String)
		action.AssetID = &id
	}
	return &action, nil
}

// GetOfflineAction retrieves a queued action by ID.
func (r *Repository) GetOfflineAction(id string) (*models.OfflineAction, error) {
	query := `SELECT ` + actionColumns + ` FROM offline_actions WHERE id = ?`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}
	return scanAction(stmt.QueryRow(id))
}

// DuePendingActions returns pending actions whose retry time has been
// reached, oldest first, capped at limit.
func (r *Repository) DuePendingActions(now int64, limit int) ([]*models.OfflineAction, error) {
	query := `
	SELECT ` + actionColumns + `
	FROM offline_actions
	WHERE status = 'pending' AND next_retry_at <= ?
	ORDER BY created_at ASC
	LIMIT ?
	`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.Query(now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actions []*models.OfflineAction
	for rows.Next() {
		action, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		actions = append(actions, action)
	}
	return actions, rows.Err()
}

// MarkActionInProgress transitions a pending action to in_progress.
func (r *Repository) MarkActionInProgress(id string) error {
	query := `
	UPDATE offline_actions SET status = 'in_progress', updated_at = ?
	WHERE id = ? AND status = 'pending'
	`
	res, err := r.db.Exec(query, time.Now().Unix(), id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("action %s is not pending", id)
	}
	return nil
}

// ParkActionForRetry schedules another attempt after a failure.
func (r *Repository) ParkActionForRetry(id string, retryCount int, nextRetryAt int64, lastError string) error {
	query := `
	UPDATE offline_actions
	SET status = 'pending', retry_count = ?, next_retry_at = ?, last_error = ?, updated_at = ?
	WHERE id = ?
	`
	_, err := r.db.Exec(query, retryCount, nextRetryAt, lastError, time.Now().Unix(), id)
	return err
}

// MarkActionFailed parks an action permanently after exhausting retries.
func (r *Repository) MarkActionFailed(id string, lastError string) error {
	query := `
	UPDATE offline_actions
	SET status = 'failed', last_error = ?, updated_at = ?
	WHERE id = ?
	`
	_, err := r.db.Exec(query, lastError, time.Now().Unix(), id)
	return err
}

// RequeueFailedActions resets failed actions for another round of retries.
func (r *Repository) RequeueFailedActions() (int, error) {
	now := time.Now().Unix()
	query := `
	UPDATE offline_actions
	SET status = 'pending', retry_count = 0, next_retry_at = ?, last_error = '', updated_at = ?
	WHERE status = 'failed'
	`
	res, err := r.db.Exec(query, now, now)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	return int(affected), err
}

// DeleteActionWithAsset removes an acknowledged action and its linked
// asset row in one transaction. Returns the content hash of the removed
// asset so the caller can drop the blob, or "" when no asset was linked.
func (r *Repository) DeleteActionWithAsset(actionID string) (string, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	var contentHash string
	err = tx.QueryRow(
		"SELECT content_hash FROM offline_assets WHERE action_id = ?", actionID,
	).Scan(&contentHash)
	if err != nil && err != sql.ErrNoRows {
		return "", err
	}

	if _, err := tx.Exec("UPDATE offline_actions SET asset_id = NULL WHERE id = ?", actionID); err != nil {
		return "", err
	}
	if _, err := tx.Exec("DELETE FROM offline_assets WHERE action_id = ?", actionID); err != nil {
		return "", err
	}
	if _, err := tx.Exec("DELETE FROM offline_actions WHERE id = ?", actionID); err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return contentHash, nil
}

// CreateActionWithAsset persists a media action and its asset row in one
// transaction, so a crash can never leave an action pointing at a missing
// asset or an orphaned asset row.
func (r *Repository) CreateActionWithAsset(action *models.OfflineAction, asset *models.OfflineAsset) error {
	now := time.Now().Unix()
	if asset.ID == "" {
		asset.ID = models.UUID(uuid.New())
	}
	if action.ID == "" {
		action.ID = models.UUID(uuid.New())
	}
	asset.ActionID = action.ID
	asset.CreatedAt = now
	action.AssetID = &asset.ID
	action.Status = models.ActionStatusPending
	action.CreatedAt = now
	action.UpdatedAt = now
	action.NextRetryAt = now

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
	INSERT INTO offline_assets (id, action_id, kind, content_hash, mime_type, size_bytes, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`,
		asset.ID, asset.ActionID, asset.Kind, asset.ContentHash,
		asset.MimeType, asset.SizeBytes, asset.CreatedAt)
	if err != nil {
		return err
	}

	_, err = tx.Exec(`
	INSERT INTO offline_actions (id, type, entity_type, entity_id, payload, asset_id,
		status, retry_count, max_retries, next_retry_at, last_error, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		action.ID, action.Type, action.EntityType, action.EntityID,
		string(action.Payload), string(*action.AssetID), action.Status,
		action.RetryCount, action.MaxRetries, action.NextRetryAt,
		action.LastError, action.CreatedAt, action.UpdatedAt)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// =====================================================
// OfflineAsset Operations
// =====================================================

// CreateOfflineAsset persists a new asset record.
func (r *Repository) CreateOfflineAsset(asset *models.OfflineAsset) error {
	if asset.ID == "" {
		asset.ID = models.UUID(uuid.New())
	}
	asset.CreatedAt = time.Now().Unix()

	query := `
	INSERT INTO offline_assets (id, action_id, kind, content_hash, mime_type, size_bytes, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.Exec(query, asset.ID, asset.ActionID, asset.Kind,
		asset.ContentHash, asset.MimeType, asset.SizeBytes, asset.CreatedAt)
	return err
}

// GetAssetByAction retrieves the asset linked to an action, if any.
func (r *Repository) GetAssetByAction(actionID string) (*models.OfflineAsset, error) {
	query := `
	SELECT id, action_id, kind, content_hash, mime_type, size_bytes, created_at
	FROM offline_assets WHERE action_id = ?
	`
	var asset models.OfflineAsset
	err := r.db.QueryRow(query, actionID).Scan(&asset.ID, &asset.ActionID,
		&asset.Kind, &asset.ContentHash, &asset.MimeType, &asset.SizeBytes, &asset.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &asset, nil
}

// CountAssetsByHash returns how many asset rows reference a content hash.
// The blob store is content addressed, so a blob is only deleted when the
// last referencing row is gone.
func (r *Repository) CountAssetsByHash(contentHash string) (int, error) {
	var count int
	err := r.db.QueryRow(
		"SELECT COUNT(*) FROM offline_assets WHERE content_hash = ?", contentHash,
	).Scan(&count)
	return count, err
}

// =====================================================
// Pending Counts
// =====================================================

// PendingCounts summarizes the queue for UI badges.
type PendingCounts struct {
	Actions int `json:"actions"`
	Assets  int `json:"assets"`
	Failed  int `json:"failed"`
}

// CountPending returns the number of unsynced actions and assets.
func (r *Repository) CountPending() (*PendingCounts, error) {
	var counts PendingCounts

	err := r.db.QueryRow(
		"SELECT COUNT(*) FROM offline_actions WHERE status IN ('pending', 'in_progress')",
	).Scan(&counts.Actions)
	if err != nil {
		return nil, err
	}

	err = r.db.QueryRow(`
		SELECT COUNT(*) FROM offline_assets a
		JOIN offline_actions act ON act.id = a.action_id
		WHERE act.status IN ('pending', 'in_progress')
	`).Scan(&counts.Assets)
	if err != nil {
		return nil, err
	}

	err = r.db.QueryRow(
		"SELECT COUNT(*) FROM offline_actions WHERE status = 'failed'",
	).Scan(&counts.Failed)
	if err != nil {
		return nil, err
	}

	return &counts, nil
}

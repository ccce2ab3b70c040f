// Package db tests covering the repository over an in-memory database.
package db

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/tradeline-app/tradeline/backend/internal/models"
)

// setupTestRepoDB opens an in-memory database, applies migrations, and
// returns a repository plus the underlying handle for test fixups.
func setupTestRepoDB(t *testing.T) (*Repository, *DB) {
	t.Helper()

	database, err := OpenInMemory()
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := NewMigrator(database.DB).Up(); err != nil {
		t.Fatalf("failed to apply migrations: %v", err)
	}

	repo := NewRepository(database.DB)
	t.Cleanup(func() { repo.Close() })
	return repo, database
}

func setupTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, _ := setupTestRepoDB(t)
	return repo
}

// =====================================================
// MovementState tests
// =====================================================

// TestGetMovementStateDefault verifies the stationary default before any write.
func TestGetMovementStateDefault(t *testing.T) {
	repo := setupTestRepo(t)

	state, err := repo.GetMovementState()
	if err != nil {
		t.Fatalf("GetMovementState failed: %v", err)
	}
	if state.IsMoving {
		t.Error("default state should not be moving")
	}
	if state.Confidence != models.ConfidenceLow {
		t.Errorf("default confidence = %s, want low", state.Confidence)
	}
	if state.MovementStartedAt != nil {
		t.Error("default state should have no movement start")
	}
}

// TestSaveMovementStateRoundTrip verifies upsert and re-read of the single row.
func TestSaveMovementStateRoundTrip(t *testing.T) {
	repo := setupTestRepo(t)

	started := time.Now().Unix() - 60
	state := &models.MovementState{
		IsMoving:          true,
		Confidence:        models.ConfidenceHigh,
		MovementStartedAt: &started,
	}
	if err := repo.SaveMovementState(state); err != nil {
		t.Fatalf("SaveMovementState failed: %v", err)
	}

	got, err := repo.GetMovementState()
	if err != nil {
		t.Fatalf("GetMovementState failed: %v", err)
	}
	if !got.IsMoving || got.Confidence != models.ConfidenceHigh {
		t.Errorf("unexpected state: %+v", got)
	}
	if got.MovementStartedAt == nil || *got.MovementStartedAt != started {
		t.Errorf("movement start not preserved: %v", got.MovementStartedAt)
	}

	// Overwrite with a stationary state and make sure the start clears.
	if err := repo.SaveMovementState(&models.MovementState{Confidence: models.ConfidenceLow}); err != nil {
		t.Fatalf("second SaveMovementState failed: %v", err)
	}
	got, err = repo.GetMovementState()
	if err != nil {
		t.Fatalf("GetMovementState failed: %v", err)
	}
	if got.IsMoving || got.MovementStartedAt != nil {
		t.Errorf("stationary overwrite not applied: %+v", got)
	}
}

// =====================================================
// DrivePreference tests
// =====================================================

// TestDrivePreferenceDefault verifies unknown preference before any write.
func TestDrivePreferenceDefault(t *testing.T) {
	repo := setupTestRepo(t)

	pref, err := repo.GetDrivePreference()
	if err != nil {
		t.Fatalf("GetDrivePreference failed: %v", err)
	}
	if pref.Choice != models.PreferenceUnknown || pref.DeclineCount != 0 {
		t.Errorf("unexpected default preference: %+v", pref)
	}
}

// TestSaveDrivePreference verifies the preference round-trips.
func TestSaveDrivePreference(t *testing.T) {
	repo := setupTestRepo(t)

	promptedAt := time.Now().Unix()
	pref := &models.DrivePreference{
		Choice:         models.PreferenceDeclined,
		DeclineCount:   2,
		LastPromptedAt: &promptedAt,
	}
	if err := repo.SaveDrivePreference(pref); err != nil {
		t.Fatalf("SaveDrivePreference failed: %v", err)
	}

	got, err := repo.GetDrivePreference()
	if err != nil {
		t.Fatalf("GetDrivePreference failed: %v", err)
	}
	if got.Choice != models.PreferenceDeclined || got.DeclineCount != 2 {
		t.Errorf("preference not preserved: %+v", got)
	}
	if got.LastPromptedAt == nil || *got.LastPromptedAt != promptedAt {
		t.Errorf("last prompted not preserved: %v", got.LastPromptedAt)
	}
}

// =====================================================
// OfflineAction tests
// =====================================================

func newTestAction() *models.OfflineAction {
	return &models.OfflineAction{
		Type:       models.ActionAddNote,
		EntityType: "job",
		EntityID:   "job-42",
		Payload:    json.RawMessage(`{"text":"gate code 4471"}`),
		MaxRetries: 3,
	}
}

// TestCreateOfflineAction verifies ID assignment and pending defaults.
func TestCreateOfflineAction(t *testing.T) {
	repo := setupTestRepo(t)

	action := newTestAction()
	if err := repo.CreateOfflineAction(action); err != nil {
		t.Fatalf("CreateOfflineAction failed: %v", err)
	}
	if action.ID == "" {
		t.Fatal("action ID should be assigned")
	}
	if action.Status != models.ActionStatusPending {
		t.Errorf("status = %s, want pending", action.Status)
	}

	got, err := repo.GetOfflineAction(string(action.ID))
	if err != nil {
		t.Fatalf("GetOfflineAction failed: %v", err)
	}
	if got.Type != models.ActionAddNote || got.EntityID != "job-42" {
		t.Errorf("unexpected action: %+v", got)
	}
	if string(got.Payload) != `{"text":"gate code 4471"}` {
		t.Errorf("payload not preserved: %s", got.Payload)
	}
	if got.HasAsset() {
		t.Error("note action should not have an asset")
	}
}

// TestDuePendingActions verifies ordering and the retry-time filter.
func TestDuePendingActions(t *testing.T) {
	repo, database := setupTestRepoDB(t)

	first := newTestAction()
	if err := repo.CreateOfflineAction(first); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	second := newTestAction()
	second.EntityID = "job-43"
	if err := repo.CreateOfflineAction(second); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	// Both creates land in the same second; separate them explicitly so
	// the creation-order assertion is deterministic.
	if _, err := database.Exec(
		"UPDATE offline_actions SET created_at = created_at + 10 WHERE id = ?",
		string(second.ID)); err != nil {
		t.Fatalf("failed to adjust created_at: %v", err)
	}

	// Park the second action into the future; it must not be due.
	future := time.Now().Add(time.Hour).Unix()
	if err := repo.ParkActionForRetry(string(second.ID), 1, future, "timeout"); err != nil {
		t.Fatalf("ParkActionForRetry failed: %v", err)
	}

	due, err := repo.DuePendingActions(time.Now().Unix(), 10)
	if err != nil {
		t.Fatalf("DuePendingActions failed: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("expected 1 due action, got %d", len(due))
	}
	if due[0].ID != first.ID {
		t.Errorf("wrong action due: %s", due[0].ID)
	}

	// Once the clock passes the retry time both are due, oldest first.
	due, err = repo.DuePendingActions(future+1, 10)
	if err != nil {
		t.Fatalf("DuePendingActions failed: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("expected 2 due actions, got %d", len(due))
	}
	if due[0].ID != first.ID || due[1].ID != second.ID {
		t.Error("due actions not ordered by creation time")
	}
}

// TestMarkActionInProgress verifies the pending guard.
func TestMarkActionInProgress(t *testing.T) {
	repo := setupTestRepo(t)

	action := newTestAction()
	if err := repo.CreateOfflineAction(action); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if err := repo.MarkActionInProgress(string(action.ID)); err != nil {
		t.Fatalf("MarkActionInProgress failed: %v", err)
	}

	// A second claim must fail: the action is no longer pending.
	if err := repo.MarkActionInProgress(string(action.ID)); err == nil {
		t.Error("claiming an in_progress action should fail")
	}

	got, err := repo.GetOfflineAction(string(action.ID))
	if err != nil {
		t.Fatalf("GetOfflineAction failed: %v", err)
	}
	if got.Status != models.ActionStatusInProgress {
		t.Errorf("status = %s, want in_progress", got.Status)
	}
}

// TestMarkActionFailedAndRequeue verifies the failed park and bulk requeue.
func TestMarkActionFailedAndRequeue(t *testing.T) {
	repo := setupTestRepo(t)

	action := newTestAction()
	if err := repo.CreateOfflineAction(action); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := repo.MarkActionFailed(string(action.ID), "server rejected payload"); err != nil {
		t.Fatalf("MarkActionFailed failed: %v", err)
	}

	got, _ := repo.GetOfflineAction(string(action.ID))
	if got.Status != models.ActionStatusFailed || got.LastError != "server rejected payload" {
		t.Errorf("unexpected failed action: %+v", got)
	}

	requeued, err := repo.RequeueFailedActions()
	if err != nil {
		t.Fatalf("RequeueFailedActions failed: %v", err)
	}
	if requeued != 1 {
		t.Errorf("requeued = %d, want 1", requeued)
	}

	got, _ = repo.GetOfflineAction(string(action.ID))
	if got.Status != models.ActionStatusPending || got.RetryCount != 0 || got.LastError != "" {
		t.Errorf("requeue did not reset the action: %+v", got)
	}
}

// =====================================================
// Action/asset pairing tests
// =====================================================

const testHash = "a665a45920422f9d417e4867efdc4fb8a04a1f3fff1fa07e998e86f7f7a27ae3"

// TestCreateActionWithAsset verifies the paired insert links both rows.
func TestCreateActionWithAsset(t *testing.T) {
	repo := setupTestRepo(t)

	action := newTestAction()
	action.Type = models.ActionCapturePhoto
	asset := &models.OfflineAsset{
		Kind:        models.AssetKindPhoto,
		ContentHash: testHash,
		MimeType:    "image/jpeg",
		SizeBytes:   2048,
	}
	if err := repo.CreateActionWithAsset(action, asset); err != nil {
		t.Fatalf("CreateActionWithAsset failed: %v", err)
	}

	if !action.HasAsset() || *action.AssetID != asset.ID {
		t.Error("action not linked to the asset")
	}
	if asset.ActionID != action.ID {
		t.Error("asset not linked back to the action")
	}

	got, err := repo.GetAssetByAction(string(action.ID))
	if err != nil {
		t.Fatalf("GetAssetByAction failed: %v", err)
	}
	if got == nil || got.ContentHash != testHash || got.Kind != models.AssetKindPhoto {
		t.Errorf("unexpected asset: %+v", got)
	}
}

// TestGetAssetByActionMissing verifies nil, nil for actions without media.
func TestGetAssetByActionMissing(t *testing.T) {
	repo := setupTestRepo(t)

	action := newTestAction()
	if err := repo.CreateOfflineAction(action); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	asset, err := repo.GetAssetByAction(string(action.ID))
	if err != nil {
		t.Fatalf("GetAssetByAction failed: %v", err)
	}
	if asset != nil {
		t.Errorf("expected no asset, got %+v", asset)
	}
}

// TestDeleteActionWithAsset verifies both rows go in one transaction and
// the content hash comes back for blob cleanup.
func TestDeleteActionWithAsset(t *testing.T) {
	repo := setupTestRepo(t)

	action := newTestAction()
	action.Type = models.ActionVoiceNote
	asset := &models.OfflineAsset{
		Kind:        models.AssetKindAudio,
		ContentHash: testHash,
		MimeType:    "audio/webm",
		SizeBytes:   4096,
	}
	if err := repo.CreateActionWithAsset(action, asset); err != nil {
		t.Fatalf("CreateActionWithAsset failed: %v", err)
	}

	hash, err := repo.DeleteActionWithAsset(string(action.ID))
	if err != nil {
		t.Fatalf("DeleteActionWithAsset failed: %v", err)
	}
	if hash != testHash {
		t.Errorf("returned hash = %s, want %s", hash, testHash)
	}

	if _, err := repo.GetOfflineAction(string(action.ID)); err == nil {
		t.Error("action should be gone")
	}
	remaining, err := repo.GetAssetByAction(string(action.ID))
	if err != nil {
		t.Fatalf("GetAssetByAction failed: %v", err)
	}
	if remaining != nil {
		t.Error("asset row should be gone")
	}
}

// TestDeleteActionWithoutAsset verifies deletion of a plain action returns
// an empty hash.
func TestDeleteActionWithoutAsset(t *testing.T) {
	repo := setupTestRepo(t)

	action := newTestAction()
	if err := repo.CreateOfflineAction(action); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	hash, err := repo.DeleteActionWithAsset(string(action.ID))
	if err != nil {
		t.Fatalf("DeleteActionWithAsset failed: %v", err)
	}
	if hash != "" {
		t.Errorf("expected empty hash, got %s", hash)
	}
}

// TestCountAssetsByHash verifies reference counting for dedup cleanup.
func TestCountAssetsByHash(t *testing.T) {
	repo := setupTestRepo(t)

	for i := 0; i < 2; i++ {
		action := newTestAction()
		action.Type = models.ActionCapturePhoto
		asset := &models.OfflineAsset{
			Kind:        models.AssetKindPhoto,
			ContentHash: testHash,
			MimeType:    "image/jpeg",
			SizeBytes:   2048,
		}
		if err := repo.CreateActionWithAsset(action, asset); err != nil {
			t.Fatalf("CreateActionWithAsset failed: %v", err)
		}
	}

	count, err := repo.CountAssetsByHash(testHash)
	if err != nil {
		t.Fatalf("CountAssetsByHash failed: %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
}

// =====================================================
// Pending counts tests
// =====================================================

// TestCountPending verifies the queue summary over mixed statuses.
func TestCountPending(t *testing.T) {
	repo := setupTestRepo(t)

	pending := newTestAction()
	if err := repo.CreateOfflineAction(pending); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	withAsset := newTestAction()
	withAsset.Type = models.ActionCapturePhoto
	asset := &models.OfflineAsset{
		Kind:        models.AssetKindPhoto,
		ContentHash: testHash,
		MimeType:    "image/jpeg",
		SizeBytes:   1024,
	}
	if err := repo.CreateActionWithAsset(withAsset, asset); err != nil {
		t.Fatalf("CreateActionWithAsset failed: %v", err)
	}

	failed := newTestAction()
	if err := repo.CreateOfflineAction(failed); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := repo.MarkActionFailed(string(failed.ID), "rejected"); err != nil {
		t.Fatalf("MarkActionFailed failed: %v", err)
	}

	counts, err := repo.CountPending()
	if err != nil {
		t.Fatalf("CountPending failed: %v", err)
	}
	if counts.Actions != 2 {
		t.Errorf("Actions = %d, want 2", counts.Actions)
	}
	if counts.Assets != 1 {
		t.Errorf("Assets = %d, want 1", counts.Assets)
	}
	if counts.Failed != 1 {
		t.Errorf("Failed = %d, want 1", counts.Failed)
	}
}

// Package models provides data model definitions for the companion daemon.
package models

import "encoding/json"

// ActionType identifies the user intent captured by an offline action.
type ActionType string

const (
	ActionAddNote      ActionType = "ADD_NOTE"
	ActionUpdateStatus ActionType = "UPDATE_STATUS"
	ActionCreateDraft  ActionType = "CREATE_DRAFT"
	ActionCapturePhoto ActionType = "CAPTURE_PHOTO"
	ActionVoiceNote    ActionType = "VOICE_NOTE"
)

// ActionStatus tracks an action through the durable queue.
type ActionStatus string

const (
	ActionStatusPending    ActionStatus = "pending"
	ActionStatusInProgress ActionStatus = "in_progress"
	ActionStatusFailed     ActionStatus = "failed"
	ActionStatusSynced     ActionStatus = "synced"
)

// OfflineAction is a durable, queued user intent awaiting submission to
// the cloud API. Rows are removed once the server acknowledges them.
type OfflineAction struct {
	ID         UUID            `db:"id" json:"id"`
	Type       ActionType      `db:"type" json:"type"`
	EntityType string          `db:"entity_type" json:"entity_type"`
	EntityID   string          `db:"entity_id" json:"entity_id"`
	Payload    json.RawMessage `db:"payload" json:"payload"`
	AssetID    *UUID           `db:"asset_id" json:"asset_id,omitempty"`

	Status      ActionStatus `db:"status" json:"status"`
	RetryCount  int          `db:"retry_count" json:"retry_count"`
	MaxRetries  int          `db:"max_retries" json:"max_retries"`
	NextRetryAt int64        `db:"next_retry_at" json:"next_retry_at"`
	LastError   string       `db:"last_error" json:"last_error,omitempty"`

	CreatedAt int64 `db:"created_at" json:"created_at"`
	UpdatedAt int64 `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for OfflineAction.
func (OfflineAction) TableName() string {
	return "offline_actions"
}

// HasAsset reports whether a media asset is linked to this action.
func (a *OfflineAction) HasAsset() bool {
	return a.AssetID != nil && *a.AssetID != ""
}

// Package models provides data model definitions for the companion daemon.
package models

// AssetKind distinguishes photo captures from voice notes.
type AssetKind string

const (
	AssetKindPhoto AssetKind = "photo"
	AssetKindAudio AssetKind = "audio"
)

// OfflineAsset is the media blob record linked to an offline action. The
// blob itself lives in the content-addressed store under ContentHash. An
// asset is never submitted independently of its action, and both are
// deleted together once the action is confirmed synced.
type OfflineAsset struct {
	ID          UUID      `db:"id" json:"id"`
	ActionID    UUID      `db:"action_id" json:"action_id"`
	Kind        AssetKind `db:"kind" json:"kind"`
	ContentHash string    `db:"content_hash" json:"content_hash"`
	MimeType    string    `db:"mime_type" json:"mime_type"`
	SizeBytes   int64     `db:"size_bytes" json:"size_bytes"`
	CreatedAt   int64     `db:"created_at" json:"created_at"`
}

// TableName returns the table name for OfflineAsset.
func (OfflineAsset) TableName() string {
	return "offline_assets"
}

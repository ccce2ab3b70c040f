// Package models provides data model definitions for the companion daemon.
package models

// PreferenceChoice is the user's stored answer to the drive-mode prompt.
type PreferenceChoice string

const (
	PreferenceUnknown  PreferenceChoice = "unknown"
	PreferenceAccepted PreferenceChoice = "accepted"
	PreferenceDeclined PreferenceChoice = "declined"
)

// DeclineLimit is the number of declines after which the preference
// becomes terminally declined and the prompt is suppressed.
const DeclineLimit = 2

// DrivePreference records the drive-mode prompt decision. Created with
// PreferenceUnknown and kept for the life of the installation.
type DrivePreference struct {
	Choice         PreferenceChoice `db:"choice" json:"choice"`
	DeclineCount   int              `db:"decline_count" json:"decline_count"`
	LastPromptedAt *int64           `db:"last_prompted_at" json:"last_prompted_at,omitempty"`
	UpdatedAt      int64            `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for DrivePreference.
func (DrivePreference) TableName() string {
	return "drive_preference"
}

// PromptSuppressed reports whether the prompt must never be shown again
// under the normal flow.
func (p *DrivePreference) PromptSuppressed() bool {
	return p.Choice != PreferenceUnknown || p.DeclineCount >= DeclineLimit
}

// Package models provides data model definitions for the companion daemon.
package models

import "time"

// Confidence classifies how reliably recent speed samples indicate
// vehicular movement.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// MovementState is the detector's latest classification. A single row is
// kept so other components can read it without subscribing to the
// geolocation stream.
type MovementState struct {
	IsMoving          bool       `db:"is_moving" json:"is_moving"`
	Confidence        Confidence `db:"confidence" json:"confidence"`
	MovementStartedAt *int64     `db:"movement_started_at" json:"movement_started_at,omitempty"`
	UpdatedAt         int64      `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for MovementState.
func (MovementState) TableName() string {
	return "movement_state"
}

// StartedAt returns the movement start as time.Time, or the zero time when
// no episode is active.
func (m *MovementState) StartedAt() time.Time {
	if m.MovementStartedAt == nil {
		return time.Time{}
	}
	return time.Unix(*m.MovementStartedAt, 0)
}

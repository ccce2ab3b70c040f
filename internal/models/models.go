// Package models provides data model definitions for the companion daemon.
package models

// UUID is a string-typed UUID v4.
type UUID string

// String returns the UUID as a plain string.
func (u UUID) String() string {
	return string(u)
}

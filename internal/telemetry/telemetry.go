// Package telemetry provides no-op usage analytics hooks.
//
// The daemon transmits nothing without explicit user opt-in, so every
// function here is a no-op by default. A real implementation can be
// swapped in behind the same calls once consent is stored.
package telemetry

// IsEnabled reports whether telemetry is active. Always false until the
// user opts in.
func IsEnabled() bool {
	return false
}

// TrackEvent records a usage event. No-op without opt-in.
func TrackEvent(name string, properties map[string]interface{}) {
}

// TrackError records an error occurrence. No-op without opt-in.
func TrackError(err error, context map[string]interface{}) {
}

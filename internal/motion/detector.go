// Package motion classifies geolocation speed samples into movement state.
//
// The detector decides, from a live stream of speed readings, whether the
// user is plausibly driving: a sustained stretch above the speed threshold
// flips the state to moving, and the spread of recent samples yields a
// low/medium/high confidence. The drive-mode controller consumes the
// result; the detector itself knows nothing about UI modes.
package motion

import (
	"sync"
	"time"

	apperrors "github.com/tradeline-app/tradeline/backend/internal/errors"
	"github.com/tradeline-app/tradeline/backend/internal/logging"
	"github.com/tradeline-app/tradeline/backend/internal/models"
)

// MPSToMPH converts meters/second, as reported by the Geolocation API, to
// miles/hour.
const MPSToMPH = 2.237

// WatchStatus is the lifecycle of the geolocation watch.
type WatchStatus string

const (
	StatusInactive   WatchStatus = "inactive"
	StatusRequesting WatchStatus = "requesting"
	StatusActive     WatchStatus = "active"
	StatusDenied     WatchStatus = "denied"
	StatusError      WatchStatus = "error"
)

// Sample is one geolocation reading. Speed is nullable: platforms report
// nil when the fix has no velocity estimate.
type Sample struct {
	SpeedMPS   *float64  `json:"speed_mps"`
	Accuracy   float64   `json:"accuracy"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Config holds detector tuning.
type Config struct {
	// ThresholdMPH is the driving speed threshold.
	ThresholdMPH float64
	// HighFactor scales the threshold for the high-confidence test.
	HighFactor float64
	// SustainedWindow is how long speed must stay above the threshold
	// before movement is declared.
	SustainedWindow time.Duration
	// DipTolerance is how many consecutive below-threshold samples are
	// tolerated before the episode resets. 0 resets on the first dip.
	DipTolerance int
	// HistorySize bounds the retained mph readings.
	HistorySize int
	// ConfidenceWindow is how many recent readings the confidence
	// classification looks at.
	ConfidenceWindow int
}

// DefaultConfig returns the production tuning.
func DefaultConfig() Config {
	return Config{
		ThresholdMPH:     12.0,
		HighFactor:       1.5,
		SustainedWindow:  50 * time.Second,
		DipTolerance:     0,
		HistorySize:      20,
		ConfidenceWindow: 10,
	}
}

// Store persists the movement state between samples and across restarts.
type Store interface {
	GetMovementState() (*models.MovementState, error)
	SaveMovementState(state *models.MovementState) error
}

// ChangeHandler receives the new state whenever it changes.
type ChangeHandler func(state models.MovementState)

// Detector turns speed samples into a MovementState.
type Detector struct {
	cfg   Config
	store Store

	mu             sync.Mutex
	status         WatchStatus
	history        []float64
	sustainedStart time.Time
	dips           int
	state          models.MovementState
	onChange       ChangeHandler

	now func() time.Time
}

// NewDetector creates a Detector. Any previously persisted state is loaded
// so a restart does not lose an in-progress episode's result.
func NewDetector(cfg Config, store Store) (*Detector, error) {
	if cfg.ThresholdMPH <= 0 {
		cfg = DefaultConfig()
	}

	state, err := store.GetMovementState()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to load movement state", err)
	}

	return &Detector{
		cfg:    cfg,
		store:  store,
		status: StatusInactive,
		state:  *state,
		now:    time.Now,
	}, nil
}

// SetChangeHandler registers the callback fired on every state change.
func (d *Detector) SetChangeHandler(handler ChangeHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onChange = handler
}

// Start begins a watch session. The status stays requesting until the
// first sample arrives.
func (d *Detector) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.status {
	case StatusDenied, StatusError:
		// Terminal for the session until the UI reports a new grant.
		return
	case StatusActive, StatusRequesting:
		return
	}
	d.status = StatusRequesting
	logging.Debug("geolocation watch requested")
}

// Stop ends the watch session, e.g. when the page is hidden. Movement
// state is kept; only the episode-in-progress bookkeeping resets.
func (d *Detector) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.status = StatusInactive
	d.sustainedStart = time.Time{}
	d.dips = 0
	logging.Debug("geolocation watch stopped")
}

// ReportDenied records a permission denial. Terminal until the user
// changes browser permission and the UI calls Start again after ResetStatus.
func (d *Detector) ReportDenied() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status = StatusDenied
	logging.Warn("geolocation permission denied")
}

// ReportError records a generic geolocation failure.
func (d *Detector) ReportError(cause string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status = StatusError
	logging.Warn("geolocation error", logging.Fields{"cause": cause})
}

// ResetStatus clears a terminal denied/error status so the UI can retry
// after the user changed permissions.
func (d *Detector) ResetStatus() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status = StatusInactive
}

// Status returns the watch lifecycle status.
func (d *Detector) Status() WatchStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

// State returns a copy of the current movement state.
func (d *Detector) State() models.MovementState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Process ingests one sample. Nil or negative speed readings carry no
// information and are ignored. Samples arriving outside an active watch
// session are rejected.
func (d *Detector) Process(sample Sample) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.status {
	case StatusRequesting:
		d.status = StatusActive
	case StatusActive:
	default:
		return apperrors.New(apperrors.ErrGeoNotWatching, "no active geolocation watch")
	}

	if sample.SpeedMPS == nil || *sample.SpeedMPS < 0 {
		return nil
	}

	mph := *sample.SpeedMPS * MPSToMPH
	at := sample.RecordedAt
	if at.IsZero() {
		at = d.now()
	}

	d.history = append(d.history, mph)
	if len(d.history) > d.cfg.HistorySize {
		d.history = d.history[len(d.history)-d.cfg.HistorySize:]
	}

	prev := d.state

	// Strictly above, matching classify: a reading pinned exactly at the
	// threshold counts as a dip, not as movement.
	if mph > d.cfg.ThresholdMPH {
		d.dips = 0
		if d.sustainedStart.IsZero() {
			d.sustainedStart = at
		}
		if !d.state.IsMoving && at.Sub(d.sustainedStart) >= d.cfg.SustainedWindow {
			started := d.sustainedStart.Unix()
			d.state.IsMoving = true
			d.state.MovementStartedAt = &started
			logging.Info("movement detected", logging.Fields{
				"mph":       mph,
				"sustained": at.Sub(d.sustainedStart).Seconds(),
			})
		}
	} else {
		d.dips++
		if d.dips > d.cfg.DipTolerance {
			// Episode over: reset the sustained timer and the history.
			d.sustainedStart = time.Time{}
			d.dips = 0
			d.history = nil
			if d.state.IsMoving {
				logging.Info("movement ended", logging.Fields{"mph": mph})
			}
			d.state.IsMoving = false
			d.state.MovementStartedAt = nil
		}
	}

	d.state.Confidence = d.classify()

	if d.state.IsMoving != prev.IsMoving || d.state.Confidence != prev.Confidence {
		if err := d.store.SaveMovementState(&d.state); err != nil {
			return apperrors.Wrap(apperrors.ErrDatabase, "failed to persist movement state", err)
		}
		if d.onChange != nil {
			// Copy under lock, deliver outside it.
			state := d.state
			handler := d.onChange
			go handler(state)
		}
	}

	return nil
}

// classify grades the recent history: high when at least 90% of the
// window exceeds HighFactor x threshold, medium when at least 70% exceeds
// the threshold, low otherwise.
func (d *Detector) classify() models.Confidence {
	window := d.history
	if len(window) > d.cfg.ConfidenceWindow {
		window = window[len(window)-d.cfg.ConfidenceWindow:]
	}
	if len(window) == 0 {
		return models.ConfidenceLow
	}

	aboveHigh := 0
	aboveThreshold := 0
	for _, mph := range window {
		if mph > d.cfg.ThresholdMPH*d.cfg.HighFactor {
			aboveHigh++
		}
		if mph > d.cfg.ThresholdMPH {
			aboveThreshold++
		}
	}

	n := float64(len(window))
	if float64(aboveHigh)/n >= 0.9 {
		return models.ConfidenceHigh
	}
	if float64(aboveThreshold)/n >= 0.7 {
		return models.ConfidenceMedium
	}
	return models.ConfidenceLow
}

// Package drivemode gates the reduced-interaction driving UI mode.
package drivemode

import (
	"sync"
	"time"

	apperrors "github.com/tradeline-app/tradeline/backend/internal/errors"
	"github.com/tradeline-app/tradeline/backend/internal/logging"
	"github.com/tradeline-app/tradeline/backend/internal/models"
)

// Store persists the drive-mode preference across restarts.
type Store interface {
	GetDrivePreference() (*models.DrivePreference, error)
	SaveDrivePreference(pref *models.DrivePreference) error
}

// Event is pushed to the UI when the mode or prompt state changes.
type Event struct {
	Type     string `json:"type"` // prompt, entered, exited
	Snapshot Snapshot
}

// EventHandler receives controller events.
type EventHandler func(event Event)

// Snapshot is the controller state as the UI sees it.
type Snapshot struct {
	IsDriveMode    bool                    `json:"is_drive_mode"`
	ShowSuggestion bool                    `json:"show_suggestion"`
	Preference     models.PreferenceChoice `json:"preference"`
	DeclineCount   int                     `json:"decline_count"`
}

// Controller owns the drive-mode prompt decision and the UI mode toggle.
// The mode toggle is deliberately independent of the stored preference:
// entering manually does not opt the user in, and there is no automatic
// exit when motion stops.
type Controller struct {
	store Store

	mu          sync.Mutex
	pref        models.DrivePreference
	isDriveMode bool
	suggesting  bool
	onEvent     EventHandler

	now func() time.Time
}

// NewController loads the persisted preference and returns a Controller.
func NewController(store Store) (*Controller, error) {
	pref, err := store.GetDrivePreference()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to load drive preference", err)
	}
	return &Controller{
		store: store,
		pref:  *pref,
		now:   time.Now,
	}, nil
}

// SetEventHandler registers the callback fired on prompt/enter/exit.
func (c *Controller) SetEventHandler(handler EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEvent = handler
}

// ObserveMovement feeds the latest movement state into the prompt gate.
// The suggestion shows iff confidence is medium or high, the preference is
// still unknown, and the user is not already in drive mode.
func (c *Controller) ObserveMovement(state models.MovementState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	confident := state.Confidence == models.ConfidenceMedium ||
		state.Confidence == models.ConfidenceHigh

	show := confident && !c.pref.PromptSuppressed() && !c.isDriveMode

	if show && !c.suggesting {
		c.suggesting = true
		at := c.now().Unix()
		c.pref.LastPromptedAt = &at
		if err := c.store.SaveDrivePreference(&c.pref); err != nil {
			logging.Error("failed to persist prompt time", err)
		}
		c.emit("prompt")
	} else if !show {
		c.suggesting = false
	}
}

// Accept opts the user in and enters drive mode.
func (c *Controller) Accept() (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pref.Choice = models.PreferenceAccepted
	if err := c.store.SaveDrivePreference(&c.pref); err != nil {
		return c.snapshot(), apperrors.Wrap(apperrors.ErrDatabase, "failed to persist preference", err)
	}

	c.suggesting = false
	c.isDriveMode = true
	logging.Info("drive mode accepted")
	c.emit("entered")
	return c.snapshot(), nil
}

// Decline records a decline. The second decline makes the preference
// terminally declined; the prompt is never shown again in the normal flow.
func (c *Controller) Decline() (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pref.DeclineCount++
	if c.pref.DeclineCount >= models.DeclineLimit {
		c.pref.Choice = models.PreferenceDeclined
	}
	if err := c.store.SaveDrivePreference(&c.pref); err != nil {
		return c.snapshot(), apperrors.Wrap(apperrors.ErrDatabase, "failed to persist preference", err)
	}

	c.suggesting = false
	logging.Info("drive mode declined", logging.Fields{"count": c.pref.DeclineCount})
	return c.snapshot(), nil
}

// Enter toggles the driving UI on without touching the stored preference.
func (c *Controller) Enter() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isDriveMode {
		c.isDriveMode = true
		c.suggesting = false
		c.emit("entered")
	}
	return c.snapshot()
}

// Exit leaves the driving UI. Exit is manual only.
func (c *Controller) Exit() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isDriveMode {
		c.isDriveMode = false
		c.emit("exited")
	}
	return c.snapshot()
}

// Reset restores the preference to unknown. Support escape hatch; the
// prompt flow never calls this.
func (c *Controller) Reset() (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pref.Choice = models.PreferenceUnknown
	c.pref.DeclineCount = 0
	if err := c.store.SaveDrivePreference(&c.pref); err != nil {
		return c.snapshot(), apperrors.Wrap(apperrors.ErrDatabase, "failed to persist preference", err)
	}
	logging.Info("drive preference reset")
	return c.snapshot(), nil
}

// Current returns the controller state.
func (c *Controller) Current() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot()
}

// snapshot must be called with the mutex held.
func (c *Controller) snapshot() Snapshot {
	return Snapshot{
		IsDriveMode:    c.isDriveMode,
		ShowSuggestion: c.suggesting,
		Preference:     c.pref.Choice,
		DeclineCount:   c.pref.DeclineCount,
	}
}

// emit must be called with the mutex held.
func (c *Controller) emit(eventType string) {
	if c.onEvent == nil {
		return
	}
	event := Event{Type: eventType, Snapshot: c.snapshot()}
	handler := c.onEvent
	go handler(event)
}

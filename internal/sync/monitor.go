// Package sync replays the durable offline queue to the cloud API.
package sync

import (
	gosync "sync"

	"github.com/tradeline-app/tradeline/backend/internal/logging"
)

// NetworkStatus is the client-reported connectivity state.
type NetworkStatus string

const (
	StatusOnline  NetworkStatus = "online"
	StatusOffline NetworkStatus = "offline"
)

// Listener is notified on every online/offline transition.
type Listener func(online bool)

// Monitor holds connectivity state reported by the UI. The daemon starts
// offline and waits for the first report rather than assuming a network.
type Monitor struct {
	mu        gosync.RWMutex
	online    bool
	listeners []Listener
}

// NewMonitor creates a Monitor in the offline state.
func NewMonitor() *Monitor {
	return &Monitor{}
}

// SetOnline records a connectivity report. Listeners fire only on an
// actual transition; repeated reports of the same state are no-ops.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	listeners := make([]Listener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	logging.Info("network status changed", logging.Fields{"online": online})

	for _, l := range listeners {
		l(online)
	}
}

// IsOnline returns the last reported connectivity state.
func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// Status returns the connectivity as a NetworkStatus.
func (m *Monitor) Status() NetworkStatus {
	if m.IsOnline() {
		return StatusOnline
	}
	return StatusOffline
}

// AddListener registers a transition listener.
func (m *Monitor) AddListener(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

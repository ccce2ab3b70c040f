// Package sync replays the durable offline queue to the cloud API.
package sync

import (
	"context"
	gosync "sync"
	"time"

	"github.com/tradeline-app/tradeline/backend/internal/logging"
)

// Scheduler runs the engine periodically while online and refreshes
// pending counts for UI badges. Counts are also pushed on every queue
// mutation; the periodic publish exists so a reconnecting UI client gets
// a fresh badge without waiting for the next mutation.
type Scheduler struct {
	engine          *Engine
	monitor         *Monitor
	syncInterval    time.Duration
	publishInterval time.Duration

	stopCh    chan struct{}
	wg        gosync.WaitGroup
	mu        gosync.Mutex
	isRunning bool
}

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	SyncInterval    time.Duration // periodic sync while online
	PublishInterval time.Duration // pending-count refresh for UI badges
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		SyncInterval:    15 * time.Minute,
		PublishInterval: 5 * time.Second,
	}
}

// NewScheduler creates a Scheduler.
func NewScheduler(engine *Engine, monitor *Monitor, config *SchedulerConfig) *Scheduler {
	if config == nil {
		config = DefaultSchedulerConfig()
	}
	return &Scheduler{
		engine:          engine,
		monitor:         monitor,
		syncInterval:    config.SyncInterval,
		publishInterval: config.PublishInterval,
		stopCh:          make(chan struct{}),
	}
}

// Start starts the background loops.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.mu.Unlock()

	s.wg.Add(2)
	go s.periodicSyncLoop(ctx)
	go s.publishLoop(ctx)

	logging.Info("sync scheduler started", logging.Fields{
		"sync_interval":    s.syncInterval.String(),
		"publish_interval": s.publishInterval.String(),
	})
}

// Stop stops the background loops gracefully.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()

	logging.Info("sync scheduler stopped")
}

// periodicSyncLoop triggers a sync on each tick while online.
func (s *Scheduler) periodicSyncLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if !s.monitor.IsOnline() {
				continue
			}
			// TriggerSync coalesces if a pass is already running.
			s.engine.TriggerSync(ctx)
		}
	}
}

// publishLoop refreshes pending counts on each tick.
func (s *Scheduler) publishLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.publishInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			counts, err := s.engine.queue.CountPending()
			if err != nil {
				logging.Error("failed to count pending", err)
				continue
			}
			s.engine.emit(Event{Type: "queue.pending", Counts: counts})
		}
	}
}

// IsRunning returns whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

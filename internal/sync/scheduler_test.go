package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerStartStop(t *testing.T) {
	h := newEngineHarness(false)
	s := NewScheduler(h.engine, h.monitor, &SchedulerConfig{
		SyncInterval:    time.Hour,
		PublishInterval: time.Hour,
	})

	assert.False(t, s.IsRunning())

	s.Start(context.Background())
	assert.True(t, s.IsRunning())

	// Repeated Start is a no-op.
	s.Start(context.Background())

	s.Stop()
	assert.False(t, s.IsRunning())

	// Repeated Stop must not panic on the closed channel.
	s.Stop()
}

func TestSchedulerPublishesPendingCounts(t *testing.T) {
	h := newEngineHarness(false)
	h.queue.add(pendingAction("a1"))

	events := make(chan Event, 16)
	h.engine.SetEventHandler(func(e Event) { events <- e })

	s := NewScheduler(h.engine, h.monitor, &SchedulerConfig{
		SyncInterval:    time.Hour,
		PublishInterval: 10 * time.Millisecond,
	})
	s.Start(context.Background())
	defer s.Stop()

	select {
	case e := <-events:
		assert.Equal(t, "queue.pending", e.Type)
		require.NotNil(t, e.Counts)
		assert.Equal(t, 1, e.Counts.Actions)
	case <-time.After(time.Second):
		t.Fatal("expected a queue.pending event")
	}
}

func TestSchedulerSkipsSyncWhileOffline(t *testing.T) {
	h := newEngineHarness(false)
	h.queue.add(pendingAction("a1"))

	s := NewScheduler(h.engine, h.monitor, &SchedulerConfig{
		SyncInterval:    10 * time.Millisecond,
		PublishInterval: time.Hour,
	})
	s.Start(context.Background())
	defer s.Stop()

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, h.remote.submitted, "no submissions while offline")
}

package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/reynard-dev/nlweb/internal/bus"
	"github.com/reynard-dev/nlweb/internal/config"
	"github.com/reynard-dev/nlweb/internal/perf"
	"github.com/reynard-dev/nlweb/internal/rollout"
)

func newTestMonitor(ready bool) (*Monitor, *perf.Tracker, *rollout.Controller) {
	tracker := perf.NewTracker(100)
	rollouts := rollout.New(false, "", false, 0)
	m := NewMonitor(tracker, rollouts, nil, func() bool { return ready }, config.Default, func() int { return 3 }, time.Minute)
	return m, tracker, rollouts
}

func TestMonitor_UnavailableBeforeInit(t *testing.T) {
	m, _, _ := newTestMonitor(false)

	report := m.ForceCheck()
	assert.Equal(t, StateUnavailable, report.State)
	assert.False(t, report.Available)
	assert.Equal(t, "Service not initialized", report.Error)
}

func TestMonitor_HealthyByDefault(t *testing.T) {
	m, _, _ := newTestMonitor(true)

	report := m.ForceCheck()
	assert.Equal(t, StateHealthy, report.State)
	assert.True(t, report.Available)
	assert.Empty(t, report.Error)

	// The report echoes the live configuration and cache occupancy.
	assert.True(t, report.Enabled)
	assert.False(t, report.CanaryEnabled)
	assert.False(t, report.RollbackEnabled)
	assert.True(t, report.PerformanceMonitoring)
	assert.Equal(t, 3, report.Stats.CacheSize)
	assert.Equal(t, 1000, report.Stats.CacheMaxSize)
}

func TestMonitor_UnhealthyOnRollback(t *testing.T) {
	m, _, rollouts := newTestMonitor(true)
	rollouts.Rollback("bad deploy")

	report := m.ForceCheck()
	assert.Equal(t, StateUnhealthy, report.State)
	assert.Contains(t, report.Error, "bad deploy")
}

func TestMonitor_DegradedOnErrorRate(t *testing.T) {
	m, tracker, _ := newTestMonitor(true)

	for i := 0; i < 8; i++ {
		tracker.RecordRequest(time.Millisecond, true)
	}
	tracker.RecordRequest(time.Millisecond, false)
	tracker.RecordRequest(time.Millisecond, false)

	report := m.ForceCheck()
	assert.Equal(t, StateDegraded, report.State)
	assert.InDelta(t, 0.2, report.Stats.ErrorRate, 1e-9)
}

func TestMonitor_DegradedOnColdCacheUnderLoad(t *testing.T) {
	m, tracker, _ := newTestMonitor(true)

	for i := 0; i < 60; i++ {
		tracker.RecordRequest(time.Millisecond, true)
		tracker.RecordCacheMiss()
	}

	report := m.ForceCheck()
	assert.Equal(t, StateDegraded, report.State)
}

func TestMonitor_NoHitRateCheckUnderLightLoad(t *testing.T) {
	m, tracker, _ := newTestMonitor(true)

	// Below the load threshold a cold cache is expected, not degradation.
	for i := 0; i < 10; i++ {
		tracker.RecordRequest(time.Millisecond, true)
		tracker.RecordCacheMiss()
	}

	report := m.ForceCheck()
	assert.Equal(t, StateHealthy, report.State)
}

func TestMonitor_StatusIsThrottled(t *testing.T) {
	m, _, rollouts := newTestMonitor(true)
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return clock }

	first := m.Status()
	assert.Equal(t, StateHealthy, first.State)

	// State changed, but the throttle serves the cached report.
	rollouts.Rollback("incident")
	clock = clock.Add(10 * time.Second)
	assert.Equal(t, StateHealthy, m.Status().State)

	// ForceCheck bypasses the throttle.
	assert.Equal(t, StateUnhealthy, m.ForceCheck().State)

	// After the interval Status recomputes too.
	clock = clock.Add(2 * time.Minute)
	assert.Equal(t, StateUnhealthy, m.Status().State)
}

func TestMonitor_EmitsHealthCheckEvents(t *testing.T) {
	eventBus := bus.New()
	defer eventBus.Close()

	var seen []bus.Event
	eventBus.On(bus.EventHealthCheck, func(ev bus.Event) {
		seen = append(seen, ev)
	})

	tracker := perf.NewTracker(10)
	rollouts := rollout.New(true, "drill", false, 0)
	m := NewMonitor(tracker, rollouts, eventBus, func() bool { return true }, config.Default, nil, time.Minute)

	m.ForceCheck()
	if assert.Len(t, seen, 1) {
		assert.Equal(t, string(StateUnhealthy), seen[0].Status)
		assert.Contains(t, seen[0].Error, "drill")
	}
}

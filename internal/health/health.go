// Package health derives a service health status from rollout state and
// recent performance, throttled to a check interval.
package health

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/reynard-dev/nlweb/internal/bus"
	"github.com/reynard-dev/nlweb/internal/config"
	"github.com/reynard-dev/nlweb/internal/perf"
	"github.com/reynard-dev/nlweb/internal/rollout"
)

// State is a coarse service health level.
type State string

const (
	StateHealthy     State = "healthy"
	StateDegraded    State = "degraded"
	StateUnhealthy   State = "unhealthy"
	StateUnavailable State = "unavailable"
)

// Thresholds for the degraded state. A service under meaningful load with
// a high error rate or a cold cache is degraded, not broken.
const (
	degradedErrorRate = 0.10
	minLoadForHitRate = 50
	lowHitRate        = 0.01
)

// DefaultCheckInterval throttles repeated status computation.
const DefaultCheckInterval = 30 * time.Second

// Stats is the performance snapshot a report was derived from, plus the
// current cache occupancy at check time.
type Stats struct {
	perf.Snapshot

	CacheSize    int `json:"cache_size"`
	CacheMaxSize int `json:"cache_max_size"`
}

// Report is the result of a health check. It carries the performance
// snapshot it was derived from and echoes the rollout configuration so a
// single call answers "is it up, and how is it deployed".
type Report struct {
	State     State     `json:"state"`
	Available bool      `json:"available"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`

	Stats Stats `json:"stats"`

	Enabled               bool    `json:"enabled"`
	CanaryEnabled         bool    `json:"canary_enabled"`
	CanaryPercentage      float64 `json:"canary_percentage"`
	RollbackEnabled       bool    `json:"rollback_enabled"`
	PerformanceMonitoring bool    `json:"performance_monitoring"`
}

// Monitor computes health reports. Results are cached for the check
// interval; ForceCheck bypasses the throttle.
type Monitor struct {
	tracker  *perf.Tracker
	rollouts *rollout.Controller
	events   *bus.Bus
	ready    func() bool
	cfg      func() *config.Config
	cacheLen func() int

	interval time.Duration
	now      func() time.Time

	mu        sync.Mutex
	last      Report
	lastCheck time.Time
}

// NewMonitor wires a monitor to its inputs. ready reports whether the
// service has completed initialization, cfg returns the live
// configuration, cacheLen returns the current cache entry count. events
// and cacheLen may be nil.
func NewMonitor(tracker *perf.Tracker, rollouts *rollout.Controller, events *bus.Bus, ready func() bool, cfg func() *config.Config, cacheLen func() int, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	return &Monitor{
		tracker:  tracker,
		rollouts: rollouts,
		events:   events,
		ready:    ready,
		cfg:      cfg,
		cacheLen: cacheLen,
		interval: interval,
		now:      time.Now,
	}
}

// Status returns the current health report, reusing the previous one when
// the check interval has not elapsed.
func (m *Monitor) Status() Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if !m.lastCheck.IsZero() && now.Sub(m.lastCheck) < m.interval {
		return m.last
	}
	return m.checkLocked(now)
}

// ForceCheck recomputes the report immediately, ignoring the throttle.
func (m *Monitor) ForceCheck() Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checkLocked(m.now())
}

func (m *Monitor) checkLocked(now time.Time) Report {
	report := Report{CheckedAt: now}

	if m.cfg != nil {
		if c := m.cfg(); c != nil {
			report.Enabled = c.Enabled
			report.CanaryEnabled = c.Canary.Enabled
			report.CanaryPercentage = c.Canary.Percentage
			report.RollbackEnabled = c.Rollback.Enabled
			report.PerformanceMonitoring = c.Performance.Enabled
			report.Stats.CacheMaxSize = c.Cache.MaxEntries
		}
	}
	if m.cacheLen != nil {
		report.Stats.CacheSize = m.cacheLen()
	}

	switch {
	case m.ready != nil && !m.ready():
		report.State = StateUnavailable
		report.Error = "Service not initialized"

	default:
		report.Available = true
		report.Stats.Snapshot = m.tracker.Snapshot()

		if rolledBack, reason := m.rollouts.RollbackActive(); rolledBack {
			report.State = StateUnhealthy
			report.Error = "Rollback active: " + reason
			break
		}

		switch {
		case report.Stats.ErrorRate > degradedErrorRate:
			report.State = StateDegraded
			report.Error = "Error rate above threshold"
		case report.Stats.TotalRequests >= minLoadForHitRate && report.Stats.CacheHitRate < lowHitRate:
			report.State = StateDegraded
			report.Error = "Cache hit rate near zero under load"
		default:
			report.State = StateHealthy
		}
	}

	m.last = report
	m.lastCheck = now

	if report.State != StateHealthy {
		log.Warn().
			Str("state", string(report.State)).
			Str("error", report.Error).
			Msg("Health check")
	}
	if m.events != nil {
		ev := bus.NewEvent(bus.EventHealthCheck)
		ev.Status = string(report.State)
		if report.Error != "" {
			ev.Error = report.Error
		}
		m.events.Emit(ev)
	}
	return report
}

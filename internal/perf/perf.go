// Package perf tracks routing performance: request counters, latency
// percentiles over a bounded sample window, and cache effectiveness.
package perf

import (
	"sort"
	"sync"
	"time"
)

// DefaultWindowSize bounds the latency and outcome sample windows.
const DefaultWindowSize = 1000

// Snapshot is a point-in-time view of the tracker.
type Snapshot struct {
	TotalRequests  int64         `json:"total_requests"`
	TotalSuccesses int64         `json:"total_successes"`
	TotalFailures  int64         `json:"total_failures"`
	CacheHits      int64         `json:"cache_hits"`
	CacheMisses    int64         `json:"cache_misses"`
	CacheHitRate   float64       `json:"cache_hit_rate"`
	ErrorRate      float64       `json:"error_rate"`
	AvgLatency     time.Duration `json:"avg_latency_ms"`
	P95Latency     time.Duration `json:"p95_latency_ms"`
	P99Latency     time.Duration `json:"p99_latency_ms"`
	SampleCount    int           `json:"sample_count"`
}

// Tracker accumulates routing metrics. Safe for concurrent use.
type Tracker struct {
	mu sync.Mutex

	totalRequests  int64
	totalSuccesses int64
	totalFailures  int64
	cacheHits      int64
	cacheMisses    int64

	// latencies is a bounded ring of recent request durations.
	latencies []time.Duration
	latIdx    int
	latFull   bool

	// outcomes is a bounded ring of recent success/failure flags used for
	// the rolling error rate.
	outcomes []bool
	outIdx   int
	outFull  bool

	windowSize int
}

// NewTracker returns a tracker with the given sample window size.
// A non-positive size falls back to DefaultWindowSize.
func NewTracker(windowSize int) *Tracker {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &Tracker{
		latencies:  make([]time.Duration, windowSize),
		outcomes:   make([]bool, windowSize),
		windowSize: windowSize,
	}
}

// RecordRequest records one completed request with its latency and outcome.
func (t *Tracker) RecordRequest(latency time.Duration, success bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.totalRequests++
	if success {
		t.totalSuccesses++
	} else {
		t.totalFailures++
	}

	t.latencies[t.latIdx] = latency
	t.latIdx++
	if t.latIdx == t.windowSize {
		t.latIdx = 0
		t.latFull = true
	}

	t.outcomes[t.outIdx] = success
	t.outIdx++
	if t.outIdx == t.windowSize {
		t.outIdx = 0
		t.outFull = true
	}
}

// RecordCacheHit counts one cache hit.
func (t *Tracker) RecordCacheHit() {
	t.mu.Lock()
	t.cacheHits++
	t.mu.Unlock()
}

// RecordCacheMiss counts one cache miss.
func (t *Tracker) RecordCacheMiss() {
	t.mu.Lock()
	t.cacheMisses++
	t.mu.Unlock()
}

// TotalRequests returns the total request count.
func (t *Tracker) TotalRequests() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalRequests
}

// CacheHitRate returns hits / (hits + misses), or 0 when no lookups yet.
func (t *Tracker) CacheHitRate() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cacheHitRateLocked()
}

// ErrorRate returns the failure fraction over the recent outcome window,
// or 0 when no requests have been recorded.
func (t *Tracker) ErrorRate() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.errorRateLocked()
}

// Snapshot returns a consistent view of all tracked metrics.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	samples := t.sampleLocked()
	snap := Snapshot{
		TotalRequests:  t.totalRequests,
		TotalSuccesses: t.totalSuccesses,
		TotalFailures:  t.totalFailures,
		CacheHits:      t.cacheHits,
		CacheMisses:    t.cacheMisses,
		CacheHitRate:   t.cacheHitRateLocked(),
		ErrorRate:      t.errorRateLocked(),
		SampleCount:    len(samples),
	}
	if len(samples) == 0 {
		return snap
	}

	var sum time.Duration
	for _, d := range samples {
		sum += d
	}
	snap.AvgLatency = sum / time.Duration(len(samples))

	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	snap.P95Latency = percentile(samples, 95)
	snap.P99Latency = percentile(samples, 99)
	return snap
}

// Reset clears all counters and sample windows.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totalRequests = 0
	t.totalSuccesses = 0
	t.totalFailures = 0
	t.cacheHits = 0
	t.cacheMisses = 0
	t.latIdx = 0
	t.latFull = false
	t.outIdx = 0
	t.outFull = false
}

func (t *Tracker) cacheHitRateLocked() float64 {
	lookups := t.cacheHits + t.cacheMisses
	if lookups == 0 {
		return 0
	}
	return float64(t.cacheHits) / float64(lookups)
}

func (t *Tracker) errorRateLocked() float64 {
	n := t.outIdx
	if t.outFull {
		n = t.windowSize
	}
	if n == 0 {
		return 0
	}
	failures := 0
	for i := 0; i < n; i++ {
		if !t.outcomes[i] {
			failures++
		}
	}
	return float64(failures) / float64(n)
}

// sampleLocked copies the live latency samples out of the ring.
func (t *Tracker) sampleLocked() []time.Duration {
	n := t.latIdx
	if t.latFull {
		n = t.windowSize
	}
	out := make([]time.Duration, n)
	copy(out, t.latencies[:n])
	return out
}

// percentile returns the nearest-rank percentile of a sorted sample set.
func percentile(sorted []time.Duration, p int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := (p*len(sorted) + 99) / 100
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}

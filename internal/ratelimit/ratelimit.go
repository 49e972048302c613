// Package ratelimit implements a sliding-window request limiter with
// per-caller buckets.
package ratelimit

import (
	"hash/fnv"
	"sync"
	"time"
)

// shardCount fixes the number of bucket shards. Callers hash to a shard,
// so contention stays bounded per shard instead of serializing every
// caller behind one lock.
const shardCount = 16

type shard struct {
	mu        sync.Mutex
	buckets   map[string][]time.Time
	lastPrune time.Time
}

// Limiter admits up to a fixed number of requests per caller within a
// sliding window. The admitted count scales with the window length:
// requestsPerMinute * windowSeconds / 60.
type Limiter struct {
	window time.Duration
	limit  int
	now    func() time.Time

	shards [shardCount]shard
}

// New returns a limiter admitting requestsPerMinute scaled to the given
// window. A non-positive rate or window yields a limiter that admits
// everything.
func New(requestsPerMinute, windowSeconds int) *Limiter {
	l := &Limiter{now: time.Now}
	for i := range l.shards {
		l.shards[i].buckets = make(map[string][]time.Time)
	}
	if requestsPerMinute > 0 && windowSeconds > 0 {
		l.window = time.Duration(windowSeconds) * time.Second
		l.limit = requestsPerMinute * windowSeconds / 60
		if l.limit < 1 {
			l.limit = 1
		}
	}
	return l
}

func (l *Limiter) shardFor(caller string) *shard {
	h := fnv.New32a()
	h.Write([]byte(caller))
	return &l.shards[h.Sum32()%shardCount]
}

// Allow records and admits a request for the caller if it is within the
// limit. Returns false when the caller has exhausted its window.
func (l *Limiter) Allow(caller string) bool {
	if l.limit <= 0 {
		return true
	}
	if caller == "" {
		caller = "default"
	}

	sh := l.shardFor(caller)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	bucket := sh.buckets[caller]
	// Drop timestamps that have slid out of the window.
	live := bucket[:0]
	for _, ts := range bucket {
		if ts.After(cutoff) {
			live = append(live, ts)
		}
	}

	if len(live) >= l.limit {
		sh.buckets[caller] = live
		l.pruneLocked(sh, now, cutoff)
		return false
	}

	sh.buckets[caller] = append(live, now)
	l.pruneLocked(sh, now, cutoff)
	return true
}

// Remaining reports how many requests the caller may still make in the
// current window without recording one.
func (l *Limiter) Remaining(caller string) int {
	if l.limit <= 0 {
		return -1
	}
	if caller == "" {
		caller = "default"
	}

	sh := l.shardFor(caller)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	cutoff := l.now().Add(-l.window)
	live := 0
	for _, ts := range sh.buckets[caller] {
		if ts.After(cutoff) {
			live++
		}
	}
	if live >= l.limit {
		return 0
	}
	return l.limit - live
}

// Limit returns the admitted request count per window, or 0 when disabled.
func (l *Limiter) Limit() int {
	if l.limit <= 0 {
		return 0
	}
	return l.limit
}

// Reset clears all caller buckets.
func (l *Limiter) Reset() {
	for i := range l.shards {
		sh := &l.shards[i]
		sh.mu.Lock()
		sh.buckets = make(map[string][]time.Time)
		sh.mu.Unlock()
	}
}

// pruneLocked evicts the shard's entirely stale buckets. Runs at most once
// per window per shard to keep Allow cheap.
func (l *Limiter) pruneLocked(sh *shard, now time.Time, cutoff time.Time) {
	if now.Sub(sh.lastPrune) < l.window {
		return
	}
	sh.lastPrune = now
	for caller, bucket := range sh.buckets {
		stale := true
		for _, ts := range bucket {
			if ts.After(cutoff) {
				stale = false
				break
			}
		}
		if stale {
			delete(sh.buckets, caller)
		}
	}
}

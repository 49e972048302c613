package config

import "time"

// Patch describes a partial configuration update. Nil fields are left
// unchanged. A patch is applied to a copy of the current snapshot and the
// whole structure is swapped in one step, so concurrent readers observe
// either the old or the new configuration, never a torn mix.
type Patch struct {
	Enabled *bool

	CacheTTL               *time.Duration
	CacheMaxEntries        *int
	CacheAllowStaleOnError *bool

	PerformanceEnabled *bool
	SuggestionTimeout  *time.Duration
	MaxSuggestions     *int
	MinScore           *float64

	RequestsPerMinute *int
	WindowSeconds     *int

	CanaryEnabled    *bool
	CanaryPercentage *float64

	RollbackEnabled *bool
	RollbackReason  *string
}

// Apply returns a new Config with the patch applied on top of c.
// The receiver is not modified.
func (p Patch) Apply(c *Config) *Config {
	next := c.Clone()

	if p.Enabled != nil {
		next.Enabled = *p.Enabled
	}
	if p.CacheTTL != nil {
		next.Cache.TTL = *p.CacheTTL
	}
	if p.CacheMaxEntries != nil {
		next.Cache.MaxEntries = *p.CacheMaxEntries
	}
	if p.CacheAllowStaleOnError != nil {
		next.Cache.AllowStaleOnError = *p.CacheAllowStaleOnError
	}
	if p.PerformanceEnabled != nil {
		next.Performance.Enabled = *p.PerformanceEnabled
	}
	if p.SuggestionTimeout != nil {
		next.Performance.SuggestionTimeout = *p.SuggestionTimeout
	}
	if p.MaxSuggestions != nil {
		next.Performance.MaxSuggestions = *p.MaxSuggestions
	}
	if p.MinScore != nil {
		next.Performance.MinScore = *p.MinScore
	}
	if p.RequestsPerMinute != nil {
		next.RateLimit.RequestsPerMinute = *p.RequestsPerMinute
	}
	if p.WindowSeconds != nil {
		next.RateLimit.WindowSeconds = *p.WindowSeconds
	}
	if p.CanaryEnabled != nil {
		next.Canary.Enabled = *p.CanaryEnabled
	}
	if p.CanaryPercentage != nil {
		next.Canary.Percentage = *p.CanaryPercentage
	}
	if p.RollbackEnabled != nil {
		next.Rollback.Enabled = *p.RollbackEnabled
	}
	if p.RollbackReason != nil {
		next.Rollback.Reason = *p.RollbackReason
	}

	return next
}

// Bool, Int, Float, Duration and String are small helpers for building
// patches from literals.
func Bool(v bool) *bool                       { return &v }
func Int(v int) *int                          { return &v }
func Float(v float64) *float64                { return &v }
func Duration(v time.Duration) *time.Duration { return &v }
func String(v string) *string                 { return &v }

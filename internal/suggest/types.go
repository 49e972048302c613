// Package suggest implements natural-language tool suggestion: it scores
// registered tools against a query and its context, caches responses, and
// gates requests through rollout and rate-limit checks.
package suggest

import (
	"time"

	"github.com/reynard-dev/nlweb/internal/tools"
)

// GitStatus carries repository state supplied with a request.
type GitStatus struct {
	Branch       string   `json:"branch,omitempty"`
	IsRepository bool     `json:"is_repository,omitempty"`
	Dirty        bool     `json:"dirty,omitempty"`
	Modified     []string `json:"modified,omitempty"`
	Staged       []string `json:"staged,omitempty"`
	Untracked    []string `json:"untracked,omitempty"`
}

// Preferences carries caller hints that bias scoring.
type Preferences struct {
	// PreferredTools get a fixed score bonus when they appear.
	PreferredTools []string `json:"preferred_tools,omitempty"`
}

// AppState describes what the surrounding application is showing.
type AppState struct {
	// CurrentCategory boosts tools in the same category.
	CurrentCategory string `json:"current_category,omitempty"`
}

// Context describes the environment a query was issued from.
type Context struct {
	CurrentPath   string       `json:"current_path,omitempty"`
	SelectedItems []string     `json:"selected_items,omitempty"`
	GitStatus     *GitStatus   `json:"git_status,omitempty"`
	Preferences   *Preferences `json:"preferences,omitempty"`
	AppState      *AppState    `json:"app_state,omitempty"`
	SessionID     string       `json:"session_id,omitempty"`
	UserID        string       `json:"user_id,omitempty"`
}

// Identity returns the stable caller key: session ID, falling back to
// user ID.
func (c *Context) Identity() string {
	if c == nil {
		return ""
	}
	if c.SessionID != "" {
		return c.SessionID
	}
	return c.UserID
}

// CallerKey returns the rate-limit key: user ID, then session ID, then a
// shared default bucket.
func (c *Context) CallerKey() string {
	if c == nil {
		return "default"
	}
	if c.UserID != "" {
		return c.UserID
	}
	if c.SessionID != "" {
		return c.SessionID
	}
	return "default"
}

// Request is a tool-suggestion request.
type Request struct {
	Query            string   `json:"query"`
	Context          *Context `json:"context,omitempty"`
	MaxSuggestions   int      `json:"max_suggestions,omitempty"`
	MinScore         float64  `json:"min_score,omitempty"`
	IncludeReasoning bool     `json:"include_reasoning,omitempty"`
}

// Suggestion is one scored tool recommendation. Reasoning is a
// semicolon-joined trail of the scoring rules that fired, present only
// when the request asked for it.
type Suggestion struct {
	Tool       string         `json:"tool"`
	Score      float64        `json:"score"`
	Reasoning  string         `json:"reasoning,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Hints      map[string]any `json:"parameter_hints,omitempty"`
	Category   string         `json:"category,omitempty"`
}

// CacheInfo describes how a response relates to the cache. Age is how long
// the entry had been stored when it was served, zero for fresh computes.
type CacheInfo struct {
	Hit   bool          `json:"hit"`
	Stale bool          `json:"stale,omitempty"`
	Key   string        `json:"key,omitempty"`
	Age   time.Duration `json:"age_ms,omitempty"`
}

// Response is a successful suggestion result.
type Response struct {
	RequestID       string        `json:"request_id"`
	Query           string        `json:"query"`
	Suggestions     []Suggestion  `json:"suggestions"`
	ToolsConsidered int           `json:"tools_considered"`
	Cache           CacheInfo     `json:"cache"`
	Duration        time.Duration `json:"duration_ms"`
	GeneratedAt     time.Time     `json:"generated_at"`
	Version         string        `json:"version"`
}

// RejectReason enumerates why a request was turned away.
type RejectReason string

const (
	ReasonRolledBack  RejectReason = "rolled_back"
	ReasonNotInCanary RejectReason = "not_in_canary"
	ReasonRateLimited RejectReason = "rate_limited"
	ReasonTimeout     RejectReason = "timeout"
)

// Rejection describes a turned-away request.
type Rejection struct {
	Reason RejectReason `json:"reason"`
	Detail string       `json:"detail,omitempty"`
}

// Outcome is either a response or a rejection, never both.
type Outcome struct {
	Response  *Response  `json:"response,omitempty"`
	Rejection *Rejection `json:"rejection,omitempty"`
}

// Rejected reports whether the outcome is a rejection.
func (o *Outcome) Rejected() bool {
	return o != nil && o.Rejection != nil
}

// registrySource is the slice of the tool registry scoring needs.
type registrySource interface {
	Enabled() []tools.Tool
}

package suggest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/reynard-dev/nlweb/internal/bus"
	"github.com/reynard-dev/nlweb/internal/config"
	"github.com/reynard-dev/nlweb/internal/health"
	"github.com/reynard-dev/nlweb/internal/perf"
	"github.com/reynard-dev/nlweb/internal/ratelimit"
	"github.com/reynard-dev/nlweb/internal/rollout"
	"github.com/reynard-dev/nlweb/internal/tools"
)

// ServiceState tracks the service lifecycle.
type ServiceState int32

const (
	StateUninitialized ServiceState = iota
	StateInitializing
	StateReady
	StateShutdown
)

func (s ServiceState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Version identifies the suggestion engine revision stamped on responses.
const Version = "1.0.0"

var (
	ErrNotReady   = errors.New("suggestion service is not ready")
	ErrDisabled   = errors.New("suggestion service is disabled")
	ErrEmptyQuery = errors.New("query cannot be empty")
)

// Service orchestrates tool suggestion: it gates requests through rollout
// and rate-limit checks, consults the response cache, and runs the scoring
// pass under a timeout.
type Service struct {
	cfg   atomic.Pointer[config.Config]
	state atomic.Int32

	registry *tools.Registry
	tracker  *perf.Tracker
	rollouts *rollout.Controller
	events   *bus.Bus
	monitor  *health.Monitor

	// mu guards the cache and limiter pointers, which are rebuilt on
	// configuration changes.
	mu      sync.RWMutex
	cache   *responseCache
	limiter *ratelimit.Limiter

	startedAt time.Time
}

// NewService builds a service from configuration. events may be nil.
func NewService(cfg *config.Config, events *bus.Bus) *Service {
	if cfg == nil {
		cfg = config.Default()
	}
	s := &Service{
		registry: tools.NewRegistry(),
		tracker:  perf.NewTracker(perf.DefaultWindowSize),
		events:   events,
	}
	s.cfg.Store(cfg)
	s.rollouts = rollout.New(
		cfg.Rollback.Enabled, cfg.Rollback.Reason,
		cfg.Canary.Enabled, cfg.Canary.Percentage,
	)
	s.cache = newResponseCache(cfg.Cache.TTL, cfg.Cache.MaxEntries)
	s.limiter = ratelimit.New(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.WindowSeconds)
	s.monitor = health.NewMonitor(s.tracker, s.rollouts, events, s.Ready, s.cfg.Load, s.CacheLen, 0)
	return s
}

// Initialize registers the default tool set and moves the service to ready.
// Calling it again after a successful init is a no-op.
func (s *Service) Initialize() error {
	if !s.state.CompareAndSwap(int32(StateUninitialized), int32(StateInitializing)) {
		if ServiceState(s.state.Load()) == StateReady {
			return nil
		}
		return fmt.Errorf("cannot initialize from state %s", ServiceState(s.state.Load()))
	}

	for _, t := range tools.DefaultTools() {
		if err := s.RegisterTool(t); err != nil {
			s.state.Store(int32(StateUninitialized))
			return fmt.Errorf("register default tools: %w", err)
		}
	}

	s.startedAt = time.Now()
	s.state.Store(int32(StateReady))
	log.Info().Int("tools", s.registry.Len()).Msg("Suggestion service initialized")
	return nil
}

// Shutdown stops the service. Further Suggest calls fail with ErrNotReady.
func (s *Service) Shutdown() {
	s.state.Store(int32(StateShutdown))
	log.Info().Msg("Suggestion service shut down")
}

// Ready reports whether the service has completed initialization.
func (s *Service) Ready() bool {
	return ServiceState(s.state.Load()) == StateReady
}

// State returns the current lifecycle state.
func (s *Service) State() ServiceState {
	return ServiceState(s.state.Load())
}

// Registry exposes the tool registry.
func (s *Service) Registry() *tools.Registry { return s.registry }

// Tracker exposes the performance tracker.
func (s *Service) Tracker() *perf.Tracker { return s.tracker }

// Rollouts exposes the rollout controller.
func (s *Service) Rollouts() *rollout.Controller { return s.rollouts }

// HealthStatus returns the throttled health report.
func (s *Service) HealthStatus() health.Report { return s.monitor.Status() }

// ForceHealthCheck recomputes the health report immediately.
func (s *Service) ForceHealthCheck() health.Report { return s.monitor.ForceCheck() }

// Config returns the active configuration.
func (s *Service) Config() *config.Config { return s.cfg.Load() }

// Suggest runs the full request pipeline. A nil error with a rejection
// outcome means the request was valid but turned away by a gate.
func (s *Service) Suggest(ctx context.Context, req *Request) (*Outcome, error) {
	if !s.Ready() {
		return nil, ErrNotReady
	}
	cfg := s.cfg.Load()
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if req == nil || req.Query == "" {
		return nil, ErrEmptyQuery
	}

	requestID := uuid.NewString()
	start := time.Now()

	// Rollout gates run before any work is done for the request.
	switch s.rollouts.Check(req.Context.Identity()) {
	case rollout.RolledBack:
		_, reason := s.rollouts.RollbackActive()
		return s.reject(requestID, req, ReasonRolledBack, reason), nil
	case rollout.NotInCanary:
		return s.reject(requestID, req, ReasonNotInCanary, "caller outside canary percentage"), nil
	}

	s.mu.RLock()
	limiter, cache := s.limiter, s.cache
	s.mu.RUnlock()

	if !limiter.Allow(req.Context.CallerKey()) {
		return s.reject(requestID, req, ReasonRateLimited, "request rate exceeded"), nil
	}

	maxSuggestions := req.MaxSuggestions
	if maxSuggestions <= 0 {
		maxSuggestions = cfg.Performance.MaxSuggestions
	}
	minScore := req.MinScore
	if minScore <= 0 {
		minScore = cfg.Performance.MinScore
	}

	key := cacheKey(req)
	if cached, age := cache.get(key); cached != nil {
		s.tracker.RecordCacheHit()
		s.tracker.RecordRequest(time.Since(start), true)
		s.emitCacheEvent(bus.EventCacheHit, requestID, req.Query, key)
		resp := cachedCopy(cached, requestID, key, false, age, time.Since(start))
		s.emitSuggested(requestID, resp, "cache_hit")
		return &Outcome{Response: resp}, nil
	}
	s.tracker.RecordCacheMiss()
	s.emitCacheEvent(bus.EventCacheMiss, requestID, req.Query, key)

	resp, err := s.scoreWithTimeout(ctx, cfg, requestID, key, req, maxSuggestions, minScore, start)
	if err != nil {
		// A stale entry beats an empty answer when the caller allows it.
		if cfg.Cache.AllowStaleOnError {
			if stale, age := cache.getStale(key); stale != nil {
				s.tracker.RecordRequest(time.Since(start), true)
				resp := cachedCopy(stale, requestID, key, true, age, time.Since(start))
				s.emitSuggested(requestID, resp, "stale_cache")
				log.Warn().Str("request_id", requestID).Err(err).Msg("Serving stale cached response")
				return &Outcome{Response: resp}, nil
			}
		}
		s.tracker.RecordRequest(time.Since(start), false)
		s.emitError(requestID, req.Query, err)
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return s.reject(requestID, req, ReasonTimeout, "suggestion generation timed out"), nil
		}
		return nil, err
	}

	// Side effects commit only after a successful scoring pass.
	cache.put(key, resp)
	s.tracker.RecordRequest(resp.Duration, true)
	s.emitSuggested(requestID, resp, "scored")
	return &Outcome{Response: resp}, nil
}

// scoreWithTimeout runs the scoring pass bounded by the configured
// suggestion timeout and the caller's context.
func (s *Service) scoreWithTimeout(ctx context.Context, cfg *config.Config, requestID, key string, req *Request, maxSuggestions int, minScore float64, start time.Time) (*Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.Performance.SuggestionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Performance.SuggestionTimeout)
		defer cancel()
	}
	// Don't start a scoring pass the caller has already abandoned.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type scored struct {
		suggestions []Suggestion
		considered  int
	}
	done := make(chan scored, 1)
	go func() {
		suggestions, considered := scoreTools(s.registry, req.Query, req.Context, maxSuggestions, minScore, req.IncludeReasoning)
		done <- scored{suggestions, considered}
	}()

	select {
	case result := <-done:
		return &Response{
			RequestID:       requestID,
			Query:           req.Query,
			Suggestions:     result.suggestions,
			ToolsConsidered: result.considered,
			Cache:           CacheInfo{Hit: false, Key: key},
			Duration:        time.Since(start),
			GeneratedAt:     time.Now(),
			Version:         Version,
		}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// UpdateConfiguration applies a partial update atomically. Components
// whose settings changed are rebuilt; unrelated state is untouched.
func (s *Service) UpdateConfiguration(patch *config.Patch) error {
	if patch == nil {
		return nil
	}
	old := s.cfg.Load()
	next := patch.Apply(old)
	if err := next.Validate(); err != nil {
		return fmt.Errorf("configuration update rejected: %w", err)
	}
	s.cfg.Store(next)

	s.mu.Lock()
	if next.Cache.TTL != old.Cache.TTL || next.Cache.MaxEntries != old.Cache.MaxEntries {
		s.cache = newResponseCache(next.Cache.TTL, next.Cache.MaxEntries)
	}
	if next.RateLimit.RequestsPerMinute != old.RateLimit.RequestsPerMinute ||
		next.RateLimit.WindowSeconds != old.RateLimit.WindowSeconds {
		s.limiter = ratelimit.New(next.RateLimit.RequestsPerMinute, next.RateLimit.WindowSeconds)
	}
	s.mu.Unlock()

	if next.Canary != old.Canary {
		s.rollouts.SetCanary(next.Canary.Enabled, next.Canary.Percentage)
	}
	if next.Rollback != old.Rollback {
		if next.Rollback.Enabled {
			s.rollouts.Rollback(next.Rollback.Reason)
		} else {
			s.rollouts.ClearRollback()
		}
	}

	log.Info().Msg("Configuration updated")
	return nil
}

// RegisterTool adds or replaces a tool at runtime.
func (s *Service) RegisterTool(t tools.Tool) error {
	if err := s.registry.Register(t); err != nil {
		return err
	}
	if s.events != nil {
		ev := bus.NewEvent(bus.EventToolRegistered)
		ev.Tool = t.Name
		s.events.Emit(ev)
	}
	return nil
}

// UnregisterTool removes a tool and reports whether it existed.
func (s *Service) UnregisterTool(name string) bool {
	ok := s.registry.Unregister(name)
	if ok && s.events != nil {
		ev := bus.NewEvent(bus.EventToolUnregistered)
		ev.Tool = name
		s.events.Emit(ev)
	}
	return ok
}

// EnableTool marks a tool eligible for suggestion.
func (s *Service) EnableTool(name string) bool { return s.registry.SetEnabled(name, true) }

// DisableTool excludes a tool from suggestion without unregistering it.
func (s *Service) DisableTool(name string) bool { return s.registry.SetEnabled(name, false) }

// ClearCache drops all cached responses and returns the evicted count.
func (s *Service) ClearCache() int {
	s.mu.RLock()
	cache := s.cache
	s.mu.RUnlock()
	n := cache.clear()
	log.Info().Int("evicted", n).Msg("Suggestion cache cleared")
	return n
}

// CacheLen returns the current cache entry count.
func (s *Service) CacheLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache.len()
}

// RegisteredTools returns every registered tool in registration order.
func (s *Service) RegisteredTools() []tools.Tool { return s.registry.All() }

// PerformanceStats is the tracker snapshot plus the current cache
// occupancy, which the tracker does not see.
type PerformanceStats struct {
	perf.Snapshot
	CacheSize    int `json:"cache_size"`
	CacheMaxSize int `json:"cache_max_size"`
}

// PerformanceStats reports the current performance snapshot.
func (s *Service) PerformanceStats() PerformanceStats {
	return PerformanceStats{
		Snapshot:     s.tracker.Snapshot(),
		CacheSize:    s.CacheLen(),
		CacheMaxSize: s.cfg.Load().Cache.MaxEntries,
	}
}

// Check statuses. Fail blocks the verdict, warn and info do not.
const (
	CheckPass = "pass"
	CheckWarn = "warn"
	CheckFail = "fail"
	CheckInfo = "info"
)

// Check is one verification checklist item.
type Check struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Checklist is the result of a verification run. Verdict is fail when any
// check failed, warn when any check warned, otherwise pass.
type Checklist struct {
	Checks  []Check `json:"checks"`
	Verdict string  `json:"verdict"`
}

func boolCheck(name string, ok bool, detail string) Check {
	status := CheckPass
	if !ok {
		status = CheckFail
	}
	return Check{Name: name, Status: status, Detail: detail}
}

// VerificationChecklist runs a set of self checks useful after deploys.
func (s *Service) VerificationChecklist() Checklist {
	cfg := s.cfg.Load()
	rolledBack, reason := s.rollouts.RollbackActive()
	stats := s.PerformanceStats()

	checks := []Check{
		boolCheck("service_available", s.Ready(), s.State().String()),
		boolCheck("service_enabled", cfg.Enabled, ""),
		boolCheck("tools_registered", s.registry.Len() > 0, fmt.Sprintf("%d tools", s.registry.Len())),
		boolCheck("cache_configured", cfg.Cache.TTL > 0, fmt.Sprintf("ttl=%s max=%d", cfg.Cache.TTL, cfg.Cache.MaxEntries)),
		boolCheck("rate_limit_configured", cfg.RateLimit.RequestsPerMinute > 0, fmt.Sprintf("%d/min", cfg.RateLimit.RequestsPerMinute)),
		boolCheck("rollback_inactive", !rolledBack, reason),
	}

	latency := Check{Name: "p95_latency", Status: CheckPass,
		Detail: fmt.Sprintf("p95=%s budget=%s", stats.P95Latency, cfg.Performance.SuggestionTimeout)}
	if stats.P95Latency > cfg.Performance.SuggestionTimeout {
		latency.Status = CheckWarn
	}
	checks = append(checks, latency)

	hitRate := Check{Name: "cache_hit_rate", Status: CheckInfo, Detail: "insufficient traffic"}
	if stats.TotalRequests >= 10 {
		hitRate.Detail = fmt.Sprintf("%.0f%%", stats.CacheHitRate*100)
		if stats.CacheHitRate >= 0.20 {
			hitRate.Status = CheckPass
		} else {
			hitRate.Status = CheckWarn
		}
	}
	checks = append(checks, hitRate)

	report := s.monitor.ForceCheck()
	checks = append(checks, boolCheck("health", report.State == health.StateHealthy, string(report.State)))

	verdict := CheckPass
	for _, c := range checks {
		switch c.Status {
		case CheckFail:
			verdict = CheckFail
		case CheckWarn:
			if verdict != CheckFail {
				verdict = CheckWarn
			}
		}
	}
	return Checklist{Checks: checks, Verdict: verdict}
}

// Info summarizes the service for operators.
type Info struct {
	State        string           `json:"state"`
	Enabled      bool             `json:"enabled"`
	Uptime       time.Duration    `json:"uptime_ms"`
	Tools        tools.Stats      `json:"tools"`
	CacheEntries int              `json:"cache_entries"`
	Performance  PerformanceStats `json:"performance"`
	Health       health.Report    `json:"health"`
	Canary       map[string]any   `json:"canary"`
}

// ServiceInfo collects the operator-facing summary.
func (s *Service) ServiceInfo() Info {
	cfg := s.cfg.Load()
	canaryEnabled, canaryPct := s.rollouts.Canary()
	var uptime time.Duration
	if !s.startedAt.IsZero() {
		uptime = time.Since(s.startedAt)
	}
	return Info{
		State:        s.State().String(),
		Enabled:      cfg.Enabled,
		Uptime:       uptime,
		Tools:        s.registry.Stats(),
		CacheEntries: s.CacheLen(),
		Performance:  s.PerformanceStats(),
		Health:       s.monitor.Status(),
		Canary: map[string]any{
			"enabled":    canaryEnabled,
			"percentage": canaryPct,
		},
	}
}

func (s *Service) reject(requestID string, req *Request, reason RejectReason, detail string) *Outcome {
	log.Debug().
		Str("request_id", requestID).
		Str("reason", string(reason)).
		Str("query", req.Query).
		Msg("Request rejected")
	if s.events != nil {
		// Rejections are routine flow control, not failures. A distinct
		// event type keeps them out of the error rollups.
		ev := bus.NewEvent(bus.EventRequestRejected)
		ev.RequestID = requestID
		ev.Query = req.Query
		ev.Status = string(reason)
		s.events.Emit(ev)
	}
	return &Outcome{Rejection: &Rejection{Reason: reason, Detail: detail}}
}

func (s *Service) emitCacheEvent(t bus.EventType, requestID, query, key string) {
	if s.events == nil {
		return
	}
	ev := bus.NewEvent(t)
	ev.RequestID = requestID
	ev.Query = query
	ev.CacheKey = key
	s.events.Emit(ev)
}

func (s *Service) emitSuggested(requestID string, resp *Response, status string) {
	if s.events == nil {
		return
	}
	ev := bus.NewEvent(bus.EventToolSuggested)
	ev.RequestID = requestID
	ev.Query = resp.Query
	ev.Status = status
	ev.DurationMs = resp.Duration.Milliseconds()
	if len(resp.Suggestions) > 0 {
		ev.Tool = resp.Suggestions[0].Tool
		ev.Score = resp.Suggestions[0].Score
	}
	s.events.Emit(ev)
}

func (s *Service) emitError(requestID, query string, err error) {
	if s.events == nil {
		return
	}
	ev := bus.NewEvent(bus.EventError)
	ev.RequestID = requestID
	ev.Query = query
	ev.Error = err.Error()
	s.events.Emit(ev)
}

// cachedCopy shallow-copies a cached response with per-request fields set.
func cachedCopy(src *Response, requestID, key string, stale bool, age, duration time.Duration) *Response {
	cp := *src
	cp.RequestID = requestID
	cp.Cache = CacheInfo{Hit: true, Stale: stale, Key: key, Age: age}
	cp.Duration = duration
	return &cp
}

package suggest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reynard-dev/nlweb/internal/bus"
	"github.com/reynard-dev/nlweb/internal/config"
	"github.com/reynard-dev/nlweb/internal/health"
	"github.com/reynard-dev/nlweb/internal/tools"
)

func newReadyService(t *testing.T, mutate func(*config.Config)) *Service {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	svc := NewService(cfg, nil)
	require.NoError(t, svc.Initialize())
	t.Cleanup(svc.Shutdown)
	return svc
}

func TestService_Lifecycle(t *testing.T) {
	svc := NewService(config.Default(), nil)
	assert.Equal(t, StateUninitialized, svc.State())
	assert.False(t, svc.Ready())

	_, err := svc.Suggest(context.Background(), &Request{Query: "x"})
	assert.ErrorIs(t, err, ErrNotReady)

	require.NoError(t, svc.Initialize())
	assert.Equal(t, StateReady, svc.State())
	assert.True(t, svc.Ready())
	require.NoError(t, svc.Initialize(), "re-initialize is a no-op")

	svc.Shutdown()
	assert.Equal(t, StateShutdown, svc.State())
	_, err = svc.Suggest(context.Background(), &Request{Query: "x"})
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestService_RegistersDefaultTools(t *testing.T) {
	svc := newReadyService(t, nil)
	assert.Equal(t, 5, svc.Registry().Len())
	assert.True(t, svc.Registry().Has("git_status"))
}

func TestService_SuggestBasic(t *testing.T) {
	svc := newReadyService(t, nil)

	outcome, err := svc.Suggest(context.Background(), &Request{
		Query:            "show git status",
		IncludeReasoning: true,
	})
	require.NoError(t, err)
	require.False(t, outcome.Rejected())

	resp := outcome.Response
	require.NotEmpty(t, resp.Suggestions)
	assert.Equal(t, "git_status", resp.Suggestions[0].Tool)
	assert.NotEmpty(t, resp.RequestID)
	assert.Equal(t, Version, resp.Version)
	assert.Equal(t, 5, resp.ToolsConsidered)
	assert.False(t, resp.Cache.Hit)
	assert.LessOrEqual(t, len(resp.Suggestions), 5)
	for _, s := range resp.Suggestions {
		assert.GreaterOrEqual(t, s.Score, 0.0)
		assert.LessOrEqual(t, s.Score, 100.0)
		assert.NotEmpty(t, s.Reasoning)
	}
}

func TestService_ReasoningOmittedByDefault(t *testing.T) {
	svc := newReadyService(t, nil)

	outcome, err := svc.Suggest(context.Background(), &Request{Query: "show git status"})
	require.NoError(t, err)
	require.NotEmpty(t, outcome.Response.Suggestions)
	for _, s := range outcome.Response.Suggestions {
		assert.Empty(t, s.Reasoning)
	}
}

func TestService_NoMatchesIsEmptyNotError(t *testing.T) {
	svc := newReadyService(t, nil)

	outcome, err := svc.Suggest(context.Background(), &Request{
		Query:    "xyz-nonexistent",
		MinScore: 10,
	})
	require.NoError(t, err)
	require.False(t, outcome.Rejected())
	assert.Empty(t, outcome.Response.Suggestions)
	assert.Equal(t, 5, outcome.Response.ToolsConsidered)
}

func TestService_SuggestValidation(t *testing.T) {
	svc := newReadyService(t, nil)

	_, err := svc.Suggest(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyQuery)

	_, err = svc.Suggest(context.Background(), &Request{})
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestService_SuggestDisabled(t *testing.T) {
	svc := newReadyService(t, func(c *config.Config) { c.Enabled = false })

	_, err := svc.Suggest(context.Background(), &Request{Query: "x"})
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestService_CacheHitOnRepeat(t *testing.T) {
	svc := newReadyService(t, nil)
	req := &Request{Query: "show git status"}

	first, err := svc.Suggest(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, first.Response.Cache.Hit)

	second, err := svc.Suggest(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.Response.Cache.Hit)
	assert.False(t, second.Response.Cache.Stale)
	assert.Equal(t, first.Response.Cache.Key, second.Response.Cache.Key)
	assert.GreaterOrEqual(t, second.Response.Cache.Age, time.Duration(0))
	assert.Equal(t, first.Response.Suggestions, second.Response.Suggestions)
	assert.NotEqual(t, first.Response.RequestID, second.Response.RequestID,
		"request ids are per request, cached or not")

	snap := svc.Tracker().Snapshot()
	assert.Equal(t, int64(1), snap.CacheHits)
	assert.Equal(t, int64(1), snap.CacheMisses)
}

func TestService_RateLimitRejection(t *testing.T) {
	svc := newReadyService(t, func(c *config.Config) {
		c.RateLimit.RequestsPerMinute = 60
		c.RateLimit.WindowSeconds = 1 // one request per window
	})
	req := &Request{Query: "show git status", Context: &Context{UserID: "alice"}}

	outcome, err := svc.Suggest(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, outcome.Rejected())

	outcome, err = svc.Suggest(context.Background(), req)
	require.NoError(t, err)
	require.True(t, outcome.Rejected())
	assert.Equal(t, ReasonRateLimited, outcome.Rejection.Reason)

	// Other callers are unaffected.
	other := &Request{Query: "show git status", Context: &Context{UserID: "bob"}}
	outcome, err = svc.Suggest(context.Background(), other)
	require.NoError(t, err)
	assert.False(t, outcome.Rejected())
}

func TestService_RollbackRejection(t *testing.T) {
	svc := newReadyService(t, func(c *config.Config) {
		c.Rollback.Enabled = true
		c.Rollback.Reason = "incident 7"
	})

	outcome, err := svc.Suggest(context.Background(), &Request{Query: "x"})
	require.NoError(t, err)
	require.True(t, outcome.Rejected())
	assert.Equal(t, ReasonRolledBack, outcome.Rejection.Reason)
	assert.Equal(t, "incident 7", outcome.Rejection.Detail)
}

func TestService_CanaryRejection(t *testing.T) {
	svc := newReadyService(t, func(c *config.Config) {
		c.Canary.Enabled = true
		c.Canary.Percentage = 0
	})

	outcome, err := svc.Suggest(context.Background(), &Request{
		Query:   "x",
		Context: &Context{SessionID: "s1"},
	})
	require.NoError(t, err)
	require.True(t, outcome.Rejected())
	assert.Equal(t, ReasonNotInCanary, outcome.Rejection.Reason)
}

func TestService_UpdateConfiguration(t *testing.T) {
	svc := newReadyService(t, nil)

	patch := &config.Patch{
		RollbackEnabled: config.Bool(true),
		RollbackReason:  config.String("bad scores"),
	}
	require.NoError(t, svc.UpdateConfiguration(patch))

	outcome, err := svc.Suggest(context.Background(), &Request{Query: "x"})
	require.NoError(t, err)
	require.True(t, outcome.Rejected())
	assert.Equal(t, ReasonRolledBack, outcome.Rejection.Reason)

	require.NoError(t, svc.UpdateConfiguration(&config.Patch{
		RollbackEnabled: config.Bool(false),
	}))
	outcome, err = svc.Suggest(context.Background(), &Request{Query: "x"})
	require.NoError(t, err)
	assert.False(t, outcome.Rejected())
}

func TestService_UpdateConfigurationRejectsInvalid(t *testing.T) {
	svc := newReadyService(t, nil)
	before := svc.Config()

	err := svc.UpdateConfiguration(&config.Patch{
		CacheMaxEntries: config.Int(0),
	})
	require.Error(t, err)
	assert.Same(t, before, svc.Config(), "failed update leaves config untouched")
}

func TestService_UpdateConfigurationRebuildsCache(t *testing.T) {
	svc := newReadyService(t, nil)

	_, err := svc.Suggest(context.Background(), &Request{Query: "show git status"})
	require.NoError(t, err)
	assert.Equal(t, 1, svc.CacheLen())

	require.NoError(t, svc.UpdateConfiguration(&config.Patch{
		CacheTTL: config.Duration(time.Minute),
	}))
	assert.Equal(t, 0, svc.CacheLen(), "changed cache settings start a fresh cache")
}

func TestService_ToolManagement(t *testing.T) {
	svc := newReadyService(t, nil)

	custom := tools.Tool{
		Name:        "deploy",
		Description: "deploy the current build to an environment",
		Category:    "ops",
		Tags:        []string{"deploy"},
		Enabled:     true,
		Priority:    60,
	}
	require.NoError(t, svc.RegisterTool(custom))
	assert.True(t, svc.Registry().Has("deploy"))

	assert.True(t, svc.DisableTool("deploy"))
	outcome, err := svc.Suggest(context.Background(), &Request{Query: "deploy the build"})
	require.NoError(t, err)
	for _, s := range outcome.Response.Suggestions {
		assert.NotEqual(t, "deploy", s.Tool, "disabled tools are never suggested")
	}

	assert.True(t, svc.EnableTool("deploy"))
	svc.ClearCache()
	outcome, err = svc.Suggest(context.Background(), &Request{Query: "deploy the build"})
	require.NoError(t, err)
	require.NotEmpty(t, outcome.Response.Suggestions)
	assert.Equal(t, "deploy", outcome.Response.Suggestions[0].Tool)

	assert.True(t, svc.UnregisterTool("deploy"))
	assert.False(t, svc.UnregisterTool("deploy"))
}

func TestService_ClearCache(t *testing.T) {
	svc := newReadyService(t, nil)

	_, err := svc.Suggest(context.Background(), &Request{Query: "show git status"})
	require.NoError(t, err)
	_, err = svc.Suggest(context.Background(), &Request{Query: "list files here"})
	require.NoError(t, err)

	assert.Equal(t, 2, svc.ClearCache())
	assert.Equal(t, 0, svc.CacheLen())
}

func TestService_VerificationChecklist(t *testing.T) {
	svc := newReadyService(t, nil)

	list := svc.VerificationChecklist()
	byName := make(map[string]Check, len(list.Checks))
	for _, c := range list.Checks {
		byName[c.Name] = c
	}

	for _, name := range []string{
		"service_available", "service_enabled", "tools_registered",
		"cache_configured", "rate_limit_configured", "rollback_inactive", "health",
	} {
		c, ok := byName[name]
		require.True(t, ok, name)
		assert.Equal(t, CheckPass, c.Status, name)
	}
	assert.Equal(t, CheckInfo, byName["cache_hit_rate"].Status, "no traffic yet")
	assert.Equal(t, CheckPass, list.Verdict)
}

func TestService_VerificationChecklistFailsOnRollback(t *testing.T) {
	svc := newReadyService(t, nil)
	svc.Rollouts().Rollback("drill")

	list := svc.VerificationChecklist()
	assert.Equal(t, CheckFail, list.Verdict)
}

func TestService_ServiceInfo(t *testing.T) {
	svc := newReadyService(t, nil)
	_, err := svc.Suggest(context.Background(), &Request{Query: "show git status"})
	require.NoError(t, err)

	info := svc.ServiceInfo()
	assert.Equal(t, "ready", info.State)
	assert.True(t, info.Enabled)
	assert.Equal(t, 5, info.Tools.Total)
	assert.Equal(t, 1, info.CacheEntries)
	assert.Equal(t, int64(1), info.Performance.TotalRequests)
	assert.Equal(t, 1, info.Performance.CacheSize)
	assert.Equal(t, 1000, info.Performance.CacheMaxSize)
	assert.Equal(t, health.StateHealthy, info.Health.State)
}

func TestService_EmitsEvents(t *testing.T) {
	eventBus := bus.New()
	defer eventBus.Close()

	var types []bus.EventType
	eventBus.On("", func(ev bus.Event) { types = append(types, ev.Type) })

	svc := NewService(config.Default(), eventBus)
	require.NoError(t, svc.Initialize())
	defer svc.Shutdown()

	req := &Request{Query: "show git status"}
	_, err := svc.Suggest(context.Background(), req)
	require.NoError(t, err)
	_, err = svc.Suggest(context.Background(), req)
	require.NoError(t, err)

	assert.Contains(t, types, bus.EventCacheMiss)
	assert.Contains(t, types, bus.EventCacheHit)
	assert.Contains(t, types, bus.EventToolSuggested)
}

func TestService_HealthReflectsRollback(t *testing.T) {
	svc := newReadyService(t, nil)
	assert.Equal(t, health.StateHealthy, svc.ForceHealthCheck().State)

	svc.Rollouts().Rollback("drill")
	assert.Equal(t, health.StateUnhealthy, svc.ForceHealthCheck().State)
}

func TestService_HyphenatedToolNameMatch(t *testing.T) {
	svc := newReadyService(t, nil)
	require.NoError(t, svc.RegisterTool(tools.Tool{
		Name:        "git-commit",
		Description: "record staged changes",
		Category:    "git",
		Tags:        []string{"git", "commit"},
		Enabled:     true,
		Priority:    50,
	}))

	outcome, err := svc.Suggest(context.Background(), &Request{
		Query:            "git commit",
		IncludeReasoning: true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, outcome.Response.Suggestions)

	var found *Suggestion
	for i := range outcome.Response.Suggestions {
		if outcome.Response.Suggestions[i].Tool == "git-commit" {
			found = &outcome.Response.Suggestions[i]
			break
		}
	}
	require.NotNil(t, found)
	assert.GreaterOrEqual(t, found.Score, 40.0)
	assert.Contains(t, found.Reasoning, "Tool name matches query")
}

func TestService_ZeroTTLDisablesCaching(t *testing.T) {
	svc := newReadyService(t, func(c *config.Config) { c.Cache.TTL = 0 })
	req := &Request{Query: "show git status"}

	for i := 0; i < 3; i++ {
		outcome, err := svc.Suggest(context.Background(), req)
		require.NoError(t, err)
		assert.False(t, outcome.Response.Cache.Hit)
	}

	snap := svc.Tracker().Snapshot()
	assert.Equal(t, int64(0), snap.CacheHits)
	assert.Equal(t, int64(3), snap.CacheMisses)
	assert.Equal(t, 0, svc.CacheLen())
}

func TestService_TimeoutRejection(t *testing.T) {
	svc := newReadyService(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome, err := svc.Suggest(ctx, &Request{Query: "show git status"})
	require.NoError(t, err)
	require.True(t, outcome.Rejected())
	assert.Equal(t, ReasonTimeout, outcome.Rejection.Reason)

	snap := svc.Tracker().Snapshot()
	assert.Equal(t, int64(1), snap.TotalFailures)
}

func TestService_StaleCacheServedOnError(t *testing.T) {
	// A nanosecond TTL expires entries immediately, so the second call
	// misses the fresh path and must fall back to the stale entry when
	// its scoring pass fails.
	svc := newReadyService(t, func(c *config.Config) { c.Cache.TTL = time.Nanosecond })
	req := &Request{Query: "show git status"}

	first, err := svc.Suggest(context.Background(), req)
	require.NoError(t, err)
	require.False(t, first.Response.Cache.Hit)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	second, err := svc.Suggest(ctx, req)
	require.NoError(t, err)
	require.False(t, second.Rejected(), "stale answer beats a rejection")
	assert.True(t, second.Response.Cache.Hit)
	assert.True(t, second.Response.Cache.Stale)
	assert.Equal(t, first.Response.Suggestions, second.Response.Suggestions)
}

func TestService_NoStaleFallbackWhenDisallowed(t *testing.T) {
	svc := newReadyService(t, func(c *config.Config) {
		c.Cache.TTL = time.Nanosecond
		c.Cache.AllowStaleOnError = false
	})
	req := &Request{Query: "show git status"}

	_, err := svc.Suggest(context.Background(), req)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome, err := svc.Suggest(ctx, req)
	require.NoError(t, err)
	require.True(t, outcome.Rejected())
	assert.Equal(t, ReasonTimeout, outcome.Rejection.Reason)
}

func TestService_InitializeEmitsToolRegistrations(t *testing.T) {
	eventBus := bus.New()
	defer eventBus.Close()

	var registered []string
	eventBus.On(bus.EventToolRegistered, func(ev bus.Event) { registered = append(registered, ev.Tool) })

	svc := NewService(config.Default(), eventBus)
	require.NoError(t, svc.Initialize())
	defer svc.Shutdown()

	assert.Len(t, registered, 5)
	assert.Contains(t, registered, "git_status")
	assert.Contains(t, registered, "generate_captions")
}

func TestService_RejectionIsNotAnErrorEvent(t *testing.T) {
	eventBus := bus.New()
	defer eventBus.Close()

	svc := NewService(config.Default(), eventBus)
	require.NoError(t, svc.Initialize())
	defer svc.Shutdown()
	svc.Rollouts().Rollback("drill")

	var rejections, errors []bus.Event
	eventBus.On(bus.EventRequestRejected, func(ev bus.Event) { rejections = append(rejections, ev) })
	eventBus.On(bus.EventError, func(ev bus.Event) { errors = append(errors, ev) })

	outcome, err := svc.Suggest(context.Background(), &Request{Query: "x"})
	require.NoError(t, err)
	require.True(t, outcome.Rejected())

	require.Len(t, rejections, 1)
	assert.Equal(t, string(ReasonRolledBack), rejections[0].Status)
	assert.Empty(t, rejections[0].Error)
	assert.Empty(t, errors)
}

func TestService_HealthReportsCacheOccupancy(t *testing.T) {
	svc := newReadyService(t, nil)
	_, err := svc.Suggest(context.Background(), &Request{Query: "show git status"})
	require.NoError(t, err)

	report := svc.ForceHealthCheck()
	assert.Equal(t, 1, report.Stats.CacheSize)
	assert.Equal(t, 1000, report.Stats.CacheMaxSize)
}

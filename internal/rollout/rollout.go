// Package rollout gates requests through rollback and canary checks.
// Rollback is a global kill switch; canary assigns callers to a stable
// percentage bucket by hashing their identity.
package rollout

import (
	"hash/fnv"
	"sync"

	"github.com/rs/zerolog/log"
)

// Decision is the outcome of a rollout check.
type Decision int

const (
	// Admitted means the request may proceed.
	Admitted Decision = iota
	// RolledBack means the feature is globally disabled.
	RolledBack
	// NotInCanary means the caller fell outside the canary percentage.
	NotInCanary
)

// Controller holds the rollout state. All methods are safe for
// concurrent use.
type Controller struct {
	mu sync.RWMutex

	rollbackEnabled bool
	rollbackReason  string

	canaryEnabled    bool
	canaryPercentage float64
}

// New returns a controller with the given initial state.
func New(rollbackEnabled bool, rollbackReason string, canaryEnabled bool, canaryPercentage float64) *Controller {
	return &Controller{
		rollbackEnabled:  rollbackEnabled,
		rollbackReason:   rollbackReason,
		canaryEnabled:    canaryEnabled,
		canaryPercentage: clampPercent(canaryPercentage),
	}
}

// Check evaluates the gates in order: rollback first, then canary.
// identity is the caller's stable key (session ID, falling back to user ID).
func (c *Controller) Check(identity string) Decision {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.rollbackEnabled {
		return RolledBack
	}
	if !c.canaryEnabled || c.canaryPercentage >= 100 {
		return Admitted
	}
	if c.canaryPercentage <= 0 {
		return NotInCanary
	}
	if float64(bucket(identity)) < c.canaryPercentage {
		return Admitted
	}
	return NotInCanary
}

// Rollback activates the global kill switch with a reason.
func (c *Controller) Rollback(reason string) {
	c.mu.Lock()
	c.rollbackEnabled = true
	c.rollbackReason = reason
	c.mu.Unlock()
	log.Warn().Str("reason", reason).Msg("Rollback activated")
}

// ClearRollback deactivates the kill switch.
func (c *Controller) ClearRollback() {
	c.mu.Lock()
	c.rollbackEnabled = false
	c.rollbackReason = ""
	c.mu.Unlock()
	log.Info().Msg("Rollback cleared")
}

// RollbackActive reports the kill switch state and its reason.
func (c *Controller) RollbackActive() (bool, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rollbackEnabled, c.rollbackReason
}

// SetCanary updates the canary gate.
func (c *Controller) SetCanary(enabled bool, percentage float64) {
	c.mu.Lock()
	c.canaryEnabled = enabled
	c.canaryPercentage = clampPercent(percentage)
	c.mu.Unlock()
	log.Info().Bool("enabled", enabled).Float64("percentage", percentage).Msg("Canary updated")
}

// Canary returns the current canary gate settings.
func (c *Controller) Canary() (bool, float64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.canaryEnabled, c.canaryPercentage
}

// bucket maps an identity to a stable value in [0, 100). Empty identities
// all land in bucket 0 so anonymous callers see consistent behavior.
func bucket(identity string) int {
	if identity == "" {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(identity))
	return int(h.Sum32() % 100)
}

func clampPercent(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

package rollout

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestController_RollbackBeatsCanary(t *testing.T) {
	c := New(true, "incident 42", true, 100)

	assert.Equal(t, RolledBack, c.Check("anyone"))
	active, reason := c.RollbackActive()
	assert.True(t, active)
	assert.Equal(t, "incident 42", reason)
}

func TestController_ClearRollback(t *testing.T) {
	c := New(true, "oops", false, 100)
	assert.Equal(t, RolledBack, c.Check("u"))

	c.ClearRollback()
	assert.Equal(t, Admitted, c.Check("u"))
	active, reason := c.RollbackActive()
	assert.False(t, active)
	assert.Empty(t, reason)
}

func TestController_CanaryDisabledAdmitsAll(t *testing.T) {
	c := New(false, "", false, 0)
	for i := 0; i < 50; i++ {
		assert.Equal(t, Admitted, c.Check(fmt.Sprintf("user-%d", i)))
	}
}

func TestController_CanaryFullPercentageAdmitsAll(t *testing.T) {
	c := New(false, "", true, 100)
	for i := 0; i < 50; i++ {
		assert.Equal(t, Admitted, c.Check(fmt.Sprintf("user-%d", i)))
	}
}

func TestController_CanaryZeroPercentageRejectsAll(t *testing.T) {
	c := New(false, "", true, 0)
	for i := 0; i < 50; i++ {
		assert.Equal(t, NotInCanary, c.Check(fmt.Sprintf("user-%d", i)))
	}
}

func TestController_CanaryIsDeterministicPerIdentity(t *testing.T) {
	c := New(false, "", true, 50)

	first := c.Check("session-abc")
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, c.Check("session-abc"), "same identity always lands in the same bucket")
	}
}

func TestController_CanarySplitsPopulation(t *testing.T) {
	c := New(false, "", true, 50)

	admitted := 0
	const n = 1000
	for i := 0; i < n; i++ {
		if c.Check(fmt.Sprintf("session-%d", i)) == Admitted {
			admitted++
		}
	}
	// FNV buckets are roughly uniform; allow a generous band.
	assert.Greater(t, admitted, n*35/100)
	assert.Less(t, admitted, n*65/100)
}

func TestController_EmptyIdentityIsStable(t *testing.T) {
	c := New(false, "", true, 50)

	first := c.Check("")
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, c.Check(""))
	}
	// Bucket 0 is inside any non-zero percentage.
	assert.Equal(t, Admitted, first)
}

func TestController_SetCanary(t *testing.T) {
	c := New(false, "", false, 0)

	c.SetCanary(true, 25)
	enabled, pct := c.Canary()
	assert.True(t, enabled)
	assert.Equal(t, 25.0, pct)

	c.SetCanary(true, 150)
	_, pct = c.Canary()
	assert.Equal(t, 100.0, pct, "percentage clamps to 100")

	c.SetCanary(true, -5)
	_, pct = c.Canary()
	assert.Equal(t, 0.0, pct, "percentage clamps to 0")
}

func TestController_Rollback(t *testing.T) {
	c := New(false, "", false, 0)
	assert.Equal(t, Admitted, c.Check("u"))

	c.Rollback("latency regression")
	assert.Equal(t, RolledBack, c.Check("u"))
}

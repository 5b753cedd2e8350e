package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreakerOpensAtThreshold(t *testing.T) {
	b := New(Settings{Threshold: 3, Cooldown: time.Minute})
	hash := Hash("function main() { boom(); }")

	b.RecordFailure(hash)
	b.RecordFailure(hash)
	assert.False(t, b.Blocked(hash), "below threshold should stay closed")

	b.RecordFailure(hash)
	assert.True(t, b.Blocked(hash), "threshold reached should open")
}

func TestBreakerSuccessResets(t *testing.T) {
	b := New(Settings{Threshold: 3, Cooldown: time.Minute})
	hash := Hash("function main() { return 1; }")

	b.RecordFailure(hash)
	b.RecordFailure(hash)
	b.RecordSuccess(hash)
	b.RecordFailure(hash)
	b.RecordFailure(hash)

	assert.False(t, b.Blocked(hash))
	assert.Equal(t, 2, b.CountsFor(hash).ConsecutiveFailures)
}

func TestBreakerCooldownReadmits(t *testing.T) {
	now := time.Now()
	b := New(Settings{Threshold: 2, Cooldown: time.Minute}).WithClock(func() time.Time { return now })
	hash := Hash("script")

	b.RecordFailure(hash)
	b.RecordFailure(hash)
	assert.True(t, b.Blocked(hash))

	now = now.Add(2 * time.Minute)
	assert.False(t, b.Blocked(hash), "cooldown elapsed should readmit")

	// Single strike after readmission.
	b.RecordFailure(hash)
	assert.True(t, b.Blocked(hash))
}

func TestHashStable(t *testing.T) {
	assert.Equal(t, Hash("abc"), Hash("abc"))
	assert.NotEqual(t, Hash("abc"), Hash("abd"))
	assert.Len(t, Hash("abc"), 16)
}

package replication

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDelayRespectsMax(t *testing.T) {
	max := 2 * time.Second
	for attempt := 0; attempt < 10; attempt++ {
		d := backoffDelay(attempt, 100*time.Millisecond, max)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, max)
	}
}

func TestSleepWithinBudgetHonorsDeadline(t *testing.T) {
	deadline := time.Now().Add(-time.Second) // already past
	ok := sleepWithinBudget(context.Background(), time.Second, deadline)
	assert.False(t, ok, "sleeping past an already-expired deadline should not sleep")
}

func TestSleepWithinBudgetSleepsWithinBudget(t *testing.T) {
	deadline := time.Now().Add(time.Second)
	ok := sleepWithinBudget(context.Background(), 10*time.Millisecond, deadline)
	assert.True(t, ok)
}

func TestPushStateString(t *testing.T) {
	assert.Equal(t, "idle", pushIdle.String())
	assert.Equal(t, "pushed", pushPushed.String())
	assert.Equal(t, "failed", pushFailed.String())
}

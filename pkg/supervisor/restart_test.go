package supervisor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cuemby/initd/pkg/types"
)

func TestNextBackoffImmediateBelowThreshold(t *testing.T) {
	c := &types.Component{}
	now := time.Now()
	for i := 0; i < restartThreshold-1; i++ {
		c.Restart.Starts = append(c.Restart.Starts, now)
	}
	assert.Zero(t, nextBackoff(c))
}

func TestNextBackoffEscalatesAfterThreshold(t *testing.T) {
	c := &types.Component{}
	now := time.Now()
	for i := 0; i < restartThreshold; i++ {
		c.Restart.Starts = append(c.Restart.Starts, now)
	}
	assert.Equal(t, types.BackoffSequence[0], nextBackoff(c))
	assert.Equal(t, types.BackoffSequence[1], nextBackoff(c))
}

func TestNextBackoffCapsAtLastSequenceEntry(t *testing.T) {
	c := &types.Component{}
	now := time.Now()
	for i := 0; i < restartThreshold; i++ {
		c.Restart.Starts = append(c.Restart.Starts, now)
	}
	var last time.Duration
	for i := 0; i < len(types.BackoffSequence)+3; i++ {
		last = nextBackoff(c)
	}
	assert.Equal(t, types.BackoffSequence[len(types.BackoffSequence)-1], last)
}

func TestResetIfStableClearsRingAfterLongActivePeriod(t *testing.T) {
	c := &types.Component{}
	c.Restart.Starts = []time.Time{time.Now()}
	c.Restart.BackoffIdx = 2
	c.Restart.LastPromote = time.Now().Add(-2 * restartWindow)

	resetIfStable(c)

	assert.Empty(t, c.Restart.Starts)
	assert.Zero(t, c.Restart.BackoffIdx)
}

func TestResetIfStableLeavesRingWhenRecentlyPromoted(t *testing.T) {
	c := &types.Component{}
	c.Restart.Starts = []time.Time{time.Now()}
	c.Restart.BackoffIdx = 2
	c.Restart.LastPromote = time.Now()

	resetIfStable(c)

	assert.NotEmpty(t, c.Restart.Starts)
	assert.Equal(t, 2, c.Restart.BackoffIdx)
}

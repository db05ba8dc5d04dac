package handoff

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cuemby/initd/pkg/types"
)

func TestLadderFromCheckpointRestoreFallsThroughToRestart(t *testing.T) {
	order := ladderFrom(types.UpgradeCheckpointRestore)
	assert.Equal(t, []types.UpgradeStrategy{
		types.UpgradeCheckpointRestore,
		types.UpgradeFDPassing,
		types.UpgradeRestart,
	}, order)
}

func TestLadderFromRestartIsJustRestart(t *testing.T) {
	assert.Equal(t, []types.UpgradeStrategy{types.UpgradeRestart}, ladderFrom(types.UpgradeRestart))
}

package supervisor_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/initd/pkg/registry"
	"github.com/cuemby/initd/pkg/supervisor"
	"github.com/cuemby/initd/pkg/types"
)

func newComponent(name string, kind types.Kind, script string, provides []string) *types.Component {
	return &types.Component{
		Name:        name,
		Kind:        kind,
		Command:     types.Command{Program: "/bin/sh", Arguments: []string{"-c", script}},
		Provides:    provides,
		Readiness:   types.ReadinessPolicy{Mode: types.ReadinessNone},
		StopTimeout: time.Second,
	}
}

func TestStartReadinessNonePromotesToActiveAndActivatesCapability(t *testing.T) {
	reg := registry.New()
	idx, err := reg.AddComponent(newComponent("a", types.KindService, "sleep 5", []string{"cap-a"}))
	require.NoError(t, err)

	sup, err := supervisor.New(reg, t.TempDir())
	require.NoError(t, err)

	sup.Start(idx)
	assert.Equal(t, types.StateActive, reg.ComponentAt(idx).State)

	capIdx, ok := reg.Capability("cap-a")
	require.True(t, ok)
	assert.True(t, reg.CapabilityAt(capIdx).Active)

	sup.Stop(idx)
	assert.Equal(t, types.StateInactive, reg.ComponentAt(idx).State)
	assert.False(t, reg.CapabilityAt(capIdx).Active)
}

func TestHandleExitOneshotSuccessReachesDoneAndActivatesCapability(t *testing.T) {
	reg := registry.New()
	idx, err := reg.AddComponent(newComponent("once", types.KindOneshot, "exit 0", []string{"cap-b"}))
	require.NoError(t, err)

	sup, err := supervisor.New(reg, t.TempDir())
	require.NoError(t, err)

	sup.Start(idx)
	ev := <-sup.Exits()
	sup.HandleExit(ev)

	assert.Equal(t, types.StateDone, reg.ComponentAt(idx).State)
	capIdx, ok := reg.Capability("cap-b")
	require.True(t, ok)
	assert.True(t, reg.CapabilityAt(capIdx).Active)
}

func TestHandleExitServiceFailureTransitionsToFailedAndWithdrawsCapability(t *testing.T) {
	reg := registry.New()
	idx, err := reg.AddComponent(newComponent("flaky", types.KindService, "exit 1", []string{"cap-c"}))
	require.NoError(t, err)

	sup, err := supervisor.New(reg, t.TempDir())
	require.NoError(t, err)

	sup.Start(idx)
	require.Equal(t, types.StateActive, reg.ComponentAt(idx).State)

	ev := <-sup.Exits()
	sup.HandleExit(ev)

	assert.Equal(t, types.StateFailed, reg.ComponentAt(idx).State)
	capIdx, ok := reg.Capability("cap-c")
	require.True(t, ok)
	assert.False(t, reg.CapabilityAt(capIdx).Active)
}

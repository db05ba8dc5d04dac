package registry_test

import (
	"testing"

	"github.com/cuemby/initd/pkg/registry"
	"github.com/cuemby/initd/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustAdd(t *testing.T, r *registry.Registry, name string, requires, provides []string) registry.CompIndex {
	t.Helper()
	idx, err := r.AddComponent(&types.Component{Name: name, Requires: requires, Provides: provides})
	require.NoError(t, err)
	return idx
}

func TestCapabilityCreatedOnFirstMention(t *testing.T) {
	r := registry.New()
	mustAdd(t, r, "b", []string{"cap-a"}, nil)

	idx, ok := r.Capability("cap-a")
	require.True(t, ok)
	cap := r.CapabilityAt(idx)
	assert.False(t, cap.Active)
	assert.Equal(t, registry.NoProvider, cap.Provider)
}

func TestActivateDeactivateInvariant(t *testing.T) {
	r := registry.New()
	a := mustAdd(t, r, "a", nil, []string{"cap-a"})
	mustAdd(t, r, "b", []string{"cap-a"}, nil)

	capA, _ := r.Capability("cap-a")
	assert.False(t, r.CapabilityAt(capA).Active)

	r.ActivateProvided(a)
	assert.True(t, r.CapabilityAt(capA).Active)
	assert.Equal(t, a, r.CapabilityAt(capA).Provider)

	r.WithdrawProvided(a)
	assert.False(t, r.CapabilityAt(capA).Active)
	assert.Equal(t, registry.NoProvider, r.CapabilityAt(capA).Provider)
}

func TestRequiresSatisfied(t *testing.T) {
	r := registry.New()
	a := mustAdd(t, r, "a", nil, []string{"cap-a"})
	b := mustAdd(t, r, "b", []string{"cap-a"}, nil)

	assert.False(t, r.RequiresSatisfied(b))
	assert.Equal(t, []string{"cap-a"}, r.UnsatisfiedRequires(b))

	r.ActivateProvided(a)
	assert.True(t, r.RequiresSatisfied(b))
	assert.Empty(t, r.UnsatisfiedRequires(b))
}

func TestDegradedStillSatisfiesRequirement(t *testing.T) {
	r := registry.New()
	a := mustAdd(t, r, "a", nil, []string{"cap-a"})
	b := mustAdd(t, r, "b", []string{"cap-a"}, nil)

	r.ActivateProvided(a)
	capA, _ := r.Capability("cap-a")
	r.SetDegraded(capA, true)

	assert.True(t, r.RequiresSatisfied(b))
	assert.True(t, r.CapabilityAt(capA).Degraded)
}

func TestReverseDependencies(t *testing.T) {
	r := registry.New()
	mustAdd(t, r, "a", nil, []string{"cap-a"})
	mustAdd(t, r, "b", []string{"cap-a"}, []string{"cap-b"})
	mustAdd(t, r, "c", []string{"cap-a", "cap-b"}, nil)

	deps := r.ReverseDependencies("cap-a")
	assert.ElementsMatch(t, []string{"b", "c"}, deps)
}

func TestAddComponentDuplicateName(t *testing.T) {
	r := registry.New()
	mustAdd(t, r, "a", nil, nil)
	_, err := r.AddComponent(&types.Component{Name: "a"})
	assert.Error(t, err)
}

func TestRemoveComponentTombstones(t *testing.T) {
	r := registry.New()
	a := mustAdd(t, r, "a", nil, []string{"cap-a"})

	r.RemoveComponent(a)
	_, ok := r.Component("a")
	assert.False(t, ok)

	// Re-adding the same name is allowed after tombstoning.
	idx2 := mustAdd(t, r, "a", nil, nil)
	assert.NotEqual(t, a, idx2)
}

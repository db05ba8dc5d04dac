package control_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/initd/pkg/control"
	"github.com/cuemby/initd/pkg/handoff"
	"github.com/cuemby/initd/pkg/registry"
	"github.com/cuemby/initd/pkg/resolver"
	"github.com/cuemby/initd/pkg/supervisor"
	"github.com/cuemby/initd/pkg/types"
)

func newDispatcher(t *testing.T) (*control.Dispatcher, *registry.Registry, *supervisor.Supervisor) {
	t.Helper()
	reg := registry.New()
	res := resolver.New(reg)
	sup, err := supervisor.New(reg, t.TempDir())
	require.NoError(t, err)

	store, err := handoff.OpenStore(t.TempDir() + "/checkpoints.db")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return &control.Dispatcher{
		Reg:      reg,
		Resolver: res,
		Super:    sup,
		Handoff:  handoff.NewEngine(store, t.TempDir()),
		LogDir:   t.TempDir(),
	}, reg, sup
}

func addComponent(t *testing.T, reg *registry.Registry, name string, requires, provides []string) registry.CompIndex {
	t.Helper()
	idx, err := reg.AddComponent(&types.Component{
		Name:        name,
		Kind:        types.KindService,
		Command:     types.Command{Program: "/bin/sh", Arguments: []string{"-c", "sleep 5"}},
		Requires:    requires,
		Provides:    provides,
		Readiness:   types.ReadinessPolicy{Mode: types.ReadinessNone},
		StopTimeout: time.Second,
	})
	require.NoError(t, err)
	return idx
}

func TestDispatchStatusListsComponents(t *testing.T) {
	d, reg, _ := newDispatcher(t)
	addComponent(t, reg, "web", nil, []string{"cap-web"})

	resp := d.Dispatch("status")
	assert.Contains(t, resp, "OK")
	assert.Contains(t, resp, "web")
}

func TestDispatchStatusUnknownComponent(t *testing.T) {
	d, _, _ := newDispatcher(t)
	resp := d.Dispatch("status ghost")
	assert.Contains(t, resp, "ERROR")
}

func TestDispatchPendingReportsUnsatisfiedRequires(t *testing.T) {
	d, reg, _ := newDispatcher(t)
	addComponent(t, reg, "web", []string{"cap-db"}, nil)

	resp := d.Dispatch("pending")
	assert.Contains(t, resp, "web")
	assert.Contains(t, resp, "cap-db")
}

func TestDispatchResolveStartsSatisfiedComponents(t *testing.T) {
	d, reg, sup := newDispatcher(t)
	idx := addComponent(t, reg, "web", nil, []string{"cap-web"})

	resp := d.Dispatch("resolve")
	assert.Contains(t, resp, "OK")
	assert.Equal(t, types.StateActive, reg.ComponentAt(idx).State)

	sup.Stop(idx)
}

func TestDispatchSimulateRemoveReportsDependents(t *testing.T) {
	d, reg, _ := newDispatcher(t)
	addComponent(t, reg, "db", nil, []string{"cap-db"})
	addComponent(t, reg, "web", []string{"cap-db"}, nil)

	resp := d.Dispatch("simulate-remove db")
	assert.Contains(t, resp, "web")
}

func TestDispatchCheckCyclesReportsNoneOnAcyclicGraph(t *testing.T) {
	d, reg, _ := newDispatcher(t)
	addComponent(t, reg, "db", nil, []string{"cap-db"})
	addComponent(t, reg, "web", []string{"cap-db"}, nil)

	assert.Equal(t, "OK no cycles", d.Dispatch("check-cycles"))
}

func TestDispatchUnknownCommand(t *testing.T) {
	d, _, _ := newDispatcher(t)
	assert.Contains(t, d.Dispatch("frobnicate"), "ERROR")
}

func TestDispatchKexecDryRun(t *testing.T) {
	d, reg, _ := newDispatcher(t)
	addComponent(t, reg, "web", nil, nil)

	resp := d.Dispatch("kexec --dry-run")
	assert.Contains(t, resp, "OK")
	assert.Contains(t, resp, "1 component")
}

func TestDispatchReloadNotWiredReturnsError(t *testing.T) {
	d, _, _ := newDispatcher(t)
	assert.Contains(t, d.Dispatch("reload"), "ERROR")
}

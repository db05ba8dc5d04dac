package reactor

import (
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/initd/pkg/control"
	"github.com/cuemby/initd/pkg/handoff"
	"github.com/cuemby/initd/pkg/manifest"
	"github.com/cuemby/initd/pkg/registry"
	"github.com/cuemby/initd/pkg/resolver"
	"github.com/cuemby/initd/pkg/supervisor"
	"github.com/cuemby/initd/pkg/types"
)

const oneshotManifest = `
identity:
  name: once
  kind: oneshot
command:
  program: /bin/true
`

func newTestReactor(t *testing.T, fs afero.Fs, manifestDir string) *Reactor {
	t.Helper()
	reg := registry.New()
	res := resolver.New(reg)
	sup, err := supervisor.New(reg, t.TempDir())
	require.NoError(t, err)

	loader := manifest.NewLoader(fs, manifestDir)

	realDir := t.TempDir()
	watcher, err := manifest.NewWatcher(realDir)
	require.NoError(t, err)
	t.Cleanup(func() { watcher.Close() })

	srv, err := control.Listen(filepath.Join(t.TempDir(), "control.sock"))
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })

	store, err := handoff.OpenStore(filepath.Join(t.TempDir(), "checkpoints.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	eng := handoff.NewEngine(store, t.TempDir())

	disp := &control.Dispatcher{Reg: reg, Resolver: res, Super: sup, Handoff: eng}

	return New(reg, res, sup, loader, watcher, srv, disp, eng)
}

func TestReloadAddsNewlyDiscoveredComponents(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/etc/initd/once.yaml", []byte(oneshotManifest), 0o644))

	r := newTestReactor(t, fs, "/etc/initd")
	r.reload()

	idx, ok := r.Reg.Component("once")
	require.True(t, ok)
	assert.Equal(t, types.StateActive, r.Reg.ComponentAt(idx).State)
}

func TestReloadRemovesComponentsWhoseManifestDisappearedWhenNotLive(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/etc/initd/once.yaml", []byte(oneshotManifest), 0o644))

	r := newTestReactor(t, fs, "/etc/initd")
	r.reload()

	idx, ok := r.Reg.Component("once")
	require.True(t, ok)
	ev := <-r.Super.Exits()
	r.Super.HandleExit(ev)
	assert.Equal(t, types.StateDone, r.Reg.ComponentAt(idx).State)

	require.NoError(t, fs.Remove("/etc/initd/once.yaml"))
	r.reload()

	_, stillThere := r.Reg.Component("once")
	assert.False(t, stillThere)
}

func TestDumpStateDoesNotPanicOnEmptyRegistry(t *testing.T) {
	fs := afero.NewMemMapFs()
	r := newTestReactor(t, fs, "/etc/initd")
	assert.NotPanics(t, r.dumpState)
}

func TestHandleFiredRestartsComponentWhenDue(t *testing.T) {
	fs := afero.NewMemMapFs()
	r := newTestReactor(t, fs, "/etc/initd")

	idx, err := r.Reg.AddComponent(&types.Component{
		Name:      "flaky",
		Kind:      types.KindService,
		Command:   types.Command{Program: "/bin/sh", Arguments: []string{"-c", "exit 1"}},
		Readiness: types.ReadinessPolicy{Mode: types.ReadinessNone},
	})
	require.NoError(t, err)

	r.Super.Start(idx)
	ev := <-r.Super.Exits()
	r.Super.HandleExit(ev)
	require.Equal(t, types.StateFailed, r.Reg.ComponentAt(idx).State)

	r.handleFired(Fired{Index: idx, Kind: kindRestart})
	assert.NotEqual(t, types.StateFailed, r.Reg.ComponentAt(idx).State)
}

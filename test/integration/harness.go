// Package integration drives a real, in-process initd instance — the
// same pkg/registry, pkg/resolver, pkg/supervisor, and pkg/reactor a
// built binary would use, wired together exactly as cmd/initd wires
// them — against real manifest files and real child processes, and
// exercises it over the real control socket. It is the Go-module
// equivalent of the teacher's test/integration package, which drives a
// real warren manager/worker pair instead of mocking the API.
package integration

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/initd/pkg/control"
	"github.com/cuemby/initd/pkg/handoff"
	"github.com/cuemby/initd/pkg/manifest"
	"github.com/cuemby/initd/pkg/reactor"
	"github.com/cuemby/initd/pkg/registry"
	"github.com/cuemby/initd/pkg/resolver"
	"github.com/cuemby/initd/pkg/supervisor"
)

// harness is a full initd instance running in the background for the
// life of one test.
type harness struct {
	t           *testing.T
	manifestDir string
	logDir      string
	socket      string

	Reg *registry.Registry
}

// newHarness boots a complete instance: every manifest already present
// in a fresh temp directory is loaded before the reactor starts, the
// same order cmd/initd's main() uses.
func newHarness(t *testing.T) *harness {
	t.Helper()

	manifestDir := t.TempDir()
	logDir := t.TempDir()
	runtimeDir := t.TempDir()

	reg := registry.New()
	loader := manifest.NewOSLoader(manifestDir)
	boot := loader.Load()
	for _, err := range boot.Errors {
		t.Fatalf("unexpected manifest error at boot: %v", err)
	}
	for _, c := range boot.Components {
		_, err := reg.AddComponent(c)
		require.NoError(t, err)
	}

	res := resolver.New(reg)

	sup, err := supervisor.New(reg, logDir)
	require.NoError(t, err)

	store, err := handoff.OpenStore(filepath.Join(runtimeDir, "checkpoints.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	eng := handoff.NewEngine(store, runtimeDir)

	watcher, err := manifest.NewWatcher(manifestDir)
	require.NoError(t, err)
	t.Cleanup(func() { watcher.Close() })

	socket := filepath.Join(runtimeDir, "control.sock")
	ctrl, err := control.Listen(socket)
	require.NoError(t, err)

	disp := &control.Dispatcher{Reg: reg, Resolver: res, Super: sup, Handoff: eng, LogDir: logDir}
	react := reactor.New(reg, res, sup, loader, watcher, ctrl, disp, eng)
	disp.Reload = react.Reload
	disp.Upgrade = react.Upgrade

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = react.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Log("reactor did not shut down within 5s of cancellation")
		}
	})

	return &harness{t: t, manifestDir: manifestDir, logDir: logDir, socket: socket, Reg: reg}
}

// writeManifest writes a YAML manifest into the instance's manifest
// directory under name+".yaml".
func (h *harness) writeManifest(name, yaml string) {
	h.t.Helper()
	require.NoError(h.t, os.WriteFile(filepath.Join(h.manifestDir, name+".yaml"), []byte(yaml), 0o644))
}

// removeManifest deletes a manifest file, for reload-driven removal
// scenarios.
func (h *harness) removeManifest(name string) {
	h.t.Helper()
	require.NoError(h.t, os.Remove(filepath.Join(h.manifestDir, name+".yaml")))
}

// send issues one control-protocol request and returns the reply,
// half-closing its write side the same way cmd/initctl does so a
// multi-line reply can be read to EOF unambiguously.
func (h *harness) send(args ...string) string {
	h.t.Helper()
	conn, err := net.DialTimeout("unix", h.socket, 5*time.Second)
	require.NoError(h.t, err)
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(10 * time.Second))
	_, err = fmt.Fprintln(conn, strings.Join(args, " "))
	require.NoError(h.t, err)
	if uc, ok := conn.(*net.UnixConn); ok {
		_ = uc.CloseWrite()
	}

	reply, err := io.ReadAll(conn)
	require.NoError(h.t, err)
	return strings.TrimRight(string(reply), "\n")
}

// eventually polls fn until it returns true or timeout elapses,
// failing the test otherwise. Used throughout instead of a fixed sleep
// since every state transition here is driven by the reactor's own
// goroutine on its own schedule.
func eventually(t *testing.T, timeout time.Duration, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		if fn() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("condition not met within %s", timeout)
		}
		time.Sleep(25 * time.Millisecond)
	}
}

// yamlList renders a Go string slice as a YAML flow sequence.
func yamlList(items []string) string {
	if len(items) == 0 {
		return "[]"
	}
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = fmt.Sprintf("%q", s)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

// Package manifest implements the manifest loader (C1) of §4.1: it
// scans a directory for component manifests, materializes defaults,
// and yields types.Component records. Malformed manifests are logged
// and skipped so one bad file never blocks the rest of the directory.
package manifest

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/initd/pkg/errs"
	"github.com/cuemby/initd/pkg/log"
	"github.com/cuemby/initd/pkg/types"
)

// manifestGlobs are the file name patterns the loader recognizes;
// everything else in the directory is ignored per §4.1 "Non-manifest
// entries in the directory are ignored."
var manifestGlobs = []string{"*.yaml", "*.yml"}

// Loader scans a manifest directory. Filesystem access is abstracted
// through afero.Fs so tests can drive it against an in-memory
// filesystem instead of the real disk, per §9's call for a narrow,
// kernel-operation-free test interface.
type Loader struct {
	fs     afero.Fs
	dir    string
	logger zerolog.Logger
}

// NewLoader creates a Loader rooted at dir on fs.
func NewLoader(fs afero.Fs, dir string) *Loader {
	return &Loader{fs: fs, dir: dir, logger: log.WithComponent("manifest")}
}

// NewOSLoader creates a Loader against the real filesystem.
func NewOSLoader(dir string) *Loader {
	return NewLoader(afero.NewOsFs(), dir)
}

// LoadResult is the outcome of scanning the manifest directory once.
type LoadResult struct {
	Components []*types.Component
	Errors     []error // one per skipped manifest, per §4.1
}

// Load scans Loader's directory, parsing every file that matches a
// manifest glob. An exclusive lock on <dir>/.reload.lock is tried once
// and, if acquired, held for the duration of the scan; it guards only
// against writers that take the same lock, and the scan proceeds
// unlocked when the lock cannot be acquired.
func (l *Loader) Load() LoadResult {
	lockPath := filepath.Join(l.dir, ".reload.lock")
	fileLock := flock.New(lockPath)
	locked, err := fileLock.TryLock()
	if err == nil && locked {
		defer fileLock.Unlock()
	}
	// A lock acquisition failure degrades to an unlocked read rather
	// than blocking forever — losing the lock is not a reason to
	// refuse booting the system.

	var result LoadResult

	for _, pattern := range manifestGlobs {
		matches, err := doublestar.Glob(afero.NewIOFS(l.fs), filepath.Join(trimLeadingSlash(l.dir), pattern))
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("glob %s: %w", pattern, err))
			continue
		}
		for _, m := range matches {
			path := "/" + m
			comp, err := l.loadOne(path)
			if err != nil {
				cerr := errs.New(errs.Configuration, path, err)
				l.logger.Warn().Err(cerr).Msg("skipping malformed manifest")
				result.Errors = append(result.Errors, cerr)
				continue
			}
			result.Components = append(result.Components, comp)
		}
	}

	return result
}

func trimLeadingSlash(p string) string {
	if len(p) > 0 && p[0] == '/' {
		return p[1:]
	}
	return p
}

func (l *Loader) loadOne(path string) (*types.Component, error) {
	data, err := afero.ReadFile(l.fs, path)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}

	var m types.Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}

	return manifestToComponent(&m, path)
}

// manifestToComponent validates required fields and materializes the
// defaults listed in §4.1: absent readiness -> none; absent health ->
// disabled; absent isolation -> no cgroup/namespace changes; absent
// upgrade strategy -> restart.
func manifestToComponent(m *types.Manifest, path string) (*types.Component, error) {
	if m.Identity.Name == "" {
		return nil, fmt.Errorf("missing identity.name")
	}
	if m.Command.Program == "" {
		return nil, fmt.Errorf("missing command.program")
	}

	kind := types.Kind(m.Identity.Kind)
	switch kind {
	case "":
		kind = types.KindService
	case types.KindService, types.KindOneshot:
	default:
		return nil, fmt.Errorf("unknown kind %q", m.Identity.Kind)
	}

	readiness := types.ReadinessMode(m.Lifecycle.Readiness)
	switch readiness {
	case "":
		readiness = types.ReadinessNone
	case types.ReadinessNone, types.ReadinessFile, types.ReadinessSignal, types.ReadinessCommand:
	default:
		return nil, fmt.Errorf("unknown readiness mode %q", m.Lifecycle.Readiness)
	}

	upgrade := types.UpgradeStrategy(m.Upgrade.Strategy)
	switch upgrade {
	case "":
		upgrade = types.UpgradeRestart
	case types.UpgradeRestart, types.UpgradeFDPassing, types.UpgradeCheckpointRestore:
	default:
		return nil, fmt.Errorf("unknown upgrade strategy %q", m.Upgrade.Strategy)
	}

	var namespaces []types.Namespace
	for _, ns := range m.Isolation.Namespaces {
		n := types.Namespace(ns)
		switch n {
		case types.NamespaceMount, types.NamespacePID, types.NamespaceNet,
			types.NamespaceUTS, types.NamespaceIPC, types.NamespaceUser:
			namespaces = append(namespaces, n)
		default:
			return nil, fmt.Errorf("unknown namespace %q", ns)
		}
	}

	readinessTimeout := durationOrDefault(m.Lifecycle.ReadinessTimeout, 30*time.Second)
	readinessInterval := durationOrDefault(m.Lifecycle.ReadinessInterval, time.Second)

	c := &types.Component{
		Name: m.Identity.Name,
		Kind: kind,
		Command: types.Command{
			Program:   m.Command.Program,
			Arguments: m.Command.Arguments,
		},
		Requires: m.Requires.Capabilities,
		Provides: m.Provides.Capabilities,
		Readiness: types.ReadinessPolicy{
			Mode:     readiness,
			Target:   m.Lifecycle.ReadinessTarget,
			Command:  splitCommand(m.Lifecycle.ReadinessTarget),
			Timeout:  readinessTimeout,
			Interval: readinessInterval,
		},
		Health: types.HealthPolicy{
			Enabled:      len(m.Lifecycle.HealthProbe) > 0,
			Probe:        m.Lifecycle.HealthProbe,
			Interval:     durationOrDefault(m.Lifecycle.HealthInterval, 30*time.Second),
			Timeout:      10 * time.Second,
			DegradeAfter: intOrDefault(m.Lifecycle.HealthDegradeAfter, 3),
			FailAfter:    intOrDefault(m.Lifecycle.HealthFailAfter, 2),
		},
		Isolation: types.IsolationProfile{
			Resources: types.ResourceLimits{
				MemoryMax:  m.Resources.MemoryMax,
				MemoryHigh: m.Resources.MemoryHigh,
				CPUWeight:  m.Resources.CPUWeight,
				CPUMax:     m.Resources.CPUMax,
				IOWeight:   m.Resources.IOWeight,
				PidsMax:    m.Resources.PidsMax,
			},
			Namespaces: namespaces,
			Hostname:   m.Isolation.Hostname,
			Root:       m.Isolation.Root,
		},
		Upgrade: upgrade,
		Checkpoint: types.CheckpointPolicy{
			Enabled:        m.Checkpoint.Enabled,
			LeaveRunning:   m.Checkpoint.LeaveRunning,
			PreserveFDs:    m.Checkpoint.PreserveFDs,
			MemoryEstimate: m.Checkpoint.MemoryEstimate,
			MaxAge:         durationOrDefault(m.Checkpoint.MaxAge, 0),
		},
		StopTimeout: 10 * time.Second,
		State:       types.StateInactive,
		SourcePath:  path,
	}

	return c, nil
}

func durationOrDefault(seconds float64, fallback time.Duration) time.Duration {
	if seconds <= 0 {
		return fallback
	}
	return time.Duration(seconds * float64(time.Second))
}

func intOrDefault(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

// splitCommand is a minimal whitespace splitter for the command-mode
// readiness target; manifests that need quoting should use
// lifecycle.readiness-target as a single script path instead.
func splitCommand(s string) []string {
	if s == "" {
		return nil
	}
	var fields []string
	start := -1
	for i, r := range s {
		if r == ' ' || r == '\t' {
			if start >= 0 {
				fields = append(fields, s[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		fields = append(fields, s[start:])
	}
	return fields
}

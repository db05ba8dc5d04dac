package manifest_test

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/initd/pkg/manifest"
	"github.com/cuemby/initd/pkg/types"
)

const validManifest = `
identity:
  name: network
  kind: service
command:
  program: /usr/bin/networkd
  arguments: ["--foo"]
provides:
  capabilities: ["network.configured"]
lifecycle:
  readiness: file
  readiness-target: /run/network.ready
  readiness-timeout: 5
`

const malformedManifest = `
identity:
  kind: service
command:
  program: /usr/bin/broken
`

func writeFile(t *testing.T, fs afero.Fs, path, contents string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fs, path, []byte(contents), 0o644))
}

func TestLoadValidManifest(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/etc/initd/network.yaml", validManifest)

	loader := manifest.NewLoader(fs, "/etc/initd")
	result := loader.Load()

	require.Empty(t, result.Errors)
	require.Len(t, result.Components, 1)

	c := result.Components[0]
	assert.Equal(t, "network", c.Name)
	assert.Equal(t, types.KindService, c.Kind)
	assert.Equal(t, "/usr/bin/networkd", c.Command.Program)
	assert.Equal(t, []string{"network.configured"}, c.Provides)
	assert.Equal(t, types.ReadinessFile, c.Readiness.Mode)
	assert.Equal(t, types.StateInactive, c.State)
	// Defaults materialized for everything the manifest omitted.
	assert.Equal(t, types.UpgradeRestart, c.Upgrade)
	assert.False(t, c.Health.Enabled)
	assert.True(t, c.Isolation.Empty())
}

func TestLoadSkipsMalformedButContinues(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/etc/initd/bad.yaml", malformedManifest)
	writeFile(t, fs, "/etc/initd/good.yaml", validManifest)
	writeFile(t, fs, "/etc/initd/ignored.txt", "not a manifest")

	loader := manifest.NewLoader(fs, "/etc/initd")
	result := loader.Load()

	require.Len(t, result.Errors, 1)
	require.Len(t, result.Components, 1)
	assert.Equal(t, "network", result.Components[0].Name)
}

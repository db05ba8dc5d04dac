package config_test

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/initd/pkg/config"
)

func TestLoadUsesDefaultsWithNoFlagsEnvOrFile(t *testing.T) {
	cmd := &cobra.Command{Use: "initd"}
	v := viper.New()
	config.Bind(cmd, v)

	cfg, err := config.Load(v)
	require.NoError(t, err)
	assert.Equal(t, "/etc/initd", cfg.ManifestDir)
	assert.Equal(t, "/run/initd/control.sock", cfg.ControlSocket)
}

func TestLoadPrefersExplicitFlagOverDefault(t *testing.T) {
	cmd := &cobra.Command{Use: "initd"}
	v := viper.New()
	config.Bind(cmd, v)
	require.NoError(t, cmd.Flags().Set(config.KeyManifestDir, "/custom/manifests"))

	cfg, err := config.Load(v)
	require.NoError(t, err)
	assert.Equal(t, "/custom/manifests", cfg.ManifestDir)
}

func TestLoadPrefersEnvOverDefault(t *testing.T) {
	cmd := &cobra.Command{Use: "initd"}
	v := viper.New()
	config.Bind(cmd, v)
	t.Setenv("INITD_LOG_LEVEL", "debug")

	cfg, err := config.Load(v)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
}

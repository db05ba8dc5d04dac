// Package config layers initd's process-level configuration the way
// Scoutflo's MCP server layers its flags: cobra flags are bound into
// viper so the same key resolves, in priority order, from an explicit
// flag, an INITD_-prefixed environment variable, an initd.yaml config
// file, then a built-in default.
package config

import (
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Keys are the viper keys every binding in Bind uses, exported so
// cmd/initd and tests don't repeat string literals.
const (
	KeyManifestDir    = "manifest-dir"
	KeyRuntimeDir     = "runtime-dir"
	KeyControlSocket  = "control-socket"
	KeyLogDir         = "log-dir"
	KeyCheckpointDB   = "checkpoint-db"
	KeyCheckpointDir  = "checkpoint-dir"
	KeyLogLevel       = "log-level"
	KeyMetricsAddr    = "metrics-addr"
	KeyShutdownGrace  = "shutdown-grace"
	KeyKexecDumps     = "kexec-dumps"
	KeyLogJSON        = "log-json"
)

// Config is the resolved, typed view of the process configuration
// pkg/config hands to cmd/initd after Bind/Load. Reading through
// Config rather than calling viper.Get* directly from business logic
// keeps the viper dependency confined to this package.
type Config struct {
	ManifestDir    string
	RuntimeDir     string
	ControlSocket  string
	LogDir         string
	CheckpointDB   string
	CheckpointDir  string
	LogLevel       string
	LogJSON        bool
	MetricsAddr    string
	ShutdownGrace  time.Duration

	// KexecDumps is the directory a prior live instance's checkpoint
	// images were persisted to before a kernel-replace reboot; the
	// kernel command line carries it through to the freshly kexec'd
	// binary per §6, since no environment or on-disk config survives
	// the replace.
	KexecDumps string
}

// Bind registers cmd/initd's flags on cmd and binds them into v,
// establishing the flag > env > file > default precedence. Called
// from the cobra command's init, mirroring the teacher pack's
// Scoutflo-style root.go.
func Bind(cmd *cobra.Command, v *viper.Viper) {
	flags := cmd.Flags()
	flags.String(KeyManifestDir, "/etc/initd", "directory of component manifests")
	flags.String(KeyRuntimeDir, "/run/initd", "runtime directory for sockets and readiness pipes")
	flags.String(KeyControlSocket, "/run/initd/control.sock", "control protocol Unix socket path")
	flags.String(KeyLogDir, "/var/log/initd", "per-component log sink directory")
	flags.String(KeyCheckpointDB, "/var/lib/initd/checkpoints.db", "checkpoint metadata database path")
	flags.String(KeyCheckpointDir, "/var/lib/initd/checkpoints", "checkpoint image dump directory")
	flags.String(KeyLogLevel, "info", "log level: debug, info, warn, error")
	flags.Bool(KeyLogJSON, false, "emit structured JSON logs instead of the console writer")
	flags.String(KeyMetricsAddr, "", "address to serve Prometheus metrics on (empty disables)")
	flags.Duration(KeyShutdownGrace, 10*time.Second, "shutdown grace period; read into Config.ShutdownGrace, but shutdown uses each component's own stop timeout")
	flags.String(KeyKexecDumps, "", "checkpoint dump directory carried over a live kernel replace (kernel command line)")

	_ = v.BindPFlags(flags)
	v.SetEnvPrefix("initd")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
}

// Load reads initd.yaml (if present, from /etc/initd or the working
// directory) and materializes a typed Config from v's
// already-bound keys. A missing config file is not an error — flags,
// env, and defaults are enough to boot.
func Load(v *viper.Viper) (Config, error) {
	v.SetConfigName("initd")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/initd")
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return Config{}, err
		}
	}

	return Config{
		ManifestDir:   v.GetString(KeyManifestDir),
		RuntimeDir:    v.GetString(KeyRuntimeDir),
		ControlSocket: v.GetString(KeyControlSocket),
		LogDir:        v.GetString(KeyLogDir),
		CheckpointDB:  v.GetString(KeyCheckpointDB),
		CheckpointDir: v.GetString(KeyCheckpointDir),
		LogLevel:      v.GetString(KeyLogLevel),
		LogJSON:       v.GetBool(KeyLogJSON),
		MetricsAddr:   v.GetString(KeyMetricsAddr),
		ShutdownGrace: v.GetDuration(KeyShutdownGrace),
		KexecDumps:    v.GetString(KeyKexecDumps),
	}, nil
}

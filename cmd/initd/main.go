// Command initd is the primordial process: it runs as PID 1 (or, in a
// container or test environment, as the top-level process of its own
// PID namespace), reads component manifests, and drives every managed
// component through the capability-routed supervision state machine
// described by pkg/registry, pkg/resolver, and pkg/supervisor.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cuemby/initd/pkg/config"
	"github.com/cuemby/initd/pkg/control"
	"github.com/cuemby/initd/pkg/errs"
	"github.com/cuemby/initd/pkg/handoff"
	"github.com/cuemby/initd/pkg/isolation"
	"github.com/cuemby/initd/pkg/log"
	"github.com/cuemby/initd/pkg/manifest"
	"github.com/cuemby/initd/pkg/metrics"
	"github.com/cuemby/initd/pkg/reactor"
	"github.com/cuemby/initd/pkg/registry"
	"github.com/cuemby/initd/pkg/resolver"
	"github.com/cuemby/initd/pkg/supervisor"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	// MaybeReexec never returns if this process was cloned into fresh
	// namespaces for a component's isolation profile — it finishes
	// in-namespace setup and execs into the component's real command.
	// Every other invocation (booting as PID 1, or as initctl's peer
	// daemon in a test harness) falls through to the cobra root below.
	isolation.MaybeReexec()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "initd: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "initd",
	Short: "Reactive, capability-routed process supervisor",
	Long: `initd is a single-binary process supervisor built to run as a
Linux system's PID 1. Components declare the capabilities they provide
and require in YAML manifests; initd resolves that dependency graph to
a fixed point, starts and restarts processes to satisfy it, and exposes
the running system over a local control socket.`,
	Version: Version,
	RunE:    run,
}

var v = viper.New()

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"initd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))
	config.Bind(rootCmd, v)
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(v)
	if err != nil {
		return errs.New(errs.Configuration, "load config", err)
	}

	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})
	logger := log.WithComponent("main")

	for _, dir := range []string{cfg.RuntimeDir, cfg.LogDir, cfg.CheckpointDir, filepath.Dir(cfg.CheckpointDB), filepath.Dir(cfg.ControlSocket)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errs.New(errs.KernelAPI, "create "+dir, err)
		}
	}

	checkpointDir := cfg.CheckpointDir
	if cfg.KexecDumps != "" {
		logger.Info().Str("path", cfg.KexecDumps).Msg("resuming from a live kernel replace, reusing carried-over checkpoint dumps")
		checkpointDir = cfg.KexecDumps
	}

	reg := registry.New()

	loader := manifest.NewOSLoader(cfg.ManifestDir)
	initial := loader.Load()
	for _, lerr := range initial.Errors {
		logger.Warn().Err(lerr).Msg("manifest skipped at boot")
	}
	for _, c := range initial.Components {
		if _, aerr := reg.AddComponent(c); aerr != nil {
			logger.Warn().Err(aerr).Str("component", c.Name).Msg("manifest rejected at boot")
		}
	}

	res := resolver.New(reg)

	sup, err := supervisor.New(reg, cfg.LogDir)
	if err != nil {
		return fmt.Errorf("build supervisor: %w", err)
	}

	store, err := handoff.OpenStore(cfg.CheckpointDB)
	if err != nil {
		return fmt.Errorf("open checkpoint store: %w", err)
	}
	defer store.Close()
	eng := handoff.NewEngine(store, checkpointDir)

	watcher, err := manifest.NewWatcher(cfg.ManifestDir)
	if err != nil {
		return fmt.Errorf("watch manifest directory: %w", err)
	}
	defer watcher.Close()

	ctrlSrv, err := control.Listen(cfg.ControlSocket)
	if err != nil {
		return fmt.Errorf("listen on control socket: %w", err)
	}

	disp := &control.Dispatcher{
		Reg:      reg,
		Resolver: res,
		Super:    sup,
		Handoff:  eng,
		LogDir:   cfg.LogDir,
	}

	react := reactor.New(reg, res, sup, loader, watcher, ctrlSrv, disp, eng)
	disp.Reload = react.Reload
	disp.Upgrade = react.Upgrade

	collector := metrics.NewCollector(reg)
	collector.Start()
	defer collector.Stop()

	if cfg.MetricsAddr != "" {
		metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: metrics.Handler()}
		go func() {
			if lerr := metricsSrv.ListenAndServe(); lerr != nil && lerr != http.ErrServerClosed {
				logger.Warn().Err(lerr).Msg("metrics listener stopped")
			}
		}()
		defer metricsSrv.Close()
	}

	logger.Info().
		Int("components", len(reg.Components())).
		Str("control_socket", cfg.ControlSocket).
		Msg("initd starting reactor")

	if runErr := react.Run(context.Background()); runErr != nil {
		if execErr := reactor.Failsafe(runErr); execErr != nil {
			return fmt.Errorf("reactor failed and failsafe exec also failed: %w", execErr)
		}
		// unreachable: a successful syscall.Exec never returns
	}

	return nil
}

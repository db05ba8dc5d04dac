// Package reactor implements the event loop (C10) of §4.8: the single
// goroutine that owns every mutation of pkg/registry and
// pkg/supervisor state, fed by channels from process-exit waiters,
// readiness watchers, the manifest filesystem watcher, the control
// surface, and a timer wheel.
//
// Every other package in this module follows the same rule: anything
// concurrent only ever sends on a channel, and Reactor.Run is the one
// call site that ever reads a registry field and writes it back. This
// is the Go-idiomatic rendering of §5's "single OS thread, cooperative
// reactor, no locks because there is only one writer" — os/signal's
// own self-pipe plumbing stands in for the literal self-pipe spec.md
// describes, since Go's runtime already implements that trick
// internally for signal delivery.
package reactor

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/cuemby/initd/pkg/control"
	"github.com/cuemby/initd/pkg/handoff"
	"github.com/cuemby/initd/pkg/log"
	"github.com/cuemby/initd/pkg/manifest"
	"github.com/cuemby/initd/pkg/registry"
	"github.com/cuemby/initd/pkg/resolver"
	"github.com/cuemby/initd/pkg/supervisor"
	"github.com/cuemby/initd/pkg/types"
)

// upgradeTimeout bounds a single control-triggered upgrade attempt,
// including every rung of the strategy ladder it falls through.
const upgradeTimeout = 60 * time.Second

// debounce coalesces a burst of filesystem events into a single
// reload, per §4.1 "coalescing is left to pkg/reactor."
const debounce = 200 * time.Millisecond

// healthProbeTimeout bounds how long the reactor blocks inside one
// RunHealthProbe call before moving on to the next select iteration.
const healthProbeTimeout = 15 * time.Second

// Reactor owns the select loop. It is constructed once by cmd/initd
// and run for the process lifetime.
type Reactor struct {
	Reg        *registry.Registry
	Resolver   *resolver.Resolver
	Super      *supervisor.Supervisor
	Loader     *manifest.Loader
	Watcher    *manifest.Watcher
	Control    *control.Server
	Dispatcher *control.Dispatcher
	Handoff    *handoff.Engine

	logger zerolog.Logger
	wheel  *Wheel

	healthScheduled map[registry.CompIndex]bool
	restartPending  map[registry.CompIndex]bool

	reloadTimer *time.Timer
	shutdown    chan struct{}
}

// New assembles a Reactor from its already-constructed collaborators.
// cmd/initd is responsible for opening the manifest loader, the
// control socket, and wiring Dispatcher.Reload/Dispatcher.Upgrade
// before calling Run.
func New(reg *registry.Registry, res *resolver.Resolver, sup *supervisor.Supervisor, loader *manifest.Loader, watcher *manifest.Watcher, ctrl *control.Server, disp *control.Dispatcher, eng *handoff.Engine) *Reactor {
	return &Reactor{
		Reg:             reg,
		Resolver:        res,
		Super:           sup,
		Loader:          loader,
		Watcher:         watcher,
		Control:         ctrl,
		Dispatcher:      disp,
		Handoff:         eng,
		logger:          log.WithComponent("reactor"),
		wheel:           NewWheel(),
		healthScheduled: make(map[registry.CompIndex]bool),
		restartPending:  make(map[registry.CompIndex]bool),
		shutdown:        make(chan struct{}),
	}
}

// Run drives the select loop until a termination signal is received
// or ctx is cancelled, and then returns nil. The loop has no path that
// returns a non-nil error; the emergency shell of §4.8/§9 is Failsafe,
// which cmd/initd calls only if Run returns an error.
func (r *Reactor) Run(ctx context.Context) error {
	sigs := make(chan os.Signal, 8)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(sigs)

	go r.Control.Serve()
	defer r.Control.Close()
	defer r.wheel.Close()

	r.initialResolve()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("context cancelled, shutting down")
			return nil

		case sig := <-sigs:
			if done := r.handleSignal(sig); done {
				return nil
			}

		case ev := <-r.Super.Exits():
			r.Super.HandleExit(ev)
			r.afterStateChange()

		case ev := <-r.Super.Ready():
			r.Super.HandleReady(ev)
			r.afterStateChange()

		case req := <-r.Control.Requests():
			req.Reply <- r.Dispatcher.Dispatch(req.Line)
			r.afterStateChange()

		case fired := <-r.wheel.Fired():
			r.handleFired(fired)

		case ev := <-r.Watcher.Events():
			r.scheduleReload(ev)

		case err := <-r.Watcher.Errors():
			r.logger.Warn().Err(err).Msg("manifest watch error")

		case <-r.reloadFires():
			r.reload()
		}
	}
}

// reloadFires returns reloadTimer's channel, or a nil channel (which
// blocks forever in a select) when no reload is pending — the
// standard Go pattern for an optional timer arm in a select loop.
func (r *Reactor) reloadFires() <-chan time.Time {
	if r.reloadTimer == nil {
		return nil
	}
	return r.reloadTimer.C
}

// scheduleReload (re)arms the debounce timer on any manifest
// directory change; the event's own contents don't matter since a
// reload always re-scans the whole directory.
func (r *Reactor) scheduleReload(fsnotify.Event) {
	if r.reloadTimer == nil {
		r.reloadTimer = time.NewTimer(debounce)
		return
	}
	r.reloadTimer.Reset(debounce)
}

// handleSignal applies spec.md §6's signal table: TERM/INT shut down
// cleanly, USR1 reloads manifests, USR2 dumps state to the log.
// Returns true once the reactor should exit its select loop.
func (r *Reactor) handleSignal(sig os.Signal) bool {
	switch sig {
	case syscall.SIGTERM, syscall.SIGINT:
		r.logger.Info().Str("signal", sig.String()).Msg("termination signal received, stopping all components")
		r.stopAll()
		return true
	case syscall.SIGUSR1:
		r.logger.Info().Msg("SIGUSR1 received, reloading manifests")
		r.reload()
	case syscall.SIGUSR2:
		r.dumpState()
	}
	return false
}

func (r *Reactor) stopAll() {
	for idx, c := range r.Reg.Components() {
		if c.State.Live() {
			r.Super.Stop(idx)
		}
	}
}

// initialResolve runs the fixed-point pass once at startup so any
// component with no requirements begins STARTING immediately, then
// schedules health/restart timers for whatever it promoted.
func (r *Reactor) initialResolve() {
	r.afterStateChange()
}

func (r *Reactor) resolveAndApply() {
	if _, err := r.Resolver.Resolve(r.Super.Apply); err != nil {
		r.logger.Error().Err(err).Msg("resolver did not converge")
	}
}

// afterStateChange re-runs the fixed-point pass and ensures every
// newly-live, health-enabled component has a health tick scheduled
// and every newly-failed component has a restart attempt scheduled.
func (r *Reactor) afterStateChange() {
	r.resolveAndApply()

	for idx, c := range r.Reg.Components() {
		switch {
		case c.State == types.StateActive || c.State == types.StateDegraded:
			if c.Health.Enabled && !r.healthScheduled[idx] {
				r.healthScheduled[idx] = true
				r.wheel.Schedule(idx, kindHealthTick, time.Now().Add(c.Health.Interval))
			}
			delete(r.restartPending, idx)
		case c.State == types.StateFailed:
			delete(r.healthScheduled, idx)
			if !r.restartPending[idx] {
				r.restartPending[idx] = true
				r.wheel.Schedule(idx, kindRestart, time.Now().Add(r.Super.BackoffFor(idx)))
			}
		default:
			delete(r.healthScheduled, idx)
			delete(r.restartPending, idx)
		}
	}
}

func (r *Reactor) handleFired(f Fired) {
	c := r.Reg.ComponentAt(f.Index)

	switch f.Kind {
	case kindRestart:
		delete(r.restartPending, f.Index)
		if r.Super.RestartDue(f.Index) {
			r.Super.Restart(f.Index)
			r.afterStateChange()
		} else if c.State == types.StateFailed {
			// Requirements still unmet; keep polling at the same cadence
			// rather than restarting blind against a capability that
			// isn't there yet.
			r.restartPending[f.Index] = true
			r.wheel.Schedule(f.Index, kindRestart, time.Now().Add(r.Super.BackoffFor(f.Index)))
		}

	case kindHealthTick:
		delete(r.healthScheduled, f.Index)
		if c.State != types.StateActive && c.State != types.StateDegraded {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), healthProbeTimeout)
		r.Super.RunHealthProbe(ctx, f.Index)
		cancel()
		r.afterStateChange()
	}
}

// reload is the signal- and debounce-triggered path: it runs Reload
// and only logs the outcome, since neither SIGUSR1 nor the filesystem
// watcher has anyone waiting on a return value.
func (r *Reactor) reload() {
	r.reloadTimer = nil
	added, removed, err := r.Reload()
	if err != nil {
		r.logger.Warn().Err(err).Msg("manifest reload encountered errors")
	}
	r.logger.Info().Int("added", len(added)).Int("removed", len(removed)).Msg("manifest reload complete")
}

// Reload re-scans the manifest directory and applies the difference to
// the registry: newly discovered manifests are added as INACTIVE
// components (picked up by the next resolve pass); components whose
// manifest disappeared are tombstoned once they are no longer live —
// a still-running component whose file was deleted is left alone
// until it naturally exits, per §4.1's "destroyed after the process
// has been reaped." Exported so the control surface's "reload" command
// (see pkg/control.Dispatcher.Reload) can trigger the same path
// synchronously from inside the reactor goroutine and report what
// changed back to the caller.
func (r *Reactor) Reload() (added, removed []string, err error) {
	result := r.Loader.Load()
	var errs []error
	for _, e := range result.Errors {
		r.logger.Warn().Err(e).Msg("manifest reload: skipping entry")
		errs = append(errs, e)
	}

	seen := make(map[string]bool, len(result.Components))
	for _, comp := range result.Components {
		seen[comp.Name] = true
		if _, ok := r.Reg.Component(comp.Name); ok {
			continue
		}
		if _, aerr := r.Reg.AddComponent(comp); aerr != nil {
			r.logger.Warn().Err(aerr).Str("component", comp.Name).Msg("manifest reload: add failed")
			continue
		}
		added = append(added, comp.Name)
	}

	for idx, c := range r.Reg.Components() {
		if seen[c.Name] {
			continue
		}
		if c.State.Live() {
			continue
		}
		r.Reg.RemoveComponent(idx)
		removed = append(removed, c.Name)
	}

	r.resolveAndApply()

	if len(errs) > 0 {
		err = fmt.Errorf("%d manifest(s) skipped: %w", len(errs), errs[0])
	}
	return added, removed, err
}

// upgradeGrace bounds how long a superseded instance gets to exit on
// its own once a replacement has taken over, before Supervisor
// escalates to SIGKILL, per §4.4 step 7.
const upgradeGrace = 10 * time.Second

// Upgrade drives a zero-(or minimal-)gap replacement of a live
// component's process through its configured strategy ladder (see
// pkg/handoff). The fd-passing and restart rungs start their
// replacement via Supervisor.StartReplacement, which forks a new
// instance without moving the component out of ACTIVE; the
// checkpoint-restore rung restores its instance through the external
// tool instead. Once a StartReplacement-based rung succeeds, the
// instance it displaced is terminated through
// Supervisor.FinishReplacement — this is the step that actually
// retires the old PID, rather than leaving it running alongside the
// new one.
func (r *Reactor) Upgrade(name string) (handoff.Result, error) {
	idx, ok := r.Reg.Component(name)
	if !ok {
		return handoff.Result{}, fmt.Errorf("no such component %q", name)
	}
	c := r.Reg.ComponentAt(idx)
	if !c.State.Live() {
		return handoff.Result{}, fmt.Errorf("component %q is not live", name)
	}

	ctx, cancel := context.WithTimeout(context.Background(), upgradeTimeout)
	defer cancel()

	oldPID := c.PID
	oldConn := r.Super.HandoffConn(idx)

	var displaced supervisor.ReplacedInstance
	var haveDisplaced bool

	res, err := r.Handoff.Upgrade(ctx, c, oldPID, oldConn, func(ctx context.Context) (int, *net.UnixConn, error) {
		pid, conn, d, serr := r.Super.StartReplacement(idx)
		if serr != nil {
			return 0, nil, serr
		}
		displaced = d
		haveDisplaced = true
		return pid, conn, nil
	})
	if err != nil {
		return handoff.Result{}, err
	}

	// checkpoint-restore never calls the replacement callback above —
	// it restores the new instance out of band via criu — so there is
	// no displaced bookkeeping to tear down here. The dump stops the
	// outgoing process unless the component's checkpoint leave-running
	// option is set, in which case nothing here terminates it.
	if haveDisplaced {
		r.Super.FinishReplacement(displaced, upgradeGrace)
	}
	c.PID = res.NewPID

	r.afterStateChange()
	return res, nil
}

// dumpState logs a one-line summary of every component's current
// state, satisfying SIGUSR2's "dump state to log" per spec.md §6.
func (r *Reactor) dumpState() {
	for _, c := range r.Reg.Components() {
		r.logger.Info().
			Str("component", c.Name).
			Str("state", string(c.State)).
			Int("pid", c.PID).
			Msg("state dump")
	}
	for _, capRow := range r.Reg.Capabilities() {
		r.logger.Info().
			Str("capability", capRow.Name).
			Bool("active", capRow.Active).
			Bool("degraded", capRow.Degraded).
			Msg("state dump")
	}
}

// Failsafe execs an emergency shell in place of the current process
// image, per §4.8/§9: the one codepath in this module permitted to
// replace PID 1 outright, used when the reactor's own wait primitive
// has failed in a way that cannot be recovered by any retry.
func Failsafe(reason error) error {
	shell := "/bin/sh"
	argv := []string{shell}
	env := os.Environ()
	fmt.Fprintf(os.Stderr, "initd: reactor failed fatally (%v), execing emergency shell\n", reason)
	return syscall.Exec(shell, argv, env)
}

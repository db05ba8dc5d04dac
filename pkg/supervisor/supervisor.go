// Package supervisor implements the per-component supervision state
// machine (C5) of §4.2: forking and reaping component processes,
// driving INACTIVE/STARTING/READY_WAIT/ACTIVE/DEGRADED/FAILED/DONE/CYCLE
// transitions, and enforcing restart rate limiting.
//
// Supervisor is the apply side of pkg/resolver's fixed-point loop: the
// resolver decides *that* a component should be promoted or demoted,
// Supervisor decides *how* — forking a process, tearing one down,
// or withdrawing capabilities — and is the only thing that mutates a
// types.Component's supervision-owned fields. Like pkg/registry, it
// is built to be driven by a single goroutine; the exit-waiter
// goroutines it spawns only ever send on a channel.
package supervisor

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/initd/pkg/handoff"
	"github.com/cuemby/initd/pkg/health"
	"github.com/cuemby/initd/pkg/isolation"
	"github.com/cuemby/initd/pkg/log"
	"github.com/cuemby/initd/pkg/registry"
	"github.com/cuemby/initd/pkg/resolver"
	"github.com/cuemby/initd/pkg/types"
)

const defaultStopTimeout = 10 * time.Second

// Supervisor owns process lifecycle for every component in reg.
type Supervisor struct {
	reg    *registry.Registry
	logger zerolog.Logger

	logDir  string
	selfExe string

	cmds                map[registry.CompIndex]*exec.Cmd
	cgroups             map[registry.CompIndex]*isolation.Cgroup
	sinks               map[registry.CompIndex]*LogSink
	health              map[registry.CompIndex]*health.Status
	pendingSignalPipes  map[registry.CompIndex]signalPipePair
	pendingHandoffPipes map[registry.CompIndex]handoffPipePair
	readyCancel         map[registry.CompIndex]context.CancelFunc

	// handoffConns holds the supervisor's end of a persistent handoff
	// socket for every component whose upgrade strategy needs one
	// (fd-passing or checkpoint-restore, since the latter falls
	// through to the former). It is established at process-start time
	// and reused for the component's whole life, per §4.4 strategy 2's
	// reserved-descriptor convention.
	handoffConns map[registry.CompIndex]*net.UnixConn

	// pidExited closes when the waiter goroutine for that pid has
	// reaped it; FinishReplacement uses it to wait out a handoff's
	// grace period without racing the same pid's ExitEvent delivery on
	// the shared exits channel.
	pidExited map[int]chan struct{}

	exits chan ExitEvent
	ready chan ReadyEvent
}

// New creates a Supervisor. logDir is where per-component log sinks
// are written (e.g. /run/initd/logs); the running binary's own path
// is resolved once up front since it's needed any time a component's
// isolation profile requires the re-exec shim of pkg/isolation.
func New(reg *registry.Registry, logDir string) (*Supervisor, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve own executable path: %w", err)
	}
	return &Supervisor{
		reg:                 reg,
		logger:              log.WithComponent("supervisor"),
		logDir:              logDir,
		selfExe:             self,
		cmds:                make(map[registry.CompIndex]*exec.Cmd),
		cgroups:             make(map[registry.CompIndex]*isolation.Cgroup),
		sinks:               make(map[registry.CompIndex]*LogSink),
		health:              make(map[registry.CompIndex]*health.Status),
		pendingSignalPipes:  make(map[registry.CompIndex]signalPipePair),
		pendingHandoffPipes: make(map[registry.CompIndex]handoffPipePair),
		readyCancel:         make(map[registry.CompIndex]context.CancelFunc),
		handoffConns:        make(map[registry.CompIndex]*net.UnixConn),
		pidExited:           make(map[int]chan struct{}),
		exits:               make(chan ExitEvent, 64),
		ready:               make(chan ReadyEvent, 64),
	}, nil
}

// Exits is the channel of reaped-process notifications; pkg/reactor
// selects on it alongside signals, filesystem events, and timers.
func (s *Supervisor) Exits() <-chan ExitEvent {
	return s.exits
}

// Ready is the channel of readiness-monitor outcomes for components
// currently in READY_WAIT; pkg/reactor selects on it the same way it
// selects on Exits.
func (s *Supervisor) Ready() <-chan ReadyEvent {
	return s.ready
}

// Apply is the resolver.Resolve apply callback: it performs the state
// transition a resolver.Action requests.
func (s *Supervisor) Apply(action resolver.Action) {
	switch action.Kind {
	case resolver.Promote:
		s.Start(action.Index)
	case resolver.Demote:
		s.Stop(action.Index)
	}
}

// Start drives idx from INACTIVE into STARTING and attempts to fork
// its process, per the transition table of §4.2.
func (s *Supervisor) Start(idx registry.CompIndex) {
	c := s.reg.ComponentAt(idx)
	logger := log.WithComponentName(c.Name)

	c.State = types.StateStarting

	if err := s.exec(idx, c); err != nil {
		logger.Error().Err(err).Msg("exec failed")
		c.State = types.StateFailed
		s.recordStartAttempt(c)
		return
	}

	c.StartedAt = time.Now()
	s.recordStartAttempt(c)

	switch {
	case c.Kind == types.KindOneshot:
		// A oneshot's own exit code is its completion signal; readiness
		// (meant for long-running services) does not apply, and its
		// provides are registered on exit 0 in HandleExit, not here.
		c.State = types.StateActive
	case c.Readiness.Mode == types.ReadinessNone:
		s.promoteToActive(idx, c)
	default:
		c.State = types.StateReadyWait
		s.beginReadinessWatch(idx, c)
	}

	logger.Info().Int("pid", c.PID).Str("state", string(c.State)).Msg("started")
}

func (s *Supervisor) recordStartAttempt(c *types.Component) {
	c.Restart.Starts = append(c.Restart.Starts, time.Now())
	trimWindow(c)
}

// PromoteToActive moves idx to ACTIVE and activates its provided
// capabilities. Within this package, HandleReady (once a READY_WAIT
// component's predicate fires) and Start (for readiness=none
// components) use the unexported promoteToActive directly.
func (s *Supervisor) PromoteToActive(idx registry.CompIndex) {
	s.promoteToActive(idx, s.reg.ComponentAt(idx))
}

func (s *Supervisor) promoteToActive(idx registry.CompIndex, c *types.Component) {
	c.State = types.StateActive
	// Check staleness against the previous promotion before
	// overwriting it — resetIfStable's >= restartWindow comparison
	// would otherwise always see an elapsed time of ~0.
	resetIfStable(c)
	c.Restart.LastPromote = time.Now()
	s.reg.ActivateProvided(idx)
	if c.Health.Enabled {
		s.health[idx] = &health.Status{}
	}
}

// Stop tears down a live component: terminate its process (if any),
// withdraw its provided capabilities, and return it to INACTIVE. Used
// both for resolver-driven demotion (a requirement was withdrawn) and
// for operator-driven stop/upgrade paths.
func (s *Supervisor) Stop(idx registry.CompIndex) {
	c := s.reg.ComponentAt(idx)
	if c.State.Live() {
		s.terminate(idx, c)
	}
	s.reg.WithdrawProvided(idx)
	c.State = types.StateInactive
	c.PID = 0
	delete(s.health, idx)
	if conn, ok := s.handoffConns[idx]; ok {
		conn.Close()
		delete(s.handoffConns, idx)
	}
}

// HandleExit folds a reaped child back into the state machine. It is
// the supervisor half of every exit-triggered transition in §4.2's
// table: oneshot success -> DONE, service exit -> FAILED (subject to
// restart rate limiting), exit during a deliberate Stop -> already
// handled by Stop, left as a no-op here.
func (s *Supervisor) HandleExit(ev ExitEvent) {
	delete(s.pidExited, ev.PID)

	c := s.reg.ComponentAt(ev.Index)
	logger := log.WithComponentName(c.Name)

	if ev.PID != 0 && c.PID != 0 && ev.PID != c.PID {
		// This pid belonged to an instance a handoff-strategy upgrade
		// already superseded; FinishReplacement tore down its sink,
		// cgroup, and handoff conn when the replacement took over, so
		// there is nothing left to do except not touch the current
		// instance's bookkeeping.
		logger.Debug().Int("pid", ev.PID).Msg("reaped a superseded instance")
		return
	}

	delete(s.cmds, ev.Index)
	if sink, ok := s.sinks[ev.Index]; ok {
		sink.Close()
		delete(s.sinks, ev.Index)
	}
	if cg, ok := s.cgroups[ev.Index]; ok {
		_ = cg.Teardown()
		delete(s.cgroups, ev.Index)
	}
	delete(s.health, ev.Index)
	if cancel, ok := s.readyCancel[ev.Index]; ok {
		cancel()
		delete(s.readyCancel, ev.Index)
	}
	if conn, ok := s.handoffConns[ev.Index]; ok {
		conn.Close()
		delete(s.handoffConns, ev.Index)
	}

	if !c.State.Live() {
		// Already torn down by an explicit Stop; nothing left to do.
		return
	}

	c.PID = 0

	if c.Kind == types.KindOneshot && ev.Err == nil && ev.ExitCode == 0 {
		c.State = types.StateDone
		s.reg.ActivateProvided(ev.Index)
		logger.Info().Msg("oneshot completed")
		return
	}

	logger.Warn().Int("exit_code", ev.ExitCode).Err(ev.Err).Msg("component exited")
	s.reg.WithdrawProvided(ev.Index)
	c.State = types.StateFailed
}

// RestartDue reports whether a FAILED component's backoff has
// elapsed and its requirements still hold, i.e. the transition
// "FAILED | backoff elapsed, reqs still hold | STARTING" may fire.
// pkg/reactor's timer wheel calls this when a scheduled deadline
// arrives; Restart then performs the actual transition.
func (s *Supervisor) RestartDue(idx registry.CompIndex) bool {
	c := s.reg.ComponentAt(idx)
	return c.State == types.StateFailed && s.reg.RequiresSatisfied(idx)
}

// BackoffFor returns how long the reactor should wait before the next
// restart attempt of a FAILED component, per the sliding-window rate
// limiter of §4.2.
func (s *Supervisor) BackoffFor(idx registry.CompIndex) time.Duration {
	return nextBackoff(s.reg.ComponentAt(idx))
}

// Restart re-enters STARTING for a FAILED component whose backoff has
// elapsed; the resolver will not re-promote it on its own because
// Pass only looks at INACTIVE components.
func (s *Supervisor) Restart(idx registry.CompIndex) {
	s.reg.ComponentAt(idx).State = types.StateInactive
	s.Start(idx)
}

// HandoffConn returns the supervisor's end of idx's persistent handoff
// socket, or nil if its upgrade strategy never established one (e.g.
// its configured strategy is plain restart, or it hasn't been started
// yet).
func (s *Supervisor) HandoffConn(idx registry.CompIndex) *net.UnixConn {
	return s.handoffConns[idx]
}

// AwaitExit returns the channel that closes once pid has been reaped
// by its waiter goroutine, for FinishReplacement's grace-period wait.
// It reports false if pid isn't one this supervisor started, or has
// already been reaped.
func (s *Supervisor) AwaitExit(pid int) (<-chan struct{}, bool) {
	ch, ok := s.pidExited[pid]
	return ch, ok
}

// ReplacedInstance bundles the bookkeeping StartReplacement displaces
// when a new process instance takes over a live component's
// CompIndex slot during a handoff-strategy upgrade, so FinishReplacement
// can clean it up and terminate the process it belonged to once the
// new instance is confirmed up.
type ReplacedInstance struct {
	pid    int
	sink   *LogSink
	cgroup *isolation.Cgroup
	conn   *net.UnixConn
}

// StartReplacement forks a new process instance for idx using the
// same exec machinery Start uses, without moving idx through INACTIVE
// first — the entire point of a handoff-strategy upgrade rung is that
// the component's capabilities are never observed inactive. The
// instance it displaces is returned so the caller (pkg/reactor, once
// the new instance is confirmed live) can terminate it via
// FinishReplacement; c.State is left untouched here since it should
// already be ACTIVE and stays that way throughout the swap.
func (s *Supervisor) StartReplacement(idx registry.CompIndex) (newPID int, newConn *net.UnixConn, displaced ReplacedInstance, err error) {
	c := s.reg.ComponentAt(idx)

	displaced = ReplacedInstance{
		pid:    c.PID,
		sink:   s.sinks[idx],
		cgroup: s.cgroups[idx],
		conn:   s.handoffConns[idx],
	}

	if err := s.exec(idx, c); err != nil {
		return 0, nil, ReplacedInstance{}, err
	}
	c.StartedAt = time.Now()

	return c.PID, s.handoffConns[idx], displaced, nil
}

// FinishReplacement tears down the instance StartReplacement
// displaced: closes its log sink, cgroup, and handoff socket, sends it
// a termination signal, and waits up to grace for its own waiter
// goroutine to reap it before escalating to SIGKILL, per §4.4 step 7:
// "If the old instance has not exited within a grace period, the
// supervisor forcibly terminates it."
func (s *Supervisor) FinishReplacement(d ReplacedInstance, grace time.Duration) {
	if d.sink != nil {
		d.sink.Close()
	}
	if d.cgroup != nil {
		_ = d.cgroup.Teardown()
	}
	if d.conn != nil {
		d.conn.Close()
	}
	if d.pid == 0 {
		return
	}

	_ = syscall.Kill(-d.pid, syscall.SIGTERM)

	exited, ok := s.AwaitExit(d.pid)
	if !ok {
		return
	}
	if !handoff.WaitGrace(exited, grace) {
		_ = syscall.Kill(-d.pid, syscall.SIGKILL)
	}
}

// scheduleForceKill escalates to SIGKILL if the process group rooted
// at pgid hasn't exited within timeout. The timer goroutine only
// checks pgid's own pidExited channel, captured here on the calling
// goroutine, so it never reads the supervisor's maps; a process that
// has already been reaped is skipped.
func (s *Supervisor) scheduleForceKill(idx registry.CompIndex, pgid int, timeout time.Duration) {
	exited, ok := s.pidExited[pgid]
	if !ok {
		return
	}
	time.AfterFunc(timeout, func() {
		select {
		case <-exited:
			return
		default:
		}
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
	})
}

// HealthStatus returns the live health tracker for idx, or nil if the
// component has no health policy enabled or isn't live.
func (s *Supervisor) HealthStatus(idx registry.CompIndex) *health.Status {
	return s.health[idx]
}

// SetDegraded applies a health-driven DEGRADED or ACTIVE transition,
// called by RunHealthProbe after health.Status.Update reports one; the
// FAILED transition goes through Fail instead.
func (s *Supervisor) SetDegraded(idx registry.CompIndex, degraded bool) {
	c := s.reg.ComponentAt(idx)
	if degraded {
		c.State = types.StateDegraded
	} else {
		c.State = types.StateActive
	}
	for _, capIdx := range s.reg.Provides(idx) {
		s.reg.SetDegraded(capIdx, degraded)
	}
}

// Fail transitions a live component straight to FAILED, e.g. on a
// health monitor's FailAfter threshold; the process is torn down the
// same way Stop would, but capabilities are withdrawn and the
// component is left FAILED rather than INACTIVE, so it is picked up
// by the restart path instead of requiring a fresh requirement edge.
func (s *Supervisor) Fail(idx registry.CompIndex) {
	c := s.reg.ComponentAt(idx)
	s.terminate(idx, c)
	s.reg.WithdrawProvided(idx)
	c.State = types.StateFailed
}

// Package handoff implements the upgrade engine (C9) of §4.4: the
// strategy ladder that moves a component from an outgoing process
// instance to an incoming one while minimizing (ideally eliminating)
// the window during which its provided capabilities are inactive.
package handoff

import (
	"context"
	"fmt"
	"net"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/initd/pkg/log"
	"github.com/cuemby/initd/pkg/types"
)

// handoffRecvTimeout bounds how long fdPassing waits for the outgoing
// instance to respond to HandoffSignal with its descriptors. A
// cooperating program answers almost immediately; anything slower
// means it isn't going to answer at all, and the ladder should fall
// through to the next strategy well within the overall upgrade
// timeout rather than exhaust it on one rung.
const handoffRecvTimeout = 2 * time.Second

// Strategy identifies which rung of the ladder an Engine attempted.
type Strategy = types.UpgradeStrategy

// Result reports what happened when Engine.Upgrade tried a
// component's configured strategy.
type Result struct {
	Strategy    Strategy
	NewPID      int
	CapabilityGapFree bool // true only for a strategy that never deactivated the provided capabilities
	Record      *types.CheckpointRecord
}

// Engine drives the upgrade ladder for one initd instance. Checkpoint
// metadata is shared with pkg/control's checkpoint inspection
// operations through the same Store.
type Engine struct {
	Store   *Store
	DumpDir string
	logger  zerolog.Logger
}

// NewEngine creates an Engine backed by store, with dumpDir as the
// root directory checkpoint images are written under.
func NewEngine(store *Store, dumpDir string) *Engine {
	return &Engine{Store: store, DumpDir: dumpDir, logger: log.WithComponent("handoff")}
}

// Replacement starts a new process instance for a component already
// being upgraded, without disturbing whichever instance is currently
// live (the whole point of a handoff-strategy rung is that the
// component's capabilities never go inactive while this runs). It
// returns the new instance's PID and, for a component whose upgrade
// strategy wired up a persistent handoff socket, the supervisor's end
// of that new instance's descriptor-passing channel.
type Replacement func(ctx context.Context) (pid int, conn *net.UnixConn, err error)

// Upgrade replaces a live component's process according to its
// configured upgrade strategy, falling through to progressively
// less-graceful strategies on failure, per §4.4 and §7's failure mode
// table: "Handoff failure: fall through the strategy ladder; on
// exhaustion, capability gap is visible and the component is
// restarted." oldConn is the supervisor's end of the outgoing
// instance's own persistent handoff socket (nil if none was
// established); newInstance is invoked to start the replacement
// process once the engine has decided how (if at all) to transfer
// state to it.
func (e *Engine) Upgrade(ctx context.Context, c *types.Component, oldPID int, oldConn *net.UnixConn, newInstance Replacement) (Result, error) {
	order := ladderFrom(c.Upgrade)

	var lastErr error
	for _, strategy := range order {
		res, err := e.attempt(ctx, strategy, c, oldPID, oldConn, newInstance)
		if err == nil {
			return res, nil
		}
		e.logger.Warn().Str("component", c.Name).Str("strategy", string(strategy)).Err(err).Msg("upgrade strategy failed, falling through ladder")
		lastErr = err
	}
	return Result{}, fmt.Errorf("all upgrade strategies exhausted: %w", lastErr)
}

// ladderFrom returns the strategies to try in order, starting with
// the component's configured preference and falling back toward
// restart, the strategy that always succeeds (at the cost of a
// visible capability gap).
func ladderFrom(preferred Strategy) []Strategy {
	switch preferred {
	case types.UpgradeCheckpointRestore:
		return []Strategy{types.UpgradeCheckpointRestore, types.UpgradeFDPassing, types.UpgradeRestart}
	case types.UpgradeFDPassing:
		return []Strategy{types.UpgradeFDPassing, types.UpgradeRestart}
	default:
		return []Strategy{types.UpgradeRestart}
	}
}

func (e *Engine) attempt(ctx context.Context, strategy Strategy, c *types.Component, oldPID int, oldConn *net.UnixConn, newInstance Replacement) (Result, error) {
	switch strategy {
	case types.UpgradeCheckpointRestore:
		return e.checkpointRestore(ctx, c, oldPID)
	case types.UpgradeFDPassing:
		return e.fdPassing(ctx, c, oldPID, oldConn, newInstance)
	default:
		pid, _, err := newInstance(ctx)
		if err != nil {
			return Result{}, err
		}
		return Result{Strategy: types.UpgradeRestart, NewPID: pid}, nil
	}
}

// checkpointRestore implements strategy 1 of §4.4: dump the outgoing
// process, record its metadata, and restore a fresh one from the
// image. This is the only strategy that can in principle preserve
// in-memory state across the swap, not just open descriptors.
func (e *Engine) checkpointRestore(ctx context.Context, c *types.Component, oldPID int) (Result, error) {
	rec, err := Dump(ctx, e.DumpDir, c, oldPID)
	if err != nil {
		return Result{}, fmt.Errorf("dump: %w", err)
	}
	if err := e.Store.Put(rec); err != nil {
		return Result{}, fmt.Errorf("persist checkpoint record: %w", err)
	}

	pid, err := Restore(ctx, rec)
	if err != nil {
		return Result{}, fmt.Errorf("restore: %w", err)
	}

	return Result{Strategy: types.UpgradeCheckpointRestore, NewPID: pid, CapabilityGapFree: true, Record: &rec}, nil
}

// fdPassing implements strategy 2 of §4.4: signal the outgoing
// instance to begin handoff, receive the descriptors it sends back
// over its persistent handoff socket, start the incoming instance, and
// hand the descriptors on to it over its own persistent handoff
// socket. The rendezvous sockets themselves are created by the
// supervision layer at process-start time for any component whose
// upgrade strategy needs one (oldConn is the supervisor's end of the
// outgoing instance's channel); Engine only owns the protocol
// choreography, so a component with no live socket wired up simply
// fails this rung and falls through to restart.
func (e *Engine) fdPassing(ctx context.Context, c *types.Component, oldPID int, oldConn *net.UnixConn, newInstance Replacement) (Result, error) {
	if oldConn == nil {
		return Result{}, fmt.Errorf("component %q has no handoff descriptor to receive from", c.Name)
	}

	if err := syscall.Kill(oldPID, HandoffSignal); err != nil {
		return Result{}, fmt.Errorf("signal outgoing instance: %w", err)
	}

	deadline := time.Now().Add(handoffRecvTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	_ = oldConn.SetReadDeadline(deadline)

	fds, err := RecvFDs(oldConn, maxHandoffFDs)
	if err != nil {
		return Result{}, fmt.Errorf("receive descriptors from outgoing instance: %w", err)
	}

	pid, newConn, err := newInstance(ctx)
	if err != nil {
		return Result{}, err
	}

	if len(fds) > 0 {
		if newConn == nil {
			return Result{}, fmt.Errorf("component %q's incoming instance has no handoff descriptor to receive on", c.Name)
		}
		if err := SendFDs(newConn, fds); err != nil {
			return Result{}, fmt.Errorf("hand descriptors to incoming instance: %w", err)
		}
	}

	return Result{Strategy: types.UpgradeFDPassing, NewPID: pid, CapabilityGapFree: true}, nil
}

// WaitGrace blocks until either the old instance's exit is observed
// (via exited) or the grace period elapses, after which the caller
// must forcibly terminate it, per §4.4 step 7: "If the old instance
// has not exited within a grace period, the supervisor forcibly
// terminates it."
func WaitGrace(exited <-chan struct{}, grace time.Duration) (exitedCleanly bool) {
	select {
	case <-exited:
		return true
	case <-time.After(grace):
		return false
	}
}

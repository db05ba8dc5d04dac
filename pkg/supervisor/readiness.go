package supervisor

import (
	"context"
	"time"

	"github.com/cuemby/initd/pkg/log"
	"github.com/cuemby/initd/pkg/readiness"
	"github.com/cuemby/initd/pkg/registry"
	"github.com/cuemby/initd/pkg/types"
)

const defaultReadinessTimeout = 30 * time.Second

// ReadyEvent reports a READY_WAIT component's resolved readiness
// predicate, fed into pkg/reactor alongside ExitEvent.
type ReadyEvent struct {
	Index   registry.CompIndex
	Outcome readiness.Outcome
	TimedOut bool
}

// beginReadinessWatch starts the readiness watcher for a component
// that just entered READY_WAIT, bounded by its configured timeout per
// §4.5 "All readiness modes honor a per-component timeout. On
// timeout the component transitions to FAILED."
func (s *Supervisor) beginReadinessWatch(idx registry.CompIndex, c *types.Component) {
	timeout := c.Readiness.Timeout
	if timeout <= 0 {
		timeout = defaultReadinessTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	s.readyCancel[idx] = cancel

	var pipe readiness.ReadCloser
	if pair, ok := s.pendingSignalPipes[idx]; ok {
		pipe = pair.read
		delete(s.pendingSignalPipes, idx)
	}

	outcomes := readiness.Watch(ctx, c.Readiness, pipe)

	go func() {
		select {
		case outcome := <-outcomes:
			s.ready <- ReadyEvent{Index: idx, Outcome: outcome}
		case <-ctx.Done():
			s.ready <- ReadyEvent{Index: idx, TimedOut: true}
		}
	}()
}

// HandleReady folds a ReadyEvent back into the state machine: success
// promotes READY_WAIT -> ACTIVE, failure or timeout fails the
// component, per §4.5 and the READY_WAIT row of §4.2's transition
// table.
func (s *Supervisor) HandleReady(ev ReadyEvent) {
	c := s.reg.ComponentAt(ev.Index)
	if cancel, ok := s.readyCancel[ev.Index]; ok {
		cancel()
		delete(s.readyCancel, ev.Index)
	}

	if c.State != types.StateReadyWait {
		// A Stop or a faster exit already resolved this component.
		return
	}

	logger := log.WithComponentName(c.Name)

	if ev.TimedOut || ev.Outcome.Err != nil || !ev.Outcome.Ready {
		logger.Warn().Bool("timed_out", ev.TimedOut).Err(ev.Outcome.Err).Msg("readiness failed")
		s.terminate(ev.Index, c)
		s.reg.WithdrawProvided(ev.Index)
		c.State = types.StateFailed
		return
	}

	s.promoteToActive(ev.Index, c)
	logger.Info().Msg("became ready")
}

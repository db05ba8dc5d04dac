// Package readiness implements the readiness monitor (C6) of §4.5:
// one of four predicates — none, file, signal, command — that decides
// when a component in READY_WAIT has become willing to serve and
// should be promoted to ACTIVE.
//
// Each watcher below runs in its own goroutine and only ever sends a
// single Outcome on the channel it returns; it never touches
// pkg/registry or pkg/supervisor state directly. That keeps the
// concurrency §5 disallows ("no shared mutable state between
// concurrent code paths") confined to immutable producers feeding the
// single consumer goroutine that owns the reactor's state.
package readiness

import (
	"context"
	"time"

	"github.com/cuemby/initd/pkg/types"
)

// Outcome is what a watcher reports once the readiness predicate
// resolves, one way or another.
type Outcome struct {
	Ready bool
	Err   error // set on a watch-mechanism failure distinct from "not ready yet"
}

// Watch dispatches to the watcher implied by policy.Mode and returns
// a channel that receives at most one Outcome; the file, signal and
// command watchers send nothing once ctx is done. Callers are expected
// to bound ctx with policy.Timeout — "all readiness modes honor a
// per-component timeout. On timeout the component transitions to
// FAILED" (§4.5) — Watch itself only reacts to ctx.Done(), it does
// not start its own timer.
//
// Mode none, and any unrecognized mode, yields an immediate Ready
// outcome. pkg/supervisor does not call Watch for none-readiness
// components: it promotes them directly on successful exec, so they
// never enter READY_WAIT.
func Watch(ctx context.Context, policy types.ReadinessPolicy, signalPipe ReadCloser) <-chan Outcome {
	switch policy.Mode {
	case types.ReadinessFile:
		return watchFile(ctx, policy.Target)
	case types.ReadinessSignal:
		return watchSignal(ctx, signalPipe)
	case types.ReadinessCommand:
		interval := policy.Interval
		if interval <= 0 {
			interval = time.Second
		}
		return watchCommand(ctx, policy.Command, interval)
	default:
		out := make(chan Outcome, 1)
		out <- Outcome{Ready: true}
		return out
	}
}

// ReadCloser is the subset of *os.File the signal watcher needs; an
// interface so tests can substitute an in-memory pipe.
type ReadCloser interface {
	Read(p []byte) (int, error)
	Close() error
}

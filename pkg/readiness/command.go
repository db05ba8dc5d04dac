package readiness

import (
	"context"
	"os/exec"
	"time"
)

// watchCommand implements the command readiness predicate of §4.5:
// "periodically run a probe command with a bounded interval; exit
// code zero indicates ready ... The probe itself is subject to its
// own bounded wall-clock timeout (treated as failure)."
func watchCommand(ctx context.Context, probe []string, interval time.Duration) <-chan Outcome {
	out := make(chan Outcome, 1)

	go func() {
		if len(probe) == 0 {
			out <- Outcome{Err: readinessError("command readiness configured but no probe command set")}
			return
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		run := func() bool {
			probeCtx, cancel := context.WithTimeout(ctx, interval)
			defer cancel()
			cmd := exec.CommandContext(probeCtx, probe[0], probe[1:]...)
			return cmd.Run() == nil
		}

		if run() {
			out <- Outcome{Ready: true}
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if run() {
					out <- Outcome{Ready: true}
					return
				}
			}
		}
	}()

	return out
}

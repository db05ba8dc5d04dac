package readiness

import (
	"bufio"
	"context"
)

// ReadyFDEnv is the environment variable a supervised child consults
// to find the writable end of its readiness pipe, the same
// reserved-descriptor-via-environment-variable convention §6 uses for
// handoff's fd-passing envelope.
const ReadyFDEnv = "INITD_READY_FD"

// ReadySentinel is the textual sentinel a child writes to declare
// itself ready, per §4.5 "writing a textual sentinel (READY\n) to a
// descriptor the parent opened."
const ReadySentinel = "READY"

// watchSignal implements the signal readiness predicate: the parent
// already holds the read end of a pipe whose write end was handed to
// the child (via ExtraFiles and ReadyFDEnv, wired by pkg/supervisor);
// any line read from it — conventionally ReadySentinel — counts as
// ready. Only the pipe mechanism is implemented: a child raising a
// signal is not treated as readiness, and nothing converts such a
// signal into a write on this pipe.
func watchSignal(ctx context.Context, pipe ReadCloser) <-chan Outcome {
	out := make(chan Outcome, 1)
	if pipe == nil {
		out <- Outcome{Err: errNoPipe}
		return out
	}

	go func() {
		defer pipe.Close()
		scanner := bufio.NewScanner(pipe)
		done := make(chan struct{})
		go func() {
			if scanner.Scan() {
				out <- Outcome{Ready: true}
			} else {
				out <- Outcome{Err: scanner.Err()}
			}
			close(done)
		}()

		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		}
	}()

	return out
}

type readinessError string

func (e readinessError) Error() string { return string(e) }

const errNoPipe = readinessError("signal readiness configured but no pipe was provided")

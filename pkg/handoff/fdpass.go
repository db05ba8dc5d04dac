package handoff

import (
	"bufio"
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// HandoffFDEnv is the environment variable carrying the reserved
// descriptor number a fresh component instance should read its
// inherited descriptors from, per §6 "the receiver uses a reserved
// descriptor number (passed via an environment variable, e.g., value
// '4')."
const HandoffFDEnv = "INITD_HANDOFF_FD"

// CompleteSentinel is the textual marker that follows the last
// descriptor in the envelope, per §6.
const CompleteSentinel = "HANDOFF_COMPLETE"

// HandoffSignal is delivered to a running instance configured for
// fd-passing upgrades to begin §4.4 step 3's transfer sequence: stop
// accepting new work, enumerate the descriptors to hand off, and call
// SendFDs on the inherited handoff descriptor. It is sent to a managed
// component process, a distinct process from initd's own PID 1 — it
// has no relation to the SIGUSR1/SIGUSR2 meanings §6 assigns to
// signals received by the primordial process itself.
const HandoffSignal = syscall.SIGUSR2

// maxHandoffFDs bounds how many descriptors a single fd-passing
// envelope may carry in one message, matching the space RecvFDs
// allocates for ancillary data.
const maxHandoffFDs = 8

// SendFDs ships fds to the peer on conn using the kernel's ancillary
// data mechanism (SCM_RIGHTS), then writes CompleteSentinel so the
// receiver knows no more descriptors are coming, per §4.4 step 4:
// "sends them over the socket pair using the out-of-band
// descriptor-passing channel the kernel provides for local sockets.
// After the last descriptor, it sends a textual sentinel and exits
// cleanly."
func SendFDs(conn *net.UnixConn, fds []int) error {
	rights := unix.UnixRights(fds...)
	// One zero-valued regular byte plus the rights; some platforms
	// require at least one byte of ordinary payload alongside
	// ancillary data.
	if _, _, err := conn.WriteMsgUnix([]byte{0}, rights, nil); err != nil {
		return fmt.Errorf("send descriptors: %w", err)
	}
	if _, err := conn.Write([]byte(CompleteSentinel + "\n")); err != nil {
		return fmt.Errorf("send sentinel: %w", err)
	}
	return nil
}

// RecvFDs reads descriptors off conn until it observes CompleteSentinel,
// per §6's "must read until sentinel before declaring readiness."
// maxFDs bounds how many descriptors a single ancillary-data message
// may carry, matching the envelope the sender constructs.
func RecvFDs(conn *net.UnixConn, maxFDs int) ([]int, error) {
	oob := make([]byte, unix.CmsgSpace(maxFDs*4))
	buf := make([]byte, 1)

	_, oobn, _, _, err := conn.ReadMsgUnix(buf, oob)
	if err != nil {
		return nil, fmt.Errorf("receive descriptors: %w", err)
	}

	scms, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return nil, fmt.Errorf("parse control message: %w", err)
	}

	var fds []int
	for _, scm := range scms {
		parsed, err := unix.ParseUnixRights(&scm)
		if err != nil {
			return nil, fmt.Errorf("parse unix rights: %w", err)
		}
		fds = append(fds, parsed...)
	}

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil {
		return fds, fmt.Errorf("read sentinel: %w", err)
	}
	if trimmed := trimNewline(line); trimmed != CompleteSentinel {
		return fds, fmt.Errorf("unexpected sentinel %q", trimmed)
	}

	return fds, nil
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

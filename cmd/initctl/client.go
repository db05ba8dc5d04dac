package main

import (
	"fmt"
	"io"
	"net"
	"strings"
	"time"
)

const dialTimeout = 5 * time.Second
const requestTimeout = 30 * time.Second

// send dials the control socket, writes one line, and returns the
// daemon's reply (which may itself span several newline-joined lines,
// e.g. `status` with no argument). The control protocol is
// deliberately not gRPC (see pkg/control) — a plain Unix socket round
// trip is all a CLI this thin needs.
//
// initctl half-closes its write side right after sending the request,
// which is what lets a single read-to-EOF pick up a multi-line reply
// unambiguously: pkg/control.Server's per-connection loop only reads
// one more time after replying, sees the peer has gone away, and
// closes its side in turn.
func send(socket string, args ...string) (string, error) {
	conn, err := net.DialTimeout("unix", socket, dialTimeout)
	if err != nil {
		return "", fmt.Errorf("connect to %s: %w", socket, err)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(requestTimeout))

	line := strings.Join(args, " ")
	if _, err := fmt.Fprintln(conn, line); err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	if uc, ok := conn.(*net.UnixConn); ok {
		_ = uc.CloseWrite()
	}

	reply, err := io.ReadAll(conn)
	if err != nil {
		return "", fmt.Errorf("read reply: %w", err)
	}
	if len(reply) == 0 {
		return "", fmt.Errorf("connection closed without a reply")
	}
	return strings.TrimRight(string(reply), "\n"), nil
}

package handoff_test

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/initd/pkg/handoff"
)

// unixSocketPair returns two connected *net.UnixConn endpoints over a
// real socket in a temp directory, standing in for the rendezvous
// socket an outgoing and incoming component instance would use.
func unixSocketPair(t *testing.T) (server, client *net.UnixConn) {
	t.Helper()
	sockPath := filepath.Join(t.TempDir(), "handoff.sock")

	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: sockPath, Net: "unix"})
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	accepted := make(chan *net.UnixConn, 1)
	go func() {
		conn, err := ln.AcceptUnix()
		if err == nil {
			accepted <- conn
		}
	}()

	client, err = net.DialUnix("unix", nil, &net.UnixAddr{Name: sockPath, Net: "unix"})
	require.NoError(t, err)

	select {
	case server = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out accepting handoff socket connection")
	}
	return server, client
}

func TestSendRecvFDsRoundTrip(t *testing.T) {
	server, client := unixSocketPair(t)
	defer server.Close()
	defer client.Close()

	payloadPath := filepath.Join(t.TempDir(), "payload")
	require.NoError(t, os.WriteFile(payloadPath, []byte("hello handoff"), 0o644))
	payload, err := os.Open(payloadPath)
	require.NoError(t, err)
	defer payload.Close()

	done := make(chan error, 1)
	go func() {
		done <- handoff.SendFDs(server, []int{int(payload.Fd())})
	}()

	fds, err := handoff.RecvFDs(client, 4)
	require.NoError(t, err)
	require.NoError(t, <-done)
	require.Len(t, fds, 1)

	received := os.NewFile(uintptr(fds[0]), "received")
	defer received.Close()
	buf := make([]byte, len("hello handoff"))
	n, err := received.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello handoff", string(buf[:n]))
}

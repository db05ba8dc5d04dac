package handoff

import (
	"context"
	"net"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/initd/pkg/types"
)

// unixSocketPair returns two connected *net.UnixConn endpoints over a
// real socket in a temp directory, standing in for a component's
// persistent handoff socket.
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

func TestFDPassingFailsWithoutHandoffConn(t *testing.T) {
	e := &Engine{}
	c := &types.Component{Name: "svc"}

	_, err := e.fdPassing(context.Background(), c, 1, nil, func(context.Context) (int, *net.UnixConn, error) {
		t.Fatal("newInstance should not run when there is no handoff conn to receive descriptors from")
		return 0, nil, nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no handoff descriptor")
}

// TestFDPassingFallsThroughWhenOutgoingInstanceNeverResponds exercises
// the real RecvFDs call against a live socket whose peer never sends
// anything — the situation for any component whose program doesn't
// implement the fd-passing protocol, which fdPassing cannot
// distinguish from a cooperating program that's merely slow.
func TestFDPassingFallsThroughWhenOutgoingInstanceNeverResponds(t *testing.T) {
	oldConn, _ := unixSocketPair(t)
	defer oldConn.Close()

	cmd := exec.Command("/bin/sh", "-c", "sleep 5")
	require.NoError(t, cmd.Start())
	defer cmd.Process.Kill()

	e := &Engine{}
	c := &types.Component{Name: "svc"}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	called := false
	_, err := e.fdPassing(ctx, c, cmd.Process.Pid, oldConn, func(context.Context) (int, *net.UnixConn, error) {
		called = true
		return 0, nil, nil
	})
	require.Error(t, err)
	assert.False(t, called, "newInstance should not run once receiving descriptors from the outgoing instance failed")
}

// TestFDPassingDeliversDescriptorsToIncomingInstance exercises the
// happy path end to end at the protocol level: once descriptors
// arrive on the outgoing instance's handoff conn, fdPassing relays
// them to whatever conn the replacement callback reports as the
// incoming instance's own handoff socket.
func TestFDPassingDeliversDescriptorsToIncomingInstance(t *testing.T) {
	oldConn, oldPeer := unixSocketPair(t)
	defer oldConn.Close()
	defer oldPeer.Close()
	newConn, newPeer := unixSocketPair(t)
	defer newConn.Close()
	defer newPeer.Close()

	cmd := exec.Command("/bin/sh", "-c", "sleep 5")
	require.NoError(t, cmd.Start())
	defer cmd.Process.Kill()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()
	tcpConn, ok := listener.(*net.TCPListener)
	require.True(t, ok)
	tcpFile, err := tcpConn.File()
	require.NoError(t, err)
	defer tcpFile.Close()

	// Stand in for the outgoing instance answering HandoffSignal: a
	// real cooperating program would do exactly this on its end of the
	// socket once signaled.
	sendDone := make(chan error, 1)
	go func() { sendDone <- SendFDs(oldPeer, []int{int(tcpFile.Fd())}) }()

	e := &Engine{}
	c := &types.Component{Name: "svc"}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	recvDone := make(chan struct {
		fds []int
		err error
	}, 1)
	go func() {
		fds, err := RecvFDs(newPeer, maxHandoffFDs)
		recvDone <- struct {
			fds []int
			err error
		}{fds, err}
	}()

	res, err := e.fdPassing(ctx, c, cmd.Process.Pid, oldConn, func(context.Context) (int, *net.UnixConn, error) {
		return 4242, newConn, nil
	})
	require.NoError(t, err)
	assert.Equal(t, types.UpgradeFDPassing, res.Strategy)
	assert.True(t, res.CapabilityGapFree)
	assert.Equal(t, 4242, res.NewPID)

	require.NoError(t, <-sendDone)
	got := <-recvDone
	require.NoError(t, got.err)
	require.Len(t, got.fds, 1)
}

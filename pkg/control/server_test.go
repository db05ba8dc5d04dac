package control_test

import (
	"bufio"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/initd/pkg/control"
)

func TestServerRoundTripsEchoedDispatch(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "control.sock")
	srv, err := control.Listen(sockPath)
	require.NoError(t, err)
	defer srv.Close()

	go srv.Serve()
	go func() {
		for req := range srv.Requests() {
			req.Reply <- "OK " + req.Line
		}
	}()

	conn, err := net.DialTimeout("unix", sockPath, 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("status\n"))
	require.NoError(t, err)

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "OK status\n", line)
}

// Package control implements the control surface (C11) of §4.9: a
// line-oriented text protocol served over a local Unix domain socket,
// exposing inspection and mutation commands over the running system.
//
// Server only accepts connections and turns lines of text into
// Request values on a channel; it never calls into pkg/registry,
// pkg/resolver, or pkg/supervisor itself. That dispatch happens from
// pkg/reactor's single event-loop goroutine (see Dispatcher), keeping
// every state mutation on the one goroutine §5 requires even though
// many control sessions may be connected concurrently.
package control

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/initd/pkg/log"
)

// writeDeadline bounds how long the server will wait for a slow or
// stalled reader before giving up on a response, per §5's
// "Control sessions that stop reading are closed after a write
// deadline."
const writeDeadline = 5 * time.Second

// Request is one parsed command line from a connected control
// session. Reply must receive exactly one response string, which the
// connection's goroutine then writes back (newline-terminated) before
// reading the next line.
type Request struct {
	Line  string
	Reply chan<- string
}

// Server listens on a Unix domain socket and turns incoming lines
// into Requests.
type Server struct {
	listener net.Listener
	requests chan Request
	logger   zerolog.Logger
}

// Listen creates the control socket at path, removing a stale socket
// file left behind by an unclean shutdown first.
func Listen(path string) (*Server, error) {
	_ = os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on control socket: %w", err)
	}
	return &Server{
		listener: ln,
		requests: make(chan Request, 32),
		logger:   log.WithComponent("control"),
	}, nil
}

// Requests is the channel pkg/reactor selects on alongside signals,
// filesystem events, and supervisor exit/readiness notifications.
func (s *Server) Requests() <-chan Request {
	return s.requests
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	return s.listener.Close()
}

// Serve accepts connections until the listener is closed. Each
// connection gets its own goroutine that only reads lines and writes
// responses — no state access happens here.
func (s *Server) Serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4096), 1<<20)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		reply := make(chan string, 1)
		s.requests <- Request{Line: line, Reply: reply}

		resp := <-reply
		conn.SetWriteDeadline(time.Now().Add(writeDeadline))
		if _, err := fmt.Fprintln(conn, resp); err != nil {
			s.logger.Debug().Err(err).Msg("control session write failed, closing")
			return
		}
	}
}

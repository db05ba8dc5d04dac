package supervisor

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/cuemby/initd/pkg/handoff"
	"github.com/cuemby/initd/pkg/isolation"
	"github.com/cuemby/initd/pkg/readiness"
	"github.com/cuemby/initd/pkg/registry"
	"github.com/cuemby/initd/pkg/types"
)

// signalPipePair is the two ends of a readiness pipe created before
// fork for signal-mode readiness: write goes to the child via
// ExtraFiles, read stays with the supervisor.
type signalPipePair struct {
	read  *os.File
	write *os.File
}

func readinessPipe() (read, write *os.File, err error) {
	return os.Pipe()
}

// readinessEnv tells the child which descriptor number its readiness
// pipe landed on. ExtraFiles are numbered starting at 3 (after
// stdin/stdout/stderr); a component's signal-mode readiness pipe is
// always the first extra descriptor the supervisor passes, and a
// handoff socket, if any, follows it at fd 4.
func readinessEnv() []string {
	return []string{readiness.ReadyFDEnv + "=3"}
}

// ExitEvent reports a reaped child, fed into pkg/reactor's event loop
// from a dedicated per-process waiter goroutine. The waiter only ever
// sends on this channel; it never touches Registry or Component state
// itself, preserving the single-mutator-goroutine invariant of §5. PID
// lets HandleExit recognize a stale exit from an instance a handoff
// already superseded, since by the time it arrives s.cmds[Index] and
// c.PID may refer to an unrelated, newer instance.
type ExitEvent struct {
	Index    registry.CompIndex
	PID      int
	ExitCode int
	Err      error // non-nil for a wait(2) failure distinct from a nonzero exit
}

// handoffPipePair is the two ends of a component's persistent handoff
// socket, created before fork for any component whose upgrade strategy
// needs a descriptor-passing rendezvous channel: child goes to the
// component via ExtraFiles, conn is the supervisor's own end, kept
// open for the component's whole life (see Supervisor.handoffConns).
type handoffPipePair struct {
	conn  *net.UnixConn
	child *os.File
}

// handoffSocketPair creates the local socket pair the fd-passing
// upgrade strategy rendezvouses over, per §4.4 step 1: "Create a local
// socket pair." The supervisor's end is wrapped as a *net.UnixConn so
// SendFDs/RecvFDs can operate on it directly.
func handoffSocketPair() (handoffPipePair, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return handoffPipePair{}, fmt.Errorf("create handoff socket pair: %w", err)
	}

	supervisorFile := os.NewFile(uintptr(fds[0]), "handoff-supervisor")
	childFile := os.NewFile(uintptr(fds[1]), "handoff-child")

	conn, err := net.FileConn(supervisorFile)
	supervisorFile.Close() // FileConn dups the fd; this copy is no longer needed
	if err != nil {
		childFile.Close()
		return handoffPipePair{}, fmt.Errorf("wrap handoff socket: %w", err)
	}

	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		conn.Close()
		childFile.Close()
		return handoffPipePair{}, fmt.Errorf("handoff socket is not a unix conn")
	}

	return handoffPipePair{conn: unixConn, child: childFile}, nil
}

// buildCmd constructs the exec.Cmd for a component's command, wiring
// in isolation (cgroup membership and namespace clone flags, plus a
// re-exec shim when the profile needs in-namespace setup) and its log
// sink.
func (s *Supervisor) buildCmd(idx registry.CompIndex, c *types.Component, sink *LogSink) (*exec.Cmd, error) {
	program, args := c.Command.Program, c.Command.Arguments

	var cg *isolation.Cgroup
	if !c.Isolation.Empty() && c.Isolation.Resources != (types.ResourceLimits{}) {
		var err error
		cg, err = isolation.EnsureCgroup(c.Name, c.Isolation.Resources)
		if err != nil {
			return nil, fmt.Errorf("ensure cgroup: %w", err)
		}
		s.cgroups[idx] = cg
	}

	var cmd *exec.Cmd
	if !c.Isolation.Empty() && (c.Isolation.Hostname != "" || c.Isolation.Root != "") {
		argv0, argv, env, err := isolation.PrepareReexec(s.selfExe, program, args, c.Isolation.Hostname, c.Isolation.Root)
		if err != nil {
			return nil, fmt.Errorf("prepare reexec: %w", err)
		}
		cmd = exec.Command(argv0)
		cmd.Args = argv
		cmd.Env = env
	} else {
		cmd = exec.Command(program, args...)
	}

	if !c.Isolation.Empty() {
		cmd.SysProcAttr = isolation.BuildSysProcAttr(c.Isolation, cg)
	} else {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	// Always its own process group, isolated or not, so terminate can
	// signal the whole tree with one kill(-pgid) and a missed
	// grace-period sweep never reaches into the supervisor's own group.
	cmd.SysProcAttr.Setpgid = true

	if c.Readiness.Mode == types.ReadinessSignal {
		readPipe, writePipe, err := readinessPipe()
		if err != nil {
			return nil, fmt.Errorf("create readiness pipe: %w", err)
		}
		cmd.ExtraFiles = []*os.File{writePipe}
		if cmd.Env == nil {
			cmd.Env = os.Environ()
		}
		cmd.Env = append(cmd.Env, readinessEnv()...)
		s.pendingSignalPipes[idx] = signalPipePair{read: readPipe, write: writePipe}
	}

	// A handoff-capable upgrade strategy (fd-passing, or
	// checkpoint-restore since it falls through to fd-passing) gets its
	// own persistent descriptor-passing socket, landing at whichever
	// ExtraFiles slot follows the readiness pipe if one is present —
	// fd 4 if a readiness pipe already claimed fd 3, matching §6's own
	// reserved-descriptor example, or fd 3 otherwise.
	if c.Upgrade == types.UpgradeFDPassing || c.Upgrade == types.UpgradeCheckpointRestore {
		pair, err := handoffSocketPair()
		if err != nil {
			return nil, err
		}
		fdNum := len(cmd.ExtraFiles) + 3
		cmd.ExtraFiles = append(cmd.ExtraFiles, pair.child)
		if cmd.Env == nil {
			cmd.Env = os.Environ()
		}
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%d", handoff.HandoffFDEnv, fdNum))
		s.pendingHandoffPipes[idx] = pair
	}

	cmd.Stdout = sink
	cmd.Stderr = sink

	return cmd, nil
}

// exec starts idx's process and spawns the goroutine that waits for
// it to exit, per §4.2 "creates any cgroup or namespaces, forks,
// applies isolation in the child, redirects standard streams to a
// per-component append sink, and executes."
func (s *Supervisor) exec(idx registry.CompIndex, c *types.Component) error {
	sink, err := NewLogSink(s.logDir, c.Name)
	if err != nil {
		return fmt.Errorf("open log sink: %w", err)
	}

	cmd, err := s.buildCmd(idx, c, sink)
	if err != nil {
		sink.Close()
		return err
	}

	if err := cmd.Start(); err != nil {
		sink.Close()
		if pair, ok := s.pendingSignalPipes[idx]; ok {
			pair.read.Close()
			pair.write.Close()
			delete(s.pendingSignalPipes, idx)
		}
		if pair, ok := s.pendingHandoffPipes[idx]; ok {
			pair.conn.Close()
			pair.child.Close()
			delete(s.pendingHandoffPipes, idx)
		}
		return fmt.Errorf("start: %w", err)
	}

	// The child now holds its own duplicate of the write end; the
	// parent's copy must close so the read end sees EOF if the child
	// exits without ever writing the readiness sentinel.
	if pair, ok := s.pendingSignalPipes[idx]; ok {
		pair.write.Close()
	}
	if pair, ok := s.pendingHandoffPipes[idx]; ok {
		pair.child.Close()
		s.handoffConns[idx] = pair.conn
		delete(s.pendingHandoffPipes, idx)
	}

	s.cmds[idx] = cmd
	s.sinks[idx] = sink
	c.PID = cmd.Process.Pid

	pid := cmd.Process.Pid
	done := make(chan struct{})
	s.pidExited[pid] = done

	go func() {
		err := cmd.Wait()
		close(done)
		ev := ExitEvent{Index: idx, PID: pid}
		if err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				ev.ExitCode = exitErr.ExitCode()
			} else {
				ev.Err = err
			}
		}
		s.exits <- ev
	}()

	return nil
}

// terminate sends a termination signal to a live component's process
// group, waits up to its stop timeout, and escalates to SIGKILL, per
// §4.2 "ensures the process is reaped (sends termination signal,
// waits, escalates to forced kill after a grace period)." It does not
// block on the process actually exiting — that confirmation arrives
// asynchronously through the waiter goroutine's ExitEvent, same as
// any other exit.
func (s *Supervisor) terminate(idx registry.CompIndex, c *types.Component) {
	cmd, ok := s.cmds[idx]
	if !ok || cmd.Process == nil {
		return
	}

	pgid := cmd.Process.Pid
	_ = syscall.Kill(-pgid, syscall.SIGTERM)

	timeout := c.StopTimeout
	if timeout <= 0 {
		timeout = defaultStopTimeout
	}
	s.scheduleForceKill(idx, pgid, timeout)
}

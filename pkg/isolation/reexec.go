package isolation

import (
	"encoding/json"
	"fmt"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// ReexecEnv carries the JSON-encoded reexecArgs a supervised child
// reads to finish its own isolation before handing control to the
// real component binary. Its presence is what distinguishes "initd
// re-executed as an isolation shim" from "initd running as PID 1."
const ReexecEnv = "INITD_ISOLATE"

type reexecArgs struct {
	Hostname string   `json:"hostname,omitempty"`
	Root     string   `json:"root,omitempty"`
	Program  string   `json:"program"`
	Args     []string `json:"args"`
}

// PrepareReexec returns the argv and env needed to launch self (the
// initd binary's own path) so that, once clone(2) has placed it in
// the requested namespaces, it performs the in-namespace setup §4.7
// lists (hostname, chroot, private tmpfs) before execing into the
// component's real command. The supervisor uses this instead of
// exec.Command(program, args...) whenever a profile asks for a
// hostname or root change; profiles that only need resource or
// namespace isolation skip the shim and exec the real program
// directly, since there is nothing left to do inside the namespace.
func PrepareReexec(self, program string, args []string, hostname, root string) (argv0 string, argv []string, env []string, err error) {
	ra := reexecArgs{Hostname: hostname, Root: root, Program: program, Args: args}
	payload, err := json.Marshal(ra)
	if err != nil {
		return "", nil, nil, fmt.Errorf("marshal reexec args: %w", err)
	}
	env = append(os.Environ(), ReexecEnv+"="+string(payload))
	return self, []string{self}, env, nil
}

// MaybeReexec is called at the very top of cmd/initd's main, before
// cobra command dispatch. If INITD_ISOLATE is set, this process is a
// freshly cloned child sitting inside its namespaces; it finishes
// setup and execs into the real component command, never returning.
// If the variable is unset, it returns immediately and the caller
// continues as the supervisor (or as PID 1 itself).
func MaybeReexec() {
	raw, ok := os.LookupEnv(ReexecEnv)
	if !ok {
		return
	}

	var ra reexecArgs
	if err := json.Unmarshal([]byte(raw), &ra); err != nil {
		fmt.Fprintf(os.Stderr, "initd: malformed %s: %v\n", ReexecEnv, err)
		os.Exit(127)
	}

	if ra.Hostname != "" {
		if err := unix.Sethostname([]byte(ra.Hostname)); err != nil {
			fmt.Fprintf(os.Stderr, "initd: sethostname: %v\n", err)
			os.Exit(127)
		}
	}

	if ra.Root != "" {
		if err := unix.Chroot(ra.Root); err != nil {
			fmt.Fprintf(os.Stderr, "initd: chroot: %v\n", err)
			os.Exit(127)
		}
		if err := os.Chdir("/"); err != nil {
			fmt.Fprintf(os.Stderr, "initd: chdir after chroot: %v\n", err)
			os.Exit(127)
		}
		// Private /tmp inside the new root, best-effort: a component
		// that never touches /tmp shouldn't fail to start over it.
		_ = os.MkdirAll("/tmp", 0o1777)
		_ = unix.Mount("tmpfs", "/tmp", "tmpfs", 0, "")
	}

	os.Unsetenv(ReexecEnv)

	env := os.Environ()
	if err := syscall.Exec(ra.Program, append([]string{ra.Program}, ra.Args...), env); err != nil {
		fmt.Fprintf(os.Stderr, "initd: exec %s: %v\n", ra.Program, err)
		os.Exit(127)
	}
}

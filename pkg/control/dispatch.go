package control

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/initd/pkg/handoff"
	"github.com/cuemby/initd/pkg/registry"
	"github.com/cuemby/initd/pkg/resolver"
	"github.com/cuemby/initd/pkg/supervisor"
	"github.com/cuemby/initd/pkg/types"
)

// checkpointTimeout bounds how long an on-demand checkpoint or restore
// blocks the reactor goroutine inside the external criu invocation.
const checkpointTimeout = 30 * time.Second

// Reloader re-scans the manifest directory and applies the resulting
// component set to the registry. cmd/initd wires it to
// reactor.Reactor.Reload, which owns the manifest.Loader and diffs its
// LoadResult against the live registry.
type Reloader func() (added, removed []string, err error)

// Upgrader replaces a live component's process through its upgrade
// strategy ladder, returning the handoff.Result of the rung that
// succeeded. cmd/initd wires it to reactor.Reactor.Upgrade.
type Upgrader func(name string) (handoff.Result, error)

// Dispatcher turns one parsed control-protocol line into a response,
// per §4.9's command list. Every method it calls into is synchronous
// and assumed to run on the single reactor goroutine — Dispatcher
// itself holds no lock because it needs none.
type Dispatcher struct {
	Reg      *registry.Registry
	Resolver *resolver.Resolver
	Super    *supervisor.Supervisor
	Handoff  *handoff.Engine
	LogDir   string

	Reload  Reloader
	Upgrade Upgrader
}

// Dispatch parses line and returns the single-line (or multi-line,
// newline-joined) response to write back to the control session.
func (d *Dispatcher) Dispatch(line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "ERROR empty command"
	}
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "status":
		return d.status(args)
	case "capabilities":
		return d.capabilities()
	case "tree":
		return d.tree()
	case "reverse-dependencies":
		return d.reverseDependencies(args)
	case "simulate-remove":
		return d.simulateRemove(args)
	case "export-graph":
		return d.Resolver.ExportGraph()
	case "log":
		return d.log(args)
	case "pending":
		return d.pending()
	case "resolve":
		return d.resolve()
	case "reload":
		return d.reload()
	case "upgrade":
		return d.upgrade(args)
	case "checkpoint":
		return d.checkpoint(args)
	case "restore":
		return d.restore(args)
	case "checkpoint-list":
		return d.checkpointList(args)
	case "checkpoint-rm":
		return d.checkpointRemove(args)
	case "analyze", "check-cycles":
		return d.checkCycles()
	case "validate":
		return d.validate()
	case "kexec":
		return d.kexec(args)
	default:
		return fmt.Sprintf("ERROR unknown command %q", cmd)
	}
}

func (d *Dispatcher) status(args []string) string {
	if len(args) == 0 {
		var lines []string
		for idx, c := range d.Reg.Components() {
			lines = append(lines, fmt.Sprintf("%s %s pid=%d", c.Name, c.State, c.PID))
			_ = idx
		}
		sort.Strings(lines)
		if len(lines) == 0 {
			return "OK 0 components"
		}
		return "OK\n" + strings.Join(lines, "\n")
	}

	idx, ok := d.Reg.Component(args[0])
	if !ok {
		return fmt.Sprintf("ERROR no such component %q", args[0])
	}
	c := d.Reg.ComponentAt(idx)
	b := &strings.Builder{}
	fmt.Fprintf(b, "OK\nname=%s\nstate=%s\nkind=%s\npid=%d\nstarted_at=%s\n",
		c.Name, c.State, c.Kind, c.PID, c.StartedAt.Format("2006-01-02T15:04:05Z07:00"))
	fmt.Fprintf(b, "requires=%s\nprovides=%s\n", strings.Join(c.Requires, ","), strings.Join(c.Provides, ","))
	if h := d.Super.HealthStatus(idx); h != nil {
		fmt.Fprintf(b, "health_failures=%d\n", h.ConsecutiveFailures)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (d *Dispatcher) capabilities() string {
	var lines []string
	for _, c := range d.Reg.Capabilities() {
		provider := "-"
		if c.Active {
			provider = d.Reg.ComponentAt(c.Provider).Name
		}
		lines = append(lines, fmt.Sprintf("%s active=%t degraded=%t provider=%s", c.Name, c.Active, c.Degraded, provider))
	}
	sort.Strings(lines)
	if len(lines) == 0 {
		return "OK 0 capabilities"
	}
	return "OK\n" + strings.Join(lines, "\n")
}

func (d *Dispatcher) tree() string {
	layers, err := d.Resolver.TopologicalLayers()
	if err != nil {
		return "ERROR " + err.Error()
	}
	b := &strings.Builder{}
	b.WriteString("OK")
	for i, layer := range layers {
		fmt.Fprintf(b, "\nlayer %d: %s", i, strings.Join(layer, ", "))
	}
	return b.String()
}

func (d *Dispatcher) reverseDependencies(args []string) string {
	if len(args) != 1 {
		return "ERROR usage: reverse-dependencies <capability>"
	}
	deps := d.Reg.ReverseDependencies(args[0])
	if len(deps) == 0 {
		return "OK 0 dependents"
	}
	return "OK\n" + strings.Join(deps, "\n")
}

func (d *Dispatcher) simulateRemove(args []string) string {
	if len(args) != 1 {
		return "ERROR usage: simulate-remove <component>"
	}
	idx, ok := d.Reg.Component(args[0])
	if !ok {
		return fmt.Sprintf("ERROR no such component %q", args[0])
	}
	affected := d.Resolver.Impact(idx)
	if len(affected) == 0 {
		return "OK 0 components affected"
	}
	return "OK\n" + strings.Join(affected, "\n")
}

func (d *Dispatcher) log(args []string) string {
	if len(args) == 0 {
		return "ERROR usage: log <component> [lines]"
	}
	if _, ok := d.Reg.Component(args[0]); !ok {
		return fmt.Sprintf("ERROR no such component %q", args[0])
	}
	n := 50
	if len(args) > 1 {
		if parsed, err := strconv.Atoi(args[1]); err == nil && parsed > 0 {
			n = parsed
		}
	}
	path := filepath.Join(d.LogDir, args[0]+".log")
	tail, err := tailLines(path, n)
	if err != nil {
		return "ERROR " + err.Error()
	}
	if len(tail) == 0 {
		return "OK 0 lines"
	}
	return "OK\n" + strings.Join(tail, "\n")
}

// tailLines returns at most n trailing lines of the file at path. The
// log sink caps each file at a few megabytes (logsink.go), so a full
// scan on every request is cheap enough not to warrant an index.
func tailLines(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var ring []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 4096), 1<<20)
	for scanner.Scan() {
		ring = append(ring, scanner.Text())
		if len(ring) > n {
			ring = ring[1:]
		}
	}
	return ring, scanner.Err()
}

func (d *Dispatcher) pending() string {
	pending := d.Resolver.Pending()
	if len(pending) == 0 {
		return "OK 0 pending"
	}
	var names []string
	for name := range pending {
		names = append(names, name)
	}
	sort.Strings(names)
	var lines []string
	for _, name := range names {
		lines = append(lines, fmt.Sprintf("%s waiting_on=%s", name, strings.Join(pending[name], ",")))
	}
	return "OK\n" + strings.Join(lines, "\n")
}

func (d *Dispatcher) resolve() string {
	passes, err := d.Resolver.Resolve(d.Super.Apply)
	if err != nil {
		return fmt.Sprintf("ERROR %s", err)
	}
	return fmt.Sprintf("OK %d passes", passes)
}

func (d *Dispatcher) reload() string {
	if d.Reload == nil {
		return "ERROR reload not wired"
	}
	added, removed, err := d.Reload()
	if err != nil {
		return "ERROR " + err.Error()
	}
	return fmt.Sprintf("OK added=%s removed=%s", strings.Join(added, ","), strings.Join(removed, ","))
}

func (d *Dispatcher) upgrade(args []string) string {
	if len(args) != 1 {
		return "ERROR usage: upgrade <component>"
	}
	if _, ok := d.Reg.Component(args[0]); !ok {
		return fmt.Sprintf("ERROR no such component %q", args[0])
	}
	if d.Upgrade == nil {
		return "ERROR upgrade not wired"
	}
	res, err := d.Upgrade(args[0])
	if err != nil {
		return "ERROR " + err.Error()
	}
	return fmt.Sprintf("OK strategy=%s new_pid=%d gap_free=%t", res.Strategy, res.NewPID, res.CapabilityGapFree)
}

// checkpoint takes an on-demand snapshot of a running component
// without touching its lifecycle, per §4.9's "checkpoint <component>":
// unlike the checkpoint-restore upgrade rung, the running instance is
// always left running regardless of the component's own
// checkpoint.leave-running policy, since this is an inspection/backup
// operation rather than a handoff.
func (d *Dispatcher) checkpoint(args []string) string {
	if len(args) != 1 {
		return "ERROR usage: checkpoint <component>"
	}
	idx, ok := d.Reg.Component(args[0])
	if !ok {
		return fmt.Sprintf("ERROR no such component %q", args[0])
	}
	c := d.Reg.ComponentAt(idx)
	if c.PID == 0 {
		return fmt.Sprintf("ERROR component %q is not running", args[0])
	}

	cc := *c
	cc.Checkpoint.LeaveRunning = true

	ctx, cancel := context.WithTimeout(context.Background(), checkpointTimeout)
	defer cancel()

	rec, err := handoff.Dump(ctx, d.Handoff.DumpDir, &cc, c.PID)
	if err != nil {
		return "ERROR " + err.Error()
	}
	if err := d.Handoff.Store.Put(rec); err != nil {
		return "ERROR " + err.Error()
	}
	return fmt.Sprintf("OK checkpoint=%s component=%s pid=%d size=%d", rec.ID, rec.Component, rec.OriginalPID, rec.ImageSize)
}

// restore replays a previously taken checkpoint, spawning a fresh
// process from the dump image and adopting its PID as the
// component's, per §4.9's "restore <component> [id]": with no id, the
// most recent checkpoint recorded for that component is used.
func (d *Dispatcher) restore(args []string) string {
	if len(args) < 1 || len(args) > 2 {
		return "ERROR usage: restore <component> [id]"
	}
	idx, ok := d.Reg.Component(args[0])
	if !ok {
		return fmt.Sprintf("ERROR no such component %q", args[0])
	}
	c := d.Reg.ComponentAt(idx)

	var rec types.CheckpointRecord
	if len(args) == 2 {
		found, ok, err := d.Handoff.Store.Get(args[1])
		if err != nil {
			return "ERROR " + err.Error()
		}
		if !ok {
			return fmt.Sprintf("ERROR no such checkpoint %q", args[1])
		}
		rec = found
	} else {
		recs, err := d.Handoff.Store.List(args[0])
		if err != nil {
			return "ERROR " + err.Error()
		}
		if len(recs) == 0 {
			return fmt.Sprintf("ERROR no checkpoints recorded for %q", args[0])
		}
		rec = recs[0] // List sorts most-recent first
	}

	ctx, cancel := context.WithTimeout(context.Background(), checkpointTimeout)
	defer cancel()

	pid, err := handoff.Restore(ctx, rec)
	if err != nil {
		return "ERROR " + err.Error()
	}
	c.PID = pid
	return fmt.Sprintf("OK restored checkpoint=%s component=%s new_pid=%d", rec.ID, rec.Component, pid)
}

func (d *Dispatcher) checkpointList(args []string) string {
	component := ""
	if len(args) > 0 {
		component = args[0]
	}
	recs, err := d.Handoff.Store.List(component)
	if err != nil {
		return "ERROR " + err.Error()
	}
	if len(recs) == 0 {
		return "OK 0 checkpoints"
	}
	var lines []string
	for _, r := range recs {
		lines = append(lines, fmt.Sprintf("%s component=%s pid=%d taken=%s size=%d",
			r.ID, r.Component, r.OriginalPID, r.Timestamp.Format("2006-01-02T15:04:05Z07:00"), r.ImageSize))
	}
	return "OK\n" + strings.Join(lines, "\n")
}

func (d *Dispatcher) checkpointRemove(args []string) string {
	if len(args) != 1 {
		return "ERROR usage: checkpoint-rm <id>"
	}
	if err := d.Handoff.Store.Remove(args[0]); err != nil {
		return "ERROR " + err.Error()
	}
	return "OK removed " + args[0]
}

func (d *Dispatcher) checkCycles() string {
	members, reports := d.Resolver.DetectCycles()
	if len(members) == 0 {
		return "OK no cycles"
	}
	b := &strings.Builder{}
	b.WriteString("OK")
	for _, r := range reports {
		fmt.Fprintf(b, "\ncycle: %s", strings.Join(r.Edges, " "))
	}
	return b.String()
}

func (d *Dispatcher) validate() string {
	members, _ := d.Resolver.DetectCycles()
	if len(members) > 0 {
		return fmt.Sprintf("ERROR %d component(s) participate in a dependency cycle", len(members))
	}
	if _, err := d.Resolver.TopologicalLayers(); err != nil {
		return "ERROR " + err.Error()
	}
	return "OK manifest graph is acyclic"
}

// kexec answers only the --dry-run form, reporting how many
// components are registered. Without --dry-run it returns an ERROR
// reply; no kernel replacement is performed anywhere in this module,
// and no precondition beyond the component count is checked.
func (d *Dispatcher) kexec(args []string) string {
	dryRun := false
	for _, a := range args {
		if a == "--dry-run" {
			dryRun = true
		}
	}
	if dryRun {
		n := len(d.Reg.Components())
		return fmt.Sprintf("OK dry-run: %d component(s) would be checkpointed or drained before kexec", n)
	}
	return "ERROR kexec must be requested through the reactor, not simulated here"
}

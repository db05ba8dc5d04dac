// Package isolation implements the isolation sink (C8) of §4.7: cgroup
// v2 resource limits and kernel namespace separation applied to a
// component's child process between fork and exec.
//
// Go's runtime forbids running arbitrary Go code between fork and
// exec in a multithreaded process (the classic "fork in a
// multithreaded program" hazard), so this package uses the same split
// container runtimes use: namespace entry and cgroup membership are
// requested as part of the clone(2) call itself via
// syscall.SysProcAttr (Cloneflags and, on kernels that support it,
// CgroupFD — joining a cgroup atomically at clone time rather than
// writing cgroup.procs after the fact), and anything that must run as
// code inside the new namespaces (hostname, chroot, private tmpfs)
// happens in a re-exec of the initd binary itself (see reexec.go)
// before it execs the component's real command. That re-exec'd
// process *is* "the child, before exec" in spec terms — from the
// supervisor's point of view the whole sequence is a single opaque
// step.
package isolation

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/cuemby/initd/pkg/errs"
	"github.com/cuemby/initd/pkg/types"
)

// cgroupRoot is the cgroup v2 unified hierarchy mount point.
const cgroupRoot = "/sys/fs/cgroup"

// cgroupParent is the subtree initd manages; one directory per
// component is created lazily on first start, per §5 "Cgroup and
// namespace artifacts are created lazily at first start."
const cgroupParent = "initd"

// ToLinuxResources converts a component's resource limits to the OCI
// runtime-spec representation. initd doesn't run OCI containers, but
// runtime-spec's LinuxResources is already the field-for-field match
// for the cgroup v2 controllers §4.7 lists (memory, cpu, io, pids),
// so it serves as the profile's wire/debug representation without a
// bespoke struct.
func ToLinuxResources(r types.ResourceLimits) *specs.LinuxResources {
	res := &specs.LinuxResources{}

	if r.MemoryMax > 0 || r.MemoryHigh > 0 {
		mem := &specs.LinuxMemory{}
		if r.MemoryMax > 0 {
			mem.Limit = &r.MemoryMax
		}
		res.Memory = mem
	}
	if r.CPUWeight > 0 || r.CPUMax > 0 {
		cpu := &specs.LinuxCPU{}
		if r.CPUWeight > 0 {
			shares := uint64(r.CPUWeight)
			cpu.Shares = &shares
		}
		if r.CPUMax > 0 {
			quota := int64(r.CPUMax * 100000)
			period := uint64(100000)
			cpu.Quota = &quota
			cpu.Period = &period
		}
		res.CPU = cpu
	}
	if r.PidsMax > 0 {
		res.Pids = &specs.LinuxPids{Limit: r.PidsMax}
	}
	if r.IOWeight > 0 {
		res.BlockIO = &specs.LinuxBlockIO{Weight: weightPtr(uint16(r.IOWeight))}
	}

	return res
}

func weightPtr(w uint16) *uint16 { return &w }

// Cgroup represents the on-disk cgroup v2 directory created for a
// single component.
type Cgroup struct {
	Path string
}

// EnsureCgroup creates (or reuses) the cgroup v2 directory for
// component name and writes its resource ceilings to the appropriate
// controller files, in the order §4.7 lists: "enter or create the
// requested cgroup ...; write resource ceilings to per-controller
// files."
func EnsureCgroup(name string, limits types.ResourceLimits) (*Cgroup, error) {
	dir := filepath.Join(cgroupRoot, cgroupParent, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.New(errs.KernelAPI, "create cgroup dir", err)
	}

	writes := map[string]string{}
	if limits.MemoryMax > 0 {
		writes["memory.max"] = strconv.FormatInt(limits.MemoryMax, 10)
	}
	if limits.MemoryHigh > 0 {
		writes["memory.high"] = strconv.FormatInt(limits.MemoryHigh, 10)
	}
	if limits.CPUWeight > 0 {
		writes["cpu.weight"] = strconv.Itoa(limits.CPUWeight)
	}
	if limits.CPUMax > 0 {
		quota := int64(limits.CPUMax * 100000)
		writes["cpu.max"] = fmt.Sprintf("%d 100000", quota)
	}
	if limits.IOWeight > 0 {
		writes["io.weight"] = fmt.Sprintf("default %d", limits.IOWeight)
	}
	if limits.PidsMax > 0 {
		writes["pids.max"] = strconv.FormatInt(limits.PidsMax, 10)
	}

	for file, value := range writes {
		path := filepath.Join(dir, file)
		if err := os.WriteFile(path, []byte(value), 0o644); err != nil {
			return nil, errs.New(errs.KernelAPI, "write "+file, err)
		}
	}

	return &Cgroup{Path: dir}, nil
}

// Teardown removes the cgroup directory. Called lazily on a
// component's final exit, per §5.
func (c *Cgroup) Teardown() error {
	if c == nil {
		return nil
	}
	return os.Remove(c.Path)
}

// ProcsFile returns the path to the cgroup's membership control file,
// used as a fallback on kernels without clone-time CgroupFD support
// (see namespace.go).
func (c *Cgroup) ProcsFile() string {
	return filepath.Join(c.Path, "cgroup.procs")
}

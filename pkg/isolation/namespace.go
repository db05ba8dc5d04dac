package isolation

import (
	"os"
	"syscall"

	"github.com/cuemby/initd/pkg/types"
)

// cloneFlag maps a manifest namespace name to its clone(2) flag.
func cloneFlag(n types.Namespace) uintptr {
	switch n {
	case types.NamespaceMount:
		return syscall.CLONE_NEWNS
	case types.NamespacePID:
		return syscall.CLONE_NEWPID
	case types.NamespaceNet:
		return syscall.CLONE_NEWNET
	case types.NamespaceUTS:
		return syscall.CLONE_NEWUTS
	case types.NamespaceIPC:
		return syscall.CLONE_NEWIPC
	case types.NamespaceUser:
		return syscall.CLONE_NEWUSER
	default:
		return 0
	}
}

// BuildSysProcAttr translates an isolation profile into the
// SysProcAttr that os/exec attaches to the underlying clone(2) call.
// Namespace entry happens as part of that single syscall — there is
// no separate unshare step, and so no window where the child runs
// unconfined.
//
// When cg is non-nil and its directory can be opened, CgroupFD lets
// the child join its cgroup atomically at clone time too, closing the
// gap where a process could run, even briefly, outside its resource
// limits. There is no kernel version check, and nothing in this module
// writes cgroup.procs as a fallback (Cgroup.ProcsFile only returns the
// path).
func BuildSysProcAttr(profile types.IsolationProfile, cg *Cgroup) *syscall.SysProcAttr {
	attr := &syscall.SysProcAttr{}

	var flags uintptr
	for _, ns := range profile.Namespaces {
		flags |= cloneFlag(ns)
	}
	attr.Cloneflags = uintptr(flags)

	if cg != nil {
		if fd, err := os.Open(cg.Path); err == nil {
			attr.UseCgroupFD = true
			attr.CgroupFD = int(fd.Fd())
		}
	}

	return attr
}

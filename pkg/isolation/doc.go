/*
Package isolation implements the isolation sink (C8) of §4.7: cgroup
v2 resource ceilings and Linux namespace separation for a component's
process tree.

The split across this package's three files mirrors how the kernel
actually lets you do this safely from a multithreaded Go process:

  - isolation.go creates the cgroup directory and writes its
    controller files before the process exists.
  - namespace.go builds the SysProcAttr that asks clone(2) to place
    the new process directly into the requested namespaces (and,
    where supported, the cgroup) as part of the fork itself.
  - reexec.go handles the handful of namespace setup steps that can
    only run as code after the clone (hostname, chroot) by having the
    cloned process re-invoke the initd binary in a small isolate-then-exec
    mode, rather than trying to run arbitrary Go code between a raw
    fork and exec.
*/
package isolation

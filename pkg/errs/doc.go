/*
Package errs tags an error with one of §7's six failure kinds so a
caller can branch on category (fall through the upgrade ladder on
ExternalTool, apply the restart rate limiter on Transient, ...)
without parsing error text.

	if _, err := isolation.EnsureCgroup(name, limits); err != nil {
		return errs.New(errs.KernelAPI, "ensure cgroup", err)
	}
	...
	if errs.Is(err, errs.KernelAPI) { ... }
*/
package errs

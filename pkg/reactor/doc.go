/*
Package reactor wires pkg/registry, pkg/resolver, pkg/supervisor,
pkg/manifest, and pkg/control into the single event loop that drives
a running initd instance.

	r := reactor.New(reg, res, sup, loader, watcher, ctrlServer, dispatcher, engine)
	if err := r.Run(ctx); err != nil {
		if execErr := reactor.Failsafe(err); execErr != nil {
			os.Exit(1)
		}
	}

Run never returns on a healthy system; it blocks in a select loop
until a termination signal arrives or ctx is cancelled. Failsafe is
cmd/initd's last resort if Run itself returns a non-nil error that
isn't a clean shutdown.
*/
package reactor

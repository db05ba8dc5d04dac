/*
Package handoff implements the upgrade engine (C9) of §4.4: the
three-rung strategy ladder (checkpoint-restore, fd-passing, restart)
that replaces a component's process instance, falling through to a
less graceful rung whenever the preferred one fails.

	engine := handoff.NewEngine(store, "/var/lib/initd/checkpoints")
	result, err := engine.Upgrade(ctx, component, oldPID, oldConn, spawnReplacement)

Store persists checkpoint metadata in bbolt so it survives an initd
restart; fdpass.go implements the SCM_RIGHTS descriptor transfer over
a Unix domain socket; checkpoint.go shells out to an external
checkpoint/restore tool rather than reimplementing CRIU-like dump
logic in Go.
*/
package handoff

/*
Package readiness implements the four readiness predicates of §4.5.
pkg/supervisor calls Watch once a component enters READY_WAIT, bounds
the context with the component's readiness timeout, and promotes to
ACTIVE (or fails it) based on the single Outcome each watcher sends.
*/
package readiness

/*
Package health implements the health monitor of §4.6: a periodic
command probe, run while a component is ACTIVE or DEGRADED, whose
consecutive pass/fail streak drives ACTIVE <-> DEGRADED <-> FAILED.

	cfg := health.Config{Interval: 10 * time.Second, Timeout: 2 * time.Second, DegradeAfter: 3, FailAfter: 2}
	checker := health.NewExecChecker([]string{"pg_isready"})
	status := &health.Status{}

	result := checker.Check(ctx)
	switch status.Update(result, cfg) {
	case health.TransitionToDegraded:
		// pkg/supervisor moves the component ACTIVE -> DEGRADED
	case health.TransitionToFailed:
		// pkg/supervisor moves the component to FAILED and restarts it
	case health.TransitionToActive:
		// a single success while degraded clears both counters
	}

pkg/reactor schedules a health tick at Interval on its timer wheel and
pkg/supervisor runs Check on each tick; this package only tracks the threshold arithmetic so it can be unit tested
without a real subprocess.
*/
package health

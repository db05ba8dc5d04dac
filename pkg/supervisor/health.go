package supervisor

import (
	"context"

	"github.com/cuemby/initd/pkg/health"
	"github.com/cuemby/initd/pkg/log"
	"github.com/cuemby/initd/pkg/registry"
)

// RunHealthProbe executes one health probe for a live component and
// applies whatever transition it implies, per §4.6: "after d
// consecutive failures transition ACTIVE -> DEGRADED; after f
// additional consecutive failures while DEGRADED transition to
// FAILED ... A single success while DEGRADED returns to ACTIVE."
// pkg/reactor's tick source calls this once per configured interval
// for every component with health enabled.
func (s *Supervisor) RunHealthProbe(ctx context.Context, idx registry.CompIndex) {
	c := s.reg.ComponentAt(idx)
	if !c.Health.Enabled || !c.State.Live() {
		return
	}

	status, ok := s.health[idx]
	if !ok {
		status = &health.Status{}
		s.health[idx] = status
	}

	checker := health.NewExecChecker(c.Health.Probe)
	if c.Health.Timeout > 0 {
		checker.Timeout = c.Health.Timeout
	}

	cfg := health.Config{
		Interval:     c.Health.Interval,
		Timeout:      checker.Timeout,
		DegradeAfter: c.Health.DegradeAfter,
		FailAfter:    c.Health.FailAfter,
	}

	result := checker.Check(ctx)
	transition := status.Update(result, cfg)

	logger := log.WithComponentName(c.Name)

	switch transition {
	case health.TransitionToDegraded:
		logger.Warn().Str("message", result.Message).Msg("health degraded")
		s.SetDegraded(idx, true)
	case health.TransitionToFailed:
		logger.Error().Str("message", result.Message).Msg("health failed, restarting")
		s.Fail(idx)
	case health.TransitionToActive:
		logger.Info().Msg("health recovered")
		s.SetDegraded(idx, false)
	case health.NoTransition:
		if !result.Healthy {
			logger.Debug().Str("message", result.Message).Msg("health probe failed")
		}
	}
}

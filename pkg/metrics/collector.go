package metrics

import (
	"time"

	"github.com/cuemby/initd/pkg/registry"
)

// collectInterval mirrors the teacher's 15s cluster-metrics poll
// cadence; the registry is cheap to snapshot so there's no reason to
// go slower, and faster would just be noise between resolver passes.
const collectInterval = 15 * time.Second

// Collector periodically snapshots registry state into the package's
// gauges. The counters (RestartsTotal, UpgradesTotal, ...) are
// registered alongside them, but no package in this module increments
// them, so they stay at zero. Gauge-shaped state (how many components
// are in each supervision state right now) is recomputed on a timer
// rather than kept incrementally in sync with every transition.
type Collector struct {
	reg    *registry.Registry
	ticker *time.Ticker
	stopCh chan struct{}
}

// NewCollector creates a Collector bound to reg. Per §5, reg is only
// safe to read from the reactor goroutine, so Start must be called
// from pkg/reactor, not from an independent background goroutine that
// outlives it.
func NewCollector(reg *registry.Registry) *Collector {
	return &Collector{reg: reg, stopCh: make(chan struct{})}
}

// Start begins the periodic collection loop, collecting once
// immediately before the first tick.
func (c *Collector) Start() {
	c.ticker = time.NewTicker(collectInterval)
	c.collect()
	go func() {
		for {
			select {
			case <-c.ticker.C:
				c.collect()
			case <-c.stopCh:
				c.ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts the collection loop.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	stateCounts := make(map[string]int)
	for _, comp := range c.reg.Components() {
		stateCounts[string(comp.State)]++
	}
	for state, n := range stateCounts {
		ComponentsTotal.WithLabelValues(state).Set(float64(n))
	}

	var active, degraded int
	for _, capRow := range c.reg.Capabilities() {
		if capRow.Degraded {
			degraded++
		} else if capRow.Active {
			active++
		}
	}
	CapabilitiesTotal.WithLabelValues("active").Set(float64(active))
	CapabilitiesTotal.WithLabelValues("degraded").Set(float64(degraded))
}

/*
Package metrics exposes initd's internal state to Prometheus. Counters
(RestartsTotal, UpgradesTotal, ControlRequestsTotal, ...) are
registered but not incremented anywhere in this module; gauges are
kept current by Collector, which snapshots pkg/registry on a timer.

	coll := metrics.NewCollector(reg)
	coll.Start()
	http.Handle("/metrics", metrics.Handler())
*/
package metrics

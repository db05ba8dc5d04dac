package metrics_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/initd/pkg/metrics"
	"github.com/cuemby/initd/pkg/registry"
	"github.com/cuemby/initd/pkg/types"
)

func TestCollectorSnapshotsComponentStateCounts(t *testing.T) {
	reg := registry.New()
	_, err := reg.AddComponent(&types.Component{Name: "a", State: types.StateActive})
	require.NoError(t, err)
	_, err = reg.AddComponent(&types.Component{Name: "b", State: types.StateFailed})
	require.NoError(t, err)

	coll := metrics.NewCollector(reg)
	coll.Start()
	defer coll.Stop()

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.ComponentsTotal.WithLabelValues("active")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ComponentsTotal.WithLabelValues("failed")))
}

package isolation_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cuemby/initd/pkg/isolation"
	"github.com/cuemby/initd/pkg/types"
)

func TestToLinuxResourcesOnlySetsRequestedControllers(t *testing.T) {
	res := isolation.ToLinuxResources(types.ResourceLimits{MemoryMax: 1 << 20, PidsMax: 64})

	require_ := assert.New(t)
	require_.NotNil(res.Memory)
	require_.Equal(int64(1<<20), *res.Memory.Limit)
	require_.NotNil(res.Pids)
	require_.Equal(int64(64), res.Pids.Limit)
	require_.Nil(res.CPU)
	require_.Nil(res.BlockIO)
}

func TestToLinuxResourcesEmptyLimitsYieldEmptyResources(t *testing.T) {
	res := isolation.ToLinuxResources(types.ResourceLimits{})
	assert.Nil(t, res.Memory)
	assert.Nil(t, res.CPU)
	assert.Nil(t, res.Pids)
	assert.Nil(t, res.BlockIO)
}

func TestBuildSysProcAttrSetsCloneflagsPerNamespace(t *testing.T) {
	profile := types.IsolationProfile{
		Namespaces: []types.Namespace{types.NamespacePID, types.NamespaceNet},
	}
	attr := isolation.BuildSysProcAttr(profile, nil)
	assert.NotZero(t, attr.Cloneflags)
	assert.False(t, attr.UseCgroupFD)
}

package coordinator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxmesh/fluxmesh/pkg/types"
)

func sourcePlan(logicalName string, fields ...string) *types.LogicalPlan {
	p := types.NewLogicalPlan()
	p.AddNode(&types.OperatorNode{
		Kind:   types.OperatorSource,
		Output: schema(fields...),
		Source: &types.SourcePayload{LogicalSourceName: logicalName, OriginID: 1},
	})
	p.Roots = []types.OperatorId{1}
	return p
}

func TestSharedPlanManagerCreatesOnFirstQuery(t *testing.T) {
	m := NewSharedPlanManager()
	sp := m.AddQuery(1, types.PlacementBottomUp, sourcePlan("s1", "value"))

	require.NotNil(t, sp)
	assert.Equal(t, types.SharedPlanCreated, sp.Status)
	assert.Contains(t, sp.ContributingQueries, types.QueryId(1))
	assert.Len(t, sp.ChangeLog, 1)
}

func TestSharedPlanManagerMergesSecondQueryIntoSameStrategy(t *testing.T) {
	m := NewSharedPlanManager()
	first := m.AddQuery(1, types.PlacementBottomUp, sourcePlan("s1", "value"))
	second := m.AddQuery(2, types.PlacementBottomUp, sourcePlan("s1", "value"))

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, types.SharedPlanUpdated, second.Status)
	assert.Contains(t, second.ContributingQueries, types.QueryId(1))
	assert.Contains(t, second.ContributingQueries, types.QueryId(2))
}

func TestSharedPlanManagerKeepsStrategiesSeparate(t *testing.T) {
	m := NewSharedPlanManager()
	bu := m.AddQuery(1, types.PlacementBottomUp, sourcePlan("s1", "value"))
	td := m.AddQuery(2, types.PlacementTopDown, sourcePlan("s1", "value"))

	assert.NotEqual(t, bu.ID, td.ID)
}

func TestSharedPlanManagerRemoveQueryTracksRemaining(t *testing.T) {
	m := NewSharedPlanManager()
	sp := m.AddQuery(1, types.PlacementBottomUp, sourcePlan("s1", "value"))
	m.AddQuery(2, types.PlacementBottomUp, sourcePlan("s1", "value"))

	remaining, ok := m.RemoveQuery(1, sp.ID)
	require.True(t, ok)
	assert.Equal(t, 1, remaining)

	remaining, ok = m.RemoveQuery(2, sp.ID)
	require.True(t, ok)
	assert.Equal(t, 0, remaining)
}

package coordinator

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxmesh/fluxmesh/pkg/config"
	"github.com/fluxmesh/fluxmesh/pkg/types"
)

type recordingWorkerClient struct {
	mu      sync.Mutex
	started []types.SharedQueryId
	stopped []types.SharedQueryId
}

func (c *recordingWorkerClient) Register(ctx context.Context, shared types.SharedQueryId, subplan *types.LogicalPlan) error {
	return nil
}

func (c *recordingWorkerClient) Start(ctx context.Context, shared types.SharedQueryId) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = append(c.started, shared)
	return nil
}

func (c *recordingWorkerClient) Stop(ctx context.Context, shared types.SharedQueryId, termination types.TerminationType) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = append(c.stopped, shared)
	return nil
}

func newTestCoordinator(t *testing.T) (*Coordinator, *recordingWorkerClient, types.TopologyNodeId) {
	t.Helper()
	c := New(config.DefaultCoordinatorConfig())
	require.NoError(t, c.RegisterLogicalSource("default_logical", schema("value", "ts")))

	client := &recordingWorkerClient{}
	node := c.RegisterWorker("w1:9000", 10, client)
	_, err := c.RegisterPhysicalSource(node, "default_logical", "csv1")
	require.NoError(t, err)
	return c, client, node
}

func TestCoordinatorAddQueryDeploysToWorker(t *testing.T) {
	c, client, _ := newTestCoordinator(t)
	sub := types.QuerySubmission{
		UserQuery: `Query::from("default_logical").filter(value<42).sink(print)`,
		Placement: types.PlacementBottomUp,
	}

	id, err := c.AddQuery(context.Background(), sub)
	require.NoError(t, err)

	entry, ok := c.Queries.Get(id)
	require.True(t, ok)
	assert.Equal(t, types.QueryStatusRunning, entry.Status)

	client.mu.Lock()
	assert.Len(t, client.started, 1)
	client.mu.Unlock()
}

func TestCoordinatorAddQueryRejectsInvalidSubmission(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	_, err := c.AddQuery(context.Background(), types.QuerySubmission{})
	require.Error(t, err)
}

func TestCoordinatorStopQueryTearsDownSharedPlanWhenLastContributor(t *testing.T) {
	c, client, _ := newTestCoordinator(t)
	sub := types.QuerySubmission{
		UserQuery: `Query::from("default_logical").filter(value<42).sink(print)`,
		Placement: types.PlacementBottomUp,
	}
	id, err := c.AddQuery(context.Background(), sub)
	require.NoError(t, err)

	require.NoError(t, c.StopQuery(context.Background(), id, types.TerminationGraceful))

	entry, ok := c.Queries.Get(id)
	require.True(t, ok)
	assert.Equal(t, types.QueryStatusStopped, entry.Status)

	client.mu.Lock()
	assert.Len(t, client.stopped, 1)
	client.mu.Unlock()

	_, ok = c.Shared.Get(entry.SharedID)
	assert.False(t, ok)
}

func TestCoordinatorStopQueryKeepsSharedPlanWithRemainingContributor(t *testing.T) {
	c, client, _ := newTestCoordinator(t)
	sub := types.QuerySubmission{
		UserQuery: `Query::from("default_logical").filter(value<42).sink(print)`,
		Placement: types.PlacementBottomUp,
	}
	first, err := c.AddQuery(context.Background(), sub)
	require.NoError(t, err)
	second, err := c.AddQuery(context.Background(), sub)
	require.NoError(t, err)

	require.NoError(t, c.StopQuery(context.Background(), first, types.TerminationGraceful))

	client.mu.Lock()
	assert.Len(t, client.stopped, 0)
	client.mu.Unlock()

	entry, ok := c.Queries.Get(second)
	require.True(t, ok)
	_, ok = c.Shared.Get(entry.SharedID)
	assert.True(t, ok)
}

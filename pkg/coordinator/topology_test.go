package coordinator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxmesh/fluxmesh/pkg/types"
)

type stubWorkerClient struct{}

func (stubWorkerClient) Register(ctx context.Context, shared types.SharedQueryId, subplan *types.LogicalPlan) error {
	return nil
}
func (stubWorkerClient) Start(ctx context.Context, shared types.SharedQueryId) error { return nil }
func (stubWorkerClient) Stop(ctx context.Context, shared types.SharedQueryId, termination types.TerminationType) error {
	return nil
}

func TestTopologyRegistryRegisterWorkerConnectsUnderRoot(t *testing.T) {
	r := NewTopologyRegistry()
	node := r.RegisterWorker("w1:9000", 10, stubWorkerClient{})

	topo := r.Snapshot()
	require.Contains(t, topo.Nodes, node)
	assert.Equal(t, "w1:9000", topo.Nodes[node].Address)
	assert.Contains(t, topo.Nodes[topo.Root].Children, node)

	clients := r.Clients()
	assert.Contains(t, clients, node)
}

func TestTopologyRegistryUnregisterWorkerRemovesNodeAndClient(t *testing.T) {
	r := NewTopologyRegistry()
	node := r.RegisterWorker("w1:9000", 10, stubWorkerClient{})
	r.UnregisterWorker(node)

	topo := r.Snapshot()
	assert.NotContains(t, topo.Nodes, node)
	assert.NotContains(t, r.Clients(), node)
}

func TestTopologyRegistrySetMaintenance(t *testing.T) {
	r := NewTopologyRegistry()
	node := r.RegisterWorker("w1:9000", 10, stubWorkerClient{})

	require.NoError(t, r.SetMaintenance(node, true))
	assert.True(t, r.Snapshot().Nodes[node].Maintenance())

	require.NoError(t, r.SetMaintenance(node, false))
	assert.False(t, r.Snapshot().Nodes[node].Maintenance())
}

func TestTopologyRegistrySetMaintenanceUnknownNode(t *testing.T) {
	r := NewTopologyRegistry()
	err := r.SetMaintenance(999, true)
	require.Error(t, err)
}

package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fluxmesh/fluxmesh/pkg/buffer"
	"github.com/fluxmesh/fluxmesh/pkg/config"
	"github.com/fluxmesh/fluxmesh/pkg/network"
	"github.com/fluxmesh/fluxmesh/pkg/rowcodec"
	"github.com/fluxmesh/fluxmesh/pkg/runtime"
	"github.com/fluxmesh/fluxmesh/pkg/types"
)

func testExecutor(t *testing.T) (*Executor, *network.Transport, *runtime.QueryManager) {
	t.Helper()
	pool := buffer.NewPool(buffer.Config{Name: "executor-test", BufferSize: 4096, NumBuffers: 16})
	manager := runtime.NewQueryManager(runtime.Config{Mode: runtime.QueueModeDynamic, NumThreads: 2})
	manager.Start(context.Background())
	t.Cleanup(manager.Shutdown)

	transport := network.NewTransport(network.Config{BindAddr: "127.0.0.1:0", HandlerThreads: 2, QueueSize: 8})
	require.NoError(t, transport.Start(context.Background()))
	t.Cleanup(func() { transport.Shutdown() })

	cfg := config.DefaultWorkerConfig()
	exec := NewExecutor(cfg, pool, manager, transport)
	return exec, transport, manager
}

func TestExecutorRegisterStartStopFeedsPhysicalSourceThroughFilter(t *testing.T) {
	exec, _, _ := testExecutor(t)
	plan, srcID := buildFilterSinkPlan()

	ctx := context.Background()
	shared := types.SharedQueryId(1)
	require.NoError(t, exec.Register(ctx, shared, plan))
	require.NoError(t, exec.Start(ctx, shared))

	require.NoError(t, exec.FeedPhysicalSource(ctx, shared, srcID, sensorSchema(), []rowcodec.Row{
		{int64(10), int64(1000)},
		{int64(99), int64(2000)},
	}))

	// the print sink has no observable side channel here; submission
	// succeeding without error is the behavior under test, the filter
	// and sink kernels themselves are covered in pkg/operators.
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, exec.Stop(ctx, shared, types.TerminationGraceful))
}

func TestExecutorRegisterRejectsDuplicateSharedPlan(t *testing.T) {
	exec, _, _ := testExecutor(t)
	plan, _ := buildFilterSinkPlan()
	ctx := context.Background()
	shared := types.SharedQueryId(1)

	require.NoError(t, exec.Register(ctx, shared, plan))
	require.Error(t, exec.Register(ctx, shared, plan))
}

func TestExecutorStartRejectsUnregisteredSharedPlan(t *testing.T) {
	exec, _, _ := testExecutor(t)
	require.Error(t, exec.Start(context.Background(), types.SharedQueryId(404)))
}

func TestExecutorFeedPhysicalSourceRejectsUnknownOperator(t *testing.T) {
	exec, _, _ := testExecutor(t)
	plan, _ := buildFilterSinkPlan()
	ctx := context.Background()
	shared := types.SharedQueryId(1)
	require.NoError(t, exec.Register(ctx, shared, plan))
	require.NoError(t, exec.Start(ctx, shared))
	defer exec.Stop(ctx, shared, types.TerminationGraceful)

	err := exec.FeedPhysicalSource(ctx, shared, types.OperatorId(9999), sensorSchema(), nil)
	require.Error(t, err)
}

// TestExecutorNetworkSinkDialsAndDeliversToNetworkSource wires a producer
// Executor's NetworkSink to a consumer Executor's Transport across a real
// loopback connection, exercising Start's dial and Stop's EOS/close path.
func TestExecutorNetworkSinkDialsAndDeliversToNetworkSource(t *testing.T) {
	consumerExec, consumerTransport, _ := testExecutor(t)
	producerExec, _, _ := testExecutor(t)

	partition := types.Partition{SubPlanID: 1, OperatorID: 2, Index: 0}
	schema := sensorSchema()

	consumerPlan := types.NewLogicalPlan()
	nsrc := consumerPlan.AddNode(&types.OperatorNode{
		Kind:    types.OperatorNetworkSource,
		Output:  schema.Clone(),
		Network: &types.NetworkPayload{Partition: partition},
	})
	consumerSink := consumerPlan.AddNode(&types.OperatorNode{
		Kind:   types.OperatorSink,
		Inputs: []types.Schema{schema.Clone()},
		Output: schema.Clone(),
		Sink:   &types.SinkPayload{Kind: "print"},
	})
	consumerPlan.Connect(consumerSink, nsrc)
	consumerPlan.Roots = []types.OperatorId{consumerSink}

	producerPlan := types.NewLogicalPlan()
	producerSrc := producerPlan.AddNode(&types.OperatorNode{
		Kind:   types.OperatorSource,
		Output: schema.Clone(),
		Source: &types.SourcePayload{LogicalSourceName: "default_logical", OriginID: 1},
	})
	producerSink := producerPlan.AddNode(&types.OperatorNode{
		Kind:    types.OperatorNetworkSink,
		Inputs:  []types.Schema{schema.Clone()},
		Output:  schema.Clone(),
		Network: &types.NetworkPayload{Partition: partition, UpstreamAddr: consumerTransport.Addr().String()},
	})
	producerPlan.Connect(producerSink, producerSrc)
	producerPlan.Roots = []types.OperatorId{producerSink}

	ctx := context.Background()
	shared := types.SharedQueryId(7)
	require.NoError(t, consumerExec.Register(ctx, shared, consumerPlan))
	require.NoError(t, consumerExec.Start(ctx, shared))
	defer consumerExec.Stop(ctx, shared, types.TerminationGraceful)

	require.NoError(t, producerExec.Register(ctx, shared, producerPlan))
	require.NoError(t, producerExec.Start(ctx, shared))
	defer producerExec.Stop(ctx, shared, types.TerminationGraceful)

	require.NoError(t, producerExec.FeedPhysicalSource(ctx, shared, producerSrc, schema, []rowcodec.Row{
		{int64(7), int64(1234)},
	}))

	time.Sleep(50 * time.Millisecond)
}

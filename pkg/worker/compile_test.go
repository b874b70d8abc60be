package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxmesh/fluxmesh/pkg/buffer"
	"github.com/fluxmesh/fluxmesh/pkg/operators"
	"github.com/fluxmesh/fluxmesh/pkg/types"
)

func testPool(t *testing.T) *buffer.Pool {
	t.Helper()
	return buffer.NewPool(buffer.Config{Name: "worker-test", BufferSize: 4096, NumBuffers: 8})
}

func sensorSchema() types.Schema {
	return types.Schema{
		{Name: "value", Type: types.FieldTypeInt64},
		{Name: "ts", Type: types.FieldTypeInt64},
	}
}

// buildFilterSinkPlan builds Source(1) -> Filter(2) -> Sink(3), a single
// root chain, the same shape AddQuery produces for spec.md §8 S1.
func buildFilterSinkPlan() (*types.LogicalPlan, types.OperatorId) {
	plan := types.NewLogicalPlan()
	schema := sensorSchema()

	src := plan.AddNode(&types.OperatorNode{
		Kind:   types.OperatorSource,
		Output: schema.Clone(),
		Source: &types.SourcePayload{LogicalSourceName: "default_logical", OriginID: 1},
	})
	filter := plan.AddNode(&types.OperatorNode{
		Kind:   types.OperatorFilter,
		Inputs: []types.Schema{schema.Clone()},
		Output: schema.Clone(),
		Filter: &types.FilterPayload{Predicate: types.BinaryExpr("<", types.FieldRef("value"), types.LiteralExpr(int64(42)))},
	})
	sink := plan.AddNode(&types.OperatorNode{
		Kind:   types.OperatorSink,
		Inputs: []types.Schema{schema.Clone()},
		Output: schema.Clone(),
		Sink:   &types.SinkPayload{Kind: "print"},
	})
	plan.Connect(filter, src)
	plan.Connect(sink, filter)
	plan.Roots = []types.OperatorId{sink}
	return plan, src
}

func TestCompileFilterSinkChain(t *testing.T) {
	plan, src := buildFilterSinkPlan()
	compiled, err := Compile(plan, testPool(t))
	require.NoError(t, err)

	require.Len(t, compiled.Sources, 1)
	assert.Equal(t, src, compiled.Sources[0].OperatorID)
	assert.Equal(t, "filter", compiled.Sources[0].Downstream.Name())
	assert.Equal(t, 1, compiled.PipelineCount, "one Filter kernel")
	assert.Equal(t, 1, compiled.SinkCount, "one print sink")
	assert.Empty(t, compiled.NetworkSources)
	assert.Empty(t, compiled.NetworkSinks)
}

func TestCompileFileSinkTracksOpenFile(t *testing.T) {
	plan, _ := buildFilterSinkPlan()
	sinkID := plan.Roots[0]
	plan.Get(sinkID).Sink = &types.SinkPayload{Kind: "file", Target: t.TempDir() + "/out.ndjson"}

	compiled, err := Compile(plan, testPool(t))
	require.NoError(t, err)

	require.Len(t, compiled.Files, 1)
	assert.Equal(t, sinkID, compiled.Files[0].OperatorID)
	require.NoError(t, compiled.Files[0].File.Close())
}

func TestCompileRejectsUnsupportedSinkKind(t *testing.T) {
	plan, _ := buildFilterSinkPlan()
	plan.Get(plan.Roots[0]).Sink = &types.SinkPayload{Kind: "kafka"}

	_, err := Compile(plan, testPool(t))
	require.Error(t, err)
}

func TestCompileRejectsDanglingChild(t *testing.T) {
	plan, _ := buildFilterSinkPlan()
	filterID := plan.Get(plan.Roots[0]).Children[0]
	plan.Get(filterID).Children = []types.OperatorId{9999}

	_, err := Compile(plan, testPool(t))
	require.Error(t, err)
}

// buildNetworkSinkPlan builds Source -> NetworkSink, the shape placement
// produces on the producer side of a cross-worker edge.
func buildNetworkSinkPlan() *types.LogicalPlan {
	plan := types.NewLogicalPlan()
	schema := sensorSchema()

	src := plan.AddNode(&types.OperatorNode{
		Kind:   types.OperatorSource,
		Output: schema.Clone(),
		Source: &types.SourcePayload{LogicalSourceName: "default_logical", OriginID: 1},
	})
	sink := plan.AddNode(&types.OperatorNode{
		Kind:    types.OperatorNetworkSink,
		Inputs:  []types.Schema{schema.Clone()},
		Output:  schema.Clone(),
		Network: &types.NetworkPayload{Partition: types.Partition{SubPlanID: 1, OperatorID: 2}, UpstreamAddr: "w2:9000"},
	})
	plan.Connect(sink, src)
	plan.Roots = []types.OperatorId{sink}
	return plan
}

func TestCompileNetworkSinkBuildsPlaceholder(t *testing.T) {
	plan := buildNetworkSinkPlan()
	compiled, err := Compile(plan, testPool(t))
	require.NoError(t, err)

	require.Len(t, compiled.NetworkSinks, 1)
	assert.Equal(t, "w2:9000", compiled.NetworkSinks[0].Addr)
	assert.Equal(t, 1, compiled.SinkCount)
	require.Len(t, compiled.Sources, 1)
	assert.Equal(t, compiled.NetworkSinks[0].Placeholder, compiled.Sources[0].Downstream)
}

// buildNetworkSourcePlan builds NetworkSource -> Sink, the consumer side.
func buildNetworkSourcePlan() *types.LogicalPlan {
	plan := types.NewLogicalPlan()
	schema := sensorSchema()

	nsrc := plan.AddNode(&types.OperatorNode{
		Kind:    types.OperatorNetworkSource,
		Output:  schema.Clone(),
		Network: &types.NetworkPayload{Partition: types.Partition{SubPlanID: 1, OperatorID: 2}, UpstreamAddr: "w1:9000"},
	})
	sink := plan.AddNode(&types.OperatorNode{
		Kind:   types.OperatorSink,
		Inputs: []types.Schema{schema.Clone()},
		Output: schema.Clone(),
		Sink:   &types.SinkPayload{Kind: "print"},
	})
	plan.Connect(sink, nsrc)
	plan.Roots = []types.OperatorId{sink}
	return plan
}

func TestCompileNetworkSourceBindsPartition(t *testing.T) {
	plan := buildNetworkSourcePlan()
	compiled, err := Compile(plan, testPool(t))
	require.NoError(t, err)

	require.Len(t, compiled.NetworkSources, 1)
	assert.Equal(t, types.PartitionId(0), compiled.NetworkSources[0].Partition.Index)
	assert.Equal(t, "sink:print", compiled.NetworkSources[0].Downstream.Name())
}

// buildJoinPlan builds two Source branches, neither carrying window
// columns, feeding a Join whose own window definition has no TimeField,
// exercising the implicit per-branch windowing of compileJoin.
func buildJoinPlan() *types.LogicalPlan {
	plan := types.NewLogicalPlan()
	left := types.Schema{
		{Name: "key", Type: types.FieldTypeString},
		{Name: "ts", Type: types.FieldTypeInt64},
	}
	right := types.Schema{
		{Name: "key", Type: types.FieldTypeString},
		{Name: "ts", Type: types.FieldTypeInt64},
	}

	leftSrc := plan.AddNode(&types.OperatorNode{
		Kind:   types.OperatorSource,
		Output: left.Clone(),
		Source: &types.SourcePayload{LogicalSourceName: "left_logical", OriginID: 1},
	})
	rightSrc := plan.AddNode(&types.OperatorNode{
		Kind:   types.OperatorSource,
		Output: right.Clone(),
		Source: &types.SourcePayload{LogicalSourceName: "right_logical", OriginID: 2},
	})
	join := plan.AddNode(&types.OperatorNode{
		Kind:   types.OperatorJoin,
		Inputs: []types.Schema{left.Clone(), right.Clone()},
		Output: left.Clone(),
		Join: &types.JoinPayload{
			LeftKey:  "key",
			RightKey: "key",
			Window:   types.WindowDefinition{Kind: types.WindowTumbling, Size: time.Second},
			Variant:  types.JoinNestedLoop,
		},
	})
	plan.Connect(join, leftSrc)
	plan.Connect(join, rightSrc)
	sink := plan.AddNode(&types.OperatorNode{
		Kind:   types.OperatorSink,
		Inputs: []types.Schema{left.Clone()},
		Output: left.Clone(),
		Sink:   &types.SinkPayload{Kind: "print"},
	})
	plan.Connect(sink, join)
	plan.Roots = []types.OperatorId{sink}
	return plan
}

func TestCompileJoinInsertsImplicitWindowDefaultingTimeField(t *testing.T) {
	plan := buildJoinPlan()
	compiled, err := Compile(plan, testPool(t))
	require.NoError(t, err)

	require.Len(t, compiled.Sources, 2)
	for _, s := range compiled.Sources {
		assert.Equal(t, "window", s.Downstream.Name(), "branch without window columns must get an implicit Window kernel")
	}
	// one Window kernel per branch plus one Join Build kernel; the print
	// sink counts toward SinkCount instead.
	assert.Equal(t, 3, compiled.PipelineCount)
	assert.Equal(t, 1, compiled.SinkCount)
}

func TestCompileJoinRejectsBranchMissingTimeField(t *testing.T) {
	plan := buildJoinPlan()
	// strip "ts" from the right branch's schema so the implicit window
	// fallback ("ts") has nothing to bind to.
	for _, n := range plan.Nodes {
		if n.Kind == types.OperatorSource && n.Source.LogicalSourceName == "right_logical" {
			n.Output = types.Schema{{Name: "key", Type: types.FieldTypeString}}
		}
		if n.Kind == types.OperatorJoin {
			n.Inputs[1] = types.Schema{{Name: "key", Type: types.FieldTypeString}}
		}
	}

	_, err := Compile(plan, testPool(t))
	require.Error(t, err)
}

func TestCompileJoinHonorsPreWindowedBranch(t *testing.T) {
	plan := buildJoinPlan()
	windowed := types.Schema{
		{Name: "key", Type: types.FieldTypeString},
		{Name: "ts", Type: types.FieldTypeInt64},
		{Name: operators.WindowStartField, Type: types.FieldTypeInt64},
		{Name: operators.WindowEndField, Type: types.FieldTypeInt64},
	}
	for _, n := range plan.Nodes {
		if n.Kind == types.OperatorSource && n.Source.LogicalSourceName == "left_logical" {
			n.Output = windowed.Clone()
		}
		if n.Kind == types.OperatorJoin {
			n.Inputs[0] = windowed.Clone()
		}
	}

	compiled, err := Compile(plan, testPool(t))
	require.NoError(t, err)

	require.Len(t, compiled.Sources, 2)
	var leftDownstream, rightDownstream string
	for _, s := range compiled.Sources {
		if s.LogicalSourceName == "left_logical" {
			leftDownstream = s.Downstream.Name()
		}
		if s.LogicalSourceName == "right_logical" {
			rightDownstream = s.Downstream.Name()
		}
	}
	assert.Equal(t, "join:build:left", leftDownstream, "already-windowed branch goes straight into the Build kernel")
	assert.Equal(t, "window", rightDownstream)
	assert.Equal(t, 2, compiled.PipelineCount, "one implicit Window kernel plus the Join Build kernel")
}

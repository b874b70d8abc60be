package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxmesh/fluxmesh/pkg/types"
)

func schema(names ...string) types.Schema {
	s := make(types.Schema, len(names))
	for i, n := range names {
		s[i] = types.Field{Name: n, Type: types.FieldTypeInt64}
	}
	return s
}

func TestPushDownBelowProjectRenamesFields(t *testing.T) {
	p := types.NewLogicalPlan()
	src := p.AddNode(&types.OperatorNode{
		Kind:   types.OperatorSource,
		Output: schema("value"),
		Source: &types.SourcePayload{LogicalSourceName: "s1", OriginID: 1},
	})
	proj := p.AddNode(&types.OperatorNode{
		Kind:    types.OperatorProject,
		Inputs:  []types.Schema{schema("value")},
		Output:  schema("v"),
		Project: &types.ProjectPayload{Fields: []types.ProjectField{{Input: "value", Output: "v"}}},
	})
	p.Connect(proj, src)
	filter := p.AddNode(&types.OperatorNode{
		Kind:   types.OperatorFilter,
		Inputs: []types.Schema{schema("v")},
		Output: schema("v"),
		Filter: &types.FilterPayload{Predicate: types.BinaryExpr(">", types.FieldRef("v"), types.LiteralExpr(10))},
	})
	p.Connect(filter, proj)
	p.Roots = []types.OperatorId{filter}

	out := PushDownFilters(p)

	require.Len(t, out.Roots, 1)
	root := out.Get(out.Roots[0])
	assert.Equal(t, types.OperatorProject, root.Kind, "project must stay above the pushed filter's old position")

	require.Len(t, root.Children, 1)
	pushed := out.Get(root.Children[0])
	require.Equal(t, types.OperatorFilter, pushed.Kind)
	assert.Equal(t, []string{"value"}, pushed.Filter.Predicate.ReferencedFields(), "predicate must be rewritten through the project's rename")

	require.Len(t, pushed.Children, 1)
	assert.Equal(t, types.OperatorSource, out.Get(pushed.Children[0]).Kind)
}

func TestPushDownInlinesMapExpression(t *testing.T) {
	p := types.NewLogicalPlan()
	src := p.AddNode(&types.OperatorNode{
		Kind:   types.OperatorSource,
		Output: schema("x"),
		Source: &types.SourcePayload{LogicalSourceName: "s1", OriginID: 1},
	})
	mapNode := p.AddNode(&types.OperatorNode{
		Kind:   types.OperatorMap,
		Inputs: []types.Schema{schema("x")},
		Output: schema("x", "y"),
		Map:    &types.MapPayload{TargetField: "y", Assignment: types.FieldRef("x")},
	})
	p.Connect(mapNode, src)
	filter := p.AddNode(&types.OperatorNode{
		Kind:   types.OperatorFilter,
		Inputs: []types.Schema{schema("x", "y")},
		Output: schema("x", "y"),
		Filter: &types.FilterPayload{Predicate: types.BinaryExpr(">", types.FieldRef("y"), types.LiteralExpr(5))},
	})
	p.Connect(filter, mapNode)
	p.Roots = []types.OperatorId{filter}

	out := PushDownFilters(p)

	root := out.Get(out.Roots[0])
	assert.Equal(t, types.OperatorMap, root.Kind)
	pushed := out.Get(root.Children[0])
	require.Equal(t, types.OperatorFilter, pushed.Kind)
	assert.Equal(t, []string{"x"}, pushed.Filter.Predicate.ReferencedFields(), "y must be inlined to the map's assignment expression")
}

func TestPushDownSplitsAcrossJoinSide(t *testing.T) {
	p := types.NewLogicalPlan()
	left := p.AddNode(&types.OperatorNode{Kind: types.OperatorSource, Output: schema("lk", "lval"), Source: &types.SourcePayload{LogicalSourceName: "l", OriginID: 1}})
	right := p.AddNode(&types.OperatorNode{Kind: types.OperatorSource, Output: schema("rk", "rval"), Source: &types.SourcePayload{LogicalSourceName: "r", OriginID: 2}})
	join := p.AddNode(&types.OperatorNode{
		Kind:   types.OperatorJoin,
		Inputs: []types.Schema{schema("lk", "lval"), schema("rk", "rval")},
		Output: schema("lk", "lval", "rk", "rval"),
		Join:   &types.JoinPayload{LeftKey: "lk", RightKey: "rk"},
	})
	p.Connect(join, left)
	p.Connect(join, right)
	filter := p.AddNode(&types.OperatorNode{
		Kind:   types.OperatorFilter,
		Inputs: []types.Schema{schema("lk", "lval", "rk", "rval")},
		Output: schema("lk", "lval", "rk", "rval"),
		Filter: &types.FilterPayload{Predicate: types.BinaryExpr(">", types.FieldRef("lval"), types.LiteralExpr(1))},
	})
	p.Connect(filter, join)
	p.Roots = []types.OperatorId{filter}

	out := PushDownFilters(p)

	root := out.Get(out.Roots[0])
	assert.Equal(t, types.OperatorJoin, root.Kind)
	leftChild := out.Get(root.Children[0])
	assert.Equal(t, types.OperatorFilter, leftChild.Kind, "a left-only predicate must push only to the left branch")
	rightChild := out.Get(root.Children[1])
	assert.Equal(t, types.OperatorSource, rightChild.Kind, "right branch must be untouched")
}

func TestPushDownReplicatesJoinKeyFilter(t *testing.T) {
	p := types.NewLogicalPlan()
	left := p.AddNode(&types.OperatorNode{Kind: types.OperatorSource, Output: schema("id"), Source: &types.SourcePayload{LogicalSourceName: "l", OriginID: 1}})
	right := p.AddNode(&types.OperatorNode{Kind: types.OperatorSource, Output: schema("rid"), Source: &types.SourcePayload{LogicalSourceName: "r", OriginID: 2}})
	join := p.AddNode(&types.OperatorNode{
		Kind:   types.OperatorJoin,
		Inputs: []types.Schema{schema("id"), schema("rid")},
		Output: schema("id", "rid"),
		Join:   &types.JoinPayload{LeftKey: "id", RightKey: "rid"},
	})
	p.Connect(join, left)
	p.Connect(join, right)
	filter := p.AddNode(&types.OperatorNode{
		Kind:   types.OperatorFilter,
		Inputs: []types.Schema{schema("id", "rid")},
		Output: schema("id", "rid"),
		Filter: &types.FilterPayload{Predicate: types.BinaryExpr("=", types.FieldRef("id"), types.LiteralExpr(5))},
	})
	p.Connect(filter, join)
	p.Roots = []types.OperatorId{filter}

	out := PushDownFilters(p)

	root := out.Get(out.Roots[0])
	leftChild := out.Get(root.Children[0])
	rightChild := out.Get(root.Children[1])
	require.Equal(t, types.OperatorFilter, leftChild.Kind)
	require.Equal(t, types.OperatorFilter, rightChild.Kind)
	assert.Contains(t, leftChild.Filter.Predicate.Canonical(), "f:id")
	assert.Contains(t, rightChild.Filter.Predicate.Canonical(), "f:rid")
}

func TestPushDownDuplicatesAcrossUnion(t *testing.T) {
	p := types.NewLogicalPlan()
	a := p.AddNode(&types.OperatorNode{Kind: types.OperatorSource, Output: schema("x"), Source: &types.SourcePayload{LogicalSourceName: "a", OriginID: 1}})
	b := p.AddNode(&types.OperatorNode{Kind: types.OperatorSource, Output: schema("x"), Source: &types.SourcePayload{LogicalSourceName: "b", OriginID: 2}})
	union := p.AddNode(&types.OperatorNode{Kind: types.OperatorUnion, Inputs: []types.Schema{schema("x"), schema("x")}, Output: schema("x")})
	p.Connect(union, a)
	p.Connect(union, b)
	filter := p.AddNode(&types.OperatorNode{
		Kind:   types.OperatorFilter,
		Inputs: []types.Schema{schema("x")},
		Output: schema("x"),
		Filter: &types.FilterPayload{Predicate: types.BinaryExpr(">", types.FieldRef("x"), types.LiteralExpr(0))},
	})
	p.Connect(filter, union)
	p.Roots = []types.OperatorId{filter}

	out := PushDownFilters(p)

	root := out.Get(out.Roots[0])
	assert.Equal(t, types.OperatorUnion, root.Kind)
	for _, c := range root.Children {
		assert.Equal(t, types.OperatorFilter, out.Get(c).Kind, "filter must be duplicated into both union branches")
	}
}

func TestPushDownStopsAtSource(t *testing.T) {
	p := types.NewLogicalPlan()
	src := p.AddNode(&types.OperatorNode{Kind: types.OperatorSource, Output: schema("x"), Source: &types.SourcePayload{LogicalSourceName: "s", OriginID: 1}})
	filter := p.AddNode(&types.OperatorNode{
		Kind:   types.OperatorFilter,
		Inputs: []types.Schema{schema("x")},
		Output: schema("x"),
		Filter: &types.FilterPayload{Predicate: types.BinaryExpr(">", types.FieldRef("x"), types.LiteralExpr(0))},
	})
	p.Connect(filter, src)
	p.Roots = []types.OperatorId{filter}

	out := PushDownFilters(p)

	root := out.Get(out.Roots[0])
	assert.Equal(t, types.OperatorFilter, root.Kind, "a filter directly above a source cannot move further")
	assert.Equal(t, types.OperatorSource, out.Get(root.Children[0]).Kind)
}

func buildSourceWatermarkSink(sinkTarget string) *types.LogicalPlan {
	p := types.NewLogicalPlan()
	src := p.AddNode(&types.OperatorNode{
		Kind:   types.OperatorSource,
		Output: schema("ts", "value"),
		Source: &types.SourcePayload{LogicalSourceName: "sensors", OriginID: 1},
	})
	wm := p.AddNode(&types.OperatorNode{
		Kind:      types.OperatorWatermarkAssign,
		Inputs:    []types.Schema{schema("ts", "value")},
		Output:    schema("ts", "value"),
		Watermark: &types.WatermarkPayload{TimeField: "ts"},
	})
	p.Connect(wm, src)
	sink := p.AddNode(&types.OperatorNode{
		Kind:   types.OperatorSink,
		Inputs: []types.Schema{schema("ts", "value")},
		Output: schema("ts", "value"),
		Sink:   &types.SinkPayload{Kind: "print", Target: sinkTarget},
	})
	p.Connect(sink, wm)
	p.Roots = []types.OperatorId{sink}
	return p
}

func TestComputeSignaturesMatchForIdenticalSubtrees(t *testing.T) {
	p1 := buildSourceWatermarkSink("out1")
	p2 := buildSourceWatermarkSink("out1")
	ComputeSignatures(p1)
	ComputeSignatures(p2)

	wm1 := p1.Get(p1.Get(p1.Roots[0]).Children[0])
	wm2 := p2.Get(p2.Get(p2.Roots[0]).Children[0])
	assert.Equal(t, wm1.Signature, wm2.Signature)

	p3 := buildSourceWatermarkSink("out2")
	ComputeSignatures(p3)
	assert.NotEqual(t, p1.Get(p1.Roots[0]).Signature, p3.Get(p3.Roots[0]).Signature, "different sink targets must differ")
}

func TestMergePlansReusesIdenticalSubtree(t *testing.T) {
	host := buildSourceWatermarkSink("out1")
	secondary := buildSourceWatermarkSink("out2")

	merged := MergePlans(host, secondary)

	require.Len(t, merged.Roots, 2, "both sinks must remain reachable as roots")

	var wmIDs []types.OperatorId
	for _, r := range merged.Roots {
		sink := merged.Get(r)
		require.Equal(t, types.OperatorSink, sink.Kind)
		wmIDs = append(wmIDs, sink.Children[0])
	}
	assert.Equal(t, wmIDs[0], wmIDs[1], "the shared watermark-assign subtree must be reused, not duplicated")

	sourceCount := 0
	for _, n := range merged.Nodes {
		if n.Kind == types.OperatorSource {
			sourceCount++
		}
	}
	assert.Equal(t, 1, sourceCount, "the shared source must not be duplicated")
}

func TestMergePlansVetoesIncompatibleWindowGraft(t *testing.T) {
	buildSourceProject := func(sinkTarget string, withWindow bool) *types.LogicalPlan {
		p := types.NewLogicalPlan()
		src := p.AddNode(&types.OperatorNode{
			Kind:   types.OperatorSource,
			Output: schema("ts", "value"),
			Source: &types.SourcePayload{LogicalSourceName: "sensors", OriginID: 1},
		})
		proj := p.AddNode(&types.OperatorNode{
			Kind:    types.OperatorProject,
			Inputs:  []types.Schema{schema("ts", "value")},
			Output:  schema("value"), // drops ts
			Project: &types.ProjectPayload{Fields: []types.ProjectField{{Input: "value", Output: "value"}}},
		})
		p.Connect(proj, src)

		last := proj
		if withWindow {
			win := p.AddNode(&types.OperatorNode{
				Kind:   types.OperatorWindow,
				Inputs: []types.Schema{schema("value")},
				Output: schema("value", "__window_start", "__window_end"),
				Window: &types.WindowDefinition{Kind: types.WindowTumbling, TimeField: "ts"},
			})
			p.Connect(win, proj)
			last = win
		}
		sink := p.AddNode(&types.OperatorNode{
			Kind:   types.OperatorSink,
			Inputs: []types.Schema{p.Get(last).Output},
			Output: p.Get(last).Output,
			Sink:   &types.SinkPayload{Kind: "print", Target: sinkTarget},
		})
		p.Connect(sink, last)
		p.Roots = []types.OperatorId{sink}
		return p
	}

	host := buildSourceProject("plain", false)
	secondary := buildSourceProject("windowed", true)

	merged := MergePlans(host, secondary)

	projectCount, sourceCount := 0, 0
	for _, n := range merged.Nodes {
		switch n.Kind {
		case types.OperatorProject:
			projectCount++
		case types.OperatorSource:
			sourceCount++
		}
	}
	assert.Equal(t, 2, projectCount, "the window's incompatible ancestor must be duplicated, not shared")
	assert.Equal(t, 2, sourceCount)
}

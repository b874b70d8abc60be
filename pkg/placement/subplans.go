package placement

import (
	"fmt"

	"github.com/fluxmesh/fluxmesh/pkg/types"
)

// BuildSubplans splits plan into one subplan per occupied topology node,
// following placements, and inserts a Network Sink/Source pair at every
// edge whose endpoints fall on different nodes (spec.md §4.7 invariant
// (ii)). Each pair shares a single Partition identity so the runtime's
// network exchange (C2) can pair sender and receiver.
func BuildSubplans(plan *types.LogicalPlan, topo *types.Topology, shared types.SharedQueryId, placements map[types.OperatorId]types.TopologyNodeId, subPlanID types.SubPlanId) (*types.GlobalExecutionPlan, error) {
	global := types.NewGlobalExecutionPlan()
	subplans := map[types.TopologyNodeId]*types.LogicalPlan{}
	localID := map[types.TopologyNodeId]map[types.OperatorId]types.OperatorId{}

	subplanFor := func(node types.TopologyNodeId) *types.LogicalPlan {
		sp, ok := subplans[node]
		if !ok {
			sp = types.NewLogicalPlan()
			subplans[node] = sp
			localID[node] = map[types.OperatorId]types.OperatorId{}
		}
		return sp
	}

	var partitionSeq types.PartitionId
	// networkSources[childID][consumerNode] dedupes the wire so multiple
	// local consumers of the same remote operator share one connection.
	networkSources := map[types.OperatorId]map[types.TopologyNodeId]types.OperatorId{}

	for _, id := range childrenFirstOrder(plan) {
		n := plan.Get(id)
		node, ok := placements[id]
		if !ok {
			return nil, fmt.Errorf("operator %d was never placed", id)
		}
		sp := subplanFor(node)

		cp := &types.OperatorNode{
			Kind:      n.Kind,
			Inputs:    append([]types.Schema(nil), n.Inputs...),
			Output:    n.Output.Clone(),
			Filter:    n.Filter,
			Map:       n.Map,
			Project:   n.Project,
			Join:      n.Join,
			Window:    n.Window,
			Watermark: n.Watermark,
			Iterate:   n.Iterate,
			Source:    n.Source,
			Sink:      n.Sink,
			Network:   n.Network,
		}
		newID := sp.AddNode(cp)
		localID[node][id] = newID

		for _, c := range n.Children {
			childNode := placements[c]
			if childNode == node {
				sp.Connect(newID, localID[node][c])
				continue
			}

			if networkSources[c] == nil {
				networkSources[c] = map[types.TopologyNodeId]types.OperatorId{}
			}
			srcLocalID, exists := networkSources[c][node]
			if !exists {
				partitionSeq++
				childSchema := plan.Get(c).Output.Clone()
				part := types.Partition{SubPlanID: subPlanID, OperatorID: c, Index: partitionSeq}

				srcLocalID = sp.AddNode(&types.OperatorNode{
					Kind:    types.OperatorNetworkSource,
					Output:  childSchema.Clone(),
					Network: &types.NetworkPayload{Partition: part, UpstreamAddr: topo.Nodes[childNode].Address},
				})
				networkSources[c][node] = srcLocalID

				childSp := subplanFor(childNode)
				sinkLocalID := childSp.AddNode(&types.OperatorNode{
					Kind:    types.OperatorNetworkSink,
					Inputs:  []types.Schema{childSchema.Clone()},
					Output:  childSchema.Clone(),
					// the sink dials the consumer's Transport to push data;
					// the source only registers the partition locally.
					Network: &types.NetworkPayload{Partition: part, UpstreamAddr: topo.Nodes[node].Address},
				})
				childSp.Connect(sinkLocalID, localID[childNode][c])
				childSp.Roots = append(childSp.Roots, sinkLocalID)
			}
			sp.Connect(newID, srcLocalID)
		}
	}

	for _, rootID := range plan.Roots {
		node, ok := placements[rootID]
		if !ok {
			continue
		}
		subplans[node].Roots = append(subplans[node].Roots, localID[node][rootID])
	}

	for node, sp := range subplans {
		global.PlaceSubplan(node, shared, sp)
	}
	return global, nil
}

package placement

import (
	"fmt"
	"sort"

	"github.com/fluxmesh/fluxmesh/pkg/errs"
	"github.com/fluxmesh/fluxmesh/pkg/types"
)

// neighborFunc returns the topology neighbors to search in one direction
// (Parents for upward walks, Children for downward walks).
type neighborFunc func(*types.TopologyNode) []types.TopologyNodeId

func ancestorsUpward(n *types.TopologyNode) []types.TopologyNodeId   { return n.Parents }
func ancestorsDownward(n *types.TopologyNode) []types.TopologyNodeId { return n.Children }

// Place runs the named strategy and splits the result into per-node
// subplans with Network Source/Sink pairs inserted at every edge that
// crosses a topology node boundary (spec.md §4.7).
func Place(plan *types.LogicalPlan, topo *types.Topology, shared types.SharedQueryId, subPlanID types.SubPlanId, strategy types.PlacementStrategy, sourceNodes map[types.OriginId]types.TopologyNodeId, sinkNodes map[types.OperatorId]types.TopologyNodeId) (*types.GlobalExecutionPlan, error) {
	if !strategy.Implemented() {
		return nil, errs.Validation(fmt.Sprintf("placement strategy %s is not implemented", strategy), nil)
	}

	var placements map[types.OperatorId]types.TopologyNodeId
	var err error
	switch strategy {
	case types.PlacementBottomUp:
		placements, err = BottomUp(plan, topo, sourceNodes)
	case types.PlacementTopDown:
		placements, err = TopDown(plan, topo, sourceNodes, sinkNodes)
	}
	if err != nil {
		return nil, err
	}
	return BuildSubplans(plan, topo, shared, placements, subPlanID)
}

// BottomUp pins every Source to the topology node owning its physical
// origin, then propagates every other operator to the lowest common
// ancestor of its children's placements, walking further up only if
// that node's slot budget is exhausted (spec.md §4.7).
func BottomUp(plan *types.LogicalPlan, topo *types.Topology, sourceNodes map[types.OriginId]types.TopologyNodeId) (map[types.OperatorId]types.TopologyNodeId, error) {
	placements := make(map[types.OperatorId]types.TopologyNodeId, len(plan.Nodes))
	for _, id := range childrenFirstOrder(plan) {
		n := plan.Get(id)
		if n.Kind == types.OperatorSource {
			node, ok := sourceNodes[n.Source.OriginID]
			if !ok {
				return nil, fmt.Errorf("placement: no owning topology node for origin %d", n.Source.OriginID)
			}
			if err := reserveSlot(topo, node); err != nil {
				return nil, fmt.Errorf("placement: source operator %d: %w", id, err)
			}
			placements[id] = node
			continue
		}
		candidate, err := meetPoint(topo, childPlacements(n, placements), ancestorsUpward)
		if err != nil {
			return nil, fmt.Errorf("placement: operator %d: %w", id, err)
		}
		placed, err := nearestAvailable(topo, candidate, ancestorsUpward)
		if err != nil {
			return nil, fmt.Errorf("placement: operator %d: %w", id, err)
		}
		placements[id] = placed
	}
	return placements, nil
}

// TopDown pins every Sink to a caller-chosen sink-capable node and every
// Source to its physical origin's node, then pushes every other
// operator downward to the nearest common descendant of its parents'
// placements, walking further down only as slot budgets permit
// (spec.md §4.7).
func TopDown(plan *types.LogicalPlan, topo *types.Topology, sourceNodes map[types.OriginId]types.TopologyNodeId, sinkNodes map[types.OperatorId]types.TopologyNodeId) (map[types.OperatorId]types.TopologyNodeId, error) {
	placements := make(map[types.OperatorId]types.TopologyNodeId, len(plan.Nodes))
	for _, id := range parentsFirstOrder(plan) {
		n := plan.Get(id)
		switch n.Kind {
		case types.OperatorSource:
			node, ok := sourceNodes[n.Source.OriginID]
			if !ok {
				return nil, fmt.Errorf("placement: no owning topology node for origin %d", n.Source.OriginID)
			}
			if err := reserveSlot(topo, node); err != nil {
				return nil, fmt.Errorf("placement: source operator %d: %w", id, err)
			}
			placements[id] = node
			continue
		case types.OperatorSink:
			node, ok := sinkNodes[id]
			if !ok {
				return nil, fmt.Errorf("placement: no sink-capable node chosen for sink operator %d", id)
			}
			if err := reserveSlot(topo, node); err != nil {
				return nil, fmt.Errorf("placement: sink operator %d: %w", id, err)
			}
			placements[id] = node
			continue
		}
		candidate, err := meetPoint(topo, parentPlacements(n, placements), ancestorsDownward)
		if err != nil {
			return nil, fmt.Errorf("placement: operator %d: %w", id, err)
		}
		placed, err := nearestAvailable(topo, candidate, ancestorsDownward)
		if err != nil {
			return nil, fmt.Errorf("placement: operator %d: %w", id, err)
		}
		placements[id] = placed
	}
	return placements, nil
}

func reserveSlot(topo *types.Topology, id types.TopologyNodeId) error {
	n, ok := topo.Nodes[id]
	if !ok {
		return fmt.Errorf("unknown topology node %d", id)
	}
	if n.Maintenance() {
		return fmt.Errorf("topology node %d is under maintenance", id)
	}
	if n.AvailableSlots() <= 0 {
		return fmt.Errorf("topology node %d has no available slots", id)
	}
	n.UsedSlots++
	return nil
}

// nearestAvailable BFS-walks from start in the given direction, returning
// (and reserving a slot on) the first node it finds with budget left.
func nearestAvailable(topo *types.Topology, start types.TopologyNodeId, neighbors neighborFunc) (types.TopologyNodeId, error) {
	visited := map[types.TopologyNodeId]bool{start: true}
	queue := []types.TopologyNodeId{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if err := reserveSlot(topo, cur); err == nil {
			return cur, nil
		}
		n := topo.Nodes[cur]
		if n == nil {
			continue
		}
		for _, next := range neighbors(n) {
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}
	return types.Invalid, fmt.Errorf("no node with available slot budget reachable from %d", start)
}

// meetPoint finds the node minimizing the maximum distance (in the given
// direction) to every candidate start node — the nearest common
// ancestor (upward) or descendant (downward).
func meetPoint(topo *types.Topology, starts []types.TopologyNodeId, neighbors neighborFunc) (types.TopologyNodeId, error) {
	unique := dedupeNodeIDs(starts)
	if len(unique) == 0 {
		return types.Invalid, fmt.Errorf("no candidate topology nodes")
	}
	if len(unique) == 1 {
		return unique[0], nil
	}

	distMaps := make([]map[types.TopologyNodeId]int, len(unique))
	for i, s := range unique {
		distMaps[i] = distances(topo, s, neighbors)
	}

	best := types.Invalid
	bestScore := -1
	for node, d0 := range distMaps[0] {
		maxD := d0
		ok := true
		for i := 1; i < len(distMaps); i++ {
			d, present := distMaps[i][node]
			if !present {
				ok = false
				break
			}
			if d > maxD {
				maxD = d
			}
		}
		if !ok {
			continue
		}
		if bestScore == -1 || maxD < bestScore {
			bestScore = maxD
			best = node
		}
	}
	if bestScore == -1 {
		return types.Invalid, fmt.Errorf("no common node found among %v", unique)
	}
	return best, nil
}

func distances(topo *types.Topology, start types.TopologyNodeId, neighbors neighborFunc) map[types.TopologyNodeId]int {
	dist := map[types.TopologyNodeId]int{start: 0}
	queue := []types.TopologyNodeId{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		n := topo.Nodes[cur]
		if n == nil {
			continue
		}
		for _, next := range neighbors(n) {
			if _, seen := dist[next]; !seen {
				dist[next] = dist[cur] + 1
				queue = append(queue, next)
			}
		}
	}
	return dist
}

func sortNodeIDs(ids []types.TopologyNodeId) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

func dedupeNodeIDs(ids []types.TopologyNodeId) []types.TopologyNodeId {
	seen := map[types.TopologyNodeId]bool{}
	var out []types.TopologyNodeId
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func childPlacements(n *types.OperatorNode, placements map[types.OperatorId]types.TopologyNodeId) []types.TopologyNodeId {
	out := make([]types.TopologyNodeId, len(n.Children))
	for i, c := range n.Children {
		out[i] = placements[c]
	}
	return out
}

func parentPlacements(n *types.OperatorNode, placements map[types.OperatorId]types.TopologyNodeId) []types.TopologyNodeId {
	out := make([]types.TopologyNodeId, len(n.Parents))
	for i, pid := range n.Parents {
		out[i] = placements[pid]
	}
	return out
}

// childrenFirstOrder returns plan node ids such that every id appears
// after all of its Children, for BottomUp's upward sweep.
func childrenFirstOrder(plan *types.LogicalPlan) []types.OperatorId {
	return topoOrder(plan, func(n *types.OperatorNode) []types.OperatorId { return n.Children })
}

// parentsFirstOrder returns plan node ids such that every id appears
// after all of its Parents, for TopDown's downward sweep.
func parentsFirstOrder(plan *types.LogicalPlan) []types.OperatorId {
	return topoOrder(plan, func(n *types.OperatorNode) []types.OperatorId { return n.Parents })
}

func topoOrder(plan *types.LogicalPlan, deps func(*types.OperatorNode) []types.OperatorId) []types.OperatorId {
	var ids []types.OperatorId
	for id := range plan.Nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var order []types.OperatorId
	visited := map[types.OperatorId]bool{}
	var visit func(types.OperatorId)
	visit = func(id types.OperatorId) {
		if visited[id] {
			return
		}
		visited[id] = true
		for _, d := range deps(plan.Get(id)) {
			visit(d)
		}
		order = append(order, id)
	}
	for _, id := range ids {
		visit(id)
	}
	return order
}

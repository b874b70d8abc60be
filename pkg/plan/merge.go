package plan

import (
	"sort"

	"github.com/fluxmesh/fluxmesh/pkg/types"
)

// MergePlans implements the signature-based containment/equality merger
// of spec.md §4.6. It walks secondary's operators bottom-up (sources
// toward roots); any subtree whose signature exactly matches one already
// in host is reused entirely rather than duplicated (equality). A node
// with no exact match is grafted as a new branch hanging off its
// already-resolved (shared or freshly copied) children instead — the
// contained side, per spec.md, grafted onto the container rather than
// merged point-for-point further up. Union and Join nodes are only ever
// merged on exact signature equality, never containment, to preserve
// their branch structure. Callers are expected to have already verified
// host and secondary share a source set and placement strategy.
func MergePlans(host, secondary *types.LogicalPlan) *types.LogicalPlan {
	merged := host.Clone()
	ComputeSignatures(merged)

	sec := secondary.Clone()
	ComputeSignatures(sec)

	bySignature := make(map[string]types.OperatorId, len(merged.Nodes))
	for id, n := range merged.Nodes {
		bySignature[n.Signature] = id
	}

	remap := make(map[types.OperatorId]types.OperatorId, len(sec.Nodes))

	roots := append([]types.OperatorId(nil), sec.Roots...)
	sort.Slice(roots, func(i, j int) bool { return roots[i] < roots[j] })

	for _, rootID := range roots {
		hostID := graft(merged, sec, rootID, bySignature, remap)
		if !isExistingRoot(merged, hostID) {
			merged.Roots = append(merged.Roots, hostID)
		}
	}
	return merged
}

func isExistingRoot(p *types.LogicalPlan, id types.OperatorId) bool {
	for _, r := range p.Roots {
		if r == id {
			return true
		}
	}
	return false
}

// graft resolves a secondary node to its place in merged, recursing into
// children first so the "walk sources upward" comparison always has
// fully-resolved children to compare against.
func graft(merged, sec *types.LogicalPlan, id types.OperatorId, bySignature map[string]types.OperatorId, remap map[types.OperatorId]types.OperatorId) types.OperatorId {
	if hostID, ok := remap[id]; ok {
		return hostID
	}
	node := sec.Get(id)

	childHostIDs := make([]types.OperatorId, len(node.Children))
	for i, c := range node.Children {
		childHostIDs[i] = graft(merged, sec, c, bySignature, remap)
	}

	// Equality: the whole subtree (by content) already exists in host.
	if hostID, ok := bySignature[node.Signature]; ok {
		remap[id] = hostID
		return hostID
	}

	// Containment compatibility check named by spec.md §4.6: a window
	// being grafted onto a shared ancestor must still find its time field
	// there. If not, fall back to importing its own subtree unshared
	// rather than grafting onto an ancestor that has dropped the field.
	if node.Kind == types.OperatorWindow && node.Window != nil && len(childHostIDs) == 1 {
		if !windowCompatible(node.Window, merged.Get(childHostIDs[0])) {
			fresh := make(map[types.OperatorId]types.OperatorId)
			childHostIDs[0] = importSubtree(merged, sec, node.Children[0], fresh)
		}
	}

	return copyNode(merged, node, childHostIDs, bySignature, remap)
}

func windowCompatible(def *types.WindowDefinition, ancestor *types.OperatorNode) bool {
	return ancestor.Output.Contains(def.TimeField)
}

// copyNode adds a new node to merged carrying src's payload, wired to
// childHostIDs, and registers it for future equality/containment checks.
func copyNode(merged *types.LogicalPlan, src *types.OperatorNode, childHostIDs []types.OperatorId, bySignature map[string]types.OperatorId, remap map[types.OperatorId]types.OperatorId) types.OperatorId {
	cp := *src
	cp.Children = append([]types.OperatorId(nil), childHostIDs...)
	cp.Parents = nil
	cp.Output = src.Output.Clone()
	cp.Inputs = append([]types.Schema(nil), src.Inputs...)
	id := merged.AddNode(&cp)
	for _, c := range childHostIDs {
		addParentRef(merged, c, id)
	}
	bySignature[src.Signature] = id
	remap[src.ID] = id
	return id
}

// importSubtree deep-copies a secondary subtree into merged verbatim,
// with fresh ids throughout and no attempt at sharing, used when a
// containment graft is vetoed by windowCompatible.
func importSubtree(merged, sec *types.LogicalPlan, id types.OperatorId, imported map[types.OperatorId]types.OperatorId) types.OperatorId {
	if hostID, ok := imported[id]; ok {
		return hostID
	}
	node := sec.Get(id)
	children := make([]types.OperatorId, len(node.Children))
	for i, c := range node.Children {
		children[i] = importSubtree(merged, sec, c, imported)
	}
	cp := *node
	cp.Children = children
	cp.Parents = nil
	cp.Output = node.Output.Clone()
	cp.Inputs = append([]types.Schema(nil), node.Inputs...)
	newID := merged.AddNode(&cp)
	for _, c := range children {
		addParentRef(merged, c, newID)
	}
	imported[id] = newID
	return newID
}

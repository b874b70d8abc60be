package plan

import (
	"sort"

	"github.com/fluxmesh/fluxmesh/pkg/types"
)

// PushDownFilters returns a copy of p with every Filter operator pushed as
// far toward the sources as it commutes, per spec.md §4.6. The input plan
// is left untouched.
func PushDownFilters(p *types.LogicalPlan) *types.LogicalPlan {
	out := p.Clone()
	for _, id := range filterNodeIDs(out) {
		pushFilterDown(out, id)
	}
	return out
}

func filterNodeIDs(p *types.LogicalPlan) []types.OperatorId {
	var ids []types.OperatorId
	for id, n := range p.Nodes {
		if n.Kind == types.OperatorFilter {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// pushFilterDown removes the Filter node at id from the plan, pushing its
// predicate below its former child for as long as it commutes, then
// splicing the result in place of the removed node.
func pushFilterDown(p *types.LogicalPlan, filterID types.OperatorId) {
	f := p.Get(filterID)
	if f == nil || len(f.Children) != 1 {
		return
	}
	origChild := f.Children[0]
	removeParentRef(p, origChild, filterID)

	replacement := insertFilterBelow(p, f.Filter.Predicate, origChild)

	parents := append([]types.OperatorId(nil), f.Parents...)
	for _, parentID := range parents {
		parent := p.Get(parentID)
		for i, c := range parent.Children {
			if c == filterID {
				parent.Children[i] = replacement
			}
		}
	}
	if len(parents) > 0 {
		addParentRef(p, replacement, parents...)
	}
	for i, r := range p.Roots {
		if r == filterID {
			p.Roots[i] = replacement
		}
	}
	delete(p.Nodes, filterID)
}

// insertFilterBelow tries to move predicate below target, one operator at
// a time, rewriting it as required by each operator it commutes with.
// Reinserting in place (target unchanged, only its child pointer(s)
// rewired) preserves both arity and child order automatically, since the
// branch index being replaced never changes.
func insertFilterBelow(p *types.LogicalPlan, predicate *types.Expr, target types.OperatorId) types.OperatorId {
	node := p.Get(target)
	switch node.Kind {
	case types.OperatorProject:
		renamed := renameThroughProject(predicate, node.Project)
		newChild := insertFilterBelow(p, renamed, node.Children[0])
		relinkChild(p, target, 0, newChild)
		return target

	case types.OperatorMap:
		rewritten := predicate
		if contains(predicate.ReferencedFields(), node.Map.TargetField) {
			rewritten = predicate.Substitute(node.Map.TargetField, node.Map.Assignment)
		}
		newChild := insertFilterBelow(p, rewritten, node.Children[0])
		relinkChild(p, target, 0, newChild)
		return target

	case types.OperatorJoin:
		return pushBelowJoin(p, predicate, target, node)

	case types.OperatorUnion:
		return pushBelowUnion(p, predicate, target, node)

	case types.OperatorWindow:
		if node.Window != nil && allGroupingKeys(predicate, node.Window) {
			newChild := insertFilterBelow(p, predicate, node.Children[0])
			relinkChild(p, target, 0, newChild)
			return target
		}

	case types.OperatorWatermarkAssign:
		newChild := insertFilterBelow(p, predicate, node.Children[0])
		relinkChild(p, target, 0, newChild)
		return target
	}

	// Source, sink, iterate, network, or an incompatible window: stop and
	// insert here.
	return newFilterNode(p, predicate, target)
}

func renameThroughProject(predicate *types.Expr, proj *types.ProjectPayload) *types.Expr {
	renames := make(map[string]string, len(proj.Fields))
	for _, f := range proj.Fields {
		renames[f.Output] = f.Input
	}
	return predicate.RenameFields(renames)
}

func pushBelowJoin(p *types.LogicalPlan, predicate *types.Expr, target types.OperatorId, node *types.OperatorNode) types.OperatorId {
	fields := predicate.ReferencedFields()
	switch {
	case isJoinKeyFilter(fields, node.Join):
		leftPred := predicate.RenameFields(map[string]string{node.Join.RightKey: node.Join.LeftKey})
		rightPred := predicate.RenameFields(map[string]string{node.Join.LeftKey: node.Join.RightKey})
		newLeft := insertFilterBelow(p, leftPred, node.Children[0])
		newRight := insertFilterBelow(p, rightPred, node.Children[1])
		relinkChild(p, target, 0, newLeft)
		relinkChild(p, target, 1, newRight)
		return target

	case allIn(fields, node.Inputs[0]):
		newLeft := insertFilterBelow(p, predicate, node.Children[0])
		relinkChild(p, target, 0, newLeft)
		return target

	case allIn(fields, node.Inputs[1]):
		newRight := insertFilterBelow(p, predicate, node.Children[1])
		relinkChild(p, target, 1, newRight)
		return target
	}
	return newFilterNode(p, predicate, target)
}

func pushBelowUnion(p *types.LogicalPlan, predicate *types.Expr, target types.OperatorId, node *types.OperatorNode) types.OperatorId {
	newLeft := insertFilterBelow(p, predicate, node.Children[0])
	newRight := insertFilterBelow(p, predicate.Clone(), node.Children[1])
	relinkChild(p, target, 0, newLeft)
	relinkChild(p, target, 1, newRight)
	return target
}

func isJoinKeyFilter(fields []string, j *types.JoinPayload) bool {
	return len(fields) == 1 && (fields[0] == j.LeftKey || fields[0] == j.RightKey)
}

func allGroupingKeys(predicate *types.Expr, def *types.WindowDefinition) bool {
	keys := make(map[string]bool, len(def.Keys))
	for _, k := range def.Keys {
		keys[k] = true
	}
	for _, f := range predicate.ReferencedFields() {
		if !keys[f] {
			return false
		}
	}
	return true
}

func allIn(fields []string, schema types.Schema) bool {
	for _, f := range fields {
		if !schema.Contains(f) {
			return false
		}
	}
	return true
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

func newFilterNode(p *types.LogicalPlan, predicate *types.Expr, child types.OperatorId) types.OperatorId {
	cn := p.Get(child)
	id := p.AddNode(&types.OperatorNode{
		Kind:     types.OperatorFilter,
		Inputs:   []types.Schema{cn.Output.Clone()},
		Output:   cn.Output.Clone(),
		Children: []types.OperatorId{child},
		Filter:   &types.FilterPayload{Predicate: predicate},
	})
	addParentRef(p, child, id)
	return id
}

func relinkChild(p *types.LogicalPlan, parent types.OperatorId, branch int, newChild types.OperatorId) {
	pn := p.Get(parent)
	old := pn.Children[branch]
	pn.Children[branch] = newChild
	if old != newChild {
		removeParentRef(p, old, parent)
	}
	addParentRef(p, newChild, parent)
}

func removeParentRef(p *types.LogicalPlan, child, parent types.OperatorId) {
	n := p.Get(child)
	if n == nil {
		return
	}
	out := n.Parents[:0]
	for _, pid := range n.Parents {
		if pid != parent {
			out = append(out, pid)
		}
	}
	n.Parents = out
}

func addParentRef(p *types.LogicalPlan, child types.OperatorId, parents ...types.OperatorId) {
	n := p.Get(child)
	if n == nil {
		return
	}
	n.Parents = append(n.Parents, parents...)
}

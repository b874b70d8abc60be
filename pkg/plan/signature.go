package plan

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/fluxmesh/fluxmesh/pkg/types"
)

// ComputeSignatures assigns every node in p a canonical signature string
// (spec.md §4.6: "a canonical expression over inputs"), computed
// bottom-up so that two structurally and semantically identical subtrees
// always get the same signature regardless of operator id, which is what
// lets MergePlans detect equality/containment by string comparison alone.
func ComputeSignatures(p *types.LogicalPlan) {
	memo := make(map[types.OperatorId]string, len(p.Nodes))
	var sig func(types.OperatorId) string
	sig = func(id types.OperatorId) string {
		if s, ok := memo[id]; ok {
			return s
		}
		n := p.Get(id)
		childSigs := make([]string, len(n.Children))
		for i, c := range n.Children {
			childSigs[i] = sig(c)
		}
		s := fmt.Sprintf("%s[%s]<-(%s)", n.Kind, payloadSignature(n), strings.Join(childSigs, ","))
		memo[id] = s
		n.Signature = s
		return s
	}
	for id := range p.Nodes {
		sig(id)
	}
}

func payloadSignature(n *types.OperatorNode) string {
	switch n.Kind {
	case types.OperatorSource:
		return fmt.Sprintf("src:%s#%d", n.Source.LogicalSourceName, n.Source.OriginID)
	case types.OperatorFilter:
		return n.Filter.Predicate.Canonical()
	case types.OperatorMap:
		return n.Map.TargetField + "=" + n.Map.Assignment.Canonical()
	case types.OperatorProject:
		parts := make([]string, len(n.Project.Fields))
		for i, f := range n.Project.Fields {
			parts[i] = f.Input + "->" + f.Output
		}
		return strings.Join(parts, ",")
	case types.OperatorJoin:
		return fmt.Sprintf("%s=%s|%s|%s|p%d", n.Join.LeftKey, n.Join.RightKey,
			windowSignature(&n.Join.Window), n.Join.Variant, n.Join.Partitions)
	case types.OperatorWindow:
		return windowSignature(n.Window)
	case types.OperatorWatermarkAssign:
		return fmt.Sprintf("%s~%s", n.Watermark.TimeField, n.Watermark.AllowedLateness)
	case types.OperatorIterate:
		return fmt.Sprintf("[%d,%d]|%s", n.Iterate.MinTimes, n.Iterate.MaxTimes, windowSignature(&n.Iterate.Window))
	case types.OperatorSink:
		return n.Sink.Kind + ":" + n.Sink.Target
	case types.OperatorNetworkSource, types.OperatorNetworkSink:
		return fmt.Sprintf("part(%d,%d,%d)", n.Network.Partition.SubPlanID, n.Network.Partition.OperatorID, n.Network.Partition.Index)
	case types.OperatorUnion:
		return "union"
	default:
		return string(n.Kind)
	}
}

func windowSignature(def *types.WindowDefinition) string {
	if def == nil {
		return "-"
	}
	keys := append([]string(nil), def.Keys...)
	sort.Strings(keys)
	return fmt.Sprintf("%s/%s/%s/%s/%s@%s", def.Kind, def.Size, def.Slide, def.TimeField,
		strings.Join(keys, "+"), strconv.FormatInt(int64(def.AllowedLateness), 10))
}

// Package ids provides the monotonic 64-bit identifier generators used
// throughout FluxMesh for QueryId, SharedQueryId, SubPlanId, PipelineId,
// OperatorId, OriginId, TopologyNodeId, and PartitionId (spec.md §3).
// Each kind has its own counter, scoped to a single catalog instance.
package ids

import "sync/atomic"

// Invalid is the sentinel value reserved for "no id assigned".
const Invalid uint64 = 0

// Generator hands out monotonically increasing uint64 identifiers
// starting at 1. The zero value is ready to use.
type Generator struct {
	next atomic.Uint64
}

// Next returns the next identifier, skipping the Invalid sentinel.
func (g *Generator) Next() uint64 {
	return g.next.Add(1)
}

// Peek returns the last identifier handed out, or Invalid if none yet.
func (g *Generator) Peek() uint64 {
	return g.next.Load()
}

// Reset rewinds the counter; only used by tests.
func (g *Generator) Reset() {
	g.next.Store(0)
}

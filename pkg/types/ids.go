// Package types defines the core data model shared by every FluxMesh
// component: identifiers, schemas, the logical plan arena, the topology
// graph, and the wire-level tuple buffer header (spec.md §3).
//
// Following the design note in spec.md §9 ("cyclic shared-pointer graphs
// -> arena + stable ids"), the logical plan is represented as an arena of
// OperatorNode values addressed by OperatorId; there are no parent/child
// pointers, only id lists, so the graph can be serialized trivially and
// carries no ownership cycles.
package types

// QueryId, SharedQueryId, SubPlanId, PipelineId, OperatorId, OriginId,
// TopologyNodeId and PartitionId are opaque 64-bit identifiers generated
// by monotonic, catalog-local counters (spec.md §3).
type (
	QueryId        uint64
	SharedQueryId  uint64
	SubPlanId      uint64
	PipelineId     uint64
	OperatorId     uint64
	OriginId       uint64
	TopologyNodeId uint64
	PartitionId    uint64
)

// Invalid is the sentinel reserved value for every id kind above.
const Invalid = 0

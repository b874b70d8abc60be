package types

import "time"

// OperatorKind tags the variant of an OperatorNode, replacing the deep
// kernel inheritance hierarchy of the original implementation with a
// flat tagged-variant type (spec.md §9).
type OperatorKind string

const (
	OperatorSource          OperatorKind = "source"
	OperatorFilter          OperatorKind = "filter"
	OperatorMap             OperatorKind = "map"
	OperatorProject         OperatorKind = "project"
	OperatorUnion           OperatorKind = "union"
	OperatorJoin            OperatorKind = "join"
	OperatorWindow          OperatorKind = "window"
	OperatorWatermarkAssign OperatorKind = "watermark_assign"
	OperatorIterate         OperatorKind = "iterate"
	OperatorSink            OperatorKind = "sink"
	OperatorNetworkSource   OperatorKind = "network_source"
	OperatorNetworkSink     OperatorKind = "network_sink"
)

// WindowKind is the time-window policy used by Window and Join operators.
type WindowKind string

const (
	WindowTumbling  WindowKind = "tumbling"
	WindowSliding   WindowKind = "sliding"
	WindowThreshold WindowKind = "threshold"
)

// WindowDefinition describes a time-based window over an event-time field.
type WindowDefinition struct {
	Kind            WindowKind
	Size            time.Duration
	Slide           time.Duration // equal to Size for tumbling windows
	TimeField       string        // the watermark-carrying field the assignment key uses
	Keys            []string      // grouping keys ("byKey")
	AllowedLateness time.Duration
}

// FilterPayload is the operator-specific data for a Filter node.
type FilterPayload struct {
	Predicate *Expr
}

// MapPayload is the operator-specific data for a Map node.
type MapPayload struct {
	TargetField string
	Assignment  *Expr
}

// ProjectField is one entry of a Project node's rename/reorder list.
type ProjectField struct {
	Input  string
	Output string
}

// ProjectPayload is the operator-specific data for a Project node.
type ProjectPayload struct {
	Fields []ProjectField
}

// JoinVariant selects between the two Stream Join Engine implementations
// of spec.md §4.5.
type JoinVariant string

const (
	JoinNestedLoop        JoinVariant = "nested_loop"
	JoinHashPartitioned    JoinVariant = "hash_partitioned"
)

// JoinPayload is the operator-specific data for a Join node. Children[0]
// is the left branch, Children[1] the right branch (spec.md §3 invariant
// (iii): binary operators have an ordered pair of child branches).
type JoinPayload struct {
	LeftKey    string
	RightKey   string
	Window     WindowDefinition
	Variant    JoinVariant
	Partitions int // only meaningful for JoinHashPartitioned
}

// WatermarkPayload is the operator-specific data for a WatermarkAssign node.
type WatermarkPayload struct {
	TimeField       string
	AllowedLateness time.Duration
}

// SourcePayload names the logical source a Source node reads from. The
// physical source adapters themselves (CSV/Arrow/Kafka/MQTT/OPC) are an
// out-of-scope collaborator (spec.md §1).
type SourcePayload struct {
	LogicalSourceName string
	OriginID          OriginId
}

// SinkPayload names the sink a Sink node writes to.
type SinkPayload struct {
	Kind   string // "print", "file", "network", ...
	Target string
}

// IteratePayload is the operator-specific data for the supplemented
// Iterate/pattern kernel (SPEC_FULL.md §3, grounded on the original CEP
// plan creator's `times(min,max)` operator).
type IteratePayload struct {
	MinTimes int
	MaxTimes int
	Window   WindowDefinition
}

// NetworkPayload carries the partition identity for Network Source/Sink
// pairs introduced by placement when an edge crosses a worker boundary
// (spec.md §4.7 invariant (ii)).
type NetworkPayload struct {
	Partition Partition
	// UpstreamAddr is the peer address for this operator's Transport
	// dial: the producer's address on a NetworkSource (informational —
	// the source only registers the partition on its own local Transport)
	// and the consumer's address on a NetworkSink, which dials it with a
	// Sender to push data.
	UpstreamAddr string
}

// Partition identifies a network channel by (subplan id, operator id,
// partition index), per the GLOSSARY.
type Partition struct {
	SubPlanID  SubPlanId
	OperatorID OperatorId
	Index      PartitionId
}

// OperatorNode is one node of the logical plan arena, addressed by its
// OperatorID from the owning LogicalPlan. Parent/child relationships are
// lists of ids, not pointers, so the graph has no ownership cycles and
// serializes directly (spec.md §9).
type OperatorNode struct {
	ID     OperatorId
	Kind   OperatorKind
	Inputs []Schema // one entry per child branch
	Output Schema

	Children []OperatorId // ordered; binary ops keep branch order stable
	Parents  []OperatorId

	Filter    *FilterPayload
	Map       *MapPayload
	Project   *ProjectPayload
	Join      *JoinPayload
	Window    *WindowDefinition
	Watermark *WatermarkPayload
	Iterate   *IteratePayload
	Source    *SourcePayload
	Sink      *SinkPayload
	Network   *NetworkPayload

	// Signature is the canonical expression used by the merger
	// (spec.md §4.6) to detect equality/containment between plans.
	Signature string
}

// IsBinary reports whether the node takes an ordered pair of branches.
func (n *OperatorNode) IsBinary() bool {
	return n.Kind == OperatorJoin || n.Kind == OperatorUnion
}

// LogicalPlan is a DAG of OperatorNode values held in an arena and
// addressed by stable ids (spec.md §3). Roots are sinks, leaves are
// sources; multiple parents are allowed.
type LogicalPlan struct {
	Nodes map[OperatorId]*OperatorNode
	Roots []OperatorId
	next  OperatorId
}

// NewLogicalPlan returns an empty plan arena.
func NewLogicalPlan() *LogicalPlan {
	return &LogicalPlan{Nodes: make(map[OperatorId]*OperatorNode)}
}

// AddNode inserts a node, assigning it a fresh id, and returns that id.
func (p *LogicalPlan) AddNode(n *OperatorNode) OperatorId {
	p.next++
	n.ID = p.next
	p.Nodes[n.ID] = n
	return n.ID
}

// Get returns the node for id, or nil.
func (p *LogicalPlan) Get(id OperatorId) *OperatorNode {
	return p.Nodes[id]
}

// Connect records that child is an input of parent, in branch order.
func (p *LogicalPlan) Connect(parent, child OperatorId) {
	c := p.Nodes[child]
	pn := p.Nodes[parent]
	pn.Children = append(pn.Children, child)
	c.Parents = append(c.Parents, parent)
}

// Leaves returns all Source nodes in the plan.
func (p *LogicalPlan) Leaves() []OperatorId {
	var out []OperatorId
	for id, n := range p.Nodes {
		if n.Kind == OperatorSource {
			out = append(out, id)
		}
	}
	return out
}

// Clone returns a deep copy of the plan, used by rewrite rules that
// must not mutate the input plan in place.
func (p *LogicalPlan) Clone() *LogicalPlan {
	out := &LogicalPlan{Nodes: make(map[OperatorId]*OperatorNode, len(p.Nodes)), next: p.next}
	for id, n := range p.Nodes {
		cp := *n
		cp.Children = append([]OperatorId(nil), n.Children...)
		cp.Parents = append([]OperatorId(nil), n.Parents...)
		cp.Inputs = append([]Schema(nil), n.Inputs...)
		cp.Output = n.Output.Clone()
		out.Nodes[id] = &cp
	}
	out.Roots = append([]OperatorId(nil), p.Roots...)
	return out
}

// SharedPlanStatus is the lifecycle status of a SharedQueryPlan (spec.md §3).
type SharedPlanStatus string

const (
	SharedPlanCreated  SharedPlanStatus = "created"
	SharedPlanDeployed SharedPlanStatus = "deployed"
	SharedPlanUpdated  SharedPlanStatus = "updated"
	SharedPlanStopped  SharedPlanStatus = "stopped"
	SharedPlanFailed   SharedPlanStatus = "failed"
)

// ChangeKind tags one entry of a shared plan's change-log.
type ChangeKind string

const (
	ChangeAdded   ChangeKind = "added"
	ChangeRemoved ChangeKind = "removed"
)

// ChangeLogEntry records one addition/removal since the last deployment.
type ChangeLogEntry struct {
	Kind      ChangeKind
	QueryID   QueryId
	Timestamp time.Time
}

// SharedQueryPlan is a logical plan representing the union of several
// user queries after containment merging (spec.md §3).
type SharedQueryPlan struct {
	ID                  SharedQueryId
	Plan                *LogicalPlan
	ContributingQueries map[QueryId]struct{}
	Strategy            PlacementStrategy
	ChangeLog           []ChangeLogEntry
	Status              SharedPlanStatus
}

// ExecutionNode holds, for one topology node, the subplans of every
// shared plan placed there (spec.md §3).
type ExecutionNode struct {
	TopologyNodeID TopologyNodeId
	Subplans       map[SharedQueryId]*LogicalPlan
}

// GlobalExecutionPlan maps topology nodes to their execution nodes.
// Invariant: for any shared plan, the union of its placed subplans
// reconstructs the shared plan's operator set exactly once (spec.md §3).
type GlobalExecutionPlan struct {
	Nodes map[TopologyNodeId]*ExecutionNode
}

// NewGlobalExecutionPlan returns an empty global execution plan.
func NewGlobalExecutionPlan() *GlobalExecutionPlan {
	return &GlobalExecutionPlan{Nodes: make(map[TopologyNodeId]*ExecutionNode)}
}

// PlaceSubplan records that subplan belongs on the given topology node for
// the given shared plan, creating the ExecutionNode entry if needed.
func (g *GlobalExecutionPlan) PlaceSubplan(node TopologyNodeId, shared SharedQueryId, subplan *LogicalPlan) {
	en, ok := g.Nodes[node]
	if !ok {
		en = &ExecutionNode{TopologyNodeID: node, Subplans: make(map[SharedQueryId]*LogicalPlan)}
		g.Nodes[node] = en
	}
	en.Subplans[shared] = subplan
}

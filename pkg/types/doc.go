/*
Package types defines FluxMesh's core data model: identifiers, schemas,
the logical plan arena, the topology graph, and the tuple buffer header.
Every other package builds on these types rather than defining its own.

# Arena, not pointers

The logical plan (LogicalPlan, OperatorNode) is an arena addressed by
OperatorId: nodes reference their parents/children by id, never by
pointer. This removes the ownership cycles the original plan graph had
(operators pointing at children, plans pointing at sink operators) and
makes the plan trivially serializable for the deployment RPC (pkg/rpc).

# Enums

Placement strategy, fault tolerance, and lineage mode are typed string
enums validated against the exact names spec.md §6 requires, so that
rejecting an unknown value produces the wording scenario S6 checks for.

# See also

  - pkg/plan for the rewrite/merger operations over LogicalPlan
  - pkg/placement for GlobalExecutionPlan construction
  - pkg/buffer for the runtime tuple buffer built on BufferHeader
*/
package types

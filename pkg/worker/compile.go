// Package worker turns a placed subplan (a *types.LogicalPlan handed to
// a worker by the coordinator's C7 deployment step) into a running
// chain of C3 operator kernels wired through the C1 buffer pool, the
// C5 join engine, and the C2 network exchange. Nothing upstream of this
// package knows how a LogicalPlan actually executes; everything
// downstream of it (pkg/operators, pkg/join, pkg/network, pkg/runtime)
// only knows how to run one kernel or move one buffer. compile.go is
// the seam between the two.
package worker

import (
	"fmt"
	"os"

	"github.com/fluxmesh/fluxmesh/pkg/buffer"
	"github.com/fluxmesh/fluxmesh/pkg/errs"
	"github.com/fluxmesh/fluxmesh/pkg/join"
	"github.com/fluxmesh/fluxmesh/pkg/operators"
	"github.com/fluxmesh/fluxmesh/pkg/types"
)

// defaultJoinTimeField is the event-time column a join's implicit
// per-branch windowing falls back to when the query text left the
// join's window call without one (spec.md §8's joinWith(...).window(...)
// form takes no EventTime(field) argument, unlike a standalone
// window(...) call). Every scenario source schema in spec.md §8 names
// its event-time column "ts", so that is the fallback; a join over a
// branch without a "ts" column must specify TimeField explicitly by
// pre-pending its own .window(...) call before joinWith.
const defaultJoinTimeField = "ts"

// SourceBinding is a physical Source leaf: the logical/physical source
// it reads and the stage its rows feed into once a Source Adapter (an
// external collaborator, spec.md §1 Non-goals) pushes data. Compile
// wires the downstream chain but never attaches a live producer.
type SourceBinding struct {
	OperatorID types.OperatorId
	LogicalSourceName string
	OriginID   types.OriginId
	Downstream operators.PipelineStage
}

// NetworkSourceBinding is a Network Source leaf fed by a partition
// registered on this worker's network.Transport.
type NetworkSourceBinding struct {
	OperatorID types.OperatorId
	Partition  types.Partition
	Schema     types.Schema
	Downstream operators.PipelineStage
}

// NetworkSinkBinding is a Network Sink whose Sender is dialed lazily at
// Start, once the worker is actually running (Compile only builds the
// placeholder that Start binds).
type NetworkSinkBinding struct {
	OperatorID types.OperatorId
	Partition  types.Partition
	Addr       string
	Placeholder *lazyNetworkSink
}

// SinkFile is an opened file handle backing a "file" sink, closed when
// the subplan stops.
type SinkFile struct {
	OperatorID types.OperatorId
	File       *os.File
}

// Compiled is the result of compiling one subplan: every leaf binding an
// Executor needs to drive data in, plus the closers it must run on stop.
type Compiled struct {
	Roots          []types.OperatorId
	Sources        []SourceBinding
	NetworkSources []NetworkSourceBinding
	NetworkSinks   []NetworkSinkBinding
	Files          []SinkFile

	// PipelineCount and SinkCount feed the EOS token formula of spec.md
	// §4.3 ("1 + |sources| + |pipelines| + |sinks|"). SinkCount includes
	// Network Sinks as well as print and file sinks.
	PipelineCount int
	SinkCount     int
}

// compiler carries the state threaded through one Compile call.
type compiler struct {
	plan    *types.LogicalPlan
	pool    *buffer.Pool
	result  *Compiled
	visited map[types.OperatorId]bool
}

// Compile builds the operator chain for every root of plan, bottom-up
// from each root toward its leaves (a node's stage is built before its
// children's, since a child's stage needs its parent's stage as the
// value it forwards rows to).
func Compile(plan *types.LogicalPlan, pool *buffer.Pool) (*Compiled, error) {
	c := &compiler{
		plan:    plan,
		pool:    pool,
		result:  &Compiled{Roots: append([]types.OperatorId(nil), plan.Roots...)},
		visited: map[types.OperatorId]bool{},
	}
	for _, root := range plan.Roots {
		if err := c.compile(root, nil); err != nil {
			return nil, err
		}
	}
	return c.result, nil
}

// compile builds id's stage (if it has one) using downstream as the
// stage it forwards to, then recurses into id's children so each gets
// its parent's stage (or an implicit wrapper of it) as its own
// downstream. Leaves (Source, NetworkSource) have no children and
// instead register a binding for the Executor to feed from the outside.
func (c *compiler) compile(id types.OperatorId, downstream operators.PipelineStage) error {
	if c.visited[id] {
		return nil
	}
	c.visited[id] = true
	n := c.plan.Get(id)
	if n == nil {
		return errs.Validation(fmt.Sprintf("worker: dangling operator id %d", id), nil)
	}

	switch n.Kind {
	case types.OperatorSource:
		if n.Source == nil {
			return errs.Validation(fmt.Sprintf("worker: source node %d missing payload", id), nil)
		}
		c.result.Sources = append(c.result.Sources, SourceBinding{
			OperatorID:        id,
			LogicalSourceName: n.Source.LogicalSourceName,
			OriginID:          n.Source.OriginID,
			Downstream:        downstream,
		})
		return nil

	case types.OperatorNetworkSource:
		if n.Network == nil {
			return errs.Validation(fmt.Sprintf("worker: network source node %d missing payload", id), nil)
		}
		c.result.NetworkSources = append(c.result.NetworkSources, NetworkSourceBinding{
			OperatorID: id,
			Partition:  n.Network.Partition,
			Schema:     n.Output,
			Downstream: downstream,
		})
		return nil

	case types.OperatorFilter:
		stage := operators.NewFilter(n.Inputs[0], n.Filter.Predicate, c.pool, downstream)
		c.result.PipelineCount++
		return c.compileChildren(n, stage)

	case types.OperatorProject:
		stage := operators.NewProject(n.Inputs[0], n.Output, n.Project.Fields, c.pool, downstream)
		c.result.PipelineCount++
		return c.compileChildren(n, stage)

	case types.OperatorMap:
		stage := operators.NewMap(n.Inputs[0], n.Output, n.Map.TargetField, n.Map.Assignment, c.pool, downstream)
		c.result.PipelineCount++
		return c.compileChildren(n, stage)

	case types.OperatorWindow:
		stage := operators.NewWindow(n.Inputs[0], *n.Window, c.pool, downstream)
		c.result.PipelineCount++
		return c.compileChildren(n, stage)

	case types.OperatorWatermarkAssign:
		stage := operators.NewWatermarkAssign(n.Inputs[0], n.Watermark.TimeField, n.Watermark.AllowedLateness, downstream)
		c.result.PipelineCount++
		return c.compileChildren(n, stage)

	case types.OperatorIterate:
		stage := operators.NewIterate(n.Inputs[0], *n.Iterate, c.pool, downstream)
		c.result.PipelineCount++
		return c.compileChildren(n, stage)

	case types.OperatorUnion:
		if len(n.Children) != 2 {
			return errs.Validation(fmt.Sprintf("worker: union node %d must have exactly 2 children", id), nil)
		}
		left := operators.NewUnionBranch("left", downstream)
		right := operators.NewUnionBranch("right", downstream)
		c.result.PipelineCount += 2
		if err := c.compile(n.Children[0], left); err != nil {
			return err
		}
		return c.compile(n.Children[1], right)

	case types.OperatorJoin:
		return c.compileJoin(n, downstream)

	case types.OperatorSink:
		return c.compileSink(n, downstream)

	case types.OperatorNetworkSink:
		if n.Network == nil {
			return errs.Validation(fmt.Sprintf("worker: network sink node %d missing payload", id), nil)
		}
		placeholder := &lazyNetworkSink{}
		c.result.NetworkSinks = append(c.result.NetworkSinks, NetworkSinkBinding{
			OperatorID:  id,
			Partition:   n.Network.Partition,
			Addr:        n.Network.UpstreamAddr,
			Placeholder: placeholder,
		})
		c.result.SinkCount++
		return c.compileChildren(n, placeholder)

	default:
		return errs.Validation(fmt.Sprintf("worker: unsupported operator kind %q at node %d", n.Kind, id), nil)
	}
}

// compileChildren recurses into every child of n with stage as its
// downstream. Every kernel above except Join and Union is unary.
func (c *compiler) compileChildren(n *types.OperatorNode, stage operators.PipelineStage) error {
	for _, child := range n.Children {
		if err := c.compile(child, stage); err != nil {
			return err
		}
	}
	return nil
}

// compileJoin builds the shared Join state and a Build kernel per
// branch. join.NewJoin requires its inputs to already carry window
// assignment columns (pkg/join's invariant), so a branch whose schema
// lacks them gets an implicit Window kernel spliced in ahead of its
// Build kernel, keyed on the join's own window definition.
func (c *compiler) compileJoin(n *types.OperatorNode, downstream operators.PipelineStage) error {
	if n.Join == nil {
		return errs.Validation(fmt.Sprintf("worker: join node %d missing payload", n.ID), nil)
	}
	if len(n.Children) != 2 {
		return errs.Validation(fmt.Sprintf("worker: join node %d must have exactly 2 children", n.ID), nil)
	}

	leftSchema, err := c.windowedSchema(n.Inputs[0], &n.Join.Window)
	if err != nil {
		return err
	}
	rightSchema, err := c.windowedSchema(n.Inputs[1], &n.Join.Window)
	if err != nil {
		return err
	}

	origins := append(originsBeneath(c.plan, n.Children[0]), originsBeneath(c.plan, n.Children[1])...)
	j, err := join.NewJoin(leftSchema, rightSchema, *n.Join, origins, c.pool, downstream)
	if err != nil {
		return errs.Validation(fmt.Sprintf("worker: compile join node %d: %v", n.ID, err), err)
	}

	leftBuild := join.NewBuildLeft(j)
	rightBuild := join.NewBuildRight(j)
	c.result.PipelineCount++

	if err := c.compileWindowedBranch(n.Children[0], n.Inputs[0], &n.Join.Window, leftBuild); err != nil {
		return err
	}
	return c.compileWindowedBranch(n.Children[1], n.Inputs[1], &n.Join.Window, rightBuild)
}

// windowedSchema returns the schema a join branch presents to join.NewJoin:
// its own output if it already carries window columns, or the schema an
// implicit Window kernel would add them to otherwise.
func (c *compiler) windowedSchema(branchSchema types.Schema, def *types.WindowDefinition) (types.Schema, error) {
	if branchSchema.IndexOf(operators.WindowStartField) >= 0 && branchSchema.IndexOf(operators.WindowEndField) >= 0 {
		return branchSchema, nil
	}
	timed := *def
	if timed.TimeField == "" {
		timed.TimeField = defaultJoinTimeField
	}
	if branchSchema.IndexOf(timed.TimeField) < 0 {
		return nil, errs.Validation(fmt.Sprintf("worker: join branch schema has no event-time field %q to window on", timed.TimeField), nil)
	}
	out := make(types.Schema, len(branchSchema), len(branchSchema)+2)
	copy(out, branchSchema)
	return append(out,
		types.Field{Name: operators.WindowStartField, Type: types.FieldTypeInt64},
		types.Field{Name: operators.WindowEndField, Type: types.FieldTypeInt64},
	), nil
}

// compileWindowedBranch compiles childID, inserting an implicit Window
// kernel ahead of buildStage when childSchema does not already carry
// window assignment columns.
func (c *compiler) compileWindowedBranch(childID types.OperatorId, childSchema types.Schema, def *types.WindowDefinition, buildStage operators.PipelineStage) error {
	if childSchema.IndexOf(operators.WindowStartField) >= 0 && childSchema.IndexOf(operators.WindowEndField) >= 0 {
		return c.compile(childID, buildStage)
	}
	timed := *def
	if timed.TimeField == "" {
		timed.TimeField = defaultJoinTimeField
	}
	windowed := operators.NewWindow(childSchema, timed, c.pool, buildStage)
	c.result.PipelineCount++
	return c.compile(childID, windowed)
}

// compileSink builds the terminal kernel for a Sink node's Kind. "file"
// additionally opens the target path, tracked for Executor.Stop to close.
func (c *compiler) compileSink(n *types.OperatorNode, downstream operators.PipelineStage) error {
	if n.Sink == nil {
		return errs.Validation(fmt.Sprintf("worker: sink node %d missing payload", n.ID), nil)
	}
	switch n.Sink.Kind {
	case "print":
		c.result.SinkCount++
		return c.compileChildren(n, operators.NewPrintSink(n.Inputs[0], os.Stdout))
	case "file":
		f, err := os.Create(n.Sink.Target)
		if err != nil {
			return errs.RuntimeSystemError(fmt.Sprintf("worker: open sink file %q", n.Sink.Target), err)
		}
		c.result.Files = append(c.result.Files, SinkFile{OperatorID: n.ID, File: f})
		c.result.SinkCount++
		return c.compileChildren(n, operators.NewPrintSink(n.Inputs[0], f))
	default:
		return errs.Validation(fmt.Sprintf("worker: unsupported sink kind %q at node %d", n.Sink.Kind, n.ID), nil)
	}
}

// originsBeneath collects the OriginIds of every Source node reachable
// from id without crossing a Network Source boundary. A branch fed over
// the network from another worker's origins is a known gap (spec.md
// doesn't require cross-worker origin propagation for any S1-S6
// scenario); see DESIGN.md.
func originsBeneath(plan *types.LogicalPlan, id types.OperatorId) []types.OriginId {
	n := plan.Get(id)
	if n == nil {
		return nil
	}
	if n.Kind == types.OperatorSource && n.Source != nil {
		return []types.OriginId{n.Source.OriginID}
	}
	var out []types.OriginId
	for _, child := range n.Children {
		out = append(out, originsBeneath(plan, child)...)
	}
	return out
}

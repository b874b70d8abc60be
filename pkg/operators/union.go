package operators

import (
	"context"

	"github.com/fluxmesh/fluxmesh/pkg/buffer"
)

// Union merges two input streams with identical schemas by forwarding
// each side's buffers unchanged; downstream operators are required to be
// commutative or key-partitioned (spec.md §4.4). One UnionBranch is
// constructed per input side, both pointing at the same downstream.
type UnionBranch struct {
	side       string
	downstream PipelineStage
}

func NewUnionBranch(side string, downstream PipelineStage) *UnionBranch {
	return &UnionBranch{side: side, downstream: downstream}
}

func (u *UnionBranch) Name() string                   { return "union:" + u.side }
func (u *UnionBranch) Setup(ctx context.Context) error { return nil }
func (u *UnionBranch) Close(ctx context.Context) error { return nil }

func (u *UnionBranch) Execute(ctx context.Context, buf *buffer.TupleBuffer) error {
	return u.downstream.Execute(ctx, buf)
}

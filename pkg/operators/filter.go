package operators

import (
	"context"
	"fmt"

	"github.com/fluxmesh/fluxmesh/pkg/buffer"
	"github.com/fluxmesh/fluxmesh/pkg/errs"
	"github.com/fluxmesh/fluxmesh/pkg/eval"
	"github.com/fluxmesh/fluxmesh/pkg/rowcodec"
	"github.com/fluxmesh/fluxmesh/pkg/types"
)

// Filter evaluates a boolean predicate per tuple and writes a compacted
// output buffer, preserving the input header except tuple count
// (spec.md §4.4).
type Filter struct {
	schema     types.Schema
	predicate  *types.Expr
	pool       *buffer.Pool
	downstream PipelineStage
}

// NewFilter constructs a Filter kernel. pool supplies the output
// buffer; downstream receives every non-empty result.
func NewFilter(schema types.Schema, predicate *types.Expr, pool *buffer.Pool, downstream PipelineStage) *Filter {
	return &Filter{schema: schema, predicate: predicate, pool: pool, downstream: downstream}
}

func (f *Filter) Name() string                         { return "filter" }
func (f *Filter) Setup(ctx context.Context) error       { return nil }
func (f *Filter) Close(ctx context.Context) error       { return nil }

func (f *Filter) Execute(ctx context.Context, buf *buffer.TupleBuffer) error {
	defer buf.Release()

	rows, err := rowcodec.Decode(f.schema, buf.Payload, childAt(buf))
	if err != nil {
		return errs.RuntimeDataError("filter: decode input rows", err)
	}

	kept := make([]rowcodec.Row, 0, len(rows))
	for _, row := range rows {
		ok, err := eval.EvalBool(f.predicate, eval.Row{Schema: f.schema, Values: row})
		if err != nil {
			return errs.RuntimeDataError("filter: evaluate predicate", err)
		}
		if ok {
			kept = append(kept, row)
		}
	}
	if len(kept) == 0 {
		return nil
	}

	out, err := f.pool.Acquire(ctx)
	if err != nil {
		return errs.RuntimeSystemError("filter: acquire output buffer", err)
	}
	payload, children, err := rowcodec.Encode(f.schema, kept)
	if err != nil {
		out.Release()
		return errs.RuntimeDataError("filter: encode output rows", err)
	}
	out.Header = buf.Header
	out.Header.TupleCount = uint32(len(kept))
	out.Payload = append(out.Payload, payload...)
	for _, c := range children {
		out.AttachChild(&buffer.ChildBuffer{Payload: c})
	}

	if err := f.downstream.Execute(ctx, out); err != nil {
		return fmt.Errorf("filter: downstream %s: %w", f.downstream.Name(), err)
	}
	return nil
}

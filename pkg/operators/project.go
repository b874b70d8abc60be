package operators

import (
	"context"

	"github.com/fluxmesh/fluxmesh/pkg/buffer"
	"github.com/fluxmesh/fluxmesh/pkg/errs"
	"github.com/fluxmesh/fluxmesh/pkg/rowcodec"
	"github.com/fluxmesh/fluxmesh/pkg/types"
)

// Project reorders and/or renames fields per its field list. Downstream
// field accesses that depend on a renamed field are rewritten by the
// plan rewrite rule at compile time (spec.md §4.4, §4.6), not here; this
// kernel only moves values between positions.
type Project struct {
	inputSchema  types.Schema
	outputSchema types.Schema
	fields       []types.ProjectField
	pool         *buffer.Pool
	downstream   PipelineStage
}

func NewProject(inputSchema, outputSchema types.Schema, fields []types.ProjectField, pool *buffer.Pool, downstream PipelineStage) *Project {
	return &Project{inputSchema: inputSchema, outputSchema: outputSchema, fields: fields, pool: pool, downstream: downstream}
}

func (p *Project) Name() string                   { return "project" }
func (p *Project) Setup(ctx context.Context) error { return nil }
func (p *Project) Close(ctx context.Context) error { return nil }

func (p *Project) Execute(ctx context.Context, buf *buffer.TupleBuffer) error {
	defer buf.Release()

	rows, err := rowcodec.Decode(p.inputSchema, buf.Payload, childAt(buf))
	if err != nil {
		return errs.RuntimeDataError("project: decode input rows", err)
	}

	out := make([]rowcodec.Row, len(rows))
	for i, row := range rows {
		outRow := make(rowcodec.Row, len(p.fields))
		for j, pf := range p.fields {
			idx := p.inputSchema.IndexOf(pf.Input)
			if idx < 0 {
				return errs.RuntimeSystemError("project: input field "+pf.Input+" not found", nil)
			}
			outRow[j] = row[idx]
		}
		out[i] = outRow
	}

	outBuf, err := p.pool.Acquire(ctx)
	if err != nil {
		return errs.RuntimeSystemError("project: acquire output buffer", err)
	}
	payload, children, err := rowcodec.Encode(p.outputSchema, out)
	if err != nil {
		outBuf.Release()
		return errs.RuntimeDataError("project: encode output rows", err)
	}
	outBuf.Header = buf.Header
	outBuf.Header.TupleCount = uint32(len(out))
	outBuf.Payload = append(outBuf.Payload, payload...)
	for _, c := range children {
		outBuf.AttachChild(&buffer.ChildBuffer{Payload: c})
	}
	return p.downstream.Execute(ctx, outBuf)
}

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

// Map evaluates an assignment expression per tuple, writing the result
// into TargetField. OutputSchema must already include TargetField; the
// rewrite rule that widens the schema when the field is new runs at
// plan-compile time (spec.md §4.4).
type Map struct {
	inputSchema  types.Schema
	outputSchema types.Schema
	targetField  string
	assignment   *types.Expr
	pool         *buffer.Pool
	downstream   PipelineStage
}

func NewMap(inputSchema, outputSchema types.Schema, targetField string, assignment *types.Expr, pool *buffer.Pool, downstream PipelineStage) *Map {
	return &Map{
		inputSchema:  inputSchema,
		outputSchema: outputSchema,
		targetField:  targetField,
		assignment:   assignment,
		pool:         pool,
		downstream:   downstream,
	}
}

func (m *Map) Name() string                   { return "map" }
func (m *Map) Setup(ctx context.Context) error { return nil }
func (m *Map) Close(ctx context.Context) error { return nil }

func (m *Map) Execute(ctx context.Context, buf *buffer.TupleBuffer) error {
	defer buf.Release()

	rows, err := rowcodec.Decode(m.inputSchema, buf.Payload, childAt(buf))
	if err != nil {
		return errs.RuntimeDataError("map: decode input rows", err)
	}

	targetIdx := m.outputSchema.IndexOf(m.targetField)
	if targetIdx < 0 {
		return errs.RuntimeSystemError(fmt.Sprintf("map: target field %q absent from output schema", m.targetField), nil)
	}

	out := make([]rowcodec.Row, len(rows))
	for i, row := range rows {
		v, err := eval.Eval(m.assignment, eval.Row{Schema: m.inputSchema, Values: row})
		if err != nil {
			return errs.RuntimeDataError("map: evaluate assignment", err)
		}
		outRow := make(rowcodec.Row, len(m.outputSchema))
		for j, f := range m.outputSchema {
			if j == targetIdx {
				continue
			}
			if idx := m.inputSchema.IndexOf(f.Name); idx >= 0 {
				outRow[j] = row[idx]
			}
		}
		outRow[targetIdx] = v
		out[i] = outRow
	}

	outBuf, err := m.pool.Acquire(ctx)
	if err != nil {
		return errs.RuntimeSystemError("map: acquire output buffer", err)
	}
	payload, children, err := rowcodec.Encode(m.outputSchema, out)
	if err != nil {
		outBuf.Release()
		return errs.RuntimeDataError("map: encode output rows", err)
	}
	outBuf.Header = buf.Header
	outBuf.Header.TupleCount = uint32(len(out))
	outBuf.Payload = append(outBuf.Payload, payload...)
	for _, c := range children {
		outBuf.AttachChild(&buffer.ChildBuffer{Payload: c})
	}

	return m.downstream.Execute(ctx, outBuf)
}

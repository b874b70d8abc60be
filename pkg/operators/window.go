package operators

import (
	"context"
	"fmt"

	"github.com/fluxmesh/fluxmesh/pkg/buffer"
	"github.com/fluxmesh/fluxmesh/pkg/errs"
	"github.com/fluxmesh/fluxmesh/pkg/rowcodec"
	"github.com/fluxmesh/fluxmesh/pkg/types"
)

// WindowStartField and WindowEndField are the two columns Window appends
// to its output schema, in epoch milliseconds.
const (
	WindowStartField = "__window_start"
	WindowEndField   = "__window_end"
)

// Window assigns each tuple to the windows it falls into and appends
// WindowStartField/WindowEndField to every emitted row. A sliding window
// fans a single input row out into one output row per overlapping
// window; a tumbling window always emits exactly one. Aggregation and
// trigger/eviction are left to the Stream Join Engine (C5) and the sink,
// per spec.md §4.4: this kernel only performs assignment.
type Window struct {
	inputSchema  types.Schema
	outputSchema types.Schema
	def          types.WindowDefinition
	pool         *buffer.Pool
	downstream   PipelineStage
}

func NewWindow(inputSchema types.Schema, def types.WindowDefinition, pool *buffer.Pool, downstream PipelineStage) *Window {
	out := make(types.Schema, len(inputSchema), len(inputSchema)+2)
	copy(out, inputSchema)
	out = append(out,
		types.Field{Name: WindowStartField, Type: types.FieldTypeInt64},
		types.Field{Name: WindowEndField, Type: types.FieldTypeInt64},
	)
	return &Window{inputSchema: inputSchema, outputSchema: out, def: def, pool: pool, downstream: downstream}
}

func (w *Window) Name() string                   { return "window" }
func (w *Window) Setup(ctx context.Context) error { return nil }
func (w *Window) Close(ctx context.Context) error { return nil }

func (w *Window) Execute(ctx context.Context, buf *buffer.TupleBuffer) error {
	defer buf.Release()

	rows, err := rowcodec.Decode(w.inputSchema, buf.Payload, childAt(buf))
	if err != nil {
		return errs.RuntimeDataError("window: decode input rows", err)
	}

	timeIdx := w.inputSchema.IndexOf(w.def.TimeField)
	if timeIdx < 0 {
		return errs.RuntimeSystemError(fmt.Sprintf("window: time field %q not in schema", w.def.TimeField), nil)
	}

	out := make([]rowcodec.Row, 0, len(rows))
	for _, row := range rows {
		ts, err := asInt64(row[timeIdx])
		if err != nil {
			return errs.RuntimeDataError("window: read time field", err)
		}
		for _, span := range w.assign(ts) {
			outRow := make(rowcodec.Row, len(w.outputSchema))
			copy(outRow, row)
			outRow[len(w.outputSchema)-2] = span[0]
			outRow[len(w.outputSchema)-1] = span[1]
			out = append(out, outRow)
		}
	}
	if len(out) == 0 {
		return nil
	}

	outBuf, err := w.pool.Acquire(ctx)
	if err != nil {
		return errs.RuntimeSystemError("window: acquire output buffer", err)
	}
	payload, children, err := rowcodec.Encode(w.outputSchema, out)
	if err != nil {
		outBuf.Release()
		return errs.RuntimeDataError("window: encode output rows", err)
	}
	outBuf.Header = buf.Header
	outBuf.Header.TupleCount = uint32(len(out))
	outBuf.Payload = append(outBuf.Payload, payload...)
	for _, c := range children {
		outBuf.AttachChild(&buffer.ChildBuffer{Payload: c})
	}
	return w.downstream.Execute(ctx, outBuf)
}

// assign returns the [start, end) spans (in epoch milliseconds) ts
// belongs to. Threshold windows are assigned like tumbling ones here;
// the threshold-crossing trigger is the join engine's concern.
func (w *Window) assign(ts int64) [][2]int64 {
	size := w.def.Size.Milliseconds()
	slide := w.def.Slide.Milliseconds()
	if slide <= 0 {
		slide = size
	}
	if w.def.Kind != types.WindowSliding || slide >= size {
		start := (ts / size) * size
		return [][2]int64{{start, start + size}}
	}

	var spans [][2]int64
	firstStart := ((ts - size + slide) / slide) * slide
	for start := firstStart; start <= ts; start += slide {
		if ts >= start && ts < start+size {
			spans = append(spans, [2]int64{start, start + size})
		}
	}
	return spans
}

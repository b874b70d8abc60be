package operators

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fluxmesh/fluxmesh/pkg/buffer"
	"github.com/fluxmesh/fluxmesh/pkg/errs"
	"github.com/fluxmesh/fluxmesh/pkg/rowcodec"
	"github.com/fluxmesh/fluxmesh/pkg/types"
)

// WatermarkAssign computes wm = max(seen_ts) - allowedLateness per
// origin and writes it into the buffer header. Non-monotonic input never
// reduces the watermark already observed for that origin (spec.md
// §4.4). Per-origin last-observed timestamp is the operator handler
// state of spec.md §3, alive for the pipeline's lifetime.
type WatermarkAssign struct {
	schema          types.Schema
	timeField       string
	allowedLateness time.Duration
	downstream      PipelineStage

	mu       sync.Mutex
	lastSeen map[types.OriginId]int64
}

func NewWatermarkAssign(schema types.Schema, timeField string, allowedLateness time.Duration, downstream PipelineStage) *WatermarkAssign {
	return &WatermarkAssign{
		schema:          schema,
		timeField:       timeField,
		allowedLateness: allowedLateness,
		downstream:      downstream,
		lastSeen:        make(map[types.OriginId]int64),
	}
}

func (w *WatermarkAssign) Name() string                   { return "watermark_assign" }
func (w *WatermarkAssign) Setup(ctx context.Context) error { return nil }
func (w *WatermarkAssign) Close(ctx context.Context) error { return nil }

func (w *WatermarkAssign) Execute(ctx context.Context, buf *buffer.TupleBuffer) error {
	rows, err := rowcodec.Decode(w.schema, buf.Payload, childAt(buf))
	if err != nil {
		buf.Release()
		return errs.RuntimeDataError("watermark_assign: decode input rows", err)
	}

	idx := w.schema.IndexOf(w.timeField)
	if idx < 0 {
		buf.Release()
		return errs.RuntimeSystemError(fmt.Sprintf("watermark_assign: time field %q not in schema", w.timeField), nil)
	}

	var maxTS int64
	for _, row := range rows {
		ts, err := asInt64(row[idx])
		if err != nil {
			buf.Release()
			return errs.RuntimeDataError("watermark_assign: read time field", err)
		}
		if ts > maxTS {
			maxTS = ts
		}
	}

	origin := buf.Header.OriginID
	w.mu.Lock()
	if maxTS > w.lastSeen[origin] {
		w.lastSeen[origin] = maxTS
	}
	observed := w.lastSeen[origin]
	w.mu.Unlock()

	wm := observed - w.allowedLateness.Milliseconds()
	if wm < 0 {
		wm = 0
	}
	if uint64(wm) > buf.Header.Watermark {
		buf.Header.Watermark = uint64(wm)
	}

	return w.downstream.Execute(ctx, buf)
}

func asInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("watermark_assign: time field value %T is not an integer", v)
	}
}

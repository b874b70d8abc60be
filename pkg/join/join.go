package join

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/fluxmesh/fluxmesh/pkg/buffer"
	"github.com/fluxmesh/fluxmesh/pkg/errs"
	"github.com/fluxmesh/fluxmesh/pkg/metrics"
	"github.com/fluxmesh/fluxmesh/pkg/operators"
	"github.com/fluxmesh/fluxmesh/pkg/rowcodec"
	"github.com/fluxmesh/fluxmesh/pkg/types"
)

type windowSpan struct {
	start, end int64
}

// windowState is one window's slice store. NLJ uses left/right directly;
// the hash-partitioned variant uses leftPart/rightPart instead, indexed
// by hash(key) mod Partitions. Each window has its own lock so two
// windows never contend with each other (spec.md §4.5, SPEC_FULL.md §4
// "per-window lock contention is exported as a histogram").
type windowState struct {
	mu        sync.Mutex
	left      []rowcodec.Row
	right     []rowcodec.Row
	leftKeys  []string
	rightKeys []string

	leftPart  []map[string][]rowcodec.Row
	rightPart []map[string][]rowcodec.Row
}

// Join is the shared state behind a pair of Build operators and one
// implicit Probe: the window map, per-origin watermark tracking, and
// the output wiring. Construct one Join per join operator in the
// compiled pipeline and wrap it with NewBuildLeft and NewBuildRight,
// one per input branch.
type Join struct {
	leftSchema, rightSchema, outputSchema types.Schema
	leftKeyIdx, rightKeyIdx               int
	leftStartIdx, leftEndIdx              int
	rightStartIdx, rightEndIdx            int

	def        types.WindowDefinition
	variant    types.JoinVariant
	partitions int
	pool       *buffer.Pool
	downstream operators.PipelineStage

	mu         sync.Mutex
	windows    map[windowSpan]*windowState
	watermarks map[types.OriginId]uint64
	pending    map[types.OriginId]bool // true until that origin has reported at least once
}

// NewJoin constructs a Join. contributingOrigins must list every origin
// id that will ever feed either branch (known statically from placement
// at plan-compile time); the minimum watermark used to trigger windows
// is only evaluated once every one of them has reported at least once,
// so a window can never fire having heard from one side but not the
// other.
func NewJoin(leftSchema, rightSchema types.Schema, payload types.JoinPayload, contributingOrigins []types.OriginId, pool *buffer.Pool, downstream operators.PipelineStage) (*Join, error) {
	leftKeyIdx := leftSchema.IndexOf(payload.LeftKey)
	rightKeyIdx := rightSchema.IndexOf(payload.RightKey)
	if leftKeyIdx < 0 || rightKeyIdx < 0 {
		return nil, fmt.Errorf("join: key field not found in input schema (left=%q right=%q)", payload.LeftKey, payload.RightKey)
	}
	leftStartIdx := leftSchema.IndexOf(operators.WindowStartField)
	leftEndIdx := leftSchema.IndexOf(operators.WindowEndField)
	rightStartIdx := rightSchema.IndexOf(operators.WindowStartField)
	rightEndIdx := rightSchema.IndexOf(operators.WindowEndField)
	if leftStartIdx < 0 || leftEndIdx < 0 || rightStartIdx < 0 || rightEndIdx < 0 {
		return nil, fmt.Errorf("join: inputs must carry window assignment columns from a preceding Window kernel")
	}

	partitions := payload.Partitions
	if payload.Variant == types.JoinHashPartitioned && partitions <= 0 {
		partitions = 1
	}

	out := make(types.Schema, 0, 3+len(leftSchema)+len(rightSchema))
	out = append(out,
		types.Field{Name: operators.WindowStartField, Type: types.FieldTypeInt64},
		types.Field{Name: operators.WindowEndField, Type: types.FieldTypeInt64},
		types.Field{Name: "key", Type: leftSchema[leftKeyIdx].Type},
	)
	out = append(out, leftSchema...)
	out = append(out, rightSchema...)

	return &Join{
		leftSchema:    leftSchema,
		rightSchema:   rightSchema,
		outputSchema:  out,
		leftKeyIdx:    leftKeyIdx,
		rightKeyIdx:   rightKeyIdx,
		leftStartIdx:  leftStartIdx,
		leftEndIdx:    leftEndIdx,
		rightStartIdx: rightStartIdx,
		rightEndIdx:   rightEndIdx,
		def:           payload.Window,
		variant:       payload.Variant,
		partitions:    partitions,
		pool:          pool,
		downstream:    downstream,
		windows:       make(map[windowSpan]*windowState),
		watermarks:    make(map[types.OriginId]uint64),
		pending:       pendingSet(contributingOrigins),
	}, nil
}

func pendingSet(origins []types.OriginId) map[types.OriginId]bool {
	p := make(map[types.OriginId]bool, len(origins))
	for _, o := range origins {
		p[o] = true
	}
	return p
}

// OutputSchema returns (window_start, window_end, key, left.*, right.*).
func (j *Join) OutputSchema() types.Schema { return j.outputSchema }

func (j *Join) newWindowState() *windowState {
	if j.variant == types.JoinHashPartitioned {
		ws := &windowState{
			leftPart:  make([]map[string][]rowcodec.Row, j.partitions),
			rightPart: make([]map[string][]rowcodec.Row, j.partitions),
		}
		for i := range ws.leftPart {
			ws.leftPart[i] = make(map[string][]rowcodec.Row)
			ws.rightPart[i] = make(map[string][]rowcodec.Row)
		}
		return ws
	}
	return &windowState{}
}

func (j *Join) windowFor(span windowSpan) *windowState {
	j.mu.Lock()
	defer j.mu.Unlock()
	ws, ok := j.windows[span]
	if !ok {
		ws = j.newWindowState()
		j.windows[span] = ws
	}
	return ws
}

// ingest appends one tuple into its side's store for span, then
// re-evaluates whether any window can fire given the updated watermark.
func (j *Join) ingest(ctx context.Context, left bool, origin types.OriginId, watermark uint64, span windowSpan, keyStr string, row rowcodec.Row) error {
	ws := j.windowFor(span)

	timer := metrics.NewTimer()
	ws.mu.Lock()
	if j.variant == types.JoinHashPartitioned {
		p := partitionOf(keyStr, j.partitions)
		if left {
			ws.leftPart[p][keyStr] = append(ws.leftPart[p][keyStr], row)
		} else {
			ws.rightPart[p][keyStr] = append(ws.rightPart[p][keyStr], row)
		}
	} else {
		if left {
			ws.left = append(ws.left, row)
			ws.leftKeys = append(ws.leftKeys, keyStr)
		} else {
			ws.right = append(ws.right, row)
			ws.rightKeys = append(ws.rightKeys, keyStr)
		}
	}
	ws.mu.Unlock()
	timer.ObserveDuration(metrics.JoinWindowLockWait)

	j.mu.Lock()
	delete(j.pending, origin)
	if watermark > j.watermarks[origin] {
		j.watermarks[origin] = watermark
	}
	due := make([]windowSpan, 0)
	if len(j.pending) == 0 {
		min := j.minWatermark()
		for s := range j.windows {
			if min > uint64(s.end) {
				due = append(due, s)
			}
		}
	}
	j.mu.Unlock()

	for _, s := range due {
		if err := j.fire(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// minWatermark must be called with j.mu held.
func (j *Join) minWatermark() uint64 {
	if len(j.watermarks) == 0 {
		return 0
	}
	var min uint64
	first := true
	for _, wm := range j.watermarks {
		if first || wm < min {
			min = wm
			first = false
		}
	}
	return min
}

func partitionOf(key string, partitions int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32()) % partitions
}

// fire probes window span, emits matching pairs downstream, and releases
// its slice store. Idempotent: removing span from the map before probing
// means a concurrent second call for the same span finds nothing to do.
func (j *Join) fire(ctx context.Context, span windowSpan) error {
	j.mu.Lock()
	ws, ok := j.windows[span]
	if ok {
		delete(j.windows, span)
	}
	j.mu.Unlock()
	if !ok {
		return nil
	}

	ws.mu.Lock()
	pairs := j.probe(ws)
	ws.mu.Unlock()

	metrics.JoinWindowsFiredTotal.WithLabelValues(string(j.variant)).Inc()
	if len(pairs) == 0 {
		return nil
	}
	return j.emit(ctx, span, pairs)
}

type pair struct {
	left, right rowcodec.Row
}

// probe must be called with ws.mu held.
func (j *Join) probe(ws *windowState) []pair {
	var out []pair
	if j.variant == types.JoinHashPartitioned {
		for p := 0; p < j.partitions; p++ {
			for key, lefts := range ws.leftPart[p] {
				rights, ok := ws.rightPart[p][key]
				if !ok {
					continue
				}
				for _, l := range lefts {
					for _, r := range rights {
						out = append(out, pair{left: l, right: r})
					}
				}
			}
		}
		return out
	}

	for i, l := range ws.left {
		for k, r := range ws.right {
			if ws.leftKeys[i] == ws.rightKeys[k] {
				out = append(out, pair{left: l, right: r})
			}
		}
	}
	return out
}

func (j *Join) emit(ctx context.Context, span windowSpan, pairs []pair) error {
	rows := make([]rowcodec.Row, 0, len(pairs))
	for _, p := range pairs {
		row := make(rowcodec.Row, 0, len(j.outputSchema))
		row = append(row, span.start, span.end, p.left[j.leftKeyIdx])
		row = append(row, p.left...)
		row = append(row, p.right...)
		rows = append(rows, row)
	}

	buf, err := j.pool.Acquire(ctx)
	if err != nil {
		return errs.RuntimeSystemError("join: acquire output buffer", err)
	}
	payload, children, err := rowcodec.Encode(j.outputSchema, rows)
	if err != nil {
		buf.Release()
		return errs.RuntimeDataError("join: encode output rows", err)
	}
	buf.Header.Magic = types.WireMagic
	buf.Header.MsgType = types.MsgData
	buf.Header.TupleCount = uint32(len(rows))
	buf.Payload = append(buf.Payload, payload...)
	for _, c := range children {
		buf.AttachChild(&buffer.ChildBuffer{Payload: c})
	}
	return j.downstream.Execute(ctx, buf)
}

// Finish handles the terminal EOS for one side of the join (spec.md
// §4.5 "Failure"/"graceful EOS" rules). On Failure every live window is
// discarded without emitting. On Graceful/HardStop every remaining
// window fires regardless of watermark, since no further data can move
// it forward.
func (j *Join) Finish(ctx context.Context, termination types.TerminationType) error {
	j.mu.Lock()
	spans := make([]windowSpan, 0, len(j.windows))
	for s := range j.windows {
		spans = append(spans, s)
	}
	j.mu.Unlock()

	if termination == types.TerminationFailure {
		j.mu.Lock()
		for _, s := range spans {
			delete(j.windows, s)
		}
		j.mu.Unlock()
		metrics.JoinWindowsDiscardedTotal.WithLabelValues(string(j.variant)).Add(float64(len(spans)))
		return nil
	}

	for _, s := range spans {
		if err := j.fire(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

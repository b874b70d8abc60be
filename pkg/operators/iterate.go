package operators

import (
	"context"
	"fmt"
	"sync"

	"github.com/fluxmesh/fluxmesh/pkg/buffer"
	"github.com/fluxmesh/fluxmesh/pkg/errs"
	"github.com/fluxmesh/fluxmesh/pkg/rowcodec"
	"github.com/fluxmesh/fluxmesh/pkg/types"
)

// Iterate is the supplemented CEP pattern kernel (SPEC_FULL.md §3,
// grounded on the original implementation's times(min,max) pattern
// operator, dropped by the distilled spec). It counts per-key,
// per-window tuple occurrences and forwards a tuple only once its
// running count for that (key, window) falls within [MinTimes,
// MaxTimes]; counts above MaxTimes stop matching for the remainder of
// the window. Window input rows are expected to already carry
// WindowStartField/WindowEndField from a preceding Window kernel.
type Iterate struct {
	schema     types.Schema
	def        types.IteratePayload
	pool       *buffer.Pool
	downstream PipelineStage

	mu     sync.Mutex
	counts map[string]int
}

func NewIterate(schema types.Schema, def types.IteratePayload, pool *buffer.Pool, downstream PipelineStage) *Iterate {
	return &Iterate{schema: schema, def: def, pool: pool, downstream: downstream, counts: make(map[string]int)}
}

func (it *Iterate) Name() string                   { return "iterate" }
func (it *Iterate) Setup(ctx context.Context) error { return nil }
func (it *Iterate) Close(ctx context.Context) error { return nil }

func (it *Iterate) Execute(ctx context.Context, buf *buffer.TupleBuffer) error {
	defer buf.Release()

	rows, err := rowcodec.Decode(it.schema, buf.Payload, childAt(buf))
	if err != nil {
		return errs.RuntimeDataError("iterate: decode input rows", err)
	}

	keyIdx := make([]int, len(it.def.Window.Keys))
	for i, k := range it.def.Window.Keys {
		idx := it.schema.IndexOf(k)
		if idx < 0 {
			return errs.RuntimeSystemError(fmt.Sprintf("iterate: key field %q not in schema", k), nil)
		}
		keyIdx[i] = idx
	}
	startIdx := it.schema.IndexOf(WindowStartField)
	endIdx := it.schema.IndexOf(WindowEndField)

	kept := make([]rowcodec.Row, 0, len(rows))
	for _, row := range rows {
		key := it.groupKey(row, keyIdx, startIdx, endIdx)

		it.mu.Lock()
		it.counts[key]++
		n := it.counts[key]
		it.mu.Unlock()

		if n >= it.def.MinTimes && n <= it.def.MaxTimes {
			kept = append(kept, row)
		}
	}
	if len(kept) == 0 {
		return nil
	}

	return it.forward(ctx, buf, kept)
}

func (it *Iterate) groupKey(row rowcodec.Row, keyIdx []int, startIdx, endIdx int) string {
	key := ""
	for _, idx := range keyIdx {
		key += fmt.Sprintf("%v|", row[idx])
	}
	if startIdx >= 0 && endIdx >= 0 {
		key += fmt.Sprintf("%v-%v", row[startIdx], row[endIdx])
	}
	return key
}

// forward re-encodes the kept rows into a fresh header derived from buf
// and hands them to downstream; Iterate never changes the schema.
func (it *Iterate) forward(ctx context.Context, buf *buffer.TupleBuffer, kept []rowcodec.Row) error {
	out, err := it.pool.Acquire(ctx)
	if err != nil {
		return errs.RuntimeSystemError("iterate: acquire output buffer", err)
	}
	payload, children, err := rowcodec.Encode(it.schema, kept)
	if err != nil {
		out.Release()
		return errs.RuntimeDataError("iterate: encode output rows", err)
	}
	out.Header = buf.Header
	out.Header.TupleCount = uint32(len(kept))
	out.Payload = append(out.Payload, payload...)
	for _, c := range children {
		out.AttachChild(&buffer.ChildBuffer{Payload: c})
	}
	return it.downstream.Execute(ctx, out)
}

// ForgetWindow drops accumulated counts for windows that have closed,
// called by the caller holding final-EOS information for a window
// range; left for the join engine / window eviction to invoke.
func (it *Iterate) ForgetWindow(prefix string) {
	it.mu.Lock()
	defer it.mu.Unlock()
	for k := range it.counts {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(it.counts, k)
		}
	}
}

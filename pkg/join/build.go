package join

import (
	"context"
	"fmt"

	"github.com/fluxmesh/fluxmesh/pkg/buffer"
	"github.com/fluxmesh/fluxmesh/pkg/errs"
	"github.com/fluxmesh/fluxmesh/pkg/rowcodec"
	"github.com/fluxmesh/fluxmesh/pkg/types"
)

// Build is one side's input kernel: it decodes windowed input rows and
// feeds them into the shared Join's per-window slice store (spec.md
// §4.5 "Build/probe protocol"). Each side gets its own Build instance
// pointed at the same Join; Build has no downstream of its own, since
// output is produced by Join.fire once a window triggers.
type Build struct {
	join   *Join
	left   bool
	schema types.Schema

	keyIdx   int
	startIdx int
	endIdx   int
}

func newBuild(j *Join, left bool) *Build {
	b := &Build{join: j, left: left}
	if left {
		b.schema, b.keyIdx, b.startIdx, b.endIdx = j.leftSchema, j.leftKeyIdx, j.leftStartIdx, j.leftEndIdx
	} else {
		b.schema, b.keyIdx, b.startIdx, b.endIdx = j.rightSchema, j.rightKeyIdx, j.rightStartIdx, j.rightEndIdx
	}
	return b
}

// NewBuildLeft and NewBuildRight construct the Build kernel for a Join's
// left/right branch respectively.
func NewBuildLeft(j *Join) *Build  { return newBuild(j, true) }
func NewBuildRight(j *Join) *Build { return newBuild(j, false) }

func (b *Build) Name() string {
	if b.left {
		return "join:build:left"
	}
	return "join:build:right"
}

func (b *Build) Setup(ctx context.Context) error { return nil }
func (b *Build) Close(ctx context.Context) error { return nil }

func (b *Build) Execute(ctx context.Context, buf *buffer.TupleBuffer) error {
	defer buf.Release()

	rows, err := rowcodec.Decode(b.schema, buf.Payload, func(i int) []byte {
		c := buf.ChildAt(i)
		if c == nil {
			return nil
		}
		return c.Payload
	})
	if err != nil {
		return errs.RuntimeDataError(fmt.Sprintf("%s: decode input rows", b.Name()), err)
	}

	origin := buf.Header.OriginID
	watermark := buf.Header.Watermark
	for _, row := range rows {
		start, err := asInt64(row[b.startIdx])
		if err != nil {
			return errs.RuntimeDataError(fmt.Sprintf("%s: read window_start", b.Name()), err)
		}
		end, err := asInt64(row[b.endIdx])
		if err != nil {
			return errs.RuntimeDataError(fmt.Sprintf("%s: read window_end", b.Name()), err)
		}
		key := fmt.Sprintf("%v", row[b.keyIdx])
		if err := b.join.ingest(ctx, b.left, origin, watermark, windowSpan{start: start, end: end}, key, row); err != nil {
			return err
		}
	}
	return nil
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
		return 0, fmt.Errorf("value %T is not an integer", v)
	}
}

package join

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxmesh/fluxmesh/pkg/buffer"
	"github.com/fluxmesh/fluxmesh/pkg/operators"
	"github.com/fluxmesh/fluxmesh/pkg/rowcodec"
	"github.com/fluxmesh/fluxmesh/pkg/types"
)

// captureStage mirrors operators' test helper locally to avoid exporting
// a test type across package boundaries.
type captureStage struct {
	schema types.Schema
	rows   []rowcodec.Row
}

func (c *captureStage) Name() string                   { return "capture" }
func (c *captureStage) Setup(ctx context.Context) error { return nil }
func (c *captureStage) Close(ctx context.Context) error { return nil }
func (c *captureStage) Execute(ctx context.Context, buf *buffer.TupleBuffer) error {
	defer buf.Release()
	rows, err := rowcodec.Decode(c.schema, buf.Payload, func(i int) []byte {
		cb := buf.ChildAt(i)
		if cb == nil {
			return nil
		}
		return cb.Payload
	})
	if err != nil {
		return err
	}
	c.rows = append(c.rows, rows...)
	return nil
}

func windowedSchema(extra ...types.Field) types.Schema {
	s := types.Schema{{Name: "key", Type: types.FieldTypeString}, {Name: "val", Type: types.FieldTypeInt64}}
	s = append(s, extra...)
	return append(s,
		types.Field{Name: operators.WindowStartField, Type: types.FieldTypeInt64},
		types.Field{Name: operators.WindowEndField, Type: types.FieldTypeInt64},
	)
}

func makeBuf(t *testing.T, pool *buffer.Pool, schema types.Schema, rows []rowcodec.Row, origin types.OriginId, watermark uint64) *buffer.TupleBuffer {
	t.Helper()
	buf, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	payload, children, err := rowcodec.Encode(schema, rows)
	require.NoError(t, err)
	buf.Header = types.BufferHeader{OriginID: origin, Watermark: watermark, TupleCount: uint32(len(rows))}
	buf.Payload = append(buf.Payload, payload...)
	for _, c := range children {
		buf.AttachChild(&buffer.ChildBuffer{Payload: c})
	}
	return buf
}

func newTestJoin(t *testing.T, variant types.JoinVariant) (*Join, *Build, *Build, *captureStage) {
	t.Helper()
	pool := buffer.NewPool(buffer.Config{Name: "join-test", BufferSize: 4096, NumBuffers: 8})
	left := windowedSchema()
	right := windowedSchema()
	capture := &captureStage{}

	j, err := NewJoin(left, right, types.JoinPayload{
		LeftKey: "key", RightKey: "key",
		Window:     types.WindowDefinition{Kind: types.WindowTumbling, Size: time.Second, TimeField: "val"},
		Variant:    variant,
		Partitions: 2,
	}, []types.OriginId{1, 2}, pool, capture)
	require.NoError(t, err)
	capture.schema = j.OutputSchema()
	return j, NewBuildLeft(j), NewBuildRight(j), capture
}

func TestNestedLoopJoinFiresOnWatermarkAdvance(t *testing.T) {
	_, left, right, capture := newTestJoin(t, types.JoinNestedLoop)
	pool := buffer.NewPool(buffer.Config{Name: "src", BufferSize: 4096, NumBuffers: 8})
	schema := windowedSchema()

	lbuf := makeBuf(t, pool, schema, []rowcodec.Row{{"k1", int64(1), int64(0), int64(1000)}}, 1, 500)
	require.NoError(t, left.Execute(context.Background(), lbuf))
	assert.Empty(t, capture.rows, "window must not fire before watermark passes window end")

	rbuf := makeBuf(t, pool, schema, []rowcodec.Row{{"k1", int64(2), int64(0), int64(1000)}}, 2, 500)
	require.NoError(t, right.Execute(context.Background(), rbuf))
	assert.Empty(t, capture.rows)

	lbuf2 := makeBuf(t, pool, schema, []rowcodec.Row{{"k2", int64(3), int64(1000), int64(2000)}}, 1, 1500)
	require.NoError(t, left.Execute(context.Background(), lbuf2))
	rbuf2 := makeBuf(t, pool, schema, []rowcodec.Row{{"k2", int64(4), int64(1000), int64(2000)}}, 2, 1500)
	require.NoError(t, right.Execute(context.Background(), rbuf2))

	require.Len(t, capture.rows, 1, "k1/k2 matched pair should fire once min watermark exceeds window end")
	row := capture.rows[0]
	assert.Equal(t, int64(0), row[0])
	assert.Equal(t, int64(1000), row[1])
	assert.Equal(t, "k1", row[2])
}

func TestNestedLoopJoinNonMatchingKeysProduceNoPairs(t *testing.T) {
	_, left, right, capture := newTestJoin(t, types.JoinNestedLoop)
	pool := buffer.NewPool(buffer.Config{Name: "src", BufferSize: 4096, NumBuffers: 8})
	schema := windowedSchema()

	lbuf := makeBuf(t, pool, schema, []rowcodec.Row{{"k1", int64(1), int64(0), int64(1000)}}, 1, 1500)
	rbuf := makeBuf(t, pool, schema, []rowcodec.Row{{"k2", int64(2), int64(0), int64(1000)}}, 2, 1500)
	require.NoError(t, left.Execute(context.Background(), lbuf))
	require.NoError(t, right.Execute(context.Background(), rbuf))

	assert.Empty(t, capture.rows)
}

func TestHashPartitionedJoinEmitsMatch(t *testing.T) {
	_, left, right, capture := newTestJoin(t, types.JoinHashPartitioned)
	pool := buffer.NewPool(buffer.Config{Name: "src", BufferSize: 4096, NumBuffers: 8})
	schema := windowedSchema()

	lbuf := makeBuf(t, pool, schema, []rowcodec.Row{{"k1", int64(1), int64(0), int64(1000)}}, 1, 1500)
	rbuf := makeBuf(t, pool, schema, []rowcodec.Row{{"k1", int64(2), int64(0), int64(1000)}}, 2, 1500)
	require.NoError(t, left.Execute(context.Background(), lbuf))
	require.NoError(t, right.Execute(context.Background(), rbuf))

	require.Len(t, capture.rows, 1)
	assert.Equal(t, "k1", capture.rows[0][2])
}

func TestJoinFinishDiscardsOnFailure(t *testing.T) {
	j, left, _, capture := newTestJoin(t, types.JoinNestedLoop)
	pool := buffer.NewPool(buffer.Config{Name: "src", BufferSize: 4096, NumBuffers: 8})
	schema := windowedSchema()

	lbuf := makeBuf(t, pool, schema, []rowcodec.Row{{"k1", int64(1), int64(0), int64(1000)}}, 1, 10)
	require.NoError(t, left.Execute(context.Background(), lbuf))

	require.NoError(t, j.Finish(context.Background(), types.TerminationFailure))
	assert.Empty(t, capture.rows, "failure EOS must discard without emitting")
	j.mu.Lock()
	assert.Empty(t, j.windows)
	j.mu.Unlock()
}

func TestJoinFinishFiresRemainingWindowsOnGraceful(t *testing.T) {
	j, left, right, capture := newTestJoin(t, types.JoinNestedLoop)
	pool := buffer.NewPool(buffer.Config{Name: "src", BufferSize: 4096, NumBuffers: 8})
	schema := windowedSchema()

	lbuf := makeBuf(t, pool, schema, []rowcodec.Row{{"k1", int64(1), int64(0), int64(1000)}}, 1, 10)
	rbuf := makeBuf(t, pool, schema, []rowcodec.Row{{"k1", int64(2), int64(0), int64(1000)}}, 2, 10)
	require.NoError(t, left.Execute(context.Background(), lbuf))
	require.NoError(t, right.Execute(context.Background(), rbuf))
	assert.Empty(t, capture.rows)

	require.NoError(t, j.Finish(context.Background(), types.TerminationGraceful))
	assert.Len(t, capture.rows, 1, "graceful EOS must fire remaining windows regardless of watermark")
}

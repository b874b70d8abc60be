package operators

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxmesh/fluxmesh/pkg/buffer"
	"github.com/fluxmesh/fluxmesh/pkg/rowcodec"
	"github.com/fluxmesh/fluxmesh/pkg/types"
)

// captureStage is a terminal PipelineStage mock recording every buffer it
// is handed, decoded under the schema supplied to newCaptureStage.
type captureStage struct {
	schema types.Schema
	rows   []rowcodec.Row
	last   types.BufferHeader
}

func newCaptureStage(schema types.Schema) *captureStage {
	return &captureStage{schema: schema}
}

func (c *captureStage) Name() string                   { return "capture" }
func (c *captureStage) Setup(ctx context.Context) error { return nil }
func (c *captureStage) Close(ctx context.Context) error { return nil }

func (c *captureStage) Execute(ctx context.Context, buf *buffer.TupleBuffer) error {
	defer buf.Release()
	rows, err := rowcodec.Decode(c.schema, buf.Payload, childAt(buf))
	if err != nil {
		return err
	}
	c.rows = append(c.rows, rows...)
	c.last = buf.Header
	return nil
}

func testPool(t *testing.T) *buffer.Pool {
	t.Helper()
	return buffer.NewPool(buffer.Config{Name: "test", BufferSize: 4096, NumBuffers: 8})
}

func encodeBuffer(t *testing.T, pool *buffer.Pool, schema types.Schema, rows []rowcodec.Row, header types.BufferHeader) *buffer.TupleBuffer {
	t.Helper()
	buf, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	payload, children, err := rowcodec.Encode(schema, rows)
	require.NoError(t, err)
	buf.Header = header
	buf.Header.TupleCount = uint32(len(rows))
	buf.Payload = append(buf.Payload, payload...)
	for _, c := range children {
		buf.AttachChild(&buffer.ChildBuffer{Payload: c})
	}
	return buf
}

func sensorSchema() types.Schema {
	return types.Schema{
		{Name: "id", Type: types.FieldTypeUint64},
		{Name: "temp", Type: types.FieldTypeFloat64},
		{Name: "label", Type: types.FieldTypeString},
	}
}

func TestFilterKeepsMatchingRows(t *testing.T) {
	pool := testPool(t)
	schema := sensorSchema()
	capture := newCaptureStage(schema)
	f := NewFilter(schema, types.BinaryExpr(">", types.FieldRef("temp"), types.LiteralExpr(20.0)), pool, capture)

	buf := encodeBuffer(t, pool, schema, []rowcodec.Row{
		{uint64(1), 21.5, "a"},
		{uint64(2), 19.0, "b"},
	}, types.BufferHeader{OriginID: 7})

	require.NoError(t, f.Execute(context.Background(), buf))
	require.Len(t, capture.rows, 1)
	assert.Equal(t, uint64(1), capture.rows[0][0])
}

func TestFilterEmitsNothingWhenAllDropped(t *testing.T) {
	pool := testPool(t)
	schema := sensorSchema()
	capture := newCaptureStage(schema)
	f := NewFilter(schema, types.BinaryExpr(">", types.FieldRef("temp"), types.LiteralExpr(100.0)), pool, capture)

	buf := encodeBuffer(t, pool, schema, []rowcodec.Row{{uint64(1), 21.5, "a"}}, types.BufferHeader{})
	require.NoError(t, f.Execute(context.Background(), buf))
	assert.Empty(t, capture.rows)
}

func TestMapWritesTargetField(t *testing.T) {
	pool := testPool(t)
	in := sensorSchema()
	out := append(types.Schema{}, in...)
	out = append(out, types.Field{Name: "temp_f", Type: types.FieldTypeFloat64})
	capture := newCaptureStage(out)

	assignment := types.BinaryExpr("+", types.BinaryExpr("*", types.FieldRef("temp"), types.LiteralExpr(1.8)), types.LiteralExpr(32.0))
	m := NewMap(in, out, "temp_f", assignment, pool, capture)

	buf := encodeBuffer(t, pool, in, []rowcodec.Row{{uint64(1), 0.0, "a"}}, types.BufferHeader{})
	require.NoError(t, m.Execute(context.Background(), buf))
	require.Len(t, capture.rows, 1)
	assert.Equal(t, 32.0, capture.rows[0][3])
}

func TestProjectReordersFields(t *testing.T) {
	pool := testPool(t)
	in := sensorSchema()
	out := types.Schema{{Name: "label", Type: types.FieldTypeString}, {Name: "id", Type: types.FieldTypeUint64}}
	capture := newCaptureStage(out)

	p := NewProject(in, out, []types.ProjectField{{Input: "label", Output: "label"}, {Input: "id", Output: "id"}}, pool, capture)
	buf := encodeBuffer(t, pool, in, []rowcodec.Row{{uint64(9), 1.0, "x"}}, types.BufferHeader{})
	require.NoError(t, p.Execute(context.Background(), buf))
	require.Len(t, capture.rows, 1)
	assert.Equal(t, "x", capture.rows[0][0])
	assert.Equal(t, uint64(9), capture.rows[0][1])
}

func TestUnionBranchForwardsUnchanged(t *testing.T) {
	pool := testPool(t)
	schema := sensorSchema()
	capture := newCaptureStage(schema)
	left := NewUnionBranch("left", capture)
	right := NewUnionBranch("right", capture)
	assert.Equal(t, "union:left", left.Name())
	assert.Equal(t, "union:right", right.Name())

	buf1 := encodeBuffer(t, pool, schema, []rowcodec.Row{{uint64(1), 1.0, "a"}}, types.BufferHeader{})
	buf2 := encodeBuffer(t, pool, schema, []rowcodec.Row{{uint64(2), 2.0, "b"}}, types.BufferHeader{})
	require.NoError(t, left.Execute(context.Background(), buf1))
	require.NoError(t, right.Execute(context.Background(), buf2))
	assert.Len(t, capture.rows, 2)
}

func timeSchema() types.Schema {
	return types.Schema{
		{Name: "ts", Type: types.FieldTypeInt64},
		{Name: "value", Type: types.FieldTypeFloat64},
	}
}

func TestWatermarkAssignIsMonotonicPerOrigin(t *testing.T) {
	schema := timeSchema()
	capture := newCaptureStage(schema)
	wa := NewWatermarkAssign(schema, "ts", 0, capture)
	pool := testPool(t)

	buf1 := encodeBuffer(t, pool, schema, []rowcodec.Row{{int64(1000), 1.0}}, types.BufferHeader{OriginID: 1})
	require.NoError(t, wa.Execute(context.Background(), buf1))
	assert.Equal(t, uint64(1000), capture.last.Watermark)

	buf2 := encodeBuffer(t, pool, schema, []rowcodec.Row{{int64(500), 2.0}}, types.BufferHeader{OriginID: 1})
	require.NoError(t, wa.Execute(context.Background(), buf2))
	assert.Equal(t, uint64(1000), capture.last.Watermark, "late tuple must not lower the watermark")
}

func TestWatermarkAssignSubtractsAllowedLateness(t *testing.T) {
	schema := timeSchema()
	capture := newCaptureStage(schema)
	wa := NewWatermarkAssign(schema, "ts", 200*time.Millisecond, capture)
	pool := testPool(t)

	buf := encodeBuffer(t, pool, schema, []rowcodec.Row{{int64(1000), 1.0}}, types.BufferHeader{OriginID: 1})
	require.NoError(t, wa.Execute(context.Background(), buf))
	assert.Equal(t, uint64(800), capture.last.Watermark)
}

func windowOutSchema(base types.Schema) types.Schema {
	out := append(types.Schema{}, base...)
	return append(out, types.Field{Name: WindowStartField, Type: types.FieldTypeInt64}, types.Field{Name: WindowEndField, Type: types.FieldTypeInt64})
}

func TestWindowTumblingAssignsSingleSpan(t *testing.T) {
	schema := timeSchema()
	out := windowOutSchema(schema)
	capture := newCaptureStage(out)
	pool := testPool(t)

	def := types.WindowDefinition{Kind: types.WindowTumbling, Size: time.Second, TimeField: "ts"}
	w := NewWindow(schema, def, pool, capture)

	buf := encodeBuffer(t, pool, schema, []rowcodec.Row{{int64(1500), 1.0}}, types.BufferHeader{})
	require.NoError(t, w.Execute(context.Background(), buf))
	require.Len(t, capture.rows, 1)
	assert.Equal(t, int64(1000), capture.rows[0][2])
	assert.Equal(t, int64(2000), capture.rows[0][3])
}

func TestWindowSlidingFansOutOverlappingSpans(t *testing.T) {
	schema := timeSchema()
	out := windowOutSchema(schema)
	capture := newCaptureStage(out)
	pool := testPool(t)

	def := types.WindowDefinition{Kind: types.WindowSliding, Size: 2 * time.Second, Slide: time.Second, TimeField: "ts"}
	w := NewWindow(schema, def, pool, capture)

	buf := encodeBuffer(t, pool, schema, []rowcodec.Row{{int64(2500), 1.0}}, types.BufferHeader{})
	require.NoError(t, w.Execute(context.Background(), buf))
	assert.Len(t, capture.rows, 2, "a 2s window with 1s slide covers each point twice")
}

func TestIterateForwardsWithinRange(t *testing.T) {
	schema := types.Schema{
		{Name: "key", Type: types.FieldTypeString},
		{Name: WindowStartField, Type: types.FieldTypeInt64},
		{Name: WindowEndField, Type: types.FieldTypeInt64},
	}
	capture := newCaptureStage(schema)
	pool := testPool(t)
	def := types.IteratePayload{MinTimes: 2, MaxTimes: 3, Window: types.WindowDefinition{Keys: []string{"key"}}}
	it := NewIterate(schema, def, pool, capture)

	for i := 0; i < 4; i++ {
		buf := encodeBuffer(t, pool, schema, []rowcodec.Row{{"k1", int64(0), int64(1000)}}, types.BufferHeader{})
		require.NoError(t, it.Execute(context.Background(), buf))
	}
	assert.Len(t, capture.rows, 2, "only occurrences 2 and 3 fall within [min,max]")
}

func TestIterateForgetWindowClearsCounts(t *testing.T) {
	schema := types.Schema{
		{Name: "key", Type: types.FieldTypeString},
		{Name: WindowStartField, Type: types.FieldTypeInt64},
		{Name: WindowEndField, Type: types.FieldTypeInt64},
	}
	pool := testPool(t)
	capture := newCaptureStage(schema)
	def := types.IteratePayload{MinTimes: 1, MaxTimes: 1, Window: types.WindowDefinition{Keys: []string{"key"}}}
	it := NewIterate(schema, def, pool, capture)

	buf := encodeBuffer(t, pool, schema, []rowcodec.Row{{"k1", int64(0), int64(1000)}}, types.BufferHeader{})
	require.NoError(t, it.Execute(context.Background(), buf))
	assert.Len(t, capture.rows, 1)

	it.ForgetWindow("k1|")
	buf2 := encodeBuffer(t, pool, schema, []rowcodec.Row{{"k1", int64(0), int64(1000)}}, types.BufferHeader{})
	require.NoError(t, it.Execute(context.Background(), buf2))
	assert.Len(t, capture.rows, 2, "count should restart after ForgetWindow")
}

func TestPrintSinkWritesFormattedRows(t *testing.T) {
	pool := testPool(t)
	schema := sensorSchema()
	var out bytes.Buffer
	sink := NewPrintSink(schema, &out)

	buf := encodeBuffer(t, pool, schema, []rowcodec.Row{{uint64(1), 21.5, "a"}}, types.BufferHeader{})
	require.NoError(t, sink.Execute(context.Background(), buf))
	assert.Contains(t, out.String(), "id=1")
	assert.Contains(t, out.String(), "label=a")
}

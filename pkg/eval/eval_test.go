package eval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxmesh/fluxmesh/pkg/rowcodec"
	"github.com/fluxmesh/fluxmesh/pkg/types"
)

func testRow() Row {
	schema := types.Schema{
		{Name: "temp", Type: types.FieldTypeFloat64},
		{Name: "active", Type: types.FieldTypeBool},
		{Name: "label", Type: types.FieldTypeString},
	}
	return Row{Schema: schema, Values: rowcodec.Row{21.5, true, "sensor-a"}}
}

func TestEvalFieldAndLiteral(t *testing.T) {
	row := testRow()
	v, err := Eval(types.FieldRef("temp"), row)
	require.NoError(t, err)
	assert.Equal(t, 21.5, v)

	v, err = Eval(types.LiteralExpr(42), row)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestEvalBoolComparison(t *testing.T) {
	row := testRow()
	ok, err := EvalBool(types.BinaryExpr(">", types.FieldRef("temp"), types.LiteralExpr(20.0)), row)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = EvalBool(types.BinaryExpr("=", types.FieldRef("label"), types.LiteralExpr("sensor-a")), row)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvalAndOrNot(t *testing.T) {
	row := testRow()
	expr := types.BinaryExpr("AND",
		types.FieldRef("active"),
		types.UnaryExpr("NOT", types.BinaryExpr("=", types.FieldRef("label"), types.LiteralExpr("sensor-z"))))
	ok, err := EvalBool(expr, row)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvalArithmetic(t *testing.T) {
	row := testRow()
	v, err := Eval(types.BinaryExpr("+", types.FieldRef("temp"), types.LiteralExpr(1.5)), row)
	require.NoError(t, err)
	assert.Equal(t, 23.0, v)
}

func TestEvalDivisionByZero(t *testing.T) {
	row := testRow()
	_, err := Eval(types.BinaryExpr("/", types.LiteralExpr(1.0), types.LiteralExpr(0.0)), row)
	assert.Error(t, err)
}

func TestEvalUnknownField(t *testing.T) {
	row := testRow()
	_, err := Eval(types.FieldRef("missing"), row)
	assert.Error(t, err)
}

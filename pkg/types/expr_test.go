package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExprReferencedFields(t *testing.T) {
	e := BinaryExpr("<", FieldRef("value"), LiteralExpr(42))
	assert.Equal(t, []string{"value"}, e.ReferencedFields())

	and := BinaryExpr("AND", e, BinaryExpr("=", FieldRef("id"), FieldRef("value")))
	assert.Equal(t, []string{"id", "value"}, and.ReferencedFields())
}

func TestExprRenameFields(t *testing.T) {
	e := BinaryExpr("<", FieldRef("id"), LiteralExpr(10))
	renamed := e.RenameFields(map[string]string{"id": "NewName"})
	require.Equal(t, "NewName", renamed.Left.Field)
	assert.Equal(t, "id", e.Left.Field, "original must be untouched")
}

func TestExprSubstitute(t *testing.T) {
	mapExpr := BinaryExpr("+", FieldRef("value"), LiteralExpr(1))
	filter := BinaryExpr("<", FieldRef("derived"), LiteralExpr(100))
	inlined := filter.Substitute("derived", mapExpr)
	assert.Equal(t, "((f:value + l:1) < l:100)", inlined.Canonical())
}

func TestExprCanonicalCommutative(t *testing.T) {
	a := BinaryExpr("=", FieldRef("a.k"), FieldRef("b.k"))
	b := BinaryExpr("=", FieldRef("b.k"), FieldRef("a.k"))
	assert.Equal(t, a.Canonical(), b.Canonical())
}

func TestSchemaEqualAndRename(t *testing.T) {
	s := Schema{{Name: "id", Type: FieldTypeInt32}, {Name: "value", Type: FieldTypeInt64}}
	other := s.Clone()
	assert.True(t, s.Equal(other))

	renamed := s.WithRename("id", "NewName")
	assert.True(t, renamed.Contains("NewName"))
	assert.False(t, renamed.Contains("id"))
	assert.True(t, s.Contains("id"), "original schema must be untouched")
}

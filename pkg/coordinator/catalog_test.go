package coordinator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxmesh/fluxmesh/pkg/errs"
	"github.com/fluxmesh/fluxmesh/pkg/types"
)

func schema(names ...string) types.Schema {
	s := make(types.Schema, len(names))
	for i, n := range names {
		s[i] = types.Field{Name: n, Type: types.FieldTypeInt64}
	}
	return s
}

func TestSourceCatalogRegisterLogicalAndPhysical(t *testing.T) {
	c := NewSourceCatalog()
	require.NoError(t, c.RegisterLogicalSource("default_logical", schema("value")))

	got, ok := c.Schema("default_logical")
	require.True(t, ok)
	assert.Equal(t, schema("value"), got)

	origin, err := c.RegisterPhysicalSource(1, "default_logical", "csv1")
	require.NoError(t, err)
	assert.NotEqual(t, types.OriginId(types.Invalid), origin)

	gotOrigin, node, ok := c.DefaultOrigin("default_logical")
	require.True(t, ok)
	assert.Equal(t, origin, gotOrigin)
	assert.Equal(t, types.TopologyNodeId(1), node)
}

func TestSourceCatalogRegisterPhysicalRejectsUnknownLogical(t *testing.T) {
	c := NewSourceCatalog()
	_, err := c.RegisterPhysicalSource(1, "nope", "csv1")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindNotFound))
}

func TestQueryCatalogAddAndSetStatus(t *testing.T) {
	c := NewQueryCatalog()
	id := c.Add(types.QuerySubmission{UserQuery: "Query::from(\"x\")"}, 7)

	entry, ok := c.Get(id)
	require.True(t, ok)
	assert.Equal(t, types.QueryStatusRegistered, entry.Status)
	assert.Equal(t, types.SharedQueryId(7), entry.SharedID)

	require.NoError(t, c.SetStatus(id, types.QueryStatusFailed, "boom"))
	entry, _ = c.Get(id)
	assert.Equal(t, types.QueryStatusFailed, entry.Status)
	assert.Equal(t, "boom", entry.FailReason)
}

func TestQueryCatalogContributorsOfExcludesStoppedAndFailed(t *testing.T) {
	c := NewQueryCatalog()
	a := c.Add(types.QuerySubmission{}, 1)
	b := c.Add(types.QuerySubmission{}, 1)
	_ = c.Add(types.QuerySubmission{}, 2)

	require.NoError(t, c.SetStatus(b, types.QueryStatusStopped, ""))

	contributors := c.ContributorsOf(1)
	assert.ElementsMatch(t, []types.QueryId{a}, contributors)
}

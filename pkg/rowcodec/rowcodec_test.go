package rowcodec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxmesh/fluxmesh/pkg/types"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	schema := types.Schema{
		{Name: "id", Type: types.FieldTypeUint64},
		{Name: "temp", Type: types.FieldTypeFloat32},
		{Name: "ok", Type: types.FieldTypeBool},
		{Name: "label", Type: types.FieldTypeString},
	}
	rows := []Row{
		{uint64(1), float32(21.5), true, "sensor-a"},
		{uint64(2), float32(19.25), false, "sensor-b"},
	}

	payload, children, err := Encode(schema, rows)
	require.NoError(t, err)
	require.Len(t, children, 2)

	got, err := Decode(schema, payload, func(i int) []byte { return children[i] })
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(1), got[0][0])
	assert.Equal(t, float32(21.5), got[0][1])
	assert.Equal(t, true, got[0][2])
	assert.Equal(t, "sensor-a", got[0][3])
	assert.Equal(t, "sensor-b", got[1][3])
}

func TestDecodeRejectsMisalignedPayload(t *testing.T) {
	schema := types.Schema{{Name: "id", Type: types.FieldTypeUint64}}
	_, err := Decode(schema, []byte{1, 2, 3}, nil)
	assert.Error(t, err)
}

func TestEncodeRejectsMismatchedRowLength(t *testing.T) {
	schema := types.Schema{{Name: "id", Type: types.FieldTypeUint64}}
	_, _, err := Encode(schema, []Row{{uint64(1), uint64(2)}})
	assert.Error(t, err)
}

package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxmesh/fluxmesh/pkg/types"
)

func TestEncodeDecodeDataFrameRoundTrip(t *testing.T) {
	h := types.BufferHeader{
		OriginID:         7,
		SequenceNumber:   42,
		Watermark:        1000,
		CreationTSMillis: 123456,
		TupleCount:       3,
	}
	payload := []byte("fixed-width-tuples")
	children := [][]byte{[]byte("varlen-one"), []byte("varlen-two")}

	buf := EncodeDataFrame(h, payload, children)
	got, err := DecodeDataFrame(buf)
	require.NoError(t, err)

	assert.Equal(t, types.WireMagic, got.Header.Magic)
	assert.Equal(t, types.MsgData, got.Header.MsgType)
	assert.Equal(t, h.OriginID, got.Header.OriginID)
	assert.Equal(t, h.SequenceNumber, got.Header.SequenceNumber)
	assert.Equal(t, h.Watermark, got.Header.Watermark)
	assert.Equal(t, h.CreationTSMillis, got.Header.CreationTSMillis)
	assert.Equal(t, h.TupleCount, got.Header.TupleCount)
	assert.Equal(t, uint32(2), got.Header.NumChildren)
	assert.Equal(t, payload, got.Payload)
	require.Len(t, got.Children, 2)
	assert.Equal(t, children[0], got.Children[0])
	assert.Equal(t, children[1], got.Children[1])
}

func TestDecodeDataFrameNoChildren(t *testing.T) {
	h := types.BufferHeader{OriginID: 1, SequenceNumber: 1}
	buf := EncodeDataFrame(h, []byte("x"), nil)
	got, err := DecodeDataFrame(buf)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), got.Header.NumChildren)
	assert.Empty(t, got.Children)
}

func TestDecodeDataFrameRejectsBadMagic(t *testing.T) {
	buf := EncodeDataFrame(types.BufferHeader{}, []byte("x"), nil)
	buf[0] = 0xff
	_, err := DecodeDataFrame(buf)
	assert.Error(t, err)
}

func TestDecodeDataFrameRejectsTruncated(t *testing.T) {
	buf := EncodeDataFrame(types.BufferHeader{}, []byte("hello world"), nil)
	_, err := DecodeDataFrame(buf[:len(buf)-5])
	assert.Error(t, err)
}

func TestDecodeDataFrameRejectsShortHeader(t *testing.T) {
	_, err := DecodeDataFrame([]byte{1, 2, 3})
	assert.Error(t, err)
}

// Package wire implements the length-prefixed wire format of spec.md §6
// for tuple buffers exchanged between network exchange partitions, plus
// the gRPC codec used by pkg/rpc.
package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/fluxmesh/fluxmesh/pkg/types"
)

// headerSize is the encoded size in bytes of a BufferHeader, matching
// spec.md §6's field list: magic, msg_type, origin_id, sequence_number,
// watermark, creation_ts_ms, tuple_count, payload_size, num_children.
const headerSize = 4 + 1 + 8 + 8 + 8 + 8 + 4 + 4 + 4

// childHeaderSize is the encoded size of one child header (payload_size).
const childHeaderSize = 4

// EncodeDataFrame serializes a data buffer frame: header, payload, then
// one (child header, child payload) pair per child (spec.md §6).
func EncodeDataFrame(h types.BufferHeader, payload []byte, children [][]byte) []byte {
	h.MsgType = types.MsgData
	h.NumChildren = uint32(len(children))
	total := headerSize + len(payload)
	for _, c := range children {
		total += childHeaderSize + len(c)
	}
	buf := make([]byte, total)
	off := encodeHeader(buf, h, uint32(len(payload)))
	off += copy(buf[off:], payload)
	for _, c := range children {
		binary.BigEndian.PutUint32(buf[off:], uint32(len(c)))
		off += 4
		off += copy(buf[off:], c)
	}
	return buf
}

func encodeHeader(buf []byte, h types.BufferHeader, payloadSize uint32) int {
	off := 0
	binary.BigEndian.PutUint32(buf[off:], types.WireMagic)
	off += 4
	buf[off] = byte(h.MsgType)
	off++
	binary.BigEndian.PutUint64(buf[off:], uint64(h.OriginID))
	off += 8
	binary.BigEndian.PutUint64(buf[off:], h.SequenceNumber)
	off += 8
	binary.BigEndian.PutUint64(buf[off:], h.Watermark)
	off += 8
	binary.BigEndian.PutUint64(buf[off:], h.CreationTSMillis)
	off += 8
	binary.BigEndian.PutUint32(buf[off:], h.TupleCount)
	off += 4
	binary.BigEndian.PutUint32(buf[off:], payloadSize)
	off += 4
	binary.BigEndian.PutUint32(buf[off:], h.NumChildren)
	off += 4
	return off
}

// DecodedFrame is the result of decoding a wire frame.
type DecodedFrame struct {
	Header   types.BufferHeader
	Payload  []byte
	Children [][]byte
}

// DecodeDataFrame parses a frame produced by EncodeDataFrame. A bad magic
// is reported as an error; per spec.md §4.2, the caller must close the
// offending connection without affecting others.
func DecodeDataFrame(buf []byte) (*DecodedFrame, error) {
	if len(buf) < headerSize {
		return nil, fmt.Errorf("wire: frame too short for header: %d bytes", len(buf))
	}
	off := 0
	magic := binary.BigEndian.Uint32(buf[off:])
	off += 4
	if magic != types.WireMagic {
		return nil, fmt.Errorf("wire: bad magic %#x, connection must be closed", magic)
	}
	msgType := types.MsgType(buf[off])
	off++
	originID := binary.BigEndian.Uint64(buf[off:])
	off += 8
	seq := binary.BigEndian.Uint64(buf[off:])
	off += 8
	wm := binary.BigEndian.Uint64(buf[off:])
	off += 8
	ts := binary.BigEndian.Uint64(buf[off:])
	off += 8
	tupleCount := binary.BigEndian.Uint32(buf[off:])
	off += 4
	payloadSize := binary.BigEndian.Uint32(buf[off:])
	off += 4
	numChildren := binary.BigEndian.Uint32(buf[off:])
	off += 4

	if off+int(payloadSize) > len(buf) {
		return nil, fmt.Errorf("wire: truncated payload: need %d, have %d", payloadSize, len(buf)-off)
	}
	payload := buf[off : off+int(payloadSize)]
	off += int(payloadSize)

	children := make([][]byte, 0, numChildren)
	for i := uint32(0); i < numChildren; i++ {
		if off+childHeaderSize > len(buf) {
			return nil, fmt.Errorf("wire: truncated child header at index %d", i)
		}
		size := binary.BigEndian.Uint32(buf[off:])
		off += 4
		if off+int(size) > len(buf) {
			return nil, fmt.Errorf("wire: truncated child payload at index %d", i)
		}
		children = append(children, buf[off:off+int(size)])
		off += int(size)
	}

	return &DecodedFrame{
		Header: types.BufferHeader{
			Magic:            magic,
			MsgType:          msgType,
			OriginID:         types.OriginId(originID),
			SequenceNumber:   seq,
			Watermark:        wm,
			CreationTSMillis: ts,
			TupleCount:       tupleCount,
			NumChildren:      numChildren,
		},
		Payload:  payload,
		Children: children,
	}, nil
}

// Package rowcodec encodes and decodes the opaque tuple-buffer payload
// bytes a TupleBuffer carries (spec.md §3 "tuple buffer"), giving the
// operator kernels (C4) a concrete row representation to execute
// against. Fixed-width fields are packed row-major into the main
// payload; TEXT fields are stored as a 4-byte child-buffer index, with
// the actual bytes carried in one of the buffer's attached children
// (spec.md §6: "child buffers carry variable-length field payloads").
package rowcodec

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/fluxmesh/fluxmesh/pkg/types"
)

// Row is one tuple's values, ordered and typed per its schema.
type Row []any

// FixedWidth returns the number of payload bytes one field occupies.
// TEXT fields occupy 4 bytes: the index of their value's child buffer.
func FixedWidth(t types.FieldType) int {
	switch t {
	case types.FieldTypeBool, types.FieldTypeInt8, types.FieldTypeUint8:
		return 1
	case types.FieldTypeInt16, types.FieldTypeUint16:
		return 2
	case types.FieldTypeInt32, types.FieldTypeUint32, types.FieldTypeFloat32, types.FieldTypeString:
		return 4
	case types.FieldTypeInt64, types.FieldTypeUint64, types.FieldTypeFloat64:
		return 8
	default:
		return 0
	}
}

// RowWidth returns the fixed payload width of one row under schema.
func RowWidth(schema types.Schema) int {
	w := 0
	for _, f := range schema {
		w += FixedWidth(f.Type)
	}
	return w
}

// Encode packs rows into a fixed-width payload. Each TEXT value produces
// one entry in the returned children slice, in encounter order; the
// payload stores that entry's index.
func Encode(schema types.Schema, rows []Row) (payload []byte, children [][]byte, err error) {
	width := RowWidth(schema)
	payload = make([]byte, 0, width*len(rows))
	for _, row := range rows {
		if len(row) != len(schema) {
			return nil, nil, fmt.Errorf("rowcodec: row has %d values, schema has %d fields", len(row), len(schema))
		}
		for i, f := range schema {
			b, child, encErr := encodeValue(f.Type, row[i], len(children))
			if encErr != nil {
				return nil, nil, fmt.Errorf("rowcodec: field %q: %w", f.Name, encErr)
			}
			payload = append(payload, b...)
			if child != nil {
				children = append(children, child)
			}
		}
	}
	return payload, children, nil
}

func encodeValue(t types.FieldType, v any, nextChildIndex int) ([]byte, []byte, error) {
	buf := make([]byte, FixedWidth(t))
	switch t {
	case types.FieldTypeBool:
		if v.(bool) {
			buf[0] = 1
		}
	case types.FieldTypeInt8:
		buf[0] = byte(v.(int8))
	case types.FieldTypeUint8:
		buf[0] = v.(uint8)
	case types.FieldTypeInt16:
		binary.BigEndian.PutUint16(buf, uint16(v.(int16)))
	case types.FieldTypeUint16:
		binary.BigEndian.PutUint16(buf, v.(uint16))
	case types.FieldTypeInt32:
		binary.BigEndian.PutUint32(buf, uint32(v.(int32)))
	case types.FieldTypeUint32:
		binary.BigEndian.PutUint32(buf, v.(uint32))
	case types.FieldTypeFloat32:
		binary.BigEndian.PutUint32(buf, math.Float32bits(v.(float32)))
	case types.FieldTypeInt64:
		binary.BigEndian.PutUint64(buf, uint64(v.(int64)))
	case types.FieldTypeUint64:
		binary.BigEndian.PutUint64(buf, v.(uint64))
	case types.FieldTypeFloat64:
		binary.BigEndian.PutUint64(buf, math.Float64bits(v.(float64)))
	case types.FieldTypeString:
		binary.BigEndian.PutUint32(buf, uint32(nextChildIndex))
		return buf, []byte(v.(string)), nil
	default:
		return nil, nil, fmt.Errorf("unsupported field type %q", t)
	}
	return buf, nil, nil
}

// Decode unpacks payload into rows under schema, resolving TEXT values
// through childAt (typically buffer.TupleBuffer.ChildAt(i).Payload).
func Decode(schema types.Schema, payload []byte, childAt func(index int) []byte) ([]Row, error) {
	width := RowWidth(schema)
	if width == 0 {
		return nil, nil
	}
	if len(payload)%width != 0 {
		return nil, fmt.Errorf("rowcodec: payload length %d not a multiple of row width %d", len(payload), width)
	}
	rows := make([]Row, 0, len(payload)/width)
	off := 0
	for off < len(payload) {
		row := make(Row, len(schema))
		for i, f := range schema {
			w := FixedWidth(f.Type)
			v, err := decodeValue(f.Type, payload[off:off+w], childAt)
			if err != nil {
				return nil, fmt.Errorf("rowcodec: field %q: %w", f.Name, err)
			}
			row[i] = v
			off += w
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func decodeValue(t types.FieldType, b []byte, childAt func(int) []byte) (any, error) {
	switch t {
	case types.FieldTypeBool:
		return b[0] != 0, nil
	case types.FieldTypeInt8:
		return int8(b[0]), nil
	case types.FieldTypeUint8:
		return b[0], nil
	case types.FieldTypeInt16:
		return int16(binary.BigEndian.Uint16(b)), nil
	case types.FieldTypeUint16:
		return binary.BigEndian.Uint16(b), nil
	case types.FieldTypeInt32:
		return int32(binary.BigEndian.Uint32(b)), nil
	case types.FieldTypeUint32:
		return binary.BigEndian.Uint32(b), nil
	case types.FieldTypeFloat32:
		return math.Float32frombits(binary.BigEndian.Uint32(b)), nil
	case types.FieldTypeInt64:
		return int64(binary.BigEndian.Uint64(b)), nil
	case types.FieldTypeUint64:
		return binary.BigEndian.Uint64(b), nil
	case types.FieldTypeFloat64:
		return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
	case types.FieldTypeString:
		idx := int(binary.BigEndian.Uint32(b))
		raw := childAt(idx)
		if raw == nil {
			return nil, fmt.Errorf("missing child buffer at index %d", idx)
		}
		return string(raw), nil
	default:
		return nil, fmt.Errorf("unsupported field type %q", t)
	}
}

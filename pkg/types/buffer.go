package types

// BufferHeader is the fixed-size header of a tuple buffer, matching the
// wire format of spec.md §6. Fields are immutable once the buffer leaves
// the source that created it, except TupleCount and SequenceNumber which
// are written exactly once by the downstream owner (spec.md §4.1
// invariant (ii)).
type BufferHeader struct {
	Magic             uint32
	MsgType           MsgType
	OriginID          OriginId
	SequenceNumber    uint64
	Watermark         uint64 // ms since epoch
	CreationTSMillis  uint64
	TupleCount        uint32
	NumChildren       uint32
}

// MsgType tags the three message classes of spec.md §4.2.
type MsgType uint8

const (
	MsgData MsgType = iota + 1
	MsgEvent
	MsgEndOfStream
)

// WireMagic is the fixed magic number every frame begins with
// (spec.md §6). A mismatch means a corrupted header and the connection
// is torn down (spec.md §4.2 failure policy).
const WireMagic uint32 = 0x464c5853 // "FLXS"

// EOSTerminationType mirrors TerminationType on the wire for EndOfStream
// control messages (spec.md §4.2).
type EOSTerminationType = TerminationType

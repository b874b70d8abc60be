// Package buffer implements the Tuple Buffer & Memory Manager (C1):
// fixed-size pooled buffers with reference counts and child-buffer
// chaining for variable-length payloads (spec.md §4.1).
package buffer

import (
	"sync"
	"sync/atomic"

	"github.com/fluxmesh/fluxmesh/pkg/types"
)

// ChildBuffer carries one variable-length field payload, prefixed on the
// wire by its own 32-bit length (spec.md §3, §6).
type ChildBuffer struct {
	Payload []byte
}

// TupleBuffer is a reference-counted block handed out by a Pool. Header
// fields are immutable once the buffer leaves its creating source, except
// TupleCount and SequenceNumber which the downstream owner writes exactly
// once (spec.md §4.1 invariant (ii)).
type TupleBuffer struct {
	Header   types.BufferHeader
	Payload  []byte
	children     []*ChildBuffer
	refCount     atomic.Int32
	pool         *Pool            // nil for unpooled buffers
	unpooledFrom *UnpooledLimiter // set instead of pool for unpooled buffers
	unpooledSize int
}

// AttachChild appends a child buffer and returns its stable index
// (spec.md §4.1: "child indexes are stable").
func (b *TupleBuffer) AttachChild(child *ChildBuffer) int {
	b.children = append(b.children, child)
	b.Header.NumChildren = uint32(len(b.children))
	return len(b.children) - 1
}

// ChildAt returns the child buffer at index, or nil if out of range.
func (b *TupleBuffer) ChildAt(index int) *ChildBuffer {
	if index < 0 || index >= len(b.children) {
		return nil
	}
	return b.children[index]
}

// NumChildren returns the number of attached child buffers.
func (b *TupleBuffer) NumChildren() int {
	return len(b.children)
}

// Retain increments the reference count; callers that hand the buffer to
// more than one downstream consumer must retain once per extra consumer.
func (b *TupleBuffer) Retain() {
	b.refCount.Add(1)
}

// Release decrements the reference count. When it reaches zero the
// buffer's backing memory is returned to its owning pool (spec.md §4.1
// invariant (iv): "the pool releases memory only when all references
// drop"). Releasing an unpooled buffer past zero references is a no-op
// beyond the final release.
func (b *TupleBuffer) Release() {
	if b.refCount.Add(-1) != 0 {
		return
	}
	if b.pool != nil {
		b.pool.reclaim(b)
		return
	}
	if b.unpooledFrom != nil {
		b.unpooledFrom.release(b.unpooledSize)
	}
}

// RefCount returns the current reference count, for tests and diagnostics.
func (b *TupleBuffer) RefCount() int32 {
	return b.refCount.Load()
}

var bufPool = sync.Pool{New: func() any { return &TupleBuffer{} }}

// Package operators implements the Operator Kernels (C4, spec.md §4.4):
// the executable units a compiled pipeline chains together. Every kernel
// exposes Setup/Execute/Close; some also implement Opener for per-buffer
// setup such as capturing sequence numbers. Kernels communicate by
// calling the next kernel's Execute with a possibly rewritten buffer,
// wired as a PipelineStage chain at pipeline-compile time rather than
// threaded through every call (spec.md §4.4).
package operators

import (
	"context"

	"github.com/fluxmesh/fluxmesh/pkg/buffer"
)

// PipelineStage is one compiled kernel in a pipeline chain. It satisfies
// runtime.Executable (Execute, Name), plus the lifecycle hooks the
// runtime invokes around a pipeline's active lifetime.
type PipelineStage interface {
	Name() string
	Setup(ctx context.Context) error
	Execute(ctx context.Context, buf *buffer.TupleBuffer) error
	Close(ctx context.Context) error
}

// Opener is implemented by kernels needing per-buffer setup, e.g. to
// capture the incoming sequence number before rewriting a buffer.
type Opener interface {
	Open(ctx context.Context, buf *buffer.TupleBuffer) error
}

// childAt adapts a TupleBuffer's attached children into the lookup
// rowcodec.Decode expects for TEXT fields.
func childAt(buf *buffer.TupleBuffer) func(int) []byte {
	return func(i int) []byte {
		c := buf.ChildAt(i)
		if c == nil {
			return nil
		}
		return c.Payload
	}
}

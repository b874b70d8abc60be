package operators

import (
	"context"
	"fmt"
	"io"

	"github.com/fluxmesh/fluxmesh/pkg/buffer"
	"github.com/fluxmesh/fluxmesh/pkg/errs"
	"github.com/fluxmesh/fluxmesh/pkg/network"
	"github.com/fluxmesh/fluxmesh/pkg/rowcodec"
	"github.com/fluxmesh/fluxmesh/pkg/types"
)

// PrintSink writes every row as a formatted line to an io.Writer
// (spec.md §4.4 sink kernel, "print" variant of types.SinkPayload.Kind).
// It is the terminal kernel of a pipeline: it never forwards.
type PrintSink struct {
	schema types.Schema
	w      io.Writer
}

func NewPrintSink(schema types.Schema, w io.Writer) *PrintSink {
	return &PrintSink{schema: schema, w: w}
}

func (s *PrintSink) Name() string                   { return "sink:print" }
func (s *PrintSink) Setup(ctx context.Context) error { return nil }
func (s *PrintSink) Close(ctx context.Context) error { return nil }

func (s *PrintSink) Execute(ctx context.Context, buf *buffer.TupleBuffer) error {
	defer buf.Release()

	rows, err := rowcodec.Decode(s.schema, buf.Payload, childAt(buf))
	if err != nil {
		return errs.RuntimeDataError("sink:print: decode rows", err)
	}
	for _, row := range rows {
		if _, err := fmt.Fprintln(s.w, formatRow(s.schema, row)); err != nil {
			return errs.RuntimeSystemError("sink:print: write", err)
		}
	}
	return nil
}

func formatRow(schema types.Schema, row rowcodec.Row) string {
	out := "{"
	for i, f := range schema {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%s=%v", f.Name, row[i])
	}
	return out + "}"
}

// NetworkSink streams encoded buffers across a worker boundary through a
// network.Sender, the placement-introduced counterpart of a
// network_source operator (spec.md §4.7 invariant (ii)). It forwards
// EOS via SendEOS rather than Execute, so it has no downstream.
type NetworkSink struct {
	sender *network.Sender
}

func NewNetworkSink(sender *network.Sender) *NetworkSink {
	return &NetworkSink{sender: sender}
}

func (s *NetworkSink) Name() string                   { return "sink:network" }
func (s *NetworkSink) Setup(ctx context.Context) error { return nil }
func (s *NetworkSink) Close(ctx context.Context) error { return s.sender.Close() }

func (s *NetworkSink) Execute(ctx context.Context, buf *buffer.TupleBuffer) error {
	defer buf.Release()

	children := make([][]byte, buf.NumChildren())
	for i := range children {
		children[i] = buf.ChildAt(i).Payload
	}
	if err := s.sender.SendData(buf.Header, buf.Payload, children); err != nil {
		return errs.RuntimeSystemError("sink:network: send data frame", err)
	}
	return nil
}

// SendEOS forwards a pipeline's terminal EOS to the remote receiver.
// Called by the runtime's stop path, not from Execute.
func (s *NetworkSink) SendEOS(termination types.TerminationType) error {
	return s.sender.SendEOS(termination)
}

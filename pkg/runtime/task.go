package runtime

import (
	"context"

	"github.com/fluxmesh/fluxmesh/pkg/buffer"
	"github.com/fluxmesh/fluxmesh/pkg/types"
)

// Executable is either a compiled pipeline stage or a sink, the two task
// classes a worker thread runs (spec.md §4.3: "A task is the pair
// (executable, buffer)").
type Executable interface {
	Execute(ctx context.Context, buf *buffer.TupleBuffer) error
	Name() string
}

// Task pairs an Executable with the buffer it should run against. A
// zero-value Task (Exec == nil) is the poison pill Shutdown enqueues
// to wake a blocked worker.
type Task struct {
	Exec      Executable
	Buf       *buffer.TupleBuffer
	SubPlanID types.SubPlanId
}

func (t Task) isPoison() bool { return t.Exec == nil }

// PoisonPill returns the sentinel task that tells one worker to stop.
func PoisonPill() Task { return Task{} }

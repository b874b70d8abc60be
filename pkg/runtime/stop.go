package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/fluxmesh/fluxmesh/pkg/types"
)

// SourceHandle is the stop-control surface a source implementation
// exposes to the runtime; IsNetwork distinguishes network sources
// (fed by an upstream worker) from leaf sources, which is what
// distinguishes graceful stop's scope (spec.md §4.3).
type SourceHandle interface {
	IsNetwork() bool
	StopGraceful(ctx context.Context) error
	StopHard(ctx context.Context) error
	Fail(ctx context.Context) error
}

// PipelineHandle is the stop-control surface a compiled pipeline stage
// exposes. Pipelines never stop gracefully on their own; they observe
// EOS propagating from upstream sources instead.
type PipelineHandle interface {
	StopHard(ctx context.Context) error
	Fail(ctx context.Context) error
}

// SubplanHandle exposes one deployed subplan's sources and pipelines,
// in the topological order StopHard must walk (spec.md §4.3: "sources
// and pipelines are force-stopped in topological order").
type SubplanHandle interface {
	Sources() []SourceHandle
	Pipelines() []PipelineHandle
}

// Stop implements the three termination classes of spec.md §4.3.
// gracefulDone, when non-nil, is closed once the subplan's termination
// future resolves (i.e. its EOS token accounting finished); Stop uses it
// to detect the graceful deadline expiring and promotes to HardStop.
func Stop(ctx context.Context, subplan types.SubPlanId, handle SubplanHandle, termination types.TerminationType, gracefulDeadline time.Duration, gracefulDone <-chan struct{}) error {
	switch termination {
	case types.TerminationGraceful:
		return stopGraceful(ctx, subplan, handle, gracefulDeadline, gracefulDone)
	case types.TerminationHardStop:
		return stopHard(ctx, handle)
	case types.TerminationFailure:
		return stopFailure(ctx, handle)
	default:
		return fmt.Errorf("runtime: unknown termination type %q", termination)
	}
}

// stopGraceful stops only leaf (non-network) sources and lets EOS
// propagate naturally; if the subplan's termination future has not
// resolved by gracefulDeadline, it promotes to HardStop.
func stopGraceful(ctx context.Context, subplan types.SubPlanId, handle SubplanHandle, deadline time.Duration, done <-chan struct{}) error {
	for _, s := range handle.Sources() {
		if s.IsNetwork() {
			continue
		}
		if err := s.StopGraceful(ctx); err != nil {
			return fmt.Errorf("runtime: graceful stop of subplan %d: %w", subplan, err)
		}
	}

	if done == nil {
		return nil
	}
	timer := time.NewTimer(deadline)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		return stopHard(ctx, handle)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// stopHard force-stops every source then every pipeline, in the
// caller-supplied topological order.
func stopHard(ctx context.Context, handle SubplanHandle) error {
	for _, s := range handle.Sources() {
		if err := s.StopHard(ctx); err != nil {
			return fmt.Errorf("runtime: hard stop source: %w", err)
		}
	}
	for _, p := range handle.Pipelines() {
		if err := p.StopHard(ctx); err != nil {
			return fmt.Errorf("runtime: hard stop pipeline: %w", err)
		}
	}
	return nil
}

// stopFailure fails every source; pipelines observe the resulting
// failure EOS through the ordinary reconfiguration path and release
// their handlers there.
func stopFailure(ctx context.Context, handle SubplanHandle) error {
	for _, s := range handle.Sources() {
		if err := s.Fail(ctx); err != nil {
			return fmt.Errorf("runtime: fail source: %w", err)
		}
	}
	return nil
}

package runtime

import (
	"sync"

	"github.com/fluxmesh/fluxmesh/pkg/types"
)

// eosTracker implements the end-of-stream token accounting of spec.md
// §4.3: each subplan starts with a counter of 1 + |sources| + |pipelines|
// + |sinks|. Every source, pipeline, and sink decrements exactly once on
// completion; the self-token (the initial 1) is what is left once every
// other participant has decremented, at which point the subplan is
// finished.
//
// The decision to finalize when the counter reaches 1 rather than 2
// resolves an apparent off-by-one in the token description: once every
// source, pipeline, and sink has decremented, the counter is 1, not 2.
// See DESIGN.md.
type eosTracker struct {
	mu       sync.Mutex
	counters map[types.SubPlanId]int
}

func newEOSTracker() *eosTracker {
	return &eosTracker{counters: make(map[types.SubPlanId]int)}
}

// init registers a subplan's token budget. Calling init twice for the
// same subplan resets its counter.
func (t *eosTracker) init(subplan types.SubPlanId, numSources, numPipelines, numSinks int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counters[subplan] = 1 + numSources + numPipelines + numSinks
}

// decrement records one participant's completion and reports whether the
// subplan has now reached its self-token, i.e. is finished.
func (t *eosTracker) decrement(subplan types.SubPlanId) (remaining int, finished bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.counters[subplan]
	if !ok {
		return 0, false
	}
	c--
	t.counters[subplan] = c
	return c, c == 1
}

// forget drops a finalized subplan's counter.
func (t *eosTracker) forget(subplan types.SubPlanId) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.counters, subplan)
}

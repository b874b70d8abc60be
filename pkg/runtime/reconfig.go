package runtime

import (
	"sync/atomic"

	"github.com/fluxmesh/fluxmesh/pkg/types"
)

// ReconfigKind enumerates the control-plane change classes of spec.md
// §4.3: "setup, soft EOS, hard EOS, failure EOS, destroy,
// propagate-epoch".
type ReconfigKind int

const (
	ReconfigSetup ReconfigKind = iota + 1
	ReconfigSoftEOS
	ReconfigHardEOS
	ReconfigFailureEOS
	ReconfigDestroy
	ReconfigPropagateEpoch
)

func (k ReconfigKind) String() string {
	switch k {
	case ReconfigSetup:
		return "setup"
	case ReconfigSoftEOS:
		return "soft_eos"
	case ReconfigHardEOS:
		return "hard_eos"
	case ReconfigFailureEOS:
		return "failure_eos"
	case ReconfigDestroy:
		return "destroy"
	case ReconfigPropagateEpoch:
		return "propagate_epoch"
	default:
		return "unknown"
	}
}

// PostReconfigurable receives the callback fired once every addressed
// worker thread has observed a reconfiguration message.
type PostReconfigurable interface {
	PostReconfiguration(kind ReconfigKind, epoch uint64)
}

// reconfigBarrier is shared by every per-thread copy of one broadcast; the
// last thread to decrement it to zero invokes the target's callback
// (spec.md §4.3: "the last thread to observe it invokes the
// postReconfiguration callback on the target entity").
type reconfigBarrier struct {
	remaining atomic.Int32
	kind      ReconfigKind
	epoch     uint64
	target    PostReconfigurable
}

// ReconfigMessage is the per-thread copy of a broadcast reconfiguration
// event, carrying the monotonic epoch counter spec.md §4.3 requires.
type ReconfigMessage struct {
	Kind      ReconfigKind
	SubPlanID types.SubPlanId
	Epoch     uint64

	barrier *reconfigBarrier
}

// observe decrements the shared barrier and fires the callback exactly
// once, from whichever thread happens to be last.
func (m ReconfigMessage) observe() {
	if m.barrier.remaining.Add(-1) == 0 {
		m.barrier.target.PostReconfiguration(m.barrier.kind, m.barrier.epoch)
	}
}

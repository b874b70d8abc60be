// Package rpc implements the coordinator-to-worker deployment RPC of
// spec.md §6 ("Coordinator ↔ Worker RPC: RegisterQuery, ... StartQuery,
// StopQuery(terminationType)") over real gRPC transport, using the
// pkg/wire JSON-codec substitution in place of protoc-generated stubs:
// the service descriptor and method handlers below are the same shape
// protoc-gen-go-grpc would emit, hand-written so no .proto file or code
// generator is required. Client implements placement.WorkerClient over
// the wire; Server adapts the same three calls to a *worker.Executor.
package rpc

import (
	"github.com/fluxmesh/fluxmesh/pkg/types"
)

// RegisterRequest carries a subplan for a worker to compile and hold,
// without running it yet (spec.md §6 RegisterQuery).
type RegisterRequest struct {
	TraceID       string              `json:"traceId"`
	SharedQueryID uint64              `json:"sharedQueryId"`
	Subplan       *types.LogicalPlan  `json:"subplan"`
}

// RegisterReply is empty: success is the absence of an error.
type RegisterReply struct{}

// StartRequest begins execution of an already-registered shared plan
// (spec.md §6 StartQuery).
type StartRequest struct {
	TraceID       string `json:"traceId"`
	SharedQueryID uint64 `json:"sharedQueryId"`
}

// StartReply is empty: success is the absence of an error.
type StartReply struct{}

// StopRequest tears a shared plan down with the given termination
// semantics (spec.md §6 StopQuery(terminationType)).
type StopRequest struct {
	TraceID       string               `json:"traceId"`
	SharedQueryID uint64               `json:"sharedQueryId"`
	Termination   types.TerminationType `json:"termination"`
}

// StopReply is empty: success is the absence of an error.
type StopReply struct{}

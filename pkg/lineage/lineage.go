// Package lineage implements the lineage buffer abstraction named by the
// `lineage` submission field (spec.md §6: NONE, IN_MEMORY, PERSISTENT,
// REMOTE). A lineage buffer retains emitted tuple buffers for possible
// replay until Trim is called; the coordinator (C8) calls it from
// NotifyEpochTermination on the buffer it keeps for each query
// (spec.md §4.8).
package lineage

import (
	"fmt"

	"github.com/fluxmesh/fluxmesh/pkg/types"
)

// Mode selects a lineage buffer implementation; it is the same enum the
// query submission surface carries as QuerySubmission.Lineage (spec.md
// §6), reused here rather than redeclared so a submission's Lineage
// field can be passed to Config.Mode directly.
type Mode = types.LineageMode

const (
	ModeNone       = types.LineageNone
	ModeInMemory   = types.LineageInMemory
	ModePersistent = types.LineagePersistent
	ModeRemote     = types.LineageRemote
)

// Entry is one retained tuple buffer, identified by its origin's
// monotonic sequence number within a query.
type Entry struct {
	QueryID          types.QueryId
	SequenceNumber   uint64
	CreationTSMillis uint64
	Payload          []byte
}

// Buffer retains Entries for a query until Trim releases everything at
// or before a barrier timestamp.
type Buffer interface {
	Record(entry Entry) error
	Trim(queryID types.QueryId, barrierTSMillis uint64) error
	Close() error
}

// Config configures whichever Buffer implementation Mode selects.
type Config struct {
	Mode Mode
	// DataDir is required for ModePersistent: the bbolt file lives at
	// <DataDir>/lineage.db, the same layout convention the teacher's
	// storage package used for its own BoltDB file.
	DataDir string
}

// New constructs the Buffer named by cfg.Mode. REMOTE is an
// out-of-scope external collaborator (spec.md §5 non-goals); it is
// accepted as a valid submission value but New refuses to construct one
// locally.
func New(cfg Config) (Buffer, error) {
	switch cfg.Mode {
	case "", ModeNone:
		return &noneBuffer{}, nil
	case ModeInMemory:
		return newMemoryBuffer(), nil
	case ModePersistent:
		return newBoltBuffer(cfg.DataDir)
	case ModeRemote:
		return nil, fmt.Errorf("lineage: REMOTE backend is an external collaborator, not implemented locally")
	default:
		return nil, fmt.Errorf("lineage: unknown mode %q", cfg.Mode)
	}
}

// noneBuffer discards everything immediately: no replay is possible,
// matching lineage=NONE's "best effort, no fault tolerance" contract.
type noneBuffer struct{}

func (noneBuffer) Record(Entry) error              { return nil }
func (noneBuffer) Trim(types.QueryId, uint64) error { return nil }
func (noneBuffer) Close() error                     { return nil }

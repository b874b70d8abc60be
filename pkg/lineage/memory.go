package lineage

import (
	"sync"

	"github.com/fluxmesh/fluxmesh/pkg/types"
)

// memoryBuffer retains entries in process memory, sorted by arrival
// order per query; Trim drops every entry at or before the barrier.
// Lost on process restart, matching lineage=IN_MEMORY's contract.
type memoryBuffer struct {
	mu      sync.Mutex
	entries map[types.QueryId][]Entry
}

func newMemoryBuffer() *memoryBuffer {
	return &memoryBuffer{entries: make(map[types.QueryId][]Entry)}
}

func (b *memoryBuffer) Record(entry Entry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[entry.QueryID] = append(b.entries[entry.QueryID], entry)
	return nil
}

func (b *memoryBuffer) Trim(queryID types.QueryId, barrierTSMillis uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.entries[queryID][:0]
	for _, e := range b.entries[queryID] {
		if e.CreationTSMillis > barrierTSMillis {
			kept = append(kept, e)
		}
	}
	if len(kept) == 0 {
		delete(b.entries, queryID)
		return nil
	}
	b.entries[queryID] = kept
	return nil
}

func (b *memoryBuffer) Close() error { return nil }

// Len returns the number of retained entries for queryID, for tests.
func (b *memoryBuffer) Len(queryID types.QueryId) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries[queryID])
}

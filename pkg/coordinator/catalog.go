package coordinator

import (
	"fmt"
	"sync"

	"github.com/fluxmesh/fluxmesh/pkg/errs"
	"github.com/fluxmesh/fluxmesh/pkg/types"
)

// physicalSource is one origin bound to a logical source and the worker
// that owns it.
type physicalSource struct {
	logicalName string
	workerNode  types.TopologyNodeId
	originID    types.OriginId
}

// SourceCatalog maps logical source names to their schema and tracks
// which topology node owns each physical origin (spec.md §4.8).
type SourceCatalog struct {
	mu        sync.Mutex
	schemas   map[string]types.Schema
	physicals map[string]*physicalSource // physicalName -> binding
	nextOrig  types.OriginId
}

// NewSourceCatalog returns an empty source catalog.
func NewSourceCatalog() *SourceCatalog {
	return &SourceCatalog{
		schemas:   make(map[string]types.Schema),
		physicals: make(map[string]*physicalSource),
	}
}

// RegisterLogicalSource records the schema for a logical source name.
func (c *SourceCatalog) RegisterLogicalSource(name string, schema types.Schema) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if name == "" {
		return errs.Validation("logical source name must not be empty", nil)
	}
	c.schemas[name] = schema.Clone()
	return nil
}

// UnregisterLogicalSource removes a logical source's schema.
func (c *SourceCatalog) UnregisterLogicalSource(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.schemas, name)
}

// RegisterPhysicalSource binds a physical source to a logical source and
// the worker node it lives on, assigning it a fresh OriginId.
func (c *SourceCatalog) RegisterPhysicalSource(workerNode types.TopologyNodeId, logicalName, physicalName string) (types.OriginId, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.schemas[logicalName]; !ok {
		return types.Invalid, errs.NotFound(fmt.Sprintf("unknown logical source %q", logicalName), nil)
	}
	c.nextOrig++
	c.physicals[physicalName] = &physicalSource{logicalName: logicalName, workerNode: workerNode, originID: c.nextOrig}
	return c.nextOrig, nil
}

// UnregisterPhysicalSource removes a physical source binding.
func (c *SourceCatalog) UnregisterPhysicalSource(physicalName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.physicals, physicalName)
}

// Schema returns the schema registered for a logical source.
func (c *SourceCatalog) Schema(logicalName string) (types.Schema, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.schemas[logicalName]
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

// DefaultOrigin returns the first OriginId and owning worker node
// registered for a logical source — enough for scenarios that bind
// exactly one physical source per logical name (spec.md §8 S1-S5).
func (c *SourceCatalog) DefaultOrigin(logicalName string) (types.OriginId, types.TopologyNodeId, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.physicals {
		if p.logicalName == logicalName {
			return p.originID, p.workerNode, true
		}
	}
	return types.Invalid, types.Invalid, false
}

// QueryEntry is one submitted query's catalog row (spec.md §4.8).
type QueryEntry struct {
	ID         types.QueryId
	Submission types.QuerySubmission
	SharedID   types.SharedQueryId
	Status     types.QueryStatus
	FailReason string
}

// QueryCatalog tracks every submitted query's status, plan, and metadata.
type QueryCatalog struct {
	mu      sync.Mutex
	entries map[types.QueryId]*QueryEntry
	next    types.QueryId
}

// NewQueryCatalog returns an empty query catalog.
func NewQueryCatalog() *QueryCatalog {
	return &QueryCatalog{entries: make(map[types.QueryId]*QueryEntry)}
}

// Add registers a new query entry in Registered status and returns its id.
func (c *QueryCatalog) Add(sub types.QuerySubmission, shared types.SharedQueryId) types.QueryId {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next++
	id := c.next
	c.entries[id] = &QueryEntry{ID: id, Submission: sub, SharedID: shared, Status: types.QueryStatusRegistered}
	return id
}

// Get returns a copy of the entry for id, or false if unknown.
func (c *QueryCatalog) Get(id types.QueryId) (QueryEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok {
		return QueryEntry{}, false
	}
	return *e, true
}

// SetStatus transitions a query's status, recording a reason on Failed.
func (c *QueryCatalog) SetStatus(id types.QueryId, status types.QueryStatus, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok {
		return errs.NotFound(fmt.Sprintf("unknown query %d", id), nil)
	}
	e.Status = status
	e.FailReason = reason
	return nil
}

// ContributorsOf returns every query id still pointing at shared, used to
// decide whether stopping one query can tear down the whole shared plan.
func (c *QueryCatalog) ContributorsOf(shared types.SharedQueryId) []types.QueryId {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []types.QueryId
	for id, e := range c.entries {
		if e.SharedID == shared && e.Status != types.QueryStatusStopped && e.Status != types.QueryStatusFailed {
			out = append(out, id)
		}
	}
	return out
}

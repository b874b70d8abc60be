package coordinator

import (
	"context"
	"fmt"

	"github.com/fluxmesh/fluxmesh/pkg/config"
	"github.com/fluxmesh/fluxmesh/pkg/errs"
	"github.com/fluxmesh/fluxmesh/pkg/lineage"
	"github.com/fluxmesh/fluxmesh/pkg/log"
	"github.com/fluxmesh/fluxmesh/pkg/placement"
	"github.com/fluxmesh/fluxmesh/pkg/types"
)

// Coordinator composes the four catalogs of C8 and drives query
// submission through C6 merging and C7 placement/deployment (spec.md
// §4.8, §6). Methods that touch more than one catalog take each
// catalog's own lock only for the duration of that catalog's call and
// never hold two catalog locks at once, so no cross-catalog lock
// ordering can deadlock.
type Coordinator struct {
	cfg *config.CoordinatorConfig

	Sources  *SourceCatalog
	Queries  *QueryCatalog
	Topology *TopologyRegistry
	Shared   *SharedPlanManager

	nextSubPlan types.SubPlanId
	lineages    map[types.QueryId]lineage.Buffer
}

// New returns a Coordinator backed by fresh, empty catalogs.
func New(cfg *config.CoordinatorConfig) *Coordinator {
	return &Coordinator{
		cfg:      cfg,
		Sources:  NewSourceCatalog(),
		Queries:  NewQueryCatalog(),
		Topology: NewTopologyRegistry(),
		Shared:   NewSharedPlanManager(),
		lineages: make(map[types.QueryId]lineage.Buffer),
	}
}

// RegisterWorker adds a worker node to the topology.
func (c *Coordinator) RegisterWorker(address string, slots int, client placement.WorkerClient) types.TopologyNodeId {
	id := c.Topology.RegisterWorker(address, slots, client)
	log.Info(fmt.Sprintf("worker registered: %s (%d slots, node %d)", address, slots, id))
	return id
}

// UnregisterWorker removes a worker node from the topology.
func (c *Coordinator) UnregisterWorker(id types.TopologyNodeId) {
	c.Topology.UnregisterWorker(id)
	log.Info(fmt.Sprintf("worker unregistered: node %d", id))
}

// RegisterLogicalSource records a logical source's schema.
func (c *Coordinator) RegisterLogicalSource(name string, schema types.Schema) error {
	return c.Sources.RegisterLogicalSource(name, schema)
}

// RegisterPhysicalSource binds a physical source on workerNode to a
// logical source, returning its freshly assigned OriginId.
func (c *Coordinator) RegisterPhysicalSource(workerNode types.TopologyNodeId, logicalName, physicalName string) (types.OriginId, error) {
	return c.Sources.RegisterPhysicalSource(workerNode, logicalName, physicalName)
}

// AddQuery validates, parses, merges, places, and deploys a user query
// submission (spec.md §6 POST /queries, §8 S1-S5).
func (c *Coordinator) AddQuery(ctx context.Context, sub types.QuerySubmission) (types.QueryId, error) {
	if msg := sub.Validate(); msg != "" {
		return types.Invalid, errs.Validation(msg, nil)
	}

	queryPlan, err := c.planFor(sub)
	if err != nil {
		return types.Invalid, err
	}

	shared := c.Shared.AddQuery(types.Invalid, sub.Placement, queryPlan)
	queryID := c.Queries.Add(sub, shared.ID)
	// the shared plan's ChangeLog/ContributingQueries were recorded
	// against the Invalid placeholder id above; fix them up now that
	// the real query id exists.
	c.reassignContributor(shared.ID, queryID)

	sourceNodes, sinkNodes := c.bindingsFor(shared.Plan)

	topo := c.Topology.Snapshot()
	c.nextSubPlan++
	global, err := placement.Place(shared.Plan, topo, shared.ID, c.nextSubPlan, sub.Placement, sourceNodes, sinkNodes)
	if err != nil {
		c.Queries.SetStatus(queryID, types.QueryStatusFailed, err.Error())
		return queryID, err
	}

	clients := c.Topology.Clients()
	if err := placement.Deploy(ctx, global, clients, c.cfg); err != nil {
		c.Queries.SetStatus(queryID, types.QueryStatusFailed, err.Error())
		c.Shared.SetStatus(shared.ID, types.SharedPlanFailed)
		return queryID, err
	}

	c.Shared.SetStatus(shared.ID, types.SharedPlanDeployed)
	c.Queries.SetStatus(queryID, types.QueryStatusRunning, "")

	if sub.Lineage != types.LineageNone {
		buf, err := lineage.New(lineage.Config{Mode: sub.Lineage, DataDir: c.cfg.DataDir})
		if err != nil {
			log.Errorf(fmt.Sprintf("lineage buffer init failed for query %d", queryID), err)
		} else {
			c.lineages[queryID] = buf
		}
	}

	log.Info(fmt.Sprintf("query %d running (shared plan %d)", queryID, shared.ID))
	return queryID, nil
}

// reassignContributor swaps the Invalid placeholder id AddQuery used
// before a real QueryId existed for the actual one, in both the
// contributor set and the most recent change-log entry.
func (c *Coordinator) reassignContributor(shared types.SharedQueryId, queryID types.QueryId) {
	sp, ok := c.Shared.Get(shared)
	if !ok {
		return
	}
	c.Shared.mu.Lock()
	defer c.Shared.mu.Unlock()
	if _, had := sp.ContributingQueries[types.Invalid]; had {
		delete(sp.ContributingQueries, types.Invalid)
		sp.ContributingQueries[queryID] = struct{}{}
	}
	if n := len(sp.ChangeLog); n > 0 && sp.ChangeLog[n-1].QueryID == types.Invalid {
		sp.ChangeLog[n-1].QueryID = queryID
	}
}

// planFor parses the submission's textual query. When QueryPlan bytes
// are provided they are parsed as the same fluent-chain query text; no
// binary serialized plan format is decoded.
func (c *Coordinator) planFor(sub types.QuerySubmission) (*types.LogicalPlan, error) {
	if len(sub.QueryPlan) == 0 {
		return ParseQuery(sub.UserQuery, c.Sources)
	}
	return ParseQuery(string(sub.QueryPlan), c.Sources)
}

// bindingsFor resolves every Source node's physical origin and assigns
// sink nodes a placeholder on the topology root when a caller did not
// pin one explicitly (TopDown without a pinned sink otherwise has no
// anchor; BottomUp ignores sinkNodes entirely).
func (c *Coordinator) bindingsFor(plan *types.LogicalPlan) (map[types.OriginId]types.TopologyNodeId, map[types.OperatorId]types.TopologyNodeId) {
	sourceNodes := make(map[types.OriginId]types.TopologyNodeId)
	for _, id := range plan.Leaves() {
		n := plan.Get(id)
		if n.Source == nil {
			continue
		}
		if _, node, ok := c.Sources.DefaultOrigin(n.Source.LogicalSourceName); ok {
			sourceNodes[n.Source.OriginID] = node
		}
	}

	sinkNodes := make(map[types.OperatorId]types.TopologyNodeId)
	root := c.Topology.Snapshot().Root
	for _, id := range plan.Roots {
		sinkNodes[id] = root
	}
	return sourceNodes, sinkNodes
}

// StopQuery removes a query's contribution from its shared plan, tearing
// the shared plan down across every worker once no contributor remains
// (spec.md §6 DELETE /query/{id}).
func (c *Coordinator) StopQuery(ctx context.Context, queryID types.QueryId, termination types.TerminationType) error {
	entry, ok := c.Queries.Get(queryID)
	if !ok {
		return errs.NotFound(fmt.Sprintf("unknown query %d", queryID), nil)
	}

	remaining, ok := c.Shared.RemoveQuery(queryID, entry.SharedID)
	if !ok {
		return errs.NotFound(fmt.Sprintf("unknown shared plan %d", entry.SharedID), nil)
	}

	if remaining == 0 {
		clients := c.Topology.Clients()
		for _, client := range clients {
			if err := client.Stop(ctx, entry.SharedID, termination); err != nil && !errs.Is(err, errs.KindNotFound) {
				log.Errorf(fmt.Sprintf("stop failed for shared plan %d", entry.SharedID), err)
			}
		}
		c.Shared.Remove(entry.SharedID)
	}

	if buf, ok := c.lineages[queryID]; ok {
		buf.Close()
		delete(c.lineages, queryID)
	}

	return c.Queries.SetStatus(queryID, types.QueryStatusStopped, "")
}

// NotifyQueryFailure marks a running query Failed when a worker reports
// an unrecoverable operator error (spec.md §7 failure propagation).
func (c *Coordinator) NotifyQueryFailure(queryID types.QueryId, subPlanID types.SubPlanId, workerID types.TopologyNodeId, operatorID types.OperatorId, errMsg string) {
	reason := fmt.Sprintf("operator %d on subplan %d (node %d): %s", operatorID, subPlanID, workerID, errMsg)
	if err := c.Queries.SetStatus(queryID, types.QueryStatusFailed, reason); err != nil {
		log.Errorf(fmt.Sprintf("failure notification for unknown query %d", queryID), err)
	}
}

// NotifyEpochTermination trims a query's lineage buffer up to the given
// watermark, once the coordinator has confirmed the epoch committed
// everywhere (spec.md §4.8, §9 lineage GC).
func (c *Coordinator) NotifyEpochTermination(queryID types.QueryId, watermark uint64) {
	buf, ok := c.lineages[queryID]
	if !ok {
		return
	}
	if err := buf.Trim(queryID, watermark); err != nil {
		log.Errorf(fmt.Sprintf("lineage trim failed for query %d", queryID), err)
	}
}

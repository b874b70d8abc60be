package coordinator

import (
	"sync"
	"time"

	"github.com/fluxmesh/fluxmesh/pkg/plan"
	"github.com/fluxmesh/fluxmesh/pkg/types"
)

// SharedPlanManager holds one SharedQueryPlan per placement strategy,
// merging every newly submitted query's plan into it via the C6
// push-down/signature/containment pipeline (spec.md §3, §4.6).
type SharedPlanManager struct {
	mu    sync.Mutex
	plans map[types.PlacementStrategy]*types.SharedQueryPlan
	next  types.SharedQueryId
}

// NewSharedPlanManager returns an empty manager.
func NewSharedPlanManager() *SharedPlanManager {
	return &SharedPlanManager{plans: make(map[types.PlacementStrategy]*types.SharedQueryPlan)}
}

// AddQuery pushes filters down queryPlan and merges it into the shared
// plan for strategy, creating one if none exists yet. Returns the
// resulting (possibly newly created) shared plan.
func (m *SharedPlanManager) AddQuery(queryID types.QueryId, strategy types.PlacementStrategy, queryPlan *types.LogicalPlan) *types.SharedQueryPlan {
	pushed := plan.PushDownFilters(queryPlan)

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.plans[strategy]
	if !ok {
		plan.ComputeSignatures(pushed)
		m.next++
		sp := &types.SharedQueryPlan{
			ID:                  m.next,
			Plan:                pushed,
			ContributingQueries: map[types.QueryId]struct{}{queryID: {}},
			Strategy:            strategy,
			Status:              types.SharedPlanCreated,
			ChangeLog:           []types.ChangeLogEntry{{Kind: types.ChangeAdded, QueryID: queryID, Timestamp: time.Now()}},
		}
		m.plans[strategy] = sp
		return sp
	}

	merged := plan.MergePlans(existing.Plan, pushed)
	plan.ComputeSignatures(merged)
	existing.Plan = merged
	existing.ContributingQueries[queryID] = struct{}{}
	existing.Status = types.SharedPlanUpdated
	existing.ChangeLog = append(existing.ChangeLog, types.ChangeLogEntry{Kind: types.ChangeAdded, QueryID: queryID, Timestamp: time.Now()})
	return existing
}

// RemoveQuery removes a query's contribution from its shared plan,
// returning the number of contributors left (0 means the shared plan can
// be torn down entirely).
func (m *SharedPlanManager) RemoveQuery(queryID types.QueryId, shared types.SharedQueryId) (remaining int, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sp := range m.plans {
		if sp.ID != shared {
			continue
		}
		delete(sp.ContributingQueries, queryID)
		sp.ChangeLog = append(sp.ChangeLog, types.ChangeLogEntry{Kind: types.ChangeRemoved, QueryID: queryID, Timestamp: time.Now()})
		return len(sp.ContributingQueries), true
	}
	return 0, false
}

// Get returns the shared plan by id.
func (m *SharedPlanManager) Get(shared types.SharedQueryId) (*types.SharedQueryPlan, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sp := range m.plans {
		if sp.ID == shared {
			return sp, true
		}
	}
	return nil, false
}

// SetStatus updates a shared plan's lifecycle status.
func (m *SharedPlanManager) SetStatus(shared types.SharedQueryId, status types.SharedPlanStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sp := range m.plans {
		if sp.ID == shared {
			sp.Status = status
			return
		}
	}
}

// Remove deletes a shared plan entirely (all contributors gone).
func (m *SharedPlanManager) Remove(shared types.SharedQueryId) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for strategy, sp := range m.plans {
		if sp.ID == shared {
			delete(m.plans, strategy)
			return
		}
	}
}

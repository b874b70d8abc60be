package placement

import (
	"context"
	"fmt"
	"time"

	"github.com/fluxmesh/fluxmesh/pkg/config"
	"github.com/fluxmesh/fluxmesh/pkg/errs"
	"github.com/fluxmesh/fluxmesh/pkg/types"
)

// WorkerClient is the RPC surface a worker exposes for the two-phase
// deployment protocol (spec.md §4.7): Register installs a compiled
// subplan without running it; Start begins execution; Stop tears one
// down, used here for rollback after a failed Start phase.
type WorkerClient interface {
	Register(ctx context.Context, shared types.SharedQueryId, subplan *types.LogicalPlan) error
	Start(ctx context.Context, shared types.SharedQueryId) error
	Stop(ctx context.Context, shared types.SharedQueryId, termination types.TerminationType) error
}

type startedSubplan struct {
	node   types.TopologyNodeId
	shared types.SharedQueryId
}

// Deploy runs the register/start two-phase protocol of spec.md §4.7
// against every topology node holding a subplan of global. Register
// failures abort the deployment outright (nothing has started yet); a
// Start-phase failure rolls back every subplan already started, via
// HardStop, before returning.
func Deploy(ctx context.Context, global *types.GlobalExecutionPlan, clients map[types.TopologyNodeId]WorkerClient, cfg *config.CoordinatorConfig) error {
	for node, en := range global.Nodes {
		client, ok := clients[node]
		if !ok {
			return errs.DeploymentFailure(fmt.Sprintf("no RPC client for topology node %d", node), nil)
		}
		for shared, sp := range en.Subplans {
			shared, sp := shared, sp
			if err := withRetry(ctx, cfg, func() error { return client.Register(ctx, shared, sp) }); err != nil {
				return errs.DeploymentFailure(fmt.Sprintf("register failed on node %d for shared plan %d", node, shared), err)
			}
		}
	}

	var started []startedSubplan
	for _, node := range startOrder(global) {
		client := clients[node]
		en := global.Nodes[node]
		for shared := range en.Subplans {
			shared := shared
			if err := withRetry(ctx, cfg, func() error { return client.Start(ctx, shared) }); err != nil {
				rollback(ctx, clients, started)
				return errs.DeploymentFailure(fmt.Sprintf("start failed on node %d for shared plan %d", node, shared), err)
			}
			started = append(started, startedSubplan{node: node, shared: shared})
		}
	}
	return nil
}

func rollback(ctx context.Context, clients map[types.TopologyNodeId]WorkerClient, started []startedSubplan) {
	for i := len(started) - 1; i >= 0; i-- {
		s := started[i]
		client, ok := clients[s.node]
		if !ok {
			continue
		}
		_ = client.Stop(ctx, s.shared, types.TerminationHardStop)
	}
}

// withRetry retries op up to cfg.RPCMaxRetries times with exponential
// backoff starting at cfg.RPCBackoffBase, but only for errors tagged
// transient (errs.IsTransient) — anything else aborts immediately.
func withRetry(ctx context.Context, cfg *config.CoordinatorConfig, op func() error) error {
	maxRetries := cfg.RPCMaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}
	backoff := cfg.RPCBackoffBase

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !errs.IsTransient(lastErr) {
			return lastErr
		}
		if attempt == maxRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return lastErr
}

// startOrder returns topology nodes such that every consumer of a
// network partition is started before the producer nodes feeding it:
// the consumer's Start registers the partition on its Transport, and
// the producer's Start dials that Transport from its NetworkSink, which
// the Transport refuses until the partition is registered.
func startOrder(global *types.GlobalExecutionPlan) []types.TopologyNodeId {
	partitionProducer := map[types.PartitionId]types.TopologyNodeId{}
	for node, en := range global.Nodes {
		for _, sp := range en.Subplans {
			for _, n := range sp.Nodes {
				if n.Kind == types.OperatorNetworkSink {
					partitionProducer[n.Network.Partition.Index] = node
				}
			}
		}
	}

	deps := map[types.TopologyNodeId]map[types.TopologyNodeId]bool{}
	for node, en := range global.Nodes {
		for _, sp := range en.Subplans {
			for _, n := range sp.Nodes {
				if n.Kind != types.OperatorNetworkSource {
					continue
				}
				producer, ok := partitionProducer[n.Network.Partition.Index]
				if !ok || producer == node {
					continue
				}
				if deps[producer] == nil {
					deps[producer] = map[types.TopologyNodeId]bool{}
				}
				deps[producer][node] = true
			}
		}
	}

	var nodes []types.TopologyNodeId
	for node := range global.Nodes {
		nodes = append(nodes, node)
	}
	sortNodeIDs(nodes)

	var order []types.TopologyNodeId
	visited := map[types.TopologyNodeId]bool{}
	var visit func(types.TopologyNodeId)
	visit = func(n types.TopologyNodeId) {
		if visited[n] {
			return
		}
		visited[n] = true
		consumers := make([]types.TopologyNodeId, 0, len(deps[n]))
		for c := range deps[n] {
			consumers = append(consumers, c)
		}
		sortNodeIDs(consumers)
		for _, c := range consumers {
			visit(c)
		}
		order = append(order, n)
	}
	for _, n := range nodes {
		visit(n)
	}
	return order
}

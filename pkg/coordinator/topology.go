package coordinator

import (
	"fmt"
	"sync"

	"github.com/fluxmesh/fluxmesh/pkg/errs"
	"github.com/fluxmesh/fluxmesh/pkg/placement"
	"github.com/fluxmesh/fluxmesh/pkg/types"
)

// TopologyRegistry owns the cluster topology and the RPC client used to
// reach each registered worker (spec.md §4.8, §6 RegisterWorker).
type TopologyRegistry struct {
	mu      sync.Mutex
	topo    *types.Topology
	clients map[types.TopologyNodeId]placement.WorkerClient
}

// NewTopologyRegistry returns a registry with just the coordinator's
// logical root node.
func NewTopologyRegistry() *TopologyRegistry {
	topo := types.NewTopology()
	topo.AddNode(&types.TopologyNode{Slots: 0, Properties: map[string]string{}})
	return &TopologyRegistry{topo: topo, clients: make(map[types.TopologyNodeId]placement.WorkerClient)}
}

// RegisterWorker assigns a fresh topology node id for a worker and
// connects it under the coordinator's root, per spec.md §6
// RegisterWorker. A caller-supplied worker id is not accepted; every
// call allocates a new id.
func (r *TopologyRegistry) RegisterWorker(address string, slots int, client placement.WorkerClient) types.TopologyNodeId {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.topo.AddNode(&types.TopologyNode{Address: address, Slots: slots, Properties: map[string]string{}})
	r.topo.Connect(r.topo.Root, id)
	r.clients[id] = client
	return id
}

// UnregisterWorker removes a worker's topology node and RPC client.
func (r *TopologyRegistry) UnregisterWorker(id types.TopologyNodeId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topo.RemoveNode(id)
	delete(r.clients, id)
}

// Snapshot returns the live topology pointer for placement to read.
// Callers must not mutate the slot budget outside this registry's lock.
func (r *TopologyRegistry) Snapshot() *types.Topology {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.topo
}

// Clients returns the live worker-id -> RPC client map for deployment.
func (r *TopologyRegistry) Clients() map[types.TopologyNodeId]placement.WorkerClient {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[types.TopologyNodeId]placement.WorkerClient, len(r.clients))
	for k, v := range r.clients {
		out[k] = v
	}
	return out
}

// SetMaintenance flags or clears a node's maintenance property, so
// placement and path search skip it (spec.md §3).
func (r *TopologyRegistry) SetMaintenance(id types.TopologyNodeId, on bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.topo.Nodes[id]
	if !ok {
		return errs.NotFound(fmt.Sprintf("unknown topology node %d", id), nil)
	}
	if on {
		n.Properties["maintenance"] = "true"
	} else {
		delete(n.Properties, "maintenance")
	}
	return nil
}

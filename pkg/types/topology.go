package types

// TopologyNode is one worker (or the coordinator's logical root node) in
// the topology DAG (spec.md §3).
type TopologyNode struct {
	ID         TopologyNodeId
	Address    string // host:port data-plane address
	Slots      int    // resource counter: integer slot budget
	UsedSlots  int
	Properties map[string]string // maintenance flag, spatial type, capability flags
	Parents    []TopologyNodeId
	Children   []TopologyNodeId
}

// Maintenance reports whether the node is flagged for maintenance and
// should be skipped during path search (spec.md §3 invariant).
func (n *TopologyNode) Maintenance() bool {
	return n.Properties["maintenance"] == "true"
}

// AvailableSlots returns the remaining placement budget on this node.
func (n *TopologyNode) AvailableSlots() int {
	return n.Slots - n.UsedSlots
}

// Topology is a DAG of TopologyNode with at least one root (spec.md §3).
type Topology struct {
	Nodes map[TopologyNodeId]*TopologyNode
	Root  TopologyNodeId
	next  TopologyNodeId
}

// NewTopology returns an empty topology; AddNode must be called to add
// the coordinator's logical root node first.
func NewTopology() *Topology {
	return &Topology{Nodes: make(map[TopologyNodeId]*TopologyNode)}
}

// AddNode assigns a fresh id to n and inserts it.
func (t *Topology) AddNode(n *TopologyNode) TopologyNodeId {
	t.next++
	n.ID = t.next
	t.Nodes[n.ID] = n
	if t.Root == Invalid {
		t.Root = n.ID
	}
	return n.ID
}

// Connect adds a parent/child edge between two existing nodes.
func (t *Topology) Connect(parent, child TopologyNodeId) {
	p := t.Nodes[parent]
	c := t.Nodes[child]
	p.Children = append(p.Children, child)
	c.Parents = append(c.Parents, parent)
}

// RemoveNode deletes a node and unlinks it from every neighbor (spec.md
// §3 invariant: removing a node removes it from all neighbors).
func (t *Topology) RemoveNode(id TopologyNodeId) {
	n, ok := t.Nodes[id]
	if !ok {
		return
	}
	for _, pid := range n.Parents {
		if p, ok := t.Nodes[pid]; ok {
			p.Children = removeID(p.Children, id)
		}
	}
	for _, cid := range n.Children {
		if c, ok := t.Nodes[cid]; ok {
			c.Parents = removeID(c.Parents, id)
		}
	}
	delete(t.Nodes, id)
}

func removeID(ids []TopologyNodeId, target TopologyNodeId) []TopologyNodeId {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

// PathTo performs a BFS from `from` to `to`, skipping maintenance nodes,
// and returns the node ids along the path (inclusive), or nil if no path
// exists (spec.md §3: "maintenance nodes are skipped during path search").
func (t *Topology) PathTo(from, to TopologyNodeId) []TopologyNodeId {
	if from == to {
		if n, ok := t.Nodes[from]; ok && !n.Maintenance() {
			return []TopologyNodeId{from}
		}
		return nil
	}
	visited := map[TopologyNodeId]bool{from: true}
	prev := map[TopologyNodeId]TopologyNodeId{}
	queue := []TopologyNodeId{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		n := t.Nodes[cur]
		if n == nil {
			continue
		}
		neighbors := append(append([]TopologyNodeId{}, n.Children...), n.Parents...)
		for _, next := range neighbors {
			if visited[next] {
				continue
			}
			nn := t.Nodes[next]
			if nn == nil || nn.Maintenance() {
				continue
			}
			visited[next] = true
			prev[next] = cur
			if next == to {
				path := []TopologyNodeId{to}
				for p := cur; ; p = prev[p] {
					path = append([]TopologyNodeId{p}, path...)
					if p == from {
						break
					}
				}
				return path
			}
			queue = append(queue, next)
		}
	}
	return nil
}

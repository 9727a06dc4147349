// Package dag is the workflow engine: the in-memory graph model, level
// assignment shared by scheduling and layout, the per-node status machine and
// the level-by-level executor.
package dag

import (
	"encoding/json"
	"sync"
	"time"
)

// Node is one operation instance within a workflow. Config is opaque to the
// engine and only interpreted by the operation registry.
type Node struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	OperationType string          `json:"operation_type"`
	Config        json.RawMessage `json:"operation_config,omitempty"`
	InputRef      string          `json:"input_dataset_id,omitempty"`
	OutputRef     string          `json:"output_dataset_id,omitempty"`
	Status        NodeStatus      `json:"status"`
	Error         string          `json:"error_message,omitempty"`
	Duration      time.Duration   `json:"-"`
}

// Edge is a directed dependency from one node's output to another node's input.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Graph owns the nodes and edges of one workflow for the duration of an
// execution pass. Every mutation validates structural invariants and never
// partially applies. Views preserve insertion order.
type Graph struct {
	mu sync.RWMutex

	workflowID string
	nodes      map[string]*Node
	order      []string
	edges      []Edge
	edgeSet    map[Edge]struct{}
	incoming   map[string][]Edge
	outgoing   map[string][]Edge
}

// NewGraph returns an empty graph for the given workflow.
func NewGraph(workflowID string) *Graph {
	return &Graph{
		workflowID: workflowID,
		nodes:      make(map[string]*Node),
		edgeSet:    make(map[Edge]struct{}),
		incoming:   make(map[string][]Edge),
		outgoing:   make(map[string][]Edge),
	}
}

// FromParts builds a graph from persisted nodes and edges, running every
// element through AddNode/AddEdge so a corrupted store surfaces as a
// ValidationError instead of reaching the scheduler.
func FromParts(workflowID string, nodes []Node, edges []Edge) (*Graph, error) {
	g := NewGraph(workflowID)
	for _, n := range nodes {
		if err := g.AddNode(n); err != nil {
			return nil, err
		}
	}
	for _, e := range edges {
		if err := g.AddEdge(e.From, e.To); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// WorkflowID returns the workflow this graph belongs to.
func (g *Graph) WorkflowID() string {
	return g.workflowID
}

// AddNode adds a node. Fails if the id is empty or already present.
func (g *Graph) AddNode(n Node) error {
	if n.ID == "" {
		return validationErrorf("", "node id is required")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[n.ID]; ok {
		return validationErrorf(n.ID, "duplicate node id")
	}
	if n.Status == "" {
		n.Status = StatusPending
	}
	node := n
	g.nodes[n.ID] = &node
	g.order = append(g.order, n.ID)
	return nil
}

// AddEdge connects from -> to. The edge is rejected when an endpoint is
// missing, the edge already exists, the target carries an explicit input
// dataset, or the edge would close a cycle.
func (g *Graph) AddEdge(from, to string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[from]; !ok {
		return validationErrorf(from, "edge source not found")
	}
	target, ok := g.nodes[to]
	if !ok {
		return validationErrorf(to, "edge target not found")
	}
	e := Edge{From: from, To: to}
	if _, dup := g.edgeSet[e]; dup {
		return validationErrorf(to, "duplicate edge %s -> %s", from, to)
	}
	if from == to {
		return validationErrorf(from, "edge would create a cycle")
	}
	if target.InputRef != "" {
		return validationErrorf(to, "node has an explicit input dataset and cannot take an upstream edge")
	}
	if g.reachableLocked(to, from) {
		return validationErrorf(to, "edge %s -> %s would create a cycle", from, to)
	}

	g.edges = append(g.edges, e)
	g.edgeSet[e] = struct{}{}
	g.outgoing[from] = append(g.outgoing[from], e)
	g.incoming[to] = append(g.incoming[to], e)
	return nil
}

// reachableLocked reports whether dst can be reached from src by following
// outgoing edges. Iterative to stay bounded on deep graphs.
func (g *Graph) reachableLocked(src, dst string) bool {
	seen := map[string]bool{src: true}
	stack := []string{src}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == dst {
			return true
		}
		for _, e := range g.outgoing[cur] {
			if !seen[e.To] {
				seen[e.To] = true
				stack = append(stack, e.To)
			}
		}
	}
	return false
}

// Validate checks the input-source invariant: a node without incoming edges
// must carry an input dataset reference, a node with incoming edges must not.
func (g *Graph) Validate() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, id := range g.order {
		n := g.nodes[id]
		hasUpstream := len(g.incoming[id]) > 0
		switch {
		case !hasUpstream && n.InputRef == "":
			return validationErrorf(id, "node has no upstream edge and no input dataset")
		case hasUpstream && n.InputRef != "":
			return validationErrorf(id, "node has both an upstream edge and an input dataset")
		}
	}
	return nil
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.order)
}

// Node returns a copy of the node with the given id.
func (g *Graph) Node(id string) (Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	if !ok {
		return Node{}, false
	}
	return *n, true
}

// Nodes returns copies of all nodes in insertion order.
func (g *Graph) Nodes() []Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Node, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, *g.nodes[id])
	}
	return out
}

// Edges returns all edges in insertion order.
func (g *Graph) Edges() []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]Edge(nil), g.edges...)
}

// Incoming returns the edges ending at id in insertion order.
func (g *Graph) Incoming(id string) []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]Edge(nil), g.incoming[id]...)
}

// Outgoing returns the edges starting at id in insertion order.
func (g *Graph) Outgoing(id string) []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]Edge(nil), g.outgoing[id]...)
}

// Descendants returns every node reachable from id, breadth first.
func (g *Graph) Descendants(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []string
	seen := map[string]bool{id: true}
	queue := []string{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range g.outgoing[cur] {
			if seen[e.To] {
				continue
			}
			seen[e.To] = true
			out = append(out, e.To)
			queue = append(queue, e.To)
		}
	}
	return out
}

package dag

// SnapshotNode is the outward view of a node.
type SnapshotNode struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	OperationType string     `json:"operation_type"`
	Status        NodeStatus `json:"status"`
	Level         *int       `json:"level,omitempty"`
	Position      *Point     `json:"position,omitempty"`
}

// SnapshotEdge is the outward view of an edge.
type SnapshotEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Snapshot is the graph shape exposed to API and visualization consumers.
type Snapshot struct {
	WorkflowID string         `json:"workflow_id"`
	Nodes      []SnapshotNode `json:"nodes"`
	Edges      []SnapshotEdge `json:"edges"`
}

// NewSnapshot captures g with the statuses stored on its nodes.
func NewSnapshot(g *Graph) *Snapshot {
	s := &Snapshot{
		WorkflowID: g.WorkflowID(),
		Nodes:      []SnapshotNode{},
		Edges:      []SnapshotEdge{},
	}
	for _, n := range g.Nodes() {
		s.Nodes = append(s.Nodes, SnapshotNode{
			ID:            n.ID,
			Name:          n.Name,
			OperationType: n.OperationType,
			Status:        n.Status,
		})
	}
	for _, e := range g.Edges() {
		s.Edges = append(s.Edges, SnapshotEdge{From: e.From, To: e.To})
	}
	return s
}

// WithLayout annotates every node with its level and layout position.
func (s *Snapshot) WithLayout(levels Levels) *Snapshot {
	positions := Layout(levels)
	for i := range s.Nodes {
		lv := levels.Of(s.Nodes[i].ID)
		p := positions[s.Nodes[i].ID]
		s.Nodes[i].Level = &lv
		s.Nodes[i].Position = &p
	}
	return s
}

package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"tsflow/api/services/dag"
	"tsflow/api/services/datasets"
	"tsflow/api/services/storage"
)

// Gateway adapts the PostgreSQL system of record and the dataset store to
// the executor's persistence boundary. It also loads graphs for the runner.
type Gateway struct {
	storage  storage.Storage
	datasets *datasets.Store
}

var (
	_ dag.Gateway     = (*Gateway)(nil)
	_ dag.GraphLoader = (*Gateway)(nil)
)

func NewGateway(store storage.Storage, ds *datasets.Store) (*Gateway, error) {
	if store == nil {
		return nil, errors.New("gateway: store cannot be nil")
	}
	if ds == nil {
		return nil, errors.New("gateway: dataset store cannot be nil")
	}
	return &Gateway{storage: store, datasets: ds}, nil
}

func parseRef(kind, ref string) (uuid.UUID, error) {
	id, err := uuid.Parse(ref)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s reference %q: %w", kind, ref, err)
	}
	return id, nil
}

// LoadGraph reads the workflow and rebuilds its graph. Stored statuses and
// outputs are carried onto the nodes so snapshots show the last pass.
func (g *Gateway) LoadGraph(ctx context.Context, workflowID string) (*dag.Graph, error) {
	id, err := parseRef("workflow", workflowID)
	if err != nil {
		return nil, err
	}
	wf, err := g.storage.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	return graphOf(wf)
}

// graphOf converts a hydrated workflow into the engine's graph.
func graphOf(wf *storage.Workflow) (*dag.Graph, error) {
	nodes := make([]dag.Node, 0, len(wf.Nodes))
	for _, n := range wf.Nodes {
		dn := dag.Node{
			ID:            n.ID.String(),
			Name:          n.Name,
			OperationType: n.OperationType,
			Config:        n.OperationConfig,
			Status:        dag.NodeStatus(n.Status),
		}
		if n.InputDatasetID != nil {
			dn.InputRef = n.InputDatasetID.String()
		}
		if n.OutputDatasetID != nil {
			dn.OutputRef = n.OutputDatasetID.String()
		}
		if n.ErrorMessage != nil {
			dn.Error = *n.ErrorMessage
		}
		nodes = append(nodes, dn)
	}
	edges := make([]dag.Edge, 0, len(wf.Edges))
	for _, e := range wf.Edges {
		edges = append(edges, dag.Edge{From: e.FromNodeID.String(), To: e.ToNodeID.String()})
	}
	return dag.FromParts(wf.ID.String(), nodes, edges)
}

func (g *Gateway) SaveNodeStatus(ctx context.Context, state dag.NodeState) error {
	id, err := parseRef("node", state.NodeID)
	if err != nil {
		return err
	}
	u := storage.NodeStatusUpdate{NodeID: id, Status: string(state.Status)}
	if state.OutputRef != "" {
		out, err := parseRef("dataset", state.OutputRef)
		if err != nil {
			return err
		}
		u.OutputDatasetID = &out
	}
	if state.Error != "" {
		msg := state.Error
		u.ErrorMessage = &msg
	}
	if state.Status == dag.StatusCompleted || state.Status == dag.StatusFailed {
		ms := state.Duration.Milliseconds()
		u.ExecutionTimeMs = &ms
	}
	return g.storage.SaveNodeStatus(ctx, u)
}

func (g *Gateway) SaveWorkflowStatus(ctx context.Context, workflowID string, status dag.WorkflowStatus) error {
	id, err := parseRef("workflow", workflowID)
	if err != nil {
		return err
	}
	return g.storage.UpdateWorkflowStatus(ctx, id, string(status))
}

func (g *Gateway) LoadDataset(ctx context.Context, ref string) (*datasets.Frame, error) {
	id, err := parseRef("dataset", ref)
	if err != nil {
		return nil, err
	}
	return g.datasets.Load(ctx, id)
}

func (g *Gateway) StoreDataset(ctx context.Context, nodeID string, frame *datasets.Frame) (string, error) {
	id, err := parseRef("node", nodeID)
	if err != nil {
		return "", err
	}
	out, err := g.datasets.SaveOutput(ctx, id, "output of node "+nodeID, frame)
	if err != nil {
		return "", err
	}
	return out.String(), nil
}

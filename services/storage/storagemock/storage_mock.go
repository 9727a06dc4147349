package storagemock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"tsflow/api/services/storage"
)

// StorageMock implements storage.Storage. Each method delegates to its func
// field when set and otherwise returns a benign default.
type StorageMock struct {
	CreateWorkflowMock       func(ctx context.Context, wf *storage.Workflow) error
	CreateWorkflowGraphMock  func(ctx context.Context, wf *storage.Workflow) error
	ListWorkflowsMock        func(ctx context.Context) ([]storage.Workflow, error)
	GetWorkflowMock          func(ctx context.Context, id uuid.UUID) (*storage.Workflow, error)
	DeleteWorkflowMock       func(ctx context.Context, id uuid.UUID) error
	UpdateWorkflowStatusMock func(ctx context.Context, id uuid.UUID, status string) error

	CreateNodeMock     func(ctx context.Context, n *storage.Node) error
	GetNodeMock        func(ctx context.Context, id uuid.UUID) (*storage.Node, error)
	DeleteNodeMock     func(ctx context.Context, id uuid.UUID) error
	SaveNodeStatusMock func(ctx context.Context, u storage.NodeStatusUpdate) error

	CreateEdgeMock func(ctx context.Context, e *storage.Edge) error
	GetEdgeMock    func(ctx context.Context, id uuid.UUID) (*storage.Edge, error)
	DeleteEdgeMock func(ctx context.Context, id uuid.UUID) error

	UpsertDatasetMock func(ctx context.Context, d *storage.Dataset) error
	GetDatasetMock    func(ctx context.Context, id uuid.UUID) (*storage.Dataset, error)
	ListDatasetsMock  func(ctx context.Context) ([]storage.Dataset, error)
	DeleteDatasetMock func(ctx context.Context, id uuid.UUID) error
}

var _ storage.Storage = (*StorageMock)(nil)

func (m *StorageMock) CreateWorkflow(ctx context.Context, wf *storage.Workflow) error {
	if m != nil && m.CreateWorkflowMock != nil {
		return m.CreateWorkflowMock(ctx, wf)
	}
	if wf.ID == uuid.Nil {
		wf.ID = uuid.New()
	}
	if wf.Status == "" {
		wf.Status = "draft"
	}
	wf.CreatedAt, wf.UpdatedAt = time.Now(), time.Now()
	return nil
}

func (m *StorageMock) CreateWorkflowGraph(ctx context.Context, wf *storage.Workflow) error {
	if m != nil && m.CreateWorkflowGraphMock != nil {
		return m.CreateWorkflowGraphMock(ctx, wf)
	}
	if err := m.CreateWorkflow(ctx, wf); err != nil {
		return err
	}
	for i := range wf.Nodes {
		wf.Nodes[i].WorkflowID = wf.ID
		if wf.Nodes[i].ID == uuid.Nil {
			wf.Nodes[i].ID = uuid.New()
		}
	}
	for i := range wf.Edges {
		wf.Edges[i].WorkflowID = wf.ID
		if wf.Edges[i].ID == uuid.Nil {
			wf.Edges[i].ID = uuid.New()
		}
	}
	return nil
}

func (m *StorageMock) ListWorkflows(ctx context.Context) ([]storage.Workflow, error) {
	if m != nil && m.ListWorkflowsMock != nil {
		return m.ListWorkflowsMock(ctx)
	}
	return []storage.Workflow{}, nil
}

func (m *StorageMock) GetWorkflow(ctx context.Context, id uuid.UUID) (*storage.Workflow, error) {
	if m != nil && m.GetWorkflowMock != nil {
		return m.GetWorkflowMock(ctx, id)
	}
	return nil, pgx.ErrNoRows
}

func (m *StorageMock) DeleteWorkflow(ctx context.Context, id uuid.UUID) error {
	if m != nil && m.DeleteWorkflowMock != nil {
		return m.DeleteWorkflowMock(ctx, id)
	}
	return nil
}

func (m *StorageMock) UpdateWorkflowStatus(ctx context.Context, id uuid.UUID, status string) error {
	if m != nil && m.UpdateWorkflowStatusMock != nil {
		return m.UpdateWorkflowStatusMock(ctx, id, status)
	}
	return nil
}

func (m *StorageMock) CreateNode(ctx context.Context, n *storage.Node) error {
	if m != nil && m.CreateNodeMock != nil {
		return m.CreateNodeMock(ctx, n)
	}
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.Status == "" {
		n.Status = "pending"
	}
	n.CreatedAt = time.Now()
	return nil
}

func (m *StorageMock) GetNode(ctx context.Context, id uuid.UUID) (*storage.Node, error) {
	if m != nil && m.GetNodeMock != nil {
		return m.GetNodeMock(ctx, id)
	}
	return nil, pgx.ErrNoRows
}

func (m *StorageMock) DeleteNode(ctx context.Context, id uuid.UUID) error {
	if m != nil && m.DeleteNodeMock != nil {
		return m.DeleteNodeMock(ctx, id)
	}
	return nil
}

func (m *StorageMock) SaveNodeStatus(ctx context.Context, u storage.NodeStatusUpdate) error {
	if m != nil && m.SaveNodeStatusMock != nil {
		return m.SaveNodeStatusMock(ctx, u)
	}
	return nil
}

func (m *StorageMock) CreateEdge(ctx context.Context, e *storage.Edge) error {
	if m != nil && m.CreateEdgeMock != nil {
		return m.CreateEdgeMock(ctx, e)
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	e.CreatedAt = time.Now()
	return nil
}

func (m *StorageMock) GetEdge(ctx context.Context, id uuid.UUID) (*storage.Edge, error) {
	if m != nil && m.GetEdgeMock != nil {
		return m.GetEdgeMock(ctx, id)
	}
	return nil, pgx.ErrNoRows
}

func (m *StorageMock) DeleteEdge(ctx context.Context, id uuid.UUID) error {
	if m != nil && m.DeleteEdgeMock != nil {
		return m.DeleteEdgeMock(ctx, id)
	}
	return nil
}

func (m *StorageMock) UpsertDataset(ctx context.Context, d *storage.Dataset) error {
	if m != nil && m.UpsertDatasetMock != nil {
		return m.UpsertDatasetMock(ctx, d)
	}
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	d.CreatedAt = time.Now()
	return nil
}

func (m *StorageMock) GetDataset(ctx context.Context, id uuid.UUID) (*storage.Dataset, error) {
	if m != nil && m.GetDatasetMock != nil {
		return m.GetDatasetMock(ctx, id)
	}
	return nil, pgx.ErrNoRows
}

func (m *StorageMock) ListDatasets(ctx context.Context) ([]storage.Dataset, error) {
	if m != nil && m.ListDatasetsMock != nil {
		return m.ListDatasetsMock(ctx)
	}
	return []storage.Dataset{}, nil
}

func (m *StorageMock) DeleteDataset(ctx context.Context, id uuid.UUID) error {
	if m != nil && m.DeleteDatasetMock != nil {
		return m.DeleteDatasetMock(ctx, id)
	}
	return nil
}

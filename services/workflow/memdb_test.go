package workflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"tsflow/api/pkg/clients/blob"
	"tsflow/api/services/dag"
	"tsflow/api/services/datasets"
	"tsflow/api/services/operations"
	"tsflow/api/services/storage"
	"tsflow/api/services/storage/storagemock"
)

// memDB keeps workflows and datasets in maps behind a StorageMock so
// handler tests can run whole passes without PostgreSQL.
type memDB struct {
	mu        sync.Mutex
	workflows map[uuid.UUID]*storage.Workflow
	datasets  map[uuid.UUID]storage.Dataset
}

func (m *memDB) findNode(id uuid.UUID) (*storage.Workflow, int) {
	for _, wf := range m.workflows {
		for i := range wf.Nodes {
			if wf.Nodes[i].ID == id {
				return wf, i
			}
		}
	}
	return nil, -1
}

func (m *memDB) mock() *storagemock.StorageMock {
	mock := &storagemock.StorageMock{}
	mock.CreateWorkflowGraphMock = func(_ context.Context, wf *storage.Workflow) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		if wf.ID == uuid.Nil {
			wf.ID = uuid.New()
		}
		wf.Status = "draft"
		wf.CreatedAt, wf.UpdatedAt = time.Now(), time.Now()
		for i := range wf.Nodes {
			wf.Nodes[i].WorkflowID = wf.ID
			wf.Nodes[i].Status = "pending"
		}
		for i := range wf.Edges {
			wf.Edges[i].WorkflowID = wf.ID
		}
		stored := *wf
		stored.Nodes = append([]storage.Node(nil), wf.Nodes...)
		stored.Edges = append([]storage.Edge(nil), wf.Edges...)
		m.workflows[wf.ID] = &stored
		return nil
	}
	mock.GetWorkflowMock = func(_ context.Context, id uuid.UUID) (*storage.Workflow, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		wf, ok := m.workflows[id]
		if !ok {
			return nil, pgx.ErrNoRows
		}
		out := *wf
		out.Nodes = append([]storage.Node{}, wf.Nodes...)
		out.Edges = append([]storage.Edge{}, wf.Edges...)
		return &out, nil
	}
	mock.ListWorkflowsMock = func(context.Context) ([]storage.Workflow, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		out := []storage.Workflow{}
		for _, wf := range m.workflows {
			out = append(out, storage.Workflow{ID: wf.ID, Name: wf.Name, Status: wf.Status})
		}
		return out, nil
	}
	mock.DeleteWorkflowMock = func(_ context.Context, id uuid.UUID) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.workflows[id]; !ok {
			return pgx.ErrNoRows
		}
		delete(m.workflows, id)
		return nil
	}
	mock.UpdateWorkflowStatusMock = func(_ context.Context, id uuid.UUID, status string) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		wf, ok := m.workflows[id]
		if !ok {
			return pgx.ErrNoRows
		}
		wf.Status = status
		return nil
	}
	mock.CreateNodeMock = func(_ context.Context, n *storage.Node) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		wf, ok := m.workflows[n.WorkflowID]
		if !ok {
			return pgx.ErrNoRows
		}
		n.ID, n.Status, n.CreatedAt = uuid.New(), "pending", time.Now()
		wf.Nodes = append(wf.Nodes, *n)
		return nil
	}
	mock.GetNodeMock = func(_ context.Context, id uuid.UUID) (*storage.Node, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		wf, i := m.findNode(id)
		if wf == nil {
			return nil, pgx.ErrNoRows
		}
		n := wf.Nodes[i]
		return &n, nil
	}
	mock.DeleteNodeMock = func(_ context.Context, id uuid.UUID) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		wf, i := m.findNode(id)
		if wf == nil {
			return pgx.ErrNoRows
		}
		wf.Nodes = append(wf.Nodes[:i], wf.Nodes[i+1:]...)
		kept := wf.Edges[:0]
		for _, e := range wf.Edges {
			if e.FromNodeID != id && e.ToNodeID != id {
				kept = append(kept, e)
			}
		}
		wf.Edges = kept
		return nil
	}
	mock.SaveNodeStatusMock = func(_ context.Context, u storage.NodeStatusUpdate) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		wf, i := m.findNode(u.NodeID)
		if wf == nil {
			return pgx.ErrNoRows
		}
		n := &wf.Nodes[i]
		n.Status, n.OutputDatasetID = u.Status, u.OutputDatasetID
		n.ErrorMessage, n.ExecutionTimeMs = u.ErrorMessage, u.ExecutionTimeMs
		return nil
	}
	mock.CreateEdgeMock = func(_ context.Context, e *storage.Edge) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		wf, ok := m.workflows[e.WorkflowID]
		if !ok {
			return pgx.ErrNoRows
		}
		for _, have := range wf.Edges {
			if have.FromNodeID == e.FromNodeID && have.ToNodeID == e.ToNodeID {
				return storage.ErrDuplicate
			}
		}
		e.ID, e.CreatedAt = uuid.New(), time.Now()
		wf.Edges = append(wf.Edges, *e)
		return nil
	}
	mock.GetEdgeMock = func(_ context.Context, id uuid.UUID) (*storage.Edge, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		for _, wf := range m.workflows {
			for _, e := range wf.Edges {
				if e.ID == id {
					return &e, nil
				}
			}
		}
		return nil, pgx.ErrNoRows
	}
	mock.DeleteEdgeMock = func(_ context.Context, id uuid.UUID) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		for _, wf := range m.workflows {
			for i, e := range wf.Edges {
				if e.ID == id {
					wf.Edges = append(wf.Edges[:i], wf.Edges[i+1:]...)
					return nil
				}
			}
		}
		return pgx.ErrNoRows
	}
	mock.UpsertDatasetMock = func(_ context.Context, d *storage.Dataset) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		d.CreatedAt = time.Now()
		m.datasets[d.ID] = *d
		return nil
	}
	mock.GetDatasetMock = func(_ context.Context, id uuid.UUID) (*storage.Dataset, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		d, ok := m.datasets[id]
		if !ok {
			return nil, pgx.ErrNoRows
		}
		return &d, nil
	}
	mock.DeleteDatasetMock = func(_ context.Context, id uuid.UUID) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.datasets, id)
		return nil
	}
	return mock
}

// testEnv is a service wired the way serve wires it, with badger in memory
// and memDB in place of PostgreSQL.
type testEnv struct {
	svc      *Service
	db       *memDB
	store    *storagemock.StorageMock
	datasets *datasets.Store
	runner   *Runner
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := &memDB{
		workflows: make(map[uuid.UUID]*storage.Workflow),
		datasets:  make(map[uuid.UUID]storage.Dataset),
	}
	store := db.mock()

	blobs, err := blob.NewBadgerClient(blob.BadgerConfig{InMemory: true})
	if err != nil {
		t.Fatalf("NewBadgerClient: %v", err)
	}
	t.Cleanup(func() { _ = blobs.Close() })

	ds, err := datasets.NewStore(blobs, store, nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	gw, err := NewGateway(store, ds)
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	ops := operations.NewRegistry()
	exec, err := dag.NewExecutor(ops, gw, dag.WithWorkers(2), dag.WithNodeTimeout(10*time.Second))
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}
	runner, err := NewRunner(exec, gw, nil)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	svc, err := NewService(store, ops, ds, runner)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return &testEnv{svc: svc, db: db, store: store, datasets: ds, runner: runner}
}

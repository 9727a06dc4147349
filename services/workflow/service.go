package workflow

import (
	"errors"

	"github.com/gorilla/mux"

	"tsflow/api/pkg/httpx"
	"tsflow/api/services/dag"
	"tsflow/api/services/datasets"
	"tsflow/api/services/storage"
)

// Catalog is the operation registry as seen by the HTTP layer.
type Catalog interface {
	dag.Operations
	Types() []string
}

// Service handles HTTP requests for workflows, their nodes and edges, and
// execution. Storage is the system of record; the runner owns passes in
// flight.
type Service struct {
	storage  storage.Storage
	ops      Catalog
	datasets *datasets.Store
	runner   *Runner
}

func NewService(store storage.Storage, ops Catalog, ds *datasets.Store, runner *Runner) (*Service, error) {
	if store == nil {
		return nil, errors.New("service: store cannot be nil")
	}
	if ops == nil {
		return nil, errors.New("service: operation catalog cannot be nil")
	}
	if ds == nil {
		return nil, errors.New("service: dataset store cannot be nil")
	}
	if runner == nil {
		return nil, errors.New("service: runner cannot be nil")
	}
	return &Service{storage: store, ops: ops, datasets: ds, runner: runner}, nil
}

func (s *Service) LoadRoutes(parentRouter *mux.Router) {
	parentRouter.Use(httpx.JSON)

	wf := parentRouter.PathPrefix("/workflows").Subrouter()
	wf.StrictSlash(false)
	wf.HandleFunc("", s.HandleCreateWorkflow).Methods("POST")
	wf.HandleFunc("", s.HandleListWorkflows).Methods("GET")
	wf.HandleFunc("/{id}", s.HandleGetWorkflow).Methods("GET")
	wf.HandleFunc("/{id}", s.HandleDeleteWorkflow).Methods("DELETE")
	wf.HandleFunc("/{id}/dag", s.HandleGetDAG).Methods("GET")
	wf.HandleFunc("/{id}/execute", s.HandleExecuteWorkflow).Methods("POST")
	wf.HandleFunc("/{id}/cancel", s.HandleCancelWorkflow).Methods("POST")
	wf.HandleFunc("/{id}/nodes", s.HandleCreateNode).Methods("POST")
	wf.HandleFunc("/{id}/edges", s.HandleCreateEdge).Methods("POST")

	nodes := parentRouter.PathPrefix("/nodes").Subrouter()
	nodes.HandleFunc("/{id}", s.HandleGetNode).Methods("GET")
	nodes.HandleFunc("/{id}", s.HandleDeleteNode).Methods("DELETE")
	nodes.HandleFunc("/{id}/data", s.HandleNodeData).Methods("GET")
	nodes.HandleFunc("/{id}/plot", s.HandleNodePlot).Methods("GET")

	parentRouter.HandleFunc("/edges/{id}", s.HandleDeleteEdge).Methods("DELETE")
	parentRouter.HandleFunc("/operations", s.HandleListOperations).Methods("GET")
}

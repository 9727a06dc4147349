package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"tsflow/api/pkg/httpx"
	"tsflow/api/services/dag"
	"tsflow/api/services/storage"
)

// writeEngineError maps storage and engine errors onto HTTP responses.
// Unknown errors are logged and reported as a generic 500.
func writeEngineError(w http.ResponseWriter, r *http.Request, err error, what string) {
	rid := httpx.ReqID(r)
	var (
		verr *dag.ValidationError
		cerr *dag.ConfigError
	)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		slog.Warn(what+" not found", "requestId", rid)
		httpx.WriteError(w, "NOT_FOUND", what+" not found", http.StatusNotFound)
	case errors.As(err, &verr):
		slog.Warn("graph validation failed", "requestId", rid, "error", err)
		httpx.WriteError(w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
	case errors.As(err, &cerr):
		slog.Warn("operation config rejected", "requestId", rid, "error", err)
		httpx.WriteError(w, "CONFIG_ERROR", err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrRunActive):
		httpx.WriteError(w, "RUN_ACTIVE", "workflow is running; retry when the pass has finished", http.StatusConflict)
	case errors.Is(err, storage.ErrDuplicate):
		httpx.WriteError(w, "DUPLICATE", err.Error(), http.StatusConflict)
	case errors.Is(err, ErrShuttingDown):
		httpx.WriteError(w, "SHUTTING_DOWN", err.Error(), http.StatusServiceUnavailable)
	default:
		slog.Error("request failed", "requestId", rid, "error", err)
		httpx.WriteError(w, "INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
	}
}

// checkInputs verifies that every referenced input dataset exists.
func (s *Service) checkInputs(ctx context.Context, nodes []storage.Node) error {
	for _, n := range nodes {
		if n.InputDatasetID == nil {
			continue
		}
		if _, err := s.storage.GetDataset(ctx, *n.InputDatasetID); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return &dag.ValidationError{NodeID: n.Name, Reason: "input dataset " + n.InputDatasetID.String() + " not found"}
			}
			return err
		}
	}
	return nil
}

// CreateFromDefinition checks def against the registry and the graph rules,
// verifies its input datasets exist and stores the workflow in one
// transaction.
func (s *Service) CreateFromDefinition(ctx context.Context, def *Definition) (*storage.Workflow, error) {
	wf, err := def.Build(s.ops)
	if err != nil {
		return nil, err
	}
	if err := s.checkInputs(ctx, wf.Nodes); err != nil {
		return nil, err
	}
	if err := s.storage.CreateWorkflowGraph(ctx, wf); err != nil {
		return nil, fmt.Errorf("store workflow: %w", err)
	}
	return wf, nil
}

// HandleCreateWorkflow creates a workflow, optionally with a complete graph.
func (s *Service) HandleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var def Definition
	if !httpx.DecodeBody(w, r, &def) {
		return
	}
	wf, err := s.CreateFromDefinition(r.Context(), &def)
	if err != nil {
		writeEngineError(w, r, err, "workflow")
		return
	}
	slog.Info("workflow created", "id", wf.ID, "nodes", len(wf.Nodes), "requestId", httpx.ReqID(r))
	httpx.WriteJSON(w, r, http.StatusCreated, wf)
}

func (s *Service) HandleListWorkflows(w http.ResponseWriter, r *http.Request) {
	list, err := s.storage.ListWorkflows(r.Context())
	if err != nil {
		writeEngineError(w, r, err, "workflow")
		return
	}
	httpx.WriteJSON(w, r, http.StatusOK, list)
}

// HandleGetWorkflow returns the workflow with its nodes and edges.
func (s *Service) HandleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.PathID(w, r, "id", "workflow")
	if !ok {
		return
	}
	slog.Debug("returning workflow definition", "id", id, "requestId", httpx.ReqID(r))

	wf, err := s.storage.GetWorkflow(r.Context(), id)
	if err != nil {
		writeEngineError(w, r, err, "workflow")
		return
	}
	httpx.WriteJSON(w, r, http.StatusOK, wf)
}

func (s *Service) HandleDeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.PathID(w, r, "id", "workflow")
	if !ok {
		return
	}
	err := s.editGraph(id, func() error {
		return s.storage.DeleteWorkflow(r.Context(), id)
	})
	if err != nil {
		writeEngineError(w, r, err, "workflow")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleGetDAG returns the graph snapshot with levels and layout positions
// for visualization.
func (s *Service) HandleGetDAG(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.PathID(w, r, "id", "workflow")
	if !ok {
		return
	}
	wf, err := s.storage.GetWorkflow(r.Context(), id)
	if err != nil {
		writeEngineError(w, r, err, "workflow")
		return
	}
	g, err := graphOf(wf)
	if err != nil {
		writeEngineError(w, r, err, "workflow")
		return
	}
	levels, err := dag.AssignLevels(g)
	if err != nil {
		writeEngineError(w, r, err, "workflow")
		return
	}
	httpx.WriteJSON(w, r, http.StatusOK, dag.NewSnapshot(g).WithLayout(levels))
}

// HandleExecuteWorkflow runs one pass and returns its result. Node failures
// are business outcomes reported with status "failed", not server errors.
// The pass is detached from the request so a dropped connection does not
// abort it; POST /cancel does.
func (s *Service) HandleExecuteWorkflow(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.PathID(w, r, "id", "workflow")
	if !ok {
		return
	}
	rid := httpx.ReqID(r)
	slog.Debug("handling workflow execution", "id", id, "requestId", rid)

	res, err := s.runner.Run(context.WithoutCancel(r.Context()), id.String())
	if err != nil {
		if res != nil {
			// the pass ran but some status writes were lost
			slog.Error("workflow pass not fully persisted", "id", id, "requestId", rid, "error", err)
			httpx.WriteError(w, "INTERNAL_ERROR", "execution finished but its status could not be saved", http.StatusInternalServerError)
			return
		}
		writeEngineError(w, r, err, "workflow")
		return
	}

	if res.Status == dag.WorkflowFailed {
		slog.Warn("workflow completed with failure", "id", id, "requestId", rid)
	}
	httpx.WriteJSON(w, r, http.StatusOK, res)
}

// HandleCancelWorkflow asks the pass in flight to stop. Running nodes
// finish; nodes not yet started stay pending.
func (s *Service) HandleCancelWorkflow(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.PathID(w, r, "id", "workflow")
	if !ok {
		return
	}
	if !s.runner.Cancel(id.String()) {
		httpx.WriteError(w, "NOT_RUNNING", "workflow has no pass in flight", http.StatusConflict)
		return
	}
	httpx.WriteJSON(w, r, http.StatusAccepted, map[string]any{"workflowId": id, "status": "cancelling"})
}

func (s *Service) HandleListOperations(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, r, http.StatusOK, map[string]any{"operations": s.ops.Types()})
}

// editGraph runs a load-check-write sequence on a workflow graph. Edits of
// the same workflow are serialized with each other and with the start of a
// pass, and refused while a pass is in flight.
func (s *Service) editGraph(workflowID uuid.UUID, fn func() error) error {
	return s.runner.Edit(workflowID.String(), fn)
}

package workflow

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"tsflow/api/pkg/httpx"
	"tsflow/api/services/dag"
	"tsflow/api/services/datasets"
	"tsflow/api/services/storage"
)

const (
	defaultDataRows  = 100
	defaultPlotPoint = 10000
)

type createNodeRequest struct {
	Name            string          `json:"name" validate:"required,max=200"`
	OperationType   string          `json:"operationType" validate:"required"`
	OperationConfig json.RawMessage `json:"operationConfig"`
	InputDatasetID  *uuid.UUID      `json:"inputDatasetId"`
}

type createEdgeRequest struct {
	FromNodeID uuid.UUID `json:"fromNodeId" validate:"required"`
	ToNodeID   uuid.UUID `json:"toNodeId" validate:"required"`
}

// HandleCreateNode adds a node to a workflow. The operation config is
// checked by the registry before anything is stored.
func (s *Service) HandleCreateNode(w http.ResponseWriter, r *http.Request) {
	wfID, ok := httpx.PathID(w, r, "id", "workflow")
	if !ok {
		return
	}
	var req createNodeRequest
	if !httpx.DecodeBody(w, r, &req) {
		return
	}
	ctx := r.Context()

	n := &storage.Node{
		WorkflowID:      wfID,
		Name:            req.Name,
		OperationType:   req.OperationType,
		OperationConfig: req.OperationConfig,
		InputDatasetID:  req.InputDatasetID,
	}
	err := s.editGraph(wfID, func() error {
		if _, err := s.storage.GetWorkflow(ctx, wfID); err != nil {
			return err
		}
		if _, err := s.ops.Prepare(req.OperationType, req.OperationConfig); err != nil {
			return &dag.ConfigError{OperationType: req.OperationType, Err: err}
		}
		if err := s.checkInputs(ctx, []storage.Node{*n}); err != nil {
			return err
		}
		return s.storage.CreateNode(ctx, n)
	})
	if err != nil {
		writeEngineError(w, r, err, "workflow")
		return
	}
	slog.Info("node created", "id", n.ID, "workflowId", wfID, "operation", n.OperationType, "requestId", httpx.ReqID(r))
	httpx.WriteJSON(w, r, http.StatusCreated, n)
}

// HandleCreateEdge connects two nodes of a workflow. The edge is applied to
// the current graph first so cycles, duplicates and edges into nodes with
// an explicit input are rejected before they reach the database. Load,
// check and insert run under the workflow's edit lock.
func (s *Service) HandleCreateEdge(w http.ResponseWriter, r *http.Request) {
	wfID, ok := httpx.PathID(w, r, "id", "workflow")
	if !ok {
		return
	}
	var req createEdgeRequest
	if !httpx.DecodeBody(w, r, &req) {
		return
	}
	ctx := r.Context()

	e := &storage.Edge{WorkflowID: wfID, FromNodeID: req.FromNodeID, ToNodeID: req.ToNodeID}
	err := s.editGraph(wfID, func() error {
		wf, err := s.storage.GetWorkflow(ctx, wfID)
		if err != nil {
			return err
		}
		g, err := graphOf(wf)
		if err != nil {
			return err
		}
		if err := g.AddEdge(req.FromNodeID.String(), req.ToNodeID.String()); err != nil {
			return err
		}
		return s.storage.CreateEdge(ctx, e)
	})
	if err != nil {
		writeEngineError(w, r, err, "workflow")
		return
	}
	httpx.WriteJSON(w, r, http.StatusCreated, e)
}

func (s *Service) HandleDeleteEdge(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.PathID(w, r, "id", "edge")
	if !ok {
		return
	}
	e, err := s.storage.GetEdge(r.Context(), id)
	if err != nil {
		writeEngineError(w, r, err, "edge")
		return
	}
	err = s.editGraph(e.WorkflowID, func() error {
		return s.storage.DeleteEdge(r.Context(), id)
	})
	if err != nil {
		writeEngineError(w, r, err, "edge")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) HandleGetNode(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.PathID(w, r, "id", "node")
	if !ok {
		return
	}
	n, err := s.storage.GetNode(r.Context(), id)
	if err != nil {
		writeEngineError(w, r, err, "node")
		return
	}
	httpx.WriteJSON(w, r, http.StatusOK, n)
}

func (s *Service) HandleDeleteNode(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.PathID(w, r, "id", "node")
	if !ok {
		return
	}
	n, err := s.storage.GetNode(r.Context(), id)
	if err != nil {
		writeEngineError(w, r, err, "node")
		return
	}
	err = s.editGraph(n.WorkflowID, func() error {
		return s.storage.DeleteNode(r.Context(), id)
	})
	if err != nil {
		writeEngineError(w, r, err, "node")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// nodeOutput loads the output frame of a node. It writes the response and
// returns nil when the node is unknown or has not produced output yet.
func (s *Service) nodeOutput(w http.ResponseWriter, r *http.Request) (*storage.Node, *datasets.Frame) {
	id, ok := httpx.PathID(w, r, "id", "node")
	if !ok {
		return nil, nil
	}
	n, err := s.storage.GetNode(r.Context(), id)
	if err != nil {
		writeEngineError(w, r, err, "node")
		return nil, nil
	}
	if n.OutputDatasetID == nil {
		httpx.WriteError(w, "NO_OUTPUT", "node has no output; execute the workflow first", http.StatusNotFound)
		return nil, nil
	}
	f, err := s.datasets.Load(r.Context(), *n.OutputDatasetID)
	if err != nil {
		writeEngineError(w, r, err, "output dataset")
		return nil, nil
	}
	return n, f
}

// HandleNodeData previews the rows of a node's output, 100 by default.
func (s *Service) HandleNodeData(w http.ResponseWriter, r *http.Request) {
	limit, ok := datasets.Limit(w, r, defaultDataRows)
	if !ok {
		return
	}
	n, f := s.nodeOutput(w, r)
	if f == nil {
		return
	}
	httpx.WriteJSON(w, r, http.StatusOK, datasets.Preview(n.OutputDatasetID.String(), f, limit))
}

// HandleNodePlot returns one channel of a node's output as x/y arrays.
func (s *Service) HandleNodePlot(w http.ResponseWriter, r *http.Request) {
	limit, ok := datasets.Limit(w, r, defaultPlotPoint)
	if !ok {
		return
	}
	var channel *int
	if raw := r.URL.Query().Get("channel_id"); raw != "" {
		ch, err := strconv.Atoi(raw)
		if err != nil {
			httpx.WriteError(w, "INVALID_QUERY", "channel_id must be an integer", http.StatusBadRequest)
			return
		}
		channel = &ch
	}

	n, f := s.nodeOutput(w, r)
	if f == nil {
		return
	}
	series, err := f.Plot(channel, limit)
	if err != nil {
		httpx.WriteError(w, "INVALID_QUERY", err.Error(), http.StatusBadRequest)
		return
	}
	httpx.WriteJSON(w, r, http.StatusOK, map[string]any{
		"nodeId":          n.ID,
		"outputDatasetId": n.OutputDatasetID,
		"series":          series,
	})
}

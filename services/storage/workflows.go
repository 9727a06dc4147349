package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const workflowColumns = `id, name, description, status, created_at, updated_at, completed_at`

const nodeColumns = `id, workflow_id, name, operation_type, operation_config,
       input_dataset_id, output_dataset_id, status, error_message,
       execution_time_ms, created_at, completed_at`

const edgeColumns = `id, workflow_id, from_node_id, to_node_id, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(s scanner, wf *Workflow) error {
	return s.Scan(&wf.ID, &wf.Name, &wf.Description, &wf.Status, &wf.CreatedAt, &wf.UpdatedAt, &wf.CompletedAt)
}

func scanNode(s scanner, n *Node) error {
	return s.Scan(
		&n.ID, &n.WorkflowID, &n.Name, &n.OperationType, &n.OperationConfig,
		&n.InputDatasetID, &n.OutputDatasetID, &n.Status, &n.ErrorMessage,
		&n.ExecutionTimeMs, &n.CreatedAt, &n.CompletedAt,
	)
}

func scanEdge(s scanner, e *Edge) error {
	return s.Scan(&e.ID, &e.WorkflowID, &e.FromNodeID, &e.ToNodeID, &e.CreatedAt)
}

// CreateWorkflow inserts the workflow header. A zero ID is replaced by a new
// one and an empty status defaults to draft.
func (r *PgStorage) CreateWorkflow(ctx context.Context, wf *Workflow) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	return insertWorkflow(ctx, r.DB, wf)
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func insertWorkflow(ctx context.Context, q rowQuerier, wf *Workflow) error {
	if wf.ID == uuid.Nil {
		wf.ID = uuid.New()
	}
	if wf.Status == "" {
		wf.Status = "draft"
	}
	err := q.QueryRow(ctx, `
        INSERT INTO workflows (id, name, description, status)
        VALUES ($1, $2, $3, $4)
        RETURNING created_at, updated_at`,
		wf.ID, wf.Name, wf.Description, wf.Status,
	).Scan(&wf.CreatedAt, &wf.UpdatedAt)
	return mapWriteErr(err)
}

// CreateWorkflowGraph inserts a workflow with all of its nodes and edges in
// one transaction. Nodes and edges get the workflow's ID.
func (r *PgStorage) CreateWorkflowGraph(ctx context.Context, wf *Workflow) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	return r.writeTx(ctx, func(tx pgx.Tx) error {
		if err := insertWorkflow(ctx, tx, wf); err != nil {
			return fmt.Errorf("insert workflow: %w", err)
		}
		for i := range wf.Nodes {
			wf.Nodes[i].WorkflowID = wf.ID
			if err := insertNode(ctx, tx, &wf.Nodes[i]); err != nil {
				return fmt.Errorf("insert node %q: %w", wf.Nodes[i].Name, err)
			}
		}
		for i := range wf.Edges {
			wf.Edges[i].WorkflowID = wf.ID
			if err := insertEdge(ctx, tx, &wf.Edges[i]); err != nil {
				return fmt.Errorf("insert edge: %w", err)
			}
		}
		return nil
	})
}

// ListWorkflows returns workflow headers, newest first, without nodes or edges.
func (r *PgStorage) ListWorkflows(ctx context.Context) ([]Workflow, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := r.DB.Query(ctx, `SELECT `+workflowColumns+` FROM workflows ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Workflow{}
	for rows.Next() {
		var wf Workflow
		if err := scanWorkflow(rows, &wf); err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	return out, rows.Err()
}

// GetWorkflow retrieves a workflow with its nodes and edges. The three reads
// share one read-only snapshot so a concurrent edit cannot produce an edge
// pointing at a node that is not in the result.
func (r *PgStorage) GetWorkflow(ctx context.Context, id uuid.UUID) (*Workflow, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	wf := &Workflow{Nodes: []Node{}, Edges: []Edge{}}
	err := r.readTx(ctx, func(tx pgx.Tx) error {
		err := scanWorkflow(tx.QueryRow(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE id = $1`, id), wf)
		if err != nil {
			return err // pgx.ErrNoRows if not found
		}

		nodeRows, err := tx.Query(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE workflow_id = $1 ORDER BY seq`, id)
		if err != nil {
			return err
		}
		defer nodeRows.Close()
		for nodeRows.Next() {
			var n Node
			if err := scanNode(nodeRows, &n); err != nil {
				return err
			}
			wf.Nodes = append(wf.Nodes, n)
		}
		if err := nodeRows.Err(); err != nil {
			return err
		}

		edgeRows, err := tx.Query(ctx, `SELECT `+edgeColumns+` FROM edges WHERE workflow_id = $1 ORDER BY seq`, id)
		if err != nil {
			return err
		}
		defer edgeRows.Close()
		for edgeRows.Next() {
			var e Edge
			if err := scanEdge(edgeRows, &e); err != nil {
				return err
			}
			wf.Edges = append(wf.Edges, e)
		}
		return edgeRows.Err()
	})
	if err != nil {
		return nil, err
	}
	return wf, nil
}

// DeleteWorkflow removes the workflow; nodes and edges cascade.
func (r *PgStorage) DeleteWorkflow(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	return r.execOne(ctx, `DELETE FROM workflows WHERE id = $1`, id)
}

// UpdateWorkflowStatus sets the aggregate status. Terminal statuses stamp
// completed_at; running clears it.
func (r *PgStorage) UpdateWorkflowStatus(ctx context.Context, id uuid.UUID, status string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	return r.execOne(ctx, `
        UPDATE workflows
        SET status = $2,
            updated_at = now(),
            completed_at = CASE WHEN $2::text IN ('completed', 'failed', 'cancelled') THEN now() ELSE NULL END
        WHERE id = $1`,
		id, status)
}

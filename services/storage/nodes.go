package storage

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
)

// CreateNode inserts a node. A zero ID is replaced by a new one, an empty
// status defaults to pending and a nil config is stored as {}.
func (r *PgStorage) CreateNode(ctx context.Context, n *Node) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	return insertNode(ctx, r.DB, n)
}

func insertNode(ctx context.Context, q rowQuerier, n *Node) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.Status == "" {
		n.Status = "pending"
	}
	if len(n.OperationConfig) == 0 {
		n.OperationConfig = json.RawMessage(`{}`)
	}
	err := q.QueryRow(ctx, `
        INSERT INTO nodes (id, workflow_id, name, operation_type, operation_config, input_dataset_id, status)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        RETURNING created_at`,
		n.ID, n.WorkflowID, n.Name, n.OperationType, n.OperationConfig, n.InputDatasetID, n.Status,
	).Scan(&n.CreatedAt)
	return mapWriteErr(err)
}

func (r *PgStorage) GetNode(ctx context.Context, id uuid.UUID) (*Node, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var n Node
	if err := scanNode(r.DB.QueryRow(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE id = $1`, id), &n); err != nil {
		return nil, err
	}
	return &n, nil
}

// DeleteNode removes a node; its edges cascade.
func (r *PgStorage) DeleteNode(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	return r.execOne(ctx, `DELETE FROM nodes WHERE id = $1`, id)
}

// SaveNodeStatus records one node transition. Terminal statuses stamp
// completed_at; pending and running clear it.
func (r *PgStorage) SaveNodeStatus(ctx context.Context, u NodeStatusUpdate) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	return r.execOne(ctx, `
        UPDATE nodes
        SET status = $2,
            output_dataset_id = $3,
            error_message = $4,
            execution_time_ms = $5,
            completed_at = CASE WHEN $2::text IN ('completed', 'failed', 'blocked') THEN now() ELSE NULL END
        WHERE id = $1`,
		u.NodeID, u.Status, u.OutputDatasetID, u.ErrorMessage, u.ExecutionTimeMs)
}

func (r *PgStorage) CreateEdge(ctx context.Context, e *Edge) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	return insertEdge(ctx, r.DB, e)
}

func insertEdge(ctx context.Context, q rowQuerier, e *Edge) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	err := q.QueryRow(ctx, `
        INSERT INTO edges (id, workflow_id, from_node_id, to_node_id)
        VALUES ($1, $2, $3, $4)
        RETURNING created_at`,
		e.ID, e.WorkflowID, e.FromNodeID, e.ToNodeID,
	).Scan(&e.CreatedAt)
	return mapWriteErr(err)
}

func (r *PgStorage) GetEdge(ctx context.Context, id uuid.UUID) (*Edge, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var e Edge
	if err := scanEdge(r.DB.QueryRow(ctx, `SELECT `+edgeColumns+` FROM edges WHERE id = $1`, id), &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *PgStorage) DeleteEdge(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	return r.execOne(ctx, `DELETE FROM edges WHERE id = $1`, id)
}

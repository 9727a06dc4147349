package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// queryTimeout bounds every storage call.
const queryTimeout = 5 * time.Second

// ErrDuplicate is returned when an insert violates a unique constraint.
var ErrDuplicate = errors.New("storage: duplicate record")

// DB abstracts the database operations used by the storage layer.
// Satisfied by *pgxpool.Pool in production and pgxmock in tests.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// PgStorage implements Storage on PostgreSQL.
type PgStorage struct {
	DB DB
}

// Storage is the system of record for workflows, their graphs, node status
// and dataset metadata. Lookups of missing rows return pgx.ErrNoRows.
type Storage interface {
	CreateWorkflow(ctx context.Context, wf *Workflow) error
	CreateWorkflowGraph(ctx context.Context, wf *Workflow) error
	ListWorkflows(ctx context.Context) ([]Workflow, error)
	GetWorkflow(ctx context.Context, id uuid.UUID) (*Workflow, error)
	DeleteWorkflow(ctx context.Context, id uuid.UUID) error
	UpdateWorkflowStatus(ctx context.Context, id uuid.UUID, status string) error

	CreateNode(ctx context.Context, n *Node) error
	GetNode(ctx context.Context, id uuid.UUID) (*Node, error)
	DeleteNode(ctx context.Context, id uuid.UUID) error
	SaveNodeStatus(ctx context.Context, u NodeStatusUpdate) error

	CreateEdge(ctx context.Context, e *Edge) error
	GetEdge(ctx context.Context, id uuid.UUID) (*Edge, error)
	DeleteEdge(ctx context.Context, id uuid.UUID) error

	UpsertDataset(ctx context.Context, d *Dataset) error
	GetDataset(ctx context.Context, id uuid.UUID) (*Dataset, error)
	ListDatasets(ctx context.Context) ([]Dataset, error)
	DeleteDataset(ctx context.Context, id uuid.UUID) error
}

// NewInstance creates a new PostgreSQL-backed Storage implementation.
func NewInstance(db *pgxpool.Pool) (*PgStorage, error) {
	if db == nil {
		return nil, fmt.Errorf("repository: db connection cannot be nil")
	}
	return &PgStorage{DB: db}, nil
}

// readTx runs fn inside a read-only repeatable-read transaction so that
// multi-query reads see one consistent snapshot.
func (r *PgStorage) readTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// writeTx runs fn inside a read-write transaction.
func (r *PgStorage) writeTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// execOne runs a statement that must touch exactly one row.
func (r *PgStorage) execOne(ctx context.Context, sql string, args ...any) error {
	tag, err := r.DB.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// mapWriteErr translates constraint violations into package errors.
func mapWriteErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
	}
	return err
}

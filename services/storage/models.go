package storage

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Workflow is a named DAG of nodes. Nodes and Edges are populated by
// GetWorkflow and by CreateWorkflowGraph callers, in insertion order.
type Workflow struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	Name        string     `json:"name" db:"name"`
	Description *string    `json:"description,omitempty" db:"description"`
	Status      string     `json:"status" db:"status"`
	Nodes       []Node     `json:"nodes" db:"-"`
	Edges       []Edge     `json:"edges" db:"-"`
	CreatedAt   time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time  `json:"updatedAt" db:"updated_at"`
	CompletedAt *time.Time `json:"completedAt,omitempty" db:"completed_at"`
}

// Node is one operation instance. OperationConfig is stored as JSONB and
// only interpreted by the operation registry.
type Node struct {
	ID              uuid.UUID       `json:"id" db:"id"`
	WorkflowID      uuid.UUID       `json:"workflowId" db:"workflow_id"`
	Name            string          `json:"name" db:"name"`
	OperationType   string          `json:"operationType" db:"operation_type"`
	OperationConfig json.RawMessage `json:"operationConfig" db:"operation_config"`
	InputDatasetID  *uuid.UUID      `json:"inputDatasetId,omitempty" db:"input_dataset_id"`
	OutputDatasetID *uuid.UUID      `json:"outputDatasetId,omitempty" db:"output_dataset_id"`
	Status          string          `json:"status" db:"status"`
	ErrorMessage    *string         `json:"errorMessage,omitempty" db:"error_message"`
	ExecutionTimeMs *int64          `json:"executionTimeMs,omitempty" db:"execution_time_ms"`
	CreatedAt       time.Time       `json:"createdAt" db:"created_at"`
	CompletedAt     *time.Time      `json:"completedAt,omitempty" db:"completed_at"`
}

// Edge is a directed dependency between two nodes of the same workflow.
type Edge struct {
	ID         uuid.UUID `json:"id" db:"id"`
	WorkflowID uuid.UUID `json:"workflowId" db:"workflow_id"`
	FromNodeID uuid.UUID `json:"fromNodeId" db:"from_node_id"`
	ToNodeID   uuid.UUID `json:"toNodeId" db:"to_node_id"`
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
}

// Dataset is the metadata row of a stored CSV payload. Raw uploads have no
// SourceNodeID; node outputs carry the node that produced them.
type Dataset struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	Name         string     `json:"name" db:"name"`
	Description  *string    `json:"description,omitempty" db:"description"`
	ObjectKey    string     `json:"objectKey" db:"object_key"`
	Kind         string     `json:"kind" db:"kind"`
	RowCount     int64      `json:"rowCount" db:"row_count"`
	ChannelCount int        `json:"channelCount" db:"channel_count"`
	SampleRate   *float64   `json:"sampleRate,omitempty" db:"sample_rate"`
	StartTime    *time.Time `json:"startTime,omitempty" db:"start_time"`
	EndTime      *time.Time `json:"endTime,omitempty" db:"end_time"`
	SourceNodeID *uuid.UUID `json:"sourceNodeId,omitempty" db:"source_node_id"`
	CreatedAt    time.Time  `json:"createdAt" db:"created_at"`
}

// NodeStatusUpdate is the result of one node transition.
type NodeStatusUpdate struct {
	NodeID          uuid.UUID
	Status          string
	OutputDatasetID *uuid.UUID
	ErrorMessage    *string
	ExecutionTimeMs *int64
}

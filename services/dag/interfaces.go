package dag

import (
	"context"
	"encoding/json"

	"tsflow/api/services/datasets"
)

// Operation is a prepared transform: its configuration has already been
// validated by Operations.Prepare.
type Operation interface {
	Execute(ctx context.Context, input *datasets.Frame) (*datasets.Frame, error)
}

// Operations maps an operation-type identifier and its configuration to a
// runnable Operation. Any error returned by Prepare is reported as a
// ConfigError and the operation never runs.
type Operations interface {
	Prepare(operationType string, config json.RawMessage) (Operation, error)
}

// Gateway is the persistence boundary of the executor. The engine never
// assumes a storage technology behind it.
type Gateway interface {
	SaveNodeStatus(ctx context.Context, state NodeState) error
	SaveWorkflowStatus(ctx context.Context, workflowID string, status WorkflowStatus) error
	LoadDataset(ctx context.Context, ref string) (*datasets.Frame, error)
	// StoreDataset persists the output of nodeID and returns its reference.
	// Implementations should derive the reference from the node and content
	// so unchanged reruns yield identical references.
	StoreDataset(ctx context.Context, nodeID string, frame *datasets.Frame) (string, error)
}

// GraphLoader loads the working snapshot of a workflow's graph.
type GraphLoader interface {
	LoadGraph(ctx context.Context, workflowID string) (*Graph, error)
}

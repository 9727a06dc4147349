package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"tsflow/api/pkg/httpx"
	"tsflow/api/services/dag"
	"tsflow/api/services/storage"
)

// Definition describes a complete pipeline: nodes are referenced by a key
// local to the definition and edges connect keys. It is the body of
// POST /workflows and the format of pipeline YAML files.
type Definition struct {
	Name        string           `json:"name" yaml:"name" validate:"required,max=200"`
	Description string           `json:"description,omitempty" yaml:"description"`
	Nodes       []NodeDefinition `json:"nodes" yaml:"nodes" validate:"dive"`
	Edges       []EdgeDefinition `json:"edges" yaml:"edges" validate:"dive"`
}

type NodeDefinition struct {
	Key            string         `json:"key" yaml:"key" validate:"required"`
	Name           string         `json:"name" yaml:"name"`
	OperationType  string         `json:"operationType" yaml:"operation" validate:"required"`
	Config         map[string]any `json:"operationConfig,omitempty" yaml:"config"`
	InputDatasetID string         `json:"inputDatasetId,omitempty" yaml:"input_dataset" validate:"omitempty,uuid"`
}

type EdgeDefinition struct {
	From string `json:"from" yaml:"from" validate:"required"`
	To   string `json:"to" yaml:"to" validate:"required"`
}

// ParseDefinition decodes a YAML pipeline. Unknown keys are rejected.
func ParseDefinition(r io.Reader) (*Definition, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var def Definition
	if err := dec.Decode(&def); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("pipeline: empty document")
		}
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	if err := httpx.Validate(&def); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	return &def, nil
}

// Build checks the definition against the graph invariants and the
// operation registry, then returns the workflow ready for
// CreateWorkflowGraph with fresh IDs. A definition with nodes must be
// runnable as given: every root needs an input dataset.
func (d *Definition) Build(ops dag.Operations) (*storage.Workflow, error) {
	wf := &storage.Workflow{
		ID:    uuid.New(),
		Name:  d.Name,
		Nodes: make([]storage.Node, 0, len(d.Nodes)),
		Edges: make([]storage.Edge, 0, len(d.Edges)),
	}
	if d.Description != "" {
		desc := d.Description
		wf.Description = &desc
	}

	// Keys serve as graph IDs here so validation errors name what the
	// author wrote.
	g := dag.NewGraph(wf.ID.String())
	ids := make(map[string]uuid.UUID, len(d.Nodes))
	for _, nd := range d.Nodes {
		config, err := marshalConfig(nd.Config)
		if err != nil {
			return nil, &dag.ConfigError{NodeID: nd.Key, OperationType: nd.OperationType, Err: err}
		}
		if _, err := ops.Prepare(nd.OperationType, config); err != nil {
			return nil, &dag.ConfigError{NodeID: nd.Key, OperationType: nd.OperationType, Err: err}
		}

		node := storage.Node{
			ID:              uuid.New(),
			Name:            nd.Name,
			OperationType:   nd.OperationType,
			OperationConfig: config,
		}
		if node.Name == "" {
			node.Name = nd.Key
		}
		dn := dag.Node{ID: nd.Key, Name: node.Name, OperationType: nd.OperationType}
		if nd.InputDatasetID != "" {
			in := uuid.MustParse(nd.InputDatasetID)
			node.InputDatasetID = &in
			dn.InputRef = nd.InputDatasetID
		}
		if err := g.AddNode(dn); err != nil {
			return nil, err
		}
		ids[nd.Key] = node.ID
		wf.Nodes = append(wf.Nodes, node)
	}

	for _, ed := range d.Edges {
		if err := g.AddEdge(ed.From, ed.To); err != nil {
			return nil, err
		}
		wf.Edges = append(wf.Edges, storage.Edge{ID: uuid.New(), FromNodeID: ids[ed.From], ToNodeID: ids[ed.To]})
	}

	if len(d.Nodes) > 0 {
		if err := g.Validate(); err != nil {
			return nil, err
		}
	}
	return wf, nil
}

func marshalConfig(cfg map[string]any) (json.RawMessage, error) {
	if len(cfg) == 0 {
		return json.RawMessage(`{}`), nil
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return raw, nil
}

package dag

import (
	"fmt"
	"sync"
	"time"
)

// NodeStatus is the per-node execution state.
type NodeStatus string

const (
	StatusPending   NodeStatus = "pending"
	StatusRunning   NodeStatus = "running"
	StatusCompleted NodeStatus = "completed"
	StatusFailed    NodeStatus = "failed"
	StatusBlocked   NodeStatus = "blocked"
)

// Terminal reports whether no further transition is possible within a pass.
func (s NodeStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusBlocked
}

// WorkflowStatus is the aggregate status of a workflow.
type WorkflowStatus string

const (
	WorkflowDraft     WorkflowStatus = "draft"
	WorkflowRunning   WorkflowStatus = "running"
	WorkflowCompleted WorkflowStatus = "completed"
	WorkflowFailed    WorkflowStatus = "failed"
	WorkflowCancelled WorkflowStatus = "cancelled"
)

// NodeState is the status record of one node, as persisted after every
// transition.
type NodeState struct {
	NodeID    string
	Status    NodeStatus
	OutputRef string
	Error     string
	Duration  time.Duration
}

// Tracker drives every node of a graph through
// pending -> running -> completed|failed, or pending -> blocked.
// All transitions go through one mutex so each node has exactly one writer
// and a status never regresses.
type Tracker struct {
	mu     sync.Mutex
	graph  *Graph
	states map[string]*NodeState
}

// NewTracker returns a tracker with every node of g pending and no outputs,
// which is the reset state of a fresh pass.
func NewTracker(g *Graph) *Tracker {
	t := &Tracker{
		graph:  g,
		states: make(map[string]*NodeState, g.Len()),
	}
	for _, n := range g.Nodes() {
		t.states[n.ID] = &NodeState{NodeID: n.ID, Status: StatusPending}
	}
	return t
}

func (t *Tracker) stateLocked(id string) (*NodeState, error) {
	s, ok := t.states[id]
	if !ok {
		return nil, fmt.Errorf("unknown node %q", id)
	}
	return s, nil
}

func illegal(id string, from, to NodeStatus) error {
	return fmt.Errorf("node %q: %s -> %s: %w", id, from, to, ErrIllegalTransition)
}

// Start moves id to running. When an upstream node failed or was blocked the
// node is blocked instead and a *DependencyBlockedError is returned.
func (t *Tracker) Start(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, err := t.stateLocked(id)
	if err != nil {
		return err
	}
	if s.Status != StatusPending {
		return illegal(id, s.Status, StatusRunning)
	}
	for _, e := range t.graph.Incoming(id) {
		dep := t.states[e.From]
		switch dep.Status {
		case StatusCompleted:
		case StatusFailed, StatusBlocked:
			s.Status = StatusBlocked
			return &DependencyBlockedError{NodeID: id, Dependency: e.From}
		default:
			return fmt.Errorf("node %q: dependency %q is %s: %w", id, e.From, dep.Status, ErrIllegalTransition)
		}
	}
	s.Status = StatusRunning
	return nil
}

// Complete records the output of a running node.
func (t *Tracker) Complete(id, outputRef string, d time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, err := t.stateLocked(id)
	if err != nil {
		return err
	}
	if s.Status != StatusRunning {
		return illegal(id, s.Status, StatusCompleted)
	}
	s.Status = StatusCompleted
	s.OutputRef = outputRef
	s.Error = ""
	s.Duration = d
	return nil
}

// Fail records the error of a running node.
func (t *Tracker) Fail(id string, cause error, d time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, err := t.stateLocked(id)
	if err != nil {
		return err
	}
	if s.Status != StatusRunning {
		return illegal(id, s.Status, StatusFailed)
	}
	s.Status = StatusFailed
	s.OutputRef = ""
	if cause != nil {
		s.Error = cause.Error()
	}
	s.Duration = d
	return nil
}

// Block marks a pending node as blocked.
func (t *Tracker) Block(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, err := t.stateLocked(id)
	if err != nil {
		return err
	}
	if s.Status != StatusPending {
		return illegal(id, s.Status, StatusBlocked)
	}
	s.Status = StatusBlocked
	return nil
}

// BlockDescendants blocks every pending node reachable from id and returns
// the ids that changed.
func (t *Tracker) BlockDescendants(id string) []string {
	var changed []string
	for _, d := range t.graph.Descendants(id) {
		// already terminal nodes keep their status
		if err := t.Block(d); err == nil {
			changed = append(changed, d)
		}
	}
	return changed
}

// State returns a copy of the state of id.
func (t *Tracker) State(id string) (NodeState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.states[id]
	if !ok {
		return NodeState{}, false
	}
	return *s, true
}

// Snapshot returns the state of every node in graph insertion order.
func (t *Tracker) Snapshot() []NodeState {
	nodes := t.graph.Nodes()

	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]NodeState, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, *t.states[n.ID])
	}
	return out
}

// Aggregate derives the workflow status from the node states.
func (t *Tracker) Aggregate() WorkflowStatus {
	states := t.Snapshot()
	statuses := make([]NodeStatus, len(states))
	for i, s := range states {
		statuses[i] = s.Status
	}
	return AggregateStatus(statuses)
}

// AggregateStatus folds node statuses observed after a pass into a workflow
// status: running wins over failed, failed over cancelled (nodes left
// pending), and completed requires every node completed.
func AggregateStatus(statuses []NodeStatus) WorkflowStatus {
	var running, failed, pending bool
	for _, s := range statuses {
		switch s {
		case StatusRunning:
			running = true
		case StatusFailed:
			failed = true
		case StatusPending:
			pending = true
		}
	}
	switch {
	case running:
		return WorkflowRunning
	case failed:
		return WorkflowFailed
	case pending:
		return WorkflowCancelled
	default:
		return WorkflowCompleted
	}
}

package dag

import (
	"errors"
	"fmt"
)

// ErrIllegalTransition is returned by the Tracker when a node is asked to
// move to a status its current status does not allow.
var ErrIllegalTransition = errors.New("illegal status transition")

// ValidationError reports a malformed graph mutation: duplicate id, dangling
// edge endpoint, duplicate edge or cycle. The graph is unchanged when one is
// returned.
type ValidationError struct {
	Reason string
	NodeID string
}

func (e *ValidationError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("invalid graph: node %q: %s", e.NodeID, e.Reason)
	}
	return "invalid graph: " + e.Reason
}

func validationErrorf(nodeID, format string, args ...any) *ValidationError {
	return &ValidationError{NodeID: nodeID, Reason: fmt.Sprintf(format, args...)}
}

// ConfigError reports an operation configuration that failed the operation's
// own preconditions. It is raised before the node runs.
type ConfigError struct {
	NodeID        string
	OperationType string
	Err           error
}

func (e *ConfigError) Error() string {
	if e.NodeID == "" {
		return fmt.Sprintf("invalid %s config: %v", e.OperationType, e.Err)
	}
	return fmt.Sprintf("node %q: invalid %s config: %v", e.NodeID, e.OperationType, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// ExecutionError reports an operation that failed while processing data.
// Timeout is set when the per-node deadline expired.
type ExecutionError struct {
	NodeID  string
	Timeout bool
	Err     error
}

func (e *ExecutionError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("node %q timed out: %v", e.NodeID, e.Err)
	}
	return fmt.Sprintf("node %q failed: %v", e.NodeID, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// DependencyBlockedError marks a node that will never run because an
// upstream node failed or was itself blocked. It only ever surfaces as the
// blocked status, never as a user-facing failure.
type DependencyBlockedError struct {
	NodeID     string
	Dependency string
}

func (e *DependencyBlockedError) Error() string {
	return fmt.Sprintf("node %q blocked by dependency %q", e.NodeID, e.Dependency)
}

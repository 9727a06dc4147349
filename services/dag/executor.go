package dag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"tsflow/api/services/datasets"
)

const (
	// DefaultWorkers bounds how many nodes of one level run at once.
	DefaultWorkers = 4

	// DefaultNodeTimeout limits how long a single operation can run.
	DefaultNodeTimeout = 5 * time.Minute
)

var tracer = otel.Tracer("tsflow/dag")

// NodeResult captures the outcome of one node in a pass.
type NodeResult struct {
	NodeID        string     `json:"nodeId"`
	Name          string     `json:"name"`
	OperationType string     `json:"operationType"`
	Level         int        `json:"level"`
	Status        NodeStatus `json:"status"`
	OutputRef     string     `json:"outputDatasetId,omitempty"`
	Error         string     `json:"error,omitempty"`
	DurationMs    int64      `json:"durationMs"`
}

// Result is the outcome of an execution pass. Nodes are listed in level
// order.
type Result struct {
	WorkflowID string         `json:"workflowId"`
	Status     WorkflowStatus `json:"status"`
	Nodes      []NodeResult   `json:"nodes"`
	DurationMs int64          `json:"durationMs"`
}

// Executor runs a graph level by level. Levels are separated by a barrier;
// nodes of one level share no data and run concurrently on a bounded pool.
type Executor struct {
	ops         Operations
	gateway     Gateway
	workers     int
	nodeTimeout time.Duration
	logger      *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithWorkers sets the per-level parallelism. Values below 1 are ignored.
func WithWorkers(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithNodeTimeout sets the per-node deadline. Zero keeps the default.
func WithNodeTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.nodeTimeout = d
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewExecutor creates an executor over an operation registry and a
// persistence gateway.
func NewExecutor(ops Operations, gw Gateway, opts ...Option) (*Executor, error) {
	if ops == nil {
		return nil, fmt.Errorf("executor: operations cannot be nil")
	}
	if gw == nil {
		return nil, fmt.Errorf("executor: gateway cannot be nil")
	}
	e := &Executor{
		ops:         ops,
		gateway:     gw,
		workers:     DefaultWorkers,
		nodeTimeout: DefaultNodeTimeout,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// persistErrors collects gateway write failures from concurrent nodes.
type persistErrors struct {
	mu   sync.Mutex
	errs []error
}

func (p *persistErrors) add(err error) {
	if err == nil {
		return
	}
	p.mu.Lock()
	p.errs = append(p.errs, err)
	p.mu.Unlock()
}

func (p *persistErrors) err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return errors.Join(p.errs...)
}

// pass holds the state of one Execute call.
type pass struct {
	graph   *Graph
	tracker *Tracker
	// store outlives cancellation of the caller's context so that the
	// terminal status of nodes that were allowed to finish is recorded.
	store   context.Context
	persist *persistErrors
}

// Execute runs every node of g once. Structural problems (ValidationError)
// are returned before anything runs. Node failures are not errors: they are
// reported in the Result, their descendants are blocked and independent
// branches keep running. Cancelling ctx stops new nodes from starting; nodes
// already running finish and unstarted nodes stay pending. A non-nil error
// alongside a Result means status writes to the gateway failed.
func (e *Executor) Execute(ctx context.Context, g *Graph) (*Result, error) {
	if g == nil {
		return nil, fmt.Errorf("executor: graph cannot be nil")
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	levels, err := AssignLevels(g)
	if err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "dag.Execute",
		trace.WithAttributes(
			attribute.String("workflow.id", g.WorkflowID()),
			attribute.Int("workflow.node_count", g.Len()),
			attribute.Int("workflow.levels", levels.Max()+1),
		),
	)
	defer span.End()

	start := time.Now()
	p := &pass{
		graph:   g,
		tracker: NewTracker(g),
		store:   context.WithoutCancel(ctx),
		persist: &persistErrors{},
	}

	e.logger.Info("workflow execution started",
		"workflowId", g.WorkflowID(),
		"nodes", g.Len(),
		"levels", levels.Max()+1,
	)

	// Reset: every node starts the pass pending with no output.
	for _, s := range p.tracker.Snapshot() {
		p.persist.add(e.gateway.SaveNodeStatus(p.store, s))
	}
	p.persist.add(e.gateway.SaveWorkflowStatus(p.store, g.WorkflowID(), WorkflowRunning))

	for lv, ids := range levels.Groups() {
		if ctx.Err() != nil {
			e.logger.Warn("workflow execution cancelled",
				"workflowId", g.WorkflowID(),
				"level", lv,
				"error", ctx.Err(),
			)
			break
		}
		e.runLevel(ctx, p, lv, ids)
	}

	status := p.tracker.Aggregate()
	p.persist.add(e.gateway.SaveWorkflowStatus(p.store, g.WorkflowID(), status))
	workflowRuns.WithLabelValues(string(status)).Inc()

	result := &Result{
		WorkflowID: g.WorkflowID(),
		Status:     status,
		DurationMs: time.Since(start).Milliseconds(),
	}
	for _, ids := range levels.Groups() {
		for _, id := range ids {
			n, _ := g.Node(id)
			s, _ := p.tracker.State(id)
			result.Nodes = append(result.Nodes, NodeResult{
				NodeID:        id,
				Name:          n.Name,
				OperationType: n.OperationType,
				Level:         levels.Of(id),
				Status:        s.Status,
				OutputRef:     s.OutputRef,
				Error:         s.Error,
				DurationMs:    s.Duration.Milliseconds(),
			})
		}
	}

	span.SetAttributes(attribute.String("workflow.status", string(status)))
	if status == WorkflowCompleted {
		span.SetStatus(codes.Ok, "")
	} else {
		span.SetStatus(codes.Error, string(status))
	}
	e.logger.Info("workflow execution finished",
		"workflowId", g.WorkflowID(),
		"status", status,
		"durationMs", result.DurationMs,
	)

	return result, p.persist.err()
}

// runLevel runs the pending nodes of one level and waits for all of them.
func (e *Executor) runLevel(ctx context.Context, p *pass, lv int, ids []string) {
	var eg errgroup.Group
	eg.SetLimit(e.workers)

	for _, id := range ids {
		s, _ := p.tracker.State(id)
		if s.Status != StatusPending {
			// blocked by a failure on an earlier level
			continue
		}
		if ctx.Err() != nil {
			break
		}
		eg.Go(func() error {
			e.runNode(ctx, p, lv, id)
			return nil
		})
	}
	_ = eg.Wait()
}

func (e *Executor) save(p *pass, id string) {
	s, ok := p.tracker.State(id)
	if !ok {
		return
	}
	p.persist.add(e.gateway.SaveNodeStatus(p.store, s))
}

// runNode drives one node through its state machine.
func (e *Executor) runNode(ctx context.Context, p *pass, lv int, id string) {
	node, _ := p.graph.Node(id)

	ctx, span := tracer.Start(ctx, "dag.Node",
		trace.WithAttributes(
			attribute.String("node.id", id),
			attribute.String("node.operation", node.OperationType),
			attribute.Int("node.level", lv),
		),
	)
	defer span.End()

	if err := p.tracker.Start(id); err != nil {
		var blocked *DependencyBlockedError
		if errors.As(err, &blocked) {
			e.logger.Info("node blocked", "nodeId", id, "dependency", blocked.Dependency)
			nodeExecutions.WithLabelValues(node.OperationType, string(StatusBlocked)).Inc()
			e.save(p, id)
			return
		}
		e.logger.Error("node could not start", "nodeId", id, "error", err)
		span.RecordError(err)
		return
	}
	e.save(p, id)

	activeNodes.Inc()
	defer activeNodes.Dec()

	e.logger.Debug("node starting", "nodeId", id, "operation", node.OperationType, "level", lv)

	// Running nodes are allowed to finish after an abort, bounded only by
	// their own deadline.
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.nodeTimeout)
	defer cancel()

	started := time.Now()
	ref, err := e.process(runCtx, p, node)
	elapsed := time.Since(started)
	nodeDuration.WithLabelValues(node.OperationType).Observe(elapsed.Seconds())

	if err != nil {
		if ferr := p.tracker.Fail(id, err, elapsed); ferr != nil {
			e.logger.Error("failed to record node failure", "nodeId", id, "error", ferr)
		}
		e.save(p, id)
		nodeExecutions.WithLabelValues(node.OperationType, string(StatusFailed)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		blocked := p.tracker.BlockDescendants(id)
		for _, b := range blocked {
			e.save(p, b)
		}
		e.logger.Warn("node failed",
			"nodeId", id,
			"operation", node.OperationType,
			"durationMs", elapsed.Milliseconds(),
			"blocked", len(blocked),
			"error", err,
		)
		return
	}

	if cerr := p.tracker.Complete(id, ref, elapsed); cerr != nil {
		e.logger.Error("failed to record node completion", "nodeId", id, "error", cerr)
		return
	}
	e.save(p, id)
	nodeExecutions.WithLabelValues(node.OperationType, string(StatusCompleted)).Inc()
	span.SetStatus(codes.Ok, "")
	e.logger.Info("node completed",
		"nodeId", id,
		"operation", node.OperationType,
		"outputRef", ref,
		"durationMs", elapsed.Milliseconds(),
	)
}

// process validates the configuration, resolves the input, runs the
// operation and stores its output.
func (e *Executor) process(ctx context.Context, p *pass, node Node) (string, error) {
	op, err := e.ops.Prepare(node.OperationType, node.Config)
	if err != nil {
		return "", &ConfigError{NodeID: node.ID, OperationType: node.OperationType, Err: err}
	}

	input, err := e.resolveInput(ctx, p, node)
	if err != nil {
		return "", &ExecutionError{NodeID: node.ID, Err: err}
	}

	output, err := runOperation(ctx, op, input)
	if err != nil {
		var cfgErr *ConfigError
		if errors.As(err, &cfgErr) {
			return "", err
		}
		return "", &ExecutionError{
			NodeID:  node.ID,
			Timeout: errors.Is(err, context.DeadlineExceeded),
			Err:     err,
		}
	}
	if output == nil {
		return "", &ExecutionError{NodeID: node.ID, Err: errors.New("operation returned no output")}
	}

	ref, err := e.gateway.StoreDataset(ctx, node.ID, output)
	if err != nil {
		return "", &ExecutionError{NodeID: node.ID, Err: fmt.Errorf("store output: %w", err)}
	}
	return ref, nil
}

// runOperation returns when the operation finishes or ctx expires,
// whichever comes first. An operation that ignores its context is left to
// finish in the background and its result is discarded.
func runOperation(ctx context.Context, op Operation, input *datasets.Frame) (*datasets.Frame, error) {
	type outcome struct {
		frame *datasets.Frame
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		f, err := op.Execute(ctx, input)
		done <- outcome{frame: f, err: err}
	}()

	select {
	case out := <-done:
		return out.frame, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// resolveInput loads the node's explicit input dataset, or the outputs of
// its upstream nodes concatenated in edge insertion order.
func (e *Executor) resolveInput(ctx context.Context, p *pass, node Node) (*datasets.Frame, error) {
	if node.InputRef != "" {
		f, err := e.gateway.LoadDataset(ctx, node.InputRef)
		if err != nil {
			return nil, fmt.Errorf("load input dataset %s: %w", node.InputRef, err)
		}
		return f, nil
	}

	incoming := p.graph.Incoming(node.ID)
	frames := make([]*datasets.Frame, 0, len(incoming))
	for _, edge := range incoming {
		up, _ := p.tracker.State(edge.From)
		if up.OutputRef == "" {
			return nil, fmt.Errorf("upstream node %q has no output", edge.From)
		}
		f, err := e.gateway.LoadDataset(ctx, up.OutputRef)
		if err != nil {
			return nil, fmt.Errorf("load output of %q: %w", edge.From, err)
		}
		frames = append(frames, f)
	}
	if len(frames) == 1 {
		return frames[0], nil
	}
	return datasets.Concat(frames...)
}

package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"tsflow/api/services/dag"
)

var (
	// ErrRunActive is returned when a workflow already has a pass in flight.
	ErrRunActive = errors.New("workflow is already running")
	// ErrShuttingDown is returned by Run once Shutdown has been called.
	ErrShuttingDown = errors.New("runner is shutting down")
)

// Executor runs one pass over a graph. Satisfied by *dag.Executor.
type Executor interface {
	Execute(ctx context.Context, g *dag.Graph) (*dag.Result, error)
}

// Runner allows one pass per workflow at a time and keeps the cancel
// function of every pass in flight. Graph edits go through Edit, which
// shares a per-workflow lock with the start of a pass.
type Runner struct {
	exec   Executor
	loader dag.GraphLoader
	logger *slog.Logger

	mu     sync.Mutex
	active map[string]context.CancelFunc
	locks  map[string]*workflowLock
	closed bool
	passes sync.WaitGroup
}

type workflowLock struct {
	mu   sync.Mutex
	refs int
}

func NewRunner(exec Executor, loader dag.GraphLoader, logger *slog.Logger) (*Runner, error) {
	if exec == nil {
		return nil, errors.New("runner: executor cannot be nil")
	}
	if loader == nil {
		return nil, errors.New("runner: graph loader cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		exec:   exec,
		loader: loader,
		logger: logger,
		active: make(map[string]context.CancelFunc),
		locks:  make(map[string]*workflowLock),
	}, nil
}

// lock takes the per-workflow lock and returns its release. Entries are
// dropped once nobody holds or waits on them.
func (r *Runner) lock(workflowID string) func() {
	r.mu.Lock()
	l, ok := r.locks[workflowID]
	if !ok {
		l = &workflowLock{}
		r.locks[workflowID] = l
	}
	l.refs++
	r.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		r.mu.Lock()
		if l.refs--; l.refs == 0 {
			delete(r.locks, workflowID)
		}
		r.mu.Unlock()
	}
}

// Edit runs fn while no pass of workflowID can start and no other edit of
// it runs. It returns ErrRunActive without calling fn when a pass is in
// flight.
func (r *Runner) Edit(workflowID string, fn func() error) error {
	unlock := r.lock(workflowID)
	defer unlock()
	if r.Active(workflowID) {
		return ErrRunActive
	}
	return fn()
}

// Run loads the current graph of workflowID and executes it. The pass is
// cancelled when ctx is done or Cancel is called.
func (r *Runner) Run(ctx context.Context, workflowID string) (*dag.Result, error) {
	runCtx, cancel := context.WithCancel(ctx)

	unlock := r.lock(workflowID)
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		unlock()
		cancel()
		return nil, ErrShuttingDown
	}
	if _, busy := r.active[workflowID]; busy {
		r.mu.Unlock()
		unlock()
		cancel()
		return nil, ErrRunActive
	}
	r.active[workflowID] = cancel
	r.passes.Add(1)
	r.mu.Unlock()
	unlock()

	defer func() {
		r.mu.Lock()
		delete(r.active, workflowID)
		r.mu.Unlock()
		cancel()
		r.passes.Done()
	}()

	g, err := r.loader.LoadGraph(runCtx, workflowID)
	if err != nil {
		return nil, err
	}

	r.logger.Info("workflow pass started", "id", workflowID, "nodes", g.Len())
	res, err := r.exec.Execute(runCtx, g)
	if res != nil {
		r.logger.Info("workflow pass finished", "id", workflowID, "status", res.Status, "durationMs", res.DurationMs)
	}
	return res, err
}

// Cancel requests cancellation of the pass in flight for workflowID and
// reports whether there was one.
func (r *Runner) Cancel(workflowID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cancel, ok := r.active[workflowID]
	if ok {
		r.logger.Info("workflow pass cancel requested", "id", workflowID)
		cancel()
	}
	return ok
}

// Active reports whether workflowID has a pass in flight.
func (r *Runner) Active(workflowID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[workflowID]
	return ok
}

// Shutdown refuses new passes, cancels every pass in flight and waits for
// them to finish persisting, or for ctx to be done.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	for id, cancel := range r.active {
		r.logger.Info("workflow pass cancelled for shutdown", "id", id)
		cancel()
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.passes.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

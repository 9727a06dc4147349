package dag

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tsflow/api/services/datasets"
)

type opFunc func(ctx context.Context, in *datasets.Frame) (*datasets.Frame, error)

func (f opFunc) Execute(ctx context.Context, in *datasets.Frame) (*datasets.Frame, error) {
	return f(ctx, in)
}

type fakeOps map[string]opFunc

func (o fakeOps) Prepare(operationType string, config json.RawMessage) (Operation, error) {
	if string(config) == `"invalid"` {
		return nil, errors.New("bad parameter")
	}
	op, ok := o[operationType]
	if !ok {
		return nil, fmt.Errorf("unknown operation type %q", operationType)
	}
	return op, nil
}

func addOne(_ context.Context, in *datasets.Frame) (*datasets.Frame, error) {
	out := make([]datasets.Sample, len(in.Samples))
	for i, s := range in.Samples {
		s.Value++
		out[i] = s
	}
	return datasets.NewTimeSeries(out), nil
}

func series(values ...float64) *datasets.Frame {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	samples := make([]datasets.Sample, len(values))
	for i, v := range values {
		samples[i] = datasets.Sample{Timestamp: base.Add(time.Duration(i) * time.Second), Value: v}
	}
	return datasets.NewTimeSeries(samples)
}

func values(f *datasets.Frame) []float64 {
	out := make([]float64, len(f.Samples))
	for i, s := range f.Samples {
		out[i] = s.Value
	}
	return out
}

// memGateway keeps datasets and status writes in memory. Any ref starting
// with "ds-" resolves to the series 1, 2, 3 unless seeded otherwise.
type memGateway struct {
	mu       sync.Mutex
	data     map[string]*datasets.Frame
	states   []NodeState
	workflow []WorkflowStatus
}

func newMemGateway() *memGateway {
	return &memGateway{data: make(map[string]*datasets.Frame)}
}

func (m *memGateway) SaveNodeStatus(_ context.Context, s NodeState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = append(m.states, s)
	return nil
}

func (m *memGateway) SaveWorkflowStatus(_ context.Context, _ string, s WorkflowStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workflow = append(m.workflow, s)
	return nil
}

func (m *memGateway) LoadDataset(_ context.Context, ref string) (*datasets.Frame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.data[ref]; ok {
		return f, nil
	}
	if strings.HasPrefix(ref, "ds-") {
		return series(1, 2, 3), nil
	}
	return nil, fmt.Errorf("dataset %s not found", ref)
}

func (m *memGateway) StoreDataset(_ context.Context, nodeID string, f *datasets.Frame) (string, error) {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%v%v", f.Samples, f.Bins)))
	ref := fmt.Sprintf("%s@%x", nodeID, sum[:8])
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[ref] = f
	return ref, nil
}

func (m *memGateway) last(id string) NodeState {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.states) - 1; i >= 0; i-- {
		if m.states[i].NodeID == id {
			return m.states[i]
		}
	}
	return NodeState{}
}

func (m *memGateway) output(t *testing.T, id string) *datasets.Frame {
	t.Helper()
	s := m.last(id)
	require.NotEmpty(t, s.OutputRef, "node %s has no output", id)
	f, err := m.LoadDataset(context.Background(), s.OutputRef)
	require.NoError(t, err)
	return f
}

func opNode(id, op string, isRoot bool) Node {
	n := Node{ID: id, Name: id, OperationType: op}
	if isRoot {
		n.InputRef = "ds-" + id
	}
	return n
}

func newTestExecutor(t *testing.T, ops fakeOps, gw Gateway, opts ...Option) *Executor {
	t.Helper()
	e, err := NewExecutor(ops, gw, opts...)
	require.NoError(t, err)
	return e
}

func resultByID(r *Result) map[string]NodeResult {
	out := make(map[string]NodeResult, len(r.Nodes))
	for _, n := range r.Nodes {
		out[n.NodeID] = n
	}
	return out
}

func TestNewExecutorRequiresDependencies(t *testing.T) {
	t.Parallel()

	_, err := NewExecutor(nil, newMemGateway())
	require.Error(t, err)
	_, err = NewExecutor(fakeOps{}, nil)
	require.Error(t, err)
}

func TestExecuteChain(t *testing.T) {
	t.Parallel()

	gw := newMemGateway()
	g := buildGraph(t,
		[]Node{opNode("a", "add", true), opNode("b", "add", false), opNode("c", "add", false)},
		Edge{"a", "b"}, Edge{"b", "c"},
	)
	e := newTestExecutor(t, fakeOps{"add": addOne}, gw)

	res, err := e.Execute(context.Background(), g)
	require.NoError(t, err)
	assert.Equal(t, WorkflowCompleted, res.Status)
	assert.Equal(t, "wf", res.WorkflowID)

	require.Len(t, res.Nodes, 3)
	for i, id := range []string{"a", "b", "c"} {
		assert.Equal(t, id, res.Nodes[i].NodeID)
		assert.Equal(t, i, res.Nodes[i].Level)
		assert.Equal(t, StatusCompleted, res.Nodes[i].Status)
		assert.NotEmpty(t, res.Nodes[i].OutputRef)
	}
	assert.Equal(t, []float64{4, 5, 6}, values(gw.output(t, "c")))
	assert.Equal(t, []WorkflowStatus{WorkflowRunning, WorkflowCompleted}, gw.workflow)

	// the pass opens with a pending reset of every node
	require.GreaterOrEqual(t, len(gw.states), 3)
	for _, s := range gw.states[:3] {
		assert.Equal(t, StatusPending, s.Status)
		assert.Empty(t, s.OutputRef)
	}
}

func TestExecuteFailureBlocksOnlyDescendants(t *testing.T) {
	t.Parallel()

	boom := func(context.Context, *datasets.Frame) (*datasets.Frame, error) {
		return nil, errors.New("division by zero")
	}
	// a -> b(fails) -> c, a -> d
	gw := newMemGateway()
	g := buildGraph(t,
		[]Node{opNode("a", "add", true), opNode("b", "boom", false), opNode("c", "add", false), opNode("d", "add", false)},
		Edge{"a", "b"}, Edge{"b", "c"}, Edge{"a", "d"},
	)
	e := newTestExecutor(t, fakeOps{"add": addOne, "boom": boom}, gw)

	res, err := e.Execute(context.Background(), g)
	require.NoError(t, err)
	assert.Equal(t, WorkflowFailed, res.Status)

	byID := resultByID(res)
	assert.Equal(t, StatusCompleted, byID["a"].Status)
	assert.Equal(t, StatusFailed, byID["b"].Status)
	assert.Contains(t, byID["b"].Error, "division by zero")
	assert.Equal(t, StatusBlocked, byID["c"].Status)
	assert.Empty(t, byID["c"].Error)
	assert.Equal(t, StatusCompleted, byID["d"].Status)

	assert.Equal(t, StatusBlocked, gw.last("c").Status)
	assert.Equal(t, StatusFailed, gw.last("b").Status)
}

func TestExecuteConfigError(t *testing.T) {
	t.Parallel()

	gw := newMemGateway()
	bad := opNode("a", "add", true)
	bad.Config = json.RawMessage(`"invalid"`)
	g := buildGraph(t, []Node{bad, opNode("b", "add", false)}, Edge{"a", "b"})

	res, err := newTestExecutor(t, fakeOps{"add": addOne}, gw).Execute(context.Background(), g)
	require.NoError(t, err)

	byID := resultByID(res)
	assert.Equal(t, StatusFailed, byID["a"].Status)
	assert.Contains(t, byID["a"].Error, "invalid add config: bad parameter")
	assert.Equal(t, StatusBlocked, byID["b"].Status)
}

func TestExecuteUnknownOperation(t *testing.T) {
	t.Parallel()

	g := buildGraph(t, []Node{opNode("a", "nope", true)})
	res, err := newTestExecutor(t, fakeOps{}, newMemGateway()).Execute(context.Background(), g)
	require.NoError(t, err)
	assert.Equal(t, WorkflowFailed, res.Status)
	assert.Contains(t, res.Nodes[0].Error, `unknown operation type "nope"`)
}

func TestExecuteRejectsInvalidGraph(t *testing.T) {
	t.Parallel()

	gw := newMemGateway()
	g := buildGraph(t, []Node{opNode("a", "add", false)})

	_, err := newTestExecutor(t, fakeOps{"add": addOne}, gw).Execute(context.Background(), g)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Empty(t, gw.states, "nothing is persisted for an invalid graph")
	assert.Empty(t, gw.workflow)
}

func TestExecuteMultiInputConcatenatesInEdgeOrder(t *testing.T) {
	t.Parallel()

	gw := newMemGateway()
	gw.data["ds-a"] = series(10, 20)
	gw.data["ds-b"] = series(1)
	identity := func(_ context.Context, in *datasets.Frame) (*datasets.Frame, error) { return in, nil }

	g := buildGraph(t,
		[]Node{opNode("a", "id", true), opNode("b", "id", true), opNode("c", "id", false)},
		Edge{"b", "c"}, Edge{"a", "c"},
	)
	res, err := newTestExecutor(t, fakeOps{"id": identity}, gw).Execute(context.Background(), g)
	require.NoError(t, err)
	require.Equal(t, WorkflowCompleted, res.Status)
	assert.Equal(t, []float64{1, 10, 20}, values(gw.output(t, "c")))
}

func TestExecuteMultiInputKindMismatch(t *testing.T) {
	t.Parallel()

	spectrum := func(context.Context, *datasets.Frame) (*datasets.Frame, error) {
		return datasets.NewSpectrum([]datasets.Bin{{Frequency: 1, Magnitude: 1}}), nil
	}
	g := buildGraph(t,
		[]Node{opNode("a", "add", true), opNode("b", "fft", true), opNode("c", "add", false)},
		Edge{"a", "c"}, Edge{"b", "c"},
	)
	res, err := newTestExecutor(t, fakeOps{"add": addOne, "fft": spectrum}, newMemGateway()).
		Execute(context.Background(), g)
	require.NoError(t, err)

	byID := resultByID(res)
	assert.Equal(t, StatusFailed, byID["c"].Status)
	assert.Contains(t, byID["c"].Error, "concat")
}

func TestExecuteNodeTimeout(t *testing.T) {
	t.Parallel()

	hang := func(ctx context.Context, _ *datasets.Frame) (*datasets.Frame, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	g := buildGraph(t, []Node{opNode("slow", "hang", true), opNode("fast", "add", true)})
	e := newTestExecutor(t, fakeOps{"hang": hang, "add": addOne}, newMemGateway(),
		WithNodeTimeout(20*time.Millisecond))

	res, err := e.Execute(context.Background(), g)
	require.NoError(t, err)

	byID := resultByID(res)
	assert.Equal(t, StatusFailed, byID["slow"].Status)
	assert.Contains(t, byID["slow"].Error, "timed out")
	assert.Equal(t, StatusCompleted, byID["fast"].Status)
}

func TestExecuteTimeoutIgnoredByOperation(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	defer close(release)
	stuck := func(context.Context, *datasets.Frame) (*datasets.Frame, error) {
		<-release
		return series(1), nil
	}
	g := buildGraph(t, []Node{opNode("a", "stuck", true)})
	e := newTestExecutor(t, fakeOps{"stuck": stuck}, newMemGateway(), WithNodeTimeout(20*time.Millisecond))

	res, err := e.Execute(context.Background(), g)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Nodes[0].Status)
	assert.Contains(t, res.Nodes[0].Error, "timed out")
}

func TestExecuteCancellationLeavesUnstartedPending(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cancelling := func(ctx context.Context, in *datasets.Frame) (*datasets.Frame, error) {
		cancel()
		// the running node finishes even though the pass was aborted
		time.Sleep(10 * time.Millisecond)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return addOne(ctx, in)
	}

	gw := newMemGateway()
	g := buildGraph(t,
		[]Node{opNode("a", "cancel", true), opNode("b", "add", false)},
		Edge{"a", "b"},
	)
	res, err := newTestExecutor(t, fakeOps{"cancel": cancelling, "add": addOne}, gw).Execute(ctx, g)
	require.NoError(t, err)

	byID := resultByID(res)
	assert.Equal(t, StatusCompleted, byID["a"].Status)
	assert.Equal(t, StatusPending, byID["b"].Status)
	assert.Equal(t, WorkflowCancelled, res.Status)
	assert.Equal(t, WorkflowCancelled, gw.workflow[len(gw.workflow)-1])
}

func TestExecuteRespectsWorkerLimit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		workers int
		// wait bounds how long a node holds its worker for a second one
		// to start. Only a sequential pool should ever run it out.
		wait     time.Duration
		wantPeak int32
	}{
		{name: "level runs in parallel", workers: 2, wait: 5 * time.Second, wantPeak: 2},
		{name: "single worker runs sequentially", workers: 1, wait: 50 * time.Millisecond, wantPeak: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var running, peak atomic.Int32
			var once sync.Once
			paired := make(chan struct{})
			tracked := func(ctx context.Context, in *datasets.Frame) (*datasets.Frame, error) {
				n := running.Add(1)
				defer running.Add(-1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				if n >= 2 {
					once.Do(func() { close(paired) })
				}
				select {
				case <-paired:
				case <-time.After(tt.wait):
				}
				return addOne(ctx, in)
			}

			nodes := make([]Node, 0, 4)
			for i := 0; i < 4; i++ {
				nodes = append(nodes, opNode(fmt.Sprintf("n%d", i), "tracked", true))
			}
			g := buildGraph(t, nodes)

			res, err := newTestExecutor(t, fakeOps{"tracked": tracked}, newMemGateway(), WithWorkers(tt.workers)).
				Execute(context.Background(), g)
			require.NoError(t, err)
			assert.Equal(t, WorkflowCompleted, res.Status)
			assert.Equal(t, tt.wantPeak, peak.Load())
		})
	}
}

func TestExecuteRerunIsIdempotent(t *testing.T) {
	t.Parallel()

	gw := newMemGateway()
	g := buildGraph(t,
		[]Node{opNode("a", "add", true), opNode("b", "add", false)},
		Edge{"a", "b"},
	)
	e := newTestExecutor(t, fakeOps{"add": addOne}, gw)

	first, err := e.Execute(context.Background(), g)
	require.NoError(t, err)
	second, err := e.Execute(context.Background(), g)
	require.NoError(t, err)

	assert.Equal(t, WorkflowCompleted, second.Status)
	for i := range first.Nodes {
		assert.Equal(t, first.Nodes[i].OutputRef, second.Nodes[i].OutputRef)
	}
	assert.Equal(t, []WorkflowStatus{WorkflowRunning, WorkflowCompleted, WorkflowRunning, WorkflowCompleted}, gw.workflow)
}

func TestExecuteRerunAfterFailure(t *testing.T) {
	t.Parallel()

	var fail atomic.Bool
	fail.Store(true)
	flaky := func(ctx context.Context, in *datasets.Frame) (*datasets.Frame, error) {
		if fail.Load() {
			return nil, errors.New("upstream unavailable")
		}
		return addOne(ctx, in)
	}

	gw := newMemGateway()
	g := buildGraph(t,
		[]Node{opNode("a", "flaky", true), opNode("b", "add", false)},
		Edge{"a", "b"},
	)
	e := newTestExecutor(t, fakeOps{"flaky": flaky, "add": addOne}, gw)

	res, err := e.Execute(context.Background(), g)
	require.NoError(t, err)
	require.Equal(t, WorkflowFailed, res.Status)

	fail.Store(false)
	res, err = e.Execute(context.Background(), g)
	require.NoError(t, err)
	assert.Equal(t, WorkflowCompleted, res.Status)
	assert.Empty(t, gw.last("a").Error)
	assert.Equal(t, StatusCompleted, gw.last("b").Status)
}

type failingGateway struct {
	*memGateway
}

func (failingGateway) SaveWorkflowStatus(context.Context, string, WorkflowStatus) error {
	return errors.New("connection reset")
}

func TestExecuteReportsPersistenceErrors(t *testing.T) {
	t.Parallel()

	g := buildGraph(t, []Node{opNode("a", "add", true)})
	res, err := newTestExecutor(t, fakeOps{"add": addOne}, failingGateway{newMemGateway()}).
		Execute(context.Background(), g)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	require.NotNil(t, res)
	assert.Equal(t, WorkflowCompleted, res.Status)
}

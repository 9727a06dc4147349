package dag

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssignLevels(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		nodes  []Node
		edges  []Edge
		want   map[string]int
		groups [][]string
	}{
		{
			name:   "empty",
			want:   map[string]int{},
			groups: nil,
		},
		{
			name:   "independent roots",
			nodes:  []Node{root("a"), root("b")},
			want:   map[string]int{"a": 0, "b": 0},
			groups: [][]string{{"a", "b"}},
		},
		{
			name:   "chain",
			nodes:  []Node{root("a"), inner("b"), inner("c")},
			edges:  []Edge{{"a", "b"}, {"b", "c"}},
			want:   map[string]int{"a": 0, "b": 1, "c": 2},
			groups: [][]string{{"a"}, {"b"}, {"c"}},
		},
		{
			name:   "longest path wins",
			nodes:  []Node{root("a"), inner("b"), inner("c"), inner("d")},
			edges:  []Edge{{"a", "b"}, {"b", "c"}, {"a", "d"}, {"c", "d"}},
			want:   map[string]int{"a": 0, "b": 1, "c": 2, "d": 3},
			groups: [][]string{{"a"}, {"b"}, {"c"}, {"d"}},
		},
		{
			name:   "diamond",
			nodes:  []Node{root("a"), inner("b"), inner("c"), inner("d")},
			edges:  []Edge{{"a", "b"}, {"a", "c"}, {"b", "d"}, {"c", "d"}},
			want:   map[string]int{"a": 0, "b": 1, "c": 1, "d": 2},
			groups: [][]string{{"a"}, {"b", "c"}, {"d"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			g := buildGraph(t, tt.nodes, tt.edges...)

			levels, err := AssignLevels(g)
			require.NoError(t, err)
			for id, lv := range tt.want {
				assert.Equal(t, lv, levels.Of(id), "level of %s", id)
			}
			assert.Equal(t, tt.groups, levels.Groups())

			for _, e := range g.Edges() {
				assert.Less(t, levels.Of(e.From), levels.Of(e.To), "edge %s -> %s", e.From, e.To)
			}
		})
	}
}

func TestLevelsOfCycle(t *testing.T) {
	t.Parallel()

	_, err := LevelsOf(
		[]string{"a", "b", "c"},
		[]Edge{{"a", "b"}, {"b", "c"}, {"c", "b"}},
	)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "cycle detected", verr.Reason)
	assert.Equal(t, "b", verr.NodeID)
}

func TestLevelsOfDanglingEdge(t *testing.T) {
	t.Parallel()

	_, err := LevelsOf([]string{"a"}, []Edge{{"a", "ghost"}})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "ghost", verr.NodeID)
}

func TestLevelsOfUnknownNodePanics(t *testing.T) {
	t.Parallel()

	levels, err := LevelsOf([]string{"a"}, nil)
	require.NoError(t, err)
	assert.Panics(t, func() { levels.Of("b") })
}

func TestLevelsDeterministic(t *testing.T) {
	t.Parallel()

	ids := make([]string, 0, 20)
	var edges []Edge
	for i := 0; i < 20; i++ {
		ids = append(ids, fmt.Sprintf("n%02d", i))
		if i > 0 {
			edges = append(edges, Edge{From: ids[i/2], To: ids[i]})
		}
	}

	first, err := LevelsOf(ids, edges)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := LevelsOf(ids, edges)
		require.NoError(t, err)
		assert.Equal(t, first.Groups(), again.Groups())
	}
}

func TestLayout(t *testing.T) {
	t.Parallel()

	g := buildGraph(t,
		[]Node{root("a"), inner("b"), inner("c"), inner("d")},
		Edge{"a", "b"}, Edge{"a", "c"}, Edge{"b", "d"}, Edge{"c", "d"},
	)
	levels, err := AssignLevels(g)
	require.NoError(t, err)

	pos := Layout(levels)
	require.Len(t, pos, 4)

	assert.InDelta(t, 0.5/3, pos["a"].X, 1e-9)
	assert.InDelta(t, 0.5, pos["a"].Y, 1e-9)
	assert.InDelta(t, 1.5/3, pos["b"].X, 1e-9)
	assert.InDelta(t, 1.0/3, pos["b"].Y, 1e-9)
	assert.InDelta(t, 2.0/3, pos["c"].Y, 1e-9)
	assert.InDelta(t, 2.5/3, pos["d"].X, 1e-9)

	seen := map[Point]string{}
	for id, p := range pos {
		assert.GreaterOrEqual(t, p.X, 0.0)
		assert.LessOrEqual(t, p.X, 1.0)
		assert.GreaterOrEqual(t, p.Y, 0.0)
		assert.LessOrEqual(t, p.Y, 1.0)
		if other, dup := seen[p]; dup {
			t.Errorf("nodes %s and %s share position %v", id, other, p)
		}
		seen[p] = id
	}
}

func TestSnapshotWithLayout(t *testing.T) {
	t.Parallel()

	g := buildGraph(t, []Node{root("a"), inner("b")}, Edge{"a", "b"})
	levels, err := AssignLevels(g)
	require.NoError(t, err)

	s := NewSnapshot(g).WithLayout(levels)
	require.Len(t, s.Nodes, 2)
	require.NotNil(t, s.Nodes[1].Level)
	assert.Equal(t, 1, *s.Nodes[1].Level)
	assert.Equal(t, StatusPending, s.Nodes[1].Status)
	assert.Equal(t, []SnapshotEdge{{From: "a", To: "b"}}, s.Edges)
}

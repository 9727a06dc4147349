package dag

import "fmt"

// Levels holds the topological rank of every node: 0 for nodes without
// dependencies, otherwise 1 + the highest rank among its dependencies.
type Levels struct {
	byNode map[string]int
	order  []string
	max    int
}

// AssignLevels ranks every node of g. The same ranks drive execution order
// and layout.
func AssignLevels(g *Graph) (Levels, error) {
	nodes := g.Nodes()
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	return LevelsOf(ids, g.Edges())
}

// LevelsOf ranks ids using Kahn's algorithm over edges. Ties are broken by
// the order of ids so the result is deterministic. A cycle is reported once
// as a ValidationError naming a node left unranked.
func LevelsOf(ids []string, edges []Edge) (Levels, error) {
	index := make(map[string]int, len(ids))
	for i, id := range ids {
		index[id] = i
	}

	inDegree := make([]int, len(ids))
	outgoing := make([][]int, len(ids))
	for _, e := range edges {
		from, ok := index[e.From]
		if !ok {
			return Levels{}, validationErrorf(e.From, "edge source not found")
		}
		to, ok := index[e.To]
		if !ok {
			return Levels{}, validationErrorf(e.To, "edge target not found")
		}
		outgoing[from] = append(outgoing[from], to)
		inDegree[to]++
	}

	level := make([]int, len(ids))
	queue := make([]int, 0, len(ids))
	for i := range ids {
		if inDegree[i] == 0 {
			queue = append(queue, i)
		}
	}

	ranked := 0
	for head := 0; head < len(queue); head++ {
		cur := queue[head]
		ranked++
		for _, next := range outgoing[cur] {
			if level[cur]+1 > level[next] {
				level[next] = level[cur] + 1
			}
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if ranked != len(ids) {
		for i, d := range inDegree {
			if d > 0 {
				return Levels{}, validationErrorf(ids[i], "cycle detected")
			}
		}
	}

	l := Levels{
		byNode: make(map[string]int, len(ids)),
		order:  append([]string(nil), ids...),
	}
	for i, id := range ids {
		l.byNode[id] = level[i]
		if level[i] > l.max {
			l.max = level[i]
		}
	}
	return l, nil
}

// Of returns the level of id. It panics on an unknown id, which can only
// happen when Levels is used with a different graph than it was built from.
func (l Levels) Of(id string) int {
	lv, ok := l.byNode[id]
	if !ok {
		panic(fmt.Sprintf("dag: no level for node %q", id))
	}
	return lv
}

// Max returns the highest level, 0 for an empty graph.
func (l Levels) Max() int {
	return l.max
}

// Groups returns node ids bucketed by ascending level, each bucket in
// insertion order.
func (l Levels) Groups() [][]string {
	if len(l.order) == 0 {
		return nil
	}
	groups := make([][]string, l.max+1)
	for _, id := range l.order {
		lv := l.byNode[id]
		groups[lv] = append(groups[lv], id)
	}
	return groups
}

package dag

// Point is a normalized 2-D coordinate; both axes lie in [0, 1].
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Layout places every node on a grid derived from its level. The level maps
// to the horizontal axis and nodes sharing a level are spread evenly along
// the vertical axis in insertion order, so no two of them coincide.
func Layout(levels Levels) map[string]Point {
	groups := levels.Groups()
	columns := float64(levels.Max() + 1)

	out := make(map[string]Point, len(levels.order))
	for lv, ids := range groups {
		x := (float64(lv) + 0.5) / columns
		count := float64(len(ids))
		for i, id := range ids {
			out[id] = Point{
				X: x,
				Y: (float64(i) + 1) / (count + 1),
			}
		}
	}
	return out
}

package ad

// Backward runs reverse-mode accumulation from root, seeding the root
// gradient with ones. Gradients accumulate into every reachable tensor whose
// requires-grad flag is set; frozen leaves receive nothing.
func Backward(root *Tensor) {
	if !root.requires {
		return
	}
	// Topological order by depth-first traversal of the recorded parents.
	var order []*Tensor
	visited := map[*Tensor]bool{}
	var visit func(t *Tensor)
	visit = func(t *Tensor) {
		if visited[t] || !t.requires {
			return
		}
		visited[t] = true
		for _, p := range t.parents {
			visit(p)
		}
		order = append(order, t)
	}
	visit(root)

	g := root.gradSlice()
	for i := range g {
		g[i] = 1
	}
	for i := len(order) - 1; i >= 0; i-- {
		if order[i].back != nil {
			order[i].back()
		}
	}
}

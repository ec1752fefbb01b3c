package scheduler

import "sort"

// Graph is an adjacency map from issue number to the issue numbers it
// depends on (edges point from dependent -> dependency).
type Graph map[int][]int

// BuildGraph constructs a dependency Graph from issue candidates.
func BuildGraph(candidates []IssueCandidate) Graph {
	g := make(Graph, len(candidates))
	for _, c := range candidates {
		g[c.Number] = append([]int(nil), c.Dependencies...)
	}
	return g
}

// TopoLayers partitions an acyclic Graph into layers: layer 0 has no
// dependencies, layer k depends only on nodes in layers < k (spec.md §8
// P7). Returns nil if a cycle is detected or a node depends on a node
// that is not in the Graph.
func TopoLayers(g Graph) [][]int {
	remaining := make(map[int][]int, len(g))
	for k, v := range g {
		remaining[k] = append([]int(nil), v...)
	}

	var layers [][]int
	placed := map[int]bool{}

	for len(remaining) > 0 {
		var layer []int
		for node, deps := range remaining {
			ready := true
			for _, d := range deps {
				if !placed[d] {
					ready = false
					break
				}
			}
			if ready {
				layer = append(layer, node)
			}
		}
		if len(layer) == 0 {
			return nil // cycle
		}
		sort.Ints(layer)
		for _, n := range layer {
			placed[n] = true
			delete(remaining, n)
		}
		layers = append(layers, layer)
	}
	return layers
}

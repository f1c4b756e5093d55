package stitch

import "github.com/hoogenboom-lab/render-pipeline/internal/renderclient"

// LargestComponent returns the tile IDs in the largest connected component
// of the undirected graph formed by accepted pointmatches, and the subset
// of matches where both endpoints are in that component (spec §4.H
// "Connectivity filtering"). Ties keep whichever component is found first,
// matching the original's plain `>` comparison.
func LargestComponent(matches []renderclient.PointMatch) (tiles map[string]bool, kept []renderclient.PointMatch) {
	adjacency := make(map[string][]string)
	for _, m := range matches {
		adjacency[m.PID] = append(adjacency[m.PID], m.QID)
		adjacency[m.QID] = append(adjacency[m.QID], m.PID)
	}

	visited := make(map[string]bool)
	var largest map[string]bool
	for node := range adjacency {
		if visited[node] {
			continue
		}
		component := bfsComponent(adjacency, node, visited)
		if largest == nil || len(component) > len(largest) {
			largest = component
		}
	}
	if largest == nil {
		largest = map[string]bool{}
	}

	for _, m := range matches {
		if largest[m.PID] || largest[m.QID] {
			kept = append(kept, m)
		}
	}
	return largest, kept
}

func bfsComponent(adjacency map[string][]string, start string, visited map[string]bool) map[string]bool {
	component := map[string]bool{start: true}
	visited[start] = true
	queue := []string{start}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		for _, next := range adjacency[node] {
			if !visited[next] {
				visited[next] = true
				component[next] = true
				queue = append(queue, next)
			}
		}
	}
	return component
}

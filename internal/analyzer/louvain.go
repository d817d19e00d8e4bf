package analyzer

import "fmt"

// louvainGraph is the (possibly aggregated) working graph used by a
// single Louvain pass: a node's self-loop weight folds in everything
// already merged into that node by a previous level.
type louvainGraph struct {
	ids       []int
	weights   map[int]map[int]float64 // undirected, symmetric
	selfLoop  map[int]float64
	degree    map[int]float64 // sum of incident weights, including 2x self-loop
	totalEdge float64         // sum of all degrees / 2 ("m")
}

func newLouvainGraph(edges [][2]string, weight map[[2]string]float64, index map[string]int) *louvainGraph {
	lg := &louvainGraph{
		weights:  make(map[int]map[int]float64),
		selfLoop: make(map[int]float64),
		degree:   make(map[int]float64),
	}
	seen := make(map[int]bool)
	for _, e := range edges {
		a, b := index[e[0]], index[e[1]]
		w := weight[e]
		if lg.weights[a] == nil {
			lg.weights[a] = make(map[int]float64)
		}
		if lg.weights[b] == nil {
			lg.weights[b] = make(map[int]float64)
		}
		lg.weights[a][b] += w
		lg.weights[b][a] += w
		lg.degree[a] += w
		lg.degree[b] += w
		if !seen[a] {
			seen[a] = true
			lg.ids = append(lg.ids, a)
		}
		if !seen[b] {
			seen[b] = true
			lg.ids = append(lg.ids, b)
		}
		lg.totalEdge += w
	}
	return lg
}

// louvainPass runs local-moving phase 1 to convergence, returning each
// node's assigned community id (one of the node ids present in lg).
func louvainPass(lg *louvainGraph) map[int]int {
	community := make(map[int]int, len(lg.ids))
	commWeight := make(map[int]float64, len(lg.ids)) // sum of degrees of nodes in community
	for _, id := range lg.ids {
		community[id] = id
		commWeight[id] = lg.degree[id]
	}

	if lg.totalEdge == 0 {
		return community
	}

	improved := true
	for improved {
		improved = false
		for _, id := range lg.ids {
			currentComm := community[id]
			ki := lg.degree[id]

			// Remove id from its current community.
			commWeight[currentComm] -= ki

			linkWeight := make(map[int]float64)
			for nb, w := range lg.weights[id] {
				linkWeight[community[nb]] += w
			}

			bestComm := currentComm
			bestGain := linkWeight[currentComm] - commWeight[currentComm]*ki/(2*lg.totalEdge)
			for c, wLink := range linkWeight {
				gain := wLink - commWeight[c]*ki/(2*lg.totalEdge)
				if gain > bestGain {
					bestGain = gain
					bestComm = c
				}
			}

			community[id] = bestComm
			commWeight[bestComm] += ki
			if bestComm != currentComm {
				improved = true
			}
		}
	}
	return community
}

// aggregate builds the next-level graph, one super-node per community.
func aggregate(lg *louvainGraph, community map[int]int) (*louvainGraph, map[int][]int) {
	members := make(map[int][]int)
	for node, comm := range community {
		members[comm] = append(members[comm], node)
	}

	next := &louvainGraph{
		weights:  make(map[int]map[int]float64),
		selfLoop: make(map[int]float64),
		degree:   make(map[int]float64),
	}
	for comm := range members {
		next.ids = append(next.ids, comm)
	}

	for node, comm := range community {
		next.selfLoop[comm] += lg.selfLoop[node]
		for nb, w := range lg.weights[node] {
			nbComm := community[nb]
			if nbComm == comm {
				next.selfLoop[comm] += w / 2
				continue
			}
			if next.weights[comm] == nil {
				next.weights[comm] = make(map[int]float64)
			}
			next.weights[comm][nbComm] += w
		}
	}
	for comm, adj := range next.weights {
		for _, w := range adj {
			next.degree[comm] += w
		}
		next.degree[comm] += 2 * next.selfLoop[comm]
	}
	for comm := range members {
		if _, ok := next.degree[comm]; !ok {
			next.degree[comm] = 2 * next.selfLoop[comm]
		}
	}
	next.totalEdge = lg.totalEdge

	return next, members
}

// runLouvain executes multi-level Louvain community detection over the
// undirected projection of the graph and returns each account id's
// community label as a stable string.
func runLouvain(g *graph) map[string]string {
	result := make(map[string]string, len(g.nodes))
	if len(g.nodes) == 0 {
		return result
	}

	edges := g.undirectedEdges()
	if len(edges) == 0 {
		for _, id := range g.nodes {
			result[id] = fmt.Sprintf("c-%s", id)
		}
		return result
	}

	index := make(map[string]int, len(g.nodes))
	names := make(map[int]string, len(g.nodes))
	for i, id := range g.nodes {
		index[id] = i
		names[i] = id
	}
	weight := make(map[[2]string]float64, len(edges))
	for _, e := range edges {
		weight[e] = g.out[e[0]][e[1]] + g.out[e[1]][e[0]]
		if weight[e] == 0 {
			weight[e] = 1 // an edge exists but carries no weight on this side; count it as unit evidence
		}
	}

	lg := newLouvainGraph(edges, weight, index)
	for _, id := range g.nodes {
		if _, ok := lg.degree[index[id]]; !ok {
			lg.ids = append(lg.ids, index[id])
			lg.degree[index[id]] = 0
		}
	}

	// assignment maps each original node id to the community it belongs
	// to at the current level; it is folded forward after every pass so
	// the final top-level community of each original account is known.
	assignment := make(map[int]int, len(lg.ids)) // original node id -> current-level community
	for _, id := range lg.ids {
		assignment[id] = id
	}

	for pass := 0; pass < 10; pass++ {
		community := louvainPass(lg)
		moved := false
		for node, comm := range community {
			if comm != node {
				moved = true
				break
			}
		}

		nextGraph, _ := aggregate(lg, community)
		// Fold this level's community assignment into the running
		// original-node -> top-level-community map.
		for orig, cur := range assignment {
			if c, ok := community[cur]; ok {
				assignment[orig] = c
			}
		}

		if !moved || len(nextGraph.ids) == len(lg.ids) {
			break
		}
		lg = nextGraph
	}

	for origIdx, comm := range assignment {
		id := names[origIdx]
		result[id] = fmt.Sprintf("c-%d", comm)
	}
	return result
}

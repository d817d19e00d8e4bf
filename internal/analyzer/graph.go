package analyzer

import "github.com/rawblock/fraudmesh/internal/graphstore"

// graph is the in-memory projection over accounts with TRANSFERRED_TO
// edges that every structural algorithm in a cycle runs against. Built
// fresh from a graphstore.GraphSnapshot at the start of each cycle;
// never mutated by readers, only replaced wholesale.
type graph struct {
	nodes []string
	// out/in adjacency keyed by account id, edge weight is total_amount.
	out map[string]map[string]float64
	in  map[string]map[string]float64
}

func buildGraph(accounts []graphstore.AccountNode, edges []graphstore.Edge) *graph {
	ids := make([]string, len(accounts))
	for i, a := range accounts {
		ids[i] = a.ID
	}
	g := &graph{
		nodes: ids,
		out:   make(map[string]map[string]float64, len(ids)),
		in:    make(map[string]map[string]float64, len(ids)),
	}
	for _, id := range ids {
		g.out[id] = make(map[string]float64)
		g.in[id] = make(map[string]float64)
	}
	for _, e := range edges {
		if g.out[e.SenderID] == nil {
			g.out[e.SenderID] = make(map[string]float64)
		}
		if g.in[e.ReceiverID] == nil {
			g.in[e.ReceiverID] = make(map[string]float64)
		}
		g.out[e.SenderID][e.ReceiverID] += e.Weight
		g.in[e.ReceiverID][e.SenderID] += e.Weight
	}
	return g
}

// neighbors returns every account reachable by an edge in either
// direction, used by the undirected algorithms (Louvain, clustering
// coefficient, weakly-connected components).
func (g *graph) neighbors(id string) map[string]bool {
	out := make(map[string]bool)
	for n := range g.out[id] {
		out[n] = true
	}
	for n := range g.in[id] {
		out[n] = true
	}
	return out
}

func (g *graph) outDegree(id string) int { return len(g.out[id]) }
func (g *graph) inDegree(id string) int  { return len(g.in[id]) }

func (g *graph) undirectedEdges() [][2]string {
	seen := make(map[[2]string]bool)
	var edges [][2]string
	for a, outs := range g.out {
		for b := range outs {
			key := [2]string{a, b}
			rev := [2]string{b, a}
			if seen[key] || seen[rev] {
				continue
			}
			seen[key] = true
			edges = append(edges, key)
		}
	}
	return edges
}

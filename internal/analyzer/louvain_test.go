package analyzer

import (
	"testing"

	"github.com/rawblock/fraudmesh/internal/graphstore"
)

func TestRunLouvain_GroupsTwoDenseCliquesSeparately(t *testing.T) {
	accounts := []graphstore.AccountNode{
		{ID: "a1"}, {ID: "a2"}, {ID: "a3"},
		{ID: "b1"}, {ID: "b2"}, {ID: "b3"},
	}
	edges := []graphstore.Edge{
		{SenderID: "a1", ReceiverID: "a2", Weight: 100},
		{SenderID: "a2", ReceiverID: "a3", Weight: 100},
		{SenderID: "a1", ReceiverID: "a3", Weight: 100},
		{SenderID: "b1", ReceiverID: "b2", Weight: 100},
		{SenderID: "b2", ReceiverID: "b3", Weight: 100},
		{SenderID: "b1", ReceiverID: "b3", Weight: 100},
		// one weak bridge edge linking the two cliques
		{SenderID: "a3", ReceiverID: "b1", Weight: 1},
	}
	g := buildGraph(accounts, edges)

	communities := runLouvain(g)

	if communities["a1"] != communities["a2"] || communities["a2"] != communities["a3"] {
		t.Errorf("expected the a-clique to share one community, got %v", communities)
	}
	if communities["b1"] != communities["b2"] || communities["b2"] != communities["b3"] {
		t.Errorf("expected the b-clique to share one community, got %v", communities)
	}
	if communities["a1"] == communities["b1"] {
		t.Errorf("expected the two cliques, joined only by a weak bridge, to land in different communities, got %v", communities)
	}
}

func TestRunLouvain_EmptyGraphReturnsEmptyAssignment(t *testing.T) {
	g := buildGraph(nil, nil)
	communities := runLouvain(g)
	if len(communities) != 0 {
		t.Errorf("expected no community assignments for an empty graph, got %v", communities)
	}
}

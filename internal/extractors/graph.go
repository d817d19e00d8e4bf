package extractors

import (
	"context"

	"github.com/rawblock/fraudmesh/internal/graphstore"
)

// Graph implements the graph-intelligence extractor: community
// risk, betweenness, pagerank, structural fan-out/fan-in/tight-ring
// patterns, and neighbour contagion. All of it reads the batch analyzer's
// last-published values off the account profile; if no batch snapshot has
// run yet those fields are zero and the extractor degrades to 0 without
// any special-casing here.
func Graph(ctx context.Context, store graphstore.GraphStore, in Input) (Result, error) {
	var score float64
	var flags []string
	add := func(v float64, flag string) {
		if v > 0 {
			score += v
			flags = append(flags, flag)
		}
	}

	profile, err := store.AccountProfile(ctx, in.Tx.SenderID)
	if err != nil {
		return Result{}, err
	}

	// Community risk.
	if profile.CommunityID != "" {
		if profile.CommunitySize >= 3 && profile.CommunityMeanRisk > 50 {
			add(clamp(profile.CommunityMeanRisk, 0, 100)*0.30, "community_risk")
		} else if profile.CommunitySize >= 2 && profile.CommunityMeanRisk > 50 {
			// ">=2 high-risk members" approximated via community mean since the
			// profile projection does not carry a per-member risk list on the
			// hot path (multi-hop reads are batch-analyzer-only).
			add(40, "community_high_risk_members")
		}
	}

	// Betweenness and PageRank.
	add(clamp(profile.Betweenness*200, 0, 30), "betweenness")
	add(clamp(profile.PageRank*500, 0, 15), "pagerank")

	// Structural patterns.
	degree, err := store.DegreeSummary(ctx, in.Tx.SenderID)
	if err != nil {
		return Result{}, err
	}
	if degree.OutDegree >= 5 && degree.InDegree <= 2 {
		add(15, "fan_out")
	}
	if degree.InDegree >= 5 && degree.OutDegree <= 2 {
		add(15, "fan_in")
	}
	totalDegree := degree.OutDegree + degree.InDegree
	if profile.ClusteringCoefficient > 0.5 && totalDegree > 4 {
		add(10, "tight_ring")
	}

	// Neighbour contagion.
	nr, err := store.NeighborRisk(ctx, in.Tx.SenderID)
	if err != nil {
		return Result{}, err
	}
	if nr.NeighborCount > 0 {
		add(clamp(nr.MeanRisk*0.3, 0, 15), "neighbour_contagion")
	}

	return Result{Score: clamp(score, 0, 100), Flags: flags}, nil
}

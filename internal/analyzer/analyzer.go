// Package analyzer implements the batch graph analyzer: a fixed-cadence
// cycle, in its own scheduling context and never on worker threads, that
// refreshes rolling account/device statistics, recomputes the structural
// graph algorithms, runs the six collusion-pattern detectors, and swaps
// the resulting cache in atomically. The cadence loop follows a ticker +
// select-over-ctx.Done() shape with bounded per-tick work; the weakly-
// connected-component step generalizes a union-find address-clustering
// engine from address merging to components over the payments transfer
// graph.
package analyzer

import (
	"context"
	"time"

	"github.com/rawblock/fraudmesh/internal/graphstore"
	flog "github.com/rawblock/fraudmesh/internal/log"
)

// Analyzer owns the collusion cache and runs the batch cycle.
type Analyzer struct {
	store    graphstore.AnalyzerStore
	cadence  time.Duration
	dormancy int
	params   detectorParams
	cache    *Cache

	lastCommunities map[string]string
}

// New constructs an Analyzer. store may be nil, in which case Run exits
// immediately without starting a cycle rather than starting one against
// an absent dependency.
func New(store graphstore.AnalyzerStore, cadence time.Duration, dormancyDays int) *Analyzer {
	if cadence <= 0 {
		cadence = 5 * time.Second
	}
	return &Analyzer{
		store:    store,
		cadence:  cadence,
		dormancy: dormancyDays,
		params:   defaultDetectorParams(),
		cache:    NewCache(),
	}
}

// Cache exposes the collusion cache for read-only consultation by the
// worker pool (fusion's graph extractor) and the API surface.
func (a *Analyzer) Cache() *Cache { return a.cache }

// Run drives the fixed-cadence cycle until ctx is cancelled.
func (a *Analyzer) Run(ctx context.Context) {
	if a.store == nil {
		flog.For("analyzer").Warn().Msg("analyzer store is nil; batch analyzer will not start")
		return
	}

	flog.For("analyzer").Info().Dur("cadence", a.cadence).Msg("starting batch graph analyzer")

	ticker := time.NewTicker(a.cadence)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flog.For("analyzer").Info().Msg("stopping batch graph analyzer")
			return
		case <-ticker.C:
			a.RunOnce(ctx)
		}
	}
}

// RunOnce executes a single stats-refresh, graph-recompute and
// collusion-detection cycle, and atomically swaps the collusion cache on
// success. A failure at any step aborts the cycle,
// leaves the previous snapshot in place, and increments the cache's
// failed-cycle counter — it never partially applies a cycle's writes to
// the cache readers consult, even though the underlying store writes
// (stats refresh, analysis write-back) are not themselves transactional
// across steps.
func (a *Analyzer) RunOnce(ctx context.Context) {
	start := time.Now()
	log := flog.For("analyzer")

	if err := a.store.RefreshAccountStats(ctx, a.dormancy); err != nil {
		log.Warn().Err(err).Msg("refresh account stats failed")
		a.cache.MarkCycleFailed()
		return
	}
	if err := a.store.RefreshDeviceStats(ctx); err != nil {
		log.Warn().Err(err).Msg("refresh device stats failed")
		a.cache.MarkCycleFailed()
		return
	}

	accounts, edges, err := a.store.GraphSnapshot(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("graph snapshot failed")
		a.cache.MarkCycleFailed()
		return
	}
	g := buildGraph(accounts, edges)

	communities := runLouvain(g)
	pr := pageRank(g)
	bt := betweenness(g)
	cc := clusteringCoefficient(g)

	uf := newUnionFind()
	for _, id := range g.nodes {
		uf.add(id)
	}
	for _, e := range g.undirectedEdges() {
		uf.union(e[0], e[1])
	}

	riskByAccount := make(map[string]float64, len(accounts))
	for _, acc := range accounts {
		riskByAccount[acc.ID] = acc.RiskScore
	}

	updates := make([]graphstore.AccountAnalysis, 0, len(g.nodes))
	clusters := communityClusterSummaries(communities, riskByAccount)
	for _, id := range g.nodes {
		updates = append(updates, graphstore.AccountAnalysis{
			AccountID:             id,
			CommunityID:           communities[id],
			ComponentID:           uf.find(id),
			PageRank:              pr[id],
			Betweenness:           bt[id],
			ClusteringCoefficient: cc[id],
		})
	}

	if err := a.store.WriteAccountAnalysis(ctx, updates); err != nil {
		log.Warn().Err(err).Msg("write account analysis failed")
		a.cache.MarkCycleFailed()
		return
	}
	if err := a.store.ReplaceClusters(ctx, clusters); err != nil {
		log.Warn().Err(err).Msg("replace clusters failed")
		a.cache.MarkCycleFailed()
		return
	}

	recent, err := a.store.RecentTransactions(ctx, time.Now().Add(-a.params.CircularFlowWindow))
	if err != nil {
		log.Warn().Err(err).Msg("recent transactions fetch failed")
		a.cache.MarkCycleFailed()
		return
	}

	snapshot := detectCollusion(g, riskByAccount, communities, bt, recent, a.params)
	stability := communityStability(a.lastCommunities, communities)
	a.lastCommunities = communities

	a.cache.Swap(snapshot)

	log.Info().
		Int("accounts", len(g.nodes)).
		Int("edges", len(edges)).
		Int("communities", len(clusters)).
		Float64("community_ari", stability.AdjustedRandIndex).
		Float64("community_vi", stability.VariationOfInformation).
		Dur("elapsed", time.Since(start)).
		Msg("batch analyzer cycle complete")
}

func communityClusterSummaries(communities map[string]string, risk map[string]float64) []graphstore.ClusterSummary {
	members := make(map[string][]string)
	for account, comm := range communities {
		members[comm] = append(members[comm], account)
	}
	out := make([]graphstore.ClusterSummary, 0, len(members))
	for comm, ids := range members {
		var sum float64
		for _, id := range ids {
			sum += risk[id]
		}
		out = append(out, graphstore.ClusterSummary{
			ID:          comm,
			MemberCount: len(ids),
			MeanRisk:    sum / float64(len(ids)),
		})
	}
	return out
}

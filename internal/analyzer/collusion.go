package analyzer

import (
	"sort"
	"time"

	"github.com/rawblock/fraudmesh/internal/graphstore"
)

// CollusionFlag is one of the six collusion pattern detectors this
// package runs each cycle.
type CollusionFlag string

const (
	FlagFraudIsland CollusionFlag = "fraud_island"
	FlagMoneyRouter CollusionFlag = "money_router"
	FlagCircularFlow CollusionFlag = "circular_flow"
	FlagRapidChain   CollusionFlag = "rapid_chain"
	FlagStarHub      CollusionFlag = "star_hub"
	FlagRelayMule    CollusionFlag = "relay_mule"
)

// AccountCollusion is the per-account entry in a collusion-cache snapshot.
type AccountCollusion struct {
	AccountID string
	Flags     []CollusionFlag
}

// Snapshot is one complete, immutable collusion-cache generation: the
// cache is swapped atomically, so readers see either the previous or
// next complete snapshot, never a partial one. Readers only ever hold a
// *Snapshot obtained from Cache.Load; they never see a snapshot under
// construction.
type Snapshot struct {
	GeneratedAt time.Time
	ByAccount   map[string]AccountCollusion
}

// Flagged reports whether accountID carries flag in this snapshot.
func (s *Snapshot) Flagged(accountID string, flag CollusionFlag) bool {
	if s == nil {
		return false
	}
	for _, f := range s.ByAccount[accountID].Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// detectorParams bundles the configured thresholds the six detectors read.
type detectorParams struct {
	MoneyRouterBetweenness float64
	FraudIslandMinSize     int
	FraudIslandMinRisk     float64
	CircularFlowWindow     time.Duration
	RapidChainGap          time.Duration
	StarHubMinDegree       int
	RelayMuleWindow        time.Duration
	RelayMuleRatio         float64
}

func defaultDetectorParams() detectorParams {
	return detectorParams{
		MoneyRouterBetweenness: 0.01,
		FraudIslandMinSize:     3,
		FraudIslandMinRisk:     40,
		CircularFlowWindow:     7 * 24 * time.Hour,
		RapidChainGap:          300 * time.Second,
		StarHubMinDegree:       5,
		RelayMuleWindow:        10 * time.Minute,
		RelayMuleRatio:         0.75,
	}
}

// detectCollusion runs all six detectors and returns one snapshot.
func detectCollusion(g *graph, riskByAccount map[string]float64, communities map[string]string,
	betweennessByAccount map[string]float64, recent []graphstore.TimedEdge, params detectorParams) *Snapshot {

	flags := make(map[string][]CollusionFlag)
	add := func(id string, f CollusionFlag) { flags[id] = append(flags[id], f) }

	// Fraud islands: communities of >=3 accounts with mean risk > threshold.
	communityMembers := make(map[string][]string)
	for id, c := range communities {
		communityMembers[c] = append(communityMembers[c], id)
	}
	for _, members := range communityMembers {
		if len(members) < params.FraudIslandMinSize {
			continue
		}
		var sum float64
		for _, id := range members {
			sum += riskByAccount[id]
		}
		mean := sum / float64(len(members))
		if mean > params.FraudIslandMinRisk {
			for _, id := range members {
				add(id, FlagFraudIsland)
			}
		}
	}

	// Money routers: betweenness >= configured threshold.
	for id, b := range betweennessByAccount {
		if b >= params.MoneyRouterBetweenness {
			add(id, FlagMoneyRouter)
		}
	}

	// Star hubs: degree >= 5 with asymmetric fan (out/in heavily skewed
	// in one direction).
	for _, id := range g.nodes {
		outDeg, inDeg := g.outDegree(id), g.inDegree(id)
		degree := outDeg + inDeg
		if degree < params.StarHubMinDegree {
			continue
		}
		total := outDeg + inDeg
		if total == 0 {
			continue
		}
		skew := float64(abs(outDeg-inDeg)) / float64(total)
		if skew >= 0.6 {
			add(id, FlagStarHub)
		}
	}

	detectCircularFlows(recent, params.CircularFlowWindow, add)
	detectRapidChains(recent, params.RapidChainGap, add)
	detectRelayMules(recent, params.RelayMuleWindow, params.RelayMuleRatio, add)

	snap := &Snapshot{GeneratedAt: time.Now(), ByAccount: make(map[string]AccountCollusion, len(flags))}
	for id, fs := range flags {
		snap.ByAccount[id] = AccountCollusion{AccountID: id, Flags: dedupFlags(fs)}
	}
	return snap
}

func dedupFlags(fs []CollusionFlag) []CollusionFlag {
	seen := make(map[CollusionFlag]bool, len(fs))
	var out []CollusionFlag
	for _, f := range fs {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// detectCircularFlows finds A -> B -> ... -> A cycles that close within
// window, by walking each account's outgoing chain up to 6 hops.
func detectCircularFlows(recent []graphstore.TimedEdge, window time.Duration, add func(string, CollusionFlag)) {
	bySender := groupBySender(recent)
	const maxHops = 6

	var walk func(start, current string, hops int, startTime time.Time, path []string, visited map[string]bool)
	walk = func(start, current string, hops int, startTime time.Time, path []string, visited map[string]bool) {
		if hops > maxHops {
			return
		}
		for _, e := range bySender[current] {
			if e.Timestamp.Before(startTime) || e.Timestamp.Sub(startTime) > window {
				continue
			}
			if e.ReceiverID == start && hops >= 1 {
				for _, id := range path {
					add(id, FlagCircularFlow)
				}
				add(current, FlagCircularFlow)
				add(start, FlagCircularFlow)
				continue
			}
			if visited[e.ReceiverID] {
				continue
			}
			visited[e.ReceiverID] = true
			walk(start, e.ReceiverID, hops+1, startTime, append(path, e.ReceiverID), visited)
			delete(visited, e.ReceiverID)
		}
	}

	for account, edges := range bySender {
		for _, e := range edges {
			visited := map[string]bool{account: true}
			walk(account, e.ReceiverID, 1, e.Timestamp, []string{account, e.ReceiverID}, visited)
		}
	}
}

// detectRapidChains finds directed 2-4 hop paths where every consecutive
// edge time gap is below gapThreshold.
func detectRapidChains(recent []graphstore.TimedEdge, gapThreshold time.Duration, add func(string, CollusionFlag)) {
	bySender := groupBySender(recent)

	var walk func(current string, hops int, lastTS time.Time, path []string)
	walk = func(current string, hops int, lastTS time.Time, path []string) {
		if hops >= 4 {
			if hops >= 2 {
				for _, id := range path {
					add(id, FlagRapidChain)
				}
			}
			return
		}
		if hops >= 2 {
			for _, id := range path {
				add(id, FlagRapidChain)
			}
		}
		for _, e := range bySender[current] {
			if e.Timestamp.Before(lastTS) {
				continue
			}
			if e.Timestamp.Sub(lastTS) >= gapThreshold {
				continue
			}
			walk(e.ReceiverID, hops+1, e.Timestamp, append(path, e.ReceiverID))
		}
	}

	for account, edges := range bySender {
		for _, e := range edges {
			walk(e.ReceiverID, 1, e.Timestamp, []string{account, e.ReceiverID})
		}
	}
}

// detectRelayMules flags accounts whose windowed outflow/inflow ratio
// exceeds ratioThreshold over any trailing window of length windowLen —
// money passing straight through rather than accumulating.
func detectRelayMules(recent []graphstore.TimedEdge, windowLen time.Duration, ratioThreshold float64, add func(string, CollusionFlag)) {
	type flow struct {
		in, out float64
	}
	byAccount := make(map[string][]graphstore.TimedEdge)
	for _, e := range recent {
		byAccount[e.SenderID] = append(byAccount[e.SenderID], e)
		byAccount[e.ReceiverID] = append(byAccount[e.ReceiverID], e)
	}

	for account, edges := range byAccount {
		sort.Slice(edges, func(i, j int) bool { return edges[i].Timestamp.Before(edges[j].Timestamp) })
		for _, anchor := range edges {
			windowStart := anchor.Timestamp
			windowEnd := windowStart.Add(windowLen)
			f := flow{}
			for _, e := range edges {
				if e.Timestamp.Before(windowStart) || e.Timestamp.After(windowEnd) {
					continue
				}
				if e.SenderID == account {
					f.out += e.Amount
				}
				if e.ReceiverID == account {
					f.in += e.Amount
				}
			}
			if f.in > 0 && f.out/f.in > ratioThreshold {
				add(account, FlagRelayMule)
				break
			}
		}
	}
}

func groupBySender(edges []graphstore.TimedEdge) map[string][]graphstore.TimedEdge {
	out := make(map[string][]graphstore.TimedEdge)
	for _, e := range edges {
		out[e.SenderID] = append(out[e.SenderID], e)
	}
	return out
}

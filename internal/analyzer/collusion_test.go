package analyzer

import (
	"testing"
	"time"

	"github.com/rawblock/fraudmesh/internal/graphstore"
)

func TestDetectCircularFlows_FlagsAClosedLoopWithinWindow(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := []graphstore.TimedEdge{
		{TxID: "t1", SenderID: "a", ReceiverID: "b", Amount: 100, Timestamp: base},
		{TxID: "t2", SenderID: "b", ReceiverID: "c", Amount: 100, Timestamp: base.Add(time.Hour)},
		{TxID: "t3", SenderID: "c", ReceiverID: "a", Amount: 100, Timestamp: base.Add(2 * time.Hour)},
	}

	flagged := make(map[string]bool)
	detectCircularFlows(recent, 7*24*time.Hour, func(id string, f CollusionFlag) {
		if f == FlagCircularFlow {
			flagged[id] = true
		}
	})

	for _, id := range []string{"a", "b", "c"} {
		if !flagged[id] {
			t.Errorf("expected %s to be flagged as part of a circular flow", id)
		}
	}
}

func TestDetectCircularFlows_DoesNotFlagOutsideWindow(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := []graphstore.TimedEdge{
		{TxID: "t1", SenderID: "a", ReceiverID: "b", Amount: 100, Timestamp: base},
		{TxID: "t2", SenderID: "b", ReceiverID: "a", Amount: 100, Timestamp: base.Add(10 * 24 * time.Hour)},
	}

	flagged := make(map[string]bool)
	detectCircularFlows(recent, 7*24*time.Hour, func(id string, f CollusionFlag) {
		flagged[id] = true
	})

	if len(flagged) != 0 {
		t.Errorf("expected no circular-flow flags when the loop closes outside the window, got %v", flagged)
	}
}

func TestDetectRapidChains_FlagsFastConsecutiveHops(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := []graphstore.TimedEdge{
		{TxID: "t1", SenderID: "a", ReceiverID: "b", Amount: 50, Timestamp: base},
		{TxID: "t2", SenderID: "b", ReceiverID: "c", Amount: 50, Timestamp: base.Add(30 * time.Second)},
	}

	flagged := make(map[string]bool)
	detectRapidChains(recent, 300*time.Second, func(id string, f CollusionFlag) {
		if f == FlagRapidChain {
			flagged[id] = true
		}
	})

	if !flagged["a"] || !flagged["b"] || !flagged["c"] {
		t.Errorf("expected a, b and c all flagged in a sub-300s 2-hop chain, got %v", flagged)
	}
}

func TestDetectRapidChains_IgnoresSlowHops(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := []graphstore.TimedEdge{
		{TxID: "t1", SenderID: "a", ReceiverID: "b", Amount: 50, Timestamp: base},
		{TxID: "t2", SenderID: "b", ReceiverID: "c", Amount: 50, Timestamp: base.Add(time.Hour)},
	}

	flagged := make(map[string]bool)
	detectRapidChains(recent, 300*time.Second, func(id string, f CollusionFlag) {
		flagged[id] = true
	})

	if len(flagged) != 0 {
		t.Errorf("expected no rapid-chain flags when the gap exceeds the threshold, got %v", flagged)
	}
}

func TestDetectRelayMules_FlagsHighThroughputAccount(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := []graphstore.TimedEdge{
		{TxID: "t1", SenderID: "upstream", ReceiverID: "mule", Amount: 1000, Timestamp: base},
		{TxID: "t2", SenderID: "mule", ReceiverID: "downstream", Amount: 950, Timestamp: base.Add(time.Minute)},
	}

	flagged := make(map[string]bool)
	detectRelayMules(recent, 10*time.Minute, 0.75, func(id string, f CollusionFlag) {
		if f == FlagRelayMule {
			flagged[id] = true
		}
	})

	if !flagged["mule"] {
		t.Error("expected the pass-through account to be flagged as a relay mule")
	}
}

func TestDetectCollusion_FraudIslandRequiresMinSizeAndMeanRisk(t *testing.T) {
	g := buildGraph(
		[]graphstore.AccountNode{{ID: "a"}, {ID: "b"}, {ID: "c"}},
		[]graphstore.Edge{{SenderID: "a", ReceiverID: "b", Weight: 1}, {SenderID: "b", ReceiverID: "c", Weight: 1}},
	)
	risk := map[string]float64{"a": 80, "b": 75, "c": 70}
	communities := map[string]string{"a": "c1", "b": "c1", "c": "c1"}

	snap := detectCollusion(g, risk, communities, map[string]float64{}, nil, defaultDetectorParams())

	for _, id := range []string{"a", "b", "c"} {
		if !snap.Flagged(id, FlagFraudIsland) {
			t.Errorf("expected %s to be flagged as part of a fraud island", id)
		}
	}
}

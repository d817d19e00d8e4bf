// Package mule implements the per-transaction mule classifier: an
// accumulator over roughly seventeen weighted signals (each in
// 0.05-0.30, capped at 1.0), classifying as mule when score >= 0.5 or
// the fused risk is >= 65. The shape follows a scoring ladder and
// weighted-signal-sum-then-threshold idiom.
package mule

import (
	"github.com/rawblock/fraudmesh/internal/extractors"
	"github.com/rawblock/fraudmesh/internal/graphstore"
)

// signal is one named, weighted contribution to the mule score.
type signal struct {
	name   string
	weight float64
	fired  bool
}

// Classification is the classifier's verdict.
type Classification struct {
	IsMule     bool
	Confidence float64
	Reasons    []string
}

// Inputs bundles the data the seventeen signals read: the joined extractor
// results, the account's graph profile, and the device profile for this
// transaction's device.
type Inputs struct {
	Tx        graphstore.IngestRecord
	Profile   graphstore.AccountProfile
	Device    graphstore.DeviceProfile
	Degree    graphstore.DegreeSummary
	Extracted extractors.Set
	FusedRisk float64
}

// Classify evaluates all seventeen signals and applies the classification
// rule.
func Classify(in Inputs) Classification {
	signals := []signal{
		{"fan_in_pattern", 0.20, in.Degree.InDegree >= 5 && in.Degree.OutDegree <= 2},
		{"fan_out_pattern", 0.15, in.Degree.OutDegree >= 5 && in.Degree.InDegree <= 2},
		{"pass_through_velocity", 0.25, contains(in.Extracted.Velocity.Flags, "pass_through_high")},
		{"rapid_inflow_outflow", 0.20, contains(in.Extracted.Velocity.Flags, "pass_through_high", "pass_through_moderate")},
		{"community_fraud_island", 0.30, in.Profile.CommunitySize >= 3 && in.Profile.CommunityMeanRisk > 40},
		{"high_betweenness", 0.15, in.Profile.Betweenness >= 0.01},
		{"neighbour_contagion", 0.10, contains(in.Extracted.Graph.Flags, "neighbour_contagion")},
		{"tight_ring_membership", 0.15, contains(in.Extracted.Graph.Flags, "tight_ring")},
		{"shared_device_heavy", 0.25, contains(in.Extracted.Device.Flags, "shared_device_heavy")},
		{"shared_device_moderate", 0.15, contains(in.Extracted.Device.Flags, "shared_device_moderate")},
		{"multi_user_burst", 0.20, contains(in.Extracted.Device.Flags, "multi_user_burst")},
		{"new_device_high_value", 0.10, contains(in.Extracted.Device.Flags, "new_device_high_amount_mpin")},
		{"dormant_reactivation_spike", 0.20, contains(in.Extracted.DeadAccount.Flags, "sleep_and_flash")},
		{"first_strike_with_spike", 0.15, contains(in.Extracted.DeadAccount.Flags, "first_strike_with_spike")},
		{"identical_structuring", 0.30, contains(in.Extracted.Behavioral.Flags, "identical_amount_structuring")},
		{"single_tx_dominance", 0.10, contains(in.Extracted.Velocity.Flags, "single_tx_dominance")},
		{"low_lifetime_activity", 0.05, in.Profile.LifetimeCount <= 3},
	}

	var score float64
	var reasons []string
	for _, s := range signals {
		if s.fired {
			score += s.weight
			reasons = append(reasons, s.name)
		}
	}
	if score > 1.0 {
		score = 1.0
	}

	isMule := score >= 0.5 || in.FusedRisk >= 65
	return Classification{IsMule: isMule, Confidence: score, Reasons: reasons}
}

func contains(haystack []string, needles ...string) bool {
	for _, h := range haystack {
		for _, n := range needles {
			if h == n {
				return true
			}
		}
	}
	return false
}

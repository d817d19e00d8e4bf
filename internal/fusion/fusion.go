// Package fusion implements the weighted risk combination, level mapping
// and natural-language explanation synthesis: an ordered-signal-to-
// running-score accumulation shape with a threshold ladder for severity
// classification, paired with a deduplicated clause-concatenation
// explanation builder (one fixed clause per flag, without point values).
package fusion

import (
	"strings"

	"github.com/rawblock/fraudmesh/internal/config"
	"github.com/rawblock/fraudmesh/internal/extractors"
	"github.com/rawblock/fraudmesh/pkg/models"
)

// clauses gives each stable flag name emitted by the extractors a short,
// human-readable explanation clause. Unknown flags fall back to the flag
// name itself so nothing is silently dropped.
var clauses = map[string]string{
	"amount_zscore":                 "amount is a statistical outlier vs the sender's recent history",
	"velocity_burst":                "high transaction velocity in the recent window",
	"impossible_travel":             "consecutive transactions imply impossible travel speed",
	"night_transaction":             "transaction occurred during night hours",
	"iqr_outlier":                   "amount falls outside the sender's typical interquartile range",
	"three_sigma_spike":             "amount exceeds three standard deviations above the sender's mean",
	"dormant_burst":                 "dormant account transacting above its historical mean",
	"asn_risk":                      "originating network endpoint carries elevated ASN risk",
	"endpoint_rotation":             "sender has rotated across many network endpoints recently",
	"fixed_amount_repetition":       "repeated transfers of the same amount to this receiver",
	"circadian_anomaly":             "transaction hour is highly atypical for this sender",
	"circadian_anomaly_new_device":  "transaction hour is atypical and the device is newly seen for this account",
	"identical_amount_structuring":  "multiple near-identical transfers to the same receiver in a short window",
	"community_risk":                "sender belongs to a high-risk community cluster",
	"community_high_risk_members":   "sender's cluster contains multiple high-risk members",
	"betweenness":                   "sender occupies a structurally central position in the transfer graph",
	"pagerank":                      "sender has elevated importance in the transfer graph",
	"fan_out":                       "sender exhibits a fan-out pattern (many receivers, few senders)",
	"fan_in":                        "sender exhibits a fan-in pattern (many senders, few receivers)",
	"tight_ring":                    "sender is part of a tightly connected ring of accounts",
	"neighbour_contagion":           "sender's direct transfer neighbours carry elevated risk",
	"shared_device_heavy":           "device is shared by a large number of accounts",
	"shared_device_moderate":        "device is shared by several accounts",
	"shared_device_light":           "device is shared by more than one account",
	"device_risk_propagation":       "device carries elevated risk from its other users",
	"multi_user_burst":              "device used by many distinct accounts in the past day",
	"device_drift":                  "device fingerprint has drifted from its stored profile",
	"new_device_high_amount_mpin":   "first use of this device with a high-value MPIN transaction",
	"new_device_base":               "device has not been seen before for this account",
	"device_user_high_risk":         "device has another user with high risk score",
	"os_anomaly":                    "device operating system is outside the expected set",
	"inactivity":                    "account has been inactive for an extended period",
	"spike_vs_profile":              "amount is a large multiple of the account's historical mean",
	"first_strike_with_spike":       "first transaction after dormancy combined with a volume spike",
	"first_strike":                  "first transaction after a period of dormancy",
	"sleep_and_flash":               "dormant account suddenly transacting at many times its historical amount",
	"low_activity_account":          "account has very little lifetime transaction history",
	"velocity_burst_high":           "very high recent transaction count",
	"velocity_burst_moderate":       "elevated recent transaction count",
	"pass_through_high":             "funds are passing through the account almost as fast as they arrive",
	"pass_through_moderate":         "funds are passing through the account faster than typical",
	"single_tx_dominance":           "this single transaction dominates the account's total outflow",
}

// Output is the complete fusion result for one transaction.
type Output struct {
	Risk      float64
	Level     models.RiskLevel
	Breakdown models.Breakdown
	Flags     []string
	Reason    string
}

// Fuse computes R = min(0.30*graph + 0.25*behav + 0.20*device + 0.15*dead +
// 0.10*vel, 100), maps it to a level, and synthesizes a deduplicated,
// stable-order explanation string from the flags that fired.
//
// The circadian-anomaly + new-device compound (20 -> 35) is resolved
// here, not in the behavioural extractor, because the two signals it
// crosses come from different extractors: if both "circadian_anomaly"
// and "new_device_base" fired, the behavioural contribution for that one
// rule is raised from 20 to the configured compound value before weighting.
func Fuse(set extractors.Set, weights config.FusionWeights, thresholds config.Thresholds, v3 config.V3Params) Output {
	behavScore := set.Behavioral.Score
	behavFlags := append([]string{}, set.Behavioral.Flags...)

	hasCircadian := containsFlag(behavFlags, "circadian_anomaly")
	hasNewDevice := containsFlag(set.Device.Flags, "new_device_base")
	if hasCircadian && hasNewDevice {
		behavScore = behavScore - v3.CircadianPenalty + v3.CircadianCompound
		behavScore = clampScore(behavScore)
		behavFlags = replaceFlag(behavFlags, "circadian_anomaly", "circadian_anomaly_new_device")
	}

	weighted := weights.Graph*set.Graph.Score +
		weights.Behavioral*behavScore +
		weights.Device*set.Device.Score +
		weights.DeadAccount*set.DeadAccount.Score +
		weights.Velocity*set.Velocity.Score

	risk := weighted
	if risk > 100 {
		risk = 100
	}
	if risk < 0 {
		risk = 0
	}

	level := models.RiskLow
	switch {
	case risk >= thresholds.High:
		level = models.RiskHigh
	case risk >= thresholds.Medium:
		level = models.RiskMedium
	}

	allFlags := dedupeOrdered(append(append(append(append(append([]string{},
		behavFlags...), set.Graph.Flags...), set.Device.Flags...), set.DeadAccount.Flags...), set.Velocity.Flags...))

	reason := buildExplanation(allFlags)

	return Output{
		Risk:  risk,
		Level: level,
		Breakdown: models.Breakdown{
			Graph:       set.Graph.Score,
			Behavioral:  behavScore,
			Device:      set.Device.Score,
			DeadAccount: set.DeadAccount.Score,
			Velocity:    set.Velocity.Score,
		},
		Flags:  allFlags,
		Reason: reason,
	}
}

// buildExplanation concatenates the stable clause for each flag that fired,
// in the order they first appeared, joined with "; ". Purely a
// function of the flags already computed during scoring; it never
// re-queries the graph.
func buildExplanation(flags []string) string {
	if len(flags) == 0 {
		return "no elevated risk signals detected"
	}
	parts := make([]string, 0, len(flags))
	for _, f := range flags {
		if c, ok := clauses[f]; ok {
			parts = append(parts, c)
		} else {
			parts = append(parts, f)
		}
	}
	return strings.Join(parts, "; ")
}

func containsFlag(flags []string, name string) bool {
	for _, f := range flags {
		if f == name {
			return true
		}
	}
	return false
}

func replaceFlag(flags []string, from, to string) []string {
	out := make([]string, len(flags))
	for i, f := range flags {
		if f == from {
			out[i] = to
		} else {
			out[i] = f
		}
	}
	return out
}

// dedupeOrdered removes duplicate flags while preserving first-seen
// order, so the same rule fires at most once per explanation.
func dedupeOrdered(flags []string) []string {
	seen := make(map[string]bool, len(flags))
	out := make([]string, 0, len(flags))
	for _, f := range flags {
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

package fusion

import (
	"math"
	"testing"

	"github.com/rawblock/fraudmesh/internal/config"
	"github.com/rawblock/fraudmesh/internal/extractors"
)

func defaultWeights() config.FusionWeights {
	return config.FusionWeights{Graph: 0.30, Behavioral: 0.25, Device: 0.20, DeadAccount: 0.15, Velocity: 0.10}
}

func defaultThresholds() config.Thresholds {
	return config.Thresholds{High: 70, Medium: 40}
}

func TestFuse_NormalTransactionIsLow(t *testing.T) {
	set := extractors.Set{}
	out := Fuse(set, defaultWeights(), defaultThresholds(), config.V3Params{})
	if out.Level != "LOW" {
		t.Errorf("expected LOW for an all-zero signal set, got %s (risk=%v)", out.Level, out.Risk)
	}
	if out.Risk != 0 {
		t.Errorf("expected risk 0, got %v", out.Risk)
	}
	if out.Reason == "" {
		t.Errorf("expected a non-empty reason even at zero risk")
	}
}

func TestFuse_ImpossibleTravelAlone(t *testing.T) {
	set := extractors.Set{
		Behavioral: extractors.Result{Score: 20, Flags: []string{"impossible_travel"}},
	}
	out := Fuse(set, defaultWeights(), defaultThresholds(), config.V3Params{})
	want := 0.25 * 20
	if math.Abs(out.Risk-want) > 0.01 {
		t.Errorf("expected risk ~%.2f, got %.2f", want, out.Risk)
	}
	if !containsFlag(out.Flags, "impossible_travel") {
		t.Errorf("expected impossible_travel flag present, got %v", out.Flags)
	}
}

func TestFuse_CapsAt100(t *testing.T) {
	set := extractors.Set{
		Graph:       extractors.Result{Score: 100},
		Behavioral:  extractors.Result{Score: 100},
		Device:      extractors.Result{Score: 100},
		DeadAccount: extractors.Result{Score: 100},
		Velocity:    extractors.Result{Score: 100},
	}
	out := Fuse(set, defaultWeights(), defaultThresholds(), config.V3Params{})
	if out.Risk != 100 {
		t.Errorf("expected risk clipped to 100, got %v", out.Risk)
	}
}

func TestFuse_CircadianNewDeviceCompound(t *testing.T) {
	v3 := config.V3Params{CircadianPenalty: 20, CircadianCompound: 35}
	set := extractors.Set{
		Behavioral: extractors.Result{Score: 20, Flags: []string{"circadian_anomaly"}},
		Device:     extractors.Result{Score: 12, Flags: []string{"new_device_base"}},
	}
	out := Fuse(set, defaultWeights(), defaultThresholds(), v3)
	wantBehav := 20.0 - 20 + 35
	if out.Breakdown.Behavioral != wantBehav {
		t.Errorf("expected compounded behavioral score %v, got %v", wantBehav, out.Breakdown.Behavioral)
	}
	if !containsFlag(out.Flags, "circadian_anomaly_new_device") {
		t.Errorf("expected compound flag to replace the base circadian flag, got %v", out.Flags)
	}
	if containsFlag(out.Flags, "circadian_anomaly") {
		t.Errorf("base circadian flag should be replaced, not duplicated: %v", out.Flags)
	}
}

func TestFuse_DeduplicatesRepeatedFlags(t *testing.T) {
	set := extractors.Set{
		Graph:      extractors.Result{Score: 10, Flags: []string{"betweenness"}},
		Behavioral: extractors.Result{Score: 10, Flags: []string{"betweenness"}},
	}
	out := Fuse(set, defaultWeights(), defaultThresholds(), config.V3Params{})
	count := 0
	for _, f := range out.Flags {
		if f == "betweenness" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("expected betweenness to appear once after dedup, got %d in %v", count, out.Flags)
	}
}

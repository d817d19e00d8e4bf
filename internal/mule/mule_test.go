package mule

import (
	"testing"

	"github.com/rawblock/fraudmesh/internal/extractors"
	"github.com/rawblock/fraudmesh/internal/graphstore"
)

func TestClassify_HighRiskAloneTriggersMule(t *testing.T) {
	c := Classify(Inputs{FusedRisk: 70})
	if !c.IsMule {
		t.Errorf("expected mule classification when fused risk >= 65, got %+v", c)
	}
}

func TestClassify_SignalSumThreshold(t *testing.T) {
	in := Inputs{
		FusedRisk: 10,
		Degree:    graphstore.DegreeSummary{InDegree: 6, OutDegree: 1},
		Profile:   graphstore.AccountProfile{CommunitySize: 4, CommunityMeanRisk: 55},
		Extracted: extractors.Set{
			Velocity: extractors.Result{Flags: []string{"pass_through_high"}},
		},
	}
	c := Classify(in)
	if !c.IsMule {
		t.Errorf("expected mule classification from accumulated signals, got confidence=%v reasons=%v", c.Confidence, c.Reasons)
	}
}

func TestClassify_NoSignalsNotMule(t *testing.T) {
	c := Classify(Inputs{FusedRisk: 5})
	if c.IsMule {
		t.Errorf("expected no mule classification, got %+v", c)
	}
}

package extractors

import (
	"context"
	"testing"
	"time"

	"github.com/rawblock/fraudmesh/internal/config"
	"github.com/rawblock/fraudmesh/internal/graphstore"
)

func baseInput(sender string, amount float64) Input {
	return Input{
		Tx: graphstore.IngestRecord{
			TxID:     "tx1",
			SenderID: sender,
			Amount:   amount,
			Timestamp: time.Date(2026, 1, 1, 14, 0, 0, 0, time.UTC),
		},
		Thresholds: config.Thresholds{
			VelocityWindowSec:   60,
			BurstThreshold:      10,
			ImpossibleTravelKMH: 250,
			DormancyDays:        30,
		},
		V3: config.V3Params{
			MultiUserThreshold:  3,
			MultiUserPenalty:    25,
			CircadianPenalty:    20,
			IdenticalMinCount:   3,
			IdenticalPenalty:    30,
			SleepFlashRatio:     50,
			NewDeviceHighAmount: 10000,
			EndpointRotationMax: 5,
		},
	}
}

func TestBehavioral_ImpossibleTravel(t *testing.T) {
	store := newFakeStore()
	lat1, lon1 := 40.0, -73.0
	ts1 := time.Date(2026, 1, 1, 13, 58, 0, 0, time.UTC)
	store.coords["acc1"] = [3]float64{lat1, lon1, float64(ts1.Unix())}
	store.hasCoords["acc1"] = true

	in := baseInput("acc1", 500)
	lat2, lon2 := 41.0, 10.0 // far away, ~2 minutes later
	in.SenderLat = &lat2
	in.SenderLon = &lon2

	res, err := Behavioral(context.Background(), store, in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	found := false
	for _, f := range res.Flags {
		if f == "impossible_travel" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected impossible_travel flag, got flags=%v score=%v", res.Flags, res.Score)
	}
	if res.Score < 20 {
		t.Errorf("expected score >= 20 from impossible travel alone, got %v", res.Score)
	}
}

func TestDormant_ReactivationWithSpike(t *testing.T) {
	store := newFakeStore()
	store.profiles["acc2"] = graphstore.AccountProfile{
		MeanOutgoing25: 100,
		Dormant:        true,
		LastActive:     time.Date(2025, 11, 15, 0, 0, 0, 0, time.UTC),
		LifetimeCount:  10,
	}

	in := baseInput("acc2", 6000) // 60x profile mean
	in.Tx.Timestamp = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) // ~47 days later

	res, err := Dormant(context.Background(), store, in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Score < 75 {
		t.Errorf("expected dead score >= 75 per end-to-end scenario 3, got %v (flags=%v)", res.Score, res.Flags)
	}
}

func TestVelocity_SingleTxDominance(t *testing.T) {
	store := newFakeStore()
	store.profiles["acc3"] = graphstore.AccountProfile{LifetimeOutflow: 100}
	store.activity["acc3"] = graphstore.ActivityWindow{SentCount: 1, ReceivedCount: 0, SentSum: 5000}

	in := baseInput("acc3", 5000)
	res, err := Velocity(context.Background(), store, in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	found := false
	for _, f := range res.Flags {
		if f == "single_tx_dominance" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected single_tx_dominance flag, got %v", res.Flags)
	}
}

func TestGraph_DegradesToZeroWithoutBatchSnapshot(t *testing.T) {
	store := newFakeStore()
	// No profile/degree/neighbor data populated: simulates no batch
	// snapshot having run yet, which should degrade to zero.
	in := baseInput("acc4", 100)
	res, err := Graph(context.Background(), store, in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Score != 0 {
		t.Errorf("expected graph score 0 with no batch snapshot, got %v", res.Score)
	}
}

package extractors

import (
	"context"
	"time"

	"github.com/rawblock/fraudmesh/internal/graphstore"
)

// Velocity implements this velocity extractor: burst score,
// pass-through score, velocity component, and single-transaction-dominance.
func Velocity(ctx context.Context, store graphstore.GraphStore, in Input) (Result, error) {
	window := time.Duration(in.Thresholds.VelocityWindowSec) * time.Second
	activity, err := store.ActivityInWindow(ctx, in.Tx.SenderID, window)
	if err != nil {
		return Result{}, err
	}
	profile, err := store.AccountProfile(ctx, in.Tx.SenderID)
	if err != nil {
		return Result{}, err
	}

	var score float64
	var flags []string

	totalActivity := float64(activity.SentCount + activity.ReceivedCount)

	// Burst score.
	switch {
	case totalActivity >= float64(in.Thresholds.BurstThreshold):
		score += 30
		flags = append(flags, "velocity_burst_high")
	case totalActivity >= float64(in.Thresholds.BurstThreshold)/2:
		score += 15
		flags = append(flags, "velocity_burst_moderate")
	}

	// Pass-through score.
	if activity.ReceivedSum > 0 {
		r := activity.SentSum / activity.ReceivedSum
		switch {
		case r > 0.80:
			score += clamp(r/1.5, 0, 1) * 35
			flags = append(flags, "pass_through_high")
		case r > 0.5:
			score += 10
			flags = append(flags, "pass_through_moderate")
		}
	}

	// Velocity component.
	score += clamp(totalActivity/10, 0, 1) * 20

	// Single-transaction dominance.
	totalSent := profile.LifetimeOutflow + in.Tx.Amount
	if totalSent > 0 && in.Tx.Amount/totalSent > 0.80 {
		score += 15
		flags = append(flags, "single_tx_dominance")
	}

	return Result{Score: clamp(score, 0, 100), Flags: flags}, nil
}

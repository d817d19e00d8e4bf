package extractors

import (
	"context"

	"github.com/rawblock/fraudmesh/internal/graphstore"
)

// Dormant implements the dormant-account extractor: inactivity,
// spike-vs-profile, first-strike bonus, sleep-and-flash, and low-activity
// account.
func Dormant(ctx context.Context, store graphstore.GraphStore, in Input) (Result, error) {
	profile, err := store.AccountProfile(ctx, in.Tx.SenderID)
	if err != nil {
		return Result{}, err
	}

	daysDormant := 0.0
	if !profile.LastActive.IsZero() {
		daysDormant = nowOrTx(in.Tx.Timestamp).Sub(profile.LastActive).Hours() / 24
	}

	inactivity := clamp(daysDormant/30, 0, 1) * 30

	spike := 0.0
	hasHistory := profile.MeanOutgoing25 > 0
	if hasHistory {
		spike = clamp((in.Tx.Amount/profile.MeanOutgoing25)/10, 0, 1) * 30
	} else if in.Tx.Amount > 5000 {
		spike = 25
	}

	// First strike: the first transaction after dormancy.
	firstStrike := profile.Dormant

	var flags []string
	var score float64

	if profile.Dormant || firstStrike {
		if profile.Dormant {
			score += inactivity
			flags = append(flags, "inactivity")
		}
		score += spike
		if spike > 0 {
			flags = append(flags, "spike_vs_profile")
		}

		switch {
		case firstStrike && spike > 0:
			score += 25
			flags = append(flags, "first_strike_with_spike")
		case firstStrike:
			score += 20
			flags = append(flags, "first_strike")
		}

		if hasHistory && profile.MeanOutgoing25 > 0 {
			ratio := in.Tx.Amount / profile.MeanOutgoing25
			if ratio >= in.V3.SleepFlashRatio && daysDormant >= float64(in.Thresholds.DormancyDays) {
				score += 20
				flags = append(flags, "sleep_and_flash")
			}
		}

		if profile.LifetimeCount <= 3 {
			score += 10
			flags = append(flags, "low_activity_account")
		}
	} else {
		// Sender is neither dormant nor on a first strike (firstStrike is
		// identical to profile.Dormant, so this is every non-dormant
		// sender): only the damped volume spike is scored, with no flags.
		score = spike * 0.3
	}

	return Result{Score: clamp(score, 0, 100), Flags: flags}, nil
}

package extractors

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/rawblock/fraudmesh/internal/graphstore"
)

// Behavioral implements this behavioural extractor: amount z-score,
// velocity burst, impossible travel, night flag, IQR outlier, three-sigma
// spike, dormant burst, ASN risk, endpoint rotation, fixed-amount
// repetition, circadian anomaly and identical-amount structuring, summed
// and clipped to [0,100].
//
// The circadian-anomaly + first-seen-device compound (20 -> 35) is
// deliberately NOT computed here: the two signals originate in different
// extractors (behavioural vs device), so the crossing is resolved once in
// fusion (see internal/fusion).
func Behavioral(ctx context.Context, store graphstore.GraphStore, in Input) (Result, error) {
	var score float64
	var flags []string
	add := func(v float64, flag string) {
		if v > 0 {
			score += v
			flags = append(flags, flag)
		}
	}

	profile, err := store.AccountProfile(ctx, in.Tx.SenderID)
	if err != nil {
		return Result{}, err
	}

	amounts, err := store.RecentOutgoingAmounts(ctx, in.Tx.SenderID, 25)
	if err != nil {
		return Result{}, err
	}

	// Amount z-score.
	mean, std := profile.MeanOutgoing25, profile.StdOutgoing25
	if len(amounts) < 2 {
		std = math.Max(std, 0.5*mean)
	}
	if std > 0 {
		z := (in.Tx.Amount - mean) / std
		add(clamp(math.Abs(z)*10, 0, 30), "amount_zscore")
	}

	// Velocity burst.
	activity, err := store.ActivityInWindow(ctx, in.Tx.SenderID, time.Duration(in.Thresholds.VelocityWindowSec)*time.Second)
	if err != nil {
		return Result{}, err
	}
	totalActivity := float64(activity.SentCount + activity.ReceivedCount)
	add(clamp(totalActivity/10, 0, 1)*20, "velocity_burst")

	// Impossible travel.
	if in.SenderLat != nil && in.SenderLon != nil {
		lat, lon, ts, ok, err := store.LastSenderCoordinates(ctx, in.Tx.SenderID)
		if err != nil {
			return Result{}, err
		}
		if ok {
			elapsed := nowOrTx(in.Tx.Timestamp).Sub(ts)
			speed := graphstore.HaversineKMH(lat, lon, *in.SenderLat, *in.SenderLon, elapsed)
			if speed > in.Thresholds.ImpossibleTravelKMH {
				add(20, "impossible_travel")
			}
		}
	}

	// Night flag.
	h := nowOrTx(in.Tx.Timestamp).Hour()
	if h <= 5 || h >= 23 {
		add(5, "night_transaction")
	}

	// IQR outlier and three-sigma spike on recent amounts. amounts already
	// includes this tx's own row: UpsertIngest committed it before this
	// extractor ran, so it is not appended again here.
	if len(amounts) >= 4 {
		if isIQROutlier(amounts, in.Tx.Amount) {
			add(15, "iqr_outlier")
		}
	}
	if std > 0 && in.Tx.Amount > mean+3*std {
		add(10, "three_sigma_spike")
	}

	// Dormant burst.
	if profile.Dormant && mean > 0 && in.Tx.Amount > mean {
		add(15, "dormant_burst")
	}

	// ASN risk x 20, already fused by the worker's sequential ASN-enrichment
	// step that runs before this extractor.
	add(in.ASNContribution, "asn_risk")

	// Endpoint rotation.
	distinct, err := store.DistinctEndpointsInWindow(ctx, in.Tx.SenderID, 24*time.Hour)
	if err != nil {
		return Result{}, err
	}
	if distinct >= in.V3.EndpointRotationMax {
		add(15, "endpoint_rotation")
	}

	// Fixed-amount repetition: 3+ of this exact amount to this receiver in 24h.
	repCount, err := store.IdenticalAmountCount(ctx, in.Tx.SenderID, in.Tx.ReceiverID, in.Tx.Amount, 0.01, 24*time.Hour)
	if err != nil {
		return Result{}, err
	}
	if repCount >= 3 {
		add(10, "fixed_amount_repetition")
	}

	// Circadian anomaly (base 20; compound to 35 happens in fusion).
	if profile.LifetimeCount >= 10 {
		hist, total, err := store.HourHistogram(ctx, in.Tx.SenderID)
		if err != nil {
			return Result{}, err
		}
		if total > 0 {
			freq := float64(hist[h]) / float64(total)
			if freq < 0.02 {
				add(in.V3.CircadianPenalty, "circadian_anomaly")
			}
		}
	}

	// Identical-amount structuring: ≥3 tx to same receiver within 1h, amounts
	// within 1 of each other.
	structCount, err := store.IdenticalAmountCount(ctx, in.Tx.SenderID, in.Tx.ReceiverID, in.Tx.Amount, 1.0, time.Hour)
	if err != nil {
		return Result{}, err
	}
	if structCount >= in.V3.IdenticalMinCount {
		add(in.V3.IdenticalPenalty, "identical_amount_structuring")
	}

	return Result{Score: clamp(score, 0, 100), Flags: flags}, nil
}

// isIQROutlier applies the 1.5×IQR fence test to amount within sample.
func isIQROutlier(sample []float64, amount float64) bool {
	sorted := append([]float64{}, sample...)
	sort.Float64s(sorted)
	q1 := percentile(sorted, 0.25)
	q3 := percentile(sorted, 0.75)
	iqr := q3 - q1
	lower := q1 - 1.5*iqr
	upper := q3 + 1.5*iqr
	return amount < lower || amount > upper
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := p * float64(len(sorted)-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// Package extractors implements the five stateless feature scorers that
// run concurrently per transaction against the graph store. Each returns
// a number in [0,100] plus the stable flag names that fired. The shape
// generalizes an ordered-signal-sections, running-score-plus-flag-
// accumulation scorer into five independent functions joined at a
// fan-out barrier via golang.org/x/sync/errgroup.
package extractors

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rawblock/fraudmesh/internal/asn"
	"github.com/rawblock/fraudmesh/internal/config"
	"github.com/rawblock/fraudmesh/internal/errs"
	"github.com/rawblock/fraudmesh/internal/graphstore"
)

// Input bundles everything an extractor needs: the normalized transaction,
// its resolved ASN lookup, and the tunable thresholds.
type Input struct {
	Tx       graphstore.IngestRecord
	SenderLat *float64
	SenderLon *float64
	ASNLookup asn.Lookup
	// ASNContribution is asn_risk x 20, already computed by the worker's
	// sequential ASN-enrichment step, before the five extractors fan out.
	ASNContribution float64
	Thresholds config.Thresholds
	V3        config.V3Params
}

// Result is one extractor's contribution: a score in [0,100] and the
// stable flag names that fired, consumed verbatim by fusion's explanation
// synthesis.
type Result struct {
	Score float64
	Flags []string
}

// Set is the joined output of all five extractors for one transaction.
type Set struct {
	Behavioral  Result
	Graph       Result
	Device      Result
	DeadAccount Result
	Velocity    Result
}

// clamp bounds v to [lo, hi].
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Run executes all five extractors concurrently and joins them at a
// barrier before returning: every extractor within a record must join
// before fusion runs. If ctx is cancelled (soft deadline), Run returns
// errs.ErrDeadlineExceeded.
func Run(ctx context.Context, store graphstore.GraphStore, in Input) (Set, error) {
	var set Set
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		r, err := Behavioral(gctx, store, in)
		if err != nil {
			return err
		}
		set.Behavioral = r
		return nil
	})
	g.Go(func() error {
		r, err := Graph(gctx, store, in)
		if err != nil {
			return err
		}
		set.Graph = r
		return nil
	})
	g.Go(func() error {
		r, err := Device(gctx, store, in)
		if err != nil {
			return err
		}
		set.Device = r
		return nil
	})
	g.Go(func() error {
		r, err := Dormant(gctx, store, in)
		if err != nil {
			return err
		}
		set.DeadAccount = r
		return nil
	})
	g.Go(func() error {
		r, err := Velocity(gctx, store, in)
		if err != nil {
			return err
		}
		set.Velocity = r
		return nil
	})

	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return set, errs.Wrap(errs.ErrDeadlineExceeded, "extractor fan-out", ctx.Err())
		}
		return set, errs.Wrap(errs.ErrExtractor, "extractor fan-out", err)
	}
	return set, nil
}

func nowOrTx(ts time.Time) time.Time {
	if ts.IsZero() {
		return time.Now()
	}
	return ts
}

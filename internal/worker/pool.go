// Package worker implements the worker pool: N parallel consumers, each
// running consume -> ingest -> ASN enrich -> concurrent feature
// extraction -> fusion -> mule classification -> persist risk -> alert
// broadcast -> ACK per record, with a per-record soft deadline and
// non-blocking backpressure counters. The loop shape generalizes a
// single ticking poller (per-item context with timeout, non-fatal
// per-item error handling that keeps the loop alive) to N concurrent
// consumer-group workers.
package worker

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/rawblock/fraudmesh/internal/alert"
	"github.com/rawblock/fraudmesh/internal/asn"
	"github.com/rawblock/fraudmesh/internal/config"
	"github.com/rawblock/fraudmesh/internal/errs"
	"github.com/rawblock/fraudmesh/internal/extractors"
	"github.com/rawblock/fraudmesh/internal/fusion"
	"github.com/rawblock/fraudmesh/internal/graphstore"
	flog "github.com/rawblock/fraudmesh/internal/log"
	"github.com/rawblock/fraudmesh/internal/mule"
	"github.com/rawblock/fraudmesh/internal/streamqueue"
	"github.com/rawblock/fraudmesh/pkg/models"
)

// consumeRetryBase/Jitter back off a consume loop off a failing stream
// instead of hot-looping against it.
const (
	consumeRetryBase   = 200 * time.Millisecond
	consumeRetryJitter = 300 * time.Millisecond
)

// Pool owns the stream consumer-group workers. Its dependencies are the
// durable stream, the graph store, the ASN resolver, and the alert
// broadcaster — every concurrency-unsafe piece of shared state lives in
// the store or the broadcaster, never here.
type Pool struct {
	stream      streamqueue.Stream
	store       graphstore.GraphStore
	resolver    *asn.Resolver
	broadcaster *alert.Broadcaster
	cfg         config.Config
	metrics     *Metrics

	group string
}

// New constructs a worker pool.
func New(stream streamqueue.Stream, store graphstore.GraphStore, resolver *asn.Resolver, broadcaster *alert.Broadcaster, cfg config.Config, metrics *Metrics) *Pool {
	return &Pool{
		stream:      stream,
		store:       store,
		resolver:    resolver,
		broadcaster: broadcaster,
		cfg:         cfg,
		metrics:     metrics,
		group:       cfg.ConsumerGroup,
	}
}

// Run starts cfg.WorkerCount consumer goroutines and blocks until ctx is
// cancelled, then waits for every in-flight record to reach its next
// suspension point before returning: a cancelled worker stops at the next
// suspension point and does not ACK the in-flight record.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.cfg.WorkerCount; i++ {
		wg.Add(1)
		consumerName := "worker-" + strconv.Itoa(i)
		go func() {
			defer wg.Done()
			p.consume(ctx, consumerName)
		}()
	}
	wg.Wait()
}

func (p *Pool) consume(ctx context.Context, consumer string) {
	logger := flog.For("worker").With().Str("consumer", consumer).Logger()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		records, err := p.stream.ConsumeGroup(ctx, p.group, consumer, int64(p.cfg.WorkerBatchSize), 2*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn().Err(err).Msg("consume group failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(graphstore.JitteredSleep(consumeRetryBase, consumeRetryJitter)):
			}
			continue
		}

		for _, rec := range records {
			select {
			case <-ctx.Done():
				return
			default:
			}
			p.processAndAck(ctx, consumer, rec)
		}
	}
}

func (p *Pool) processAndAck(ctx context.Context, consumer string, rec streamqueue.Record) {
	start := time.Now()
	recCtx, cancel := context.WithTimeout(ctx, p.cfg.SoftDeadline)
	defer cancel()

	scored, ack, err := p.ProcessPayload(recCtx, rec.Payload)
	elapsed := time.Since(start)
	if p.metrics != nil {
		p.metrics.ProcessingDuration.Observe(elapsed.Seconds())
	}
	if err != nil {
		switch {
		case errsIs(err, errs.ErrInvalidInput):
			if p.metrics != nil {
				p.metrics.RecordsDropped.Inc()
			}
		case errsIs(err, errs.ErrTransientStore):
			if p.metrics != nil {
				p.metrics.RetriesExhausted.Inc()
			}
		}
		flog.For("worker").Warn().Err(err).Str("consumer", consumer).Str("record_id", rec.ID).Msg("record processing failed")
	}

	if !ack {
		return
	}
	if scored != nil {
		scored.ProcessingTimeMS = float64(elapsed.Microseconds()) / 1000.0
		if p.broadcaster != nil {
			p.broadcaster.PublishScored(*scored, p.cfg.Thresholds.Medium)
		}
	}
	// Broadcast before ACK: a crash between the two leaves the record
	// redeliverable and the alert re-sent, rather than ACKed with the
	// alert already and permanently lost.
	if err := p.stream.Acknowledge(ctx, p.group, rec.ID); err != nil {
		flog.For("worker").Warn().Err(err).Str("record_id", rec.ID).Msg("acknowledge failed")
	}
}

// errsIs walks the kindError.Unwrap() chain looking for target, matching
// the sentinel-wrapping scheme in internal/errs without needing errors.Is
// (which would require kindError to also implement As-compatible joins).
func errsIs(err, target error) bool {
	for err != nil {
		if is, ok := err.(interface{ Is(error) bool }); ok && is.Is(target) {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// ProcessPayload runs the full scoring pipeline for one raw stream payload
// and reports whether the record should be ACKed. It is also the entry
// point for POST /transaction, which calls it directly and discards ack,
// since synchronous HTTP scoring has no stream position to acknowledge.
func (p *Pool) ProcessPayload(ctx context.Context, payload []byte) (scored *models.ScoredRecord, ack bool, err error) {
	var sr models.StreamRecord
	if err := json.Unmarshal(payload, &sr); err != nil {
		return nil, true, errs.Wrap(errs.ErrInvalidInput, "malformed stream record", err)
	}
	if sr.TxID == "" || sr.SenderID == "" || sr.ReceiverID == "" || sr.Amount < 0 {
		return nil, true, errs.Wrap(errs.ErrInvalidInput, "missing or invalid required fields", nil)
	}

	out, err := p.Score(ctx, sr)
	if err != nil {
		switch {
		case errsIs(err, errs.ErrTransientStore), errsIs(err, errs.ErrStore),
			errsIs(err, errs.ErrExtractor), errsIs(err, errs.ErrDeadlineExceeded):
			return nil, false, err
		default:
			return nil, true, err
		}
	}
	return out, true, nil
}

// Score runs the full per-record pipeline (this per-record steps,
// minus ACK) and returns the fused, mule-annotated result.
func (p *Pool) Score(ctx context.Context, sr models.StreamRecord) (*models.ScoredRecord, error) {
	tx := graphstore.IngestRecord{
		TxID:              sr.TxID,
		SenderID:          sr.SenderID,
		ReceiverID:        sr.ReceiverID,
		Amount:            sr.Amount,
		Timestamp:         time.Unix(sr.Timestamp, 0),
		Channel:           sr.Channel,
		DeviceFingerprint: sr.DeviceHash,
		DeviceOS:          sr.DeviceOS,
		EndpointIP:        sr.IPAddress,
		Credential:        sr.CredentialType,
	}

	if err := p.store.UpsertIngest(ctx, tx); err != nil {
		return nil, err
	}

	lookup, contribution := p.resolveASN(ctx, tx)
	tx.ASN = lookup.ASN

	set, err := extractors.Run(ctx, p.store, extractors.Input{
		Tx:              tx,
		SenderLat:       sr.SenderLat,
		SenderLon:       sr.SenderLon,
		ASNLookup:       lookup,
		ASNContribution: contribution,
		Thresholds:      p.cfg.Thresholds,
		V3:              p.cfg.V3,
	})
	if err != nil {
		return nil, err
	}

	fused := fusion.Fuse(set, p.cfg.Weights, p.cfg.Thresholds, p.cfg.V3)

	profile, _ := p.store.AccountProfile(ctx, sr.SenderID)
	device, _ := p.store.DeviceProfile(ctx, sr.SenderID, sr.DeviceHash)
	degree, _ := p.store.DegreeSummary(ctx, sr.SenderID)
	classification := mule.Classify(mule.Inputs{
		Tx:        tx,
		Profile:   profile,
		Device:    device,
		Degree:    degree,
		Extracted: set,
		FusedRisk: fused.Risk,
	})

	if err := p.store.PersistRisk(ctx, tx.TxID, tx.SenderID, fused.Risk); err != nil {
		return nil, err
	}

	return &models.ScoredRecord{
		TxID:           tx.TxID,
		RiskScore:      fused.Risk,
		RiskLevel:      fused.Level,
		Breakdown:      fused.Breakdown,
		ClusterID:      profile.CommunityID,
		Flags:          fused.Flags,
		Reason:         fused.Reason,
		Timestamp:      time.Now(),
		IsMule:         classification.IsMule,
		MuleConfidence: classification.Confidence,
		MuleReasons:    classification.Reasons,
	}, nil
}

// resolveASN runs ASN validation, lookup and fusion end to end for the
// transaction's endpoint, degrading to a zero lookup and zero
// contribution if no resolver is configured, no ASN table is loaded, or
// the endpoint fails validation. RecentDistinctAccountsOnASN is
// approximated by the number of distinct endpoints the sender has used,
// across all ASNs (ASNHistory.TotalSeen), since no cross-account per-ASN
// accounting exists in the read fan-out surface — a local density proxy
// rather than the network-wide figure.
func (p *Pool) resolveASN(ctx context.Context, tx graphstore.IngestRecord) (asn.Lookup, float64) {
	if p.resolver == nil || !p.resolver.Loaded() {
		return asn.Lookup{}, 0
	}
	lookup, err := p.resolver.Resolve(tx.EndpointIP)
	if err != nil {
		return asn.Lookup{}, 0
	}
	hist, err := p.store.ASNUsageHistory(ctx, tx.SenderID)
	if err != nil {
		return lookup, 0
	}
	_, contribution := asn.Fuse(lookup, lookup.ASN, asn.FuseInputs{
		RecentDistinctAccountsOnASN: hist.TotalSeen,
		AccountModalASN:             hist.ModalASN,
		AccountASNHistogram:         hist.Counts,
	})
	return lookup, contribution
}

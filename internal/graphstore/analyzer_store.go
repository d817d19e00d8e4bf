package graphstore

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// AnalyzerStore is the batch-cadence read/write surface the graph analyzer
// needs: a full snapshot of accounts and their aggregated transfer edges,
// recent timestamped transactions for the windowed
// collusion detectors, and the bulk write-back of every per-cycle derived
// field. It is kept separate from GraphStore because nothing on the
// per-record hot path ever calls it; only the analyzer's own cadence loop
// does.
type AnalyzerStore interface {
	// GraphSnapshot returns every account (with its current risk score)
	// and the aggregated TRANSFERRED_TO edges between them, the
	// projection step (4.H.3) every structural algorithm in the cycle
	// runs against.
	GraphSnapshot(ctx context.Context) (accounts []AccountNode, edges []Edge, err error)

	// RecentTransactions returns individual transactions since cutoff,
	// ordered by time, feeding the circular-flow, rapid-chain and
	// relay-mule detectors which need real timestamps rather than the
	// aggregated TRANSFERRED_TO edge.
	RecentTransactions(ctx context.Context, since time.Time) ([]TimedEdge, error)

	// RefreshAccountStats recomputes each account's rolling outgoing
	// mean/stddev over its most recent 25 transactions, its last-active
	// timestamp and dormancy flag (cycle step 4.H.1).
	RefreshAccountStats(ctx context.Context, dormancyDays int) error

	// RefreshDeviceStats recomputes each device's account_count and
	// device_risk (mean risk of the accounts sharing it), cycle step 4.H.2.
	RefreshDeviceStats(ctx context.Context) error

	// WriteAccountAnalysis bulk-writes the structural fields a cycle
	// derives (community, pagerank, betweenness, clustering coefficient,
	// weakly-connected component) for every account touched.
	WriteAccountAnalysis(ctx context.Context, updates []AccountAnalysis) error

	// ReplaceClusters atomically replaces the clusters table with the
	// community summary of the just-completed cycle.
	ReplaceClusters(ctx context.Context, clusters []ClusterSummary) error
}

// AccountNode is one account as seen by the graph projection: just
// enough to drive the structural algorithms and the risk-weighted
// collusion detectors, without pulling in the full AccountProfile shape
// the per-record hot path uses.
type AccountNode struct {
	ID        string
	RiskScore float64
}

// Edge is one aggregated TRANSFERRED_TO edge in the graph projection.
type Edge struct {
	SenderID   string
	ReceiverID string
	Weight     float64 // total_amount
	Count      int64
}

// TimedEdge is one individual transaction, timestamped, for the
// detectors that need real chronology rather than the aggregate edge.
type TimedEdge struct {
	TxID       string
	SenderID   string
	ReceiverID string
	Amount     float64
	Timestamp  time.Time
}

// AccountAnalysis is one account's structural write-back for a cycle.
type AccountAnalysis struct {
	AccountID             string
	CommunityID           string
	ComponentID           string
	PageRank              float64
	Betweenness           float64
	ClusteringCoefficient float64
}

// ClusterSummary is one community's aggregate, replacing the clusters
// table wholesale each cycle (models.Cluster is "fully replaced on each
// analyzer cycle").
type ClusterSummary struct {
	ID          string
	MemberCount int
	MeanRisk    float64
}

// GraphSnapshot loads the full account set and aggregated edges. Grounded
// on AccountProfile's single-connection QueryRow idiom, widened to
// pool.Query over the whole table since the analyzer runs at a coarse
// cadence rather than per-record.
func (s *PostgresStore) GraphSnapshot(ctx context.Context) ([]AccountNode, []Edge, error) {
	var accounts []AccountNode
	var edges []Edge
	err := withRetry(ctx, s.breaker, func(ctx context.Context) error {
		accounts = accounts[:0]
		edges = edges[:0]

		rows, err := s.pool.Query(ctx, `SELECT id, risk_score FROM accounts`)
		if err != nil {
			return err
		}
		for rows.Next() {
			var n AccountNode
			if err := rows.Scan(&n.ID, &n.RiskScore); err != nil {
				rows.Close()
				return err
			}
			accounts = append(accounts, n)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		erows, err := s.pool.Query(ctx, `
			SELECT sender_id, receiver_id, total_amount, tx_count FROM transferred_to`)
		if err != nil {
			return err
		}
		defer erows.Close()
		for erows.Next() {
			var e Edge
			if err := erows.Scan(&e.SenderID, &e.ReceiverID, &e.Weight, &e.Count); err != nil {
				return err
			}
			edges = append(edges, e)
		}
		return erows.Err()
	})
	return accounts, edges, err
}

// RecentTransactions loads individual transactions since cutoff.
func (s *PostgresStore) RecentTransactions(ctx context.Context, since time.Time) ([]TimedEdge, error) {
	var out []TimedEdge
	err := withRetry(ctx, s.breaker, func(ctx context.Context) error {
		out = out[:0]
		rows, err := s.pool.Query(ctx, `
			SELECT id, sender_id, receiver_id, amount, ts
			FROM transactions WHERE ts >= $1 ORDER BY ts ASC`, since)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var e TimedEdge
			if err := rows.Scan(&e.TxID, &e.SenderID, &e.ReceiverID, &e.Amount, &e.Timestamp); err != nil {
				return err
			}
			out = append(out, e)
		}
		return rows.Err()
	})
	return out, err
}

// RefreshAccountStats recomputes the rolling window fields directly in
// SQL: the most recent 25 outgoing amounts per account feed mean/stddev,
// the most recent transaction (send or receive) sets last_active, and
// dormancy follows from the configured day threshold.
func (s *PostgresStore) RefreshAccountStats(ctx context.Context, dormancyDays int) error {
	return withRetry(ctx, s.breaker, func(ctx context.Context) error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		if _, err := tx.Exec(ctx, `
			WITH recent AS (
				SELECT sender_id AS id, amount,
				       row_number() OVER (PARTITION BY sender_id ORDER BY ts DESC) AS rn
				FROM transactions
			), windowed AS (
				SELECT id, avg(amount) AS mean_amt, coalesce(stddev_pop(amount), 0) AS std_amt,
				       count(*) AS cnt
				FROM recent WHERE rn <= 25 GROUP BY id
			)
			UPDATE accounts a SET
				mean_outgoing_25 = w.mean_amt,
				std_outgoing_25  = w.std_amt
			FROM windowed w WHERE a.id = w.id`); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `
			WITH last_seen AS (
				SELECT id, max(ts) AS ts FROM (
					SELECT sender_id AS id, ts FROM transactions
					UNION ALL
					SELECT receiver_id AS id, ts FROM transactions
				) x GROUP BY id
			)
			UPDATE accounts a SET
				last_active = l.ts,
				dormant     = (now() - l.ts) > make_interval(days => $1)
			FROM last_seen l WHERE a.id = l.id`, dormancyDays); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `
			UPDATE accounts a SET
				lifetime_count = s.cnt,
				lifetime_outflow = s.total
			FROM (
				SELECT sender_id AS id, count(*) AS cnt, sum(amount) AS total
				FROM transactions GROUP BY sender_id
			) s WHERE a.id = s.id`); err != nil {
			return err
		}

		return tx.Commit(ctx)
	})
}

// RefreshDeviceStats recomputes per-device sharing counts and a
// device-risk proxy (the mean risk_score of every account that has ever
// used the device).
func (s *PostgresStore) RefreshDeviceStats(ctx context.Context) error {
	return withRetry(ctx, s.breaker, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, `
			WITH agg AS (
				SELECT ad.fingerprint, count(DISTINCT ad.account_id) AS accounts,
				       coalesce(avg(a.risk_score), 0) AS mean_risk
				FROM account_devices ad
				JOIN accounts a ON a.id = ad.account_id
				GROUP BY ad.fingerprint
			)
			UPDATE devices d SET
				account_count = agg.accounts,
				device_risk   = agg.mean_risk
			FROM agg WHERE d.fingerprint = agg.fingerprint`)
		return err
	})
}

// WriteAccountAnalysis bulk-writes the structural fields computed by a
// cycle using a pipelined batch, the pgx idiom for many independent
// statements in one round trip.
func (s *PostgresStore) WriteAccountAnalysis(ctx context.Context, updates []AccountAnalysis) error {
	if len(updates) == 0 {
		return nil
	}
	return withRetry(ctx, s.breaker, func(ctx context.Context) error {
		batch := &pgx.Batch{}
		for _, u := range updates {
			batch.Queue(`
				UPDATE accounts SET
					community_id     = NULLIF($2, ''),
					component_id     = NULLIF($3, ''),
					pagerank         = $4,
					betweenness      = $5,
					clustering_coeff = $6
				WHERE id = $1`,
				u.AccountID, u.CommunityID, u.ComponentID, u.PageRank, u.Betweenness, u.ClusteringCoefficient)
		}
		br := s.pool.SendBatch(ctx, batch)
		defer br.Close()
		for range updates {
			if _, err := br.Exec(); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReplaceClusters wholesale-replaces the clusters table inside one
// transaction so readers never see a half-written community summary.
func (s *PostgresStore) ReplaceClusters(ctx context.Context, clusters []ClusterSummary) error {
	return withRetry(ctx, s.breaker, func(ctx context.Context) error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		if _, err := tx.Exec(ctx, `TRUNCATE clusters`); err != nil {
			return err
		}
		for _, c := range clusters {
			if _, err := tx.Exec(ctx, `
				INSERT INTO clusters (id, member_count, mean_risk) VALUES ($1, $2, $3)`,
				c.ID, c.MemberCount, c.MeanRisk); err != nil {
				return err
			}
		}
		return tx.Commit(ctx)
	})
}

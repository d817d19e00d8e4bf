package graphstore

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sony/gobreaker"

	"github.com/rawblock/fraudmesh/internal/errs"
	flog "github.com/rawblock/fraudmesh/internal/log"
)

// PostgresStore is the Postgres-backed implementation of GraphStore: a
// connect/transaction idiom generalized to the graph-shaped operations
// this engine needs.
type PostgresStore struct {
	pool    *pgxpool.Pool
	breaker *gobreaker.CircuitBreaker
}

// Connect opens the pool and pings it. It does not create the schema;
// InitSchema applies schema SQL separately.
func Connect(ctx context.Context, dsn string, poolSize int) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse graph store dsn: %w", err)
	}
	cfg.MaxConns = int32(poolSize)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect graph store: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping graph store: %w", err)
	}

	flog.For("graphstore").Info().Msg("connected")
	return &PostgresStore{pool: pool, breaker: newBreaker("graphstore")}, nil
}

func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// UpsertIngest ensures Account/Device/Endpoint nodes and all outgoing
// edges exist, and advances the TRANSFERRED_TO aggregate. Idempotent:
// replaying the same tx ID only inserts the transaction row once and the
// ON CONFLICT DO NOTHING there is what gives ingest its idempotence
// (the TRANSFERRED_TO aggregate is a derived sum and is not replayed
// because the guard prevents the second insert from running).
func (s *PostgresStore) UpsertIngest(ctx context.Context, rec IngestRecord) error {
	return withRetry(ctx, s.breaker, func(ctx context.Context) error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		for _, id := range []string{rec.SenderID, rec.ReceiverID} {
			if _, err := tx.Exec(ctx, `
				INSERT INTO accounts (id, last_active) VALUES ($1, $2)
				ON CONFLICT (id) DO NOTHING`, id, rec.Timestamp); err != nil {
				return err
			}
		}

		if rec.DeviceFingerprint != "" {
			if _, err := tx.Exec(ctx, `
				INSERT INTO devices (fingerprint, os_family, first_seen, last_seen)
				VALUES ($1, $2, $3, $3)
				ON CONFLICT (fingerprint) DO UPDATE SET last_seen = EXCLUDED.last_seen`,
				rec.DeviceFingerprint, rec.DeviceOS, rec.Timestamp); err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO account_devices (account_id, fingerprint, first_seen, last_seen)
				VALUES ($1, $2, $3, $3)
				ON CONFLICT (account_id, fingerprint) DO UPDATE SET last_seen = EXCLUDED.last_seen`,
				rec.SenderID, rec.DeviceFingerprint, rec.Timestamp); err != nil {
				return err
			}
		}

		if rec.EndpointIP != "" {
			if _, err := tx.Exec(ctx, `
				INSERT INTO endpoints (ip, asn) VALUES ($1, $2)
				ON CONFLICT (ip) DO NOTHING`, rec.EndpointIP, rec.ASN); err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO account_endpoints (account_id, ip, last_seen)
				VALUES ($1, $2, $3)
				ON CONFLICT (account_id, ip) DO UPDATE SET last_seen = EXCLUDED.last_seen`,
				rec.SenderID, rec.EndpointIP, rec.Timestamp); err != nil {
				return err
			}
		}

		tag, err := tx.Exec(ctx, `
			INSERT INTO transactions
				(id, sender_id, receiver_id, amount, ts, channel, sender_lat, sender_lon,
				 device_fingerprint, endpoint_ip, credential_type)
			VALUES ($1,$2,$3,$4,$5,$6,NULL,NULL,$7,$8,$9)
			ON CONFLICT (id) DO NOTHING`,
			rec.TxID, rec.SenderID, rec.ReceiverID, rec.Amount, rec.Timestamp, rec.Channel,
			rec.DeviceFingerprint, rec.EndpointIP, rec.Credential)
		if err != nil {
			return err
		}

		if tag.RowsAffected() > 0 {
			if _, err := tx.Exec(ctx, `
				INSERT INTO transferred_to (sender_id, receiver_id, total_amount, tx_count, last_ts)
				VALUES ($1, $2, $3, 1, $4)
				ON CONFLICT (sender_id, receiver_id) DO UPDATE SET
					total_amount = transferred_to.total_amount + EXCLUDED.total_amount,
					tx_count     = transferred_to.tx_count + 1,
					last_ts      = EXCLUDED.last_ts`,
				rec.SenderID, rec.ReceiverID, rec.Amount, rec.Timestamp); err != nil {
				return err
			}
		}

		return tx.Commit(ctx)
	})
}

// PersistRisk writes back the fused score. Last-writer-wins across
// concurrently completing workers; no compare-and-swap needed since
// per-account ordering is explicitly not guaranteed.
func (s *PostgresStore) PersistRisk(ctx context.Context, txID, senderID string, risk float64) error {
	return withRetry(ctx, s.breaker, func(ctx context.Context) error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		if _, err := tx.Exec(ctx, `UPDATE transactions SET risk_score = $1 WHERE id = $2`, risk, txID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `UPDATE accounts SET risk_score = $1 WHERE id = $2`, risk, senderID); err != nil {
			return err
		}
		return tx.Commit(ctx)
	})
}

func (s *PostgresStore) AccountProfile(ctx context.Context, accountID string) (AccountProfile, error) {
	var p AccountProfile
	p.ID = accountID
	err := withRetry(ctx, s.breaker, func(ctx context.Context) error {
		row := s.pool.QueryRow(ctx, `
			SELECT a.mean_outgoing_25, a.std_outgoing_25, a.lifetime_count, a.lifetime_outflow,
			       a.last_active, a.dormant, a.risk_score, COALESCE(a.community_id, ''),
			       a.pagerank, a.betweenness, a.clustering_coeff
			FROM accounts a WHERE a.id = $1`, accountID)
		var lastActive *time.Time
		if err := row.Scan(&p.MeanOutgoing25, &p.StdOutgoing25, &p.LifetimeCount, &p.LifetimeOutflow,
			&lastActive, &p.Dormant, &p.RiskScore, &p.CommunityID, &p.PageRank, &p.Betweenness,
			&p.ClusteringCoefficient); err != nil {
			if err == pgx.ErrNoRows {
				p.Exists = false
				return nil
			}
			return err
		}
		p.Exists = true
		if lastActive != nil {
			p.LastActive = *lastActive
		}

		if p.CommunityID != "" {
			crow := s.pool.QueryRow(ctx, `SELECT member_count, mean_risk FROM clusters WHERE id = $1`, p.CommunityID)
			_ = crow.Scan(&p.CommunitySize, &p.CommunityMeanRisk)
		}
		return nil
	})
	return p, err
}

func (s *PostgresStore) RecentOutgoingAmounts(ctx context.Context, accountID string, limit int) ([]float64, error) {
	var amounts []float64
	err := withRetry(ctx, s.breaker, func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx, `
			SELECT amount FROM transactions WHERE sender_id = $1 ORDER BY ts DESC LIMIT $2`, accountID, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var a float64
			if err := rows.Scan(&a); err != nil {
				return err
			}
			amounts = append(amounts, a)
		}
		return rows.Err()
	})
	return amounts, err
}

func (s *PostgresStore) ActivityInWindow(ctx context.Context, accountID string, window time.Duration) (ActivityWindow, error) {
	var w ActivityWindow
	since := time.Now().Add(-window)
	err := withRetry(ctx, s.breaker, func(ctx context.Context) error {
		row := s.pool.QueryRow(ctx, `
			SELECT COUNT(*) FILTER (WHERE sender_id = $1),
			       COUNT(*) FILTER (WHERE receiver_id = $1),
			       COALESCE(SUM(amount) FILTER (WHERE sender_id = $1), 0),
			       COALESCE(SUM(amount) FILTER (WHERE receiver_id = $1), 0)
			FROM transactions
			WHERE (sender_id = $1 OR receiver_id = $1) AND ts >= $2`, accountID, since)
		return row.Scan(&w.SentCount, &w.ReceivedCount, &w.SentSum, &w.ReceivedSum)
	})
	return w, err
}

func (s *PostgresStore) DegreeSummary(ctx context.Context, accountID string) (DegreeSummary, error) {
	var d DegreeSummary
	err := withRetry(ctx, s.breaker, func(ctx context.Context) error {
		row := s.pool.QueryRow(ctx, `
			SELECT
				(SELECT COUNT(*) FROM transferred_to WHERE sender_id = $1),
				(SELECT COUNT(*) FROM transferred_to WHERE receiver_id = $1)`, accountID)
		return row.Scan(&d.OutDegree, &d.InDegree)
	})
	return d, err
}

func (s *PostgresStore) DeviceProfile(ctx context.Context, accountID, fingerprint string) (DeviceProfile, error) {
	var d DeviceProfile
	d.Fingerprint = fingerprint
	if fingerprint == "" {
		return d, nil
	}
	err := withRetry(ctx, s.breaker, func(ctx context.Context) error {
		row := s.pool.QueryRow(ctx, `
			SELECT account_count, device_risk, COALESCE(os_family,''), capability_mask
			FROM devices WHERE fingerprint = $1`, fingerprint)
		var mask int
		if err := row.Scan(&d.AccountCount, &d.DeviceRisk, &d.OSFamily, &mask); err != nil {
			if err == pgx.ErrNoRows {
				d.Exists = false
				d.FirstSeenByAcc = true
				return nil
			}
			return err
		}
		d.Exists = true
		d.CapabilityMask = uint32(mask)

		// UpsertIngest has already recorded the current transaction (and its
		// account_devices row), so the pair is first-seen when that
		// transaction is the only one this account has sent from the device.
		var seen int
		if err := s.pool.QueryRow(ctx, `
			SELECT COUNT(*) FROM transactions WHERE sender_id = $1 AND device_fingerprint = $2`,
			accountID, fingerprint).Scan(&seen); err != nil {
			return err
		}
		d.FirstSeenByAcc = seen <= 1

		rows, err := s.pool.Query(ctx, `
			SELECT a.risk_score FROM account_devices ad
			JOIN accounts a ON a.id = ad.account_id
			WHERE ad.fingerprint = $1`, fingerprint)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var r float64
			if err := rows.Scan(&r); err != nil {
				return err
			}
			d.UserRisks = append(d.UserRisks, r)
			if r > d.MaxUserRisk {
				d.MaxUserRisk = r
			}
		}
		return rows.Err()
	})
	return d, err
}

func (s *PostgresStore) DistinctEndpointsInWindow(ctx context.Context, accountID string, window time.Duration) (int, error) {
	var n int
	since := time.Now().Add(-window)
	err := withRetry(ctx, s.breaker, func(ctx context.Context) error {
		return s.pool.QueryRow(ctx, `
			SELECT COUNT(DISTINCT ip) FROM account_endpoints
			WHERE account_id = $1 AND last_seen >= $2`, accountID, since).Scan(&n)
	})
	return n, err
}

func (s *PostgresStore) IdenticalAmountCount(ctx context.Context, senderID, receiverID string, amount, tolerance float64, window time.Duration) (int, error) {
	var n int
	since := time.Now().Add(-window)
	err := withRetry(ctx, s.breaker, func(ctx context.Context) error {
		return s.pool.QueryRow(ctx, `
			SELECT COUNT(*) FROM transactions
			WHERE sender_id = $1 AND receiver_id = $2 AND ts >= $3
			  AND ABS(amount - $4) < $5`, senderID, receiverID, since, amount, tolerance).Scan(&n)
	})
	return n, err
}

func (s *PostgresStore) ASNUsageHistory(ctx context.Context, accountID string) (ASNHistory, error) {
	h := ASNHistory{Counts: map[int]int{}}
	err := withRetry(ctx, s.breaker, func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx, `
			SELECT e.asn, COUNT(*) FROM account_endpoints ae
			JOIN endpoints e ON e.ip = ae.ip
			WHERE ae.account_id = $1
			GROUP BY e.asn`, accountID)
		if err != nil {
			return err
		}
		defer rows.Close()
		best := -1
		for rows.Next() {
			var asn, c int
			if err := rows.Scan(&asn, &c); err != nil {
				return err
			}
			h.Counts[asn] = c
			h.TotalSeen += c
			if c > best {
				best = c
				h.ModalASN = asn
			}
		}
		return rows.Err()
	})
	return h, err
}

func (s *PostgresStore) HourHistogram(ctx context.Context, accountID string) (map[int]int, int, error) {
	hist := map[int]int{}
	total := 0
	err := withRetry(ctx, s.breaker, func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx, `
			SELECT EXTRACT(HOUR FROM ts)::int, COUNT(*) FROM transactions
			WHERE sender_id = $1 GROUP BY 1`, accountID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var h, c int
			if err := rows.Scan(&h, &c); err != nil {
				return err
			}
			hist[h] = c
			total += c
		}
		return rows.Err()
	})
	return hist, total, err
}

func (s *PostgresStore) NeighborRisk(ctx context.Context, accountID string) (NeighborRisk, error) {
	var n NeighborRisk
	err := withRetry(ctx, s.breaker, func(ctx context.Context) error {
		row := s.pool.QueryRow(ctx, `
			SELECT COALESCE(AVG(a.risk_score), 0), COUNT(*)
			FROM transferred_to t
			JOIN accounts a ON a.id = t.receiver_id
			WHERE t.sender_id = $1`, accountID)
		return row.Scan(&n.MeanRisk, &n.NeighborCount)
	})
	return n, err
}

func (s *PostgresStore) LastSenderCoordinates(ctx context.Context, accountID string) (float64, float64, time.Time, bool, error) {
	var lat, lon *float64
	var ts time.Time
	err := withRetry(ctx, s.breaker, func(ctx context.Context) error {
		row := s.pool.QueryRow(ctx, `
			SELECT sender_lat, sender_lon, ts FROM transactions
			WHERE sender_id = $1 AND sender_lat IS NOT NULL
			ORDER BY ts DESC LIMIT 1`, accountID)
		err := row.Scan(&lat, &lon, &ts)
		if err == pgx.ErrNoRows {
			return nil
		}
		return err
	})
	if err != nil || lat == nil || lon == nil {
		return 0, 0, time.Time{}, false, err
	}
	return *lat, *lon, ts, true, nil
}

// InitSchema executes schemaSQL (the text of schema.sql, supplied by the
// caller) against the pool.
func (s *PostgresStore) InitSchema(ctx context.Context, schemaSQL string) error {
	_, err := s.pool.Exec(ctx, schemaSQL)
	if err != nil {
		return classifyPGError(fmt.Errorf("init graph store schema: %w", err))
	}
	return nil
}

// haversineKMH computes implied travel speed in km/h between two points
// given the elapsed time, used by the behavioural extractor's impossible
// travel rule. Kept here because it is a graph-store-adjacent geometry
// helper over coordinates the store already returns.
func haversineKMH(lat1, lon1, lat2, lon2 float64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return math.Inf(1)
	}
	const earthRadiusKM = 6371.0
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	distanceKM := earthRadiusKM * c
	hours := elapsed.Hours()
	return distanceKM / hours
}

// HaversineKMH exported for use by the behavioural extractor.
func HaversineKMH(lat1, lon1, lat2, lon2 float64, elapsed time.Duration) float64 {
	return haversineKMH(lat1, lon1, lat2, lon2, elapsed)
}

// classifyPGError surfaces a non-transient error as errs.ErrStore, or a
// transient conflict as errs.ErrTransientStore; used by InitSchema, which
// runs once at startup and bypasses withRetry's retry/breaker wrapping.
func classifyPGError(err error) error {
	if err == nil {
		return nil
	}
	if isTransient(err) {
		return errs.Wrap(errs.ErrTransientStore, "transient store conflict", err)
	}
	return errs.Wrap(errs.ErrStore, "store operation failed", err)
}

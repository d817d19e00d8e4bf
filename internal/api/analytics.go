package api

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
)

// Analytics is the read-only aggregate query path for the dashboard and
// visualization endpoints, deliberately separate from the transactional
// graphstore adapter the ingest pipeline uses. Built on sqlx.DB with
// struct-scanning SelectContext/GetContext calls and a per-call timeout.
type Analytics struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewAnalytics opens a read-only sqlx connection over the same DSN as the
// graph store, using pgx's stdlib compatibility driver so sqlx can drive
// it without pulling in lib/pq.
func NewAnalytics(dsn string, timeout time.Duration) (*Analytics, error) {
	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &Analytics{db: db, timeout: timeout}, nil
}

func (a *Analytics) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	return a.db.Close()
}

// DashboardStats is the aggregate summary behind GET /dashboard/stats.
type DashboardStats struct {
	TotalAccounts     int64   `db:"total_accounts" json:"total_accounts"`
	TotalTransactions int64   `db:"total_transactions" json:"total_transactions"`
	HighRiskAccounts  int64   `db:"high_risk_accounts" json:"high_risk_accounts"`
	MeanRiskScore     float64 `db:"mean_risk_score" json:"mean_risk_score"`
}

func (a *Analytics) DashboardStats(ctx context.Context) (DashboardStats, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var stats DashboardStats
	err := a.db.GetContext(ctx, &stats, `
		SELECT
			(SELECT count(*) FROM accounts) AS total_accounts,
			(SELECT count(*) FROM transactions) AS total_transactions,
			(SELECT count(*) FROM accounts WHERE risk_score >= 70) AS high_risk_accounts,
			(SELECT coalesce(avg(risk_score), 0) FROM accounts) AS mean_risk_score
	`)
	return stats, err
}

// DBCounts is the raw entity-count summary behind GET /db/counts.
type DBCounts struct {
	Accounts    int64 `db:"accounts" json:"accounts"`
	Devices     int64 `db:"devices" json:"devices"`
	Endpoints   int64 `db:"endpoints" json:"endpoints"`
	Transactions int64 `db:"transactions" json:"transactions"`
	Clusters    int64 `db:"clusters" json:"clusters"`
}

func (a *Analytics) DBCounts(ctx context.Context) (DBCounts, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var c DBCounts
	err := a.db.GetContext(ctx, &c, `
		SELECT
			(SELECT count(*) FROM accounts) AS accounts,
			(SELECT count(*) FROM devices) AS devices,
			(SELECT count(*) FROM endpoints) AS endpoints,
			(SELECT count(*) FROM transactions) AS transactions,
			(SELECT count(*) FROM clusters) AS clusters
	`)
	return c, err
}

// FraudNetworkNode is one account rendered in the fraud-network graph view.
type FraudNetworkNode struct {
	AccountID   string  `db:"id" json:"id"`
	RiskScore   float64 `db:"risk_score" json:"risk_score"`
	CommunityID string  `db:"community_id" json:"community_id"`
}

// FraudNetworkEdge is one TRANSFERRED_TO edge above a risk floor.
type FraudNetworkEdge struct {
	SenderID   string  `db:"sender_id" json:"sender_id"`
	ReceiverID string  `db:"receiver_id" json:"receiver_id"`
	Total      float64 `db:"total_amount" json:"total_amount"`
}

// FraudNetwork returns the highest-risk accounts and the edges between
// them, for the GET /viz/fraud-network dashboard panel.
func (a *Analytics) FraudNetwork(ctx context.Context, limit int) ([]FraudNetworkNode, []FraudNetworkEdge, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var nodes []FraudNetworkNode
	if err := a.db.SelectContext(ctx, &nodes, `
		SELECT id, risk_score, coalesce(community_id, '') AS community_id
		FROM accounts
		ORDER BY risk_score DESC
		LIMIT $1
	`, limit); err != nil {
		return nil, nil, err
	}

	var edges []FraudNetworkEdge
	if err := a.db.SelectContext(ctx, &edges, `
		SELECT t.sender_id, t.receiver_id, t.total_amount
		FROM transferred_to t
		JOIN accounts a ON a.id = t.sender_id
		WHERE a.id = ANY($1) AND t.receiver_id = ANY($1)
		ORDER BY t.total_amount DESC
	`, nodeIDs(nodes)); err != nil {
		return nil, nil, err
	}

	return nodes, edges, nil
}

func nodeIDs(nodes []FraudNetworkNode) []string {
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.AccountID
	}
	return ids
}

// DeviceSharing is one device shared across multiple accounts, for the
// GET /viz/device-sharing panel.
type DeviceSharing struct {
	Fingerprint  string  `db:"fingerprint" json:"fingerprint"`
	AccountCount int     `db:"account_count" json:"account_count"`
	DeviceRisk   float64 `db:"device_risk" json:"device_risk"`
}

func (a *Analytics) DeviceSharing(ctx context.Context, minAccounts int) ([]DeviceSharing, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var rows []DeviceSharing
	err := a.db.SelectContext(ctx, &rows, `
		SELECT fingerprint, account_count, device_risk
		FROM devices
		WHERE account_count >= $1
		ORDER BY account_count DESC
	`, minAccounts)
	return rows, err
}

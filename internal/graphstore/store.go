// Package graphstore is the typed adapter over nodes/edges: idempotent
// upsert-on-ingest and the read fan-out queries the feature extractors
// need. No graph-database driver is wired into this module, so the
// adapter is backed by Postgres and exposes graph-shaped operations over
// an adjacency schema rather than wrapping a native graph-DB client (see
// DESIGN.md).
package graphstore

import (
	"context"
	"time"
)

// AccountProfile is the read-fan-out projection of an Account needed by the
// feature extractors. Rolling statistics are advanced only by the batch
// analyzer; extractors only ever read them.
type AccountProfile struct {
	ID              string
	MeanOutgoing25  float64
	StdOutgoing25   float64
	LifetimeCount   int64
	LifetimeOutflow float64
	LastActive      time.Time
	Dormant         bool
	RiskScore       float64

	CommunityID           string
	CommunitySize         int
	CommunityMeanRisk     float64
	PageRank              float64
	Betweenness           float64
	ClusteringCoefficient float64

	Exists bool
}

// DegreeSummary is the directed out/in degree of an account in the transfer
// graph, used by the structural-pattern rules (fan-out/fan-in/tight ring).
type DegreeSummary struct {
	OutDegree int
	InDegree  int
}

// ActivityWindow summarizes send/receive counts and sums over a trailing
// window, feeding the velocity and behavioural extractors.
type ActivityWindow struct {
	SentCount     int
	ReceivedCount int
	SentSum       float64
	ReceivedSum   float64
}

// DeviceProfile is the read-fan-out projection of a Device.
type DeviceProfile struct {
	Fingerprint    string
	AccountCount   int
	DeviceRisk     float64
	OSFamily       string
	CapabilityMask uint32
	FirstSeenByAcc bool // true if this account has never used this device before
	MaxUserRisk    float64
	UserRisks      []float64
	Exists         bool
}

// ASNHistory is an account's historical ASN-use histogram, used for drift
// and entropy in ASN resolution.
type ASNHistory struct {
	Counts    map[int]int
	ModalASN  int
	TotalSeen int
}

// NeighborRisk is the mean risk of an account's one-hop transfer neighbours.
type NeighborRisk struct {
	MeanRisk     float64
	NeighborCount int
}

// GraphStore is the full set of operations the ingest pipeline and feature
// extractors depend on. Implementations must retry transient conflicts and
// surface ErrTransientStore / ErrStore from internal/errs accordingly.
type GraphStore interface {
	// UpsertIngest ensures Account/Device/Endpoint nodes and all outgoing
	// edges exist for tx, and advances the TRANSFERRED_TO aggregate between
	// sender and receiver. Safe against concurrent writers on the same pair.
	UpsertIngest(ctx context.Context, tx IngestRecord) error

	// PersistRisk writes back the fused risk score for a transaction and
	// its sender account (last-writer-wins across concurrent workers).
	PersistRisk(ctx context.Context, txID, senderID string, risk float64) error

	AccountProfile(ctx context.Context, accountID string) (AccountProfile, error)
	RecentOutgoingAmounts(ctx context.Context, accountID string, limit int) ([]float64, error)
	ActivityInWindow(ctx context.Context, accountID string, window time.Duration) (ActivityWindow, error)
	DegreeSummary(ctx context.Context, accountID string) (DegreeSummary, error)
	DeviceProfile(ctx context.Context, accountID, fingerprint string) (DeviceProfile, error)
	DistinctEndpointsInWindow(ctx context.Context, accountID string, window time.Duration) (int, error)
	IdenticalAmountCount(ctx context.Context, senderID, receiverID string, amount float64, tolerance float64, window time.Duration) (int, error)
	ASNUsageHistory(ctx context.Context, accountID string) (ASNHistory, error)
	// HourHistogram returns the count of the sender's past outgoing
	// transactions by local hour-of-day (0-23) and the total transaction
	// count observed, feeding the circadian-anomaly rule.
	HourHistogram(ctx context.Context, accountID string) (hist map[int]int, total int, err error)
	NeighborRisk(ctx context.Context, accountID string) (NeighborRisk, error)
	LastSenderCoordinates(ctx context.Context, accountID string) (lat, lon float64, ts time.Time, ok bool, err error)

	// Close releases the underlying connection pool.
	Close()
}

// IngestRecord is the normalized form of a stream record ready for upsert.
type IngestRecord struct {
	TxID              string
	SenderID          string
	ReceiverID        string
	Amount            float64
	Timestamp         time.Time
	Channel           string
	DeviceFingerprint string
	DeviceOS          string
	EndpointIP        string
	ASN               int
	Credential        string
}

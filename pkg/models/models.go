// Package models defines the entities and wire shapes of the fraud-scoring
// engine: accounts, devices, network endpoints, transactions and clusters
// (per the system's data model), plus the stream and API payloads that carry
// them across process boundaries.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// EndpointClass is the closed set of network-endpoint classifications
// produced by ASN resolution.
type EndpointClass string

const (
	ClassMobile         EndpointClass = "mobile"
	ClassBroadband       EndpointClass = "broadband"
	ClassEnterprise      EndpointClass = "enterprise"
	ClassInCloud         EndpointClass = "in-cloud"
	ClassHosting         EndpointClass = "hosting"
	ClassUnknownDomestic EndpointClass = "unknown-domestic"
	ClassForeign         EndpointClass = "foreign"
)

// CredentialType is the closed set of authorisation credentials carried by
// a transaction.
type CredentialType string

const (
	CredentialMPIN     CredentialType = "mpin"
	CredentialOTP      CredentialType = "otp"
	CredentialBiometric CredentialType = "biometric"
	CredentialPIN      CredentialType = "pin"
	CredentialUnknown  CredentialType = "unknown"
)

// RiskLevel is the closed set of fused-score bands.
type RiskLevel string

const (
	RiskHigh   RiskLevel = "HIGH"
	RiskMedium RiskLevel = "MEDIUM"
	RiskLow    RiskLevel = "LOW"
)

// Account is a party capable of sending or receiving transactions. Rolling
// statistics and the graph-derived fields are advanced only by the batch
// analyzer; the hot path never writes them directly.
type Account struct {
	ID string `json:"id"`

	// Rolling window of the most recent 25 outgoing amounts.
	MeanOutgoing25 decimal.Decimal `json:"mean_outgoing_25"`
	StdOutgoing25  decimal.Decimal `json:"std_outgoing_25"`

	LifetimeCount   int64           `json:"lifetime_count"`
	LifetimeOutflow decimal.Decimal `json:"lifetime_outflow"`

	LastActive time.Time `json:"last_active"`
	Dormant    bool      `json:"dormant"`

	RiskScore float64 `json:"risk_score"`

	CommunityID          string  `json:"community_id,omitempty"`
	PageRank             float64 `json:"pagerank"`
	Betweenness          float64 `json:"betweenness"`
	ClusteringCoefficient float64 `json:"clustering_coefficient"`
	ComponentID          string  `json:"component_id,omitempty"`
}

// Device is an opaque fingerprint shared across accounts.
type Device struct {
	Fingerprint    string    `json:"fingerprint"`
	AccountCount   int       `json:"account_count"`
	DeviceRisk     float64   `json:"device_risk"`
	FirstSeen      time.Time `json:"first_seen"`
	LastSeen       time.Time `json:"last_seen"`
	OSFamily       string    `json:"os_family"`
	CapabilityMask uint32    `json:"capability_mask"`
}

// NetworkEndpoint is a resolved IPv4 address.
type NetworkEndpoint struct {
	IP             string        `json:"ip"`
	ASN            int           `json:"asn"`
	Org            string        `json:"org"`
	Country        string        `json:"country"`
	Classification EndpointClass `json:"classification"`
}

// Transaction is the unique, append-only payment record.
type Transaction struct {
	ID         string          `json:"id"`
	SenderID   string          `json:"sender_id"`
	ReceiverID string          `json:"receiver_id"`
	Amount     decimal.Decimal `json:"amount"`
	Timestamp  time.Time       `json:"timestamp"`
	Channel    string          `json:"channel"`

	SenderLat *float64 `json:"sender_lat,omitempty"`
	SenderLon *float64 `json:"sender_lon,omitempty"`

	DeviceFingerprint string         `json:"device_fingerprint"`
	EndpointIP        string         `json:"endpoint_ip"`
	Credential        CredentialType `json:"credential_type"`

	UPIIDSender   string `json:"upi_id_sender,omitempty"`
	UPIIDReceiver string `json:"upi_id_receiver,omitempty"`

	RiskScore float64 `json:"risk_score"`
}

// Cluster is a batch-assigned community with aggregated risk statistics.
// Fully replaced on each analyzer cycle.
type Cluster struct {
	ID          string  `json:"id"`
	MemberCount int     `json:"member_count"`
	MeanRisk    float64 `json:"mean_risk"`
}

// StreamRecord is the queue payload shape. Unknown keys must be
// preserved by transports and ignored by the engine.
type StreamRecord struct {
	TxID           string  `json:"tx_id"`
	SenderID       string  `json:"sender_id"`
	ReceiverID     string  `json:"receiver_id"`
	Amount         float64 `json:"amount"`
	Timestamp      int64   `json:"timestamp"`
	DeviceHash     string  `json:"device_hash"`
	DeviceOS       string  `json:"device_os"`
	IPAddress      string  `json:"ip_address"`
	SenderLat      *float64 `json:"sender_lat,omitempty"`
	SenderLon      *float64 `json:"sender_lon,omitempty"`
	Channel        string  `json:"channel"`
	CredentialType string  `json:"credential_type"`
	UPIIDSender    string  `json:"upi_id_sender,omitempty"`
	UPIIDReceiver  string  `json:"upi_id_receiver,omitempty"`
}

// Breakdown carries the five per-extractor contributions feeding fusion.
type Breakdown struct {
	Graph       float64 `json:"graph"`
	Behavioral  float64 `json:"behavioral"`
	Device      float64 `json:"device"`
	DeadAccount float64 `json:"dead_account"`
	Velocity    float64 `json:"velocity"`
}

// ScoredRecord is the API response / websocket alert payload shape.
type ScoredRecord struct {
	TxID             string    `json:"tx_id"`
	RiskScore        float64   `json:"risk_score"`
	RiskLevel        RiskLevel `json:"risk_level"`
	Breakdown        Breakdown `json:"breakdown"`
	ClusterID        string    `json:"cluster_id,omitempty"`
	Flags            []string  `json:"flags"`
	Reason           string    `json:"reason"`
	ProcessingTimeMS float64   `json:"processing_time_ms"`
	Timestamp        time.Time `json:"timestamp"`

	IsMule         bool     `json:"is_mule,omitempty"`
	MuleConfidence float64  `json:"mule_confidence,omitempty"`
	MuleReasons    []string `json:"mule_reasons,omitempty"`
}

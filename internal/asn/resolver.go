// Package asn implements the offline IPv4->ASN resolution pipeline:
// validate, lookup, country filter, classify into a closed set of seven
// classes, then fuse base risk with density/drift/entropy into a single
// asn_risk in [0,1]. The style follows closed-enum classification from a
// data table with entropy/ratio math over named constants, since no
// ASN/GeoIP library is wired anywhere in this module.
package asn

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"math"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/rawblock/fraudmesh/pkg/models"
)

// baseRisk is the fixed base risk per classification.
var baseRisk = map[models.EndpointClass]float64{
	models.ClassMobile:         0.0,
	models.ClassBroadband:       0.1,
	models.ClassEnterprise:      0.3,
	models.ClassInCloud:         0.6,
	models.ClassHosting:         0.7,
	models.ClassUnknownDomestic: 0.5,
	models.ClassForeign:         0.8,
}

// entry is one row of the offline ASN lookup table.
type entry struct {
	asn     int
	org     string
	country string
}

// Resolver holds the offline IPv4 -> ASN table. A nil/empty table
// degrades gracefully: every lookup misses and resolves to
// unknown-domestic with base risk 0.5, and a never-loaded table
// (ASN_DATA_PATH unset) degrades further to risk 0.
type Resolver struct {
	table        map[string]entry // keyed by IP string; production tables key by CIDR, flattened here
	domesticCC   string
	loaded       bool
}

// New constructs a resolver for the given domestic country code (ISO 3166
// alpha-2, e.g. "IN").
func New(domesticCC string) *Resolver {
	return &Resolver{table: map[string]entry{}, domesticCC: domesticCC}
}

// LoadCSV loads rows of "ip,asn,org,country". A missing or empty path is
// not an error: the resolver simply stays unloaded (risk 0 for every
// lookup).
func (r *Resolver) LoadCSV(path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open asn data: %w", err)
	}
	defer f.Close()

	cr := csv.NewReader(bufio.NewReader(f))
	for {
		rec, err := cr.Read()
		if err != nil {
			break
		}
		if len(rec) < 4 {
			continue
		}
		asn, err := strconv.Atoi(rec[1])
		if err != nil {
			continue
		}
		r.table[rec[0]] = entry{asn: asn, org: rec[2], country: rec[3]}
	}
	r.loaded = true
	return nil
}

// Loaded reports whether an offline table was successfully loaded.
func (r *Resolver) Loaded() bool {
	return r.loaded
}

// ValidationError is returned by Validate for an address that must be
// rejected before any lookup is attempted.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "invalid ip: " + e.Reason }

// Validate rejects private, loopback, link-local, reserved and non-IPv4
// addresses.
func Validate(ipStr string) (net.IP, error) {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return nil, &ValidationError{Reason: "unparseable"}
	}
	v4 := ip.To4()
	if v4 == nil {
		return nil, &ValidationError{Reason: "not ipv4"}
	}
	switch {
	case v4.IsLoopback():
		return nil, &ValidationError{Reason: "loopback"}
	case v4.IsPrivate():
		return nil, &ValidationError{Reason: "private"}
	case v4.IsLinkLocalUnicast(), v4.IsLinkLocalMulticast():
		return nil, &ValidationError{Reason: "link-local"}
	case v4.IsUnspecified():
		return nil, &ValidationError{Reason: "unspecified"}
	case v4[0] >= 240: // 240.0.0.0/4 reserved range, including broadcast
		return nil, &ValidationError{Reason: "reserved"}
	}
	return v4, nil
}

// classify maps an organisation string into one of the seven closed
// classes by substring match against known hosting/cloud/mobile org
// naming conventions. Order matters: more specific classes are checked
// before the generic enterprise/broadband fallbacks.
func classify(org string, foreign bool) models.EndpointClass {
	o := strings.ToLower(org)
	switch {
	case foreign:
		return models.ClassForeign
	case containsAny(o, "mobile", "cellular", "wireless", "telecom", "jio", "airtel", "vodafone"):
		return models.ClassMobile
	case containsAny(o, "amazon", "aws", "google cloud", "azure", "microsoft corp", "digitalocean", "linode", "oracle cloud"):
		return models.ClassInCloud
	case containsAny(o, "hosting", "datacenter", "data center", "ovh", "hetzner", "colocation"):
		return models.ClassHosting
	case containsAny(o, "broadband", "cable", "fiber", "fibre", "dsl", "isp"):
		return models.ClassBroadband
	case containsAny(o, "corp", "enterprise", "university", "college", "bank", "ltd", "inc"):
		return models.ClassEnterprise
	default:
		return models.ClassUnknownDomestic
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Lookup is the fully resolved result of the resolution pipeline for one
// IP, not yet fused with density/drift/entropy (those depend on account
// history supplied by the caller via Fuse).
type Lookup struct {
	ASN            int
	Org            string
	Country        string
	Foreign        bool
	Classification models.EndpointClass
	BaseRisk       float64
}

// Resolve validates, looks up and classifies a single IP.
func (r *Resolver) Resolve(ipStr string) (Lookup, error) {
	if _, err := Validate(ipStr); err != nil {
		return Lookup{}, err
	}
	if !r.loaded {
		return Lookup{Classification: models.ClassUnknownDomestic, BaseRisk: 0}, nil
	}

	e, ok := r.table[ipStr]
	if !ok {
		return Lookup{Classification: models.ClassUnknownDomestic, BaseRisk: baseRisk[models.ClassUnknownDomestic]}, nil
	}

	foreign := r.domesticCC != "" && !strings.EqualFold(e.country, r.domesticCC)
	class := classify(e.org, foreign)
	return Lookup{
		ASN:            e.asn,
		Org:            e.org,
		Country:        e.country,
		Foreign:        foreign,
		Classification: class,
		BaseRisk:       baseRisk[class],
	}, nil
}

// FuseInputs carries the account-history-dependent quantities needed to
// complete the fusion formula.
type FuseInputs struct {
	RecentDistinctAccountsOnASN int             // N for density
	AccountModalASN             int             // for drift
	AccountASNHistogram         map[int]int     // for entropy
}

// Fuse computes the final asn_risk in [0,1] and its scaled contribution
// (asn_risk x 20) to the behavioural extractor.
func Fuse(l Lookup, currentASN int, in FuseInputs) (risk float64, contribution float64) {
	density := clamp01(math.Log(1+float64(in.RecentDistinctAccountsOnASN)) / math.Log(1001))

	drift := 0.0
	if in.AccountModalASN != 0 && in.AccountModalASN != currentASN {
		drift = 1.0
	}

	entropy := shannonEntropy(in.AccountASNHistogram)
	entropyNorm := clamp01(entropy / math.Log(12))

	foreignTerm := 0.0
	if l.Foreign {
		foreignTerm = 1.0
	}

	risk = clamp01(0.4*l.BaseRisk + 0.3*density + 0.2*drift + 0.2*foreignTerm + 0.1*entropyNorm)
	return risk, risk * 20
}

func shannonEntropy(histogram map[int]int) float64 {
	total := 0
	for _, c := range histogram {
		total += c
	}
	if total == 0 {
		return 0
	}
	h := 0.0
	for _, c := range histogram {
		if c == 0 {
			continue
		}
		p := float64(c) / float64(total)
		h -= p * math.Log(p)
	}
	return h
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

package extractors

import (
	"context"
	"time"

	"github.com/rawblock/fraudmesh/internal/graphstore"
)

// fakeStore is a minimal in-memory GraphStore used by extractor tests,
// in the spirit of a preference for small hand-written fakes
// over a mocking framework.
type fakeStore struct {
	profiles   map[string]graphstore.AccountProfile
	amounts    map[string][]float64
	activity   map[string]graphstore.ActivityWindow
	degree     map[string]graphstore.DegreeSummary
	devices    map[string]graphstore.DeviceProfile
	endpoints  map[string]int
	identical  map[string]int
	asnHist    map[string]graphstore.ASNHistory
	neighbor   map[string]graphstore.NeighborRisk
	coords     map[string][3]float64
	hasCoords  map[string]bool
	hourHist   map[string]map[int]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		profiles:  map[string]graphstore.AccountProfile{},
		amounts:   map[string][]float64{},
		activity:  map[string]graphstore.ActivityWindow{},
		degree:    map[string]graphstore.DegreeSummary{},
		devices:   map[string]graphstore.DeviceProfile{},
		endpoints: map[string]int{},
		identical: map[string]int{},
		asnHist:   map[string]graphstore.ASNHistory{},
		neighbor:  map[string]graphstore.NeighborRisk{},
		coords:    map[string][3]float64{},
		hasCoords: map[string]bool{},
		hourHist:  map[string]map[int]int{},
	}
}

func (f *fakeStore) UpsertIngest(ctx context.Context, rec graphstore.IngestRecord) error { return nil }
func (f *fakeStore) PersistRisk(ctx context.Context, txID, senderID string, risk float64) error {
	return nil
}
func (f *fakeStore) AccountProfile(ctx context.Context, accountID string) (graphstore.AccountProfile, error) {
	p, ok := f.profiles[accountID]
	p.Exists = ok
	return p, nil
}
func (f *fakeStore) RecentOutgoingAmounts(ctx context.Context, accountID string, limit int) ([]float64, error) {
	return f.amounts[accountID], nil
}
func (f *fakeStore) ActivityInWindow(ctx context.Context, accountID string, window time.Duration) (graphstore.ActivityWindow, error) {
	return f.activity[accountID], nil
}
func (f *fakeStore) DegreeSummary(ctx context.Context, accountID string) (graphstore.DegreeSummary, error) {
	return f.degree[accountID], nil
}
func (f *fakeStore) DeviceProfile(ctx context.Context, accountID, fingerprint string) (graphstore.DeviceProfile, error) {
	return f.devices[fingerprint], nil
}
func (f *fakeStore) DistinctEndpointsInWindow(ctx context.Context, accountID string, window time.Duration) (int, error) {
	return f.endpoints[accountID], nil
}
func (f *fakeStore) IdenticalAmountCount(ctx context.Context, senderID, receiverID string, amount, tolerance float64, window time.Duration) (int, error) {
	return f.identical[senderID+">"+receiverID], nil
}
func (f *fakeStore) ASNUsageHistory(ctx context.Context, accountID string) (graphstore.ASNHistory, error) {
	return f.asnHist[accountID], nil
}
func (f *fakeStore) HourHistogram(ctx context.Context, accountID string) (map[int]int, int, error) {
	h := f.hourHist[accountID]
	total := 0
	for _, c := range h {
		total += c
	}
	return h, total, nil
}
func (f *fakeStore) NeighborRisk(ctx context.Context, accountID string) (graphstore.NeighborRisk, error) {
	return f.neighbor[accountID], nil
}
func (f *fakeStore) LastSenderCoordinates(ctx context.Context, accountID string) (float64, float64, time.Time, bool, error) {
	c := f.coords[accountID]
	return c[0], c[1], time.Unix(int64(c[2]), 0), f.hasCoords[accountID], nil
}
func (f *fakeStore) Close() {}

package analyzer

import (
	"context"
	"testing"
	"time"

	"github.com/rawblock/fraudmesh/internal/graphstore"
)

// fakeAnalyzerStore is a minimal in-memory graphstore.AnalyzerStore, in
// the spirit of a preference for small hand-written fakes
// over a mocking framework.
type fakeAnalyzerStore struct {
	accounts       []graphstore.AccountNode
	edges          []graphstore.Edge
	recent         []graphstore.TimedEdge
	statsRefreshed bool
	deviceRefreshed bool
	written        []graphstore.AccountAnalysis
	clusters       []graphstore.ClusterSummary
}

func (f *fakeAnalyzerStore) GraphSnapshot(ctx context.Context) ([]graphstore.AccountNode, []graphstore.Edge, error) {
	return f.accounts, f.edges, nil
}

func (f *fakeAnalyzerStore) RecentTransactions(ctx context.Context, since time.Time) ([]graphstore.TimedEdge, error) {
	return f.recent, nil
}

func (f *fakeAnalyzerStore) RefreshAccountStats(ctx context.Context, dormancyDays int) error {
	f.statsRefreshed = true
	return nil
}

func (f *fakeAnalyzerStore) RefreshDeviceStats(ctx context.Context) error {
	f.deviceRefreshed = true
	return nil
}

func (f *fakeAnalyzerStore) WriteAccountAnalysis(ctx context.Context, updates []graphstore.AccountAnalysis) error {
	f.written = updates
	return nil
}

func (f *fakeAnalyzerStore) ReplaceClusters(ctx context.Context, clusters []graphstore.ClusterSummary) error {
	f.clusters = clusters
	return nil
}

func TestRunOnce_SwapsCacheAndWritesBackAnalysis(t *testing.T) {
	store := &fakeAnalyzerStore{
		accounts: []graphstore.AccountNode{{ID: "a", RiskScore: 80}, {ID: "b", RiskScore: 75}, {ID: "c", RiskScore: 70}},
		edges: []graphstore.Edge{
			{SenderID: "a", ReceiverID: "b", Weight: 100, Count: 1},
			{SenderID: "b", ReceiverID: "c", Weight: 100, Count: 1},
		},
	}
	az := New(store, time.Second, 30)

	before := az.Cache().Load()
	az.RunOnce(context.Background())
	after := az.Cache().Load()

	if !store.statsRefreshed || !store.deviceRefreshed {
		t.Fatal("expected a cycle to refresh both account and device stats")
	}
	if len(store.written) != 3 {
		t.Fatalf("expected analysis written back for all 3 accounts, got %d", len(store.written))
	}
	if len(store.clusters) == 0 {
		t.Fatal("expected at least one cluster summary to be replaced")
	}
	if after == before {
		t.Fatal("expected the cache snapshot to be swapped after a successful cycle")
	}
	if az.Cache().FailedCycles() != 0 {
		t.Errorf("expected no failed cycles, got %d", az.Cache().FailedCycles())
	}
}

func TestRunOnce_FailureLeavesPreviousSnapshotAndIncrementsCounter(t *testing.T) {
	store := &fakeAnalyzerStore{
		accounts: []graphstore.AccountNode{{ID: "a"}, {ID: "b"}},
		edges:    []graphstore.Edge{{SenderID: "a", ReceiverID: "b", Weight: 10, Count: 1}},
	}
	failing := &failingWriteStore{fakeAnalyzerStore: store}
	az := New(failing, time.Second, 30)

	before := az.Cache().Load()
	az.RunOnce(context.Background())
	after := az.Cache().Load()

	if after != before {
		t.Error("expected the cache snapshot to be unchanged after a failed cycle")
	}
	if after == nil {
		t.Fatal("expected the cache to retain a non-nil snapshot after a failed cycle")
	}
	if az.Cache().FailedCycles() != 1 {
		t.Errorf("expected exactly one failed cycle to be recorded, got %d", az.Cache().FailedCycles())
	}
}

type failingWriteStore struct {
	*fakeAnalyzerStore
}

func (f *failingWriteStore) WriteAccountAnalysis(ctx context.Context, updates []graphstore.AccountAnalysis) error {
	return errAlwaysFails
}

var errAlwaysFails = &staticErr{"forced failure for test"}

type staticErr struct{ msg string }

func (e *staticErr) Error() string { return e.msg }

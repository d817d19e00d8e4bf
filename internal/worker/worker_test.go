package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rawblock/fraudmesh/internal/config"
	"github.com/rawblock/fraudmesh/internal/graphstore"
	"github.com/rawblock/fraudmesh/internal/streamqueue"
)

// fakeStore is a minimal in-memory GraphStore: a small hand-written fake
// rather than a mocking framework.
type fakeStore struct {
	persisted map[string]float64
}

func newFakeStore() *fakeStore { return &fakeStore{persisted: map[string]float64{}} }

func (f *fakeStore) UpsertIngest(ctx context.Context, rec graphstore.IngestRecord) error { return nil }
func (f *fakeStore) PersistRisk(ctx context.Context, txID, senderID string, risk float64) error {
	f.persisted[txID] = risk
	return nil
}
func (f *fakeStore) AccountProfile(ctx context.Context, accountID string) (graphstore.AccountProfile, error) {
	return graphstore.AccountProfile{ID: accountID}, nil
}
func (f *fakeStore) RecentOutgoingAmounts(ctx context.Context, accountID string, limit int) ([]float64, error) {
	return nil, nil
}
func (f *fakeStore) ActivityInWindow(ctx context.Context, accountID string, window time.Duration) (graphstore.ActivityWindow, error) {
	return graphstore.ActivityWindow{}, nil
}
func (f *fakeStore) DegreeSummary(ctx context.Context, accountID string) (graphstore.DegreeSummary, error) {
	return graphstore.DegreeSummary{}, nil
}
func (f *fakeStore) DeviceProfile(ctx context.Context, accountID, fingerprint string) (graphstore.DeviceProfile, error) {
	return graphstore.DeviceProfile{}, nil
}
func (f *fakeStore) DistinctEndpointsInWindow(ctx context.Context, accountID string, window time.Duration) (int, error) {
	return 0, nil
}
func (f *fakeStore) IdenticalAmountCount(ctx context.Context, senderID, receiverID string, amount, tolerance float64, window time.Duration) (int, error) {
	return 0, nil
}
func (f *fakeStore) ASNUsageHistory(ctx context.Context, accountID string) (graphstore.ASNHistory, error) {
	return graphstore.ASNHistory{}, nil
}
func (f *fakeStore) HourHistogram(ctx context.Context, accountID string) (map[int]int, int, error) {
	return nil, 0, nil
}
func (f *fakeStore) NeighborRisk(ctx context.Context, accountID string) (graphstore.NeighborRisk, error) {
	return graphstore.NeighborRisk{}, nil
}
func (f *fakeStore) LastSenderCoordinates(ctx context.Context, accountID string) (float64, float64, time.Time, bool, error) {
	return 0, 0, time.Time{}, false, nil
}
func (f *fakeStore) Close() {}

// fakeStream is an in-memory streamqueue.Stream backed by a slice of
// pending records, with a map tracking acknowledgments.
type fakeStream struct {
	pending []streamqueue.Record
	acked   map[string]bool
}

func newFakeStream(payloads ...[]byte) *fakeStream {
	fs := &fakeStream{acked: map[string]bool{}}
	for i, p := range payloads {
		fs.pending = append(fs.pending, streamqueue.Record{ID: string(rune('a' + i)), Payload: p})
	}
	return fs
}

func (f *fakeStream) Append(ctx context.Context, payload []byte) (string, error) { return "", nil }
func (f *fakeStream) ConsumeGroup(ctx context.Context, group, consumer string, maxBatch int64, blockFor time.Duration) ([]streamqueue.Record, error) {
	out := f.pending
	f.pending = nil
	return out, nil
}
func (f *fakeStream) Acknowledge(ctx context.Context, group, id string) error {
	f.acked[id] = true
	return nil
}
func (f *fakeStream) PendingCount(ctx context.Context, group string) (int64, error) { return 0, nil }
func (f *fakeStream) Close() error                                                  { return nil }

func testConfig() config.Config {
	return config.Config{
		WorkerCount:     1,
		WorkerBatchSize: 16,
		SoftDeadline:    200 * time.Millisecond,
		ConsumerGroup:   "test-group",
		Weights:         config.FusionWeights{Graph: 0.30, Behavioral: 0.25, Device: 0.20, DeadAccount: 0.15, Velocity: 0.10},
		Thresholds:      config.Thresholds{High: 70, Medium: 40},
		V3:              config.V3Params{},
	}
}

func TestProcessPayload_ValidRecordIsScoredAndAcked(t *testing.T) {
	payload, _ := json.Marshal(map[string]any{
		"tx_id": "tx1", "sender_id": "acc-a", "receiver_id": "acc-b",
		"amount": 100.0, "timestamp": time.Now().Unix(),
		"device_hash": "dev1", "device_os": "android", "ip_address": "8.8.8.8",
		"channel": "app", "credential_type": "otp",
	})
	store := newFakeStore()
	pool := New(nil, store, nil, nil, testConfig(), NewMetrics())

	scored, ack, err := pool.ProcessPayload(context.Background(), payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ack {
		t.Errorf("expected ack=true for a valid record")
	}
	if scored == nil || scored.TxID != "tx1" {
		t.Fatalf("expected a scored record for tx1, got %+v", scored)
	}
	if store.persisted["tx1"] != scored.RiskScore {
		t.Errorf("expected persisted risk to match scored risk, got %v vs %v", store.persisted["tx1"], scored.RiskScore)
	}
}

func TestProcessPayload_InvalidJSONIsDroppedAndAcked(t *testing.T) {
	store := newFakeStore()
	pool := New(nil, store, nil, nil, testConfig(), NewMetrics())

	scored, ack, err := pool.ProcessPayload(context.Background(), []byte("not json"))
	if err == nil {
		t.Fatal("expected an error for malformed payload")
	}
	if !ack {
		t.Errorf("expected ack=true so a poison message is dropped rather than redelivered forever")
	}
	if scored != nil {
		t.Errorf("expected no scored record for an invalid payload")
	}
}

func TestProcessPayload_MissingFieldsRejected(t *testing.T) {
	payload, _ := json.Marshal(map[string]any{"tx_id": "tx2"})
	store := newFakeStore()
	pool := New(nil, store, nil, nil, testConfig(), NewMetrics())

	_, ack, err := pool.ProcessPayload(context.Background(), payload)
	if err == nil {
		t.Fatal("expected an error for a record missing required fields")
	}
	if !ack {
		t.Errorf("expected ack=true for an invalid-input poison message")
	}
}

func TestRun_ConsumesAndAcknowledgesPendingRecords(t *testing.T) {
	payload, _ := json.Marshal(map[string]any{
		"tx_id": "tx3", "sender_id": "acc-a", "receiver_id": "acc-b",
		"amount": 50.0, "timestamp": time.Now().Unix(),
		"device_hash": "dev1", "device_os": "ios", "ip_address": "8.8.8.8",
		"channel": "web", "credential_type": "pin",
	})
	stream := newFakeStream(payload)
	store := newFakeStore()
	pool := New(stream, store, nil, nil, testConfig(), NewMetrics())

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	if !stream.acked["a"] {
		t.Errorf("expected record \"a\" to be acknowledged after processing")
	}
}

package streamqueue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestStream(t *testing.T, visibilityTimeout time.Duration) (*RedisStream, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	stream, err := NewRedisStream(context.Background(), mr.Addr(), "fraud.transactions", "workers", visibilityTimeout)
	if err != nil {
		t.Fatalf("NewRedisStream: %v", err)
	}
	t.Cleanup(func() { _ = stream.Close() })
	return stream, mr
}

func TestRedisStream_AppendConsumeAck(t *testing.T) {
	stream, _ := newTestStream(t, time.Minute)
	ctx := context.Background()

	id, err := stream.Append(ctx, []byte(`{"tx_id":"t1"}`))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if id == "" {
		t.Fatal("expected non-empty stream id")
	}

	records, err := stream.ConsumeGroup(ctx, "workers", "consumer-a", 10, 0)
	if err != nil {
		t.Fatalf("ConsumeGroup: %v", err)
	}
	if len(records) != 1 || string(records[0].Payload) != `{"tx_id":"t1"}` {
		t.Fatalf("unexpected records: %+v", records)
	}

	pending, err := stream.PendingCount(ctx, "workers")
	if err != nil {
		t.Fatalf("PendingCount: %v", err)
	}
	if pending != 1 {
		t.Fatalf("expected 1 pending entry, got %d", pending)
	}

	if err := stream.Acknowledge(ctx, "workers", records[0].ID); err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}

	pending, err = stream.PendingCount(ctx, "workers")
	if err != nil {
		t.Fatalf("PendingCount after ack: %v", err)
	}
	if pending != 0 {
		t.Fatalf("expected 0 pending entries after ack, got %d", pending)
	}
}

// TestRedisStream_ReclaimsStaleEntries exercises the crash-recovery path:
// a consumer reads a record and never ACKs it. Once the visibility
// timeout elapses, a second consumer's next ConsumeGroup call must
// receive that record as a reclaimed entry, not silently drop it.
func TestRedisStream_ReclaimsStaleEntries(t *testing.T) {
	stream, mr := newTestStream(t, 10*time.Millisecond)
	ctx := context.Background()

	if _, err := stream.Append(ctx, []byte(`{"tx_id":"t2"}`)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	first, err := stream.ConsumeGroup(ctx, "workers", "consumer-crashed", 10, 0)
	if err != nil {
		t.Fatalf("ConsumeGroup (first consumer): %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("expected 1 record delivered to first consumer, got %d", len(first))
	}
	// first consumer never acknowledges; simulate it crashing here.

	mr.FastForward(50 * time.Millisecond)

	reclaimed, err := stream.ConsumeGroup(ctx, "workers", "consumer-b", 10, 0)
	if err != nil {
		t.Fatalf("ConsumeGroup (reclaiming consumer): %v", err)
	}
	if len(reclaimed) != 1 {
		t.Fatalf("expected the stale record to be reclaimed and redelivered, got %d records", len(reclaimed))
	}
	if string(reclaimed[0].Payload) != `{"tx_id":"t2"}` {
		t.Fatalf("unexpected reclaimed payload: %s", reclaimed[0].Payload)
	}

	if err := stream.Acknowledge(ctx, "workers", reclaimed[0].ID); err != nil {
		t.Fatalf("Acknowledge reclaimed record: %v", err)
	}
	pending, err := stream.PendingCount(ctx, "workers")
	if err != nil {
		t.Fatalf("PendingCount: %v", err)
	}
	if pending != 0 {
		t.Fatalf("expected 0 pending entries after reclaimed record is acked, got %d", pending)
	}
}

func TestRedisStream_ConsumeGroupEmpty(t *testing.T) {
	stream, _ := newTestStream(t, time.Minute)
	records, err := stream.ConsumeGroup(context.Background(), "workers", "consumer-a", 10, 0)
	if err != nil {
		t.Fatalf("ConsumeGroup: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected no records on an empty stream, got %d", len(records))
	}
}

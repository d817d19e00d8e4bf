// Package streamqueue is the durable, ordered, at-least-once stream
// adapter. The interface shape follows an EventBus
// (Publish/Subscribe/RetryConfig) contract, backed concretely by Redis
// Streams, whose native XADD/XREADGROUP/XACK/XPENDING primitives map
// directly onto append/consume-as-group/acknowledge/pending-count.
package streamqueue

import (
	"context"
	"time"
)

// Record is one delivered stream entry: its queue-assigned ID and the raw
// JSON payload bytes.
type Record struct {
	ID      string
	Payload []byte
}

// Stream is the minimal durable-queue contract the worker pool depends on.
type Stream interface {
	// Append adds a record to the stream. Returns the assigned entry ID.
	Append(ctx context.Context, payload []byte) (string, error)

	// ConsumeGroup reads up to maxBatch undelivered records for consumer
	// within group, blocking up to blockFor if none are immediately
	// available. Implementations that reclaim stale pending entries may
	// return those in addition to the maxBatch new ones.
	ConsumeGroup(ctx context.Context, group, consumer string, maxBatch int64, blockFor time.Duration) ([]Record, error)

	// Acknowledge marks id as processed within group so it is not
	// redelivered.
	Acknowledge(ctx context.Context, group, id string) error

	// PendingCount reports the number of delivered-but-unacknowledged
	// entries in group, used for backpressure.
	PendingCount(ctx context.Context, group string) (int64, error)

	// Close releases underlying connections.
	Close() error
}

package streamqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStream implements Stream over a Redis Streams key, using XADD,
// XREADGROUP, XACK and XPENDING. Visibility-timeout redelivery (for
// crashed consumers) is handled by periodically XCLAIMing entries idle
// longer than the configured timeout, so a worker crash redelivers its
// in-flight record to another consumer after the timeout elapses.
type RedisStream struct {
	client          *redis.Client
	key             string
	visibilityTimeout time.Duration
}

// NewRedisStream connects to addr and ensures group exists on key (created
// from the start of the stream, MKSTREAM if the key does not yet exist).
func NewRedisStream(ctx context.Context, addr, key, group string, visibilityTimeout time.Duration) (*RedisStream, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis stream: %w", err)
	}

	err := client.XGroupCreateMkStream(ctx, key, group, "0").Err()
	if err != nil && !isBusyGroupErr(err) {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}

	return &RedisStream{client: client, key: key, visibilityTimeout: visibilityTimeout}, nil
}

func isBusyGroupErr(err error) bool {
	return err != nil && len(err.Error()) >= 16 && err.Error()[:16] == "BUSYGROUP Consu"
}

func (r *RedisStream) Append(ctx context.Context, payload []byte) (string, error) {
	id, err := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.key,
		Values: map[string]any{"payload": payload},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("append stream record: %w", err)
	}
	return id, nil
}

func (r *RedisStream) ConsumeGroup(ctx context.Context, group, consumer string, maxBatch int64, blockFor time.Duration) ([]Record, error) {
	// Claim any entries idle past the visibility timeout before reading new
	// ones, so a crashed consumer's in-flight records are redelivered to
	// this consumer rather than left stuck in the pending list.
	out, err := r.reclaimStale(ctx, group, consumer)
	if err != nil {
		return nil, err
	}

	// go-redis sends BLOCK for any non-negative Block, and BLOCK 0 waits
	// forever; a negative value omits BLOCK so blockFor <= 0 never waits.
	block := blockFor
	if block <= 0 {
		block = -1
	}
	streams, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{r.key, ">"},
		Count:    maxBatch,
		Block:    block,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return out, nil
		}
		return nil, fmt.Errorf("consume stream group: %w", err)
	}

	for _, s := range streams {
		for _, msg := range s.Messages {
			payload, _ := msg.Values["payload"].(string)
			out = append(out, Record{ID: msg.ID, Payload: []byte(payload)})
		}
	}
	return out, nil
}

// reclaimStale claims entries idle past the visibility timeout and
// returns them as Records so the caller redelivers them to a worker
// exactly like a freshly read entry: otherwise a claimed entry would sit
// owned by the new consumer but never get processed or ACKed.
func (r *RedisStream) reclaimStale(ctx context.Context, group, consumer string) ([]Record, error) {
	messages, _, err := r.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   r.key,
		Group:    group,
		Consumer: consumer,
		MinIdle:  r.visibilityTimeout,
		Start:    "0-0",
		Count:    64,
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("reclaim stale entries: %w", err)
	}

	out := make([]Record, 0, len(messages))
	for _, msg := range messages {
		payload, _ := msg.Values["payload"].(string)
		out = append(out, Record{ID: msg.ID, Payload: []byte(payload)})
	}
	return out, nil
}

func (r *RedisStream) Acknowledge(ctx context.Context, group, id string) error {
	if err := r.client.XAck(ctx, r.key, group, id).Err(); err != nil {
		return fmt.Errorf("acknowledge stream record: %w", err)
	}
	return nil
}

func (r *RedisStream) PendingCount(ctx context.Context, group string) (int64, error) {
	summary, err := r.client.XPending(ctx, r.key, group).Result()
	if err != nil {
		return 0, fmt.Errorf("pending count: %w", err)
	}
	return summary.Count, nil
}

func (r *RedisStream) Close() error {
	return r.client.Close()
}

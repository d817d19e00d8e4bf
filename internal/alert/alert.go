// Package alert implements the alert broadcaster: an in-process
// subscriber set that publishes an immutable alert for any scored
// transaction with R >= the configured medium threshold, pruning dead
// subscribers and dropping slow ones without blocking. Delivery follows
// an AlertManager shape: bounded history ring buffer, copy-then-release-
// lock-before-I/O, fire-and-forget per-subscriber dispatch, plus a
// websocket Hub shape for live connections: buffered channel, per-client
// write deadline, drop failing clients.
package alert

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rawblock/fraudmesh/internal/errs"
	flog "github.com/rawblock/fraudmesh/internal/log"
	"github.com/rawblock/fraudmesh/pkg/models"
)

const (
	maxHistory        = 1000
	subscriberBuffer  = 256
	writeDeadline     = 5 * time.Second
)

// Alert is the immutable record published to subscribers.
type Alert struct {
	ID        string
	Timestamp time.Time
	Record    models.ScoredRecord
}

// Subscriber receives alerts. Deliver must not block the broadcaster: an
// implementation with a bounded outbound buffer (e.g. the websocket hub)
// should drop on a full buffer rather than waiting.
type Subscriber interface {
	// Deliver attempts to hand the alert to the subscriber. A returned
	// error marks the subscriber as unreachable; it is pruned.
	Deliver(a Alert) error
}

// Broadcaster is the subscriber registry and bounded alert history.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]Subscriber
	history     []Alert
}

// New creates an empty broadcaster.
func New() *Broadcaster {
	return &Broadcaster{subscribers: make(map[string]Subscriber)}
}

// Subscribe registers s and returns an id usable with Unsubscribe.
func (b *Broadcaster) Subscribe(s Subscriber) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := uuid.NewString()
	b.subscribers[id] = s
	return id
}

// Unsubscribe removes a subscriber.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, id)
}

// Publish sends the alert to every current subscriber without blocking the
// caller: it copies the subscriber set under a read lock, releases the
// lock, then delivers. A subscriber whose Deliver call errors is pruned
// under a fresh write lock.
func (b *Broadcaster) Publish(a Alert) {
	b.mu.Lock()
	if len(b.history) >= maxHistory {
		b.history = b.history[1:]
	}
	b.history = append(b.history, a)
	b.mu.Unlock()

	b.mu.RLock()
	targets := make(map[string]Subscriber, len(b.subscribers))
	for id, s := range b.subscribers {
		targets[id] = s
	}
	b.mu.RUnlock()

	var dead []string
	var deadMu sync.Mutex
	var wg sync.WaitGroup
	for id, s := range targets {
		wg.Add(1)
		go func(id string, s Subscriber) {
			defer wg.Done()
			if err := s.Deliver(a); err != nil {
				deadMu.Lock()
				dead = append(dead, id)
				deadMu.Unlock()
				flog.For("alert").Warn().Err(errs.Wrap(errs.ErrSubscriber, "subscriber unreachable", err)).Str("subscriber", id).Msg("pruning dead subscriber")
			}
		}(id, s)
	}
	wg.Wait()

	if len(dead) > 0 {
		b.mu.Lock()
		for _, id := range dead {
			delete(b.subscribers, id)
		}
		b.mu.Unlock()
	}
}

// PublishScored is the entry point the worker pool calls: publishes iff
// rec.RiskScore is at or above threshold (this "R ≥ configured
// medium threshold").
func (b *Broadcaster) PublishScored(rec models.ScoredRecord, threshold float64) {
	if rec.RiskScore < threshold {
		return
	}
	b.Publish(Alert{ID: uuid.NewString(), Timestamp: time.Now(), Record: rec})
}

// RecentHistory returns up to n most recent alerts.
func (b *Broadcaster) RecentHistory(n int) []Alert {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if n > len(b.history) {
		n = len(b.history)
	}
	out := make([]Alert, n)
	copy(out, b.history[len(b.history)-n:])
	return out
}

// SubscriberCount reports the current number of live subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

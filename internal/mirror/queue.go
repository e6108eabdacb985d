package mirror

import (
	"context"
	"log/slog"
	"sync"

	"certmint/pkg/platform/circuit"
)

// RepairQueue remembers certificates whose artifact write failed so the
// next resync can repair them.
type RepairQueue interface {
	Push(ctx context.Context, certificateID string) error

	// Drain removes and returns every queued identifier.
	Drain(ctx context.Context) ([]string, error)
}

// InMemoryQueue keeps repair entries in process memory for tests and
// development. Entries do not survive a restart; production uses the
// Redis queue.
type InMemoryQueue struct {
	mu  sync.Mutex
	ids []string
}

// NewInMemoryQueue constructs an empty repair queue.
func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{}
}

func (q *InMemoryQueue) Push(_ context.Context, certificateID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ids = append(q.ids, certificateID)
	return nil
}

func (q *InMemoryQueue) Drain(_ context.Context) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := q.ids
	q.ids = nil
	return ids, nil
}

// FallbackQueue pairs a durable primary queue with an in-process fallback
// behind a circuit breaker. While the breaker is closed entries go to the
// primary; once consecutive push failures open it, entries divert to the
// fallback so repair intent survives a Redis outage without stalling the
// write path. Draining probes the primary even while open, and a single
// successful drain closes the breaker again.
type FallbackQueue struct {
	primary  RepairQueue
	fallback RepairQueue
	breaker  *circuit.Breaker
	logger   *slog.Logger
}

// NewFallbackQueue wraps primary with fallback protection.
func NewFallbackQueue(primary, fallback RepairQueue, logger *slog.Logger) *FallbackQueue {
	return &FallbackQueue{
		primary:  primary,
		fallback: fallback,
		breaker:  circuit.New("mirror-repair-queue", circuit.WithSuccessThreshold(1)),
		logger:   logger,
	}
}

func (q *FallbackQueue) Push(ctx context.Context, certificateID string) error {
	if q.breaker.IsOpen() {
		return q.fallback.Push(ctx, certificateID)
	}
	if err := q.primary.Push(ctx, certificateID); err != nil {
		if _, change := q.breaker.RecordFailure(); change.Opened {
			q.logger.WarnContext(ctx, "repair queue primary failing, entries divert to process memory",
				"breaker", q.breaker.Name(), "error", err)
		}
		return q.fallback.Push(ctx, certificateID)
	}
	q.breaker.RecordSuccess()
	return nil
}

// Drain empties the primary first so a primary outage leaves the fallback
// entries queued for the next resync instead of dropping them.
func (q *FallbackQueue) Drain(ctx context.Context) ([]string, error) {
	ids, err := q.primary.Drain(ctx)
	if err != nil {
		if _, change := q.breaker.RecordFailure(); change.Opened {
			q.logger.WarnContext(ctx, "repair queue primary failing, entries divert to process memory",
				"breaker", q.breaker.Name(), "error", err)
		}
		return nil, err
	}
	if _, change := q.breaker.RecordSuccess(); change.Closed {
		q.logger.InfoContext(ctx, "repair queue primary recovered", "breaker", q.breaker.Name())
	}
	local, err := q.fallback.Drain(ctx)
	if err != nil {
		return ids, err
	}
	return append(ids, local...), nil
}

package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Producer delivers one event payload to the broker, keyed for
// partitioning.
type Producer interface {
	Publish(ctx context.Context, key string, payload []byte) error
}

// Relay moves committed outbox events to the broker. Events are marked
// published only after the broker acknowledges them, so a crash between
// the two steps re-publishes rather than drops; consumers de-duplicate on
// event_id.
type Relay struct {
	store    Store
	producer Producer
	logger   *slog.Logger
	interval time.Duration
	batch    int
}

// RelayOption configures the Relay.
type RelayOption func(*Relay)

// WithInterval sets the poll interval.
func WithInterval(d time.Duration) RelayOption {
	return func(r *Relay) {
		r.interval = d
	}
}

// WithBatchSize sets how many events one poll publishes at most.
func WithBatchSize(n int) RelayOption {
	return func(r *Relay) {
		r.batch = n
	}
}

// NewRelay constructs a relay polling every 5s in batches of 100 unless
// configured otherwise.
func NewRelay(store Store, producer Producer, logger *slog.Logger, opts ...RelayOption) *Relay {
	r := &Relay{
		store:    store,
		producer: producer,
		logger:   logger,
		interval: 5 * time.Second,
		batch:    100,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run polls until the context is cancelled. Drain failures are logged and
// retried on the next tick.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.drain(ctx); err != nil {
				r.logger.ErrorContext(ctx, "outbox drain failed", "error", err)
			}
		}
	}
}

// drain publishes pending events oldest first. Publishing stops at the
// first broker error so per-certificate ordering is preserved; whatever
// was acknowledged before the error is still marked published.
func (r *Relay) drain(ctx context.Context) error {
	for {
		events, err := r.store.FetchUnpublished(ctx, r.batch)
		if err != nil {
			return fmt.Errorf("fetch unpublished events: %w", err)
		}
		if len(events) == 0 {
			return nil
		}

		published := make([]uuid.UUID, 0, len(events))
		var publishErr error
		for _, event := range events {
			if err := r.producer.Publish(ctx, event.CertificateID, event.Payload); err != nil {
				publishErr = fmt.Errorf("publish event %s: %w", event.ID, err)
				break
			}
			published = append(published, event.ID)
		}

		if len(published) > 0 {
			if err := r.store.MarkPublished(ctx, published, time.Now()); err != nil {
				return fmt.Errorf("mark events published: %w", err)
			}
		}
		if publishErr != nil {
			return publishErr
		}
		if len(events) < r.batch {
			return nil
		}
	}
}

package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store persists outbox events. Append joins a transaction from the
// context via pkg/platform/tx so the event commits or rolls back with the
// certificate change it describes.
type Store interface {
	Append(ctx context.Context, event Event) error

	// FetchUnpublished returns pending events oldest first, up to limit.
	FetchUnpublished(ctx context.Context, limit int) ([]Event, error)

	// MarkPublished stamps the given events as delivered to the broker.
	MarkPublished(ctx context.Context, ids []uuid.UUID, at time.Time) error
}

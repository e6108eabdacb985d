package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	txcontext "certmint/pkg/platform/tx"
	"certmint/pkg/requestcontext"
)

// PostgresStore persists outbox events in the certificate_outbox table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed outbox store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Append(ctx context.Context, event Event) error {
	query := `
		INSERT INTO certificate_outbox (id, event_type, certificate_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		event.ID,
		event.EventType,
		event.CertificateID,
		event.Payload,
		requestcontext.Now(ctx),
	)
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

func (s *PostgresStore) FetchUnpublished(ctx context.Context, limit int) ([]Event, error) {
	query := `
		SELECT id, event_type, certificate_id, payload, created_at
		FROM certificate_outbox
		WHERE published_at IS NULL
		ORDER BY created_at, id
		LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query unpublished events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var event Event
		if err := rows.Scan(&event.ID, &event.EventType, &event.CertificateID, &event.Payload, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox events: %w", err)
	}
	return events, nil
}

func (s *PostgresStore) MarkPublished(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	query := `UPDATE certificate_outbox SET published_at = $1 WHERE id = ANY($2)`
	if _, err := s.db.ExecContext(ctx, query, at, pq.Array(ids)); err != nil {
		return fmt.Errorf("mark outbox events published: %w", err)
	}
	return nil
}

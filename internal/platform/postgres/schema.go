package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// Schema is the certificate database schema. Every statement is
// idempotent so Migrate can run on every start.
//
// certificates_active_domain_key is the partial unique index enforcing
// at most one active certificate per domain; the store maps its
// violations to a conflict error. Domains are stored lowercase, the
// LOWER() in the index keeps the invariant even for rows written by hand.
const Schema = `
CREATE TABLE IF NOT EXISTS certificates (
	record_id      UUID PRIMARY KEY,
	certificate_id TEXT NOT NULL,
	domain         TEXT NOT NULL,
	tax_id         TEXT NOT NULL,
	valid_from     DATE NOT NULL,
	valid_to       DATE NOT NULL,
	users_count    INTEGER NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL,
	created_by     TEXT NOT NULL,
	is_active      BOOLEAN NOT NULL DEFAULT TRUE,
	CONSTRAINT certificates_certificate_id_key UNIQUE (certificate_id)
);

CREATE UNIQUE INDEX IF NOT EXISTS certificates_active_domain_key
	ON certificates (LOWER(domain)) WHERE is_active;

CREATE INDEX IF NOT EXISTS certificates_domain_idx
	ON certificates (domain);

CREATE INDEX IF NOT EXISTS certificates_tax_id_idx
	ON certificates (tax_id);

CREATE TABLE IF NOT EXISTS certificate_history (
	id             UUID PRIMARY KEY,
	certificate_id TEXT NOT NULL,
	action         TEXT NOT NULL,
	performed_at   TIMESTAMPTZ NOT NULL,
	performed_by   TEXT NOT NULL,
	details        JSONB
);

CREATE INDEX IF NOT EXISTS certificate_history_certificate_idx
	ON certificate_history (certificate_id, performed_at);

CREATE TABLE IF NOT EXISTS certificate_outbox (
	id             UUID PRIMARY KEY,
	event_type     TEXT NOT NULL,
	certificate_id TEXT NOT NULL,
	payload        JSONB NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL,
	published_at   TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS certificate_outbox_unpublished_idx
	ON certificate_outbox (created_at) WHERE published_at IS NULL;
`

// Migrate applies the schema. lib/pq runs the parameterless script as a
// single simple-protocol batch.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Package store persists certificates and their append-only history.
//
// Every mutation writes its history entry in the same transaction as the
// certificate row, so the trail can never drift from the table it audits.
// Implementations join a caller transaction placed in the context via
// pkg/platform/tx; without one they open their own.
package store

import (
	"context"
	"time"

	"certmint/internal/certificate/models"
)

// Error Contract:
// All store methods follow this error pattern:
// - Return sentinel.ErrNotFound when the requested certificate does not exist
// - Return sentinel.ErrConflict when an active certificate already covers the domain
// - Return sentinel.ErrDuplicateID when the generated identifier is already taken
// - Return sentinel.ErrInvalidState when deactivating an already inactive certificate
// - Return wrapped errors with context for infrastructure failures
type Store interface {
	// Create persists a new certificate and its CREATE history entry.
	// The store assigns RecordID and CreatedAt; the returned value carries both.
	Create(ctx context.Context, cert models.Certificate) (models.Certificate, error)

	// Get returns the certificate with the given identifier.
	Get(ctx context.Context, certificateID string) (models.Certificate, error)

	// ExistsID reports whether an identifier is already taken, active or not.
	ExistsID(ctx context.Context, certificateID string) (bool, error)

	// List returns every certificate ordered by creation time, oldest first.
	List(ctx context.Context) ([]models.Certificate, error)

	// SearchByDomain returns certificates whose domain contains the pattern,
	// case-insensitively, newest first.
	SearchByDomain(ctx context.Context, pattern string, activeOnly bool) ([]models.Certificate, error)

	// SearchByTaxID returns certificates issued to the exact tax number, newest first.
	SearchByTaxID(ctx context.Context, taxID string, activeOnly bool) ([]models.Certificate, error)

	// Deactivate clears the active flag and records a DEACTIVATE entry.
	Deactivate(ctx context.Context, certificateID, performedBy string) error

	// UpdateDates amends the validity window and records an UPDATE entry with
	// before/after snapshots. It returns the amended certificate.
	UpdateDates(ctx context.Context, certificateID string, validFrom, validTo time.Time, performedBy string) (models.Certificate, error)

	// RecordVerification appends a VERIFY entry for an existing certificate.
	RecordVerification(ctx context.Context, certificateID, performedBy string, details map[string]any) error

	// History returns the audit trail for one certificate, oldest first.
	History(ctx context.Context, certificateID string) ([]models.HistoryEntry, error)

	// PurgeHistoryOlderThan deletes audit entries performed before the cutoff
	// and reports how many were removed. The cutoff is computed by the caller
	// to keep retention policy out of the store.
	PurgeHistoryOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	// Stats aggregates issuance counters as of the given time.
	Stats(ctx context.Context, now time.Time) (models.Stats, error)
}

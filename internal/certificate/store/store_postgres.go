package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"certmint/internal/certificate/models"
	"certmint/pkg/platform/sentinel"
	txcontext "certmint/pkg/platform/tx"
	"certmint/pkg/requestcontext"
)

// PostgresStore persists certificates in PostgreSQL.
// The at-most-one-active-per-domain invariant is enforced by a partial unique
// index, so concurrent issuance for the same domain cannot race past an
// application-level check. Mutations write their history entry in the same
// transaction as the certificate row.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed certificate store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// inTx runs fn inside the caller's transaction when one is present in the
// context, otherwise it opens and commits its own.
func (s *PostgresStore) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := txcontext.From(ctx); ok {
		return fn(ctx)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin certificate tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()
	if err := fn(txcontext.WithTx(ctx, tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit certificate tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, cert models.Certificate) (models.Certificate, error) {
	cert.RecordID = uuid.New()
	cert.CreatedAt = requestcontext.Now(ctx)
	cert.ValidFrom = models.DateOnly(cert.ValidFrom)
	cert.ValidTo = models.DateOnly(cert.ValidTo)
	cert.IsActive = true

	err := s.inTx(ctx, func(ctx context.Context) error {
		query := `
			INSERT INTO certificates (record_id, certificate_id, domain, tax_id, valid_from, valid_to, users_count, created_at, created_by, is_active)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`
		_, err := s.execer(ctx).ExecContext(ctx, query,
			cert.RecordID,
			cert.CertificateID,
			cert.Domain,
			cert.TaxID,
			cert.ValidFrom,
			cert.ValidTo,
			cert.UsersCount,
			cert.CreatedAt,
			cert.CreatedBy,
			cert.IsActive,
		)
		if err != nil {
			return mapUniqueViolation(err, cert)
		}
		return s.appendHistory(ctx, cert.CertificateID, models.ActionCreate, cert.CreatedAt, cert.CreatedBy, models.CreateDetails(cert))
	})
	if err != nil {
		return models.Certificate{}, err
	}
	return cert, nil
}

func (s *PostgresStore) Get(ctx context.Context, certificateID string) (models.Certificate, error) {
	query := `
		SELECT record_id, certificate_id, domain, tax_id, valid_from, valid_to, users_count, created_at, created_by, is_active
		FROM certificates
		WHERE certificate_id = $1
	`
	cert, err := scanCertificate(s.execer(ctx).QueryRowContext(ctx, query, certificateID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Certificate{}, fmt.Errorf("certificate %s: %w", certificateID, sentinel.ErrNotFound)
		}
		return models.Certificate{}, fmt.Errorf("get certificate: %w", err)
	}
	return cert, nil
}

func (s *PostgresStore) ExistsID(ctx context.Context, certificateID string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM certificates WHERE certificate_id = $1)`
	if err := s.execer(ctx).QueryRowContext(ctx, query, certificateID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check certificate id: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]models.Certificate, error) {
	query := `
		SELECT record_id, certificate_id, domain, tax_id, valid_from, valid_to, users_count, created_at, created_by, is_active
		FROM certificates
		ORDER BY created_at, certificate_id
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list certificates: %w", err)
	}
	defer rows.Close()
	return scanCertificates(rows)
}

func (s *PostgresStore) SearchByDomain(ctx context.Context, pattern string, activeOnly bool) ([]models.Certificate, error) {
	query := `
		SELECT record_id, certificate_id, domain, tax_id, valid_from, valid_to, users_count, created_at, created_by, is_active
		FROM certificates
		WHERE domain ILIKE '%' || $1 || '%'
		  AND (NOT $2 OR is_active)
		ORDER BY created_at DESC, certificate_id
	`
	rows, err := s.db.QueryContext(ctx, query, pattern, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("search certificates by domain: %w", err)
	}
	defer rows.Close()
	return scanCertificates(rows)
}

func (s *PostgresStore) SearchByTaxID(ctx context.Context, taxID string, activeOnly bool) ([]models.Certificate, error) {
	query := `
		SELECT record_id, certificate_id, domain, tax_id, valid_from, valid_to, users_count, created_at, created_by, is_active
		FROM certificates
		WHERE tax_id = $1
		  AND (NOT $2 OR is_active)
		ORDER BY created_at DESC, certificate_id
	`
	rows, err := s.db.QueryContext(ctx, query, taxID, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("search certificates by tax id: %w", err)
	}
	defer rows.Close()
	return scanCertificates(rows)
}

func (s *PostgresStore) Deactivate(ctx context.Context, certificateID, performedBy string) error {
	return s.inTx(ctx, func(ctx context.Context) error {
		query := `
			UPDATE certificates
			SET is_active = FALSE
			WHERE certificate_id = $1 AND is_active
		`
		result, err := s.execer(ctx).ExecContext(ctx, query, certificateID)
		if err != nil {
			return fmt.Errorf("deactivate certificate: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("deactivate rows affected: %w", err)
		}
		if rows == 0 {
			// Distinguish a missing certificate from one already inactive.
			exists, err := s.ExistsID(ctx, certificateID)
			if err != nil {
				return err
			}
			if !exists {
				return fmt.Errorf("certificate %s: %w", certificateID, sentinel.ErrNotFound)
			}
			return fmt.Errorf("certificate %s already inactive: %w", certificateID, sentinel.ErrInvalidState)
		}
		return s.appendHistory(ctx, certificateID, models.ActionDeactivate, requestcontext.Now(ctx), performedBy, nil)
	})
}

func (s *PostgresStore) UpdateDates(ctx context.Context, certificateID string, validFrom, validTo time.Time, performedBy string) (models.Certificate, error) {
	var updated models.Certificate
	err := s.inTx(ctx, func(ctx context.Context) error {
		lockQuery := `
			SELECT record_id, certificate_id, domain, tax_id, valid_from, valid_to, users_count, created_at, created_by, is_active
			FROM certificates
			WHERE certificate_id = $1
			FOR UPDATE
		`
		before, err := scanCertificate(s.execer(ctx).QueryRowContext(ctx, lockQuery, certificateID))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("certificate %s: %w", certificateID, sentinel.ErrNotFound)
			}
			return fmt.Errorf("lock certificate: %w", err)
		}

		updateQuery := `
			UPDATE certificates
			SET valid_from = $2, valid_to = $3
			WHERE certificate_id = $1
			RETURNING record_id, certificate_id, domain, tax_id, valid_from, valid_to, users_count, created_at, created_by, is_active
		`
		updated, err = scanCertificate(s.execer(ctx).QueryRowContext(ctx, updateQuery, certificateID, models.DateOnly(validFrom), models.DateOnly(validTo)))
		if err != nil {
			return fmt.Errorf("update certificate dates: %w", err)
		}
		return s.appendHistory(ctx, certificateID, models.ActionUpdate, requestcontext.Now(ctx), performedBy, models.UpdateDetails(before, updated))
	})
	if err != nil {
		return models.Certificate{}, err
	}
	return updated, nil
}

func (s *PostgresStore) RecordVerification(ctx context.Context, certificateID, performedBy string, details map[string]any) error {
	return s.inTx(ctx, func(ctx context.Context) error {
		exists, err := s.ExistsID(ctx, certificateID)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("certificate %s: %w", certificateID, sentinel.ErrNotFound)
		}
		return s.appendHistory(ctx, certificateID, models.ActionVerify, requestcontext.Now(ctx), performedBy, details)
	})
}

func (s *PostgresStore) History(ctx context.Context, certificateID string) ([]models.HistoryEntry, error) {
	query := `
		SELECT id, certificate_id, action, performed_at, performed_by, details
		FROM certificate_history
		WHERE certificate_id = $1
		ORDER BY performed_at, id
	`
	rows, err := s.db.QueryContext(ctx, query, certificateID)
	if err != nil {
		return nil, fmt.Errorf("query certificate history: %w", err)
	}
	defer rows.Close()

	var entries []models.HistoryEntry
	for rows.Next() {
		var entry models.HistoryEntry
		var action string
		var details []byte
		if err := rows.Scan(&entry.ID, &entry.CertificateID, &action, &entry.PerformedAt, &entry.PerformedBy, &details); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		entry.Action = models.HistoryAction(action)
		if len(details) > 0 {
			if err := json.Unmarshal(details, &entry.Details); err != nil {
				return nil, fmt.Errorf("decode history details: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate certificate history: %w", err)
	}
	return entries, nil
}

func (s *PostgresStore) PurgeHistoryOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM certificate_history WHERE performed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge certificate history: %w", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge rows affected: %w", err)
	}
	return removed, nil
}

func (s *PostgresStore) Stats(ctx context.Context, now time.Time) (models.Stats, error) {
	var stats models.Stats
	query := `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE is_active),
		       COUNT(*) FILTER (WHERE valid_to < $1::date),
		       COUNT(DISTINCT LOWER(domain)),
		       COALESCE(AVG(users_count), 0)
		FROM certificates
	`
	if err := s.db.QueryRowContext(ctx, query, models.DateOnly(now)).Scan(
		&stats.Total,
		&stats.Active,
		&stats.Expired,
		&stats.DomainsCount,
		&stats.AvgUsers,
	); err != nil {
		return models.Stats{}, fmt.Errorf("aggregate certificate stats: %w", err)
	}

	monthQuery := `
		SELECT to_char(date_trunc('month', created_at AT TIME ZONE 'UTC'), 'YYYY-MM'), COUNT(*)
		FROM certificates
		WHERE created_at >= $1
		GROUP BY 1
		ORDER BY 1
	`
	monthStart := time.Date(now.Year(), now.Month()-11, 1, 0, 0, 0, 0, time.UTC)
	rows, err := s.db.QueryContext(ctx, monthQuery, monthStart)
	if err != nil {
		return models.Stats{}, fmt.Errorf("aggregate monthly stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var mc models.MonthCount
		if err := rows.Scan(&mc.Month, &mc.Issued); err != nil {
			return models.Stats{}, fmt.Errorf("scan monthly stats: %w", err)
		}
		stats.ByMonth = append(stats.ByMonth, mc)
	}
	if err := rows.Err(); err != nil {
		return models.Stats{}, fmt.Errorf("iterate monthly stats: %w", err)
	}
	return stats, nil
}

func (s *PostgresStore) appendHistory(ctx context.Context, certificateID string, action models.HistoryAction, at time.Time, by string, details map[string]any) error {
	var payload any
	if details != nil {
		raw, err := json.Marshal(details)
		if err != nil {
			return fmt.Errorf("marshal history details: %w", err)
		}
		payload = raw
	}
	query := `
		INSERT INTO certificate_history (id, certificate_id, action, performed_at, performed_by, details)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := s.execer(ctx).ExecContext(ctx, query, uuid.New(), certificateID, string(action), at, by, payload); err != nil {
		return fmt.Errorf("insert history entry: %w", err)
	}
	return nil
}

// mapUniqueViolation translates unique-index violations into sentinel errors
// the service can branch on. Anything else is wrapped as an insert failure.
func mapUniqueViolation(err error, cert models.Certificate) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		switch pqErr.Constraint {
		case "certificates_active_domain_key":
			return fmt.Errorf("active certificate exists for domain %s: %w", cert.Domain, sentinel.ErrConflict)
		case "certificates_certificate_id_key":
			return fmt.Errorf("certificate id %s: %w", cert.CertificateID, sentinel.ErrDuplicateID)
		}
	}
	return fmt.Errorf("insert certificate: %w", err)
}

type certificateRow interface {
	Scan(dest ...any) error
}

func scanCertificate(row certificateRow) (models.Certificate, error) {
	var cert models.Certificate
	if err := row.Scan(
		&cert.RecordID,
		&cert.CertificateID,
		&cert.Domain,
		&cert.TaxID,
		&cert.ValidFrom,
		&cert.ValidTo,
		&cert.UsersCount,
		&cert.CreatedAt,
		&cert.CreatedBy,
		&cert.IsActive,
	); err != nil {
		return models.Certificate{}, err
	}
	return cert, nil
}

func scanCertificates(rows *sql.Rows) ([]models.Certificate, error) {
	var certs []models.Certificate
	for rows.Next() {
		cert, err := scanCertificate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan certificate: %w", err)
		}
		certs = append(certs, cert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate certificates: %w", err)
	}
	return certs, nil
}

// Package service orchestrates the certificate lifecycle: issuance,
// verification, search, deactivation, and the administrative operations
// around the audit trail and the artifact mirror.
//
// The database is the source of truth. Mutations run inside one transaction
// together with their history entry and outbox event; the on-disk artifact
// is written after commit and a failure there queues a repair instead of
// failing the operation.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"certmint/internal/certificate/generator"
	"certmint/internal/certificate/metrics"
	"certmint/internal/certificate/models"
	"certmint/internal/certificate/store"
	"certmint/internal/certificate/validator"
	"certmint/internal/mirror"
	"certmint/internal/outbox"
	"certmint/pkg/certid"
	dErrors "certmint/pkg/domain-errors"
	"certmint/pkg/platform/sentinel"
	"certmint/pkg/requestcontext"
)

// maxIssueAttempts bounds identifier redraws when an insert loses the race
// on the identifier unique constraint. The generator already redraws on
// lookup collisions, so reaching this limit means the keyspace is effectively
// exhausted.
const maxIssueAttempts = 10

// TxRunner executes fn atomically with respect to the backing store. The
// postgres runner threads a database transaction through the context so
// every store call inside fn joins it; the passthrough runner covers stores
// with internal locking.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// EventLog appends domain events to the transactional outbox. Appends run in
// the same transaction as the mutation they describe.
type EventLog interface {
	Append(ctx context.Context, event outbox.Event) error
}

// ArtifactMirror maintains the JSON artifact tree shadowing issued
// certificates on disk.
type ArtifactMirror interface {
	Write(ctx context.Context, cert models.Certificate) error
	Resync(ctx context.Context, certs []models.Certificate) (mirror.ResyncResult, error)
}

// Service implements the certificate operations.
type Service struct {
	store     store.Store
	generator *generator.Generator
	validator *validator.Validator
	runner    TxRunner
	events    EventLog
	artifacts ArtifactMirror
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

type Option func(s *Service)

func WithEventLog(events EventLog) Option {
	return func(s *Service) {
		s.events = events
	}
}

func WithArtifacts(artifacts ArtifactMirror) Option {
	return func(s *Service) {
		s.artifacts = artifacts
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// New constructs a Service.
func New(st store.Store, gen *generator.Generator, val *validator.Validator, runner TxRunner, opts ...Option) *Service {
	s := &Service{store: st, generator: gen, validator: val, runner: runner}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create validates the request, generates a free identifier, and persists
// the certificate together with its CREATE history entry and outbox event in
// one transaction. At most one active certificate may exist per domain;
// losing that race surfaces as a conflict.
func (s *Service) Create(ctx context.Context, req models.CreateRequest) (models.Certificate, error) {
	start := time.Now()

	req.Domain = strings.ToLower(strings.TrimSpace(req.Domain))
	req.TaxID = strings.TrimSpace(req.TaxID)
	if violations := s.validator.ValidateCreate(req); violations != nil {
		return models.Certificate{}, dErrors.Wrap(violations, dErrors.CodeValidation, "invalid certificate request")
	}

	performedBy := actorName(ctx)
	var created models.Certificate
	for attempt := 0; ; attempt++ {
		id, err := s.generator.Generate(ctx, req.ValidTo)
		if err != nil {
			return models.Certificate{}, err
		}

		err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
			var txErr error
			created, txErr = s.store.Create(ctx, models.Certificate{
				CertificateID: id,
				Domain:        req.Domain,
				TaxID:         req.TaxID,
				ValidFrom:     req.ValidFrom,
				ValidTo:       req.ValidTo,
				UsersCount:    req.UsersCount,
				CreatedBy:     performedBy,
			})
			if txErr != nil {
				return txErr
			}
			return s.appendEvent(ctx, outbox.EventIssued, created)
		})
		if err == nil {
			break
		}
		// Lost the insert race on the identifier itself: redraw and retry.
		if errors.Is(err, sentinel.ErrDuplicateID) {
			if attempt+1 < maxIssueAttempts {
				continue
			}
			return models.Certificate{}, dErrors.New(dErrors.CodeExhausted,
				fmt.Sprintf("no free identifier after %d attempts", maxIssueAttempts))
		}
		if errors.Is(err, sentinel.ErrConflict) {
			return models.Certificate{}, dErrors.New(dErrors.CodeConflict, "domain already holds an active certificate")
		}
		if dErrors.HasCode(err, dErrors.CodeTimeout) {
			return models.Certificate{}, err
		}
		return models.Certificate{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create certificate")
	}

	s.writeArtifact(ctx, created)
	s.logEvent(ctx, "certificate_issued",
		"certificate_id", created.CertificateID,
		"domain", created.Domain)
	s.metrics.IncrementIssued()
	s.metrics.ObserveIssue(time.Since(start))

	return created, nil
}

// Get returns one certificate by identifier. Unlike Verify it records
// nothing in the audit trail.
func (s *Service) Get(ctx context.Context, certificateID string) (models.Certificate, error) {
	certificateID = normalizeID(certificateID)
	if !certid.Validate(certificateID) {
		return models.Certificate{}, dErrors.New(dErrors.CodeMalformed, "identifier does not match certificate format")
	}

	cert, err := s.store.Get(ctx, certificateID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return models.Certificate{}, dErrors.New(dErrors.CodeNotFound, "certificate not found")
		}
		return models.Certificate{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load certificate")
	}
	return cert, nil
}

// Verify resolves an identifier to its certificate and derives the status
// for the request time. Every successful lookup appends a VERIFY history
// entry carrying the caller's client metadata; verification never mutates
// the certificate itself. Malformed identifiers are rejected before any
// store access.
func (s *Service) Verify(ctx context.Context, certificateID string) (models.Verification, error) {
	start := time.Now()

	certificateID = normalizeID(certificateID)
	if !certid.Validate(certificateID) {
		s.metrics.IncrementVerification("malformed")
		return models.Verification{}, dErrors.New(dErrors.CodeMalformed, "identifier does not match certificate format")
	}

	cert, err := s.store.Get(ctx, certificateID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			s.metrics.IncrementVerification("not_found")
			return models.Verification{}, dErrors.New(dErrors.CodeNotFound, "certificate not found")
		}
		return models.Verification{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load certificate")
	}

	details := models.VerifyDetails(requestcontext.ClientIP(ctx), requestcontext.Platform(ctx))
	if err := s.store.RecordVerification(ctx, certificateID, actorName(ctx), details); err != nil {
		return models.Verification{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record verification")
	}

	now := requestcontext.Now(ctx)
	verification := models.Verification{
		Certificate: cert,
		Status:      cert.StatusAt(now),
		DaysLeft:    cert.DaysLeft(now),
	}
	s.metrics.IncrementVerification(string(verification.Status))
	s.metrics.ObserveVerify(time.Since(start))

	return verification, nil
}

// SearchByDomain returns certificates whose domain contains the pattern,
// case-insensitively, newest first.
func (s *Service) SearchByDomain(ctx context.Context, pattern string, activeOnly bool) ([]models.Certificate, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "search pattern is required")
	}

	certs, err := s.store.SearchByDomain(ctx, pattern, activeOnly)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to search certificates")
	}
	return certs, nil
}

// SearchByTaxID returns certificates issued to the exact tax number, newest first.
func (s *Service) SearchByTaxID(ctx context.Context, taxID string, activeOnly bool) ([]models.Certificate, error) {
	taxID = strings.TrimSpace(taxID)
	if taxID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "tax number is required")
	}

	certs, err := s.store.SearchByTaxID(ctx, taxID, activeOnly)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to search certificates")
	}
	return certs, nil
}

// Deactivate clears the active flag, freeing the domain for a future
// certificate. The record and its audit trail stay in place.
func (s *Service) Deactivate(ctx context.Context, certificateID string) (models.Certificate, error) {
	certificateID = normalizeID(certificateID)
	if !certid.Validate(certificateID) {
		return models.Certificate{}, dErrors.New(dErrors.CodeMalformed, "identifier does not match certificate format")
	}

	var deactivated models.Certificate
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.Deactivate(ctx, certificateID, actorName(ctx)); err != nil {
			return err
		}
		var err error
		deactivated, err = s.store.Get(ctx, certificateID)
		if err != nil {
			return err
		}
		return s.appendEvent(ctx, outbox.EventDeactivated, deactivated)
	})
	if err != nil {
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			return models.Certificate{}, dErrors.New(dErrors.CodeNotFound, "certificate not found")
		case errors.Is(err, sentinel.ErrInvalidState):
			return models.Certificate{}, dErrors.New(dErrors.CodeConflict, "certificate is already deactivated")
		case dErrors.HasCode(err, dErrors.CodeTimeout):
			return models.Certificate{}, err
		}
		return models.Certificate{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to deactivate certificate")
	}

	s.writeArtifact(ctx, deactivated)
	s.logEvent(ctx, "certificate_deactivated",
		"certificate_id", certificateID,
		"domain", deactivated.Domain)
	s.metrics.IncrementDeactivated()

	return deactivated, nil
}

// UpdateDates amends the validity window of an issued certificate. Only the
// period rules are re-validated; domain and tax-id are immutable. The
// identifier keeps its original expiry suffix.
func (s *Service) UpdateDates(ctx context.Context, certificateID string, validFrom, validTo time.Time) (models.Certificate, error) {
	certificateID = normalizeID(certificateID)
	if !certid.Validate(certificateID) {
		return models.Certificate{}, dErrors.New(dErrors.CodeMalformed, "identifier does not match certificate format")
	}
	if violations := s.validator.ValidatePeriod(validFrom, validTo); violations != nil {
		return models.Certificate{}, dErrors.Wrap(violations, dErrors.CodeValidation, "invalid validity period")
	}

	var updated models.Certificate
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		var txErr error
		updated, txErr = s.store.UpdateDates(ctx, certificateID, validFrom, validTo, actorName(ctx))
		if txErr != nil {
			return txErr
		}
		return s.appendEvent(ctx, outbox.EventDatesUpdated, updated)
	})
	if err != nil {
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			return models.Certificate{}, dErrors.New(dErrors.CodeNotFound, "certificate not found")
		case dErrors.HasCode(err, dErrors.CodeTimeout):
			return models.Certificate{}, err
		}
		return models.Certificate{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update certificate dates")
	}

	s.writeArtifact(ctx, updated)
	s.logEvent(ctx, "certificate_dates_updated",
		"certificate_id", certificateID,
		"valid_from", models.DateOnly(updated.ValidFrom).Format(time.DateOnly),
		"valid_to", models.DateOnly(updated.ValidTo).Format(time.DateOnly))
	s.metrics.IncrementDatesUpdated()

	return updated, nil
}

// History returns the audit trail of one certificate, oldest entry first.
func (s *Service) History(ctx context.Context, certificateID string) ([]models.HistoryEntry, error) {
	certificateID = normalizeID(certificateID)
	if !certid.Validate(certificateID) {
		return nil, dErrors.New(dErrors.CodeMalformed, "identifier does not match certificate format")
	}

	entries, err := s.store.History(ctx, certificateID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load history")
	}
	if len(entries) == 0 {
		// Retention purges can empty a trail legitimately; distinguish that
		// from an identifier that was never issued.
		exists, err := s.store.ExistsID(ctx, certificateID)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load history")
		}
		if !exists {
			return nil, dErrors.New(dErrors.CodeNotFound, "certificate not found")
		}
	}
	return entries, nil
}

// Stats aggregates issuance counters as of the request time.
func (s *Service) Stats(ctx context.Context) (models.Stats, error) {
	stats, err := s.store.Stats(ctx, requestcontext.Now(ctx))
	if err != nil {
		return models.Stats{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to aggregate statistics")
	}
	return stats, nil
}

// Resync rebuilds the artifact tree from the store: every certificate is
// rewritten, orphaned files are removed, and the repair queue is drained.
func (s *Service) Resync(ctx context.Context) (mirror.ResyncResult, error) {
	if s.artifacts == nil {
		return mirror.ResyncResult{}, dErrors.New(dErrors.CodeInternal, "artifact mirror is not configured")
	}

	certs, err := s.store.List(ctx)
	if err != nil {
		return mirror.ResyncResult{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list certificates")
	}

	result, err := s.artifacts.Resync(ctx, certs)
	if err != nil {
		return result, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resync artifacts")
	}

	s.logEvent(ctx, "artifacts_resynced",
		"written", result.Written,
		"removed", result.Removed,
		"repaired", len(result.Repaired))
	return result, nil
}

// PurgeHistory deletes audit entries older than the retention window and
// reports how many were removed.
func (s *Service) PurgeHistory(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, dErrors.New(dErrors.CodeValidation, "retention must be positive")
	}

	cutoff := requestcontext.Now(ctx).Add(-retention)
	purged, err := s.store.PurgeHistoryOlderThan(ctx, cutoff)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to purge history")
	}

	s.logEvent(ctx, "history_purged",
		"purged", purged,
		"cutoff", cutoff.UTC().Format(time.RFC3339))
	return purged, nil
}

// appendEvent records a domain event in the outbox inside the caller's
// transaction. A service wired without an event log skips this silently.
func (s *Service) appendEvent(ctx context.Context, eventType string, cert models.Certificate) error {
	if s.events == nil {
		return nil
	}
	event, err := outbox.NewEvent(eventType, cert, requestcontext.Now(ctx))
	if err != nil {
		return fmt.Errorf("build outbox event: %w", err)
	}
	if err := s.events.Append(ctx, event); err != nil {
		return fmt.Errorf("append outbox event: %w", err)
	}
	return nil
}

// writeArtifact mirrors the certificate to disk after a committed mutation.
// The mirror queues a repair on failure, so surfacing the error would only
// fail an operation that already succeeded.
func (s *Service) writeArtifact(ctx context.Context, cert models.Certificate) {
	if s.artifacts == nil {
		return
	}
	if err := s.artifacts.Write(ctx, cert); err != nil {
		s.metrics.IncrementMirrorWriteFailure()
		if s.logger != nil {
			s.logger.ErrorContext(ctx, "artifact write failed, repair queued",
				"certificate_id", cert.CertificateID,
				"error", err)
		}
	}
}

// logEvent emits a structured audit line for a completed operation.
func (s *Service) logEvent(ctx context.Context, event string, attributes ...any) {
	if s.logger == nil {
		return
	}
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	args := append(attributes, "actor", actorName(ctx), "event", event, "log_type", "audit")
	s.logger.InfoContext(ctx, event, args...)
}

// actorName resolves who performs an operation. Unauthenticated paths such
// as workers and local tooling fall back to "system".
func actorName(ctx context.Context) string {
	if name := requestcontext.Actor(ctx).Name; name != "" {
		return name
	}
	return "system"
}

// normalizeID canonicalizes caller-supplied identifiers. Issued identifiers
// are upper case; lookups accept any casing.
func normalizeID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"certmint/internal/certificate/models"
	"certmint/pkg/platform/sentinel"
	"certmint/pkg/requestcontext"
)

// InMemoryStore keeps certificates and history in process memory for
// tests and development. A single mutex guards both so every mutation
// lands together with its audit entry, mirroring the transactional
// behaviour of the Postgres store.
type InMemoryStore struct {
	mu      sync.RWMutex
	certs   map[string]models.Certificate
	history []models.HistoryEntry
}

// NewInMemory constructs an empty in-memory certificate store.
func NewInMemory() *InMemoryStore {
	return &InMemoryStore{certs: make(map[string]models.Certificate)}
}

func (s *InMemoryStore) Create(ctx context.Context, cert models.Certificate) (models.Certificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.certs[cert.CertificateID]; ok {
		return models.Certificate{}, fmt.Errorf("certificate id %s: %w", cert.CertificateID, sentinel.ErrDuplicateID)
	}
	for _, existing := range s.certs {
		if existing.IsActive && strings.EqualFold(existing.Domain, cert.Domain) {
			return models.Certificate{}, fmt.Errorf("active certificate exists for domain %s: %w", cert.Domain, sentinel.ErrConflict)
		}
	}

	now := requestcontext.Now(ctx)
	cert.RecordID = uuid.New()
	cert.CreatedAt = now
	cert.ValidFrom = models.DateOnly(cert.ValidFrom)
	cert.ValidTo = models.DateOnly(cert.ValidTo)
	cert.IsActive = true
	s.certs[cert.CertificateID] = cert
	s.appendHistory(cert.CertificateID, models.ActionCreate, now, cert.CreatedBy, models.CreateDetails(cert))
	return cert, nil
}

func (s *InMemoryStore) Get(_ context.Context, certificateID string) (models.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cert, ok := s.certs[certificateID]
	if !ok {
		return models.Certificate{}, fmt.Errorf("certificate %s: %w", certificateID, sentinel.ErrNotFound)
	}
	return cert, nil
}

func (s *InMemoryStore) ExistsID(_ context.Context, certificateID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.certs[certificateID]
	return ok, nil
}

func (s *InMemoryStore) List(_ context.Context) ([]models.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Certificate, 0, len(s.certs))
	for _, cert := range s.certs {
		out = append(out, cert)
	}
	sortOldestFirst(out)
	return out, nil
}

func (s *InMemoryStore) SearchByDomain(_ context.Context, pattern string, activeOnly bool) ([]models.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	needle := strings.ToLower(pattern)
	var out []models.Certificate
	for _, cert := range s.certs {
		if activeOnly && !cert.IsActive {
			continue
		}
		if !strings.Contains(strings.ToLower(cert.Domain), needle) {
			continue
		}
		out = append(out, cert)
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *InMemoryStore) SearchByTaxID(_ context.Context, taxID string, activeOnly bool) ([]models.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Certificate
	for _, cert := range s.certs {
		if activeOnly && !cert.IsActive {
			continue
		}
		if cert.TaxID != taxID {
			continue
		}
		out = append(out, cert)
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *InMemoryStore) Deactivate(ctx context.Context, certificateID, performedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cert, ok := s.certs[certificateID]
	if !ok {
		return fmt.Errorf("certificate %s: %w", certificateID, sentinel.ErrNotFound)
	}
	if !cert.IsActive {
		return fmt.Errorf("certificate %s already inactive: %w", certificateID, sentinel.ErrInvalidState)
	}
	cert.IsActive = false
	s.certs[certificateID] = cert
	s.appendHistory(certificateID, models.ActionDeactivate, requestcontext.Now(ctx), performedBy, nil)
	return nil
}

func (s *InMemoryStore) UpdateDates(ctx context.Context, certificateID string, validFrom, validTo time.Time, performedBy string) (models.Certificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cert, ok := s.certs[certificateID]
	if !ok {
		return models.Certificate{}, fmt.Errorf("certificate %s: %w", certificateID, sentinel.ErrNotFound)
	}
	before := cert
	cert.ValidFrom = models.DateOnly(validFrom)
	cert.ValidTo = models.DateOnly(validTo)
	s.certs[certificateID] = cert
	s.appendHistory(certificateID, models.ActionUpdate, requestcontext.Now(ctx), performedBy, models.UpdateDetails(before, cert))
	return cert, nil
}

func (s *InMemoryStore) RecordVerification(ctx context.Context, certificateID, performedBy string, details map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.certs[certificateID]; !ok {
		return fmt.Errorf("certificate %s: %w", certificateID, sentinel.ErrNotFound)
	}
	s.appendHistory(certificateID, models.ActionVerify, requestcontext.Now(ctx), performedBy, details)
	return nil
}

func (s *InMemoryStore) History(_ context.Context, certificateID string) ([]models.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.HistoryEntry
	for _, entry := range s.history {
		if entry.CertificateID == certificateID {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (s *InMemoryStore) PurgeHistoryOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.history[:0]
	var removed int64
	for _, entry := range s.history {
		if entry.PerformedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, entry)
	}
	s.history = kept
	return removed, nil
}

func (s *InMemoryStore) Stats(_ context.Context, now time.Time) (models.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	today := models.DateOnly(now)
	monthStart := time.Date(now.Year(), now.Month()-11, 1, 0, 0, 0, 0, time.UTC)
	domains := make(map[string]struct{})
	byMonth := make(map[string]int)
	var stats models.Stats
	var totalUsers int

	for _, cert := range s.certs {
		stats.Total++
		totalUsers += cert.UsersCount
		domains[strings.ToLower(cert.Domain)] = struct{}{}
		if cert.IsActive {
			stats.Active++
		}
		if models.DateOnly(cert.ValidTo).Before(today) {
			stats.Expired++
		}
		if !cert.CreatedAt.Before(monthStart) {
			byMonth[cert.CreatedAt.UTC().Format("2006-01")]++
		}
	}

	stats.DomainsCount = len(domains)
	if stats.Total > 0 {
		stats.AvgUsers = float64(totalUsers) / float64(stats.Total)
	}
	months := make([]string, 0, len(byMonth))
	for month := range byMonth {
		months = append(months, month)
	}
	sort.Strings(months)
	for _, month := range months {
		stats.ByMonth = append(stats.ByMonth, models.MonthCount{Month: month, Issued: byMonth[month]})
	}
	return stats, nil
}

// appendHistory must be called with the write lock held.
func (s *InMemoryStore) appendHistory(certificateID string, action models.HistoryAction, at time.Time, by string, details map[string]any) {
	s.history = append(s.history, models.HistoryEntry{
		ID:            uuid.New(),
		CertificateID: certificateID,
		Action:        action,
		PerformedAt:   at,
		PerformedBy:   by,
		Details:       details,
	})
}

func sortNewestFirst(certs []models.Certificate) {
	sort.Slice(certs, func(i, j int) bool {
		if !certs[i].CreatedAt.Equal(certs[j].CreatedAt) {
			return certs[i].CreatedAt.After(certs[j].CreatedAt)
		}
		return certs[i].CertificateID < certs[j].CertificateID
	})
}

func sortOldestFirst(certs []models.Certificate) {
	sort.Slice(certs, func(i, j int) bool {
		if !certs[i].CreatedAt.Equal(certs[j].CreatedAt) {
			return certs[i].CreatedAt.Before(certs[j].CreatedAt)
		}
		return certs[i].CertificateID < certs[j].CertificateID
	})
}

// Package mirror maintains the JSON artifact tree shadowing issued
// certificates on disk. The database is the source of truth; artifacts are
// written best-effort after commit and a resync can always rebuild the
// tree from scratch.
package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"certmint/internal/certificate/models"
	strutil "certmint/pkg/platform/strings"
	"certmint/pkg/requestcontext"
)

// resyncParallelism bounds concurrent artifact writes during a rebuild.
const resyncParallelism = 8

// Mirror writes one JSON artifact per certificate under
// <root>/<issue year>/<domain>_<certificate id>.json.
type Mirror struct {
	root   string
	queue  RepairQueue
	logger *slog.Logger
}

// New constructs a mirror rooted at the given directory.
func New(root string, queue RepairQueue, logger *slog.Logger) *Mirror {
	return &Mirror{root: root, queue: queue, logger: logger}
}

// artifact is the JSON document written per certificate. The struct fixes
// field order so a resync over identical store state reproduces files
// byte for byte.
type artifact struct {
	CertificateID string `json:"certificate_id"`
	Domain        string `json:"domain"`
	TaxID         string `json:"tax_id"`
	ValidFrom     string `json:"valid_from"`
	ValidTo       string `json:"valid_to"`
	UsersCount    int    `json:"users_count"`
	CreatedAt     string `json:"created_at"`
	CreatedBy     string `json:"created_by"`
	IsActive      bool   `json:"is_active"`
	Status        string `json:"status"`
	DaysLeft      int    `json:"days_left"`
}

// Path returns where cert's artifact lives. A wildcard prefix becomes
// "wildcard." so the filename stays portable across filesystems.
func (m *Mirror) Path(cert models.Certificate) string {
	domain := cert.Domain
	if rest, ok := strings.CutPrefix(domain, "*."); ok {
		domain = "wildcard." + rest
	}
	year := strconv.Itoa(cert.CreatedAt.UTC().Year())
	return filepath.Join(m.root, year, domain+"_"+cert.CertificateID+".json")
}

// Write renders cert's artifact. On failure the certificate is queued for
// the next resync and the error returned; callers treat the write as
// best-effort once the database commit has happened.
func (m *Mirror) Write(ctx context.Context, cert models.Certificate) error {
	if err := m.render(ctx, cert); err != nil {
		if qErr := m.queue.Push(ctx, cert.CertificateID); qErr != nil {
			m.logger.ErrorContext(ctx, "mirror repair enqueue failed",
				"certificate_id", cert.CertificateID, "error", qErr)
		}
		return fmt.Errorf("write mirror artifact: %w", err)
	}
	return nil
}

func (m *Mirror) render(ctx context.Context, cert models.Certificate) error {
	now := requestcontext.Now(ctx)
	doc := artifact{
		CertificateID: cert.CertificateID,
		Domain:        cert.Domain,
		TaxID:         cert.TaxID,
		ValidFrom:     models.DateOnly(cert.ValidFrom).Format(time.DateOnly),
		ValidTo:       models.DateOnly(cert.ValidTo).Format(time.DateOnly),
		UsersCount:    cert.UsersCount,
		CreatedAt:     cert.CreatedAt.UTC().Format(time.RFC3339),
		CreatedBy:     cert.CreatedBy,
		IsActive:      cert.IsActive,
		Status:        string(cert.StatusAt(now)),
		DaysLeft:      cert.DaysLeft(now),
	}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal artifact: %w", err)
	}
	path := m.Path(cert)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create year directory: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write artifact file: %w", err)
	}
	return nil
}

// ResyncResult reports what a resync changed.
type ResyncResult struct {
	Written  int
	Removed  int
	Repaired []string
}

// Resync rebuilds every artifact from the given certificates, removes
// files no certificate claims and drains the repair queue, since a full
// rebuild covers every queued repair.
func (m *Mirror) Resync(ctx context.Context, certs []models.Certificate) (ResyncResult, error) {
	var result ResyncResult

	expected := make(map[string]struct{}, len(certs))
	for _, cert := range certs {
		expected[m.Path(cert)] = struct{}{}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(resyncParallelism)
	var written atomic.Int64
	for _, cert := range certs {
		g.Go(func() error {
			if err := m.render(gctx, cert); err != nil {
				return fmt.Errorf("rebuild %s: %w", cert.CertificateID, err)
			}
			written.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		result.Written = int(written.Load())
		return result, err
	}
	result.Written = int(written.Load())

	removed, err := m.removeOrphans(expected)
	result.Removed = removed
	if err != nil {
		return result, err
	}

	repaired, err := m.queue.Drain(ctx)
	if err != nil {
		return result, fmt.Errorf("drain repair queue: %w", err)
	}
	// A certificate queues once per failed write, so the drain can repeat.
	result.Repaired = strutil.DedupeAndTrim(repaired)
	return result, nil
}

func (m *Mirror) removeOrphans(expected map[string]struct{}) (int, error) {
	years, err := os.ReadDir(m.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read mirror root: %w", err)
	}
	removed := 0
	for _, year := range years {
		if !year.IsDir() || !isYearDir(year.Name()) {
			continue
		}
		dir := filepath.Join(m.root, year.Name())
		files, err := os.ReadDir(dir)
		if err != nil {
			return removed, fmt.Errorf("read year directory: %w", err)
		}
		for _, file := range files {
			if file.IsDir() || !strings.HasSuffix(file.Name(), ".json") {
				continue
			}
			path := filepath.Join(dir, file.Name())
			if _, ok := expected[path]; ok {
				continue
			}
			if err := os.Remove(path); err != nil {
				return removed, fmt.Errorf("remove orphan artifact: %w", err)
			}
			removed++
		}
	}
	return removed, nil
}

// Stats describes the artifact tree.
type Stats struct {
	Files      int
	TotalBytes int64
	Years      []string
}

// Stats walks the tree and counts artifacts per year directory.
func (m *Mirror) Stats() (Stats, error) {
	var stats Stats
	years, err := os.ReadDir(m.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return stats, nil
		}
		return stats, fmt.Errorf("read mirror root: %w", err)
	}
	for _, year := range years {
		if !year.IsDir() || !isYearDir(year.Name()) {
			continue
		}
		stats.Years = append(stats.Years, year.Name())
		files, err := os.ReadDir(filepath.Join(m.root, year.Name()))
		if err != nil {
			return stats, fmt.Errorf("read year directory: %w", err)
		}
		for _, file := range files {
			if file.IsDir() || !strings.HasSuffix(file.Name(), ".json") {
				continue
			}
			info, err := file.Info()
			if err != nil {
				return stats, fmt.Errorf("stat artifact: %w", err)
			}
			stats.Files++
			stats.TotalBytes += info.Size()
		}
	}
	sort.Strings(stats.Years)
	return stats, nil
}

func isYearDir(name string) bool {
	if len(name) != 4 {
		return false
	}
	for _, r := range name {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

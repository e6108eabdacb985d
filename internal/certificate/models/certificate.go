package models

import (
	"time"

	"github.com/google/uuid"
)

// Status derives from comparing a reference date against the validity window.
type Status string

const (
	StatusNotYetValid Status = "not_yet_valid"
	StatusValid       Status = "valid"
	StatusExpired     Status = "expired"
)

// Certificate is the primary entity: an issued entitlement binding a domain,
// tax-id, validity window, and user capacity to a unique identifier.
//
// RecordID is the surrogate key; CertificateID is the 23-character
// human-facing identifier and is immutable once issued. IsActive flips only
// through an explicit deactivate; certificates are never hard-deleted.
type Certificate struct {
	RecordID      uuid.UUID
	CertificateID string
	Domain        string
	TaxID         string
	ValidFrom     time.Time
	ValidTo       time.Time
	UsersCount    int
	CreatedAt     time.Time
	CreatedBy     string
	IsActive      bool
}

// StatusAt computes the certificate status for a reference time. Validity is
// date-granular and inclusive on both ends of the window.
func (c Certificate) StatusAt(now time.Time) Status {
	today := DateOnly(now)
	switch {
	case today.Before(DateOnly(c.ValidFrom)):
		return StatusNotYetValid
	case today.After(DateOnly(c.ValidTo)):
		return StatusExpired
	default:
		return StatusValid
	}
}

// DaysLeft returns whole days until expiry, floored at zero.
func (c Certificate) DaysLeft(now time.Time) int {
	days := int(DateOnly(c.ValidTo).Sub(DateOnly(now)).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

// IsExpired reports whether the validity window has passed.
func (c Certificate) IsExpired(now time.Time) bool {
	return c.StatusAt(now) == StatusExpired
}

// DateOnly truncates a timestamp to its UTC calendar date. Validity fields
// are dates, not instants; all window comparisons go through this.
func DateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Verification is the result of verifying an identifier: the certificate
// plus its derived status for the request time.
type Verification struct {
	Certificate Certificate
	Status      Status
	DaysLeft    int
}

// MonthCount is one month's issuance volume, keyed YYYY-MM.
type MonthCount struct {
	Month  string
	Issued int
}

// Stats is the on-demand aggregate over all certificates.
type Stats struct {
	Total        int
	Active       int
	Expired      int
	DomainsCount int
	AvgUsers     float64
	ByMonth      []MonthCount
}

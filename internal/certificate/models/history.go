package models

import (
	"time"

	"github.com/google/uuid"
)

// HistoryAction labels one entry in the append-only audit trail.
type HistoryAction string

const (
	ActionCreate     HistoryAction = "CREATE"
	ActionUpdate     HistoryAction = "UPDATE"
	ActionDelete     HistoryAction = "DELETE"
	ActionVerify     HistoryAction = "VERIFY"
	ActionDeactivate HistoryAction = "DEACTIVATE"
)

// HistoryEntry is an immutable audit record of one action taken against a
// certificate. Entries reference the certificate by identifier only, so the
// trail survives a certificate regardless of its lifecycle.
type HistoryEntry struct {
	ID            uuid.UUID
	CertificateID string
	Action        HistoryAction
	PerformedAt   time.Time
	PerformedBy   string
	Details       map[string]any
}

// CreateDetails builds the field snapshot recorded with a CREATE entry.
func CreateDetails(cert Certificate) map[string]any {
	return map[string]any{
		"domain":      cert.Domain,
		"tax_id":      cert.TaxID,
		"valid_from":  DateOnly(cert.ValidFrom).Format(time.DateOnly),
		"valid_to":    DateOnly(cert.ValidTo).Format(time.DateOnly),
		"users_count": cert.UsersCount,
	}
}

// UpdateDetails builds the before/after snapshot recorded with an UPDATE
// entry when the validity window is amended.
func UpdateDetails(before, after Certificate) map[string]any {
	return map[string]any{
		"before": map[string]any{
			"valid_from": DateOnly(before.ValidFrom).Format(time.DateOnly),
			"valid_to":   DateOnly(before.ValidTo).Format(time.DateOnly),
		},
		"after": map[string]any{
			"valid_from": DateOnly(after.ValidFrom).Format(time.DateOnly),
			"valid_to":   DateOnly(after.ValidTo).Format(time.DateOnly),
		},
	}
}

// VerifyDetails builds the client-metadata payload recorded with a VERIFY
// entry. Empty fields are dropped so the JSONB stays compact.
func VerifyDetails(clientIP, platform string) map[string]any {
	details := map[string]any{}
	if clientIP != "" {
		details["client_ip"] = clientIP
	}
	if platform != "" {
		details["platform"] = platform
	}
	if len(details) == 0 {
		return nil
	}
	return details
}

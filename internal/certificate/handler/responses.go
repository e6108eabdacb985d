package handler

import (
	"time"

	"certmint/internal/certificate/models"
	"certmint/internal/mirror"
)

// CertificateResponse is the wire shape of an issued certificate.
type CertificateResponse struct {
	CertificateID string    `json:"certificateId"`
	Domain        string    `json:"domain"`
	TaxID         string    `json:"taxId"`
	ValidFrom     string    `json:"validFrom"`
	ValidTo       string    `json:"validTo"`
	UsersCount    int       `json:"usersCount"`
	CreatedAt     time.Time `json:"createdAt"`
	CreatedBy     string    `json:"createdBy"`
	IsActive      bool      `json:"isActive"`
}

// FromCertificate converts a domain certificate to its HTTP response.
// Validity bounds render as calendar dates; they are date-granular in the
// domain as well.
func FromCertificate(cert models.Certificate) CertificateResponse {
	return CertificateResponse{
		CertificateID: cert.CertificateID,
		Domain:        cert.Domain,
		TaxID:         cert.TaxID,
		ValidFrom:     models.DateOnly(cert.ValidFrom).Format(time.DateOnly),
		ValidTo:       models.DateOnly(cert.ValidTo).Format(time.DateOnly),
		UsersCount:    cert.UsersCount,
		CreatedAt:     cert.CreatedAt,
		CreatedBy:     cert.CreatedBy,
		IsActive:      cert.IsActive,
	}
}

// VerificationResponse is the HTTP response for
// POST /certificates/{certificateID}/verify.
type VerificationResponse struct {
	Certificate CertificateResponse `json:"certificate"`
	Status      string              `json:"status"`
	DaysLeft    int                 `json:"daysLeft"`
}

// FromVerification converts a verification result to its HTTP response.
func FromVerification(v models.Verification) VerificationResponse {
	return VerificationResponse{
		Certificate: FromCertificate(v.Certificate),
		Status:      string(v.Status),
		DaysLeft:    v.DaysLeft,
	}
}

// CertificateListResponse wraps search results.
type CertificateListResponse struct {
	Certificates []CertificateResponse `json:"certificates"`
	Total        int                   `json:"total"`
}

// FromCertificates converts a result list to its HTTP response.
func FromCertificates(certs []models.Certificate) CertificateListResponse {
	out := CertificateListResponse{Certificates: make([]CertificateResponse, 0, len(certs))}
	for _, cert := range certs {
		out.Certificates = append(out.Certificates, FromCertificate(cert))
	}
	out.Total = len(out.Certificates)
	return out
}

// HistoryEntryResponse is one audit-trail record on the wire.
type HistoryEntryResponse struct {
	Action      string         `json:"action"`
	PerformedAt time.Time      `json:"performedAt"`
	PerformedBy string         `json:"performedBy"`
	Details     map[string]any `json:"details,omitempty"`
}

// HistoryResponse wraps a certificate's audit trail, oldest entry first.
type HistoryResponse struct {
	CertificateID string                 `json:"certificateId"`
	History       []HistoryEntryResponse `json:"history"`
}

// FromHistory converts an audit trail to its HTTP response. The trail's own
// records carry the canonical identifier; the caller-supplied one is only a
// fallback for an empty trail.
func FromHistory(certificateID string, entries []models.HistoryEntry) HistoryResponse {
	if len(entries) > 0 {
		certificateID = entries[0].CertificateID
	}
	out := HistoryResponse{
		CertificateID: certificateID,
		History:       make([]HistoryEntryResponse, 0, len(entries)),
	}
	for _, e := range entries {
		out.History = append(out.History, HistoryEntryResponse{
			Action:      string(e.Action),
			PerformedAt: e.PerformedAt,
			PerformedBy: e.PerformedBy,
			Details:     e.Details,
		})
	}
	return out
}

// MonthCountResponse is one month's issuance volume, keyed YYYY-MM.
type MonthCountResponse struct {
	Month  string `json:"month"`
	Issued int    `json:"issued"`
}

// StatsResponse is the HTTP response for GET /stats.
type StatsResponse struct {
	Total        int                  `json:"total"`
	Active       int                  `json:"active"`
	Expired      int                  `json:"expired"`
	DomainsCount int                  `json:"domainsCount"`
	AvgUsers     float64              `json:"avgUsers"`
	ByMonth      []MonthCountResponse `json:"byMonth"`
}

// FromStats converts the aggregate to its HTTP response.
func FromStats(stats models.Stats) StatsResponse {
	out := StatsResponse{
		Total:        stats.Total,
		Active:       stats.Active,
		Expired:      stats.Expired,
		DomainsCount: stats.DomainsCount,
		AvgUsers:     stats.AvgUsers,
		ByMonth:      make([]MonthCountResponse, 0, len(stats.ByMonth)),
	}
	for _, m := range stats.ByMonth {
		out.ByMonth = append(out.ByMonth, MonthCountResponse{Month: m.Month, Issued: m.Issued})
	}
	return out
}

// ResyncResponse reports the artifact reconciliation outcome.
type ResyncResponse struct {
	Written  int      `json:"written"`
	Removed  int      `json:"removed"`
	Repaired []string `json:"repaired,omitempty"`
}

// FromResync converts a mirror resync result to its HTTP response.
func FromResync(res mirror.ResyncResult) ResyncResponse {
	return ResyncResponse{Written: res.Written, Removed: res.Removed, Repaired: res.Repaired}
}

// PurgeHistoryResponse reports how many audit entries retention removed.
type PurgeHistoryResponse struct {
	Purged int64 `json:"purged"`
}

// ViolationResponse is one field-level rule failure on the wire.
type ViolationResponse struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// validationErrorResponse is the 422 payload: the standard error envelope
// plus the full violation list.
type validationErrorResponse struct {
	Error            string              `json:"error"`
	ErrorDescription string              `json:"error_description,omitempty"`
	Violations       []ViolationResponse `json:"violations"`
}

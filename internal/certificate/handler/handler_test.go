package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"log/slog"

	"github.com/go-chi/chi/v5"

	"certmint/internal/certificate/generator"
	"certmint/internal/certificate/service"
	"certmint/internal/certificate/store"
	"certmint/internal/certificate/validator"
	"certmint/internal/credentials"
	"certmint/internal/mirror"
	"certmint/internal/platform/middleware"
	"certmint/pkg/platform/tx"
	"certmint/pkg/requestcontext"
)

const signingKey = "test-signing-key"

func TestAuthRequired(t *testing.T) {
	router, _ := newCertificateRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/certificates", bytes.NewReader([]byte(`{}`)))
	// No Authorization or X-API-Key header set
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d", rec.Code)
	}
}

func TestVerifyRoleIsLimitedToVerification(t *testing.T) {
	router, verifier := newCertificateRouter(t)
	adminToken := mintToken(t, verifier, "ops-admin", requestcontext.RoleAdmin)
	verifyToken := mintToken(t, verifier, "scanner", requestcontext.RoleVerify)

	created := createCertificate(t, router, adminToken, map[string]any{
		"domain":     "gated.example.com",
		"taxId":      "7707083893",
		"validFrom":  dateOffset(0),
		"validTo":    dateOffset(180),
		"usersCount": 25,
	})

	// The verify role may verify
	req := httptest.NewRequest(http.MethodPost, "/certificates/"+created+"/verify", nil)
	req.Header.Set("Authorization", "Bearer "+verifyToken)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 verifying with verify role, got %d: %s", rec.Code, rec.Body.String())
	}

	// but not create
	body, _ := json.Marshal(map[string]any{
		"domain":     "blocked.example.com",
		"taxId":      "7707083893",
		"validFrom":  dateOffset(0),
		"validTo":    dateOffset(180),
		"usersCount": 25,
	})
	req = httptest.NewRequest(http.MethodPost, "/certificates", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+verifyToken)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 creating with verify role, got %d", rec.Code)
	}

	// nor read stats
	req = httptest.NewRequest(http.MethodGet, "/stats", nil)
	req.Header.Set("Authorization", "Bearer "+verifyToken)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 reading stats with verify role, got %d", rec.Code)
	}
}

func TestCertificateLifecycleViaHandlers(t *testing.T) {
	router, verifier := newCertificateRouter(t)
	token := mintToken(t, verifier, "ops-admin", requestcontext.RoleAdmin)

	body, _ := json.Marshal(map[string]any{
		"domain":     "Lifecycle.Example.COM",
		"taxId":      "500100732259",
		"validFrom":  dateOffset(0),
		"validTo":    dateOffset(365),
		"usersCount": 150,
	})
	req := httptest.NewRequest(http.MethodPost, "/certificates", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 creating certificate, got %d: %s", rec.Code, rec.Body.String())
	}

	var created struct {
		CertificateID string `json:"certificateId"`
		Domain        string `json:"domain"`
		CreatedBy     string `json:"createdBy"`
		IsActive      bool   `json:"isActive"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("failed to decode create response: %v", err)
	}
	if len(created.CertificateID) != 23 {
		t.Fatalf("expected 23-char certificateId, got %q", created.CertificateID)
	}
	if created.Domain != "lifecycle.example.com" {
		t.Fatalf("expected lowercased domain, got %q", created.Domain)
	}
	if created.CreatedBy != "ops-admin" {
		t.Fatalf("expected createdBy from the token subject, got %q", created.CreatedBy)
	}
	if !created.IsActive {
		t.Fatalf("expected new certificate to be active")
	}

	// Verify
	req = httptest.NewRequest(http.MethodPost, "/certificates/"+created.CertificateID+"/verify", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 verifying, got %d: %s", rec.Code, rec.Body.String())
	}
	var verified struct {
		Status   string `json:"status"`
		DaysLeft int    `json:"daysLeft"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&verified); err != nil {
		t.Fatalf("failed to decode verify response: %v", err)
	}
	if verified.Status != "valid" {
		t.Fatalf("expected status valid, got %q", verified.Status)
	}
	if verified.DaysLeft <= 0 {
		t.Fatalf("expected positive daysLeft, got %d", verified.DaysLeft)
	}

	// Fetch
	req = httptest.NewRequest(http.MethodGet, "/certificates/"+created.CertificateID, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 fetching, got %d", rec.Code)
	}

	// History carries the issue and the verification, oldest first
	req = httptest.NewRequest(http.MethodGet, "/certificates/"+created.CertificateID+"/history", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 fetching history, got %d", rec.Code)
	}
	var trail struct {
		CertificateID string `json:"certificateId"`
		History       []struct {
			Action      string `json:"action"`
			PerformedBy string `json:"performedBy"`
		} `json:"history"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&trail); err != nil {
		t.Fatalf("failed to decode history response: %v", err)
	}
	if trail.CertificateID != created.CertificateID {
		t.Fatalf("expected history for %s, got %s", created.CertificateID, trail.CertificateID)
	}
	if len(trail.History) != 2 || trail.History[0].Action != "CREATE" || trail.History[1].Action != "VERIFY" {
		t.Fatalf("expected CREATE then VERIFY entries, got %+v", trail.History)
	}
	if trail.History[0].PerformedBy != "ops-admin" {
		t.Fatalf("expected audit actor ops-admin, got %q", trail.History[0].PerformedBy)
	}

	// Deactivate
	req = httptest.NewRequest(http.MethodPost, "/certificates/"+created.CertificateID+"/deactivate", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 deactivating, got %d: %s", rec.Code, rec.Body.String())
	}
	var deactivated struct {
		IsActive bool `json:"isActive"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&deactivated); err != nil {
		t.Fatalf("failed to decode deactivate response: %v", err)
	}
	if deactivated.IsActive {
		t.Fatalf("expected certificate to be inactive after deactivation")
	}

	// Deactivating again conflicts
	req = httptest.NewRequest(http.MethodPost, "/certificates/"+created.CertificateID+"/deactivate", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on second deactivation, got %d", rec.Code)
	}
}

func TestCreateValidationFailureListsViolations(t *testing.T) {
	router, verifier := newCertificateRouter(t)
	token := mintToken(t, verifier, "ops-admin", requestcontext.RoleAdmin)

	body, _ := json.Marshal(map[string]any{
		"domain":     "",
		"taxId":      "12",
		"usersCount": 0,
	})
	req := httptest.NewRequest(http.MethodPost, "/certificates", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for invalid request, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Error      string `json:"error"`
		Violations []struct {
			Field   string `json:"field"`
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"violations"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode validation response: %v", err)
	}
	if resp.Error != "validation_failed" {
		t.Fatalf("expected validation_failed error code, got %q", resp.Error)
	}
	// domain, taxId, validFrom, validTo, usersCount all fail at once
	if len(resp.Violations) < 5 {
		t.Fatalf("expected the full violation list, got %+v", resp.Violations)
	}
	for _, v := range resp.Violations {
		if v.Field == "" || v.Code == "" || v.Message == "" {
			t.Fatalf("violation should carry field, code, and message: %+v", v)
		}
	}
}

func TestCreateDuplicateActiveDomainConflicts(t *testing.T) {
	router, verifier := newCertificateRouter(t)
	token := mintToken(t, verifier, "ops-admin", requestcontext.RoleAdmin)

	payload := map[string]any{
		"domain":     "dup.example.com",
		"taxId":      "7707083893",
		"validFrom":  dateOffset(0),
		"validTo":    dateOffset(90),
		"usersCount": 10,
	}
	createCertificate(t, router, token, payload)

	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/certificates", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate active domain, got %d", rec.Code)
	}
	var resp struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode conflict response: %v", err)
	}
	if resp.Error != "conflict" {
		t.Fatalf("expected conflict error code, got %q", resp.Error)
	}
}

func TestCreateRejectsUnparseableDate(t *testing.T) {
	router, verifier := newCertificateRouter(t)
	token := mintToken(t, verifier, "ops-admin", requestcontext.RoleAdmin)

	body, _ := json.Marshal(map[string]any{
		"domain":     "baddate.example.com",
		"taxId":      "7707083893",
		"validFrom":  "06/15/2024",
		"validTo":    dateOffset(90),
		"usersCount": 10,
	})
	req := httptest.NewRequest(http.MethodPost, "/certificates", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unparseable date, got %d", rec.Code)
	}
	var resp struct {
		ErrorDescription string `json:"error_description"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.ErrorDescription != "validFrom must be a YYYY-MM-DD date" {
		t.Fatalf("unexpected description %q", resp.ErrorDescription)
	}
}

func TestSearchEndpoint(t *testing.T) {
	router, verifier := newCertificateRouter(t)
	token := mintToken(t, verifier, "ops-admin", requestcontext.RoleAdmin)

	for _, domain := range []string{"alpha.example.com", "beta.example.com", "other.net"} {
		createCertificate(t, router, token, map[string]any{
			"domain":     domain,
			"taxId":      "1234567894",
			"validFrom":  dateOffset(0),
			"validTo":    dateOffset(90),
			"usersCount": 10,
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/certificates?domain=example", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 searching by domain, got %d", rec.Code)
	}
	var byDomain struct {
		Total int `json:"total"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&byDomain); err != nil {
		t.Fatalf("failed to decode search response: %v", err)
	}
	if byDomain.Total != 2 {
		t.Fatalf("expected 2 matches for example substring, got %d", byDomain.Total)
	}

	req = httptest.NewRequest(http.MethodGet, "/certificates?taxId=1234567894", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	var byTaxID struct {
		Total int `json:"total"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&byTaxID); err != nil {
		t.Fatalf("failed to decode search response: %v", err)
	}
	if byTaxID.Total != 3 {
		t.Fatalf("expected 3 matches for exact tax-id, got %d", byTaxID.Total)
	}

	// Exactly one criterion is required
	req = httptest.NewRequest(http.MethodGet, "/certificates?domain=a&taxId=1234567894", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 with both criteria, got %d", rec.Code)
	}
	req = httptest.NewRequest(http.MethodGet, "/certificates", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 with no criterion, got %d", rec.Code)
	}
}

func TestUpdateDatesEndpoint(t *testing.T) {
	router, verifier := newCertificateRouter(t)
	token := mintToken(t, verifier, "ops-admin", requestcontext.RoleAdmin)

	id := createCertificate(t, router, token, map[string]any{
		"domain":     "amend.example.com",
		"taxId":      "7707083893",
		"validFrom":  dateOffset(0),
		"validTo":    dateOffset(90),
		"usersCount": 10,
	})

	newTo := dateOffset(365)
	body, _ := json.Marshal(map[string]string{
		"validFrom": dateOffset(0),
		"validTo":   newTo,
	})
	req := httptest.NewRequest(http.MethodPatch, "/certificates/"+id+"/dates", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 amending dates, got %d: %s", rec.Code, rec.Body.String())
	}
	var amended struct {
		CertificateID string `json:"certificateId"`
		ValidTo       string `json:"validTo"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&amended); err != nil {
		t.Fatalf("failed to decode amend response: %v", err)
	}
	if amended.ValidTo != newTo {
		t.Fatalf("expected validTo %s, got %s", newTo, amended.ValidTo)
	}
	if amended.CertificateID != id {
		t.Fatalf("identifier must never change on amendment")
	}

	// Reversed window fails validation
	body, _ = json.Marshal(map[string]string{
		"validFrom": dateOffset(30),
		"validTo":   dateOffset(0),
	})
	req = httptest.NewRequest(http.MethodPatch, "/certificates/"+id+"/dates", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for reversed window, got %d", rec.Code)
	}
}

func TestLookupErrorStatuses(t *testing.T) {
	router, verifier := newCertificateRouter(t)
	token := mintToken(t, verifier, "ops-admin", requestcontext.RoleAdmin)

	req := httptest.NewRequest(http.MethodGet, "/certificates/AAAAA-BBBBB-CCCCC-D0130", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown identifier, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/certificates/not-a-certificate-id-00", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed identifier, got %d", rec.Code)
	}
	var resp struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Error != "malformed_identifier" {
		t.Fatalf("expected malformed_identifier, got %q", resp.Error)
	}
}

func TestStatsEndpoint(t *testing.T) {
	router, verifier := newCertificateRouter(t)
	token := mintToken(t, verifier, "ops-admin", requestcontext.RoleAdmin)

	createCertificate(t, router, token, map[string]any{
		"domain":     "stats.example.com",
		"taxId":      "7707083893",
		"validFrom":  dateOffset(0),
		"validTo":    dateOffset(90),
		"usersCount": 40,
	})

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 fetching stats, got %d", rec.Code)
	}

	var stats struct {
		Total    int     `json:"total"`
		Active   int     `json:"active"`
		AvgUsers float64 `json:"avgUsers"`
		ByMonth  []struct {
			Month  string `json:"month"`
			Issued int    `json:"issued"`
		} `json:"byMonth"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatalf("failed to decode stats response: %v", err)
	}
	if stats.Total != 1 || stats.Active != 1 {
		t.Fatalf("expected one active certificate in stats, got %+v", stats)
	}
	if stats.AvgUsers != 40 {
		t.Fatalf("expected avgUsers 40, got %f", stats.AvgUsers)
	}
	if len(stats.ByMonth) != 1 || stats.ByMonth[0].Issued != 1 {
		t.Fatalf("expected a single issuance month, got %+v", stats.ByMonth)
	}
}

func TestAdminMaintenanceEndpoints(t *testing.T) {
	router, verifier := newCertificateRouter(t)
	token := mintToken(t, verifier, "ops-admin", requestcontext.RoleAdmin)

	createCertificate(t, router, token, map[string]any{
		"domain":     "maint.example.com",
		"taxId":      "7707083893",
		"validFrom":  dateOffset(0),
		"validTo":    dateOffset(90),
		"usersCount": 10,
	})

	// Resync rebuilds the artifact directory
	req := httptest.NewRequest(http.MethodPost, "/admin/resync", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 resyncing, got %d: %s", rec.Code, rec.Body.String())
	}
	var resync struct {
		Written int `json:"written"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resync); err != nil {
		t.Fatalf("failed to decode resync response: %v", err)
	}
	if resync.Written != 1 {
		t.Fatalf("expected 1 artifact written, got %d", resync.Written)
	}

	// Purge with a generous retention removes nothing yet
	req = httptest.NewRequest(http.MethodPost, "/admin/history/purge?retention=2160h", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 purging, got %d: %s", rec.Code, rec.Body.String())
	}
	var purge struct {
		Purged int64 `json:"purged"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&purge); err != nil {
		t.Fatalf("failed to decode purge response: %v", err)
	}
	if purge.Purged != 0 {
		t.Fatalf("expected no entries purged for fresh history, got %d", purge.Purged)
	}

	// Retention is mandatory
	req = httptest.NewRequest(http.MethodPost, "/admin/history/purge", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without retention, got %d", rec.Code)
	}
}

func createCertificate(t *testing.T, router http.Handler, token string, payload map[string]any) string {
	t.Helper()
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/certificates", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 creating certificate, got %d: %s", rec.Code, rec.Body.String())
	}

	var created struct {
		CertificateID string `json:"certificateId"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("failed to decode create response: %v", err)
	}
	return created.CertificateID
}

func mintToken(t *testing.T, verifier *credentials.Verifier, subject, role string) string {
	t.Helper()
	token, err := verifier.MintToken(subject, role, time.Hour)
	if err != nil {
		t.Fatalf("failed to mint token: %v", err)
	}
	return token
}

func dateOffset(days int) string {
	return time.Now().UTC().AddDate(0, 0, days).Format(time.DateOnly)
}

func newCertificateRouter(t *testing.T) (http.Handler, *credentials.Verifier) {
	t.Helper()
	st := store.NewInMemory()
	artifacts := mirror.New(t.TempDir(), mirror.NewInMemoryQueue(), slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	svc := service.New(st, generator.New(st), validator.New(validator.Policy{}), tx.Passthrough{},
		service.WithArtifacts(artifacts),
		service.WithLogger(logger),
	)
	verifier := credentials.NewVerifier(signingKey, nil)

	h := New(svc, logger)
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Authenticate(verifier, logger))
	h.Register(r)
	return r, verifier
}

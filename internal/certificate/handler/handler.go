// Package handler exposes the certificate issuance service over HTTP.
package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"log/slog"

	"github.com/go-chi/chi/v5"

	"certmint/internal/certificate/models"
	"certmint/internal/mirror"
	"certmint/internal/platform/middleware"
	dErrors "certmint/pkg/domain-errors"
	"certmint/pkg/platform/httputil"
	"certmint/pkg/requestcontext"
)

// Service defines the interface for certificate operations.
type Service interface {
	Create(ctx context.Context, req models.CreateRequest) (models.Certificate, error)
	Get(ctx context.Context, certificateID string) (models.Certificate, error)
	Verify(ctx context.Context, certificateID string) (models.Verification, error)
	SearchByDomain(ctx context.Context, pattern string, activeOnly bool) ([]models.Certificate, error)
	SearchByTaxID(ctx context.Context, taxID string, activeOnly bool) ([]models.Certificate, error)
	Deactivate(ctx context.Context, certificateID string) (models.Certificate, error)
	UpdateDates(ctx context.Context, certificateID string, validFrom, validTo time.Time) (models.Certificate, error)
	History(ctx context.Context, certificateID string) ([]models.HistoryEntry, error)
	Stats(ctx context.Context) (models.Stats, error)
	Resync(ctx context.Context) (mirror.ResyncResult, error)
	PurgeHistory(ctx context.Context, retention time.Duration) (int64, error)
}

// Handler wires certificate endpoints to the issuance service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs a certificate handler with its dependencies.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// Register mounts certificate endpoints on the router. Every route expects
// an authenticated principal from the router chain; all but verification
// demand the admin role.
func (h *Handler) Register(r chi.Router) {
	admin := middleware.RequireRole(requestcontext.RoleAdmin, h.logger)
	verify := middleware.RequireRole(requestcontext.RoleVerify, h.logger)

	r.Route("/certificates", func(cr chi.Router) {
		cr.With(admin).Post("/", h.HandleCreate)
		cr.With(admin).Get("/", h.HandleSearch)
		cr.With(admin).Get("/{certificateID}", h.HandleGet)
		cr.With(admin).Get("/{certificateID}/history", h.HandleHistory)
		cr.With(verify).Post("/{certificateID}/verify", h.HandleVerify)
		cr.With(admin).Post("/{certificateID}/deactivate", h.HandleDeactivate)
		cr.With(admin).Patch("/{certificateID}/dates", h.HandleUpdateDates)
	})

	r.With(admin).Get("/stats", h.HandleStats)

	r.Route("/admin", func(ar chi.Router) {
		ar.Use(admin)
		ar.Post("/resync", h.HandleResync)
		ar.Post("/history/purge", h.HandlePurgeHistory)
	})
}

// HandleCreate handles POST /certificates requests.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	req, ok := httputil.DecodeAndPrepare[CreateCertificateRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	cert, err := h.service.Create(ctx, req.ToModel())
	if err != nil {
		h.logger.ErrorContext(ctx, "certificate creation failed",
			"request_id", requestID,
			"domain", req.Domain,
			"error", err,
		)
		h.writeError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "certificate created",
		"request_id", requestID,
		"certificate_id", cert.CertificateID,
		"domain", cert.Domain,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusCreated, FromCertificate(cert))
}

// HandleGet handles GET /certificates/{certificateID} requests. A fetch is
// not a verification: no audit entry is written.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	cert, err := h.service.Get(r.Context(), chi.URLParam(r, "certificateID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromCertificate(cert))
}

// HandleVerify handles POST /certificates/{certificateID}/verify requests.
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	verification, err := h.service.Verify(ctx, chi.URLParam(r, "certificateID"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "certificate verified",
		"request_id", requestID,
		"certificate_id", verification.Certificate.CertificateID,
		"status", verification.Status,
	)
	httputil.WriteJSON(w, http.StatusOK, FromVerification(verification))
}

// HandleSearch handles GET /certificates requests. Exactly one of the
// domain and taxId query parameters selects the search mode; activeOnly
// narrows either to live certificates.
func (h *Handler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	domain := query.Get("domain")
	taxID := query.Get("taxId")
	if (domain == "") == (taxID == "") {
		h.writeError(w, dErrors.New(dErrors.CodeBadRequest, "exactly one of domain or taxId is required"))
		return
	}

	activeOnly := false
	if raw := query.Get("activeOnly"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			h.writeError(w, dErrors.New(dErrors.CodeBadRequest, "activeOnly must be a boolean"))
			return
		}
		activeOnly = parsed
	}

	var (
		certs []models.Certificate
		err   error
	)
	if domain != "" {
		certs, err = h.service.SearchByDomain(ctx, domain, activeOnly)
	} else {
		certs, err = h.service.SearchByTaxID(ctx, taxID, activeOnly)
	}
	if err != nil {
		h.writeError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, FromCertificates(certs))
}

// HandleDeactivate handles POST /certificates/{certificateID}/deactivate
// requests.
func (h *Handler) HandleDeactivate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	certificateID := chi.URLParam(r, "certificateID")

	cert, err := h.service.Deactivate(ctx, certificateID)
	if err != nil {
		h.logger.ErrorContext(ctx, "certificate deactivation failed",
			"request_id", requestID,
			"certificate_id", certificateID,
			"error", err,
		)
		h.writeError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "certificate deactivated",
		"request_id", requestID,
		"certificate_id", cert.CertificateID,
	)
	httputil.WriteJSON(w, http.StatusOK, FromCertificate(cert))
}

// HandleUpdateDates handles PATCH /certificates/{certificateID}/dates
// requests.
func (h *Handler) HandleUpdateDates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	certificateID := chi.URLParam(r, "certificateID")

	req, ok := httputil.DecodeAndPrepare[UpdateDatesRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	cert, err := h.service.UpdateDates(ctx, certificateID, req.ParsedValidFrom(), req.ParsedValidTo())
	if err != nil {
		h.logger.ErrorContext(ctx, "certificate date amendment failed",
			"request_id", requestID,
			"certificate_id", certificateID,
			"error", err,
		)
		h.writeError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "certificate dates updated",
		"request_id", requestID,
		"certificate_id", cert.CertificateID,
		"valid_from", req.ValidFrom,
		"valid_to", req.ValidTo,
	)
	httputil.WriteJSON(w, http.StatusOK, FromCertificate(cert))
}

// HandleHistory handles GET /certificates/{certificateID}/history requests.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	certificateID := chi.URLParam(r, "certificateID")

	entries, err := h.service.History(r.Context(), certificateID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromHistory(certificateID, entries))
}

// HandleStats handles GET /stats requests.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromStats(stats))
}

// HandleResync handles POST /admin/resync requests.
func (h *Handler) HandleResync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	result, err := h.service.Resync(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "artifact resync failed",
			"request_id", requestID,
			"error", err,
		)
		h.writeError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "artifacts resynced",
		"request_id", requestID,
		"written", result.Written,
		"removed", result.Removed,
	)
	httputil.WriteJSON(w, http.StatusOK, FromResync(result))
}

// HandlePurgeHistory handles POST /admin/history/purge requests. The
// retention query parameter takes a Go duration such as 2160h.
func (h *Handler) HandlePurgeHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	raw := r.URL.Query().Get("retention")
	if raw == "" {
		h.writeError(w, dErrors.New(dErrors.CodeBadRequest, "retention is required"))
		return
	}
	retention, err := time.ParseDuration(raw)
	if err != nil {
		h.writeError(w, dErrors.New(dErrors.CodeBadRequest, "retention must be a duration"))
		return
	}

	purged, err := h.service.PurgeHistory(ctx, retention)
	if err != nil {
		h.logger.ErrorContext(ctx, "history purge failed",
			"request_id", requestID,
			"retention", raw,
			"error", err,
		)
		h.writeError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "history purged",
		"request_id", requestID,
		"retention", raw,
		"purged", purged,
	)
	httputil.WriteJSON(w, http.StatusOK, PurgeHistoryResponse{Purged: purged})
}

// writeError renders service errors, expanding validation failures into
// their field-level violations.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var violations models.ValidationErrors
	if errors.As(err, &violations) {
		resp := validationErrorResponse{Error: string(dErrors.CodeValidation)}
		var domainErr *dErrors.Error
		if errors.As(err, &domainErr) {
			resp.ErrorDescription = domainErr.Message
		}
		for _, v := range violations {
			resp.Violations = append(resp.Violations, ViolationResponse{
				Field:   v.Field,
				Code:    v.Code,
				Message: v.Message,
			})
		}
		httputil.WriteJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}

	httputil.WriteError(w, err)
}

// Package httpapi assembles the public HTTP surface: the versioned
// certificate API plus the unauthenticated liveness and metrics endpoints.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"certmint/internal/certificate/handler"
	"certmint/internal/platform/metrics"
	"certmint/internal/platform/middleware"
	"certmint/pkg/platform/middleware/metadata"
	"certmint/pkg/platform/middleware/requesttime"
)

// New wires the full router. Everything under /api/v1 requires credentials;
// /healthz and /metrics stay open for probes and scrapers.
func New(h *handler.Handler, verifier middleware.CredentialVerifier, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)
	r.Use(middleware.LatencyMiddleware(m))

	r.Get("/healthz", handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(middleware.ContentTypeJSON)
		api.Use(middleware.Authenticate(verifier, logger))
		h.Register(api)
	})

	return r
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

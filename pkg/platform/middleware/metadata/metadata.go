// Package metadata captures client-identifying request details for
// verification audit records: IP address, raw User-Agent, and a condensed
// platform label.
package metadata

import (
	"net/http"
	"strings"

	"certmint/pkg/requestcontext"

	"github.com/mssola/useragent"
)

// ClientMetadata extracts client IP address and User-Agent from the request
// and adds them, with a parsed platform summary, to the context for use by
// handlers and services.
// This middleware should be applied early in the chain.
func ClientMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawUA := r.Header.Get("User-Agent")
		ctx := requestcontext.WithClientMetadata(r.Context(),
			ClientIPFromRequest(r), rawUA, PlatformSummary(rawUA))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// PlatformSummary condenses a User-Agent into a "browser on OS" label for
// audit trails. Non-browser agents (curl, service clients) keep their
// product token.
func PlatformSummary(rawUA string) string {
	if rawUA == "" {
		return ""
	}

	ua := useragent.New(rawUA)
	name, _ := ua.Browser()
	osName := ua.OSInfo().Name
	switch {
	case name != "" && osName != "":
		return name + " on " + osName
	case name != "":
		return name
	case osName != "":
		return osName
	}

	if idx := strings.IndexAny(rawUA, " ("); idx != -1 {
		return rawUA[:idx]
	}
	return rawUA
}

// ClientIPFromRequest extracts the real client IP from the request, handling proxies and load balancers.
func ClientIPFromRequest(r *http.Request) string {
	// Check X-Forwarded-For header first (standard for proxied requests)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// X-Forwarded-For can contain multiple IPs (client, proxy1, proxy2, ...)
		// Take the first IP which is the original client
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	// Check X-Real-IP header (used by nginx and other proxies)
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	// Fall back to RemoteAddr (direct connection)
	// RemoteAddr is in format "ip:port", so we need to strip the port
	if addr := r.RemoteAddr; addr != "" {
		// For IPv6, format is [::1]:port
		// For IPv4, format is 127.0.0.1:port
		if idx := strings.LastIndex(addr, ":"); idx != -1 {
			return addr[:idx]
		}
		return addr
	}

	return "unknown"
}

package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"log/slog"

	"certmint/pkg/requestcontext"
)

// CredentialVerifier checks the two credential schemes the API accepts.
type CredentialVerifier interface {
	VerifyToken(tokenString string) (requestcontext.Principal, error)
	VerifyAPIKey(name, secret string) (requestcontext.Principal, error)
}

// Authenticate resolves the caller's principal from either an Authorization
// bearer token or an X-API-Key header and stores it in the request context.
// Requests without a valid credential stop here with 401.
func Authenticate(verifier CredentialVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			authHeader := r.Header.Get("Authorization")
			const bearerPrefix = "Bearer "
			if token, ok := strings.CutPrefix(authHeader, bearerPrefix); ok {
				principal, err := verifier.VerifyToken(token)
				if err != nil {
					logger.WarnContext(ctx, "unauthorized access - invalid token",
						"error", err,
						"request_id", requestcontext.RequestID(ctx),
					)
					writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
					return
				}

				ctx = requestcontext.WithActor(ctx, principal)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			if apiKey := r.Header.Get("X-API-Key"); apiKey != "" {
				name, secret, ok := strings.Cut(apiKey, ":")
				if !ok || name == "" {
					logger.WarnContext(ctx, "unauthorized access - malformed API key",
						"request_id", requestcontext.RequestID(ctx),
					)
					writeJSONError(w, http.StatusUnauthorized, "unauthorized", "API key must be principal:secret")
					return
				}

				principal, err := verifier.VerifyAPIKey(name, secret)
				if err != nil {
					logger.WarnContext(ctx, "unauthorized access - invalid API key",
						"principal", name,
						"request_id", requestcontext.RequestID(ctx),
					)
					writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Invalid API key")
					return
				}

				ctx = requestcontext.WithActor(ctx, principal)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			// No credential at all
			logger.WarnContext(ctx, "unauthorized access - missing credentials",
				"request_id", requestcontext.RequestID(ctx),
			)
			writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Missing Authorization or X-API-Key header")
		})
	}
}

// RequireRole stops requests whose principal lacks the given role. Admin
// passes every gate.
func RequireRole(role string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			actor := requestcontext.Actor(ctx)
			if actor.Role == requestcontext.RoleAdmin || actor.Role == role {
				next.ServeHTTP(w, r)
				return
			}

			logger.WarnContext(ctx, "forbidden - insufficient role",
				"principal", actor.Name,
				"role", actor.Role,
				"required_role", role,
				"request_id", requestcontext.RequestID(ctx),
			)
			writeJSONError(w, http.StatusForbidden, "forbidden", "Insufficient role for this operation")
		})
	}
}

// writeJSONError writes a JSON error response with the given status code and
// error details.
func writeJSONError(w http.ResponseWriter, status int, errCode, errDesc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(fmt.Appendf(nil, `{"error":"%s","error_description":"%s"}`, errCode, errDesc))
}

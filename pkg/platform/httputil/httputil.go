// Package httputil centralizes JSON request decoding and response writing so
// every handler renders errors and payloads the same way.
package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"log/slog"

	dErrors "certmint/pkg/domain-errors"
)

// errorResponse is the wire shape for all error payloads.
type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// statusFor maps domain error codes onto HTTP statuses.
func statusFor(code dErrors.Code) int {
	switch code {
	case dErrors.CodeValidation:
		return http.StatusUnprocessableEntity
	case dErrors.CodeInvalidInput, dErrors.CodeBadRequest, dErrors.CodeMalformed:
		return http.StatusBadRequest
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeConflict:
		return http.StatusConflict
	case dErrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case dErrors.CodeForbidden:
		return http.StatusForbidden
	case dErrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// WriteJSON serializes v with the given status. Encoding failures are
// swallowed: headers are already sent and there is nothing useful to do.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// WriteError renders err as a JSON error payload. The domain code becomes
// the error field; the message becomes error_description except for internal
// errors, whose details stay in logs only.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)

	resp := errorResponse{Error: string(code)}
	if code != dErrors.CodeInternal {
		var domainErr *dErrors.Error
		if errors.As(err, &domainErr) {
			resp.ErrorDescription = domainErr.Message
		}
	}

	WriteJSON(w, statusFor(code), resp)
}

// Validatable is implemented by request DTOs that check their own shape
// after decoding.
type Validatable interface {
	Validate() error
}

// DecodeAndPrepare decodes the JSON body into T and runs its validation,
// writing the error response itself when either step fails. The boolean
// reports whether the request survived.
func DecodeAndPrepare[T any, PT interface {
	*T
	Validatable
}](w http.ResponseWriter, r *http.Request, logger *slog.Logger, ctx context.Context, requestID string) (*T, bool) {
	var req T
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.WarnContext(ctx, "failed to decode request body",
			"error", err,
			"request_id", requestID,
		)
		WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return nil, false
	}

	if err := PT(&req).Validate(); err != nil {
		logger.WarnContext(ctx, "request validation failed",
			"error", err,
			"request_id", requestID,
		)
		WriteError(w, err)
		return nil, false
	}

	return &req, true
}

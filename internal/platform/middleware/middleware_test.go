package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"log/slog"

	"certmint/internal/credentials"
	"certmint/pkg/requestcontext"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestVerifier(t *testing.T) *credentials.Verifier {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	return credentials.NewVerifier("test-signing-key", map[string]string{"certctl": string(hash)})
}

// actorRecorder is a terminal handler that remembers the principal the
// middleware stored in the context.
func actorRecorder(captured *requestcontext.Principal) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*captured = requestcontext.Actor(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestRequestID_GeneratesWhenMissing(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = requestcontext.RequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get("X-Request-ID"))
}

func TestRequestID_KeepsIncomingHeader(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = requestcontext.RequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "upstream-id-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "upstream-id-42", seen)
	assert.Equal(t, "upstream-id-42", rec.Header().Get("X-Request-ID"))
}

func TestAuthenticate_BearerToken(t *testing.T) {
	verifier := newTestVerifier(t)
	token, err := verifier.MintToken("alice", requestcontext.RoleVerify, time.Hour)
	require.NoError(t, err)

	var actor requestcontext.Principal
	h := Authenticate(verifier, testLogger())(actorRecorder(&actor))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "alice", actor.Name)
	assert.Equal(t, requestcontext.RoleVerify, actor.Role)
}

func TestAuthenticate_ExpiredToken(t *testing.T) {
	verifier := newTestVerifier(t)
	token, err := verifier.MintToken("alice", requestcontext.RoleAdmin, -time.Hour)
	require.NoError(t, err)

	var actor requestcontext.Principal
	h := Authenticate(verifier, testLogger())(actorRecorder(&actor))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"unauthorized","error_description":"Invalid or expired token"}`, rec.Body.String())
	assert.Empty(t, actor.Name)
}

func TestAuthenticate_APIKey(t *testing.T) {
	verifier := newTestVerifier(t)

	var actor requestcontext.Principal
	h := Authenticate(verifier, testLogger())(actorRecorder(&actor))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-API-Key", "certctl:s3cret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "certctl", actor.Name)
	assert.Equal(t, requestcontext.RoleAdmin, actor.Role)
}

func TestAuthenticate_WrongAPIKeySecret(t *testing.T) {
	verifier := newTestVerifier(t)

	var actor requestcontext.Principal
	h := Authenticate(verifier, testLogger())(actorRecorder(&actor))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-API-Key", "certctl:wrong")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, actor.Name)
}

func TestAuthenticate_MalformedAPIKey(t *testing.T) {
	verifier := newTestVerifier(t)

	h := Authenticate(verifier, testLogger())(actorRecorder(&requestcontext.Principal{}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-API-Key", "no-separator")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"unauthorized","error_description":"API key must be principal:secret"}`, rec.Body.String())
}

func TestAuthenticate_MissingCredentials(t *testing.T) {
	verifier := newTestVerifier(t)

	h := Authenticate(verifier, testLogger())(actorRecorder(&requestcontext.Principal{}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"unauthorized","error_description":"Missing Authorization or X-API-Key header"}`, rec.Body.String())
}

func TestRequireRole_AdminPassesEveryGate(t *testing.T) {
	called := false
	h := RequireRole(requestcontext.RoleVerify, testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	ctx := requestcontext.WithActor(req.Context(), requestcontext.Principal{Name: "root", Role: requestcontext.RoleAdmin})
	h.ServeHTTP(httptest.NewRecorder(), req.WithContext(ctx))

	assert.True(t, called)
}

func TestRequireRole_MatchingRolePasses(t *testing.T) {
	called := false
	h := RequireRole(requestcontext.RoleVerify, testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	ctx := requestcontext.WithActor(req.Context(), requestcontext.Principal{Name: "scanner", Role: requestcontext.RoleVerify})
	h.ServeHTTP(httptest.NewRecorder(), req.WithContext(ctx))

	assert.True(t, called)
}

func TestRequireRole_InsufficientRole(t *testing.T) {
	called := false
	h := RequireRole(requestcontext.RoleAdmin, testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	ctx := requestcontext.WithActor(req.Context(), requestcontext.Principal{Name: "scanner", Role: requestcontext.RoleVerify})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req.WithContext(ctx))

	assert.False(t, called)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"error":"forbidden","error_description":"Insufficient role for this operation"}`, rec.Body.String())
}

func TestRequireRole_NoActor(t *testing.T) {
	called := false
	h := RequireRole(requestcontext.RoleVerify, testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.False(t, called)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestContentTypeJSON(t *testing.T) {
	h := ContentTypeJSON(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("rejects non-JSON body on POST", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"domain":"a"}`))
		req.Header.Set("Content-Type", "text/plain")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	})

	t.Run("accepts application/json", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"domain":"a"}`))
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("ignores GET requests", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Content-Type", "text/plain")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})
}

func TestRecovery(t *testing.T) {
	h := Recovery(testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal_error","error_description":"internal server error"}`, rec.Body.String())
}

func TestTimeout_SetsDeadline(t *testing.T) {
	var hasDeadline bool
	h := Timeout(50 * time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hasDeadline = r.Context().Deadline()
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.True(t, hasDeadline)
}

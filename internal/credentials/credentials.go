// Package credentials verifies the two credential schemes the API accepts:
// HS256 bearer tokens for human operators and principal:secret API keys for
// machine callers such as certctl.
package credentials

import (
	"errors"
	"time"

	dErrors "certmint/pkg/domain-errors"
	"certmint/pkg/requestcontext"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const issuer = "certmint"

// Claims carries the role grant alongside the registered token claims.
// The subject names the principal.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Verifier checks bearer tokens and API keys against the configured
// signing key and bcrypt hashes.
type Verifier struct {
	signingKey []byte
	apiKeys    map[string]string
}

func NewVerifier(signingKey string, apiKeys map[string]string) *Verifier {
	return &Verifier{
		signingKey: []byte(signingKey),
		apiKeys:    apiKeys,
	}
}

// MintToken issues a signed bearer token for the given principal and role.
// The service only verifies tokens; minting exists for operator tooling
// and tests.
func (v *Verifier) MintToken(subject, role string, expiresIn time.Duration) (string, error) {
	newToken := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    issuer,
			ID:        uuid.NewString(),
		},
	})
	return newToken.SignedString(v.signingKey)
}

// VerifyToken validates an HS256 bearer token and returns the principal it
// grants.
func (v *Verifier) VerifyToken(tokenString string) (requestcontext.Principal, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return v.signingKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return requestcontext.Principal{}, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return requestcontext.Principal{}, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	if !parsed.Valid {
		return requestcontext.Principal{}, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok {
		return requestcontext.Principal{}, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	if claims.Subject == "" {
		return requestcontext.Principal{}, dErrors.New(dErrors.CodeUnauthorized, "token carries no subject")
	}
	if claims.Role != requestcontext.RoleAdmin && claims.Role != requestcontext.RoleVerify {
		return requestcontext.Principal{}, dErrors.New(dErrors.CodeUnauthorized, "token carries no recognized role")
	}

	return requestcontext.Principal{Name: claims.Subject, Role: claims.Role}, nil
}

// VerifyAPIKey checks a principal:secret pair against the configured bcrypt
// hashes. API-key callers act with the admin role since the keys exist for
// the CLI and service-to-service automation.
func (v *Verifier) VerifyAPIKey(name, secret string) (requestcontext.Principal, error) {
	hash, ok := v.apiKeys[name]
	if !ok {
		return requestcontext.Principal{}, dErrors.New(dErrors.CodeUnauthorized, "unknown API key principal")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)); err != nil {
		return requestcontext.Principal{}, dErrors.New(dErrors.CodeUnauthorized, "invalid API key")
	}
	return requestcontext.Principal{Name: name, Role: requestcontext.RoleAdmin}, nil
}

// HashAPIKeySecret produces the bcrypt hash stored in configuration for an
// API key secret.
func HashAPIKeySecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

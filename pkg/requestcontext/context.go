// Package requestcontext provides HTTP-independent context accessors for request-scoped values.
//
// This package defines context keys and getter/setter functions for values that are
// typically set by middleware but consumed by services. By keeping this package free
// of net/http dependencies, services can import only what they need without pulling
// in HTTP-related code.
//
// Usage in services (read values):
//
//	actor := requestcontext.Actor(ctx)
//	requestID := requestcontext.RequestID(ctx)
//	now := requestcontext.Now(ctx)
//
// Usage in middleware (set values):
//
//	ctx = requestcontext.WithActor(ctx, principal)
//	ctx = requestcontext.WithRequestID(ctx, requestID)
//
// Usage in tests (inject values):
//
//	ctx = requestcontext.WithTime(ctx, fixedTime)
//	ctx = requestcontext.WithActor(ctx, requestcontext.Principal{Name: "ops", Role: "admin"})
package requestcontext

import (
	"context"
	"time"
)

// Principal identifies an authenticated caller from the flat allow-list.
type Principal struct {
	Name string
	Role string
}

// Roles the auth middleware recognizes. Admin may perform every operation;
// verify is limited to certificate verification.
const (
	RoleAdmin  = "admin"
	RoleVerify = "verify"
)

// Context key types (unexported for encapsulation).
type (
	actorKey       struct{}
	clientIPKey    struct{}
	userAgentKey   struct{}
	platformKey    struct{}
	requestIDKey   struct{}
	requestTimeKey struct{}
)

// Exported context keys for direct use in tests that need context.WithValue.
var (
	ContextKeyActor       = actorKey{}
	ContextKeyClientIP    = clientIPKey{}
	ContextKeyUserAgent   = userAgentKey{}
	ContextKeyPlatform    = platformKey{}
	ContextKeyRequestID   = requestIDKey{}
	ContextKeyRequestTime = requestTimeKey{}
)

// -----------------------------------------------------------------------------
// Acting principal
// -----------------------------------------------------------------------------

// Actor retrieves the authenticated principal from the context.
// Returns the zero Principal if not set.
func Actor(ctx context.Context) Principal {
	if p, ok := ctx.Value(ContextKeyActor).(Principal); ok {
		return p
	}
	return Principal{}
}

// WithActor injects the authenticated principal into the context.
func WithActor(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ContextKeyActor, p)
}

// -----------------------------------------------------------------------------
// Client metadata (IP, User-Agent, parsed platform)
// -----------------------------------------------------------------------------

// ClientIP retrieves the client IP address from the context.
func ClientIP(ctx context.Context) string {
	if ip, ok := ctx.Value(ContextKeyClientIP).(string); ok {
		return ip
	}
	return ""
}

// UserAgent retrieves the raw User-Agent from the context.
func UserAgent(ctx context.Context) string {
	if ua, ok := ctx.Value(ContextKeyUserAgent).(string); ok {
		return ua
	}
	return ""
}

// Platform retrieves the parsed client platform summary (browser and OS)
// captured by the metadata middleware. Empty when the User-Agent was absent
// or unparseable.
func Platform(ctx context.Context) string {
	if p, ok := ctx.Value(ContextKeyPlatform).(string); ok {
		return p
	}
	return ""
}

// WithClientMetadata injects client IP, raw User-Agent, and parsed platform
// into a context. Useful for service unit tests that don't run the full HTTP
// middleware chain.
func WithClientMetadata(ctx context.Context, clientIP, userAgent, platform string) context.Context {
	ctx = context.WithValue(ctx, ContextKeyClientIP, clientIP)
	ctx = context.WithValue(ctx, ContextKeyUserAgent, userAgent)
	ctx = context.WithValue(ctx, ContextKeyPlatform, platform)
	return ctx
}

// -----------------------------------------------------------------------------
// Request metadata
// -----------------------------------------------------------------------------

// RequestID retrieves the request ID from the context.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a request ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// -----------------------------------------------------------------------------
// Request time
// -----------------------------------------------------------------------------

// Now retrieves the request-scoped time from context.
// Falls back to time.Now() if not set (for non-HTTP contexts like workers, CLI, tests).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context.
// Useful for:
//   - Service unit tests that don't run the full HTTP middleware chain
//   - Workers that need consistent time within a batch operation
//   - CLI commands
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}

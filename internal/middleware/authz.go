package middleware

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"

	"github.com/go-faster/jx"

	"github.com/urfv/yandex-tracker-mcp/internal/auth"
	"github.com/urfv/yandex-tracker-mcp/internal/observability"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// AuthContextKey is the context key for auth context
	AuthContextKey ContextKey = "authContext"
	// RequestIDKey is the context key for request tracing ID
	RequestIDKey ContextKey = "requestID"
)

// Auth types
const (
	AuthTypeGateway   = "gateway"
	AuthTypeAnonymous = "anonymous"
)

// AuthContext contains caller identity and authorization info
type AuthContext struct {
	Subject      string
	AuthType     string
	Email        string
	AllowedTools []string // nil = every tool; entries are "module:tool" or "module:*"
	DailyUsed    int
	DailyLimit   int // 0 = unlimited
}

// WithinDailyLimit checks if the caller can execute the given number of additional tools
func (ctx *AuthContext) WithinDailyLimit(count int) bool {
	if ctx.DailyLimit <= 0 {
		return true
	}
	return ctx.DailyUsed+count <= ctx.DailyLimit
}

// CanAccessTool checks the tool allowlist and, when usageCount > 0, the
// daily limit.
func (ctx *AuthContext) CanAccessTool(moduleName, toolName string, usageCount int) error {
	toolID := moduleName + ":" + toolName

	if ctx.AllowedTools != nil && !ctx.toolAllowed(moduleName, toolID) {
		return &AuthError{
			Code:    "TOOL_DISABLED",
			Message: fmt.Sprintf("Tool '%s' is not enabled for your account", toolID),
			Status:  http.StatusForbidden,
		}
	}

	if usageCount > 0 && !ctx.WithinDailyLimit(usageCount) {
		return &AuthError{
			Code:    "USAGE_LIMIT_EXCEEDED",
			Message: fmt.Sprintf("Daily usage limit exceeded. Used: %d, Limit: %d.", ctx.DailyUsed, ctx.DailyLimit),
			Status:  http.StatusTooManyRequests,
		}
	}

	return nil
}

func (ctx *AuthContext) toolAllowed(moduleName, toolID string) bool {
	wildcard := moduleName + ":*"
	for _, t := range ctx.AllowedTools {
		if t == toolID || t == wildcard {
			return true
		}
	}
	return false
}

// TokenVerifier verifies gateway tokens.
type TokenVerifier interface {
	VerifyToken(token string) (*auth.GatewayClaims, error)
}

// UsageCounter reports how many tools a subject has executed today.
type UsageCounter interface {
	DailyUsed(ctx context.Context, subject string) (int, error)
}

// Authorizer handles authorization checks
type Authorizer struct {
	verifier   TokenVerifier
	usage      UsageCounter
	dailyLimit int
}

// NewAuthorizer creates a new authorizer. Without a verifier every request
// is accepted as anonymous and keyed by client address. Without a usage
// counter or with dailyLimit 0 no daily limit applies.
func NewAuthorizer(verifier TokenVerifier, usage UsageCounter, dailyLimit int) *Authorizer {
	return &Authorizer{
		verifier:   verifier,
		usage:      usage,
		dailyLimit: dailyLimit,
	}
}

// Authorize is HTTP middleware that checks authorization
func (a *Authorizer) Authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Generate or propagate request ID for tracing
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = NewRequestID()
		}
		w.Header().Set("X-Request-ID", requestID)

		authCtx, err := a.ValidateRequest(r.WithContext(WithRequestID(r.Context(), requestID)))
		if err != nil {
			writeAuthError(w, err)
			return
		}

		ctx := WithAuthContext(r.Context(), authCtx)
		ctx = WithRequestID(ctx, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ValidateRequest validates the request and returns auth context
func (a *Authorizer) ValidateRequest(r *http.Request) (*AuthContext, error) {
	requestID := GetRequestID(r.Context())

	authCtx := &AuthContext{
		Subject:    "anonymous:" + clientIP(r),
		AuthType:   AuthTypeAnonymous,
		DailyLimit: a.dailyLimit,
	}

	if a.verifier != nil {
		token := bearerToken(r)
		if token == "" {
			observability.LogSecurityEvent(requestID, "", "missing_gateway_token", map[string]any{
				"remote_addr": r.RemoteAddr,
			})
			return nil, &AuthError{
				Code:    "MISSING_GATEWAY_TOKEN",
				Message: "Missing gateway token",
				Status:  http.StatusUnauthorized,
			}
		}

		claims, err := a.verifier.VerifyToken(token)
		if err != nil {
			observability.LogSecurityEvent(requestID, "", "invalid_gateway_token", map[string]any{
				"remote_addr": r.RemoteAddr,
				"error":       err.Error(),
			})
			return nil, &AuthError{
				Code:    "INVALID_GATEWAY_TOKEN",
				Message: "Invalid gateway token",
				Status:  http.StatusUnauthorized,
			}
		}

		authCtx.Subject = claims.Subject
		authCtx.AuthType = AuthTypeGateway
		authCtx.Email = claims.Email
		authCtx.AllowedTools = claims.Tools
	}

	if a.usage != nil && a.dailyLimit > 0 {
		used, err := a.usage.DailyUsed(r.Context(), authCtx.Subject)
		if err != nil {
			observability.Error("failed to load daily usage", "subject", authCtx.Subject, "error", err)
			return nil, &AuthError{
				Code:    "CONTEXT_ERROR",
				Message: "Failed to load usage",
				Status:  http.StatusInternalServerError,
			}
		}
		authCtx.DailyUsed = used
	}

	return authCtx, nil
}

// bearerToken reads the gateway token from X-Gateway-Token, falling back
// to an Authorization bearer token.
func bearerToken(r *http.Request) string {
	if token := r.Header.Get("X-Gateway-Token"); token != "" {
		return token
	}
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// AuthError represents an authorization error
type AuthError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
}

func (e *AuthError) Error() string {
	return e.Message
}

// writeAuthError writes an authorization error response
func writeAuthError(w http.ResponseWriter, err error) {
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		authErr = &AuthError{
			Code:    "AUTHORIZATION_ERROR",
			Message: err.Error(),
			Status:  http.StatusInternalServerError,
		}
	}
	writeJSONError(w, authErr.Status, authErr.Code, authErr.Message)
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	e.Obj(func(e *jx.Encoder) {
		e.Field("error", func(e *jx.Encoder) { e.Str(code) })
		e.Field("message", func(e *jx.Encoder) { e.Str(message) })
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// WithAuthContext attaches authCtx to ctx.
func WithAuthContext(ctx context.Context, authCtx *AuthContext) context.Context {
	return context.WithValue(ctx, AuthContextKey, authCtx)
}

// WithRequestID attaches a request ID to ctx.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetAuthContext extracts auth context from request context
func GetAuthContext(ctx context.Context) *AuthContext {
	authCtx, _ := ctx.Value(AuthContextKey).(*AuthContext)
	return authCtx
}

// GetRequestID extracts request ID from context
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}

// NewRequestID creates a random 16-byte hex request ID
func NewRequestID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("fallback-%d", os.Getpid())
	}
	return hex.EncodeToString(b)
}

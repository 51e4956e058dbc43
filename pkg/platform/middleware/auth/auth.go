// Package auth guards HTTP routes with bearer tokens.
package auth

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	dErrors "civitas/pkg/domain-errors"
	"civitas/pkg/platform/httputil"
)

// Claims is what a validated token yields.
type Claims interface {
	GetSubjectName() string
	GrantedScopes() []string
}

// Validator turns a raw bearer token into claims.
type Validator interface {
	Validate(token string) (Claims, error)
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(token string) (Claims, error)

func (f ValidatorFunc) Validate(token string) (Claims, error) {
	return f(token)
}

type contextKeySubject struct{}
type contextKeyScopes struct{}

// GetSubject returns the authenticated caller, or "" on unguarded routes.
func GetSubject(ctx context.Context) string {
	s, _ := ctx.Value(contextKeySubject{}).(string)
	return s
}

// WithSubject injects a subject the way RequireAuth does, for tests.
func WithSubject(ctx context.Context, subject string, scopes ...string) context.Context {
	ctx = context.WithValue(ctx, contextKeySubject{}, subject)
	return context.WithValue(ctx, contextKeyScopes{}, scopes)
}

func scopesFrom(ctx context.Context) []string {
	s, _ := ctx.Value(contextKeyScopes{}).([]string)
	return s
}

// BearerToken extracts the token from an Authorization header, falling back
// to the access_token query parameter for WebSocket clients that cannot set
// headers.
func BearerToken(r *http.Request) (string, bool) {
	if after, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok && after != "" {
		return after, true
	}
	if t := r.URL.Query().Get("access_token"); t != "" {
		return t, true
	}
	return "", false
}

// RequireAuth rejects requests without a valid bearer token and stores the
// subject and scopes in the request context.
func RequireAuth(v Validator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, ok := BearerToken(r)
			if !ok {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", middleware.GetReqID(ctx),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing or invalid Authorization header"))
				return
			}
			claims, err := v.Validate(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", middleware.GetReqID(ctx),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "invalid or expired token"))
				return
			}
			ctx = WithSubject(ctx, claims.GetSubjectName(), claims.GrantedScopes()...)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireScope must run after RequireAuth.
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !slices.Contains(scopesFrom(r.Context()), scope) {
				httputil.WriteError(w, dErrors.Newf(dErrors.CodeForbidden, "token lacks scope %s", scope))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

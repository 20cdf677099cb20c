package middleware

import (
	"context"
	"net/http"

	"github.com/cabdesk/dispatch-notify/internal/domain/session"
	"github.com/cabdesk/dispatch-notify/internal/handler/http/response"
	"github.com/cabdesk/dispatch-notify/internal/pkg/jwt"
	"github.com/go-chi/jwtauth/v5"
)

type scopeKey struct{}

// AuthRequired rejects requests without a verified access token and stores
// the token's scope in the request context. It runs after jwtauth.Verifier.
func AuthRequired(jwtService jwt.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		hfn := func(w http.ResponseWriter, r *http.Request) {
			token, _, err := jwtauth.FromContext(r.Context())
			if err != nil {
				if token == nil && r.Header.Get("Authorization") == "" {
					response.HandleError(w, session.ErrMissingToken)
					return
				}
				response.HandleError(w, jwt.ErrInvalidToken)
				return
			}

			scope, err := jwtService.ScopeFromToken(token)
			if err != nil {
				response.HandleError(w, err)
				return
			}
			scope.Credential = jwtauth.TokenFromHeader(r)

			next.ServeHTTP(w, r.WithContext(WithScope(r.Context(), scope)))
		}
		return http.HandlerFunc(hfn)
	}
}

// WithScope stores a session scope in ctx.
func WithScope(ctx context.Context, scope session.Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, scope)
}

// ScopeFromContext returns the scope stored by AuthRequired.
func ScopeFromContext(ctx context.Context) (session.Scope, bool) {
	scope, ok := ctx.Value(scopeKey{}).(session.Scope)
	return scope, ok
}

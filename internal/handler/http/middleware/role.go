package middleware

import (
	"net/http"

	"github.com/cabdesk/dispatch-notify/internal/domain/session"
	"github.com/cabdesk/dispatch-notify/internal/handler/http/response"
)

// RequireAdmin requires the admin role
func RequireAdmin(next http.Handler) http.Handler {
	return requireRole(session.RoleAdmin, session.ErrAdminAccessOnly, next)
}

// RequireVendor requires the vendor role
func RequireVendor(next http.Handler) http.Handler {
	return requireRole(session.RoleVendor, session.ErrVendorAccessOnly, next)
}

func requireRole(role session.Role, denied error, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scope, ok := ScopeFromContext(r.Context())
		if !ok {
			response.HandleError(w, session.ErrMissingToken)
			return
		}
		if scope.Role != role {
			response.HandleError(w, denied)
			return
		}
		next.ServeHTTP(w, r)
	})
}

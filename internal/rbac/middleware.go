package rbac

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/pampa-erp/pampa/internal/platform/httpx"
	"github.com/pampa-erp/pampa/internal/shared"
)

// Middleware wires authentication and role checks for HTTP handlers.
type Middleware struct {
	Logger *slog.Logger
}

// Authenticate reads the principal from the gateway headers. Requests without
// a user id are rejected with 401.
func (m Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(HeaderUserID))
		if userID == "" {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing "+HeaderUserID)
			return
		}
		principal := shared.Principal{UserID: userID, Roles: ParseRoles(r.Header.Get(HeaderRoles))}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithPrincipal(r.Context(), principal)))
	})
}

// RequireRole ensures the current principal holds at least one of roles. ADMIN always passes.
func (m Middleware) RequireRole(roles ...string) func(http.Handler) http.Handler {
	required := ParseRoles(strings.Join(roles, ","))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := shared.PrincipalFromContext(r.Context())
			if !ok {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
				return
			}
			if len(required) == 0 || principal.HasAnyRole(RoleAdmin) || principal.HasAnyRole(required...) {
				next.ServeHTTP(w, r)
				return
			}
			if m.Logger != nil {
				m.Logger.Warn("rbac denied",
					slog.String("user_id", principal.UserID),
					slog.String("path", r.URL.Path),
					slog.Any("required", required))
			}
			httpx.Problem(w, http.StatusForbidden, "Forbidden", "requires one of "+strings.Join(required, ", "))
		})
	}
}

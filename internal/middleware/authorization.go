package middleware

import (
	"net/http"
	"slices"

	"go.uber.org/zap"
)

// RequireAdmin middleware ensures the caller has the admin role
func RequireAdmin(logger *zap.Logger) func(http.Handler) http.Handler {
	return RequireRole([]string{RoleAdmin}, logger)
}

// RequireRole middleware ensures the caller has one of the specified roles
func RequireRole(allowedRoles []string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := GetPrincipal(r.Context())
			if !ok {
				logger.Warn("Principal not found in context", zap.String("path", r.URL.Path))
				RespondWithError(w, http.StatusForbidden, "insufficient permissions")
				return
			}

			if !slices.Contains(allowedRoles, principal.Role) {
				logger.Warn("Caller role not authorized",
					zap.String("subject", principal.Subject),
					zap.String("role", principal.Role),
					zap.Strings("allowed_roles", allowedRoles),
				)
				RespondWithError(w, http.StatusForbidden, "insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

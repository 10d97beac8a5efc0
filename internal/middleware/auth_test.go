package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

const testSecret = "test-secret"

func signToken(t *testing.T, method jwt.SigningMethod, secret, subject, role string, expiresIn time.Duration) string {
	t.Helper()

	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
		},
	}
	token, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	return token
}

// Feature: product-catalog, Property 21: Protected endpoints reject missing tokens
func TestProperty_ProtectedEndpointsRejectMissingTokens(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("requests without authorization header are rejected", prop.ForAll(
		func(pathSuffix string, method string) bool {
			handler := AuthMiddleware(testSecret, zap.NewNop())(okHandler())

			req := httptest.NewRequest(method, "/api/products/"+pathSuffix, nil)
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			return w.Code == http.StatusUnauthorized
		},
		gen.AlphaString(),
		gen.OneConstOf(http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

// Feature: product-catalog, Property 22: Valid tokens carry the principal
func TestProperty_ValidTokensCarryPrincipal(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("valid tokens reach the handler with subject and role", prop.ForAll(
		func(subject string, role string) bool {
			token := signToken(t, jwt.SigningMethodHS256, testSecret, subject, role, time.Hour)

			var got Principal
			handler := AuthMiddleware(testSecret, zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got, _ = GetPrincipal(r.Context())
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			return w.Code == http.StatusOK && got.Subject == subject && got.Role == role
		},
		gen.Identifier(),
		gen.OneConstOf("user", RoleAdmin),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestAuthMiddleware_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		message string
	}{
		{
			name:    "expired token",
			header:  "Bearer " + signToken(t, jwt.SigningMethodHS256, testSecret, "u1", RoleAdmin, -time.Hour),
			message: "token expired",
		},
		{
			name:    "wrong secret",
			header:  "Bearer " + signToken(t, jwt.SigningMethodHS256, "other-secret", "u1", RoleAdmin, time.Hour),
			message: "invalid token",
		},
		{
			name:    "missing bearer prefix",
			header:  signToken(t, jwt.SigningMethodHS256, testSecret, "u1", RoleAdmin, time.Hour),
			message: "invalid authorization header format",
		},
		{
			name:    "garbage token",
			header:  "Bearer not-a-token",
			message: "invalid token",
		},
		{
			name:    "missing role",
			header:  "Bearer " + signToken(t, jwt.SigningMethodHS256, testSecret, "u1", "", time.Hour),
			message: "invalid token claims",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := AuthMiddleware(testSecret, zap.NewNop())(okHandler())

			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			req.Header.Set("Authorization", tt.header)
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Contains(t, w.Body.String(), tt.message)
		})
	}
}

func TestRequireAdmin(t *testing.T) {
	tests := []struct {
		name      string
		principal *Principal
		want      int
	}{
		{name: "admin", principal: &Principal{Subject: "a", Role: RoleAdmin}, want: http.StatusOK},
		{name: "shopper", principal: &Principal{Subject: "s", Role: "user"}, want: http.StatusForbidden},
		{name: "anonymous", principal: nil, want: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := RequireAdmin(zap.NewNop())(okHandler())

			req := httptest.NewRequest(http.MethodDelete, "/api/products/x", nil)
			if tt.principal != nil {
				req = req.WithContext(WithPrincipal(req.Context(), *tt.principal))
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.want, w.Code)
		})
	}
}

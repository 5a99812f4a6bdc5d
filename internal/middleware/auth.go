package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const ctxAdminSubjectKey correlationKey = "admin_subject"

// AdminAuth validates bearer JWTs on the admin surfaces (restock, write-off,
// reseller enrollment). Reporting reads stay open; only mutations are gated.
type AdminAuth struct {
	jwtSecret string
}

// NewAdminAuth constructs an AdminAuth middleware with the given secret.
func NewAdminAuth(secret string) *AdminAuth {
	return &AdminAuth{jwtSecret: secret}
}

// Require enforces bearer auth and an admin role claim.
func (m *AdminAuth) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if strings.TrimSpace(authHeader) == "" {
			jsonError(w, http.StatusUnauthorized, "Authorization header required")
			return
		}

		parts := strings.Fields(authHeader)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			jsonError(w, http.StatusUnauthorized, "Invalid authorization format")
			return
		}

		token, err := jwt.Parse(parts[1], func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(m.jwtSecret), nil
		})
		if err != nil || !token.Valid {
			jsonError(w, http.StatusUnauthorized, "Invalid token")
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			jsonError(w, http.StatusUnauthorized, "Invalid token claims")
			return
		}

		if exp, ok := claims["exp"].(float64); ok {
			if time.Now().Unix() > int64(exp) {
				jsonError(w, http.StatusUnauthorized, "Token expired")
				return
			}
		}

		if role, _ := claims["role"].(string); role != "admin" {
			jsonError(w, http.StatusForbidden, "Admin role required")
			return
		}

		ctx := r.Context()
		if sub, ok := claims["sub"].(string); ok {
			ctx = context.WithValue(ctx, ctxAdminSubjectKey, sub)
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AdminSubjectFrom extracts the authenticated admin subject, if present.
func AdminSubjectFrom(ctx context.Context) string {
	if sub, ok := ctx.Value(ctxAdminSubjectKey).(string); ok {
		return sub
	}
	return ""
}

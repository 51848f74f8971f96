package middleware

import (
	"context"
	"net/http"
	"strings"

	"device-control-relay/internal/domain"
	"device-control-relay/pkg/response"
)

type contextKey string

const AdminKey contextKey = "admin"

// Authenticator resolves a bearer token to an admin identity.
type Authenticator interface {
	VerifyAdminToken(ctx context.Context, token string) (domain.Identity, error)
}

func AuthMiddleware(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r)
			if !ok {
				response.Unauthorized(w, "Missing or malformed authorization header")
				return
			}

			identity, err := auth.VerifyAdminToken(r.Context(), token)
			if err != nil {
				response.ErrorWithCode(w, http.StatusUnauthorized, domain.ErrorCode(err), "Invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), AdminKey, *identity.Admin)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	parts := strings.Split(r.Header.Get("Authorization"), " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func GetAdmin(r *http.Request) (domain.AdminIdentity, bool) {
	admin, ok := r.Context().Value(AdminKey).(domain.AdminIdentity)
	return admin, ok
}

func GetUserID(r *http.Request) string {
	admin, ok := GetAdmin(r)
	if !ok {
		return ""
	}
	return admin.UserID
}

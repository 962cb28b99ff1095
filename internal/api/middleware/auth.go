package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/dom/ingest-pipeline/internal/api/httpx"
	"github.com/dom/ingest-pipeline/internal/apperr"
	"github.com/dom/ingest-pipeline/internal/service"
	"github.com/google/uuid"
)

type contextKey string

const (
	UserIDKey    contextKey = "userID"
	userEmailKey contextKey = "userEmail"
)

// Auth accepts the bearer secret from the Authorization header, falling
// back to the access_token cookie so browser clients that
// can't set custom headers (e.g. a raw download link) still authenticate.
func Auth(authService *service.AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				httpx.Error(w, apperr.ErrAuthInvalid)
				return
			}

			user, err := authService.Validate(r.Context(), token)
			if err != nil {
				httpx.Error(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), UserIDKey, user.UserID)
			ctx = context.WithValue(ctx, userEmailKey, user.Email)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1]
		}
	}
	if cookie, err := r.Cookie("access_token"); err == nil {
		return cookie.Value
	}
	return ""
}

func GetUserID(ctx context.Context) (uuid.UUID, bool) {
	userID, ok := ctx.Value(UserIDKey).(uuid.UUID)
	return userID, ok
}

func GetUserEmail(ctx context.Context) (string, bool) {
	email, ok := ctx.Value(userEmailKey).(string)
	return email, ok
}

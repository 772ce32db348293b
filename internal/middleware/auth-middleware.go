package middleware

import (
	"context"
	"log"
	"net"
	"net/http"
	"strings"

	"roomchat/internal/auth"
	"roomchat/internal/models"
)

type contextKey string

const UserKey contextKey = "user"

type IdentityResolver interface {
	Resolve(ctx context.Context, r *http.Request) auth.Identity
}

func getIP(r *http.Request) string {
	forwarded := r.Header.Get("X-Forwarded-For")
	if forwarded != "" {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Authenticate resolves the request's bearer credential and rejects
// anonymous callers with 401. The user is stored in the request context.
func Authenticate(resolver IdentityResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := auth.Authorize(resolver.Resolve(r.Context(), r))
			if err != nil {
				log.Printf("[AUTH] Unauthenticated %s %s from %s", r.Method, r.URL.Path, getIP(r))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"Authentication credentials were not provided or are invalid"}`))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

func WithUser(ctx context.Context, user *models.User) context.Context {
	return context.WithValue(ctx, UserKey, user)
}

func UserFromContext(ctx context.Context) (*models.User, bool) {
	user, ok := ctx.Value(UserKey).(*models.User)
	return user, ok && user != nil
}

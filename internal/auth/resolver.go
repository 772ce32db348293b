package auth

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"

	"roomchat/internal/apperr"
	"roomchat/internal/models"
)

// Identity is the outcome of credential resolution. A nil User means the
// caller is anonymous.
type Identity struct {
	User *models.User
}

func Anonymous() Identity { return Identity{} }

func (i Identity) IsAuthenticated() bool { return i.User != nil }

type UserLookup interface {
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
}

// Resolver turns a bearer credential into an Identity. It never fails:
// anything short of a valid token for an existing user resolves to the
// anonymous identity, and Authorize makes the reject decision.
type Resolver struct {
	tokens *TokenManager
	users  UserLookup
}

func NewResolver(tokens *TokenManager, users UserLookup) *Resolver {
	return &Resolver{tokens: tokens, users: users}
}

// ExtractToken looks at the token query parameter first, then at a Bearer
// Authorization header.
func ExtractToken(r *http.Request) string {
	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		return token
	}

	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func (res *Resolver) Resolve(ctx context.Context, r *http.Request) Identity {
	token := ExtractToken(r)
	if token == "" {
		return Anonymous()
	}
	return res.ResolveToken(ctx, token)
}

func (res *Resolver) ResolveToken(ctx context.Context, token string) Identity {
	claims, err := res.tokens.ValidateToken(token)
	if err != nil {
		log.Printf("[AUTH] Token rejected, continuing as anonymous: %v", err)
		return Anonymous()
	}

	user, err := res.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		log.Printf("[AUTH] Token valid but user %d could not be loaded: %v", claims.UserID, err)
		return Anonymous()
	}
	return Identity{User: user}
}

// Authorize is the handshake gate: only authenticated identities pass.
func Authorize(id Identity) (*models.User, error) {
	if !id.IsAuthenticated() {
		return nil, fmt.Errorf("no valid credential: %w", apperr.ErrUnauthenticated)
	}
	return id.User, nil
}

package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"roomchat/internal/apperr"
	"roomchat/internal/models"

	"github.com/stretchr/testify/require"
)

type stubUsers map[int64]*models.User

func (s stubUsers) GetUserByID(_ context.Context, id int64) (*models.User, error) {
	if u, ok := s[id]; ok {
		return u, nil
	}
	return nil, apperr.ErrNotFound
}

func TestTokenManager_RoundTrip(t *testing.T) {
	req := require.New(t)
	tm := NewTokenManager("secret", time.Hour)

	token, err := tm.GenerateToken(7)
	req.NoError(err)

	claims, err := tm.ValidateToken(token)
	req.NoError(err)
	req.Equal(int64(7), claims.UserID)
	req.NotEmpty(claims.ID)
}

func TestTokenManager_Rejects(t *testing.T) {
	tm := NewTokenManager("secret", time.Hour)
	other, _ := NewTokenManager("other-secret", time.Hour).GenerateToken(7)
	expired, _ := NewTokenManager("secret", -time.Minute).GenerateToken(7)

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-jwt"},
		{"wrong signature", other},
		{"expired", expired},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tm.ValidateToken(tt.token)
			require.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestExtractToken(t *testing.T) {
	tests := []struct {
		name   string
		url    string
		header string
		want   string
	}{
		{"query only", "/ws/chat/1?token=abc", "", "abc"},
		{"header only", "/ws/chat/1", "Bearer xyz", "xyz"},
		{"query wins over header", "/ws/chat/1?token=abc", "Bearer xyz", "abc"},
		{"lowercase scheme", "/ws/chat/1", "bearer xyz", "xyz"},
		{"other scheme", "/ws/chat/1", "Basic xyz", ""},
		{"nothing", "/ws/chat/1", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tt.url, nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			require.Equal(t, tt.want, ExtractToken(r))
		})
	}
}

func TestResolver_FailsOpenToAnonymous(t *testing.T) {
	req := require.New(t)
	tm := NewTokenManager("secret", time.Hour)
	alice := &models.User{ID: 1, Email: "alice@example.com"}
	res := NewResolver(tm, stubUsers{1: alice})

	valid, _ := tm.GenerateToken(1)
	ghost, _ := tm.GenerateToken(99)

	// Given a valid token for a known user
	id := res.Resolve(context.Background(), httptest.NewRequest(http.MethodGet, "/?token="+valid, nil))
	req.True(id.IsAuthenticated())
	user, err := Authorize(id)
	req.NoError(err)
	req.Equal(alice, user)

	// Given credentials that cannot be resolved
	for _, url := range []string{"/", "/?token=broken", "/?token=" + ghost} {
		id := res.Resolve(context.Background(), httptest.NewRequest(http.MethodGet, url, nil))

		// Then the identity is anonymous and the gate rejects it
		req.False(id.IsAuthenticated())
		_, err := Authorize(id)
		req.ErrorIs(err, apperr.ErrUnauthenticated)
	}
}

func TestPassword(t *testing.T) {
	req := require.New(t)

	hashed, err := HashPassword("correct horse")
	req.NoError(err)
	req.True(VerifyPassword("correct horse", hashed))
	req.False(VerifyPassword("battery staple", hashed))
}

package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"roomchat/internal/apperr"
	"roomchat/internal/auth"
	"roomchat/internal/models"
	"roomchat/internal/types"
)

type UserFinder interface {
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
}

// LoginHandler exchanges email and password for a bearer token usable on
// both the REST API and the chat socket.
func LoginHandler(users UserFinder, tokens *auth.TokenManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload types.LoginRequest

		dbctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if err := decode(r, &payload); err != nil {
			log.Printf("[LOGIN] Rejected request: %v", err)
			respondError(w, http.StatusBadRequest, errMessage(err))
			return
		}
		payload.Email = strings.ToLower(strings.TrimSpace(payload.Email))

		user, err := users.GetUserByEmail(dbctx, payload.Email)
		if err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				log.Printf("[LOGIN] User not found: %s", payload.Email)
				respondError(w, http.StatusUnauthorized, "Invalid email or password")
				return
			}
			respondErr(w, err, "login lookup failed")
			return
		}

		if !auth.VerifyPassword(payload.Password, user.PasswordHash) {
			log.Printf("[LOGIN] Invalid password for user: %s", payload.Email)
			respondError(w, http.StatusUnauthorized, "Invalid email or password")
			return
		}

		token, err := tokens.GenerateToken(user.ID)
		if err != nil {
			log.Printf("[LOGIN] Token generation failed for %d: %v", user.ID, err)
			respondError(w, http.StatusInternalServerError, "Failed to create session")
			return
		}

		log.Printf("[LOGIN] Success: User %d logged in", user.ID)
		respondJSON(w, http.StatusOK, types.AuthResponse{
			Access: token,
			User:   types.NewUserDTO(*user),
		})
	}
}

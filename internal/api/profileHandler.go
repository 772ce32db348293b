package api

import (
	"log"
	"net/http"
	"strings"

	"roomchat/internal/repository"
	"roomchat/internal/types"

	"github.com/go-chi/chi/v5"
)

type ProfileHandler struct {
	users repository.UserRepository
}

func NewProfileHandler(users repository.UserRepository) *ProfileHandler {
	return &ProfileHandler{users: users}
}

func (h *ProfileHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.handleGet)
	r.Put("/", h.handleUpdate)
	r.Patch("/", h.handleUpdate)
}

func (h *ProfileHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, types.NewUserDTO(*currentUser(r)))
}

// handleUpdate changes only the name fields present in the body.
func (h *ProfileHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var payload types.UpdateProfileRequest
	if err := decode(r, &payload); err != nil {
		respondError(w, http.StatusBadRequest, errMessage(err))
		return
	}

	user := *currentUser(r)
	if payload.FirstName != nil {
		user.FirstName = strings.TrimSpace(*payload.FirstName)
	}
	if payload.LastName != nil {
		user.LastName = strings.TrimSpace(*payload.LastName)
	}

	if err := h.users.UpdateProfile(r.Context(), &user); err != nil {
		respondErr(w, err, "update profile")
		return
	}

	log.Printf("[API] User %d updated their profile", user.ID)
	respondJSON(w, http.StatusOK, types.NewUserDTO(user))
}

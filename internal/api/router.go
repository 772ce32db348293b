package api

import (
	"net/http"

	"roomchat/internal/auth"
	"roomchat/internal/chat"
	"roomchat/internal/mail"
	"roomchat/internal/middleware"
	"roomchat/internal/repository"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

type Deps struct {
	Tokens     *auth.TokenManager
	Resolver   *auth.Resolver
	Users      repository.UserRepository
	Rooms      repository.RoomRepository
	Messages   repository.MessageRepo
	Registry   *chat.Registry
	Dispatcher *chat.Dispatcher
	Chat       http.Handler
	Notifier   mail.Notifier
}

// NewRouter wires the REST API, the chat socket and the health check.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.StripSlashes)

	r.Get("/healthz", healthHandler(d.Registry))
	r.Get("/ws/chat/{roomID}", d.Chat.ServeHTTP)

	r.Route("/api", func(api chi.Router) {
		api.Post("/auth/login", LoginHandler(d.Users, d.Tokens))

		api.Group(func(protected chi.Router) {
			protected.Use(middleware.Authenticate(d.Resolver))
			protected.Route("/profile", NewProfileHandler(d.Users).RegisterRoutes)
			protected.Route("/rooms", NewRoomHandler(d.Rooms, d.Users, d.Notifier).RegisterRoutes)
			protected.Route("/messages", NewMessageHandler(d.Messages, d.Rooms, d.Dispatcher).RegisterRoutes)
		})
	})

	return r
}

func healthHandler(registry *chat.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]any{
			"status":       "ok",
			"active_rooms": len(registry.Rooms()),
		})
	}
}

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"roomchat/internal/apperr"
	"roomchat/internal/models"
	"roomchat/internal/repository"
	"roomchat/internal/types"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// MessagePoster is the live chat pipeline; REST-created messages go
// through it so connected sessions see them too.
type MessagePoster interface {
	Post(ctx context.Context, roomID int64, sender *models.User, content string) (*models.Message, error)
}

type MessageHandler struct {
	messages repository.MessageRepo
	rooms    repository.RoomRepository
	poster   MessagePoster
}

func NewMessageHandler(messages repository.MessageRepo, rooms repository.RoomRepository, poster MessagePoster) *MessageHandler {
	return &MessageHandler{
		messages: messages,
		rooms:    rooms,
		poster:   poster,
	}
}

func (h *MessageHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Post("/", h.handleCreate)
	r.Get("/{id}", h.handleGet)
	r.Post("/{id}/read", h.handleMarkRead)
}

func (h *MessageHandler) requireParticipant(ctx context.Context, roomID, userID int64) error {
	ok, err := h.rooms.IsParticipant(ctx, roomID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("user %d in room %d: %w", userID, roomID, apperr.ErrForbidden)
	}
	return nil
}

func (h *MessageHandler) handleList(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	rawRoom := r.URL.Query().Get("room")
	if rawRoom == "" {
		respondJSON(w, http.StatusOK, []types.MessageDTO{})
		return
	}
	roomID, err := strconv.ParseInt(rawRoom, 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "room must be a numeric id")
		return
	}

	limit := defaultPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxPageSize)
	}

	if err := h.requireParticipant(r.Context(), roomID, user.ID); err != nil {
		respondErr(w, err, "You are not a participant in this room")
		return
	}

	messages, err := h.messages.Fetch(r.Context(), roomID, limit)
	if err != nil {
		respondErr(w, err, "fetch messages")
		return
	}

	respondJSON(w, http.StatusOK, lo.Map(messages, func(m *models.Message, _ int) types.MessageDTO {
		return types.NewMessageDTO(m)
	}))
}

func (h *MessageHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	var payload types.CreateMessageRequest
	if err := decode(r, &payload); err != nil {
		respondError(w, http.StatusBadRequest, errMessage(err))
		return
	}

	if err := h.requireParticipant(r.Context(), payload.Room, user.ID); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("Invalid room %d", payload.Room))
			return
		}
		respondErr(w, err, "You are not a participant in this room")
		return
	}

	msg, err := h.poster.Post(r.Context(), payload.Room, user, payload.Content)
	if err != nil {
		respondErr(w, err, errMessage(err))
		return
	}
	respondJSON(w, http.StatusCreated, types.NewMessageDTO(msg))
}

// visibleMessage loads a message from a room the caller participates in.
func (h *MessageHandler) visibleMessage(r *http.Request) (*models.Message, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return nil, err
	}

	msg, err := h.messages.Get(r.Context(), id)
	if err != nil {
		return nil, err
	}

	user := currentUser(r)
	ok, err := h.rooms.IsParticipant(r.Context(), msg.RoomID, user.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("message %d: %w", id, apperr.ErrNotFound)
	}
	return msg, nil
}

func (h *MessageHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	msg, err := h.visibleMessage(r)
	if err != nil {
		respondErr(w, err, "Not found.")
		return
	}
	respondJSON(w, http.StatusOK, types.NewMessageDTO(msg))
}

func (h *MessageHandler) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	msg, err := h.visibleMessage(r)
	if err != nil {
		respondErr(w, err, "Not found.")
		return
	}

	if !msg.IsRead {
		if _, err := h.messages.MarkRead(r.Context(), msg.ID); err != nil {
			respondErr(w, err, "mark read")
			return
		}
		if msg, err = h.messages.Get(r.Context(), msg.ID); err != nil {
			respondErr(w, err, "reload message")
			return
		}
	}
	respondJSON(w, http.StatusOK, types.NewMessageDTO(msg))
}

package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"roomchat/internal/apperr"
	"roomchat/internal/mail"
	"roomchat/internal/models"
	"roomchat/internal/repository"
	"roomchat/internal/types"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"
)

type RoomHandler struct {
	rooms    repository.RoomRepository
	users    repository.UserRepository
	notifier mail.Notifier
}

func NewRoomHandler(rooms repository.RoomRepository, users repository.UserRepository, notifier mail.Notifier) *RoomHandler {
	return &RoomHandler{
		rooms:    rooms,
		users:    users,
		notifier: notifier,
	}
}

func (h *RoomHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Post("/", h.handleCreate)
	r.Get("/{id}", h.handleGet)
	r.Put("/{id}", h.handleRename)
	r.Patch("/{id}", h.handleRename)
	r.Post("/{id}/add_participant", h.handleAddParticipant)
}

func (h *RoomHandler) handleList(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	rooms, err := h.rooms.ListRoomsForUser(r.Context(), user.ID)
	if err != nil {
		respondErr(w, err, "list rooms")
		return
	}

	respondJSON(w, http.StatusOK, lo.Map(rooms, func(room *models.Room, _ int) types.RoomDTO {
		return types.NewRoomDTO(room)
	}))
}

func (h *RoomHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	var payload types.CreateRoomRequest
	if err := decode(r, &payload); err != nil {
		respondError(w, http.StatusBadRequest, errMessage(err))
		return
	}

	roomType := models.RoomDirect
	if payload.RoomType != "" {
		roomType = models.RoomType(payload.RoomType)
	}

	participants, missing, err := h.lookupEmails(r.Context(), payload.ParticipantEmails)
	if err != nil {
		respondErr(w, err, "resolve participants")
		return
	}
	if len(missing) > 0 {
		respondError(w, http.StatusBadRequest, "User(s) not found: "+strings.Join(missing, ", "))
		return
	}

	room := &models.Room{
		Name:      payload.Name,
		Type:      roomType,
		CreatedBy: &user.ID,
	}
	if err := h.rooms.CreateRoom(r.Context(), room, participants); err != nil {
		respondErr(w, err, errMessage(err))
		return
	}

	log.Printf("[API] User %d created %s room %d with %d participants", user.ID, room.Type, room.ID, len(room.Participants))
	respondJSON(w, http.StatusCreated, types.NewRoomDTO(room))
}

func (h *RoomHandler) lookupEmails(ctx context.Context, emails []string) ([]int64, []string, error) {
	var ids []int64
	var missing []string
	for _, email := range lo.Uniq(emails) {
		u, err := h.users.GetUserByEmail(ctx, email)
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			missing = append(missing, email)
		case err != nil:
			return nil, nil, err
		default:
			ids = append(ids, u.ID)
		}
	}
	return ids, missing, nil
}

// visibleRoom loads a room the caller participates in. Rooms the caller
// cannot see are reported as missing.
func (h *RoomHandler) visibleRoom(ctx context.Context, roomID int64, user *models.User) (*models.Room, error) {
	room, err := h.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.HasParticipant(user.ID) {
		return nil, fmt.Errorf("room %d: %w", roomID, apperr.ErrNotFound)
	}
	return room, nil
}

func (h *RoomHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	roomID, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusNotFound, "Not found.")
		return
	}

	room, err := h.visibleRoom(r.Context(), roomID, currentUser(r))
	if err != nil {
		respondErr(w, err, "Not found.")
		return
	}
	respondJSON(w, http.StatusOK, types.NewRoomDTO(room))
}

// handleRename sets the room name; a blank or null name clears it.
func (h *RoomHandler) handleRename(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	roomID, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusNotFound, "Not found.")
		return
	}

	room, err := h.visibleRoom(r.Context(), roomID, user)
	if err != nil {
		respondErr(w, err, "Not found.")
		return
	}

	var payload types.UpdateRoomRequest
	if err := decode(r, &payload); err != nil {
		respondError(w, http.StatusBadRequest, errMessage(err))
		return
	}

	name := payload.Name
	if name != nil && strings.TrimSpace(*name) == "" {
		name = nil
	}
	if err := h.rooms.RenameRoom(r.Context(), room.ID, name); err != nil {
		respondErr(w, err, "rename room")
		return
	}

	room, err = h.rooms.GetRoom(r.Context(), room.ID)
	if err != nil {
		respondErr(w, err, "reload room")
		return
	}

	log.Printf("[API] User %d renamed room %d", user.ID, room.ID)
	respondJSON(w, http.StatusOK, types.NewRoomDTO(room))
}

func (h *RoomHandler) handleAddParticipant(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	roomID, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusNotFound, "Not found.")
		return
	}

	room, err := h.visibleRoom(r.Context(), roomID, user)
	if err != nil {
		respondErr(w, err, "Not found.")
		return
	}

	if room.Type != models.RoomGroup {
		respondError(w, http.StatusBadRequest, "Cannot add participants to a direct message room.")
		return
	}

	var payload types.AddParticipantRequest
	if err := decode(r, &payload); err != nil {
		respondError(w, http.StatusBadRequest, errMessage(err))
		return
	}

	added, err := h.users.GetUserByEmail(r.Context(), payload.Email)
	if err != nil {
		respondErr(w, err, "Not found.")
		return
	}

	if room.HasParticipant(added.ID) {
		respondError(w, http.StatusBadRequest, "User is already a participant.")
		return
	}

	if err := h.rooms.AddParticipant(r.Context(), room.ID, added.ID); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			respondError(w, http.StatusBadRequest, "User is already a participant.")
			return
		}
		respondErr(w, err, "add participant")
		return
	}

	room, err = h.rooms.GetRoom(r.Context(), room.ID)
	if err != nil {
		respondErr(w, err, "reload room")
		return
	}

	log.Printf("[API] User %d added user %d to room %d", user.ID, added.ID, room.ID)
	go func(to, by *models.User, room *models.Room) {
		if err := h.notifier.ParticipantAdded(to, room, by); err != nil {
			log.Printf("[MAIL] Failed to notify user %d about room %d: %v", to.ID, room.ID, err)
		}
	}(added, user, room)

	respondJSON(w, http.StatusOK, types.NewRoomDTO(room))
}

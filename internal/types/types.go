package types

import (
	"time"

	"roomchat/internal/models"

	"github.com/samber/lo"
)

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type UserDTO struct {
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type AuthResponse struct {
	Access string  `json:"access"`
	User   UserDTO `json:"user"`
}

type CreateRoomRequest struct {
	Name              *string  `json:"name" validate:"omitempty,max=255"`
	RoomType          string   `json:"room_type" validate:"omitempty,oneof=direct group"`
	ParticipantEmails []string `json:"participant_emails" validate:"required,min=1,dive,email"`
}

type UpdateRoomRequest struct {
	Name *string `json:"name" validate:"omitempty,max=255"`
}

type UpdateProfileRequest struct {
	FirstName *string `json:"first_name" validate:"omitempty,max=150"`
	LastName  *string `json:"last_name" validate:"omitempty,max=150"`
}

type AddParticipantRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type CreateMessageRequest struct {
	Room    int64  `json:"room" validate:"required,gt=0"`
	Content string `json:"content"`
}

type RoomDTO struct {
	ID               int64     `json:"id"`
	Name             *string   `json:"name"`
	RoomType         string    `json:"room_type"`
	Participants     []UserDTO `json:"participants"`
	ParticipantCount int       `json:"participant_count"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type MessageDTO struct {
	ID        int64     `json:"id"`
	Room      int64     `json:"room"`
	Sender    UserDTO   `json:"sender"`
	Content   string    `json:"content"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewUserDTO(u models.User) UserDTO {
	return UserDTO{ID: u.ID, Email: u.Email, FirstName: u.FirstName, LastName: u.LastName}
}

func NewRoomDTO(r *models.Room) RoomDTO {
	participants := lo.Map(r.Participants, func(u models.User, _ int) UserDTO { return NewUserDTO(u) })
	return RoomDTO{
		ID:               r.ID,
		Name:             r.Name,
		RoomType:         string(r.Type),
		Participants:     participants,
		ParticipantCount: len(participants),
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}

func NewMessageDTO(m *models.Message) MessageDTO {
	return MessageDTO{
		ID:        m.ID,
		Room:      m.RoomID,
		Sender:    NewUserDTO(m.Sender),
		Content:   m.Content,
		IsRead:    m.IsRead,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

package models

import "time"

type RoomType string

const (
	RoomDirect RoomType = "direct"
	RoomGroup  RoomType = "group"
)

func (t RoomType) Valid() bool {
	return t == RoomDirect || t == RoomGroup
}

type Room struct {
	ID           int64     `json:"id"`
	Name         *string   `json:"name"`
	Type         RoomType  `json:"room_type"`
	Participants []User    `json:"participants"`
	CreatedBy    *int64    `json:"created_by"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (r *Room) HasParticipant(userID int64) bool {
	for _, p := range r.Participants {
		if p.ID == userID {
			return true
		}
	}
	return false
}

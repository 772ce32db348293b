package models

import "time"

type Message struct {
	ID        int64     `json:"id"`
	RoomID    int64     `json:"room"`
	Sender    User      `json:"sender"`
	Content   string    `json:"content"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

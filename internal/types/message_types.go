package types

import (
	"encoding/json"
	"time"

	"roomchat/internal/models"
)

type MessageType string

const (
	TypeConnectionEstablished MessageType = "connection_established"
	TypeChat                  MessageType = "chat_message"
	TypeTyping                MessageType = "typing"
	TypeError                 MessageType = "error"
)

// EventKind tags a decoded inbound frame.
type EventKind int

const (
	EventChat EventKind = iota
	EventTyping
	EventUnknown
)

func (k EventKind) String() string {
	switch k {
	case EventChat:
		return "chat"
	case EventTyping:
		return "typing"
	default:
		return "unknown"
	}
}

type InboundEvent struct {
	Kind     EventKind
	RawType  string
	Message  string
	IsTyping bool
}

type inboundFrame struct {
	Type     *string `json:"type"`
	Message  string  `json:"message"`
	IsTyping bool    `json:"is_typing"`
}

// DecodeInbound parses one client frame. A missing type means chat_message;
// any other type string decodes to EventUnknown.
func DecodeInbound(data []byte) (InboundEvent, error) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return InboundEvent{}, err
	}

	evt := InboundEvent{Message: frame.Message, IsTyping: frame.IsTyping}
	if frame.Type == nil {
		evt.Kind = EventChat
		return evt, nil
	}

	evt.RawType = *frame.Type
	switch MessageType(*frame.Type) {
	case TypeChat:
		evt.Kind = EventChat
	case TypeTyping:
		evt.Kind = EventTyping
	default:
		evt.Kind = EventUnknown
	}
	return evt, nil
}

type SenderSummary struct {
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

func NewSenderSummary(u *models.User) SenderSummary {
	return SenderSummary{ID: u.ID, Email: u.Email, FirstName: u.FirstName, LastName: u.LastName}
}

type MessagePayload struct {
	ID        int64         `json:"id"`
	Content   string        `json:"content"`
	Sender    SenderSummary `json:"sender"`
	CreatedAt string        `json:"created_at"`
	IsRead    bool          `json:"is_read"`
}

type ConnectionEstablishedEvent struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

type ChatMessageEvent struct {
	Type    MessageType    `json:"type"`
	Message MessagePayload `json:"message"`
}

type TypingEvent struct {
	Type     MessageType `json:"type"`
	UserID   int64       `json:"user_id"`
	Email    string      `json:"email"`
	IsTyping bool        `json:"is_typing"`
}

type ErrorEvent struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

func NewChatMessageEvent(m *models.Message) ChatMessageEvent {
	return ChatMessageEvent{
		Type: TypeChat,
		Message: MessagePayload{
			ID:        m.ID,
			Content:   m.Content,
			Sender:    NewSenderSummary(&m.Sender),
			CreatedAt: m.CreatedAt.UTC().Format(time.RFC3339Nano),
			IsRead:    m.IsRead,
		},
	}
}

func NewTypingEvent(u *models.User, isTyping bool) TypingEvent {
	return TypingEvent{Type: TypeTyping, UserID: u.ID, Email: u.Email, IsTyping: isTyping}
}

func NewErrorEvent(message string) ErrorEvent {
	return ErrorEvent{Type: TypeError, Message: message}
}

func NewConnectionEstablishedEvent(message string) ConnectionEstablishedEvent {
	return ConnectionEstablishedEvent{Type: TypeConnectionEstablished, Message: message}
}

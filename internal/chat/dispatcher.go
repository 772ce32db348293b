package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"unicode/utf8"

	"roomchat/internal/apperr"
	"roomchat/internal/models"
	"roomchat/internal/types"
)

const DefaultMaxMessageLength = 4000

var (
	ErrEmptyMessage   = fmt.Errorf("message content cannot be empty: %w", apperr.ErrValidation)
	ErrMessageTooLong = fmt.Errorf("message content too long: %w", apperr.ErrValidation)
)

type MessageStore interface {
	Save(ctx context.Context, message *models.Message) error
}

// Dispatcher persists chat messages and fans them out to the room. Persist
// and broadcast of one room run under that room's dispatch lock so every
// session observes the store's order.
type Dispatcher struct {
	store     MessageStore
	registry  *Registry
	maxLength int

	locksMu sync.Mutex
	locks   map[int64]*roomLock
}

// roomLock lives in the map while anyone holds or waits for it.
type roomLock struct {
	mu   sync.Mutex
	refs int
}

func NewDispatcher(store MessageStore, registry *Registry, maxLength int) *Dispatcher {
	if maxLength <= 0 {
		maxLength = DefaultMaxMessageLength
	}
	return &Dispatcher{
		store:     store,
		registry:  registry,
		maxLength: maxLength,
		locks:     make(map[int64]*roomLock),
	}
}

func (d *Dispatcher) lockRoom(roomID int64) *roomLock {
	d.locksMu.Lock()
	l, ok := d.locks[roomID]
	if !ok {
		l = &roomLock{}
		d.locks[roomID] = l
	}
	l.refs++
	d.locksMu.Unlock()

	l.mu.Lock()
	return l
}

func (d *Dispatcher) unlockRoom(roomID int64, l *roomLock) {
	l.mu.Unlock()

	d.locksMu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(d.locks, roomID)
	}
	d.locksMu.Unlock()
}

// PendingRooms reports how many rooms have a dispatch in flight.
func (d *Dispatcher) PendingRooms() int {
	d.locksMu.Lock()
	defer d.locksMu.Unlock()
	return len(d.locks)
}

func (d *Dispatcher) validate(content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyMessage
	}
	if utf8.RuneCountInString(content) > d.maxLength {
		return ErrMessageTooLong
	}
	return nil
}

// Post stores content as a message from sender in roomID and broadcasts it
// to every live session of the room, the sender's own sessions included.
// Membership is the caller's responsibility.
func (d *Dispatcher) Post(ctx context.Context, roomID int64, sender *models.User, content string) (*models.Message, error) {
	if err := d.validate(content); err != nil {
		return nil, err
	}

	msg := &models.Message{
		RoomID:  roomID,
		Sender:  *sender,
		Content: content,
	}

	lock := d.lockRoom(roomID)
	defer d.unlockRoom(roomID, lock)

	if err := d.store.Save(ctx, msg); err != nil {
		return nil, fmt.Errorf("persist message in room %d: %w", roomID, err)
	}

	delivered := d.registry.Broadcast(roomID, types.NewChatMessageEvent(msg), nil)
	log.Printf("[DISPATCH] Message %d from user %d in room %d delivered to %d sessions", msg.ID, sender.ID, roomID, delivered)
	return msg, nil
}

// Submit runs Post for a live session. Failures go back to the originating
// session only.
func (d *Dispatcher) Submit(ctx context.Context, s *Session, content string) {
	_, err := d.Post(ctx, s.RoomID, s.User, content)
	switch {
	case err == nil:
	case errors.Is(err, ErrEmptyMessage):
		s.sendError("Message content cannot be empty")
	case errors.Is(err, ErrMessageTooLong):
		s.sendError(fmt.Sprintf("Message content exceeds %d characters", d.maxLength))
	default:
		log.Printf("[DISPATCH ERROR] Session %s: %v", s.ID, err)
		s.sendError("Failed to save message")
	}
}

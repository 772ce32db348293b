package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"roomchat/internal/apperr"
	"roomchat/internal/middleware"
	"roomchat/internal/models"
	"roomchat/internal/types"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait    = 5 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = 10 * time.Second
	maxFrameSize = 64 * 1024
)

type State int32

const (
	StateConnecting State = iota
	StateAuthenticated
	StateJoined
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateJoined:
		return "joined"
	case StateActive:
		return "active"
	default:
		return "closed"
	}
}

// FrameHandler consumes the raw inbound frames of a session.
type FrameHandler interface {
	HandleFrame(ctx context.Context, s *Session, data []byte)
}

type SessionOptions struct {
	SendBuffer int
	RateBurst  int32
	RateRefill time.Duration
}

// Session is one authenticated connection bound to one room. Outbound
// events go through a bounded queue drained by WritePump; Send never
// blocks.
type Session struct {
	ID     uuid.UUID
	User   *models.User
	RoomID int64

	conn     *websocket.Conn
	registry *Registry

	// chat and typing frames draw from separate buckets
	chatLimiter   *middleware.RateLimiter
	typingLimiter *middleware.RateLimiter

	ctx    context.Context
	cancel context.CancelFunc

	state atomic.Int32

	mu     sync.RWMutex
	send   chan []byte
	closed bool
	once   sync.Once
}

func NewSession(user *models.User, roomID int64, registry *Registry, opts SessionOptions) *Session {
	buffer := opts.SendBuffer
	if buffer <= 0 {
		buffer = 256
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:            uuid.New(),
		User:          user,
		RoomID:        roomID,
		registry:      registry,
		chatLimiter:   middleware.NewRateLimiter(opts.RateBurst, opts.RateRefill),
		typingLimiter: middleware.NewRateLimiter(opts.RateBurst, opts.RateRefill),
		ctx:           ctx,
		cancel:        cancel,
		send:          make(chan []byte, buffer),
	}
	s.state.Store(int32(StateAuthenticated))
	return s
}

func (s *Session) State() State { return State(s.state.Load()) }

// advance moves the session forward one step; it fails once the session
// is closed or when from does not match.
func (s *Session) advance(from, to State) bool {
	return s.state.CompareAndSwap(int32(from), int32(to))
}

func (s *Session) Context() context.Context { return s.ctx }

// Active reports whether the session still accepts inbound events.
func (s *Session) Active() bool { return s.State() == StateActive }

// Send enqueues an encoded event. A full queue or a closed session yields
// ErrDeliveryFailed.
func (s *Session) Send(payload []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return fmt.Errorf("session %s closed: %w", s.ID, apperr.ErrDeliveryFailed)
	}

	select {
	case s.send <- payload:
		return nil
	default:
		return fmt.Errorf("session %s send buffer full: %w", s.ID, apperr.ErrDeliveryFailed)
	}
}

func (s *Session) SendEvent(evt any) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return s.Send(payload)
}

func (s *Session) sendError(message string) {
	if err := s.SendEvent(types.NewErrorEvent(message)); err != nil {
		log.Printf("[SESSION] Could not report %q to session %s: %v", message, s.ID, err)
	}
}

// Close leaves the room and stops the pumps. Safe to call any number of
// times from any goroutine.
func (s *Session) Close() {
	s.once.Do(func() {
		s.state.Store(int32(StateClosed))
		s.cancel()
		if s.registry != nil {
			s.registry.Leave(s.RoomID, s)
		}

		s.mu.Lock()
		s.closed = true
		close(s.send)
		s.mu.Unlock()

		log.Printf("[SESSION] Session %s (user %d) closed in room %d", s.ID, s.User.ID, s.RoomID)
	})
}

func (s *Session) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
		s.Close()
	}()

	for {
		select {
		case message, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("[SESSION] Write to %s failed: %v", s.ID, err)
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Session) ReadPump(handler FrameHandler) {
	defer s.Close()

	s.conn.SetReadLimit(maxFrameSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[SESSION] Unexpected close on %s: %v", s.ID, err)
			}
			return
		}

		handler.HandleFrame(s.ctx, s, message)
	}
}

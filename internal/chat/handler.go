package chat

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"roomchat/internal/apperr"
	"roomchat/internal/auth"
	"roomchat/internal/types"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

const DefaultJoinTimeout = 5 * time.Second

type IdentityResolver interface {
	Resolve(ctx context.Context, r *http.Request) auth.Identity
}

type Membership interface {
	IsParticipant(ctx context.Context, roomID, userID int64) (bool, error)
}

type HandlerOptions struct {
	JoinTimeout time.Duration
	Session     SessionOptions
}

// Handler admits WebSocket connections on /ws/chat/{roomID} and routes
// their inbound frames. Every rejection happens before the upgrade.
type Handler struct {
	resolver   IdentityResolver
	rooms      Membership
	registry   *Registry
	dispatcher *Dispatcher
	typing     *TypingNotifier
	upgrader   websocket.Upgrader
	opts       HandlerOptions
}

func NewHandler(resolver IdentityResolver, rooms Membership, registry *Registry, dispatcher *Dispatcher, typing *TypingNotifier, opts HandlerOptions) *Handler {
	if opts.JoinTimeout <= 0 {
		opts.JoinTimeout = DefaultJoinTimeout
	}
	return &Handler{
		resolver:   resolver,
		rooms:      rooms,
		registry:   registry,
		dispatcher: dispatcher,
		typing:     typing,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		opts: opts,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, err := auth.Authorize(h.resolver.Resolve(r.Context(), r))
	if err != nil {
		log.Printf("[HANDSHAKE] Rejected anonymous connection from %s", r.RemoteAddr)
		http.Error(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	roomID, err := strconv.ParseInt(chi.URLParam(r, "roomID"), 10, 64)
	if err != nil || roomID <= 0 {
		http.Error(w, "Room not found", http.StatusNotFound)
		return
	}

	s := NewSession(user, roomID, h.registry, h.opts.Session)
	if err := h.admit(r.Context(), s); err != nil {
		status := apperr.HTTPStatus(err)
		log.Printf("[HANDSHAKE] User %d refused for room %d (%d): %v", user.ID, roomID, status, err)
		s.Close()
		http.Error(w, http.StatusText(status), status)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[HANDSHAKE] Upgrade error for user %d: %v", user.ID, err)
		s.Close()
		return
	}
	s.conn = conn

	// queued before Join so it precedes any broadcast
	if err := s.SendEvent(types.NewConnectionEstablishedEvent(fmt.Sprintf("Connected to room %d", roomID))); err != nil {
		log.Printf("[HANDSHAKE] Could not greet session %s: %v", s.ID, err)
	}

	if err := h.registry.Join(roomID, s); err != nil {
		log.Printf("[HANDSHAKE] Join failed for session %s: %v", s.ID, err)
		s.Close()
		conn.Close()
		return
	}
	s.advance(StateJoined, StateActive)

	go s.WritePump()
	go s.ReadPump(h)
}

// admit checks room membership under the join timeout.
func (h *Handler) admit(ctx context.Context, s *Session) error {
	ctx, cancel := context.WithTimeout(ctx, h.opts.JoinTimeout)
	defer cancel()

	ok, err := h.rooms.IsParticipant(ctx, s.RoomID, s.User.ID)
	if err != nil {
		return fmt.Errorf("membership lookup: %w", err)
	}
	if !ok {
		return fmt.Errorf("user %d is not a participant of room %d: %w", s.User.ID, s.RoomID, apperr.ErrForbidden)
	}

	s.advance(StateAuthenticated, StateJoined)
	return nil
}

// HandleFrame decodes one inbound frame and routes it. Frames read after
// the session left the Active state are discarded.
func (h *Handler) HandleFrame(ctx context.Context, s *Session, data []byte) {
	if !s.Active() {
		return
	}

	evt, err := types.DecodeInbound(data)
	if err != nil {
		s.sendError("Invalid JSON")
		return
	}

	switch evt.Kind {
	case types.EventChat:
		if !s.chatLimiter.Allow() {
			s.sendError("Rate limit exceeded, message not sent")
			return
		}
		h.dispatcher.Submit(ctx, s, evt.Message)
	case types.EventTyping:
		// indicators are ephemeral; excess ones are dropped quietly
		if !s.typingLimiter.Allow() {
			return
		}
		h.typing.Notify(s, evt.IsTyping)
	default:
		s.sendError(fmt.Sprintf("Unknown message type: %q", evt.RawType))
	}
}

package chat

import "roomchat/internal/types"

// TypingNotifier relays ephemeral typing state. Nothing is persisted and
// the originating session never hears its own indicator.
type TypingNotifier struct {
	registry *Registry
}

func NewTypingNotifier(registry *Registry) *TypingNotifier {
	return &TypingNotifier{registry: registry}
}

func (t *TypingNotifier) Notify(s *Session, isTyping bool) int {
	return t.registry.Broadcast(s.RoomID, types.NewTypingEvent(s.User, isTyping), s)
}

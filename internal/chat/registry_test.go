package chat

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"roomchat/internal/apperr"
	"roomchat/internal/models"

	"github.com/stretchr/testify/require"
)

func newJoinedSession(t *testing.T, r *Registry, userID, roomID int64, buffer int) *Session {
	t.Helper()
	s := NewSession(&models.User{ID: userID, Email: "user@example.com"}, roomID, r, SessionOptions{SendBuffer: buffer})
	require.NoError(t, r.Join(roomID, s))
	return s
}

// drain returns every event queued on s without blocking.
func drain(s *Session) []map[string]any {
	var out []map[string]any
	for {
		select {
		case payload, ok := <-s.send:
			if !ok {
				return out
			}
			var evt map[string]any
			if err := json.Unmarshal(payload, &evt); err == nil {
				out = append(out, evt)
			}
		default:
			return out
		}
	}
}

func TestRegistry_JoinLeaveDropsEmptyGroup(t *testing.T) {
	req := require.New(t)
	r := NewRegistry()

	a := newJoinedSession(t, r, 1, 7, 8)
	b := newJoinedSession(t, r, 2, 7, 8)
	c := newJoinedSession(t, r, 3, 9, 8)

	req.Equal(2, r.Count(7))
	req.Equal(1, r.Count(9))
	req.Equal([]int64{7, 9}, r.Rooms())

	r.Leave(7, a)
	r.Leave(7, a)
	req.Equal(1, r.Count(7))

	r.Leave(7, b)
	req.Equal(0, r.Count(7))
	req.Equal([]int64{9}, r.Rooms())

	// a group dropped on the last leave is recreated on the next join
	d := newJoinedSession(t, r, 4, 7, 8)
	req.Equal(1, r.Count(7))

	r.Leave(9, c)
	r.Leave(7, d)
	req.Empty(r.Rooms())
}

func TestRegistry_BroadcastExcludesAndCounts(t *testing.T) {
	req := require.New(t)
	r := NewRegistry()

	a := newJoinedSession(t, r, 1, 7, 8)
	b := newJoinedSession(t, r, 2, 7, 8)
	other := newJoinedSession(t, r, 3, 8, 8)

	req.Equal(2, r.Broadcast(7, map[string]string{"type": "ping"}, nil))
	req.Equal(1, r.Broadcast(7, map[string]string{"type": "ping"}, a))

	req.Len(drain(a), 1)
	req.Len(drain(b), 2)
	req.Empty(drain(other))

	req.Zero(r.Broadcast(404, map[string]string{"type": "ping"}, nil))
}

func TestRegistry_FailedPeerIsIsolatedAndEvicted(t *testing.T) {
	req := require.New(t)
	r := NewRegistry()

	healthy := newJoinedSession(t, r, 1, 7, 8)
	slow := newJoinedSession(t, r, 2, 7, 1)

	// Given a peer whose buffer is already full
	req.NoError(slow.Send([]byte(`{}`)))

	// When the room receives a broadcast
	delivered := r.Broadcast(7, map[string]string{"type": "ping"}, nil)

	// Then the healthy peer still gets it and the slow one is removed
	req.Equal(1, delivered)
	req.Len(drain(healthy), 1)
	req.Equal(int64(1), r.FailedDeliveries())
	req.Eventually(func() bool { return r.Count(7) == 1 }, time.Second, 10*time.Millisecond)
	req.Equal(StateClosed, slow.State())
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	req := require.New(t)
	r := NewRegistry()
	s := newJoinedSession(t, r, 1, 7, 8)

	s.Close()
	s.Close()

	req.Equal(StateClosed, s.State())
	req.Zero(r.Count(7))
	req.ErrorIs(s.Send([]byte(`{}`)), apperr.ErrDeliveryFailed)
	req.Error(s.Context().Err())
}

func TestSession_StateAdvancesInOrder(t *testing.T) {
	req := require.New(t)
	s := NewSession(&models.User{ID: 1}, 7, nil, SessionOptions{})

	req.Equal(StateAuthenticated, s.State())
	req.False(s.advance(StateJoined, StateActive))
	req.True(s.advance(StateAuthenticated, StateJoined))
	req.True(s.advance(StateJoined, StateActive))

	s.Close()
	req.False(s.advance(StateActive, StateActive))
	req.Equal(StateClosed, s.State())
}

func TestRegistry_Shutdown(t *testing.T) {
	req := require.New(t)
	r := NewRegistry()

	a := newJoinedSession(t, r, 1, 7, 8)
	b := newJoinedSession(t, r, 2, 8, 8)

	r.Shutdown()

	req.Equal(StateClosed, a.State())
	req.Equal(StateClosed, b.State())
	req.Empty(r.Rooms())

	late := NewSession(&models.User{ID: 3}, 7, r, SessionOptions{})
	req.ErrorIs(r.Join(7, late), ErrRegistryClosed)
}

func TestRegistry_JoinRefusedIntoExistingGroupAfterClose(t *testing.T) {
	req := require.New(t)
	r := NewRegistry()
	newJoinedSession(t, r, 1, 7, 8)

	// Given a registry marked closed while room 7 still has a group
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	// When a handshake finishes late
	late := NewSession(&models.User{ID: 2}, 7, r, SessionOptions{})

	// Then the join is refused and the group is untouched
	req.ErrorIs(r.Join(7, late), ErrRegistryClosed)
	req.Equal(1, r.Count(7))
}

func TestRegistry_ShutdownRacingJoinsLeavesNoSession(t *testing.T) {
	r := NewRegistry()
	newJoinedSession(t, r, 1, 7, 8)

	var wg sync.WaitGroup
	sessions := make([]*Session, 20)
	for i := range sessions {
		sessions[i] = NewSession(&models.User{ID: int64(i + 2)}, 7, r, SessionOptions{})
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			if err := r.Join(7, s); err != nil {
				s.Close()
			}
		}(sessions[i])
	}
	r.Shutdown()
	wg.Wait()

	require.Empty(t, r.Rooms())
	require.Zero(t, r.Count(7))
}

func TestRegistry_ConcurrentJoinLeaveBroadcast(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			room := id % 3
			s := NewSession(&models.User{ID: id}, room, r, SessionOptions{SendBuffer: 64})
			if err := r.Join(room, s); err != nil {
				t.Error(err)
				return
			}
			for j := 0; j < 10; j++ {
				r.Broadcast(room, map[string]int64{"from": id}, s)
			}
			s.Close()
		}(int64(i))
	}
	wg.Wait()

	require.Empty(t, r.Rooms())
}

func TestRegistry_Stats(t *testing.T) {
	req := require.New(t)
	r := NewRegistry()

	newJoinedSession(t, r, 1, 7, 8)
	newJoinedSession(t, r, 2, 7, 8)
	newJoinedSession(t, r, 3, 9, 8)

	req.Equal(Stats{Rooms: 2, Sessions: 3}, r.Stats())
}

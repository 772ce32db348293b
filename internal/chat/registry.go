package chat

import (
	"encoding/json"
	"errors"
	"log"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

var ErrRegistryClosed = errors.New("registry is shut down")

// group is the broadcast group of one room. A group that has been emptied
// is marked dead and dropped from the registry; late joiners retry with a
// fresh group.
type group struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
	dead     bool
}

// Registry maps room ids to their live sessions. The registry lock only
// guards the rooms map; membership changes and snapshots take the room's
// own lock.
type Registry struct {
	mu     sync.Mutex
	rooms  map[int64]*group
	closed bool

	failed atomic.Int64
}

func NewRegistry() *Registry {
	log.Println("[HUB] Initializing room registry...")
	return &Registry{
		rooms: make(map[int64]*group),
	}
}

func (r *Registry) lookup(roomID int64, create bool) *group {
	r.mu.Lock()
	defer r.mu.Unlock()

	if create && r.closed {
		return nil
	}
	g, ok := r.rooms[roomID]
	if !ok && create {
		g = &group{sessions: make(map[uuid.UUID]*Session)}
		r.rooms[roomID] = g
	}
	return g
}

func (r *Registry) Join(roomID int64, s *Session) error {
	for {
		g := r.lookup(roomID, true)
		if g == nil {
			return ErrRegistryClosed
		}

		g.mu.Lock()
		if g.dead {
			g.mu.Unlock()
			continue
		}
		g.sessions[s.ID] = s
		count := len(g.sessions)
		g.mu.Unlock()

		// Shutdown flips closed before it snapshots, so a join that raced
		// past the snapshot sees the flag here and backs out.
		if r.isClosed() {
			r.Leave(roomID, s)
			return ErrRegistryClosed
		}

		log.Printf("[HUB] Session %s (user %d) joined room %d. Live sessions: %d", s.ID, s.User.ID, roomID, count)
		return nil
	}
}

func (r *Registry) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Leave is idempotent; leaving a room the session is not in is a no-op.
func (r *Registry) Leave(roomID int64, s *Session) {
	g := r.lookup(roomID, false)
	if g == nil {
		return
	}

	g.mu.Lock()
	if _, ok := g.sessions[s.ID]; !ok {
		g.mu.Unlock()
		return
	}
	delete(g.sessions, s.ID)
	remaining := len(g.sessions)
	if remaining == 0 {
		g.dead = true
	}
	g.mu.Unlock()

	if remaining == 0 {
		r.mu.Lock()
		if r.rooms[roomID] == g {
			delete(r.rooms, roomID)
		}
		r.mu.Unlock()
		log.Printf("[HUB] Room %d is empty, dropping its group", roomID)
	}

	log.Printf("[HUB] Session %s left room %d. Live sessions: %d", s.ID, roomID, remaining)
}

// Broadcast delivers evt to every live session of the room except exclude
// and returns how many sessions accepted it. A session that cannot take the
// event is evicted asynchronously; its failure never reaches the caller.
func (r *Registry) Broadcast(roomID int64, evt any, exclude *Session) int {
	payload, err := json.Marshal(evt)
	if err != nil {
		log.Printf("[HUB] CRITICAL: could not encode event for room %d: %v", roomID, err)
		return 0
	}

	g := r.lookup(roomID, false)
	if g == nil {
		return 0
	}

	g.mu.RLock()
	snapshot := lo.Values(g.sessions)
	g.mu.RUnlock()

	delivered := 0
	for _, s := range snapshot {
		if s == exclude {
			continue
		}
		if err := s.Send(payload); err != nil {
			r.failed.Add(1)
			log.Printf("[HUB] WARNING: Delivery to session %s in room %d failed: %v. Evicting.", s.ID, roomID, err)
			go s.Close()
			continue
		}
		delivered++
	}
	return delivered
}

func (r *Registry) Count(roomID int64) int {
	g := r.lookup(roomID, false)
	if g == nil {
		return 0
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.sessions)
}

// Rooms lists the ids of rooms with at least one live session, ascending.
func (r *Registry) Rooms() []int64 {
	r.mu.Lock()
	ids := lo.Keys(r.rooms)
	r.mu.Unlock()

	slices.Sort(ids)
	return ids
}

type Stats struct {
	Rooms            int
	Sessions         int
	FailedDeliveries int64
}

func (r *Registry) Stats() Stats {
	r.mu.Lock()
	groups := lo.Values(r.rooms)
	r.mu.Unlock()

	stats := Stats{Rooms: len(groups), FailedDeliveries: r.failed.Load()}
	for _, g := range groups {
		g.mu.RLock()
		stats.Sessions += len(g.sessions)
		g.mu.RUnlock()
	}
	return stats
}

// FailedDeliveries counts enqueue failures since start.
func (r *Registry) FailedDeliveries() int64 {
	return r.failed.Load()
}

// Shutdown refuses further joins and closes every live session.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	r.closed = true
	groups := lo.Values(r.rooms)
	r.mu.Unlock()

	var sessions []*Session
	for _, g := range groups {
		g.mu.RLock()
		sessions = append(sessions, lo.Values(g.sessions)...)
		g.mu.RUnlock()
	}

	log.Printf("[HUB] Shutdown requested. Closing %d sessions across %d rooms...", len(sessions), len(groups))
	for _, s := range sessions {
		s.Close()
	}
}

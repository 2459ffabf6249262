// Package session drives a game from invitation through active play to
// termination: turn enforcement, disconnect handling, room-scoped broadcast.
package session

import (
	"sync"

	"github.com/chesspark/chesspark-server/internal/router"
	"github.com/chesspark/chesspark-server/pkg/wire"
)

// Room is the ephemeral set of connections entitled to broadcasts for one
// game. Membership may grow with spectators; move authority stays with the
// two participants recorded on the game.
type Room struct {
	GameID string

	mu           sync.Mutex
	conns        map[string]router.Conn // by connection ID
	participants map[string]bool        // userIDs
}

func newRoom(gameID string, participants ...string) *Room {
	r := &Room{
		GameID:       gameID,
		conns:        make(map[string]router.Conn),
		participants: make(map[string]bool),
	}
	for _, p := range participants {
		r.participants[p] = true
	}
	return r
}

func (r *Room) Add(conn router.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[conn.ID()] = conn
}

func (r *Room) Remove(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, connID)
}

// RemoveUser drops every connection bound to userID from the room.
func (r *Room) RemoveUser(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, c := range r.conns {
		if c.UserID() == userID {
			delete(r.conns, id)
		}
	}
}

func (r *Room) IsParticipant(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.participants[userID]
}

func (r *Room) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Broadcast sends ev to every member except exceptConnID. Accepted order is
// preserved: callers invoke Broadcast under the game's serialization lock.
func (r *Room) Broadcast(ev *wire.Event, exceptConnID string) {
	r.mu.Lock()
	members := make([]router.Conn, 0, len(r.conns))
	for id, c := range r.conns {
		if id == exceptConnID {
			continue
		}
		members = append(members, c)
	}
	r.mu.Unlock()
	for _, c := range members {
		c.Send(ev)
	}
}

// Rooms is the registry of live rooms plus the per-game serialization locks
// shared by move processing and membership changes.
type Rooms struct {
	mu    sync.Mutex
	rooms map[string]*Room
	locks map[string]*sync.Mutex
}

func NewRooms() *Rooms {
	return &Rooms{
		rooms: make(map[string]*Room),
		locks: make(map[string]*sync.Mutex),
	}
}

// Create registers a room for gameID with the given participants. An existing
// room is returned unchanged, which makes recreation after a process of
// rejoins idempotent.
func (rs *Rooms) Create(gameID string, participants ...string) *Room {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if r, ok := rs.rooms[gameID]; ok {
		return r
	}
	r := newRoom(gameID, participants...)
	rs.rooms[gameID] = r
	return r
}

func (rs *Rooms) Get(gameID string) (*Room, bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	r, ok := rs.rooms[gameID]
	return r, ok
}

// Destroy drops the room; the serialization lock entry goes with it.
func (rs *Rooms) Destroy(gameID string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	delete(rs.rooms, gameID)
	delete(rs.locks, gameID)
}

func (rs *Rooms) lockFor(gameID string) *sync.Mutex {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	lk, ok := rs.locks[gameID]
	if !ok {
		lk = &sync.Mutex{}
		rs.locks[gameID] = lk
	}
	return lk
}

// WithLock serializes fn against every other operation on gameID. Moves for
// the same game are validated-and-applied one at a time; different games
// proceed in parallel.
func (rs *Rooms) WithLock(gameID string, fn func() error) error {
	lk := rs.lockFor(gameID)
	lk.Lock()
	defer lk.Unlock()
	return fn()
}

// Len reports the number of live rooms.
func (rs *Rooms) Len() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return len(rs.rooms)
}

// IDs returns a snapshot of the live room game IDs.
func (rs *Rooms) IDs() []string {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	ids := make([]string, 0, len(rs.rooms))
	for id := range rs.rooms {
		ids = append(ids, id)
	}
	return ids
}

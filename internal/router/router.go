// Package router is the process-local map of user to live connection. It is
// maintained in lock-step with the presence registry: every bind/unbind pairs
// with a presence update, and every broadcast depends on the two agreeing.
package router

import (
	"sync"

	"github.com/chesspark/chesspark-server/pkg/wire"
)

// Conn is a live client connection handle. Send must not block; it reports
// whether the event was queued.
type Conn interface {
	ID() string
	UserID() string
	Send(ev *wire.Event) bool
	Close(reason string)
}

// Router holds the bidirectional userID↔connection mapping for this process.
type Router struct {
	mu     sync.RWMutex
	byUser map[string]Conn
	byConn map[string]string // connID → userID
}

func New() *Router {
	return &Router{
		byUser: make(map[string]Conn),
		byConn: make(map[string]string),
	}
}

// Bind maps conn's user to conn and returns the displaced connection, if any.
// The caller decides whether to close the displaced handle.
func (r *Router) Bind(conn Conn) Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.byUser[conn.UserID()]
	if prev != nil {
		delete(r.byConn, prev.ID())
	}
	r.byUser[conn.UserID()] = conn
	r.byConn[conn.ID()] = conn.UserID()
	return prev
}

// Unbind removes conn from the map. It is a no-op when the user has already
// been rebound to a newer connection, so a stale read loop cannot unbind its
// successor.
func (r *Router) Unbind(conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.byUser[conn.UserID()]
	if !ok || cur.ID() != conn.ID() {
		return false
	}
	delete(r.byUser, conn.UserID())
	delete(r.byConn, conn.ID())
	return true
}

// Resolve returns the live connection for userID.
func (r *Router) Resolve(userID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byUser[userID]
	return c, ok
}

// Send delivers ev to userID's connection. False means the user is not
// reachable in this process or the connection's buffer is full.
func (r *Router) Send(userID string, ev *wire.Event) bool {
	c, ok := r.Resolve(userID)
	if !ok {
		return false
	}
	return c.Send(ev)
}

// BroadcastAll sends ev to every bound connection.
func (r *Router) BroadcastAll(ev *wire.Event) {
	r.mu.RLock()
	conns := make([]Conn, 0, len(r.byUser))
	for _, c := range r.byUser {
		conns = append(conns, c)
	}
	r.mu.RUnlock()
	for _, c := range conns {
		c.Send(ev)
	}
}

// Len reports the number of bound users.
func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

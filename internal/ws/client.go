package ws

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/chesspark/chesspark-server/pkg/wire"
)

const (
	sendBuffer   = 64
	writeTimeout = 10 * time.Second
)

// client is one websocket connection. It satisfies router.Conn: Send queues
// without blocking and the write pump drains the queue, so a slow reader can
// never stall a broadcast.
type client struct {
	id   string
	conn *websocket.Conn
	send chan *wire.Event

	done      chan struct{}
	closeOnce sync.Once

	mu       sync.RWMutex
	userID   string
	username string
}

func newClient(conn *websocket.Conn) *client {
	return &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan *wire.Event, sendBuffer),
		done: make(chan struct{}),
	}
}

func (c *client) ID() string { return c.id }

func (c *client) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

func (c *client) Username() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.username
}

func (c *client) setIdentity(userID, username string) {
	c.mu.Lock()
	c.userID = userID
	c.username = username
	c.mu.Unlock()
}

// Send queues ev for delivery. False means the connection is closed or its
// buffer is full; callers treat an undeliverable event as a missed one-shot.
func (c *client) Send(ev *wire.Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- ev:
		return true
	default:
		return false
	}
}

func (c *client) Close(reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close(websocket.StatusNormalClosure, reason)
	})
}

func (c *client) writePump(ctx context.Context) {
	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		case ev := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, c.conn, ev)
			cancel()
			if err != nil {
				c.Close("write failure")
				return
			}
		}
	}
}

// Package ws is the realtime channel gateway: it accepts websocket
// connections and dispatches typed events to the session coordinator. Each
// event type has an explicit handler taking an immutable payload; no state is
// shared between handlers beyond the injected dependencies.
package ws

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/chesspark/chesspark-server/internal/domain"
	"github.com/chesspark/chesspark-server/internal/obslog"
	"github.com/chesspark/chesspark-server/internal/presence"
	"github.com/chesspark/chesspark-server/internal/router"
	"github.com/chesspark/chesspark-server/internal/session"
	"github.com/chesspark/chesspark-server/pkg/wire"
)

// UserDirectory keeps the archive's users table in sync with identifies.
type UserDirectory interface {
	UpsertUser(ctx context.Context, id, username string) error
}

type Gateway struct {
	coord *session.Coordinator
	reg   *presence.Registry
	rt    *router.Router
	users UserDirectory // optional
}

func NewGateway(coord *session.Coordinator, reg *presence.Registry, rt *router.Router, users UserDirectory) *Gateway {
	return &Gateway{coord: coord, reg: reg, rt: rt, users: users}
}

// ServeWS upgrades the request and serves the connection until it drops.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		OriginPatterns:  []string{"*"},
	})
	if err != nil {
		obslog.L().Warn("ws_accept_error", zap.Error(err))
		return
	}
	c := newClient(conn)
	ctx := r.Context()
	go c.writePump(ctx)

	obslog.L().Debug("ws_open", zap.String("conn_id", c.ID()))
	g.readLoop(ctx, c)
	g.onDisconnect(c)
}

func (g *Gateway) readLoop(ctx context.Context, c *client) {
	for {
		var ev wire.Event
		if err := wsjson.Read(ctx, c.conn, &ev); err != nil {
			return
		}
		g.dispatch(ctx, c, &ev)
	}
}

// dispatch routes one event. Handler panics are isolated to the originating
// request; they must never take the shared process down.
func (g *Gateway) dispatch(ctx context.Context, c *client, ev *wire.Event) {
	defer func() {
		if r := recover(); r != nil {
			obslog.L().Error("ws_handler_panic",
				zap.String("conn_id", c.ID()),
				zap.String("event", string(ev.Type)),
				zap.Any("panic", r),
			)
			g.sendErr(c, domain.Transient("internal error, please retry"))
		}
	}()

	if ev.Type == wire.EventIdentify {
		g.handleIdentify(ctx, c, ev)
		return
	}
	if c.UserID() == "" {
		g.sendErr(c, domain.Unauthorized("identify before sending events"))
		return
	}

	var err error
	switch ev.Type {
	case wire.EventHeartbeat:
		err = g.reg.Heartbeat(ctx, c.UserID())
	case wire.EventInvite:
		var p wire.Invite
		if err = ev.Decode(&p); err == nil {
			err = g.coord.Invite(ctx, c.UserID(), p.InviteeID)
		}
	case wire.EventAccept:
		var p wire.Accept
		if err = ev.Decode(&p); err == nil {
			_, err = g.coord.Accept(ctx, p.InviterID, c.UserID())
		}
	case wire.EventDecline:
		var p wire.Decline
		if err = ev.Decode(&p); err == nil {
			err = g.coord.Decline(ctx, c.UserID(), p.InviterID)
		}
	case wire.EventSubmitMove:
		var p wire.SubmitMove
		if err = ev.Decode(&p); err == nil {
			_, err = g.coord.SubmitMove(ctx, c.UserID(), c.ID(), p.GameID, p.From, p.To, p.Promotion)
		}
	case wire.EventResign:
		var p wire.Resign
		if err = ev.Decode(&p); err == nil {
			_, err = g.coord.Resign(ctx, c.UserID(), p.GameID)
		}
	case wire.EventRejoin:
		var p wire.Rejoin
		if err = ev.Decode(&p); err == nil {
			_, err = g.coord.Rejoin(ctx, c.UserID(), p.GameID)
		}
	case wire.EventJoinRoom:
		var p wire.JoinRoom
		if err = ev.Decode(&p); err == nil {
			err = g.coord.JoinRoom(ctx, c.UserID(), p.GameID)
		}
	case wire.EventLeaveRoom:
		var p wire.LeaveRoom
		if err = ev.Decode(&p); err == nil {
			err = g.coord.LeaveRoom(ctx, c.UserID(), p.GameID)
		}
	default:
		err = domain.InvalidState("unknown event type " + string(ev.Type))
	}
	if err != nil {
		g.sendErr(c, err)
	}
}

func (g *Gateway) handleIdentify(ctx context.Context, c *client, ev *wire.Event) {
	var p wire.Identify
	if err := ev.Decode(&p); err != nil {
		g.sendErr(c, domain.InvalidState("malformed identify payload"))
		return
	}
	userID := strings.TrimSpace(p.UserID)
	username := strings.TrimSpace(p.Username)
	if userID == "" {
		g.sendErr(c, domain.InvalidState("user id is required"))
		return
	}
	if username == "" {
		username = userID
	}
	c.setIdentity(userID, username)

	if g.users != nil {
		if err := g.users.UpsertUser(ctx, userID, username); err != nil {
			obslog.L().Warn("ws_upsert_user_error", zap.String("user_id", userID), zap.Error(err))
		}
	}

	// The registry write comes first: a failed identify must leave the router
	// untouched, or the two would disagree about reachability.
	if _, err := g.reg.SetOnline(ctx, userID, username, c.ID()); err != nil {
		g.sendErr(c, err)
		return
	}
	// a second connection for the same user invalidates the first
	if prev := g.rt.Bind(c); prev != nil {
		prev.Close("superseded by a new connection")
	}
	obslog.L().Info("ws_identify",
		zap.String("conn_id", c.ID()),
		zap.String("user_id", userID),
	)
	g.BroadcastSnapshot(ctx)
}

func (g *Gateway) onDisconnect(c *client) {
	ctx := context.Background()
	if uid := c.UserID(); uid != "" {
		g.rt.Unbind(c)
		if err := g.coord.Disconnect(ctx, uid, c.ID()); err != nil {
			obslog.L().Warn("ws_disconnect_error", zap.String("user_id", uid), zap.Error(err))
		}
	}
	c.Close("bye")
	obslog.L().Debug("ws_close", zap.String("conn_id", c.ID()))
}

// BroadcastSnapshot pushes the online-user list to every bound connection.
// The coordinator calls this after each presence transition it performs.
func (g *Gateway) BroadcastSnapshot(ctx context.Context) {
	recs, err := g.reg.ListOnline(ctx, "", "")
	if err != nil {
		obslog.L().Warn("ws_snapshot_error", zap.Error(err))
		return
	}
	users := make([]wire.OnlineUser, 0, len(recs))
	for _, rec := range recs {
		users = append(users, wire.OnlineUser{
			UserID:   rec.UserID,
			Username: rec.Username,
			Status:   string(rec.Status),
		})
	}
	g.rt.BroadcastAll(wire.NewEvent(wire.EventOnlineUsers, wire.OnlineUsersSnapshot{Users: users}))
}

func (g *Gateway) sendErr(c *client, err error) {
	c.Send(wire.NewEvent(wire.EventError, wire.Error{
		Code:   string(domain.KindOf(err)),
		Reason: domain.Reason(err),
	}))
}

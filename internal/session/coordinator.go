package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chesspark/chesspark-server/internal/domain"
	"github.com/chesspark/chesspark-server/internal/game"
	"github.com/chesspark/chesspark-server/internal/obslog"
	"github.com/chesspark/chesspark-server/internal/presence"
	"github.com/chesspark/chesspark-server/internal/router"
	"github.com/chesspark/chesspark-server/internal/validator"
	"github.com/chesspark/chesspark-server/pkg/wire"
)

// Archiver persists final results and stat updates. Failures here are logged
// and never undo a completed game.
type Archiver interface {
	SaveResult(ctx context.Context, g *game.Game, method string) error
	ApplyStats(ctx context.Context, g *game.Game) error
}

// Options tune coordinator behaviour.
type Options struct {
	AllowSpectators bool
	// ForfeitAfter ends a game against a participant who stays disconnected
	// this long. Zero disables the clock.
	ForfeitAfter time.Duration
}

// Coordinator is the state machine governing invitation, play and
// termination of games. The persisted game record stays authoritative even
// when connections drop mid-game.
type Coordinator struct {
	store    *game.Store
	archive  Archiver
	validate validator.Validator
	presence *presence.Registry
	router   *router.Router
	rooms    *Rooms
	opts     Options

	onPresenceChange func(ctx context.Context)

	forfeitMu sync.Mutex
	forfeits  map[string]*time.Timer
}

func NewCoordinator(store *game.Store, archive Archiver, v validator.Validator, reg *presence.Registry, rt *router.Router, rooms *Rooms, opts Options) *Coordinator {
	return &Coordinator{
		store:    store,
		archive:  archive,
		validate: v,
		presence: reg,
		router:   rt,
		rooms:    rooms,
		opts:     opts,
		forfeits: make(map[string]*time.Timer),
	}
}

// SetPresenceChanged registers the callback fired after any presence
// transition the coordinator performs (game start/end, disconnect).
func (c *Coordinator) SetPresenceChanged(fn func(ctx context.Context)) { c.onPresenceChange = fn }

func (c *Coordinator) presenceChanged(ctx context.Context) {
	if c.onPresenceChange != nil {
		c.onPresenceChange(ctx)
	}
}

// Invite delivers an invitation notification to the invitee's connection.
// Delivery is one-shot with no durable queue: an unreachable invitee means
// the invite silently fails and the inviter retries.
func (c *Coordinator) Invite(ctx context.Context, inviterID, inviteeID string) error {
	inviterID, inviteeID = strings.TrimSpace(inviterID), strings.TrimSpace(inviteeID)
	if inviterID == "" || inviteeID == "" {
		return domain.InvalidState("inviter and invitee are required")
	}
	if inviterID == inviteeID {
		return domain.InvalidState("you cannot invite yourself")
	}
	invitee, err := c.presence.Get(ctx, inviteeID)
	if err != nil {
		return err
	}
	if invitee == nil || invitee.Status != presence.StatusOnline {
		return domain.InvalidState("user is not online")
	}
	if g, err := c.store.ActiveByUser(ctx, inviterID); err != nil {
		return err
	} else if g != nil {
		return domain.InvalidState("finish your current game first")
	}
	inviter, err := c.presence.Get(ctx, inviterID)
	if err != nil {
		return err
	}
	if inviter == nil {
		return domain.NotFound("you are not connected")
	}

	delivered := c.router.Send(inviteeID, wire.NewEvent(wire.EventInvitationReceived, wire.InvitationReceived{
		InviterID:   inviterID,
		InviterName: inviter.Username,
	}))
	obslog.L().Info("session_invite",
		zap.String("inviter_id", inviterID),
		zap.String("invitee_id", inviteeID),
		zap.Bool("delivered", delivered),
	)
	return nil
}

// Decline notifies the inviter only; no state changes.
func (c *Coordinator) Decline(ctx context.Context, inviteeID, inviterID string) error {
	invitee, err := c.presence.Get(ctx, inviteeID)
	if err != nil {
		return err
	}
	name := inviteeID
	if invitee != nil {
		name = invitee.Username
	}
	c.router.Send(inviterID, wire.NewEvent(wire.EventInvitationDeclined, wire.InvitationDeclined{
		InviteeID:   inviteeID,
		InviteeName: name,
	}))
	obslog.L().Info("session_decline",
		zap.String("inviter_id", inviterID),
		zap.String("invitee_id", inviteeID),
	)
	return nil
}

// Accept creates the game record, the room and the in_game presences for
// both participants, all-or-nothing. The inviter plays white. Seat
// acquisition makes acceptance atomic with respect to other accepts and
// invites touching the same users: in a double-accept race exactly one game
// record is created and the loser fails with an invalid-state rejection.
func (c *Coordinator) Accept(ctx context.Context, inviterID, inviteeID string) (*game.Game, error) {
	inviterID, inviteeID = strings.TrimSpace(inviterID), strings.TrimSpace(inviteeID)
	if inviterID == "" || inviteeID == "" || inviterID == inviteeID {
		return nil, domain.InvalidState("invalid participants")
	}
	inviter, err := c.presence.Get(ctx, inviterID)
	if err != nil {
		return nil, err
	}
	if inviter == nil {
		return nil, domain.NotFound("inviter is no longer online")
	}
	invitee, err := c.presence.Get(ctx, inviteeID)
	if err != nil {
		return nil, err
	}
	if invitee == nil {
		return nil, domain.NotFound("you are not connected")
	}

	gameID := "game-" + uuid.NewString()
	if err := c.store.AcquireSeats(ctx, gameID, inviterID, inviteeID); err != nil {
		return nil, err
	}

	now := time.Now()
	g := &game.Game{
		ID:         gameID,
		WhiteID:    inviterID,
		WhiteName:  inviter.Username,
		BlackID:    inviteeID,
		BlackName:  invitee.Username,
		FEN:        game.StartFEN,
		Moves:      []game.MoveRecord{},
		MovesUCI:   []string{},
		Status:     game.StatusActive,
		Result:     game.ResultInProgress,
		CreatedAt:  now,
		LastMoveAt: now,
	}
	if err := c.store.Create(ctx, g); err != nil {
		c.store.ReleaseSeats(ctx, gameID, inviterID, inviteeID)
		return nil, domain.Transient("could not create game, please retry")
	}

	room := c.rooms.Create(gameID, inviterID, inviteeID)
	for _, uid := range []string{inviterID, inviteeID} {
		if conn, ok := c.router.Resolve(uid); ok {
			room.Add(conn)
		}
	}

	for i, uid := range []string{inviterID, inviteeID} {
		if err := c.presence.SetStatus(ctx, uid, presence.StatusInGame); err != nil {
			// roll the whole acceptance back
			if i == 1 {
				_ = c.presence.SetStatus(ctx, inviterID, presence.StatusOnline)
			}
			c.rooms.Destroy(gameID)
			c.store.ReleaseSeats(ctx, gameID, inviterID, inviteeID)
			_, _ = c.store.Update(ctx, gameID, func(cur *game.Game) error {
				cur.Status = game.StatusAborted
				return nil
			})
			return nil, domain.Transient("could not start game, please retry")
		}
	}

	c.router.Send(inviterID, wire.NewEvent(wire.EventGameStart, wire.GameStart{
		GameID: gameID, YourColor: string(game.White),
		OpponentID: inviteeID, OpponentName: invitee.Username, FEN: g.FEN,
	}))
	c.router.Send(inviteeID, wire.NewEvent(wire.EventGameStart, wire.GameStart{
		GameID: gameID, YourColor: string(game.Black),
		OpponentID: inviterID, OpponentName: inviter.Username, FEN: g.FEN,
	}))

	obslog.L().Info("session_start",
		zap.String("game_id", gameID),
		zap.String("white_id", inviterID),
		zap.String("black_id", inviteeID),
	)
	c.presenceChanged(ctx)
	return g, nil
}

// SubmitMove validates and applies one move. The whole
// validate-apply-broadcast sequence holds the per-game lock, and the durable
// write happens before any broadcast: a failed write is reported to the
// sender only and leaves the record unchanged.
func (c *Coordinator) SubmitMove(ctx context.Context, userID, connID, gameID, from, to, promotion string) (*game.Game, error) {
	input := strings.ToLower(strings.TrimSpace(from) + strings.TrimSpace(to) + strings.TrimSpace(promotion))
	var updated *game.Game
	err := c.rooms.WithLock(gameID, func() error {
		g, err := c.store.Get(ctx, gameID)
		if err != nil {
			return err
		}
		if g == nil {
			return domain.NotFound("game not found")
		}
		if g.Status != game.StatusActive {
			return domain.InvalidState("game is not active")
		}
		color := g.ParticipantColor(userID)
		if color == "" {
			return domain.Unauthorized("you are not a participant of this game")
		}
		if _, ok := c.router.Resolve(userID); !ok {
			return domain.Unauthorized("connection is not bound, rejoin the game")
		}
		if g.Turn() != color {
			return domain.Unauthorized("not your turn")
		}

		verdict, err := c.validate.Apply(g.MovesUCI, input)
		if err != nil {
			return err
		}

		baseLen := len(g.MovesUCI)
		now := time.Now()
		updated, err = c.store.Update(ctx, gameID, func(cur *game.Game) error {
			if cur.Status != game.StatusActive {
				return domain.InvalidState("game is not active")
			}
			if len(cur.MovesUCI) != baseLen {
				return domain.Transient("concurrent move detected, please retry")
			}
			cur.Moves = append(cur.Moves, game.MoveRecord{
				From:      verdict.From,
				To:        verdict.To,
				Piece:     verdict.Piece,
				Captured:  verdict.Captured,
				Promotion: verdict.Promotion,
				SAN:       verdict.SAN,
				UCI:       verdict.UCI,
				At:        now,
			})
			cur.MovesUCI = append(cur.MovesUCI, verdict.UCI)
			cur.FEN = verdict.FEN
			cur.LastMoveAt = now
			if verdict.GameOver {
				cur.Status = game.StatusCompleted
				cur.EndMethod = verdict.Method
				switch verdict.Winner {
				case string(game.White):
					cur.Result = game.ResultWhiteWin
					cur.WinnerID = cur.WhiteID
				case string(game.Black):
					cur.Result = game.ResultBlackWin
					cur.WinnerID = cur.BlackID
				default:
					cur.Result = game.ResultDraw
				}
			}
			return nil
		})
		if err != nil {
			return err
		}

		last := updated.Moves[len(updated.Moves)-1]
		if room, ok := c.rooms.Get(gameID); ok {
			room.Broadcast(wire.NewEvent(wire.EventMoveApplied, wire.MoveApplied{
				GameID:  gameID,
				Move:    moveToWire(last),
				FEN:     updated.FEN,
				Turn:    string(updated.Turn()),
				IsCheck: verdict.IsCheck,
			}), connID)
		}

		obslog.L().Info("session_move",
			zap.String("game_id", gameID),
			zap.String("user_id", userID),
			zap.String("uci", verdict.UCI),
			zap.String("san", verdict.SAN),
			zap.String("status", string(updated.Status)),
		)
		if updated.Status == game.StatusCompleted {
			c.finishLocked(ctx, updated)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Resign ends an active game unconditionally in the opponent's favour.
func (c *Coordinator) Resign(ctx context.Context, userID, gameID string) (*game.Game, error) {
	var updated *game.Game
	err := c.rooms.WithLock(gameID, func() error {
		g, err := c.store.Get(ctx, gameID)
		if err != nil {
			return err
		}
		if g == nil {
			return domain.NotFound("game not found")
		}
		if g.ParticipantColor(userID) == "" {
			return domain.Unauthorized("you are not a participant of this game")
		}
		if g.Status != game.StatusActive {
			return domain.InvalidState("game is not active")
		}
		updated, err = c.store.Update(ctx, gameID, func(cur *game.Game) error {
			if cur.Status != game.StatusActive {
				return domain.InvalidState("game is not active")
			}
			cur.Status = game.StatusCompleted
			cur.WinnerID = cur.OpponentID(userID)
			if cur.ParticipantColor(userID) == game.White {
				cur.Result = game.ResultBlackWin
			} else {
				cur.Result = game.ResultWhiteWin
			}
			cur.EndMethod = "resignation"
			cur.LastMoveAt = time.Now()
			return nil
		})
		if err != nil {
			return err
		}
		obslog.L().Info("session_resign",
			zap.String("game_id", gameID),
			zap.String("resigner", userID),
			zap.String("winner", updated.WinnerID),
		)
		c.finishLocked(ctx, updated)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Disconnect handles loss of a user's connection, explicit or reaped. An
// active game survives: the record and room stay intact, only the opponent is
// notified. connID guards against a superseded connection disconnecting its
// successor; the reaper passes an empty connID.
func (c *Coordinator) Disconnect(ctx context.Context, userID, connID string) error {
	rec, err := c.presence.Get(ctx, userID)
	if err != nil {
		return err
	}
	if rec == nil {
		return nil // already gone
	}
	if connID != "" && rec.ConnID != connID {
		return nil // a newer connection owns this user now
	}
	if err := c.presence.Remove(ctx, userID); err != nil {
		return err
	}
	if conn, ok := c.router.Resolve(userID); ok && conn.ID() == rec.ConnID {
		c.router.Unbind(conn)
		conn.Close("disconnected")
	}

	g, err := c.store.ActiveByUser(ctx, userID)
	if err == nil && g != nil {
		_ = c.rooms.WithLock(g.ID, func() error {
			if room, ok := c.rooms.Get(g.ID); ok {
				room.RemoveUser(userID)
			}
			c.router.Send(g.OpponentID(userID), wire.NewEvent(wire.EventOpponentDisconnected, wire.OpponentDisconnected{
				GameID: g.ID,
				UserID: userID,
			}))
			return nil
		})
		c.armForfeit(g.ID, userID)
	}
	obslog.L().Info("session_disconnect",
		zap.String("user_id", userID),
		zap.String("conn_id", rec.ConnID),
		zap.Bool("in_game", g != nil),
	)
	c.presenceChanged(ctx)
	return nil
}

// HandleEvict is the reaper's entry point: same per-user exclusion and
// notification path as an explicit disconnect. A silently vanished in-game
// user is disconnected, never aborted.
func (c *Coordinator) HandleEvict(ctx context.Context, rec *presence.Record) {
	if rec == nil {
		return
	}
	if err := c.Disconnect(ctx, rec.UserID, ""); err != nil {
		obslog.L().Warn("session_evict_error", zap.String("user_id", rec.UserID), zap.Error(err))
	}
}

// Rejoin re-adds a participant's new connection to the room of an active
// game without touching the record, and replays the current state to them.
func (c *Coordinator) Rejoin(ctx context.Context, userID, gameID string) (*game.Game, error) {
	conn, ok := c.router.Resolve(userID)
	if !ok {
		return nil, domain.InvalidState("identify before rejoining")
	}
	var g *game.Game
	err := c.rooms.WithLock(gameID, func() error {
		var err error
		g, err = c.store.Get(ctx, gameID)
		if err != nil {
			return err
		}
		if g == nil {
			return domain.NotFound("game not found")
		}
		if g.ParticipantColor(userID) == "" {
			return domain.Unauthorized("you are not a participant of this game")
		}
		if g.Status != game.StatusActive {
			return domain.InvalidState("game is already finished")
		}
		// the room is rebuildable from the record after a restart
		room := c.rooms.Create(gameID, g.WhiteID, g.BlackID)
		room.Add(conn)
		if err := c.presence.SetStatus(ctx, userID, presence.StatusInGame); err != nil {
			return err
		}
		c.cancelForfeit(gameID, userID)
		conn.Send(wire.NewEvent(wire.EventGameState, gameStateToWire(g)))
		c.router.Send(g.OpponentID(userID), wire.NewEvent(wire.EventOpponentReconnected, wire.OpponentReconnected{
			GameID: gameID,
			UserID: userID,
		}))
		return nil
	})
	if err != nil {
		return nil, err
	}
	obslog.L().Info("session_rejoin",
		zap.String("game_id", gameID),
		zap.String("user_id", userID),
	)
	c.presenceChanged(ctx)
	return g, nil
}

// JoinRoom admits a connection to a game's broadcast room. Participants are
// treated as rejoining; everyone else is a spectator and only admitted when
// spectating is enabled. Spectators never gain move authority.
func (c *Coordinator) JoinRoom(ctx context.Context, userID, gameID string) error {
	conn, ok := c.router.Resolve(userID)
	if !ok {
		return domain.InvalidState("identify before joining a room")
	}
	return c.rooms.WithLock(gameID, func() error {
		g, err := c.store.Get(ctx, gameID)
		if err != nil {
			return err
		}
		if g == nil {
			return domain.NotFound("game not found")
		}
		if g.ParticipantColor(userID) == "" && !c.opts.AllowSpectators {
			return domain.Unauthorized("spectating is not allowed")
		}
		room := c.rooms.Create(gameID, g.WhiteID, g.BlackID)
		room.Add(conn)
		conn.Send(wire.NewEvent(wire.EventGameState, gameStateToWire(g)))
		obslog.L().Info("session_room_join",
			zap.String("game_id", gameID),
			zap.String("user_id", userID),
			zap.Bool("spectator", g.ParticipantColor(userID) == ""),
		)
		return nil
	})
}

// LeaveRoom removes the user's connections from the room; the game record is
// unaffected.
func (c *Coordinator) LeaveRoom(ctx context.Context, userID, gameID string) error {
	return c.rooms.WithLock(gameID, func() error {
		if room, ok := c.rooms.Get(gameID); ok {
			room.RemoveUser(userID)
		}
		return nil
	})
}

// finishLocked runs the completion path: archive, stats, seats, presences,
// finish broadcast, room teardown. Caller holds the game lock.
func (c *Coordinator) finishLocked(ctx context.Context, g *game.Game) {
	if c.archive != nil {
		if err := c.archive.SaveResult(ctx, g, g.EndMethod); err != nil {
			obslog.L().Error("session_result_persist_error", zap.String("game_id", g.ID), zap.Error(err))
		}
		if err := c.archive.ApplyStats(ctx, g); err != nil {
			obslog.L().Error("session_stats_error", zap.String("game_id", g.ID), zap.Error(err))
		}
	}
	c.store.ReleaseSeats(ctx, g.ID, g.WhiteID, g.BlackID)
	for _, uid := range []string{g.WhiteID, g.BlackID} {
		c.cancelForfeit(g.ID, uid)
		if rec, err := c.presence.Get(ctx, uid); err == nil && rec != nil {
			_ = c.presence.SetStatus(ctx, uid, presence.StatusOnline)
		}
	}
	if room, ok := c.rooms.Get(g.ID); ok {
		room.Broadcast(wire.NewEvent(wire.EventGameFinished, wire.GameFinished{
			GameID:   g.ID,
			Result:   string(g.Result),
			WinnerID: g.WinnerID,
			Reason:   g.EndMethod,
		}), "")
	}
	c.rooms.Destroy(g.ID)
	obslog.L().Info("session_finish",
		zap.String("game_id", g.ID),
		zap.String("result", string(g.Result)),
		zap.String("winner_id", g.WinnerID),
		zap.String("method", g.EndMethod),
	)
	c.presenceChanged(ctx)
}

// SweepRooms destroys rooms whose game record is gone or terminal. The
// completion path tears rooms down itself; the sweep covers games that end
// without it, such as records expired after both players abandoned.
func (c *Coordinator) SweepRooms(ctx context.Context) {
	for _, id := range c.rooms.IDs() {
		_ = c.rooms.WithLock(id, func() error {
			g, err := c.store.Get(ctx, id)
			if err != nil {
				return nil
			}
			if g != nil && !g.Terminal() {
				return nil
			}
			c.rooms.Destroy(id)
			obslog.L().Info("session_room_sweep",
				zap.String("game_id", id),
				zap.Bool("record_missing", g == nil),
			)
			return nil
		})
	}
}

// RunRoomSweeper blocks until ctx is cancelled.
func (c *Coordinator) RunRoomSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.SweepRooms(ctx)
		}
	}
}

func (c *Coordinator) armForfeit(gameID, userID string) {
	if c.opts.ForfeitAfter <= 0 {
		return
	}
	key := gameID + "/" + userID
	c.forfeitMu.Lock()
	defer c.forfeitMu.Unlock()
	if t, ok := c.forfeits[key]; ok {
		t.Stop()
	}
	c.forfeits[key] = time.AfterFunc(c.opts.ForfeitAfter, func() { c.forfeit(gameID, userID) })
}

func (c *Coordinator) cancelForfeit(gameID, userID string) {
	key := gameID + "/" + userID
	c.forfeitMu.Lock()
	defer c.forfeitMu.Unlock()
	if t, ok := c.forfeits[key]; ok {
		t.Stop()
		delete(c.forfeits, key)
	}
}

func (c *Coordinator) forfeit(gameID, userID string) {
	ctx := context.Background()
	defer c.cancelForfeit(gameID, userID)
	_ = c.rooms.WithLock(gameID, func() error {
		if _, ok := c.router.Resolve(userID); ok {
			return nil // came back without rejoining; leave the game alone
		}
		g, err := c.store.Get(ctx, gameID)
		if err != nil || g == nil || g.Status != game.StatusActive {
			return nil
		}
		updated, err := c.store.Update(ctx, gameID, func(cur *game.Game) error {
			if cur.Status != game.StatusActive {
				return domain.InvalidState("game is not active")
			}
			cur.Status = game.StatusCompleted
			cur.WinnerID = cur.OpponentID(userID)
			if cur.ParticipantColor(userID) == game.White {
				cur.Result = game.ResultBlackWin
			} else {
				cur.Result = game.ResultWhiteWin
			}
			cur.EndMethod = "abandonment"
			cur.LastMoveAt = time.Now()
			return nil
		})
		if err != nil {
			obslog.L().Warn("session_forfeit_error", zap.String("game_id", gameID), zap.Error(err))
			return nil
		}
		obslog.L().Info("session_forfeit",
			zap.String("game_id", gameID),
			zap.String("abandoner", userID),
			zap.String("winner", updated.WinnerID),
		)
		c.finishLocked(ctx, updated)
		return nil
	})
}

func moveToWire(m game.MoveRecord) wire.Move {
	return wire.Move{
		From:      m.From,
		To:        m.To,
		Piece:     m.Piece,
		Captured:  m.Captured,
		Promotion: m.Promotion,
		SAN:       m.SAN,
		UCI:       m.UCI,
		At:        m.At,
	}
}

func gameStateToWire(g *game.Game) wire.GameState {
	moves := make([]wire.Move, 0, len(g.Moves))
	for _, m := range g.Moves {
		moves = append(moves, moveToWire(m))
	}
	return wire.GameState{
		GameID:    g.ID,
		WhiteID:   g.WhiteID,
		WhiteName: g.WhiteName,
		BlackID:   g.BlackID,
		BlackName: g.BlackName,
		FEN:       g.FEN,
		Moves:     moves,
		Status:    string(g.Status),
		Turn:      string(g.Turn()),
	}
}

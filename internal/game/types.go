// Package game holds the durable authoritative state of one chess game and
// its stores: redis for live games, postgres for the archive.
package game

import "time"

// Color identifies a chess side.
type Color string

const (
	White Color = "white"
	Black Color = "black"
)

func (c Color) Other() Color {
	if c == White {
		return Black
	}
	return White
}

// Status is a game's lifecycle state. Records are created active, because
// acceptance is the state-creating step; terminal statuses are immutable.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusAborted   Status = "aborted"
)

// Result of a game.
type Result string

const (
	ResultWhiteWin   Result = "white_win"
	ResultBlackWin   Result = "black_win"
	ResultDraw       Result = "draw"
	ResultInProgress Result = "in_progress"
)

// StartFEN is the standard starting position.
const StartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// MoveRecord is one entry of the ordered move log.
type MoveRecord struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Piece     string    `json:"piece"`
	Captured  string    `json:"captured,omitempty"`
	Promotion string    `json:"promotion,omitempty"`
	SAN       string    `json:"san"`
	UCI       string    `json:"uci"`
	At        time.Time `json:"at"`
}

// Game is the persisted state of one match. It is mutated exclusively by the
// session coordinator under the per-game serialization rule.
type Game struct {
	ID         string       `json:"id"`
	WhiteID    string       `json:"white_id"`
	WhiteName  string       `json:"white_name"`
	BlackID    string       `json:"black_id"`
	BlackName  string       `json:"black_name"`
	FEN        string       `json:"fen"`
	Moves      []MoveRecord `json:"moves"`
	MovesUCI   []string     `json:"moves_uci"`
	Status     Status       `json:"status"`
	Result     Result       `json:"result"`
	WinnerID   string       `json:"winner_id,omitempty"`
	EndMethod  string       `json:"end_method,omitempty"` // checkmate, stalemate, draw, resignation, abandonment
	CreatedAt  time.Time    `json:"created_at"`
	LastMoveAt time.Time    `json:"last_move_at"`
}

// ParticipantColor returns the side userID plays, or "" for non-participants.
func (g *Game) ParticipantColor(userID string) Color {
	switch userID {
	case g.WhiteID:
		return White
	case g.BlackID:
		return Black
	}
	return ""
}

// OpponentID returns the other participant's ID, or "".
func (g *Game) OpponentID(userID string) string {
	switch userID {
	case g.WhiteID:
		return g.BlackID
	case g.BlackID:
		return g.WhiteID
	}
	return ""
}

// Turn is the side to move: even move count means white.
func (g *Game) Turn() Color {
	if len(g.MovesUCI)%2 == 0 {
		return White
	}
	return Black
}

// PlayerName returns the stored display name for a participant ID.
func (g *Game) PlayerName(userID string) string {
	switch userID {
	case g.WhiteID:
		return g.WhiteName
	case g.BlackID:
		return g.BlackName
	}
	return ""
}

// Terminal reports whether the game reached a final state.
func (g *Game) Terminal() bool {
	return g.Status == StatusCompleted || g.Status == StatusAborted
}

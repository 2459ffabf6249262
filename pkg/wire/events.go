// Package wire defines the realtime channel protocol shared with clients.
package wire

import (
	"encoding/json"
	"time"
)

// EventType identifies a realtime channel event.
type EventType string

// Client → server events.
const (
	EventIdentify   EventType = "connect-identify"
	EventInvite     EventType = "invite"
	EventAccept     EventType = "accept"
	EventDecline    EventType = "decline"
	EventSubmitMove EventType = "submit-move"
	EventResign     EventType = "resign"
	EventRejoin     EventType = "rejoin"
	EventJoinRoom   EventType = "join-room"
	EventLeaveRoom  EventType = "leave-room"
	EventHeartbeat  EventType = "heartbeat"
)

// Server → client events.
const (
	EventOnlineUsers          EventType = "online-users-snapshot"
	EventInvitationReceived   EventType = "invitation-received"
	EventInvitationDeclined   EventType = "invitation-declined"
	EventGameStart            EventType = "game-start"
	EventMoveApplied          EventType = "move-applied"
	EventGameFinished         EventType = "game-finished"
	EventGameState            EventType = "game-state"
	EventOpponentDisconnected EventType = "opponent-disconnected"
	EventOpponentReconnected  EventType = "opponent-reconnected"
	EventError                EventType = "error"
)

// Event is the envelope carried on the websocket in both directions.
type Event struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEvent wraps a payload struct into an envelope. Payloads are our own
// types, so marshal failures are not expected.
func NewEvent(t EventType, payload any) *Event {
	if payload == nil {
		return &Event{Type: t}
	}
	raw, _ := json.Marshal(payload)
	return &Event{Type: t, Payload: raw}
}

// Decode unmarshals the payload into v.
func (e *Event) Decode(v any) error { return json.Unmarshal(e.Payload, v) }

type Identify struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

type OnlineUser struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Status   string `json:"status"`
}

type OnlineUsersSnapshot struct {
	Users []OnlineUser `json:"users"`
}

type Invite struct {
	InviteeID string `json:"invitee_id"`
}

type InvitationReceived struct {
	InviterID   string `json:"inviter_id"`
	InviterName string `json:"inviter_name"`
}

// Accept and Decline are sent by the invitee, naming the inviter.
type Accept struct {
	InviterID string `json:"inviter_id"`
}

type Decline struct {
	InviterID string `json:"inviter_id"`
}

type InvitationDeclined struct {
	InviteeID   string `json:"invitee_id"`
	InviteeName string `json:"invitee_name"`
}

// GameStart is sent to each participant individually; YourColor differs.
type GameStart struct {
	GameID       string `json:"game_id"`
	YourColor    string `json:"your_color"`
	OpponentID   string `json:"opponent_id"`
	OpponentName string `json:"opponent_name"`
	FEN          string `json:"fen"`
}

type SubmitMove struct {
	GameID    string `json:"game_id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
}

type Move struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Piece     string    `json:"piece"`
	Captured  string    `json:"captured,omitempty"`
	Promotion string    `json:"promotion,omitempty"`
	SAN       string    `json:"san"`
	UCI       string    `json:"uci"`
	At        time.Time `json:"at"`
}

type MoveApplied struct {
	GameID  string `json:"game_id"`
	Move    Move   `json:"move"`
	FEN     string `json:"fen"`
	Turn    string `json:"turn"`
	IsCheck bool   `json:"is_check"`
}

type Resign struct {
	GameID string `json:"game_id"`
}

type GameFinished struct {
	GameID   string `json:"game_id"`
	Result   string `json:"result"`
	WinnerID string `json:"winner_id,omitempty"`
	Reason   string `json:"reason"`
}

type Rejoin struct {
	GameID string `json:"game_id"`
}

type JoinRoom struct {
	GameID string `json:"game_id"`
}

type LeaveRoom struct {
	GameID string `json:"game_id"`
}

// GameState is the full snapshot sent on rejoin and room join.
type GameState struct {
	GameID    string `json:"game_id"`
	WhiteID   string `json:"white_id"`
	WhiteName string `json:"white_name"`
	BlackID   string `json:"black_id"`
	BlackName string `json:"black_name"`
	FEN       string `json:"fen"`
	Moves     []Move `json:"moves"`
	Status    string `json:"status"`
	Turn      string `json:"turn"`
}

type OpponentDisconnected struct {
	GameID string `json:"game_id"`
	UserID string `json:"user_id"`
}

type OpponentReconnected struct {
	GameID string `json:"game_id"`
	UserID string `json:"user_id"`
}

type Error struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

// Package validator wraps the chess rules engine. The coordinator treats it
// as a black box: given the move log and a proposed move, it returns legality,
// the resulting position and terminal flags.
package validator

import (
	"strings"

	nchess "github.com/corentings/chess/v2"

	"github.com/chesspark/chesspark-server/internal/domain"
)

// Verdict is the outcome of applying a legal move.
type Verdict struct {
	UCI       string
	SAN       string
	From      string
	To        string
	Piece     string
	Captured  string
	Promotion string

	FEN  string // position after the move
	Turn string // side to move after the move

	IsCheck  bool
	GameOver bool
	Method   string // checkmate, stalemate, insufficient material, ...
	Winner   string // white or black; empty for draws and ongoing games
}

// Validator checks a proposed move against the position reached by replaying
// movesUCI from the standard start.
type Validator interface {
	Apply(movesUCI []string, input string) (*Verdict, error)
}

type chessValidator struct{}

func New() Validator { return chessValidator{} }

func (chessValidator) Apply(movesUCI []string, input string) (*Verdict, error) {
	g := reconstruct(movesUCI)
	if g == nil {
		return nil, domain.Transient("failed to reconstruct game from move log")
	}
	pos := g.Position()
	raw := strings.TrimSpace(input)
	if raw == "" {
		return nil, domain.IllegalMove("empty move")
	}

	var mv *nchess.Move
	var san string
	uci := strings.ToLower(raw)
	if m, derr := (nchess.UCINotation{}).Decode(pos, uci); derr == nil {
		san = nchess.AlgebraicNotation{}.Encode(pos, m)
		if err := g.Move(m, nil); err != nil {
			return nil, domain.IllegalMove("illegal move")
		}
		mv = m
	} else {
		// fall back to SAN input
		if err := g.PushNotationMove(raw, nchess.AlgebraicNotation{}, nil); err != nil {
			return nil, domain.IllegalMove("illegal move")
		}
		mv = lastMove(g)
		if mv == nil {
			return nil, domain.IllegalMove("illegal move")
		}
		san = nchess.AlgebraicNotation{}.Encode(pos, mv)
		uci = mv.String()
	}

	v := &Verdict{
		UCI:     uci,
		SAN:     san,
		From:    mv.S1().String(),
		To:      mv.S2().String(),
		Piece:   pieceName(pos.Board().Piece(mv.S1()).Type()),
		FEN:     g.FEN(),
		Turn:    colorName(g.Position().Turn()),
		IsCheck: mv.HasTag(nchess.Check),
	}
	if len(uci) == 5 {
		v.Promotion = string(uci[4])
	}
	if cap := capturedPiece(pos, mv); cap != nchess.NoPieceType {
		v.Captured = pieceName(cap)
	}

	switch g.Outcome() {
	case nchess.WhiteWon:
		v.GameOver = true
		v.Winner = "white"
	case nchess.BlackWon:
		v.GameOver = true
		v.Winner = "black"
	case nchess.Draw:
		v.GameOver = true
	}
	if v.GameOver {
		v.Method = strings.ToLower(g.Method().String())
	}
	return v, nil
}

// reconstruct replays the stored UCI moves from the start position. Applying
// the stored FEN instead can double-apply moves.
func reconstruct(moves []string) *nchess.Game {
	g := nchess.NewGame()
	for _, mv := range moves {
		if err := g.PushNotationMove(mv, nchess.UCINotation{}, nil); err != nil {
			return nil
		}
	}
	return g
}

func lastMove(g *nchess.Game) *nchess.Move {
	moves := g.Moves()
	if len(moves) == 0 {
		return nil
	}
	return moves[len(moves)-1]
}

// capturedPiece resolves the piece removed by mv on the position before it,
// accounting for the en passant square offset.
func capturedPiece(pos *nchess.Position, mv *nchess.Move) nchess.PieceType {
	if !mv.HasTag(nchess.Capture) && !mv.HasTag(nchess.EnPassant) {
		return nchess.NoPieceType
	}
	sq := mv.S2()
	if mv.HasTag(nchess.EnPassant) {
		if pos.Turn() == nchess.White {
			sq = nchess.NewSquare(mv.S2().File(), mv.S2().Rank()-1)
		} else {
			sq = nchess.NewSquare(mv.S2().File(), mv.S2().Rank()+1)
		}
	}
	return pos.Board().Piece(sq).Type()
}

func pieceName(pt nchess.PieceType) string {
	switch pt {
	case nchess.Pawn:
		return "pawn"
	case nchess.Knight:
		return "knight"
	case nchess.Bishop:
		return "bishop"
	case nchess.Rook:
		return "rook"
	case nchess.Queen:
		return "queen"
	case nchess.King:
		return "king"
	}
	return ""
}

func colorName(c nchess.Color) string {
	if c == nchess.White {
		return "white"
	}
	return "black"
}

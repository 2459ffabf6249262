package game

import (
	"strings"
	"testing"
	"time"
)

func TestMapResultToPGN(t *testing.T) {
	cases := map[Result]string{
		ResultWhiteWin:   "1-0",
		ResultBlackWin:   "0-1",
		ResultDraw:       "1/2-1/2",
		ResultInProgress: "*",
	}
	for in, want := range cases {
		if got := mapResultToPGN(in); got != want {
			t.Fatalf("mapResultToPGN(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestBuildPGN(t *testing.T) {
	g := &Game{
		WhiteName:  "Alice",
		BlackName:  `Bob "the rook"`,
		LastMoveAt: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
		Moves: []MoveRecord{
			{SAN: "f3"}, {SAN: "e5"}, {SAN: "g4"}, {SAN: "Qh4#"},
		},
	}
	pgn := buildPGN(g, "0-1", "Checkmate")

	for _, want := range []string{
		`[White "Alice"]`,
		`[Black "Bob 'the rook'"]`,
		`[Date "2026.03.14"]`,
		`[Termination "checkmate"]`,
		`[Result "0-1"]`,
		"1. f3 e5 2. g4 Qh4#",
	} {
		if !strings.Contains(pgn, want) {
			t.Fatalf("pgn missing %q:\n%s", want, pgn)
		}
	}
	if !strings.HasSuffix(pgn, "0-1") {
		t.Fatalf("pgn must end with the result:\n%s", pgn)
	}

	if buildPGN(nil, "*", "") != "" {
		t.Fatalf("nil game must produce empty pgn")
	}
}

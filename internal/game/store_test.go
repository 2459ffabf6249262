package game

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/chesspark/chesspark-server/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewStore(rdb, time.Hour)
}

func newGame(id string) *Game {
	now := time.Now()
	return &Game{
		ID:         id,
		WhiteID:    "alice",
		WhiteName:  "Alice",
		BlackID:    "bob",
		BlackName:  "Bob",
		FEN:        StartFEN,
		Status:     StatusActive,
		Result:     ResultInProgress,
		CreatedAt:  now,
		LastMoveAt: now,
	}
}

func TestCreateAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Create(ctx, newGame("g1")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	g, err := s.Get(ctx, "g1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if g == nil || g.WhiteID != "alice" || g.BlackID != "bob" {
		t.Fatalf("unexpected record: %+v", g)
	}
	if g.Turn() != White {
		t.Fatalf("fresh game must be white to move")
	}

	missing, err := s.Get(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("expected nil for missing game, got %+v err=%v", missing, err)
	}
}

func TestActiveByUserPicksLatest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	g1 := newGame("g1")
	g1.LastMoveAt = time.Now().Add(-time.Hour)
	g2 := newGame("g2")
	if err := s.Create(ctx, g1); err != nil {
		t.Fatalf("Create g1: %v", err)
	}
	if err := s.Create(ctx, g2); err != nil {
		t.Fatalf("Create g2: %v", err)
	}

	got, err := s.ActiveByUser(ctx, "alice")
	if err != nil {
		t.Fatalf("ActiveByUser: %v", err)
	}
	if got == nil || got.ID != "g2" {
		t.Fatalf("expected latest active game g2, got %+v", got)
	}

	// a finished game no longer resolves
	if _, err := s.Update(ctx, "g2", func(g *Game) error {
		g.Status = StatusCompleted
		g.Result = ResultDraw
		return nil
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, _ = s.ActiveByUser(ctx, "alice")
	if got == nil || got.ID != "g1" {
		t.Fatalf("expected g1 after g2 finished, got %+v", got)
	}

	none, err := s.ActiveByUser(ctx, "stranger")
	if err != nil || none != nil {
		t.Fatalf("expected nil for unknown user, got %+v err=%v", none, err)
	}
}

func TestUpdateAppliesAndPersists(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Create(ctx, newGame("g1")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	out, err := s.Update(ctx, "g1", func(g *Game) error {
		g.MovesUCI = append(g.MovesUCI, "e2e4")
		g.FEN = "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq e3 0 1"
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if len(out.MovesUCI) != 1 {
		t.Fatalf("expected returned game to carry the write, got %+v", out)
	}
	reread, _ := s.Get(ctx, "g1")
	if len(reread.MovesUCI) != 1 || reread.Turn() != Black {
		t.Fatalf("write not persisted: %+v", reread)
	}
}

func TestUpdateAbortsOnFnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Create(ctx, newGame("g1")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	_, err := s.Update(ctx, "g1", func(g *Game) error {
		g.MovesUCI = append(g.MovesUCI, "e2e4")
		return domain.IllegalMove("nope")
	})
	if !domain.IsIllegalMove(err) {
		t.Fatalf("expected fn error surfaced, got %v", err)
	}
	g, _ := s.Get(ctx, "g1")
	if len(g.MovesUCI) != 0 {
		t.Fatalf("aborted update must not write, got %+v", g)
	}
}

func TestUpdateMissingGame(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Update(context.Background(), "nope", func(g *Game) error { return nil })
	if !domain.IsNotFound(err) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestSeats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.AcquireSeats(ctx, "g1", "alice", "bob"); err != nil {
		t.Fatalf("AcquireSeats: %v", err)
	}
	// either player being seated blocks a second game
	if err := s.AcquireSeats(ctx, "g2", "alice", "carol"); !domain.IsInvalidState(err) {
		t.Fatalf("expected seated player rejected, got %v", err)
	}
	if err := s.AcquireSeats(ctx, "g2", "carol", "bob"); !domain.IsInvalidState(err) {
		t.Fatalf("expected seated opponent rejected, got %v", err)
	}
	// the failed acquisition must not leave carol half-seated
	if id, _ := s.SeatOf(ctx, "carol"); id != "" {
		t.Fatalf("expected carol unseated after rollback, got %q", id)
	}

	s.ReleaseSeats(ctx, "g1", "alice", "bob")
	if id, _ := s.SeatOf(ctx, "alice"); id != "" {
		t.Fatalf("expected alice released, got %q", id)
	}
	if err := s.AcquireSeats(ctx, "g3", "alice", "bob"); err != nil {
		t.Fatalf("reacquire after release: %v", err)
	}
}

func TestReleaseSeatsOnlyForOwningGame(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.AcquireSeats(ctx, "g2", "alice", "bob"); err != nil {
		t.Fatalf("AcquireSeats: %v", err)
	}
	// a stale release from an older game must not free g2's seats
	s.ReleaseSeats(ctx, "g1", "alice", "bob")
	if id, _ := s.SeatOf(ctx, "alice"); id != "g2" {
		t.Fatalf("expected seat still held by g2, got %q", id)
	}
}

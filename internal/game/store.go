package game

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chesspark/chesspark-server/internal/domain"
)

// Store keeps live game records in redis. Writes go through Update, which
// runs inside a WATCH transaction so that the optimistic per-game token is
// held across the store I/O, not just in memory.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{rdb: rdb, ttl: ttl}
}

func keyGame(id string) string     { return "game:" + strings.TrimSpace(id) }
func keyUserIdx(uid string) string { return "game:index:user:" + strings.TrimSpace(uid) }
func keySeat(uid string) string    { return "game:seat:" + strings.TrimSpace(uid) }

// Create persists a new game and indexes both participants.
func (s *Store) Create(ctx context.Context, g *Game) error {
	raw, err := json.Marshal(g)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, keyGame(g.ID), raw, s.ttl)
	for _, uid := range []string{g.WhiteID, g.BlackID} {
		pipe.SAdd(ctx, keyUserIdx(uid), g.ID)
		pipe.Expire(ctx, keyUserIdx(uid), s.ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Get returns the game by ID, or nil when absent.
func (s *Store) Get(ctx context.Context, id string) (*Game, error) {
	raw, err := s.rdb.Get(ctx, keyGame(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var g Game
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// ActiveByUser returns the most recently moved active game referencing
// userID, or nil.
func (s *Store) ActiveByUser(ctx context.Context, userID string) (*Game, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, nil
	}
	ids, err := s.rdb.SMembers(ctx, keyUserIdx(userID)).Result()
	if err != nil {
		return nil, err
	}
	var list []*Game
	for _, id := range ids {
		g, gerr := s.Get(ctx, id)
		if gerr != nil {
			return nil, gerr
		}
		if g != nil && g.Status == StatusActive {
			list = append(list, g)
		}
	}
	if len(list) == 0 {
		return nil, nil
	}
	sort.Slice(list, func(i, j int) bool { return list[i].LastMoveAt.After(list[j].LastMoveAt) })
	return list[0], nil
}

// Update loads the game, applies fn, and writes the result in one WATCH
// transaction. fn returning an error aborts without writing. A concurrent
// writer surfaces as a transient error with nothing applied.
func (s *Store) Update(ctx context.Context, id string, fn func(g *Game) error) (*Game, error) {
	key := keyGame(id)
	var out *Game
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return domain.NotFound("game not found")
		}
		if err != nil {
			return err
		}
		var cur Game
		if jerr := json.Unmarshal(raw, &cur); jerr != nil {
			return jerr
		}
		if err := fn(&cur); err != nil {
			return err
		}
		newRaw, _ := json.Marshal(&cur)
		pipe := tx.TxPipeline()
		pipe.Set(ctx, key, newRaw, s.ttl)
		if _, perr := pipe.Exec(ctx); perr != nil {
			return perr
		}
		out = &cur
		return nil
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return nil, domain.Transient("concurrent update detected, please retry")
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AcquireSeats claims both players for gameID. Seat keys are the
// application-level uniqueness constraint behind "at most one active game per
// user": a SetNX that loses means the user is already seated, and the losing
// acceptance of a double-accept race fails here.
func (s *Store) AcquireSeats(ctx context.Context, gameID, a, b string) error {
	okA, err := s.rdb.SetNX(ctx, keySeat(a), gameID, s.ttl).Result()
	if err != nil {
		return err
	}
	if !okA {
		return domain.InvalidState("player is already in a game")
	}
	okB, err := s.rdb.SetNX(ctx, keySeat(b), gameID, s.ttl).Result()
	if err != nil {
		_ = s.rdb.Del(ctx, keySeat(a)).Err()
		return err
	}
	if !okB {
		_ = s.rdb.Del(ctx, keySeat(a)).Err()
		return domain.InvalidState("opponent is already in a game")
	}
	return nil
}

// ReleaseSeats frees both players' seats, but only when still held for
// gameID, so a finished game cannot release seats of a newer one.
func (s *Store) ReleaseSeats(ctx context.Context, gameID, a, b string) {
	for _, uid := range []string{a, b} {
		held, err := s.rdb.Get(ctx, keySeat(uid)).Result()
		if err != nil || held != gameID {
			continue
		}
		_ = s.rdb.Del(ctx, keySeat(uid)).Err()
	}
}

// SeatOf returns the gameID a user is seated in, or "".
func (s *Store) SeatOf(ctx context.Context, userID string) (string, error) {
	id, err := s.rdb.Get(ctx, keySeat(userID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return id, err
}

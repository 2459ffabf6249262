// Package presence is the durable mapping of user to live connection and
// status. Records are volatile by design and rebuilt on reconnect.
package presence

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/chesspark/chesspark-server/internal/domain"
	"github.com/chesspark/chesspark-server/internal/obslog"
)

// Status is a user's connectivity state.
type Status string

const (
	StatusOnline Status = "online"
	StatusAway   Status = "away"
	StatusInGame Status = "in_game"
)

func validStatus(s Status) bool {
	return s == StatusOnline || s == StatusAway || s == StatusInGame
}

// Record is one user's presence. At most one record exists per user; a new
// connection for the same user replaces the old record.
type Record struct {
	UserID       string    `json:"user_id"`
	Username     string    `json:"username"`
	ConnID       string    `json:"conn_id"`
	Status       Status    `json:"status"`
	LastActiveAt time.Time `json:"last_active_at"`
}

const recordTTL = 24 * time.Hour

// Registry stores presence records in redis.
type Registry struct {
	rdb *redis.Client
}

func NewRegistry(rdb *redis.Client) *Registry { return &Registry{rdb: rdb} }

func keyUser(userID string) string { return "presence:user:" + strings.TrimSpace(userID) }
func keyIndex() string             { return "presence:index" }

// SetOnline upserts the record for userID, replacing any stale record for a
// previous connection of the same user.
func (r *Registry) SetOnline(ctx context.Context, userID, username, connID string) (*Record, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" || strings.TrimSpace(connID) == "" {
		return nil, domain.InvalidState("user id and connection are required")
	}
	rec := &Record{
		UserID:       userID,
		Username:     strings.TrimSpace(username),
		ConnID:       strings.TrimSpace(connID),
		Status:       StatusOnline,
		LastActiveAt: time.Now(),
	}
	if err := r.save(ctx, rec); err != nil {
		return nil, err
	}
	if err := r.rdb.SAdd(ctx, keyIndex(), userID).Err(); err != nil {
		return nil, err
	}
	obslog.L().Info("presence_online",
		zap.String("user_id", userID),
		zap.String("conn_id", rec.ConnID),
	)
	return rec, nil
}

// SetStatus transitions a user's status; only online, away and in_game are
// accepted.
func (r *Registry) SetStatus(ctx context.Context, userID string, status Status) error {
	if !validStatus(status) {
		return domain.InvalidState("unknown status " + string(status))
	}
	key := keyUser(userID)
	err := r.rdb.Watch(ctx, func(tx *redis.Tx) error {
		rec, err := loadTx(ctx, tx, key)
		if err != nil {
			return err
		}
		if rec == nil {
			return domain.NotFound("user is not connected")
		}
		rec.Status = status
		rec.LastActiveAt = time.Now()
		raw, _ := json.Marshal(rec)
		pipe := tx.TxPipeline()
		pipe.Set(ctx, key, raw, recordTTL)
		_, perr := pipe.Exec(ctx)
		return perr
	}, key)
	if err == redis.TxFailedErr {
		return domain.Transient("presence update conflicted, retry")
	}
	return err
}

// Remove deletes the record on disconnect.
func (r *Registry) Remove(ctx context.Context, userID string) error {
	pipe := r.rdb.TxPipeline()
	pipe.Del(ctx, keyUser(userID))
	pipe.SRem(ctx, keyIndex(), strings.TrimSpace(userID))
	_, err := pipe.Exec(ctx)
	return err
}

// Heartbeat refreshes LastActiveAt without touching status.
func (r *Registry) Heartbeat(ctx context.Context, userID string) error {
	key := keyUser(userID)
	err := r.rdb.Watch(ctx, func(tx *redis.Tx) error {
		rec, err := loadTx(ctx, tx, key)
		if err != nil {
			return err
		}
		if rec == nil {
			return domain.NotFound("user is not connected")
		}
		rec.LastActiveAt = time.Now()
		raw, _ := json.Marshal(rec)
		pipe := tx.TxPipeline()
		pipe.Set(ctx, key, raw, recordTTL)
		_, perr := pipe.Exec(ctx)
		return perr
	}, key)
	if err == redis.TxFailedErr {
		// a concurrent status change already refreshed the record
		return nil
	}
	return err
}

// Get returns the record for userID, or nil when absent.
func (r *Registry) Get(ctx context.Context, userID string) (*Record, error) {
	raw, err := r.rdb.Get(ctx, keyUser(userID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListOnline returns a snapshot ordered by LastActiveAt descending.
// statusFilter narrows to one status when non-empty; excludeUserID is omitted.
func (r *Registry) ListOnline(ctx context.Context, excludeUserID string, statusFilter Status) ([]*Record, error) {
	ids, err := r.rdb.SMembers(ctx, keyIndex()).Result()
	if err != nil {
		return nil, err
	}
	var out []*Record
	for _, id := range ids {
		if id == excludeUserID {
			continue
		}
		rec, gerr := r.Get(ctx, id)
		if gerr != nil {
			return nil, gerr
		}
		if rec == nil {
			// index entry outlived its record; drop it
			_ = r.rdb.SRem(ctx, keyIndex(), id).Err()
			continue
		}
		if statusFilter != "" && rec.Status != statusFilter {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActiveAt.After(out[j].LastActiveAt) })
	return out, nil
}

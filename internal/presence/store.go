package presence

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
)

// save marshals rec and writes it under the user's key with the record TTL.
func (r *Registry) save(ctx context.Context, rec *Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, keyUser(rec.UserID), raw, recordTTL).Err()
}

// loadTx reads the record at key inside a Watch transaction; an absent key
// yields a nil record so callers can distinguish missing from failed.
func loadTx(ctx context.Context, tx *redis.Tx, key string) (*Record, error) {
	raw, err := tx.Get(ctx, key).Bytes()
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

package presence

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/chesspark/chesspark-server/internal/obslog"
)

// EvictFunc is invoked for every reaped record. It must follow the same path
// as an explicit disconnect so that in-game users are treated as disconnected,
// never as aborted.
type EvictFunc func(ctx context.Context, rec *Record)

// Reaper evicts presence records whose LastActiveAt exceeds the staleness
// threshold, protecting against connections that vanished without a clean
// disconnect event.
type Reaper struct {
	reg        *Registry
	interval   time.Duration
	staleAfter time.Duration
	onEvict    EvictFunc
}

func NewReaper(reg *Registry, interval, staleAfter time.Duration, onEvict EvictFunc) *Reaper {
	if interval <= 0 {
		interval = time.Minute
	}
	if staleAfter <= 0 {
		staleAfter = 5 * time.Minute
	}
	return &Reaper{reg: reg, interval: interval, staleAfter: staleAfter, onEvict: onEvict}
}

// Run blocks until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.reapOnce(ctx)
		}
	}
}

func (r *Reaper) reapOnce(ctx context.Context) {
	recs, err := r.reg.ListOnline(ctx, "", "")
	if err != nil {
		obslog.L().Warn("presence_reap_list_error", zap.Error(err))
		return
	}
	cutoff := time.Now().Add(-r.staleAfter)
	for _, rec := range recs {
		if rec.LastActiveAt.After(cutoff) {
			continue
		}
		obslog.L().Info("presence_reap",
			zap.String("user_id", rec.UserID),
			zap.String("status", string(rec.Status)),
			zap.Time("last_active_at", rec.LastActiveAt),
		)
		if r.onEvict != nil {
			r.onEvict(ctx, rec)
		} else if err := r.reg.Remove(ctx, rec.UserID); err != nil {
			obslog.L().Warn("presence_reap_error", zap.String("user_id", rec.UserID), zap.Error(err))
		}
	}
}

// Package lookup is the matchmaking convenience surface: online-user listing
// and opponent search. No ranking, purely lookups.
package lookup

import (
	"context"
	"strings"

	"github.com/chesspark/chesspark-server/internal/domain"
	"github.com/chesspark/chesspark-server/internal/presence"
)

// Directory is the archive slice lookups need.
type Directory interface {
	FindByUsername(ctx context.Context, pattern string) ([]domain.User, error)
}

type Service struct {
	dir Directory
	reg *presence.Registry
}

func NewService(dir Directory, reg *presence.Registry) *Service {
	return &Service{dir: dir, reg: reg}
}

// FindByUsername matches display names case-insensitively by substring and
// merges each hit with its live status.
func (s *Service) FindByUsername(ctx context.Context, pattern string) ([]domain.Profile, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return nil, domain.InvalidState("search pattern is required")
	}
	if s.dir == nil {
		return nil, domain.InvalidState("user search is not available")
	}
	users, err := s.dir.FindByUsername(ctx, pattern)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Profile, 0, len(users))
	for _, u := range users {
		p := domain.Profile{User: u, Status: "offline"}
		if rec, err := s.reg.Get(ctx, u.ID); err == nil && rec != nil {
			p.Status = string(rec.Status)
		}
		out = append(out, p)
	}
	return out, nil
}

// ListOnline delegates to the presence registry.
func (s *Service) ListOnline(ctx context.Context, excludeUserID string) ([]*presence.Record, error) {
	return s.reg.ListOnline(ctx, excludeUserID, "")
}

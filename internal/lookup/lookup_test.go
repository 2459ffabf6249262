package lookup

import (
	"context"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/chesspark/chesspark-server/internal/domain"
	"github.com/chesspark/chesspark-server/internal/presence"
)

type fakeDirectory struct {
	users []domain.User
}

func (d *fakeDirectory) FindByUsername(ctx context.Context, pattern string) ([]domain.User, error) {
	var out []domain.User
	for _, u := range d.users {
		if strings.Contains(strings.ToLower(u.Username), strings.ToLower(pattern)) {
			out = append(out, u)
		}
	}
	return out, nil
}

func newTestService(t *testing.T, dir Directory) (*Service, *presence.Registry) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	reg := presence.NewRegistry(rdb)
	return NewService(dir, reg), reg
}

func TestFindByUsernameMergesStatus(t *testing.T) {
	dir := &fakeDirectory{users: []domain.User{
		{ID: "u1", Username: "Alice", Points: 12},
		{ID: "u2", Username: "alicia"},
		{ID: "u3", Username: "Bob"},
	}}
	svc, reg := newTestService(t, dir)
	ctx := context.Background()

	if _, err := reg.SetOnline(ctx, "u1", "Alice", "conn-1"); err != nil {
		t.Fatalf("SetOnline: %v", err)
	}
	if err := reg.SetStatus(ctx, "u1", presence.StatusInGame); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	got, err := svc.FindByUsername(ctx, "ali")
	if err != nil {
		t.Fatalf("FindByUsername: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(got))
	}
	byID := map[string]string{}
	for _, p := range got {
		byID[p.ID] = p.Status
	}
	if byID["u1"] != "in_game" {
		t.Fatalf("expected live status merged, got %q", byID["u1"])
	}
	if byID["u2"] != "offline" {
		t.Fatalf("expected offline default, got %q", byID["u2"])
	}
}

func TestFindByUsernameValidation(t *testing.T) {
	svc, _ := newTestService(t, &fakeDirectory{})
	if _, err := svc.FindByUsername(context.Background(), "  "); !domain.IsInvalidState(err) {
		t.Fatalf("empty pattern: got %v", err)
	}

	svc, _ = newTestService(t, nil)
	if _, err := svc.FindByUsername(context.Background(), "alice"); !domain.IsInvalidState(err) {
		t.Fatalf("no directory configured: got %v", err)
	}
}

func TestListOnline(t *testing.T) {
	svc, reg := newTestService(t, nil)
	ctx := context.Background()

	for _, id := range []string{"u1", "u2"} {
		if _, err := reg.SetOnline(ctx, id, id, "conn-"+id); err != nil {
			t.Fatalf("SetOnline: %v", err)
		}
	}
	recs, err := svc.ListOnline(ctx, "u1")
	if err != nil {
		t.Fatalf("ListOnline: %v", err)
	}
	if len(recs) != 1 || recs[0].UserID != "u2" {
		t.Fatalf("unexpected snapshot: %+v", recs)
	}
}

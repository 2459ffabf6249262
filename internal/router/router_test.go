package router

import (
	"sync"
	"testing"

	"github.com/chesspark/chesspark-server/pkg/wire"
)

type fakeConn struct {
	id     string
	userID string

	mu     sync.Mutex
	events []*wire.Event
	closed string
}

func (f *fakeConn) ID() string     { return f.id }
func (f *fakeConn) UserID() string { return f.userID }

func (f *fakeConn) Send(ev *wire.Event) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return true
}

func (f *fakeConn) Close(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = reason
}

func (f *fakeConn) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func TestBindResolveSend(t *testing.T) {
	rt := New()
	c := &fakeConn{id: "c1", userID: "alice"}

	if prev := rt.Bind(c); prev != nil {
		t.Fatalf("expected no displaced conn, got %v", prev)
	}
	got, ok := rt.Resolve("alice")
	if !ok || got.ID() != "c1" {
		t.Fatalf("Resolve: ok=%v conn=%v", ok, got)
	}
	if !rt.Send("alice", wire.NewEvent(wire.EventHeartbeat, nil)) {
		t.Fatalf("Send to bound user failed")
	}
	if c.count() != 1 {
		t.Fatalf("expected 1 delivered event, got %d", c.count())
	}
	if rt.Send("nobody", wire.NewEvent(wire.EventHeartbeat, nil)) {
		t.Fatalf("Send to unknown user must report false")
	}
}

func TestBindDisplacesOlderConnection(t *testing.T) {
	rt := New()
	old := &fakeConn{id: "c1", userID: "alice"}
	neu := &fakeConn{id: "c2", userID: "alice"}

	rt.Bind(old)
	prev := rt.Bind(neu)
	if prev == nil || prev.ID() != "c1" {
		t.Fatalf("expected c1 displaced, got %v", prev)
	}
	got, _ := rt.Resolve("alice")
	if got.ID() != "c2" {
		t.Fatalf("expected c2 bound, got %s", got.ID())
	}
	if rt.Len() != 1 {
		t.Fatalf("expected one bound user, got %d", rt.Len())
	}
}

func TestStaleUnbindCannotRemoveSuccessor(t *testing.T) {
	rt := New()
	old := &fakeConn{id: "c1", userID: "alice"}
	neu := &fakeConn{id: "c2", userID: "alice"}

	rt.Bind(old)
	rt.Bind(neu)
	if rt.Unbind(old) {
		t.Fatalf("stale conn must not unbind its successor")
	}
	if _, ok := rt.Resolve("alice"); !ok {
		t.Fatalf("successor binding lost")
	}
	if !rt.Unbind(neu) {
		t.Fatalf("current conn must unbind")
	}
	if _, ok := rt.Resolve("alice"); ok {
		t.Fatalf("expected alice unbound")
	}
}

func TestBroadcastAll(t *testing.T) {
	rt := New()
	a := &fakeConn{id: "c1", userID: "alice"}
	b := &fakeConn{id: "c2", userID: "bob"}
	rt.Bind(a)
	rt.Bind(b)

	rt.BroadcastAll(wire.NewEvent(wire.EventOnlineUsers, nil))
	if a.count() != 1 || b.count() != 1 {
		t.Fatalf("expected broadcast to both, got %d/%d", a.count(), b.count())
	}
}

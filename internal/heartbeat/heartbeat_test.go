package heartbeat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/loykin/agentvisor/internal/store"
	fsstore "github.com/loykin/agentvisor/internal/store/fs"
)

func newStore(t *testing.T) (*Store, store.Store) {
	t.Helper()
	s, err := fsstore.New(t.TempDir())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	return NewStore(s), s
}

func TestWriteRead(t *testing.T) {
	h, _ := newStore(t)
	ctx := context.Background()
	tick := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	in := Record{Agent: "demo-alpha", Skill: "ALPHA_DETECTION", Status: StatusStarted, LastTick: tick, PID: 42}
	if err := h.Write(ctx, in); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := h.Read(ctx, "demo-alpha")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Agent != in.Agent || got.Skill != in.Skill || got.Status != in.Status || got.PID != in.PID || !got.LastTick.Equal(tick) {
		t.Fatalf("got %+v want %+v", got, in)
	}
}

func TestLastTickNeverGoesBackwardsForSamePID(t *testing.T) {
	h, _ := newStore(t)
	ctx := context.Background()
	t1 := time.Date(2025, 3, 1, 12, 0, 10, 0, time.UTC)
	_ = h.Write(ctx, Record{Agent: "a", Status: StatusRunning, LastTick: t1, PID: 7})
	_ = h.Write(ctx, Record{Agent: "a", Status: StatusRunning, LastTick: t1.Add(-5 * time.Second), PID: 7})
	got, _ := h.Read(ctx, "a")
	if !got.LastTick.Equal(t1) {
		t.Fatalf("tick went backwards: %v", got.LastTick)
	}

	// a new worker (different pid) may start from an earlier clock
	_ = h.Write(ctx, Record{Agent: "a", Status: StatusStarted, LastTick: t1.Add(-time.Minute), PID: 8})
	got, _ = h.Read(ctx, "a")
	if !got.LastTick.Equal(t1.Add(-time.Minute)) || got.PID != 8 {
		t.Fatalf("new pid should replace the record: %+v", got)
	}
}

func TestLookupMissingAndCorrupt(t *testing.T) {
	h, s := newStore(t)
	ctx := context.Background()
	rec, err := h.Lookup(ctx, "nobody")
	if err != nil || rec != nil {
		t.Fatalf("expected nil,nil for missing; got %v %v", rec, err)
	}
	if _, err := h.Read(ctx, "nobody"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.Put(ctx, store.BucketHeartbeats, "bad", []byte("{")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := h.Read(ctx, "bad"); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
	rec, err = h.Lookup(ctx, "bad")
	if err != nil || rec != nil {
		t.Fatalf("expected nil,nil for corrupt; got %v %v", rec, err)
	}
}

func TestDelete(t *testing.T) {
	h, _ := newStore(t)
	ctx := context.Background()
	_ = h.Write(ctx, Record{Agent: "a", Status: StatusStopped, LastTick: time.Now(), PID: 1})
	if err := h.Delete(ctx, "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := h.Delete(ctx, "a"); err != nil {
		t.Fatalf("delete missing: %v", err)
	}
	if _, err := h.Read(ctx, "a"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAge(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 16, 0, time.UTC)
	r := Record{LastTick: now.Add(-16 * time.Second)}
	if r.Age(now) != 16*time.Second {
		t.Fatalf("age: %v", r.Age(now))
	}
}

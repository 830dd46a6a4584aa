// Package storetest holds behaviour checks shared by every store.Store backend.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/loykin/agentvisor/internal/store"
)

// Run exercises the contract every backend must satisfy. s must be empty.
func Run(t *testing.T, s store.Store) {
	t.Helper()
	ctx := context.Background()

	if _, err := s.Get(ctx, store.BucketAgents, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("get missing: want ErrNotFound, got %v", err)
	}

	if err := s.Put(ctx, store.BucketAgents, "demo-alpha", []byte(`{"v":1}`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := s.Get(ctx, store.BucketAgents, "demo-alpha")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != `{"v":1}` {
		t.Fatalf("unexpected data: %q", got)
	}

	// overwrite replaces
	if err := s.Put(ctx, store.BucketAgents, "demo-alpha", []byte(`{"v":2}`)); err != nil {
		t.Fatalf("put2: %v", err)
	}
	got, _ = s.Get(ctx, store.BucketAgents, "demo-alpha")
	if string(got) != `{"v":2}` {
		t.Fatalf("overwrite not applied: %q", got)
	}

	if err := s.Create(ctx, store.BucketAgents, "demo-alpha", []byte(`{"v":3}`)); !errors.Is(err, store.ErrExists) {
		t.Fatalf("create existing: want ErrExists, got %v", err)
	}
	got, _ = s.Get(ctx, store.BucketAgents, "demo-alpha")
	if string(got) != `{"v":2}` {
		t.Fatalf("create must not overwrite: %q", got)
	}
	if err := s.Create(ctx, store.BucketAgents, "b-yield", []byte(`{}`)); err != nil {
		t.Fatalf("create new: %v", err)
	}

	// buckets are independent
	if err := s.Put(ctx, store.BucketPIDs, "demo-alpha", []byte("1234")); err != nil {
		t.Fatalf("put pid: %v", err)
	}
	keys, err := s.Keys(ctx, store.BucketAgents)
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(keys) != 2 || keys[0] != "b-yield" || keys[1] != "demo-alpha" {
		t.Fatalf("unexpected keys: %v", keys)
	}
	keys, _ = s.Keys(ctx, store.BucketHeartbeats)
	if len(keys) != 0 {
		t.Fatalf("expected empty heartbeat bucket, got %v", keys)
	}

	if err := s.Put(ctx, store.BucketAgents, "../escape", []byte("x")); !errors.Is(err, store.ErrInvalidKey) {
		t.Fatalf("invalid key: want ErrInvalidKey, got %v", err)
	}

	if err := s.Delete(ctx, store.BucketAgents, "demo-alpha"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, store.BucketAgents, "demo-alpha"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("get after delete: want ErrNotFound, got %v", err)
	}
	if err := s.Delete(ctx, store.BucketAgents, "demo-alpha"); err != nil {
		t.Fatalf("delete missing should be nil: %v", err)
	}
	if _, err := s.Get(ctx, store.BucketPIDs, "demo-alpha"); err != nil {
		t.Fatalf("pid record should survive agent delete: %v", err)
	}
}

// RunCreateRace checks that concurrent Create calls for one key admit exactly one winner.
func RunCreateRace(t *testing.T, s store.Store) {
	t.Helper()
	ctx := context.Background()
	const n = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Create(ctx, store.BucketAgents, "race-alpha", []byte(`{}`))
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else if !errors.Is(err, store.ErrExists) {
				t.Errorf("create: %v", err)
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one successful create, got %d", wins)
	}
}

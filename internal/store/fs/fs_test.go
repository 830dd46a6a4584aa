package fs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/loykin/agentvisor/internal/store"
	"github.com/loykin/agentvisor/internal/store/storetest"
)

func TestFSContract(t *testing.T) {
	db, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	storetest.Run(t, db)
}

func TestFSCreateRace(t *testing.T) {
	db, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	storetest.RunCreateRace(t, db)
}

func TestFSLayout(t *testing.T) {
	dir := t.TempDir()
	db, err := New(dir)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	if err := db.Put(ctx, store.BucketPIDs, "demo-alpha", []byte("4242")); err != nil {
		t.Fatalf("put pid: %v", err)
	}
	if err := db.Put(ctx, store.BucketHeartbeats, "demo-alpha", []byte("{}")); err != nil {
		t.Fatalf("put hb: %v", err)
	}
	if b, err := os.ReadFile(filepath.Join(dir, "pids", "demo-alpha.pid")); err != nil || string(b) != "4242" {
		t.Fatalf("pid file: %q %v", b, err)
	}
	if _, err := os.Stat(filepath.Join(dir, "heartbeat", "demo-alpha.json")); err != nil {
		t.Fatalf("heartbeat file: %v", err)
	}
}

func TestFSKeysIgnoresStrayFiles(t *testing.T) {
	dir := t.TempDir()
	db, err := New(dir)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	if err := db.Put(ctx, store.BucketAgents, "a", []byte("{}")); err != nil {
		t.Fatalf("put: %v", err)
	}
	// leftovers of an interrupted write and unrelated files must not show up as keys
	agents := filepath.Join(dir, "agents")
	_ = os.WriteFile(filepath.Join(agents, "b.json.tmp.123"), []byte("{"), 0o644)
	_ = os.WriteFile(filepath.Join(agents, "notes.txt"), []byte("x"), 0o644)
	_ = os.Mkdir(filepath.Join(agents, "sub.json"), 0o755)
	keys, err := db.Keys(ctx, store.BucketAgents)
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(keys) != 1 || keys[0] != "a" {
		t.Fatalf("unexpected keys: %v", keys)
	}
}

func TestFSKeysMissingBucket(t *testing.T) {
	db, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	keys, err := db.Keys(context.Background(), store.BucketPIDs)
	if err != nil || len(keys) != 0 {
		t.Fatalf("expected no keys, got %v %v", keys, err)
	}
}

func TestFSPutLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	db, err := New(dir)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := db.Put(ctx, store.BucketHeartbeats, "hb", []byte("{}")); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	entries, _ := os.ReadDir(filepath.Join(dir, "heartbeat"))
	if len(entries) != 1 {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("expected a single file, got %v", names)
	}
}

package factory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/loykin/agentvisor/internal/store"
	fsstore "github.com/loykin/agentvisor/internal/store/fs"
	pg "github.com/loykin/agentvisor/internal/store/postgres"
	sq "github.com/loykin/agentvisor/internal/store/sqlite"
)

func TestFactoryDSNSelection(t *testing.T) {
	root := t.TempDir()

	// Empty DSN and no root -> error
	if _, err := NewFromDSN("", ""); err == nil {
		t.Fatalf("expected error for empty DSN and root")
	}
	// Empty DSN -> file store under root
	f, err := NewFromDSN("", root)
	if err != nil {
		t.Fatalf("fs default: %v", err)
	}
	if db, ok := f.(*fsstore.DB); !ok || db.Root() != root {
		t.Fatalf("expected fs store at root, got %T", f)
	}
	// explicit fs scheme
	other := filepath.Join(root, "other")
	f2, err := NewFromDSN("fs://"+other, root)
	if err != nil {
		t.Fatalf("fs scheme: %v", err)
	}
	if db, ok := f2.(*fsstore.DB); !ok || db.Root() != other {
		t.Fatalf("expected fs store at %s, got %T", other, f2)
	}
	// postgres scheme -> postgres driver object (Close immediately; no connect performed by sql.Open)
	p, err := NewFromDSN("postgres://user@localhost/db", root)
	if err != nil {
		t.Fatalf("postgres dsn: %v", err)
	}
	if _, ok := p.(*pg.DB); !ok {
		t.Fatalf("expected postgres store, got %T", p)
	}
	_ = p.Close()
	// sqlite scheme
	s1, err := NewFromDSN("sqlite://:memory:", root)
	if err != nil {
		t.Fatalf("sqlite scheme: %v", err)
	}
	if _, ok := s1.(*sq.DB); !ok {
		t.Fatalf("expected sqlite store, got %T", s1)
	}
	_ = s1.Close()
	// bare path defaults to sqlite
	s2, err := NewFromDSN(filepath.Join(root, "agents.db"), root)
	if err != nil {
		t.Fatalf("bare sqlite: %v", err)
	}
	if err := s2.Put(context.Background(), store.BucketAgents, "x", []byte("{}")); err != nil {
		t.Fatalf("bare sqlite put: %v", err)
	}
	_ = s2.Close()
	// unknown scheme
	if _, err := NewFromDSN("redis://localhost", root); err == nil {
		t.Fatalf("expected error for unsupported scheme")
	}
}

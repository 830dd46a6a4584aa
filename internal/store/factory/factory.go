package factory

import (
	"errors"
	"strings"

	"github.com/loykin/agentvisor/internal/store"
	fsstore "github.com/loykin/agentvisor/internal/store/fs"
	pg "github.com/loykin/agentvisor/internal/store/postgres"
	sq "github.com/loykin/agentvisor/internal/store/sqlite"
)

// NewFromDSN selects a store implementation based on DSN.
// Supported:
//   - "" : file store rooted at root
//   - "fs://<dir>": file store rooted at dir
//   - sqlite:  "sqlite://<path>" or a bare filepath (treated as sqlite)
//   - postgres: DSN starting with "postgres://" or "postgresql://"
func NewFromDSN(dsn, root string) (store.Store, error) {
	d := strings.TrimSpace(dsn)
	ld := strings.ToLower(d)
	if d == "" {
		if strings.TrimSpace(root) == "" {
			return nil, errors.New("empty DSN and no root directory")
		}
		return fsstore.New(root)
	}
	if strings.HasPrefix(ld, "fs://") {
		return fsstore.New(d[len("fs://"):])
	}
	if strings.HasPrefix(ld, "postgres://") || strings.HasPrefix(ld, "postgresql://") {
		return pg.New(d)
	}
	if strings.HasPrefix(ld, "sqlite://") {
		return sq.New(d[len("sqlite://"):])
	}
	if strings.Contains(d, "://") {
		return nil, errors.New("unsupported store DSN: " + d)
	}
	return sq.New(d)
}

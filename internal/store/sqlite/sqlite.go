package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loykin/agentvisor/internal/store"
)

// DB implements store.Store for SQLite (modernc.org/sqlite driver, CGO-free).
// DSN is a filesystem path to the SQLite database file. Use ":memory:" for in-memory.
type DB struct {
	db *sql.DB
}

// New opens a SQLite database at path and creates the records table if missing.
func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// a single connection keeps ":memory:" databases shared and serializes writers
	d.SetMaxOpenConns(1)
	// busy timeout helps when a worker and the supervisor hit the file together
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	s := &DB{db: d}
	if err := s.EnsureSchema(context.Background()); err != nil {
		_ = d.Close()
		return nil, err
	}
	return s, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS agent_records(
			bucket TEXT NOT NULL,
			key TEXT NOT NULL,
			data BLOB NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY(bucket, key)
		);`)
	return err
}

func (s *DB) Close() error { return s.db.Close() }

func (s *DB) Get(ctx context.Context, bucket store.Bucket, key string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM agent_records WHERE bucket=? AND key=?;`, string(bucket), key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return data, err
}

func (s *DB) Put(ctx context.Context, bucket store.Bucket, key string, data []byte) error {
	if !store.ValidKey(key) {
		return store.ErrInvalidKey
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_records(bucket, key, data, updated_at)
		VALUES(?, ?, ?, ?)
		ON CONFLICT(bucket, key) DO UPDATE SET
			data=excluded.data,
			updated_at=excluded.updated_at;`,
		string(bucket), key, data, time.Now().UTC())
	return err
}

func (s *DB) Create(ctx context.Context, bucket store.Bucket, key string, data []byte) error {
	if !store.ValidKey(key) {
		return store.ErrInvalidKey
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_records(bucket, key, data, updated_at)
		VALUES(?, ?, ?, ?)
		ON CONFLICT(bucket, key) DO NOTHING;`,
		string(bucket), key, data, time.Now().UTC())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrExists
	}
	return nil
}

func (s *DB) Delete(ctx context.Context, bucket store.Bucket, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM agent_records WHERE bucket=? AND key=?;`, string(bucket), key)
	return err
}

func (s *DB) Keys(ctx context.Context, bucket store.Bucket) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM agent_records WHERE bucket=? ORDER BY key;`, string(bucket))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	keys := make([]string, 0)
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
